package binlog

import (
	"bytes"
	"testing"

	"github.com/yechoo0321/fdircore/internal/dentry"
)

func sampleRecord() *Record {
	r := &Record{
		DataVersion: 100,
		Inode:       0x1000000000001,
		Op:          OpCreate,
		Timestamp:   1700000000,
		HashCode:    12345,
	}
	r.SetFullname("default", "/a/b.txt")
	r.SetMode(dentry.ModeRegular | 0644)
	r.SetUID(0)
	r.SetGID(0)
	r.SetSize(0)
	return r
}

func TestPackUnpackRoundTrip(t *testing.T) {
	orig := sampleRecord()
	buf, err := Pack(orig)
	if err != nil {
		t.Fatalf("Pack: %v", err)
	}
	got, n, err := Unpack(buf)
	if err != nil {
		t.Fatalf("Unpack: %v", err)
	}
	if n != len(buf) {
		t.Fatalf("Unpack consumed %d bytes, want %d", n, len(buf))
	}
	if got.DataVersion != orig.DataVersion || got.Inode != orig.Inode || got.Op != orig.Op ||
		got.Timestamp != orig.Timestamp || got.HashCode != orig.HashCode {
		t.Fatalf("round trip mismatch: got %+v, want %+v", got, orig)
	}
	if got.Fullname != orig.Fullname {
		t.Fatalf("fullname mismatch: got %+v, want %+v", got.Fullname, orig.Fullname)
	}
	if got.Mode != orig.Mode || got.UID != orig.UID || got.GID != orig.GID || got.Size != orig.Size {
		t.Fatalf("optional field mismatch: got %+v, want %+v", got, orig)
	}
	if got.Options != orig.Options {
		t.Fatalf("options mismatch: got %b, want %b", got.Options, orig.Options)
	}
}

func TestPackFieldOrderMatchesWireExample(t *testing.T) {
	r := &Record{
		DataVersion: 1,
		Inode:       7,
		Op:          OpCreate,
		Timestamp:   1000,
		HashCode:    9,
	}
	r.SetFullname("ns1", "/x")
	buf, err := Pack(r)
	if err != nil {
		t.Fatalf("Pack: %v", err)
	}
	want := "<rec dv=1 id=7 op=cre ts=1000 ns=3,ns1 pt=2,/x hc=9 /rec>\n"
	if !bytes.HasSuffix(buf, []byte(want)) {
		t.Fatalf("packed body = %q, want suffix %q", buf, want)
	}
}

func TestEscapeRoundTripsAllSpecialBytes(t *testing.T) {
	raw := []byte{0x00, '\n', 0x0B, 0x0C, '\r', '\\', '<', '>', 'x'}
	esc := escapeBytes(raw)
	back, err := unescapeBytes(append([]byte(nil), esc...))
	if err != nil {
		t.Fatalf("unescapeBytes: %v", err)
	}
	if !bytes.Equal(back, raw) {
		t.Fatalf("unescape(escape(x)) = %v, want %v", back, raw)
	}
}

func TestUnpackRejectsMissingRequiredField(t *testing.T) {
	inner := "<rec dv=1 id=7 op=cre ts=1000/rec>\n"
	buf := padSize(len(inner)) + inner
	if _, _, err := Unpack([]byte(buf)); err == nil {
		t.Fatalf("Unpack succeeded on a record missing hc, want error")
	}
}

func padSize(n int) string {
	s := "00000000"
	digits := []byte(s)
	str := []byte{}
	for n > 0 {
		str = append([]byte{byte('0' + n%10)}, str...)
		n /= 10
	}
	if len(str) == 0 {
		str = []byte{'0'}
	}
	copy(digits[len(digits)-len(str):], str)
	return string(digits)
}

func TestUnpackRejectsDVNotFirst(t *testing.T) {
	inner := "<rec id=7 dv=1 op=cre ts=1000 hc=9/rec>\n"
	buf := padSize(len(inner)) + inner
	if _, _, err := Unpack([]byte(buf)); err == nil {
		t.Fatalf("Unpack accepted dv out of first position")
	}
}

func TestUnpackRejectsNamespaceWithoutPath(t *testing.T) {
	inner := "<rec dv=1 id=7 op=cre ts=1000 ns=3,ns1 hc=9/rec>\n"
	buf := padSize(len(inner)) + inner
	if _, _, err := Unpack([]byte(buf)); err == nil {
		t.Fatalf("Unpack accepted ns without pt")
	}
}

func TestUnpackIgnoresUnknownFields(t *testing.T) {
	inner := "<rec dv=1 id=7 op=cre ts=1000 hc=9 zz=42/rec>\n"
	buf := padSize(len(inner)) + inner
	r, _, err := Unpack([]byte(buf))
	if err != nil {
		t.Fatalf("Unpack rejected an unknown field: %v", err)
	}
	if r.DataVersion != 1 {
		t.Fatalf("DataVersion = %d, want 1", r.DataVersion)
	}
}

func TestDetectReadsDataVersionOnly(t *testing.T) {
	r := sampleRecord()
	r.DataVersion = 555
	buf, _ := Pack(r)
	dv, err := Detect(buf)
	if err != nil {
		t.Fatalf("Detect: %v", err)
	}
	if dv != 555 {
		t.Fatalf("Detect dv = %d, want 555", dv)
	}
}

func TestDetectForwardSkipsTornPrefix(t *testing.T) {
	r := sampleRecord()
	buf, _ := Pack(r)
	garbage := append([]byte("garbage-not-a-record"), buf...)
	off, err := DetectForward(garbage)
	if err != nil {
		t.Fatalf("DetectForward: %v", err)
	}
	if off != len("garbage-not-a-record") {
		t.Fatalf("DetectForward offset = %d, want %d", off, len("garbage-not-a-record"))
	}
}

func TestDetectReverseFindsLastRecord(t *testing.T) {
	r1 := sampleRecord()
	r1.DataVersion = 1
	r2 := sampleRecord()
	r2.DataVersion = 2
	buf1, _ := Pack(r1)
	buf2, _ := Pack(r2)
	stream := append(append([]byte{}, buf1...), buf2...)

	last, err := DetectReverse(stream)
	if err != nil {
		t.Fatalf("DetectReverse: %v", err)
	}
	if last.DataVersion != 2 {
		t.Fatalf("DetectReverse dv = %d, want 2", last.DataVersion)
	}
}

func TestDetectLastRecordEndOnCleanStream(t *testing.T) {
	r1 := sampleRecord()
	buf1, _ := Pack(r1)
	r2 := sampleRecord()
	r2.DataVersion = 2
	buf2, _ := Pack(r2)
	stream := append(append([]byte{}, buf1...), buf2...)

	end, err := DetectLastRecordEnd(stream)
	if err != nil {
		t.Fatalf("DetectLastRecordEnd: %v", err)
	}
	if end != len(stream) {
		t.Fatalf("DetectLastRecordEnd = %d, want %d", end, len(stream))
	}
}

func TestDetectLastRecordEndStopsBeforeTornTail(t *testing.T) {
	r1 := sampleRecord()
	buf1, _ := Pack(r1)
	torn := append(append([]byte{}, buf1...), []byte("0000010<rec dv=9")...)

	end, err := DetectLastRecordEnd(torn)
	if err != nil {
		t.Fatalf("DetectLastRecordEnd: %v", err)
	}
	if end != len(buf1) {
		t.Fatalf("DetectLastRecordEnd = %d, want %d (stop before torn tail)", end, len(buf1))
	}
}
