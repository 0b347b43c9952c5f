package binlog

import (
	"bytes"
	"strconv"

	"github.com/yechoo0321/fdircore/internal/fdirerr"
)

// Detect decodes only the dv field of the record at buf[0], without the cost of a full Unpack.
func Detect(buf []byte) (uint64, error) {
	if len(buf) < SizeFieldWidth+len(recHeader)+3 {
		return 0, fdirerr.New(fdirerr.EINVAL, "binlog: buffer too short to detect dv")
	}
	inner := buf[SizeFieldWidth:]
	if string(inner[:len(recHeader)]) != recHeader {
		return 0, fdirerr.New(fdirerr.EINVAL, "binlog: record does not start with %q", recHeader)
	}
	pos := len(recHeader)
	if pos+3 > len(inner) || string(inner[pos:pos+3]) != "dv=" {
		return 0, fdirerr.New(fdirerr.EINVAL, "binlog: dv is not the first field")
	}
	pos += 3
	start := pos
	for pos < len(inner) && inner[pos] >= '0' && inner[pos] <= '9' {
		pos++
	}
	if pos == start {
		return 0, fdirerr.New(fdirerr.EINVAL, "binlog: dv has no digits")
	}
	dv, err := strconv.ParseUint(string(inner[start:pos]), 10, 64)
	if err != nil {
		return 0, fdirerr.New(fdirerr.EINVAL, "binlog: bad dv value")
	}
	return dv, nil
}

// DetectForward scans buf for the first offset at which a complete,
// valid record begins, re-synchronizing a reader after a torn tail.
func DetectForward(buf []byte) (int, error) {
	searchFrom := 0
	for {
		rel := bytes.Index(buf[searchFrom:], []byte(recHeader))
		if rel < 0 {
			return 0, fdirerr.New(fdirerr.ENOENT, "binlog: no record start found")
		}
		recPos := searchFrom + rel
		candidate := recPos - SizeFieldWidth
		if candidate >= 0 {
			if _, _, err := Unpack(buf[candidate:]); err == nil {
				return candidate, nil
			}
		}
		searchFrom = recPos + 1
	}
}

// DetectReverse scans buf for the last complete, valid record and
// returns it. Implemented as a sequential forward
// scan that remembers the last record successfully parsed: for a log
// of consecutively-packed records this is behaviorally identical to
// scanning backward from the end, and it reuses Unpack's
// self-delimiting size prefix instead of re-deriving record
// boundaries from the tail.
func DetectReverse(buf []byte) (*Record, error) {
	var last *Record
	pos := 0
	for pos < len(buf) {
		start, err := DetectForward(buf[pos:])
		if err != nil {
			break
		}
		r, end, err := Unpack(buf[pos+start:])
		if err != nil {
			break
		}
		last = r
		pos += start + end
	}
	if last == nil {
		return nil, fdirerr.New(fdirerr.ENOENT, "binlog: no valid record found")
	}
	return last, nil
}

// DetectLastRecordEnd locates the byte offset just after the last
// clean "/rec>\n" tag in buf, used
// by the binlog writer to position itself after a clean boundary
// following an unclean shutdown.
func DetectLastRecordEnd(buf []byte) (int, error) {
	pos := 0
	lastEnd := -1
	for pos < len(buf) {
		start, err := DetectForward(buf[pos:])
		if err != nil {
			break
		}
		_, end, err := Unpack(buf[pos+start:])
		if err != nil {
			break
		}
		pos += start + end
		lastEnd = pos
	}
	if lastEnd < 0 {
		return 0, fdirerr.New(fdirerr.ENOENT, "binlog: no valid record found")
	}
	return lastEnd, nil
}
