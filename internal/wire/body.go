package wire

import (
	"encoding/binary"
	"fmt"
)

// Writer appends big-endian fixed-width integers and length-prefixed
// strings to an in-progress body buffer. The zero value is ready to
// use.
type Writer struct {
	buf []byte
}

// NewWriter returns a Writer with cap pre-reserved.
func NewWriter(cap int) *Writer {
	return &Writer{buf: make([]byte, 0, cap)}
}

func (w *Writer) PutUint8(v uint8)   { w.buf = append(w.buf, v) }
func (w *Writer) PutUint16(v uint16) { w.buf = append(w.buf, 0, 0); binary.BigEndian.PutUint16(w.buf[len(w.buf)-2:], v) }
func (w *Writer) PutUint32(v uint32) { w.buf = append(w.buf, 0, 0, 0, 0); binary.BigEndian.PutUint32(w.buf[len(w.buf)-4:], v) }
func (w *Writer) PutUint64(v uint64) {
	w.buf = append(w.buf, 0, 0, 0, 0, 0, 0, 0, 0)
	binary.BigEndian.PutUint64(w.buf[len(w.buf)-8:], v)
}
func (w *Writer) PutInt64(v int64) { w.PutUint64(uint64(v)) }

// PutString8 writes a u8-length-prefixed, non-null-terminated string.
func (w *Writer) PutString8(s string) {
	if len(s) > 0xff {
		panic("wire: string8 too long")
	}
	w.PutUint8(uint8(len(s)))
	w.buf = append(w.buf, s...)
}

// PutString16 writes a u16-length-prefixed, non-null-terminated string.
func (w *Writer) PutString16(s string) {
	if len(s) > 0xffff {
		panic("wire: string16 too long")
	}
	w.PutUint16(uint16(len(s)))
	w.buf = append(w.buf, s...)
}

// PutBytes appends raw bytes with no length prefix (caller tracks
// length separately, e.g. the packed binlog bytes of a push request,
// whose length is written before them).
func (w *Writer) PutBytes(b []byte) { w.buf = append(w.buf, b...) }

// Bytes returns the accumulated body.
func (w *Writer) Bytes() []byte { return w.buf }

// Reader consumes big-endian fixed-width integers and length-prefixed
// strings from a body buffer, tracking position and surfacing
// short-read errors.
type Reader struct {
	buf []byte
	pos int
}

// NewReader wraps buf for sequential decoding.
func NewReader(buf []byte) *Reader { return &Reader{buf: buf} }

func (r *Reader) need(n int) error {
	if r.pos+n > len(r.buf) {
		return fmt.Errorf("wire: short body, need %d more bytes at offset %d (len %d)", n, r.pos, len(r.buf))
	}
	return nil
}

func (r *Reader) Uint8() (uint8, error) {
	if err := r.need(1); err != nil {
		return 0, err
	}
	v := r.buf[r.pos]
	r.pos++
	return v, nil
}

func (r *Reader) Uint16() (uint16, error) {
	if err := r.need(2); err != nil {
		return 0, err
	}
	v := binary.BigEndian.Uint16(r.buf[r.pos:])
	r.pos += 2
	return v, nil
}

func (r *Reader) Uint32() (uint32, error) {
	if err := r.need(4); err != nil {
		return 0, err
	}
	v := binary.BigEndian.Uint32(r.buf[r.pos:])
	r.pos += 4
	return v, nil
}

func (r *Reader) Uint64() (uint64, error) {
	if err := r.need(8); err != nil {
		return 0, err
	}
	v := binary.BigEndian.Uint64(r.buf[r.pos:])
	r.pos += 8
	return v, nil
}

func (r *Reader) Int64() (int64, error) {
	v, err := r.Uint64()
	return int64(v), err
}

// String8 reads a u8-length-prefixed string.
func (r *Reader) String8() (string, error) {
	n, err := r.Uint8()
	if err != nil {
		return "", err
	}
	if err := r.need(int(n)); err != nil {
		return "", err
	}
	s := string(r.buf[r.pos : r.pos+int(n)])
	r.pos += int(n)
	return s, nil
}

// String16 reads a u16-length-prefixed string.
func (r *Reader) String16() (string, error) {
	n, err := r.Uint16()
	if err != nil {
		return "", err
	}
	if err := r.need(int(n)); err != nil {
		return "", err
	}
	s := string(r.buf[r.pos : r.pos+int(n)])
	r.pos += int(n)
	return s, nil
}

// Remaining returns the unread tail of the buffer (e.g. a packed
// binlog byte blob whose length is carried by a preceding field).
func (r *Reader) Remaining() []byte { return r.buf[r.pos:] }

// Bytes consumes exactly n raw bytes.
func (r *Reader) Bytes(n int) ([]byte, error) {
	if err := r.need(n); err != nil {
		return nil, err
	}
	b := r.buf[r.pos : r.pos+n]
	r.pos += n
	return b, nil
}
