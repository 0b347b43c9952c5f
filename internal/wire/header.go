// Package wire implements the fixed 16-byte message header and the
// typed, length-prefixed body encoding used by the service and
// cluster protocols.
package wire

import (
	"encoding/binary"
	"fmt"
)

// HeaderLen is the fixed size of every frame's header.
const HeaderLen = 16

var magic = [4]byte{0x23, 0x23, 0x23, 0x23}

// Header is the fixed leading 16 bytes of every frame:
// {magic[4], body_len:u32, status:u16, flags:u16, cmd:u8, padding[3]}.
type Header struct {
	BodyLen uint32
	Status  uint16
	Flags   uint16
	Cmd     Cmd
}

// Encode writes h into a freshly allocated 16-byte slice.
func (h Header) Encode() []byte {
	buf := make([]byte, HeaderLen)
	copy(buf[0:4], magic[:])
	binary.BigEndian.PutUint32(buf[4:8], h.BodyLen)
	binary.BigEndian.PutUint16(buf[8:10], h.Status)
	binary.BigEndian.PutUint16(buf[10:12], h.Flags)
	buf[12] = byte(h.Cmd)
	return buf
}

// DecodeHeader parses exactly HeaderLen bytes of buf into a Header.
// It validates the magic prefix only; callers must separately enforce
// a maximum BodyLen against their connection's buffer size.
func DecodeHeader(buf []byte) (Header, error) {
	if len(buf) < HeaderLen {
		return Header{}, fmt.Errorf("wire: short header (%d bytes)", len(buf))
	}
	if buf[0] != magic[0] || buf[1] != magic[1] || buf[2] != magic[2] || buf[3] != magic[3] {
		return Header{}, fmt.Errorf("wire: bad magic %x", buf[0:4])
	}
	return Header{
		BodyLen: binary.BigEndian.Uint32(buf[4:8]),
		Status:  binary.BigEndian.Uint16(buf[8:10]),
		Flags:   binary.BigEndian.Uint16(buf[10:12]),
		Cmd:     Cmd(buf[12]),
	}, nil
}

// MaxBodyLen bounds BodyLen against a connection's receive buffer
// size; frames with a larger declared body are rejected before the
// body is read.
func MaxBodyLen(buf []byte, maxConnBuf uint32) error {
	h, err := DecodeHeader(buf)
	if err != nil {
		return err
	}
	if h.BodyLen > maxConnBuf {
		return fmt.Errorf("wire: body_len %d exceeds connection buffer %d", h.BodyLen, maxConnBuf)
	}
	return nil
}
