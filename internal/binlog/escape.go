package binlog

import (
	"fmt"
)

// escapePairs maps raw bytes that would otherwise corrupt the
// record's textual framing to a 2-byte backslash escape.
var escapePairs = [256]byte{
	0x00: '0',
	'\n': 'n',
	0x0B: 'v', // VT
	0x0C: 'f', // FF
	'\r': 'r',
	'\\': '\\',
	'<':  'l',
	'>':  'g',
}

var needsEscape [256]bool

func init() {
	for b, esc := range escapePairs {
		if esc != 0 {
			needsEscape[b] = true
		}
	}
}

// escapeBytes returns s with every byte in escapePairs replaced by
// its 2-byte `\x` escape sequence.
func escapeBytes(s []byte) []byte {
	n := 0
	for _, b := range s {
		if needsEscape[b] {
			n += 2
		} else {
			n++
		}
	}
	if n == len(s) {
		return s
	}
	out := make([]byte, 0, n)
	for _, b := range s {
		if needsEscape[b] {
			out = append(out, '\\', escapePairs[b])
		} else {
			out = append(out, b)
		}
	}
	return out
}

// unescapeBytes reverses escapeBytes in place.
func unescapeBytes(s []byte) ([]byte, error) {
	out := s[:0]
	for i := 0; i < len(s); i++ {
		b := s[i]
		if b != '\\' {
			out = append(out, b)
			continue
		}
		i++
		if i >= len(s) {
			return nil, fmt.Errorf("binlog: dangling escape at end of string")
		}
		switch s[i] {
		case '0':
			out = append(out, 0x00)
		case 'n':
			out = append(out, '\n')
		case 'v':
			out = append(out, 0x0B)
		case 'f':
			out = append(out, 0x0C)
		case 'r':
			out = append(out, '\r')
		case '\\':
			out = append(out, '\\')
		case 'l':
			out = append(out, '<')
		case 'g':
			out = append(out, '>')
		default:
			return nil, fmt.Errorf("binlog: unknown escape sequence \\%c", s[i])
		}
	}
	return out, nil
}
