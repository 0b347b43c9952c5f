package binlog

import (
	"strconv"

	"github.com/yechoo0321/fdircore/internal/dentry"
	"github.com/yechoo0321/fdircore/internal/fdirerr"
)

const (
	recHeader = "<rec "
	recFooter = "/rec>\n"
)

// Unpack fully decodes the record starting at buf[0], returning it
// along with the offset of the first byte after the record. Unknown fields are skipped without error and
// without any warning being logged; a value
// whose shape doesn't match its field's expected type fails EINVAL.
func Unpack(buf []byte) (*Record, int, error) {
	if len(buf) < SizeFieldWidth+len(recHeader)+len(recFooter) {
		return nil, 0, fdirerr.New(fdirerr.EINVAL, "binlog: buffer too short for a record")
	}
	size, err := strconv.Atoi(string(buf[:SizeFieldWidth]))
	if err != nil || size < 0 {
		return nil, 0, fdirerr.New(fdirerr.EINVAL, "binlog: bad size prefix %q", buf[:SizeFieldWidth])
	}
	end := SizeFieldWidth + size
	if end > len(buf) {
		return nil, 0, fdirerr.New(fdirerr.EINVAL, "binlog: declared size %d exceeds buffer", size)
	}
	inner := buf[SizeFieldWidth:end]
	if len(inner) < len(recHeader)+len(recFooter) ||
		string(inner[:len(recHeader)]) != recHeader ||
		string(inner[len(inner)-len(recFooter):]) != recFooter {
		return nil, 0, fdirerr.New(fdirerr.EINVAL, "binlog: record does not end with a clean /rec> tag at the declared size")
	}

	r := &Record{}
	var haveDV, haveID, haveOp, haveTS, haveHC, first bool
	first = true

	pos := len(recHeader)
	fieldsEnd := len(inner) - len(recFooter)
	for pos < fieldsEnd {
		if pos+2 > fieldsEnd {
			return nil, 0, fdirerr.New(fdirerr.EINVAL, "binlog: truncated field key")
		}
		key := string(inner[pos : pos+2])
		pos += 2
		if pos >= fieldsEnd || inner[pos] != '=' {
			return nil, 0, fdirerr.New(fdirerr.EINVAL, "binlog: field %q missing '='", key)
		}
		pos++

		if key == "dv" && !first {
			return nil, 0, fdirerr.New(fdirerr.EINVAL, "binlog: dv must be the first field")
		}
		first = false

		// op is packed as a bare token (cre/rem/ren/upd), not a
		// decimal-prefixed value like every other field.
		if key == "op" {
			start := pos
			for pos < fieldsEnd && inner[pos] != ' ' {
				pos++
			}
			if pos == start {
				return nil, 0, fdirerr.New(fdirerr.EINVAL, "binlog: field %q has no value", key)
			}
			if err := assignString(r, key, string(inner[start:pos])); err != nil {
				return nil, 0, err
			}
			haveOp = true
			if pos < fieldsEnd && inner[pos] == ' ' {
				pos++
			}
			continue
		}

		neg := false
		if pos < fieldsEnd && inner[pos] == '-' {
			neg = true
			pos++
		}
		numStart := pos
		for pos < fieldsEnd && inner[pos] >= '0' && inner[pos] <= '9' {
			pos++
		}
		if pos == numStart {
			return nil, 0, fdirerr.New(fdirerr.EINVAL, "binlog: field %q has no numeric value", key)
		}
		num, _ := strconv.ParseInt(string(inner[numStart:pos]), 10, 64)
		if neg {
			num = -num
		}

		if pos < fieldsEnd && inner[pos] == ',' {
			pos++
			strLen := int(num)
			if strLen < 0 || pos+strLen > fieldsEnd {
				return nil, 0, fdirerr.New(fdirerr.EINVAL, "binlog: field %q string length overruns record", key)
			}
			raw := append([]byte(nil), inner[pos:pos+strLen]...)
			pos += strLen
			val, err := unescapeBytes(raw)
			if err != nil {
				return nil, 0, err
			}
			if err := assignString(r, key, string(val)); err != nil {
				return nil, 0, err
			}
		} else {
			if err := assignInt(r, key, num); err != nil {
				return nil, 0, err
			}
		}

		switch key {
		case "dv":
			haveDV = true
		case "id":
			haveID = true
		case "ts":
			haveTS = true
		case "hc":
			haveHC = true
		}

		if pos < fieldsEnd && inner[pos] == ' ' {
			pos++
		}
	}

	if !(haveDV && haveID && haveOp && haveTS && haveHC) {
		return nil, 0, fdirerr.New(fdirerr.EINVAL, "binlog: record missing a required field (need dv,id,op,ts,hc)")
	}
	if r.Options.has(OptNamespace) && r.Fullname.Path == "" {
		return nil, 0, fdirerr.New(fdirerr.EINVAL, "binlog: ns present without pt")
	}

	return r, end, nil
}

// assignInt stores an integer-typed field's value, failing EINVAL if
// key names a field whose value must be a string.
func assignInt(r *Record, key string, v int64) error {
	switch key {
	case "dv":
		r.DataVersion = uint64(v)
	case "id":
		r.Inode = uint64(v)
	case "hc":
		r.HashCode = uint32(v)
	case "ts":
		r.Timestamp = v
	case "md":
		r.Mode = dentry.Mode(v)
		r.Options |= OptMode
	case "at":
		r.ATime = v
		r.Options |= OptATime
	case "ct":
		r.CTime = v
		r.Options |= OptCTime
	case "mt":
		r.MTime = v
		r.Options |= OptMTime
	case "ui":
		r.UID = uint32(v)
		r.Options |= OptUID
	case "gi":
		r.GID = uint32(v)
		r.Options |= OptGID
	case "sz":
		r.Size = v
		r.Options |= OptSize
	case "op", "ns", "pt", "ex", "us":
		return fdirerr.New(fdirerr.EINVAL, "binlog: field %q expects a string value, got an integer", key)
	default:
		// Unknown field: forward compatibility with newer writers, so
		// it is ignored rather than rejected.
	}
	return nil
}

// assignString stores a string-typed field's value, failing EINVAL if
// key names a field whose value must be an integer.
func assignString(r *Record, key, s string) error {
	switch key {
	case "op":
		op, ok := opValues[s]
		if !ok {
			return fdirerr.New(fdirerr.EINVAL, "binlog: unknown op %q", s)
		}
		r.Op = op
	case "ns":
		r.Fullname.Namespace = s
		r.Options |= OptNamespace
	case "pt":
		r.Fullname.Path = s
		r.Options |= OptNamespace
	case "ex":
		r.ExtraData = []byte(s)
		r.Options |= OptExtraData
	case "us":
		r.UserData = []byte(s)
		r.Options |= OptUserData
	case "dv", "id", "hc", "ts", "md", "at", "ct", "mt", "ui", "gi", "sz":
		return fdirerr.New(fdirerr.EINVAL, "binlog: field %q expects an integer value, got a string", key)
	default:
		// Unknown field: ignored.
	}
	return nil
}
