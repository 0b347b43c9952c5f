package binlog

import (
	"fmt"
	"strconv"

	"github.com/yechoo0321/fdircore/internal/fdirerr"
)

// SizeFieldWidth is the fixed, zero-padded width of the leading
// decimal byte-count.
const SizeFieldWidth = 8

// MaxRecordSize is the compile-time cap on one packed record; packing fails EOVERFLOW past this.
const MaxRecordSize = 64 * 1024

func putInt(buf []byte, key string, v int64) []byte {
	buf = append(buf, key...)
	buf = append(buf, '=')
	buf = strconv.AppendInt(buf, v, 10)
	buf = append(buf, ' ')
	return buf
}

func putUint(buf []byte, key string, v uint64) []byte {
	buf = append(buf, key...)
	buf = append(buf, '=')
	buf = strconv.AppendUint(buf, v, 10)
	buf = append(buf, ' ')
	return buf
}

func putString(buf []byte, key string, s string) []byte {
	esc := escapeBytes([]byte(s))
	buf = append(buf, key...)
	buf = append(buf, '=')
	buf = strconv.AppendInt(buf, int64(len(esc)), 10)
	buf = append(buf, ',')
	buf = append(buf, esc...)
	buf = append(buf, ' ')
	return buf
}

// Pack encodes r into its textual wire form:
//
//	<size>\<rec dv=.. id=.. op=.. ts=.. [ns=.. pt=..] hc=.. [ex=.. us=.. md=.. at=.. ct=.. mt=.. ui=.. gi=.. sz=..] /rec>\n
//
// Field order is fixed: dv, id, op, ts, [ns, pt], hc, then the
// optional stat fields. Encoding fails EOVERFLOW if the result would
// exceed MaxRecordSize.
func Pack(r *Record) ([]byte, error) {
	op, ok := opNames[r.Op]
	if !ok {
		return nil, fdirerr.New(fdirerr.EINVAL, "unknown operation %d", r.Op)
	}

	inner := make([]byte, 0, 256)
	inner = append(inner, "<rec "...)
	inner = putUint(inner, "dv", r.DataVersion)
	inner = putUint(inner, "id", r.Inode)
	inner = append(inner, "op="...)
	inner = append(inner, op...)
	inner = append(inner, ' ')
	inner = putInt(inner, "ts", r.Timestamp)
	if r.Options.has(OptNamespace) {
		inner = putString(inner, "ns", r.Fullname.Namespace)
		inner = putString(inner, "pt", r.Fullname.Path)
	}
	inner = putUint(inner, "hc", uint64(r.HashCode))
	if r.Options.has(OptExtraData) {
		inner = putString(inner, "ex", string(r.ExtraData))
	}
	if r.Options.has(OptUserData) {
		inner = putString(inner, "us", string(r.UserData))
	}
	if r.Options.has(OptMode) {
		inner = putUint(inner, "md", uint64(r.Mode))
	}
	if r.Options.has(OptATime) {
		inner = putInt(inner, "at", r.ATime)
	}
	if r.Options.has(OptCTime) {
		inner = putInt(inner, "ct", r.CTime)
	}
	if r.Options.has(OptMTime) {
		inner = putInt(inner, "mt", r.MTime)
	}
	if r.Options.has(OptUID) {
		inner = putUint(inner, "ui", uint64(r.UID))
	}
	if r.Options.has(OptGID) {
		inner = putUint(inner, "gi", uint64(r.GID))
	}
	if r.Options.has(OptSize) {
		inner = putInt(inner, "sz", r.Size)
	}
	// Every field ends with a space, so the end tag follows " ".
	inner = append(inner, "/rec>\n"...)

	if len(inner) > MaxRecordSize {
		return nil, fdirerr.New(fdirerr.EOVERFLOW, "packed record of %d bytes exceeds BINLOG_RECORD_MAX_SIZE", len(inner))
	}

	sizeStr := fmt.Sprintf("%0*d", SizeFieldWidth, len(inner))
	out := make([]byte, 0, len(sizeStr)+len(inner))
	out = append(out, sizeStr...)
	out = append(out, inner...)
	return out, nil
}
