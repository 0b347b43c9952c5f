// Package dentry implements the per-namespace directory tree: path resolution, ordered children, and the
// dentry lifecycle (create/remove/delay-free).
package dentry

// Mode carries the file-type bits plus permission bits of a Stat,
// mirroring POSIX st_mode layout closely enough for the file-type
// tests callers need (IFDIR/IFREG).
type Mode uint32

const (
	ModeTypeMask Mode = 0170000
	ModeDir      Mode = 0040000
	ModeRegular  Mode = 0100000
)

// IsDir reports whether m names a directory.
func (m Mode) IsDir() bool { return m&ModeTypeMask == ModeDir }

// IsRegular reports whether m names a regular file.
func (m Mode) IsRegular() bool { return m&ModeTypeMask == ModeRegular }

// Stat is the metadata carried by every dentry.
type Stat struct {
	Mode  Mode
	UID   uint32
	GID   uint32
	ATime int64
	CTime int64
	MTime int64
	Size  int64
}

// StatField is a bit in a modified-fields mask, used by
// check_set_dentry_size and modify_dentry_stat to report which Stat
// fields actually changed.
type StatField uint64

const (
	StatFieldMode StatField = 1 << iota
	StatFieldUID
	StatFieldGID
	StatFieldATime
	StatFieldCTime
	StatFieldMTime
	StatFieldSize
)
