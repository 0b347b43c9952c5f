// Package binlog implements the textual, self-delimiting binlog
// record codec and the producer/reader that
// turn a stream of records into the append-only on-disk log and the
// per-slave replication queues.
package binlog

import "github.com/yechoo0321/fdircore/internal/dentry"

// Operation is the mutation kind carried by a record's `op` field.
type Operation uint8

const (
	OpCreate Operation = iota
	OpRemove
	OpRename
	OpUpdate
)

var opNames = map[Operation]string{
	OpCreate: "cre",
	OpRemove: "rem",
	OpRename: "ren",
	OpUpdate: "upd",
}

var opValues = map[string]Operation{
	"cre": OpCreate,
	"rem": OpRemove,
	"ren": OpRename,
	"upd": OpUpdate,
}

// Options is a bitset recording which optional fields a record
// carries.
type Options uint32

const (
	OptNamespace Options = 1 << iota // ns + pt
	OptExtraData
	OptUserData
	OptMode
	OptATime
	OptCTime
	OptMTime
	OptUID
	OptGID
	OptSize
)

func (o Options) has(bit Options) bool { return o&bit != 0 }

// Fullname identifies a record's (namespace, path) pair. If `ns` is
// present `pt` must also be present, so the two travel together under
// OptNamespace.
type Fullname struct {
	Namespace string
	Path      string
}

// Record is the value type carried by every binlog entry. Required fields are DataVersion, Inode, Op,
// Timestamp, HashCode; everything else is optional and its presence
// is tracked by Options.
type Record struct {
	DataVersion uint64
	Inode       uint64
	Op          Operation
	Timestamp   int64
	HashCode    uint32

	Fullname  Fullname
	ExtraData []byte
	UserData  []byte

	Mode  dentry.Mode
	ATime int64
	CTime int64
	MTime int64
	UID   uint32
	GID   uint32
	Size  int64

	Options Options
}

// HasNamespace reports whether ns/pt were set.
func (r *Record) HasNamespace() bool { return r.Options.has(OptNamespace) }

// SetFullname sets the (ns, path) pair and its option bit.
func (r *Record) SetFullname(ns, path string) {
	r.Fullname = Fullname{Namespace: ns, Path: path}
	r.Options |= OptNamespace
}

// SetExtraData sets the opaque ex blob and its option bit.
func (r *Record) SetExtraData(b []byte) {
	r.ExtraData = b
	r.Options |= OptExtraData
}

// SetUserData sets the opaque us blob and its option bit.
func (r *Record) SetUserData(b []byte) {
	r.UserData = b
	r.Options |= OptUserData
}

// SetMode sets md and its option bit.
func (r *Record) SetMode(m dentry.Mode) { r.Mode = m; r.Options |= OptMode }

// SetATime sets at and its option bit.
func (r *Record) SetATime(t int64) { r.ATime = t; r.Options |= OptATime }

// SetCTime sets ct and its option bit.
func (r *Record) SetCTime(t int64) { r.CTime = t; r.Options |= OptCTime }

// SetMTime sets mt and its option bit.
func (r *Record) SetMTime(t int64) { r.MTime = t; r.Options |= OptMTime }

// SetUID sets ui and its option bit.
func (r *Record) SetUID(u uint32) { r.UID = u; r.Options |= OptUID }

// SetGID sets gi and its option bit.
func (r *Record) SetGID(g uint32) { r.GID = g; r.Options |= OptGID }

// SetSize sets sz and its option bit.
func (r *Record) SetSize(s int64) { r.Size = s; r.Options |= OptSize }
