// Package service implements the client-facing request handlers
// (component C8): one function per wire command, dispatched from a
// decoded header, admission-checked against this node's master/slave
// role, and wired to the dentry tree, inode index and data-thread
// pool underneath.
package service

import (
	"github.com/yechoo0321/fdircore/internal/dentry"
	"github.com/yechoo0321/fdircore/internal/lockstate"
	"github.com/yechoo0321/fdircore/internal/wire"
)

// StatWire is the wire encoding of dentry.Stat, shared by every
// response that reports a dentry's metadata.
type StatWire struct {
	Inode uint64
	Mode  uint32
	UID   uint32
	GID   uint32
	ATime int64
	CTime int64
	MTime int64
	Size  int64
}

func statFromDentry(d *dentry.Dentry) StatWire {
	return StatWire{
		Inode: d.Inode,
		Mode:  uint32(d.Stat.Mode),
		UID:   d.Stat.UID,
		GID:   d.Stat.GID,
		ATime: d.Stat.ATime,
		CTime: d.Stat.CTime,
		MTime: d.Stat.MTime,
		Size:  d.Stat.Size,
	}
}

func (s StatWire) encode(w *wire.Writer) {
	w.PutUint64(s.Inode)
	w.PutUint32(s.Mode)
	w.PutUint32(s.UID)
	w.PutUint32(s.GID)
	w.PutInt64(s.ATime)
	w.PutInt64(s.CTime)
	w.PutInt64(s.MTime)
	w.PutInt64(s.Size)
}

func decodeStatWire(r *wire.Reader) (StatWire, error) {
	var s StatWire
	var err error
	if s.Inode, err = r.Uint64(); err != nil {
		return s, err
	}
	if s.Mode, err = r.Uint32(); err != nil {
		return s, err
	}
	if s.UID, err = r.Uint32(); err != nil {
		return s, err
	}
	if s.GID, err = r.Uint32(); err != nil {
		return s, err
	}
	if s.ATime, err = r.Int64(); err != nil {
		return s, err
	}
	if s.CTime, err = r.Int64(); err != nil {
		return s, err
	}
	if s.MTime, err = r.Int64(); err != nil {
		return s, err
	}
	s.Size, err = r.Int64()
	return s, err
}

// CreateDentryByPathReq is cmd 23's body: create path within ns.
type CreateDentryByPathReq struct {
	Namespace string
	Path      string
	Mode      uint32
	UID       uint32
	GID       uint32
}

func DecodeCreateDentryByPathReq(body []byte) (CreateDentryByPathReq, error) {
	r := wire.NewReader(body)
	var req CreateDentryByPathReq
	var err error
	if req.Namespace, err = r.String8(); err != nil {
		return req, err
	}
	if req.Path, err = r.String16(); err != nil {
		return req, err
	}
	if req.Mode, err = r.Uint32(); err != nil {
		return req, err
	}
	if req.UID, err = r.Uint32(); err != nil {
		return req, err
	}
	req.GID, err = r.Uint32()
	return req, err
}

func (req CreateDentryByPathReq) Encode() []byte {
	w := wire.NewWriter(16 + len(req.Namespace) + len(req.Path))
	w.PutString8(req.Namespace)
	w.PutString16(req.Path)
	w.PutUint32(req.Mode)
	w.PutUint32(req.UID)
	w.PutUint32(req.GID)
	return w.Bytes()
}

// CreateDentryByPNameReq is cmd 25's body: create name as a child of
// parentInode directly, bypassing path resolution.
type CreateDentryByPNameReq struct {
	Namespace   string
	ParentInode uint64
	Name        string
	Mode        uint32
	UID         uint32
	GID         uint32
}

func DecodeCreateDentryByPNameReq(body []byte) (CreateDentryByPNameReq, error) {
	r := wire.NewReader(body)
	var req CreateDentryByPNameReq
	var err error
	if req.Namespace, err = r.String8(); err != nil {
		return req, err
	}
	if req.ParentInode, err = r.Uint64(); err != nil {
		return req, err
	}
	if req.Name, err = r.String8(); err != nil {
		return req, err
	}
	if req.Mode, err = r.Uint32(); err != nil {
		return req, err
	}
	if req.UID, err = r.Uint32(); err != nil {
		return req, err
	}
	req.GID, err = r.Uint32()
	return req, err
}

// DentryResp is the common reply shape for create/lookup/stat
// handlers: the resulting dentry's stat block.
type DentryResp struct {
	Stat StatWire
}

func (resp DentryResp) Encode() []byte {
	w := wire.NewWriter(48)
	resp.Stat.encode(w)
	return w.Bytes()
}

func DecodeDentryResp(body []byte) (DentryResp, error) {
	r := wire.NewReader(body)
	s, err := decodeStatWire(r)
	return DentryResp{Stat: s}, err
}

// RemoveDentryReq is cmd 27's body.
type RemoveDentryReq struct {
	Namespace string
	Path      string
}

func DecodeRemoveDentryReq(body []byte) (RemoveDentryReq, error) {
	r := wire.NewReader(body)
	var req RemoveDentryReq
	var err error
	if req.Namespace, err = r.String8(); err != nil {
		return req, err
	}
	req.Path, err = r.String16()
	return req, err
}

func (req RemoveDentryReq) Encode() []byte {
	w := wire.NewWriter(8 + len(req.Namespace) + len(req.Path))
	w.PutString8(req.Namespace)
	w.PutString16(req.Path)
	return w.Bytes()
}

// ListDentryFirstReq is cmd 29's body: begin iterating path's
// children, batchSize entries at a time.
type ListDentryFirstReq struct {
	Namespace string
	Path      string
	BatchSize uint32
}

func DecodeListDentryFirstReq(body []byte) (ListDentryFirstReq, error) {
	r := wire.NewReader(body)
	var req ListDentryFirstReq
	var err error
	if req.Namespace, err = r.String8(); err != nil {
		return req, err
	}
	if req.Path, err = r.String16(); err != nil {
		return req, err
	}
	req.BatchSize, err = r.Uint32()
	return req, err
}

func (req ListDentryFirstReq) Encode() []byte {
	w := wire.NewWriter(16 + len(req.Namespace) + len(req.Path))
	w.PutString8(req.Namespace)
	w.PutString16(req.Path)
	w.PutUint32(req.BatchSize)
	return w.Bytes()
}

// ListDentryNextReq is cmd 31's body: continue a cursor returned by a
// previous list_dentry_first/next call.
type ListDentryNextReq struct {
	Token     uint64
	BatchSize uint32
}

func DecodeListDentryNextReq(body []byte) (ListDentryNextReq, error) {
	r := wire.NewReader(body)
	var req ListDentryNextReq
	var err error
	if req.Token, err = r.Uint64(); err != nil {
		return req, err
	}
	req.BatchSize, err = r.Uint32()
	return req, err
}

func (req ListDentryNextReq) Encode() []byte {
	w := wire.NewWriter(12)
	w.PutUint64(req.Token)
	w.PutUint32(req.BatchSize)
	return w.Bytes()
}

// ListDentryResp is cmd 32's body: one batch of children plus a token
// for the next call, 0 once the listing is exhausted.
type ListDentryResp struct {
	Token   uint64
	Entries []ListEntry
}

// ListEntry is one child in a ListDentryResp.
type ListEntry struct {
	Name string
	Stat StatWire
}

func (resp ListDentryResp) Encode() []byte {
	w := wire.NewWriter(16 + 64*len(resp.Entries))
	w.PutUint64(resp.Token)
	w.PutUint32(uint32(len(resp.Entries)))
	for _, e := range resp.Entries {
		w.PutString8(e.Name)
		e.Stat.encode(w)
	}
	return w.Bytes()
}

func DecodeListDentryResp(body []byte) (ListDentryResp, error) {
	r := wire.NewReader(body)
	var resp ListDentryResp
	var err error
	if resp.Token, err = r.Uint64(); err != nil {
		return resp, err
	}
	count, err := r.Uint32()
	if err != nil {
		return resp, err
	}
	resp.Entries = make([]ListEntry, count)
	for i := range resp.Entries {
		if resp.Entries[i].Name, err = r.String8(); err != nil {
			return resp, err
		}
		if resp.Entries[i].Stat, err = decodeStatWire(r); err != nil {
			return resp, err
		}
	}
	return resp, nil
}

// LookupInodeByPathReq is cmd 33's body.
type LookupInodeByPathReq struct {
	Namespace string
	Path      string
}

func DecodeLookupInodeByPathReq(body []byte) (LookupInodeByPathReq, error) {
	r := wire.NewReader(body)
	var req LookupInodeByPathReq
	var err error
	if req.Namespace, err = r.String8(); err != nil {
		return req, err
	}
	req.Path, err = r.String16()
	return req, err
}

func (req LookupInodeByPathReq) Encode() []byte {
	w := wire.NewWriter(8 + len(req.Namespace) + len(req.Path))
	w.PutString8(req.Namespace)
	w.PutString16(req.Path)
	return w.Bytes()
}

// InodeResp carries a single inode number, the reply to
// lookup_inode_by_path.
type InodeResp struct {
	Inode uint64
}

func (resp InodeResp) Encode() []byte {
	w := wire.NewWriter(8)
	w.PutUint64(resp.Inode)
	return w.Bytes()
}

func DecodeInodeResp(body []byte) (InodeResp, error) {
	r := wire.NewReader(body)
	ino, err := r.Uint64()
	return InodeResp{Inode: ino}, err
}

// StatByPathReq is cmd 35's body.
type StatByPathReq struct {
	Namespace string
	Path      string
}

func DecodeStatByPathReq(body []byte) (StatByPathReq, error) {
	r := wire.NewReader(body)
	var req StatByPathReq
	var err error
	if req.Namespace, err = r.String8(); err != nil {
		return req, err
	}
	req.Path, err = r.String16()
	return req, err
}

func (req StatByPathReq) Encode() []byte {
	w := wire.NewWriter(8 + len(req.Namespace) + len(req.Path))
	w.PutString8(req.Namespace)
	w.PutString16(req.Path)
	return w.Bytes()
}

// StatByInodeReq is cmd 37's body.
type StatByInodeReq struct {
	Inode uint64
}

func DecodeStatByInodeReq(body []byte) (StatByInodeReq, error) {
	r := wire.NewReader(body)
	ino, err := r.Uint64()
	return StatByInodeReq{Inode: ino}, err
}

func (req StatByInodeReq) Encode() []byte {
	w := wire.NewWriter(8)
	w.PutUint64(req.Inode)
	return w.Bytes()
}

// StatByPNameReq is cmd 39's body: stat a single named child of
// parentInode.
type StatByPNameReq struct {
	ParentInode uint64
	Name        string
}

func DecodeStatByPNameReq(body []byte) (StatByPNameReq, error) {
	r := wire.NewReader(body)
	var req StatByPNameReq
	var err error
	if req.ParentInode, err = r.Uint64(); err != nil {
		return req, err
	}
	req.Name, err = r.String8()
	return req, err
}

// SetDentrySizeReq is cmd 41's body.
type SetDentrySizeReq struct {
	Inode   uint64
	NewSize int64
	Force   bool
}

func DecodeSetDentrySizeReq(body []byte) (SetDentrySizeReq, error) {
	r := wire.NewReader(body)
	var req SetDentrySizeReq
	var err error
	if req.Inode, err = r.Uint64(); err != nil {
		return req, err
	}
	if req.NewSize, err = r.Int64(); err != nil {
		return req, err
	}
	force, err := r.Uint8()
	req.Force = force != 0
	return req, err
}

func (req SetDentrySizeReq) Encode() []byte {
	w := wire.NewWriter(17)
	w.PutUint64(req.Inode)
	w.PutInt64(req.NewSize)
	if req.Force {
		w.PutUint8(1)
	} else {
		w.PutUint8(0)
	}
	return w.Bytes()
}

// SetDentrySizeResp is cmd 42's body: the bitmask of Stat fields
// actually changed, plus the dentry's resulting size.
type SetDentrySizeResp struct {
	ModifiedFields uint64
	Size           int64
}

func (resp SetDentrySizeResp) Encode() []byte {
	w := wire.NewWriter(16)
	w.PutUint64(resp.ModifiedFields)
	w.PutInt64(resp.Size)
	return w.Bytes()
}

func DecodeSetDentrySizeResp(body []byte) (SetDentrySizeResp, error) {
	r := wire.NewReader(body)
	var resp SetDentrySizeResp
	var err error
	if resp.ModifiedFields, err = r.Uint64(); err != nil {
		return resp, err
	}
	resp.Size, err = r.Int64()
	return resp, err
}

// ModifyDentryStatReq is cmd 43's body: set any subset of a dentry's
// fields, selected by Fields (a dentry.StatField bitmask).
type ModifyDentryStatReq struct {
	Inode  uint64
	Fields uint64
	Mode   uint32
	UID    uint32
	GID    uint32
	ATime  int64
	CTime  int64
	MTime  int64
}

func DecodeModifyDentryStatReq(body []byte) (ModifyDentryStatReq, error) {
	r := wire.NewReader(body)
	var req ModifyDentryStatReq
	var err error
	if req.Inode, err = r.Uint64(); err != nil {
		return req, err
	}
	if req.Fields, err = r.Uint64(); err != nil {
		return req, err
	}
	if req.Mode, err = r.Uint32(); err != nil {
		return req, err
	}
	if req.UID, err = r.Uint32(); err != nil {
		return req, err
	}
	if req.GID, err = r.Uint32(); err != nil {
		return req, err
	}
	if req.ATime, err = r.Int64(); err != nil {
		return req, err
	}
	if req.CTime, err = r.Int64(); err != nil {
		return req, err
	}
	req.MTime, err = r.Int64()
	return req, err
}

func (req ModifyDentryStatReq) Encode() []byte {
	w := wire.NewWriter(44)
	w.PutUint64(req.Inode)
	w.PutUint64(req.Fields)
	w.PutUint32(req.Mode)
	w.PutUint32(req.UID)
	w.PutUint32(req.GID)
	w.PutInt64(req.ATime)
	w.PutInt64(req.CTime)
	w.PutInt64(req.MTime)
	return w.Bytes()
}

// FlockReq is cmd 45's body.
type FlockReq struct {
	Inode       uint64
	Owner       lockstate.Owner
	Exclusive   bool
	Offset      uint64
	Length      uint64
	NonBlocking bool
}

func DecodeFlockReq(body []byte) (FlockReq, error) {
	r := wire.NewReader(body)
	var req FlockReq
	var err error
	if req.Inode, err = r.Uint64(); err != nil {
		return req, err
	}
	if req.Owner.Tid, err = r.Uint64(); err != nil {
		return req, err
	}
	pid, err := r.Uint32()
	if err != nil {
		return req, err
	}
	req.Owner.Pid = pid
	excl, err := r.Uint8()
	if err != nil {
		return req, err
	}
	req.Exclusive = excl != 0
	if req.Offset, err = r.Uint64(); err != nil {
		return req, err
	}
	if req.Length, err = r.Uint64(); err != nil {
		return req, err
	}
	nb, err := r.Uint8()
	req.NonBlocking = nb != 0
	return req, err
}

func (req FlockReq) Encode() []byte {
	w := wire.NewWriter(38)
	w.PutUint64(req.Inode)
	w.PutUint64(req.Owner.Tid)
	w.PutUint32(req.Owner.Pid)
	if req.Exclusive {
		w.PutUint8(1)
	} else {
		w.PutUint8(0)
	}
	w.PutUint64(req.Offset)
	w.PutUint64(req.Length)
	if req.NonBlocking {
		w.PutUint8(1)
	} else {
		w.PutUint8(0)
	}
	return w.Bytes()
}

// FlockResp is cmd 46's body. Continue is true when the request was
// enqueued and the caller must wait for a follow-up grant instead of
// treating this reply as final.
type FlockResp struct {
	Continue bool
}

func (resp FlockResp) Encode() []byte {
	w := wire.NewWriter(1)
	if resp.Continue {
		w.PutUint8(1)
	} else {
		w.PutUint8(0)
	}
	return w.Bytes()
}

func DecodeFlockResp(body []byte) (FlockResp, error) {
	r := wire.NewReader(body)
	v, err := r.Uint8()
	return FlockResp{Continue: v != 0}, err
}

// GetlkReq is cmd 47's body; reuses FlockReq's layout minus the
// NonBlocking flag (a probe is always immediate).
type GetlkReq struct {
	Inode     uint64
	Owner     lockstate.Owner
	Exclusive bool
	Offset    uint64
	Length    uint64
}

func DecodeGetlkReq(body []byte) (GetlkReq, error) {
	r := wire.NewReader(body)
	var req GetlkReq
	var err error
	if req.Inode, err = r.Uint64(); err != nil {
		return req, err
	}
	if req.Owner.Tid, err = r.Uint64(); err != nil {
		return req, err
	}
	pid, err := r.Uint32()
	if err != nil {
		return req, err
	}
	req.Owner.Pid = pid
	excl, err := r.Uint8()
	if err != nil {
		return req, err
	}
	req.Exclusive = excl != 0
	if req.Offset, err = r.Uint64(); err != nil {
		return req, err
	}
	req.Length, err = r.Uint64()
	return req, err
}

// GetlkResp is cmd 48's body.
type GetlkResp struct {
	Conflict  bool
	Owner     lockstate.Owner
	Exclusive bool
	Offset    uint64
	Length    uint64
}

func (resp GetlkResp) Encode() []byte {
	w := wire.NewWriter(30)
	if resp.Conflict {
		w.PutUint8(1)
	} else {
		w.PutUint8(0)
	}
	w.PutUint64(resp.Owner.Tid)
	w.PutUint32(resp.Owner.Pid)
	if resp.Exclusive {
		w.PutUint8(1)
	} else {
		w.PutUint8(0)
	}
	w.PutUint64(resp.Offset)
	w.PutUint64(resp.Length)
	return w.Bytes()
}

func DecodeGetlkResp(body []byte) (GetlkResp, error) {
	r := wire.NewReader(body)
	var resp GetlkResp
	conflict, err := r.Uint8()
	if err != nil {
		return resp, err
	}
	resp.Conflict = conflict != 0
	if resp.Owner.Tid, err = r.Uint64(); err != nil {
		return resp, err
	}
	if resp.Owner.Pid, err = r.Uint32(); err != nil {
		return resp, err
	}
	excl, err := r.Uint8()
	if err != nil {
		return resp, err
	}
	resp.Exclusive = excl != 0
	if resp.Offset, err = r.Uint64(); err != nil {
		return resp, err
	}
	resp.Length, err = r.Uint64()
	return resp, err
}

// SysLockReq is cmd 49's body.
type SysLockReq struct {
	Inode       uint64
	NonBlocking bool
}

func DecodeSysLockReq(body []byte) (SysLockReq, error) {
	r := wire.NewReader(body)
	var req SysLockReq
	var err error
	if req.Inode, err = r.Uint64(); err != nil {
		return req, err
	}
	nb, err := r.Uint8()
	req.NonBlocking = nb != 0
	return req, err
}

func (req SysLockReq) Encode() []byte {
	w := wire.NewWriter(9)
	w.PutUint64(req.Inode)
	if req.NonBlocking {
		w.PutUint8(1)
	} else {
		w.PutUint8(0)
	}
	return w.Bytes()
}

// SysLockResp is cmd 49's success reply: the dentry's current size.
type SysLockResp struct {
	Continue bool
	Size     int64
}

func (resp SysLockResp) Encode() []byte {
	w := wire.NewWriter(9)
	if resp.Continue {
		w.PutUint8(1)
	} else {
		w.PutUint8(0)
	}
	w.PutInt64(resp.Size)
	return w.Bytes()
}

func DecodeSysLockResp(body []byte) (SysLockResp, error) {
	r := wire.NewReader(body)
	v, err := r.Uint8()
	if err != nil {
		return SysLockResp{}, err
	}
	size, err := r.Int64()
	return SysLockResp{Continue: v != 0, Size: size}, err
}

// SysUnlockReq is cmd 52's body.
type SysUnlockReq struct {
	Inode   uint64
	NewSize int64
	SetSize bool
}

func DecodeSysUnlockReq(body []byte) (SysUnlockReq, error) {
	r := wire.NewReader(body)
	var req SysUnlockReq
	var err error
	if req.Inode, err = r.Uint64(); err != nil {
		return req, err
	}
	if req.NewSize, err = r.Int64(); err != nil {
		return req, err
	}
	set, err := r.Uint8()
	req.SetSize = set != 0
	return req, err
}

func (req SysUnlockReq) Encode() []byte {
	w := wire.NewWriter(17)
	w.PutUint64(req.Inode)
	w.PutInt64(req.NewSize)
	if req.SetSize {
		w.PutUint8(1)
	} else {
		w.PutUint8(0)
	}
	return w.Bytes()
}

// ClusterStatsResp is cmd 55's body: a snapshot of this node's role
// and replication position.
type ClusterStatsResp struct {
	IsMaster    bool
	DataVersion uint64
}

func (resp ClusterStatsResp) Encode() []byte {
	w := wire.NewWriter(9)
	if resp.IsMaster {
		w.PutUint8(1)
	} else {
		w.PutUint8(0)
	}
	w.PutUint64(resp.DataVersion)
	return w.Bytes()
}

func DecodeClusterStatsResp(body []byte) (ClusterStatsResp, error) {
	r := wire.NewReader(body)
	v, err := r.Uint8()
	if err != nil {
		return ClusterStatsResp{}, err
	}
	dv, err := r.Uint64()
	return ClusterStatsResp{IsMaster: v != 0, DataVersion: dv}, err
}
