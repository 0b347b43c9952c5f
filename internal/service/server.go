package service

import (
	"time"

	"github.com/sirupsen/logrus"

	"github.com/yechoo0321/fdircore/internal/binlog"
	"github.com/yechoo0321/fdircore/internal/clusterinfo"
	"github.com/yechoo0321/fdircore/internal/config"
	"github.com/yechoo0321/fdircore/internal/datathread"
	"github.com/yechoo0321/fdircore/internal/dentry"
	"github.com/yechoo0321/fdircore/internal/fdirctx"
	"github.com/yechoo0321/fdircore/internal/fdirerr"
	"github.com/yechoo0321/fdircore/internal/lockstate"
	"github.com/yechoo0321/fdircore/internal/replication"
	"github.com/yechoo0321/fdircore/internal/wire"
)

// Server dispatches decoded request bodies to the dentry tree, inode
// index and data-thread pool, mirroring the role runsc's syscall
// table plays for a sandboxed process: one function per command,
// looked up by a fixed numeric code.
type Server struct {
	ctx      *fdirctx.Context
	pool     *datathread.Pool
	producer *binlog.Producer
	engine   *replication.Engine
	cursors  *cursorCache
	log      *logrus.Entry

	// ServingReads reports whether this node currently answers
	// read-only requests: true on the master, and on a slave once its
	// replication status has reached clusterinfo.StatusActive. nil
	// means "master only".
	ServingReads func() bool
}

// NewServer constructs a Server bound to ctx, pool and producer.
// engine may be nil if this node never acts as a replication master.
func NewServer(ctx *fdirctx.Context, pool *datathread.Pool, producer *binlog.Producer, engine *replication.Engine) *Server {
	return &Server{
		ctx:      ctx,
		pool:     pool,
		producer: producer,
		engine:   engine,
		cursors:  newCursorCache(config.CursorExpiry),
		log:      ctx.Log.WithField("component", "service"),
	}
}

// RunCursorSweeper discards expired list_dentry_next cursors every
// interval until stop is closed.
func (s *Server) RunCursorSweeper(interval time.Duration, stop <-chan struct{}) {
	t := time.NewTicker(interval)
	defer t.Stop()
	for {
		select {
		case <-stop:
			return
		case now := <-t.C:
			if n := s.cursors.sweep(now); n > 0 {
				s.log.WithField("expired", n).Debug("list cursor sweep")
			}
		}
	}
}

func (s *Server) canServeReads() bool {
	if s.ServingReads != nil {
		return s.ServingReads()
	}
	return s.ctx.IsMaster()
}

func (s *Server) requireMaster() error {
	if !s.ctx.IsMaster() {
		return fdirerr.ErrNotMaster
	}
	return nil
}

func (s *Server) requireReadable() error {
	if !s.canServeReads() {
		return fdirerr.New(fdirerr.EAGAIN, "node is not yet serving reads")
	}
	return nil
}

// mutate submits fn to the data-thread pool keyed by ns, blocking
// until it has been applied (or rejected) and appended to the binlog.
func (s *Server) mutate(ns string, fn datathread.Apply) error {
	done := make(chan error, 1)
	task := &datathread.Task{
		HashCode: datathread.HashNamespace(ns),
		Apply:    fn,
		Notify: func(err error, rec *binlog.Record) {
			if err != nil {
				done <- err
				return
			}
			if rec != nil {
				if _, perr := s.producer.Append(rec); perr != nil {
					done <- perr
					return
				}
			}
			done <- nil
		},
	}
	s.pool.Submit(task)
	return <-done
}

// Dispatch decodes and handles one request body for cmd, returning
// the matching response command and its encoded body, or an error
// whose fdirerr.Code becomes the reply header's status.
func (s *Server) Dispatch(cmd wire.Cmd, body []byte) (wire.Cmd, []byte, error) {
	switch cmd {
	case wire.CmdActiveTestReq:
		return wire.CmdActiveTestResp, nil, nil

	case wire.CmdCreateDentryByPathReq:
		return s.handleCreateByPath(body)
	case wire.CmdCreateDentryByPNameReq:
		return s.handleCreateByPName(body)
	case wire.CmdRemoveDentryReq:
		return s.handleRemoveDentry(body)

	case wire.CmdListDentryFirstReq:
		return s.handleListDentryFirst(body)
	case wire.CmdListDentryNextReq:
		return s.handleListDentryNext(body)

	case wire.CmdLookupInodeByPathReq:
		return s.handleLookupInodeByPath(body)

	case wire.CmdStatByPathReq:
		return s.handleStatByPath(body)
	case wire.CmdStatByInodeReq:
		return s.handleStatByInode(body)
	case wire.CmdStatByPNameReq:
		return s.handleStatByPName(body)

	case wire.CmdSetDentrySizeReq:
		return s.handleSetDentrySize(body)
	case wire.CmdModifyDentryStatReq:
		return s.handleModifyDentryStat(body)

	case wire.CmdFlockReq:
		return s.handleFlock(body)
	case wire.CmdGetlkReq:
		return s.handleGetlk(body)
	case wire.CmdSysLockReq:
		return s.handleSysLock(body)
	case wire.CmdSysUnlockReq:
		return s.handleSysUnlock(body)

	case wire.CmdClusterStatsReq:
		return s.handleClusterStats(body)
	case wire.CmdClusterSlavesReq:
		return s.handleClusterSlaves(body)

	default:
		return 0, nil, fdirerr.New(fdirerr.EINVAL, "unhandled command %d", cmd)
	}
}

func (s *Server) handleCreateByPath(body []byte) (wire.Cmd, []byte, error) {
	req, err := DecodeCreateDentryByPathReq(body)
	if err != nil {
		return 0, nil, err
	}
	if err := s.requireMaster(); err != nil {
		return 0, nil, err
	}

	var result *dentry.Dentry
	err = s.mutate(req.Namespace, func(ctx *fdirctx.Context) (*binlog.Record, error) {
		ns := ctx.Namespaces.GetOrCreate(req.Namespace)
		now := time.Now().Unix()
		d, err := dentry.Create(ns, ctx.IDGen, ctx.Inodes, req.Path, dentry.CreateParams{
			Mode: dentry.Mode(req.Mode), UID: req.UID, GID: req.GID, CTime: now, MTime: now,
		})
		if err != nil {
			return nil, err
		}
		result = d
		rec := &binlog.Record{Inode: d.Inode, Op: binlog.OpCreate, Timestamp: now, HashCode: datathread.HashNamespace(req.Namespace)}
		rec.SetFullname(req.Namespace, req.Path)
		rec.SetMode(d.Stat.Mode)
		rec.SetUID(d.Stat.UID)
		rec.SetGID(d.Stat.GID)
		rec.SetCTime(d.Stat.CTime)
		rec.SetMTime(d.Stat.MTime)
		return rec, nil
	})
	if err != nil {
		return 0, nil, err
	}
	return wire.CmdCreateDentryByPathResp, DentryResp{Stat: statFromDentry(result)}.Encode(), nil
}

func (s *Server) handleCreateByPName(body []byte) (wire.Cmd, []byte, error) {
	req, err := DecodeCreateDentryByPNameReq(body)
	if err != nil {
		return 0, nil, err
	}
	if err := s.requireMaster(); err != nil {
		return 0, nil, err
	}

	var result *dentry.Dentry
	err = s.mutate(req.Namespace, func(ctx *fdirctx.Context) (*binlog.Record, error) {
		parent, err := ctx.Inodes.Find(req.ParentInode)
		if err != nil {
			return nil, err
		}
		path, err := dentry.GetFullPath(parent)
		if err != nil {
			return nil, err
		}
		if path != "/" {
			path += "/"
		}
		path += req.Name
		ns := ctx.Namespaces.GetOrCreate(req.Namespace)
		now := time.Now().Unix()
		d, err := dentry.Create(ns, ctx.IDGen, ctx.Inodes, path, dentry.CreateParams{
			Mode: dentry.Mode(req.Mode), UID: req.UID, GID: req.GID, CTime: now, MTime: now,
		})
		if err != nil {
			return nil, err
		}
		result = d
		rec := &binlog.Record{Inode: d.Inode, Op: binlog.OpCreate, Timestamp: now, HashCode: datathread.HashNamespace(req.Namespace)}
		rec.SetFullname(req.Namespace, path)
		rec.SetMode(d.Stat.Mode)
		rec.SetUID(d.Stat.UID)
		rec.SetGID(d.Stat.GID)
		rec.SetCTime(d.Stat.CTime)
		rec.SetMTime(d.Stat.MTime)
		return rec, nil
	})
	if err != nil {
		return 0, nil, err
	}
	return wire.CmdCreateDentryByPNameResp, DentryResp{Stat: statFromDentry(result)}.Encode(), nil
}

func (s *Server) handleRemoveDentry(body []byte) (wire.Cmd, []byte, error) {
	req, err := DecodeRemoveDentryReq(body)
	if err != nil {
		return 0, nil, err
	}
	if err := s.requireMaster(); err != nil {
		return 0, nil, err
	}

	err = s.mutate(req.Namespace, func(ctx *fdirctx.Context) (*binlog.Record, error) {
		ns := ctx.Namespaces.Get(req.Namespace)
		if ns == nil {
			return nil, fdirerr.New(fdirerr.ENOENT, "namespace %q not found", req.Namespace)
		}
		d, err := dentry.Remove(ns, ctx.Inodes, ctx.DelayFree, req.Path)
		if err != nil {
			return nil, err
		}
		rec := &binlog.Record{Inode: d.Inode, Op: binlog.OpRemove, Timestamp: time.Now().Unix(), HashCode: datathread.HashNamespace(req.Namespace)}
		rec.SetFullname(req.Namespace, req.Path)
		return rec, nil
	})
	if err != nil {
		return 0, nil, err
	}
	return wire.CmdRemoveDentryResp, nil, nil
}

func (s *Server) resolve(namespace, path string) (*dentry.Dentry, error) {
	ns := s.ctx.Namespaces.Get(namespace)
	if ns == nil {
		return nil, fdirerr.New(fdirerr.ENOENT, "namespace %q not found", namespace)
	}
	return dentry.Find(ns, path)
}

func (s *Server) handleListDentryFirst(body []byte) (wire.Cmd, []byte, error) {
	req, err := DecodeListDentryFirstReq(body)
	if err != nil {
		return 0, nil, err
	}
	if err := s.requireReadable(); err != nil {
		return 0, nil, err
	}
	ns := s.ctx.Namespaces.Get(req.Namespace)
	if ns == nil {
		return 0, nil, fdirerr.New(fdirerr.ENOENT, "namespace %q not found", req.Namespace)
	}
	entries, err := s.cursors.firstListing(req.Namespace+"\x00"+req.Path, func() ([]*dentry.Dentry, error) {
		return dentry.List(ns, req.Path)
	})
	if err != nil {
		return 0, nil, err
	}
	return wire.CmdListDentryResp, s.takeBatch(entries, int(req.BatchSize)), nil
}

func (s *Server) handleListDentryNext(body []byte) (wire.Cmd, []byte, error) {
	req, err := DecodeListDentryNextReq(body)
	if err != nil {
		return 0, nil, err
	}
	if err := s.requireReadable(); err != nil {
		return 0, nil, err
	}
	batch, nextToken, ok := s.cursors.take(req.Token, int(req.BatchSize))
	if !ok {
		return 0, nil, fdirerr.New(fdirerr.ENOENT, "list cursor %d not found or expired", req.Token)
	}
	resp := ListDentryResp{Token: nextToken, Entries: toListEntries(batch)}
	return wire.CmdListDentryResp, resp.Encode(), nil
}

// takeBatch stores entries beyond the first batchSize in a fresh
// cursor and encodes the first batch plus its continuation token.
func (s *Server) takeBatch(entries []*dentry.Dentry, batchSize int) []byte {
	if batchSize <= 0 || batchSize >= len(entries) {
		return ListDentryResp{Entries: toListEntries(entries)}.Encode()
	}
	first := entries[:batchSize]
	token := s.cursors.store(entries[batchSize:])
	return ListDentryResp{Token: token, Entries: toListEntries(first)}.Encode()
}

func toListEntries(ds []*dentry.Dentry) []ListEntry {
	out := make([]ListEntry, len(ds))
	for i, d := range ds {
		out[i] = ListEntry{Name: d.Name, Stat: statFromDentry(d)}
	}
	return out
}

func (s *Server) handleLookupInodeByPath(body []byte) (wire.Cmd, []byte, error) {
	req, err := DecodeLookupInodeByPathReq(body)
	if err != nil {
		return 0, nil, err
	}
	if err := s.requireReadable(); err != nil {
		return 0, nil, err
	}
	d, err := s.resolve(req.Namespace, req.Path)
	if err != nil {
		return 0, nil, err
	}
	return wire.CmdLookupInodeByPathResp, InodeResp{Inode: d.Inode}.Encode(), nil
}

func (s *Server) handleStatByPath(body []byte) (wire.Cmd, []byte, error) {
	req, err := DecodeStatByPathReq(body)
	if err != nil {
		return 0, nil, err
	}
	if err := s.requireReadable(); err != nil {
		return 0, nil, err
	}
	d, err := s.resolve(req.Namespace, req.Path)
	if err != nil {
		return 0, nil, err
	}
	return wire.CmdStatByPathResp, DentryResp{Stat: statFromDentry(d)}.Encode(), nil
}

func (s *Server) handleStatByInode(body []byte) (wire.Cmd, []byte, error) {
	req, err := DecodeStatByInodeReq(body)
	if err != nil {
		return 0, nil, err
	}
	if err := s.requireReadable(); err != nil {
		return 0, nil, err
	}
	d, err := s.ctx.Inodes.Find(req.Inode)
	if err != nil {
		return 0, nil, err
	}
	return wire.CmdStatByInodeResp, DentryResp{Stat: statFromDentry(d)}.Encode(), nil
}

func (s *Server) handleStatByPName(body []byte) (wire.Cmd, []byte, error) {
	req, err := DecodeStatByPNameReq(body)
	if err != nil {
		return 0, nil, err
	}
	if err := s.requireReadable(); err != nil {
		return 0, nil, err
	}
	parent, err := s.ctx.Inodes.Find(req.ParentInode)
	if err != nil {
		return 0, nil, err
	}
	d, err := dentry.FindByPName(parent, req.Name)
	if err != nil {
		return 0, nil, err
	}
	return wire.CmdStatByPNameResp, DentryResp{Stat: statFromDentry(d)}.Encode(), nil
}

func (s *Server) handleSetDentrySize(body []byte) (wire.Cmd, []byte, error) {
	req, err := DecodeSetDentrySizeReq(body)
	if err != nil {
		return 0, nil, err
	}
	if err := s.requireMaster(); err != nil {
		return 0, nil, err
	}

	var mask dentry.StatField
	var newSize int64
	err = s.mutate("", func(ctx *fdirctx.Context) (*binlog.Record, error) {
		d, err := ctx.Inodes.Find(req.Inode)
		if err != nil {
			return nil, err
		}
		now := time.Now().Unix()
		mask, err = ctx.Inodes.CheckSetDentrySize(req.Inode, req.NewSize, req.Force, now)
		if err != nil {
			return nil, err
		}
		newSize = d.Stat.Size
		if mask == 0 {
			return nil, nil
		}
		rec := &binlog.Record{Inode: req.Inode, Op: binlog.OpUpdate, Timestamp: now, HashCode: datathread.HashNamespace("")}
		if mask&dentry.StatFieldSize != 0 {
			rec.SetSize(newSize)
		}
		if mask&dentry.StatFieldMTime != 0 {
			rec.SetMTime(now)
		}
		return rec, nil
	})
	if err != nil {
		return 0, nil, err
	}
	return wire.CmdSetDentrySizeResp, SetDentrySizeResp{ModifiedFields: uint64(mask), Size: newSize}.Encode(), nil
}

func (s *Server) handleModifyDentryStat(body []byte) (wire.Cmd, []byte, error) {
	req, err := DecodeModifyDentryStatReq(body)
	if err != nil {
		return 0, nil, err
	}
	if err := s.requireMaster(); err != nil {
		return 0, nil, err
	}

	err = s.mutate("", func(ctx *fdirctx.Context) (*binlog.Record, error) {
		rec := &binlog.Record{Inode: req.Inode, Op: binlog.OpUpdate, Timestamp: time.Now().Unix(), HashCode: datathread.HashNamespace("")}
		werr := ctx.Inodes.WithLockedDentry(req.Inode, func(d *dentry.Dentry) error {
			fields := dentry.StatField(req.Fields)
			if fields&dentry.StatFieldMode != 0 {
				d.Stat.Mode = dentry.Mode(req.Mode)
				rec.SetMode(d.Stat.Mode)
			}
			if fields&dentry.StatFieldUID != 0 {
				d.Stat.UID = req.UID
				rec.SetUID(d.Stat.UID)
			}
			if fields&dentry.StatFieldGID != 0 {
				d.Stat.GID = req.GID
				rec.SetGID(d.Stat.GID)
			}
			if fields&dentry.StatFieldATime != 0 {
				d.Stat.ATime = req.ATime
				rec.SetATime(d.Stat.ATime)
			}
			if fields&dentry.StatFieldCTime != 0 {
				d.Stat.CTime = req.CTime
				rec.SetCTime(d.Stat.CTime)
			}
			if fields&dentry.StatFieldMTime != 0 {
				d.Stat.MTime = req.MTime
				rec.SetMTime(d.Stat.MTime)
			}
			return nil
		})
		if werr != nil {
			return nil, werr
		}
		return rec, nil
	})
	if err != nil {
		return 0, nil, err
	}
	return wire.CmdModifyDentryStatResp, nil, nil
}

func (s *Server) handleFlock(body []byte) (wire.Cmd, []byte, error) {
	resp, _, err := s.HandleFlock(body)
	if err != nil {
		return 0, nil, err
	}
	return wire.CmdFlockResp, resp.Encode(), nil
}

// HandleFlock is handleFlock's exported counterpart: it also returns
// the lockstate.FlockWaiter for a request that returned
// FlockResp.Continue == true, so the connection loop that owns this
// client's socket can suspend its reply and send a follow-up frame
// once waiter.Done closes. Serve's connection loop goes through
// Dispatch, which drops the waiter: a client served by it receives
// Continue == true and no follow-up frame.
func (s *Server) HandleFlock(body []byte) (FlockResp, *lockstate.FlockWaiter, error) {
	req, err := DecodeFlockReq(body)
	if err != nil {
		return FlockResp{}, nil, err
	}
	if err := s.requireMaster(); err != nil {
		return FlockResp{}, nil, err
	}
	typ := lockstate.Shared
	if req.Exclusive {
		typ = lockstate.Exclusive
	}
	res, err := s.ctx.Inodes.Flock(req.Inode, req.Owner, typ, req.Offset, req.Length, req.NonBlocking)
	if err != nil {
		return FlockResp{}, nil, err
	}
	return FlockResp{Continue: res.Waiter != nil}, res.Waiter, nil
}

func (s *Server) handleGetlk(body []byte) (wire.Cmd, []byte, error) {
	req, err := DecodeGetlkReq(body)
	if err != nil {
		return 0, nil, err
	}
	if err := s.requireReadable(); err != nil {
		return 0, nil, err
	}
	typ := lockstate.Shared
	if req.Exclusive {
		typ = lockstate.Exclusive
	}
	res, err := s.ctx.Inodes.Getlk(req.Inode, req.Owner, typ, req.Offset, req.Length)
	if err != nil {
		return 0, nil, err
	}
	return wire.CmdGetlkResp, GetlkResp{
		Conflict:  res.Conflict,
		Owner:     res.Owner,
		Exclusive: res.Type == lockstate.Exclusive,
		Offset:    res.Offset,
		Length:    res.Length,
	}.Encode(), nil
}

func (s *Server) handleSysLock(body []byte) (wire.Cmd, []byte, error) {
	resp, _, err := s.HandleSysLock(body)
	if err != nil {
		return 0, nil, err
	}
	return wire.CmdSysLockReq, resp.Encode(), nil
}

// HandleSysLock is handleSysLock's exported counterpart, mirroring
// HandleFlock: it surfaces the lockstate.SysLockWaiter for a request
// that returned SysLockResp.Continue == true.
func (s *Server) HandleSysLock(body []byte) (SysLockResp, *lockstate.SysLockWaiter, error) {
	req, err := DecodeSysLockReq(body)
	if err != nil {
		return SysLockResp{}, nil, err
	}
	if err := s.requireMaster(); err != nil {
		return SysLockResp{}, nil, err
	}
	res, err := s.ctx.Inodes.SysLock(req.Inode, req.NonBlocking)
	if err != nil {
		return SysLockResp{}, nil, err
	}
	return SysLockResp{Continue: res.Waiter != nil, Size: res.Size}, res.Waiter, nil
}

func (s *Server) handleSysUnlock(body []byte) (wire.Cmd, []byte, error) {
	req, err := DecodeSysUnlockReq(body)
	if err != nil {
		return 0, nil, err
	}
	if err := s.requireMaster(); err != nil {
		return 0, nil, err
	}
	err = s.ctx.Inodes.SysUnlock(req.Inode, func(d *dentry.Dentry) {
		if req.SetSize {
			d.Stat.Size = req.NewSize
		}
	})
	if err != nil {
		return 0, nil, err
	}
	return wire.CmdSysUnlockReq, nil, nil
}

func (s *Server) handleClusterStats(body []byte) (wire.Cmd, []byte, error) {
	resp := ClusterStatsResp{
		IsMaster:    s.ctx.IsMaster(),
		DataVersion: s.ctx.CurrentDataVersion(),
	}
	return wire.CmdClusterStatsReq, resp.Encode(), nil
}

// handleClusterSlaves reports every replicated slave's status: a u32
// count, then (server_id:u32, status:u8) per slave. Cluster membership and
// leader election are handled by an external oracle and are not
// reimplemented here; this only surfaces the replication engine's own
// view of slaves it is actively pushing to.
func (s *Server) handleClusterSlaves(body []byte) (wire.Cmd, []byte, error) {
	if s.engine == nil {
		w := wire.NewWriter(4)
		w.PutUint32(0)
		return wire.CmdClusterSlavesReq, w.Bytes(), nil
	}
	slaves := s.engine.Slaves()
	w := wire.NewWriter(4 + 5*len(slaves))
	w.PutUint32(uint32(len(slaves)))
	for _, sl := range slaves {
		w.PutUint32(sl.ServerID())
		w.PutUint8(uint8(statusCode(sl.Status())))
	}
	return wire.CmdClusterSlavesReq, w.Bytes(), nil
}

func statusCode(st clusterinfo.Status) int {
	switch st {
	case clusterinfo.StatusInit:
		return 0
	case clusterinfo.StatusBuilding:
		return 1
	case clusterinfo.StatusSyncing:
		return 2
	case clusterinfo.StatusActive:
		return 3
	case clusterinfo.StatusOffline:
		return 4
	default:
		return 255
	}
}
