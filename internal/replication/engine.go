package replication

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/cenkalti/backoff"
	"github.com/sirupsen/logrus"

	"github.com/yechoo0321/fdircore/internal/binlog"
	"github.com/yechoo0321/fdircore/internal/clusterinfo"
	"github.com/yechoo0321/fdircore/internal/config"
	"github.com/yechoo0321/fdircore/internal/fdirerr"
)

// State is one position in the per-slave connection state machine.
type State int

const (
	StateNone State = iota
	StateConnecting
	StateWaitingJoinResp
	StateSyncFromDisk
	StateSyncFromQueue
)

func (s State) String() string {
	switch s {
	case StateNone:
		return "NONE"
	case StateConnecting:
		return "CONNECTING"
	case StateWaitingJoinResp:
		return "WAITING_JOIN_RESP"
	case StateSyncFromDisk:
		return "SYNC_FROM_DISK"
	case StateSyncFromQueue:
		return "SYNC_FROM_QUEUE"
	default:
		return "UNKNOWN"
	}
}

// SlaveConfig names one slave the master replicates to.
type SlaveConfig struct {
	ServerID   uint32
	Addr       string
	ReplicaKey string
}

// Engine drives one replication state machine per configured slave.
type Engine struct {
	clusterID       uint32
	serverID        uint32
	binlogDir       string
	taskBufferBytes int
	producer        *binlog.Producer
	transport       Transport
	log             *logrus.Entry

	// MasterInconsistent reports whether this node should treat a
	// slave's join as brain-split (e.g. a concurrent election is in
	// progress); nil means never.
	MasterInconsistent func() bool
	// OnStatusChange is invoked whenever a slave's externally visible
	// status changes, so callers can persist it (internal/clusterinfo).
	OnStatusChange func(serverID uint32, status clusterinfo.Status)

	mu     sync.Mutex
	slaves map[uint32]*Slave
}

// NewEngine constructs an Engine. binlogDir must match the directory
// producer itself writes to, since SYNC_FROM_DISK reads it directly.
func NewEngine(clusterID, serverID uint32, binlogDir string, taskBufferBytes int, producer *binlog.Producer, transport Transport, log *logrus.Entry) *Engine {
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}
	return &Engine{
		clusterID:       clusterID,
		serverID:        serverID,
		binlogDir:       binlogDir,
		taskBufferBytes: taskBufferBytes,
		producer:        producer,
		transport:       transport,
		log:             log.WithField("component", "replication"),
		slaves:          make(map[uint32]*Slave),
	}
}

// Slave is one per-slave replication connection and its state.
type Slave struct {
	cfg    SlaveConfig
	engine *Engine
	queue  *binlog.SlaveQueue
	ring   *PushResultRing
	log    *logrus.Entry

	mu     sync.Mutex
	state  State
	status clusterinfo.Status
}

// AddSlave registers cfg and returns its Slave handle; call Run on
// the result to start the state machine.
func (e *Engine) AddSlave(cfg SlaveConfig) *Slave {
	s := &Slave{
		cfg:    cfg,
		engine: e,
		queue:  e.producer.RegisterSlave(fmt.Sprintf("%d", cfg.ServerID)),
		ring:   NewPushResultRing(4096),
		log:    e.log.WithField("slave", cfg.ServerID),
		status: clusterinfo.StatusInit,
	}
	e.mu.Lock()
	e.slaves[cfg.ServerID] = s
	e.mu.Unlock()
	return s
}

// RemoveSlave unregisters cfg's queue, used when the slave is
// permanently removed from the cluster (not just disconnected).
func (e *Engine) RemoveSlave(serverID uint32) {
	e.mu.Lock()
	delete(e.slaves, serverID)
	e.mu.Unlock()
	e.producer.UnregisterSlave(fmt.Sprintf("%d", serverID))
}

// Slave looks up a previously-added slave by server id.
func (e *Engine) Slave(serverID uint32) (*Slave, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	s, ok := e.slaves[serverID]
	return s, ok
}

// Slaves returns a snapshot of every currently registered slave.
func (e *Engine) Slaves() []*Slave {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]*Slave, 0, len(e.slaves))
	for _, s := range e.slaves {
		out = append(out, s)
	}
	return out
}

// ServerID returns the cluster server id this Slave replicates to.
func (s *Slave) ServerID() uint32 { return s.cfg.ServerID }

// State returns the slave's current connection state.
func (s *Slave) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Status returns the slave's externally visible replication status.
func (s *Slave) Status() clusterinfo.Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.status
}

func (s *Slave) setState(v State) {
	s.mu.Lock()
	s.state = v
	s.mu.Unlock()
	s.log.WithField("state", v).Debug("replication state transition")
}

func (s *Slave) setStatus(v clusterinfo.Status) {
	s.mu.Lock()
	s.status = v
	s.mu.Unlock()
	if s.engine.OnStatusChange != nil {
		s.engine.OnStatusChange(s.cfg.ServerID, v)
	}
}

// Run drives the state machine until ctx is canceled, reconnecting
// with capped exponential back-off after every disconnect.
func (s *Slave) Run(ctx context.Context) {
	for ctx.Err() == nil {
		conn, ok := s.connect(ctx)
		if !ok {
			continue
		}

		resp, ok := s.joinHandshake(conn)
		if !ok {
			conn.Close()
			s.teardown()
			continue
		}

		firstRound := s.Status() == clusterinfo.StatusInit
		if firstRound {
			s.setStatus(clusterinfo.StatusBuilding)
		} else {
			s.setStatus(clusterinfo.StatusSyncing)
		}

		lastDV, ok := s.syncFromDisk(ctx, conn, resp)
		if !ok {
			conn.Close()
			s.teardown()
			continue
		}

		s.setState(StateSyncFromQueue)
		s.setStatus(clusterinfo.StatusActive)
		s.queue.DiscardUpTo(lastDV)

		s.syncFromQueue(ctx, conn)
		conn.Close()
		s.teardown()
	}
}

func (s *Slave) connect(ctx context.Context) (Conn, bool) {
	s.setState(StateConnecting)
	var conn Conn
	op := func() error {
		c, err := s.engine.transport.Dial(ctx, s.cfg.Addr, config.ConnectTimeout)
		if err != nil {
			return err
		}
		conn = c
		return nil
	}
	bo := backoff.WithContext(newFixedSchedule(config.ConnectBackoff), ctx)
	if err := backoff.Retry(op, bo); err != nil {
		return nil, false
	}
	return conn, true
}

func (s *Slave) joinHandshake(conn Conn) (JoinSlaveResp, bool) {
	s.setState(StateWaitingJoinResp)
	req := JoinSlaveReq{
		ClusterID:     s.engine.clusterID,
		ServerID:      s.engine.serverID,
		TaskBufferLen: uint32(s.engine.taskBufferBytes),
		ReplicaKey:    s.cfg.ReplicaKey,
	}
	if err := conn.SendJoinSlaveReq(req); err != nil {
		s.log.WithError(err).Warn("sending join request failed")
		return JoinSlaveResp{}, false
	}
	resp, err := conn.RecvJoinSlaveResp(config.NetworkTimeout)
	if err != nil {
		s.log.WithError(err).Warn("receiving join response failed")
		return JoinSlaveResp{}, false
	}
	if resp.MasterInconsistent {
		s.log.Warn("slave reports master inconsistency, backing off")
		return resp, false
	}
	return resp, true
}

// syncFromDisk streams from the slave's resume hint until the disk
// reader catches up to the live tail, returning the last
// data_version it pushed.
func (s *Slave) syncFromDisk(ctx context.Context, conn Conn, joinResp JoinSlaveResp) (uint64, bool) {
	s.setState(StateSyncFromDisk)

	reader := binlog.NewDiskReader(s.engine.binlogDir, joinResp.BinlogIndex, int64(joinResp.Offset), s.engine.taskBufferBytes, 1)
	results := reader.Start(ctx)

	var lastDV uint64
	for res := range results {
		if res.Err != nil {
			if fdirerr.Is(res.Err, fdirerr.ENOENT) {
				// Caught up to the live tail.
				return lastDV, true
			}
			s.log.WithError(res.Err).Warn("disk reader failed")
			return lastDV, false
		}

		if err := conn.SendPushBinlogReq(PushBinlogReq{LastDataVersion: res.LastDataVersion, Bytes: res.Bytes}); err != nil {
			s.log.WithError(err).Warn("sending push-binlog request failed")
			return lastDV, false
		}
		ack, err := conn.RecvPushBinlogResp(config.NetworkTimeout)
		if err != nil {
			s.log.WithError(err).Warn("receiving push-binlog ack failed")
			return lastDV, false
		}
		for _, a := range ack.Acks {
			if a.ErrNo != 0 {
				s.log.WithField("data_version", a.DataVersion).WithField("errno", a.ErrNo).Warn("slave rejected disk-catch-up record")
				return lastDV, false
			}
		}
		lastDV = res.LastDataVersion
	}
	return lastDV, true
}

// syncFromQueue drains the per-slave live queue into PushBinlogReq
// frames until the connection is torn down or a record is rejected.
// A rejection causes the caller to reconnect, which re-enters disk
// catch-up from the slave's own last-acked position on the next join
// handshake.
func (s *Slave) syncFromQueue(ctx context.Context, conn Conn) {
	for ctx.Err() == nil {
		bufs := s.queue.DrainUpTo(s.engine.taskBufferBytes)
		if len(bufs) == 0 {
			select {
			case <-ctx.Done():
				return
			case <-time.After(50 * time.Millisecond):
				continue
			}
		}

		var body []byte
		var lastDV uint64
		for _, rb := range bufs {
			body = append(body, rb.Packed...)
			lastDV = rb.DataVersion
			s.ring.Insert(&PendingTask{DataVersion: rb.DataVersion})
		}

		if err := conn.SendPushBinlogReq(PushBinlogReq{LastDataVersion: lastDV, Bytes: body}); err != nil {
			s.log.WithError(err).Warn("sending live push-binlog request failed")
			return
		}
		ack, err := conn.RecvPushBinlogResp(config.NetworkTimeout)
		if err != nil {
			s.log.WithError(err).Warn("receiving live push-binlog ack failed")
			return
		}

		failed := false
		for _, a := range ack.Acks {
			pt, ok := s.ring.Resolve(a.DataVersion)
			if !ok {
				continue
			}
			if a.ErrNo != 0 {
				failed = true
				if pt.Notify != nil {
					pt.Notify(pt.TaskVersion, fdirerr.New(fdirerr.Code(a.ErrNo), "slave rejected data_version %d", a.DataVersion))
				}
				continue
			}
			if pt.Notify != nil {
				pt.Notify(pt.TaskVersion, nil)
			}
		}
		if len(bufs) > 0 {
			for _, rb := range bufs {
				rb.Release()
			}
		}
		if failed {
			return
		}
	}
}

// teardown clears the push-result ring, failing every pending task,
// and flips status to OFFLINE.
func (s *Slave) teardown() {
	for _, pt := range s.ring.Clear() {
		if pt.Notify != nil {
			pt.Notify(pt.TaskVersion, fdirerr.New(fdirerr.ETIMEDOUT, "replication link torn down before ack"))
		}
	}
	s.setState(StateNone)
	s.setStatus(clusterinfo.StatusOffline)
}
