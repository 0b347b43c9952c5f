package replication

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/yechoo0321/fdircore/internal/binlog"
	"github.com/yechoo0321/fdircore/internal/clusterinfo"
)

// fakeConn hands back a canned join response and acks every push with
// no errors, recording everything it was sent.
type fakeConn struct {
	mu        sync.Mutex
	joinResp  JoinSlaveResp
	pushed    []PushBinlogReq
	ackErrors map[uint64]uint32
	closed    bool
}

func (c *fakeConn) SendJoinSlaveReq(JoinSlaveReq) error { return nil }

func (c *fakeConn) RecvJoinSlaveResp(time.Duration) (JoinSlaveResp, error) {
	return c.joinResp, nil
}

func (c *fakeConn) SendPushBinlogReq(req PushBinlogReq) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.pushed = append(c.pushed, req)
	return nil
}

func (c *fakeConn) RecvPushBinlogResp(time.Duration) (PushBinlogResp, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.pushed) == 0 {
		return PushBinlogResp{}, errors.New("no pending push")
	}
	last := c.pushed[len(c.pushed)-1]
	rec, _, err := binlog.Unpack(last.Bytes)
	dv := last.LastDataVersion
	if err == nil && rec != nil {
		dv = rec.DataVersion
	}
	errno := c.ackErrors[dv]
	return PushBinlogResp{Acks: []PushAck{{DataVersion: dv, ErrNo: errno}}}, nil
}

func (c *fakeConn) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
	return nil
}

type fakeTransport struct {
	conn Conn
	err  error
}

func (t *fakeTransport) Dial(ctx context.Context, addr string, timeout time.Duration) (Conn, error) {
	if t.err != nil {
		return nil, t.err
	}
	return t.conn, nil
}

func newTestEngine(t *testing.T, conn Conn, transport Transport) (*Engine, string) {
	t.Helper()
	dir := t.TempDir()
	producer, err := binlog.NewProducer(dir, 0)
	if err != nil {
		t.Fatalf("NewProducer: %v", err)
	}
	t.Cleanup(func() { producer.Close() })
	log := logrus.NewEntry(logrus.New())
	return NewEngine(1, 1, dir, 1<<20, producer, transport, log), dir
}

func TestSlaveRunReachesActiveWithEmptyDisk(t *testing.T) {
	conn := &fakeConn{joinResp: JoinSlaveResp{BinlogIndex: 0, Offset: 0}}
	engine, _ := newTestEngine(t, conn, &fakeTransport{conn: conn})
	slave := engine.AddSlave(SlaveConfig{ServerID: 2, Addr: "slave:1"})

	ctx, cancel := context.WithCancel(context.Background())
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		slave.Run(ctx)
	}()

	deadline := time.After(2 * time.Second)
	for slave.Status() != clusterinfo.StatusActive {
		select {
		case <-deadline:
			cancel()
			wg.Wait()
			t.Fatalf("slave never reached ACTIVE, stuck in %v/%v", slave.State(), slave.Status())
		case <-time.After(10 * time.Millisecond):
		}
	}

	cancel()
	wg.Wait()
}

func TestSlaveRunRejectsOnMasterInconsistent(t *testing.T) {
	conn := &fakeConn{joinResp: JoinSlaveResp{MasterInconsistent: true}}
	engine, _ := newTestEngine(t, conn, &fakeTransport{conn: conn})
	slave := engine.AddSlave(SlaveConfig{ServerID: 3, Addr: "slave:1"})

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()
	slave.Run(ctx)

	if slave.Status() == clusterinfo.StatusActive {
		t.Fatal("slave should not reach ACTIVE when master is inconsistent")
	}
}

func TestSlaveSyncFromQueuePushesLiveRecords(t *testing.T) {
	conn := &fakeConn{joinResp: JoinSlaveResp{BinlogIndex: 0, Offset: 0}}
	engine, _ := newTestEngine(t, conn, &fakeTransport{conn: conn})
	slave := engine.AddSlave(SlaveConfig{ServerID: 4, Addr: "slave:1"})

	ctx, cancel := context.WithCancel(context.Background())
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		slave.Run(ctx)
	}()

	for slave.Status() != clusterinfo.StatusActive {
		time.Sleep(5 * time.Millisecond)
	}

	rec := &binlog.Record{DataVersion: 11, Op: binlog.OpCreate, Timestamp: 1, HashCode: 1}
	rec.SetFullname("default", "/live.txt")
	if _, err := engine.producer.Append(rec); err != nil {
		t.Fatalf("Append: %v", err)
	}

	deadline := time.After(2 * time.Second)
	for {
		conn.mu.Lock()
		n := len(conn.pushed)
		conn.mu.Unlock()
		if n > 0 {
			break
		}
		select {
		case <-deadline:
			cancel()
			wg.Wait()
			t.Fatal("live record was never pushed to slave")
		case <-time.After(10 * time.Millisecond):
		}
	}

	cancel()
	wg.Wait()
}

func TestFixedScheduleCapsAtLastEntry(t *testing.T) {
	schedule := []time.Duration{1 * time.Second, 2 * time.Second, 4 * time.Second}
	f := newFixedSchedule(schedule)
	got := []time.Duration{f.NextBackOff(), f.NextBackOff(), f.NextBackOff(), f.NextBackOff()}
	want := []time.Duration{1 * time.Second, 2 * time.Second, 4 * time.Second, 4 * time.Second}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("NextBackOff()[%d] = %v, want %v", i, got[i], want[i])
		}
	}
	f.Reset()
	if got := f.NextBackOff(); got != 1*time.Second {
		t.Fatalf("after Reset NextBackOff() = %v, want 1s", got)
	}
}

func TestPushResultRingResolveAndClear(t *testing.T) {
	ring := NewPushResultRing(0)
	var notified []uint64
	for _, dv := range []uint64{10, 11, 12} {
		dv := dv
		if err := ring.Insert(&PendingTask{DataVersion: dv, Notify: func(tv uint64, err error) {
			notified = append(notified, dv)
		}}); err != nil {
			t.Fatalf("Insert(%d): %v", dv, err)
		}
	}

	if _, ok := ring.Resolve(11); !ok {
		t.Fatal("Resolve(11) should find the entry")
	}
	if ring.Len() != 2 {
		t.Fatalf("Len() = %d, want 2", ring.Len())
	}

	cleared := ring.Clear()
	if len(cleared) != 2 {
		t.Fatalf("Clear() returned %d entries, want 2", len(cleared))
	}
	if ring.Len() != 0 {
		t.Fatal("ring should be empty after Clear")
	}
}

func TestPushResultRingCapacityExhausted(t *testing.T) {
	ring := NewPushResultRing(1)
	if err := ring.Insert(&PendingTask{DataVersion: 1}); err != nil {
		t.Fatalf("first Insert: %v", err)
	}
	if err := ring.Insert(&PendingTask{DataVersion: 2}); err == nil {
		t.Fatal("expected EBUSY once ring is at capacity")
	}
}
