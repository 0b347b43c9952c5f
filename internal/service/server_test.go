package service

import (
	"testing"
	"time"

	"github.com/yechoo0321/fdircore/internal/binlog"
	"github.com/yechoo0321/fdircore/internal/datathread"
	"github.com/yechoo0321/fdircore/internal/dentry"
	"github.com/yechoo0321/fdircore/internal/fdirctx"
	"github.com/yechoo0321/fdircore/internal/fdirerr"
	"github.com/yechoo0321/fdircore/internal/lockstate"
	"github.com/yechoo0321/fdircore/internal/wire"
)

func newRunningPool(t *testing.T, ctx *fdirctx.Context) *datathread.Pool {
	t.Helper()
	pool := datathread.NewPool(ctx, 2)
	pool.Start()
	t.Cleanup(pool.Stop)
	return pool
}

func newTestServer(t *testing.T, master bool) *Server {
	t.Helper()
	ctx := fdirctx.New(1, nil)
	ctx.SetMaster(master)
	pool := newRunningPool(t, ctx)
	producer, err := binlog.NewProducer(t.TempDir(), 0)
	if err != nil {
		t.Fatalf("NewProducer: %v", err)
	}
	t.Cleanup(func() { producer.Close() })
	return NewServer(ctx, pool, producer, nil)
}

func createRoot(t *testing.T, s *Server, ns string) {
	t.Helper()
	req := CreateDentryByPathReq{Namespace: ns, Path: "/", Mode: uint32(dentry.ModeDir | 0755)}
	_, _, err := s.Dispatch(wire.CmdCreateDentryByPathReq, req.Encode())
	if err != nil {
		t.Fatalf("creating root: %v", err)
	}
}

func TestDispatchActiveTest(t *testing.T) {
	s := newTestServer(t, true)
	cmd, body, err := s.Dispatch(wire.CmdActiveTestReq, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cmd != wire.CmdActiveTestResp || len(body) != 0 {
		t.Fatalf("got (%v, %v)", cmd, body)
	}
}

func TestDispatchCreateRequiresMaster(t *testing.T) {
	s := newTestServer(t, false)
	req := CreateDentryByPathReq{Namespace: "ns1", Path: "/", Mode: uint32(dentry.ModeDir)}
	_, _, err := s.Dispatch(wire.CmdCreateDentryByPathReq, req.Encode())
	if !fdirerr.Is(err, fdirerr.EINVAL) {
		t.Fatalf("expected EINVAL (not master), got %v", err)
	}
}

func TestDispatchCreateAndStatByPath(t *testing.T) {
	s := newTestServer(t, true)
	createRoot(t, s, "ns1")

	req := CreateDentryByPathReq{Namespace: "ns1", Path: "/a", Mode: uint32(dentry.ModeRegular | 0644), UID: 10, GID: 20}
	cmd, body, err := s.Dispatch(wire.CmdCreateDentryByPathReq, req.Encode())
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if cmd != wire.CmdCreateDentryByPathResp {
		t.Fatalf("unexpected cmd %v", cmd)
	}
	created, err := DecodeDentryResp(body)
	if err != nil {
		t.Fatalf("decode create resp: %v", err)
	}
	if created.Stat.UID != 10 || created.Stat.GID != 20 {
		t.Fatalf("unexpected stat %+v", created.Stat)
	}

	statReq := StatByPathReq{Namespace: "ns1", Path: "/a"}
	_, statBody, err := s.Dispatch(wire.CmdStatByPathReq, statReq.Encode())
	if err != nil {
		t.Fatalf("stat: %v", err)
	}
	statResp, err := DecodeDentryResp(statBody)
	if err != nil {
		t.Fatalf("decode stat resp: %v", err)
	}
	if statResp.Stat.Inode != created.Stat.Inode {
		t.Fatalf("inode mismatch: %d != %d", statResp.Stat.Inode, created.Stat.Inode)
	}
}

func TestDispatchRemoveDentry(t *testing.T) {
	s := newTestServer(t, true)
	createRoot(t, s, "ns1")
	createReq := CreateDentryByPathReq{Namespace: "ns1", Path: "/a", Mode: uint32(dentry.ModeRegular)}
	if _, _, err := s.Dispatch(wire.CmdCreateDentryByPathReq, createReq.Encode()); err != nil {
		t.Fatalf("create: %v", err)
	}

	removeReq := RemoveDentryReq{Namespace: "ns1", Path: "/a"}
	if _, _, err := s.Dispatch(wire.CmdRemoveDentryReq, removeReq.Encode()); err != nil {
		t.Fatalf("remove: %v", err)
	}

	statReq := StatByPathReq{Namespace: "ns1", Path: "/a"}
	if _, _, err := s.Dispatch(wire.CmdStatByPathReq, statReq.Encode()); !fdirerr.Is(err, fdirerr.ENOENT) {
		t.Fatalf("expected ENOENT after remove, got %v", err)
	}
}

func TestDispatchListDentryPagination(t *testing.T) {
	s := newTestServer(t, true)
	createRoot(t, s, "ns1")
	for _, name := range []string{"a", "b", "c", "d", "e"} {
		req := CreateDentryByPathReq{Namespace: "ns1", Path: "/" + name, Mode: uint32(dentry.ModeRegular)}
		if _, _, err := s.Dispatch(wire.CmdCreateDentryByPathReq, req.Encode()); err != nil {
			t.Fatalf("create %q: %v", name, err)
		}
	}

	firstReq := ListDentryFirstReq{Namespace: "ns1", Path: "/", BatchSize: 2}
	_, body, err := s.Dispatch(wire.CmdListDentryFirstReq, firstReq.Encode())
	if err != nil {
		t.Fatalf("list first: %v", err)
	}
	resp, err := DecodeListDentryResp(body)
	if err != nil {
		t.Fatalf("decode list resp: %v", err)
	}
	if len(resp.Entries) != 2 || resp.Token == 0 {
		t.Fatalf("unexpected first batch %+v", resp)
	}

	seen := len(resp.Entries)
	token := resp.Token
	for token != 0 {
		nextReq := ListDentryNextReq{Token: token, BatchSize: 2}
		_, body, err := s.Dispatch(wire.CmdListDentryNextReq, nextReq.Encode())
		if err != nil {
			t.Fatalf("list next: %v", err)
		}
		resp, err := DecodeListDentryResp(body)
		if err != nil {
			t.Fatalf("decode list next resp: %v", err)
		}
		seen += len(resp.Entries)
		token = resp.Token
	}
	if seen != 5 {
		t.Fatalf("expected 5 total entries, saw %d", seen)
	}
}

func TestDispatchListDentryNextUnknownToken(t *testing.T) {
	s := newTestServer(t, true)
	req := ListDentryNextReq{Token: 999, BatchSize: 10}
	if _, _, err := s.Dispatch(wire.CmdListDentryNextReq, req.Encode()); !fdirerr.Is(err, fdirerr.ENOENT) {
		t.Fatalf("expected ENOENT, got %v", err)
	}
}

func TestCursorSweepExpiresIdleListings(t *testing.T) {
	c := newCursorCache(10 * time.Millisecond)
	token := c.store([]*dentry.Dentry{{Inode: 1}, {Inode: 2}})
	if token == 0 {
		t.Fatal("expected non-zero token")
	}
	time.Sleep(20 * time.Millisecond)
	if n := c.sweep(time.Now()); n != 1 {
		t.Fatalf("expected 1 expired cursor, got %d", n)
	}
	if _, _, ok := c.take(token, 1); ok {
		t.Fatal("expected cursor to be gone after sweep")
	}
}

func TestDispatchSetDentrySize(t *testing.T) {
	s := newTestServer(t, true)
	createRoot(t, s, "ns1")
	createReq := CreateDentryByPathReq{Namespace: "ns1", Path: "/f", Mode: uint32(dentry.ModeRegular)}
	_, body, err := s.Dispatch(wire.CmdCreateDentryByPathReq, createReq.Encode())
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	created, _ := DecodeDentryResp(body)

	sizeReq := SetDentrySizeReq{Inode: created.Stat.Inode, NewSize: 4096, Force: false}
	_, sizeBody, err := s.Dispatch(wire.CmdSetDentrySizeReq, sizeReq.Encode())
	if err != nil {
		t.Fatalf("set size: %v", err)
	}
	sizeResp, err := DecodeSetDentrySizeResp(sizeBody)
	if err != nil {
		t.Fatalf("decode set size resp: %v", err)
	}
	if sizeResp.Size != 4096 {
		t.Fatalf("expected size 4096, got %d", sizeResp.Size)
	}
	if sizeResp.ModifiedFields&uint64(dentry.StatFieldSize) == 0 {
		t.Fatalf("expected size field flagged modified")
	}
}

func TestDispatchFlockNonBlockingConflict(t *testing.T) {
	s := newTestServer(t, true)
	createRoot(t, s, "ns1")
	createReq := CreateDentryByPathReq{Namespace: "ns1", Path: "/f", Mode: uint32(dentry.ModeRegular)}
	_, body, err := s.Dispatch(wire.CmdCreateDentryByPathReq, createReq.Encode())
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	created, _ := DecodeDentryResp(body)

	req1 := FlockReq{Inode: created.Stat.Inode, Owner: lockstate.Owner{Tid: 1}, Exclusive: true, Length: 10, NonBlocking: true}
	if _, _, err := s.Dispatch(wire.CmdFlockReq, req1.Encode()); err != nil {
		t.Fatalf("first flock: %v", err)
	}

	req2 := FlockReq{Inode: created.Stat.Inode, Owner: lockstate.Owner{Tid: 2}, Exclusive: true, Length: 10, NonBlocking: true}
	if _, _, err := s.Dispatch(wire.CmdFlockReq, req2.Encode()); !fdirerr.Is(err, fdirerr.ENOLCK) {
		t.Fatalf("expected ENOLCK on conflicting non-blocking flock, got %v", err)
	}
}

func TestHandleFlockBlockingReturnsWaiter(t *testing.T) {
	s := newTestServer(t, true)
	createRoot(t, s, "ns1")
	createReq := CreateDentryByPathReq{Namespace: "ns1", Path: "/f", Mode: uint32(dentry.ModeRegular)}
	_, body, err := s.Dispatch(wire.CmdCreateDentryByPathReq, createReq.Encode())
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	created, _ := DecodeDentryResp(body)

	req1 := FlockReq{Inode: created.Stat.Inode, Owner: lockstate.Owner{Tid: 1}, Exclusive: true, Length: 10, NonBlocking: true}
	if _, _, err := s.Dispatch(wire.CmdFlockReq, req1.Encode()); err != nil {
		t.Fatalf("first flock: %v", err)
	}

	req2 := FlockReq{Inode: created.Stat.Inode, Owner: lockstate.Owner{Tid: 2}, Exclusive: true, Length: 10, NonBlocking: false}
	resp, waiter, err := s.HandleFlock(req2.Encode())
	if err != nil {
		t.Fatalf("blocking flock: %v", err)
	}
	if !resp.Continue || waiter == nil {
		t.Fatalf("expected a continuation waiter, got resp=%+v waiter=%v", resp, waiter)
	}

	if err := s.ctx.Inodes.Unlock(created.Stat.Inode, lockstate.Owner{Tid: 1}, 0, 10); err != nil {
		t.Fatalf("unlock: %v", err)
	}
	select {
	case <-waiter.Done:
	case <-time.After(time.Second):
		t.Fatal("waiter was never granted after conflicting lock released")
	}
}

func TestDispatchClusterStats(t *testing.T) {
	s := newTestServer(t, true)
	_, body, err := s.Dispatch(wire.CmdClusterStatsReq, nil)
	if err != nil {
		t.Fatalf("cluster stats: %v", err)
	}
	resp, err := DecodeClusterStatsResp(body)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if !resp.IsMaster {
		t.Fatalf("expected IsMaster true")
	}
}

func TestDispatchUnknownCommand(t *testing.T) {
	s := newTestServer(t, true)
	if _, _, err := s.Dispatch(wire.Cmd(250), nil); !fdirerr.Is(err, fdirerr.EINVAL) {
		t.Fatalf("expected EINVAL for unknown command, got %v", err)
	}
}
