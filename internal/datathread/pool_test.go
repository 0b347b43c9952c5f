package datathread

import (
	"sync"
	"testing"
	"time"

	"github.com/yechoo0321/fdircore/internal/binlog"
	"github.com/yechoo0321/fdircore/internal/fdirctx"
)

func newTestPool(n int) *Pool {
	ctx := fdirctx.New(1, nil)
	p := NewPool(ctx, n)
	p.Start()
	return p
}

func TestPoolAssignsMonotonicDataVersion(t *testing.T) {
	p := newTestPool(2)
	defer p.Stop()

	const n = 50
	var mu sync.Mutex
	var seen []uint64
	var wg sync.WaitGroup
	wg.Add(n)
	for i := 0; i < n; i++ {
		p.Submit(&Task{
			HashCode: HashNamespace("nsA"),
			Apply: func(ctx *fdirctx.Context) (*binlog.Record, error) {
				return &binlog.Record{Op: binlog.OpCreate}, nil
			},
			Notify: func(err error, rec *binlog.Record) {
				defer wg.Done()
				if err != nil {
					t.Errorf("unexpected apply error: %v", err)
					return
				}
				mu.Lock()
				seen = append(seen, rec.DataVersion)
				mu.Unlock()
			},
		})
	}
	wg.Wait()

	if len(seen) != n {
		t.Fatalf("got %d notifications, want %d", len(seen), n)
	}
	for i := 1; i < len(seen); i++ {
		if seen[i] <= seen[i-1] {
			t.Fatalf("data_version not monotonic for same namespace: %v", seen)
		}
	}
}

func TestPoolSameNamespaceAlwaysSameWorker(t *testing.T) {
	p := newTestPool(8)
	defer p.Stop()

	hc := HashNamespace("nsB")
	first := int(hc % uint32(p.N()))

	const n = 20
	var wg sync.WaitGroup
	wg.Add(n)
	workerIDs := make(chan int, n)
	for i := 0; i < n; i++ {
		p.Submit(&Task{
			HashCode: hc,
			Apply: func(ctx *fdirctx.Context) (*binlog.Record, error) {
				return &binlog.Record{Op: binlog.OpCreate}, nil
			},
			Notify: func(err error, rec *binlog.Record) {
				defer wg.Done()
				workerIDs <- int(hc % uint32(p.N()))
			},
		})
	}
	wg.Wait()
	close(workerIDs)
	for id := range workerIDs {
		if id != first {
			t.Fatalf("namespace routed to worker %d, want %d", id, first)
		}
	}
}

func TestReplaySkipsAlreadyAppliedRecords(t *testing.T) {
	ctx := fdirctx.New(1, nil)
	p := NewPool(ctx, 2)
	p.Start()
	defer p.Stop()

	ctx.ObserveDataVersion(5)

	recs := []*binlog.Record{
		{DataVersion: 3, HashCode: HashNamespace("ns")},
		{DataVersion: 4, HashCode: HashNamespace("ns")},
		{DataVersion: 6, HashCode: HashNamespace("ns")},
	}
	barrier := NewReplayBarrier(len(recs))
	var applied []uint64
	var mu sync.Mutex
	for _, rec := range recs {
		p.ReplayRecord(rec, func(ctx *fdirctx.Context) (*binlog.Record, error) {
			mu.Lock()
			applied = append(applied, rec.DataVersion)
			mu.Unlock()
			return rec, nil
		}, barrier)
	}

	done := make(chan int, 1)
	go func() { done <- barrier.Wait() }()

	select {
	case skipCount := <-done:
		if skipCount != 2 {
			t.Fatalf("skipCount = %d, want 2", skipCount)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("barrier.Wait() did not return in time")
	}

	mu.Lock()
	defer mu.Unlock()
	if len(applied) != 1 || applied[0] != 6 {
		t.Fatalf("applied = %v, want only dv=6", applied)
	}
}
