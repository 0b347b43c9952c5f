package datathread

import (
	"sync"

	"github.com/yechoo0321/fdircore/internal/binlog"
)

// ReplayBarrier blocks until every record in a replay batch has been
// applied or skipped, using a waiting count guarded by a
// mutex/condition-variable.
type ReplayBarrier struct {
	mu      sync.Mutex
	cond    *sync.Cond
	waiting int

	skipCount int
}

// NewReplayBarrier returns a barrier expecting n outstanding records.
func NewReplayBarrier(n int) *ReplayBarrier {
	b := &ReplayBarrier{waiting: n}
	b.cond = sync.NewCond(&b.mu)
	return b
}

// done decrements the outstanding count, incrementing skipCount if
// the record was already applied, and wakes Wait if the batch just
// completed.
func (b *ReplayBarrier) done(skipped bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if skipped {
		b.skipCount++
	}
	b.waiting--
	if b.waiting <= 0 {
		b.cond.Broadcast()
	}
}

// Wait blocks until every record submitted against this barrier has
// completed, returning the count skipped because their data_version
// was already applied.
func (b *ReplayBarrier) Wait() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	for b.waiting > 0 {
		b.cond.Wait()
	}
	return b.skipCount
}

// ReplayRecord submits one previously-packed binlog record into the
// pool for replay, decrementing barrier when it completes.
func (p *Pool) ReplayRecord(rec *binlog.Record, apply Apply, barrier *ReplayBarrier) {
	task := &Task{
		HashCode:    rec.HashCode,
		DataVersion: rec.DataVersion,
		Apply:       apply,
		Notify: func(err error, applied *binlog.Record) {
			barrier.done(applied == nil && err == nil)
		},
	}
	p.Submit(task)
}

// ReplayStream unpacks every record in buf in order and submits each
// for replay, returning the barrier the caller should Wait on.
func (p *Pool) ReplayStream(buf []byte, applyFor func(rec *binlog.Record) Apply) (*ReplayBarrier, error) {
	var recs []*binlog.Record
	for pos := 0; pos < len(buf); {
		rec, end, err := binlog.Unpack(buf[pos:])
		if err != nil {
			return nil, err
		}
		recs = append(recs, rec)
		pos += end
	}
	barrier := NewReplayBarrier(len(recs))
	for _, rec := range recs {
		p.ReplayRecord(rec, applyFor(rec), barrier)
	}
	return barrier, nil
}
