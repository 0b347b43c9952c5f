// Package datathread implements the sharded apply pipeline: DATA_THREAD_COUNT workers, each serving a FIFO
// of tasks for the namespaces hashed to it, assigning data_version on
// the master path and skipping already-applied records on the replay
// path.
package datathread

import (
	"hash/fnv"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/yechoo0321/fdircore/internal/binlog"
	"github.com/yechoo0321/fdircore/internal/fdirctx"
)

// HashNamespace computes the routing hash_code for a namespace name.
func HashNamespace(ns string) uint32 {
	h := fnv.New32a()
	h.Write([]byte(ns))
	return h.Sum32()
}

// Apply performs one mutation's in-memory effect (against C2/C3) and
// returns the binlog record describing it. On the master path its
// DataVersion field is ignored and overwritten by the owning worker;
// on the replay path the worker has already range-checked DataVersion
// before calling Apply.
type Apply func(ctx *fdirctx.Context) (*binlog.Record, error)

// Notify is invoked by the owning worker once a Task has been applied
// (or skipped). err is the Apply error, if any; rec is nil if the
// task was skipped as already-applied during replay.
type Notify func(err error, rec *binlog.Record)

// Task is one unit of work submitted to the pool.
type Task struct {
	// HashCode routes the task to worker HashCode % N.
	HashCode uint32

	// DataVersion is 0 for a master-originated mutation (the worker
	// assigns one); non-zero identifies a replay record, compared
	// against the current counter to detect already-applied records.
	DataVersion uint64

	Apply  Apply
	Notify Notify
}

// Pool is the fixed-size set of data-thread workers.
type Pool struct {
	ctx     *fdirctx.Context
	log     *logrus.Entry
	workers []chan *Task
	stop    chan struct{}
	group   *errgroup.Group
}

// NewPool constructs a Pool of n workers bound to ctx. Call Start to
// begin processing.
func NewPool(ctx *fdirctx.Context, n int) *Pool {
	if n <= 0 {
		n = 1
	}
	p := &Pool{
		ctx:     ctx,
		log:     ctx.Log.WithField("component", "datathread"),
		workers: make([]chan *Task, n),
		stop:    make(chan struct{}),
	}
	for i := range p.workers {
		p.workers[i] = make(chan *Task, 256)
	}
	return p
}

// N reports the worker count (DATA_THREAD_COUNT).
func (p *Pool) N() int { return len(p.workers) }

// Start launches one goroutine per worker, tracked by an errgroup so
// Stop can wait for every worker to actually drain and exit instead of
// merely signaling them.
func (p *Pool) Start() {
	p.group = &errgroup.Group{}
	for i, ch := range p.workers {
		i, ch := i, ch
		p.group.Go(func() error {
			p.runWorker(i, ch)
			return nil
		})
	}
}

// Stop signals every worker goroutine to exit after draining its
// current queue contents, and blocks until they all have.
func (p *Pool) Stop() {
	close(p.stop)
	if p.group != nil {
		p.group.Wait()
	}
}

// Submit routes task to worker (task.HashCode % N), preserving FIFO
// order within the namespace it belongs to.
func (p *Pool) Submit(task *Task) {
	idx := int(task.HashCode % uint32(len(p.workers)))
	p.workers[idx] <- task
}

func (p *Pool) runWorker(id int, queue chan *Task) {
	log := p.log.WithField("worker", id)
	for {
		select {
		case <-p.stop:
			// Drain whatever is already queued before exiting.
			for {
				select {
				case task := <-queue:
					p.process(log, task)
				default:
					return
				}
			}
		case task := <-queue:
			p.process(log, task)
		}
	}
}

func (p *Pool) process(log *logrus.Entry, task *Task) {
	if task.DataVersion != 0 && task.DataVersion <= p.ctx.CurrentDataVersion() {
		// Replay path, already applied.
		if task.Notify != nil {
			task.Notify(nil, nil)
		}
		return
	}

	rec, err := task.Apply(p.ctx)
	if err != nil {
		if task.Notify != nil {
			task.Notify(err, nil)
		}
		return
	}

	if task.DataVersion == 0 {
		rec.DataVersion = p.ctx.NextDataVersion()
	} else {
		rec.DataVersion = task.DataVersion
		p.ctx.ObserveDataVersion(task.DataVersion)
	}

	log.WithField("data_version", rec.DataVersion).Debug("applied record")
	if task.Notify != nil {
		task.Notify(nil, rec)
	}
}
