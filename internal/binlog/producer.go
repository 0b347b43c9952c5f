package binlog

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"

	"github.com/gofrs/flock"

	"github.com/yechoo0321/fdircore/internal/fdirerr"
)

// RecordBuffer is a reference-counted packed record shared by every
// slave queue it is fanned out to. Go's GC frees the backing array once every reference
// is dropped; refcount exists to let callers track "has every slave
// consumed this" for flow-control and logging purposes, not to avoid
// a use-after-free.
type RecordBuffer struct {
	DataVersion uint64
	Packed      []byte

	refcount atomic.Int32
}

// Retain increments the buffer's live-reference count; call once per
// slave queue it is enqueued onto.
func (b *RecordBuffer) Retain() { b.refcount.Add(1) }

// Release decrements the reference count, returning the count after
// the decrement.
func (b *RecordBuffer) Release() int32 { return b.refcount.Add(-1) }

// SlaveQueue is one slave's pending-replication FIFO of RecordBuffers.
type SlaveQueue struct {
	mu  sync.Mutex
	buf []*RecordBuffer
}

// NewSlaveQueue returns an empty queue.
func NewSlaveQueue() *SlaveQueue { return &SlaveQueue{} }

// Push appends rb to the tail of the queue.
func (q *SlaveQueue) Push(rb *RecordBuffer) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.buf = append(q.buf, rb)
}

// Len reports the number of buffered, unsent records.
func (q *SlaveQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.buf)
}

// PeekHighestDataVersion returns the DataVersion of the last buffered
// entry, or 0 if the queue is empty.
func (q *SlaveQueue) PeekHighestDataVersion() uint64 {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.buf) == 0 {
		return 0
	}
	return q.buf[len(q.buf)-1].DataVersion
}

// DiscardUpTo drops every leading entry with DataVersion <= dv,
// used once a slave's disk catch-up has already covered them.
func (q *SlaveQueue) DiscardUpTo(dv uint64) {
	q.mu.Lock()
	defer q.mu.Unlock()
	i := 0
	for ; i < len(q.buf); i++ {
		if q.buf[i].DataVersion > dv {
			break
		}
	}
	q.buf = q.buf[i:]
}

// DrainUpTo removes buffers from the head of the queue until adding
// the next one would exceed maxBytes, returning the drained slice.
// It always drains at least one buffer so a single oversized record
// still makes progress.
func (q *SlaveQueue) DrainUpTo(maxBytes int) []*RecordBuffer {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.buf) == 0 {
		return nil
	}
	total := 0
	i := 0
	for ; i < len(q.buf); i++ {
		next := total + len(q.buf[i].Packed)
		if i > 0 && next > maxBytes {
			break
		}
		total = next
	}
	out := q.buf[:i]
	q.buf = q.buf[i:]
	return out
}

// Producer owns the append-only on-disk binlog and fans every
// accepted record out to the disk and to each live slave's queue.
// The active segment file is protected by an OS-level advisory lock
// (gofrs/flock) so only one producer instance on this node can hold
// it for writing at a time.
type Producer struct {
	dir        string
	rotateSize int64

	mu      sync.Mutex
	lock    *flock.Flock
	file    *os.File
	index   uint32
	size    int64

	slavesMu sync.Mutex
	slaves   map[string]*SlaveQueue
}

// NewProducer opens (creating if necessary) the binlog directory dir,
// acquires the active segment's advisory lock, and positions the
// writer at the current file's end.
func NewProducer(dir string, rotateSize int64) (*Producer, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("binlog: creating dir %q: %w", dir, err)
	}
	p := &Producer{
		dir:        dir,
		rotateSize: rotateSize,
		slaves:     make(map[string]*SlaveQueue),
	}
	if err := p.openSegment(0); err != nil {
		return nil, err
	}
	return p, nil
}

func segmentPath(dir string, index uint32) string {
	return filepath.Join(dir, fmt.Sprintf("binlog.%06d", index))
}

func (p *Producer) openSegment(index uint32) error {
	path := segmentPath(p.dir, index)
	lock := flock.New(path + ".lock")
	locked, err := lock.TryLock()
	if err != nil {
		return fmt.Errorf("binlog: locking %q: %w", path, err)
	}
	if !locked {
		return fdirerr.New(fdirerr.EBUSY, "binlog: segment %q already locked by another writer", path)
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		lock.Unlock()
		return fmt.Errorf("binlog: opening %q: %w", path, err)
	}
	st, err := f.Stat()
	if err != nil {
		f.Close()
		lock.Unlock()
		return fmt.Errorf("binlog: stat %q: %w", path, err)
	}
	if p.file != nil {
		p.file.Close()
	}
	if p.lock != nil {
		p.lock.Unlock()
	}
	p.lock = lock
	p.file = f
	p.index = index
	p.size = st.Size()
	return nil
}

// RegisterSlave returns a fresh queue for slaveID, replacing any
// previous one (e.g. after a reconnect).
func (p *Producer) RegisterSlave(slaveID string) *SlaveQueue {
	p.slavesMu.Lock()
	defer p.slavesMu.Unlock()
	q := NewSlaveQueue()
	p.slaves[slaveID] = q
	return q
}

// UnregisterSlave discards slaveID's queue.
func (p *Producer) UnregisterSlave(slaveID string) {
	p.slavesMu.Lock()
	defer p.slavesMu.Unlock()
	delete(p.slaves, slaveID)
}

// Position reports where the next Append will land, the resume point
// a freshly-joined slave hint is compared against.
func (p *Producer) Position() (index uint32, offset int64) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.index, p.size
}

// Append packs rec, writes it to the tail of the active segment
// (rotating first if that would exceed rotateSize), and fans the
// resulting RecordBuffer out to every registered slave queue.
func (p *Producer) Append(rec *Record) (*RecordBuffer, error) {
	packed, err := Pack(rec)
	if err != nil {
		return nil, err
	}

	p.mu.Lock()
	if p.rotateSize > 0 && p.size+int64(len(packed)) > p.rotateSize {
		if err := p.openSegment(p.index + 1); err != nil {
			p.mu.Unlock()
			return nil, err
		}
	}
	if _, err := p.file.Write(packed); err != nil {
		p.mu.Unlock()
		return nil, fmt.Errorf("binlog: writing record: %w", err)
	}
	if err := p.file.Sync(); err != nil {
		p.mu.Unlock()
		return nil, fmt.Errorf("binlog: fsync: %w", err)
	}
	p.size += int64(len(packed))
	p.mu.Unlock()

	rb := &RecordBuffer{DataVersion: rec.DataVersion, Packed: packed}

	p.slavesMu.Lock()
	for _, q := range p.slaves {
		rb.Retain()
		q.Push(rb)
	}
	p.slavesMu.Unlock()

	return rb, nil
}

// Close releases the active segment's advisory lock and closes its
// file handle.
func (p *Producer) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	var err error
	if p.file != nil {
		err = p.file.Close()
	}
	if p.lock != nil {
		p.lock.Unlock()
	}
	return err
}
