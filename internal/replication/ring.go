package replication

import (
	"sync"
	"time"

	"github.com/yechoo0321/fdircore/internal/fdirerr"
)

// PendingTask is a client task awaiting replication acknowledgement
// for one data_version.
// TaskVersion guards against a task being released (connection
// closed) before its notification arrives: Notify compares its
// captured version against the caller's current one and no-ops on
// mismatch.
type PendingTask struct {
	DataVersion uint64
	TaskVersion uint64
	Notify      func(taskVersion uint64, err error)
	insertedAt  time.Time
}

// PushResultRing is the bounded FIFO mapping outstanding data_version
// values to pending client tasks.
type PushResultRing struct {
	mu       sync.Mutex
	capacity int
	order    []uint64
	entries  map[uint64]*PendingTask
}

// NewPushResultRing returns an empty ring bounded to capacity
// outstanding entries; a capacity of 0 or less leaves it unbounded.
func NewPushResultRing(capacity int) *PushResultRing {
	return &PushResultRing{
		capacity: capacity,
		entries:  make(map[uint64]*PendingTask),
	}
}

// Insert records pt, keyed by pt.DataVersion. Returns EBUSY if the
// ring is at capacity.
func (r *PushResultRing) Insert(pt *PendingTask) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.capacity > 0 && len(r.order) >= r.capacity {
		return fdirerr.New(fdirerr.EBUSY, "push-result ring at capacity %d", r.capacity)
	}
	pt.insertedAt = time.Now()
	r.order = append(r.order, pt.DataVersion)
	r.entries[pt.DataVersion] = pt
	return nil
}

// Resolve removes and returns the entry for dv, if any.
func (r *PushResultRing) Resolve(dv uint64) (*PendingTask, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	pt, ok := r.entries[dv]
	if !ok {
		return nil, false
	}
	delete(r.entries, dv)
	r.removeFromOrder(dv)
	return pt, true
}

func (r *PushResultRing) removeFromOrder(dv uint64) {
	for i, v := range r.order {
		if v == dv {
			r.order = append(r.order[:i], r.order[i+1:]...)
			return
		}
	}
}

// HighestDataVersion returns the greatest data_version currently
// outstanding in the ring, or 0 if empty.
func (r *PushResultRing) HighestDataVersion() uint64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	var max uint64
	for _, dv := range r.order {
		if dv > max {
			max = dv
		}
	}
	return max
}

// Len reports the number of outstanding entries.
func (r *PushResultRing) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.order)
}

// Clear drains every entry from the ring and returns them, used on
// tear-down.
func (r *PushResultRing) Clear() []*PendingTask {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]*PendingTask, 0, len(r.order))
	for _, dv := range r.order {
		out = append(out, r.entries[dv])
	}
	r.order = nil
	r.entries = make(map[uint64]*PendingTask)
	return out
}

// SweepExpired removes and returns entries older than maxAge as of
// now.
func (r *PushResultRing) SweepExpired(now time.Time, maxAge time.Duration) []*PendingTask {
	r.mu.Lock()
	defer r.mu.Unlock()
	var expired []*PendingTask
	var kept []uint64
	for _, dv := range r.order {
		pt := r.entries[dv]
		if now.Sub(pt.insertedAt) > maxAge {
			expired = append(expired, pt)
			delete(r.entries, dv)
			continue
		}
		kept = append(kept, dv)
	}
	r.order = kept
	return expired
}
