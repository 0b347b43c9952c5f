package inode

import (
	"github.com/yechoo0321/fdircore/internal/dentry"
	"github.com/yechoo0321/fdircore/internal/fdirerr"
	"github.com/yechoo0321/fdircore/internal/lockstate"
)

// FlockResult is returned by Flock. If Waiter is non-nil, the request
// conflicted and was enqueued; the
// caller should suspend its reply and wait on Waiter.Done.
type FlockResult struct {
	Waiter *lockstate.FlockWaiter
}

// Flock applies a byte-range lock request to ino.
// Non-blocking conflicts return ENOLCK immediately. Blocking
// conflicts return a FlockResult with a non-nil Waiter.
func (t *Table) Flock(ino uint64, owner lockstate.Owner, typ lockstate.LockType, offset, length uint64, nonBlocking bool) (FlockResult, error) {
	var res FlockResult
	err := t.WithLockedDentry(ino, func(d *dentry.Dentry) error {
		le := d.LockEntryForUpdate()
		if !hasConflict(le, owner, typ, offset, length) {
			le.FlockGranted = append(le.FlockGranted, &lockstate.FlockRange{
				Offset: offset, Length: length, Type: typ, Owner: owner,
			})
			return nil
		}
		if nonBlocking {
			return fdirerr.New(fdirerr.ENOLCK, "conflicting lock held on inode %d", ino)
		}
		w := &lockstate.FlockWaiter{Owner: owner, Type: typ, Offset: offset, Length: length, Done: make(chan struct{})}
		le.FlockWaiting = append(le.FlockWaiting, w)
		res.Waiter = w
		return nil
	})
	return res, err
}

func hasConflict(le *lockstate.LockEntry, owner lockstate.Owner, typ lockstate.LockType, offset, length uint64) bool {
	for _, g := range le.FlockGranted {
		if g.Conflicts(owner, typ, offset, length) {
			return true
		}
	}
	return false
}

// GetlkResult reports the outcome of a non-acquiring lock probe.
type GetlkResult struct {
	Conflict bool
	Owner    lockstate.Owner
	Type     lockstate.LockType
	Offset   uint64
	Length   uint64
}

// Getlk probes whether a lock request would conflict, without
// acquiring it.
func (t *Table) Getlk(ino uint64, owner lockstate.Owner, typ lockstate.LockType, offset, length uint64) (GetlkResult, error) {
	var res GetlkResult
	err := t.WithLockedDentry(ino, func(d *dentry.Dentry) error {
		le := d.LockEntryOrNil()
		if le == nil {
			return nil
		}
		for _, g := range le.FlockGranted {
			if g.Conflicts(owner, typ, offset, length) {
				res = GetlkResult{Conflict: true, Owner: g.Owner, Type: g.Type, Offset: g.Offset, Length: g.Length}
				return nil
			}
		}
		return nil
	})
	return res, err
}

// Unlock releases a granted lock matching (owner, offset, length) and
// wakes the first run of now-compatible waiters. Returns ENOENT if no
// matching granted lock is found.
func (t *Table) Unlock(ino uint64, owner lockstate.Owner, offset, length uint64) error {
	return t.WithLockedDentry(ino, func(d *dentry.Dentry) error {
		le := d.LockEntryOrNil()
		if le == nil {
			return fdirerr.New(fdirerr.ENOENT, "no lock held on inode %d", ino)
		}
		idx := -1
		for i, g := range le.FlockGranted {
			if g.Owner == owner && g.Offset == offset && g.Length == length {
				idx = i
				break
			}
		}
		if idx < 0 {
			return fdirerr.New(fdirerr.ENOENT, "no matching lock for owner %+v on inode %d", owner, ino)
		}
		le.FlockGranted = append(le.FlockGranted[:idx], le.FlockGranted[idx+1:]...)

		for len(le.FlockWaiting) > 0 {
			w := le.FlockWaiting[0]
			if hasConflict(le, w.Owner, w.Type, w.Offset, w.Length) {
				break
			}
			le.FlockWaiting = le.FlockWaiting[1:]
			le.FlockGranted = append(le.FlockGranted, &lockstate.FlockRange{
				Offset: w.Offset, Length: w.Length, Type: w.Type, Owner: w.Owner,
			})
			close(w.Done)
		}
		return nil
	})
}
