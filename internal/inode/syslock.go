package inode

import (
	"github.com/yechoo0321/fdircore/internal/dentry"
	"github.com/yechoo0321/fdircore/internal/fdirerr"
	"github.com/yechoo0321/fdircore/internal/lockstate"
)

// SysLockResult mirrors FlockResult for the whole-inode system lock.
type SysLockResult struct {
	Waiter *lockstate.SysLockWaiter
	Size   int64
}

// SysLock acquires the whole-inode system lock, returning the
// dentry's current size on immediate success.
func (t *Table) SysLock(ino uint64, nonBlocking bool) (SysLockResult, error) {
	var res SysLockResult
	err := t.WithLockedDentry(ino, func(d *dentry.Dentry) error {
		le := d.LockEntryForUpdate()
		if !le.SysLockHeld {
			le.SysLockHeld = true
			res.Size = d.Stat.Size
			return nil
		}
		if nonBlocking {
			return fdirerr.New(fdirerr.EAGAIN, "system lock held on inode %d", ino)
		}
		w := &lockstate.SysLockWaiter{Done: make(chan struct{})}
		le.SysLockWaiting = append(le.SysLockWaiting, w)
		res.Waiter = w
		return nil
	})
	return res, err
}

// SysUnlockMutate is invoked while the shard lock is held, before the
// system lock is released or handed to the next waiter, so a caller
// can atomically commit a pending size change.
type SysUnlockMutate func(d *dentry.Dentry)

// SysUnlock releases the system lock on ino, invoking mutate (if
// non-nil) under the shard lock, then wakes the next waiter.
func (t *Table) SysUnlock(ino uint64, mutate SysUnlockMutate) error {
	return t.WithLockedDentry(ino, func(d *dentry.Dentry) error {
		le := d.LockEntryForUpdate()
		if !le.SysLockHeld {
			return fdirerr.New(fdirerr.EINVAL, "system lock not held on inode %d", ino)
		}
		if mutate != nil {
			mutate(d)
		}
		if len(le.SysLockWaiting) > 0 {
			w := le.SysLockWaiting[0]
			le.SysLockWaiting = le.SysLockWaiting[1:]
			w.Size = d.Stat.Size
			close(w.Done)
			// SysLockHeld remains true: ownership passes to w.
			return nil
		}
		le.SysLockHeld = false
		return nil
	})
}
