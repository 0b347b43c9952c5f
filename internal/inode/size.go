package inode

import (
	"github.com/yechoo0321/fdircore/internal/dentry"
)

// CheckSetDentrySize computes the effect of a set_dentry_size call:
// given (inode, newSize, force), sets stat.size = newSize if force or
// the current size is smaller, and bumps mtime to now if it differs.
// now is passed in
// (rather than read from time.Now()) so callers and tests can use a
// fixed clock. Returns the bitmask of fields actually modified, so
// the caller can emit a minimal `update` binlog record.
func (t *Table) CheckSetDentrySize(ino uint64, newSize int64, force bool, now int64) (dentry.StatField, error) {
	var mask dentry.StatField
	err := t.WithLockedDentry(ino, func(d *dentry.Dentry) error {
		if force || d.Stat.Size < newSize {
			if d.Stat.Size != newSize {
				d.Stat.Size = newSize
				mask |= dentry.StatFieldSize
			}
		}
		if d.Stat.MTime != now {
			d.Stat.MTime = now
			mask |= dentry.StatFieldMTime
		}
		return nil
	})
	return mask, err
}
