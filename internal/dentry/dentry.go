package dentry

import (
	"sync"

	"github.com/yechoo0321/fdircore/internal/lockstate"
)

// NameMax bounds a single path component's length.
const NameMax = 255

// FDirMaxPathCount bounds the depth GetFullPath will walk before
// failing EOVERFLOW.
const FDirMaxPathCount = 128

// Dentry is one name->metadata binding in a namespace's directory
// tree. Unlike a VFS dentry, this Dentry *is* the metadata node:
// inode, stat and children live here directly, since this service has
// no separate filesystem-driver layer to delegate to.
type Dentry struct {
	mu sync.Mutex

	Inode uint64
	Name  string
	Stat  Stat

	// parent is a non-owning back-link; the owning reference runs the
	// other way, through parent.children[Name]. It is cleared by
	// reclaim() once the delay-free interval has elapsed after
	// removal.
	parent *Dentry

	// children is non-nil iff Stat.Mode.IsDir(). Owned by this Dentry.
	children *childMap

	// lockEntry is allocated on first use by the inode index's advisory
	// lock operations.
	lockEntry *lockstate.LockEntry
}

// Parent returns d's parent, or nil if d is a namespace root or has
// been reclaimed.
func (d *Dentry) Parent() *Dentry {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.parent
}

// IsDir reports whether d names a directory.
func (d *Dentry) IsDir() bool { return d.Stat.Mode.IsDir() }

// LockEntryForUpdate returns d's LockEntry, allocating it on first
// call. Callers must hold the owning inode shard's lock.
func (d *Dentry) LockEntryForUpdate() *lockstate.LockEntry {
	if d.lockEntry == nil {
		d.lockEntry = &lockstate.LockEntry{}
	}
	return d.lockEntry
}

// LockEntryOrNil returns d's LockEntry without allocating it.
func (d *Dentry) LockEntryOrNil() *lockstate.LockEntry {
	return d.lockEntry
}

// snapshotChildren returns an ordered snapshot of d's children,
// suitable for a `list` reply.
func (d *Dentry) snapshotChildren() []*Dentry {
	if d.children == nil {
		return nil
	}
	out := make([]*Dentry, 0, d.children.len())
	d.children.ascend(func(c *Dentry) bool {
		out = append(out, c)
		return true
	})
	return out
}
