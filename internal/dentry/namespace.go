package dentry

import "sync"

// InodeAllocator hands out cluster-unique monotonic inode numbers.
// Defined here, rather than in internal/inode, so that internal/dentry
// has no dependency on internal/inode (which itself depends on
// internal/dentry for the hashtable's value type).
type InodeAllocator interface {
	NextInode() uint64
}

// InodeIndexer is the subset of the inode index (C3) that the dentry
// tree (C2) must keep in sync with: every live dentry has exactly one
// entry in the inode hashtable, added before it is linked into its
// parent and removed after it is unlinked.
type InodeIndexer interface {
	Add(d *Dentry) error
	Remove(inode uint64) error
}

// Namespace is a top-level directory tree keyed by a short name. The zero value is an empty namespace awaiting its root to be
// created by `create(ns, "/", ...)`.
type Namespace struct {
	Name string

	mu   sync.RWMutex
	root *Dentry
}

// Root returns the namespace's root dentry, or nil if none has been
// created yet.
func (ns *Namespace) Root() *Dentry {
	ns.mu.RLock()
	defer ns.mu.RUnlock()
	return ns.root
}

// NamespaceTable is the process-wide hashtable of namespaces keyed by
// name.
type NamespaceTable struct {
	mu sync.RWMutex
	m  map[string]*Namespace
}

// NewNamespaceTable returns an empty table.
func NewNamespaceTable() *NamespaceTable {
	return &NamespaceTable{m: make(map[string]*Namespace)}
}

// GetOrCreate returns the namespace named name, creating an empty one
// if it doesn't already exist.
func (t *NamespaceTable) GetOrCreate(name string) *Namespace {
	t.mu.RLock()
	ns, ok := t.m[name]
	t.mu.RUnlock()
	if ok {
		return ns
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	if ns, ok := t.m[name]; ok {
		return ns
	}
	ns = &Namespace{Name: name}
	t.m[name] = ns
	return ns
}

// Get returns the namespace named name, or nil if it has never been
// touched.
func (t *NamespaceTable) Get(name string) *Namespace {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.m[name]
}

// Names returns a snapshot of every namespace name currently tracked.
func (t *NamespaceTable) Names() []string {
	t.mu.RLock()
	defer t.mu.RUnlock()
	out := make([]string, 0, len(t.m))
	for name := range t.m {
		out = append(out, name)
	}
	return out
}
