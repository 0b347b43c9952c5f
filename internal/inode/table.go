package inode

import (
	"sort"
	"sync"

	"github.com/yechoo0321/fdircore/internal/dentry"
	"github.com/yechoo0321/fdircore/internal/fdirerr"
)

// DefaultCapacity is the default number of hash buckets.
const DefaultCapacity = 1 << 16

// DefaultShards is the default number of independent lock groups.
// Bucket -> shard assignment is bucket % DefaultShards, so a shard's
// critical sections only ever touch its own buckets.
const DefaultShards = 64

type bucket struct {
	// chain is sorted by Inode so inserts walk the chain to its
	// position and lookups can stop once they pass it.
	chain []*dentry.Dentry
}

type shard struct {
	mu      sync.Mutex
	buckets map[uint64]*bucket
}

// Table is the sharded inode->dentry hashtable.
type Table struct {
	capacity uint64
	shards   []*shard
}

// NewTable constructs a Table with capacity buckets grouped into
// nShards lock groups.
func NewTable(capacity uint64, nShards int) *Table {
	t := &Table{capacity: capacity, shards: make([]*shard, nShards)}
	for i := range t.shards {
		t.shards[i] = &shard{buckets: make(map[uint64]*bucket)}
	}
	return t
}

// NewDefaultTable constructs a Table using DefaultCapacity/DefaultShards.
func NewDefaultTable() *Table {
	return NewTable(DefaultCapacity, DefaultShards)
}

func (t *Table) bucketIndex(ino uint64) uint64 { return ino % t.capacity }

func (t *Table) shardFor(ino uint64) *shard {
	return t.shards[t.bucketIndex(ino)%uint64(len(t.shards))]
}

// withShard runs fn with the shard owning ino locked, and the bucket
// (created on demand) passed in. fn must not block on I/O or acquire
// any other shard's lock.
func (t *Table) withShard(ino uint64, fn func(b *bucket) error) error {
	s := t.shardFor(ino)
	s.mu.Lock()
	defer s.mu.Unlock()
	bi := t.bucketIndex(ino)
	b, ok := s.buckets[bi]
	if !ok {
		b = &bucket{}
		s.buckets[bi] = b
	}
	return fn(b)
}

func (b *bucket) search(ino uint64) (int, bool) {
	i := sort.Search(len(b.chain), func(i int) bool { return b.chain[i].Inode >= ino })
	if i < len(b.chain) && b.chain[i].Inode == ino {
		return i, true
	}
	return i, false
}

// Add inserts d into the table, keyed by d.Inode. Idempotent calls
// with the same inode return EEXIST.
func (t *Table) Add(d *dentry.Dentry) error {
	return t.withShard(d.Inode, func(b *bucket) error {
		i, found := b.search(d.Inode)
		if found {
			return fdirerr.New(fdirerr.EEXIST, "inode %d already indexed", d.Inode)
		}
		b.chain = append(b.chain, nil)
		copy(b.chain[i+1:], b.chain[i:])
		b.chain[i] = d
		return nil
	})
}

// Remove deletes the entry for ino. A second call returns ENOENT.
func (t *Table) Remove(ino uint64) error {
	return t.withShard(ino, func(b *bucket) error {
		i, found := b.search(ino)
		if !found {
			return fdirerr.New(fdirerr.ENOENT, "inode %d not indexed", ino)
		}
		b.chain = append(b.chain[:i], b.chain[i+1:]...)
		return nil
	})
}

// Find returns the dentry for ino, or ENOENT.
func (t *Table) Find(ino uint64) (*dentry.Dentry, error) {
	var found *dentry.Dentry
	err := t.withShard(ino, func(b *bucket) error {
		i, ok := b.search(ino)
		if !ok {
			return fdirerr.New(fdirerr.ENOENT, "inode %d not indexed", ino)
		}
		found = b.chain[i]
		return nil
	})
	return found, err
}

// WithLockedDentry runs fn with ino's dentry found and that dentry's
// owning shard lock held, so fn can safely read/mutate Stat or the
// lazily-allocated LockEntry. This is the primitive used by
// check_set_dentry_size and the flock/sys-lock operations so that all
// of "find, decide, mutate" happens atomically under one shard lock.
func (t *Table) WithLockedDentry(ino uint64, fn func(d *dentry.Dentry) error) error {
	return t.withShard(ino, func(b *bucket) error {
		i, ok := b.search(ino)
		if !ok {
			return fdirerr.New(fdirerr.ENOENT, "inode %d not indexed", ino)
		}
		return fn(b.chain[i])
	})
}
