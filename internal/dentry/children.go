package dentry

import "github.com/google/btree"

// childItem is a btree.Item ordering children by byte-lexicographic
// name comparison. Go string comparison
// is already a byte-wise comparison, so this is a direct mapping.
type childItem struct {
	name string
	d    *Dentry
}

func (a childItem) Less(than btree.Item) bool {
	return a.name < than.(childItem).name
}

// childMap is the ordered name->Dentry map backing a directory
// dentry's children: any associative structure with O(log n)
// insert/delete/find and ordered iteration works here. Backed by
// google/btree.
type childMap struct {
	t *btree.BTree
}

// degree is the btree degree; 16 balances node fan-out against tree
// depth for the directory sizes this service targets.
const degree = 16

func newChildMap() *childMap {
	return &childMap{t: btree.New(degree)}
}

func (m *childMap) get(name string) (*Dentry, bool) {
	item := m.t.Get(childItem{name: name})
	if item == nil {
		return nil, false
	}
	return item.(childItem).d, true
}

func (m *childMap) set(name string, d *Dentry) {
	m.t.ReplaceOrInsert(childItem{name: name, d: d})
}

func (m *childMap) delete(name string) {
	m.t.Delete(childItem{name: name})
}

func (m *childMap) len() int { return m.t.Len() }

// ascend calls fn for every child in byte-lexicographic name order,
// stopping early if fn returns false.
func (m *childMap) ascend(fn func(d *Dentry) bool) {
	m.t.Ascend(func(item btree.Item) bool {
		return fn(item.(childItem).d)
	})
}
