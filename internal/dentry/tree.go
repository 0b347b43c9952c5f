package dentry

import (
	"strings"

	"github.com/yechoo0321/fdircore/internal/fdirerr"
)

// CreateParams bundles create's optional and replay-path fields.
type CreateParams struct {
	Mode  Mode
	Inode uint64 // nonzero on replay: use this id instead of allocating
	UID   uint32
	GID   uint32
	CTime int64
	MTime int64
}

// Create resolves path's parent within ns and links a new dentry as
// its child.
//
// ENOENT is returned if a non-final path component is missing or is
// not a directory; EEXIST if the leaf already exists; EINVAL if path
// is empty or lacks a leading '/'. For path == "/" in a namespace
// with no root yet, the new dentry becomes the namespace root.
func Create(ns *Namespace, alloc InodeAllocator, idx InodeIndexer, path string, p CreateParams) (*Dentry, error) {
	if path == "" || path[0] != '/' {
		return nil, fdirerr.New(fdirerr.EINVAL, "path %q must be non-empty and start with '/'", path)
	}
	components := splitPath(path)
	for _, c := range components {
		if len(c) > NameMax {
			return nil, fdirerr.New(fdirerr.EINVAL, "component %q exceeds NAME_MAX", c)
		}
	}

	ns.mu.Lock()
	defer ns.mu.Unlock()

	inode := p.Inode
	if inode == 0 {
		inode = alloc.NextInode()
	}
	newDentry := func(name string) *Dentry {
		d := &Dentry{
			Inode: inode,
			Name:  name,
			Stat: Stat{
				Mode:  p.Mode,
				UID:   p.UID,
				GID:   p.GID,
				CTime: p.CTime,
				MTime: p.MTime,
			},
		}
		if d.Stat.Mode.IsDir() {
			d.children = newChildMap()
		}
		return d
	}

	if len(components) == 0 {
		// path == "/"
		if ns.root != nil {
			return nil, fdirerr.New(fdirerr.EEXIST, "namespace %q already has a root", ns.Name)
		}
		d := newDentry("")
		if err := idx.Add(d); err != nil {
			return nil, err
		}
		ns.root = d
		return d, nil
	}

	if ns.root == nil {
		return nil, fdirerr.New(fdirerr.ENOENT, "namespace %q has no root", ns.Name)
	}

	parent := ns.root
	for _, c := range components[:len(components)-1] {
		if !parent.IsDir() {
			return nil, fdirerr.New(fdirerr.ENOENT, "component %q of %q is not a directory", c, path)
		}
		next, ok := parent.children.get(c)
		if !ok {
			return nil, fdirerr.New(fdirerr.ENOENT, "component %q of %q does not exist", c, path)
		}
		parent = next
	}
	if !parent.IsDir() {
		return nil, fdirerr.New(fdirerr.ENOENT, "parent of %q is not a directory", path)
	}
	leaf := components[len(components)-1]
	if _, exists := parent.children.get(leaf); exists {
		return nil, fdirerr.New(fdirerr.EEXIST, "%q already exists", path)
	}

	d := newDentry(leaf)
	if err := idx.Add(d); err != nil {
		return nil, err
	}
	d.parent = parent
	parent.children.set(leaf, d)
	return d, nil
}

// Remove unlinks path's leaf from its parent and removes it from the
// inode index, scheduling it for delayed reclamation.
// ENOTEMPTY is returned for a non-empty directory.
func Remove(ns *Namespace, idx InodeIndexer, dfq *DelayFreeQueue, path string) (*Dentry, error) {
	ns.mu.Lock()
	defer ns.mu.Unlock()

	d, parent, leaf, err := resolveLocked(ns, path)
	if err != nil {
		return nil, err
	}
	if parent == nil {
		return nil, fdirerr.New(fdirerr.EINVAL, "cannot remove namespace root %q", ns.Name)
	}
	if d.IsDir() && d.children.len() > 0 {
		return nil, fdirerr.New(fdirerr.ENOTEMPTY, "%q is not empty", path)
	}

	if err := idx.Remove(d.Inode); err != nil {
		return nil, err
	}
	parent.children.delete(leaf)
	dfq.Push(d)
	return d, nil
}

// Find resolves path to its dentry.
func Find(ns *Namespace, path string) (*Dentry, error) {
	ns.mu.RLock()
	defer ns.mu.RUnlock()
	d, _, _, err := resolveLocked(ns, path)
	return d, err
}

// FindByPName looks up a single child of parent by name.
func FindByPName(parent *Dentry, name string) (*Dentry, error) {
	if !parent.IsDir() {
		return nil, fdirerr.New(fdirerr.ENOENT, "parent is not a directory")
	}
	d, ok := parent.children.get(name)
	if !ok {
		return nil, fdirerr.New(fdirerr.ENOENT, "%q does not exist", name)
	}
	return d, nil
}

// List returns an ordered snapshot of path's children if it names a
// directory, or a single-element slice otherwise.
func List(ns *Namespace, path string) ([]*Dentry, error) {
	ns.mu.RLock()
	defer ns.mu.RUnlock()
	d, _, _, err := resolveLocked(ns, path)
	if err != nil {
		return nil, err
	}
	if d.IsDir() {
		return d.snapshotChildren(), nil
	}
	return []*Dentry{d}, nil
}

// GetFullPath walks d's parent chain up to FDirMaxPathCount hops and
// reconstructs its absolute path.
func GetFullPath(d *Dentry) (string, error) {
	var parts []string
	cur := d
	for i := 0; i < FDirMaxPathCount; i++ {
		parent := cur.Parent()
		if parent == nil {
			if cur.Name != "" {
				parts = append(parts, cur.Name)
			}
			var b strings.Builder
			b.WriteByte('/')
			for j := len(parts) - 1; j >= 0; j-- {
				b.WriteString(parts[j])
				if j > 0 {
					b.WriteByte('/')
				}
			}
			return b.String(), nil
		}
		parts = append(parts, cur.Name)
		cur = parent
	}
	return "", fdirerr.New(fdirerr.EOVERFLOW, "path depth exceeds FDIR_MAX_PATH_COUNT")
}

// resolveLocked resolves path under ns, which must already be locked
// by the caller (read or write as appropriate). It returns the
// resolved dentry, its parent (nil for the namespace root), and the
// leaf name used to look it up in the parent's children.
func resolveLocked(ns *Namespace, path string) (d, parent *Dentry, leaf string, err error) {
	if path == "" || path[0] != '/' {
		return nil, nil, "", fdirerr.New(fdirerr.EINVAL, "path %q must be non-empty and start with '/'", path)
	}
	if ns.root == nil {
		return nil, nil, "", fdirerr.New(fdirerr.ENOENT, "namespace %q has no root", ns.Name)
	}
	components := splitPath(path)
	if len(components) == 0 {
		return ns.root, nil, "", nil
	}
	cur := ns.root
	for _, c := range components[:len(components)-1] {
		if !cur.IsDir() {
			return nil, nil, "", fdirerr.New(fdirerr.ENOENT, "component %q of %q is not a directory", c, path)
		}
		next, ok := cur.children.get(c)
		if !ok {
			return nil, nil, "", fdirerr.New(fdirerr.ENOENT, "component %q of %q does not exist", c, path)
		}
		cur = next
	}
	if !cur.IsDir() {
		return nil, nil, "", fdirerr.New(fdirerr.ENOENT, "parent of %q is not a directory", path)
	}
	leaf = components[len(components)-1]
	child, ok := cur.children.get(leaf)
	if !ok {
		return nil, nil, "", fdirerr.New(fdirerr.ENOENT, "%q does not exist", path)
	}
	return child, cur, leaf, nil
}
