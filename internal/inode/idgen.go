// Package inode implements the sharded inode hashtable: a per-bucket, inode-sorted chain grouped into
// N_SHARDS lock groups, plus the advisory flock/sys-lock primitives
// attached to each dentry's lazily-allocated LockEntry.
package inode

import "sync/atomic"

// clusterPartShift splits a 64-bit inode id into a cluster-identifying
// high part and a monotonic low part, so ids allocated independently
// by different master incarnations never collide cluster-wide.
const clusterPartShift = 40

// IDGenerator hands out cluster-unique monotonic inode numbers.
type IDGenerator struct {
	clusterPart uint64
	sn          atomic.Uint64
}

// NewIDGenerator returns a generator whose ids are tagged with
// clusterPart in their high bits. clusterPart must be stable for the
// lifetime of one master incarnation (e.g. derived from the cluster
// membership oracle's server id).
func NewIDGenerator(clusterPart uint32) *IDGenerator {
	return &IDGenerator{clusterPart: uint64(clusterPart) << clusterPartShift}
}

// NextInode returns the next cluster-unique inode number. It never
// returns 0, which is reserved to mean "unassigned" on the wire and
// in CreateParams.
func (g *IDGenerator) NextInode() uint64 {
	sn := g.sn.Add(1)
	return g.clusterPart | sn
}
