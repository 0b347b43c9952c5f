// Package fdirctx gathers the process-wide state threaded through
// every subsystem: the monotonic data_version counter, the inode
// generator, the namespace table and the delay-free queue. One
// Context is constructed at startup and handed to every component
// that needs shared state, instead of package-level globals.
package fdirctx

import (
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/yechoo0321/fdircore/internal/dentry"
	"github.com/yechoo0321/fdircore/internal/inode"
)

// Context is the process-wide server state.
type Context struct {
	Log *logrus.Entry

	// ClusterPart tags every inode this node allocates so ids never
	// collide with another node's allocations cluster-wide.
	ClusterPart uint32

	dataCurrentVersion atomic.Uint64
	isMaster           atomic.Bool

	IDGen     *inode.IDGenerator
	Inodes    *inode.Table
	Namespaces *dentry.NamespaceTable
	DelayFree *dentry.DelayFreeQueue
}

// New constructs a Context ready to serve. clusterPart must be stable
// for the lifetime of one master incarnation.
func New(clusterPart uint32, log *logrus.Entry) *Context {
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}
	return &Context{
		Log:         log.WithField("component", "fdirctx"),
		ClusterPart: clusterPart,
		IDGen:       inode.NewIDGenerator(clusterPart),
		Inodes:      inode.NewDefaultTable(),
		Namespaces:  dentry.NewNamespaceTable(),
		DelayFree:   dentry.NewDelayFreeQueue(),
	}
}

// NextDataVersion assigns and returns the next data_version. Callers
// must only invoke this from a data-thread worker on the master.
func (c *Context) NextDataVersion() uint64 {
	return c.dataCurrentVersion.Add(1)
}

// CurrentDataVersion returns the current value without advancing it.
func (c *Context) CurrentDataVersion() uint64 {
	return c.dataCurrentVersion.Load()
}

// ObserveDataVersion raises the counter to at least dv, used when
// replaying a binlog whose records may already carry data_version
// values (slave catch-up, restart-from-disk).
func (c *Context) ObserveDataVersion(dv uint64) {
	for {
		cur := c.dataCurrentVersion.Load()
		if dv <= cur {
			return
		}
		if c.dataCurrentVersion.CompareAndSwap(cur, dv) {
			return
		}
	}
}

// IsMaster reports whether this node currently holds mastership.
func (c *Context) IsMaster() bool { return c.isMaster.Load() }

// SetMaster flips this node's mastership flag.
func (c *Context) SetMaster(v bool) { c.isMaster.Store(v) }

// RunDelayFreeTicker reclaims delay-freed dentries every interval
// until stop is closed. interval is normally much shorter than
// dentry.DelayFreeInterval itself (e.g. every few seconds), since the
// per-entry delay is tracked by the queue, not by the tick period.
func (c *Context) RunDelayFreeTicker(interval time.Duration, stop <-chan struct{}) {
	t := time.NewTicker(interval)
	defer t.Stop()
	for {
		select {
		case <-stop:
			return
		case now := <-t.C:
			if n := c.DelayFree.Reclaim(now); n > 0 {
				c.Log.WithField("reclaimed", n).Debug("delay-free queue reclaimed entries")
			}
		}
	}
}
