package service

import (
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/yechoo0321/fdircore/internal/dentry"
)

// listCursor holds the remaining, not-yet-returned tail of one
// list_dentry_first/next sequence.
type listCursor struct {
	remaining []*dentry.Dentry
	touched   time.Time
}

// cursorCache maps list_dentry_next tokens to their cursor state,
// sweeping out entries idle longer than CursorExpiry so a client that
// abandons a listing mid-stream doesn't hold its snapshot forever.
type cursorCache struct {
	expiry time.Duration

	mu   sync.Mutex
	next uint64
	m    map[uint64]*listCursor

	// refresh folds concurrent list_dentry_first calls against the
	// same (namespace, path) into a single dentry.List scan, so a
	// burst of identical listing requests doesn't walk the same
	// directory N times.
	refresh singleflight.Group
}

// newCursorCache returns an empty cache with the given idle expiry.
func newCursorCache(expiry time.Duration) *cursorCache {
	return &cursorCache{expiry: expiry, m: make(map[uint64]*listCursor)}
}

// firstListing folds concurrent callers with the same key into one
// call to list, returning each caller its own copy of the result so
// no caller observes another's later mutation of the slice.
func (c *cursorCache) firstListing(key string, list func() ([]*dentry.Dentry, error)) ([]*dentry.Dentry, error) {
	v, err, _ := c.refresh.Do(key, func() (interface{}, error) {
		return list()
	})
	if err != nil {
		return nil, err
	}
	entries := v.([]*dentry.Dentry)
	out := make([]*dentry.Dentry, len(entries))
	copy(out, entries)
	return out, nil
}

// store reserves a fresh token for entries and returns it, or 0 if
// entries is already fully consumed (nothing left to page through).
func (c *cursorCache) store(entries []*dentry.Dentry) uint64 {
	if len(entries) == 0 {
		return 0
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.next++
	token := c.next
	c.m[token] = &listCursor{remaining: entries, touched: time.Now()}
	return token
}

// take pops up to batchSize entries from token's cursor, returning
// them and the token to use for the next call (0 if exhausted).
// ENOENT-equivalent (ok=false) is returned for an unknown or expired
// token.
func (c *cursorCache) take(token uint64, batchSize int) (batch []*dentry.Dentry, nextToken uint64, ok bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	cur, found := c.m[token]
	if !found {
		return nil, 0, false
	}
	if batchSize <= 0 || batchSize > len(cur.remaining) {
		batchSize = len(cur.remaining)
	}
	batch = cur.remaining[:batchSize]
	cur.remaining = cur.remaining[batchSize:]
	if len(cur.remaining) == 0 {
		delete(c.m, token)
		return batch, 0, true
	}
	cur.touched = time.Now()
	return batch, token, true
}

// sweep discards cursors idle longer than the cache's expiry,
// returning the number removed.
func (c *cursorCache) sweep(now time.Time) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := 0
	for token, cur := range c.m {
		if now.Sub(cur.touched) > c.expiry {
			delete(c.m, token)
			n++
		}
	}
	return n
}
