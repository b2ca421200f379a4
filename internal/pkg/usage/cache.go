package usage

import (
	"sync"
	"time"
)

// DefaultCacheTTL bounds how long a snapshot may serve reads before the
// remote ledger is consulted again.
const DefaultCacheTTL = 10 * time.Second

type snapshotEntry struct {
	record    Record
	fetchedAt time.Time
}

// SnapshotCache is a process-wide, TTL-bounded map of the last known usage
// record per user. Entries are replaced atomically; a stale or invalidated
// entry simply behaves as a miss so the next read hits the remote ledger.
type SnapshotCache struct {
	mu      sync.RWMutex
	ttl     time.Duration
	entries map[string]snapshotEntry
}

// NewSnapshotCache creates an isolated cache instance. A non-positive ttl
// falls back to DefaultCacheTTL.
func NewSnapshotCache(ttl time.Duration) *SnapshotCache {
	if ttl <= 0 {
		ttl = DefaultCacheTTL
	}
	return &SnapshotCache{
		ttl:     ttl,
		entries: make(map[string]snapshotEntry),
	}
}

// Get returns the cached record for userID if it is still within the TTL.
func (c *SnapshotCache) Get(userID string) (Record, bool) {
	c.mu.RLock()
	entry, ok := c.entries[userID]
	c.mu.RUnlock()
	if !ok || time.Since(entry.fetchedAt) >= c.ttl {
		return Record{}, false
	}
	return entry.record, true
}

// Put stores the latest known record with a fresh fetch timestamp.
func (c *SnapshotCache) Put(userID string, rec Record) {
	c.mu.Lock()
	c.entries[userID] = snapshotEntry{record: rec, fetchedAt: time.Now()}
	c.mu.Unlock()
}

// Invalidate unconditionally drops any cached entry for userID, forcing the
// next read to re-fetch from the remote ledger.
func (c *SnapshotCache) Invalidate(userID string) {
	c.mu.Lock()
	delete(c.entries, userID)
	c.mu.Unlock()
}
