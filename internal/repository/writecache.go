package repository

import (
	"encoding/json"
	"maps"
	"sync"
	"time"

	"github.com/Lllllllleong/fleetsync/internal/models"
)

// DefaultWriteCacheTTL bounds how long an identical write is suppressed.
const DefaultWriteCacheTTL = 5 * time.Minute

const writeCacheSweepThreshold = 100

// WriteCache remembers the last payload written remotely for each record so an
// unchanged save does not cost a remote write.
type WriteCache struct {
	mu      sync.Mutex
	ttl     time.Duration
	entries map[string]writeCacheEntry
}

type writeCacheEntry struct {
	fingerprint string
	at          time.Time
}

// NewWriteCache returns an empty cache. A non-positive ttl selects
// DefaultWriteCacheTTL.
func NewWriteCache(ttl time.Duration) *WriteCache {
	if ttl <= 0 {
		ttl = DefaultWriteCacheTTL
	}
	return &WriteCache{ttl: ttl, entries: map[string]writeCacheEntry{}}
}

// Unchanged reports whether payload equals the payload last written under key
// within the TTL.
func (c *WriteCache) Unchanged(key string, payload map[string]any, now time.Time) bool {
	fp, ok := fingerprint(payload)
	if !ok {
		return false
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	e, found := c.entries[key]
	if !found {
		return false
	}
	if now.Sub(e.at) > c.ttl {
		delete(c.entries, key)
		return false
	}
	return e.fingerprint == fp
}

// Mark records payload as written under key at now.
func (c *WriteCache) Mark(key string, payload map[string]any, now time.Time) {
	fp, ok := fingerprint(payload)
	if !ok {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[key] = writeCacheEntry{fingerprint: fp, at: now}
	if len(c.entries) > writeCacheSweepThreshold {
		for k, e := range c.entries {
			if now.Sub(e.at) > c.ttl {
				delete(c.entries, k)
			}
		}
	}
}

// Forget drops key.
func (c *WriteCache) Forget(key string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.entries, key)
}

// fingerprint ignores the metadata that changes on every write.
func fingerprint(payload map[string]any) (string, bool) {
	clean := maps.Clone(payload)
	delete(clean, models.FieldUpdatedAt)
	delete(clean, models.FieldCreatedAt)
	delete(clean, models.FieldUserID)
	delete(clean, models.FieldTenantID)
	b, err := json.Marshal(clean) // map keys are sorted by encoding/json
	if err != nil {
		return "", false
	}
	return string(b), true
}
