package tenant

import (
	"sync"
	"time"
)

// Stats is a point-in-time view of the cache, fed to health probes.
type Stats struct {
	Entries int `json:"entries"`
	Active  int `json:"active"`
	Expired int `json:"expired"`
}

// cache maps tenant id to Connection. Expired entries are removed
// lazily, on the next access to that key; until then they count as
// Expired in Stats.
type cache struct {
	mu      sync.RWMutex
	entries map[string]*Connection
	ttl     time.Duration
	now     func() time.Time
}

func newCache(ttl time.Duration, now func() time.Time) *cache {
	return &cache{
		entries: make(map[string]*Connection),
		ttl:     ttl,
		now:     now,
	}
}

// get returns the live entry for the tenant, removing it if expired.
func (c *cache) get(tenantID string) (*Connection, bool) {
	c.mu.RLock()
	conn, ok := c.entries[tenantID]
	c.mu.RUnlock()
	if !ok {
		return nil, false
	}
	if !conn.expired(c.now()) {
		return conn, true
	}

	// Expired: remove under the write lock, re-checking in case a
	// fresh entry was installed meanwhile.
	c.mu.Lock()
	if cur, ok := c.entries[tenantID]; ok && cur == conn {
		delete(c.entries, tenantID)
		c.mu.Unlock()
		conn.evict()
		return nil, false
	}
	c.mu.Unlock()
	return nil, false
}

// install puts a new connection in place, evicting any prior entry for
// the tenant.
func (c *cache) install(tenantID string, conn *Connection) {
	c.mu.Lock()
	prev := c.entries[tenantID]
	c.entries[tenantID] = conn
	c.mu.Unlock()

	if prev != nil {
		prev.evict()
	}
}

// invalidate evicts one tenant's entry. Returns whether an entry was
// present.
func (c *cache) invalidate(tenantID string) bool {
	c.mu.Lock()
	conn, ok := c.entries[tenantID]
	if ok {
		delete(c.entries, tenantID)
	}
	c.mu.Unlock()

	if ok {
		conn.evict()
	}
	return ok
}

// invalidateAll evicts every entry and returns how many were present.
func (c *cache) invalidateAll() int {
	c.mu.Lock()
	evicted := make([]*Connection, 0, len(c.entries))
	for id, conn := range c.entries {
		evicted = append(evicted, conn)
		delete(c.entries, id)
	}
	c.mu.Unlock()

	for _, conn := range evicted {
		conn.evict()
	}
	return len(evicted)
}

// stats counts entries without mutating the map.
func (c *cache) stats() Stats {
	c.mu.RLock()
	defer c.mu.RUnlock()

	s := Stats{Entries: len(c.entries)}
	now := c.now()
	for _, conn := range c.entries {
		if conn.expired(now) {
			s.Expired++
		} else {
			s.Active++
		}
	}
	return s
}
