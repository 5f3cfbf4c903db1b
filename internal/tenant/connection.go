// Package tenant resolves tenant ids to live database engines through
// a TTL cache backed by the control plane.
package tenant

import (
	"database/sql"
	"sync"
	"time"
)

// Connection is one cached engine. The cache holds one reference while
// the entry is installed; every lease holds another. The engine closes
// only when the entry has been evicted and the last lease is released,
// so in-flight requests never see a closed pool.
type Connection struct {
	tenantID  string
	db        *sql.DB
	cachedAt  time.Time
	expiresAt time.Time

	mu      sync.Mutex
	refs    int
	evicted bool
}

func newConnection(tenantID string, db *sql.DB, cachedAt time.Time, ttl time.Duration) *Connection {
	return &Connection{
		tenantID:  tenantID,
		db:        db,
		cachedAt:  cachedAt,
		expiresAt: cachedAt.Add(ttl),
		refs:      1, // the cache's reference
	}
}

// expired reports whether the entry is past its TTL.
func (c *Connection) expired(now time.Time) bool {
	return !now.Before(c.expiresAt)
}

// acquire hands out a lease, incrementing the reference count.
func (c *Connection) acquire() *Lease {
	c.mu.Lock()
	c.refs++
	c.mu.Unlock()
	return &Lease{conn: c}
}

// release drops one reference and closes the engine once evicted and
// unreferenced.
func (c *Connection) release() {
	c.mu.Lock()
	c.refs--
	closeNow := c.evicted && c.refs == 0
	c.mu.Unlock()

	if closeNow {
		c.db.Close()
	}
}

// evict drops the cache's reference. Idempotent.
func (c *Connection) evict() {
	c.mu.Lock()
	if c.evicted {
		c.mu.Unlock()
		return
	}
	c.evicted = true
	c.mu.Unlock()

	c.release()
}

// Lease is a caller's handle on a cached engine. Release must be
// called when the request finishes; after Release the engine must not
// be used.
type Lease struct {
	conn        *Connection
	releaseOnce sync.Once
}

// DB returns the engine. Valid until Release.
func (l *Lease) DB() *sql.DB {
	return l.conn.db
}

// TenantID returns the canonical tenant id the engine belongs to.
func (l *Lease) TenantID() string {
	return l.conn.tenantID
}

// Release returns the lease. Safe to call more than once.
func (l *Lease) Release() {
	l.releaseOnce.Do(func() {
		l.conn.release()
	})
}

// NewStandaloneLease wraps an engine that is not cache-managed.
// Intended for tests and tooling; Release closes the engine.
func NewStandaloneLease(tenantID string, db *sql.DB) *Lease {
	conn := newConnection(tenantID, db, time.Now(), time.Hour)
	conn.evicted = true // Release closes immediately at refs == 0
	conn.refs = 0
	return conn.acquire()
}
