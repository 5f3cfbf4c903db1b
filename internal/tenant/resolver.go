package tenant

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/car-platform/go-core/internal/controlplane"
	"github.com/car-platform/go-core/internal/crypto"
)

// Resolver errors.
var (
	// ErrInvalidTenantID is returned when the id is not a UUID. The
	// validator already enforces this; the resolver re-checks.
	ErrInvalidTenantID = errors.New("tenant id is not a valid UUID")

	// ErrTenantNotFound is returned when the control plane has no tenant
	// or no active database for the id.
	ErrTenantNotFound = errors.New("tenant not found")

	// ErrTenantInactive is returned when the tenant exists but its status
	// is not active.
	ErrTenantInactive = errors.New("tenant is not active")

	// ErrConnectionTestFailed is returned when the freshly built engine
	// fails its health probe. Nothing is cached in that case.
	ErrConnectionTestFailed = errors.New("tenant database connection test failed")
)

const (
	// DefaultTTL is how long a resolved engine stays cached.
	DefaultTTL = 300 * time.Second

	probeTimeout = time.Second
)

// CacheMetrics receives cache hit/miss counts and the current entry
// count. Implemented by the metrics registry; nil disables reporting.
type CacheMetrics interface {
	CacheHit()
	CacheMiss()
	SetCacheEntries(n int)
}

// Config contains configuration for the resolver.
type Config struct {
	// Store reads the tenant registry. Required.
	Store controlplane.Store

	// Decryptor opens connection-string ciphertexts. Required.
	Decryptor *crypto.Decryptor

	// TTL overrides DefaultTTL when positive.
	TTL time.Duration

	// OpenEngine builds an engine from a decrypted connection string.
	// Defaults to sql.Open("postgres", dsn) with modest pool limits.
	OpenEngine func(dsn string) (*sql.DB, error)

	// Probe health-checks a new engine before it is cached. Defaults to
	// SELECT 1 under a one second timeout.
	Probe func(ctx context.Context, db *sql.DB) error

	// Now overrides the clock, for tests.
	Now func() time.Time

	Metrics CacheMetrics
	Logger  *zap.Logger
}

// Resolver returns live database engines per tenant. Hits are served
// from the TTL cache; concurrent misses for one tenant collapse to a
// single control-plane lookup and engine build.
type Resolver struct {
	store      controlplane.Store
	decryptor  *crypto.Decryptor
	cache      *cache
	openEngine func(dsn string) (*sql.DB, error)
	probe      func(ctx context.Context, db *sql.DB) error
	now        func() time.Time
	metrics    CacheMetrics
	logger     *zap.Logger

	group singleflight.Group
}

// NewResolver creates a resolver.
func NewResolver(cfg Config) (*Resolver, error) {
	if cfg.Store == nil {
		return nil, errors.New("control plane store is required")
	}
	if cfg.Decryptor == nil {
		return nil, errors.New("decryptor is required")
	}
	if cfg.TTL <= 0 {
		cfg.TTL = DefaultTTL
	}
	if cfg.OpenEngine == nil {
		cfg.OpenEngine = defaultOpenEngine
	}
	if cfg.Probe == nil {
		cfg.Probe = defaultProbe
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}

	return &Resolver{
		store:      cfg.Store,
		decryptor:  cfg.Decryptor,
		cache:      newCache(cfg.TTL, cfg.Now),
		openEngine: cfg.OpenEngine,
		probe:      cfg.Probe,
		now:        cfg.Now,
		metrics:    cfg.Metrics,
		logger:     cfg.Logger,
	}, nil
}

// Resolve returns a leased engine for the tenant. hit reports whether
// the cache served it. The caller must Release the lease when the
// request finishes.
func (r *Resolver) Resolve(ctx context.Context, tenantID string) (lease *Lease, hit bool, err error) {
	parsed, err := uuid.Parse(tenantID)
	if err != nil {
		return nil, false, ErrInvalidTenantID
	}
	canonical := parsed.String()

	if conn, ok := r.cache.get(canonical); ok {
		if r.metrics != nil {
			r.metrics.CacheHit()
		}
		return conn.acquire(), true, nil
	}
	if r.metrics != nil {
		r.metrics.CacheMiss()
	}

	// Collapse concurrent misses for one tenant. Other tenants proceed
	// in parallel under their own keys.
	v, err, _ := r.group.Do(canonical, func() (any, error) {
		if conn, ok := r.cache.get(canonical); ok {
			return conn, nil
		}
		return r.build(ctx, parsed, canonical)
	})
	if err != nil {
		return nil, false, err
	}

	return v.(*Connection).acquire(), false, nil
}

// build performs the full miss path: control-plane lookup, decrypt,
// engine construction, probe, install.
func (r *Resolver) build(ctx context.Context, tenantID uuid.UUID, canonical string) (*Connection, error) {
	t, err := r.store.GetTenant(ctx, tenantID)
	if err != nil {
		if errors.Is(err, controlplane.ErrTenantNotFound) {
			return nil, ErrTenantNotFound
		}
		return nil, fmt.Errorf("control plane lookup: %w", err)
	}
	if !t.Active() {
		return nil, fmt.Errorf("%w: status %s", ErrTenantInactive, t.Status)
	}

	row, err := r.store.GetActiveDatabase(ctx, tenantID)
	if err != nil {
		if errors.Is(err, controlplane.ErrDatabaseNotFound) {
			return nil, ErrTenantNotFound
		}
		return nil, fmt.Errorf("control plane lookup: %w", err)
	}

	dsn, err := r.decryptor.Decrypt(row.ConnectionStringEncrypted, "")
	if err != nil {
		// ErrDecrypt carries no detail on purpose.
		return nil, err
	}

	db, err := r.openEngine(dsn)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrConnectionTestFailed, err)
	}

	probeCtx, cancel := context.WithTimeout(ctx, probeTimeout)
	err = r.probe(probeCtx, db)
	cancel()
	if err != nil {
		db.Close()
		r.logger.Warn("Tenant database probe failed",
			zap.String("tenant_id", canonical),
			zap.Error(err),
		)
		return nil, fmt.Errorf("%w: %v", ErrConnectionTestFailed, err)
	}

	// A canceled request must not install a cache entry.
	if err := ctx.Err(); err != nil {
		db.Close()
		return nil, err
	}

	conn := newConnection(canonical, db, r.now(), r.cache.ttl)
	r.cache.install(canonical, conn)
	r.reportEntries()

	r.logger.Info("Tenant connection cached",
		zap.String("tenant_id", canonical),
		zap.String("database", row.DatabaseName),
	)
	return conn, nil
}

// Invalidate evicts one tenant's cached engine. Returns whether an
// entry was present.
func (r *Resolver) Invalidate(tenantID string) bool {
	parsed, err := uuid.Parse(tenantID)
	if err != nil {
		return false
	}
	evicted := r.cache.invalidate(parsed.String())
	r.reportEntries()
	return evicted
}

// InvalidateAll evicts every cached engine and returns how many were
// present.
func (r *Resolver) InvalidateAll() int {
	n := r.cache.invalidateAll()
	r.reportEntries()
	return n
}

// Stats returns cache counts for health probes.
func (r *Resolver) Stats() Stats {
	return r.cache.stats()
}

// Close evicts all entries. Engines still leased close when their last
// lease is released.
func (r *Resolver) Close() error {
	r.cache.invalidateAll()
	r.reportEntries()
	return nil
}

// reportEntries feeds the cache-size gauge whenever the entry count
// changes.
func (r *Resolver) reportEntries() {
	if r.metrics == nil {
		return
	}
	r.metrics.SetCacheEntries(r.cache.stats().Entries)
}

func defaultOpenEngine(dsn string) (*sql.DB, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(2)
	db.SetConnMaxLifetime(10 * time.Minute)
	return db, nil
}

func defaultProbe(ctx context.Context, db *sql.DB) error {
	var one int
	return db.QueryRowContext(ctx, "SELECT 1").Scan(&one)
}
