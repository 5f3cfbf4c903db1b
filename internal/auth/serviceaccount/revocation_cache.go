package serviceaccount

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const (
	revokedSetKey         = "sa:revoked_hashes"
	defaultRefreshWindow  = 60 * time.Second
	revocationRedisOpTime = 2 * time.Second
)

// RevocationCache keeps a local set of revoked token hashes, shared
// across instances through a Redis set. Local revokes are visible
// immediately; remote revokes become visible within the refresh window
// (60 s by default). Deployments that need per-request consistency run
// without the cache and consult the store directly.
type RevocationCache struct {
	client *redis.Client
	window time.Duration
	logger *zap.Logger

	mu      sync.RWMutex
	revoked map[string]struct{}

	stopCh chan struct{}
	wg     sync.WaitGroup
}

// NewRevocationCache builds the cache and performs one synchronous
// refresh so a freshly started instance does not accept tokens revoked
// before it came up.
func NewRevocationCache(ctx context.Context, client *redis.Client, window time.Duration, logger *zap.Logger) (*RevocationCache, error) {
	if client == nil {
		return nil, fmt.Errorf("redis client is required")
	}
	if window <= 0 {
		window = defaultRefreshWindow
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	c := &RevocationCache{
		client:  client,
		window:  window,
		logger:  logger,
		revoked: make(map[string]struct{}),
		stopCh:  make(chan struct{}),
	}

	if err := c.refresh(ctx); err != nil {
		return nil, fmt.Errorf("initial revocation refresh: %w", err)
	}

	c.wg.Add(1)
	go c.refreshLoop()

	return c, nil
}

// IsRevoked reports whether the hash is in the local revoked set.
func (c *RevocationCache) IsRevoked(hash string) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()

	_, ok := c.revoked[hash]
	return ok
}

// MarkRevoked publishes a revocation to Redis and applies it locally so
// the local instance enforces it without waiting for the next refresh.
func (c *RevocationCache) MarkRevoked(ctx context.Context, hash string) error {
	opCtx, cancel := context.WithTimeout(ctx, revocationRedisOpTime)
	defer cancel()

	if err := c.client.SAdd(opCtx, revokedSetKey, hash).Err(); err != nil {
		return fmt.Errorf("publish revocation: %w", err)
	}

	c.mu.Lock()
	c.revoked[hash] = struct{}{}
	c.mu.Unlock()

	return nil
}

// refresh replaces the local set with the shared one.
func (c *RevocationCache) refresh(ctx context.Context) error {
	opCtx, cancel := context.WithTimeout(ctx, revocationRedisOpTime)
	defer cancel()

	hashes, err := c.client.SMembers(opCtx, revokedSetKey).Result()
	if err != nil {
		return fmt.Errorf("fetch revoked set: %w", err)
	}

	next := make(map[string]struct{}, len(hashes))
	for _, h := range hashes {
		next[h] = struct{}{}
	}

	c.mu.Lock()
	c.revoked = next
	c.mu.Unlock()

	return nil
}

func (c *RevocationCache) refreshLoop() {
	defer c.wg.Done()

	ticker := time.NewTicker(c.window)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if err := c.refresh(context.Background()); err != nil {
				// Keep serving the stale set; the store remains the
				// authority for anything the cache misses.
				c.logger.Warn("Revocation cache refresh failed", zap.Error(err))
			}
		case <-c.stopCh:
			return
		}
	}
}

// Close stops the background refresh.
func (c *RevocationCache) Close() error {
	close(c.stopCh)
	c.wg.Wait()
	return nil
}
