// Package jwks resolves JWT signing keys from a remote JSON Web Key Set
// endpoint, with an in-process cache and per-kid refetch deduplication.
package jwks

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/lestrrat-go/httprc/v3"
	"github.com/lestrrat-go/jwx/v3/jwk"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"
)

// Provider errors.
var (
	// ErrKeyNotFound is returned when the kid is absent from the key set
	// even after a refetch round.
	ErrKeyNotFound = errors.New("signing key not found in JWKS")

	// ErrUnavailable is returned when the key set cannot be fetched after
	// retries.
	ErrUnavailable = errors.New("JWKS endpoint unavailable")
)

const (
	defaultFetchTimeout = 2 * time.Second
	defaultMaxRetries   = 3
	retryBaseBackoff    = 100 * time.Millisecond
)

// Config contains configuration for the JWKS provider.
type Config struct {
	// URL is the key set endpoint, typically
	// https://<issuer>/.well-known/jwks.json.
	URL string

	// HTTPClient overrides the fetch client. The default applies the
	// fetch timeout.
	HTTPClient *http.Client

	// FetchTimeout bounds each fetch (default 2 s).
	FetchTimeout time.Duration

	// MaxRetries bounds the refetch round on a kid miss (default 3).
	MaxRetries int

	Logger *zap.Logger
}

// Provider caches the key set in-process and refetches it when a token
// declares an unknown kid. Concurrent misses for the same kid collapse
// to one fetch.
type Provider struct {
	url        string
	cache      *jwk.Cache
	maxRetries int
	logger     *zap.Logger

	refetch singleflight.Group

	// Registration with the cache is lazy so startup does not depend on
	// the identity provider being reachable. Only success latches; a
	// failed attempt is retried on the next request.
	regMu   sync.Mutex
	regDone bool
}

// NewProvider creates a JWKS provider over the given endpoint.
func NewProvider(ctx context.Context, cfg Config) (*Provider, error) {
	if cfg.URL == "" {
		return nil, fmt.Errorf("JWKS URL is required")
	}
	if cfg.FetchTimeout == 0 {
		cfg.FetchTimeout = defaultFetchTimeout
	}
	if cfg.MaxRetries == 0 {
		cfg.MaxRetries = defaultMaxRetries
	}
	if cfg.HTTPClient == nil {
		cfg.HTTPClient = &http.Client{Timeout: cfg.FetchTimeout}
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}

	client := httprc.NewClient(httprc.WithHTTPClient(cfg.HTTPClient))
	cache, err := jwk.NewCache(ctx, client)
	if err != nil {
		return nil, fmt.Errorf("create JWKS cache: %w", err)
	}

	return &Provider{
		url:        cfg.URL,
		cache:      cache,
		maxRetries: cfg.MaxRetries,
		logger:     cfg.Logger,
	}, nil
}

// GetKey returns the raw public key for a kid. On a cache miss it
// refetches the key set, at most maxRetries times with exponential
// backoff; concurrent misses for the same kid share one refetch round.
func (p *Provider) GetKey(ctx context.Context, kid string) (any, error) {
	if err := p.ensureRegistered(ctx); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}

	if raw, ok := p.lookup(ctx, kid); ok {
		return raw, nil
	}

	// Miss. One refetch round per kid at a time.
	_, err, _ := p.refetch.Do(kid, func() (any, error) {
		return nil, p.refresh(ctx)
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}

	if raw, ok := p.lookup(ctx, kid); ok {
		return raw, nil
	}
	return nil, ErrKeyNotFound
}

// lookup consults the cached key set without triggering a fetch beyond
// the cache's own refresh policy.
func (p *Provider) lookup(ctx context.Context, kid string) (any, bool) {
	set, err := p.cache.Lookup(ctx, p.url)
	if err != nil {
		return nil, false
	}

	key, ok := set.LookupKeyID(kid)
	if !ok {
		return nil, false
	}

	var raw any
	if err := jwk.Export(key, &raw); err != nil {
		p.logger.Warn("Failed to export JWK", zap.String("kid", kid), zap.Error(err))
		return nil, false
	}
	return raw, true
}

// refresh forces a refetch of the key set with bounded retries.
func (p *Provider) refresh(ctx context.Context) error {
	var lastErr error
	backoff := retryBaseBackoff

	for attempt := 0; attempt < p.maxRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-time.After(backoff):
			case <-ctx.Done():
				return ctx.Err()
			}
			backoff *= 2
		}

		if _, err := p.cache.Refresh(ctx, p.url); err != nil {
			lastErr = err
			continue
		}
		return nil
	}

	return fmt.Errorf("refresh after %d attempts: %w", p.maxRetries, lastErr)
}

func (p *Provider) ensureRegistered(ctx context.Context) error {
	p.regMu.Lock()
	defer p.regMu.Unlock()

	if p.regDone {
		return nil
	}

	regCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	if err := p.cache.Register(regCtx, p.url); err != nil {
		// A prior attempt may have left the resource registered; if the
		// key set is reachable through it, the retry error is a
		// duplicate and registration is effectively done.
		if _, lerr := p.cache.Lookup(regCtx, p.url); lerr != nil {
			return err
		}
	}
	p.regDone = true
	return nil
}
