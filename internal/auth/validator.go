package auth

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/car-platform/go-core/internal/auth/jwks"
	"github.com/car-platform/go-core/internal/auth/serviceaccount"
	"github.com/car-platform/go-core/internal/authz"
)

// allowedAlgorithms is the closed set of acceptable signing algorithms.
var allowedAlgorithms = map[string]struct{}{
	"RS256": {},
	"ES256": {},
}

const (
	revocationLookupTimeout = time.Second
	lastUsedUpdateTimeout   = 5 * time.Second
)

// KeyProvider resolves a signing key by key id.
type KeyProvider interface {
	GetKey(ctx context.Context, kid string) (any, error)
}

// RevocationChecker is an optional fast-path revocation set consulted
// before the store (see serviceaccount.RevocationCache).
type RevocationChecker interface {
	IsRevoked(hash string) bool
}

// ValidatorConfig contains configuration for token validation.
type ValidatorConfig struct {
	// Audience is the expected aud claim. Required.
	Audience string

	// Algorithms restricts acceptable signing algorithms. Each entry
	// must be RS256 or ES256. Defaults to both.
	Algorithms []string

	// Keys resolves JWT signing keys. Required.
	Keys KeyProvider

	// Tokens is the service-account token store. Required; the
	// revocation precheck runs before any JWT parsing.
	Tokens serviceaccount.Store

	// Revocations is the optional shared revoked-hash cache.
	Revocations RevocationChecker

	Logger *zap.Logger
}

// Validator turns raw bearer tokens into Claims. It is safe for
// parallel use; all shared state lives in the key provider and stores.
type Validator struct {
	audience    string
	algorithms  []string
	keys        KeyProvider
	tokens      serviceaccount.Store
	revocations RevocationChecker
	logger      *zap.Logger
}

// NewValidator creates a token validator.
func NewValidator(cfg ValidatorConfig) (*Validator, error) {
	if cfg.Audience == "" {
		return nil, fmt.Errorf("audience is required")
	}
	if cfg.Keys == nil {
		return nil, fmt.Errorf("key provider is required")
	}
	if cfg.Tokens == nil {
		return nil, fmt.Errorf("service account token store is required")
	}
	if len(cfg.Algorithms) == 0 {
		cfg.Algorithms = []string{"RS256", "ES256"}
	}
	for _, alg := range cfg.Algorithms {
		if _, ok := allowedAlgorithms[alg]; !ok {
			return nil, fmt.Errorf("unsupported algorithm %q (allowed: RS256, ES256)", alg)
		}
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}

	return &Validator{
		audience:    cfg.Audience,
		algorithms:  cfg.Algorithms,
		keys:        cfg.Keys,
		tokens:      cfg.Tokens,
		revocations: cfg.Revocations,
		logger:      cfg.Logger,
	}, nil
}

// Validate resolves a raw token to Claims or a typed failure. The
// service-account hash lookup runs before JWT parsing so a revoked
// service token can never be accepted on signature alone.
func (v *Validator) Validate(ctx context.Context, raw string) (*Claims, error) {
	if raw == "" {
		return nil, ErrMissingToken
	}

	if claims, done, err := v.checkServiceAccount(ctx, raw); done {
		return claims, err
	}

	return v.validateJWT(ctx, raw)
}

// checkServiceAccount performs the revocation precheck. done is true
// when the token matched a service-account record (live or revoked) and
// JWT validation must not run.
func (v *Validator) checkServiceAccount(ctx context.Context, raw string) (*Claims, bool, error) {
	hash := serviceaccount.HashSecret(raw)

	if v.revocations != nil && v.revocations.IsRevoked(hash) {
		v.logger.Warn("Revoked service account token presented")
		return nil, true, ErrRevoked
	}

	lookupCtx, cancel := context.WithTimeout(ctx, revocationLookupTimeout)
	defer cancel()

	rec, err := v.tokens.FindByHash(lookupCtx, hash)
	if err != nil {
		if !errors.Is(err, serviceaccount.ErrTokenNotFound) {
			// The store is unavailable. Opaque tokens will fail JWT
			// parsing anyway, so falling through keeps JWT traffic alive
			// without accepting anything unverified.
			v.logger.Warn("Service account lookup failed", zap.Error(err))
		}
		return nil, false, nil
	}

	if rec.IsRevoked {
		v.logger.Warn("Revoked service account token presented",
			zap.String("token_id", rec.TokenID.String()),
			zap.String("tenant_id", rec.TenantID.String()),
		)
		return nil, true, ErrRevoked
	}

	// Usage tracking is at-least-once and may lag the response.
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), lastUsedUpdateTimeout)
		defer cancel()
		_ = v.tokens.UpdateLastUsed(ctx, hash)
	}()

	return &Claims{
		Subject:        rec.TokenID.String(),
		TenantID:       rec.TenantID.String(),
		Roles:          []string{strings.ToLower(rec.Role)},
		ServiceAccount: true,
	}, true, nil
}

func (v *Validator) validateJWT(ctx context.Context, raw string) (*Claims, error) {
	kid, err := v.vetHeader(raw)
	if err != nil {
		return nil, err
	}

	token, err := jwt.Parse(raw,
		func(*jwt.Token) (any, error) { return v.resolveKey(ctx, kid) },
		jwt.WithValidMethods(v.algorithms),
		jwt.WithAudience(v.audience),
		jwt.WithExpirationRequired(),
	)
	if err != nil {
		return nil, mapJWTError(err)
	}
	if !token.Valid {
		return nil, ErrBadSignature
	}

	mapClaims, ok := token.Claims.(jwt.MapClaims)
	if !ok {
		return nil, ErrMalformedToken
	}

	return claimsFromJWT(mapClaims)
}

// vetHeader decodes the header without verification and rejects bad
// algorithms and missing kids before any key resolution happens.
func (v *Validator) vetHeader(raw string) (string, error) {
	token, _, err := jwt.NewParser().ParseUnverified(raw, jwt.MapClaims{})
	if err != nil {
		return "", ErrMalformedToken
	}

	alg, _ := token.Header["alg"].(string)
	if !v.algorithmAllowed(alg) {
		return "", ErrAlgorithmNotAllowed
	}

	kid, _ := token.Header["kid"].(string)
	if kid == "" {
		return "", ErrMalformedToken
	}

	return kid, nil
}

func (v *Validator) algorithmAllowed(alg string) bool {
	for _, a := range v.algorithms {
		if a == alg {
			return true
		}
	}
	return false
}

func (v *Validator) resolveKey(ctx context.Context, kid string) (any, error) {
	key, err := v.keys.GetKey(ctx, kid)
	if err != nil {
		switch {
		case errors.Is(err, jwks.ErrKeyNotFound):
			return nil, ErrUnknownKey
		case errors.Is(err, jwks.ErrUnavailable):
			return nil, ErrJWKSUnavailable
		default:
			return nil, err
		}
	}
	return key, nil
}

// claimsFromJWT extracts and validates the namespaced custom claims.
func claimsFromJWT(mc jwt.MapClaims) (*Claims, error) {
	rawTenant, ok := mc[TenantIDClaim]
	if !ok {
		return nil, ErrMissingTenantID
	}
	tenantStr, ok := rawTenant.(string)
	if !ok {
		return nil, ErrMalformedTenantID
	}
	tenantUUID, err := uuid.Parse(tenantStr)
	if err != nil {
		return nil, ErrMalformedTenantID
	}

	claims := &Claims{
		TenantID: tenantUUID.String(),
		Roles:    rolesFromClaim(mc[RolesClaim]),
	}

	if sub, err := mc.GetSubject(); err == nil {
		claims.Subject = sub
	}
	if aud, err := mc.GetAudience(); err == nil {
		claims.Audience = aud
	}
	if iat, err := mc.GetIssuedAt(); err == nil && iat != nil {
		claims.IssuedAt = &iat.Time
	}
	if exp, err := mc.GetExpirationTime(); err == nil && exp != nil {
		claims.ExpiresAt = &exp.Time
	}

	return claims, nil
}

// rolesFromClaim lowercases the roles claim. Missing or malformed
// becomes the empty set, never an error.
func rolesFromClaim(raw any) []string {
	items, ok := raw.([]any)
	if !ok {
		return []string{}
	}

	roles := make([]string, 0, len(items))
	for _, item := range items {
		s, ok := item.(string)
		if !ok {
			return []string{}
		}
		roles = append(roles, s)
	}
	return authz.Normalize(roles)
}

func mapJWTError(err error) error {
	switch {
	case errors.Is(err, ErrUnknownKey),
		errors.Is(err, ErrJWKSUnavailable),
		errors.Is(err, ErrAlgorithmNotAllowed):
		// Sentinels raised inside the keyfunc pass through.
		return unwrapSentinel(err)
	case errors.Is(err, jwt.ErrTokenMalformed):
		return ErrMalformedToken
	case errors.Is(err, jwt.ErrTokenExpired), errors.Is(err, jwt.ErrTokenNotValidYet):
		return ErrExpired
	case errors.Is(err, jwt.ErrTokenInvalidAudience):
		return ErrWrongAudience
	case errors.Is(err, jwt.ErrTokenSignatureInvalid):
		return ErrBadSignature
	default:
		return ErrMalformedToken
	}
}

func unwrapSentinel(err error) error {
	for _, sentinel := range []error{ErrUnknownKey, ErrJWKSUnavailable, ErrAlgorithmNotAllowed} {
		if errors.Is(err, sentinel) {
			return sentinel
		}
	}
	return err
}
