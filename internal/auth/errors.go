package auth

import "errors"

// Credential validation errors. All of them surface to clients as 401;
// the middleware maps each to its human message.
var (
	// ErrMissingToken is returned when no bearer credential is present.
	ErrMissingToken = errors.New("missing authentication token")

	// ErrMalformedToken is returned when the credential is not a parseable
	// JWT, or the JWT header lacks a key id.
	ErrMalformedToken = errors.New("malformed token")

	// ErrAlgorithmNotAllowed is returned when the token declares a signing
	// algorithm outside the configured set.
	ErrAlgorithmNotAllowed = errors.New("token algorithm not allowed")

	// ErrUnknownKey is returned when the declared kid cannot be resolved
	// from the key set even after a refetch.
	ErrUnknownKey = errors.New("unknown signing key")

	// ErrBadSignature is returned when signature verification fails.
	ErrBadSignature = errors.New("invalid token signature")

	// ErrExpired is returned for expired or not-yet-valid tokens.
	ErrExpired = errors.New("token expired")

	// ErrWrongAudience is returned when aud does not match the configured
	// audience.
	ErrWrongAudience = errors.New("token audience mismatch")

	// ErrMissingTenantID is returned when the tenant claim is absent.
	ErrMissingTenantID = errors.New("token missing tenant_id claim")

	// ErrMalformedTenantID is returned when the tenant claim is present
	// but not a UUID.
	ErrMalformedTenantID = errors.New("tenant_id claim is not a valid UUID")

	// ErrRevoked is returned for service-account tokens whose record is
	// revoked. Revocation is checked before signature verification.
	ErrRevoked = errors.New("token has been revoked")
)

// ErrJWKSUnavailable is an infrastructure failure: the key set could
// not be fetched after retries. It surfaces as 503, not 401.
var ErrJWKSUnavailable = errors.New("key set unavailable")
