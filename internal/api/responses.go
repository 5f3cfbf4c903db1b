package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/car-platform/go-core/internal/auth"
	"github.com/car-platform/go-core/internal/crypto"
	"github.com/car-platform/go-core/internal/tenant"
)

// Canonical response bodies. Exactly two 401 shapes exist: "your token
// is bad" (with WWW-Authenticate) and "your tenant is unknown or
// inactive" (with the error code). Tenant-side detail never leaks.
const (
	detailMissingToken    = "Missing or invalid authentication token"
	detailInvalidToken    = "Invalid or expired token"
	detailMissingTenantID = "Token missing tenant_id claim"
	detailBadTenantID     = "Invalid tenant_id format in token (must be UUID)"
	detailTenantNotFound  = "Tenant not found or inactive"
	detailUnavailable     = "Service temporarily unavailable"
	detailInternal        = "Internal server error"

	codeMissingTenantID          = "missing_tenant_id"
	codeTenantNotFoundOrInactive = "tenant_not_found_or_inactive"
)

// errorEnvelope is the wire shape of every error response.
type errorEnvelope struct {
	Detail string `json:"detail"`
	Error  string `json:"error,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func writeError(w http.ResponseWriter, status int, detail, code string) {
	writeJSON(w, status, errorEnvelope{Detail: detail, Error: code})
}

func writeUnauthorized(w http.ResponseWriter, detail, code string) {
	w.Header().Set("WWW-Authenticate", "Bearer")
	writeError(w, http.StatusUnauthorized, detail, code)
}

func writeInternal(w http.ResponseWriter) {
	writeError(w, http.StatusInternalServerError, detailInternal, "")
}

// authFailure maps a validation error to its response. reason feeds the
// failure-counter label.
type authFailure struct {
	status int
	detail string
	code   string
	reason string
}

func classifyAuthError(err error) authFailure {
	switch {
	case errors.Is(err, auth.ErrMissingToken):
		return authFailure{http.StatusUnauthorized, detailMissingToken, codeMissingTenantID, "missing_token"}
	case errors.Is(err, auth.ErrMissingTenantID):
		return authFailure{http.StatusUnauthorized, detailMissingTenantID, "", "missing_tenant_id"}
	case errors.Is(err, auth.ErrMalformedTenantID):
		return authFailure{http.StatusUnauthorized, detailBadTenantID, "", "malformed_tenant_id"}
	case errors.Is(err, auth.ErrRevoked):
		return authFailure{http.StatusUnauthorized, detailInvalidToken, "", "revoked"}
	case errors.Is(err, auth.ErrExpired):
		return authFailure{http.StatusUnauthorized, detailInvalidToken, "", "expired"}
	case errors.Is(err, auth.ErrWrongAudience):
		return authFailure{http.StatusUnauthorized, detailInvalidToken, "", "wrong_audience"}
	case errors.Is(err, auth.ErrBadSignature):
		return authFailure{http.StatusUnauthorized, detailInvalidToken, "", "bad_signature"}
	case errors.Is(err, auth.ErrUnknownKey):
		return authFailure{http.StatusUnauthorized, detailInvalidToken, "", "unknown_key"}
	case errors.Is(err, auth.ErrAlgorithmNotAllowed):
		return authFailure{http.StatusUnauthorized, detailInvalidToken, "", "algorithm_not_allowed"}
	case errors.Is(err, auth.ErrJWKSUnavailable):
		return authFailure{http.StatusServiceUnavailable, detailUnavailable, "", "jwks_unavailable"}
	case errors.Is(err, auth.ErrMalformedToken):
		return authFailure{http.StatusUnauthorized, detailInvalidToken, "", "malformed"}
	default:
		return authFailure{http.StatusUnauthorized, detailInvalidToken, "", "other"}
	}
}

// resolveFailure maps a resolver error to its response. Tenant absence
// and inactivity share one body on purpose.
func classifyResolveError(err error) authFailure {
	switch {
	case errors.Is(err, tenant.ErrTenantNotFound),
		errors.Is(err, tenant.ErrTenantInactive),
		errors.Is(err, tenant.ErrInvalidTenantID):
		return authFailure{http.StatusUnauthorized, detailTenantNotFound, codeTenantNotFoundOrInactive, "tenant_not_found_or_inactive"}
	case errors.Is(err, tenant.ErrConnectionTestFailed):
		return authFailure{http.StatusServiceUnavailable, detailUnavailable, "", "connection_test_failed"}
	case errors.Is(err, crypto.ErrDecrypt):
		// Fail closed with no detail at all.
		return authFailure{http.StatusInternalServerError, detailInternal, "", "crypto_failure"}
	default:
		return authFailure{http.StatusInternalServerError, detailInternal, "", "resolver_failure"}
	}
}
