// Package api is the HTTP admission surface: the middleware chain that
// authenticates, tenant-scopes, and authorizes every request under the
// API prefix.
package api

import (
	"context"
	"database/sql"
	"errors"
	"net/http"

	"github.com/car-platform/go-core/internal/auth"
	"github.com/car-platform/go-core/internal/tenant"
)

// contextKey is a private type so context values cannot collide.
type contextKey string

const admissionStateKey contextKey = "admission_state"

// ErrContextMissing means a handler asked for admission state on a
// request the middleware never processed. Always a wiring bug; surfaces
// as 500.
var ErrContextMissing = errors.New("admission context missing")

// requestState is everything admission attaches to one request. It is
// owned by the worker handling the request and discarded with it; the
// authorization memo in particular must never outlive the request.
type requestState struct {
	claims   *auth.Claims
	tenantID string
	lease    *tenant.Lease

	// memo caches guard decisions within this request only.
	memo map[string]bool
}

func withState(r *http.Request, st *requestState) *http.Request {
	return r.WithContext(context.WithValue(r.Context(), admissionStateKey, st))
}

func stateFrom(r *http.Request) (*requestState, bool) {
	st, ok := r.Context().Value(admissionStateKey).(*requestState)
	return st, ok
}

// RequestClaims returns the authenticated claims for the request.
func RequestClaims(r *http.Request) (*auth.Claims, error) {
	st, ok := stateFrom(r)
	if !ok {
		return nil, ErrContextMissing
	}
	return st.claims, nil
}

// TenantID returns the canonical tenant id for the request.
func TenantID(r *http.Request) (string, error) {
	st, ok := stateFrom(r)
	if !ok {
		return "", ErrContextMissing
	}
	return st.tenantID, nil
}

// TenantDB returns the tenant's database engine. The engine is valid
// for the lifetime of the request; handlers must not retain it.
func TenantDB(r *http.Request) (*sql.DB, error) {
	st, ok := stateFrom(r)
	if !ok {
		return nil, ErrContextMissing
	}
	return st.lease.DB(), nil
}
