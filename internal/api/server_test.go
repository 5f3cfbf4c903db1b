package api

import (
	"bytes"
	"context"
	"crypto/rand"
	"crypto/rsa"
	"database/sql"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	_ "github.com/lib/pq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/car-platform/go-core/internal/audit"
	"github.com/car-platform/go-core/internal/auth"
	"github.com/car-platform/go-core/internal/auth/serviceaccount"
	"github.com/car-platform/go-core/internal/authz"
	"github.com/car-platform/go-core/internal/controlplane"
	"github.com/car-platform/go-core/internal/crypto"
	"github.com/car-platform/go-core/internal/tenant"
)

const (
	testAudience = "https://api.car.platform"
	testKid      = "test-key"
)

type staticKeys struct {
	key *rsa.PublicKey
}

func (s *staticKeys) GetKey(context.Context, string) (any, error) {
	return s.key, nil
}

// captureLogger records audit events synchronously.
type captureLogger struct {
	mu     sync.Mutex
	events []audit.Event
}

func (c *captureLogger) Emit(e audit.Event) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.events = append(c.events, e)
}
func (c *captureLogger) Flush() error { return nil }
func (c *captureLogger) Close() error { return nil }

func (c *captureLogger) snapshot() []audit.Event {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]audit.Event(nil), c.events...)
}

type countingCP struct {
	controlplane.Store
	lookups atomic.Int64
}

func (s *countingCP) GetTenant(ctx context.Context, id uuid.UUID) (*controlplane.Tenant, error) {
	s.lookups.Add(1)
	return s.Store.GetTenant(ctx, id)
}

type testEnv struct {
	handler  http.Handler
	signKey  *rsa.PrivateKey
	cp       *countingCP
	backing  *controlplane.MemoryStore
	tokens   *serviceaccount.MemoryStore
	audit    *captureLogger
	dec      *crypto.Decryptor
	tenantID uuid.UUID
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	signKey, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)

	key, err := crypto.GenerateKey()
	require.NoError(t, err)
	dec, err := crypto.NewDecryptor(key)
	require.NoError(t, err)

	backing := controlplane.NewMemoryStore()
	cp := &countingCP{Store: backing}
	tokens := serviceaccount.NewMemoryStore()
	auditLog := &captureLogger{}

	validator, err := auth.NewValidator(auth.ValidatorConfig{
		Audience: testAudience,
		Keys:     &staticKeys{key: &signKey.PublicKey},
		Tokens:   tokens,
	})
	require.NoError(t, err)

	resolver, err := tenant.NewResolver(tenant.Config{
		Store:     cp,
		Decryptor: dec,
		OpenEngine: func(dsn string) (*sql.DB, error) {
			return sql.Open("postgres", dsn)
		},
		Probe: func(context.Context, *sql.DB) error { return nil },
	})
	require.NoError(t, err)
	t.Cleanup(func() { resolver.Close() })

	srv, err := NewServer(ServerConfig{
		Addr:       ":0",
		Validator:  validator,
		Resolver:   resolver,
		TokenStore: tokens,
		Audit:      auditLog,
	})
	require.NoError(t, err)

	env := &testEnv{
		signKey: signKey,
		cp:      cp,
		backing: backing,
		tokens:  tokens,
		audit:   auditLog,
		dec:     dec,
	}
	env.tenantID = env.addTenant(t, controlplane.StatusActive)

	// Representative downstream routes.
	api := srv.APIRouter()
	api.HandleFunc("/v1/documents", func(w http.ResponseWriter, r *http.Request) {
		id, err := TenantID(r)
		if err != nil {
			writeInternal(w)
			return
		}
		if _, err := TenantDB(r); err != nil {
			writeInternal(w)
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"tenant_id": id})
	}).Methods(http.MethodGet)

	upload := srv.Guard().RequirePermission(authz.PermUploadDocument)
	api.Handle("/v1/documents/upload",
		upload(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			w.WriteHeader(http.StatusAccepted)
		}))).Methods(http.MethodPost)

	api.HandleFunc("/v1/deadline", func(w http.ResponseWriter, r *http.Request) {
		_, ok := r.Context().Deadline()
		writeJSON(w, http.StatusOK, map[string]bool{"deadline": ok})
	}).Methods(http.MethodGet)

	doubleGuard := srv.Guard().RequirePermission(authz.PermCreateUser)
	api.Handle("/v1/users",
		doubleGuard(doubleGuard(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			w.WriteHeader(http.StatusOK)
		})))).Methods(http.MethodPost)

	env.handler = srv.Handler()
	return env
}

func (e *testEnv) addTenant(t *testing.T, status string) uuid.UUID {
	t.Helper()

	id := uuid.New()
	e.backing.AddTenant(&controlplane.Tenant{
		TenantID: id, Name: "tenant-" + id.String()[:8], Status: status,
	})
	encrypted, err := e.dec.Encrypt("postgresql://car:car@db:5432/"+controlplane.DatabaseName(id), "")
	require.NoError(t, err)
	e.backing.AddDatabase(&controlplane.TenantDatabase{
		ID: uuid.New(), TenantID: id,
		ConnectionStringEncrypted: encrypted,
		DatabaseName:              controlplane.DatabaseName(id),
		Status:                    controlplane.StatusActive,
	})
	return id
}

func (e *testEnv) signJWT(t *testing.T, mutate func(jwt.MapClaims)) string {
	t.Helper()

	claims := jwt.MapClaims{
		"sub": "auth0|user-1",
		"aud": testAudience,
		"iat": time.Now().Add(-time.Minute).Unix(),
		"exp": time.Now().Add(time.Hour).Unix(),
	}
	claims[auth.TenantIDClaim] = e.tenantID.String()
	claims[auth.RolesClaim] = []any{"analyst"}
	if mutate != nil {
		mutate(claims)
	}

	tok := jwt.NewWithClaims(jwt.SigningMethodRS256, claims)
	tok.Header["kid"] = testKid
	signed, err := tok.SignedString(e.signKey)
	require.NoError(t, err)
	return signed
}

func (e *testEnv) do(t *testing.T, method, path, token string, body []byte) *httptest.ResponseRecorder {
	t.Helper()

	var reader *bytes.Reader
	if body == nil {
		reader = bytes.NewReader(nil)
	} else {
		reader = bytes.NewReader(body)
	}
	req := httptest.NewRequest(method, path, reader)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	e.handler.ServeHTTP(rec, req)
	return rec
}

func decodeEnvelope(t *testing.T, rec *httptest.ResponseRecorder) errorEnvelope {
	t.Helper()

	var env errorEnvelope
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &env))
	return env
}

func TestHappyPathColdThenWarmCache(t *testing.T) {
	env := newTestEnv(t)
	token := env.signJWT(t, nil)

	// Cold: one control-plane read.
	rec := env.do(t, http.MethodGet, "/api/v1/documents", token, nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.EqualValues(t, 1, env.cp.lookups.Load())

	var body map[string]string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, env.tenantID.String(), body["tenant_id"])

	// Warm: control plane untouched, no audit events.
	rec = env.do(t, http.MethodGet, "/api/v1/documents", token, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.EqualValues(t, 1, env.cp.lookups.Load())
	assert.Empty(t, env.audit.snapshot())
}

func TestRequestContextCarriesDeadline(t *testing.T) {
	env := newTestEnv(t)
	token := env.signJWT(t, nil)

	rec := env.do(t, http.MethodGet, "/api/v1/deadline", token, nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var body map[string]bool
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.True(t, body["deadline"])
}

func TestRequestTimeoutExpiresContext(t *testing.T) {
	h := RequestTimeout(10 * time.Millisecond)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
			w.WriteHeader(http.StatusGatewayTimeout)
		case <-time.After(time.Second):
			w.WriteHeader(http.StatusOK)
		}
	}))

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/slow", nil))
	assert.Equal(t, http.StatusGatewayTimeout, rec.Code)
}

func TestMissingToken(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(t, http.MethodGet, "/api/v1/documents", "", nil)
	require.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Equal(t, "Bearer", rec.Header().Get("WWW-Authenticate"))

	env2 := decodeEnvelope(t, rec)
	assert.Equal(t, "Missing or invalid authentication token", env2.Detail)
	assert.Equal(t, "missing_tenant_id", env2.Error)
}

func TestRevokedServiceAccountToken(t *testing.T) {
	env := newTestEnv(t)

	secret, hash, err := serviceaccount.NewGenerator().Generate()
	require.NoError(t, err)
	tok := &serviceaccount.Token{
		TenantID: env.tenantID, TokenHash: hash, Name: "ci", Role: "ingestion",
	}
	require.NoError(t, env.tokens.Insert(context.Background(), tok))
	require.NoError(t, env.tokens.Revoke(context.Background(), tok.TokenID, env.tenantID))

	rec := env.do(t, http.MethodGet, "/api/v1/documents", secret, nil)
	require.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Equal(t, "Invalid or expired token", decodeEnvelope(t, rec).Detail)

	// AuthN failure: control plane untouched, no audit event.
	assert.EqualValues(t, 0, env.cp.lookups.Load())
	assert.Empty(t, env.audit.snapshot())
}

func TestInvalidTenantUUIDInClaim(t *testing.T) {
	env := newTestEnv(t)
	token := env.signJWT(t, func(c jwt.MapClaims) {
		c[auth.TenantIDClaim] = "not-uuid"
	})

	rec := env.do(t, http.MethodGet, "/api/v1/documents", token, nil)
	require.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Equal(t, "Invalid tenant_id format in token (must be UUID)", decodeEnvelope(t, rec).Detail)
	assert.EqualValues(t, 0, env.cp.lookups.Load(), "no control-plane read")
}

func TestInactiveTenant(t *testing.T) {
	env := newTestEnv(t)
	suspended := env.addTenant(t, controlplane.StatusSuspended)
	token := env.signJWT(t, func(c jwt.MapClaims) {
		c[auth.TenantIDClaim] = suspended.String()
	})

	rec := env.do(t, http.MethodGet, "/api/v1/documents", token, nil)
	require.Equal(t, http.StatusUnauthorized, rec.Code)

	got := decodeEnvelope(t, rec)
	assert.Equal(t, "Tenant not found or inactive", got.Detail)
	assert.Equal(t, "tenant_not_found_or_inactive", got.Error)
}

func TestAuthorizationDenialEmitsAudit(t *testing.T) {
	env := newTestEnv(t)
	token := env.signJWT(t, func(c jwt.MapClaims) {
		c[auth.RolesClaim] = []any{"viewer"}
	})

	rec := env.do(t, http.MethodPost, "/api/v1/documents/upload", token, nil)
	require.Equal(t, http.StatusForbidden, rec.Code)
	assert.Equal(t, "Required permission: upload_document", decodeEnvelope(t, rec).Detail)

	events := env.audit.snapshot()
	require.Len(t, events, 1)
	assert.Equal(t, audit.DecisionPermission, events[0].DecisionKind)
	assert.Equal(t, "upload_document", events[0].Requirement)
	assert.Equal(t, []string{"viewer"}, events[0].RolesPresented)
	assert.Equal(t, env.tenantID.String(), events[0].TenantID)
	assert.Equal(t, "auth0|user-1", events[0].UserID)
	assert.Equal(t, "/api/v1/documents/upload", events[0].Endpoint)
}

func TestGuardMemoizationSingleAuditEvent(t *testing.T) {
	env := newTestEnv(t)
	token := env.signJWT(t, func(c jwt.MapClaims) {
		c[auth.RolesClaim] = []any{"viewer"}
	})

	// Route guarded twice with the same requirement: one audit event.
	rec := env.do(t, http.MethodPost, "/api/v1/users", token, nil)
	require.Equal(t, http.StatusForbidden, rec.Code)
	assert.Len(t, env.audit.snapshot(), 1)
}

func TestGuardAllowsGrantedPermission(t *testing.T) {
	env := newTestEnv(t)
	token := env.signJWT(t, func(c jwt.MapClaims) {
		c[auth.RolesClaim] = []any{"Ingestion"}
	})

	rec := env.do(t, http.MethodPost, "/api/v1/documents/upload", token, nil)
	assert.Equal(t, http.StatusAccepted, rec.Code)
	assert.Empty(t, env.audit.snapshot())
}

func TestPathsOutsidePrefixBypassAdmission(t *testing.T) {
	env := newTestEnv(t)

	for _, path := range []string{"/healthz", "/readyz"} {
		rec := env.do(t, http.MethodGet, path, "", nil)
		assert.Equal(t, http.StatusOK, rec.Code, path)
	}
}

func TestServiceAccountLifecycle(t *testing.T) {
	env := newTestEnv(t)
	adminJWT := env.signJWT(t, func(c jwt.MapClaims) {
		c[auth.RolesClaim] = []any{"admin"}
	})

	// Create.
	body, _ := json.Marshal(serviceaccount.CreateRequest{Name: "nightly-loader", Role: "ingestion"})
	rec := env.do(t, http.MethodPost, "/api/v1/auth/service-accounts", adminJWT, body)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	var created serviceaccount.CreateResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &created))
	require.NotEmpty(t, created.Token)

	// The minted secret authenticates.
	rec = env.do(t, http.MethodGet, "/api/v1/documents", created.Token, nil)
	require.Equal(t, http.StatusOK, rec.Code)

	// List excludes hashes.
	rec = env.do(t, http.MethodGet, "/api/v1/auth/service-accounts", adminJWT, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.NotContains(t, rec.Body.String(), "token_hash")
	assert.Contains(t, rec.Body.String(), "nightly-loader")

	// Revoke, then the secret stops working.
	rec = env.do(t, http.MethodDelete,
		fmt.Sprintf("/api/v1/auth/service-accounts/%s", created.TokenID), adminJWT, nil)
	require.Equal(t, http.StatusNoContent, rec.Code)

	rec = env.do(t, http.MethodGet, "/api/v1/documents", created.Token, nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestServiceAccountEndpointsRequireAdmin(t *testing.T) {
	env := newTestEnv(t)
	analystJWT := env.signJWT(t, nil) // analyst role

	rec := env.do(t, http.MethodGet, "/api/v1/auth/service-accounts", analystJWT, nil)
	require.Equal(t, http.StatusForbidden, rec.Code)
	assert.Equal(t, "Required role(s): admin", decodeEnvelope(t, rec).Detail)
}

func TestServiceAccountCreateValidation(t *testing.T) {
	env := newTestEnv(t)
	adminJWT := env.signJWT(t, func(c jwt.MapClaims) {
		c[auth.RolesClaim] = []any{"admin"}
	})

	tests := []struct {
		name string
		body string
	}{
		{"bad json", "{"},
		{"missing name", `{"role": "viewer"}`},
		{"bad role", `{"name": "x", "role": "superuser"}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := env.do(t, http.MethodPost, "/api/v1/auth/service-accounts", adminJWT, []byte(tt.body))
			assert.Equal(t, http.StatusBadRequest, rec.Code)
		})
	}
}

func TestContextAccessorsWithoutAdmission(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/", nil)

	_, err := RequestClaims(req)
	assert.ErrorIs(t, err, ErrContextMissing)
	_, err = TenantID(req)
	assert.ErrorIs(t, err, ErrContextMissing)
	_, err = TenantDB(req)
	assert.ErrorIs(t, err, ErrContextMissing)
}

func TestRecoveryTurnsPanicsInto500(t *testing.T) {
	handler := Recovery(nil)(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		panic("boom")
	}))

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
}
