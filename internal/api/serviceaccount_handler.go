package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"go.uber.org/zap"

	"github.com/car-platform/go-core/internal/auth/serviceaccount"
	"github.com/car-platform/go-core/internal/authz"
)

// RevocationMarker pushes a revoked hash to the shared cache so other
// instances converge faster than the refresh window.
type RevocationMarker interface {
	MarkRevoked(ctx context.Context, hash string) error
}

// ServiceAccountHandler exposes the tenant-admin token endpoints. The
// router mounts it behind RequireRole("admin").
type ServiceAccountHandler struct {
	store       serviceaccount.Store
	generator   *serviceaccount.Generator
	revocations RevocationMarker
	logger      *zap.Logger
}

// NewServiceAccountHandler creates the handler. revocations may be nil.
func NewServiceAccountHandler(store serviceaccount.Store, revocations RevocationMarker, logger *zap.Logger) *ServiceAccountHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ServiceAccountHandler{
		store:       store,
		generator:   serviceaccount.NewGenerator(),
		revocations: revocations,
		logger:      logger,
	}
}

// Register mounts the routes on a router already scoped to the
// service-account prefix.
func (h *ServiceAccountHandler) Register(r *mux.Router) {
	r.HandleFunc("", h.Create).Methods(http.MethodPost)
	r.HandleFunc("", h.List).Methods(http.MethodGet)
	r.HandleFunc("/{token_id}", h.Revoke).Methods(http.MethodDelete)
}

// Create mints a new token. The plain secret appears in this response
// and nowhere else, ever.
func (h *ServiceAccountHandler) Create(w http.ResponseWriter, r *http.Request) {
	claims, err := RequestClaims(r)
	if err != nil {
		writeInternal(w)
		return
	}
	tenantID, err := uuid.Parse(claims.TenantID)
	if err != nil {
		writeInternal(w)
		return
	}

	var req serviceaccount.CreateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Request body is not valid JSON", "")
		return
	}
	if req.Name == "" {
		writeError(w, http.StatusBadRequest, "Token name is required", "")
		return
	}
	if !authz.ValidRole(req.Role) {
		writeError(w, http.StatusBadRequest, "Role must be one of: admin, analyst, viewer, ingestion", "")
		return
	}

	secret, hash, err := h.generator.Generate()
	if err != nil {
		h.logger.Error("Secret generation failed", zap.Error(err))
		writeInternal(w)
		return
	}

	tok := &serviceaccount.Token{
		TenantID:  tenantID,
		TokenHash: hash,
		Name:      req.Name,
		Role:      req.Role,
		CreatedBy: claims.Subject,
	}
	if err := h.store.Insert(r.Context(), tok); err != nil {
		h.logger.Error("Token insert failed", zap.Error(err))
		writeInternal(w)
		return
	}

	h.logger.Info("Service account token created",
		zap.String("tenant_id", claims.TenantID),
		zap.String("token_id", tok.TokenID.String()),
		zap.String("name", tok.Name),
		zap.String("role", tok.Role),
	)
	writeJSON(w, http.StatusCreated, serviceaccount.CreateResponse{
		Token:     secret,
		TokenID:   tok.TokenID,
		TenantID:  tok.TenantID,
		Name:      tok.Name,
		Role:      tok.Role,
		CreatedAt: tok.CreatedAt,
	})
}

// List returns the tenant's tokens, hashes excluded by the Token json
// tags.
func (h *ServiceAccountHandler) List(w http.ResponseWriter, r *http.Request) {
	claims, err := RequestClaims(r)
	if err != nil {
		writeInternal(w)
		return
	}
	tenantID, err := uuid.Parse(claims.TenantID)
	if err != nil {
		writeInternal(w)
		return
	}

	toks, err := h.store.ListByTenant(r.Context(), tenantID)
	if err != nil {
		h.logger.Error("Token list failed", zap.Error(err))
		writeInternal(w)
		return
	}
	if toks == nil {
		toks = []*serviceaccount.Token{}
	}

	writeJSON(w, http.StatusOK, map[string]any{"tokens": toks})
}

// Revoke latches a token revoked. Scoped to the caller's tenant; a
// token id from another tenant reads as not found.
func (h *ServiceAccountHandler) Revoke(w http.ResponseWriter, r *http.Request) {
	claims, err := RequestClaims(r)
	if err != nil {
		writeInternal(w)
		return
	}
	tenantID, err := uuid.Parse(claims.TenantID)
	if err != nil {
		writeInternal(w)
		return
	}

	tokenID, err := uuid.Parse(mux.Vars(r)["token_id"])
	if err != nil {
		writeError(w, http.StatusBadRequest, "Token id must be a UUID", "")
		return
	}

	if err := h.store.Revoke(r.Context(), tokenID, tenantID); err != nil {
		if errors.Is(err, serviceaccount.ErrTokenNotFound) {
			writeError(w, http.StatusNotFound, "Token not found", "")
			return
		}
		h.logger.Error("Token revoke failed", zap.Error(err))
		writeInternal(w)
		return
	}

	h.markRevoked(r.Context(), tenantID, tokenID)

	h.logger.Warn("Service account token revoked",
		zap.String("tenant_id", claims.TenantID),
		zap.String("token_id", tokenID.String()),
		zap.String("revoked_by", claims.Subject),
	)
	w.WriteHeader(http.StatusNoContent)
}

// markRevoked propagates the hash to the shared revocation cache.
// Best effort: the store remains authoritative.
func (h *ServiceAccountHandler) markRevoked(ctx context.Context, tenantID, tokenID uuid.UUID) {
	if h.revocations == nil {
		return
	}

	toks, err := h.store.ListByTenant(ctx, tenantID)
	if err != nil {
		h.logger.Warn("Revocation cache update skipped", zap.Error(err))
		return
	}
	for _, tok := range toks {
		if tok.TokenID == tokenID {
			if err := h.revocations.MarkRevoked(ctx, tok.TokenHash); err != nil {
				h.logger.Warn("Revocation cache update failed", zap.Error(err))
			}
			return
		}
	}
}
