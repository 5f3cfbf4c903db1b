package api

import (
	"fmt"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/car-platform/go-core/internal/audit"
	"github.com/car-platform/go-core/internal/auth"
	"github.com/car-platform/go-core/internal/authz"
	"github.com/car-platform/go-core/internal/metrics"
)

// Guard enforces per-endpoint role and permission requirements against
// the claims attached by admission. Every denial emits one audit
// event.
type Guard struct {
	audit   audit.Logger
	metrics *metrics.Metrics
	logger  *zap.Logger
}

// NewGuard creates a guard. A nil audit logger discards events.
func NewGuard(auditLogger audit.Logger, m *metrics.Metrics, logger *zap.Logger) *Guard {
	if auditLogger == nil {
		auditLogger = audit.NopLogger{}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Guard{audit: auditLogger, metrics: m, logger: logger}
}

// RequireRole allows the request iff the claims carry the role.
func (g *Guard) RequireRole(role string) func(http.Handler) http.Handler {
	requirement := strings.ToLower(role)
	detail := fmt.Sprintf("Required role(s): %s", requirement)

	return g.middleware(audit.DecisionRole, requirement, detail, func(c *auth.Claims) bool {
		return c.HasRole(role)
	})
}

// RequireAnyRole allows the request iff the claims carry at least one
// of the roles.
func (g *Guard) RequireAnyRole(roles ...string) func(http.Handler) http.Handler {
	normalized := authz.Normalize(roles)
	requirement := strings.Join(normalized, ",")
	detail := fmt.Sprintf("Required role(s): %s", strings.Join(normalized, ", "))

	return g.middleware(audit.DecisionAnyRole, requirement, detail, func(c *auth.Claims) bool {
		return c.HasAnyRole(roles...)
	})
}

// RequirePermission allows the request iff any claimed role grants the
// permission.
func (g *Guard) RequirePermission(perm authz.Permission) func(http.Handler) http.Handler {
	requirement := string(perm)
	detail := fmt.Sprintf("Required permission: %s", requirement)

	return g.middleware(audit.DecisionPermission, requirement, detail, func(c *auth.Claims) bool {
		return c.HasPermission(perm)
	})
}

func (g *Guard) middleware(kind, requirement, denialDetail string, allow func(*auth.Claims) bool) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			st, ok := stateFrom(r)
			if !ok {
				// Guard without admission is a wiring bug.
				g.logger.Error("Authorization guard reached without admission state",
					zap.String("path", r.URL.Path),
				)
				writeInternal(w)
				return
			}

			key := memoKey(st, kind, requirement)
			allowed, seen := st.memo[key]
			if !seen {
				allowed = allow(st.claims)
				st.memo[key] = allowed

				if !allowed {
					// One event per denied decision; memo replays do not
					// re-emit.
					g.deny(r, st, kind, requirement)
				}
			}

			if !allowed {
				writeError(w, http.StatusForbidden, denialDetail, "")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func (g *Guard) deny(r *http.Request, st *requestState, kind, requirement string) {
	g.audit.Emit(audit.Event{
		Timestamp:      time.Now().UTC(),
		UserID:         st.claims.Subject,
		TenantID:       st.tenantID,
		RolesPresented: st.claims.Roles,
		Endpoint:       r.URL.Path,
		DecisionKind:   kind,
		Requirement:    requirement,
		Reason:         "requirement not satisfied by presented roles",
	})

	if g.metrics != nil {
		g.metrics.Denial(kind)
	}
	g.logger.Info("Authorization denied",
		zap.String("tenant_id", st.tenantID),
		zap.String("subject", st.claims.Subject),
		zap.String("decision_kind", kind),
		zap.String("requirement", requirement),
		zap.Strings("roles_presented", st.claims.Roles),
		zap.String("path", r.URL.Path),
	)
}

// memoKey scopes a decision to the request's identity and requirement.
func memoKey(st *requestState, kind, requirement string) string {
	return strings.Join([]string{
		st.tenantID,
		st.claims.Subject,
		strings.Join(st.claims.Roles, ","),
		kind,
		requirement,
	}, "|")
}
