// Package audit emits authorization-denial events. Events are produced
// synchronously by the guard and delivered asynchronously to the sink,
// so a slow sink never blocks a request.
package audit

import "time"

// Decision kinds.
const (
	DecisionRole       = "role"
	DecisionAnyRole    = "any_role"
	DecisionPermission = "permission"
)

// Event is one authorization denial.
type Event struct {
	Timestamp      time.Time `json:"timestamp"`
	UserID         string    `json:"user_id"`
	TenantID       string    `json:"tenant_id"`
	RolesPresented []string  `json:"roles_presented"`
	Endpoint       string    `json:"endpoint"`
	DecisionKind   string    `json:"decision_kind"`
	Requirement    string    `json:"requirement"`
	Reason         string    `json:"reason"`
}
