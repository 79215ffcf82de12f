package classlab

import (
	"errors"
	"fmt"
	"net/http"
	"time"
)

// Stable state-conflict messages. Clients and tests key off these exact
// strings; do not reword them.
const (
	MsgReopenActiveExists = "Cannot reopen session: An active session already exists for this section."
	MsgReopenNotCompleted = "Only completed sessions can be reopened"
	MsgDeleteLastAdmin    = "Cannot delete the last namespace admin account"
	MsgDemoteLastAdmin    = "Cannot demote the last namespace admin account"
	MsgSelfDelete         = "Cannot delete your own account"
	MsgSelfDemote         = "Cannot change your own role"
)

// AuthenticationError means the caller has no live session. Always 401 and
// never reveals whether a resource exists.
type AuthenticationError struct {
	Message string
}

func (e *AuthenticationError) Error() string { return e.Message }

func (e *AuthenticationError) HTTPStatus() int { return http.StatusUnauthorized }

func NewAuthenticationError(msg string) *AuthenticationError {
	if msg == "" {
		msg = "authentication required"
	}
	return &AuthenticationError{Message: msg}
}

// AuthorizationError means the caller is authenticated but forbidden: wrong
// role, wrong namespace, or a missing permission (named when applicable).
type AuthorizationError struct {
	Message    string
	Permission Permission
}

func (e *AuthorizationError) Error() string { return e.Message }

func (e *AuthorizationError) HTTPStatus() int { return http.StatusForbidden }

func NewAuthorizationError(msg string) *AuthorizationError {
	return &AuthorizationError{Message: msg}
}

// NewMissingPermissionError names the permission the caller lacks.
func NewMissingPermissionError(p Permission) *AuthorizationError {
	return &AuthorizationError{
		Message:    fmt.Sprintf("missing required permission: %s", p),
		Permission: p,
	}
}

// StateConflictError is a well-formed request that violates a state
// invariant (reopening into an occupied section, deleting the last admin,
// self-demotion). Reported as 400 with a stable message.
type StateConflictError struct {
	Message string
}

func (e *StateConflictError) Error() string { return e.Message }

func (e *StateConflictError) HTTPStatus() int { return http.StatusBadRequest }

func NewStateConflictError(msg string) *StateConflictError {
	return &StateConflictError{Message: msg}
}

// NotFoundError covers both genuinely absent resources and resources hidden
// from the caller by the namespace boundary.
type NotFoundError struct {
	Resource string
}

func (e *NotFoundError) Error() string {
	if e.Resource == "" {
		return "not found"
	}
	return e.Resource + " not found"
}

func (e *NotFoundError) HTTPStatus() int { return http.StatusNotFound }

func NewNotFoundError(resource string) *NotFoundError {
	return &NotFoundError{Resource: resource}
}

// RateLimitError is a 429 with retry metadata. Daily distinguishes the
// daily-cap sub-kind from a per-window breach; the two carry different
// messages.
type RateLimitError struct {
	Message   string
	Daily     bool
	Remaining int
	Reset     time.Time
}

func (e *RateLimitError) Error() string { return e.Message }

func (e *RateLimitError) HTTPStatus() int { return http.StatusTooManyRequests }

// RetryAfterSeconds derives the Retry-After header value from Reset.
// Never less than 1.
func (e *RateLimitError) RetryAfterSeconds() int {
	secs := int(time.Until(e.Reset).Seconds())
	if secs < 1 {
		secs = 1
	}
	return secs
}

// SandboxWarmupError wraps a failure inside sandbox preparation. It is
// logged at the orchestration boundary and never propagated to a response.
type SandboxWarmupError struct {
	SessionID string
	Err       error
}

func (e *SandboxWarmupError) Error() string {
	return fmt.Sprintf("sandbox warmup failed for session %s: %v", e.SessionID, e.Err)
}

func (e *SandboxWarmupError) Unwrap() error { return e.Err }

// statusCarrier is implemented by every error kind in the taxonomy.
type statusCarrier interface {
	error
	HTTPStatus() int
}

// HTTPStatus maps any error to the status contract: a taxonomy error
// reports its own status, anything else is a 500.
func HTTPStatus(err error) int {
	var sc statusCarrier
	if errors.As(err, &sc) {
		return sc.HTTPStatus()
	}
	return http.StatusInternalServerError
}
