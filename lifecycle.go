package classlab

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/classlab/classlab/logger"
)

// SessionStore persists sessions. Implementations are the authoritative
// enforcers of the one-active-session-per-section invariant: CreateSession
// and UpdateSession must reject a write that would leave two active
// sessions in the same (namespace, section) pair, surfacing the rejection
// as a StateConflictError. The service-layer checks in LifecycleManager are
// only an early, user-friendly rejection path.
type SessionStore interface {
	CreateSession(ctx context.Context, s *Session) error
	GetSession(ctx context.Context, id string) (*Session, error)
	UpdateSession(ctx context.Context, s *Session) error
	// ActiveSessionForSection returns the currently active session in the
	// section, or (nil, nil) when there is none.
	ActiveSessionForSection(ctx context.Context, namespaceID, sectionID string) (*Session, error)
}

// LifecycleManager drives the session state machine: create, complete, and
// the reverse transition reopen. It holds no state of its own.
type LifecycleManager struct {
	store        SessionStore
	rbac         *Evaluator
	orchestrator *SandboxOrchestrator
	logger       logger.Logger
	now          func() time.Time
	newID        func() string
}

// LifecycleOption configures a LifecycleManager.
type LifecycleOption func(*LifecycleManager)

func WithLifecycleLogger(l logger.Logger) LifecycleOption {
	return func(m *LifecycleManager) { m.logger = l }
}

func NewLifecycleManager(store SessionStore, rbac *Evaluator, orchestrator *SandboxOrchestrator, opts ...LifecycleOption) *LifecycleManager {
	m := &LifecycleManager{
		store:        store,
		rbac:         rbac,
		orchestrator: orchestrator,
		logger:       logger.NewNullLogger(),
		now:          time.Now,
		newID:        uuid.NewString,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// CreateSession starts an active session in the given section, scoped to
// the actor's resolved namespace. Requires session.create. The sandbox
// warm-up is triggered as a detached side effect; its outcome never
// affects the returned session.
func (m *LifecycleManager) CreateSession(ctx context.Context, actor *User, namespaceID, sectionID string) (*Session, error) {
	if err := m.rbac.AssertPermission(actor, PermSessionCreate); err != nil {
		return nil, err
	}
	s := &Session{
		ID:           m.newID(),
		NamespaceID:  namespaceID,
		SectionID:    sectionID,
		Status:       SessionActive,
		CreatorID:    actor.ID,
		Participants: []string{},
		CreatedAt:    m.now(),
	}
	if err := m.store.CreateSession(ctx, s); err != nil {
		return nil, err
	}
	m.logger.Info("session created", "session_id", s.ID, "section_id", sectionID, "creator_id", actor.ID)
	m.warmUpDetached(s.ID)
	return s, nil
}

// CompleteSession transitions an active session to completed and stamps
// EndedAt. Allowed for the session's creator or an admin of its namespace.
func (m *LifecycleManager) CompleteSession(ctx context.Context, actor *User, sessionID string) (*Session, error) {
	s, err := m.loadManaged(ctx, actor, sessionID)
	if err != nil {
		return nil, err
	}
	if s.Status != SessionActive {
		return nil, NewStateConflictError("Session is already completed")
	}
	ended := m.now()
	s.Status = SessionCompleted
	s.EndedAt = &ended
	if err := m.store.UpdateSession(ctx, s); err != nil {
		return nil, err
	}
	m.logger.Info("session completed", "session_id", s.ID, "actor_id", actor.ID)
	return s, nil
}

// ReopenSession transitions a completed session back to active, provided
// its section has no active session. The service-layer occupancy check is
// best effort; a concurrent activation that slips past it is rejected by
// the store and surfaces as the same StateConflictError. Reopening
// re-triggers sandbox warm-up without blocking the caller, and a warm-up
// failure never rolls back the transition.
func (m *LifecycleManager) ReopenSession(ctx context.Context, actor *User, sessionID string) (*Session, error) {
	s, err := m.loadManaged(ctx, actor, sessionID)
	if err != nil {
		return nil, err
	}
	if s.Status != SessionCompleted {
		return nil, NewStateConflictError(MsgReopenNotCompleted)
	}
	active, err := m.store.ActiveSessionForSection(ctx, s.NamespaceID, s.SectionID)
	if err != nil {
		return nil, err
	}
	if active != nil && active.ID != s.ID {
		return nil, NewStateConflictError(MsgReopenActiveExists)
	}
	s.Status = SessionActive
	s.EndedAt = nil
	if err := m.store.UpdateSession(ctx, s); err != nil {
		return nil, err
	}
	m.logger.Info("session reopened", "session_id", s.ID, "actor_id", actor.ID)
	m.warmUpDetached(s.ID)
	return s, nil
}

// loadManaged loads the session and checks that the actor may manage its
// lifecycle: creator, namespace admin of its namespace, or system admin.
// A session in a foreign namespace is concealed as not found.
func (m *LifecycleManager) loadManaged(ctx context.Context, actor *User, sessionID string) (*Session, error) {
	if actor == nil {
		return nil, NewAuthenticationError("")
	}
	s, err := m.store.GetSession(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if actor.Role != RoleSystemAdmin && s.NamespaceID != actor.NamespaceID {
		return nil, NewNotFoundError("session")
	}
	if s.CreatorID == actor.ID || actor.Role.IsAdmin() {
		return s, nil
	}
	return nil, NewAuthorizationError("only the session creator or an admin can manage a session")
}

// warmUpDetached fires sandbox preparation without holding the caller's
// response open. The orchestrator owns its own deadline; failures are
// logged there and intentionally swallowed here.
func (m *LifecycleManager) warmUpDetached(sessionID string) {
	if m.orchestrator == nil {
		return
	}
	m.orchestrator.PrepareForSession(sessionID)
}
