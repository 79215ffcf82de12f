package classlab

import (
	"context"
	"time"

	"github.com/dgraph-io/ristretto"

	"github.com/classlab/classlab/logger"
)

// SessionReader is the one storage dependency of the evaluator; session
// access checks may need to load the session's participant list.
type SessionReader interface {
	GetSession(ctx context.Context, id string) (*Session, error)
}

// Evaluator answers permission and cross-user management questions from the
// static catalog. It is stateless apart from a short-lived decision cache
// and safe for concurrent use.
type Evaluator struct {
	sessions SessionReader
	cache    *ristretto.Cache
	cacheTTL time.Duration
	logger   logger.Logger
}

// EvaluatorOption configures an Evaluator.
type EvaluatorOption func(*Evaluator)

func WithEvaluatorLogger(l logger.Logger) EvaluatorOption {
	return func(e *Evaluator) { e.logger = l }
}

// WithAccessCacheTTL sets how long a session-access decision may be reused.
// A non-positive TTL disables the cache entirely; every check loads the
// session fresh.
func WithAccessCacheTTL(ttl time.Duration) EvaluatorOption {
	return func(e *Evaluator) { e.cacheTTL = ttl }
}

func NewEvaluator(sessions SessionReader, opts ...EvaluatorOption) (*Evaluator, error) {
	e := &Evaluator{
		sessions: sessions,
		cacheTTL: time.Second,
		logger:   logger.NewNullLogger(),
	}
	for _, opt := range opts {
		opt(e)
	}
	cache, err := ristretto.NewCache(&ristretto.Config{
		NumCounters: 1 << 14,
		MaxCost:     1 << 20,
		BufferItems: 64,
	})
	if err != nil {
		return nil, err
	}
	e.cache = cache
	return e, nil
}

// Close releases the decision cache.
func (e *Evaluator) Close() {
	if e.cache != nil {
		e.cache.Close()
	}
}

// HasPermission looks up the catalog entry for the user's role. Unknown
// roles hold nothing and nil users hold nothing; never panics.
func (e *Evaluator) HasPermission(u *User, p Permission) bool {
	if u == nil {
		return false
	}
	return RoleHasPermission(u.Role, p)
}

// AssertPermission is HasPermission with a short-circuiting error: callers
// that must stop on failure get a 403 naming the missing permission.
func (e *Evaluator) AssertPermission(u *User, p Permission) error {
	if e.HasPermission(u, p) {
		return nil
	}
	return NewMissingPermissionError(p)
}

// CanManageUser applies the cross-user management matrix, in order:
// system admins manage everyone; nobody manages themselves through this
// path; namespace admins manage same-namespace users below admin rank;
// instructors manage same-namespace students; students manage no one.
func (e *Evaluator) CanManageUser(actor, target *User) bool {
	if actor == nil || target == nil {
		return false
	}
	if actor.Role == RoleSystemAdmin {
		return true
	}
	if actor.ID == target.ID {
		return false
	}
	switch actor.Role {
	case RoleNamespaceAdmin:
		return target.NamespaceID == actor.NamespaceID &&
			target.Role != RoleNamespaceAdmin &&
			target.Role != RoleSystemAdmin
	case RoleInstructor:
		return target.NamespaceID == actor.NamespaceID && target.Role == RoleStudent
	}
	return false
}

// CanAccessSession reports whether u may view the session. System admins
// always may; namespace admins and instructors may within their namespace
// when they hold session.viewAll or created the session; students only when
// they are listed participants. Decisions are cached briefly per
// (user, session) pair.
func (e *Evaluator) CanAccessSession(ctx context.Context, u *User, sessionID string) (bool, error) {
	if u == nil {
		return false, nil
	}
	if u.Role == RoleSystemAdmin {
		return true, nil
	}
	cacheKey := "sess-access:" + u.ID + ":" + sessionID
	if e.cacheTTL > 0 {
		if v, ok := e.cache.Get(cacheKey); ok {
			if allowed, ok := v.(bool); ok {
				return allowed, nil
			}
		}
	}
	s, err := e.sessions.GetSession(ctx, sessionID)
	if err != nil {
		return false, err
	}
	allowed := e.sessionAccess(u, s)
	if e.cacheTTL > 0 {
		e.cache.SetWithTTL(cacheKey, allowed, 1, e.cacheTTL)
	}
	return allowed, nil
}

func (e *Evaluator) sessionAccess(u *User, s *Session) bool {
	if s.NamespaceID != u.NamespaceID {
		return false
	}
	switch u.Role {
	case RoleNamespaceAdmin, RoleInstructor:
		if e.HasPermission(u, PermSessionViewAll) {
			return true
		}
		return s.CreatorID == u.ID
	case RoleStudent:
		return s.IsParticipant(u.ID)
	}
	return false
}
