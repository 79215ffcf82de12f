package classlab

import (
	"context"
	"sync"
	"time"
)

// ============================================================================
// IN-MEMORY STORES (tests and single-process deployments)
// ============================================================================

type MemoryUserStore struct {
	mu    sync.RWMutex
	users map[string]*User
}

func NewMemoryUserStore() *MemoryUserStore {
	return &MemoryUserStore{users: make(map[string]*User)}
}

func (s *MemoryUserStore) CreateUser(ctx context.Context, u *User) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cop := *u
	s.users[u.ID] = &cop
	return nil
}

func (s *MemoryUserStore) GetUser(ctx context.Context, id string) (*User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	u, ok := s.users[id]
	if !ok {
		return nil, NewNotFoundError("user")
	}
	cop := *u
	return &cop, nil
}

func (s *MemoryUserStore) DeleteUser(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.users[id]; !ok {
		return NewNotFoundError("user")
	}
	delete(s.users, id)
	return nil
}

func (s *MemoryUserStore) UpdateUserRole(ctx context.Context, id string, role Role) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.users[id]
	if !ok {
		return NewNotFoundError("user")
	}
	u.Role = role
	return nil
}

func (s *MemoryUserStore) CountNamespaceAdmins(ctx context.Context, namespaceID string) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	n := 0
	for _, u := range s.users {
		if u.Role == RoleNamespaceAdmin && u.NamespaceID == namespaceID {
			n++
		}
	}
	return n, nil
}

// MemorySessionStore replicates the storage-level uniqueness constraint on
// (namespace, section, active) under its mutex, so callers see the same
// StateConflictError surface the SQL store produces.
type MemorySessionStore struct {
	mu       sync.RWMutex
	sessions map[string]*Session
}

func NewMemorySessionStore() *MemorySessionStore {
	return &MemorySessionStore{sessions: make(map[string]*Session)}
}

func (s *MemorySessionStore) CreateSession(ctx context.Context, sess *Session) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if sess.Status == SessionActive {
		if other := s.activeLocked(sess.NamespaceID, sess.SectionID); other != nil && other.ID != sess.ID {
			return NewStateConflictError("an active session already exists for this section")
		}
	}
	cop := cloneSession(sess)
	s.sessions[sess.ID] = cop
	return nil
}

func (s *MemorySessionStore) GetSession(ctx context.Context, id string) (*Session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	sess, ok := s.sessions[id]
	if !ok {
		return nil, NewNotFoundError("session")
	}
	return cloneSession(sess), nil
}

func (s *MemorySessionStore) UpdateSession(ctx context.Context, sess *Session) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.sessions[sess.ID]; !ok {
		return NewNotFoundError("session")
	}
	if sess.Status == SessionActive {
		if other := s.activeLocked(sess.NamespaceID, sess.SectionID); other != nil && other.ID != sess.ID {
			return NewStateConflictError("an active session already exists for this section")
		}
	}
	s.sessions[sess.ID] = cloneSession(sess)
	return nil
}

func (s *MemorySessionStore) ActiveSessionForSection(ctx context.Context, namespaceID, sectionID string) (*Session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if sess := s.activeLocked(namespaceID, sectionID); sess != nil {
		return cloneSession(sess), nil
	}
	return nil, nil
}

func (s *MemorySessionStore) activeLocked(namespaceID, sectionID string) *Session {
	for _, sess := range s.sessions {
		if sess.Status == SessionActive && sess.NamespaceID == namespaceID && sess.SectionID == sectionID {
			return sess
		}
	}
	return nil
}

func cloneSession(s *Session) *Session {
	cop := *s
	cop.Participants = append([]string(nil), s.Participants...)
	if s.EndedAt != nil {
		t := *s.EndedAt
		cop.EndedAt = &t
	}
	return &cop
}

// MemoryTokenStore maps access tokens to users.
type MemoryTokenStore struct {
	mu     sync.RWMutex
	tokens map[string]*User
}

func NewMemoryTokenStore() *MemoryTokenStore {
	return &MemoryTokenStore{tokens: make(map[string]*User)}
}

func (s *MemoryTokenStore) Issue(token string, u *User) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cop := *u
	s.tokens[token] = &cop
}

func (s *MemoryTokenStore) Revoke(token string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.tokens, token)
}

func (s *MemoryTokenStore) UserForToken(ctx context.Context, token string) (*User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	u, ok := s.tokens[token]
	if !ok {
		return nil, NewNotFoundError("token")
	}
	cop := *u
	return &cop, nil
}

// MemoryCounterStore is a fixed-window counter for tests and development.
type MemoryCounterStore struct {
	mu      sync.Mutex
	windows map[string]*counterWindow
	now     func() time.Time
}

type counterWindow struct {
	count     int64
	expiresAt time.Time
}

func NewMemoryCounterStore() *MemoryCounterStore {
	return &MemoryCounterStore{
		windows: make(map[string]*counterWindow),
		now:     time.Now,
	}
}

func (s *MemoryCounterStore) Incr(ctx context.Context, key string, window time.Duration) (int64, time.Duration, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.now()
	w, ok := s.windows[key]
	if !ok || !w.expiresAt.After(now) {
		w = &counterWindow{expiresAt: now.Add(window)}
		s.windows[key] = w
	}
	w.count++
	return w.count, w.expiresAt.Sub(now), nil
}
