package classlab

import (
	"time"
)

// ============================================================================
// DOMAIN OBJECTS
// ============================================================================

// Role is the closed set of roles a user can hold. Permissions are granted
// explicitly per role in the catalog; a higher role does not implicitly
// inherit the grants of a lower one.
type Role string

const (
	RoleStudent        Role = "student"
	RoleInstructor     Role = "instructor"
	RoleNamespaceAdmin Role = "namespace-admin"
	RoleSystemAdmin    Role = "system-admin"
)

// Roles lists every defined role. The permission catalog must carry an entry
// for each of these.
var Roles = []Role{RoleStudent, RoleInstructor, RoleNamespaceAdmin, RoleSystemAdmin}

// Valid reports whether r is one of the defined roles.
func (r Role) Valid() bool {
	switch r {
	case RoleStudent, RoleInstructor, RoleNamespaceAdmin, RoleSystemAdmin:
		return true
	}
	return false
}

// IsAdmin reports whether r is an administrative role.
func (r Role) IsAdmin() bool {
	return r == RoleNamespaceAdmin || r == RoleSystemAdmin
}

// Permission is an opaque grant tag, e.g. "session.create".
type Permission string

// User represents an authenticated actor. NamespaceID is empty only for
// system admins, who are not bound to a single tenant.
type User struct {
	ID          string    `json:"id"`
	Role        Role      `json:"role"`
	NamespaceID string    `json:"namespace_id"`
	CreatedAt   time.Time `json:"created_at"`
}

// Namespace is a tenant boundary; every tenant-scoped entity carries a
// namespace ID and data must never cross it.
type Namespace struct {
	ID          string `json:"id"`
	DisplayName string `json:"display_name"`
	Active      bool   `json:"active"`
}

// Section is a class roster joined via a join code.
type Section struct {
	ID            string   `json:"id"`
	NamespaceID   string   `json:"namespace_id"`
	ClassID       string   `json:"class_id"`
	InstructorIDs []string `json:"instructor_ids"`
	JoinCode      string   `json:"join_code"`
}

// SessionStatus is the state of a live coding session.
type SessionStatus string

const (
	SessionActive    SessionStatus = "active"
	SessionCompleted SessionStatus = "completed"
)

// Session is one live coding activity tied to a section. At most one session
// per (namespace, section) pair may be active at a time; the storage layer is
// the authoritative enforcer of that invariant.
type Session struct {
	ID                string        `json:"id"`
	NamespaceID       string        `json:"namespace_id"`
	SectionID         string        `json:"section_id"`
	Status            SessionStatus `json:"status"`
	CreatorID         string        `json:"creator_id"`
	Participants      []string      `json:"participants"`
	CreatedAt         time.Time     `json:"created_at"`
	EndedAt           *time.Time    `json:"ended_at,omitempty"`
	FeaturedStudentID string        `json:"featured_student_id,omitempty"`
	FeaturedCode      string        `json:"featured_code,omitempty"`
}

// IsParticipant reports whether userID is on the session's participant list.
func (s *Session) IsParticipant(userID string) bool {
	for _, id := range s.Participants {
		if id == userID {
			return true
		}
	}
	return false
}

// AuthContext is the trusted actor identity produced by the AuthGate. It is
// the only way untrusted request input becomes a User downstream.
type AuthContext struct {
	User        *User
	AccessToken string
	RBAC        *Evaluator
}
