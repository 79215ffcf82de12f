package stores

import (
	"context"
	"encoding/json"

	"github.com/oarkflow/squealx"

	"github.com/classlab/classlab"
)

// SQLSessionStore persists sessions in SQL (squealx). The partial unique
// index ux_sessions_one_active is the authoritative enforcer of the
// one-active-session-per-section invariant; its violation surfaces as a
// StateConflictError.
type SQLSessionStore struct {
	db *squealx.DB
}

func NewSQLSessionStore(db *squealx.DB) *SQLSessionStore {
	return &SQLSessionStore{db: db}
}

func (s *SQLSessionStore) CreateSession(ctx context.Context, sess *classlab.Session) error {
	parts, _ := json.Marshal(sess.Participants)
	q := `INSERT INTO sessions(id, namespace_id, section_id, status, creator_id, participants_json, created_at, ended_at, featured_student_id, featured_code)
          VALUES(:id, :namespace_id, :section_id, :status, :creator_id, :participants_json, :created_at, :ended_at, :featured_student_id, :featured_code)`
	_, err := s.db.NamedExecContext(ctx, q, map[string]any{
		"id":                  sess.ID,
		"namespace_id":        sess.NamespaceID,
		"section_id":          sess.SectionID,
		"status":              string(sess.Status),
		"creator_id":          sess.CreatorID,
		"participants_json":   string(parts),
		"created_at":          sess.CreatedAt,
		"ended_at":            sqlNullTimeOrNil(sess.EndedAt),
		"featured_student_id": sess.FeaturedStudentID,
		"featured_code":       sess.FeaturedCode,
	})
	if isUniqueViolation(err) {
		return classlab.NewStateConflictError("an active session already exists for this section")
	}
	return err
}

func (s *SQLSessionStore) UpdateSession(ctx context.Context, sess *classlab.Session) error {
	parts, _ := json.Marshal(sess.Participants)
	q := `UPDATE sessions SET status=:status, participants_json=:participants_json, ended_at=:ended_at,
          featured_student_id=:featured_student_id, featured_code=:featured_code WHERE id=:id`
	_, err := s.db.NamedExecContext(ctx, q, map[string]any{
		"id":                  sess.ID,
		"status":              string(sess.Status),
		"participants_json":   string(parts),
		"ended_at":            sqlNullTimeOrNil(sess.EndedAt),
		"featured_student_id": sess.FeaturedStudentID,
		"featured_code":       sess.FeaturedCode,
	})
	if isUniqueViolation(err) {
		return classlab.NewStateConflictError("an active session already exists for this section")
	}
	return err
}

func (s *SQLSessionStore) GetSession(ctx context.Context, id string) (*classlab.Session, error) {
	q := `SELECT id, namespace_id, section_id, status, creator_id, participants_json, created_at, ended_at, featured_student_id, featured_code
          FROM sessions WHERE id = :id`
	r, err := s.db.NamedQueryContext(ctx, q, map[string]any{"id": id})
	if err != nil {
		return nil, err
	}
	defer r.Close()
	if !r.Next() {
		return nil, classlab.NewNotFoundError("session")
	}
	return scanSession(r)
}

func (s *SQLSessionStore) ActiveSessionForSection(ctx context.Context, namespaceID, sectionID string) (*classlab.Session, error) {
	q := `SELECT id, namespace_id, section_id, status, creator_id, participants_json, created_at, ended_at, featured_student_id, featured_code
          FROM sessions WHERE namespace_id = :namespace_id AND section_id = :section_id AND status = 'active'`
	r, err := s.db.NamedQueryContext(ctx, q, map[string]any{"namespace_id": namespaceID, "section_id": sectionID})
	if err != nil {
		return nil, err
	}
	defer r.Close()
	if !r.Next() {
		return nil, nil
	}
	return scanSession(r)
}

// ListSessionsBySection returns every session in a section, newest first.
func (s *SQLSessionStore) ListSessionsBySection(ctx context.Context, namespaceID, sectionID string) ([]*classlab.Session, error) {
	q := `SELECT id, namespace_id, section_id, status, creator_id, participants_json, created_at, ended_at, featured_student_id, featured_code
          FROM sessions WHERE namespace_id = :namespace_id AND section_id = :section_id ORDER BY created_at DESC`
	r, err := s.db.NamedQueryContext(ctx, q, map[string]any{"namespace_id": namespaceID, "section_id": sectionID})
	if err != nil {
		return nil, err
	}
	defer r.Close()
	out := make([]*classlab.Session, 0)
	for r.Next() {
		sess, err := scanSession(r)
		if err != nil {
			return nil, err
		}
		out = append(out, sess)
	}
	return out, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSession(r rowScanner) (*classlab.Session, error) {
	var id, ns, section, status, creator, partsJSON, featuredStudent, featuredCode string
	var createdRaw, endedRaw any
	if err := r.Scan(&id, &ns, &section, &status, &creator, &partsJSON, &createdRaw, &endedRaw, &featuredStudent, &featuredCode); err != nil {
		return nil, err
	}
	sess := &classlab.Session{
		ID:                id,
		NamespaceID:       ns,
		SectionID:         section,
		Status:            classlab.SessionStatus(status),
		CreatorID:         creator,
		CreatedAt:         scanTime(createdRaw),
		FeaturedStudentID: featuredStudent,
		FeaturedCode:      featuredCode,
	}
	var parts []string
	_ = json.Unmarshal([]byte(partsJSON), &parts)
	sess.Participants = parts
	if endedRaw != nil {
		if t := scanTime(endedRaw); !t.IsZero() {
			sess.EndedAt = &t
		}
	}
	return sess, nil
}
