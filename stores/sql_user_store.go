package stores

import (
	"context"

	"github.com/oarkflow/squealx"

	"github.com/classlab/classlab"
)

// SQLUserStore persists users in SQL (squealx)
type SQLUserStore struct {
	db *squealx.DB
}

func NewSQLUserStore(db *squealx.DB) *SQLUserStore {
	return &SQLUserStore{db: db}
}

func (s *SQLUserStore) CreateUser(ctx context.Context, u *classlab.User) error {
	q := `INSERT INTO users(id, role, namespace_id, created_at) VALUES(:id, :role, :namespace_id, :created_at)`
	_, err := s.db.NamedExecContext(ctx, q, map[string]any{
		"id":           u.ID,
		"role":         string(u.Role),
		"namespace_id": u.NamespaceID,
		"created_at":   u.CreatedAt,
	})
	return err
}

func (s *SQLUserStore) GetUser(ctx context.Context, id string) (*classlab.User, error) {
	q := `SELECT id, role, namespace_id, created_at FROM users WHERE id = :id`
	r, err := s.db.NamedQueryContext(ctx, q, map[string]any{"id": id})
	if err != nil {
		return nil, err
	}
	defer r.Close()
	if !r.Next() {
		return nil, classlab.NewNotFoundError("user")
	}
	var idv, role, ns string
	var createdRaw any
	if err := r.Scan(&idv, &role, &ns, &createdRaw); err != nil {
		return nil, err
	}
	return &classlab.User{
		ID:          idv,
		Role:        classlab.Role(role),
		NamespaceID: ns,
		CreatedAt:   scanTime(createdRaw),
	}, nil
}

func (s *SQLUserStore) DeleteUser(ctx context.Context, id string) error {
	q := `DELETE FROM users WHERE id = :id`
	_, err := s.db.NamedExecContext(ctx, q, map[string]any{"id": id})
	return err
}

func (s *SQLUserStore) UpdateUserRole(ctx context.Context, id string, role classlab.Role) error {
	q := `UPDATE users SET role = :role WHERE id = :id`
	_, err := s.db.NamedExecContext(ctx, q, map[string]any{"id": id, "role": string(role)})
	return err
}

func (s *SQLUserStore) CountNamespaceAdmins(ctx context.Context, namespaceID string) (int, error) {
	q := `SELECT COUNT(*) FROM users WHERE namespace_id = :namespace_id AND role = :role`
	r, err := s.db.NamedQueryContext(ctx, q, map[string]any{
		"namespace_id": namespaceID,
		"role":         string(classlab.RoleNamespaceAdmin),
	})
	if err != nil {
		return 0, err
	}
	defer r.Close()
	n := 0
	if r.Next() {
		if err := r.Scan(&n); err != nil {
			return 0, err
		}
	}
	return n, nil
}
