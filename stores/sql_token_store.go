package stores

import (
	"context"
	"time"

	"github.com/oarkflow/squealx"

	"github.com/classlab/classlab"
)

// SQLTokenStore resolves access tokens against the auth_tokens table. An
// expired token is indistinguishable from an absent one.
type SQLTokenStore struct {
	db    *squealx.DB
	users *SQLUserStore
}

func NewSQLTokenStore(db *squealx.DB) *SQLTokenStore {
	return &SQLTokenStore{db: db, users: NewSQLUserStore(db)}
}

// Issue records a token for the user. A zero expiry means no expiry.
func (s *SQLTokenStore) Issue(ctx context.Context, token, userID string, expiresAt time.Time) error {
	q := `INSERT INTO auth_tokens(token, user_id, expires_at, created_at) VALUES(:token, :user_id, :expires_at, :created_at)`
	var exp any
	if !expiresAt.IsZero() {
		exp = expiresAt
	}
	_, err := s.db.NamedExecContext(ctx, q, map[string]any{
		"token":      token,
		"user_id":    userID,
		"expires_at": exp,
		"created_at": time.Now(),
	})
	return err
}

func (s *SQLTokenStore) Revoke(ctx context.Context, token string) error {
	q := `DELETE FROM auth_tokens WHERE token = :token`
	_, err := s.db.NamedExecContext(ctx, q, map[string]any{"token": token})
	return err
}

func (s *SQLTokenStore) UserForToken(ctx context.Context, token string) (*classlab.User, error) {
	q := `SELECT user_id, expires_at FROM auth_tokens WHERE token = :token`
	r, err := s.db.NamedQueryContext(ctx, q, map[string]any{"token": token})
	if err != nil {
		return nil, err
	}
	defer r.Close()
	if !r.Next() {
		return nil, classlab.NewNotFoundError("token")
	}
	var userID string
	var expRaw any
	if err := r.Scan(&userID, &expRaw); err != nil {
		return nil, err
	}
	if expRaw != nil {
		if exp := scanTime(expRaw); !exp.IsZero() && exp.Before(time.Now()) {
			return nil, classlab.NewNotFoundError("token")
		}
	}
	return s.users.GetUser(ctx, userID)
}
