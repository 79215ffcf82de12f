package classlab

import (
	"context"
	"net/http"
	"strings"

	"github.com/classlab/classlab/logger"
)

// SessionCookieName carries the access token when no Authorization header
// is present.
const SessionCookieName = "classlab_session"

// TokenStore resolves an access token to the user holding a live session.
// Implementations return a NotFoundError for unknown or expired tokens.
type TokenStore interface {
	UserForToken(ctx context.Context, token string) (*User, error)
}

// AuthGate is the single boundary every inbound operation passes through.
// It combines authentication, the RBAC evaluator, and the namespace
// resolver into one admit/deny decision and has no side effects beyond
// reading the token store.
type AuthGate struct {
	tokens   TokenStore
	rbac     *Evaluator
	resolver *NamespaceResolver
	logger   logger.Logger
}

// GateOption configures an AuthGate.
type GateOption func(*AuthGate)

func WithGateLogger(l logger.Logger) GateOption {
	return func(g *AuthGate) { g.logger = l }
}

func NewAuthGate(tokens TokenStore, rbac *Evaluator, opts ...GateOption) *AuthGate {
	g := &AuthGate{
		tokens:   tokens,
		rbac:     rbac,
		resolver: NewNamespaceResolver(),
		logger:   logger.NewNullLogger(),
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// RequireAuth validates that the caller holds a live session and returns
// the trusted actor identity. It does not check permissions. Failures are
// always an AuthenticationError (401) that reveals nothing about resource
// existence.
func (g *AuthGate) RequireAuth(r *http.Request) (*AuthContext, error) {
	token := extractToken(r)
	if token == "" {
		return nil, NewAuthenticationError("")
	}
	u, err := g.tokens.UserForToken(r.Context(), token)
	if err != nil {
		g.logger.Debug("token rejected", "reason", err.Error())
		return nil, NewAuthenticationError("")
	}
	return &AuthContext{User: u, AccessToken: token, RBAC: g.rbac}, nil
}

// RequirePermission runs RequireAuth and then checks the catalog. A
// missing permission is a 403 naming the permission.
func (g *AuthGate) RequirePermission(r *http.Request, p Permission) (*AuthContext, error) {
	ac, err := g.RequireAuth(r)
	if err != nil {
		return nil, err
	}
	if err := g.rbac.AssertPermission(ac.User, p); err != nil {
		return nil, err
	}
	return ac, nil
}

// NamespaceContext is a convenience passthrough to the gate's resolver so
// handlers resolve the effective tenant from the same boundary that
// authenticated the caller.
func (g *AuthGate) NamespaceContext(r *http.Request, u *User) string {
	return g.resolver.NamespaceContext(r, u)
}

func extractToken(r *http.Request) string {
	if h := r.Header.Get("Authorization"); h != "" {
		if strings.HasPrefix(h, "Bearer ") {
			return strings.TrimSpace(strings.TrimPrefix(h, "Bearer "))
		}
		return ""
	}
	if c, err := r.Cookie(SessionCookieName); err == nil {
		return c.Value
	}
	return ""
}
