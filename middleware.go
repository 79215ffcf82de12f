package classlab

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/classlab/classlab/utils"
)

type ctxKey int

const authContextKey ctxKey = iota

// AuthContextFrom retrieves the AuthContext a gate middleware stored on the
// request.
func AuthContextFrom(r *http.Request) (*AuthContext, bool) {
	ac, ok := r.Context().Value(authContextKey).(*AuthContext)
	return ac, ok
}

// WriteError renders a taxonomy error as a JSON body with its status. Rate
// limit breaches additionally carry Retry-After and X-RateLimit-Remaining.
func WriteError(w http.ResponseWriter, err error) {
	var rle *RateLimitError
	if errors.As(err, &rle) {
		w.Header().Set("Retry-After", strconv.Itoa(rle.RetryAfterSeconds()))
		w.Header().Set("X-RateLimit-Remaining", strconv.Itoa(rle.Remaining))
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(HTTPStatus(err))
	msg := err.Error()
	if HTTPStatus(err) == http.StatusInternalServerError {
		msg = "internal error"
	}
	_ = json.NewEncoder(w).Encode(map[string]string{"error": msg})
}

// RequireAuthMiddleware admits only authenticated callers and stores the
// AuthContext on the request context.
func RequireAuthMiddleware(gate *AuthGate) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ac, err := gate.RequireAuth(r)
			if err != nil {
				WriteError(w, err)
				return
			}
			next.ServeHTTP(w, r.WithContext(withAuthContext(r, ac)))
		})
	}
}

// RequirePermissionMiddleware admits only callers holding the permission.
func RequirePermissionMiddleware(gate *AuthGate, p Permission) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ac, err := gate.RequirePermission(r, p)
			if err != nil {
				WriteError(w, err)
				return
			}
			next.ServeHTTP(w, r.WithContext(withAuthContext(r, ac)))
		})
	}
}

// RouteRule binds one "METHOD /path" pattern (':param' and '*' supported)
// to the permission the route requires.
type RouteRule struct {
	Pattern    string
	Permission Permission
}

// RouteGuard is a table-driven combination of authentication and
// permission checking across a whole mux. Rules are evaluated in order and
// the first matching rule decides; requests matching no rule only require
// authentication.
func RouteGuard(gate *AuthGate, rules []RouteRule) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ac, err := gate.RequireAuth(r)
			if err != nil {
				WriteError(w, err)
				return
			}
			value := r.Method + " " + r.URL.Path
			for _, rule := range rules {
				if utils.MatchRoute(value, rule.Pattern) {
					if err := ac.RBAC.AssertPermission(ac.User, rule.Permission); err != nil {
						WriteError(w, err)
						return
					}
					break
				}
			}
			next.ServeHTTP(w, r.WithContext(withAuthContext(r, ac)))
		})
	}
}

// RateLimitMiddleware enforces one category on every request passing
// through it, keyed by the authenticated user when a gate middleware ran
// earlier in the chain, else by client address.
func RateLimitMiddleware(rl *RateLimiter, cat Category) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			userID := ""
			if ac, ok := AuthContextFrom(r); ok {
				userID = ac.User.ID
			}
			if err := rl.Allow(r.Context(), cat, r, userID); err != nil {
				WriteError(w, err)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func withAuthContext(r *http.Request, ac *AuthContext) context.Context {
	return context.WithValue(r.Context(), authContextKey, ac)
}
