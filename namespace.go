package classlab

import (
	"net/http"
)

// namespaceOverrideParams are the request parameter spellings recognized as
// a namespace override for system admins. For every other role the request
// carries no say at all: repeated, case-varied, or differently named
// override parameters are all ignored.
var namespaceOverrideParams = []string{"namespace", "namespaceId", "ns"}

// NamespaceResolver computes the effective tenant for a request.
type NamespaceResolver struct{}

func NewNamespaceResolver() *NamespaceResolver { return &NamespaceResolver{} }

// NamespaceContext returns the namespace every downstream read and write for
// this request must be scoped to. Non-system-admin callers always get their
// own namespace; no request parameter can widen it. A system admin's
// explicit non-empty override is honored verbatim (a whitespace-only value
// passes through untrimmed), while an absent or empty override falls back
// to the admin's own namespace.
func (nr *NamespaceResolver) NamespaceContext(r *http.Request, u *User) string {
	if u == nil {
		return ""
	}
	if u.Role != RoleSystemAdmin {
		return u.NamespaceID
	}
	if r != nil {
		q := r.URL.Query()
		for _, param := range namespaceOverrideParams {
			if v := q.Get(param); v != "" {
				return v
			}
		}
	}
	return u.NamespaceID
}
