package gate

import (
	"net/http"
	"net/url"

	"github.com/platinummonkey/gatehouse/pkg/httputil"
	"github.com/platinummonkey/gatehouse/pkg/observability"
	"github.com/platinummonkey/gatehouse/pkg/roles"
	"github.com/platinummonkey/gatehouse/pkg/session"
)

// SessionExpiredError is the generic reason shown on the login page after a
// terminal refresh failure
const SessionExpiredError = "SessionExpired"

// Middleware enforces a Policy on page requests
type Middleware struct {
	policy  *Policy
	metrics *observability.Metrics
}

// NewMiddleware creates the gate middleware
func NewMiddleware(policy *Policy, metrics *observability.Metrics) *Middleware {
	if policy == nil {
		policy = DefaultPolicy()
	}
	return &Middleware{policy: policy, metrics: metrics}
}

// Policy returns the protected-route table in force
func (m *Middleware) Policy() *Policy {
	return m.policy
}

// Pages gates requests whose path appears in the policy. Unlisted paths pass.
func (m *Middleware) Pages(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		rule, ok := m.policy.Lookup(r.URL.Path)
		if !ok {
			next.ServeHTTP(w, r)
			return
		}
		m.enforce(w, r, rule.Path, rule.Required, next)
	})
}

// Require gates a handler on an explicit role requirement
func (m *Middleware) Require(required ...roles.Role) func(http.Handler) http.Handler {
	set := roles.NewSet(required...)
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			m.enforce(w, r, r.URL.Path, set, next)
		})
	}
}

func (m *Middleware) enforce(w http.ResponseWriter, r *http.Request, route string, required roles.Set, next http.Handler) {
	st := session.FromContext(r.Context())
	decision := Authorize(st, required)
	m.metrics.RecordGateDecision(route, decision.String())

	switch decision {
	case Allow:
		next.ServeHTTP(w, r)
	case RedirectToLogin:
		if httputil.WantsJSON(r) {
			httputil.WriteUnauthorized(w, "Unauthorized")
			return
		}
		http.Redirect(w, r, LoginURL(r.URL.RequestURI(), st.RequiresReauthentication()), http.StatusFound)
	default:
		observability.FromContext(r.Context()).
			WithField("route", route).
			WithField("roles", st.Roles.Strings()).
			Info("Access denied for insufficient role")
		if httputil.WantsJSON(r) {
			httputil.WriteForbidden(w, "Forbidden")
			return
		}
		http.Redirect(w, r, UnauthorizedPath, http.StatusFound)
	}
}

// LoginURL builds the login page URL that returns to callback after sign-in
func LoginURL(callback string, expired bool) string {
	q := url.Values{}
	if callback != "" && callback != LoginPath {
		q.Set("callbackUrl", callback)
	}
	if expired {
		q.Set("error", SessionExpiredError)
	}
	if len(q) == 0 {
		return LoginPath
	}
	return LoginPath + "?" + q.Encode()
}
