package gate

import (
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"

	"github.com/platinummonkey/gatehouse/pkg/observability"
	"github.com/platinummonkey/gatehouse/pkg/roles"
	"github.com/platinummonkey/gatehouse/pkg/session"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func activeSession(held ...roles.Role) *session.State {
	return &session.State{
		Status:      session.Valid,
		AccessToken: "access",
		Roles:       roles.NewSet(held...),
	}
}

func TestAuthorize(t *testing.T) {
	tests := []struct {
		name     string
		session  *session.State
		required roles.Set
		want     Decision
	}{
		{"no session", nil, roles.NewSet(), RedirectToLogin},
		{"unauthenticated", &session.State{}, nil, RedirectToLogin},
		{"terminal refresh failure", &session.State{Status: session.RefreshFailedTerminal}, nil, RedirectToLogin},
		{"empty requirement", activeSession(), roles.NewSet(), Allow},
		{"nil requirement", activeSession(roles.Employee), nil, Allow},
		{"exact role", activeSession(roles.Manager), roles.NewSet(roles.Manager), Allow},
		{"admin implies manager", activeSession(roles.Admin), roles.NewSet(roles.Manager), Allow},
		{"admin implies employee", activeSession(roles.Admin), roles.NewSet(roles.Employee), Allow},
		{"manager implies employee", activeSession(roles.Manager), roles.NewSet(roles.Employee), Allow},
		{"any of required", activeSession(roles.Manager), roles.NewSet(roles.Manager, roles.Admin), Allow},
		{"employee below manager", activeSession(roles.Employee), roles.NewSet(roles.Manager, roles.Admin), RedirectToUnauthorized},
		{"manager below admin", activeSession(roles.Manager), roles.NewSet(roles.Admin), RedirectToUnauthorized},
		{"no roles", activeSession(), roles.NewSet(roles.Employee), RedirectToUnauthorized},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Authorize(tt.session, tt.required))
		})
	}
}

func TestAuthorize_RetryableFailureKeepsAccess(t *testing.T) {
	st := activeSession(roles.Admin)
	st.Status = session.RefreshFailedRetryable
	st.Error = session.ErrorMarker

	assert.Equal(t, Allow, Authorize(st, roles.NewSet(roles.Admin)))
}

func TestDecisionString(t *testing.T) {
	assert.Equal(t, "allow", Allow.String())
	assert.Equal(t, "redirect_login", RedirectToLogin.String())
	assert.Equal(t, "redirect_unauthorized", RedirectToUnauthorized.String())
	assert.Equal(t, "unknown", Decision(9).String())
}

func serve(t *testing.T, h http.Handler, path string, st *session.State, accept string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, path, nil)
	if accept != "" {
		req.Header.Set("Accept", accept)
	}
	if st != nil {
		req = req.WithContext(session.NewContext(req.Context(), st))
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestMiddleware_Pages(t *testing.T) {
	metrics := observability.NewMetrics(prometheus.NewRegistry())
	m := NewMiddleware(nil, metrics)
	ok := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(http.StatusOK) })
	h := m.Pages(ok)

	t.Run("public page passes without session", func(t *testing.T) {
		rec := serve(t, h, "/login", nil, "")
		assert.Equal(t, http.StatusOK, rec.Code)
	})

	t.Run("protected page redirects to login with callback", func(t *testing.T) {
		rec := serve(t, h, "/admin/users?tab=2", nil, "")
		require.Equal(t, http.StatusFound, rec.Code)

		loc, err := url.Parse(rec.Header().Get("Location"))
		require.NoError(t, err)
		assert.Equal(t, LoginPath, loc.Path)
		assert.Equal(t, "/admin/users?tab=2", loc.Query().Get("callbackUrl"))
		assert.Empty(t, loc.Query().Get("error"))
	})

	t.Run("expired session carries generic reason", func(t *testing.T) {
		rec := serve(t, h, "/profile", &session.State{Status: session.RefreshFailedTerminal, Error: session.ErrorMarker}, "")
		loc, err := url.Parse(rec.Header().Get("Location"))
		require.NoError(t, err)
		assert.Equal(t, SessionExpiredError, loc.Query().Get("error"))
	})

	t.Run("insufficient role goes to unauthorized page", func(t *testing.T) {
		rec := serve(t, h, "/admin", activeSession(roles.Manager), "")
		assert.Equal(t, http.StatusFound, rec.Code)
		assert.Equal(t, UnauthorizedPath, rec.Header().Get("Location"))
	})

	t.Run("sufficient role passes", func(t *testing.T) {
		rec := serve(t, h, "/manager", activeSession(roles.Admin), "")
		assert.Equal(t, http.StatusOK, rec.Code)
	})

	t.Run("json clients get status codes", func(t *testing.T) {
		assert.Equal(t, http.StatusUnauthorized, serve(t, h, "/secured", nil, "application/json").Code)
		assert.Equal(t, http.StatusForbidden, serve(t, h, "/admin", activeSession(roles.Employee), "application/json").Code)
	})

	assert.Equal(t, float64(1), testutil.ToFloat64(metrics.GateDecisionsTotal.WithLabelValues("/manager", "allow")))
	assert.Equal(t, float64(2), testutil.ToFloat64(metrics.GateDecisionsTotal.WithLabelValues("/admin", "redirect_unauthorized")))
}

func TestMiddleware_Require(t *testing.T) {
	m := NewMiddleware(nil, nil)
	h := m.Require(roles.Admin)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}))

	assert.Equal(t, http.StatusNoContent, serve(t, h, "/api/admin/thing", activeSession(roles.Admin), "").Code)
	assert.Equal(t, http.StatusForbidden, serve(t, h, "/api/admin/thing", activeSession(roles.Manager), "").Code)
	assert.Equal(t, http.StatusUnauthorized, serve(t, h, "/api/admin/thing", nil, "").Code)
}
