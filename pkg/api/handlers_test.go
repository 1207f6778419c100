package api

import (
	"context"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/platinummonkey/gatehouse/pkg/details"
	"github.com/platinummonkey/gatehouse/pkg/gate"
	"github.com/platinummonkey/gatehouse/pkg/logout"
	"github.com/platinummonkey/gatehouse/pkg/provider/providertest"
	"github.com/platinummonkey/gatehouse/pkg/roles"
	"github.com/platinummonkey/gatehouse/pkg/session"
	"github.com/platinummonkey/gatehouse/pkg/store"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTokenDetails_Unauthorized(t *testing.T) {
	env := newTestEnv(t, nil)

	res := env.get(t, TokenDetailsPath)
	assert.Equal(t, http.StatusUnauthorized, res.status)
	apiErr := res.apiError(t)
	assert.Equal(t, "Unauthorized", apiErr.Error)
	assert.Equal(t, http.StatusUnauthorized, apiErr.StatusCode)
}

func TestTokenDetails_FromAccessToken(t *testing.T) {
	env := newTestEnv(t, nil)
	access := realmRoles("manager")
	access["resource_access"] = map[string]interface{}{
		"account": map[string]interface{}{"roles": []string{"view-profile"}},
	}
	env.login(t, "", access, "")

	var resp TokenDetailsResponse
	env.get(t, TokenDetailsPath).data(t, &resp)
	assert.Equal(t, []string{"manager"}, resp.TokenPayload.RealmRoles())
	assert.Equal(t, []string{"manager", "view-profile"}, resp.TokenPayload.AllPermissions())
	assert.Equal(t, 0, env.idp.RequestCount("userinfo"), "role claims present, no userinfo call")
}

func TestTokenDetails_UserInfoFallback(t *testing.T) {
	env := newTestEnv(t, nil)
	env.idp.SetUserInfo(map[string]interface{}{
		"sub":          "user-1",
		"email":        "userinfo@example.com",
		"realm_access": map[string]interface{}{"roles": []string{"employee"}},
		"groups":       []string{"/staff"},
	})
	env.login(t, "", map[string]interface{}{"sub": "user-1"}, "")

	var resp TokenDetailsResponse
	env.get(t, TokenDetailsPath).data(t, &resp)
	assert.Equal(t, []string{"employee"}, resp.TokenPayload.RealmRoles())
	assert.Equal(t, []string{"/staff"}, resp.TokenPayload.Groups())
	email, _ := resp.TokenPayload.String("email")
	assert.Equal(t, "jane@example.com", email, "only role claims are merged")
	assert.Equal(t, 1, env.idp.RequestCount("userinfo"))
}

func TestTokenDetails_UserInfoFailureKeepsPayload(t *testing.T) {
	env := newTestEnv(t, nil)
	env.login(t, "", map[string]interface{}{"sub": "user-1"}, "")

	var resp TokenDetailsResponse
	env.get(t, TokenDetailsPath).data(t, &resp)
	sub, _ := resp.TokenPayload.String("sub")
	assert.Equal(t, "user-1", sub)
	assert.False(t, resp.TokenPayload.HasRoleClaims())
}

func TestTokenDetails_Loader(t *testing.T) {
	env := newTestEnv(t, nil)
	env.login(t, "", realmRoles("admin"), "")

	loader := details.NewLoader(env.ts.URL,
		details.WithHTTPClient(env.client),
		details.WithMetrics(env.metrics),
	)
	payload, err := loader.Load(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"admin"}, payload.RealmRoles())
	assert.Equal(t, details.Loaded, loader.State().Status)

	env.get(t, SignOutPath)
	loader.Reset()
	_, err = loader.Load(context.Background())
	assert.ErrorIs(t, err, details.ErrSessionExpired)
	assert.Equal(t, details.Failed, loader.State().Status)
}

func TestKeycloakConfig(t *testing.T) {
	env := newTestEnv(t, nil)

	var resp KeycloakConfigResponse
	env.get(t, KeycloakConfigPath).data(t, &resp)
	assert.Equal(t, env.idp.Issuer, resp.Issuer)
	assert.Equal(t, providertest.ClientID, resp.ClientID)
}

func TestKeycloakConfig_Missing(t *testing.T) {
	srv, err := NewServer(Options{
		Provider: &stubProvider{issuer: "https://idp.example.com/realms/test"},
		Sessions: session.NewManager(nil, roles.NewExtractor(roles.DefaultMapper(), "")),
		Store:    store.NewMemoryStore(10, store.CookieOptions{}, nil),
		AppURL:   testAppURL,
	})
	require.NoError(t, err)

	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, KeycloakConfigPath, nil))
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Contains(t, rec.Body.String(), "Keycloak configuration not found")
}

func TestFederatedLogout(t *testing.T) {
	env := newTestEnv(t, nil)
	env.login(t, "", realmRoles("employee"), "refresh-1")

	res := env.post(t, FederatedLogoutPath)
	require.Equal(t, http.StatusOK, res.status, string(res.body))
	var resp FederatedLogoutResponse
	res.data(t, &resp)
	assert.True(t, resp.Success)

	logoutURL, err := url.Parse(resp.LogoutURL)
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(resp.LogoutURL, env.idp.Issuer+"/protocol/openid-connect/logout?"))
	assert.NotEmpty(t, logoutURL.Query().Get("id_token_hint"))
	assert.Equal(t, testAppURL, logoutURL.Query().Get("post_logout_redirect_uri"))

	assert.Equal(t, 0, env.store.(*store.MemoryStore).Len())
	assert.Equal(t, float64(1), testutil.ToFloat64(env.metrics.LogoutsTotal.WithLabelValues("federated")))

	again := env.post(t, FederatedLogoutPath)
	assert.Equal(t, http.StatusUnauthorized, again.status)
	assert.Equal(t, "No active session", again.apiError(t).Error)
}

func TestFederatedLogout_IssuerNotConfigured(t *testing.T) {
	env := newTestEnv(t, nil, func(o *Options) {
		o.Logout = logout.NewCoordinator(logout.Config{}, nil, nil, nil)
	})
	env.login(t, "", realmRoles("employee"), "")

	res := env.post(t, FederatedLogoutPath)
	assert.Equal(t, http.StatusBadRequest, res.status)
	assert.Equal(t, "Missing idToken or Keycloak issuer", res.apiError(t).Error)

	// the local session ends regardless
	var sess SessionResponse
	env.get(t, SessionPath).data(t, &sess)
	assert.False(t, sess.Authenticated)
}

func TestMethodNotAllowed(t *testing.T) {
	tests := []struct {
		method string
		path   string
	}{
		{http.MethodGet, FederatedLogoutPath},
		{http.MethodPost, SessionPath},
		{http.MethodDelete, gate.AdminPath},
		{http.MethodPut, CallbackPath},
	}

	env := newTestEnv(t, nil)
	for _, tt := range tests {
		t.Run(tt.method+" "+tt.path, func(t *testing.T) {
			res := env.do(t, tt.method, tt.path, nil)
			assert.Equal(t, http.StatusMethodNotAllowed, res.status)
			apiErr := res.apiError(t)
			assert.Equal(t, "Method Not Allowed", apiErr.Error)
			assert.Equal(t, http.StatusMethodNotAllowed, apiErr.StatusCode)
		})
	}
}

func TestSession_Unauthenticated(t *testing.T) {
	env := newTestEnv(t, nil)

	var sess SessionResponse
	env.get(t, SessionPath).data(t, &sess)
	assert.False(t, sess.Authenticated)
	assert.Equal(t, "unauthenticated", sess.Status)
	assert.Nil(t, sess.User)
}

func TestSession_RefreshRotatesAndRemaps(t *testing.T) {
	env := newTestEnv(t, nil)
	env.idp.AddRefreshToken("refresh-1", providertest.Grant{
		AccessClaims: realmRoles("manager"),
		RefreshToken: "refresh-2",
	})
	env.login(t, "", realmRoles("employee"), "refresh-1")

	env.advance(10 * time.Minute)

	var sess SessionResponse
	env.get(t, SessionPath).data(t, &sess)
	assert.True(t, sess.Authenticated)
	assert.Equal(t, "valid", sess.Status)
	assert.Equal(t, []string{"manager"}, sess.Roles)
	assert.Equal(t, float64(1), testutil.ToFloat64(env.metrics.TokenRefreshesTotal.WithLabelValues("success")))

	// the refreshed state was saved: no second refresh on the next request
	tokenCalls := env.idp.RequestCount("token")
	env.get(t, SessionPath)
	assert.Equal(t, tokenCalls, env.idp.RequestCount("token"))

	manager := env.get(t, gate.ManagerPath)
	assert.Equal(t, http.StatusOK, manager.status)
}

func TestSession_RefreshWithoutRoleClaimsKeepsRoles(t *testing.T) {
	env := newTestEnv(t, nil)
	env.idp.AddRefreshToken("refresh-1", providertest.Grant{
		AccessClaims: map[string]interface{}{"sub": "user-1"},
	})
	env.login(t, "", realmRoles("admin"), "refresh-1")

	env.advance(10 * time.Minute)

	var sess SessionResponse
	env.get(t, SessionPath).data(t, &sess)
	assert.Equal(t, "valid", sess.Status)
	assert.Equal(t, []string{"admin"}, sess.Roles)
}

func TestSession_TerminalRefreshFailure(t *testing.T) {
	env := newTestEnv(t, nil)
	// the provider does not know this refresh token
	env.login(t, "", realmRoles("employee"), "revoked")

	env.advance(10 * time.Minute)

	res := env.get(t, gate.ProfilePath)
	require.Equal(t, http.StatusFound, res.status)
	assert.Equal(t, gate.LoginPath+"?callbackUrl=%2Fprofile&error=SessionExpired", res.location())
	assert.Equal(t, float64(1), testutil.ToFloat64(env.metrics.TokenRefreshesTotal.WithLabelValues("terminal")))

	var sess SessionResponse
	env.get(t, SessionPath).data(t, &sess)
	assert.False(t, sess.Authenticated)
	assert.Equal(t, "refresh_failed_terminal", sess.Status)
	assert.Equal(t, session.ErrorMarker, sess.Error)

	// no further refresh attempts once terminal
	assert.Equal(t, float64(1), testutil.ToFloat64(env.metrics.TokenRefreshesTotal.WithLabelValues("terminal")))

	details := env.get(t, TokenDetailsPath)
	assert.Equal(t, http.StatusUnauthorized, details.status)
}

func TestSession_RetryableRefreshFailure(t *testing.T) {
	env := newTestEnv(t, nil)
	env.idp.RefreshHandler = func(string) providertest.TokenResponse {
		return providertest.OAuthError(http.StatusServiceUnavailable, "temporarily_unavailable", "")
	}
	env.login(t, "", realmRoles("employee"), "refresh-1")

	env.advance(10 * time.Minute)

	profile := env.get(t, gate.ProfilePath)
	assert.Equal(t, http.StatusOK, profile.status, "a retryable failure keeps the session")

	var sess SessionResponse
	env.get(t, SessionPath).data(t, &sess)
	assert.True(t, sess.Authenticated)
	assert.Equal(t, "refresh_failed_retryable", sess.Status)
	assert.Equal(t, session.ErrorMarker, sess.Error)
	assert.Equal(t, float64(2), testutil.ToFloat64(env.metrics.TokenRefreshesTotal.WithLabelValues("retryable")),
		"every request retries")
}

func TestSession_UnreadableCookieIsCleared(t *testing.T) {
	env := newTestEnv(t, cookieStore)

	u, err := url.Parse(env.ts.URL)
	require.NoError(t, err)
	env.client.Jar.SetCookies(u, []*http.Cookie{{Name: store.DefaultCookieName, Value: "garbage", Path: "/"}})

	res := env.get(t, SessionPath)
	require.Equal(t, http.StatusOK, res.status)
	assert.Contains(t, res.header.Values("Set-Cookie")[0], store.DefaultCookieName+"=;")
	assert.Empty(t, env.client.Jar.Cookies(u))
}
