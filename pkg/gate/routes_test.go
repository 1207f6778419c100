package gate

import (
	"net/url"
	"testing"

	"github.com/platinummonkey/gatehouse/pkg/roles"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultPolicy_Lookup(t *testing.T) {
	p := DefaultPolicy()

	tests := []struct {
		path      string
		protected bool
		required  []roles.Role
	}{
		{"/", true, nil},
		{"/profile", true, nil},
		{"/secured", true, nil},
		{"/Secured", true, nil},
		{"/manager", true, []roles.Role{roles.Manager, roles.Admin}},
		{"/manager/reports", true, []roles.Role{roles.Manager, roles.Admin}},
		{"/admin", true, []roles.Role{roles.Admin}},
		{"/admin/", true, []roles.Role{roles.Admin}},
		{"/administrator", false, nil},
		{"/login", false, nil},
		{"/unauthorized", false, nil},
		{"/auth/error", false, nil},
		{"/api/auth/keycloak-config", false, nil},
	}

	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			rule, ok := p.Lookup(tt.path)
			assert.Equal(t, tt.protected, ok)
			assert.Equal(t, tt.protected, p.IsProtected(tt.path))
			if ok {
				if tt.required == nil {
					assert.Equal(t, 0, rule.Required.Len())
				} else {
					assert.Equal(t, tt.required, rule.Required.Slice())
				}
			}
		})
	}
}

func TestLoginRedirectURL(t *testing.T) {
	assert.Equal(t, "/admin", LoginRedirectURL("/admin"))
	assert.Equal(t, "/", LoginRedirectURL("/login"))
	assert.Equal(t, "/", LoginRedirectURL(""))
}

func TestLoginURL(t *testing.T) {
	assert.Equal(t, "/login", LoginURL("", false))
	assert.Equal(t, "/login", LoginURL("/login", false))
	assert.Equal(t, "/login?callbackUrl=%2Fprofile", LoginURL("/profile", false))
	assert.Equal(t, "/login?callbackUrl=%2Fprofile&error=SessionExpired", LoginURL("/profile", true))
}

func TestSafeRedirect(t *testing.T) {
	base, err := url.Parse("https://app.example.com")
	require.NoError(t, err)

	tests := []struct {
		target string
		want   string
	}{
		{"", "https://app.example.com"},
		{"/admin", "https://app.example.com/admin"},
		{"/profile?tab=roles", "https://app.example.com/profile?tab=roles"},
		{"https://app.example.com/manager", "https://app.example.com/manager"},
		{"https://evil.example.net/phish", "https://app.example.com"},
		{"//evil.example.net/phish", "https://app.example.com"},
		{"http://app.example.com/downgrade", "https://app.example.com"},
		{"javascript:alert(1)", "https://app.example.com"},
	}

	for _, tt := range tests {
		t.Run(tt.target, func(t *testing.T) {
			assert.Equal(t, tt.want, SafeRedirect(base, tt.target))
		})
	}
}
