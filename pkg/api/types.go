package api

import (
	"github.com/platinummonkey/gatehouse/pkg/token"
)

// TokenDetailsResponse is the data of GET /api/auth/token-details
type TokenDetailsResponse struct {
	TokenPayload token.Payload `json:"tokenPayload"`
}

// KeycloakConfigResponse exposes the non-secret provider settings
type KeycloakConfigResponse struct {
	Issuer   string `json:"issuer"`
	ClientID string `json:"clientId"`
}

// FederatedLogoutResponse carries the provider logout URL the browser visits
type FederatedLogoutResponse struct {
	Success   bool   `json:"success"`
	LogoutURL string `json:"logoutUrl"`
}

// SessionResponse describes the current session
type SessionResponse struct {
	Authenticated bool           `json:"authenticated"`
	Status        string         `json:"status"`
	Error         string         `json:"error,omitempty"`
	Roles         []string       `json:"roles,omitempty"`
	HighestRole   string         `json:"highestRole,omitempty"`
	ExpiresAt     int64          `json:"expiresAt,omitempty"`
	User          *token.Minimal `json:"user,omitempty"`
}

// Page view models

// UserView is the identity shown on every authenticated page
type UserView struct {
	*token.Minimal
	Roles       []string `json:"roles"`
	HighestRole string   `json:"highestRole,omitempty"`
}

// HomePage is the dashboard landing view
type HomePage struct {
	Title     string   `json:"title"`
	User      UserView `json:"user"`
	Dashboard string   `json:"dashboard"`
	Features  []string `json:"features"`
}

// ProfilePage shows identity, token and permission details
type ProfilePage struct {
	User            UserView              `json:"user"`
	Permissions     []string              `json:"permissions"`
	ResourceRoles   []token.ResourceRoles `json:"resourceRoles"`
	Groups          []string              `json:"groups"`
	ExpiresAt       int64                 `json:"expiresAt"`
	AuthenticatedAt int64                 `json:"authenticatedAt,omitempty"`
	RefreshedAt     int64                 `json:"refreshedAt,omitempty"`
	TokenDetailsURL string                `json:"tokenDetailsUrl"`
}

// DashboardPage is a role-gated dashboard view
type DashboardPage struct {
	Title    string   `json:"title"`
	User     UserView `json:"user"`
	Sections []string `json:"sections"`
}

// LoginPage tells a signed-out user where to sign in
type LoginPage struct {
	LoginURL    string `json:"loginUrl"`
	CallbackURL string `json:"callbackUrl"`
	Error       string `json:"error,omitempty"`
}

// LogoutPage offers federated and local sign-out
type LogoutPage struct {
	FederatedLogoutURL string `json:"federatedLogoutUrl"`
	LocalLogoutURL     string `json:"localLogoutUrl"`
}

// MessagePage is a static page with a message
type MessagePage struct {
	Title   string `json:"title"`
	Message string `json:"message"`
	Detail  string `json:"detail,omitempty"`
	// Code is the raw error code, shown in development only
	Code                  string `json:"code,omitempty"`
	PasswordResetRequired bool   `json:"passwordResetRequired,omitempty"`
	HomeURL               string `json:"homeUrl"`
}
