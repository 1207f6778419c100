// Package logout ends a session at the identity provider as well as locally.
package logout

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"

	"github.com/platinummonkey/gatehouse/pkg/observability"
	"github.com/platinummonkey/gatehouse/pkg/session"
)

// DefaultPostLogoutRedirect is used when no application URL is configured
const DefaultPostLogoutRedirect = "http://localhost:3000"

var (
	// ErrNoActiveSession is returned when there is nothing to log out
	ErrNoActiveSession = errors.New("no active session")
	// ErrMissingIDToken is returned when the session has no ID token to hint with
	ErrMissingIDToken = errors.New("missing id token")
	// ErrIssuerNotConfigured is returned when the provider issuer is unknown
	ErrIssuerNotConfigured = errors.New("keycloak issuer not configured")
)

// Revoker drops the server-side copy of a session
type Revoker interface {
	Revoke(ctx context.Context, sessionID string) error
}

// Config configures a Coordinator
type Config struct {
	Issuer string
	// EndSessionEndpoint overrides the endpoint derived from Issuer
	EndSessionEndpoint string
	// PostLogoutRedirectURI is where the provider sends the browser afterwards
	PostLogoutRedirectURI string
}

// Result describes how the sign-out proceeds
type Result struct {
	// LogoutURL is the provider end-session URL the browser must visit
	LogoutURL string `json:"logoutUrl,omitempty"`
	// LocalOnly is set when only the local session can be ended
	LocalOnly bool `json:"localOnly"`
}

// Coordinator performs federated logout
type Coordinator struct {
	cfg     Config
	revoker Revoker
	metrics *observability.Metrics
	logger  *observability.Logger
}

// NewCoordinator creates a coordinator. revoker may be nil for stores that
// keep no server-side state.
func NewCoordinator(cfg Config, revoker Revoker, metrics *observability.Metrics, logger *observability.Logger) *Coordinator {
	if cfg.PostLogoutRedirectURI == "" {
		cfg.PostLogoutRedirectURI = DefaultPostLogoutRedirect
	}
	if logger == nil {
		logger = observability.Discard()
	}
	return &Coordinator{cfg: cfg, revoker: revoker, metrics: metrics, logger: logger}
}

// EndSessionEndpoint returns the provider logout endpoint, or "" when the
// issuer is not configured
func (c *Coordinator) EndSessionEndpoint() string {
	if c.cfg.EndSessionEndpoint != "" {
		return c.cfg.EndSessionEndpoint
	}
	if c.cfg.Issuer == "" {
		return ""
	}
	return strings.TrimSuffix(c.cfg.Issuer, "/") + "/protocol/openid-connect/logout"
}

// Logout validates the session, builds the provider logout URL and drops the
// local session. On a precondition error the returned Result has LocalOnly set
// and the caller signs out locally.
func (c *Coordinator) Logout(ctx context.Context, sessionID string, st *session.State) (Result, error) {
	if !st.Active() {
		return c.localOnly(ErrNoActiveSession)
	}
	if st.IDToken == "" {
		return c.localOnly(ErrMissingIDToken)
	}
	endpoint := c.EndSessionEndpoint()
	if endpoint == "" {
		return c.localOnly(ErrIssuerNotConfigured)
	}

	logoutURL, err := BuildLogoutURL(endpoint, st.IDToken, c.cfg.PostLogoutRedirectURI)
	if err != nil {
		return c.localOnly(err)
	}

	if c.revoker != nil && sessionID != "" {
		if err := c.revoker.Revoke(ctx, sessionID); err != nil {
			// the browser cookie is cleared by the caller regardless
			c.logger.WithError(err).Warn("Failed to revoke server-side session")
		}
	}

	c.metrics.RecordLogout("federated")
	c.logger.WithField("subject", st.Subject()).Info("Federated logout initiated")
	return Result{LogoutURL: logoutURL}, nil
}

func (c *Coordinator) localOnly(err error) (Result, error) {
	c.metrics.RecordLogout("local")
	c.logger.WithError(err).Info("Falling back to local sign-out")
	return Result{LocalOnly: true}, err
}

// BuildLogoutURL renders
// {endpoint}?id_token_hint=<idToken>&post_logout_redirect_uri=<redirect>
func BuildLogoutURL(endpoint, idToken, postLogoutRedirect string) (string, error) {
	u, err := url.Parse(endpoint)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return "", fmt.Errorf("invalid end session endpoint %q", endpoint)
	}
	q := u.Query()
	q.Set("id_token_hint", idToken)
	q.Set("post_logout_redirect_uri", postLogoutRedirect)
	u.RawQuery = q.Encode()
	return u.String(), nil
}
