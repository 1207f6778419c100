package provider

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/coreos/go-oidc/v3/oidc"
	"github.com/platinummonkey/gatehouse/pkg/session"
	"github.com/platinummonkey/gatehouse/pkg/token"
	"golang.org/x/oauth2"
)

// Config holds the client registration at the identity provider
type Config struct {
	IssuerURL    string
	ClientID     string
	ClientSecret string
	RedirectURL  string
	Scopes       []string
}

// DefaultScopes are requested when Config.Scopes is empty
var DefaultScopes = []string{oidc.ScopeOpenID, "profile", "email", oidc.ScopeOfflineAccess}

// Validate checks the configuration
func (c Config) Validate() error {
	if c.IssuerURL == "" {
		return fmt.Errorf("issuer_url is required")
	}
	if c.ClientID == "" {
		return fmt.Errorf("client_id is required")
	}
	if c.ClientSecret == "" {
		return fmt.Errorf("client_secret is required")
	}
	return nil
}

// Exchange is the result of a successful authorization code exchange
type Exchange struct {
	IDToken      string
	AccessToken  string
	RefreshToken string
	ExpiresAt    time.Time
	// Profile holds the verified ID token claims
	Profile token.Payload
}

// LoginTokens returns the raw tokens for session.Manager.Login
func (e *Exchange) LoginTokens() session.LoginTokens {
	return session.LoginTokens{
		IDToken:      e.IDToken,
		AccessToken:  e.AccessToken,
		RefreshToken: e.RefreshToken,
		ExpiresAt:    e.ExpiresAt,
	}
}

// Keycloak is an OpenID Connect client for a Keycloak realm
type Keycloak struct {
	cfg          Config
	httpClient   *http.Client
	provider     *oidc.Provider
	verifier     *oidc.IDTokenVerifier
	oauth2Config *oauth2.Config
	endSession   string
}

// NewKeycloak discovers the realm's endpoints. httpClient carries the timeouts
// for every provider call; nil uses http.DefaultClient.
func NewKeycloak(ctx context.Context, cfg Config, httpClient *http.Client) (*Keycloak, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid provider config: %w", err)
	}
	if httpClient == nil {
		httpClient = http.DefaultClient
	}

	provider, err := oidc.NewProvider(oidc.ClientContext(ctx, httpClient), strings.TrimSuffix(cfg.IssuerURL, "/"))
	if err != nil {
		return nil, fmt.Errorf("failed to discover OIDC provider: %w", err)
	}

	var discovery struct {
		EndSessionEndpoint string `json:"end_session_endpoint"`
	}
	if err := provider.Claims(&discovery); err != nil {
		return nil, fmt.Errorf("failed to parse discovery document: %w", err)
	}

	scopes := cfg.Scopes
	if len(scopes) == 0 {
		scopes = DefaultScopes
	}

	endpoint := provider.Endpoint()
	// client credentials travel in the form body
	endpoint.AuthStyle = oauth2.AuthStyleInParams

	return &Keycloak{
		cfg:        cfg,
		httpClient: httpClient,
		provider:   provider,
		verifier:   provider.Verifier(&oidc.Config{ClientID: cfg.ClientID}),
		oauth2Config: &oauth2.Config{
			ClientID:     cfg.ClientID,
			ClientSecret: cfg.ClientSecret,
			Endpoint:     endpoint,
			RedirectURL:  cfg.RedirectURL,
			Scopes:       scopes,
		},
		endSession: discovery.EndSessionEndpoint,
	}, nil
}

// Issuer returns the configured issuer URL
func (k *Keycloak) Issuer() string {
	return k.cfg.IssuerURL
}

// ClientID returns the registered client id
func (k *Keycloak) ClientID() string {
	return k.cfg.ClientID
}

// EndSessionURL returns the discovered end_session_endpoint, falling back to
// the Keycloak path under the issuer
func (k *Keycloak) EndSessionURL() string {
	if k.endSession != "" {
		return k.endSession
	}
	return strings.TrimSuffix(k.cfg.IssuerURL, "/") + "/protocol/openid-connect/logout"
}

// AuthCodeURL returns the authorization endpoint URL to start sign-in
func (k *Keycloak) AuthCodeURL(state, nonce string) string {
	opts := []oauth2.AuthCodeOption{oauth2.AccessTypeOffline}
	if nonce != "" {
		opts = append(opts, oidc.Nonce(nonce))
	}
	return k.oauth2Config.AuthCodeURL(state, opts...)
}

func (k *Keycloak) clientContext(ctx context.Context) context.Context {
	return context.WithValue(ctx, oauth2.HTTPClient, k.httpClient)
}

// Exchange trades an authorization code for tokens and verifies the ID token
func (k *Keycloak) Exchange(ctx context.Context, code, nonce string) (*Exchange, error) {
	if code == "" {
		return nil, fmt.Errorf("missing authorization code")
	}

	oauth2Token, err := k.oauth2Config.Exchange(k.clientContext(ctx), code)
	if err != nil {
		return nil, fmt.Errorf("failed to exchange token: %w", err)
	}

	rawIDToken, ok := oauth2Token.Extra("id_token").(string)
	if !ok || rawIDToken == "" {
		return nil, fmt.Errorf("missing id_token in response")
	}

	idToken, err := k.verifier.Verify(oidc.ClientContext(ctx, k.httpClient), rawIDToken)
	if err != nil {
		return nil, fmt.Errorf("failed to verify ID token: %w", err)
	}
	if nonce != "" && idToken.Nonce != nonce {
		return nil, fmt.Errorf("failed to verify ID token: nonce mismatch")
	}

	var profile token.Payload
	if err := idToken.Claims(&profile); err != nil {
		return nil, fmt.Errorf("failed to parse claims: %w", err)
	}

	return &Exchange{
		IDToken:      rawIDToken,
		AccessToken:  oauth2Token.AccessToken,
		RefreshToken: oauth2Token.RefreshToken,
		ExpiresAt:    oauth2Token.Expiry,
		Profile:      profile,
	}, nil
}

// Refresh performs the refresh_token grant. A rejected refresh token is
// reported wrapped in session.ErrRefreshRejected; every other failure is
// returned as-is and treated as retryable.
func (k *Keycloak) Refresh(ctx context.Context, refreshToken string) (*session.RefreshResponse, error) {
	if refreshToken == "" {
		return nil, session.ErrNoRefreshToken
	}

	src := k.oauth2Config.TokenSource(k.clientContext(ctx), &oauth2.Token{RefreshToken: refreshToken})
	tok, err := src.Token()
	if err != nil {
		return nil, classifyRefreshError(err)
	}

	resp := &session.RefreshResponse{
		AccessToken: tok.AccessToken,
		ExpiresIn:   time.Duration(tok.ExpiresIn) * time.Second,
	}
	if resp.ExpiresIn <= 0 && !tok.Expiry.IsZero() {
		resp.ExpiresIn = time.Until(tok.Expiry).Round(time.Second)
	}
	// oauth2 echoes the old refresh token when none was issued
	if tok.RefreshToken != refreshToken {
		resp.RefreshToken = tok.RefreshToken
	}
	if id, ok := tok.Extra("id_token").(string); ok {
		resp.IDToken = id
	}
	return resp, nil
}

// inactiveTokenMessage is Keycloak's description for a revoked or expired
// refresh token
const inactiveTokenMessage = "Token is not active"

func classifyRefreshError(err error) error {
	var re *oauth2.RetrieveError
	if errors.As(err, &re) {
		if re.ErrorCode == "invalid_grant" ||
			re.ErrorCode == inactiveTokenMessage ||
			strings.Contains(re.ErrorDescription, inactiveTokenMessage) {
			desc := re.ErrorDescription
			if desc == "" {
				desc = re.ErrorCode
			}
			return fmt.Errorf("%w: %s", session.ErrRefreshRejected, desc)
		}
		status := 0
		if re.Response != nil {
			status = re.Response.StatusCode
		}
		return fmt.Errorf("refresh grant failed with status %d: %s", status, re.ErrorCode)
	}
	return fmt.Errorf("refresh grant failed: %w", err)
}

// UserInfo fetches the userinfo claims for an access token
func (k *Keycloak) UserInfo(ctx context.Context, accessToken string) (token.Payload, error) {
	if accessToken == "" {
		return nil, fmt.Errorf("missing access token")
	}
	info, err := k.provider.UserInfo(oidc.ClientContext(ctx, k.httpClient),
		oauth2.StaticTokenSource(&oauth2.Token{AccessToken: accessToken, TokenType: "Bearer"}))
	if err != nil {
		return nil, fmt.Errorf("failed to fetch userinfo: %w", err)
	}

	var claims token.Payload
	if err := info.Claims(&claims); err != nil {
		return nil, fmt.Errorf("failed to parse userinfo: %w", err)
	}
	return claims, nil
}

// Ping fetches the discovery document to check the provider is reachable
func (k *Keycloak) Ping(ctx context.Context) error {
	wellKnown := strings.TrimSuffix(k.cfg.IssuerURL, "/") + "/.well-known/openid-configuration"
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, wellKnown, nil)
	if err != nil {
		return err
	}
	resp, err := k.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("provider unreachable: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("provider discovery returned status %d", resp.StatusCode)
	}
	return nil
}
