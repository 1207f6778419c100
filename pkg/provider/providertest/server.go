// Package providertest runs an in-process OpenID Connect provider shaped like
// a Keycloak realm, for tests of code that talks to pkg/provider.
package providertest

import (
	"crypto/rand"
	"crypto/rsa"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/go-jose/go-jose/v4"
)

const (
	// Realm is the realm name in the issuer path
	Realm = "test"
	// ClientID is the client the server accepts
	ClientID = "gatehouse"
	// ClientSecret is the secret the server accepts
	ClientSecret = "s3cret"

	keyID = "test-key"
)

// TokenResponse is what the token endpoint answers for a grant
type TokenResponse struct {
	Status int
	Body   map[string]interface{}
}

// Grant is what an authorization code or refresh token exchanges for
type Grant struct {
	IDClaims     map[string]interface{}
	AccessClaims map[string]interface{}
	RefreshToken string
	ExpiresIn    int
}

// Server is a fake identity provider
type Server struct {
	*httptest.Server
	Issuer string

	key *rsa.PrivateKey

	mu       sync.Mutex
	codes    map[string]Grant
	refresh  map[string]Grant
	userinfo map[string]interface{}
	// RefreshHandler overrides the refresh_token grant when set
	RefreshHandler func(refreshToken string) TokenResponse
	// Requests counts calls per endpoint name
	Requests map[string]int
	down     bool
}

// NewServer starts a fake provider that is stopped when the test ends
func NewServer(t testing.TB) *Server {
	t.Helper()
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}

	s := &Server{
		key:      key,
		codes:    make(map[string]Grant),
		refresh:  make(map[string]Grant),
		Requests: make(map[string]int),
	}

	prefix := "/realms/" + Realm
	mux := http.NewServeMux()
	mux.HandleFunc(prefix+"/.well-known/openid-configuration", s.track("discovery", s.handleDiscovery))
	mux.HandleFunc(prefix+"/protocol/openid-connect/certs", s.track("certs", s.handleCerts))
	mux.HandleFunc(prefix+"/protocol/openid-connect/token", s.track("token", s.handleToken))
	mux.HandleFunc(prefix+"/protocol/openid-connect/userinfo", s.track("userinfo", s.handleUserInfo))

	s.Server = httptest.NewServer(mux)
	s.Issuer = s.URL + prefix
	t.Cleanup(s.Close)
	return s
}

func (s *Server) track(name string, h http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		s.mu.Lock()
		s.Requests[name]++
		down := s.down
		s.mu.Unlock()
		if down {
			http.Error(w, "unavailable", http.StatusServiceUnavailable)
			return
		}
		h(w, r)
	}
}

// SetDown makes every endpoint answer 503
func (s *Server) SetDown(down bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.down = down
}

// RequestCount returns how often the named endpoint was called
func (s *Server) RequestCount(name string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.Requests[name]
}

// AddCode registers an authorization code
func (s *Server) AddCode(code string, g Grant) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.codes[code] = g
}

// AddRefreshToken registers a refresh token for the refresh_token grant
func (s *Server) AddRefreshToken(refreshToken string, g Grant) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.refresh[refreshToken] = g
}

// SetUserInfo sets the claims returned by the userinfo endpoint
func (s *Server) SetUserInfo(claims map[string]interface{}) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.userinfo = claims
}

// Sign returns a compact RS256 JWT for claims. iss, aud, iat and exp are
// filled in when absent.
func (s *Server) Sign(claims map[string]interface{}) string {
	full := map[string]interface{}{
		"iss": s.Issuer,
		"aud": ClientID,
		"iat": time.Now().Unix(),
		"exp": time.Now().Add(5 * time.Minute).Unix(),
	}
	for k, v := range claims {
		full[k] = v
	}

	signer, err := jose.NewSigner(
		jose.SigningKey{Algorithm: jose.RS256, Key: jose.JSONWebKey{Key: s.key, KeyID: keyID}},
		(&jose.SignerOptions{}).WithType("JWT"),
	)
	if err != nil {
		panic(err)
	}
	payload, err := json.Marshal(full)
	if err != nil {
		panic(err)
	}
	jws, err := signer.Sign(payload)
	if err != nil {
		panic(err)
	}
	raw, err := jws.CompactSerialize()
	if err != nil {
		panic(err)
	}
	return raw
}

func (s *Server) handleDiscovery(w http.ResponseWriter, _ *http.Request) {
	base := s.Issuer + "/protocol/openid-connect"
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"issuer":                                s.Issuer,
		"authorization_endpoint":                base + "/auth",
		"token_endpoint":                        base + "/token",
		"userinfo_endpoint":                     base + "/userinfo",
		"jwks_uri":                              base + "/certs",
		"end_session_endpoint":                  base + "/logout",
		"id_token_signing_alg_values_supported": []string{"RS256"},
		"response_types_supported":              []string{"code"},
		"subject_types_supported":               []string{"public"},
	})
}

func (s *Server) handleCerts(w http.ResponseWriter, _ *http.Request) {
	set := jose.JSONWebKeySet{Keys: []jose.JSONWebKey{{
		Key:       &s.key.PublicKey,
		KeyID:     keyID,
		Algorithm: string(jose.RS256),
		Use:       "sig",
	}}}
	writeJSON(w, http.StatusOK, set)
}

func (s *Server) handleToken(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	if err := r.ParseForm(); err != nil {
		writeOAuthError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}
	if r.PostForm.Get("client_id") != ClientID || r.PostForm.Get("client_secret") != ClientSecret {
		writeOAuthError(w, http.StatusUnauthorized, "unauthorized_client", "Invalid client or Invalid client credentials")
		return
	}

	switch r.PostForm.Get("grant_type") {
	case "authorization_code":
		s.mu.Lock()
		g, ok := s.codes[r.PostForm.Get("code")]
		delete(s.codes, r.PostForm.Get("code"))
		s.mu.Unlock()
		if !ok {
			writeOAuthError(w, http.StatusBadRequest, "invalid_grant", "Code not valid")
			return
		}
		writeJSON(w, http.StatusOK, s.grantBody(g))

	case "refresh_token":
		rt := r.PostForm.Get("refresh_token")
		s.mu.Lock()
		handler := s.RefreshHandler
		g, ok := s.refresh[rt]
		s.mu.Unlock()
		if handler != nil {
			resp := handler(rt)
			if resp.Status == 0 {
				resp.Status = http.StatusOK
			}
			writeJSON(w, resp.Status, resp.Body)
			return
		}
		if !ok {
			writeOAuthError(w, http.StatusBadRequest, "invalid_grant", "Token is not active")
			return
		}
		writeJSON(w, http.StatusOK, s.grantBody(g))

	default:
		writeOAuthError(w, http.StatusBadRequest, "unsupported_grant_type", "")
	}
}

// GrantResponse is a successful token response for g
func (s *Server) GrantResponse(g Grant) TokenResponse {
	return TokenResponse{Status: http.StatusOK, Body: s.grantBody(g)}
}

func (s *Server) grantBody(g Grant) map[string]interface{} {
	expiresIn := g.ExpiresIn
	if expiresIn == 0 {
		expiresIn = 300
	}
	body := map[string]interface{}{
		"access_token": s.Sign(g.AccessClaims),
		"token_type":   "Bearer",
		"expires_in":   expiresIn,
	}
	if g.IDClaims != nil {
		body["id_token"] = s.Sign(g.IDClaims)
	}
	if g.RefreshToken != "" {
		body["refresh_token"] = g.RefreshToken
	}
	return body
}

func (s *Server) handleUserInfo(w http.ResponseWriter, r *http.Request) {
	auth := r.Header.Get("Authorization")
	if !strings.HasPrefix(auth, "Bearer ") || strings.TrimPrefix(auth, "Bearer ") == "" {
		writeOAuthError(w, http.StatusUnauthorized, "invalid_token", "missing bearer token")
		return
	}
	s.mu.Lock()
	claims := s.userinfo
	s.mu.Unlock()
	if claims == nil {
		writeOAuthError(w, http.StatusUnauthorized, "invalid_token", "Token verification failed")
		return
	}
	writeJSON(w, http.StatusOK, claims)
}

// OAuthError builds a token endpoint error response
func OAuthError(status int, code, description string) TokenResponse {
	body := map[string]interface{}{"error": code}
	if description != "" {
		body["error_description"] = description
	}
	return TokenResponse{Status: status, Body: body}
}

func writeOAuthError(w http.ResponseWriter, status int, code, description string) {
	resp := OAuthError(status, code, description)
	writeJSON(w, resp.Status, resp.Body)
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		panic(fmt.Sprintf("encode response: %v", err))
	}
}
