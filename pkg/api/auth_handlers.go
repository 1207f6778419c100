package api

import (
	"crypto/rand"
	"encoding/base64"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/gorilla/mux"
	"github.com/platinummonkey/gatehouse/pkg/gate"
	"github.com/platinummonkey/gatehouse/pkg/httputil"
	"github.com/platinummonkey/gatehouse/pkg/observability"
	"github.com/platinummonkey/gatehouse/pkg/session"
	"github.com/platinummonkey/gatehouse/pkg/store"
)

// Login flow cookies, valid for ten minutes
const (
	stateCookie     = "gatehouse_state"
	nonceCookie     = "gatehouse_nonce"
	returnURLCookie = "gatehouse_return_url"
	flowCookieAge   = 600
)

// Auth error codes shown on the error page
const (
	ErrorAccessDenied  = "AccessDenied"
	ErrorOAuthSignin   = "OAuthSignin"
	ErrorOAuthCallback = "OAuthCallback"
	ErrorConfiguration = "Configuration"
)

// Auth routes
const (
	LoginStartPath = "/auth/login"
	CallbackPath   = "/auth/callback"
	SignOutPath    = "/auth/logout"
)

func (s *Server) registerAuthRoutes(router *mux.Router) {
	router.HandleFunc(LoginStartPath, s.initiateLogin).Methods(http.MethodGet)
	router.HandleFunc(CallbackPath, s.handleCallback).Methods(http.MethodGet)
	router.HandleFunc(SignOutPath, s.signOut).Methods(http.MethodGet, http.MethodPost)
}

// initiateLogin handles GET /auth/login
func (s *Server) initiateLogin(w http.ResponseWriter, r *http.Request) {
	returnURL := httputil.ParseQueryStringAny(r, "", "callbackUrl", "return_url")
	if st := session.FromContext(r.Context()); st.Active() {
		http.Redirect(w, r, gate.SafeRedirect(s.appURL, gate.LoginRedirectURL(returnURL)), http.StatusFound)
		return
	}

	state, err := randomToken()
	if err != nil {
		s.authError(w, r, ErrorOAuthSignin, fmt.Errorf("failed to generate state: %w", err))
		return
	}
	nonce, err := randomToken()
	if err != nil {
		s.authError(w, r, ErrorOAuthSignin, fmt.Errorf("failed to generate nonce: %w", err))
		return
	}

	http.SetCookie(w, s.flowCookie(stateCookie, state))
	http.SetCookie(w, s.flowCookie(nonceCookie, nonce))
	if returnURL != "" {
		http.SetCookie(w, s.flowCookie(returnURLCookie, url.QueryEscape(returnURL)))
	}

	http.Redirect(w, r, s.provider.AuthCodeURL(state, nonce), http.StatusFound)
}

// handleCallback handles GET /auth/callback
func (s *Server) handleCallback(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	logger := observability.FromContext(ctx)
	q := r.URL.Query()

	if providerErr := q.Get("error"); providerErr != "" {
		s.metrics.RecordLogin("failed")
		logger.WithField("provider_error", providerErr).Info("Identity provider returned an error")
		code := ErrorOAuthCallback
		if providerErr == "access_denied" {
			code = ErrorAccessDenied
		}
		s.authError(w, r, code, fmt.Errorf("provider error: %s", providerErr))
		return
	}

	expected, err := r.Cookie(stateCookie)
	if err != nil || expected.Value == "" || q.Get("state") != expected.Value {
		s.metrics.RecordLogin("failed")
		s.authError(w, r, ErrorOAuthCallback, fmt.Errorf("state mismatch"))
		return
	}
	var nonce string
	if c, err := r.Cookie(nonceCookie); err == nil {
		nonce = c.Value
	}

	exchange, err := s.provider.Exchange(ctx, q.Get("code"), nonce)
	if err != nil {
		s.metrics.RecordLogin("failed")
		logger.WithError(err).Warn("Authorization code exchange failed")
		s.authError(w, r, ErrorOAuthCallback, err)
		return
	}

	st := s.sessions.Login(exchange.LoginTokens(), exchange.Profile)
	if err := s.saveNewSession(w, r, &st); err != nil {
		s.metrics.RecordLogin("failed")
		logger.WithError(err).Error("Failed to save session")
		s.authError(w, r, ErrorConfiguration, err)
		return
	}

	var returnURL string
	if c, err := r.Cookie(returnURLCookie); err == nil {
		returnURL, _ = url.QueryUnescape(c.Value)
	}
	s.clearFlowCookies(w)

	s.metrics.RecordLogin("success")
	logger.WithFields(map[string]interface{}{
		"subject": st.Subject(),
		"roles":   st.Roles.Strings(),
	}).Info("User signed in")

	http.Redirect(w, r, gate.SafeRedirect(s.appURL, gate.LoginRedirectURL(returnURL)), http.StatusFound)
}

// saveNewSession stores a freshly signed-in session. Server-side stores get
// a new session id so an id issued before sign-in is never reused.
func (s *Server) saveNewSession(w http.ResponseWriter, r *http.Request, st *session.State) error {
	ss, ok := s.store.(store.ServerSide)
	if !ok {
		return s.store.Save(r.Context(), w, r, st)
	}
	if old := ss.SessionID(r); old != "" {
		if err := ss.Revoke(r.Context(), old); err != nil {
			observability.FromContext(r.Context()).WithError(err).Warn("Failed to revoke previous session")
		}
	}
	fresh := r.Clone(r.Context())
	fresh.Header.Del("Cookie")
	return ss.Save(r.Context(), w, fresh, st)
}

// signOut handles /auth/logout, ending the local session only
func (s *Server) signOut(w http.ResponseWriter, r *http.Request) {
	if err := s.store.Clear(r.Context(), w, r); err != nil {
		observability.FromContext(r.Context()).WithError(err).Warn("Failed to clear session")
	}
	s.metrics.RecordLogout("local")

	if httputil.WantsJSON(r) {
		_ = httputil.WriteSuccess(w, map[string]bool{"signedOut": true})
		return
	}
	http.Redirect(w, r, gate.LoginPath, http.StatusFound)
}

// authError sends the browser to the auth error page, or answers JSON
func (s *Server) authError(w http.ResponseWriter, r *http.Request, code string, err error) {
	s.clearFlowCookies(w)
	if httputil.WantsJSON(r) {
		httputil.WriteDetailedError(w, http.StatusBadRequest, code, s.internalMessage(err))
		return
	}
	http.Redirect(w, r, gate.AuthErrorPath+"?error="+url.QueryEscape(code), http.StatusFound)
}

func (s *Server) flowCookie(name, value string) *http.Cookie {
	return &http.Cookie{
		Name:     name,
		Value:    value,
		Path:     "/",
		HttpOnly: true,
		Secure:   s.secureCookies,
		SameSite: http.SameSiteLaxMode,
		MaxAge:   flowCookieAge,
		Expires:  time.Now().Add(flowCookieAge * time.Second),
	}
}

func (s *Server) clearFlowCookies(w http.ResponseWriter) {
	for _, name := range []string{stateCookie, nonceCookie, returnURLCookie} {
		c := s.flowCookie(name, "")
		c.MaxAge = -1
		c.Expires = time.Unix(0, 0)
		http.SetCookie(w, c)
	}
}

func randomToken() (string, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(b), nil
}
