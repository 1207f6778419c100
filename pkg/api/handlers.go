package api

import (
	"errors"
	"net/http"

	"github.com/gorilla/mux"
	"github.com/platinummonkey/gatehouse/pkg/details"
	"github.com/platinummonkey/gatehouse/pkg/httputil"
	"github.com/platinummonkey/gatehouse/pkg/logout"
	"github.com/platinummonkey/gatehouse/pkg/observability"
	"github.com/platinummonkey/gatehouse/pkg/session"
	"github.com/platinummonkey/gatehouse/pkg/store"
	"github.com/platinummonkey/gatehouse/pkg/token"
)

// API routes
const (
	TokenDetailsPath    = details.Path
	KeycloakConfigPath  = "/api/auth/keycloak-config"
	FederatedLogoutPath = "/api/auth/federated-logout"
	SessionPath         = "/api/auth/session"
)

func (s *Server) registerAPIRoutes(router *mux.Router) {
	router.HandleFunc(TokenDetailsPath, s.getTokenDetails).Methods(http.MethodGet)
	router.HandleFunc(KeycloakConfigPath, s.getKeycloakConfig).Methods(http.MethodGet)
	router.HandleFunc(FederatedLogoutPath, s.federatedLogout).Methods(http.MethodPost)
	router.HandleFunc(SessionPath, s.getSession).Methods(http.MethodGet)
}

// getTokenDetails handles GET /api/auth/token-details
func (s *Server) getTokenDetails(w http.ResponseWriter, r *http.Request) {
	st := session.FromContext(r.Context())
	if !st.Active() {
		httputil.WriteUnauthorized(w, "Unauthorized")
		return
	}

	payload := st.Payload.Clone()
	if payload == nil {
		payload = token.DecodePreferred(st.AccessToken, st.IDToken)
	}
	if payload == nil {
		httputil.WriteUnauthorized(w, "No token payload available")
		return
	}

	if !payload.HasRoleClaims() && st.AccessToken != "" {
		payload = s.mergeUserInfo(r, payload, st.AccessToken)
	}

	_ = httputil.WriteSuccess(w, TokenDetailsResponse{TokenPayload: payload})
}

// mergeUserInfo copies the role-bearing claims of the userinfo response into
// payload. A failed userinfo call leaves payload as it is.
func (s *Server) mergeUserInfo(r *http.Request, payload token.Payload, accessToken string) token.Payload {
	info, err := s.provider.UserInfo(r.Context(), accessToken)
	if err != nil {
		observability.FromContext(r.Context()).WithError(err).Debug("Userinfo fallback failed")
		return payload
	}
	extra := token.Payload{}
	for _, claim := range []string{token.ClaimRealmAccess, token.ClaimResourceAccess, token.ClaimGroups} {
		if v, ok := info[claim]; ok && v != nil {
			extra[claim] = v
		}
	}
	return payload.Merge(extra)
}

// getKeycloakConfig handles GET /api/auth/keycloak-config
func (s *Server) getKeycloakConfig(w http.ResponseWriter, r *http.Request) {
	issuer, clientID := s.provider.Issuer(), s.provider.ClientID()
	if issuer == "" || clientID == "" {
		httputil.WriteInternalError(w, "Keycloak configuration not found")
		return
	}
	_ = httputil.WriteSuccess(w, KeycloakConfigResponse{Issuer: issuer, ClientID: clientID})
}

// federatedLogout handles POST /api/auth/federated-logout. The local session
// is cleared whether or not the provider logout URL could be built.
func (s *Server) federatedLogout(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	st := session.FromContext(ctx)

	var sessionID string
	if ss, ok := s.store.(store.ServerSide); ok {
		sessionID = ss.SessionID(r)
	}

	result, err := s.logout.Logout(ctx, sessionID, st)
	if cerr := s.store.Clear(ctx, w, r); cerr != nil {
		observability.FromContext(ctx).WithError(cerr).Warn("Failed to clear session")
	}

	switch {
	case err == nil:
		_ = httputil.WriteSuccess(w, FederatedLogoutResponse{Success: true, LogoutURL: result.LogoutURL})
	case errors.Is(err, logout.ErrNoActiveSession):
		httputil.WriteErrorMessage(w, http.StatusUnauthorized, "No active session")
	case errors.Is(err, logout.ErrMissingIDToken), errors.Is(err, logout.ErrIssuerNotConfigured):
		httputil.WriteErrorMessage(w, http.StatusBadRequest, "Missing idToken or Keycloak issuer")
	default:
		httputil.WriteDetailedError(w, http.StatusInternalServerError, "Internal Server Error", s.internalMessage(err))
	}
}

// getSession handles GET /api/auth/session
func (s *Server) getSession(w http.ResponseWriter, r *http.Request) {
	st := session.FromContext(r.Context())
	if st == nil {
		_ = httputil.WriteSuccess(w, SessionResponse{Status: session.Unauthenticated.String()})
		return
	}

	resp := SessionResponse{
		Authenticated: st.Active(),
		Status:        st.Status.String(),
		Error:         st.Error,
	}
	if resp.Authenticated {
		resp.Roles = st.Roles.Strings()
		resp.HighestRole = string(st.HighestRole())
		resp.ExpiresAt = st.ExpiresAt
		resp.User = token.MinimalFromToken(st.IDToken)
	}
	_ = httputil.WriteSuccess(w, resp)
}
