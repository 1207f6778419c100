package api

import (
	"net/http"
	"net/url"
	"strings"

	"github.com/gorilla/mux"
	"github.com/platinummonkey/gatehouse/pkg/gate"
	"github.com/platinummonkey/gatehouse/pkg/httputil"
	"github.com/platinummonkey/gatehouse/pkg/roles"
	"github.com/platinummonkey/gatehouse/pkg/session"
	"github.com/platinummonkey/gatehouse/pkg/token"
)

// loginErrorMessages are shown on the login page for its error parameter
var loginErrorMessages = map[string]string{
	gate.SessionExpiredError: "Your session has expired. Please sign in again.",
	ErrorConfiguration:       "There's a problem with the server configuration. Please contact support.",
	ErrorAccessDenied:        "Access denied. You don't have permission to access this application.",
	"Verification":           "The verification token has expired or has already been used.",
	"Default":                "An error occurred during authentication. Please try again.",
}

// authErrorMessages are shown on the auth error page for its error parameter
var authErrorMessages = map[string]string{
	ErrorConfiguration:      "There's a problem with the server configuration. Please contact support.",
	ErrorAccessDenied:       "Access denied. You don't have permission to access this application.",
	"Verification":          "The verification token has expired or has already been used.",
	"CredentialsSignin":     "Invalid credentials. Please check your username and password.",
	ErrorOAuthSignin:        "Error occurred during OAuth sign in. Please try again.",
	ErrorOAuthCallback:      "Error occurred during OAuth callback. Please try again.",
	"OAuthCreateAccount":    "Could not create OAuth account. Please contact support.",
	"Callback":              "Error occurred during callback. Please try again.",
	"OAuthAccountNotLinked": "This account is already linked to another user.",
	"SessionRequired":       "Please sign in to access this page.",
}

func (s *Server) registerPageRoutes(router *mux.Router) {
	router.HandleFunc(gate.HomePath, s.homePage).Methods(http.MethodGet)
	router.HandleFunc(gate.ProfilePath, s.profilePage).Methods(http.MethodGet)
	router.HandleFunc(gate.SecuredPath, s.securedPage).Methods(http.MethodGet)
	router.HandleFunc(gate.ManagerPath, s.managerPage).Methods(http.MethodGet)
	router.HandleFunc(gate.AdminPath, s.adminPage).Methods(http.MethodGet)
	router.HandleFunc(gate.LoginPath, s.loginPage).Methods(http.MethodGet)
	router.HandleFunc(gate.LogoutPath, s.logoutPage).Methods(http.MethodGet)
	router.HandleFunc(gate.UnauthorizedPath, s.unauthorizedPage).Methods(http.MethodGet)
	router.HandleFunc(gate.AuthErrorPath, s.authErrorPage).Methods(http.MethodGet)
}

func userView(st *session.State) UserView {
	return UserView{
		Minimal:     st.Payload.Minimal(),
		Roles:       st.Roles.Strings(),
		HighestRole: string(st.HighestRole()),
	}
}

// dashboardFor names the dashboard matching the most privileged role
func dashboardFor(st *session.State) string {
	switch {
	case st.Roles.HasRole(roles.Admin):
		return "admin"
	case st.Roles.HasRole(roles.Manager):
		return "manager"
	default:
		return "employee"
	}
}

func (s *Server) homePage(w http.ResponseWriter, r *http.Request) {
	st := session.FromContext(r.Context())
	_ = httputil.WriteSuccess(w, HomePage{
		Title:     "Welcome to Your Dashboard",
		User:      userView(st),
		Dashboard: dashboardFor(st),
		Features: []string{
			"Secure Authentication",
			"Automatic token refresh",
			"Role-Based Access",
		},
	})
}

func (s *Server) profilePage(w http.ResponseWriter, r *http.Request) {
	st := session.FromContext(r.Context())
	resourceRoles := st.Payload.ResourceRoles()
	if resourceRoles == nil {
		resourceRoles = []token.ResourceRoles{}
	}
	_ = httputil.WriteSuccess(w, ProfilePage{
		User:            userView(st),
		Permissions:     nonNil(st.Payload.AllPermissions()),
		ResourceRoles:   resourceRoles,
		Groups:          nonNil(st.Payload.Groups()),
		ExpiresAt:       st.ExpiresAt,
		AuthenticatedAt: st.AuthenticatedAt,
		RefreshedAt:     st.RefreshedAt,
		TokenDetailsURL: TokenDetailsPath,
	})
}

func (s *Server) securedPage(w http.ResponseWriter, r *http.Request) {
	st := session.FromContext(r.Context())
	_ = httputil.WriteSuccess(w, DashboardPage{
		Title:    "Secured Page",
		User:     userView(st),
		Sections: []string{"Personal Information", "Roles"},
	})
}

func (s *Server) managerPage(w http.ResponseWriter, r *http.Request) {
	st := session.FromContext(r.Context())
	_ = httputil.WriteSuccess(w, DashboardPage{
		Title:    "Manager Dashboard",
		User:     userView(st),
		Sections: []string{"Team Overview", "Approvals", "Reports"},
	})
}

func (s *Server) adminPage(w http.ResponseWriter, r *http.Request) {
	st := session.FromContext(r.Context())
	_ = httputil.WriteSuccess(w, DashboardPage{
		Title:    "Admin Dashboard",
		User:     userView(st),
		Sections: []string{"User Management", "System Settings", "Audit Logs"},
	})
}

// loginPage sends signed-in users on to their callback
func (s *Server) loginPage(w http.ResponseWriter, r *http.Request) {
	callback := gate.LoginRedirectURL(httputil.ParseQueryString(r, "callbackUrl", ""))
	if st := session.FromContext(r.Context()); st.Active() {
		http.Redirect(w, r, gate.SafeRedirect(s.appURL, callback), http.StatusFound)
		return
	}

	page := LoginPage{
		LoginURL:    LoginStartPath + "?" + url.Values{"callbackUrl": {callback}}.Encode(),
		CallbackURL: callback,
	}
	if code := httputil.ParseQueryString(r, "error", ""); code != "" {
		msg, ok := loginErrorMessages[code]
		if !ok {
			msg = "An unexpected error occurred. Please try again."
		}
		page.Error = msg
	}
	_ = httputil.WriteSuccess(w, page)
}

func (s *Server) logoutPage(w http.ResponseWriter, r *http.Request) {
	_ = httputil.WriteSuccess(w, LogoutPage{
		FederatedLogoutURL: FederatedLogoutPath,
		LocalLogoutURL:     SignOutPath,
	})
}

func (s *Server) unauthorizedPage(w http.ResponseWriter, r *http.Request) {
	_ = httputil.WriteSuccess(w, MessagePage{
		Title:   "403 - Access Denied",
		Message: "You don't have permission to access this page.",
		Detail:  "Please contact your administrator if you believe this is an error.",
		HomeURL: gate.HomePath,
	})
}

func (s *Server) authErrorPage(w http.ResponseWriter, r *http.Request) {
	code := httputil.ParseQueryString(r, "error", "")
	msg, ok := authErrorMessages[code]
	if !ok {
		msg = "An unexpected error occurred during authentication. Please try again."
	}
	lower := strings.ToLower(code)
	page := MessagePage{
		Title:                 "Authentication Error",
		Message:               msg,
		PasswordResetRequired: strings.Contains(lower, "password") || strings.Contains(lower, "temporary"),
		HomeURL:               gate.HomePath,
	}
	if s.development {
		page.Code = code
	}
	_ = httputil.WriteSuccess(w, page)
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}
