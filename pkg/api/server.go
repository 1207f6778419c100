package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"

	"github.com/gorilla/mux"
	"github.com/platinummonkey/gatehouse/pkg/gate"
	"github.com/platinummonkey/gatehouse/pkg/httputil"
	"github.com/platinummonkey/gatehouse/pkg/logout"
	"github.com/platinummonkey/gatehouse/pkg/observability"
	"github.com/platinummonkey/gatehouse/pkg/provider"
	"github.com/platinummonkey/gatehouse/pkg/session"
	"github.com/platinummonkey/gatehouse/pkg/store"
	"github.com/platinummonkey/gatehouse/pkg/token"
	"github.com/prometheus/client_golang/prometheus"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

// Provider is the identity provider surface the handlers use
type Provider interface {
	AuthCodeURL(state, nonce string) string
	Exchange(ctx context.Context, code, nonce string) (*provider.Exchange, error)
	UserInfo(ctx context.Context, accessToken string) (token.Payload, error)
	Issuer() string
	ClientID() string
}

// Options wires a Server
type Options struct {
	Provider Provider
	Sessions *session.Manager
	Store    store.Store
	Logout   *logout.Coordinator
	Gate     *gate.Middleware

	// AppURL is the public base URL of the application
	AppURL string
	// Development exposes internal error details in responses
	Development bool
	// SecureCookies marks the login state cookies Secure
	SecureCookies bool
	MaxBodyBytes  int64

	Logger   *observability.Logger
	Metrics  *observability.Metrics
	Registry *prometheus.Registry
	Health   *observability.HealthChecker
}

// Server represents the HTTP surface
type Server struct {
	provider Provider
	sessions *session.Manager
	store    store.Store
	logout   *logout.Coordinator
	gate     *gate.Middleware

	appURL        *url.URL
	development   bool
	secureCookies bool
	maxBodyBytes  int64

	logger   *observability.Logger
	metrics  *observability.Metrics
	registry *prometheus.Registry
	health   *observability.HealthChecker

	router *mux.Router
}

// NewServer creates the server and its routes
func NewServer(opts Options) (*Server, error) {
	if opts.Provider == nil {
		return nil, errors.New("provider is required")
	}
	if opts.Sessions == nil {
		return nil, errors.New("session manager is required")
	}
	if opts.Store == nil {
		return nil, errors.New("session store is required")
	}
	appURL, err := url.Parse(opts.AppURL)
	if err != nil || appURL.Scheme == "" || appURL.Host == "" {
		return nil, fmt.Errorf("invalid application URL %q", opts.AppURL)
	}
	if opts.Logger == nil {
		opts.Logger = observability.Discard()
	}
	if opts.Gate == nil {
		opts.Gate = gate.NewMiddleware(gate.DefaultPolicy(), opts.Metrics)
	}
	if opts.Logout == nil {
		opts.Logout = logout.NewCoordinator(logout.Config{
			Issuer:                opts.Provider.Issuer(),
			PostLogoutRedirectURI: appURL.String(),
		}, revokerOf(opts.Store), opts.Metrics, opts.Logger)
	}

	s := &Server{
		provider:      opts.Provider,
		sessions:      opts.Sessions,
		store:         opts.Store,
		logout:        opts.Logout,
		gate:          opts.Gate,
		appURL:        appURL,
		development:   opts.Development,
		secureCookies: opts.SecureCookies,
		maxBodyBytes:  opts.MaxBodyBytes,
		logger:        opts.Logger,
		metrics:       opts.Metrics,
		registry:      opts.Registry,
		health:        opts.Health,
		router:        mux.NewRouter(),
	}
	s.setupRoutes()
	return s, nil
}

// revokerOf returns the store as a logout revoker when it keeps server-side state
func revokerOf(st store.Store) logout.Revoker {
	if ss, ok := st.(store.ServerSide); ok {
		return ss
	}
	return nil
}

// setupRoutes configures middleware and routes. Operational endpoints are
// registered on the root router and never load a session.
func (s *Server) setupRoutes() {
	s.router.Use(
		httputil.RequestIDMiddleware,
		otelhttp.NewMiddleware("gatehouse",
			otelhttp.WithSpanNameFormatter(func(_ string, r *http.Request) string {
				return r.Method + " " + routeTemplate(r)
			}),
		),
		httputil.LoggingMiddleware(s.logger),
		httputil.RecoveryMiddleware(s.logger),
	)
	if s.metrics != nil {
		s.router.Use(observability.HTTPMetricsMiddleware(s.metrics))
	}
	if s.maxBodyBytes > 0 {
		s.router.Use(httputil.MaxBytesMiddleware(s.maxBodyBytes))
	}

	if s.registry != nil {
		observability.RegisterMetricsEndpoint(s.router, s.registry)
	}
	if s.health != nil {
		observability.RegisterHealthRoutes(s.router, s.health)
	}

	// the app subroute must not carry a path matcher or mux answers 404 for 405
	app := s.router.NewRoute().Subrouter()
	app.Use(s.sessionMiddleware, s.gate.Pages)

	s.registerAuthRoutes(app)
	s.registerAPIRoutes(app)
	s.registerPageRoutes(app)

	app.NotFoundHandler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		httputil.WriteErrorMessage(w, http.StatusNotFound, "Not Found")
	})
	app.MethodNotAllowedHandler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		httputil.WriteErrorMessage(w, http.StatusMethodNotAllowed, "Method Not Allowed")
	})
}

func routeTemplate(r *http.Request) string {
	if route := mux.CurrentRoute(r); route != nil {
		if tmpl, err := route.GetPathTemplate(); err == nil {
			return tmpl
		}
	}
	return r.URL.Path
}

// ServeHTTP implements the http.Handler interface
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

// Router returns the underlying router
func (s *Server) Router() *mux.Router {
	return s.router
}

// internalMessage returns err's text in development and "" otherwise
func (s *Server) internalMessage(err error) string {
	if s.development && err != nil {
		return err.Error()
	}
	return ""
}
