package main

import (
	"context"
	"errors"
	"net/http"
	"os"

	"github.com/platinummonkey/gatehouse/pkg/api"
	"github.com/platinummonkey/gatehouse/pkg/config"
	"github.com/platinummonkey/gatehouse/pkg/logout"
	"github.com/platinummonkey/gatehouse/pkg/observability"
	"github.com/platinummonkey/gatehouse/pkg/provider"
	"github.com/platinummonkey/gatehouse/pkg/roles"
	"github.com/platinummonkey/gatehouse/pkg/session"
	"github.com/platinummonkey/gatehouse/pkg/store"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

func main() {
	cfg, err := config.LoadConfig()
	if err != nil {
		observability.NewLogger(observability.ErrorLevel, os.Stderr).
			WithError(err).Error("Failed to load configuration")
		os.Exit(1)
	}

	logger := observability.NewLogger(cfg.Observability.LogLevel, os.Stdout).
		WithField("service", cfg.Observability.OTelServiceName)

	if err := run(cfg, logger); err != nil {
		logger.WithError(err).Error("Gatehouse stopped with error")
		os.Exit(1)
	}
}

func run(cfg *config.Config, logger *observability.Logger) error {
	ctx := context.Background()

	otel, err := observability.InitOTel(ctx, observability.OTelConfig{
		Enabled:        cfg.Observability.OTelEnabled,
		Endpoint:       cfg.Observability.OTelEndpoint,
		ServiceName:    cfg.Observability.OTelServiceName,
		ServiceVersion: cfg.Observability.OTelServiceVersion,
		Insecure:       cfg.Observability.OTelInsecure,
		SampleRatio:    cfg.Observability.OTelSampleRatio,
	}, logger)
	if err != nil {
		return err
	}

	var (
		registry *prometheus.Registry
		metrics  *observability.Metrics
	)
	if cfg.Observability.MetricsEnabled {
		registry = prometheus.NewRegistry()
		registry.MustRegister(
			collectors.NewGoCollector(),
			collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		)
		metrics = observability.NewMetrics(registry)
	}

	kc, err := provider.NewKeycloak(ctx, provider.Config{
		IssuerURL:    cfg.Keycloak.Issuer,
		ClientID:     cfg.Keycloak.ClientID,
		ClientSecret: cfg.Keycloak.ClientSecret,
		RedirectURL:  cfg.RedirectURL(),
		Scopes:       cfg.Keycloak.Scopes,
	}, &http.Client{Timeout: cfg.Keycloak.HTTPTimeout})
	if err != nil {
		return err
	}
	logger.WithField("issuer", kc.Issuer()).Info("Identity provider discovered")

	var (
		mapper   roles.RoleMapper = roles.DefaultMapper()
		reloader *roles.Reloader
	)
	if cfg.Roles.MappingFile != "" {
		reloader, err = roles.NewReloader(cfg.Roles.MappingFile, logger)
		if err != nil {
			return err
		}
		reloader.OnReload(metrics.RecordRoleMappingReload)
		if cfg.Roles.Watch {
			if err := reloader.Watch(ctx); err != nil {
				return err
			}
		}
		mapper = reloader
		logger.WithField("file", cfg.Roles.MappingFile).Info("Role mapping loaded")
	}

	manager := session.NewManager(kc, roles.NewExtractor(mapper, kc.ClientID()),
		session.WithBuffer(cfg.Session.RefreshBuffer),
		session.WithLogger(logger),
		session.WithMetrics(metrics),
	)

	sessions, err := store.Open(ctx, store.Options{
		Backend:    cfg.Session.Store,
		Secret:     cfg.Session.Secret,
		RedisURL:   cfg.Session.RedisURL,
		MemorySize: cfg.Session.MemorySize,
		Cookie: store.CookieOptions{
			Name:   cfg.Session.CookieName,
			MaxAge: cfg.Session.MaxAge,
			Secure: cfg.Session.CookieSecure,
		},
		Metrics: metrics,
	})
	if err != nil {
		return err
	}
	logger.WithField("backend", cfg.Session.Store).Info("Session store ready")

	var revoker logout.Revoker
	health := observability.NewHealthChecker(cfg.Observability.OTelServiceVersion)
	if ss, ok := sessions.(store.ServerSide); ok {
		revoker = ss
		health.AddDependency("session_store", observability.PingFunc(ss.Ping), true)
	}

	probe := observability.NewProviderProbe(kc, cfg.Keycloak.HTTPTimeout, metrics, logger)
	health.AddDependency("identity_provider", probe, false)
	if err := probe.Start(cfg.Observability.ProbeSchedule); err != nil {
		return err
	}

	coordinator := logout.NewCoordinator(logout.Config{
		Issuer:                kc.Issuer(),
		EndSessionEndpoint:    kc.EndSessionURL(),
		PostLogoutRedirectURI: cfg.Session.AppURL,
	}, revoker, metrics, logger)

	srv, err := api.NewServer(api.Options{
		Provider:      kc,
		Sessions:      manager,
		Store:         sessions,
		Logout:        coordinator,
		AppURL:        cfg.Session.AppURL,
		Development:   cfg.Development,
		SecureCookies: cfg.Session.CookieSecure,
		MaxBodyBytes:  cfg.Server.MaxBodyBytes,
		Logger:        logger,
		Metrics:       metrics,
		Registry:      registry,
		Health:        health,
	})
	if err != nil {
		return err
	}

	httpServer := &http.Server{
		Addr:         cfg.Server.Addr(),
		Handler:      srv,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	shutdown := observability.NewShutdownManager(logger, httpServer, cfg.Server.ShutdownTimeout)
	shutdown.Register("provider probe", probe.Stop)
	if otel != nil {
		shutdown.Register("opentelemetry", func(ctx context.Context) error {
			return otel.Shutdown(ctx, logger)
		})
	}
	if closer, ok := sessions.(interface{ Close() error }); ok {
		shutdown.Register("session store", func(context.Context) error {
			return closer.Close()
		})
	}
	if reloader != nil {
		shutdown.Register("role mapping watcher", func(context.Context) error {
			return reloader.Close()
		})
	}

	serveErr := make(chan error, 1)
	go func() {
		logger.WithField("addr", httpServer.Addr).
			WithField("store", cfg.Session.Store).
			Info("Starting gatehouse")
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	waitCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	go func() {
		if err, ok := <-serveErr; ok {
			logger.WithError(err).Error("HTTP server failed")
			cancel()
		}
	}()

	return shutdown.WaitForShutdown(waitCtx)
}
