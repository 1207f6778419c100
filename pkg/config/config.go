package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/platinummonkey/gatehouse/pkg/observability"
)

// ErrConfigurationMissing is returned when a required variable is unset
var ErrConfigurationMissing = errors.New("missing required configuration")

// Required environment variables
const (
	EnvKeycloakIssuer       = "KEYCLOAK_ISSUER"
	EnvKeycloakClientID     = "KEYCLOAK_CLIENT_ID"
	EnvKeycloakClientSecret = "KEYCLOAK_CLIENT_SECRET"
	EnvSessionSecret        = "SESSION_SECRET"
	EnvAppURL               = "APP_URL"
)

// Config holds all application configuration
type Config struct {
	// Server configuration
	Server ServerConfig

	// Identity provider configuration
	Keycloak KeycloakConfig

	// Session configuration
	Session SessionConfig

	// Role mapping configuration
	Roles RolesConfig

	// Observability configuration
	Observability ObservabilityConfig

	// Development enables detailed error messages in responses
	Development bool
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Host            string
	Port            string
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	IdleTimeout     time.Duration
	ShutdownTimeout time.Duration
	MaxBodyBytes    int64
}

// Addr returns host:port
func (s ServerConfig) Addr() string {
	return s.Host + ":" + s.Port
}

// KeycloakConfig holds the client registration
type KeycloakConfig struct {
	Issuer       string
	ClientID     string
	ClientSecret string
	Scopes       []string
	// HTTPTimeout bounds every call to the provider
	HTTPTimeout time.Duration
}

// SessionConfig holds session settings
type SessionConfig struct {
	Secret string
	// AppURL is the public base URL of the application
	AppURL string

	Store      string
	RedisURL   string
	MemorySize int

	CookieName   string
	CookieSecure bool
	MaxAge       time.Duration

	RefreshBuffer time.Duration
}

// RolesConfig holds role mapping settings
type RolesConfig struct {
	// MappingFile is a YAML role table; empty uses the built-in table
	MappingFile string
	// Watch reloads MappingFile when it changes
	Watch bool
}

// ObservabilityConfig holds observability settings
type ObservabilityConfig struct {
	// Logging
	LogLevel observability.LogLevel

	// Metrics
	MetricsEnabled bool

	// Provider reachability probe, as a cron schedule
	ProbeSchedule string

	// OpenTelemetry
	OTelEnabled        bool
	OTelEndpoint       string
	OTelServiceName    string
	OTelServiceVersion string
	OTelInsecure       bool // Use insecure gRPC connection
	OTelSampleRatio    float64
}

// LoadConfig loads configuration from environment variables
func LoadConfig() (*Config, error) {
	cfg := &Config{
		Server:        loadServerConfig(),
		Keycloak:      loadKeycloakConfig(),
		Session:       loadSessionConfig(),
		Roles:         loadRolesConfig(),
		Observability: loadObservabilityConfig(),
		Development:   isDevelopment(),
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return cfg, nil
}

// loadServerConfig loads server configuration from environment
func loadServerConfig() ServerConfig {
	return ServerConfig{
		Host:            getEnv("GATEHOUSE_HOST", "0.0.0.0"),
		Port:            getEnv("GATEHOUSE_PORT", "3000"),
		ReadTimeout:     getEnvDuration("GATEHOUSE_READ_TIMEOUT", 15*time.Second),
		WriteTimeout:    getEnvDuration("GATEHOUSE_WRITE_TIMEOUT", 15*time.Second),
		IdleTimeout:     getEnvDuration("GATEHOUSE_IDLE_TIMEOUT", 60*time.Second),
		ShutdownTimeout: getEnvDuration("GATEHOUSE_SHUTDOWN_TIMEOUT", 30*time.Second),
		MaxBodyBytes:    getEnvInt64("GATEHOUSE_MAX_BODY_BYTES", 1<<20),
	}
}

// loadKeycloakConfig loads identity provider configuration from environment
func loadKeycloakConfig() KeycloakConfig {
	cfg := KeycloakConfig{
		Issuer:       strings.TrimSuffix(getEnv(EnvKeycloakIssuer, ""), "/"),
		ClientID:     getEnv(EnvKeycloakClientID, ""),
		ClientSecret: getEnv(EnvKeycloakClientSecret, ""),
		HTTPTimeout:  getEnvDuration("GATEHOUSE_PROVIDER_TIMEOUT", 10*time.Second),
	}
	if scopes := getEnv("GATEHOUSE_OIDC_SCOPES", ""); scopes != "" {
		cfg.Scopes = splitList(scopes)
	}
	return cfg
}

// loadSessionConfig loads session configuration from environment
func loadSessionConfig() SessionConfig {
	appURL := strings.TrimSuffix(getEnv(EnvAppURL, ""), "/")
	return SessionConfig{
		Secret:        getEnv(EnvSessionSecret, ""),
		AppURL:        appURL,
		Store:         strings.ToLower(getEnv("GATEHOUSE_SESSION_STORE", "cookie")),
		RedisURL:      getEnv("GATEHOUSE_REDIS_URL", "redis://localhost:6379/0"),
		MemorySize:    getEnvInt("GATEHOUSE_SESSION_MEMORY_SIZE", 10000),
		CookieName:    getEnv("GATEHOUSE_SESSION_COOKIE", "gatehouse_session"),
		CookieSecure:  getEnvBool("GATEHOUSE_COOKIE_SECURE", strings.HasPrefix(appURL, "https://")),
		MaxAge:        getEnvDuration("GATEHOUSE_SESSION_MAX_AGE", 30*24*time.Hour),
		RefreshBuffer: getEnvDuration("GATEHOUSE_REFRESH_BUFFER", 60*time.Second),
	}
}

// loadRolesConfig loads role mapping configuration from environment
func loadRolesConfig() RolesConfig {
	return RolesConfig{
		MappingFile: getEnv("GATEHOUSE_ROLE_MAPPING_FILE", ""),
		Watch:       getEnvBool("GATEHOUSE_ROLE_MAPPING_WATCH", true),
	}
}

// loadObservabilityConfig loads observability configuration from environment
func loadObservabilityConfig() ObservabilityConfig {
	return ObservabilityConfig{
		LogLevel:           parseLogLevel(getEnv("GATEHOUSE_LOG_LEVEL", "info")),
		MetricsEnabled:     getEnvBool("GATEHOUSE_METRICS_ENABLED", true),
		ProbeSchedule:      getEnv("GATEHOUSE_PROVIDER_PROBE_SCHEDULE", "@every 30s"),
		OTelEnabled:        getEnvBool("GATEHOUSE_OTEL_ENABLED", false),
		OTelEndpoint:       getEnv("GATEHOUSE_OTEL_ENDPOINT", "localhost:4317"),
		OTelServiceName:    getEnv("GATEHOUSE_OTEL_SERVICE_NAME", "gatehouse"),
		OTelServiceVersion: getEnv("GATEHOUSE_OTEL_SERVICE_VERSION", "1.0.0"),
		OTelInsecure:       getEnvBool("GATEHOUSE_OTEL_INSECURE", true),
		OTelSampleRatio:    getEnvFloat("GATEHOUSE_OTEL_SAMPLE_RATIO", 1.0),
	}
}

func isDevelopment() bool {
	env := strings.ToLower(getEnv("GATEHOUSE_ENV", "production"))
	return env == "development" || env == "dev" || getEnvBool("GATEHOUSE_DEV_MODE", false)
}

// Validate checks the configuration. Every missing required variable is
// reported at once, wrapped in ErrConfigurationMissing.
func (c *Config) Validate() error {
	var missing []string
	for _, req := range []struct {
		name  string
		value string
	}{
		{EnvKeycloakIssuer, c.Keycloak.Issuer},
		{EnvKeycloakClientID, c.Keycloak.ClientID},
		{EnvKeycloakClientSecret, c.Keycloak.ClientSecret},
		{EnvSessionSecret, c.Session.Secret},
		{EnvAppURL, c.Session.AppURL},
	} {
		if req.value == "" {
			missing = append(missing, req.name)
		}
	}

	var errs []error
	if len(missing) > 0 {
		errs = append(errs, fmt.Errorf("%w: %s", ErrConfigurationMissing, strings.Join(missing, ", ")))
	}

	if c.Session.AppURL != "" {
		if u, err := url.Parse(c.Session.AppURL); err != nil || u.Scheme == "" || u.Host == "" {
			errs = append(errs, fmt.Errorf("%s must be an absolute URL: %q", EnvAppURL, c.Session.AppURL))
		}
	}
	if c.Keycloak.Issuer != "" {
		if u, err := url.Parse(c.Keycloak.Issuer); err != nil || u.Scheme == "" || u.Host == "" {
			errs = append(errs, fmt.Errorf("%s must be an absolute URL: %q", EnvKeycloakIssuer, c.Keycloak.Issuer))
		}
	}

	if c.Server.Port == "" {
		errs = append(errs, fmt.Errorf("server port is required"))
	}

	switch c.Session.Store {
	case "cookie", "memory":
	case "redis":
		if c.Session.RedisURL == "" {
			errs = append(errs, fmt.Errorf("redis URL is required for the redis session store"))
		}
	default:
		errs = append(errs, fmt.Errorf("invalid session store: %s (must be cookie, redis, or memory)", c.Session.Store))
	}
	if c.Session.MaxAge <= 0 {
		errs = append(errs, fmt.Errorf("session max age must be positive"))
	}
	if c.Session.RefreshBuffer < 0 {
		errs = append(errs, fmt.Errorf("refresh buffer must not be negative"))
	}

	// Validate OpenTelemetry config
	if c.Observability.OTelEnabled {
		if c.Observability.OTelEndpoint == "" {
			errs = append(errs, fmt.Errorf("OpenTelemetry endpoint is required when OTel is enabled"))
		}
		if c.Observability.OTelServiceName == "" {
			errs = append(errs, fmt.Errorf("OpenTelemetry service name is required when OTel is enabled"))
		}
		if c.Observability.OTelSampleRatio < 0 || c.Observability.OTelSampleRatio > 1 {
			errs = append(errs, fmt.Errorf("OpenTelemetry sample ratio must be between 0 and 1"))
		}
	}

	return errors.Join(errs...)
}

// RedirectURL returns the OAuth callback URL under the application URL
func (c *Config) RedirectURL() string {
	return c.Session.AppURL + "/auth/callback"
}

// parseLogLevel parses a log level string
func parseLogLevel(level string) observability.LogLevel {
	switch strings.ToLower(level) {
	case "debug":
		return observability.DebugLevel
	case "info":
		return observability.InfoLevel
	case "warn", "warning":
		return observability.WarnLevel
	case "error":
		return observability.ErrorLevel
	default:
		return observability.InfoLevel
	}
}

func splitList(value string) []string {
	var out []string
	for _, part := range strings.FieldsFunc(value, func(r rune) bool { return r == ',' || r == ' ' }) {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

// getEnv returns an environment variable value or a default
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvBool returns a boolean environment variable or a default
func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		return strings.ToLower(value) == "true" || value == "1"
	}
	return defaultValue
}

// getEnvInt returns an integer environment variable or a default
func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

// getEnvInt64 returns an int64 environment variable or a default
func getEnvInt64(key string, defaultValue int64) int64 {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.ParseInt(value, 10, 64); err == nil {
			return intVal
		}
	}
	return defaultValue
}

// getEnvFloat returns a float environment variable or a default
func getEnvFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if f, err := strconv.ParseFloat(value, 64); err == nil {
			return f
		}
	}
	return defaultValue
}

// getEnvDuration returns a duration environment variable or a default
func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultValue
}
