// Package config provides application configuration management from environment variables.
//
// # Overview
//
// Five variables are required and every missing one is reported together,
// wrapped in ErrConfigurationMissing:
//
//	KEYCLOAK_ISSUER="https://sso.example.com/realms/corp"
//	KEYCLOAK_CLIENT_ID="gatehouse"
//	KEYCLOAK_CLIENT_SECRET="..."
//	SESSION_SECRET="..."
//	APP_URL="https://app.example.com"
//
// Everything else has a default.
//
// # Configuration Structure
//
// Server settings:
//
//	GATEHOUSE_HOST="0.0.0.0"
//	GATEHOUSE_PORT="3000"
//	GATEHOUSE_READ_TIMEOUT="15s"
//	GATEHOUSE_SHUTDOWN_TIMEOUT="30s"
//	GATEHOUSE_ENV="production"  # development shows error details
//
// Identity provider settings:
//
//	GATEHOUSE_OIDC_SCOPES="openid,profile,email,offline_access"
//	GATEHOUSE_PROVIDER_TIMEOUT="10s"
//
// Session settings:
//
//	GATEHOUSE_SESSION_STORE="cookie"  # cookie, redis, memory
//	GATEHOUSE_REDIS_URL="redis://localhost:6379/0"
//	GATEHOUSE_SESSION_MAX_AGE="720h"
//	GATEHOUSE_REFRESH_BUFFER="60s"
//
// Role mapping settings:
//
//	GATEHOUSE_ROLE_MAPPING_FILE="/etc/gatehouse/roles.yaml"
//	GATEHOUSE_ROLE_MAPPING_WATCH="true"
//
// Observability settings:
//
//	GATEHOUSE_LOG_LEVEL="info"  # debug, info, warn, error
//	GATEHOUSE_METRICS_ENABLED="true"
//	GATEHOUSE_PROVIDER_PROBE_SCHEDULE="@every 30s"
//	GATEHOUSE_OTEL_ENABLED="true"
//	GATEHOUSE_OTEL_ENDPOINT="otel-collector:4317"
//
// # Usage Example
//
//	cfg, err := config.LoadConfig()
//	if errors.Is(err, config.ErrConfigurationMissing) {
//		log.Fatal(err)
//	}
//
// # Related Packages
//
//   - pkg/provider: Uses the Keycloak settings
//   - pkg/store: Uses the session settings
//   - pkg/observability: Uses the observability settings
package config
