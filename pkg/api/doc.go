// Package api implements the HTTP surface of gatehouse.
//
// # Routes
//
// Sign-in flow:
//
//	GET  /auth/login      start the authorization code flow
//	GET  /auth/callback   finish it and create the session
//	GET  /auth/logout     sign out locally
//
// JSON API:
//
//	GET  /api/auth/token-details     full claim set of the session token
//	GET  /api/auth/keycloak-config   issuer and client id
//	POST /api/auth/federated-logout  provider logout URL, ends the local session
//	GET  /api/auth/session           roles and lifecycle state
//
// Pages answer JSON view models: /, /profile, /secured, /manager, /admin,
// /login, /logout, /unauthorized and /auth/error. Protected pages are gated by
// pkg/gate; a signed-out browser is redirected to /login.
//
// Operational: /metrics, /health, /health/live, /health/ready.
//
// # Middleware
//
// Every request passes request ID, tracing, logging, recovery and metrics
// middleware. Application routes then load the session, refresh it when the
// access token is about to expire, and apply the page gate.
//
// Responses use the pkg/httputil envelopes:
//
//	{"success": true, "data": {...}}
//	{"error": "Unauthorized", "statusCode": 401}
package api
