// Package httputil provides HTTP utilities for standardized request/response handling.
//
// # Overview
//
// Every JSON API response uses one of two envelopes:
//
//	{"success": true, "data": {...}}
//	{"error": "Unauthorized", "message": "...", "statusCode": 401}
//
// The message field is only filled in development builds; production responses
// carry the generic error text alone.
//
// # Response Helpers
//
//	httputil.WriteSuccess(w, details)
//	httputil.WriteUnauthorized(w, "Unauthorized")
//	httputil.WriteDetailedError(w, http.StatusInternalServerError, "Failed to load token details", err.Error())
//
// # Middleware
//
//	httputil.Chain(
//		httputil.RequestIDMiddleware,
//		httputil.LoggingMiddleware(logger),
//		httputil.RecoveryMiddleware(logger),
//		httputil.MaxBytesMiddleware(64*1024),
//	)
//
// # Related Packages
//
//   - pkg/api: Routes built on these helpers
//   - pkg/gate: Access control middleware
package httputil
