package httputil

import (
	"net/http"
	"strings"
)

// ParseQueryString returns a trimmed query parameter or defaultVal when absent
func ParseQueryString(r *http.Request, key string, defaultVal string) string {
	if val := strings.TrimSpace(r.URL.Query().Get(key)); val != "" {
		return val
	}
	return defaultVal
}

// ParseQueryStringAny returns the first non-empty value among keys
func ParseQueryStringAny(r *http.Request, defaultVal string, keys ...string) string {
	for _, key := range keys {
		if val := ParseQueryString(r, key, ""); val != "" {
			return val
		}
	}
	return defaultVal
}

// WantsJSON reports whether the client asked for a JSON response rather than
// a browser redirect
func WantsJSON(r *http.Request) bool {
	if strings.HasPrefix(r.URL.Path, "/api/") {
		return true
	}
	return strings.Contains(r.Header.Get("Accept"), "application/json")
}
