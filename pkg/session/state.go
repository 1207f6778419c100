// Package session holds the authenticated token set of one browser session and
// the rules for moving it between lifecycle states.
package session

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/platinummonkey/gatehouse/pkg/contextkeys"
	"github.com/platinummonkey/gatehouse/pkg/roles"
	"github.com/platinummonkey/gatehouse/pkg/token"
)

// ErrorMarker is recorded on a session whose last refresh failed. A terminal
// failure additionally clears every token, forcing re-authentication.
const ErrorMarker = "RefreshAccessTokenError"

// DefaultExpiresIn applies when the provider omits expires_in
const DefaultExpiresIn = 3600 * time.Second

// DefaultRefreshBuffer is how long before expiry a token is treated as expired
const DefaultRefreshBuffer = 60 * time.Second

// Status is the lifecycle state of a session
type Status int

const (
	Unauthenticated Status = iota
	Valid
	NeedsRefresh
	RefreshFailedRetryable
	RefreshFailedTerminal
)

var statusNames = []string{
	"unauthenticated",
	"valid",
	"needs_refresh",
	"refresh_failed_retryable",
	"refresh_failed_terminal",
}

func (s Status) String() string {
	if int(s) < 0 || int(s) >= len(statusNames) {
		return fmt.Sprintf("status(%d)", int(s))
	}
	return statusNames[s]
}

// MarshalJSON encodes the status by name
func (s Status) MarshalJSON() ([]byte, error) {
	return json.Marshal(s.String())
}

// UnmarshalJSON decodes a status name
func (s *Status) UnmarshalJSON(data []byte) error {
	var name string
	if err := json.Unmarshal(data, &name); err != nil {
		return err
	}
	for i, n := range statusNames {
		if n == name {
			*s = Status(i)
			return nil
		}
	}
	return fmt.Errorf("unknown session status %q", name)
}

// State is the token set of one session plus what was derived from it.
// The zero value is an unauthenticated session.
type State struct {
	Status       Status `json:"status"`
	IDToken      string `json:"idToken,omitempty"`
	AccessToken  string `json:"accessToken,omitempty"`
	RefreshToken string `json:"refreshToken,omitempty"`
	// ExpiresAt is the access token expiry in Unix seconds
	ExpiresAt int64  `json:"expiresAt,omitempty"`
	Error     string `json:"error,omitempty"`

	// Payload is the decoded claim set roles were derived from
	Payload token.Payload `json:"payload,omitempty"`
	Roles   roles.Set     `json:"roles,omitempty"`

	AuthenticatedAt int64 `json:"authenticatedAt,omitempty"`
	RefreshedAt     int64 `json:"refreshedAt,omitempty"`
}

// Active reports whether the session still authenticates a user.
// A retryable refresh failure keeps the session; a terminal one ends it.
func (s *State) Active() bool {
	if s == nil {
		return false
	}
	switch s.Status {
	case Valid, NeedsRefresh, RefreshFailedRetryable:
		return s.AccessToken != ""
	default:
		return false
	}
}

// RequiresReauthentication reports whether the user must sign in again
func (s *State) RequiresReauthentication() bool {
	return s != nil && s.Status == RefreshFailedTerminal
}

// Expiry returns ExpiresAt as a time
func (s *State) Expiry() time.Time {
	return time.Unix(s.ExpiresAt, 0)
}

// Subject returns the sub claim of the session payload
func (s *State) Subject() string {
	if s == nil {
		return ""
	}
	sub, _ := s.Payload.String(token.ClaimSubject)
	return sub
}

// HighestRole returns the most privileged held role, or "" when none
func (s *State) HighestRole() roles.Role {
	if s == nil {
		return ""
	}
	r, _ := s.Roles.Highest()
	return r
}

// NewContext attaches the request's session state
func NewContext(ctx context.Context, st *State) context.Context {
	ctx = contextkeys.WithSession(ctx, st)
	if sub := st.Subject(); sub != "" {
		ctx = contextkeys.WithSubject(ctx, sub)
	}
	return ctx
}

// FromContext returns the request's session state, or nil
func FromContext(ctx context.Context) *State {
	st, _ := ctx.Value(contextkeys.SessionKey).(*State)
	return st
}
