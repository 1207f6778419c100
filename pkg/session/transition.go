package session

import (
	"errors"
	"time"

	"github.com/platinummonkey/gatehouse/pkg/roles"
	"github.com/platinummonkey/gatehouse/pkg/token"
)

// Event drives a Transition
type Event interface {
	isEvent()
}

// LoginEvent carries the token set issued at sign-in together with the
// payload and roles derived from it
type LoginEvent struct {
	IDToken      string
	AccessToken  string
	RefreshToken string
	// ExpiresAt is the access token expiry; zero means Now + DefaultExpiresIn
	ExpiresAt time.Time
	Payload   token.Payload
	Roles     roles.Set
	Now       time.Time
}

// CheckEvent asks whether the access token is still usable at Now
type CheckEvent struct {
	Now    time.Time
	Buffer time.Duration
}

// RefreshResultEvent reports the outcome of a refresh grant. On success
// Payload and Roles are what the refreshed tokens decode to; they are adopted
// only when Payload carries role claims.
type RefreshResultEvent struct {
	Response *RefreshResponse
	Err      error
	Payload  token.Payload
	Roles    roles.Set
	Now      time.Time
}

// LogoutEvent ends the session locally
type LogoutEvent struct{}

func (LoginEvent) isEvent()         {}
func (CheckEvent) isEvent()         {}
func (RefreshResultEvent) isEvent() {}
func (LogoutEvent) isEvent()        {}

// Transition computes the next session state. It has no side effects and never
// mutates prev.
func Transition(prev State, ev Event) State {
	switch e := ev.(type) {
	case LoginEvent:
		return login(e)
	case CheckEvent:
		return check(prev, e)
	case RefreshResultEvent:
		return refreshed(prev, e)
	case LogoutEvent:
		return State{}
	default:
		return prev
	}
}

func login(e LoginEvent) State {
	if e.AccessToken == "" {
		return State{}
	}
	expiresAt := e.ExpiresAt
	if expiresAt.IsZero() {
		expiresAt = e.Now.Add(DefaultExpiresIn)
	}
	return State{
		Status:          Valid,
		IDToken:         e.IDToken,
		AccessToken:     e.AccessToken,
		RefreshToken:    e.RefreshToken,
		ExpiresAt:       expiresAt.Unix(),
		Payload:         e.Payload,
		Roles:           copySet(e.Roles),
		AuthenticatedAt: e.Now.Unix(),
	}
}

func check(prev State, e CheckEvent) State {
	switch prev.Status {
	case Unauthenticated, RefreshFailedTerminal:
		return prev
	}
	if prev.AccessToken == "" {
		return State{}
	}

	next := prev
	if !e.Now.Before(prev.Expiry().Add(-e.Buffer)) {
		next.Status = NeedsRefresh
		return next
	}
	if prev.Status == NeedsRefresh {
		next.Status = Valid
	}
	return next
}

func refreshed(prev State, e RefreshResultEvent) State {
	if prev.Status == Unauthenticated || prev.Status == RefreshFailedTerminal {
		return prev
	}

	next := prev
	if e.Err != nil || e.Response == nil || e.Response.AccessToken == "" {
		next.Error = ErrorMarker
		if e.Err != nil && IsTerminal(e.Err) {
			next.Status = RefreshFailedTerminal
			next.IDToken = ""
			next.AccessToken = ""
			next.RefreshToken = ""
			return next
		}
		next.Status = RefreshFailedRetryable
		return next
	}

	resp := e.Response
	expiresIn := resp.ExpiresIn
	if expiresIn <= 0 {
		expiresIn = DefaultExpiresIn
	}

	next.Status = Valid
	next.Error = ""
	next.AccessToken = resp.AccessToken
	next.ExpiresAt = e.Now.Add(expiresIn).Unix()
	next.RefreshedAt = e.Now.Unix()
	if resp.IDToken != "" {
		next.IDToken = resp.IDToken
	}
	if resp.RefreshToken != "" {
		next.RefreshToken = resp.RefreshToken
	}
	// payload and roles move together; a refreshed token without role claims
	// keeps both from the previous state
	if e.Payload.HasRoleClaims() {
		next.Payload = e.Payload
		next.Roles = copySet(e.Roles)
	}
	return next
}

// IsTerminal reports whether a refresh error means the refresh token is no
// longer usable
func IsTerminal(err error) bool {
	return errors.Is(err, ErrRefreshRejected) || errors.Is(err, ErrNoRefreshToken)
}

func copySet(s roles.Set) roles.Set {
	return roles.NewSet().Union(s)
}
