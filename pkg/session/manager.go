package session

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/platinummonkey/gatehouse/pkg/contextkeys"
	"github.com/platinummonkey/gatehouse/pkg/observability"
	"github.com/platinummonkey/gatehouse/pkg/roles"
	"github.com/platinummonkey/gatehouse/pkg/token"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

var (
	// ErrNoRefreshToken is returned when an expired session has no refresh token
	ErrNoRefreshToken = errors.New("no refresh token available")
	// ErrRefreshRejected marks a refresh the provider refused outright
	// (invalid_grant, "Token is not active"). Refreshers wrap it.
	ErrRefreshRejected = errors.New("refresh token rejected")
)

// RefreshResponse is the token endpoint's answer to a refresh grant.
// Empty IDToken or RefreshToken means the provider did not issue a new one.
type RefreshResponse struct {
	AccessToken  string
	IDToken      string
	RefreshToken string
	ExpiresIn    time.Duration
}

// Refresher performs the refresh_token grant
type Refresher interface {
	Refresh(ctx context.Context, refreshToken string) (*RefreshResponse, error)
}

// LoginTokens are the raw tokens returned by the authorization code exchange
type LoginTokens struct {
	IDToken      string
	AccessToken  string
	RefreshToken string
	ExpiresAt    time.Time
}

// Manager applies the lifecycle rules to a session on each request
type Manager struct {
	refresher Refresher
	extractor *roles.Extractor
	buffer    time.Duration
	now       func() time.Time
	logger    *observability.Logger
	metrics   *observability.Metrics
}

// Option configures a Manager
type Option func(*Manager)

// WithBuffer sets how early before expiry a refresh is attempted
func WithBuffer(d time.Duration) Option {
	return func(m *Manager) { m.buffer = d }
}

// WithClock replaces time.Now
func WithClock(now func() time.Time) Option {
	return func(m *Manager) { m.now = now }
}

// WithLogger sets the logger
func WithLogger(l *observability.Logger) Option {
	return func(m *Manager) { m.logger = l }
}

// WithMetrics records refresh outcomes
func WithMetrics(metrics *observability.Metrics) Option {
	return func(m *Manager) { m.metrics = metrics }
}

// NewManager creates a lifecycle manager
func NewManager(refresher Refresher, extractor *roles.Extractor, opts ...Option) *Manager {
	m := &Manager{
		refresher: refresher,
		extractor: extractor,
		buffer:    DefaultRefreshBuffer,
		now:       time.Now,
		logger:    observability.Discard(),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Login builds the session for a fresh sign-in. The access token is decoded
// first; the ID token fills in when it lacks role claims. Roles merge the
// token's candidates with the provider profile's.
func (m *Manager) Login(tokens LoginTokens, profile token.Payload) State {
	payload := token.DecodePreferred(tokens.AccessToken, tokens.IDToken)
	held := m.extractor.ExtractMerged(payload, profile)

	st := Transition(State{}, LoginEvent{
		IDToken:      tokens.IDToken,
		AccessToken:  tokens.AccessToken,
		RefreshToken: tokens.RefreshToken,
		ExpiresAt:    tokens.ExpiresAt,
		Payload:      payload,
		Roles:        held,
		Now:          m.now(),
	})

	if unmapped := m.extractor.Unmapped(payload); len(unmapped) > 0 {
		m.logger.WithField("subject", st.Subject()).
			WithField("unmapped_roles", unmapped).
			Debug("Provider roles without internal mapping")
	}
	return st
}

// Ensure returns the state to use for the current request, refreshing the
// access token when it is within the buffer of expiry. refreshed reports that
// a refresh was attempted and the returned state must be persisted. err is the
// refresh failure, if any; the returned state already reflects it.
func (m *Manager) Ensure(ctx context.Context, st State) (next State, refreshed bool, err error) {
	next = Transition(st, CheckEvent{Now: m.now(), Buffer: m.buffer})
	if next.Status != NeedsRefresh {
		return next, false, nil
	}

	ctx, span := observability.StartSpan(ctx, "session.refresh")
	defer span.End()

	start := m.now()
	resp, err := m.refresh(ctx, next.RefreshToken)

	ev := RefreshResultEvent{Response: resp, Err: err, Now: m.now()}
	if err == nil && resp != nil {
		ev.Payload = token.DecodePreferred(resp.AccessToken, resp.IDToken)
		ev.Roles = m.extractor.Extract(ev.Payload)
	}
	next = Transition(next, ev)
	span.SetAttributes(attribute.String("session.status", next.Status.String()))
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "refresh failed")
	}

	logger := m.logger.WithFields(map[string]interface{}{
		"request_id": contextkeys.GetRequestID(ctx),
		"subject":    st.Subject(),
	})
	switch next.Status {
	case Valid:
		m.metrics.RecordRefresh("success", m.now().Sub(start))
		logger.Debug("Access token refreshed")
	case RefreshFailedTerminal:
		m.metrics.RecordRefresh("terminal", m.now().Sub(start))
		logger.WithError(err).Warn("Refresh token rejected, re-authentication required")
	default:
		m.metrics.RecordRefresh("retryable", m.now().Sub(start))
		logger.WithError(err).Warn("Token refresh failed, will retry on next request")
	}
	return next, true, err
}

func (m *Manager) refresh(ctx context.Context, refreshToken string) (*RefreshResponse, error) {
	if refreshToken == "" {
		return nil, ErrNoRefreshToken
	}
	resp, err := m.refresher.Refresh(ctx, refreshToken)
	if err != nil {
		return nil, fmt.Errorf("refresh access token: %w", err)
	}
	if resp == nil || resp.AccessToken == "" {
		return nil, errors.New("refresh access token: response carried no access token")
	}
	return resp, nil
}
