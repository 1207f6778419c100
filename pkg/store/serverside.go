package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/platinummonkey/gatehouse/pkg/observability"
	"github.com/platinummonkey/gatehouse/pkg/session"
)

// errNotFound is returned by a backend for a missing key
var errNotFound = errors.New("session not found")

// backend is the key/value surface a server-side store needs
type backend interface {
	get(ctx context.Context, id string) ([]byte, error)
	set(ctx context.Context, id string, data []byte, ttl time.Duration) error
	del(ctx context.Context, id string) error
	ping(ctx context.Context) error
}

// serverStore keeps session state in a backend, addressed by a random
// session id carried in the cookie
type serverStore struct {
	name    string
	backend backend
	opts    CookieOptions
	metrics *observability.Metrics
}

// SessionID returns the request's session id, or "" when it has none
func (s *serverStore) SessionID(r *http.Request) string {
	c, err := r.Cookie(s.opts.Name)
	if err != nil {
		return ""
	}
	id, err := uuid.Parse(c.Value)
	if err != nil {
		return ""
	}
	return id.String()
}

// Load fetches the state for the request's session id
func (s *serverStore) Load(ctx context.Context, r *http.Request) (st *session.State, err error) {
	c, cerr := r.Cookie(s.opts.Name)
	if cerr != nil || c.Value == "" {
		return nil, nil
	}
	id := s.SessionID(r)
	if id == "" {
		return nil, fmt.Errorf("%w: malformed session id", ErrInvalidSession)
	}

	start := time.Now()
	defer func() { record(s.metrics, "load", s.name, start, err) }()

	data, err := s.backend.get(ctx, id)
	if errors.Is(err, errNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("%s get failed: %w", s.name, err)
	}

	var state session.State
	if err := json.Unmarshal(data, &state); err != nil {
		// drop corrupt data
		_ = s.backend.del(ctx, id)
		return nil, fmt.Errorf("%w: %v", ErrInvalidSession, err)
	}
	return &state, nil
}

// Save stores st under the request's session id, issuing a new id when the
// request has none
func (s *serverStore) Save(ctx context.Context, w http.ResponseWriter, r *http.Request, st *session.State) (err error) {
	start := time.Now()
	defer func() { record(s.metrics, "save", s.name, start, err) }()

	data, err := json.Marshal(st)
	if err != nil {
		return fmt.Errorf("failed to marshal session: %w", err)
	}

	id := s.SessionID(r)
	if id == "" {
		id = uuid.New().String()
	}
	if err := s.backend.set(ctx, id, data, s.opts.MaxAge); err != nil {
		return fmt.Errorf("%s set failed: %w", s.name, err)
	}

	http.SetCookie(w, s.opts.cookie(s.opts.Name, id))
	return nil
}

// Clear deletes the stored state and expires the cookie
func (s *serverStore) Clear(ctx context.Context, w http.ResponseWriter, r *http.Request) error {
	if _, err := r.Cookie(s.opts.Name); err == nil {
		http.SetCookie(w, s.opts.expired(s.opts.Name))
	}
	id := s.SessionID(r)
	if id == "" {
		return nil
	}
	return s.Revoke(ctx, id)
}

// Revoke deletes the state stored for sessionID
func (s *serverStore) Revoke(ctx context.Context, sessionID string) (err error) {
	start := time.Now()
	defer func() { record(s.metrics, "delete", s.name, start, err) }()

	if err := s.backend.del(ctx, sessionID); err != nil {
		return fmt.Errorf("%s delete failed: %w", s.name, err)
	}
	return nil
}

// Ping checks the backend is reachable
func (s *serverStore) Ping(ctx context.Context) error {
	return s.backend.ping(ctx)
}
