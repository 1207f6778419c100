// Package details loads the full token payload of the signed-in user from a
// gatehouse server's /api/auth/token-details endpoint.
//
// A Loader moves through NotLoaded, Loading, Loaded and Failed. Concurrent
// Load calls share one request, a loaded payload is served from memory until
// Reset, and a 401 from the server fails with ErrSessionExpired.
package details

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"

	"github.com/platinummonkey/gatehouse/pkg/observability"
	"github.com/platinummonkey/gatehouse/pkg/token"
	"golang.org/x/sync/singleflight"
)

// Path is the token details endpoint path
const Path = "/api/auth/token-details"

var (
	// ErrSessionExpired is returned when the server rejects the session
	ErrSessionExpired = errors.New("unauthorized, please log in again")
	// ErrFetchFailed is returned for any other failed fetch
	ErrFetchFailed = errors.New("failed to fetch token details")
)

// Status is the load state of a Loader
type Status int

const (
	NotLoaded Status = iota
	Loading
	Loaded
	Failed
)

func (s Status) String() string {
	switch s {
	case NotLoaded:
		return "not_loaded"
	case Loading:
		return "loading"
	case Loaded:
		return "loaded"
	case Failed:
		return "failed"
	default:
		return "unknown"
	}
}

// Snapshot is the observable state of a Loader
type Snapshot struct {
	Status  Status
	Payload token.Payload
	Err     error
}

// Response is the data of a successful token details response
type Response struct {
	TokenPayload token.Payload `json:"tokenPayload"`
}

// Option configures a Loader
type Option func(*Loader)

// WithHTTPClient sets the client used for fetches
func WithHTTPClient(c *http.Client) Option {
	return func(l *Loader) { l.client = c }
}

// WithRequestEditor adds a hook run on every request, e.g. to attach the
// session cookie
func WithRequestEditor(fn func(*http.Request)) Option {
	return func(l *Loader) { l.editors = append(l.editors, fn) }
}

// WithMetrics records load outcomes
func WithMetrics(m *observability.Metrics) Option {
	return func(l *Loader) { l.metrics = m }
}

// Loader fetches and caches the token payload
type Loader struct {
	endpoint string
	client   *http.Client
	editors  []func(*http.Request)
	metrics  *observability.Metrics
	group    singleflight.Group

	mu         sync.Mutex
	snap       Snapshot
	generation uint64
}

// NewLoader creates a loader for the server at baseURL
func NewLoader(baseURL string, opts ...Option) *Loader {
	l := &Loader{
		endpoint: strings.TrimSuffix(baseURL, "/") + Path,
		client:   http.DefaultClient,
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// State returns the current snapshot
func (l *Loader) State() Snapshot {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.snap
}

// Reset drops the cached payload, e.g. on sign-out. A load in flight when
// Reset is called does not repopulate the loader.
func (l *Loader) Reset() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.snap = Snapshot{}
	l.generation++
	l.group.Forget(l.flightKey())
}

func (l *Loader) flightKey() string {
	return fmt.Sprintf("load-%d", l.generation)
}

// Load returns the token payload, fetching it unless already loaded
func (l *Loader) Load(ctx context.Context) (token.Payload, error) {
	l.mu.Lock()
	if l.snap.Status == Loaded {
		payload := l.snap.Payload
		l.mu.Unlock()
		l.metrics.RecordTokenDetailsLoad("cached")
		return payload, nil
	}
	gen := l.generation
	key := l.flightKey()
	l.snap = Snapshot{Status: Loading}
	l.mu.Unlock()

	v, err, _ := l.group.Do(key, func() (interface{}, error) {
		payload, err := l.fetch(ctx)
		l.metrics.RecordTokenDetailsLoad(outcome(err))
		return payload, err
	})

	var payload token.Payload
	if err == nil {
		payload = v.(token.Payload)
	}

	l.mu.Lock()
	if l.generation == gen {
		if err != nil {
			l.snap = Snapshot{Status: Failed, Err: err}
		} else {
			l.snap = Snapshot{Status: Loaded, Payload: payload}
		}
	}
	l.mu.Unlock()

	return payload, err
}

func outcome(err error) string {
	switch {
	case err == nil:
		return "loaded"
	case errors.Is(err, ErrSessionExpired):
		return "unauthorized"
	default:
		return "failed"
	}
}

func (l *Loader) fetch(ctx context.Context) (token.Payload, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, l.endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrFetchFailed, err)
	}
	req.Header.Set("Accept", "application/json")
	for _, edit := range l.editors {
		edit(req)
	}

	resp, err := l.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrFetchFailed, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusUnauthorized {
		return nil, ErrSessionExpired
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%w: %s", ErrFetchFailed, resp.Status)
	}

	var envelope struct {
		Success bool     `json:"success"`
		Data    Response `json:"data"`
	}
	if err := json.NewDecoder(io.LimitReader(resp.Body, 1<<20)).Decode(&envelope); err != nil {
		return nil, fmt.Errorf("%w: invalid response: %v", ErrFetchFailed, err)
	}
	if envelope.Data.TokenPayload == nil {
		return nil, fmt.Errorf("%w: response has no token payload", ErrFetchFailed)
	}
	return envelope.Data.TokenPayload, nil
}
