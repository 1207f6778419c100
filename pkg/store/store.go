// Package store persists session state between requests.
//
// Three backends are provided:
//
//   - CookieStore keeps the whole state in an encrypted cookie (JWE dir/A256GCM)
//   - RedisStore keeps the state in Redis behind an opaque session id cookie
//   - MemoryStore keeps the state in a process-local expiring LRU
//
// Load returns a nil state and a nil error when the request carries no
// session. A cookie that cannot be decoded yields ErrInvalidSession; callers
// treat that as signed out and Clear it.
package store

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/platinummonkey/gatehouse/pkg/observability"
	"github.com/platinummonkey/gatehouse/pkg/session"
)

// DefaultMaxAge is the session lifetime
const DefaultMaxAge = 30 * 24 * time.Hour

// DefaultCookieName names the session cookie
const DefaultCookieName = "gatehouse_session"

// Backend names
const (
	BackendCookie = "cookie"
	BackendRedis  = "redis"
	BackendMemory = "memory"
)

var (
	// ErrInvalidSession is returned when a session cookie cannot be decoded
	ErrInvalidSession = errors.New("invalid session")
	// ErrUnknownBackend is returned by Open for an unsupported backend name
	ErrUnknownBackend = errors.New("unknown session store backend")
)

// Store loads and saves the session of a request
type Store interface {
	Load(ctx context.Context, r *http.Request) (*session.State, error)
	Save(ctx context.Context, w http.ResponseWriter, r *http.Request, st *session.State) error
	Clear(ctx context.Context, w http.ResponseWriter, r *http.Request) error
}

// ServerSide is implemented by stores that keep state outside the cookie
type ServerSide interface {
	Store
	SessionID(r *http.Request) string
	Revoke(ctx context.Context, sessionID string) error
	Ping(ctx context.Context) error
}

// CookieOptions controls the session cookie
type CookieOptions struct {
	Name   string
	Path   string
	Domain string
	MaxAge time.Duration
	Secure bool
}

func (o CookieOptions) withDefaults() CookieOptions {
	if o.Name == "" {
		o.Name = DefaultCookieName
	}
	if o.Path == "" {
		o.Path = "/"
	}
	if o.MaxAge <= 0 {
		o.MaxAge = DefaultMaxAge
	}
	return o
}

func (o CookieOptions) cookie(name, value string) *http.Cookie {
	return &http.Cookie{
		Name:     name,
		Value:    value,
		Path:     o.Path,
		Domain:   o.Domain,
		MaxAge:   int(o.MaxAge.Seconds()),
		HttpOnly: true,
		Secure:   o.Secure,
		SameSite: http.SameSiteLaxMode,
	}
}

func (o CookieOptions) expired(name string) *http.Cookie {
	c := o.cookie(name, "")
	c.MaxAge = -1
	return c
}

// Options configures Open
type Options struct {
	Backend string
	// Secret keys the cookie store encryption
	Secret   string
	RedisURL string
	// MemorySize bounds the memory store
	MemorySize int
	Cookie     CookieOptions
	Metrics    *observability.Metrics
}

// Open creates the store named by opts.Backend. An empty backend selects the
// cookie store.
func Open(ctx context.Context, opts Options) (Store, error) {
	switch opts.Backend {
	case "", BackendCookie:
		return NewCookieStore(opts.Secret, opts.Cookie, opts.Metrics)
	case BackendRedis:
		return NewRedisStore(ctx, opts.RedisURL, opts.Cookie, opts.Metrics)
	case BackendMemory:
		return NewMemoryStore(opts.MemorySize, opts.Cookie, opts.Metrics), nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownBackend, opts.Backend)
	}
}

func record(metrics *observability.Metrics, op, backend string, start time.Time, err error) {
	metrics.RecordStoreOperation(op, backend, time.Since(start), err)
}
