package store

import (
	"context"
	"crypto/sha256"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/go-jose/go-jose/v4"
	"github.com/platinummonkey/gatehouse/pkg/observability"
	"github.com/platinummonkey/gatehouse/pkg/session"
)

// maxCookieValue keeps each cookie under the 4096 byte browser limit
const maxCookieValue = 3800

// CookieStore encrypts the session state into the cookie itself. States
// larger than one cookie are split into name.0, name.1, ...
type CookieStore struct {
	key     []byte
	opts    CookieOptions
	metrics *observability.Metrics
	now     func() time.Time
}

type cookieEnvelope struct {
	IssuedAt int64          `json:"iat"`
	State    *session.State `json:"state"`
}

// NewCookieStore creates a cookie store keyed by SHA-256 of secret
func NewCookieStore(secret string, opts CookieOptions, metrics *observability.Metrics) (*CookieStore, error) {
	if secret == "" {
		return nil, fmt.Errorf("session secret is required for the cookie store")
	}
	key := sha256.Sum256([]byte(secret))
	return &CookieStore{
		key:     key[:],
		opts:    opts.withDefaults(),
		metrics: metrics,
		now:     time.Now,
	}, nil
}

// Load decrypts the session cookie
func (s *CookieStore) Load(_ context.Context, r *http.Request) (st *session.State, err error) {
	raw := s.read(r)
	if raw == "" {
		return nil, nil
	}
	start := time.Now()
	defer func() { record(s.metrics, "load", BackendCookie, start, err) }()

	st, err = s.decode(raw)
	return st, err
}

// Save encrypts st into the response cookies
func (s *CookieStore) Save(_ context.Context, w http.ResponseWriter, r *http.Request, st *session.State) (err error) {
	start := time.Now()
	defer func() { record(s.metrics, "save", BackendCookie, start, err) }()

	raw, err := s.encode(st)
	if err != nil {
		return err
	}

	name := s.opts.Name
	if len(raw) <= maxCookieValue {
		http.SetCookie(w, s.opts.cookie(name, raw))
		s.expireChunks(w, r, 0)
		return nil
	}

	n := 0
	for ; len(raw) > 0; n++ {
		size := maxCookieValue
		if size > len(raw) {
			size = len(raw)
		}
		http.SetCookie(w, s.opts.cookie(chunkName(name, n), raw[:size]))
		raw = raw[size:]
	}
	if _, err := r.Cookie(name); err == nil {
		http.SetCookie(w, s.opts.expired(name))
	}
	s.expireChunks(w, r, n)
	return nil
}

// Clear expires every session cookie the request carries
func (s *CookieStore) Clear(_ context.Context, w http.ResponseWriter, r *http.Request) error {
	if _, err := r.Cookie(s.opts.Name); err == nil {
		http.SetCookie(w, s.opts.expired(s.opts.Name))
	}
	s.expireChunks(w, r, 0)
	return nil
}

func (s *CookieStore) encode(st *session.State) (string, error) {
	data, err := json.Marshal(cookieEnvelope{IssuedAt: s.now().Unix(), State: st})
	if err != nil {
		return "", fmt.Errorf("failed to marshal session: %w", err)
	}

	enc, err := jose.NewEncrypter(jose.A256GCM, jose.Recipient{Algorithm: jose.DIRECT, Key: s.key}, nil)
	if err != nil {
		return "", fmt.Errorf("failed to create encrypter: %w", err)
	}
	obj, err := enc.Encrypt(data)
	if err != nil {
		return "", fmt.Errorf("failed to encrypt session: %w", err)
	}
	return obj.CompactSerialize()
}

func (s *CookieStore) decode(raw string) (*session.State, error) {
	obj, err := jose.ParseEncrypted(raw, []jose.KeyAlgorithm{jose.DIRECT}, []jose.ContentEncryption{jose.A256GCM})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidSession, err)
	}
	data, err := obj.Decrypt(s.key)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidSession, err)
	}

	var env cookieEnvelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidSession, err)
	}
	if env.State == nil {
		return nil, fmt.Errorf("%w: empty state", ErrInvalidSession)
	}
	if s.now().After(time.Unix(env.IssuedAt, 0).Add(s.opts.MaxAge)) {
		return nil, fmt.Errorf("%w: session older than max age", ErrInvalidSession)
	}
	return env.State, nil
}

func (s *CookieStore) read(r *http.Request) string {
	if c, err := r.Cookie(s.opts.Name); err == nil && c.Value != "" {
		return c.Value
	}
	var b strings.Builder
	for i := 0; ; i++ {
		c, err := r.Cookie(chunkName(s.opts.Name, i))
		if err != nil {
			break
		}
		b.WriteString(c.Value)
	}
	return b.String()
}

// expireChunks expires chunk cookies from index from onwards
func (s *CookieStore) expireChunks(w http.ResponseWriter, r *http.Request, from int) {
	for i := from; ; i++ {
		name := chunkName(s.opts.Name, i)
		if _, err := r.Cookie(name); err != nil {
			return
		}
		http.SetCookie(w, s.opts.expired(name))
	}
}

func chunkName(name string, i int) string {
	return fmt.Sprintf("%s.%d", name, i)
}
