package store

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/platinummonkey/gatehouse/pkg/observability"
	"github.com/platinummonkey/gatehouse/pkg/roles"
	"github.com/platinummonkey/gatehouse/pkg/session"
	"github.com/platinummonkey/gatehouse/pkg/token"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sampleState() *session.State {
	return &session.State{
		Status:       session.Valid,
		IDToken:      "id-token",
		AccessToken:  "access-token",
		RefreshToken: "refresh-token",
		ExpiresAt:    1_700_000_300,
		Payload: token.Payload{
			"sub":          "user-1",
			"realm_access": map[string]interface{}{"roles": []interface{}{"realm-admin"}},
		},
		Roles:           roles.NewSet(roles.Admin),
		AuthenticatedAt: 1_700_000_000,
	}
}

// followUp builds a request carrying the live cookies set on rec
func followUp(rec *httptest.ResponseRecorder, prev *http.Request) *http.Request {
	jar := map[string]*http.Cookie{}
	if prev != nil {
		for _, c := range prev.Cookies() {
			jar[c.Name] = c
		}
	}
	for _, c := range rec.Result().Cookies() {
		if c.MaxAge < 0 {
			delete(jar, c.Name)
			continue
		}
		jar[c.Name] = c
	}

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	for _, c := range jar {
		req.AddCookie(&http.Cookie{Name: c.Name, Value: c.Value})
	}
	return req
}

func assertStateEqual(t *testing.T, want, got *session.State) {
	t.Helper()
	require.NotNil(t, got)
	assert.Equal(t, want.Status, got.Status)
	assert.Equal(t, want.IDToken, got.IDToken)
	assert.Equal(t, want.AccessToken, got.AccessToken)
	assert.Equal(t, want.RefreshToken, got.RefreshToken)
	assert.Equal(t, want.ExpiresAt, got.ExpiresAt)
	assert.Equal(t, want.Roles.Strings(), got.Roles.Strings())
	assert.Equal(t, want.Subject(), got.Subject())
	assert.Equal(t, want.Payload.RealmRoles(), got.Payload.RealmRoles())
}

// exerciseStore runs the behaviour every backend shares
func exerciseStore(t *testing.T, s Store) {
	ctx := context.Background()

	t.Run("no cookie loads nothing", func(t *testing.T) {
		st, err := s.Load(ctx, httptest.NewRequest(http.MethodGet, "/", nil))
		assert.NoError(t, err)
		assert.Nil(t, st)
	})

	t.Run("save then load", func(t *testing.T) {
		rec := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		require.NoError(t, s.Save(ctx, rec, req, sampleState()))

		cookies := rec.Result().Cookies()
		require.NotEmpty(t, cookies)
		assert.True(t, cookies[0].HttpOnly)
		assert.Equal(t, http.SameSiteLaxMode, cookies[0].SameSite)
		assert.Equal(t, int(DefaultMaxAge.Seconds()), cookies[0].MaxAge)

		st, err := s.Load(ctx, followUp(rec, req))
		require.NoError(t, err)
		assertStateEqual(t, sampleState(), st)
	})

	t.Run("save overwrites", func(t *testing.T) {
		rec := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		require.NoError(t, s.Save(ctx, rec, req, sampleState()))

		next := followUp(rec, req)
		updated := sampleState()
		updated.AccessToken = "rotated"
		rec2 := httptest.NewRecorder()
		require.NoError(t, s.Save(ctx, rec2, next, updated))

		st, err := s.Load(ctx, followUp(rec2, next))
		require.NoError(t, err)
		assert.Equal(t, "rotated", st.AccessToken)
	})

	t.Run("clear", func(t *testing.T) {
		rec := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		require.NoError(t, s.Save(ctx, rec, req, sampleState()))
		withSession := followUp(rec, req)

		cleared := httptest.NewRecorder()
		require.NoError(t, s.Clear(ctx, cleared, withSession))
		for _, c := range cleared.Result().Cookies() {
			assert.Equal(t, -1, c.MaxAge, c.Name)
		}

		st, err := s.Load(ctx, followUp(cleared, withSession))
		assert.NoError(t, err)
		assert.Nil(t, st)
	})
}

func TestCookieStore(t *testing.T) {
	s, err := NewCookieStore("test-secret", CookieOptions{}, nil)
	require.NoError(t, err)
	exerciseStore(t, s)
}

func TestCookieStore_RequiresSecret(t *testing.T) {
	_, err := NewCookieStore("", CookieOptions{}, nil)
	assert.Error(t, err)
}

func TestCookieStore_IsEncrypted(t *testing.T) {
	s, err := NewCookieStore("test-secret", CookieOptions{}, nil)
	require.NoError(t, err)

	rec := httptest.NewRecorder()
	require.NoError(t, s.Save(context.Background(), rec, httptest.NewRequest(http.MethodGet, "/", nil), sampleState()))

	value := rec.Result().Cookies()[0].Value
	assert.NotContains(t, value, "access-token")
	assert.Len(t, strings.Split(value, "."), 5, "compact JWE")
}

func TestCookieStore_WrongSecret(t *testing.T) {
	a, err := NewCookieStore("secret-a", CookieOptions{}, nil)
	require.NoError(t, err)
	b, err := NewCookieStore("secret-b", CookieOptions{}, nil)
	require.NoError(t, err)

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	require.NoError(t, a.Save(context.Background(), rec, req, sampleState()))

	_, err = b.Load(context.Background(), followUp(rec, req))
	assert.ErrorIs(t, err, ErrInvalidSession)
}

func TestCookieStore_Tampered(t *testing.T) {
	s, err := NewCookieStore("test-secret", CookieOptions{}, nil)
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.AddCookie(&http.Cookie{Name: DefaultCookieName, Value: "not-a-jwe"})
	_, err = s.Load(context.Background(), req)
	assert.ErrorIs(t, err, ErrInvalidSession)
}

func TestCookieStore_MaxAge(t *testing.T) {
	s, err := NewCookieStore("test-secret", CookieOptions{MaxAge: time.Hour}, nil)
	require.NoError(t, err)
	now := time.Unix(1_700_000_000, 0)
	s.now = func() time.Time { return now }

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	require.NoError(t, s.Save(context.Background(), rec, req, sampleState()))
	next := followUp(rec, req)

	now = now.Add(59 * time.Minute)
	_, err = s.Load(context.Background(), next)
	assert.NoError(t, err)

	now = now.Add(2 * time.Minute)
	_, err = s.Load(context.Background(), next)
	assert.ErrorIs(t, err, ErrInvalidSession)
}

func TestCookieStore_Chunking(t *testing.T) {
	s, err := NewCookieStore("test-secret", CookieOptions{}, nil)
	require.NoError(t, err)
	ctx := context.Background()

	big := sampleState()
	big.AccessToken = strings.Repeat("a", 6000)

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	require.NoError(t, s.Save(ctx, rec, req, big))

	var names []string
	for _, c := range rec.Result().Cookies() {
		names = append(names, c.Name)
		assert.LessOrEqual(t, len(c.Value), maxCookieValue)
	}
	assert.Contains(t, names, DefaultCookieName+".0")
	assert.Contains(t, names, DefaultCookieName+".1")

	chunked := followUp(rec, req)
	st, err := s.Load(ctx, chunked)
	require.NoError(t, err)
	assert.Equal(t, big.AccessToken, st.AccessToken)

	// shrinking back to one cookie expires the chunks
	rec2 := httptest.NewRecorder()
	require.NoError(t, s.Save(ctx, rec2, chunked, sampleState()))
	single := followUp(rec2, chunked)
	_, err = single.Cookie(DefaultCookieName + ".0")
	assert.Error(t, err)

	st, err = s.Load(ctx, single)
	require.NoError(t, err)
	assert.Equal(t, "access-token", st.AccessToken)
}

func TestMemoryStore(t *testing.T) {
	exerciseStore(t, NewMemoryStore(0, CookieOptions{}, nil))
}

func TestMemoryStore_Revoke(t *testing.T) {
	s := NewMemoryStore(10, CookieOptions{}, nil)
	ctx := context.Background()

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	require.NoError(t, s.Save(ctx, rec, req, sampleState()))
	next := followUp(rec, req)

	id := s.SessionID(next)
	require.NotEmpty(t, id)
	assert.Equal(t, 1, s.Len())

	require.NoError(t, s.Revoke(ctx, id))
	assert.Equal(t, 0, s.Len())

	st, err := s.Load(ctx, next)
	assert.NoError(t, err)
	assert.Nil(t, st)
}

func TestMemoryStore_Eviction(t *testing.T) {
	s := NewMemoryStore(1, CookieOptions{}, nil)
	ctx := context.Background()

	first := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	require.NoError(t, s.Save(ctx, first, req, sampleState()))
	require.NoError(t, s.Save(ctx, httptest.NewRecorder(), req, sampleState()))

	st, err := s.Load(ctx, followUp(first, req))
	assert.NoError(t, err)
	assert.Nil(t, st, "oldest session evicted")
}

func TestServerStore_MalformedID(t *testing.T) {
	s := NewMemoryStore(10, CookieOptions{}, nil)
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.AddCookie(&http.Cookie{Name: DefaultCookieName, Value: "../../etc"})

	_, err := s.Load(context.Background(), req)
	assert.ErrorIs(t, err, ErrInvalidSession)
	assert.Empty(t, s.SessionID(req))
}

func setupRedisStore(t *testing.T, metrics *observability.Metrics) (*RedisStore, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	s, err := NewRedisStore(context.Background(), "redis://"+mr.Addr(), CookieOptions{}, metrics)
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s, mr
}

func TestRedisStore(t *testing.T) {
	s, _ := setupRedisStore(t, nil)
	exerciseStore(t, s)
}

func TestRedisStore_TTLAndKey(t *testing.T) {
	s, mr := setupRedisStore(t, nil)
	ctx := context.Background()

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	require.NoError(t, s.Save(ctx, rec, req, sampleState()))
	id := s.SessionID(followUp(rec, req))

	key := redisKeyPrefix + id
	assert.True(t, mr.Exists(key))
	assert.Equal(t, DefaultMaxAge, mr.TTL(key))

	mr.FastForward(DefaultMaxAge + time.Second)
	st, err := s.Load(ctx, followUp(rec, req))
	assert.NoError(t, err)
	assert.Nil(t, st)
}

func TestRedisStore_CorruptDataIsDropped(t *testing.T) {
	s, mr := setupRedisStore(t, nil)
	id := "7f1c8a5e-3b7e-4c36-9a0c-0e5c1f0c2d11"
	require.NoError(t, mr.Set(redisKeyPrefix+id, "{not json"))

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.AddCookie(&http.Cookie{Name: DefaultCookieName, Value: id})
	_, err := s.Load(context.Background(), req)
	assert.ErrorIs(t, err, ErrInvalidSession)
	assert.False(t, mr.Exists(redisKeyPrefix+id))
}

func TestRedisStore_Unavailable(t *testing.T) {
	metrics := observability.NewMetrics(prometheus.NewRegistry())
	s, mr := setupRedisStore(t, metrics)
	ctx := context.Background()

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	require.NoError(t, s.Save(ctx, rec, req, sampleState()))
	assert.NoError(t, s.Ping(ctx))

	mr.Close()
	_, err := s.Load(ctx, followUp(rec, req))
	assert.Error(t, err)
	assert.NotErrorIs(t, err, ErrInvalidSession)
	assert.Error(t, s.Ping(ctx))

	assert.Equal(t, float64(1), testutil.ToFloat64(metrics.SessionStoreOperationsTotal.WithLabelValues("save", "redis", "success")))
	assert.Equal(t, float64(1), testutil.ToFloat64(metrics.SessionStoreOperationsTotal.WithLabelValues("load", "redis", "error")))
}

func TestNewRedisStore_Errors(t *testing.T) {
	_, err := NewRedisStore(context.Background(), "invalid://url", CookieOptions{}, nil)
	assert.Error(t, err)

	_, err = NewRedisStore(context.Background(), "redis://127.0.0.1:1", CookieOptions{}, nil)
	assert.Error(t, err)
}

func TestOpen(t *testing.T) {
	ctx := context.Background()
	mr := miniredis.RunT(t)

	s, err := Open(ctx, Options{Secret: "x"})
	require.NoError(t, err)
	assert.IsType(t, &CookieStore{}, s)

	s, err = Open(ctx, Options{Backend: BackendMemory})
	require.NoError(t, err)
	assert.IsType(t, &MemoryStore{}, s)
	assert.Implements(t, (*ServerSide)(nil), s)

	s, err = Open(ctx, Options{Backend: BackendRedis, RedisURL: "redis://" + mr.Addr()})
	require.NoError(t, err)
	assert.Implements(t, (*ServerSide)(nil), s)
	s.(*RedisStore).Close()

	_, err = Open(ctx, Options{Backend: "etcd"})
	assert.ErrorIs(t, err, ErrUnknownBackend)
}
