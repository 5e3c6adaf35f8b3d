package session

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"storefront-service/internal/auth"
	"storefront-service/internal/upstream"
)

func setupTestRedis(t *testing.T) (*RedisStore, *miniredis.Miniredis) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	return NewRedisStore(client), mr
}

func TestMemoryStore_ExpiredIsNotFound(t *testing.T) {
	store := NewMemoryStore()
	now := time.Now()
	store.now = func() time.Time { return now }

	require.NoError(t, store.Save(context.Background(), &Session{ID: "s1", ExpiresAt: now.Add(time.Minute)}))
	_, err := store.Get(context.Background(), "s1")
	require.NoError(t, err)

	store.now = func() time.Time { return now.Add(2 * time.Minute) }
	_, err = store.Get(context.Background(), "s1")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestRedisStore_RoundTripWithTTL(t *testing.T) {
	store, mr := setupTestRedis(t)
	ctx := context.Background()

	s := &Session{
		ID:            "s1",
		UpstreamToken: "tkn",
		User:          &upstream.UserDetails{UserID: "u1", Name: "Asha"},
		ExpiresAt:     time.Now().Add(time.Hour),
	}
	require.NoError(t, store.Save(ctx, s))
	assert.True(t, mr.Exists("session:s1"))
	assert.InDelta(t, time.Hour.Seconds(), mr.TTL("session:s1").Seconds(), 5)

	got, err := store.Get(ctx, "s1")
	require.NoError(t, err)
	assert.Equal(t, "tkn", got.UpstreamToken)
	assert.Equal(t, "Asha", got.User.DisplayName())

	require.NoError(t, store.Delete(ctx, "s1"))
	_, err = store.Get(ctx, "s1")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestRedisStore_InvalidJSON(t *testing.T) {
	store, mr := setupTestRedis(t)
	require.NoError(t, mr.Set("session:bad", "{"))

	_, err := store.Get(context.Background(), "bad")
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrNotFound)
}

func newManager(t *testing.T, h http.HandlerFunc) *Manager {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)
	social := upstream.NewSocial(upstream.NewClient("social", upstream.StaticResolver(srv.URL), upstream.Options{HTTPClient: srv.Client()}))
	keys, err := auth.NewKeys("secret")
	require.NoError(t, err)
	return NewManager(NewMemoryStore(), keys, social, time.Hour)
}

func TestManager_LoginCreatesSession(t *testing.T) {
	m := newManager(t, func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/verifyOtp":
			assert.Equal(t, "+919876543210", r.URL.Query().Get("phoneNumber"))
			_, _ = w.Write([]byte(`{"status":"success","token":"upstream-token"}`))
		case "/userDetails":
			assert.Equal(t, "upstream-token", r.Header.Get("Authorization"))
			_, _ = w.Write([]byte(`{"data":{"userId":"u1","name":"Asha","phoneNumber":"+919876543210"}}`))
		}
	})

	res, err := m.Login(context.Background(), " 919876543210", "1234")
	require.NoError(t, err)
	require.NotNil(t, res.Session)
	assert.NotEmpty(t, res.Token)
	assert.Equal(t, "+919876543210", res.Session.LoginPhone)

	b := NewBinding(m, res.Session.ID)
	assert.True(t, b.IsAuthenticated(context.Background()))
	assert.Equal(t, "Asha", b.UserName(context.Background()))
	tkn, err := b.Token(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "upstream-token", tkn)
}

func TestManager_LoginRejectedRelaysUpstream(t *testing.T) {
	m := newManager(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{"message":"Invalid OTP"}`))
	})

	res, err := m.Login(context.Background(), "+919876543210", "0000")
	require.NoError(t, err)
	assert.Nil(t, res.Session)
	require.NotNil(t, res.Upstream)
	assert.Equal(t, http.StatusBadRequest, res.Upstream.Status)
}

func TestBinding_LogoutRunsHooksAndDetaches(t *testing.T) {
	m := newManager(t, func(w http.ResponseWriter, r *http.Request) {})
	ctx := context.Background()
	require.NoError(t, m.store.Save(ctx, &Session{ID: "s1", UpstreamToken: "tkn"}))

	var loggedOut []string
	m.OnLogout(func(_ context.Context, id string) { loggedOut = append(loggedOut, id) })

	b := NewBinding(m, "s1")
	require.NoError(t, b.Logout(ctx))

	assert.Equal(t, []string{"s1"}, loggedOut)
	assert.False(t, b.IsAuthenticated(ctx))
	_, err := b.Token(ctx)
	assert.ErrorIs(t, err, upstream.ErrUnauthorized)
}
