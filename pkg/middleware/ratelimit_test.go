package middleware

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis/v8"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLocalLimiter(t *testing.T) {
	now := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	l := NewLocalLimiter(RateLimitConfig{RequestsPerWindow: 2, WindowDuration: time.Minute, BurstSize: 1})
	l.now = func() time.Time { return now }
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		ok, err := l.Allow(ctx, "user:1")
		require.NoError(t, err)
		assert.True(t, ok, "request %d", i)
	}
	ok, _ := l.Allow(ctx, "user:1")
	assert.False(t, ok)

	// other keys have their own bucket
	ok, _ = l.Allow(ctx, "user:2")
	assert.True(t, ok)

	// 2 per minute refills one token every 30s
	now = now.Add(30 * time.Second)
	ok, _ = l.Allow(ctx, "user:1")
	assert.True(t, ok)

	now = now.Add(5 * time.Minute)
	l.Cleanup()
	assert.Empty(t, l.buckets)
}

func TestRedisLimiter(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer client.Close()

	l := NewRedisLimiter(client, RateLimitConfig{RequestsPerWindow: 2, WindowDuration: time.Minute}, "")
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		ok, err := l.Allow(ctx, "ip:10.0.0.1")
		require.NoError(t, err)
		assert.True(t, ok)
	}
	ok, err := l.Allow(ctx, "ip:10.0.0.1")
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Equal(t, time.Minute, mr.TTL("rbacd:ratelimit:ip:10.0.0.1"))

	mr.FastForward(time.Minute + time.Second)
	ok, err = l.Allow(ctx, "ip:10.0.0.1")
	require.NoError(t, err)
	assert.True(t, ok)

	mr.Close()
	ok, err = l.Allow(ctx, "ip:10.0.0.1")
	assert.Error(t, err)
	assert.True(t, ok, "fails open")
}

func TestRateLimitMiddleware(t *testing.T) {
	cfg := RateLimitConfig{RequestsPerWindow: 1, WindowDuration: time.Minute}
	issuer := newIssuer(t)
	h := NewAuthMiddleware(issuer, true).Handler(
		RateLimit(NewLocalLimiter(cfg), cfg)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusOK)
		})),
	)

	send := func(authz string) *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req.RemoteAddr = "192.0.2.1:1234"
		if authz != "" {
			req.Header.Set("Authorization", authz)
		}
		w := httptest.NewRecorder()
		h.ServeHTTP(w, req)
		return w
	}

	assert.Equal(t, http.StatusOK, send("").Code)
	w := send("")
	assert.Equal(t, http.StatusTooManyRequests, w.Code)
	assert.Equal(t, "60", w.Header().Get("Retry-After"))

	// an authenticated caller is keyed by user, not IP
	assert.Equal(t, http.StatusOK, send(bearer(t, issuer, 5)).Code)
}
