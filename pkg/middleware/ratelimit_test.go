package middleware

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis/v8"
	logtest "github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var (
	_ Limiter  = (*RateLimiter)(nil)
	_ Limiter  = (*DistributedRateLimiter)(nil)
	_ Resetter = (*RateLimiter)(nil)
	_ Resetter = (*DistributedRateLimiter)(nil)
)

func TestRateLimiter_Allow(t *testing.T) {
	rl := NewRateLimiter(&RateLimitConfig{RequestsPerWindow: 3, WindowDuration: time.Minute})
	now := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	rl.now = func() time.Time { return now }
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		d, err := rl.Allow(ctx, "login:1.2.3.4")
		require.NoError(t, err)
		assert.True(t, d.Allowed, "attempt %d", i+1)
	}

	d, _ := rl.Allow(ctx, "login:1.2.3.4")
	assert.False(t, d.Allowed)
	assert.Equal(t, 20*time.Second, d.RetryAfter)

	// Other clients have their own bucket
	d, _ = rl.Allow(ctx, "login:5.6.7.8")
	assert.True(t, d.Allowed)

	// One token refills every 20 seconds
	now = now.Add(20 * time.Second)
	d, _ = rl.Allow(ctx, "login:1.2.3.4")
	assert.True(t, d.Allowed)

	now = now.Add(10 * time.Minute)
	rl.Cleanup()
	assert.Empty(t, rl.buckets)
}

func TestRateLimiter_Reset(t *testing.T) {
	rl := NewRateLimiter(&RateLimitConfig{RequestsPerWindow: 1, WindowDuration: time.Hour})
	ctx := context.Background()
	key := LoginKey("1.2.3.4")

	d, _ := rl.Allow(ctx, key)
	assert.True(t, d.Allowed)
	d, _ = rl.Allow(ctx, key)
	assert.False(t, d.Allowed)

	var resetter Resetter = rl
	require.NoError(t, resetter.Reset(ctx, key))
	d, _ = rl.Allow(ctx, key)
	assert.True(t, d.Allowed)
}

func TestDistributedRateLimiter_Allow(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer client.Close()

	rl := NewDistributedRateLimiter(client, &RateLimitConfig{RequestsPerWindow: 2, WindowDuration: time.Minute}, "")
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		d, err := rl.Allow(ctx, "login:1.2.3.4")
		require.NoError(t, err)
		assert.True(t, d.Allowed)
	}
	d, err := rl.Allow(ctx, "login:1.2.3.4")
	require.NoError(t, err)
	assert.False(t, d.Allowed)
	assert.Equal(t, time.Minute, d.RetryAfter)
	assert.Equal(t, time.Minute, mr.TTL("gd_admin_ratelimit:login:1.2.3.4"))

	mr.FastForward(time.Minute + time.Second)
	d, err = rl.Allow(ctx, "login:1.2.3.4")
	require.NoError(t, err)
	assert.True(t, d.Allowed)

	require.NoError(t, rl.Reset(ctx, "login:1.2.3.4"))
	assert.False(t, mr.Exists("gd_admin_ratelimit:login:1.2.3.4"))
}

type errLimiter struct{}

func (errLimiter) Allow(ctx context.Context, key string) (LimitDecision, error) {
	return LimitDecision{Allowed: true}, errors.New("redis error: connection refused")
}

func TestLoginThrottle(t *testing.T) {
	logger, _ := logtest.NewNullLogger()
	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})

	t.Run("limits POST only", func(t *testing.T) {
		rl := NewRateLimiter(&RateLimitConfig{RequestsPerWindow: 1, WindowDuration: time.Hour})
		handler := LoginThrottle(rl, false, nil, logger)(next)

		codes := []int{}
		var retryAfter string
		for _, method := range []string{http.MethodPost, http.MethodPost, http.MethodGet} {
			rr := httptest.NewRecorder()
			req := httptest.NewRequest(method, "/auth/login", nil)
			req.RemoteAddr = "10.0.0.1:5555"
			handler.ServeHTTP(rr, req)
			codes = append(codes, rr.Code)
			if rr.Code == http.StatusTooManyRequests {
				retryAfter = rr.Header().Get("Retry-After")
			}
		}
		assert.Equal(t, []int{http.StatusOK, http.StatusTooManyRequests, http.StatusOK}, codes)
		assert.NotEmpty(t, retryAfter)
	})

	t.Run("fails open", func(t *testing.T) {
		rr := httptest.NewRecorder()
		LoginThrottle(errLimiter{}, false, nil, logger)(next).ServeHTTP(rr, httptest.NewRequest(http.MethodPost, "/auth/login", nil))
		assert.Equal(t, http.StatusOK, rr.Code)
	})
}

func TestClientIP(t *testing.T) {
	req := httptest.NewRequest(http.MethodPost, "/auth/login", nil)
	req.RemoteAddr = "192.0.2.10:41000"
	req.Header.Set("X-Forwarded-For", "203.0.113.5, 10.0.0.1")

	assert.Equal(t, "192.0.2.10", ClientIP(req, false))
	assert.Equal(t, "203.0.113.5", ClientIP(req, true))

	req.Header.Del("X-Forwarded-For")
	req.Header.Set("X-Real-IP", "203.0.113.9")
	assert.Equal(t, "203.0.113.9", ClientIP(req, true))
}
