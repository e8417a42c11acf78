package middleware

import (
	"context"
	"fmt"
	"math"
	"net"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/sirupsen/logrus"
)

// RateLimitConfig bounds how many requests one key may make per window
type RateLimitConfig struct {
	RequestsPerWindow int
	WindowDuration    time.Duration
}

// DefaultLoginRateLimitConfig allows ten login attempts per client per five minutes
func DefaultLoginRateLimitConfig() *RateLimitConfig {
	return &RateLimitConfig{
		RequestsPerWindow: 10,
		WindowDuration:    5 * time.Minute,
	}
}

// LimitDecision is the outcome of one limiter check
type LimitDecision struct {
	Allowed bool
	// RetryAfter is how long a denied client should wait. Zero when allowed.
	RetryAfter time.Duration
}

// Limiter decides whether another request for key is allowed
type Limiter interface {
	Allow(ctx context.Context, key string) (LimitDecision, error)
}

// Resetter is implemented by limiters that can forget a key early
type Resetter interface {
	Reset(ctx context.Context, key string) error
}

// LoginKey is the limiter key for login attempts from ip
func LoginKey(ip string) string {
	return "login:" + ip
}

// RateLimiter is an in-process token bucket per key. Buckets start full and
// refill continuously at RequestsPerWindow tokens per window.
type RateLimiter struct {
	config  *RateLimitConfig
	buckets map[string]*bucket
	mu      sync.Mutex
	now     func() time.Time
}

type bucket struct {
	tokens   float64
	lastSeen time.Time
}

// NewRateLimiter creates an in-process limiter. A nil config uses the login default.
func NewRateLimiter(config *RateLimitConfig) *RateLimiter {
	if config == nil {
		config = DefaultLoginRateLimitConfig()
	}
	return &RateLimiter{
		config:  config,
		buckets: make(map[string]*bucket),
		now:     time.Now,
	}
}

// refillInterval is the time it takes to earn back one token
func (rl *RateLimiter) refillInterval() time.Duration {
	return rl.config.WindowDuration / time.Duration(rl.config.RequestsPerWindow)
}

// Allow takes one token from the bucket for key
func (rl *RateLimiter) Allow(ctx context.Context, key string) (LimitDecision, error) {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := rl.now()
	capacity := float64(rl.config.RequestsPerWindow)

	b, ok := rl.buckets[key]
	if !ok {
		b = &bucket{tokens: capacity, lastSeen: now}
		rl.buckets[key] = b
	}

	refilled := float64(now.Sub(b.lastSeen)) / float64(rl.refillInterval())
	b.tokens = math.Min(capacity, b.tokens+refilled)
	b.lastSeen = now

	if b.tokens >= 1 {
		b.tokens--
		return LimitDecision{Allowed: true}, nil
	}

	wait := time.Duration((1 - b.tokens) * float64(rl.refillInterval()))
	return LimitDecision{RetryAfter: wait}, nil
}

// Reset forgets the bucket for key
func (rl *RateLimiter) Reset(ctx context.Context, key string) error {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	delete(rl.buckets, key)
	return nil
}

// Cleanup drops buckets that have been full for at least a window
func (rl *RateLimiter) Cleanup() {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := rl.now()
	for key, b := range rl.buckets {
		if now.Sub(b.lastSeen) > rl.config.WindowDuration {
			delete(rl.buckets, key)
		}
	}
}

// DistributedRateLimiter counts requests in fixed Redis windows so every
// panel replica shares the same limits
type DistributedRateLimiter struct {
	redis  *redis.Client
	config *RateLimitConfig
	prefix string
}

// NewDistributedRateLimiter creates a Redis-backed limiter. Keys are stored
// under prefix, "gd_admin_ratelimit" when empty.
func NewDistributedRateLimiter(redisClient *redis.Client, config *RateLimitConfig, prefix string) *DistributedRateLimiter {
	if config == nil {
		config = DefaultLoginRateLimitConfig()
	}
	if prefix == "" {
		prefix = "gd_admin_ratelimit"
	}
	return &DistributedRateLimiter{
		redis:  redisClient,
		config: config,
		prefix: prefix,
	}
}

func (rl *DistributedRateLimiter) key(key string) string {
	return rl.prefix + ":" + key
}

// Allow increments the counter of the current window for key
func (rl *DistributedRateLimiter) Allow(ctx context.Context, key string) (LimitDecision, error) {
	redisKey := rl.key(key)

	var incr *redis.IntCmd
	var ttl *redis.DurationCmd
	_, err := rl.redis.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		incr = pipe.Incr(ctx, redisKey)
		ttl = pipe.PTTL(ctx, redisKey)
		return nil
	})
	if err != nil {
		return LimitDecision{Allowed: true}, fmt.Errorf("redis error: %w", err)
	}

	remaining := ttl.Val()
	// A counter without expiry opens a new window
	if remaining < 0 {
		if err := rl.redis.PExpire(ctx, redisKey, rl.config.WindowDuration).Err(); err != nil {
			return LimitDecision{Allowed: true}, fmt.Errorf("redis error: %w", err)
		}
		remaining = rl.config.WindowDuration
	}

	if incr.Val() <= int64(rl.config.RequestsPerWindow) {
		return LimitDecision{Allowed: true}, nil
	}
	return LimitDecision{RetryAfter: remaining}, nil
}

// Reset clears the counter for key
func (rl *DistributedRateLimiter) Reset(ctx context.Context, key string) error {
	return rl.redis.Del(ctx, rl.key(key)).Err()
}

// LoginThrottle limits POST requests per client address. Limiter errors
// fail open so an outage of the counter store cannot lock administrators out.
func LoginThrottle(limiter Limiter, trustProxy bool, page ErrorPage, logger logrus.FieldLogger) func(http.Handler) http.Handler {
	if page == nil {
		page = defaultErrorPage
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.Method != http.MethodPost {
				next.ServeHTTP(w, r)
				return
			}

			ip := ClientIP(r, trustProxy)
			decision, err := limiter.Allow(r.Context(), LoginKey(ip))
			if err != nil {
				logger.WithError(err).Warn("Login rate limiter unavailable, allowing request")
				next.ServeHTTP(w, r)
				return
			}

			if !decision.Allowed {
				retry := int(math.Ceil(decision.RetryAfter.Seconds()))
				logger.WithFields(logrus.Fields{
					"client_ip":   ip,
					"retry_after": retry,
				}).Warn("Login rate limit exceeded")
				w.Header().Set("Retry-After", strconv.Itoa(max(retry, 1)))
				page(w, r, http.StatusTooManyRequests, "Too many login attempts. Please wait and try again.")
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

// ClientIP returns the client address. X-Forwarded-For and X-Real-IP are
// honored only when trustProxy is set.
func ClientIP(r *http.Request, trustProxy bool) string {
	if trustProxy {
		if forwarded := r.Header.Get("X-Forwarded-For"); forwarded != "" {
			first, _, _ := strings.Cut(forwarded, ",")
			return strings.TrimSpace(first)
		}
		if realIP := r.Header.Get("X-Real-IP"); realIP != "" {
			return strings.TrimSpace(realIP)
		}
	}

	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
