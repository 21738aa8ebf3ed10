package middleware

import (
	"math"
	"net"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// RateLimitConfig holds configuration for the rate limit middleware.
type RateLimitConfig struct {
	// RequestsPerSecond is the sustained request rate per key.
	RequestsPerSecond float64

	// BurstSize is the maximum burst above the sustained rate.
	BurstSize int

	// KeyFunc extracts the rate limit key from a request. Defaults to ClientIP.
	KeyFunc func(r *http.Request) string

	// SkipPaths bypass rate limiting.
	SkipPaths []string

	// IdleTimeout is how long an unused key is kept before it is evicted.
	IdleTimeout time.Duration
}

// DefaultRateLimitConfig returns the default per-client limits.
func DefaultRateLimitConfig() RateLimitConfig {
	return RateLimitConfig{
		RequestsPerSecond: 10,
		BurstSize:         20,
		KeyFunc:           ClientIP,
		SkipPaths:         []string{"/healthz", "/readyz", "/metrics"},
		IdleTimeout:       5 * time.Minute,
	}
}

// ClientIP keys requests by the first X-Forwarded-For hop, X-Real-IP or the
// remote address, in that order.
func ClientIP(r *http.Request) string {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		first, _, _ := strings.Cut(xff, ",")
		return strings.TrimSpace(first)
	}
	if xri := r.Header.Get("X-Real-IP"); xri != "" {
		return xri
	}
	if host, _, err := net.SplitHostPort(r.RemoteAddr); err == nil {
		return host
	}
	return r.RemoteAddr
}

type visitor struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// KeyedLimiter holds one token bucket per key.
type KeyedLimiter struct {
	mu       sync.Mutex
	visitors map[string]*visitor
	limit    rate.Limit
	burst    int
	idle     time.Duration
	now      func() time.Time
}

// NewKeyedLimiter creates a limiter allowing rps requests per second with the
// given burst for every key.
func NewKeyedLimiter(rps float64, burst int, idle time.Duration) *KeyedLimiter {
	if burst <= 0 {
		burst = 1
	}
	return &KeyedLimiter{
		visitors: make(map[string]*visitor),
		limit:    rate.Limit(rps),
		burst:    burst,
		idle:     idle,
		now:      time.Now,
	}
}

// Reserve takes a token for key. It reports whether the request may proceed
// and, if not, how long the caller should wait before retrying.
func (l *KeyedLimiter) Reserve(key string) (bool, time.Duration) {
	now := l.now()

	l.mu.Lock()
	v, ok := l.visitors[key]
	if !ok {
		v = &visitor{limiter: rate.NewLimiter(l.limit, l.burst)}
		l.visitors[key] = v
	}
	v.lastSeen = now
	l.mu.Unlock()

	if v.limiter.AllowN(now, 1) {
		return true, 0
	}
	r := v.limiter.ReserveN(now, 1)
	if !r.OK() {
		return false, time.Second
	}
	delay := r.DelayFrom(now)
	r.CancelAt(now)
	return false, delay
}

// Tokens returns the tokens currently available for key.
func (l *KeyedLimiter) Tokens(key string) int {
	l.mu.Lock()
	v, ok := l.visitors[key]
	l.mu.Unlock()
	if !ok {
		return l.burst
	}
	return int(math.Max(0, math.Floor(v.limiter.TokensAt(l.now()))))
}

// Evict drops keys idle for longer than the configured timeout and returns
// how many were removed.
func (l *KeyedLimiter) Evict() int {
	if l.idle <= 0 {
		return 0
	}
	cutoff := l.now().Add(-l.idle)

	l.mu.Lock()
	defer l.mu.Unlock()
	removed := 0
	for key, v := range l.visitors {
		if v.lastSeen.Before(cutoff) {
			delete(l.visitors, key)
			removed++
		}
	}
	return removed
}

// Len returns the number of tracked keys.
func (l *KeyedLimiter) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.visitors)
}

// RateLimit returns middleware that answers 429 with a Retry-After header
// once a key exhausts its bucket. Idle keys are evicted lazily.
func RateLimit(config RateLimitConfig) func(http.Handler) http.Handler {
	limiter := NewKeyedLimiter(config.RequestsPerSecond, config.BurstSize, config.IdleTimeout)
	return RateLimitWith(limiter, config)
}

// RateLimitWith is RateLimit over an existing limiter.
func RateLimitWith(limiter *KeyedLimiter, config RateLimitConfig) func(http.Handler) http.Handler {
	skipSet := make(map[string]bool, len(config.SkipPaths))
	for _, p := range config.SkipPaths {
		skipSet[p] = true
	}
	keyFunc := config.KeyFunc
	if keyFunc == nil {
		keyFunc = ClientIP
	}

	var (
		evictMu   sync.Mutex
		lastEvict = limiter.now()
	)
	maybeEvict := func() {
		if limiter.idle <= 0 {
			return
		}
		evictMu.Lock()
		defer evictMu.Unlock()
		if now := limiter.now(); now.Sub(lastEvict) >= limiter.idle {
			lastEvict = now
			limiter.Evict()
		}
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if skipSet[r.URL.Path] {
				next.ServeHTTP(w, r)
				return
			}
			maybeEvict()

			key := keyFunc(r)
			allowed, wait := limiter.Reserve(key)
			w.Header().Set("X-RateLimit-Limit", strconv.Itoa(limiter.burst))
			w.Header().Set("X-RateLimit-Remaining", strconv.Itoa(limiter.Tokens(key)))

			if !allowed {
				secs := int(math.Ceil(wait.Seconds()))
				if secs < 1 {
					secs = 1
				}
				w.Header().Set("Retry-After", strconv.Itoa(secs))
				w.Header().Set("Content-Type", "application/json; charset=utf-8")
				w.WriteHeader(http.StatusTooManyRequests)
				_, _ = w.Write([]byte(`{"error":{"code":"RATE_LIMITED","message":"rate limit exceeded, please retry later"}}`))
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}
