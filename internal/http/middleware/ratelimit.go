package middleware

import (
	"net/http"
	"sync"
	"time"

	"github.com/wolfman30/clinicops/internal/tenancy"
)

// RateLimiter is a token bucket per key.
type RateLimiter struct {
	mu      sync.Mutex
	buckets map[string]*bucket
	rate    float64 // tokens per second
	burst   int
	now     func() time.Time
}

type bucket struct {
	tokens   float64
	lastTime time.Time
}

func NewRateLimiter(rate float64, burst int) *RateLimiter {
	return &RateLimiter{
		buckets: make(map[string]*bucket),
		rate:    rate,
		burst:   burst,
		now:     time.Now,
	}
}

// Allow takes one token from key's bucket.
func (rl *RateLimiter) Allow(key string) bool {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := rl.now()
	b, ok := rl.buckets[key]
	if !ok {
		b = &bucket{tokens: float64(rl.burst), lastTime: now}
		rl.buckets[key] = b
	}
	b.tokens += now.Sub(b.lastTime).Seconds() * rl.rate
	if b.tokens > float64(rl.burst) {
		b.tokens = float64(rl.burst)
	}
	b.lastTime = now

	// Idle buckets are full again, so dropping them loses nothing.
	if len(rl.buckets) > 10000 {
		for k, other := range rl.buckets {
			if now.Sub(other.lastTime) > 10*time.Minute {
				delete(rl.buckets, k)
			}
		}
	}

	if b.tokens < 1 {
		return false
	}
	b.tokens--
	return true
}

// TenantOrIP keys requests by the tenant on the context, else by client address.
func TenantOrIP(r *http.Request) string {
	if tenantID, ok := tenancy.TenantIDFromContext(r.Context()); ok {
		return "tenant:" + tenantID
	}
	if xri := r.Header.Get("X-Real-Ip"); xri != "" {
		return "ip:" + xri
	}
	return "ip:" + r.RemoteAddr
}

// RateLimit rejects requests over the limit with 429.
func RateLimit(limiter *RateLimiter, key func(*http.Request) string) func(http.Handler) http.Handler {
	if key == nil {
		key = TenantOrIP
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !limiter.Allow(key(r)) {
				w.Header().Set("Retry-After", "1")
				http.Error(w, "rate limit exceeded", http.StatusTooManyRequests)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
