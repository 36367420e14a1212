package middleware

import (
	"net/http"
	"sync"

	"golang.org/x/time/rate"
)

// ClientLimiter hands out one token-bucket limiter per client key, so noisy
// clients are throttled without starving the rest. Keys are never evicted;
// the admin surface sees a small, stable set of callers.
type ClientLimiter struct {
	limit rate.Limit
	burst int

	mu       sync.Mutex
	limiters map[string]*rate.Limiter
}

// NewClientLimiter allows limit requests per second with the given burst per
// client key.
func NewClientLimiter(limit rate.Limit, burst int) *ClientLimiter {
	return &ClientLimiter{
		limit:    limit,
		burst:    burst,
		limiters: make(map[string]*rate.Limiter),
	}
}

// Allow reports whether a request for key may proceed now.
func (cl *ClientLimiter) Allow(key string) bool {
	cl.mu.Lock()
	lim, ok := cl.limiters[key]
	if !ok {
		lim = rate.NewLimiter(cl.limit, cl.burst)
		cl.limiters[key] = lim
	}
	cl.mu.Unlock()
	return lim.Allow()
}

// RateLimit rejects requests over the per-client limit with 429. keyFunc
// extracts the client key; an empty key bypasses limiting.
func RateLimit(cl *ClientLimiter, keyFunc func(*http.Request) string, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		key := keyFunc(r)
		if key != "" && !cl.Allow(key) {
			http.Error(w, "rate limit exceeded", http.StatusTooManyRequests)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// KeyByIP keys rate limiting on the caller's address, honoring proxy headers.
func KeyByIP(r *http.Request) string {
	if forwarded := r.Header.Get("X-Forwarded-For"); forwarded != "" {
		return forwarded
	}
	if realIP := r.Header.Get("X-Real-IP"); realIP != "" {
		return realIP
	}
	return r.RemoteAddr
}
