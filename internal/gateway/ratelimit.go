package gateway

import (
	"context"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/basket/archivist/internal/config"
)

// clientLimiter pairs a token bucket with the time it was last used.
type clientLimiter struct {
	limiter    *rate.Limiter
	mu         sync.Mutex
	lastAccess time.Time
}

func (c *clientLimiter) allow(now time.Time) bool {
	c.mu.Lock()
	c.lastAccess = now
	c.mu.Unlock()
	return c.limiter.AllowN(now, 1)
}

// LastAccess returns the time of the last allow call.
func (c *clientLimiter) LastAccess() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lastAccess
}

// RateLimitMiddleware enforces per-client rate limits using token buckets.
type RateLimitMiddleware struct {
	buckets map[string]*clientLimiter
	limit   rate.Limit
	burst   int
	now     func() time.Time
	mu      sync.RWMutex
}

// NewRateLimitMiddleware creates a rate limit middleware from config.
func NewRateLimitMiddleware(cfg config.RateLimitConfig) *RateLimitMiddleware {
	rpm := cfg.RequestsPerMinute
	if rpm <= 0 {
		rpm = 60
	}
	burst := cfg.BurstSize
	if burst <= 0 {
		burst = 10
	}
	return &RateLimitMiddleware{
		buckets: make(map[string]*clientLimiter),
		limit:   rate.Limit(float64(rpm) / 60.0),
		burst:   burst,
		now:     time.Now,
	}
}

// StartEviction launches a background goroutine that periodically removes
// stale buckets (no requests in the last maxAge).
func (rl *RateLimitMiddleware) StartEviction(ctx context.Context, interval, maxAge time.Duration) {
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				rl.EvictStale(maxAge)
			}
		}
	}()
}

// EvictStale removes buckets that haven't been accessed within maxAge.
func (rl *RateLimitMiddleware) EvictStale(maxAge time.Duration) {
	cutoff := rl.now().Add(-maxAge)

	rl.mu.Lock()
	defer rl.mu.Unlock()

	evicted := 0
	for key, bucket := range rl.buckets {
		if bucket.LastAccess().Before(cutoff) {
			delete(rl.buckets, key)
			evicted++
		}
	}
	if evicted > 0 {
		slog.Debug("rate limiter eviction", "evicted", evicted, "remaining", len(rl.buckets))
	}
}

// BucketCount returns the current number of tracked buckets.
func (rl *RateLimitMiddleware) BucketCount() int {
	rl.mu.RLock()
	defer rl.mu.RUnlock()
	return len(rl.buckets)
}

// Wrap wraps an http.Handler with rate limiting.
func (rl *RateLimitMiddleware) Wrap(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/healthz" {
			next.ServeHTTP(w, r)
			return
		}

		if !rl.getBucket(clientKey(r)).allow(rl.now()) {
			w.Header().Set("Retry-After", "1")
			writeError(w, http.StatusTooManyRequests, "rate limit exceeded")
			return
		}

		next.ServeHTTP(w, r)
	})
}

// clientKey buckets by API key, falling back to the remote host.
func clientKey(r *http.Request) string {
	if key := ExtractAPIKey(r); key != "" {
		return "key:" + key
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		host = r.RemoteAddr
	}
	return "ip:" + host
}

// getBucket returns the limiter for the given key, creating one if needed.
func (rl *RateLimitMiddleware) getBucket(key string) *clientLimiter {
	rl.mu.RLock()
	bucket, exists := rl.buckets[key]
	rl.mu.RUnlock()
	if exists {
		return bucket
	}

	rl.mu.Lock()
	defer rl.mu.Unlock()
	if bucket, exists = rl.buckets[key]; exists {
		return bucket
	}

	bucket = &clientLimiter{limiter: rate.NewLimiter(rl.limit, rl.burst)}
	rl.buckets[key] = bucket
	return bucket
}
