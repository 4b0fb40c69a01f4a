// Package ratelimit throttles API clients with one token bucket per client key.
package ratelimit

import (
	"math"
	"net/http"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/time/rate"
)

// Limiter keeps a token bucket per client key.
type Limiter struct {
	mu           sync.Mutex
	clients      map[string]*client
	stopCleanup  chan struct{}
	shutdownOnce sync.Once
	now          func() time.Time

	limit   rate.Limit
	burst   int
	idleTTL time.Duration

	rejected atomic.Int64
}

type client struct {
	bucket   *rate.Limiter
	lastSeen time.Time
}

// Config holds rate limiter configuration
type Config struct {
	RequestsPerMinute int
	// Burst is how many requests a quiet client may send at once.
	Burst           int
	CleanupInterval time.Duration
	// IdleTTL drops buckets of clients silent for longer than this.
	IdleTTL time.Duration
}

// DefaultConfig returns sensible defaults
func DefaultConfig() Config {
	return Config{
		RequestsPerMinute: 120,
		Burst:             20,
		CleanupInterval:   5 * time.Minute,
		IdleTTL:           10 * time.Minute,
	}
}

// NewLimiter creates a limiter and starts its cleanup goroutine. Call Stop when done.
func NewLimiter(config Config) *Limiter {
	def := DefaultConfig()
	if config.RequestsPerMinute <= 0 {
		config.RequestsPerMinute = def.RequestsPerMinute
	}
	if config.Burst <= 0 {
		config.Burst = def.Burst
	}
	if config.CleanupInterval <= 0 {
		config.CleanupInterval = def.CleanupInterval
	}
	if config.IdleTTL <= 0 {
		config.IdleTTL = def.IdleTTL
	}

	rl := &Limiter{
		clients:     make(map[string]*client),
		stopCleanup: make(chan struct{}),
		now:         time.Now,
		limit:       rate.Limit(float64(config.RequestsPerMinute) / 60),
		burst:       config.Burst,
		idleTTL:     config.IdleTTL,
	}
	go rl.startCleanup(config.CleanupInterval)
	return rl
}

// Allow reports whether key may make a request now and consumes a token if so.
func (rl *Limiter) Allow(key string) bool {
	rl.mu.Lock()
	now := rl.now()
	c, ok := rl.clients[key]
	if !ok {
		c = &client{bucket: rate.NewLimiter(rl.limit, rl.burst)}
		rl.clients[key] = c
	}
	c.lastSeen = now
	allowed := c.bucket.AllowN(now, 1)
	rl.mu.Unlock()

	if !allowed {
		rl.rejected.Add(1)
	}
	return allowed
}

// retryAfter is the wait, in whole seconds, until one token is available.
func (rl *Limiter) retryAfter() int {
	secs := math.Ceil(1 / float64(rl.limit))
	if secs < 1 {
		return 1
	}
	return int(secs)
}

func (rl *Limiter) startCleanup(interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			rl.cleanupStaleEntries()
		case <-rl.stopCleanup:
			return
		}
	}
}

func (rl *Limiter) cleanupStaleEntries() int {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	cutoff := rl.now().Add(-rl.idleTTL)
	removed := 0
	for key, c := range rl.clients {
		if c.lastSeen.Before(cutoff) {
			delete(rl.clients, key)
			removed++
		}
	}
	return removed
}

// ActiveClients returns the number of currently tracked clients
func (rl *Limiter) ActiveClients() int {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	return len(rl.clients)
}

// Stop shuts down the cleanup goroutine. Safe to call more than once.
func (rl *Limiter) Stop() {
	rl.shutdownOnce.Do(func() {
		close(rl.stopCleanup)
	})
}

// Metrics for monitoring rate limit performance
type Metrics struct {
	Rejected    int64
	ClientCount int64
}

func (rl *Limiter) GetMetrics() Metrics {
	return Metrics{
		Rejected:    rl.rejected.Load(),
		ClientCount: int64(rl.ActiveClients()),
	}
}

// Middleware rejects requests over the limit. key extracts the client key
// (usually the client IP); onLimit, when set, writes the rejection.
func (rl *Limiter) Middleware(key func(*http.Request) string, onLimit func(http.ResponseWriter, *http.Request)) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !rl.Allow(key(r)) {
				w.Header().Set("Retry-After", strconv.Itoa(rl.retryAfter()))
				if onLimit != nil {
					onLimit(w, r)
				} else {
					http.Error(w, "Rate limit exceeded. Please try again later.", http.StatusTooManyRequests)
				}
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
