package lessweb

import (
	"fmt"
	"math"
	"net"
	"net/http"
	"strconv"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// RateLimitConfig configures the RateLimit middleware.
type RateLimitConfig struct {
	Rate    float64 // tokens per second
	Burst   int
	KeyFunc func(r *http.Request) string                 // default: client IP
	OnLimit func(w http.ResponseWriter, r *http.Request) // default: 429 problem document

	// Limiters idle longer than MaxIdle are pruned at most once per
	// CleanupInterval. Defaults are 5m and 1m.
	CleanupInterval time.Duration
	MaxIdle         time.Duration

	// Logger receives one Debug line per rejected request.
	Logger *zap.Logger
}

// RateLimit returns transport middleware that applies a token bucket per
// client key. Rejected requests get a Retry-After header in whole seconds.
// It panics unless cfg.Rate is positive.
func RateLimit(cfg RateLimitConfig) HTTPMiddleware {
	if !(cfg.Rate > 0) {
		panic(fmt.Sprintf("lessweb: RateLimit requires a positive Rate, got %v", cfg.Rate))
	}
	if cfg.KeyFunc == nil {
		cfg.KeyFunc = clientIP
	}
	if cfg.OnLimit == nil {
		cfg.OnLimit = func(w http.ResponseWriter, _ *http.Request) {
			writeErrorResponse(w, Error(http.StatusTooManyRequests, "rate limit exceeded"))
		}
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}

	set := &limiterSet{
		limit:   rate.Limit(cfg.Rate),
		burst:   cfg.Burst,
		every:   cmpOr(cfg.CleanupInterval, time.Minute),
		maxIdle: cmpOr(cfg.MaxIdle, 5*time.Minute),
		entries: make(map[string]*limiterEntry),
	}
	retryAfter := strconv.FormatFloat(math.Max(1, math.Ceil(1/cfg.Rate)), 'f', 0, 64)

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			key := cfg.KeyFunc(r)
			if set.get(key, time.Now()).Allow() {
				next.ServeHTTP(w, r)
				return
			}
			cfg.Logger.Debug("rate limited", zap.String("key", key), zap.String("path", r.URL.Path))
			w.Header().Set("Retry-After", retryAfter)
			cfg.OnLimit(w, r)
		})
	}
}

func clientIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

func cmpOr(d, fallback time.Duration) time.Duration {
	if d <= 0 {
		return fallback
	}
	return d
}

type limiterEntry struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// limiterSet holds one limiter per key and prunes idle ones lazily.
type limiterSet struct {
	limit   rate.Limit
	burst   int
	every   time.Duration
	maxIdle time.Duration

	mu      sync.Mutex
	entries map[string]*limiterEntry
	pruned  time.Time
}

func (s *limiterSet) get(key string, now time.Time) *rate.Limiter {
	s.mu.Lock()
	defer s.mu.Unlock()

	if now.Sub(s.pruned) >= s.every {
		for k, e := range s.entries {
			if now.Sub(e.lastSeen) > s.maxIdle {
				delete(s.entries, k)
			}
		}
		s.pruned = now
	}

	e, ok := s.entries[key]
	if !ok {
		e = &limiterEntry{limiter: rate.NewLimiter(s.limit, s.burst)}
		s.entries[key] = e
	}
	e.lastSeen = now
	return e.limiter
}
