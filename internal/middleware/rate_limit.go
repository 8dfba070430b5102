package middleware

import (
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/patrickmn/go-cache"
	"golang.org/x/time/rate"

	"cashflow-suite/settings/internal/common"
	"cashflow-suite/settings/internal/constants"
)

// RateLimiter hands out one token bucket per client. Idle buckets expire so
// the set does not grow without bound.
type RateLimiter struct {
	mu          sync.Mutex
	limiters    *cache.Cache
	limit       rate.Limit
	burst       int
	whitelisted map[string]bool
}

// NewRateLimiter allows perMinute requests per client with the given burst.
func NewRateLimiter(perMinute, burst int, whitelist ...string) *RateLimiter {
	if perMinute <= 0 {
		perMinute = 1
	}
	if burst <= 0 {
		burst = 1
	}
	wl := make(map[string]bool, len(whitelist))
	for _, ip := range whitelist {
		wl[ip] = true
	}
	return &RateLimiter{
		limiters:    cache.New(10*time.Minute, time.Minute),
		limit:       rate.Limit(float64(perMinute) / 60),
		burst:       burst,
		whitelisted: wl,
	}
}

func (l *RateLimiter) getLimiter(client string) *rate.Limiter {
	l.mu.Lock()
	defer l.mu.Unlock()

	if v, ok := l.limiters.Get(client); ok {
		limiter := v.(*rate.Limiter)
		l.limiters.SetDefault(client, limiter)
		return limiter
	}
	limiter := rate.NewLimiter(l.limit, l.burst)
	l.limiters.SetDefault(client, limiter)
	return limiter
}

// Allow reports whether client may make another request now.
func (l *RateLimiter) Allow(client string) bool {
	if l.whitelisted[client] {
		return true
	}
	return l.getLimiter(client).Allow()
}

// Middleware rejects clients over their budget with 429.
func (l *RateLimiter) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		if !l.Allow(clientIP(r)) {
			w.Header().Set("Retry-After", "60")
			common.RespondError(w, start, nil, constants.GetErrorMessage(constants.ErrCodeTooManyTests), http.StatusTooManyRequests)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func clientIP(r *http.Request) string {
	ip, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return ip
}
