package middleware

import (
	"context"
	"net"
	"net/http"
	"strconv"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// Tier selects which per-minute budget a route draws from.
type Tier string

const (
	// TierPublic covers every route without a stricter tier.
	TierPublic Tier = "public"
	// TierAuth covers signup, signin, OTP and password reset.
	TierAuth Tier = "auth"
)

const (
	limiterTTL      = 15 * time.Minute
	cleanupInterval = 5 * time.Minute
)

// Limits is the per-minute budget of each tier. Zero disables a tier.
type Limits map[Tier]int

// RateLimiter keeps one token bucket per tier and client IP.
type RateLimiter struct {
	mu       sync.Mutex
	limits   Limits
	limiters map[string]*limiterEntry
	now      func() time.Time
}

type limiterEntry struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

func NewRateLimiter(limits Limits) *RateLimiter {
	return &RateLimiter{
		limits:   limits,
		limiters: make(map[string]*limiterEntry),
		now:      time.Now,
	}
}

// Limit returns a middleware that charges each request to tier.
//
// Requests over budget get 429 with a Retry-After header and the usual
// error envelope.
func (l *RateLimiter) Limit(tier Tier) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			lim := l.limiter(tier, clientIP(r))
			if lim == nil || lim.Allow() {
				next.ServeHTTP(w, r)
				return
			}

			perMinute := l.limits[tier]
			retry := int(time.Minute / time.Duration(perMinute) / time.Second)
			if retry < 1 {
				retry = 1
			}
			w.Header().Set("Retry-After", strconv.Itoa(retry))
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusTooManyRequests)
			_, _ = w.Write([]byte(`{"success":false,"error":"Too many requests. Please try again later."}`))
		})
	}
}

func (l *RateLimiter) limiter(tier Tier, key string) *rate.Limiter {
	perMinute := l.limits[tier]
	if perMinute <= 0 {
		return nil
	}
	lookup := string(tier) + ":" + key

	l.mu.Lock()
	defer l.mu.Unlock()

	if e, ok := l.limiters[lookup]; ok {
		e.lastSeen = l.now()
		return e.limiter
	}
	lim := rate.NewLimiter(rate.Every(time.Minute/time.Duration(perMinute)), perMinute)
	l.limiters[lookup] = &limiterEntry{limiter: lim, lastSeen: l.now()}
	return lim
}

// Run drops idle buckets every few minutes until ctx is done.
func (l *RateLimiter) Run(ctx context.Context) {
	ticker := time.NewTicker(cleanupInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			l.cleanup()
		case <-ctx.Done():
			return
		}
	}
}

func (l *RateLimiter) cleanup() {
	l.mu.Lock()
	defer l.mu.Unlock()

	cutoff := l.now().Add(-limiterTTL)
	for key, e := range l.limiters {
		if e.lastSeen.Before(cutoff) {
			delete(l.limiters, key)
		}
	}
}

// clientIP is the request's remote host. chi's RealIP middleware runs first
// and has already replaced RemoteAddr with the forwarded address.
func clientIP(r *http.Request) string {
	if host, _, err := net.SplitHostPort(r.RemoteAddr); err == nil {
		return host
	}
	return r.RemoteAddr
}
