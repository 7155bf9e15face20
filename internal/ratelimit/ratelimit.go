// Package ratelimit provides per-client-IP token bucket limiting for
// net/http handlers.
package ratelimit

import (
	"context"
	"math"
	"net"
	"net/http"
	"strconv"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

const (
	sweepEvery = 3 * time.Minute
	idleAfter  = 5 * time.Minute
)

type clientLimiter struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// Limiter keeps one token bucket per client IP.
type Limiter struct {
	mu      sync.Mutex
	clients map[string]*clientLimiter
	rate    rate.Limit
	burst   int

	// Reject writes the response for a limited request. Retry-After is
	// already set when it runs.
	Reject http.HandlerFunc
}

// New returns a limiter allowing rps requests per second per IP with the
// given burst. Idle clients are forgotten until ctx ends.
func New(ctx context.Context, rps float64, burst int) *Limiter {
	l := &Limiter{
		clients: make(map[string]*clientLimiter),
		rate:    rate.Limit(rps),
		burst:   burst,
		Reject: func(w http.ResponseWriter, r *http.Request) {
			http.Error(w, "rate limit exceeded", http.StatusTooManyRequests)
		},
	}
	go l.sweep(ctx)
	return l
}

// Allow reports whether a request from ip may proceed.
func (l *Limiter) Allow(ip string) bool {
	return l.get(ip).Allow()
}

func (l *Limiter) get(ip string) *rate.Limiter {
	l.mu.Lock()
	defer l.mu.Unlock()

	if c, ok := l.clients[ip]; ok {
		c.lastSeen = time.Now()
		return c.limiter
	}
	lim := rate.NewLimiter(l.rate, l.burst)
	l.clients[ip] = &clientLimiter{limiter: lim, lastSeen: time.Now()}
	return lim
}

func (l *Limiter) sweep(ctx context.Context) {
	ticker := time.NewTicker(sweepEvery)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			l.mu.Lock()
			for ip, c := range l.clients {
				if time.Since(c.lastSeen) > idleAfter {
					delete(l.clients, ip)
				}
			}
			l.mu.Unlock()
		}
	}
}

// RetryAfter is the whole number of seconds until one token is refilled.
func (l *Limiter) RetryAfter() int {
	if l.rate <= 0 {
		return 1
	}
	return max(int(math.Ceil(1/float64(l.rate))), 1)
}

// Middleware enforces the limit before calling next.
func (l *Limiter) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !l.Allow(ClientIP(r)) {
			w.Header().Set("Retry-After", strconv.Itoa(l.RetryAfter()))
			l.Reject(w, r)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// ClientIP returns the host part of r.RemoteAddr. Forwarding headers are
// not trusted.
func ClientIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
