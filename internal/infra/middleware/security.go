// Package middleware holds the HTTP middleware shared by the stream and
// satellite servers.
package middleware

import (
	"context"
	"net"
	"net/http"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// SecurityHeaders sets restrictive response headers. Nothing served here
// is meant to be framed, sniffed, cached or to load sub-resources.
func SecurityHeaders(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		h := w.Header()
		h.Set("X-Frame-Options", "DENY")
		h.Set("X-Content-Type-Options", "nosniff")
		h.Set("Content-Security-Policy", "default-src 'none'")
		h.Set("Referrer-Policy", "no-referrer")
		h.Set("Cache-Control", "no-store")
		next.ServeHTTP(w, r)
	})
}

const (
	sweepEvery = time.Minute
	idleAfter  = 3 * time.Minute
)

// limiterSet holds one token bucket per peer address.
type limiterSet struct {
	perSec rate.Limit
	burst  int

	mu    sync.Mutex
	peers map[string]*peerLimiter
}

type peerLimiter struct {
	*rate.Limiter
	lastSeen time.Time
}

func newLimiterSet(perMin, burst int) *limiterSet {
	return &limiterSet{
		perSec: rate.Limit(float64(perMin) / 60),
		burst:  burst,
		peers:  make(map[string]*peerLimiter),
	}
}

func (s *limiterSet) allow(peer string, now time.Time) bool {
	s.mu.Lock()
	p, ok := s.peers[peer]
	if !ok {
		p = &peerLimiter{Limiter: rate.NewLimiter(s.perSec, s.burst)}
		s.peers[peer] = p
	}
	p.lastSeen = now
	s.mu.Unlock()
	return p.AllowN(now, 1)
}

// sweep forgets peers idle since before cutoff and returns how many remain.
func (s *limiterSet) sweep(cutoff time.Time) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	for peer, p := range s.peers {
		if p.lastSeen.Before(cutoff) {
			delete(s.peers, peer)
		}
	}
	return len(s.peers)
}

// RateLimit applies a per-peer token bucket of requestsPerMin with the
// given burst. Idle peers are forgotten until ctx ends. A non-positive
// rate disables limiting.
func RateLimit(ctx context.Context, requestsPerMin, burst int) func(http.Handler) http.Handler {
	if requestsPerMin <= 0 {
		return func(next http.Handler) http.Handler { return next }
	}
	set := newLimiterSet(requestsPerMin, burst)

	go func() {
		t := time.NewTicker(sweepEvery)
		defer t.Stop()
		for {
			select {
			case now := <-t.C:
				set.sweep(now.Add(-idleAfter))
			case <-ctx.Done():
				return
			}
		}
	}()

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !set.allow(peerHost(r), time.Now()) {
				w.Header().Set("Retry-After", "1")
				http.Error(w, "Rate limit exceeded", http.StatusTooManyRequests)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// peerHost is the TCP peer without its port. Proxy headers are ignored:
// every listener binds loopback.
func peerHost(r *http.Request) string {
	if host, _, err := net.SplitHostPort(r.RemoteAddr); err == nil {
		return host
	}
	return r.RemoteAddr
}
