package api

import (
	"net"
	"net/http"
	"net/netip"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"

	apperrors "github.com/metal-price-cache/internal/errors"
)

// idleLimiterTTL is how long an unused per-client limiter is kept
const idleLimiterTTL = 10 * time.Minute

// RateLimiter manages inbound rate limiting per client IP
type RateLimiter struct {
	limiters  map[string]*clientLimiter
	mu        sync.RWMutex
	limit     rate.Limit
	burstSize int
	lastSweep time.Time

	// Peers allowed to report the client address via X-Forwarded-For
	trustedProxies []netip.Prefix
}

type clientLimiter struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// NewRateLimiter creates a new rate limiter. Non-positive values fall back to 10 rps / burst 20.
// Without trusted proxies every client is keyed on its remote address.
func NewRateLimiter(requestsPerSecond, burst int, trustedProxies []netip.Prefix) *RateLimiter {
	if requestsPerSecond <= 0 {
		requestsPerSecond = 10
	}
	if burst <= 0 {
		burst = 20
	}
	return &RateLimiter{
		limiters:  make(map[string]*clientLimiter),
		limit:     rate.Limit(requestsPerSecond),
		burstSize: burst,
		lastSweep: time.Now(),

		trustedProxies: trustedProxies,
	}
}

// getLimiter returns the rate limiter for a client
func (rl *RateLimiter) getLimiter(key string) *rate.Limiter {
	now := time.Now()

	rl.mu.RLock()
	entry, exists := rl.limiters[key]
	rl.mu.RUnlock()

	if exists {
		rl.mu.Lock()
		entry.lastSeen = now
		rl.mu.Unlock()
		return entry.limiter
	}

	rl.mu.Lock()
	defer rl.mu.Unlock()

	// Double-check in case another goroutine created it
	if entry, exists := rl.limiters[key]; exists {
		entry.lastSeen = now
		return entry.limiter
	}

	if now.Sub(rl.lastSweep) > idleLimiterTTL {
		rl.sweepLocked(now)
	}

	limiter := rate.NewLimiter(rl.limit, rl.burstSize)
	rl.limiters[key] = &clientLimiter{limiter: limiter, lastSeen: now}
	return limiter
}

// sweepLocked drops limiters idle longer than idleLimiterTTL (must hold mu)
func (rl *RateLimiter) sweepLocked(now time.Time) {
	for key, entry := range rl.limiters {
		if now.Sub(entry.lastSeen) > idleLimiterTTL {
			delete(rl.limiters, key)
		}
	}
	rl.lastSweep = now
}

// size returns the number of tracked clients
func (rl *RateLimiter) size() int {
	rl.mu.RLock()
	defer rl.mu.RUnlock()
	return len(rl.limiters)
}

// RateLimitMiddleware creates a middleware that enforces rate limiting
func RateLimitMiddleware(rl *RateLimiter) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			limiter := rl.getLimiter(rl.clientKey(r))

			if !limiter.Allow() {
				respondCategorizedError(w, apperrors.NewRateLimitError(float64(limiter.Limit())))
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

// clientKey identifies the client a request is throttled as. X-Forwarded-For
// is honoured only when the direct peer is a trusted proxy; the client is then
// the rightmost hop that is not itself a trusted proxy.
func (rl *RateLimiter) clientKey(r *http.Request) string {
	peer := clientIP(r)
	if !rl.isTrusted(peer) {
		return peer
	}

	hops := strings.Split(r.Header.Get("X-Forwarded-For"), ",")
	for i := len(hops) - 1; i >= 0; i-- {
		hop := strings.TrimSpace(hops[i])
		addr, err := netip.ParseAddr(hop)
		if err != nil {
			// A malformed hop ends the trusted chain
			break
		}
		if !rl.isTrusted(hop) {
			return addr.Unmap().String()
		}
	}
	return peer
}

func (rl *RateLimiter) isTrusted(ip string) bool {
	if len(rl.trustedProxies) == 0 {
		return false
	}
	addr, err := netip.ParseAddr(ip)
	if err != nil {
		return false
	}
	addr = addr.Unmap()
	for _, prefix := range rl.trustedProxies {
		if prefix.Contains(addr) {
			return true
		}
	}
	return false
}

// clientIP returns the host of the direct peer
func clientIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
