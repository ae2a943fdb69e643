package auth

import (
	"net"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// IPLimiter is a per-IP continuous-refill token bucket, one bucket per
// client address, grounded on original_source/src/rate_limiter.rs's
// governor::RateLimiter-per-IP design (dashmap-backed there, a plain
// mutex-guarded map here). Unlike the teacher's own
// exponential-backoff-on-failed-attempts limiter, a request either has a
// token or it doesn't — there's no distinction between failed and
// successful attempts, and no explicit "record" call is needed.
type IPLimiter struct {
	mu       sync.Mutex
	perMin   int
	buckets  map[string]*rate.Limiter
	lastSeen map[string]time.Time
}

// NewIPLimiter creates a limiter that allows perMin requests per minute per
// IP, refilling continuously (not in a fixed window).
func NewIPLimiter(perMin int) *IPLimiter {
	return &IPLimiter{
		perMin:   perMin,
		buckets:  make(map[string]*rate.Limiter),
		lastSeen: make(map[string]time.Time),
	}
}

// Allow reports whether ip has a token available right now, consuming one
// if so. Wait-free: never blocks.
func (l *IPLimiter) Allow(ip string) bool {
	l.mu.Lock()
	b, ok := l.buckets[ip]
	if !ok {
		// Burst equals the per-minute quota so a client can spend its
		// whole budget immediately, then must wait for refill — matching
		// governor's Quota::per_minute semantics.
		b = rate.NewLimiter(rate.Limit(float64(l.perMin)/60.0), l.perMin)
		l.buckets[ip] = b
	}
	l.lastSeen[ip] = time.Now()
	l.mu.Unlock()

	return b.Allow()
}

// Sweep drops buckets for IPs that haven't been seen in longer than idle,
// bounding memory growth when called. The broadcast scheduler does not
// call it; its periodic sweep covers only the settings cache.
func (l *IPLimiter) Sweep(idle time.Duration) {
	l.mu.Lock()
	defer l.mu.Unlock()
	cutoff := time.Now().Add(-idle)
	for ip, seen := range l.lastSeen {
		if seen.Before(cutoff) {
			delete(l.buckets, ip)
			delete(l.lastSeen, ip)
		}
	}
}

// ClientIP extracts the bare IP from a RemoteAddr-style "host:port" string
// (or a forwarded-for value), falling back to the input unchanged if it
// isn't in host:port form.
func ClientIP(remoteAddr string) string {
	host, _, err := net.SplitHostPort(remoteAddr)
	if err != nil {
		return remoteAddr
	}
	return host
}

// Rate limiter tiers per spec §4.5: 20/min for login attempts, 30/min for
// 2FA verification attempts.
const (
	LoginPerMinute = 20
	TwoFAPerMinute = 30
)

// Limiters bundles the rate limiter tiers a session needs, mirroring
// original_source/src/rate_limiter.rs's RateLimiters singleton.
type Limiters struct {
	Login *IPLimiter
	TwoFA *IPLimiter
}

// NewLimiters constructs the standard tier set.
func NewLimiters() *Limiters {
	return &Limiters{
		Login: NewIPLimiter(LoginPerMinute),
		TwoFA: NewIPLimiter(TwoFAPerMinute),
	}
}

// Sweep prunes idle entries from every tier.
func (l *Limiters) Sweep(idle time.Duration) {
	l.Login.Sweep(idle)
	l.TwoFA.Sweep(idle)
}
