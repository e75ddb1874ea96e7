// Package admission implements the connection-gating checks in spec §4.7:
// per-address rate limiting, auth-failure tracking with a permanent ban
// set, and the server's token store.
package admission

import (
	"net"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

const (
	staleAfter   = 10 * time.Minute
	evictEvery   = 5 * time.Minute
)

// RateLimiter applies a token bucket per remote address, modeled directly
// on the per-IP limiter pattern: a map of lazily-created limiters guarded
// by a mutex, with a background goroutine evicting addresses that have
// gone quiet.
type RateLimiter struct {
	mu       sync.Mutex
	limiters map[string]*addrLimiter
	rate     rate.Limit
	burst    int
}

type addrLimiter struct {
	lim      *rate.Limiter
	lastSeen time.Time
}

// NewRateLimiter builds a limiter admitting reqPerSec sustained requests
// per address, with the given burst allowance.
func NewRateLimiter(reqPerSec float64, burst int) *RateLimiter {
	rl := &RateLimiter{
		limiters: make(map[string]*addrLimiter),
		rate:     rate.Limit(reqPerSec),
		burst:    burst,
	}
	go rl.evictLoop()
	return rl
}

func (rl *RateLimiter) evictLoop() {
	ticker := time.NewTicker(evictEvery)
	defer ticker.Stop()
	for range ticker.C {
		rl.mu.Lock()
		for addr, l := range rl.limiters {
			if time.Since(l.lastSeen) > staleAfter {
				delete(rl.limiters, addr)
			}
		}
		rl.mu.Unlock()
	}
}

func (rl *RateLimiter) getLimiter(addr string) *rate.Limiter {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	l, ok := rl.limiters[addr]
	if !ok {
		l = &addrLimiter{lim: rate.NewLimiter(rl.rate, rl.burst)}
		rl.limiters[addr] = l
	}
	l.lastSeen = time.Now()
	return l.lim
}

// Allow reports whether a new connection attempt from addr is within the
// admitted rate. addr is normalized to its host component when it carries
// a port, so repeated connections from the same client collapse to one
// bucket regardless of ephemeral source port.
func (rl *RateLimiter) Allow(addr net.Addr) bool {
	return rl.getLimiter(hostOf(addr)).Allow()
}

func hostOf(addr net.Addr) string {
	host, _, err := net.SplitHostPort(addr.String())
	if err != nil {
		return addr.String()
	}
	return host
}
