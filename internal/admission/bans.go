package admission

import (
	"net"
	"sync"
)

// DefaultBanThreshold is the number of consecutive failed Hello
// authentications from one address before it is permanently banned for
// the lifetime of the process (spec §4.7).
const DefaultBanThreshold = 3

// BanTracker counts authentication failures per address and promotes an
// address to a permanent ban once it crosses the configured threshold.
// There is no expiry: a ban lasts until the process restarts, matching
// spec §4.7's "permanent for process lifetime" wording.
type BanTracker struct {
	mu        sync.Mutex
	failures  map[string]int
	banned    map[string]struct{}
	threshold int
}

func NewBanTracker(threshold int) *BanTracker {
	if threshold <= 0 {
		threshold = DefaultBanThreshold
	}
	return &BanTracker{
		failures:  make(map[string]int),
		banned:    make(map[string]struct{}),
		threshold: threshold,
	}
}

// IsBanned reports whether addr has already crossed the failure threshold.
func (b *BanTracker) IsBanned(addr net.Addr) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	_, ok := b.banned[hostOf(addr)]
	return ok
}

// RecordFailure increments addr's failure count and returns true if this
// failure pushed it over the threshold into a permanent ban.
func (b *BanTracker) RecordFailure(addr net.Addr) (nowBanned bool) {
	host := hostOf(addr)
	b.mu.Lock()
	defer b.mu.Unlock()
	b.failures[host]++
	if b.failures[host] >= b.threshold {
		if _, already := b.banned[host]; !already {
			b.banned[host] = struct{}{}
			return true
		}
	}
	return false
}

// RecordSuccess clears an address's failure count after a successful
// authentication. It does not lift an existing ban — once banned, always
// banned for the process lifetime.
func (b *BanTracker) RecordSuccess(addr net.Addr) {
	host := hostOf(addr)
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.failures, host)
}
