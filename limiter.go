package rpcrouter

import (
	"sync"
	"time"
)

// DefaultWindow is the sliding window used when none is configured.
const DefaultWindow = time.Second

// RateLimiter enforces a per-provider requests-per-window cap over a
// strict sliding window. Denied requests are not recorded, so a burst
// of rejections cannot extend the window.
type RateLimiter struct {
	mu      sync.Mutex
	window  time.Duration
	history map[string][]time.Time
}

// NewRateLimiter creates a RateLimiter with the given window. A window
// of zero or less falls back to DefaultWindow.
func NewRateLimiter(window time.Duration) *RateLimiter {
	if window <= 0 {
		window = DefaultWindow
	}
	return &RateLimiter{
		window:  window,
		history: make(map[string][]time.Time),
	}
}

// Allow reports whether the provider may dispatch now, recording the
// dispatch timestamp when permitted. A limit of zero or less means
// unlimited and records nothing.
func (l *RateLimiter) Allow(provider string, limitRPS int) bool {
	if limitRPS <= 0 {
		return true
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	now := time.Now()
	valid := l.prune(provider, now)
	if len(valid) >= limitRPS {
		l.history[provider] = valid
		return false
	}
	l.history[provider] = append(valid, now)
	return true
}

// Pending returns how many dispatches are still inside the window.
func (l *RateLimiter) Pending(provider string) int {
	l.mu.Lock()
	defer l.mu.Unlock()

	valid := l.prune(provider, time.Now())
	l.history[provider] = valid
	return len(valid)
}

// prune drops timestamps older than the window. Must be called with
// the lock held.
func (l *RateLimiter) prune(provider string, now time.Time) []time.Time {
	cutoff := now.Add(-l.window)
	history := l.history[provider]
	valid := history[:0]
	for _, t := range history {
		if t.After(cutoff) {
			valid = append(valid, t)
		}
	}
	return valid
}
