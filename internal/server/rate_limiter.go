// Package server implements a sliding-window rate limiter for per-session
// throttling of chat sends.
package server

import "time"

// rateLimiter remembers the send times inside the last window. It is owned
// by a single session and is not safe for concurrent use.
type rateLimiter struct {
	limit  int
	window time.Duration
	sends  []time.Time
	now    func() time.Time
}

func newRateLimiter(limit int, window time.Duration) *rateLimiter {
	if limit <= 0 {
		limit = 1
	}
	if window <= 0 {
		window = time.Second
	}
	return &rateLimiter{
		limit:  limit,
		window: window,
		sends:  make([]time.Time, 0, limit),
		now:    time.Now,
	}
}

// allow records a send and returns true, or returns false without recording
// when limit sends already fall inside the window.
func (rl *rateLimiter) allow() bool {
	now := rl.now()

	kept := rl.sends[:0]
	for _, t := range rl.sends {
		if now.Sub(t) < rl.window {
			kept = append(kept, t)
		}
	}
	rl.sends = kept

	if len(rl.sends) >= rl.limit {
		return false
	}
	rl.sends = append(rl.sends, now)
	return true
}
