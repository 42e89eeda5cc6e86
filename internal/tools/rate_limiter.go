package tools

import (
	"fmt"
	"sync"
	"time"
)

// ToolRateLimiter caps tool calls per capture session over a sliding
// window. Sessions are independent, so a runaway analysis loop on one
// capture cannot starve the others.
type ToolRateLimiter struct {
	mu     sync.Mutex
	calls  map[string][]time.Time // session ID -> call times, oldest first
	limit  int
	window time.Duration
}

// NewToolRateLimiter returns a limiter allowing limit calls per session
// per hour. A limit of zero or less disables limiting (nil limiter).
func NewToolRateLimiter(limit int) *ToolRateLimiter {
	if limit <= 0 {
		return nil
	}
	return &ToolRateLimiter{
		calls:  make(map[string][]time.Time),
		limit:  limit,
		window: time.Hour,
	}
}

// Allow records a call for the session if it fits the window, or
// returns an error describing the limit.
func (rl *ToolRateLimiter) Allow(sessionID string) error {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := time.Now()
	recent := pruneBefore(rl.calls[sessionID], now.Add(-rl.window))
	if len(recent) >= rl.limit {
		return fmt.Errorf("session %s exceeded %d tool calls per hour", sessionID, rl.limit)
	}
	rl.calls[sessionID] = append(recent, now)
	return nil
}

// Cleanup drops sessions whose every call has aged out of the window.
// Call periodically to keep idle sessions from accumulating.
func (rl *ToolRateLimiter) Cleanup() {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	cutoff := time.Now().Add(-rl.window)
	for id, ts := range rl.calls {
		if recent := pruneBefore(ts, cutoff); len(recent) == 0 {
			delete(rl.calls, id)
		} else {
			rl.calls[id] = recent
		}
	}
}

func pruneBefore(ts []time.Time, cutoff time.Time) []time.Time {
	i := 0
	for i < len(ts) && ts[i].Before(cutoff) {
		i++
	}
	return ts[i:]
}
