package signal

import (
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/dkeye/voicehub/internal/domain"
)

// UserRateLimiter is a sliding-window limiter over inbound messages per user.
type UserRateLimiter struct {
	mu       sync.Mutex
	history  map[domain.UserID][]time.Time
	limit    int
	interval time.Duration
	clock    clock.Clock
}

func NewUserRateLimiter(limit int, interval time.Duration, clk clock.Clock) *UserRateLimiter {
	if clk == nil {
		clk = clock.New()
	}
	return &UserRateLimiter{
		history:  make(map[domain.UserID][]time.Time),
		limit:    limit,
		interval: interval,
		clock:    clk,
	}
}

// Allow records an attempt and reports whether it fits in the window.
// A non-positive limit disables limiting.
func (rl *UserRateLimiter) Allow(uid domain.UserID) bool {
	if rl.limit <= 0 {
		return true
	}
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := rl.clock.Now()
	windowStart := now.Add(-rl.interval)

	attempts := rl.history[uid]
	fresh := attempts[:0]
	for _, t := range attempts {
		if t.After(windowStart) {
			fresh = append(fresh, t)
		}
	}

	if len(fresh) >= rl.limit {
		rl.history[uid] = fresh
		return false
	}

	rl.history[uid] = append(fresh, now)
	return true
}

// Forget drops the history of uid.
func (rl *UserRateLimiter) Forget(uid domain.UserID) {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	delete(rl.history, uid)
}
