package schedule

import (
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// Throttle accepts at most one event per interval. Rejected events do not
// push the next acceptance back.
type Throttle struct {
	clock    Clock
	interval time.Duration
	mu       sync.Mutex
	limiter  *rate.Limiter
}

func NewThrottle(clock Clock, interval time.Duration) *Throttle {
	if clock == nil {
		clock = SystemClock{}
	}

	return &Throttle{
		clock:    clock,
		interval: interval,
		limiter:  rate.NewLimiter(rate.Every(interval), 1),
	}
}

// Allow reports whether an event happening now is accepted, and records it
// if so.
func (t *Throttle) Allow() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.limiter.AllowN(t.clock.Now(), 1)
}

// Mark records an acceptance now regardless of the interval, so the next
// Allow succeeds only a full interval later.
func (t *Throttle) Mark() {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.limiter = rate.NewLimiter(rate.Every(t.interval), 1)
	t.limiter.AllowN(t.clock.Now(), 1)
}
