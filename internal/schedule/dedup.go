package schedule

import (
	"sync"
	"time"
)

// Dedup drops a value whose key matches the previously accepted value when
// the two are less than window apart. Only the last accepted value is
// remembered.
type Dedup[K comparable] struct {
	window time.Duration
	mu     sync.Mutex
	seen   bool
	key    K
	at     time.Time
}

func NewDedup[K comparable](window time.Duration) *Dedup[K] {
	return &Dedup[K]{window: window}
}

// Accept reports whether the value keyed by key and observed at at should
// be kept, and remembers it if so.
func (d *Dedup[K]) Accept(key K, at time.Time) bool {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.seen && d.key == key {
		diff := at.Sub(d.at)
		if diff < 0 {
			diff = -diff
		}
		if diff < d.window {
			return false
		}
	}

	d.seen = true
	d.key = key
	d.at = at
	return true
}
