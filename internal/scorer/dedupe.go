package scorer

import (
	"sync"
	"time"
)

// eventDedupe tracks recently-seen event ids so a redelivered event (NATS
// at-least-once delivery) does not fold the same reading into a baseline
// twice, when Scorer.DedupeByEventID is enabled.
type eventDedupe struct {
	mu   sync.Mutex
	seen map[string]time.Time
	ttl  time.Duration
}

func newEventDedupe(ttl time.Duration) *eventDedupe {
	if ttl <= 0 {
		ttl = 10 * time.Minute
	}
	return &eventDedupe{seen: make(map[string]time.Time), ttl: ttl}
}

// SeenBefore records eventID and reports whether it was already present
// and unexpired.
func (d *eventDedupe) SeenBefore(eventID string, now time.Time) bool {
	if eventID == "" {
		return false
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	if seenAt, ok := d.seen[eventID]; ok && now.Sub(seenAt) < d.ttl {
		return true
	}
	d.seen[eventID] = now

	if len(d.seen) > 10000 {
		for id, at := range d.seen {
			if now.Sub(at) > d.ttl {
				delete(d.seen, id)
			}
		}
	}
	return false
}
