package progress

import (
	"sync"
	"time"
)

// Tracker wraps a total count and emits progress events through a
// Broadcaster as callers report incremental advancement (spec §4.3).
type Tracker struct {
	b         *Broadcaster
	eventType EventType
	total     int64

	mu      sync.Mutex
	current int64
	start   time.Time
}

// NewTracker creates a Tracker that emits eventType events (one of the
// *_progress enumeration values) through b, against total units of work.
func NewTracker(b *Broadcaster, eventType EventType, total int64) *Tracker {
	return &Tracker{b: b, eventType: eventType, total: total, start: time.Now()}
}

// Update advances the tracker to current and emits an event carrying the
// computed progress fraction, speed (units/sec), and estimated time
// remaining.
func (t *Tracker) Update(current int64, message string) {
	t.mu.Lock()
	t.current = current
	elapsed := time.Since(t.start).Seconds()
	t.mu.Unlock()

	var speed float64
	var eta time.Duration
	if elapsed > 0 {
		speed = float64(current) / elapsed
	}
	if speed > 0 && t.total > current {
		eta = time.Duration(float64(t.total-current) / speed * float64(time.Second))
	}

	var fraction float64
	if t.total > 0 {
		fraction = float64(current) / float64(t.total)
		if fraction > 1 {
			fraction = 1
		}
	}

	e := newEvent(t.eventType, message)
	e.Progress = fraction
	e.Current = current
	e.Total = t.total
	e.Speed = speed
	e.ETA = eta

	t.b.Broadcast(e)
}
