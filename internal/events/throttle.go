package events

import (
	"sync"
	"time"
)

type throttleKey struct {
	typ    Type
	market string
}

// Throttle limits how often configured event types are forwarded per
// market, so sustained blocking cannot turn into a log storm. Types
// without a configured interval pass through untouched.
type Throttle struct {
	sink      Sink
	intervals map[Type]time.Duration

	mu   sync.Mutex
	last map[throttleKey]time.Time
}

func NewThrottle(sink Sink, intervals map[Type]time.Duration) *Throttle {
	return &Throttle{
		sink:      sink,
		intervals: intervals,
		last:      make(map[throttleKey]time.Time),
	}
}

func (t *Throttle) Emit(ev Event) {
	interval, ok := t.intervals[ev.Type]
	if !ok || interval <= 0 {
		t.sink.Emit(ev)
		return
	}
	now := ev.At
	if now.IsZero() {
		now = time.Now()
	}
	key := throttleKey{typ: ev.Type, market: ev.MarketID}
	t.mu.Lock()
	if last, seen := t.last[key]; seen && now.Sub(last) < interval {
		t.mu.Unlock()
		return
	}
	t.last[key] = now
	t.mu.Unlock()
	t.sink.Emit(ev)
}
