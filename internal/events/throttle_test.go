package events

import (
	"testing"
	"time"
)

type captureSink struct {
	events []Event
}

func (c *captureSink) Emit(ev Event) {
	c.events = append(c.events, ev)
}

func TestThrottleSuppressesRepeatsPerTypeAndMarket(t *testing.T) {
	inner := &captureSink{}
	th := NewThrottle(inner, map[Type]time.Duration{
		ActionSkipped: 5 * time.Second,
	})
	base := time.Unix(1000, 0)

	th.Emit(Event{Type: ActionSkipped, MarketID: "a", At: base})
	th.Emit(Event{Type: ActionSkipped, MarketID: "a", At: base.Add(time.Second)})
	th.Emit(Event{Type: ActionSkipped, MarketID: "a", At: base.Add(6 * time.Second)})
	if len(inner.events) != 2 {
		t.Fatalf("expected 2 forwarded events, got %d", len(inner.events))
	}

	// A different market has its own window.
	th.Emit(Event{Type: ActionSkipped, MarketID: "b", At: base.Add(time.Second)})
	if len(inner.events) != 3 {
		t.Fatalf("expected per-market throttling, got %d", len(inner.events))
	}
}

func TestThrottlePassesUnconfiguredTypes(t *testing.T) {
	inner := &captureSink{}
	th := NewThrottle(inner, map[Type]time.Duration{
		ActionSkipped: 5 * time.Second,
	})
	base := time.Unix(1000, 0)

	th.Emit(Event{Type: EmergencyUnwindStart, MarketID: "a", At: base})
	th.Emit(Event{Type: EmergencyUnwindStart, MarketID: "a", At: base})
	if len(inner.events) != 2 {
		t.Fatalf("unconfigured types must pass through, got %d", len(inner.events))
	}
}
