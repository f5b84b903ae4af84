package intent

import (
	"sync"
	"time"

	"pm-updown-bot/internal/ledger"
)

type Kind string

const (
	KindEntry Kind = "ENTRY"
	KindHedge Kind = "HEDGE"
)

type Intent struct {
	Kind      Kind
	Side      ledger.Side
	Shares    float64
	Price     float64
	CreatedAt time.Time
}

// Slots bounds a market's queued trading intents to exactly two: one
// entry and one hedge. A newer intent of the same kind overwrites the
// older one rather than queuing behind it.
type Slots struct {
	mu    sync.Mutex
	entry *Intent
	hedge *Intent
}

func NewSlots() *Slots {
	return &Slots{}
}

func (s *Slots) SetPendingEntry(in Intent) {
	in.Kind = KindEntry
	s.mu.Lock()
	s.entry = &in
	s.mu.Unlock()
}

func (s *Slots) SetPendingHedge(in Intent) {
	in.Kind = KindHedge
	s.mu.Lock()
	s.hedge = &in
	s.mu.Unlock()
}

func (s *Slots) ClearEntrySlot() {
	s.mu.Lock()
	s.entry = nil
	s.mu.Unlock()
}

func (s *Slots) ClearHedgeSlot() {
	s.mu.Lock()
	s.hedge = nil
	s.mu.Unlock()
}

func (s *Slots) PendingEntry() (Intent, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.entry == nil {
		return Intent{}, false
	}
	return *s.entry, true
}

func (s *Slots) PendingHedge() (Intent, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.hedge == nil {
		return Intent{}, false
	}
	return *s.hedge, true
}

func (s *Slots) PendingIntentCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	if s.entry != nil {
		n++
	}
	if s.hedge != nil {
		n++
	}
	return n
}
