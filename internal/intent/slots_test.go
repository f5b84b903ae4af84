package intent

import (
	"testing"
	"time"

	"pm-updown-bot/internal/ledger"
)

func TestEntrySlotLastWriteWins(t *testing.T) {
	s := NewSlots()
	now := time.Unix(1000, 0)
	s.SetPendingEntry(Intent{Side: ledger.SideUp, Shares: 10, Price: 0.5, CreatedAt: now})
	s.SetPendingEntry(Intent{Side: ledger.SideDown, Shares: 20, Price: 0.4, CreatedAt: now.Add(time.Second)})

	in, ok := s.PendingEntry()
	if !ok {
		t.Fatalf("expected pending entry")
	}
	if in.Side != ledger.SideDown || in.Shares != 20 {
		t.Fatalf("newer intent did not overwrite older: %+v", in)
	}
	if in.Kind != KindEntry {
		t.Fatalf("kind not stamped: %s", in.Kind)
	}
	if s.PendingIntentCount() != 1 {
		t.Fatalf("expected one pending intent, got %d", s.PendingIntentCount())
	}
}

func TestSlotsAreIndependent(t *testing.T) {
	s := NewSlots()
	s.SetPendingEntry(Intent{Side: ledger.SideUp, Shares: 10})
	s.SetPendingHedge(Intent{Side: ledger.SideDown, Shares: 10})
	if s.PendingIntentCount() != 2 {
		t.Fatalf("expected two pending intents, got %d", s.PendingIntentCount())
	}

	s.ClearEntrySlot()
	if _, ok := s.PendingEntry(); ok {
		t.Fatalf("entry slot should be empty")
	}
	if _, ok := s.PendingHedge(); !ok {
		t.Fatalf("hedge slot must survive entry clear")
	}
	s.ClearHedgeSlot()
	if s.PendingIntentCount() != 0 {
		t.Fatalf("expected no pending intents")
	}
}

func TestPendingReturnsCopy(t *testing.T) {
	s := NewSlots()
	s.SetPendingHedge(Intent{Side: ledger.SideUp, Shares: 10})
	in, _ := s.PendingHedge()
	in.Shares = 99
	again, _ := s.PendingHedge()
	if again.Shares != 10 {
		t.Fatalf("caller mutation leaked into the slot: %f", again.Shares)
	}
}
