package engine

import (
	"context"
	"sync"
	"time"

	"pm-updown-bot/internal/intent"
	"pm-updown-bot/internal/ledger"
	"pm-updown-bot/internal/readiness"
	"pm-updown-bot/internal/risk"
)

// MarketSpec identifies one binary market and its two outcome tokens.
type MarketSpec struct {
	ID          string
	Asset       string
	UpTokenID   string
	DownTokenID string
	OpenedAt    time.Time
	ClosesAt    time.Time
}

func (s MarketSpec) TokenFor(side ledger.Side) string {
	if side == ledger.SideDown {
		return s.DownTokenID
	}
	return s.UpTokenID
}

// Market is the per-market record: ledger, risk monitor, readiness gate
// and intent slots behind one mutex. All mutations go through this lock;
// gateway I/O runs outside it.
type Market struct {
	spec MarketSpec

	mu     sync.Mutex
	ledger *ledger.Ledger

	monitor *risk.Monitor
	gate    *readiness.Gate
	slots   *intent.Slots

	hedgeLagSince     time.Time
	noLiquidityStreak int
	lastState         ledger.PositionState

	// escalCancel stops an in-flight hedge escalation when the market
	// is disabled or safety-blocked mid-retry. hedgeInFlight keeps a
	// later tick from launching a second escalation while one runs.
	escalMu       sync.Mutex
	escalCancel   context.CancelFunc
	hedgeInFlight bool
}

func (m *Market) Spec() MarketSpec {
	return m.spec
}

func (m *Market) PositionState() ledger.PositionState {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.lastState
}

// LedgerSnapshot copies the ledger under the lock for read-only use.
func (m *Market) LedgerSnapshot() ledger.Ledger {
	m.mu.Lock()
	defer m.mu.Unlock()
	return *m.ledger
}

func (m *Market) hedgeLag(now time.Time) time.Duration {
	if m.hedgeLagSince.IsZero() {
		return 0
	}
	return now.Sub(m.hedgeLagSince)
}

// beginEscalation claims the single escalation slot. It fails when an
// earlier tick's escalation is still running.
func (m *Market) beginEscalation(cancel context.CancelFunc) bool {
	m.escalMu.Lock()
	defer m.escalMu.Unlock()
	if m.hedgeInFlight {
		return false
	}
	m.hedgeInFlight = true
	m.escalCancel = cancel
	return true
}

func (m *Market) endEscalation() {
	m.escalMu.Lock()
	m.hedgeInFlight = false
	m.escalCancel = nil
	m.escalMu.Unlock()
}

func (m *Market) cancelEscalation() {
	m.escalMu.Lock()
	cancel := m.escalCancel
	m.escalCancel = nil
	m.escalMu.Unlock()
	if cancel != nil {
		cancel()
	}
}
