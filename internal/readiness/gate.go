package readiness

import (
	"sync"
	"time"

	"pm-updown-bot/internal/config"
)

type Reason string

const (
	ReasonNone         Reason = ""
	ReasonUpNotReady   Reason = "UP_NOT_READY"
	ReasonDownNotReady Reason = "DOWN_NOT_READY"
	ReasonBothNotReady Reason = "BOTH_SIDES_NOT_READY"
	ReasonNoOrderbook  Reason = "NO_ORDERBOOK"
	ReasonDisabled     Reason = "MARKET_DISABLED"
)

// SideBook is what the gate needs from one side's book snapshot: whether
// any price level exists and when the snapshot was taken.
type SideBook struct {
	HasPrice bool
	Taken    time.Time
}

type Status struct {
	UpReady   bool
	DownReady bool
	Ready     bool
	Disabled  bool
	Reason    Reason
	// DisabledNow fires on the single tick the gate disables the market.
	DisabledNow bool
}

// Gate decides whether a market's book is fresh and complete enough to
// trade. Once it disables a market the decision is terminal until Reset.
type Gate struct {
	cfg    config.ReadinessConfig
	market string

	mu        sync.Mutex
	openedAt  time.Time
	lastReady time.Time
	disabled  bool
}

func NewGate(cfg config.ReadinessConfig, market string, openedAt time.Time) *Gate {
	return &Gate{cfg: cfg, market: market, openedAt: openedAt, lastReady: openedAt}
}

func (g *Gate) Evaluate(up, down SideBook, now time.Time) Status {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.disabled {
		return Status{Disabled: true, Reason: ReasonDisabled}
	}

	upReady := g.sideReady(up, now)
	downReady := g.sideReady(down, now)
	st := Status{UpReady: upReady, DownReady: downReady}

	if upReady && downReady {
		st.Ready = true
		g.lastReady = now
		return st
	}
	switch {
	case !upReady && !downReady:
		st.Reason = ReasonBothNotReady
	case !upReady:
		st.Reason = ReasonUpNotReady
	default:
		st.Reason = ReasonDownNotReady
	}
	if now.Sub(g.lastReady) > g.cfg.DisableTimeout {
		g.disabled = true
		st.Disabled = true
		st.DisabledNow = true
		st.Reason = ReasonNoOrderbook
	}
	return st
}

func (g *Gate) sideReady(side SideBook, now time.Time) bool {
	if !side.HasPrice {
		return false
	}
	return now.Sub(side.Taken) < g.cfg.Freshness
}

func (g *Gate) Disabled() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.disabled
}

// Reset clears a terminal disable, e.g. at market rollover.
func (g *Gate) Reset(openedAt time.Time) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.disabled = false
	g.openedAt = openedAt
	g.lastReady = openedAt
}
