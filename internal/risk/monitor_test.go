package risk

import (
	"testing"
	"time"

	"pm-updown-bot/internal/config"
	"pm-updown-bot/internal/ledger"
)

func riskConfig() config.RiskConfig {
	return config.RiskConfig{
		NotionalThresholdUSD:    50,
		AgeThreshold:            45 * time.Second,
		ScoreThreshold:          1500,
		CPPEmergencyThreshold:   1.05,
		CPPImplausibleThreshold: 2.0,
		HardSkewCap:             0.95,
		SkewAgeEmergency:        120 * time.Second,
		MaxEmergency:            5 * time.Minute,
		EmergencyCooldown:       3 * time.Minute,
	}
}

func pairedLedger(upCost, downCost float64) *ledger.Ledger {
	l := ledger.New("mkt", time.Unix(0, 0))
	l.ApplyBuy(ledger.SideUp, 10, upCost)
	l.ApplyBuy(ledger.SideDown, 10, downCost)
	return l
}

func TestDegradedEntryByNotionalAndAge(t *testing.T) {
	m := NewMonitor(riskConfig(), "mkt")
	base := time.Unix(1000, 0)
	l := ledger.New("mkt", base)
	l.ApplyBuy(ledger.SideUp, 100, 60) // unpaired notional 60

	a := m.Evaluate(Input{Ledger: l, HedgeFeasible: true, Now: base})
	if a.Degraded {
		t.Fatalf("degraded before age threshold")
	}
	a = m.Evaluate(Input{Ledger: l, HedgeFeasible: true, Now: base.Add(time.Minute)})
	if !a.DegradedEntered || !a.Degraded {
		t.Fatalf("expected degraded entry, got %+v", a)
	}
	// Second tick in the same condition must not re-fire the edge.
	a = m.Evaluate(Input{Ledger: l, HedgeFeasible: true, Now: base.Add(2 * time.Minute)})
	if a.DegradedEntered {
		t.Fatalf("degraded entry edge fired twice")
	}
}

func TestDegradedEntryByScoreWhenHedgeInfeasible(t *testing.T) {
	m := NewMonitor(riskConfig(), "mkt")
	base := time.Unix(1000, 0)
	l := ledger.New("mkt", base)
	l.ApplyBuy(ledger.SideUp, 100, 40) // notional 40, below the threshold

	m.Evaluate(Input{Ledger: l, HedgeFeasible: false, Now: base})
	// 40 USD * 40s = 1600 >= 1500 score.
	a := m.Evaluate(Input{Ledger: l, HedgeFeasible: false, Now: base.Add(40 * time.Second)})
	if !a.Degraded {
		t.Fatalf("expected degraded by risk score, score=%f", a.InventoryRiskScore)
	}
}

func TestDegradedExitRequiresRecoveryOrFlat(t *testing.T) {
	m := NewMonitor(riskConfig(), "mkt")
	base := time.Unix(1000, 0)
	l := ledger.New("mkt", base)
	l.ApplyBuy(ledger.SideUp, 100, 60)

	m.Evaluate(Input{Ledger: l, HedgeFeasible: true, Now: base})
	a := m.Evaluate(Input{Ledger: l, HedgeFeasible: true, Now: base.Add(time.Minute)})
	if !a.Degraded {
		t.Fatalf("setup: expected degraded")
	}

	// Still above half the threshold: stays degraded even when feasible.
	a = m.Evaluate(Input{Ledger: l, HedgeFeasible: true, Now: base.Add(2 * time.Minute)})
	if a.DegradedExited || !a.Degraded {
		t.Fatalf("degraded exited too early")
	}

	// Hedge most of it away: notional drops under 0.5 * threshold.
	l.ApplyBuy(ledger.SideDown, 70, 20)
	a = m.Evaluate(Input{Ledger: l, HedgeFeasible: true, Now: base.Add(3 * time.Minute)})
	if !a.DegradedExited || a.Degraded {
		t.Fatalf("expected degraded exit, got %+v", a)
	}
}

func TestQueueStressEdges(t *testing.T) {
	m := NewMonitor(riskConfig(), "mkt")
	now := time.Unix(1000, 0)
	l := ledger.New("mkt", now)

	a := m.Evaluate(Input{Ledger: l, HedgeFeasible: true, PendingIntents: 2, Now: now})
	if !a.QueueStressBegan || !a.QueueStress {
		t.Fatalf("expected queue stress begin")
	}
	a = m.Evaluate(Input{Ledger: l, HedgeFeasible: true, PendingIntents: 1, Now: now.Add(time.Second)})
	if !a.QueueStressEnded || a.QueueStress {
		t.Fatalf("expected queue stress end")
	}
}

func TestEmergencyByCostPerPair(t *testing.T) {
	m := NewMonitor(riskConfig(), "mkt")
	now := time.Unix(1000, 0)
	l := pairedLedger(5.5, 5.2) // cpp 1.07

	a := m.Evaluate(Input{Ledger: l, HedgeFeasible: true, Now: now})
	if !a.EmergencyStarted || !a.EmergencyActive {
		t.Fatalf("expected cpp emergency, cpp=%f", a.CostPerPair)
	}
	if a.CPPImplausible {
		t.Fatalf("implausible flag must not fire on a real emergency")
	}
}

func TestCPPNeverTriggersWithoutPairedShares(t *testing.T) {
	m := NewMonitor(riskConfig(), "mkt")
	now := time.Unix(1000, 0)
	// One-sided entry at a high per-share price: up=5 shares, down=0.
	// CPP is undefined here and must not fire an emergency.
	l := ledger.New("mkt", now)
	l.ApplyBuy(ledger.SideUp, 5, 6)

	a := m.Evaluate(Input{Ledger: l, HedgeFeasible: true, Now: now})
	if a.EmergencyActive || a.EmergencyStarted {
		t.Fatalf("cpp emergency fired with zero paired shares")
	}
	if a.CPPImplausible {
		t.Fatalf("cpp implausible fired with zero paired shares")
	}
	if a.CostPerPair != 0 {
		t.Fatalf("cpp should be reported as 0 without pairs, got %f", a.CostPerPair)
	}
}

func TestImplausibleCPPFreezesInsteadOfEmergency(t *testing.T) {
	cfg := riskConfig()
	m := NewMonitor(cfg, "mkt")
	now := time.Unix(1000, 0)
	l := pairedLedger(15, 10) // cpp 2.5, way out of range

	a := m.Evaluate(Input{Ledger: l, HedgeFeasible: true, Now: now})
	if !a.CPPImplausible {
		t.Fatalf("expected implausible cpp flag")
	}
	if a.EmergencyStarted || a.EmergencyActive {
		t.Fatalf("implausible cpp must never start an emergency")
	}
	if got := m.FreezeUntil(); !got.Equal(now.Add(cfg.EmergencyCooldown)) {
		t.Fatalf("expected entry freeze until cooldown, got %v", got)
	}
	if dec := m.Allow(ActionEntry, now.Add(time.Minute)); dec.Allowed || dec.Reason != ReasonEntryFrozen {
		t.Fatalf("expected frozen entries, got %+v", dec)
	}
	if dec := m.Allow(ActionEntry, now.Add(cfg.EmergencyCooldown).Add(time.Second)); !dec.Allowed {
		t.Fatalf("freeze should expire, got %+v", dec)
	}
}

func TestImplausibleCPPSuppressesSkewEmergency(t *testing.T) {
	cfg := riskConfig()
	m := NewMonitor(cfg, "mkt")
	base := time.Unix(1000, 0)

	// Heavily skewed AND a garbage cost basis: cpp 2.4 > 2.0 with skew
	// 100/101 >= 0.95. The skew alone would trigger once the age passes.
	l := ledger.New("mkt", base)
	l.ApplyBuy(ledger.SideUp, 100, 150) // avg 1.5
	l.ApplyBuy(ledger.SideDown, 1, 0.9) // avg 0.9

	m.Evaluate(Input{Ledger: l, MidPrice: 0.5, Now: base})
	a := m.Evaluate(Input{Ledger: l, MidPrice: 0.5, Now: base.Add(130 * time.Second)})
	if !a.CPPImplausible {
		t.Fatalf("expected implausible cpp flag, got %+v", a)
	}
	if a.EmergencyStarted || a.EmergencyActive {
		t.Fatalf("implausible cpp and emergency start must be mutually exclusive, got %+v", a)
	}
	if !a.FrozenEntries {
		t.Fatalf("expected frozen entries, got %+v", a)
	}
}

func TestEmergencyBySkewWorksWithZeroPairs(t *testing.T) {
	m := NewMonitor(riskConfig(), "mkt")
	base := time.Unix(1000, 0)
	l := ledger.New("mkt", base)
	l.ApplyBuy(ledger.SideUp, 100, 50)

	m.Evaluate(Input{Ledger: l, HedgeFeasible: true, Now: base})
	a := m.Evaluate(Input{Ledger: l, HedgeFeasible: true, Now: base.Add(121 * time.Second)})
	if !a.EmergencyStarted {
		t.Fatalf("expected skew emergency, skew=%f age=%s", a.SkewRatio, a.UnpairedAge)
	}
}

func TestEmergencyExitOnImprovementSetsCooldown(t *testing.T) {
	cfg := riskConfig()
	m := NewMonitor(cfg, "mkt")
	now := time.Unix(1000, 0)
	l := pairedLedger(5.5, 5.2)

	m.Evaluate(Input{Ledger: l, HedgeFeasible: true, Now: now})

	// CPP back in range.
	improved := pairedLedger(5.0, 4.8)
	a := m.Evaluate(Input{Ledger: improved, HedgeFeasible: true, Now: now.Add(time.Minute)})
	if !a.EmergencyEnded || a.EmergencyTimedOut {
		t.Fatalf("expected clean emergency end, got %+v", a)
	}
	dec := m.Allow(ActionEntry, now.Add(2*time.Minute))
	if dec.Allowed || dec.Reason != ReasonEmergencyCooldown {
		t.Fatalf("expected cooldown to block entries, got %+v", dec)
	}
}

func TestEmergencyTimesOut(t *testing.T) {
	cfg := riskConfig()
	m := NewMonitor(cfg, "mkt")
	now := time.Unix(1000, 0)
	l := pairedLedger(5.5, 5.2)

	m.Evaluate(Input{Ledger: l, HedgeFeasible: true, Now: now})
	a := m.Evaluate(Input{Ledger: l, HedgeFeasible: true, Now: now.Add(cfg.MaxEmergency)})
	if !a.EmergencyEnded || !a.EmergencyTimedOut {
		t.Fatalf("expected timed-out emergency end, got %+v", a)
	}
}

func TestUnpairedAgeAnchorResets(t *testing.T) {
	m := NewMonitor(riskConfig(), "mkt")
	base := time.Unix(1000, 0)
	l := ledger.New("mkt", base)
	l.ApplyBuy(ledger.SideUp, 10, 5)

	m.Evaluate(Input{Ledger: l, HedgeFeasible: true, Now: base})
	a := m.Evaluate(Input{Ledger: l, HedgeFeasible: true, Now: base.Add(30 * time.Second)})
	if a.UnpairedAge != 30*time.Second {
		t.Fatalf("expected 30s age, got %s", a.UnpairedAge)
	}

	// Fully hedge, then re-open: the age anchor must restart.
	l.ApplyBuy(ledger.SideDown, 10, 5)
	m.Evaluate(Input{Ledger: l, HedgeFeasible: true, Now: base.Add(time.Minute)})
	l.ApplyBuy(ledger.SideUp, 5, 2.5)
	a = m.Evaluate(Input{Ledger: l, HedgeFeasible: true, Now: base.Add(2 * time.Minute)})
	if a.UnpairedAge != 0 {
		t.Fatalf("expected fresh age anchor, got %s", a.UnpairedAge)
	}
}
