package ledger

import (
	"testing"
	"time"

	"pm-updown-bot/internal/config"
)

func classifierConfig() config.RiskConfig {
	return config.RiskConfig{
		RebalanceThreshold:  0.2,
		DeepDislocationAsk:  0.9,
		UnwindTimeRemaining: 90 * time.Second,
		HedgeLagTimeout:     2 * time.Minute,
		NoLiquidityStreak:   5,
	}
}

func TestClassifyFlat(t *testing.T) {
	l := New("mkt", time.Now())
	if got := Classify(classifierConfig(), l, Observation{}); got != StateFlat {
		t.Fatalf("expected FLAT, got %s", got)
	}
}

func TestClassifyOneSided(t *testing.T) {
	l := New("mkt", time.Now())
	l.ApplyBuy(SideUp, 10, 5)
	if got := Classify(classifierConfig(), l, Observation{}); got != StateOneSided {
		t.Fatalf("expected ONE_SIDED, got %s", got)
	}
}

func TestClassifyHedgedAndSkewed(t *testing.T) {
	cfg := classifierConfig()
	l := New("mkt", time.Now())
	l.ApplyBuy(SideUp, 10, 5)
	l.ApplyBuy(SideDown, 9, 4)
	if got := Classify(cfg, l, Observation{}); got != StateHedged {
		t.Fatalf("expected HEDGED, got %s", got)
	}

	l.ApplyBuy(SideUp, 30, 15)
	if got := Classify(cfg, l, Observation{}); got != StateSkewed {
		t.Fatalf("expected SKEWED, got %s", got)
	}
}

func TestClassifyDeepDislocation(t *testing.T) {
	l := New("mkt", time.Now())
	l.ApplyBuy(SideUp, 10, 5)
	l.ApplyBuy(SideDown, 10, 4)
	obs := Observation{CombinedAsk: 0.85, HasCombinedAsk: true}
	if got := Classify(classifierConfig(), l, obs); got != StateDeepDislocation {
		t.Fatalf("expected DEEP_DISLOCATION, got %s", got)
	}
}

func TestClassifyForcedUnwind(t *testing.T) {
	cfg := classifierConfig()
	l := New("mkt", time.Now())
	l.ApplyBuy(SideUp, 10, 5)
	l.ApplyBuy(SideDown, 10, 4)

	obs := Observation{TimeRemaining: 60 * time.Second, HasTimeRemaining: true}
	if got := Classify(cfg, l, obs); got != StateUnwind {
		t.Fatalf("expected UNWIND near expiry, got %s", got)
	}

	obs = Observation{HedgeLag: 3 * time.Minute}
	if got := Classify(cfg, l, obs); got != StateUnwind {
		t.Fatalf("expected UNWIND on hedge lag, got %s", got)
	}

	obs = Observation{NoLiquidityStreak: 5}
	if got := Classify(cfg, l, obs); got != StateUnwind {
		t.Fatalf("expected UNWIND on liquidity streak, got %s", got)
	}
}

func TestClassifyUnwindNeverFiresWhenFlat(t *testing.T) {
	l := New("mkt", time.Now())
	obs := Observation{TimeRemaining: time.Second, HasTimeRemaining: true, NoLiquidityStreak: 10}
	if got := Classify(classifierConfig(), l, obs); got != StateFlat {
		t.Fatalf("expected FLAT, got %s", got)
	}
}
