package ledger

import (
	"time"

	"pm-updown-bot/internal/config"
)

type PositionState string

const (
	StateFlat            PositionState = "FLAT"
	StateOneSided        PositionState = "ONE_SIDED"
	StateHedged          PositionState = "HEDGED"
	StateSkewed          PositionState = "SKEWED"
	StateDeepDislocation PositionState = "DEEP_DISLOCATION"
	StateUnwind          PositionState = "UNWIND"
)

// Observation carries the per-tick inputs the position classifier needs
// beyond the ledger itself.
type Observation struct {
	CombinedAsk       float64
	HasCombinedAsk    bool
	TimeRemaining     time.Duration
	HasTimeRemaining  bool
	HedgeLag          time.Duration
	NoLiquidityStreak int
}

// Classify derives the position state from the ledger each tick; nothing
// is persisted between calls.
func Classify(cfg config.RiskConfig, l *Ledger, obs Observation) PositionState {
	if forcedUnwind(cfg, l, obs) {
		return StateUnwind
	}
	switch {
	case l.IsFlat():
		return StateFlat
	case l.UpShares == 0 || l.DownShares == 0:
		return StateOneSided
	}
	if obs.HasCombinedAsk && obs.CombinedAsk <= cfg.DeepDislocationAsk {
		return StateDeepDislocation
	}
	skew := l.SkewRatio() - 0.5
	if skew < 0 {
		skew = -skew
	}
	if skew > cfg.RebalanceThreshold {
		return StateSkewed
	}
	return StateHedged
}

func forcedUnwind(cfg config.RiskConfig, l *Ledger, obs Observation) bool {
	if l.IsFlat() {
		return false
	}
	if obs.HasTimeRemaining && obs.TimeRemaining < cfg.UnwindTimeRemaining {
		return true
	}
	if obs.HedgeLag > cfg.HedgeLagTimeout {
		return true
	}
	if cfg.NoLiquidityStreak > 0 && obs.NoLiquidityStreak >= cfg.NoLiquidityStreak {
		return true
	}
	return false
}
