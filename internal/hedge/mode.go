package hedge

import (
	"time"

	"pm-updown-bot/internal/config"
)

type Mode string

const (
	ModeNormal    Mode = "NORMAL"
	ModeHighDelta Mode = "HIGH_DELTA_CRITICAL"
	ModeSurvival  Mode = "SURVIVAL"
	ModePanic     Mode = "PANIC"
)

// ModeFor derives urgency from the time left before the hedge deadline.
// High unpaired exposure upgrades the short window to the critical
// variant.
func ModeFor(cfg config.HedgeConfig, timeRemaining time.Duration, highDelta bool) Mode {
	switch {
	case timeRemaining <= cfg.PanicWindow:
		return ModePanic
	case timeRemaining <= cfg.SurvivalWindow:
		if highDelta {
			return ModeHighDelta
		}
		return ModeSurvival
	default:
		return ModeNormal
	}
}

func (m Mode) Urgent() bool {
	return m != ModeNormal
}

// PriceCeiling is the hard cap on escalated prices for the mode.
func PriceCeiling(cfg config.HedgeConfig, m Mode) float64 {
	switch m {
	case ModePanic:
		return cfg.PanicPriceCeiling
	case ModeSurvival, ModeHighDelta:
		return cfg.UrgentPriceCeiling
	default:
		return cfg.NormalPriceCeiling
	}
}
