package events

import "time"

type Type string

const (
	DegradedModeEnter       Type = "DEGRADED_MODE_ENTER"
	DegradedModeExit        Type = "DEGRADED_MODE_EXIT"
	QueueStressEnter        Type = "QUEUE_STRESS_ENTER"
	QueueStressExit         Type = "QUEUE_STRESS_EXIT"
	SafetyBlockActive       Type = "SAFETY_BLOCK_ACTIVE"
	SafetyBlockCleared      Type = "SAFETY_BLOCK_CLEARED"
	EmergencyUnwindStart    Type = "EMERGENCY_UNWIND_START"
	EmergencyUnwindEnd      Type = "EMERGENCY_UNWIND_END"
	MarketDisabledNoBook    Type = "MARKET_DISABLED_NO_ORDERBOOK"
	ActionSkipped           Type = "ACTION_SKIPPED"
	GuardrailTriggered      Type = "GUARDRAIL_TRIGGERED"
	CircuitBreakerTriggered Type = "CIRCUIT_BREAKER_TRIGGERED"
	PositionSettled         Type = "POSITION_SETTLED"
	ImplausibleCostPerPair  Type = "CPP_IMPLAUSIBLE"
)

type Event struct {
	Type       Type           `json:"event_type"`
	MarketID   string         `json:"market_id"`
	Asset      string         `json:"asset,omitempty"`
	RunID      string         `json:"run_id,omitempty"`
	ReasonCode string         `json:"reason_code,omitempty"`
	Data       map[string]any `json:"data,omitempty"`
	At         time.Time      `json:"ts"`
}

// Sink accepts structured events best-effort: it never blocks the
// caller and never panics the caller. Failures are swallowed.
type Sink interface {
	Emit(Event)
}

type noopSink struct{}

func (noopSink) Emit(Event) {}

func NewNoop() Sink {
	return noopSink{}
}
