package risk

import "time"

type Action string

const (
	ActionEntry      Action = "ENTRY"
	ActionAccumulate Action = "ACCUMULATE"
	ActionHedge      Action = "HEDGE"
	ActionRebalance  Action = "REBALANCE"
	ActionUnwind     Action = "UNWIND"
	ActionCancel     Action = "CANCEL"
	ActionCancelAll  Action = "CANCEL_ALL"
)

type Reason string

const (
	ReasonNone              Reason = ""
	ReasonDegradedMode      Reason = "DEGRADED_MODE"
	ReasonQueueStress       Reason = "QUEUE_STRESS"
	ReasonSafetyBlock       Reason = "SAFETY_BLOCK"
	ReasonEmergencyActive   Reason = "EMERGENCY_UNWIND_ACTIVE"
	ReasonEmergencyCooldown Reason = "EMERGENCY_COOLDOWN"
	ReasonEntryFrozen       Reason = "ENTRY_FREEZE"
)

type Decision struct {
	Allowed bool
	Reason  Reason
}

func allow() Decision {
	return Decision{Allowed: true}
}

func deny(reason Reason) Decision {
	return Decision{Reason: reason}
}

func isNewRisk(action Action) bool {
	return action == ActionEntry || action == ActionAccumulate
}

func isRiskReducing(action Action) bool {
	switch action {
	case ActionHedge, ActionRebalance, ActionUnwind, ActionCancel, ActionCancelAll:
		return true
	}
	return false
}

// Allow gates an intended action against the market's current modes.
// Rejections fail closed with a specific reason; they are values, never
// errors. Priority: safety block over everything, then emergency, then
// degraded, then cooldown and freeze windows.
func (m *Monitor) Allow(action Action, now time.Time) Decision {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.safetyBlock.Active() {
		if action == ActionCancelAll {
			return allow()
		}
		return deny(ReasonSafetyBlock)
	}
	if m.emergency.Active() {
		if isRiskReducing(action) {
			return allow()
		}
		return deny(ReasonEmergencyActive)
	}
	if m.degraded.Active() {
		if isRiskReducing(action) {
			return allow()
		}
		return deny(ReasonDegradedMode)
	}
	if isNewRisk(action) {
		if now.Before(m.cooldownUntil) {
			return deny(ReasonEmergencyCooldown)
		}
		if now.Before(m.freezeUntil) {
			return deny(ReasonEntryFrozen)
		}
		if m.queueStress.Active() {
			return deny(ReasonQueueStress)
		}
	}
	return allow()
}
