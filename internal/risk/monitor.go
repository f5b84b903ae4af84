package risk

import (
	"sync"
	"time"

	"pm-updown-bot/internal/config"
	"pm-updown-bot/internal/ledger"
)

// Input is one tick's worth of observations for a market.
type Input struct {
	Ledger         *ledger.Ledger
	MidPrice       float64
	HedgeFeasible  bool
	PendingIntents int
	Now            time.Time
}

// Assessment is the recomputed risk picture plus the transition edges
// that fired during this evaluation. Edges fire at most once per
// transition so callers can log them exactly once.
type Assessment struct {
	UnpairedShares      float64
	UnpairedNotionalUSD float64
	UnpairedAge         time.Duration
	InventoryRiskScore  float64
	CostPerPair         float64
	HasPaired           bool
	SkewRatio           float64

	Degraded        bool
	QueueStress     bool
	EmergencyActive bool
	SafetyBlocked   bool
	FrozenEntries   bool

	DegradedEntered   bool
	DegradedExited    bool
	QueueStressBegan  bool
	QueueStressEnded  bool
	EmergencyStarted  bool
	EmergencyEnded    bool
	EmergencyTimedOut bool
	CPPImplausible    bool
}

// Monitor owns one market's risk state. All methods are safe for
// concurrent use, but the engine serializes calls per market anyway.
type Monitor struct {
	cfg    config.RiskConfig
	market string

	mu            sync.Mutex
	unpairedSince time.Time
	hasUnpaired   bool

	degraded    Dwell
	queueStress Dwell
	emergency   Dwell
	safetyBlock Dwell

	emergencyStartedAt time.Time
	cooldownUntil      time.Time
	freezeUntil        time.Time
}

func NewMonitor(cfg config.RiskConfig, market string) *Monitor {
	return &Monitor{cfg: cfg, market: market}
}

func (m *Monitor) Market() string {
	return m.market
}

// Evaluate recomputes unpaired exposure, age and score from the ledger,
// then advances the degraded, queue-stress and emergency modes. The only
// mutable carry-over between calls is the age anchor and mode state.
func (m *Monitor) Evaluate(in Input) Assessment {
	m.mu.Lock()
	defer m.mu.Unlock()

	l := in.Ledger
	now := in.Now

	var a Assessment
	a.UnpairedShares = l.UnpairedShares()
	a.UnpairedNotionalUSD = l.UnpairedNotionalUSD(in.MidPrice)
	a.HasPaired = l.PairedShares() > 0
	a.SkewRatio = l.SkewRatio()
	if a.HasPaired {
		a.CostPerPair = l.CostPerPair()
	}

	m.advanceAgeAnchor(a.UnpairedShares, now)
	if m.hasUnpaired {
		a.UnpairedAge = now.Sub(m.unpairedSince)
	}
	a.InventoryRiskScore = a.UnpairedNotionalUSD * a.UnpairedAge.Seconds()

	m.evalDegraded(&a, in, now)
	m.evalQueueStress(&a, in, now)
	m.evalEmergency(&a, now)

	a.SafetyBlocked = m.safetyBlock.Active()
	a.FrozenEntries = now.Before(m.freezeUntil)
	return a
}

func (m *Monitor) advanceAgeAnchor(unpaired float64, now time.Time) {
	if unpaired > 0 {
		if !m.hasUnpaired {
			m.hasUnpaired = true
			m.unpairedSince = now
		}
		return
	}
	m.hasUnpaired = false
}

func (m *Monitor) evalDegraded(a *Assessment, in Input, now time.Time) {
	cfg := m.cfg
	if m.degraded.Active() {
		exit := (in.HedgeFeasible && a.UnpairedNotionalUSD < 0.5*cfg.NotionalThresholdUSD) ||
			a.UnpairedNotionalUSD == 0
		if exit {
			a.DegradedExited = m.degraded.Exit(now)
		}
	} else {
		enter := (a.UnpairedNotionalUSD >= cfg.NotionalThresholdUSD && a.UnpairedAge >= cfg.AgeThreshold) ||
			(!in.HedgeFeasible && a.InventoryRiskScore >= cfg.ScoreThreshold)
		if enter {
			a.DegradedEntered = m.degraded.Enter(now)
		}
	}
	a.Degraded = m.degraded.Active()
}

func (m *Monitor) evalQueueStress(a *Assessment, in Input, now time.Time) {
	if in.PendingIntents >= 2 {
		a.QueueStressBegan = m.queueStress.Enter(now)
	} else if m.queueStress.Active() {
		a.QueueStressEnded = m.queueStress.Exit(now)
	}
	a.QueueStress = m.queueStress.Active()
}

func (m *Monitor) evalEmergency(a *Assessment, now time.Time) {
	cfg := m.cfg

	// The CPP checks run only on matched exposure. With zero paired
	// shares the metric is undefined and must never trigger anything.
	cppEmergency := false
	if a.HasPaired {
		if a.CostPerPair > cfg.CPPImplausibleThreshold {
			// A value this far out of range is more likely a unit or
			// calculation bug than a real position: freeze new entries
			// but do not place emergency orders on it.
			a.CPPImplausible = true
			m.freezeUntil = now.Add(cfg.EmergencyCooldown)
		} else if a.CostPerPair >= cfg.CPPEmergencyThreshold {
			cppEmergency = true
		}
	}

	skewEmergency := a.SkewRatio >= cfg.HardSkewCap && a.UnpairedAge > cfg.SkewAgeEmergency

	if m.emergency.Active() {
		elapsed := now.Sub(m.emergencyStartedAt)
		improved := !cppEmergency && !skewEmergency
		if elapsed >= cfg.MaxEmergency {
			a.EmergencyTimedOut = true
			a.EmergencyEnded = m.emergency.Exit(now)
			m.cooldownUntil = now.Add(cfg.EmergencyCooldown)
		} else if improved {
			a.EmergencyEnded = m.emergency.Exit(now)
			m.cooldownUntil = now.Add(cfg.EmergencyCooldown)
		}
	} else if (cppEmergency || skewEmergency) && !a.CPPImplausible {
		// An implausible cost basis poisons every number derived from the
		// ledger this tick, the skew ratio included. Never start an
		// emergency off an evaluation whose inputs were just declared
		// untrustworthy.
		if m.emergency.Enter(now) {
			a.EmergencyStarted = true
			m.emergencyStartedAt = now
		}
	}
	a.EmergencyActive = m.emergency.Active()
}

// SetSafetyBlock is the manual override surface; set by an external
// book-validity check or the operator, cleared the same way.
func (m *Monitor) SetSafetyBlock(active bool, now time.Time) (changed bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if active {
		return m.safetyBlock.Enter(now)
	}
	return m.safetyBlock.Exit(now)
}

func (m *Monitor) SafetyBlocked() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.safetyBlock.Active()
}

func (m *Monitor) CooldownUntil() time.Time {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.cooldownUntil
}

func (m *Monitor) FreezeUntil() time.Time {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.freezeUntil
}

// DegradedDwell reports total degraded time including the open session.
func (m *Monitor) DegradedDwell(now time.Time) time.Duration {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.degraded.Total(now)
}

func (m *Monitor) EmergencyDwell(now time.Time) time.Duration {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.emergency.Total(now)
}
