package ratelimit

import (
	"sync"
	"time"

	"pm-updown-bot/internal/config"
)

type Kind string

const (
	KindOrder   Kind = "ORDER"
	KindCancel  Kind = "CANCEL"
	KindReplace Kind = "REPLACE"
)

type Reason string

const (
	ReasonNone              Reason = ""
	ReasonMarketOrderLimit  Reason = "MARKET_ORDER_LIMIT"
	ReasonMarketCancelLimit Reason = "MARKET_CANCEL_LIMIT"
	ReasonGlobalOrderLimit  Reason = "GLOBAL_ORDER_LIMIT"
	ReasonGlobalCancelLimit Reason = "GLOBAL_CANCEL_LIMIT"
	ReasonMarketPaused      Reason = "MARKET_PAUSED"
	ReasonGlobalPaused      Reason = "GLOBAL_PAUSED"
	ReasonBreakerOpen       Reason = "CIRCUIT_BREAKER_OPEN"
)

type Decision struct {
	Allowed bool
	Reason  Reason
	Wait    time.Duration
}

const window = time.Minute

type event struct {
	kind Kind
	at   time.Time
}

type scope struct {
	events     []event
	pauseUntil time.Time
}

func (s *scope) prune(now time.Time) {
	cutoff := now.Add(-window)
	i := 0
	for ; i < len(s.events); i++ {
		if s.events[i].at.After(cutoff) {
			break
		}
	}
	if i > 0 {
		s.events = append(s.events[:0], s.events[i:]...)
	}
}

func (s *scope) count(kind Kind) int {
	n := 0
	for _, e := range s.events {
		if e.kind == kind {
			n++
		}
	}
	return n
}

// Limiter is shared by all markets: per-market and global rolling-minute
// windows plus a global circuit breaker fed by per-market consecutive
// failures. Exceeding a ceiling pauses the whole scope for a fixed
// duration rather than rejecting only the one call.
type Limiter struct {
	cfg config.RateLimitConfig

	mu      sync.Mutex
	markets map[string]*scope
	global  scope

	breakerOpen     bool
	breakerOpenedAt time.Time
	failures        map[string]int
}

func NewLimiter(cfg config.RateLimitConfig) *Limiter {
	return &Limiter{
		cfg:      cfg,
		markets:  make(map[string]*scope),
		failures: make(map[string]int),
	}
}

func (l *Limiter) market(id string) *scope {
	s, ok := l.markets[id]
	if !ok {
		s = &scope{}
		l.markets[id] = s
	}
	return s
}

// CheckAllowed gates one order/cancel/replace against the breaker, both
// pause windows and both rolling ceilings. Blocked decisions carry the
// wait until the relevant scope reopens.
func (l *Limiter) CheckAllowed(marketID string, kind Kind, now time.Time) Decision {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.breakerOpen {
		reopen := l.breakerOpenedAt.Add(l.cfg.BreakerReset)
		if now.Before(reopen) {
			return Decision{Reason: ReasonBreakerOpen, Wait: reopen.Sub(now)}
		}
		// Half-open: let calls through; the next recorded success
		// closes the breaker.
	}

	ms := l.market(marketID)
	if now.Before(ms.pauseUntil) {
		return Decision{Reason: ReasonMarketPaused, Wait: ms.pauseUntil.Sub(now)}
	}
	if now.Before(l.global.pauseUntil) {
		return Decision{Reason: ReasonGlobalPaused, Wait: l.global.pauseUntil.Sub(now)}
	}

	ms.prune(now)
	l.global.prune(now)

	if reason, ok := l.marketCeiling(ms, kind); ok {
		ms.pauseUntil = now.Add(l.cfg.MarketPause)
		ms.events = nil
		return Decision{Reason: reason, Wait: l.cfg.MarketPause}
	}
	if reason, ok := l.globalCeiling(kind); ok {
		l.global.pauseUntil = now.Add(l.cfg.GlobalPause)
		l.global.events = nil
		return Decision{Reason: reason, Wait: l.cfg.GlobalPause}
	}
	return Decision{Allowed: true}
}

func (l *Limiter) marketCeiling(s *scope, kind Kind) (Reason, bool) {
	switch kind {
	case KindOrder:
		if s.count(KindOrder) >= l.cfg.MaxOrdersPerMarketPerMinute {
			return ReasonMarketOrderLimit, true
		}
	case KindCancel, KindReplace:
		if s.count(KindCancel)+s.count(KindReplace) >= l.cfg.MaxCancelsPerMarketPerMinute {
			return ReasonMarketCancelLimit, true
		}
	}
	return ReasonNone, false
}

func (l *Limiter) globalCeiling(kind Kind) (Reason, bool) {
	switch kind {
	case KindOrder:
		if l.global.count(KindOrder) >= l.cfg.MaxOrdersGlobalPerMinute {
			return ReasonGlobalOrderLimit, true
		}
	case KindCancel, KindReplace:
		if l.global.count(KindCancel)+l.global.count(KindReplace) >= l.cfg.MaxCancelsGlobalPerMinute {
			return ReasonGlobalCancelLimit, true
		}
	}
	return ReasonNone, false
}

// Record notes an event that actually went out to the gateway.
func (l *Limiter) Record(marketID string, kind Kind, now time.Time) {
	l.mu.Lock()
	defer l.mu.Unlock()
	e := event{kind: kind, at: now}
	l.market(marketID).events = append(l.market(marketID).events, e)
	l.global.events = append(l.global.events, e)
}

// RecordFailure feeds the circuit breaker. Returns true on the call that
// trips the breaker so callers can log and alert exactly once.
func (l *Limiter) RecordFailure(marketID string, now time.Time) (tripped bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.failures[marketID]++
	if !l.breakerOpen && l.failures[marketID] >= l.cfg.BreakerFailures {
		l.breakerOpen = true
		l.breakerOpenedAt = now
		return true
	}
	return false
}

// RecordSuccess resets the market's failure streak and closes the
// breaker if it was half-open.
func (l *Limiter) RecordSuccess(marketID string, now time.Time) (closed bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.failures, marketID)
	if l.breakerOpen && !now.Before(l.breakerOpenedAt.Add(l.cfg.BreakerReset)) {
		l.breakerOpen = false
		l.failures = make(map[string]int)
		return true
	}
	return false
}

func (l *Limiter) BreakerOpen() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.breakerOpen
}

func (l *Limiter) ConsecutiveFailures(marketID string) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.failures[marketID]
}
