package engine

import (
	"context"
	"errors"
	"fmt"
	"time"

	"pm-updown-bot/internal/events"
	"pm-updown-bot/internal/feed"
	"pm-updown-bot/internal/gateway"
	"pm-updown-bot/internal/hedge"
	"pm-updown-bot/internal/intent"
	"pm-updown-bot/internal/ledger"
	"pm-updown-bot/internal/ratelimit"
	"pm-updown-bot/internal/readiness"
	"pm-updown-bot/internal/reserve"
	"pm-updown-bot/internal/risk"

	"go.uber.org/zap"
)

// evaluate is one market's tick: readiness, risk recomputation, mode
// transitions, then whatever pending intents the gates let through.
// The market lock is held only while reading and mutating local state;
// every gateway call happens outside it.
func (e *Engine) evaluate(ctx context.Context, m *Market, now time.Time) {
	spec := m.spec
	upBook, _ := e.books.Snapshot(spec.UpTokenID)
	downBook, _ := e.books.Snapshot(spec.DownTokenID)

	st := m.gate.Evaluate(sideBook(upBook), sideBook(downBook), now)
	if st.DisabledNow {
		m.cancelEscalation()
		e.metrics.MarketsDisabled.Inc()
		e.emit(events.Event{
			Type:       events.MarketDisabledNoBook,
			MarketID:   spec.ID,
			Asset:      spec.Asset,
			ReasonCode: string(st.Reason),
			At:         now,
		})
		e.log.Warn("market disabled: order book never became ready",
			zap.String("market_id", spec.ID),
			zap.Duration("timeout", e.cfg.Readiness.DisableTimeout),
		)
		return
	}
	if st.Disabled || !st.Ready {
		reason := st.Reason
		if st.Disabled {
			reason = readiness.ReasonDisabled
		}
		e.skip(m, risk.ActionEntry, string(reason), risk.Assessment{}, now)
		return
	}

	m.mu.Lock()
	led := *m.ledger
	pending := m.slots.PendingIntentCount()
	hedgeIntent, hasHedge := m.slots.PendingHedge()
	entryIntent, hasEntry := m.slots.PendingEntry()
	noLiqStreak := m.noLiquidityStreak
	lag := m.hedgeLag(now)
	m.mu.Unlock()

	feasible := hedgeFeasible(&led, upBook, downBook, e.cfg.Hedge.UrgentPriceCeiling)
	mid := dominantMid(&led, upBook, downBook)

	a := m.monitor.Evaluate(risk.Input{
		Ledger:         &led,
		MidPrice:       mid,
		HedgeFeasible:  feasible,
		PendingIntents: pending,
		Now:            now,
	})
	e.emitTransitions(m, a, now)

	obs := ledger.Observation{
		CombinedAsk:       upBook.BestAsk + downBook.BestAsk,
		HasCombinedAsk:    upBook.HasAsk && downBook.HasAsk,
		TimeRemaining:     spec.ClosesAt.Sub(now),
		HasTimeRemaining:  !spec.ClosesAt.IsZero(),
		HedgeLag:          lag,
		NoLiquidityStreak: noLiqStreak,
	}
	posState := ledger.Classify(e.cfg.Risk, &led, obs)
	m.mu.Lock()
	m.lastState = posState
	m.mu.Unlock()

	if a.EmergencyStarted || (posState == ledger.StateUnwind && led.UnpairedShares() > 0) {
		e.unwindExcess(ctx, m, &led, downBook, upBook, a, now)
	}
	if hasHedge {
		e.runHedge(ctx, m, hedgeIntent, a, now)
	}
	if hasEntry {
		e.tryEntry(ctx, m, entryIntent, a, now)
	}
}

// emitTransitions logs and emits mode changes exactly once, at the
// transition edge.
func (e *Engine) emitTransitions(m *Market, a risk.Assessment, now time.Time) {
	spec := m.spec
	keyMetrics := map[string]any{
		"unpaired_notional_usd": a.UnpairedNotionalUSD,
		"unpaired_age_sec":      a.UnpairedAge.Seconds(),
		"inventory_risk_score":  a.InventoryRiskScore,
		"cost_per_pair":         a.CostPerPair,
		"skew_ratio":            a.SkewRatio,
	}
	if a.DegradedEntered {
		e.metrics.DegradedEntered.Inc()
		e.emit(events.Event{Type: events.DegradedModeEnter, MarketID: spec.ID, Asset: spec.Asset, Data: keyMetrics, At: now})
		e.log.Warn("degraded mode entered", zap.String("market_id", spec.ID),
			zap.Float64("unpaired_notional_usd", a.UnpairedNotionalUSD),
			zap.Duration("unpaired_age", a.UnpairedAge))
	}
	if a.DegradedExited {
		e.emit(events.Event{Type: events.DegradedModeExit, MarketID: spec.ID, Asset: spec.Asset, Data: keyMetrics, At: now})
		e.log.Info("degraded mode exited", zap.String("market_id", spec.ID))
	}
	if a.QueueStressBegan {
		e.emit(events.Event{Type: events.QueueStressEnter, MarketID: spec.ID, Asset: spec.Asset, At: now})
	}
	if a.QueueStressEnded {
		e.emit(events.Event{Type: events.QueueStressExit, MarketID: spec.ID, Asset: spec.Asset, At: now})
	}
	if a.EmergencyStarted {
		e.metrics.EmergencyStarted.Inc()
		e.emit(events.Event{Type: events.EmergencyUnwindStart, MarketID: spec.ID, Asset: spec.Asset, Data: keyMetrics, At: now})
		e.log.Error("emergency unwind started", zap.String("market_id", spec.ID),
			zap.Float64("cost_per_pair", a.CostPerPair),
			zap.Float64("skew_ratio", a.SkewRatio))
	}
	if a.EmergencyEnded {
		e.emit(events.Event{
			Type: events.EmergencyUnwindEnd, MarketID: spec.ID, Asset: spec.Asset,
			Data: map[string]any{"timed_out": a.EmergencyTimedOut}, At: now,
		})
		e.log.Warn("emergency unwind ended", zap.String("market_id", spec.ID), zap.Bool("timed_out", a.EmergencyTimedOut))
	}
	if a.CPPImplausible {
		// Throttled by the sink; never acted on with orders.
		e.emit(events.Event{Type: events.ImplausibleCostPerPair, MarketID: spec.ID, Asset: spec.Asset, Data: keyMetrics, At: now})
	}
}

// tryEntry walks an entry intent through the gate chain and, if all of
// them pass, places the order and arms the hedge slot for the opposite
// side.
func (e *Engine) tryEntry(ctx context.Context, m *Market, in intent.Intent, a risk.Assessment, now time.Time) {
	spec := m.spec
	if dec := m.monitor.Allow(risk.ActionEntry, now); !dec.Allowed {
		e.skip(m, risk.ActionEntry, string(dec.Reason), a, now)
		return
	}
	if dec := e.limiter.CheckAllowed(spec.ID, ratelimit.KindOrder, now); !dec.Allowed {
		e.rateDenied(m, risk.ActionEntry, dec, a, now)
		return
	}

	orderID := fmt.Sprintf("entry-%s-%d", spec.ID, now.UnixMilli())
	notional := in.Shares * in.Price
	if err := e.reserver.Reserve(ctx, reserve.Reservation{
		OrderID:     orderID,
		MarketID:    spec.ID,
		NotionalUSD: notional,
		Side:        in.Side,
		CreatedAt:   now,
	}); err != nil {
		e.skip(m, risk.ActionEntry, reserveReason(err), a, now)
		return
	}

	e.limiter.Record(spec.ID, ratelimit.KindOrder, now)
	result, err := e.gw.PlaceOrder(ctx, gateway.PlaceRequest{
		TokenID: spec.TokenFor(in.Side),
		Side:    gateway.SideBuy,
		Price:   in.Price,
		Size:    in.Shares,
		Type:    gateway.OrderTypeFAK,
	})
	if err != nil || !result.Success {
		e.reserver.Release(orderID)
		e.reserver.InvalidateBalance()
		e.metrics.OrdersFailed.Inc()
		if tripped := e.limiter.RecordFailure(spec.ID, now); tripped {
			e.breakerTripped(spec, now)
		}
		e.log.Warn("entry order failed", zap.String("market_id", spec.ID), zap.Error(err))
		return
	}
	e.metrics.OrdersPlaced.Inc()
	e.limiter.RecordSuccess(spec.ID, now)

	filled := result.FilledSize
	avg := result.AvgPrice
	if avg == 0 {
		avg = in.Price
	}
	if filled > 0 {
		e.reserver.OnFill(orderID, filled*avg)
	}
	e.reserver.Release(orderID)

	m.mu.Lock()
	m.ledger.ApplyBuy(in.Side, filled, filled*avg)
	m.slots.ClearEntrySlot()
	if filled > 0 {
		m.slots.SetPendingHedge(intent.Intent{
			Side:      in.Side.Opposite(),
			Shares:    filled,
			Price:     1 - avg,
			CreatedAt: now,
		})
		if m.hedgeLagSince.IsZero() {
			m.hedgeLagSince = now
		}
	}
	snap := m.ledger.Snapshot(now)
	m.mu.Unlock()
	e.checkpoint(ctx, snap)

	e.log.Info("entry filled",
		zap.String("market_id", spec.ID),
		zap.String("side", string(in.Side)),
		zap.Float64("shares", filled),
		zap.Float64("avg_price", avg),
	)
}

// runHedge hands the pending hedge to the escalator with a context that
// dies if the market is disabled or safety-blocked mid-retry. The
// escalation runs detached from the tick so its retries and gateway
// waits never hold up other markets' evaluations; the in-flight slot
// keeps later ticks from double-running it.
func (e *Engine) runHedge(ctx context.Context, m *Market, in intent.Intent, a risk.Assessment, now time.Time) {
	spec := m.spec
	if dec := m.monitor.Allow(risk.ActionHedge, now); !dec.Allowed {
		e.skip(m, risk.ActionHedge, string(dec.Reason), a, now)
		return
	}

	escalCtx, cancel := context.WithCancel(ctx)
	if !m.beginEscalation(cancel) {
		cancel()
		return
	}

	deadline := now.Add(e.cfg.Risk.HedgeLagTimeout)
	if !spec.ClosesAt.IsZero() && spec.ClosesAt.Before(deadline) {
		deadline = spec.ClosesAt
	}
	go func() {
		defer m.endEscalation()
		e.escalateHedge(ctx, escalCtx, m, in, a, deadline, now)
	}()
}

func (e *Engine) escalateHedge(ctx, escalCtx context.Context, m *Market, in intent.Intent, a risk.Assessment, deadline, now time.Time) {
	spec := m.spec
	res, err := e.escalator.Execute(escalCtx, hedge.Request{
		MarketID:  spec.ID,
		Asset:     spec.Asset,
		TokenID:   spec.TokenFor(in.Side),
		Side:      in.Side,
		Shares:    in.Shares,
		Price:     in.Price,
		Deadline:  deadline,
		HighDelta: a.UnpairedNotionalUSD >= e.cfg.Risk.NotionalThresholdUSD,
	})
	if err != nil {
		e.log.Warn("hedge escalation cancelled", zap.String("market_id", spec.ID), zap.Error(err))
		return
	}

	switch res.Outcome {
	case hedge.OutcomeFilled:
		m.mu.Lock()
		m.ledger.ApplyBuy(in.Side, res.FilledShares, res.FilledShares*res.AvgPrice)
		remaining := in.Shares - res.FilledShares
		if remaining >= e.cfg.Hedge.MinLotShares {
			m.slots.SetPendingHedge(intent.Intent{
				Side:      in.Side,
				Shares:    remaining,
				Price:     res.FinalPrice,
				CreatedAt: now,
			})
		} else {
			m.slots.ClearHedgeSlot()
			m.hedgeLagSince = time.Time{}
		}
		m.noLiquidityStreak = 0
		snap := m.ledger.Snapshot(now)
		m.mu.Unlock()
		e.checkpoint(ctx, snap)
		e.log.Info("hedge filled",
			zap.String("market_id", spec.ID),
			zap.String("side", string(in.Side)),
			zap.Float64("shares", res.FilledShares),
			zap.Float64("avg_price", res.AvgPrice),
			zap.Int("attempts", res.Attempts),
		)
	case hedge.OutcomeNoLiquidity:
		m.mu.Lock()
		m.noLiquidityStreak++
		m.mu.Unlock()
		e.skip(m, risk.ActionHedge, string(res.Outcome), a, now)
	default:
		e.skip(m, risk.ActionHedge, string(res.Outcome), a, now)
	}
}

// unwindExcess sells the unpaired side aggressively at the current bid.
// Called on emergency start and while the position classifier forces
// UNWIND.
func (e *Engine) unwindExcess(ctx context.Context, m *Market, led *ledger.Ledger, downBook, upBook feed.BookSnapshot, a risk.Assessment, now time.Time) {
	spec := m.spec
	if dec := m.monitor.Allow(risk.ActionUnwind, now); !dec.Allowed {
		e.skip(m, risk.ActionUnwind, string(dec.Reason), a, now)
		return
	}
	if dec := e.limiter.CheckAllowed(spec.ID, ratelimit.KindOrder, now); !dec.Allowed {
		e.rateDenied(m, risk.ActionUnwind, dec, a, now)
		return
	}
	side := led.DominantSide()
	shares := led.UnpairedShares()
	if shares <= 0 {
		return
	}
	book := upBook
	if side == ledger.SideDown {
		book = downBook
	}
	if !book.HasBid {
		e.skip(m, risk.ActionUnwind, string(hedge.OutcomeNoLiquidity), a, now)
		return
	}

	e.limiter.Record(spec.ID, ratelimit.KindOrder, now)
	result, err := e.gw.PlaceOrder(ctx, gateway.PlaceRequest{
		TokenID: spec.TokenFor(side),
		Side:    gateway.SideSell,
		Price:   book.BestBid,
		Size:    shares,
		Type:    gateway.OrderTypeFAK,
	})
	if err != nil || !result.Success {
		e.metrics.OrdersFailed.Inc()
		if tripped := e.limiter.RecordFailure(spec.ID, now); tripped {
			e.breakerTripped(spec, now)
		}
		e.log.Warn("unwind order failed", zap.String("market_id", spec.ID), zap.Error(err))
		return
	}
	e.metrics.OrdersPlaced.Inc()
	e.limiter.RecordSuccess(spec.ID, now)
	e.reserver.InvalidateBalance()

	if result.FilledSize > 0 {
		m.mu.Lock()
		m.ledger.ApplySell(side, result.FilledSize)
		snap := m.ledger.Snapshot(now)
		m.mu.Unlock()
		e.checkpoint(ctx, snap)
		e.log.Warn("unwound excess exposure",
			zap.String("market_id", spec.ID),
			zap.String("side", string(side)),
			zap.Float64("shares", result.FilledSize),
		)
	}
}

// rateDenied records a rate-limited action. Ceiling reasons only appear
// on the call that starts a pause, so they double as the trip edge.
func (e *Engine) rateDenied(m *Market, action risk.Action, dec ratelimit.Decision, a risk.Assessment, now time.Time) {
	switch dec.Reason {
	case ratelimit.ReasonMarketOrderLimit, ratelimit.ReasonMarketCancelLimit,
		ratelimit.ReasonGlobalOrderLimit, ratelimit.ReasonGlobalCancelLimit:
		e.emit(events.Event{
			Type:       events.GuardrailTriggered,
			MarketID:   m.spec.ID,
			Asset:      m.spec.Asset,
			ReasonCode: string(dec.Reason),
			Data:       map[string]any{"pause_ms": dec.Wait.Milliseconds()},
			At:         now,
		})
		e.log.Warn("rate ceiling tripped",
			zap.String("market_id", m.spec.ID),
			zap.String("reason", string(dec.Reason)),
			zap.Duration("pause", dec.Wait),
		)
	}
	e.skip(m, action, string(dec.Reason), a, now)
}

func (e *Engine) breakerTripped(spec MarketSpec, now time.Time) {
	e.metrics.BreakerTripped.Inc()
	e.emit(events.Event{
		Type:     events.CircuitBreakerTriggered,
		MarketID: spec.ID,
		Asset:    spec.Asset,
		Data:     map[string]any{"reset_ms": e.cfg.RateLimit.BreakerReset.Milliseconds()},
		At:       now,
	})
	e.log.Error("circuit breaker opened", zap.String("market_id", spec.ID))
}

func reserveReason(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, reserve.ErrBelowFloor):
		return "BALANCE_BELOW_FLOOR"
	case errors.Is(err, reserve.ErrInsufficientFunds):
		return string(hedge.OutcomeInsufficientFunds)
	default:
		return "BALANCE_UNAVAILABLE"
	}
}

func sideBook(b feed.BookSnapshot) readiness.SideBook {
	return readiness.SideBook{HasPrice: b.HasPrice(), Taken: b.Taken}
}

// hedgeFeasible reports whether the thin side could plausibly be filled
// right now: the opposite token shows ask liquidity at or under the
// urgent price ceiling covering the unpaired size.
func hedgeFeasible(led *ledger.Ledger, upBook, downBook feed.BookSnapshot, priceCeiling float64) bool {
	unpaired := led.UnpairedShares()
	if unpaired == 0 {
		return true
	}
	book := downBook
	if led.DominantSide() == ledger.SideDown {
		book = upBook
	}
	return book.HasAsk && book.BestAsk <= priceCeiling
}

// dominantMid prices unpaired exposure when the dominant side has no
// cost basis yet.
func dominantMid(led *ledger.Ledger, upBook, downBook feed.BookSnapshot) float64 {
	if led.DominantSide() == ledger.SideDown {
		return downBook.Mid()
	}
	return upBook.Mid()
}
