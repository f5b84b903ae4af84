package engine

import (
	"context"
	"fmt"
	"sync"
	"time"

	"pm-updown-bot/internal/config"
	"pm-updown-bot/internal/events"
	"pm-updown-bot/internal/feed"
	"pm-updown-bot/internal/gateway"
	"pm-updown-bot/internal/hedge"
	"pm-updown-bot/internal/intent"
	"pm-updown-bot/internal/ledger"
	"pm-updown-bot/internal/metrics"
	"pm-updown-bot/internal/ratelimit"
	"pm-updown-bot/internal/readiness"
	"pm-updown-bot/internal/reserve"
	"pm-updown-bot/internal/risk"
	"pm-updown-bot/internal/state"

	"go.uber.org/zap"
)

// Engine owns every market's control-plane record and evaluates them
// concurrently each tick. The rate limiter, breaker and reservation
// manager are shared across markets; everything else is per market.
type Engine struct {
	cfg       *config.Config
	log       *zap.Logger
	metrics   *metrics.Metrics
	sink      events.Sink
	gw        gateway.Gateway
	limiter   *ratelimit.Limiter
	reserver  *reserve.Manager
	escalator *hedge.Escalator
	books     *feed.BookCache
	store     state.Store
	runID     string

	mu      sync.RWMutex
	markets map[string]*Market
}

func New(cfg *config.Config, gw gateway.Gateway, limiter *ratelimit.Limiter, reserver *reserve.Manager,
	escalator *hedge.Escalator, books *feed.BookCache, store state.Store, sink events.Sink,
	m *metrics.Metrics, log *zap.Logger) *Engine {
	if m == nil {
		m = metrics.NewNoop()
	}
	if sink == nil {
		sink = events.NewNoop()
	}
	return &Engine{
		cfg:       cfg,
		log:       log,
		metrics:   m,
		sink:      sink,
		gw:        gw,
		limiter:   limiter,
		reserver:  reserver,
		escalator: escalator,
		books:     books,
		store:     store,
		runID:     fmt.Sprintf("run-%s", time.Now().UTC().Format("20060102T150405Z")),
		markets:   make(map[string]*Market),
	}
}

func (e *Engine) AddMarket(spec MarketSpec) *Market {
	m := &Market{
		spec:    spec,
		ledger:  ledger.New(spec.ID, spec.OpenedAt),
		monitor: risk.NewMonitor(e.cfg.Risk, spec.ID),
		gate:    readiness.NewGate(e.cfg.Readiness, spec.ID, spec.OpenedAt),
		slots:   intent.NewSlots(),
	}
	e.mu.Lock()
	e.markets[spec.ID] = m
	e.mu.Unlock()
	return m
}

func (e *Engine) Market(id string) (*Market, bool) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	m, ok := e.markets[id]
	return m, ok
}

func (e *Engine) RemoveMarket(id string) {
	e.mu.Lock()
	m := e.markets[id]
	delete(e.markets, id)
	e.mu.Unlock()
	if m != nil {
		m.cancelEscalation()
	}
}

// RestoreLedgers replaces ledgers for known markets from checkpoints,
// typically right after startup.
func (e *Engine) RestoreLedgers(ledgers map[string]*ledger.Ledger) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	for id, restored := range ledgers {
		m, ok := e.markets[id]
		if !ok {
			continue
		}
		m.mu.Lock()
		m.ledger = restored
		m.mu.Unlock()
	}
}

// EvaluateAll runs one tick across all markets concurrently. Per-market
// state is serialized by each market's own lock; there is no cross-market
// lock ordering because markets never lock each other.
func (e *Engine) EvaluateAll(ctx context.Context, now time.Time) {
	e.mu.RLock()
	batch := make([]*Market, 0, len(e.markets))
	for _, m := range e.markets {
		batch = append(batch, m)
	}
	e.mu.RUnlock()

	var wg sync.WaitGroup
	for _, m := range batch {
		wg.Add(1)
		go func(m *Market) {
			defer wg.Done()
			e.evaluate(ctx, m, now)
		}(m)
	}
	wg.Wait()
}

// SubmitEntry is the signal side's entry point: a fresh entry intent
// overwrites whatever was pending in the entry slot.
func (e *Engine) SubmitEntry(marketID string, side ledger.Side, shares, price float64, now time.Time) bool {
	m, ok := e.Market(marketID)
	if !ok {
		return false
	}
	m.slots.SetPendingEntry(intent.Intent{
		Side:      side,
		Shares:    shares,
		Price:     price,
		CreatedAt: now,
	})
	return true
}

// OnFill applies an asynchronous fill confirmation to the ledger and
// releases the matching reservation.
func (e *Engine) OnFill(ctx context.Context, marketID, orderID string, side ledger.Side, shares, costUSD float64) {
	m, ok := e.Market(marketID)
	if !ok {
		return
	}
	m.mu.Lock()
	m.ledger.ApplyBuy(side, shares, costUSD)
	snap := m.ledger.Snapshot(time.Now())
	m.mu.Unlock()

	e.reserver.OnFill(orderID, costUSD)
	e.checkpoint(ctx, snap)
}

// Settle emits the aggregation snapshot for a closing market, clears
// its ledger and checkpoint, and resets the readiness gate for the next
// session.
func (e *Engine) Settle(ctx context.Context, marketID string, reopenAt time.Time) {
	m, ok := e.Market(marketID)
	if !ok {
		return
	}
	m.cancelEscalation()
	now := time.Now()
	m.mu.Lock()
	snap := m.ledger.Snapshot(now)
	m.ledger = ledger.New(marketID, now)
	m.slots.ClearEntrySlot()
	m.slots.ClearHedgeSlot()
	m.hedgeLagSince = time.Time{}
	m.noLiquidityStreak = 0
	m.lastState = ledger.StateFlat
	m.mu.Unlock()

	e.emit(events.Event{
		Type:     events.PositionSettled,
		MarketID: marketID,
		Asset:    m.spec.Asset,
		Data: map[string]any{
			"up_shares":     snap.UpShares,
			"down_shares":   snap.DownShares,
			"up_invested":   snap.UpInvested,
			"down_invested": snap.DownInvested,
			"paired":        snap.Paired,
			"unpaired":      snap.Unpaired,
			"cost_per_pair": snap.CostPerPair,
		},
		At: now,
	})
	if e.store != nil {
		if err := state.DeleteLedger(ctx, e.store, marketID); err != nil {
			e.log.Warn("ledger checkpoint delete failed", zap.String("market_id", marketID), zap.Error(err))
		}
	}
	m.gate.Reset(reopenAt)
}

// SetSafetyBlock is the external manual override: active blocks every
// action except cancel-all until cleared.
func (e *Engine) SetSafetyBlock(marketID string, active bool, now time.Time) {
	m, ok := e.Market(marketID)
	if !ok {
		return
	}
	if !m.monitor.SetSafetyBlock(active, now) {
		return
	}
	typ := events.SafetyBlockCleared
	if active {
		typ = events.SafetyBlockActive
		m.cancelEscalation()
	}
	e.emit(events.Event{Type: typ, MarketID: marketID, Asset: m.spec.Asset, At: now})
	e.log.Warn("safety block changed", zap.String("market_id", marketID), zap.Bool("active", active))
}

func (e *Engine) SafetyBlocked(marketID string) bool {
	m, ok := e.Market(marketID)
	return ok && m.monitor.SafetyBlocked()
}

// ReconcileReservations drops reservations for orders the gateway no
// longer reports, then refreshes the balance cache.
func (e *Engine) ReconcileReservations(activeOrderIDs []string) {
	if released := e.reserver.Reconcile(activeOrderIDs); released > 0 {
		e.reserver.InvalidateBalance()
		e.log.Info("reconciled reservations", zap.Int("released", released))
	}
}

func (e *Engine) emit(ev events.Event) {
	if ev.RunID == "" {
		ev.RunID = e.runID
	}
	e.sink.Emit(ev)
}

func (e *Engine) checkpoint(ctx context.Context, snap ledger.Snapshot) {
	if e.store == nil {
		return
	}
	if err := state.SaveLedger(ctx, e.store, snap); err != nil {
		e.log.Warn("ledger checkpoint failed", zap.String("market_id", snap.Market), zap.Error(err))
	}
}

func (e *Engine) skip(m *Market, action risk.Action, reason string, a risk.Assessment, now time.Time) {
	e.metrics.OrdersRejected.Inc()
	e.emit(events.Event{
		Type:       events.ActionSkipped,
		MarketID:   m.spec.ID,
		Asset:      m.spec.Asset,
		ReasonCode: reason,
		Data: map[string]any{
			"action":                action,
			"unpaired_notional_usd": a.UnpairedNotionalUSD,
			"unpaired_age_sec":      a.UnpairedAge.Seconds(),
			"inventory_risk_score":  a.InventoryRiskScore,
			"skew_ratio":            a.SkewRatio,
		},
		At: now,
	})
}
