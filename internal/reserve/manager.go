package reserve

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"pm-updown-bot/internal/config"
	"pm-updown-bot/internal/ledger"

	"go.uber.org/zap"
)

var (
	ErrInsufficientFunds = errors.New("insufficient free balance")
	ErrBelowFloor        = errors.New("available balance below trading floor")
	ErrDuplicateOrder    = errors.New("order already reserved")
)

const releaseEpsilon = 1e-9

type Reservation struct {
	OrderID     string
	MarketID    string
	NotionalUSD float64
	Side        ledger.Side
	CreatedAt   time.Time
}

// BalanceSource is the slice of the order gateway the manager needs.
type BalanceSource interface {
	Balance(ctx context.Context) (float64, error)
}

// Manager tracks notional committed to open orders so concurrent
// intents cannot jointly overspend the available balance. Admission is
// checked under the lock; the balance fetch runs outside it.
type Manager struct {
	cfg    config.ReserveConfig
	source BalanceSource
	log    *zap.Logger

	mu           sync.Mutex
	reservations map[string]Reservation

	balMu      sync.Mutex
	balance    float64
	balanceAt  time.Time
	hasBalance bool
}

func NewManager(cfg config.ReserveConfig, source BalanceSource, log *zap.Logger) *Manager {
	return &Manager{
		cfg:          cfg,
		source:       source,
		log:          log,
		reservations: make(map[string]Reservation),
	}
}

// AvailableBalance returns the cached balance, refreshing it from the
// gateway when older than the TTL. Staleness here is deliberate; fills
// and failures invalidate the cache eagerly.
func (m *Manager) AvailableBalance(ctx context.Context) (float64, error) {
	m.balMu.Lock()
	if m.hasBalance && time.Since(m.balanceAt) < m.cfg.BalanceTTL {
		bal := m.balance
		m.balMu.Unlock()
		return bal, nil
	}
	m.balMu.Unlock()

	bal, err := m.source.Balance(ctx)
	if err != nil {
		return 0, err
	}
	m.balMu.Lock()
	m.balance = bal
	m.balanceAt = time.Now()
	m.hasBalance = true
	m.balMu.Unlock()
	return bal, nil
}

func (m *Manager) InvalidateBalance() {
	m.balMu.Lock()
	m.hasBalance = false
	m.balMu.Unlock()
}

// CanPlaceOrder reports whether requiredNotional fits under the free
// balance after reservations and the safety buffer.
func (m *Manager) CanPlaceOrder(ctx context.Context, requiredNotional float64) error {
	bal, err := m.AvailableBalance(ctx)
	if err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.admit(bal, requiredNotional)
}

// Reserve admits and records a reservation atomically. The admission
// check repeats under the lock so two concurrent calls cannot both fit
// into the same headroom.
func (m *Manager) Reserve(ctx context.Context, r Reservation) error {
	if r.OrderID == "" {
		return errors.New("order id is required")
	}
	bal, err := m.AvailableBalance(ctx)
	if err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.reservations[r.OrderID]; exists {
		return fmt.Errorf("%w: %s", ErrDuplicateOrder, r.OrderID)
	}
	if err := m.admit(bal, r.NotionalUSD); err != nil {
		return err
	}
	m.reservations[r.OrderID] = r
	return nil
}

func (m *Manager) admit(balance, requiredNotional float64) error {
	if balance < m.cfg.MinBalanceUSD {
		return fmt.Errorf("%w: %.2f < %.2f", ErrBelowFloor, balance, m.cfg.MinBalanceUSD)
	}
	free := balance - m.totalReservedLocked() - m.cfg.SafetyBufferUSD
	if free < requiredNotional {
		return fmt.Errorf("%w: need %.2f, free %.2f", ErrInsufficientFunds, requiredNotional, free)
	}
	return nil
}

func (m *Manager) Release(orderID string) {
	m.mu.Lock()
	delete(m.reservations, orderID)
	m.mu.Unlock()
}

// OnFill shrinks a reservation by the filled notional, auto-releasing
// once nothing meaningful remains.
func (m *Manager) OnFill(orderID string, filledNotional float64) {
	m.mu.Lock()
	if r, ok := m.reservations[orderID]; ok {
		r.NotionalUSD -= filledNotional
		if r.NotionalUSD <= releaseEpsilon {
			delete(m.reservations, orderID)
		} else {
			m.reservations[orderID] = r
		}
	}
	m.mu.Unlock()
	m.InvalidateBalance()
}

// Reconcile drops reservations whose orders are no longer known
// upstream, e.g. after a restart or a missed cancel confirmation.
func (m *Manager) Reconcile(activeOrderIDs []string) (released int) {
	active := make(map[string]struct{}, len(activeOrderIDs))
	for _, id := range activeOrderIDs {
		active[id] = struct{}{}
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	for id, r := range m.reservations {
		if _, ok := active[id]; ok {
			continue
		}
		delete(m.reservations, id)
		released++
		if m.log != nil {
			m.log.Info("released stale reservation",
				zap.String("order_id", id),
				zap.String("market_id", r.MarketID),
				zap.Float64("notional_usd", r.NotionalUSD),
			)
		}
	}
	return released
}

// ReservationIDs lists the order ids currently holding headroom, for
// callers that reconcile against the venue.
func (m *Manager) ReservationIDs() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	ids := make([]string, 0, len(m.reservations))
	for id := range m.reservations {
		ids = append(ids, id)
	}
	return ids
}

func (m *Manager) TotalReserved() float64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.totalReservedLocked()
}

func (m *Manager) totalReservedLocked() float64 {
	var total float64
	for _, r := range m.reservations {
		total += r.NotionalUSD
	}
	return total
}

func (m *Manager) ReservedForMarket(marketID string) float64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	var total float64
	for _, r := range m.reservations {
		if r.MarketID == marketID {
			total += r.NotionalUSD
		}
	}
	return total
}
