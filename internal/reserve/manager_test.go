package reserve

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"pm-updown-bot/internal/config"
	"pm-updown-bot/internal/ledger"

	"go.uber.org/zap"
)

type fakeBalance struct {
	balance float64
	err     error
	calls   atomic.Int64
}

func (f *fakeBalance) Balance(ctx context.Context) (float64, error) {
	_ = ctx
	f.calls.Add(1)
	return f.balance, f.err
}

func reserveConfig() config.ReserveConfig {
	return config.ReserveConfig{
		SafetyBufferUSD: 5,
		MinBalanceUSD:   10,
		BalanceTTL:      10 * time.Second,
	}
}

func newTestManager(balance float64) (*Manager, *fakeBalance) {
	src := &fakeBalance{balance: balance}
	return NewManager(reserveConfig(), src, zap.NewNop()), src
}

func reservation(orderID string, notional float64) Reservation {
	return Reservation{
		OrderID:     orderID,
		MarketID:    "mkt",
		NotionalUSD: notional,
		Side:        ledger.SideUp,
		CreatedAt:   time.Unix(1000, 0),
	}
}

func TestReserveRespectsBufferAndFloor(t *testing.T) {
	m, _ := newTestManager(100)
	ctx := context.Background()

	// 100 balance - 5 buffer leaves 95 free.
	if err := m.Reserve(ctx, reservation("o1", 95)); err != nil {
		t.Fatalf("reserve within headroom failed: %v", err)
	}
	if err := m.Reserve(ctx, reservation("o2", 1)); !errors.Is(err, ErrInsufficientFunds) {
		t.Fatalf("expected insufficient funds, got %v", err)
	}

	low, _ := newTestManager(9)
	if err := low.Reserve(ctx, reservation("o3", 1)); !errors.Is(err, ErrBelowFloor) {
		t.Fatalf("expected floor rejection, got %v", err)
	}
}

func TestReserveRejectsDuplicateOrderID(t *testing.T) {
	m, _ := newTestManager(100)
	ctx := context.Background()
	if err := m.Reserve(ctx, reservation("o1", 10)); err != nil {
		t.Fatalf("first reserve failed: %v", err)
	}
	if err := m.Reserve(ctx, reservation("o1", 10)); !errors.Is(err, ErrDuplicateOrder) {
		t.Fatalf("expected duplicate rejection, got %v", err)
	}
}

func TestConcurrentReservesCannotOverspend(t *testing.T) {
	m, _ := newTestManager(100)
	ctx := context.Background()

	// 95 free; ten concurrent 20-USD reservations can admit at most four.
	var wg sync.WaitGroup
	var admitted atomic.Int64
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			if err := m.Reserve(ctx, reservation(orderID(i), 20)); err == nil {
				admitted.Add(1)
			}
		}(i)
	}
	wg.Wait()

	if got := admitted.Load(); got != 4 {
		t.Fatalf("expected exactly 4 admitted, got %d", got)
	}
	if got := m.TotalReserved(); got != 80 {
		t.Fatalf("expected 80 reserved, got %f", got)
	}
}

func orderID(i int) string {
	return string(rune('a' + i))
}

func TestOnFillShrinksAndAutoReleases(t *testing.T) {
	m, _ := newTestManager(100)
	ctx := context.Background()
	if err := m.Reserve(ctx, reservation("o1", 50)); err != nil {
		t.Fatalf("reserve failed: %v", err)
	}

	m.OnFill("o1", 30)
	if got := m.TotalReserved(); got != 20 {
		t.Fatalf("expected 20 remaining, got %f", got)
	}
	m.OnFill("o1", 20)
	if got := m.TotalReserved(); got != 0 {
		t.Fatalf("expected auto-release, got %f", got)
	}
}

func TestBalanceCacheHonorsTTL(t *testing.T) {
	m, src := newTestManager(100)
	ctx := context.Background()

	if _, err := m.AvailableBalance(ctx); err != nil {
		t.Fatalf("balance fetch failed: %v", err)
	}
	if _, err := m.AvailableBalance(ctx); err != nil {
		t.Fatalf("balance fetch failed: %v", err)
	}
	if got := src.calls.Load(); got != 1 {
		t.Fatalf("expected one upstream fetch within TTL, got %d", got)
	}

	m.InvalidateBalance()
	if _, err := m.AvailableBalance(ctx); err != nil {
		t.Fatalf("balance fetch failed: %v", err)
	}
	if got := src.calls.Load(); got != 2 {
		t.Fatalf("expected refetch after invalidation, got %d", got)
	}
}

func TestBalanceErrorSurfaces(t *testing.T) {
	src := &fakeBalance{err: errors.New("gateway down")}
	m := NewManager(reserveConfig(), src, zap.NewNop())
	if err := m.CanPlaceOrder(context.Background(), 10); err == nil {
		t.Fatalf("expected balance error to surface")
	}
}

func TestReconcileReleasesUnknownOrders(t *testing.T) {
	m, _ := newTestManager(100)
	ctx := context.Background()
	_ = m.Reserve(ctx, reservation("live", 10))
	_ = m.Reserve(ctx, reservation("stale", 10))

	released := m.Reconcile([]string{"live"})
	if released != 1 {
		t.Fatalf("expected one release, got %d", released)
	}
	if got := m.ReservedForMarket("mkt"); got != 10 {
		t.Fatalf("expected only the live reservation, got %f", got)
	}
}
