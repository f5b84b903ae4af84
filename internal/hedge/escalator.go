package hedge

import (
	"context"
	"errors"
	"fmt"
	"time"

	"pm-updown-bot/internal/config"
	"pm-updown-bot/internal/gateway"
	"pm-updown-bot/internal/ledger"
	"pm-updown-bot/internal/metrics"
	"pm-updown-bot/internal/ratelimit"
	"pm-updown-bot/internal/reserve"

	"go.uber.org/zap"
)

type Outcome string

const (
	OutcomeFilled            Outcome = "FILLED"
	OutcomeRateLimited       Outcome = "RATE_LIMITED"
	OutcomeInsufficientFunds Outcome = "INSUFFICIENT_FUNDS"
	OutcomeNoLiquidity       Outcome = "NO_LIQUIDITY"
	OutcomeMaxRetries        Outcome = "MAX_RETRIES"
	OutcomeAborted           Outcome = "ABORTED"
)

// RateGuard is the slice of the shared rate limiter the escalator uses.
type RateGuard interface {
	CheckAllowed(marketID string, kind ratelimit.Kind, now time.Time) ratelimit.Decision
	Record(marketID string, kind ratelimit.Kind, now time.Time)
	RecordFailure(marketID string, now time.Time) bool
	RecordSuccess(marketID string, now time.Time) bool
}

// FundsGuard is the slice of the reservation manager the escalator uses.
type FundsGuard interface {
	CanPlaceOrder(ctx context.Context, requiredNotional float64) error
	Reserve(ctx context.Context, r reserve.Reservation) error
	Release(orderID string)
	OnFill(orderID string, filledNotional float64)
}

// LiquidityProber reads ask depth for the token being bought.
type LiquidityProber interface {
	BookDepth(ctx context.Context, tokenID string) (gateway.Depth, error)
}

// OrderPlacer places the escalated order.
type OrderPlacer interface {
	PlaceOrder(ctx context.Context, req gateway.PlaceRequest) (gateway.PlaceResult, error)
}

type Request struct {
	MarketID  string
	Asset     string
	TokenID   string
	Side      ledger.Side
	Shares    float64
	Price     float64
	Deadline  time.Time
	HighDelta bool
}

type Result struct {
	Outcome      Outcome
	FilledShares float64
	AvgPrice     float64
	Attempts     int
	FinalMode    Mode
	FinalPrice   float64
}

// Escalator trades price concessions for fill probability under a
// deadline. Each attempt runs the guard pipeline (rate limit, funds,
// liquidity) before reserving and placing; each guard returns an
// explicit allow/deny so the steps stay testable in isolation.
type Escalator struct {
	cfg     config.HedgeConfig
	rate    RateGuard
	funds   FundsGuard
	depth   LiquidityProber
	placer  OrderPlacer
	log     *zap.Logger
	metrics *metrics.Metrics

	// sleep is swapped out in tests.
	sleep func(ctx context.Context, d time.Duration) error
	now   func() time.Time
}

func NewEscalator(cfg config.HedgeConfig, rate RateGuard, funds FundsGuard, depth LiquidityProber, placer OrderPlacer, m *metrics.Metrics, log *zap.Logger) *Escalator {
	if m == nil {
		m = metrics.NewNoop()
	}
	return &Escalator{
		cfg:     cfg,
		rate:    rate,
		funds:   funds,
		depth:   depth,
		placer:  placer,
		log:     log,
		metrics: m,
		sleep:   ctxSleep,
		now:     time.Now,
	}
}

func ctxSleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// Execute runs the bounded escalation loop. The context must be
// cancelled when the owning market is disabled or safety-blocked so
// retries stop mid-loop.
func (e *Escalator) Execute(ctx context.Context, req Request) (Result, error) {
	shares := req.Shares
	price := req.Price
	res := Result{Outcome: OutcomeMaxRetries}

	for attempt := 1; attempt <= e.cfg.MaxRetries; attempt++ {
		if err := ctx.Err(); err != nil {
			res.Outcome = OutcomeAborted
			return res, err
		}
		res.Attempts = attempt
		now := e.now()
		mode := ModeFor(e.cfg, req.Deadline.Sub(now), req.HighDelta)
		res.FinalMode = mode
		if ceiling := PriceCeiling(e.cfg, mode); price > ceiling {
			price = ceiling
		}
		res.FinalPrice = price
		e.metrics.HedgeAttempts.Inc()

		if outcome, err := e.checkRate(ctx, req.MarketID, mode, now); outcome != "" {
			res.Outcome = outcome
			return res, err
		}

		notional := shares * price
		if err := e.funds.CanPlaceOrder(ctx, notional); err != nil {
			shares *= e.cfg.SizeReductionFactor
			if shares < e.cfg.MinLotShares {
				res.Outcome = OutcomeInsufficientFunds
				e.metrics.HedgeAborted.Inc()
				return res, nil
			}
			e.log.Debug("hedge funds check failed, shrinking",
				zap.String("market_id", req.MarketID),
				zap.Float64("shares", shares),
				zap.Error(err),
			)
			continue
		}

		depth, err := e.depth.BookDepth(ctx, req.TokenID)
		if err == nil && (!depth.HasLiquidity || depth.AskVolume < shares) {
			if mode.Urgent() && depth.AskVolume >= e.cfg.MinLotShares {
				shares = depth.AskVolume
			} else {
				res.Outcome = OutcomeNoLiquidity
				e.metrics.HedgeAborted.Inc()
				return res, nil
			}
		}

		filled, avg, placeErr := e.placeAttempt(ctx, req, attempt, shares, price, now)
		if placeErr == nil && filled > 0 {
			res.Outcome = OutcomeFilled
			res.FilledShares = filled
			res.AvgPrice = avg
			e.metrics.HedgeFilled.Inc()
			return res, nil
		}

		price = price + e.cfg.PriceIncrement
		if ceiling := PriceCeiling(e.cfg, mode); price > ceiling {
			price = ceiling
		}
		if mode == ModeNormal {
			shrunk := shares * e.cfg.SizeReductionFactor
			if shrunk >= e.cfg.MinLotShares {
				shares = shrunk
			}
		}
		if attempt < e.cfg.MaxRetries {
			if err := e.sleep(ctx, e.cfg.RetryDelay); err != nil {
				res.Outcome = OutcomeAborted
				return res, err
			}
		}
	}
	e.metrics.HedgeAborted.Inc()
	return res, nil
}

// checkRate returns a terminal outcome, or an empty outcome when the
// attempt may proceed, possibly after waiting out a short block in
// urgent modes. Cancellation mid-wait surfaces the context error so it
// reads the same as a loop-top abort.
func (e *Escalator) checkRate(ctx context.Context, marketID string, mode Mode, now time.Time) (Outcome, error) {
	dec := e.rate.CheckAllowed(marketID, ratelimit.KindOrder, now)
	if dec.Allowed {
		return "", nil
	}
	if mode.Urgent() && dec.Wait > 0 && dec.Wait <= e.cfg.RateLimitWaitMax {
		if err := e.sleep(ctx, dec.Wait); err != nil {
			return OutcomeAborted, err
		}
		return "", nil
	}
	e.metrics.HedgeAborted.Inc()
	return OutcomeRateLimited, nil
}

func (e *Escalator) placeAttempt(ctx context.Context, req Request, attempt int, shares, price float64, now time.Time) (float64, float64, error) {
	orderID := fmt.Sprintf("hedge-%s-%d-%d", req.MarketID, now.UnixMilli(), attempt)
	reservation := reserve.Reservation{
		OrderID:     orderID,
		MarketID:    req.MarketID,
		NotionalUSD: shares * price,
		Side:        req.Side,
		CreatedAt:   now,
	}
	if err := e.funds.Reserve(ctx, reservation); err != nil {
		return 0, 0, err
	}

	e.rate.Record(req.MarketID, ratelimit.KindOrder, now)
	result, err := e.placer.PlaceOrder(ctx, gateway.PlaceRequest{
		TokenID: req.TokenID,
		Side:    gateway.SideBuy,
		Price:   price,
		Size:    shares,
		Type:    gateway.OrderTypeFAK,
	})
	if err != nil || !result.Success {
		e.funds.Release(orderID)
		e.rate.RecordFailure(req.MarketID, now)
		if err == nil {
			err = errors.New(result.ErrorMsg)
		}
		e.log.Warn("hedge attempt failed",
			zap.String("market_id", req.MarketID),
			zap.Int("attempt", attempt),
			zap.Float64("price", price),
			zap.Error(err),
		)
		return 0, 0, err
	}

	e.rate.RecordSuccess(req.MarketID, now)
	avg := result.AvgPrice
	if avg == 0 {
		avg = price
	}
	if result.FilledSize > 0 {
		e.funds.OnFill(orderID, result.FilledSize*avg)
	}
	e.funds.Release(orderID)
	return result.FilledSize, avg, nil
}
