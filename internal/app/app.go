package app

import (
	"context"
	"errors"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"pm-updown-bot/internal/alerts"
	"pm-updown-bot/internal/config"
	"pm-updown-bot/internal/engine"
	"pm-updown-bot/internal/events"
	"pm-updown-bot/internal/feed"
	"pm-updown-bot/internal/gateway"
	"pm-updown-bot/internal/hedge"
	"pm-updown-bot/internal/metrics"
	"pm-updown-bot/internal/ratelimit"
	"pm-updown-bot/internal/reserve"
	"pm-updown-bot/internal/state"
	"pm-updown-bot/internal/state/sqlite"

	"go.uber.org/zap"
)

const reconcileInterval = 30 * time.Second

type App struct {
	cfg      *config.Config
	log      *zap.Logger
	store    *sqlite.Store
	gw       *gateway.Client
	books    *feed.BookCache
	feed     *feed.Client
	engine   *engine.Engine
	reserver *reserve.Manager
	queue    *events.Queue
	pg       *events.PGWriter
	prom     *metrics.Prometheus
	alerts   *alerts.Telegram
	markets  []engine.MarketSpec

	operatorWarned bool
}

func New(cfg *config.Config, log *zap.Logger) (*App, error) {
	if err := os.MkdirAll(filepath.Dir(cfg.State.SQLitePath), 0o755); err != nil {
		return nil, err
	}
	store, err := sqlite.New(cfg.State.SQLitePath)
	if err != nil {
		return nil, err
	}

	creds := gateway.Creds{
		Key:        strings.TrimSpace(os.Getenv("PM_API_KEY")),
		Secret:     strings.TrimSpace(os.Getenv("PM_API_SECRET")),
		Passphrase: strings.TrimSpace(os.Getenv("PM_API_PASSPHRASE")),
	}
	privateKey := strings.TrimSpace(os.Getenv("PM_PRIVATE_KEY"))
	if privateKey == "" {
		return nil, errors.New("PM_PRIVATE_KEY is required")
	}
	gw, err := gateway.NewClient(cfg.Gateway, creds, privateKey, log)
	if err != nil {
		return nil, err
	}

	prom := metrics.NewPrometheus()
	m := prom.Metrics

	pg, err := events.NewPGWriter(cfg.Events)
	if err != nil {
		return nil, err
	}
	var writer events.Writer
	if pg != nil {
		writer = pg
	}
	queue := events.NewQueue(cfg.Events.QueueCap, writer, m.EventsDropped, log)
	throttled := events.NewThrottle(queue, map[events.Type]time.Duration{
		events.ActionSkipped:          cfg.Events.SkipLogInterval,
		events.ImplausibleCostPerPair: cfg.Events.ImplausibleWarnInterval,
	})
	alertsClient := alerts.NewTelegram(cfg.Telegram, log)
	sink := newAlertSink(throttled, alertsClient, log)

	books := feed.NewBookCache()
	feedClient := feed.NewClient(cfg.Feed, books, log)

	limiter := ratelimit.NewLimiter(cfg.RateLimit)
	reserver := reserve.NewManager(cfg.Reserve, gw, log)
	escalator := hedge.NewEscalator(cfg.Hedge, limiter, reserver, gw, gw, m, log)

	eng := engine.New(cfg, gw, limiter, reserver, escalator, books, store, sink, m, log)

	specs := make([]engine.MarketSpec, 0, len(cfg.Markets))
	now := time.Now()
	for _, mc := range cfg.Markets {
		spec := engine.MarketSpec{
			ID:          mc.ID,
			Asset:       mc.Asset,
			UpTokenID:   mc.UpTokenID,
			DownTokenID: mc.DownTokenID,
			OpenedAt:    now,
			ClosesAt:    mc.ClosesAt,
		}
		eng.AddMarket(spec)
		specs = append(specs, spec)
	}

	return &App{
		cfg:      cfg,
		log:      log,
		store:    store,
		gw:       gw,
		books:    books,
		feed:     feedClient,
		engine:   eng,
		reserver: reserver,
		queue:    queue,
		pg:       pg,
		prom:     prom,
		alerts:   alertsClient,
		markets:  specs,
	}, nil
}

func (a *App) Engine() *engine.Engine {
	return a.engine
}

func (a *App) Run(ctx context.Context) error {
	defer a.store.Close()
	if a.pg != nil {
		defer a.pg.Close()
	}

	ledgers, err := state.LoadLedgers(ctx, a.store)
	if err != nil {
		return err
	}
	if len(ledgers) > 0 {
		a.engine.RestoreLedgers(ledgers)
		a.log.Info("restored ledgers from checkpoint", zap.Int("count", len(ledgers)))
	}

	tokens := make([]string, 0, 2*len(a.markets))
	for _, spec := range a.markets {
		tokens = append(tokens, spec.UpTokenID, spec.DownTokenID)
	}
	if err := a.feed.Subscribe(ctx, tokens...); err != nil {
		a.log.Warn("feed subscribe failed", zap.Error(err))
	}
	go func() {
		if err := a.feed.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			a.log.Warn("feed stopped", zap.Error(err))
		}
	}()
	go a.queue.Run(ctx)
	a.startMetricsServer(ctx)
	a.startOperator(ctx)

	ticker := time.NewTicker(a.cfg.Engine.TickInterval)
	defer ticker.Stop()
	reconcile := time.NewTicker(reconcileInterval)
	defer reconcile.Stop()

	a.log.Info("control plane running",
		zap.Int("markets", len(a.markets)),
		zap.Duration("tick_interval", a.cfg.Engine.TickInterval),
	)
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case now := <-ticker.C:
			a.engine.EvaluateAll(ctx, now)
		case <-reconcile.C:
			a.reconcileReservations(ctx)
		}
	}
}

// reconcileReservations drops headroom held for orders the venue no
// longer reports open. Status lookups that fail keep the reservation;
// leaking headroom briefly beats double-spending it.
func (a *App) reconcileReservations(ctx context.Context) {
	ids := a.reserver.ReservationIDs()
	if len(ids) == 0 {
		return
	}
	active := make([]string, 0, len(ids))
	for _, id := range ids {
		st, err := a.gw.OrderStatus(ctx, id)
		if err != nil {
			active = append(active, id)
			continue
		}
		if !st.Filled && st.Status != "CANCELED" {
			active = append(active, id)
		}
	}
	a.engine.ReconcileReservations(active)
}

func (a *App) startMetricsServer(ctx context.Context) {
	if !a.cfg.Metrics.Enabled {
		return
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", a.prom.Handler())
	srv := &http.Server{Addr: a.cfg.Metrics.ListenAddr, Handler: mux}
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			a.log.Warn("metrics server stopped", zap.Error(err))
		}
	}()
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()
	a.log.Info("metrics server listening", zap.String("addr", a.cfg.Metrics.ListenAddr))
}

// alertSink forwards every event to the inner sink and pushes the
// operator-facing subset to Telegram.
type alertSink struct {
	inner events.Sink
	tg    *alerts.Telegram
	log   *zap.Logger
}

func newAlertSink(inner events.Sink, tg *alerts.Telegram, log *zap.Logger) events.Sink {
	if tg == nil || !tg.Enabled() {
		return inner
	}
	return &alertSink{inner: inner, tg: tg, log: log}
}

func (s *alertSink) Emit(ev events.Event) {
	s.inner.Emit(ev)
	var msg string
	switch ev.Type {
	case events.EmergencyUnwindStart:
		msg = "EMERGENCY unwind started on " + ev.MarketID
	case events.CircuitBreakerTriggered:
		msg = "circuit breaker OPEN after failures on " + ev.MarketID
	case events.SafetyBlockActive:
		msg = "safety block ACTIVE on " + ev.MarketID
	case events.MarketDisabledNoBook:
		msg = "market disabled, order book never ready: " + ev.MarketID
	default:
		return
	}
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := s.tg.Send(ctx, msg); err != nil && s.log != nil {
			s.log.Warn("alert send failed", zap.Error(err))
		}
	}()
}
