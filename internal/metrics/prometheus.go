package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const promNamespace = "pm_updown_bot"

type promCounter struct {
	counter prometheus.Counter
}

func (p promCounter) Inc() {
	p.counter.Inc()
}

type Prometheus struct {
	Metrics *Metrics

	registry *prometheus.Registry
}

func NewPrometheus() *Prometheus {
	registry := prometheus.NewRegistry()
	counter := func(name, help string) prometheus.Counter {
		return prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: promNamespace,
			Name:      name,
			Help:      help,
		})
	}
	ordersPlaced := counter("orders_placed_total", "Total number of orders placed.")
	ordersFailed := counter("orders_failed_total", "Total number of order placement failures.")
	ordersRejected := counter("orders_rejected_total", "Total number of orders rejected by policy gates.")
	hedgeAttempts := counter("hedge_attempts_total", "Total number of hedge escalation attempts.")
	hedgeFilled := counter("hedge_filled_total", "Total number of hedges filled by the escalator.")
	hedgeAborted := counter("hedge_aborted_total", "Total number of hedge escalations aborted.")
	degradedEntered := counter("degraded_entered_total", "Total number of degraded mode entries.")
	emergencyStarted := counter("emergency_started_total", "Total number of emergency unwinds started.")
	breakerTripped := counter("breaker_tripped_total", "Total number of circuit breaker trips.")
	marketsDisabled := counter("markets_disabled_total", "Total number of markets disabled by the readiness gate.")
	eventsDropped := counter("events_dropped_total", "Total number of events dropped by the sink queue.")

	registry.MustRegister(ordersPlaced, ordersFailed, ordersRejected, hedgeAttempts, hedgeFilled,
		hedgeAborted, degradedEntered, emergencyStarted, breakerTripped, marketsDisabled, eventsDropped)

	m := &Metrics{
		OrdersPlaced:     promCounter{ordersPlaced},
		OrdersFailed:     promCounter{ordersFailed},
		OrdersRejected:   promCounter{ordersRejected},
		HedgeAttempts:    promCounter{hedgeAttempts},
		HedgeFilled:      promCounter{hedgeFilled},
		HedgeAborted:     promCounter{hedgeAborted},
		DegradedEntered:  promCounter{degradedEntered},
		EmergencyStarted: promCounter{emergencyStarted},
		BreakerTripped:   promCounter{breakerTripped},
		MarketsDisabled:  promCounter{marketsDisabled},
		EventsDropped:    promCounter{eventsDropped},
	}

	return &Prometheus{Metrics: m, registry: registry}
}

func (p *Prometheus) Handler() http.Handler {
	return promhttp.HandlerFor(p.registry, promhttp.HandlerOpts{})
}
