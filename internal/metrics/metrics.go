package metrics

type Counter interface {
	Inc()
}

type Metrics struct {
	OrdersPlaced     Counter
	OrdersFailed     Counter
	OrdersRejected   Counter
	HedgeAttempts    Counter
	HedgeFilled      Counter
	HedgeAborted     Counter
	DegradedEntered  Counter
	EmergencyStarted Counter
	BreakerTripped   Counter
	MarketsDisabled  Counter
	EventsDropped    Counter
}

type noopCounter struct{}

func (noopCounter) Inc() {}

func NewNoop() *Metrics {
	n := noopCounter{}
	return &Metrics{
		OrdersPlaced:     n,
		OrdersFailed:     n,
		OrdersRejected:   n,
		HedgeAttempts:    n,
		HedgeFilled:      n,
		HedgeAborted:     n,
		DegradedEntered:  n,
		EmergencyStarted: n,
		BreakerTripped:   n,
		MarketsDisabled:  n,
		EventsDropped:    n,
	}
}
