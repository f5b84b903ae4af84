package events

import (
	"context"
	"sync/atomic"

	"pm-updown-bot/internal/metrics"

	"go.uber.org/zap"
)

// Writer is where queued events eventually land.
type Writer interface {
	WriteEvent(ctx context.Context, ev Event) error
}

// Queue is a bounded asynchronous sink. Emit never blocks: when the
// queue is full the oldest event is dropped to make room, so sustained
// sink trouble costs history, not caller latency.
type Queue struct {
	ch      chan Event
	writer  Writer
	log     *zap.Logger
	dropped metrics.Counter
	drops   atomic.Uint64
}

func NewQueue(cap int, writer Writer, dropped metrics.Counter, log *zap.Logger) *Queue {
	if cap <= 0 {
		cap = 1024
	}
	return &Queue{
		ch:      make(chan Event, cap),
		writer:  writer,
		log:     log,
		dropped: dropped,
	}
}

func (q *Queue) Emit(ev Event) {
	for {
		select {
		case q.ch <- ev:
			return
		default:
		}
		select {
		case <-q.ch:
			q.drops.Add(1)
			if q.dropped != nil {
				q.dropped.Inc()
			}
		default:
		}
	}
}

func (q *Queue) Dropped() uint64 {
	return q.drops.Load()
}

// Run drains the queue until the context ends. Write errors are logged
// and swallowed; the sink contract is best-effort.
func (q *Queue) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev := <-q.ch:
			if q.writer == nil {
				continue
			}
			if err := q.writer.WriteEvent(ctx, ev); err != nil && q.log != nil {
				q.log.Warn("event write failed",
					zap.String("event_type", string(ev.Type)),
					zap.String("market_id", ev.MarketID),
					zap.Error(err),
				)
			}
		}
	}
}
