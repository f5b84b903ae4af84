package events

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"go.uber.org/zap"
)

type memoryWriter struct {
	mu     sync.Mutex
	events []Event
	err    error
}

func (m *memoryWriter) WriteEvent(ctx context.Context, ev Event) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return m.err
	}
	m.events = append(m.events, ev)
	return nil
}

func (m *memoryWriter) snapshot() []Event {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]Event(nil), m.events...)
}

func TestQueueEmitNeverBlocksAndDropsOldest(t *testing.T) {
	q := NewQueue(2, nil, nil, zap.NewNop())
	for i := 0; i < 5; i++ {
		q.Emit(Event{Type: ActionSkipped, MarketID: fmt.Sprintf("m%d", i)})
	}
	if got := q.Dropped(); got != 3 {
		t.Fatalf("expected 3 drops, got %d", got)
	}

	// The two newest events survive.
	writer := &memoryWriter{}
	q = NewQueue(2, writer, nil, zap.NewNop())
	for i := 0; i < 3; i++ {
		q.Emit(Event{Type: ActionSkipped, MarketID: fmt.Sprintf("m%d", i)})
	}
	ctx, cancel := context.WithCancel(context.Background())
	go q.Run(ctx)
	waitFor(t, func() bool { return len(writer.snapshot()) == 2 })
	cancel()

	got := writer.snapshot()
	if got[0].MarketID != "m1" || got[1].MarketID != "m2" {
		t.Fatalf("expected newest events to survive, got %+v", got)
	}
}

func TestQueueSwallowsWriterErrors(t *testing.T) {
	writer := &memoryWriter{err: fmt.Errorf("db down")}
	q := NewQueue(4, writer, nil, zap.NewNop())
	q.Emit(Event{Type: DegradedModeEnter, MarketID: "mkt"})

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()
	q.Run(ctx) // must return without panicking once the context ends
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("condition never met")
}
