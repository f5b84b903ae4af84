package gateway

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"
)

// Backoff tracks transient gateway trouble and produces capped
// exponential waits. Invalid payloads and missing order ids are counted
// on separate streaks since they point at different upstream problems.
type Backoff struct {
	floor   time.Duration
	ceiling time.Duration

	mu                   sync.Mutex
	noResponseStreak     int
	invalidPayloadStreak int
	noOrderIDStreak      int
}

func NewBackoff(floor, ceiling time.Duration) *Backoff {
	if floor <= 0 {
		floor = 200 * time.Millisecond
	}
	if ceiling < floor {
		ceiling = 5 * time.Second
	}
	return &Backoff{floor: floor, ceiling: ceiling}
}

type FailureKind int

const (
	FailureNoResponse FailureKind = iota
	FailureInvalidPayload
	FailureNoOrderID
)

func (b *Backoff) RecordFailure(kind FailureKind) {
	b.mu.Lock()
	defer b.mu.Unlock()
	switch kind {
	case FailureInvalidPayload:
		b.invalidPayloadStreak++
	case FailureNoOrderID:
		b.noOrderIDStreak++
	default:
		b.noResponseStreak++
	}
}

func (b *Backoff) RecordSuccess() {
	b.mu.Lock()
	b.noResponseStreak = 0
	b.invalidPayloadStreak = 0
	b.noOrderIDStreak = 0
	b.mu.Unlock()
}

// Next returns the wait before the next attempt, doubling per
// consecutive failure of any kind and capped at the ceiling.
func (b *Backoff) Next() time.Duration {
	b.mu.Lock()
	streak := b.noResponseStreak + b.invalidPayloadStreak + b.noOrderIDStreak
	b.mu.Unlock()
	if streak <= 0 {
		return 0
	}
	wait := b.floor
	for i := 1; i < streak; i++ {
		wait *= 2
		if wait >= b.ceiling {
			return b.ceiling
		}
	}
	if wait > b.ceiling {
		wait = b.ceiling
	}
	return wait
}

func (b *Backoff) Streaks() (noResponse, invalidPayload, noOrderID int) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.noResponseStreak, b.invalidPayloadStreak, b.noOrderIDStreak
}

// Wait sleeps for the current backoff, returning early if the context
// is cancelled.
func (b *Backoff) Wait(ctx context.Context) error {
	d := b.Next()
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

// ClassifyError maps a gateway error to the failure kind driving the
// matching streak counter.
func ClassifyError(err error) (FailureKind, bool) {
	switch {
	case err == nil:
		return 0, false
	case errors.Is(err, ErrNoResponse):
		if containsInvalidPayload(err) {
			return FailureInvalidPayload, true
		}
		if containsMissingOrderID(err) {
			return FailureNoOrderID, true
		}
		return FailureNoResponse, true
	default:
		return FailureNoResponse, false
	}
}

func containsInvalidPayload(err error) bool {
	return err != nil && strings.Contains(err.Error(), "invalid payload")
}

func containsMissingOrderID(err error) bool {
	return err != nil && strings.Contains(err.Error(), "missing order id")
}
