package risk

import (
	"testing"
	"time"
)

func TestDwellAccumulatesAcrossSessions(t *testing.T) {
	var d Dwell
	base := time.Unix(1000, 0)

	if !d.Enter(base) {
		t.Fatalf("first enter should change state")
	}
	if d.Enter(base.Add(time.Second)) {
		t.Fatalf("re-enter should be a no-op")
	}
	if !d.Exit(base.Add(10 * time.Second)) {
		t.Fatalf("exit should change state")
	}
	if d.Exit(base.Add(11 * time.Second)) {
		t.Fatalf("re-exit should be a no-op")
	}

	d.Enter(base.Add(20 * time.Second))
	if got := d.Total(base.Add(25 * time.Second)); got != 15*time.Second {
		t.Fatalf("expected 15s total, got %s", got)
	}
}

func TestDwellFlushKeepsSessionOpen(t *testing.T) {
	var d Dwell
	base := time.Unix(1000, 0)
	d.Enter(base)

	if got := d.Flush(base.Add(30 * time.Second)); got != 30*time.Second {
		t.Fatalf("expected 30s flushed, got %s", got)
	}
	if !d.Active() {
		t.Fatalf("flush must not exit the mode")
	}
	if got := d.Total(base.Add(40 * time.Second)); got != 40*time.Second {
		t.Fatalf("expected 40s total after flush, got %s", got)
	}
}
