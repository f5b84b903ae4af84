package risk

import "time"

// Dwell tracks how long a mode flag has been active across sessions.
// Total time is the flushed accumulation plus the open session, so it
// can be queried without forcing an exit.
type Dwell struct {
	active      bool
	enteredAt   time.Time
	exitedAt    time.Time
	accumulated time.Duration
}

func (d *Dwell) Enter(now time.Time) bool {
	if d.active {
		return false
	}
	d.active = true
	d.enteredAt = now
	return true
}

func (d *Dwell) Exit(now time.Time) bool {
	if !d.active {
		return false
	}
	d.accumulated += now.Sub(d.enteredAt)
	d.active = false
	d.exitedAt = now
	return true
}

func (d *Dwell) Active() bool {
	return d.active
}

func (d *Dwell) EnteredAt() time.Time {
	return d.enteredAt
}

func (d *Dwell) ExitedAt() time.Time {
	return d.exitedAt
}

// Flush folds the open session into the accumulated total without
// leaving the mode, then returns the total.
func (d *Dwell) Flush(now time.Time) time.Duration {
	if d.active {
		d.accumulated += now.Sub(d.enteredAt)
		d.enteredAt = now
	}
	return d.accumulated
}

// Total is the accumulated time plus the open session, read-only.
func (d *Dwell) Total(now time.Time) time.Duration {
	if d.active {
		return d.accumulated + now.Sub(d.enteredAt)
	}
	return d.accumulated
}
