package ledger

import (
	"math"
	"time"
)

type Side string

const (
	SideUp   Side = "UP"
	SideDown Side = "DOWN"
)

func (s Side) Opposite() Side {
	if s == SideUp {
		return SideDown
	}
	return SideUp
}

// Ledger tracks the running cost basis of one market's paired position.
// Shares and invested amounts only grow except through ApplySell.
type Ledger struct {
	Market       string
	UpShares     float64
	DownShares   float64
	UpInvested   float64
	DownInvested float64
	CreatedAt    time.Time
}

func New(market string, now time.Time) *Ledger {
	return &Ledger{Market: market, CreatedAt: now}
}

func (l *Ledger) ApplyBuy(side Side, shares, costUSD float64) {
	if shares <= 0 {
		return
	}
	switch side {
	case SideUp:
		l.UpShares += shares
		l.UpInvested += costUSD
	case SideDown:
		l.DownShares += shares
		l.DownInvested += costUSD
	}
}

// ApplySell reduces a side by shares, removing invested capital at the
// side's average cost so the remaining basis stays consistent.
func (l *Ledger) ApplySell(side Side, shares float64) {
	if shares <= 0 {
		return
	}
	switch side {
	case SideUp:
		if shares >= l.UpShares {
			l.UpShares = 0
			l.UpInvested = 0
			return
		}
		l.UpInvested -= shares * l.AvgUpPrice()
		l.UpShares -= shares
	case SideDown:
		if shares >= l.DownShares {
			l.DownShares = 0
			l.DownInvested = 0
			return
		}
		l.DownInvested -= shares * l.AvgDownPrice()
		l.DownShares -= shares
	}
}

func (l *Ledger) AvgUpPrice() float64 {
	if l.UpShares <= 0 {
		return 0
	}
	return l.UpInvested / l.UpShares
}

func (l *Ledger) AvgDownPrice() float64 {
	if l.DownShares <= 0 {
		return 0
	}
	return l.DownInvested / l.DownShares
}

func (l *Ledger) PairedShares() float64 {
	return math.Min(l.UpShares, l.DownShares)
}

func (l *Ledger) UnpairedShares() float64 {
	return math.Abs(l.UpShares - l.DownShares)
}

func (l *Ledger) DominantSide() Side {
	if l.DownShares > l.UpShares {
		return SideDown
	}
	return SideUp
}

// UnpairedNotionalUSD values the excess side at its own average cost,
// falling back to the mid price when that side has no basis yet.
func (l *Ledger) UnpairedNotionalUSD(midPrice float64) float64 {
	unpaired := l.UnpairedShares()
	if unpaired == 0 {
		return 0
	}
	price := l.AvgUpPrice()
	if l.DominantSide() == SideDown {
		price = l.AvgDownPrice()
	}
	if price == 0 {
		price = midPrice
	}
	return unpaired * price
}

// CostPerPair is the summed average entry price of matched UP and DOWN
// shares. It is only meaningful when PairedShares() > 0; callers must
// check that before acting on the value.
func (l *Ledger) CostPerPair() float64 {
	return l.AvgUpPrice() + l.AvgDownPrice()
}

// SkewRatio is max(up,down)/(up+down); 0.5 is perfectly balanced,
// 1.0 is fully one-sided. Returns 0 when flat.
func (l *Ledger) SkewRatio() float64 {
	total := l.UpShares + l.DownShares
	if total == 0 {
		return 0
	}
	return math.Max(l.UpShares, l.DownShares) / total
}

func (l *Ledger) IsFlat() bool {
	return l.UpShares == 0 && l.DownShares == 0
}
