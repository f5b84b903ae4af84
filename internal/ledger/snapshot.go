package ledger

import (
	"time"

	"github.com/vmihailenco/msgpack/v5"
)

// Snapshot is the aggregation emitted when a market settles and the
// compact form checkpointed to the local state store.
type Snapshot struct {
	Market       string    `msgpack:"market" json:"market"`
	UpShares     float64   `msgpack:"up_shares" json:"up_shares"`
	DownShares   float64   `msgpack:"down_shares" json:"down_shares"`
	UpInvested   float64   `msgpack:"up_invested" json:"up_invested"`
	DownInvested float64   `msgpack:"down_invested" json:"down_invested"`
	Paired       float64   `msgpack:"paired" json:"paired"`
	Unpaired     float64   `msgpack:"unpaired" json:"unpaired"`
	CostPerPair  float64   `msgpack:"cost_per_pair" json:"cost_per_pair"`
	CreatedAt    time.Time `msgpack:"created_at" json:"created_at"`
	TakenAt      time.Time `msgpack:"taken_at" json:"taken_at"`
}

func (l *Ledger) Snapshot(now time.Time) Snapshot {
	return Snapshot{
		Market:       l.Market,
		UpShares:     l.UpShares,
		DownShares:   l.DownShares,
		UpInvested:   l.UpInvested,
		DownInvested: l.DownInvested,
		Paired:       l.PairedShares(),
		Unpaired:     l.UnpairedShares(),
		CostPerPair:  l.CostPerPair(),
		CreatedAt:    l.CreatedAt,
		TakenAt:      now,
	}
}

func EncodeSnapshot(s Snapshot) ([]byte, error) {
	return msgpack.Marshal(s)
}

func DecodeSnapshot(data []byte) (Snapshot, error) {
	var s Snapshot
	err := msgpack.Unmarshal(data, &s)
	return s, err
}

// Restore rebuilds a ledger from a checkpointed snapshot.
func Restore(s Snapshot) *Ledger {
	return &Ledger{
		Market:       s.Market,
		UpShares:     s.UpShares,
		DownShares:   s.DownShares,
		UpInvested:   s.UpInvested,
		DownInvested: s.DownInvested,
		CreatedAt:    s.CreatedAt,
	}
}
