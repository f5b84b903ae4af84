package state

import (
	"context"
	"strings"

	"pm-updown-bot/internal/ledger"
)

const ledgerKeyPrefix = "ledger:"

// SaveLedger checkpoints a ledger snapshot so positions survive a
// restart. Encoding is msgpack for compactness.
func SaveLedger(ctx context.Context, store Store, snap ledger.Snapshot) error {
	data, err := ledger.EncodeSnapshot(snap)
	if err != nil {
		return err
	}
	return store.Set(ctx, ledgerKeyPrefix+snap.Market, data)
}

func DeleteLedger(ctx context.Context, store Store, market string) error {
	return store.Delete(ctx, ledgerKeyPrefix+market)
}

// LoadLedgers restores all checkpointed ledgers, keyed by market id.
// Corrupt entries are skipped rather than failing startup.
func LoadLedgers(ctx context.Context, store Store) (map[string]*ledger.Ledger, error) {
	raw, err := store.List(ctx, ledgerKeyPrefix)
	if err != nil {
		return nil, err
	}
	out := make(map[string]*ledger.Ledger, len(raw))
	for key, data := range raw {
		snap, err := ledger.DecodeSnapshot(data)
		if err != nil {
			continue
		}
		market := strings.TrimPrefix(key, ledgerKeyPrefix)
		if snap.Market == "" {
			snap.Market = market
		}
		out[market] = ledger.Restore(snap)
	}
	return out, nil
}
