package state_test

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"pm-updown-bot/internal/ledger"
	"pm-updown-bot/internal/state"
	"pm-updown-bot/internal/state/sqlite"
)

func openStore(t *testing.T) state.Store {
	t.Helper()
	store, err := sqlite.New(filepath.Join(t.TempDir(), "state.db"))
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { store.Close() })
	return store
}

func TestSaveAndLoadLedgers(t *testing.T) {
	store := openStore(t)
	ctx := context.Background()
	now := time.Unix(1000, 0)

	l := ledger.New("btc-updown-1400", now)
	l.ApplyBuy(ledger.SideUp, 10, 4.8)
	l.ApplyBuy(ledger.SideDown, 6, 3.0)
	if err := state.SaveLedger(ctx, store, l.Snapshot(now)); err != nil {
		t.Fatalf("save: %v", err)
	}

	loaded, err := state.LoadLedgers(ctx, store)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	got, ok := loaded["btc-updown-1400"]
	if !ok {
		t.Fatalf("ledger not restored: %v", loaded)
	}
	if got.UpShares != 10 || got.DownShares != 6 {
		t.Fatalf("restored shares wrong: %+v", got)
	}
	if got.UpInvested != 4.8 || got.DownInvested != 3.0 {
		t.Fatalf("restored invested wrong: %+v", got)
	}
}

func TestLoadLedgersSkipsCorruptEntries(t *testing.T) {
	store := openStore(t)
	ctx := context.Background()
	now := time.Unix(1000, 0)

	good := ledger.New("good", now)
	good.ApplyBuy(ledger.SideUp, 5, 2.5)
	if err := state.SaveLedger(ctx, store, good.Snapshot(now)); err != nil {
		t.Fatalf("save: %v", err)
	}
	if err := store.Set(ctx, "ledger:bad", []byte("not msgpack")); err != nil {
		t.Fatalf("set: %v", err)
	}

	loaded, err := state.LoadLedgers(ctx, store)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if len(loaded) != 1 {
		t.Fatalf("corrupt entry should be skipped, got %d ledgers", len(loaded))
	}
	if _, ok := loaded["good"]; !ok {
		t.Fatalf("good ledger missing")
	}
}

func TestDeleteLedger(t *testing.T) {
	store := openStore(t)
	ctx := context.Background()
	now := time.Unix(1000, 0)

	l := ledger.New("settled", now)
	l.ApplyBuy(ledger.SideUp, 5, 2.5)
	if err := state.SaveLedger(ctx, store, l.Snapshot(now)); err != nil {
		t.Fatalf("save: %v", err)
	}
	if err := state.DeleteLedger(ctx, store, "settled"); err != nil {
		t.Fatalf("delete: %v", err)
	}

	loaded, err := state.LoadLedgers(ctx, store)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if len(loaded) != 0 {
		t.Fatalf("ledger survived delete: %v", loaded)
	}
}
