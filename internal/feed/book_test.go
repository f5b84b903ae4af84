package feed

import (
	"encoding/json"
	"testing"
	"time"
)

func TestApplySingleBookMessage(t *testing.T) {
	c := NewBookCache()
	now := time.Unix(1000, 0)
	c.Apply(json.RawMessage(`{
		"event_type": "book",
		"asset_id": "tok-up",
		"bids": [{"price":"0.48","size":"100"},{"price":"0.49","size":"50"},{"price":"0.47","size":"10"}],
		"asks": [{"price":"0.53","size":"20"},{"price":"0.52","size":"80"}]
	}`), now)

	snap, ok := c.Snapshot("tok-up")
	if !ok {
		t.Fatalf("snapshot missing after apply")
	}
	if !snap.HasBid || snap.BestBid != 0.49 {
		t.Fatalf("best bid should be the highest: %+v", snap)
	}
	if !snap.HasAsk || snap.BestAsk != 0.52 {
		t.Fatalf("best ask should be the lowest: %+v", snap)
	}
	if !snap.Taken.Equal(now) {
		t.Fatalf("taken timestamp not stamped: %+v", snap)
	}
}

func TestApplyArrayOfMessages(t *testing.T) {
	c := NewBookCache()
	c.Apply(json.RawMessage(`[
		{"event_type":"book","asset_id":"a","bids":[{"price":"0.40","size":"1"}],"asks":[]},
		{"event_type":"book","asset_id":"b","bids":[],"asks":[{"price":"0.60","size":"1"}]}
	]`), time.Unix(1000, 0))

	if _, ok := c.Snapshot("a"); !ok {
		t.Fatalf("first message not applied")
	}
	if _, ok := c.Snapshot("b"); !ok {
		t.Fatalf("second message not applied")
	}
}

func TestApplyDropsJunk(t *testing.T) {
	c := NewBookCache()
	now := time.Unix(1000, 0)
	c.Apply(json.RawMessage(`not json`), now)
	c.Apply(json.RawMessage(``), now)
	c.Apply(json.RawMessage(`{"event_type":"price_change","asset_id":"a"}`), now)
	c.Apply(json.RawMessage(`{"event_type":"book","asset_id":""}`), now)
	if _, ok := c.Snapshot("a"); ok {
		t.Fatalf("non-book message must not populate the cache")
	}

	// Zero and unparseable levels are skipped, not treated as prices.
	c.Apply(json.RawMessage(`{
		"event_type":"book","asset_id":"c",
		"bids":[{"price":"0","size":"10"},{"price":"abc","size":"10"},{"price":"0.3","size":"0"}],
		"asks":[]
	}`), now)
	snap, ok := c.Snapshot("c")
	if !ok {
		t.Fatalf("book message should still land")
	}
	if snap.HasBid || snap.HasAsk {
		t.Fatalf("invalid levels must not produce prices: %+v", snap)
	}
}

func TestSnapshotMidFallsBackToSingleSide(t *testing.T) {
	both := BookSnapshot{HasBid: true, BestBid: 0.4, HasAsk: true, BestAsk: 0.6}
	if got := both.Mid(); got != 0.5 {
		t.Fatalf("mid of both sides: %f", got)
	}
	bidOnly := BookSnapshot{HasBid: true, BestBid: 0.4}
	if got := bidOnly.Mid(); got != 0.4 {
		t.Fatalf("bid-only mid: %f", got)
	}
	askOnly := BookSnapshot{HasAsk: true, BestAsk: 0.6}
	if got := askOnly.Mid(); got != 0.6 {
		t.Fatalf("ask-only mid: %f", got)
	}
	empty := BookSnapshot{}
	if empty.HasPrice() || empty.Mid() != 0 {
		t.Fatalf("empty snapshot should have no price")
	}
}
