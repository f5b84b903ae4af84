package feed

import (
	"encoding/json"
	"strconv"
	"strings"
	"sync"
	"time"
)

// BookSnapshot is the per-token view the readiness gate and engine
// consume: best bid/ask plus when the snapshot was taken.
type BookSnapshot struct {
	TokenID string
	HasBid  bool
	HasAsk  bool
	BestBid float64
	BestAsk float64
	Taken   time.Time
}

func (b BookSnapshot) HasPrice() bool {
	return b.HasBid || b.HasAsk
}

// Mid falls back to the single populated side when the other is empty.
func (b BookSnapshot) Mid() float64 {
	switch {
	case b.HasBid && b.HasAsk:
		return (b.BestBid + b.BestAsk) / 2
	case b.HasBid:
		return b.BestBid
	case b.HasAsk:
		return b.BestAsk
	}
	return 0
}

// BookCache holds the latest snapshot per token id.
type BookCache struct {
	mu    sync.RWMutex
	books map[string]BookSnapshot
}

func NewBookCache() *BookCache {
	return &BookCache{books: make(map[string]BookSnapshot)}
}

func (c *BookCache) Snapshot(tokenID string) (BookSnapshot, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	snap, ok := c.books[tokenID]
	return snap, ok
}

func (c *BookCache) Put(snap BookSnapshot) {
	c.mu.Lock()
	c.books[snap.TokenID] = snap
	c.mu.Unlock()
}

type bookMessage struct {
	EventType string      `json:"event_type"`
	AssetID   string      `json:"asset_id"`
	Bids      []bookLevel `json:"bids"`
	Asks      []bookLevel `json:"asks"`
}

type bookLevel struct {
	Price string `json:"price"`
	Size  string `json:"size"`
}

// Apply parses one feed message and updates the cache. Messages come as
// either a single object or an array of them; anything unparseable is
// dropped silently since the gate treats missing books as not ready.
func (c *BookCache) Apply(data json.RawMessage, now time.Time) {
	trimmed := strings.TrimSpace(string(data))
	if trimmed == "" {
		return
	}
	if trimmed[0] == '[' {
		var msgs []bookMessage
		if err := json.Unmarshal(data, &msgs); err != nil {
			return
		}
		for _, msg := range msgs {
			c.applyOne(msg, now)
		}
		return
	}
	var msg bookMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		return
	}
	c.applyOne(msg, now)
}

func (c *BookCache) applyOne(msg bookMessage, now time.Time) {
	if msg.EventType != "book" || msg.AssetID == "" {
		return
	}
	snap := BookSnapshot{TokenID: msg.AssetID, Taken: now}
	for _, level := range msg.Bids {
		price := parsePrice(level.Price)
		size := parsePrice(level.Size)
		if price <= 0 || size <= 0 {
			continue
		}
		if !snap.HasBid || price > snap.BestBid {
			snap.HasBid = true
			snap.BestBid = price
		}
	}
	for _, level := range msg.Asks {
		price := parsePrice(level.Price)
		size := parsePrice(level.Size)
		if price <= 0 || size <= 0 {
			continue
		}
		if !snap.HasAsk || price < snap.BestAsk {
			snap.HasAsk = true
			snap.BestAsk = price
		}
	}
	c.Put(snap)
}

func parsePrice(s string) float64 {
	v, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
	if err != nil {
		return 0
	}
	return v
}
