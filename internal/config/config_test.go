package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestLoadAppliesDefaults(t *testing.T) {
	cfg, err := Load(writeConfig(t, `
log:
  level: debug
markets:
  - id: btc-updown-1400
    asset: BTC
    up_token_id: tok-up
    down_token_id: tok-down
    closes_at: 2026-08-24T14:00:00Z
`))
	if err != nil {
		t.Fatalf("load failed: %v", err)
	}
	if cfg.Log.Level != "debug" {
		t.Fatalf("explicit value overridden: %q", cfg.Log.Level)
	}
	if cfg.Gateway.BaseURL != "https://clob.polymarket.com" {
		t.Fatalf("gateway default missing: %q", cfg.Gateway.BaseURL)
	}
	if cfg.Engine.TickInterval != time.Second {
		t.Fatalf("tick default missing: %s", cfg.Engine.TickInterval)
	}
	if cfg.Risk.CPPEmergencyThreshold != 1.05 || cfg.Risk.CPPImplausibleThreshold != 2.0 {
		t.Fatalf("risk defaults missing: %+v", cfg.Risk)
	}
	if cfg.Readiness.Freshness != 2*time.Second || cfg.Readiness.DisableTimeout != 12*time.Second {
		t.Fatalf("readiness defaults missing: %+v", cfg.Readiness)
	}
	if cfg.Hedge.MinLotShares != 5 || cfg.Hedge.SizeReductionFactor != 0.8 {
		t.Fatalf("hedge defaults missing: %+v", cfg.Hedge)
	}
	if cfg.Metrics.ListenAddr != ":9100" {
		t.Fatalf("metrics default missing: %q", cfg.Metrics.ListenAddr)
	}
	if len(cfg.Markets) != 1 || cfg.Markets[0].UpTokenID != "tok-up" {
		t.Fatalf("markets not parsed: %+v", cfg.Markets)
	}
	if cfg.Markets[0].ClosesAt.IsZero() {
		t.Fatalf("closes_at not parsed")
	}
}

func TestLoadRejectsImplausibleBelowEmergency(t *testing.T) {
	_, err := Load(writeConfig(t, `
risk:
  cpp_emergency_threshold: 1.10
  cpp_implausible_threshold: 1.05
`))
	if err == nil || !strings.Contains(err.Error(), "cpp_implausible_threshold") {
		t.Fatalf("expected threshold ordering error, got %v", err)
	}
}

func TestLoadRejectsBadSkewCap(t *testing.T) {
	_, err := Load(writeConfig(t, `
risk:
  hard_skew_cap: 1.4
`))
	if err == nil || !strings.Contains(err.Error(), "hard_skew_cap") {
		t.Fatalf("expected skew cap error, got %v", err)
	}
}

func TestLoadRejectsBadSizeFactor(t *testing.T) {
	_, err := Load(writeConfig(t, `
hedge:
  size_reduction_factor: 1.5
`))
	if err == nil || !strings.Contains(err.Error(), "size_reduction_factor") {
		t.Fatalf("expected size factor error, got %v", err)
	}
}

func TestLoadRejectsIncompleteMarket(t *testing.T) {
	_, err := Load(writeConfig(t, `
markets:
  - id: btc-updown-1400
    up_token_id: tok-up
`))
	if err == nil || !strings.Contains(err.Error(), "down_token_id") {
		t.Fatalf("expected missing token error, got %v", err)
	}

	_, err = Load(writeConfig(t, `
markets:
  - up_token_id: a
    down_token_id: b
`))
	if err == nil || !strings.Contains(err.Error(), "id is required") {
		t.Fatalf("expected missing id error, got %v", err)
	}
}

func TestLoadMissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "nope.yaml")); err == nil {
		t.Fatalf("expected error for missing file")
	}
	if _, err := Load(""); err == nil {
		t.Fatalf("expected error for empty path")
	}
}
