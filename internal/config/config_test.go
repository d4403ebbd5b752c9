package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/lucylow/quaternion/internal/economy"
)

func TestLoadServerDefaults(t *testing.T) {
	s, err := LoadServer()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if s.Addr != ":8080" || s.TickInterval != time.Second || s.NarratorPerMin != 20 {
		t.Fatalf("unexpected defaults %+v", s)
	}
}

func TestLoadServerFromEnv(t *testing.T) {
	t.Setenv("QUATERNION_SEED", "77")
	t.Setenv("QUATERNION_TICK_INTERVAL", "250ms")
	t.Setenv("ANTHROPIC_API_KEY", "sk-test")

	s, err := LoadServer()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if s.Seed != 77 || s.TickInterval != 250*time.Millisecond || s.AnthropicKey != "sk-test" {
		t.Fatalf("env not applied: %+v", s)
	}
}

func TestLoadServerErrors(t *testing.T) {
	t.Setenv("QUATERNION_SEED", "not-a-number")
	if _, err := LoadServer(); err == nil || !strings.Contains(err.Error(), "parse env:") {
		t.Fatalf("expected parse env error, got %v", err)
	}

	t.Setenv("QUATERNION_SEED", "1")
	t.Setenv("QUATERNION_TICK_INTERVAL", "0s")
	if _, err := LoadServer(); err == nil {
		t.Fatal("expected error for zero tick interval")
	}
}

func TestLoadTuningDefaults(t *testing.T) {
	tn, err := LoadTuning("")
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if err := tn.Validate(); err != nil {
		t.Fatalf("defaults invalid: %v", err)
	}
	if tn.TicksPerRound != 300 || tn.Economy.Market.MaxOffers != 3 {
		t.Fatalf("unexpected defaults %+v", tn)
	}
}

func TestLoadTuningLayersOntoDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "tuning.yaml")
	raw := `
economy:
  ledger:
    start:
      ore: 500
  events:
    frequency: 30s
  market:
    max_risk: 0.5
world:
  max_radius: 4
ticks_per_round: 120
`
	if err := os.WriteFile(path, []byte(raw), 0o644); err != nil {
		t.Fatal(err)
	}

	tn, err := LoadTuning(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if tn.Economy.Ledger.Start[economy.Ore] != 500 {
		t.Fatalf("ore start not applied: %v", tn.Economy.Ledger.Start)
	}
	if tn.Economy.Ledger.Start[economy.Energy] != 40 {
		t.Fatalf("energy start should keep its default, got %v", tn.Economy.Ledger.Start[economy.Energy])
	}
	if tn.Economy.Events.Frequency != 30*time.Second || tn.Economy.Events.MaxActive != 3 {
		t.Fatalf("events not layered: %+v", tn.Economy.Events)
	}
	if tn.Economy.Market.MaxRisk != 0.5 || tn.Economy.Market.TTL != 240*time.Second {
		t.Fatalf("market not layered: %+v", tn.Economy.Market)
	}
	if tn.World.MaxRadius != 4 || tn.TicksPerRound != 120 || tn.TicksPerSave != 60 {
		t.Fatalf("unexpected tuning %+v", tn)
	}
	if len(tn.Economy.Routes) != 6 {
		t.Fatalf("routes should keep defaults, got %d", len(tn.Economy.Routes))
	}
}

func TestMergeRejectsBadTuning(t *testing.T) {
	tests := map[string]string{
		"unknown key":     "economy:\n  ledgr: {}\n",
		"bad commodity":   "economy:\n  ledger:\n    start:\n      gold: 5\n",
		"self route":      "economy:\n  routes:\n    - {from: ore, to: ore, base_rate: 1}\n",
		"zero frequency":  "economy:\n  events:\n    frequency: 0s\n",
		"risk above one":  "economy:\n  market:\n    max_risk: 1.5\n",
		"radius too wide": "world:\n  max_radius: 50\n",
	}
	for name, raw := range tests {
		tn := DefaultTuning()
		if err := tn.Merge([]byte(raw)); err == nil {
			t.Fatalf("%s: expected error", name)
		}
	}
}

func TestMergeEmptyDocument(t *testing.T) {
	tn := DefaultTuning()
	if err := tn.Merge(nil); err != nil {
		t.Fatalf("empty tuning should be valid: %v", err)
	}
}
