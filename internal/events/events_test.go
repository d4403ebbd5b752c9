package events

import (
	"math"
	"testing"
	"time"

	"github.com/lucylow/quaternion/internal/economy"
	"github.com/lucylow/quaternion/internal/entropy"
)

var t0 = time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)

func approx(a, b float64) bool { return math.Abs(a-b) <= 1e-6 }

func singleTemplateConfig() Config {
	cfg := DefaultConfig()
	cfg.Templates = []Template{{
		ID:            "test_front",
		Title:         "Test Front",
		Description:   "A test front rolls in.",
		Targets:       []economy.Commodity{economy.Ore, economy.Energy},
		MinMultiplier: 0.5,
		MaxMultiplier: 1.5,
	}}
	return cfg
}

// spawnScript forces a two-target spawn at ×1.25 lasting 120s:
// chance, template, count, pick, pick, multiplier, duration.
func spawnScript() *entropy.Sequence {
	return entropy.NewSequence(0.1, 0, 0.9, 0, 0, 0.75, 0.5)
}

func TestSpawnOnTimer(t *testing.T) {
	e := New(singleTemplateConfig(), spawnScript())

	if active, spawned := e.Update(t0, 0); len(active) != 0 || len(spawned) != 0 {
		t.Fatalf("nothing should spawn on the first update, got %v", spawned)
	}
	if _, spawned := e.Update(t0.Add(119*time.Second), 0); len(spawned) != 0 {
		t.Fatal("spawned before the frequency elapsed")
	}

	active, spawned := e.Update(t0.Add(120*time.Second), 0)
	if len(spawned) != 1 || len(active) != 1 {
		t.Fatalf("expected one spawned event, got active=%d spawned=%d", len(active), len(spawned))
	}
	ev := spawned[0]
	if ev.ID == "" || ev.Template != "test_front" || ev.Source != SourceWorld {
		t.Fatalf("unexpected event identity: %+v", ev)
	}
	if !approx(ev.Modifiers[economy.Ore], 1.25) || !approx(ev.Modifiers[economy.Energy], 1.25) {
		t.Fatalf("unexpected modifiers: %v", ev.Modifiers)
	}
	if !ev.Positive {
		t.Fatal("multiplier ≥ 1 must be positive")
	}
	if got := ev.End.Sub(ev.Start); got != 120*time.Second {
		t.Fatalf("expected 120s duration, got %s", got)
	}

	mods := e.Modifiers(t0.Add(150 * time.Second))
	if !approx(mods[economy.Ore], 1.25) || mods[economy.Biomass] != 1 {
		t.Fatalf("unexpected combined modifiers: %v", mods)
	}
}

func TestEventsExpire(t *testing.T) {
	e := New(singleTemplateConfig(), spawnScript())
	e.Update(t0, 0)
	_, spawned := e.Update(t0.Add(120*time.Second), 0)
	first := spawned[0]

	if active, _ := e.Update(t0.Add(239*time.Second), 0); len(active) != 1 {
		t.Fatalf("event should still be active, got %d", len(active))
	}

	// The timer fires again at 240s, replacing the expired event.
	active, _ := e.Update(t0.Add(240*time.Second), 0)
	for _, ev := range active {
		if ev.ID == first.ID {
			t.Fatal("expired event still active")
		}
	}
	if _, ok := e.Get(first.ID); ok {
		t.Fatal("expired event still tracked")
	}
	if first.Status(t0.Add(240*time.Second)) != StatusExpired {
		t.Fatal("expected expired status at end time")
	}
}

func TestSpawnChanceScalesWithInstability(t *testing.T) {
	cfg := singleTemplateConfig()
	cfg.BaseChance = 0

	calm := New(cfg, entropy.NewSequence(0.3, 0, 0, 0, 0.5, 0.5))
	calm.Update(t0, 0)
	if _, spawned := calm.Update(t0.Add(cfg.Frequency), 0); len(spawned) != 0 {
		t.Fatal("no spawn expected at zero chance")
	}

	turbulent := New(cfg, entropy.NewSequence(0.3, 0, 0, 0, 0.5, 0.5))
	turbulent.Update(t0, 0)
	if _, spawned := turbulent.Update(t0.Add(cfg.Frequency), 200); len(spawned) != 1 {
		t.Fatal("expected spawn at instability 200 (p=0.4, draw 0.3)")
	}
}

func TestMaxActiveBlocksSpawn(t *testing.T) {
	cfg := singleTemplateConfig()
	cfg.MaxActive = 1
	e := New(cfg, spawnScript())
	e.Inject(Event{Modifiers: economy.Amounts{economy.Data: 0.5}, Start: t0, End: t0.Add(time.Hour)})

	e.Update(t0, 0)
	if _, spawned := e.Update(t0.Add(cfg.Frequency), 0); len(spawned) != 0 {
		t.Fatal("spawned past MaxActive")
	}
}

func TestCombineIsMultiplicative(t *testing.T) {
	mods := Combine([]Event{
		{Modifiers: economy.Amounts{economy.Ore: 1.5, economy.Energy: 2}},
		{Modifiers: economy.Amounts{economy.Ore: 0.5}},
	})
	if !approx(mods[economy.Ore], 0.75) || !approx(mods[economy.Energy], 2) {
		t.Fatalf("unexpected product: %v", mods)
	}
	if mods[economy.Biomass] != 1 || mods[economy.Data] != 1 {
		t.Fatalf("untouched commodities must be 1: %v", mods)
	}
}

func TestScheduledEventNotActive(t *testing.T) {
	e := New(singleTemplateConfig(), entropy.NewSequence(0.999))
	ev := e.Inject(Event{
		Modifiers: economy.Amounts{economy.Ore: 2},
		Start:     t0.Add(time.Minute),
		End:       t0.Add(2 * time.Minute),
		Source:    SourceMarket,
	})
	if ev.ID == "" {
		t.Fatal("inject must assign an id")
	}
	if ev.Status(t0) != StatusScheduled {
		t.Fatalf("expected scheduled, got %s", ev.Status(t0))
	}
	if mods := e.Modifiers(t0); mods[economy.Ore] != 1 {
		t.Fatalf("scheduled event applied early: %v", mods)
	}
	if mods := e.Modifiers(t0.Add(90 * time.Second)); mods[economy.Ore] != 2 {
		t.Fatalf("active event not applied: %v", mods)
	}
}

func TestLoadDropsInvalidEvents(t *testing.T) {
	e := New(singleTemplateConfig(), entropy.NewSequence(0.999))
	e.Load(State{
		Events: []Event{
			{ID: "ok", Modifiers: economy.Amounts{economy.Ore: 1.2}, Start: t0, End: t0.Add(time.Minute)},
			{ID: "inverted", Start: t0, End: t0.Add(-time.Minute)},
			{ID: "negative", Modifiers: economy.Amounts{economy.Ore: -1}, Start: t0, End: t0.Add(time.Minute)},
		},
		LastSpawn: t0,
	})
	all := e.All()
	if len(all) != 1 || all[0].ID != "ok" {
		t.Fatalf("expected only the valid event, got %+v", all)
	}
	if e.Export().LastSpawn != t0 {
		t.Fatal("last spawn not restored")
	}
}
