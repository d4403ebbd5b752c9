package engine

import (
	"context"
	"io"
	"log/slog"
	"math"
	"sync"
	"testing"
	"time"

	"github.com/lucylow/quaternion/internal/blackmarket"
	"github.com/lucylow/quaternion/internal/conversion"
	"github.com/lucylow/quaternion/internal/economy"
	"github.com/lucylow/quaternion/internal/entropy"
	"github.com/lucylow/quaternion/internal/narrator"
	"github.com/lucylow/quaternion/internal/puzzle"
)

var t0 = time.Date(2026, 7, 1, 0, 0, 0, 0, time.UTC)

func approx(a, b float64) bool { return math.Abs(a-b) <= 1e-6 }

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// newTestEconomy never passes a chance roll unless the script says so.
func newTestEconomy(t *testing.T, cfg Config, rng entropy.Rand) *Economy {
	t.Helper()
	if rng == nil {
		rng = entropy.NewSequence(0.999)
	}
	return NewEconomy(cfg, Options{Rand: rng, Logger: quietLogger()})
}

type countingRecorder struct {
	mu       sync.Mutex
	ticks    int
	failures map[string]int
	convs    int
}

func (r *countingRecorder) ObserveTick(TickOutput) {
	r.mu.Lock()
	r.ticks++
	r.mu.Unlock()
}

func (r *countingRecorder) Conversion(string, bool) {
	r.mu.Lock()
	r.convs++
	r.mu.Unlock()
}

func (r *countingRecorder) PuzzleResolved(string, bool) {}
func (r *countingRecorder) OfferAccepted(string, bool) {}

func (r *countingRecorder) SubsystemFailure(s string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.failures == nil {
		r.failures = make(map[string]int)
	}
	r.failures[s]++
}

func TestUpdateTickScenario(t *testing.T) {
	e := newTestEconomy(t, DefaultConfig(), nil)
	out := e.Update(TickInput{Now: t0, ControlledNodes: map[economy.Commodity]int{economy.Ore: 1}})

	if !approx(out.Resources[economy.Ore], 118.8) {
		t.Fatalf("expected ore 118.8, got %v", out.Resources[economy.Ore])
	}
	if out.Tick != 1 || !out.Now.Equal(t0) {
		t.Fatalf("unexpected tick header: %d %s", out.Tick, out.Now)
	}
	if out.Instability < 0 || out.Instability > 200 {
		t.Fatalf("instability out of range: %v", out.Instability)
	}
	if len(out.Routes) != 6 {
		t.Fatalf("expected 6 routes, got %d", len(out.Routes))
	}
	if got := e.Latest(); got.Tick != 1 {
		t.Fatalf("latest snapshot not published: %+v", got.Tick)
	}
}

func TestCapacityInvariantUnderLoad(t *testing.T) {
	e := newTestEconomy(t, DefaultConfig(), entropy.NewSeeded(11))
	in := TickInput{
		ControlledNodes:    map[economy.Commodity]int{economy.Ore: 400, economy.Energy: 300, economy.Biomass: 200, economy.Data: 500},
		BuildingProduction: economy.Amounts{economy.Data: 50},
	}
	for i := 0; i < 500; i++ {
		in.Now = t0.Add(time.Duration(i) * 5 * time.Second)
		out := e.Update(in)
		for _, c := range economy.Commodities {
			if out.Resources[c] < 0 || out.Resources[c] > out.Capacities[c]+1e-9 {
				t.Fatalf("tick %d: %s=%v outside [0, %v]", i, c, out.Resources[c], out.Capacities[c])
			}
		}
		if out.Instability < 0 || out.Instability > 200 {
			t.Fatalf("tick %d: instability %v", i, out.Instability)
		}
	}
}

// panicky passes every chance roll and blows up on any selection draw.
type panicky struct{}

func (panicky) Float64() float64 { return 0 }
func (panicky) Intn(int) int { panic("selection exploded") }

func TestSubsystemFailureDoesNotSkipTick(t *testing.T) {
	rec := &countingRecorder{}
	e := NewEconomy(DefaultConfig(), Options{Rand: panicky{}, Logger: quietLogger(), Recorder: rec})
	in := TickInput{Now: t0, ControlledNodes: map[economy.Commodity]int{economy.Ore: 1}}
	e.Update(in)
	before := e.Snapshot().Resources[economy.Ore]

	in.Now = t0.Add(180 * time.Second)
	out := e.Update(in)

	if rec.failures["events"] != 1 || rec.failures["market"] != 1 {
		t.Fatalf("expected event and market failures, got %v", rec.failures)
	}
	if out.Resources[economy.Ore] <= before {
		t.Fatalf("ledger tick skipped: ore %v -> %v", before, out.Resources[economy.Ore])
	}
	if len(out.ActivePuzzles) != 1 {
		t.Fatalf("puzzle timer skipped, got %d puzzles", len(out.ActivePuzzles))
	}
	if out.Tick != 2 || rec.ticks != 2 {
		t.Fatalf("tick bookkeeping wrong: %d/%d", out.Tick, rec.ticks)
	}
}

func TestSpendIsAtomic(t *testing.T) {
	e := newTestEconomy(t, DefaultConfig(), nil)
	before := e.Snapshot().Resources

	res := e.Spend(economy.Amounts{economy.Ore: 50, economy.Data: 1000})
	if res.OK || res.Code != economy.CodeInsufficientResources {
		t.Fatalf("expected insufficient resources, got %+v", res)
	}
	after := e.Snapshot().Resources
	for _, c := range economy.Commodities {
		if before[c] != after[c] {
			t.Fatalf("%s changed on failed spend: %v -> %v", c, before[c], after[c])
		}
	}

	if res := e.Spend(economy.Amounts{economy.Ore: -1}); res.OK || res.Code != economy.CodeInvalidAmount {
		t.Fatalf("expected invalid amount, got %+v", res)
	}
	if res := e.Spend(economy.Amounts{economy.Ore: 30, economy.Data: 10}); !res.OK {
		t.Fatalf("spend failed: %+v", res)
	}
	if got := e.Snapshot().Resources; got[economy.Ore] != 50 || got[economy.Data] != 0 {
		t.Fatalf("unexpected balances %v", got)
	}
}

func TestConvertSimple(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Ledger.Start = economy.Amounts{economy.Ore: 200, economy.Energy: 40, economy.Biomass: 0, economy.Data: 10}
	e := newTestEconomy(t, cfg, nil)

	res := e.ConvertSimple(economy.Ore, economy.Energy, 100)
	if !res.OK || !approx(res.Output, 80) {
		t.Fatalf("expected 80 energy, got %+v", res)
	}
	if res.Resources[economy.Ore] != 100 || !approx(res.Resources[economy.Energy], 120) {
		t.Fatalf("unexpected balances %v", res.Resources)
	}

	if res := e.ConvertSimple(economy.Ore, economy.Energy, 1000); res.Code != economy.CodeInsufficientResources {
		t.Fatalf("expected insufficient resources, got %+v", res)
	}
	if res := e.ConvertSimple(economy.Ore, economy.Ore, 1); res.Code != economy.CodeInvalidRoute {
		t.Fatalf("expected invalid route, got %+v", res)
	}
	if res := e.ConvertSimple(economy.Ore, economy.Data, 0); res.Code != economy.CodeInvalidAmount {
		t.Fatalf("expected invalid amount, got %+v", res)
	}
}

func TestConvertRouteMovesResources(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Ledger.Start = economy.Amounts{economy.Ore: 200, economy.Energy: 40, economy.Biomass: 0, economy.Data: 10}
	rec := &countingRecorder{}
	e := NewEconomy(cfg, Options{Rand: entropy.NewSequence(0.999), Logger: quietLogger(), Recorder: rec})

	res := e.ConvertRoute("ore_to_energy", 50)
	if !res.OK || res.Catastrophic {
		t.Fatalf("unexpected result %+v", res)
	}
	if !approx(res.Output, 50*1.2*0.95) {
		t.Fatalf("expected 57 output, got %v", res.Output)
	}
	if res.Resources[economy.Ore] != 150 || !approx(res.Resources[economy.Energy], 97) {
		t.Fatalf("unexpected balances %v", res.Resources)
	}
	if rec.convs != 1 {
		t.Fatal("conversion not recorded")
	}

	if res := e.ConvertRoute("gold_to_ore", 1); res.Code != economy.CodeInvalidRoute {
		t.Fatalf("expected invalid route, got %+v", res)
	}
	if res := e.ConvertRoute("ore_to_energy", 1e6); res.Code != economy.CodeInsufficientResources {
		t.Fatalf("expected insufficient resources, got %+v", res)
	}
}

func TestConversionsReportClampedOutput(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Ledger.Start = economy.Amounts{economy.Ore: 500, economy.Energy: 4990, economy.Biomass: 0, economy.Data: 10}
	e := newTestEconomy(t, cfg, nil)

	res := e.ConvertRoute("ore_to_energy", 50)
	if !res.OK || !approx(res.Output, 10) {
		t.Fatalf("route output should be the 10 energy that fit, got %+v", res)
	}
	if res.Resources[economy.Energy] != 5000 || res.Resources[economy.Ore] != 450 {
		t.Fatalf("unexpected balances %v", res.Resources)
	}

	res = e.ConvertSimple(economy.Ore, economy.Energy, 50)
	if !res.OK || res.Output != 0 {
		t.Fatalf("full target should report zero output, got %+v", res)
	}
}

func TestConvertRouteCatastropheDeductsLoss(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Ledger.Start = economy.Amounts{economy.Ore: 200, economy.Energy: 40, economy.Biomass: 0, economy.Data: 10}
	e := newTestEconomy(t, cfg, entropy.NewSequence(0, 0.5))
	if err := e.Import(State{
		Version: StateVersion,
		Routes: []conversion.Route{{
			From: economy.Ore, To: economy.Energy, BaseRate: 1.2, BaseEfficiency: 0.95, Efficiency: 0.5, Stability: 0.5,
		}},
	}); err != nil {
		t.Fatalf("import: %v", err)
	}

	res := e.ConvertRoute("ore_to_energy", 100)
	if !res.OK || !res.Catastrophic || res.Output != 0 {
		t.Fatalf("expected catastrophe, got %+v", res)
	}
	if !approx(res.Lost, 75) {
		t.Fatalf("expected 75 lost, got %v", res.Lost)
	}
	if !approx(res.Resources[economy.Ore], 125) || res.Resources[economy.Energy] != 40 {
		t.Fatalf("unexpected balances %v", res.Resources)
	}
}

func puzzleState(cost economy.Amounts, risk float64) puzzle.State {
	return puzzle.State{Active: []puzzle.Puzzle{{
		ID:        "p1",
		Kind:      puzzle.KindStandardAllocation,
		CreatedAt: t0,
		ExpiresAt: t0.Add(5 * time.Minute),
		Options: []puzzle.Option{{
			ID:        "expansion",
			Kind:      puzzle.OptionExpansion,
			Cost:      cost,
			Immediate: puzzle.Effects{Resources: economy.Amounts{economy.Biomass: 30}},
			LongTerm:  puzzle.Effects{Capacity: economy.Amounts{economy.Ore: 1000}, GenerationMultiplier: economy.Amounts{economy.Ore: 1.1}},
			Risk:      risk,
		}},
	}}}
}

func TestResolvePuzzle(t *testing.T) {
	e := newTestEconomy(t, DefaultConfig(), nil)
	e.Import(State{Version: StateVersion, Now: t0, Puzzles: puzzleState(economy.Amounts{economy.Ore: 10}, 0)})

	if res := e.ResolvePuzzle("p1", "defense"); res.Code != economy.CodeInvalidOption {
		t.Fatalf("expected invalid option, got %+v", res)
	}
	res := e.ResolvePuzzle("p1", "expansion")
	if !res.OK || res.RiskTriggered || res.Option == nil || res.Option.Kind != puzzle.OptionExpansion {
		t.Fatalf("unexpected result %+v", res)
	}
	out := e.Snapshot()
	if out.Resources[economy.Ore] != 70 || out.Resources[economy.Biomass] != 30 {
		t.Fatalf("unexpected balances %v", out.Resources)
	}
	if out.Capacities[economy.Ore] != 11000 {
		t.Fatalf("long-term capacity not applied: %v", out.Capacities[economy.Ore])
	}
	if len(out.ActivePuzzles) != 0 || len(e.PuzzleHistory()) != 1 {
		t.Fatal("puzzle not moved to history")
	}
	if res := e.ResolvePuzzle("p1", "expansion"); res.Code != economy.CodeInvalidPuzzle {
		t.Fatalf("expected invalid puzzle, got %+v", res)
	}
}

func TestResolvePuzzleUnaffordableKeepsPuzzle(t *testing.T) {
	e := newTestEconomy(t, DefaultConfig(), nil)
	e.Import(State{Version: StateVersion, Now: t0, Puzzles: puzzleState(economy.Amounts{economy.Ore: 1e6}, 0)})

	if res := e.ResolvePuzzle("p1", "expansion"); res.Code != economy.CodeInsufficientResources {
		t.Fatalf("expected insufficient resources, got %+v", res)
	}
	if len(e.Snapshot().ActivePuzzles) != 1 {
		t.Fatal("unaffordable puzzle must stay open")
	}
}

func TestResolvePuzzleRiskForfeitsLongTerm(t *testing.T) {
	e := newTestEconomy(t, DefaultConfig(), nil)
	e.Import(State{Version: StateVersion, Now: t0, Puzzles: puzzleState(economy.Amounts{economy.Ore: 10}, 1)})

	res := e.ResolvePuzzle("p1", "expansion")
	if !res.OK || !res.RiskTriggered {
		t.Fatalf("expected triggered risk, got %+v", res)
	}
	out := e.Snapshot()
	if out.Capacities[economy.Ore] != 10000 {
		t.Fatalf("long-term effect should be forfeited, capacity %v", out.Capacities[economy.Ore])
	}
	if out.Resources[economy.Biomass] != 30 {
		t.Fatal("immediate effect must still apply")
	}
}

func TestAcceptOfferTriggeredPenalties(t *testing.T) {
	e := newTestEconomy(t, DefaultConfig(), entropy.NewSequence(0))
	e.Import(State{Version: StateVersion, Now: t0, Market: blackmarket.State{Offers: []blackmarket.StoredOffer{{
		Offer: blackmarket.Offer{
			ID:        "o1",
			Kind:      blackmarket.KindBalancedTrade,
			Trader:    "shrewd",
			Costs:     economy.Amounts{economy.Energy: 10},
			Rewards:   economy.Amounts{economy.Data: 8},
			CreatedAt: t0,
			ExpiresAt: t0.Add(4 * time.Minute),
		},
		Risk: 0.5,
		Conditions: []blackmarket.Penalty{
			{Kind: blackmarket.PenaltyDrain, Commodity: economy.Data, Fraction: 0.5},
			{Kind: blackmarket.PenaltySabotage, Commodity: economy.Ore, Fraction: 0.5, Duration: time.Minute},
		},
	}}}})

	res := e.AcceptOffer("o1")
	if !res.OK || !res.RiskTriggered || len(res.Penalties) != 2 {
		t.Fatalf("unexpected result %+v", res)
	}
	out := e.Snapshot()
	if out.Resources[economy.Energy] != 30 || !approx(out.Resources[economy.Data], 9) {
		t.Fatalf("unexpected balances %v", out.Resources)
	}
	if len(out.ActiveEvents) != 1 || out.ActiveEvents[0].Modifiers[economy.Ore] != 0.5 {
		t.Fatalf("sabotage event not injected: %+v", out.ActiveEvents)
	}
	if len(out.MarketOffers) != 0 || len(e.MarketHistory()) != 1 {
		t.Fatal("offer not consumed")
	}
	if res := e.AcceptOffer("o1"); res.Code != economy.CodeInvalidOffer {
		t.Fatalf("expected invalid offer, got %+v", res)
	}
}

func TestAcceptOfferUnaffordable(t *testing.T) {
	e := newTestEconomy(t, DefaultConfig(), nil)
	e.Import(State{Version: StateVersion, Now: t0, Market: blackmarket.State{Offers: []blackmarket.StoredOffer{{
		Offer: blackmarket.Offer{ID: "o1", Trader: "cautious", Costs: economy.Amounts{economy.Data: 500}, CreatedAt: t0, ExpiresAt: t0.Add(time.Minute)},
	}}}})
	if res := e.AcceptOffer("o1"); res.Code != economy.CodeInsufficientResources {
		t.Fatalf("expected insufficient resources, got %+v", res)
	}
	if len(e.Snapshot().MarketOffers) != 1 {
		t.Fatal("unaffordable offer must stay on the market")
	}
}

func TestTechBoostAppliedOnce(t *testing.T) {
	e := newTestEconomy(t, DefaultConfig(), nil)
	in := TickInput{Now: t0, ResearchedTechs: []string{"bioengineering", "unknown_tech"}}
	e.Update(in)
	in.Now = t0.Add(time.Second)
	out := e.Update(in)

	var r conversion.Route
	for _, rt := range out.Routes {
		if rt.ID == "biomass_to_ore" {
			r = rt
		}
	}
	if !approx(r.BaseEfficiency, 0.90) || !approx(r.Efficiency, 0.90) {
		t.Fatalf("expected boost to 0.90 once, got %+v", r)
	}
	if out.ResearchLevel != 2 {
		t.Fatalf("expected research level 2, got %d", out.ResearchLevel)
	}
}

func TestEndRoundResetsRoutes(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Ledger.Start = economy.Amounts{economy.Ore: 500, economy.Energy: 40, economy.Biomass: 0, economy.Data: 10}
	e := newTestEconomy(t, cfg, nil)
	for i := 0; i < 3; i++ {
		e.ConvertRoute("ore_to_energy", 10)
	}
	e.EndRound()
	for _, r := range e.Snapshot().Routes {
		if r.ID == "ore_to_energy" && (r.Uses != 0 || r.Efficiency != r.BaseEfficiency) {
			t.Fatalf("route not reset: %+v", r)
		}
	}
}

func TestStateRoundTrip(t *testing.T) {
	e := newTestEconomy(t, DefaultConfig(), entropy.NewSeeded(3))
	in := TickInput{ControlledNodes: map[economy.Commodity]int{economy.Ore: 2, economy.Energy: 1}, ResearchedTechs: []string{"fusion_power"}}
	for i := 0; i < 400; i++ {
		in.Now = t0.Add(time.Duration(i) * time.Second)
		e.Update(in)
	}
	e.ConvertRoute("ore_to_energy", 20)

	data, err := EncodeState(e.Export())
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	st, err := DecodeState(data)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}

	restored := newTestEconomy(t, DefaultConfig(), nil)
	if err := restored.Import(st); err != nil {
		t.Fatalf("import: %v", err)
	}
	a, b := e.Snapshot(), restored.Snapshot()
	if a.Tick != b.Tick {
		t.Fatalf("tick mismatch %d vs %d", a.Tick, b.Tick)
	}
	for _, c := range economy.Commodities {
		if !approx(a.Resources[c], b.Resources[c]) || !approx(a.Capacities[c], b.Capacities[c]) {
			t.Fatalf("%s mismatch: %v/%v vs %v/%v", c, a.Resources[c], a.Capacities[c], b.Resources[c], b.Capacities[c])
		}
	}
	for i := range a.Routes {
		if a.Routes[i] != b.Routes[i] {
			t.Fatalf("route mismatch %+v vs %+v", a.Routes[i], b.Routes[i])
		}
	}
	if len(a.ActiveEvents) != len(b.ActiveEvents) || len(a.MarketOffers) != len(b.MarketOffers) || len(a.ActivePuzzles) != len(b.ActivePuzzles) {
		t.Fatal("collections not restored")
	}
	if got := restored.Techs(); len(got) != 1 || got[0] != "fusion_power" {
		t.Fatalf("techs not restored: %v", got)
	}
}

func TestDecodeStateRejectsMalformed(t *testing.T) {
	cases := map[string]string{
		"not json":          `{`,
		"missing ledger":    `{"version":1}`,
		"unknown commodity": `{"version":1,"ledger":{"accounts":{"gold":{"amount":1,"capacity":2}}}}`,
		"string amount":     `{"version":1,"ledger":{"accounts":{"ore":{"amount":"lots","capacity":2}}}}`,
		"bad route":         `{"version":1,"ledger":{"accounts":{}},"routes":[{"from":"ore","to":"gold"}]}`,
	}
	for name, raw := range cases {
		if _, err := DecodeState([]byte(raw)); err == nil {
			t.Fatalf("%s: expected error", name)
		}
	}
}

func TestImportClampsCorruptState(t *testing.T) {
	raw := `{"version":1,"ledger":{"accounts":{"ore":{"amount":99999,"capacity":100,"base_rate":40,"generation_multiplier":1,"decay_rate":-3}}}}`
	st, err := DecodeState([]byte(raw))
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	e := newTestEconomy(t, DefaultConfig(), nil)
	if err := e.Import(st); err != nil {
		t.Fatalf("import: %v", err)
	}
	out := e.Snapshot()
	if out.Resources[economy.Ore] != 100 {
		t.Fatalf("amount not clamped to capacity: %v", out.Resources[economy.Ore])
	}
	if err := e.Import(State{Version: StateVersion + 1}); err == nil {
		t.Fatal("expected error for future state version")
	}
}

func TestNarrationAppliedAsynchronously(t *testing.T) {
	n := narrator.Func(func(ctx context.Context, s narrator.Subject) (narrator.Override, error) {
		return narrator.Override{Title: "Narrated " + string(s.Kind)}, nil
	})
	e := NewEconomy(DefaultConfig(), Options{Rand: entropy.NewSequence(0), Narrator: n, Logger: quietLogger()})

	e.Update(TickInput{Now: t0})
	out := e.Update(TickInput{Now: t0.Add(90 * time.Second)})
	if len(out.ActivePuzzles) != 1 {
		t.Fatalf("expected a puzzle, got %d", len(out.ActivePuzzles))
	}
	if out.ActivePuzzles[0].Title == "Narrated puzzle" {
		t.Fatal("narration must not block the tick that created the puzzle")
	}

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		out = e.Update(TickInput{Now: t0.Add(90 * time.Second)})
		if out.ActivePuzzles[0].Title == "Narrated puzzle" {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("narration never applied: %q", out.ActivePuzzles[0].Title)
}
