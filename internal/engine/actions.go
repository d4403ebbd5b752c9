package engine

import (
	"fmt"
	"math"

	"github.com/lucylow/quaternion/internal/blackmarket"
	"github.com/lucylow/quaternion/internal/conversion"
	"github.com/lucylow/quaternion/internal/economy"
	"github.com/lucylow/quaternion/internal/entropy"
	"github.com/lucylow/quaternion/internal/events"
	"github.com/lucylow/quaternion/internal/puzzle"
)

// Spend deducts cost atomically.
func (e *Economy) Spend(cost economy.Amounts) ActionResult {
	if err := validCost(cost); err != nil {
		return failed(err)
	}
	if !e.ledger.Spend(cost) {
		return failed(economy.ErrInsufficientResources)
	}
	e.publish()
	return ActionResult{OK: true, Resources: e.ledger.Amounts()}
}

// ConvertSimple runs the stateless table conversion.
func (e *Economy) ConvertSimple(from, to economy.Commodity, amount float64) ActionResult {
	if !from.Valid() || !to.Valid() || from == to {
		return failed(economy.NewError(economy.CodeInvalidRoute, fmt.Sprintf("cannot convert %s to %s", from, to)))
	}
	if !(amount > 0) || math.IsInf(amount, 0) {
		return failed(economy.ErrInvalidAmount)
	}
	before := e.ledger.Amount(to)
	if !e.ledger.Convert(from, to, amount) {
		return failed(economy.ErrInsufficientResources)
	}
	e.publish()
	return ActionResult{
		OK:        true,
		Output:    e.ledger.Amount(to) - before,
		Resources: e.ledger.Amounts(),
	}
}

// ConvertRoute pushes amount through a stateful route. A catastrophe is
// a successful action with Catastrophic set and Lost deducted. Like
// ConvertSimple, Output is what the target actually gained.
func (e *Economy) ConvertRoute(id conversion.RouteID, amount float64) ActionResult {
	res, err := e.routes.Convert(id, amount, e.ledger)
	if err != nil {
		return failed(err)
	}
	before := e.ledger.Amount(res.To)
	if res.WasCatastrophic {
		e.ledger.Deduct(economy.Amounts{res.From: res.Lost})
		e.log.Warn("catastrophic conversion", "route", id, "input", res.Input, "lost", res.Lost, "stability", res.Stability)
	} else {
		e.ledger.Deduct(economy.Amounts{res.From: res.Input})
		e.ledger.Add(res.To, res.Output)
	}
	e.rec.Conversion(string(id), res.WasCatastrophic)
	e.publish()
	return ActionResult{
		OK:           true,
		Output:       e.ledger.Amount(res.To) - before,
		Lost:         res.Lost,
		Catastrophic: res.WasCatastrophic,
		Resources:    e.ledger.Amounts(),
	}
}

// ResolvePuzzle pays for and applies an option. If the option is not
// affordable the puzzle stays open. After paying, the option's risk is
// rolled: on trigger the long-term effects are forfeited.
func (e *Economy) ResolvePuzzle(pid, oid string) ActionResult {
	opt, err := e.puzzles.Lookup(pid, oid)
	if err != nil {
		return failed(err)
	}
	if !e.ledger.CanAfford(opt.Cost) {
		return failed(economy.ErrInsufficientResources)
	}
	if _, err := e.puzzles.ExecuteDecision(pid, oid, e.now); err != nil {
		return failed(err)
	}
	e.narr.Forget(pid)
	e.ledger.Spend(opt.Cost)
	e.applyEffects(opt.Immediate)

	triggered := entropy.Chance(e.rng, opt.Risk)
	if !triggered {
		e.applyEffects(opt.LongTerm)
	}
	e.log.Info("puzzle resolved", "puzzle", pid, "option", opt.Kind, "risk_triggered", triggered)
	e.rec.PuzzleResolved(string(opt.Kind), triggered)
	e.publish()
	return ActionResult{
		OK:            true,
		Option:        &opt,
		RiskTriggered: triggered,
		Resources:     e.ledger.Amounts(),
	}
}

func (e *Economy) applyEffects(fx puzzle.Effects) {
	for c, v := range fx.Capacity {
		e.ledger.IncreaseCapacity(c, v)
	}
	for c, m := range fx.GenerationMultiplier {
		e.ledger.ModifyGenerationRate(c, m)
	}
	for c, d := range fx.DecayReduction {
		e.ledger.ReduceDecayRate(c, d)
	}
	if !fx.Resources.IsZero() {
		e.ledger.AddAll(fx.Resources)
	}
}

// AcceptOffer trades with the market. Costs must be affordable; the
// offer then leaves the market whether or not its hidden risk fires.
func (e *Economy) AcceptOffer(id string) ActionResult {
	o, ok := e.market.Get(id)
	if !ok {
		return failed(economy.ErrInvalidOffer)
	}
	if !e.ledger.CanAfford(o.Costs) {
		return failed(economy.ErrInsufficientResources)
	}
	acc, err := e.market.Accept(id, e.now)
	if err != nil {
		return failed(err)
	}
	e.narr.Forget(id)

	e.ledger.Spend(o.Costs)
	e.ledger.AddAll(o.Rewards)
	for _, b := range o.Boosts {
		e.applyBoost(b)
	}
	if acc.Triggered {
		for _, p := range acc.Penalties {
			e.applyPenalty(p)
		}
		e.log.Warn("market deal went bad", "offer", id, "trader", o.Trader, "risk", acc.Risk, "penalties", len(acc.Penalties))
	}
	e.rec.OfferAccepted(string(o.Kind), acc.Triggered)
	e.publish()
	return ActionResult{
		OK:            true,
		RiskTriggered: acc.Triggered,
		Penalties:     acc.Penalties,
		Resources:     e.ledger.Amounts(),
	}
}

func (e *Economy) applyBoost(b blackmarket.Boost) {
	switch b.Kind {
	case blackmarket.BoostRoute:
		if err := e.routes.Boost(conversion.RouteID(b.Route), b.Amount, b.Amount/2); err != nil {
			e.log.Warn("market boost skipped", "route", b.Route, "error", err)
		}
	case blackmarket.BoostGeneration:
		if !b.Commodity.Valid() || b.Duration <= 0 {
			return
		}
		e.events.Inject(events.Event{
			Template:    "market_boost",
			Title:       "Black Market Windfall",
			Description: fmt.Sprintf("Smuggled equipment lifts %s output ×%.2f.", b.Commodity, 1+b.Amount),
			Modifiers:   economy.Amounts{b.Commodity: 1 + b.Amount},
			Start:       e.now,
			End:         e.now.Add(b.Duration),
			Positive:    true,
			Source:      events.SourceMarket,
		})
	}
}

func (e *Economy) applyPenalty(p blackmarket.Penalty) {
	if !p.Commodity.Valid() {
		return
	}
	frac := math.Max(0, math.Min(1, p.Fraction))
	switch p.Kind {
	case blackmarket.PenaltyDrain:
		e.ledger.Deduct(economy.Amounts{p.Commodity: e.ledger.Amount(p.Commodity) * frac})
	case blackmarket.PenaltySabotage:
		if p.Duration <= 0 {
			return
		}
		e.events.Inject(events.Event{
			Template:    "market_sabotage",
			Title:       "Sabotage",
			Description: fmt.Sprintf("Someone you dealt with has crippled %s output ×%.2f.", p.Commodity, 1-frac),
			Modifiers:   economy.Amounts{p.Commodity: 1 - frac},
			Start:       e.now,
			End:         e.now.Add(p.Duration),
			Positive:    false,
			Source:      events.SourceMarket,
		})
	}
}

func validCost(cost economy.Amounts) error {
	if len(cost) == 0 {
		return economy.ErrInvalidAmount
	}
	for c, v := range cost {
		if !c.Valid() || math.IsNaN(v) || math.IsInf(v, 0) || v < 0 {
			return economy.ErrInvalidAmount
		}
	}
	return nil
}
