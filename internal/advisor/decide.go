package advisor

import (
	"math"
	"sort"

	"github.com/lucylow/quaternion/internal/economy"
	"github.com/lucylow/quaternion/internal/engine"
	"github.com/lucylow/quaternion/internal/puzzle"
)

// Action names what a Decision does.
type Action string

const (
	ActionResolve Action = "resolve"
	ActionAccept  Action = "accept"
	ActionConvert Action = "convert"
)

// Decision is one action the advisor wants to take.
type Decision struct {
	Action    Action  `json:"action"`
	PuzzleID  string  `json:"puzzle_id,omitempty"`
	OptionID  string  `json:"option_id,omitempty"`
	OfferID   string  `json:"offer_id,omitempty"`
	RouteID   string  `json:"route_id,omitempty"`
	Amount    float64 `json:"amount,omitempty"`
	Rationale string  `json:"rationale"`
}

// Policy tunes the advisor.
type Policy struct {
	// MaxInstability is the ceiling above which market deals are refused.
	MaxInstability float64
	// OverflowFraction of capacity triggers a conversion out of a
	// commodity. Zero disables rebalancing.
	OverflowFraction float64
	// ConvertFraction of the overflowing stock is sent through a route.
	ConvertFraction float64
}

// DefaultPolicy returns the soak-run policy.
func DefaultPolicy() Policy {
	return Policy{
		MaxInstability:   60,
		OverflowFraction: 0.9,
		ConvertFraction:  0.25,
	}
}

// Decide plans the actions for one cycle. It resolves every puzzle with
// its cheapest affordable option, takes market offers that pay more than
// they cost while the economy is calm, and drains commodities close to
// capacity into the scarcest one. Budget is tracked across decisions so
// the plan is affordable as a whole.
func Decide(out engine.TickOutput, p Policy) []Decision {
	budget := out.Resources.Clone()
	var plan []Decision

	puzzles := append([]puzzle.Puzzle(nil), out.ActivePuzzles...)
	sort.Slice(puzzles, func(i, j int) bool {
		if !puzzles[i].ExpiresAt.Equal(puzzles[j].ExpiresAt) {
			return puzzles[i].ExpiresAt.Before(puzzles[j].ExpiresAt)
		}
		return puzzles[i].ID < puzzles[j].ID
	})
	for _, pz := range puzzles {
		opt, ok := cheapestOption(pz, budget)
		if !ok {
			continue
		}
		pay(budget, opt.Cost)
		for c, v := range opt.Immediate.Resources {
			budget[c] += v
		}
		plan = append(plan, Decision{
			Action:    ActionResolve,
			PuzzleID:  pz.ID,
			OptionID:  opt.ID,
			Rationale: "cheapest affordable option",
		})
	}

	if out.Instability < p.MaxInstability {
		for _, o := range out.MarketOffers {
			if o.Rewards.Total() <= o.Costs.Total() || !affordable(budget, o.Costs) {
				continue
			}
			pay(budget, o.Costs)
			plan = append(plan, Decision{
				Action:    ActionAccept,
				OfferID:   o.ID,
				Rationale: "reward exceeds cost",
			})
		}
	}

	if p.OverflowFraction > 0 {
		plan = append(plan, rebalance(out, budget, p)...)
	}
	return plan
}

// cheapestOption picks the affordable option with the lowest total cost.
// Ties go to the option that leaves the most even stockpile, then to the
// lowest risk.
func cheapestOption(pz puzzle.Puzzle, budget economy.Amounts) (puzzle.Option, bool) {
	var best puzzle.Option
	bestCost, bestSkew := math.Inf(1), math.Inf(1)
	found := false
	for _, o := range pz.Options {
		if !affordable(budget, o.Cost) {
			continue
		}
		after := budget.Clone()
		pay(after, o.Cost)
		for c, v := range o.Immediate.Resources {
			after[c] += v
		}
		cost, skew := o.Cost.Total(), spread(after)
		switch {
		case !found,
			cost < bestCost,
			cost == bestCost && skew < bestSkew,
			cost == bestCost && skew == bestSkew && o.Risk < best.Risk:
			best, bestCost, bestSkew, found = o, cost, skew, true
		}
	}
	return best, found
}

// rebalance converts out of commodities near capacity into the scarcest
// commodity reachable by a route.
func rebalance(out engine.TickOutput, budget economy.Amounts, p Policy) []Decision {
	var plan []Decision
	for _, c := range economy.Commodities {
		capacity := out.Capacities[c]
		if capacity <= 0 || budget[c] < p.OverflowFraction*capacity {
			continue
		}
		routeID, target := "", math.Inf(1)
		for _, r := range out.Routes {
			if r.From != c {
				continue
			}
			if level := budget[r.To]; level < target {
				routeID, target = string(r.ID), level
			}
		}
		if routeID == "" {
			continue
		}
		amount := math.Floor(budget[c] * p.ConvertFraction)
		if amount <= 0 {
			continue
		}
		budget[c] -= amount
		plan = append(plan, Decision{
			Action:    ActionConvert,
			RouteID:   routeID,
			Amount:    amount,
			Rationale: c.String() + " near capacity",
		})
	}
	return plan
}

func affordable(budget, cost economy.Amounts) bool {
	for c, v := range cost {
		if budget[c] < v {
			return false
		}
	}
	return true
}

func pay(budget, cost economy.Amounts) {
	for c, v := range cost {
		budget[c] -= v
	}
}

// spread is the gap between the largest and smallest stock.
func spread(a economy.Amounts) float64 {
	lo, hi := math.Inf(1), math.Inf(-1)
	for _, c := range economy.Commodities {
		lo = math.Min(lo, a[c])
		hi = math.Max(hi, a[c])
	}
	return hi - lo
}
