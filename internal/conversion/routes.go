// Package conversion implements stateful exchange routes between
// commodities. Each use wears a route down, and worn routes risk a
// catastrophic failure that destroys the input.
package conversion

import (
	"fmt"
	"math"

	"github.com/lucylow/quaternion/internal/economy"
	"github.com/lucylow/quaternion/internal/entropy"
)

// RouteID names a conversion route, e.g. "ore_to_energy".
type RouteID string

// Route is an ordered (From, To) pathway with decaying efficiency and
// stability.
type Route struct {
	ID             RouteID           `json:"id"`
	From           economy.Commodity `json:"from"`
	To             economy.Commodity `json:"to"`
	BaseRate       float64           `json:"base_rate"`       // output units per input unit
	BaseEfficiency float64           `json:"base_efficiency"` // restored on reset
	Efficiency     float64           `json:"efficiency"`      // in [0.1, 1]
	Stability      float64           `json:"stability"`       // in [0.1, 1]
	Uses           int               `json:"uses"`            // successful uses this round
	PenaltyApplied bool              `json:"penalty_applied"` // overuse penalty already taken this round
	Dirty          bool              `json:"dirty"`           // touched since the last reset
}

// Spec describes a route at construction.
type Spec struct {
	From           economy.Commodity `yaml:"from" json:"from"`
	To             economy.Commodity `yaml:"to" json:"to"`
	BaseRate       float64           `yaml:"base_rate" json:"base_rate"`
	BaseEfficiency float64           `yaml:"base_efficiency" json:"base_efficiency"`
}

// ID returns the canonical route identifier for the spec.
func (s Spec) ID() RouteID {
	return MakeID(s.From, s.To)
}

// MakeID builds the identifier of the from → to route.
func MakeID(from, to economy.Commodity) RouteID {
	return RouteID(fmt.Sprintf("%s_to_%s", from, to))
}

// DefaultRoutes returns the routes every session starts with.
func DefaultRoutes() []Spec {
	return []Spec{
		{From: economy.Ore, To: economy.Energy, BaseRate: 1.2, BaseEfficiency: 0.95},
		{From: economy.Energy, To: economy.Data, BaseRate: 0.8, BaseEfficiency: 0.9},
		{From: economy.Biomass, To: economy.Energy, BaseRate: 1.0, BaseEfficiency: 0.9},
		{From: economy.Energy, To: economy.Ore, BaseRate: 0.9, BaseEfficiency: 0.9},
		{From: economy.Data, To: economy.Energy, BaseRate: 1.4, BaseEfficiency: 0.85},
		{From: economy.Biomass, To: economy.Ore, BaseRate: 0.6, BaseEfficiency: 0.85},
	}
}

// Tuning holds the wear and failure constants.
type Tuning struct {
	EfficiencyDecay   float64 `yaml:"efficiency_decay"`   // per successful use
	StabilityDecay    float64 `yaml:"stability_decay"`    // per successful use
	FailureFactor     float64 `yaml:"failure_factor"`     // p(catastrophe) = (1 - stability) × factor
	FailureStability  float64 `yaml:"failure_stability"`  // stability lost on catastrophe
	FailureEfficiency float64 `yaml:"failure_efficiency"` // efficiency lost on catastrophe
	MinLossFraction   float64 `yaml:"min_loss_fraction"`  // catastrophe destroys [min, 1] of input
	OveruseThreshold  int     `yaml:"overuse_threshold"`  // uses per round before the penalty
	OveruseEfficiency float64 `yaml:"overuse_efficiency"` // efficiency multiplier at threshold
	OveruseStability  float64 `yaml:"overuse_stability"`  // stability multiplier at threshold
	ResetRecovery     float64 `yaml:"reset_recovery"`     // stability regained on reset
	Floor             float64 `yaml:"floor"`              // minimum efficiency and stability
}

// DefaultTuning returns the standard wear constants.
func DefaultTuning() Tuning {
	return Tuning{
		EfficiencyDecay:   0.02,
		StabilityDecay:    0.05,
		FailureFactor:     0.3,
		FailureStability:  0.2,
		FailureEfficiency: 0.15,
		MinLossFraction:   0.5,
		OveruseThreshold:  5,
		OveruseEfficiency: 0.8,
		OveruseStability:  0.7,
		ResetRecovery:     0.2,
		Floor:             0.1,
	}
}

// Balances is the read-only view of the ledger a conversion needs.
type Balances interface {
	Amount(c economy.Commodity) float64
}

// Result describes one conversion attempt. The engine never touches the
// ledger: on success the caller moves Input from From and adds Output
// to To; on catastrophe the caller deducts Lost from From.
type Result struct {
	Route           RouteID           `json:"route"`
	From            economy.Commodity `json:"from"`
	To              economy.Commodity `json:"to"`
	Input           float64           `json:"input"`
	Output          float64           `json:"output"`
	Lost            float64           `json:"lost"`
	WasCatastrophic bool              `json:"was_catastrophic"`
	Efficiency      float64           `json:"efficiency"` // after this attempt
	Stability       float64           `json:"stability"`  // after this attempt
}

// Engine owns the route collection of one session.
type Engine struct {
	routes map[RouteID]*Route
	order  []RouteID
	tuning Tuning
	rng    entropy.Rand
}

// New creates an engine seeded with specs. Duplicate specs keep the first.
func New(specs []Spec, tuning Tuning, rng entropy.Rand) *Engine {
	e := &Engine{
		routes: make(map[RouteID]*Route, len(specs)),
		tuning: tuning,
		rng:    rng,
	}
	for _, s := range specs {
		if !s.From.Valid() || !s.To.Valid() || s.From == s.To {
			continue
		}
		id := s.ID()
		if _, dup := e.routes[id]; dup {
			continue
		}
		base := e.clampUnit(s.BaseEfficiency)
		if s.BaseEfficiency == 0 {
			base = 1
		}
		e.routes[id] = &Route{
			ID:             id,
			From:           s.From,
			To:             s.To,
			BaseRate:       math.Max(0, s.BaseRate),
			BaseEfficiency: base,
			Efficiency:     base,
			Stability:      1,
		}
		e.order = append(e.order, id)
	}
	return e
}

// Route returns a copy of the route.
func (e *Engine) Route(id RouteID) (Route, bool) {
	r, ok := e.routes[id]
	if !ok {
		return Route{}, false
	}
	return *r, true
}

// Routes returns copies of every route in construction order.
func (e *Engine) Routes() []Route {
	out := make([]Route, 0, len(e.order))
	for _, id := range e.order {
		out = append(out, *e.routes[id])
	}
	return out
}

// Convert attempts to push amount through the route. Unknown routes and
// short balances fail with no state change. A catastrophic failure is a
// modelled outcome, not an error.
func (e *Engine) Convert(id RouteID, amount float64, bal Balances) (Result, error) {
	r, ok := e.routes[id]
	if !ok {
		return Result{}, economy.ErrInvalidRoute
	}
	if math.IsNaN(amount) || amount <= 0 {
		return Result{}, economy.ErrInvalidAmount
	}
	if bal == nil || bal.Amount(r.From) < amount {
		return Result{}, economy.Wrap(economy.CodeInsufficientResources,
			fmt.Sprintf("route %s needs %.2f %s", id, amount, r.From), nil)
	}

	res := Result{Route: id, From: r.From, To: r.To, Input: amount}
	t := e.tuning
	r.Dirty = true

	if entropy.Chance(e.rng, (1-r.Stability)*t.FailureFactor) {
		res.WasCatastrophic = true
		res.Lost = amount * entropy.Uniform(e.rng, t.MinLossFraction, 1)
		r.Stability = math.Max(t.Floor, r.Stability-t.FailureStability)
		r.Efficiency = math.Max(t.Floor, r.Efficiency-t.FailureEfficiency)
		res.Efficiency, res.Stability = r.Efficiency, r.Stability
		return res, nil
	}

	res.Output = amount * r.BaseRate * r.Efficiency
	r.Efficiency = math.Max(t.Floor, r.Efficiency-t.EfficiencyDecay)
	r.Stability = math.Max(t.Floor, r.Stability-t.StabilityDecay)
	r.Uses++
	if t.OveruseThreshold > 0 && r.Uses >= t.OveruseThreshold && !r.PenaltyApplied {
		r.Efficiency = math.Max(t.Floor, r.Efficiency*t.OveruseEfficiency)
		r.Stability = math.Max(t.Floor, r.Stability*t.OveruseStability)
		r.PenaltyApplied = true
	}
	res.Efficiency, res.Stability = r.Efficiency, r.Stability
	return res, nil
}

// Reset is the round-boundary recovery: efficiency back to base,
// stability partially restored, use counter cleared. Resetting an
// untouched route changes nothing.
func (e *Engine) Reset(id RouteID) error {
	r, ok := e.routes[id]
	if !ok {
		return economy.ErrInvalidRoute
	}
	if !r.Dirty {
		return nil
	}
	r.Efficiency = r.BaseEfficiency
	r.Stability = math.Min(1, r.Stability+e.tuning.ResetRecovery)
	r.Uses = 0
	r.PenaltyApplied = false
	r.Dirty = false
	return nil
}

// ResetAll resets every route.
func (e *Engine) ResetAll() {
	for _, id := range e.order {
		_ = e.Reset(id)
	}
}

// Boost raises efficiency (and the base it resets to) and stability,
// each capped at 1. Negative deltas are ignored.
func (e *Engine) Boost(id RouteID, efficiencyDelta, stabilityDelta float64) error {
	r, ok := e.routes[id]
	if !ok {
		return economy.ErrInvalidRoute
	}
	if efficiencyDelta > 0 {
		r.Efficiency = math.Min(1, r.Efficiency+efficiencyDelta)
		r.BaseEfficiency = math.Min(1, r.BaseEfficiency+efficiencyDelta)
	}
	if stabilityDelta > 0 {
		r.Stability = math.Min(1, r.Stability+stabilityDelta)
	}
	return nil
}

// Load replaces route state from persisted values, clamping every field
// back into range. Routes with invalid endpoints are skipped.
func (e *Engine) Load(routes []Route) {
	for _, in := range routes {
		if !in.From.Valid() || !in.To.Valid() || in.From == in.To {
			continue
		}
		id := MakeID(in.From, in.To)
		r := in
		r.ID = id
		r.BaseRate = math.Max(0, r.BaseRate)
		r.BaseEfficiency = e.clampUnit(r.BaseEfficiency)
		r.Efficiency = e.clampUnit(r.Efficiency)
		r.Stability = e.clampUnit(r.Stability)
		if r.Uses < 0 {
			r.Uses = 0
		}
		if _, exists := e.routes[id]; !exists {
			e.order = append(e.order, id)
		}
		e.routes[id] = &r
	}
}

func (e *Engine) clampUnit(v float64) float64 {
	if math.IsNaN(v) || v < e.tuning.Floor {
		return e.tuning.Floor
	}
	if v > 1 {
		return 1
	}
	return v
}
