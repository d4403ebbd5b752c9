// Package blackmarket runs the risky side market: offers with a hidden
// failure chance that ratchets up each time the player deals with the
// same kind of trader.
package blackmarket

import (
	"fmt"
	"math"
	"time"

	"github.com/google/uuid"

	"github.com/lucylow/quaternion/internal/economy"
	"github.com/lucylow/quaternion/internal/entropy"
)

// Kind is the offer family, chosen from the player's total resources.
type Kind string

const (
	KindDesperateBoost     Kind = "desperate_boost"
	KindBalancedTrade      Kind = "balanced_trade"
	KindHighRiskHighReward Kind = "high_risk_high_reward"
)

// BoostKind names a non-resource reward.
type BoostKind string

const (
	BoostGeneration BoostKind = "generation" // temporary generation multiplier
	BoostRoute      BoostKind = "route"      // permanent route efficiency/stability
)

// Boost is a non-resource reward applied by the caller on acceptance.
type Boost struct {
	Kind      BoostKind         `json:"kind" yaml:"kind"`
	Commodity economy.Commodity `json:"commodity" yaml:"commodity"`
	Route     string            `json:"route,omitempty" yaml:"route"`
	Amount    float64           `json:"amount" yaml:"amount"`
	Duration  time.Duration     `json:"duration,omitempty" yaml:"duration"`
}

// PenaltyKind names a hidden consequence.
type PenaltyKind string

const (
	PenaltyDrain    PenaltyKind = "drain"    // lose Fraction of the current amount
	PenaltySabotage PenaltyKind = "sabotage" // generation ×(1-Fraction) for Duration
)

// Penalty is a concrete consequence the caller applies when an offer's
// risk triggers.
type Penalty struct {
	Kind      PenaltyKind       `json:"kind" yaml:"kind"`
	Commodity economy.Commodity `json:"commodity" yaml:"commodity"`
	Fraction  float64           `json:"fraction" yaml:"fraction"`
	Duration  time.Duration     `json:"duration,omitempty" yaml:"duration"`
}

// Offer is a market deal. RiskLevel and HiddenConditions never leave the
// process in player-facing JSON.
type Offer struct {
	ID               string          `json:"id"`
	Kind             Kind            `json:"kind"`
	Trader           string          `json:"trader"`
	Title            string          `json:"title"`
	Description      string          `json:"description"`
	Costs            economy.Amounts `json:"costs"`
	Rewards          economy.Amounts `json:"rewards"`
	Boosts           []Boost         `json:"boosts,omitempty"`
	RiskLevel        float64         `json:"-"`
	HiddenConditions []Penalty       `json:"-"`
	CreatedAt        time.Time       `json:"created_at"`
	ExpiresAt        time.Time       `json:"expires_at"`
}

// Personality is a trader archetype with its own risk ratchet.
type Personality struct {
	Name     string  `yaml:"name"`
	Greeting string  `yaml:"greeting"`
	RiskStep float64 `yaml:"risk_step"` // added per prior acceptance
	Markup   float64 `yaml:"markup"`    // cost multiplier
}

// DefaultPersonalities returns the shrewd, reckless and cautious traders.
func DefaultPersonalities() []Personality {
	return []Personality{
		{Name: "shrewd", Greeting: "A broker in a pressed coat names a fair-sounding price.", RiskStep: 0.05, Markup: 1.2},
		{Name: "reckless", Greeting: "A scavenger with scorched gloves wants to move cargo fast.", RiskStep: 0.1, Markup: 0.9},
		{Name: "cautious", Greeting: "A quiet courier insists on small, careful deals.", RiskStep: 0.03, Markup: 1.0},
	}
}

// Template is the fixed cost/reward/risk recipe of one offer kind.
// Quantities are Base + Share × total resources.
type Template struct {
	Kind        Kind            `yaml:"kind"`
	Title       string          `yaml:"title"`
	Description string          `yaml:"description"`
	CostBase    economy.Amounts `yaml:"cost_base"`
	CostShare   economy.Amounts `yaml:"cost_share"`
	RewardBase  economy.Amounts `yaml:"reward_base"`
	RewardShare economy.Amounts `yaml:"reward_share"`
	Boosts      []Boost         `yaml:"boosts"`
	BaseRisk    float64         `yaml:"base_risk"`
	Conditions  []Penalty       `yaml:"conditions"`
}

// DefaultTemplates returns one template per offer kind.
func DefaultTemplates() []Template {
	return []Template{
		{
			Kind:        KindDesperateBoost,
			Title:       "Emergency Supplies",
			Description: "Crates of ore and charged cells, no questions asked.",
			CostBase:    economy.Amounts{economy.Data: 5},
			RewardBase:  economy.Amounts{economy.Ore: 150, economy.Energy: 100},
			BaseRisk:    0.35,
			Conditions: []Penalty{
				{Kind: PenaltySabotage, Commodity: economy.Ore, Fraction: 0.5, Duration: 90 * time.Second},
				{Kind: PenaltyDrain, Commodity: economy.Energy, Fraction: 0.3},
			},
		},
		{
			Kind:        KindBalancedTrade,
			Title:       "Quiet Exchange",
			Description: "Surplus power for salvaged archives and seed stock.",
			CostShare:   economy.Amounts{economy.Energy: 0.10},
			RewardShare: economy.Amounts{economy.Data: 0.06, economy.Biomass: 0.06},
			Boosts: []Boost{
				{Kind: BoostRoute, Route: "energy_to_data", Amount: 0.05},
			},
			BaseRisk: 0.2,
			Conditions: []Penalty{
				{Kind: PenaltyDrain, Commodity: economy.Data, Fraction: 0.25},
			},
		},
		{
			Kind:        KindHighRiskHighReward,
			Title:       "Prototype Cache",
			Description: "A stolen research cache. The owners will come looking.",
			CostShare:   economy.Amounts{economy.Ore: 0.15, economy.Energy: 0.10},
			RewardShare: economy.Amounts{economy.Data: 0.20, economy.Biomass: 0.12},
			Boosts: []Boost{
				{Kind: BoostGeneration, Commodity: economy.Data, Amount: 0.5, Duration: 120 * time.Second},
			},
			BaseRisk: 0.45,
			Conditions: []Penalty{
				{Kind: PenaltyDrain, Commodity: economy.Ore, Fraction: 0.4},
				{Kind: PenaltySabotage, Commodity: economy.Energy, Fraction: 0.6, Duration: 120 * time.Second},
			},
		},
	}
}

// Config controls market cadence and risk.
type Config struct {
	TTL           time.Duration `yaml:"ttl"`
	BaseInterval  time.Duration `yaml:"base_interval"`
	MinInterval   time.Duration `yaml:"min_interval"`
	IntervalStep  time.Duration `yaml:"interval_step"` // shaved off per session acceptance
	MaxOffers     int           `yaml:"max_offers"`
	MaxRisk       float64       `yaml:"max_risk"`
	PoorThreshold float64       `yaml:"poor_threshold"`
	RichThreshold float64       `yaml:"rich_threshold"`
	HistoryLimit  int           `yaml:"history_limit"`
	Personalities []Personality `yaml:"personalities"`
	Templates     []Template    `yaml:"templates"`
}

// DefaultConfig returns the standard market settings.
func DefaultConfig() Config {
	return Config{
		TTL:           240 * time.Second,
		BaseInterval:  180 * time.Second,
		MinInterval:   90 * time.Second,
		IntervalStep:  15 * time.Second,
		MaxOffers:     3,
		MaxRisk:       0.9,
		PoorThreshold: 500,
		RichThreshold: 2000,
		HistoryLimit:  50,
		Personalities: DefaultPersonalities(),
		Templates:     DefaultTemplates(),
	}
}

// Deal records an accepted offer.
type Deal struct {
	OfferID    string          `json:"offer_id"`
	Kind       Kind            `json:"kind"`
	Trader     string          `json:"trader"`
	Costs      economy.Amounts `json:"costs"`
	Rewards    economy.Amounts `json:"rewards"`
	Risk       float64         `json:"risk"`
	Triggered  bool            `json:"triggered"`
	AcceptedAt time.Time       `json:"accepted_at"`
}

// Acceptance is the outcome of accepting an offer. The caller moves
// resources and applies boosts and penalties.
type Acceptance struct {
	Offer     Offer
	Risk      float64
	Triggered bool
	Penalties []Penalty
}

// Engine owns the outstanding offers and the acceptance counters.
type Engine struct {
	cfg         Config
	rng         entropy.Rand
	offers      []Offer
	accepted    map[string]int
	acceptances int
	lastGen     time.Time
	history     []Deal
}

// New creates a market engine.
func New(cfg Config, rng entropy.Rand) *Engine {
	return &Engine{cfg: cfg, rng: rng, accepted: make(map[string]int)}
}

// Interval is the current regeneration gap. It shrinks with every
// acceptance in the session down to MinInterval.
func (e *Engine) Interval() time.Duration {
	d := e.cfg.BaseInterval - time.Duration(e.acceptances)*e.cfg.IntervalStep
	if d < e.cfg.MinInterval {
		return e.cfg.MinInterval
	}
	return d
}

// KindFor picks the offer family for a resource total.
func (e *Engine) KindFor(total float64) Kind {
	switch {
	case total < e.cfg.PoorThreshold:
		return KindDesperateBoost
	case total > e.cfg.RichThreshold:
		return KindHighRiskHighReward
	default:
		return KindBalancedTrade
	}
}

// Update expires old offers and, when the market has room and the
// regeneration timer has elapsed, creates one. It returns the current
// offers and any created during this call.
func (e *Engine) Update(now time.Time, total float64) (offers []Offer, created []Offer) {
	kept := e.offers[:0]
	for _, o := range e.offers {
		if now.Before(o.ExpiresAt) {
			kept = append(kept, o)
		}
	}
	e.offers = kept

	if e.lastGen.IsZero() {
		e.lastGen = now
	}
	if len(e.offers) < e.cfg.MaxOffers && now.Sub(e.lastGen) >= e.Interval() {
		e.lastGen = now
		if o, ok := e.generate(now, total); ok {
			e.offers = append(e.offers, o)
			created = append(created, o)
		}
	}
	return e.Offers(), created
}

func (e *Engine) generate(now time.Time, total float64) (Offer, bool) {
	if len(e.cfg.Personalities) == 0 || math.IsNaN(total) {
		return Offer{}, false
	}
	kind := e.KindFor(total)
	tmpl, ok := e.template(kind)
	if !ok {
		return Offer{}, false
	}
	trader := e.cfg.Personalities[e.rng.Intn(len(e.cfg.Personalities))]
	if total < 0 {
		total = 0
	}

	markup := trader.Markup
	if !(markup > 0) {
		markup = 1
	}
	return Offer{
		ID:               uuid.NewString(),
		Kind:             kind,
		Trader:           trader.Name,
		Title:            tmpl.Title,
		Description:      fmt.Sprintf("%s %s", trader.Greeting, tmpl.Description),
		Costs:            quote(tmpl.CostBase, tmpl.CostShare, total, markup),
		Rewards:          quote(tmpl.RewardBase, tmpl.RewardShare, total, 1),
		Boosts:           append([]Boost(nil), tmpl.Boosts...),
		RiskLevel:        clampRisk(tmpl.BaseRisk, e.cfg.MaxRisk),
		HiddenConditions: append([]Penalty(nil), tmpl.Conditions...),
		CreatedAt:        now,
		ExpiresAt:        now.Add(e.cfg.TTL),
	}, true
}

func (e *Engine) template(k Kind) (Template, bool) {
	for _, t := range e.cfg.Templates {
		if t.Kind == k {
			return t, true
		}
	}
	return Template{}, false
}

// quote rounds each quantity to whole units and drops zeros.
func quote(base, share economy.Amounts, total, mult float64) economy.Amounts {
	out := make(economy.Amounts)
	for _, c := range economy.Commodities {
		v := math.Round((base[c] + share[c]*total) * mult)
		if v > 0 {
			out[c] = v
		}
	}
	return out
}

// EffectiveRisk is the trigger probability of an offer with baseRisk
// from personality given the acceptances so far.
func (e *Engine) EffectiveRisk(personality string, baseRisk float64) float64 {
	step := 0.0
	for _, p := range e.cfg.Personalities {
		if p.Name == personality {
			step = p.RiskStep
			break
		}
	}
	return clampRisk(baseRisk+float64(e.accepted[personality])*step, e.cfg.MaxRisk)
}

func clampRisk(v, max float64) float64 {
	if math.IsNaN(v) || v < 0 {
		return 0
	}
	if v > max {
		return max
	}
	return v
}

// Get returns outstanding offer id, hidden fields included.
func (e *Engine) Get(id string) (Offer, bool) {
	for _, o := range e.offers {
		if o.ID == id {
			return o, true
		}
	}
	return Offer{}, false
}

// Accept takes offer id off the market and rolls its hidden risk. The
// offer is removed whether or not the risk triggers.
func (e *Engine) Accept(id string, now time.Time) (Acceptance, error) {
	idx := -1
	for i, o := range e.offers {
		if o.ID == id {
			idx = i
			break
		}
	}
	if idx < 0 {
		return Acceptance{}, economy.ErrInvalidOffer
	}
	o := e.offers[idx]
	e.offers = append(e.offers[:idx], e.offers[idx+1:]...)

	risk := e.EffectiveRisk(o.Trader, o.RiskLevel)
	triggered := entropy.Chance(e.rng, risk)

	e.accepted[o.Trader]++
	e.acceptances++

	e.history = append(e.history, Deal{
		OfferID:    o.ID,
		Kind:       o.Kind,
		Trader:     o.Trader,
		Costs:      o.Costs.Clone(),
		Rewards:    o.Rewards.Clone(),
		Risk:       risk,
		Triggered:  triggered,
		AcceptedAt: now,
	})
	if limit := e.cfg.HistoryLimit; limit > 0 && len(e.history) > limit {
		e.history = append([]Deal(nil), e.history[len(e.history)-limit:]...)
	}

	acc := Acceptance{Offer: o, Risk: risk, Triggered: triggered}
	if triggered {
		acc.Penalties = append([]Penalty(nil), o.HiddenConditions...)
	}
	return acc, nil
}

// Offers returns the outstanding offers, oldest first.
func (e *Engine) Offers() []Offer {
	return append([]Offer(nil), e.offers...)
}

// History returns accepted deals, oldest first.
func (e *Engine) History() []Deal {
	return append([]Deal(nil), e.history...)
}

// Acceptances returns the session-wide acceptance count.
func (e *Engine) Acceptances() int {
	return e.acceptances
}

// Rename replaces the flavour text of an outstanding offer.
func (e *Engine) Rename(id, title, description string) bool {
	for i := range e.offers {
		if e.offers[i].ID != id {
			continue
		}
		if title != "" {
			e.offers[i].Title = title
		}
		if description != "" {
			e.offers[i].Description = description
		}
		return true
	}
	return false
}
