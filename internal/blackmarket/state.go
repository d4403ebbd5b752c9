package blackmarket

import (
	"math"
	"time"

	"github.com/lucylow/quaternion/internal/economy"
)

// StoredOffer is an offer with its hidden fields, for persistence only.
type StoredOffer struct {
	Offer
	Risk       float64   `json:"risk_level"`
	Conditions []Penalty `json:"hidden_conditions"`
}

// State is the persisted form of the market.
type State struct {
	Offers        []StoredOffer  `json:"offers"`
	TimesAccepted map[string]int `json:"times_accepted"`
	Acceptances   int            `json:"acceptances"`
	LastGenerated time.Time      `json:"last_generated"`
	History       []Deal         `json:"history"`
}

// Export captures the market, hidden risk included.
func (e *Engine) Export() State {
	st := State{
		TimesAccepted: make(map[string]int, len(e.accepted)),
		Acceptances:   e.acceptances,
		LastGenerated: e.lastGen,
		History:       e.History(),
	}
	for _, o := range e.offers {
		st.Offers = append(st.Offers, StoredOffer{
			Offer:      o,
			Risk:       o.RiskLevel,
			Conditions: append([]Penalty(nil), o.HiddenConditions...),
		})
	}
	for k, v := range e.accepted {
		st.TimesAccepted[k] = v
	}
	return st
}

// Load restores a persisted market. Risks are clamped to MaxRisk,
// negative counters reset to zero, and malformed offers dropped.
func (e *Engine) Load(st State) {
	e.offers = e.offers[:0]
	for _, so := range st.Offers {
		o := so.Offer
		if o.ID == "" || !o.ExpiresAt.After(o.CreatedAt) {
			continue
		}
		o.Costs = sanitize(o.Costs)
		o.Rewards = sanitize(o.Rewards)
		o.RiskLevel = clampRisk(so.Risk, e.cfg.MaxRisk)
		o.HiddenConditions = nil
		for _, p := range so.Conditions {
			if !p.Commodity.Valid() || math.IsNaN(p.Fraction) {
				continue
			}
			p.Fraction = math.Max(0, math.Min(1, p.Fraction))
			o.HiddenConditions = append(o.HiddenConditions, p)
		}
		e.offers = append(e.offers, o)
	}

	e.accepted = make(map[string]int, len(st.TimesAccepted))
	for k, v := range st.TimesAccepted {
		if v > 0 {
			e.accepted[k] = v
		}
	}
	e.acceptances = max(st.Acceptances, 0)
	e.lastGen = st.LastGenerated

	e.history = append(e.history[:0], st.History...)
	if limit := e.cfg.HistoryLimit; limit > 0 && len(e.history) > limit {
		e.history = e.history[len(e.history)-limit:]
	}
}

func sanitize(a economy.Amounts) economy.Amounts {
	out := make(economy.Amounts, len(a))
	for c, v := range a {
		if !c.Valid() || math.IsNaN(v) || math.IsInf(v, 0) || v <= 0 {
			continue
		}
		out[c] = v
	}
	return out
}
