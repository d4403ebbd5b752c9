package puzzle

import (
	"math"
	"time"

	"github.com/lucylow/quaternion/internal/economy"
)

// State is the persisted form of the puzzle engine.
type State struct {
	Active        []Puzzle     `json:"active"`
	History       []Resolution `json:"history"`
	LastGenerated time.Time    `json:"last_generated"`
}

// Export captures the engine for persistence.
func (e *Engine) Export() State {
	return State{Active: e.Active(), History: e.History(), LastGenerated: e.lastGen}
}

// Load restores persisted puzzles. Puzzles without an ID or options are
// dropped; costs and risks are clamped.
func (e *Engine) Load(st State) {
	e.active = e.active[:0]
	for _, p := range st.Active {
		if p.ID == "" || len(p.Options) == 0 {
			continue
		}
		p := p
		opts := make([]Option, 0, len(p.Options))
		for _, o := range p.Options {
			if o.ID == "" {
				continue
			}
			o.Cost = sanitize(o.Cost)
			o.Risk = clampUnit(o.Risk)
			opts = append(opts, o)
		}
		if len(opts) == 0 {
			continue
		}
		p.Options = opts
		e.active = append(e.active, &p)
	}

	e.history = append(e.history[:0], st.History...)
	if limit := e.cfg.HistoryLimit; limit > 0 && len(e.history) > limit {
		e.history = e.history[len(e.history)-limit:]
	}
	e.lastGen = st.LastGenerated
}

// sanitize drops unknown commodities and clamps negative or non-finite
// quantities to zero.
func sanitize(a economy.Amounts) economy.Amounts {
	out := make(economy.Amounts, len(a))
	for c, v := range a {
		if !c.Valid() {
			continue
		}
		if math.IsNaN(v) || math.IsInf(v, 0) || v < 0 {
			v = 0
		}
		out[c] = v
	}
	return out
}
