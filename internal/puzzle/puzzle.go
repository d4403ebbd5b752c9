// Package puzzle generates allocation dilemmas: four mutually exclusive
// ways to spend a share of the current stockpile, each trading an
// immediate payoff against a long-term one.
package puzzle

import (
	"fmt"
	"math"
	"time"

	"github.com/google/uuid"

	"github.com/lucylow/quaternion/internal/economy"
	"github.com/lucylow/quaternion/internal/entropy"
)

// Kind classifies the situation a puzzle responds to.
type Kind string

const (
	KindResourceImbalance  Kind = "resource_imbalance"
	KindCrisisResponse     Kind = "crisis_response"
	KindStrategicChoice    Kind = "strategic_choice"
	KindStandardAllocation Kind = "standard_allocation"
)

// OptionKind names one of the four fixed allocation strategies.
type OptionKind string

const (
	OptionExpansion  OptionKind = "expansion"
	OptionDefense    OptionKind = "defense"
	OptionTechnology OptionKind = "technology"
	OptionEconomy    OptionKind = "economy"
)

// Effects is a structured bundle of changes the orchestrator applies to
// the ledger. Zero fields mean no change.
type Effects struct {
	Resources            economy.Amounts `json:"resources,omitempty" yaml:"resources"`
	Capacity             economy.Amounts `json:"capacity,omitempty" yaml:"capacity"`
	GenerationMultiplier economy.Amounts `json:"generation_multiplier,omitempty" yaml:"generation_multiplier"`
	DecayReduction       economy.Amounts `json:"decay_reduction,omitempty" yaml:"decay_reduction"`
	Note                 string          `json:"note,omitempty" yaml:"note"`
}

// Empty reports whether e changes nothing.
func (e Effects) Empty() bool {
	return e.Resources.IsZero() && e.Capacity.IsZero() &&
		len(e.GenerationMultiplier) == 0 && e.DecayReduction.IsZero()
}

// Option is one choice within a puzzle.
type Option struct {
	ID          string          `json:"id"`
	Kind        OptionKind      `json:"kind"`
	Title       string          `json:"title"`
	Description string          `json:"description"`
	Cost        economy.Amounts `json:"cost"`
	Immediate   Effects         `json:"immediate"`
	LongTerm    Effects         `json:"long_term"`
	Risk        float64         `json:"risk"`
}

// Puzzle is an outstanding allocation dilemma.
type Puzzle struct {
	ID          string    `json:"id"`
	Kind        Kind      `json:"kind"`
	Title       string    `json:"title"`
	Description string    `json:"description"`
	Options     []Option  `json:"options"`
	Tags        []string  `json:"tags,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
	ExpiresAt   time.Time `json:"expires_at"`
}

// Option returns the option with id.
func (p *Puzzle) Option(id string) (Option, bool) {
	for _, o := range p.Options {
		if o.ID == id {
			return o, true
		}
	}
	return Option{}, false
}

// Resolution records a decided puzzle.
type Resolution struct {
	PuzzleID   string          `json:"puzzle_id"`
	Kind       Kind            `json:"kind"`
	OptionID   string          `json:"option_id"`
	Option     OptionKind      `json:"option"`
	Cost       economy.Amounts `json:"cost"`
	ResolvedAt time.Time       `json:"resolved_at"`
}

// Context is the economy snapshot a puzzle is generated from.
type Context struct {
	Resources     economy.Amounts
	ActiveEvents  int
	ResearchLevel int
	Tags          []string
	Now           time.Time
}

// OptionTemplate is the fixed formula behind one option kind.
type OptionTemplate struct {
	Kind         OptionKind      `yaml:"kind"`
	Title        string          `yaml:"title"`
	Description  string          `yaml:"description"`
	CostFraction float64         `yaml:"cost_fraction"` // share of total resources
	Split        economy.Amounts `yaml:"split"`         // per-commodity share of the cost
	Risk         float64         `yaml:"risk"`
	Immediate    Effects         `yaml:"immediate"`
	LongTerm     Effects         `yaml:"long_term"`
}

// DefaultOptions returns Expansion, Defense, Technology and Economy.
func DefaultOptions() []OptionTemplate {
	return []OptionTemplate{
		{
			Kind:         OptionExpansion,
			Title:        "Expansion",
			Description:  "Push new claims past the frontier.",
			CostFraction: 0.40,
			Split:        economy.Amounts{economy.Ore: 0.5, economy.Energy: 0.3, economy.Biomass: 0.2},
			Risk:         0.4,
			Immediate: Effects{
				Resources: economy.Amounts{economy.Biomass: 30},
				Note:      "Forward camps forage the new ground.",
			},
			LongTerm: Effects{
				Capacity:             economy.Amounts{economy.Ore: 1000, economy.Biomass: 500},
				GenerationMultiplier: economy.Amounts{economy.Ore: 1.1, economy.Biomass: 1.1},
				Note:                 "Larger stores and richer claims.",
			},
		},
		{
			Kind:         OptionDefense,
			Title:        "Defense",
			Description:  "Harden depots and reactors against disruption.",
			CostFraction: 0.30,
			Split:        economy.Amounts{economy.Ore: 0.6, economy.Energy: 0.4},
			Risk:         0.2,
			Immediate: Effects{
				Note: "Fortifications go up; nothing else changes yet.",
			},
			LongTerm: Effects{
				DecayReduction: economy.Amounts{economy.Ore: 0.005, economy.Energy: 0.01},
				Capacity:       economy.Amounts{economy.Energy: 500},
				Note:           "Stockpiles spoil more slowly.",
			},
		},
		{
			Kind:         OptionTechnology,
			Title:        "Technology",
			Description:  "Fund the research labs.",
			CostFraction: 0.50,
			Split:        economy.Amounts{economy.Ore: 0.2, economy.Energy: 0.3, economy.Data: 0.5},
			Risk:         0.5,
			Immediate: Effects{
				Resources: economy.Amounts{economy.Data: 20},
				Note:      "Prototype telemetry starts flowing.",
			},
			LongTerm: Effects{
				GenerationMultiplier: economy.Amounts{economy.Data: 1.25, economy.Energy: 1.1},
				Capacity:             economy.Amounts{economy.Data: 500},
				Note:                 "Data and energy output climb.",
			},
		},
		{
			Kind:         OptionEconomy,
			Title:        "Economy",
			Description:  "Invest evenly across every supply chain.",
			CostFraction: 0.35,
			Split:        economy.Amounts{economy.Ore: 0.25, economy.Energy: 0.25, economy.Biomass: 0.25, economy.Data: 0.25},
			Risk:         0.3,
			Immediate: Effects{
				Resources: economy.Amounts{economy.Ore: 20, economy.Energy: 20},
				Note:      "Markets respond with a small dividend.",
			},
			LongTerm: Effects{
				GenerationMultiplier: economy.Amounts{economy.Ore: 1.05, economy.Energy: 1.05, economy.Biomass: 1.05, economy.Data: 1.05},
				DecayReduction:       economy.Amounts{economy.Ore: 0.002, economy.Energy: 0.002, economy.Biomass: 0.002, economy.Data: 0.002},
				Note:                 "Everything grows a little and wastes a little less.",
			},
		},
	}
}

// Config controls puzzle generation.
type Config struct {
	Interval       time.Duration    `yaml:"interval"` // minimum gap between timed generations
	Chance         float64          `yaml:"chance"`   // chance gate once the interval has elapsed
	MaxAge         time.Duration    `yaml:"max_age"`
	MaxActive      int              `yaml:"max_active"`
	HistoryLimit   int              `yaml:"history_limit"`
	ImbalanceRatio float64          `yaml:"imbalance_ratio"`
	StrategicLevel int              `yaml:"strategic_level"`
	Options        []OptionTemplate `yaml:"options"`
}

// DefaultConfig returns the standard puzzle cadence and formulas.
func DefaultConfig() Config {
	return Config{
		Interval:       90 * time.Second,
		Chance:         0.6,
		MaxAge:         300 * time.Second,
		MaxActive:      2,
		HistoryLimit:   50,
		ImbalanceRatio: 0.3,
		StrategicLevel: 5,
		Options:        DefaultOptions(),
	}
}

// Engine tracks outstanding puzzles and resolved history. It never
// touches the ledger: callers apply the returned option themselves.
type Engine struct {
	cfg     Config
	rng     entropy.Rand
	active  []*Puzzle
	history []Resolution
	lastGen time.Time
}

// New creates a puzzle engine.
func New(cfg Config, rng entropy.Rand) *Engine {
	return &Engine{cfg: cfg, rng: rng}
}

// Classify picks the puzzle kind for a context. Checks run in order:
// imbalance, crisis, strategic, standard.
func (e *Engine) Classify(ctx Context) Kind {
	mean := ctx.Resources.Total() / float64(len(economy.Commodities))
	if mean > 0 {
		skewed := 0
		for _, c := range economy.Commodities {
			if math.Abs(ctx.Resources[c]-mean)/mean > e.cfg.ImbalanceRatio {
				skewed++
			}
		}
		if skewed > 2 {
			return KindResourceImbalance
		}
	}
	if ctx.ActiveEvents > 0 {
		return KindCrisisResponse
	}
	if ctx.ResearchLevel > e.cfg.StrategicLevel {
		return KindStrategicChoice
	}
	return KindStandardAllocation
}

// Generate builds a puzzle for ctx and registers it as active. It
// returns nil when there is nothing to allocate.
func (e *Engine) Generate(ctx Context) *Puzzle {
	total := ctx.Resources.Total()
	if !(total > 0) || math.IsInf(total, 0) {
		return nil
	}

	kind := e.Classify(ctx)
	title, desc := framing(kind)

	p := &Puzzle{
		ID:          uuid.NewString(),
		Kind:        kind,
		Title:       title,
		Description: desc,
		Tags:        append([]string(nil), ctx.Tags...),
		CreatedAt:   ctx.Now,
		ExpiresAt:   ctx.Now.Add(e.cfg.MaxAge),
	}
	for _, tmpl := range e.cfg.Options {
		p.Options = append(p.Options, buildOption(tmpl, total))
	}
	e.active = append(e.active, p)
	e.lastGen = ctx.Now
	return p
}

func buildOption(tmpl OptionTemplate, total float64) Option {
	budget := total * tmpl.CostFraction
	cost := make(economy.Amounts, len(tmpl.Split))
	for c, share := range tmpl.Split {
		cost[c] = budget * share
	}
	return Option{
		ID:          string(tmpl.Kind),
		Kind:        tmpl.Kind,
		Title:       tmpl.Title,
		Description: fmt.Sprintf("%s Costs %.0f across %d resources.", tmpl.Description, budget, len(cost)),
		Cost:        cost,
		Immediate:   cloneEffects(tmpl.Immediate),
		LongTerm:    cloneEffects(tmpl.LongTerm),
		Risk:        clampUnit(tmpl.Risk),
	}
}

func cloneEffects(e Effects) Effects {
	return Effects{
		Resources:            cloneOrNil(e.Resources),
		Capacity:             cloneOrNil(e.Capacity),
		GenerationMultiplier: cloneOrNil(e.GenerationMultiplier),
		DecayReduction:       cloneOrNil(e.DecayReduction),
		Note:                 e.Note,
	}
}

func cloneOrNil(a economy.Amounts) economy.Amounts {
	if a == nil {
		return nil
	}
	return a.Clone()
}

func framing(k Kind) (title, description string) {
	switch k {
	case KindResourceImbalance:
		return "Lopsided Stockpiles", "Reserves have drifted badly out of balance. Decide where the surplus goes."
	case KindCrisisResponse:
		return "Crisis Response", "Active disruptions demand a response. Commit resources before the window closes."
	case KindStrategicChoice:
		return "Strategic Crossroads", "The research program opens several paths. Only one can be funded now."
	default:
		return "Quarterly Allocation", "The council asks how this cycle's surplus should be spent."
	}
}

// Maintain drops expired puzzles and, once the interval has elapsed and
// the chance gate passes, generates a new one. It returns the new
// puzzle or nil.
func (e *Engine) Maintain(ctx Context) *Puzzle {
	e.ClearExpired(ctx.Now, e.cfg.MaxAge)

	if e.lastGen.IsZero() {
		e.lastGen = ctx.Now
		return nil
	}
	if ctx.Now.Sub(e.lastGen) < e.cfg.Interval {
		return nil
	}
	if e.cfg.MaxActive > 0 && len(e.active) >= e.cfg.MaxActive {
		return nil
	}
	e.lastGen = ctx.Now
	if !entropy.Chance(e.rng, e.cfg.Chance) {
		return nil
	}
	return e.Generate(ctx)
}

// Lookup returns the option oid of active puzzle pid without resolving it.
func (e *Engine) Lookup(pid, oid string) (Option, error) {
	p := e.find(pid)
	if p == nil {
		return Option{}, economy.ErrInvalidPuzzle
	}
	o, ok := p.Option(oid)
	if !ok {
		return Option{}, economy.ErrInvalidOption
	}
	return o, nil
}

// ExecuteDecision resolves puzzle pid with option oid, moving it into
// history, and returns the chosen option for the caller to apply.
func (e *Engine) ExecuteDecision(pid, oid string, now time.Time) (Option, error) {
	o, err := e.Lookup(pid, oid)
	if err != nil {
		return Option{}, err
	}
	var kind Kind
	kept := e.active[:0]
	for _, p := range e.active {
		if p.ID == pid {
			kind = p.Kind
			continue
		}
		kept = append(kept, p)
	}
	e.active = kept

	e.history = append(e.history, Resolution{
		PuzzleID:   pid,
		Kind:       kind,
		OptionID:   o.ID,
		Option:     o.Kind,
		Cost:       o.Cost.Clone(),
		ResolvedAt: now,
	})
	if limit := e.cfg.HistoryLimit; limit > 0 && len(e.history) > limit {
		e.history = append([]Resolution(nil), e.history[len(e.history)-limit:]...)
	}
	return o, nil
}

// ClearExpired drops active puzzles older than maxAge and returns their
// IDs. A second call at the same time removes nothing.
func (e *Engine) ClearExpired(now time.Time, maxAge time.Duration) []string {
	var removed []string
	kept := e.active[:0]
	for _, p := range e.active {
		if now.Sub(p.CreatedAt) > maxAge {
			removed = append(removed, p.ID)
			continue
		}
		kept = append(kept, p)
	}
	e.active = kept
	return removed
}

// Active returns copies of the outstanding puzzles, oldest first.
func (e *Engine) Active() []Puzzle {
	out := make([]Puzzle, 0, len(e.active))
	for _, p := range e.active {
		out = append(out, *p)
	}
	return out
}

// Get returns a copy of active puzzle id.
func (e *Engine) Get(id string) (Puzzle, bool) {
	if p := e.find(id); p != nil {
		return *p, true
	}
	return Puzzle{}, false
}

// History returns resolved puzzles, oldest first.
func (e *Engine) History() []Resolution {
	return append([]Resolution(nil), e.history...)
}

// Rename replaces the flavour text of an active puzzle.
func (e *Engine) Rename(id, title, description string) bool {
	p := e.find(id)
	if p == nil {
		return false
	}
	if title != "" {
		p.Title = title
	}
	if description != "" {
		p.Description = description
	}
	return true
}

func (e *Engine) find(id string) *Puzzle {
	for _, p := range e.active {
		if p.ID == id {
			return p
		}
	}
	return nil
}

func clampUnit(v float64) float64 {
	if math.IsNaN(v) || v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
