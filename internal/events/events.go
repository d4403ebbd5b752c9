// Package events runs the time-boxed generation modifiers that perturb
// the economy: solar flares, ore discoveries, blights and the like.
package events

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/lucylow/quaternion/internal/economy"
	"github.com/lucylow/quaternion/internal/entropy"
)

// Status is the lifecycle position of an event at a given time.
type Status uint8

const (
	StatusScheduled Status = iota // Start is in the future
	StatusActive                  // Start ≤ now < End
	StatusExpired                 // End ≤ now
)

// String returns the status name.
func (s Status) String() string {
	switch s {
	case StatusScheduled:
		return "scheduled"
	case StatusActive:
		return "active"
	case StatusExpired:
		return "expired"
	default:
		return "unknown"
	}
}

// Source tags where an event came from.
const (
	SourceWorld  = "world"  // spawned by the event timer
	SourceMarket = "market" // black-market boosts and sabotage
	SourceAdmin  = "admin"
)

// Event is a multiplicative modifier on generation for a time window.
type Event struct {
	ID          string          `json:"id"`
	Template    string          `json:"template"`
	Title       string          `json:"title"`
	Description string          `json:"description"`
	Modifiers   economy.Amounts `json:"modifiers"`
	Start       time.Time       `json:"start"`
	End         time.Time       `json:"end"`
	Positive    bool            `json:"positive"`
	Source      string          `json:"source"`
}

// Status reports where the event is in its lifecycle at now.
func (e Event) Status(now time.Time) Status {
	switch {
	case !now.Before(e.End):
		return StatusExpired
	case now.Before(e.Start):
		return StatusScheduled
	default:
		return StatusActive
	}
}

// Template is a recipe for spawning events.
type Template struct {
	ID            string              `yaml:"id" json:"id"`
	Title         string              `yaml:"title" json:"title"`
	Description   string              `yaml:"description" json:"description"`
	Targets       []economy.Commodity `yaml:"targets" json:"targets"`
	MinMultiplier float64             `yaml:"min_multiplier" json:"min_multiplier"`
	MaxMultiplier float64             `yaml:"max_multiplier" json:"max_multiplier"`
}

// DefaultTemplates returns the built-in event catalogue.
func DefaultTemplates() []Template {
	return []Template{
		{
			ID:            "solar_flare",
			Title:         "Solar Flare",
			Description:   "A coronal burst scrambles the grid and data relays.",
			Targets:       []economy.Commodity{economy.Energy, economy.Data},
			MinMultiplier: 0.5,
			MaxMultiplier: 0.8,
		},
		{
			ID:            "ore_vein_discovery",
			Title:         "Ore Vein Discovery",
			Description:   "Surveyors strike a rich seam beneath the outer claims.",
			Targets:       []economy.Commodity{economy.Ore},
			MinMultiplier: 1.3,
			MaxMultiplier: 1.8,
		},
		{
			ID:            "biomass_blight",
			Title:         "Biomass Blight",
			Description:   "A fungal blight spreads through the cultivation vats.",
			Targets:       []economy.Commodity{economy.Biomass},
			MinMultiplier: 0.4,
			MaxMultiplier: 0.7,
		},
		{
			ID:            "data_surge",
			Title:         "Data Surge",
			Description:   "A derelict archive comes back online and floods the network.",
			Targets:       []economy.Commodity{economy.Data, economy.Energy},
			MinMultiplier: 1.2,
			MaxMultiplier: 1.6,
		},
		{
			ID:            "trade_boom",
			Title:         "Trade Boom",
			Description:   "Caravans crowd the depots and every line runs hot.",
			Targets:       []economy.Commodity{economy.Ore, economy.Energy, economy.Biomass, economy.Data},
			MinMultiplier: 1.1,
			MaxMultiplier: 1.4,
		},
		{
			ID:            "seismic_tremor",
			Title:         "Seismic Tremor",
			Description:   "Tremors collapse shafts and trip the reactors.",
			Targets:       []economy.Commodity{economy.Ore, economy.Energy},
			MinMultiplier: 0.6,
			MaxMultiplier: 0.9,
		},
	}
}

// Config controls spawning.
type Config struct {
	Frequency         time.Duration `yaml:"frequency"`
	BaseChance        float64       `yaml:"base_chance"`
	InstabilityChance float64       `yaml:"instability_chance"` // added at instability 200
	MinDuration       time.Duration `yaml:"min_duration"`
	MaxDuration       time.Duration `yaml:"max_duration"`
	MaxActive         int           `yaml:"max_active"`
	Templates         []Template    `yaml:"templates"`
}

// DefaultConfig returns the standard event cadence.
func DefaultConfig() Config {
	return Config{
		Frequency:         120 * time.Second,
		BaseChance:        0.5,
		InstabilityChance: 0.4,
		MinDuration:       60 * time.Second,
		MaxDuration:       180 * time.Second,
		MaxActive:         3,
		Templates:         DefaultTemplates(),
	}
}

// Engine owns the event collection of one session.
type Engine struct {
	cfg       Config
	rng       entropy.Rand
	events    []Event
	lastSpawn time.Time
}

// New creates an event engine.
func New(cfg Config, rng entropy.Rand) *Engine {
	return &Engine{cfg: cfg, rng: rng}
}

// Update expires finished events, attempts a timed spawn, and returns
// the events active at now plus any spawned during this call.
func (e *Engine) Update(now time.Time, instability float64) (active []Event, spawned []Event) {
	kept := e.events[:0]
	for _, ev := range e.events {
		if ev.Status(now) != StatusExpired {
			kept = append(kept, ev)
		}
	}
	e.events = kept

	if e.lastSpawn.IsZero() {
		e.lastSpawn = now
	}
	if now.Sub(e.lastSpawn) >= e.cfg.Frequency {
		e.lastSpawn = now
		if ev, ok := e.trySpawn(now, instability); ok {
			e.events = append(e.events, ev)
			spawned = append(spawned, ev)
		}
	}

	return e.Active(now), spawned
}

func (e *Engine) trySpawn(now time.Time, instability float64) (Event, bool) {
	if len(e.cfg.Templates) == 0 {
		return Event{}, false
	}
	if e.cfg.MaxActive > 0 && len(e.Active(now)) >= e.cfg.MaxActive {
		return Event{}, false
	}
	chance := e.cfg.BaseChance + clampInstability(instability)/economy.MaxInstability*e.cfg.InstabilityChance
	if !entropy.Chance(e.rng, chance) {
		return Event{}, false
	}

	tmpl := e.cfg.Templates[e.rng.Intn(len(e.cfg.Templates))]
	if len(tmpl.Targets) == 0 {
		return Event{}, false
	}
	targets := e.pickTargets(tmpl.Targets, 1+e.rng.Intn(2))

	mult := entropy.Uniform(e.rng, tmpl.MinMultiplier, tmpl.MaxMultiplier)
	duration := time.Duration(entropy.Uniform(e.rng, float64(e.cfg.MinDuration), float64(e.cfg.MaxDuration)))

	mods := make(economy.Amounts, len(targets))
	for _, c := range targets {
		mods[c] = mult
	}
	return Event{
		ID:          uuid.NewString(),
		Template:    tmpl.ID,
		Title:       tmpl.Title,
		Description: describe(tmpl, targets, mult),
		Modifiers:   mods,
		Start:       now,
		End:         now.Add(duration),
		Positive:    mult >= 1.0,
		Source:      SourceWorld,
	}, true
}

// pickTargets draws n distinct commodities from allowed.
func (e *Engine) pickTargets(allowed []economy.Commodity, n int) []economy.Commodity {
	pool := append([]economy.Commodity(nil), allowed...)
	if n > len(pool) {
		n = len(pool)
	}
	out := make([]economy.Commodity, 0, n)
	for i := 0; i < n; i++ {
		j := e.rng.Intn(len(pool))
		out = append(out, pool[j])
		pool = append(pool[:j], pool[j+1:]...)
	}
	return out
}

func describe(tmpl Template, targets []economy.Commodity, mult float64) string {
	names := make([]string, len(targets))
	for i, c := range targets {
		names[i] = c.String()
	}
	return fmt.Sprintf("%s (%s output ×%.2f)", tmpl.Description, strings.Join(names, ", "), mult)
}

// Inject registers an externally created event, e.g. black-market
// sabotage. A missing ID is filled in.
func (e *Engine) Inject(ev Event) Event {
	if ev.ID == "" {
		ev.ID = uuid.NewString()
	}
	if ev.Source == "" {
		ev.Source = SourceAdmin
	}
	e.events = append(e.events, ev)
	return ev
}

// Active returns the events active at now.
func (e *Engine) Active(now time.Time) []Event {
	var out []Event
	for _, ev := range e.events {
		if ev.Status(now) == StatusActive {
			out = append(out, ev)
		}
	}
	return out
}

// All returns every tracked event, scheduled ones included.
func (e *Engine) All() []Event {
	return append([]Event(nil), e.events...)
}

// Get returns the tracked event with id.
func (e *Engine) Get(id string) (Event, bool) {
	for _, ev := range e.events {
		if ev.ID == id {
			return ev, true
		}
	}
	return Event{}, false
}

// Rename replaces the flavour text of a tracked event.
func (e *Engine) Rename(id, title, description string) bool {
	for i := range e.events {
		if e.events[i].ID != id {
			continue
		}
		if title != "" {
			e.events[i].Title = title
		}
		if description != "" {
			e.events[i].Description = description
		}
		return true
	}
	return false
}

// Modifiers returns the per-commodity product over active events.
// Commodities untouched by any event map to 1.
func (e *Engine) Modifiers(now time.Time) economy.Amounts {
	return Combine(e.Active(now))
}

// Combine multiplies the modifiers of events per commodity.
func Combine(evs []Event) economy.Amounts {
	out := economy.Amounts{economy.Ore: 1, economy.Energy: 1, economy.Biomass: 1, economy.Data: 1}
	for _, ev := range evs {
		for c, m := range ev.Modifiers {
			if !c.Valid() || m < 0 {
				continue
			}
			out[c] *= m
		}
	}
	return out
}

func clampInstability(v float64) float64 {
	if v < 0 || v != v {
		return 0
	}
	if v > economy.MaxInstability {
		return economy.MaxInstability
	}
	return v
}

// State is the persisted form of the event engine.
type State struct {
	Events    []Event   `json:"events"`
	LastSpawn time.Time `json:"last_spawn"`
}

// Export captures the engine for persistence.
func (e *Engine) Export() State {
	return State{Events: e.All(), LastSpawn: e.lastSpawn}
}

// Load restores persisted events. Events with an inverted window or
// invalid modifiers are dropped.
func (e *Engine) Load(st State) {
	e.events = e.events[:0]
	for _, ev := range st.Events {
		if ev.ID == "" || !ev.End.After(ev.Start) {
			continue
		}
		valid := true
		for c, m := range ev.Modifiers {
			if !c.Valid() || m < 0 || m != m {
				valid = false
				break
			}
		}
		if valid {
			e.events = append(e.events, ev)
		}
	}
	e.lastSpawn = st.LastSpawn
}
