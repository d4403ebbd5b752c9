package engine

import (
	"time"

	"github.com/lucylow/quaternion/internal/blackmarket"
	"github.com/lucylow/quaternion/internal/conversion"
	"github.com/lucylow/quaternion/internal/economy"
	"github.com/lucylow/quaternion/internal/events"
	"github.com/lucylow/quaternion/internal/puzzle"
)

// TickInput is the world state the surrounding game feeds each tick.
type TickInput struct {
	Now                time.Time                 `json:"now"`
	ControlledNodes    map[economy.Commodity]int `json:"controlled_nodes"`
	BuildingProduction economy.Amounts           `json:"building_production"`
	ResearchedTechs    []string                  `json:"researched_techs"`
	PlayerBehaviorTags []string                  `json:"player_behavior_tags"`
}

// TickOutput is the read-only snapshot handed to UI and narrator layers.
type TickOutput struct {
	Tick          uint64              `json:"tick"`
	Now           time.Time           `json:"now"`
	Resources     economy.Amounts     `json:"resources"`
	Capacities    economy.Amounts     `json:"capacities"`
	Generation    economy.Amounts     `json:"generation"`
	Instability   float64             `json:"instability"`
	Synergies     economy.Synergies   `json:"synergies"`
	ActiveEvents  []events.Event      `json:"active_events"`
	ActivePuzzles []puzzle.Puzzle     `json:"active_puzzles"`
	MarketOffers  []blackmarket.Offer `json:"market_offers"`
	Routes        []conversion.Route  `json:"routes"`
	ResearchLevel int                 `json:"research_level"`
}

// ActionResult is the structured outcome of a player action. On failure
// OK is false, Code says why, and no state changed.
type ActionResult struct {
	OK      bool         `json:"ok"`
	Code    economy.Code `json:"error,omitempty"`
	Message string       `json:"message,omitempty"`

	// Conversion outcomes.
	Output       float64 `json:"output,omitempty"`
	Lost         float64 `json:"lost,omitempty"`
	Catastrophic bool    `json:"catastrophic,omitempty"`

	// Puzzle and market outcomes.
	Option        *puzzle.Option        `json:"option,omitempty"`
	RiskTriggered bool                  `json:"risk_triggered,omitempty"`
	Penalties     []blackmarket.Penalty `json:"penalties,omitempty"`

	Resources economy.Amounts `json:"resources,omitempty"`
}

func failed(err error) ActionResult {
	code := economy.CodeOf(err)
	if code == "" {
		code = economy.CodeInvalidAmount
	}
	return ActionResult{Code: code, Message: err.Error()}
}
