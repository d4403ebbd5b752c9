package world

import (
	"sort"
	"time"

	"github.com/lucylow/quaternion/internal/economy"
	"github.com/lucylow/quaternion/internal/engine"
)

// Milestone unlocks a tech once the controlled radius reaches Radius.
type Milestone struct {
	Radius int    `yaml:"radius" json:"radius"`
	Tech   string `yaml:"tech" json:"tech"`
}

// Config tunes the territory driver.
type Config struct {
	Gen         GenConfig     `yaml:"gen"`
	ExpandEvery time.Duration `yaml:"expand_every"` // one ring per interval
	MaxRadius   int           `yaml:"max_radius"`

	// DataPerHex is building production of data per controlled land hex.
	DataPerHex float64     `yaml:"data_per_hex"`
	Milestones []Milestone `yaml:"milestones"`
}

// DefaultConfig returns the standard territory tuning.
func DefaultConfig() Config {
	return Config{
		Gen:         DefaultGenConfig(),
		ExpandEvery: 2 * time.Minute,
		MaxRadius:   6,
		DataPerHex:  0.05,
		Milestones: []Milestone{
			{Radius: 1, Tech: "field_logistics"},
			{Radius: 2, Tech: "advanced_refining"},
			{Radius: 3, Tech: "bioengineering"},
			{Radius: 4, Tech: "quantum_computing"},
			{Radius: 5, Tech: "fusion_power"},
			{Radius: 6, Tech: "orbital_relays"},
		},
	}
}

// Summary is the public view of the territory.
type Summary struct {
	Capital    HexCoord                  `json:"capital"`
	Radius     int                       `json:"radius"`
	Controlled int                       `json:"controlled"`
	Nodes      map[economy.Commodity]int `json:"nodes"`
	Terrain    map[string]int            `json:"terrain"`
	Techs      []string                  `json:"techs"`
}

// Territory is the player's region on a generated map. It expands one
// ring at a time from the capital and turns controlled hexes into the
// per-tick economy input.
type Territory struct {
	cfg     Config
	m       *Map
	capital HexCoord
	radius  int

	lastExpand time.Time
}

// NewTerritory generates a map and places the capital.
func NewTerritory(cfg Config) *Territory {
	m := Generate(cfg.Gen)
	return &Territory{
		cfg:     cfg,
		m:       m,
		capital: PickCapital(m),
	}
}

// PickCapital returns the land hex with the best mix of nearby nodes.
// Ties go to the hex nearest the centre. An all-ocean map yields the
// origin.
func PickCapital(m *Map) HexCoord {
	type scored struct {
		coord HexCoord
		score float64
	}
	var candidates []scored
	for _, coord := range m.Within(HexCoord{}, m.Radius) {
		hex := m.Get(coord)
		if hex == nil || hex.Terrain == TerrainOcean {
			continue
		}
		candidates = append(candidates, scored{coord, capitalScore(m, coord)})
	}
	if len(candidates) == 0 {
		return HexCoord{}
	}
	sort.SliceStable(candidates, func(i, j int) bool {
		if candidates[i].score != candidates[j].score {
			return candidates[i].score > candidates[j].score
		}
		return Distance(candidates[i].coord, HexCoord{}) < Distance(candidates[j].coord, HexCoord{})
	})
	return candidates[0].coord
}

// capitalScore rewards variety: each distinct commodity within two hexes
// counts heavily, every node a little.
func capitalScore(m *Map, coord HexCoord) float64 {
	seen := make(map[economy.Commodity]bool)
	score := 0.0
	for _, c := range m.Within(coord, 2) {
		hex := m.Get(c)
		if hex == nil || !hex.HasNode {
			continue
		}
		if !seen[hex.Node] {
			seen[hex.Node] = true
			score += 3
		}
		score += 0.5
	}
	return score
}

// Map returns the generated map.
func (t *Territory) Map() *Map {
	return t.m
}

// Capital returns the capital coordinate.
func (t *Territory) Capital() HexCoord {
	return t.capital
}

// Radius returns the current control radius.
func (t *Territory) Radius() int {
	return t.radius
}

// Controlled reports whether coord is inside the player's region.
func (t *Territory) Controlled(coord HexCoord) bool {
	hex := t.m.Get(coord)
	return hex != nil && hex.Terrain != TerrainOcean && Distance(coord, t.capital) <= t.radius
}

// Input advances expansion to now and returns the economy input for the
// tick.
func (t *Territory) Input(now time.Time) engine.TickInput {
	expanded := false
	if t.lastExpand.IsZero() {
		t.lastExpand = now
	}
	if t.cfg.ExpandEvery > 0 && t.radius < t.cfg.MaxRadius && now.Sub(t.lastExpand) >= t.cfg.ExpandEvery {
		t.radius++
		t.lastExpand = now
		expanded = true
	}

	nodes := make(map[economy.Commodity]int, len(economy.Commodities))
	land := 0
	for _, c := range t.m.Within(t.capital, t.radius) {
		hex := t.m.Get(c)
		if hex == nil || hex.Terrain == TerrainOcean {
			continue
		}
		land++
		if hex.HasNode {
			nodes[hex.Node]++
		}
	}

	in := engine.TickInput{
		Now:             now,
		ControlledNodes: nodes,
		ResearchedTechs: t.Techs(),
	}
	if t.cfg.DataPerHex > 0 {
		in.BuildingProduction = economy.Amounts{economy.Data: t.cfg.DataPerHex * float64(land)}
	}
	switch {
	case expanded:
		in.PlayerBehaviorTags = []string{"expansionist"}
	case t.radius >= t.cfg.MaxRadius:
		in.PlayerBehaviorTags = []string{"consolidating"}
	}
	return in
}

// Techs returns the techs unlocked by the current radius.
func (t *Territory) Techs() []string {
	var out []string
	for _, ms := range t.cfg.Milestones {
		if ms.Tech != "" && t.radius >= ms.Radius {
			out = append(out, ms.Tech)
		}
	}
	return out
}

// LastExpand returns when the territory last grew.
func (t *Territory) LastExpand() time.Time {
	return t.lastExpand
}

// Restore sets the control radius, e.g. after loading a session.
func (t *Territory) Restore(radius int, lastExpand time.Time) {
	t.radius = max(0, min(radius, t.cfg.MaxRadius))
	t.lastExpand = lastExpand
}

// Summary describes the territory for display.
func (t *Territory) Summary() Summary {
	s := Summary{
		Capital: t.capital,
		Radius:  t.radius,
		Nodes:   make(map[economy.Commodity]int),
		Terrain: make(map[string]int),
		Techs:   t.Techs(),
	}
	for _, c := range t.m.Within(t.capital, t.radius) {
		hex := t.m.Get(c)
		if hex == nil || hex.Terrain == TerrainOcean {
			continue
		}
		s.Controlled++
		s.Terrain[TerrainName(hex.Terrain)]++
		if hex.HasNode {
			s.Nodes[hex.Node]++
		}
	}
	return s
}
