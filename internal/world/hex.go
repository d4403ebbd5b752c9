// Package world provides the hex territory that feeds the economy: a
// noise-generated map of commodity nodes and the player's expanding
// region of control. Uses axial coordinates (q, r) for the hex grid.
package world

import "github.com/lucylow/quaternion/internal/economy"

// HexCoord represents a position on the hex grid using axial coordinates.
// The third cube coordinate s is derived: s = -q - r.
type HexCoord struct {
	Q int `json:"q"`
	R int `json:"r"`
}

// S returns the implicit third cube coordinate.
func (h HexCoord) S() int {
	return -h.Q - h.R
}

// Terrain types for hex tiles.
type Terrain uint8

const (
	TerrainPlains   Terrain = iota // Farmland, biomass
	TerrainForest                  // Biomass
	TerrainMountain                // Ore veins
	TerrainRiver                   // Hydro energy
	TerrainDesert                  // Solar energy
	TerrainSwamp                   // Biomass
	TerrainRuins                   // Data caches
	TerrainOcean                   // Not claimable
)

// Hex represents a single tile on the territory map.
type Hex struct {
	Coord   HexCoord `json:"coord"`
	Terrain Terrain  `json:"terrain"`

	// Elevation and climate data (set during generation).
	Elevation float64 `json:"elevation"` // 0.0 (sea level) to 1.0 (peak)
	Rainfall  float64 `json:"rainfall"`  // 0.0 (arid) to 1.0 (tropical)

	// Node is the commodity this hex produces once controlled.
	Node    economy.Commodity `json:"node"`
	HasNode bool              `json:"has_node"`
}

// NodeFor returns the commodity a terrain produces, if any.
func NodeFor(t Terrain) (economy.Commodity, bool) {
	switch t {
	case TerrainMountain:
		return economy.Ore, true
	case TerrainRiver, TerrainDesert:
		return economy.Energy, true
	case TerrainPlains, TerrainForest, TerrainSwamp:
		return economy.Biomass, true
	case TerrainRuins:
		return economy.Data, true
	}
	return 0, false
}

// HexNeighborDirections defines the six neighbor offsets in axial coordinates.
var HexNeighborDirections = [6]HexCoord{
	{Q: 1, R: 0},
	{Q: 1, R: -1},
	{Q: 0, R: -1},
	{Q: -1, R: 0},
	{Q: -1, R: 1},
	{Q: 0, R: 1},
}

// Neighbors returns the six adjacent hex coordinates.
func (h HexCoord) Neighbors() [6]HexCoord {
	var result [6]HexCoord
	for i, dir := range HexNeighborDirections {
		result[i] = HexCoord{Q: h.Q + dir.Q, R: h.R + dir.R}
	}
	return result
}

// Distance returns the hex distance between two coordinates.
func Distance(a, b HexCoord) int {
	return max(abs(a.Q-b.Q), abs(a.R-b.R), abs(a.S()-b.S()))
}

func abs(x int) int {
	if x < 0 {
		return -x
	}
	return x
}
