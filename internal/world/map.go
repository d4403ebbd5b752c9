package world

import "fmt"

// Map holds the complete hex grid.
type Map struct {
	Hexes  map[HexCoord]*Hex `json:"-"` // All hexes keyed by coordinate
	Radius int               `json:"radius"`
}

// NewMap creates an empty map with the given radius.
// A hex grid of radius R contains hexes where max(|q|, |r|, |s|) <= R.
func NewMap(radius int) *Map {
	return &Map{
		Hexes:  make(map[HexCoord]*Hex),
		Radius: radius,
	}
}

// Get returns the hex at the given coordinate, or nil if out of bounds.
func (m *Map) Get(coord HexCoord) *Hex {
	return m.Hexes[coord]
}

// Set places a hex at the given coordinate.
func (m *Map) Set(hex *Hex) {
	m.Hexes[hex.Coord] = hex
}

// InBounds returns true if the coordinate is within the map radius.
func (m *Map) InBounds(coord HexCoord) bool {
	return Distance(coord, HexCoord{}) <= m.Radius
}

// Within returns the in-bounds coordinates at most radius steps from
// center.
func (m *Map) Within(center HexCoord, radius int) []HexCoord {
	var out []HexCoord
	for dq := -radius; dq <= radius; dq++ {
		for dr := max(-radius, -dq-radius); dr <= min(radius, -dq+radius); dr++ {
			c := HexCoord{Q: center.Q + dq, R: center.R + dr}
			if m.InBounds(c) {
				out = append(out, c)
			}
		}
	}
	return out
}

// HexCount returns the total number of hexes in the map.
func (m *Map) HexCount() int {
	return len(m.Hexes)
}

// String returns a summary of the map.
func (m *Map) String() string {
	return fmt.Sprintf("Map(radius=%d, hexes=%d)", m.Radius, m.HexCount())
}
