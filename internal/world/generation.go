// Territory generation using layered simplex noise.
// Generates elevation, rainfall and anomaly maps, then derives terrain
// and the commodity node each hex yields.
package world

import (
	"math"
	"math/rand"

	opensimplex "github.com/ojrac/opensimplex-go"
)

// GenConfig holds territory generation parameters.
type GenConfig struct {
	Radius      int     `yaml:"radius"`         // Hex grid radius
	Seed        int64   `yaml:"seed"`           // Random seed (0 = random)
	SeaLevel    float64 `yaml:"sea_level"`      // Elevation threshold for ocean (0.0–1.0)
	MountainLvl float64 `yaml:"mountain_level"` // Elevation threshold for mountains (0.0–1.0)
	RuinsLvl    float64 `yaml:"ruins_level"`    // Anomaly threshold for data ruins (0.0–1.0)
}

// DefaultGenConfig returns a reasonable starting configuration.
func DefaultGenConfig() GenConfig {
	return GenConfig{
		Radius:      12,
		Seed:        0,
		SeaLevel:    0.25,
		MountainLvl: 0.68,
		RuinsLvl:    0.7,
	}
}

// SmallTestConfig returns a tiny territory for rapid iteration.
func SmallTestConfig() GenConfig {
	return GenConfig{
		Radius:      5,
		Seed:        42,
		SeaLevel:    0.2,
		MountainLvl: 0.65,
		RuinsLvl:    0.65,
	}
}

// Generate creates a complete map with terrain and nodes.
func Generate(cfg GenConfig) *Map {
	seed := cfg.Seed
	if seed == 0 {
		seed = rand.Int63()
	}

	// Three noise generators for independent layers.
	elevNoise := opensimplex.NewNormalized(seed)
	rainNoise := opensimplex.NewNormalized(seed + 1)
	anomalyNoise := opensimplex.NewNormalized(seed + 2)

	m := NewMap(cfg.Radius)

	for _, coord := range m.Within(HexCoord{}, cfg.Radius) {
		// Hex axial → cartesian: x = q + r*0.5, y = r * sqrt(3)/2
		x := float64(coord.Q) + float64(coord.R)*0.5
		y := float64(coord.R) * math.Sqrt(3.0) / 2.0

		elev := octaveNoise(elevNoise, x, y, 4, 0.08, 0.5)
		rain := octaveNoise(rainNoise, x, y, 3, 0.06, 0.5)
		anomaly := octaveNoise(anomalyNoise, x, y, 2, 0.15, 0.5)

		// Continental shaping: ocean towards the rim, land at the core.
		if cfg.Radius > 0 {
			dist := math.Sqrt(x*x+y*y) / float64(cfg.Radius)
			elev *= math.Max(0, 1.0-math.Pow(dist, 3.5))
		}

		m.Set(&Hex{
			Coord:     coord,
			Terrain:   deriveTerrain(elev, rain, anomaly, cfg),
			Elevation: elev,
			Rainfall:  rain,
		})
	}

	placeRivers(m, seed)

	for _, hex := range m.Hexes {
		hex.Node, hex.HasNode = NodeFor(hex.Terrain)
	}
	return m
}

// deriveTerrain determines terrain type from environmental parameters.
func deriveTerrain(elev, rain, anomaly float64, cfg GenConfig) Terrain {
	if elev < cfg.SeaLevel {
		return TerrainOcean
	}
	if elev > cfg.MountainLvl {
		return TerrainMountain
	}
	if anomaly > cfg.RuinsLvl {
		return TerrainRuins
	}
	if rain < 0.3 {
		return TerrainDesert
	}
	if rain > 0.7 && elev < 0.45 {
		return TerrainSwamp
	}
	if rain > 0.45 && elev > 0.45 {
		return TerrainForest
	}
	return TerrainPlains
}

// placeRivers traces paths from high elevation towards the sea.
func placeRivers(m *Map, seed int64) {
	rng := rand.New(rand.NewSource(seed + 100))

	var sources []HexCoord
	for _, coord := range m.Within(HexCoord{}, m.Radius) {
		hex := m.Get(coord)
		if hex != nil && hex.Elevation > 0.6 && hex.Terrain != TerrainOcean {
			sources = append(sources, coord)
		}
	}

	numRivers := min(max(len(sources)/8, 1), 6)
	rng.Shuffle(len(sources), func(i, j int) {
		sources[i], sources[j] = sources[j], sources[i]
	})
	if len(sources) > numRivers {
		sources = sources[:numRivers]
	}

	for _, start := range sources {
		traceRiver(m, start)
	}
}

// traceRiver follows the steepest descent from a source hex until reaching
// ocean or running out of downhill path.
func traceRiver(m *Map, start HexCoord) {
	current := start
	visited := make(map[HexCoord]bool)

	for step := 0; step < 50; step++ {
		visited[current] = true
		hex := m.Get(current)
		if hex == nil || hex.Terrain == TerrainOcean {
			break
		}

		// Peaks and ruins keep their terrain.
		if hex.Terrain != TerrainMountain && hex.Terrain != TerrainRuins {
			hex.Terrain = TerrainRiver
		}

		var next *HexCoord
		bestElev := hex.Elevation
		for _, nc := range current.Neighbors() {
			if visited[nc] {
				continue
			}
			nh := m.Get(nc)
			if nh != nil && nh.Elevation < bestElev {
				bestElev = nh.Elevation
				c := nc
				next = &c
			}
		}
		if next == nil {
			break
		}
		current = *next
	}
}

// octaveNoise generates fractal noise by layering multiple frequencies.
func octaveNoise(noise opensimplex.Noise, x, y float64, octaves int, frequency, persistence float64) float64 {
	total := 0.0
	amplitude := 1.0
	maxVal := 0.0

	for i := 0; i < octaves; i++ {
		total += noise.Eval2(x*frequency, y*frequency) * amplitude
		maxVal += amplitude
		amplitude *= persistence
		frequency *= 2
	}

	return total / maxVal
}

// TerrainCounts returns a summary of terrain type distribution.
func TerrainCounts(m *Map) map[Terrain]int {
	counts := make(map[Terrain]int)
	for _, hex := range m.Hexes {
		counts[hex.Terrain]++
	}
	return counts
}

// TerrainName returns a human-readable name for a terrain type.
func TerrainName(t Terrain) string {
	switch t {
	case TerrainPlains:
		return "Plains"
	case TerrainForest:
		return "Forest"
	case TerrainMountain:
		return "Mountain"
	case TerrainRiver:
		return "River"
	case TerrainDesert:
		return "Desert"
	case TerrainSwamp:
		return "Swamp"
	case TerrainRuins:
		return "Ruins"
	case TerrainOcean:
		return "Ocean"
	default:
		return "Unknown"
	}
}
