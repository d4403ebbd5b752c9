// Package economy provides the four-commodity resource ledger: amounts,
// capacities, generation, decay, simple conversion, and the derived
// instability and synergy state.
package economy

import (
	"fmt"
	"math"
	"sort"
)

// Commodity identifies one of the four tracked resource kinds.
type Commodity uint8

const (
	Ore Commodity = iota
	Energy
	Biomass
	Data
)

// Commodities lists every commodity in canonical order.
var Commodities = [4]Commodity{Ore, Energy, Biomass, Data}

var commodityNames = [4]string{"ore", "energy", "biomass", "data"}

// String returns the lowercase commodity name.
func (c Commodity) String() string {
	if int(c) < len(commodityNames) {
		return commodityNames[c]
	}
	return fmt.Sprintf("commodity(%d)", uint8(c))
}

// Valid reports whether c is one of the four known commodities.
func (c Commodity) Valid() bool {
	return int(c) < len(commodityNames)
}

// MarshalText encodes the commodity by name so maps keyed by Commodity
// serialize as {"ore": ...} in JSON and YAML.
func (c Commodity) MarshalText() ([]byte, error) {
	if !c.Valid() {
		return nil, fmt.Errorf("invalid commodity %d", uint8(c))
	}
	return []byte(commodityNames[c]), nil
}

// UnmarshalText decodes a commodity name.
func (c *Commodity) UnmarshalText(b []byte) error {
	parsed, err := ParseCommodity(string(b))
	if err != nil {
		return err
	}
	*c = parsed
	return nil
}

// ParseCommodity resolves a commodity from its name.
func ParseCommodity(name string) (Commodity, error) {
	for i, n := range commodityNames {
		if n == name {
			return Commodity(i), nil
		}
	}
	return 0, fmt.Errorf("unknown commodity %q", name)
}

// Amounts maps commodities to quantities. A missing key means zero.
type Amounts map[Commodity]float64

// Total returns the sum of all quantities.
func (a Amounts) Total() float64 {
	total := 0.0
	for _, c := range Commodities {
		total += a[c]
	}
	return total
}

// Clone returns an independent copy.
func (a Amounts) Clone() Amounts {
	out := make(Amounts, len(a))
	for c, v := range a {
		out[c] = v
	}
	return out
}

// Scale returns a copy with every quantity multiplied by f.
func (a Amounts) Scale(f float64) Amounts {
	out := make(Amounts, len(a))
	for c, v := range a {
		out[c] = v * f
	}
	return out
}

// IsZero reports whether every quantity is zero.
func (a Amounts) IsZero() bool {
	for _, v := range a {
		if v != 0 {
			return false
		}
	}
	return true
}

// Keys returns the commodities present with a non-zero quantity, in
// canonical order.
func (a Amounts) Keys() []Commodity {
	var keys []Commodity
	for c, v := range a {
		if v != 0 {
			keys = append(keys, c)
		}
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i] < keys[j] })
	return keys
}

// validQuantity rejects NaN, infinities and negatives.
func validQuantity(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0) && v >= 0
}

func clamp(v, lo, hi float64) float64 {
	if math.IsNaN(v) {
		return lo
	}
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
