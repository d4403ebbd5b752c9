package economy

import "math"

// MaxInstability is the ceiling of the instability scale.
const MaxInstability = 200.0

// Account is the per-commodity state held by the ledger.
type Account struct {
	Amount   float64 `json:"amount"`
	Capacity float64 `json:"capacity"`

	// BaseRate is produced per controlled node per tick, before multipliers.
	BaseRate float64 `json:"base_rate"`

	// GenerationMultiplier is raised by upgrades and long-term effects.
	GenerationMultiplier float64 `json:"generation_multiplier"`

	// DecayRate is the fraction of the amount lost each tick.
	DecayRate float64 `json:"decay_rate"`

	// LastGeneration is what the most recent tick produced. Display only.
	LastGeneration float64 `json:"-"`
}

// Synergies are bonus conditions derived from the balance of amounts.
type Synergies struct {
	Industrial bool `json:"industrial"` // Ore and Energy within 20%, both above 50
	Biotech    bool `json:"biotech"`    // Biomass and Data within 20%, both above 20
	Harmonic   bool `json:"harmonic"`   // all four within 10%, minimum above 50
}

// Config seeds a new ledger.
type Config struct {
	Start     Amounts `yaml:"start" json:"start"`
	Capacity  Amounts `yaml:"capacity" json:"capacity"`
	BaseRates Amounts `yaml:"base_rates" json:"base_rates"`
	Decay     Amounts `yaml:"decay" json:"decay"`
}

// DefaultConfig returns the starting economy of a new session.
func DefaultConfig() Config {
	return Config{
		Start:     Amounts{Ore: 80, Energy: 40, Biomass: 0, Data: 10},
		Capacity:  Amounts{Ore: 10000, Energy: 5000, Biomass: 3000, Data: 2000},
		BaseRates: Amounts{Ore: 40, Energy: 30, Biomass: 20, Data: 10},
		Decay:     Amounts{Ore: 0.01, Energy: 0.02, Biomass: 0.03, Data: 0.015},
	}
}

// simpleEfficiency is the stateless conversion table used by Ledger.Convert.
var simpleEfficiency = map[[2]Commodity]float64{
	{Ore, Energy}:     0.8,
	{Energy, Ore}:     0.7,
	{Biomass, Energy}: 0.75,
	{Energy, Biomass}: 0.6,
	{Energy, Data}:    0.6,
	{Data, Energy}:    0.65,
}

// defaultSimpleEfficiency applies to pairs missing from the table.
const defaultSimpleEfficiency = 0.5

// SimpleEfficiency returns the stateless conversion efficiency from → to.
func SimpleEfficiency(from, to Commodity) float64 {
	if eff, ok := simpleEfficiency[[2]Commodity{from, to}]; ok {
		return eff
	}
	return defaultSimpleEfficiency
}

// Ledger holds the four commodity accounts and the state derived from
// them. Every mutation keeps 0 ≤ amount ≤ capacity and recomputes
// instability and synergies.
//
// A Ledger is not safe for concurrent use; it belongs to one orchestrator.
type Ledger struct {
	accounts    [len(Commodities)]Account
	instability float64
	synergies   Synergies
}

// NewLedger creates a ledger from cfg. Missing entries fall back to
// DefaultConfig values.
func NewLedger(cfg Config) *Ledger {
	def := DefaultConfig()
	pick := func(m, fallback Amounts, c Commodity) float64 {
		if v, ok := m[c]; ok && validQuantity(v) {
			return v
		}
		return fallback[c]
	}

	l := &Ledger{}
	for _, c := range Commodities {
		l.accounts[c] = Account{
			Amount:               pick(cfg.Start, def.Start, c),
			Capacity:             pick(cfg.Capacity, def.Capacity, c),
			BaseRate:             pick(cfg.BaseRates, def.BaseRates, c),
			GenerationMultiplier: 1,
			DecayRate:            pick(cfg.Decay, def.Decay, c),
		}
	}
	l.normalize()
	return l
}

// Amount returns the current quantity of c.
func (l *Ledger) Amount(c Commodity) float64 {
	if !c.Valid() {
		return 0
	}
	return l.accounts[c].Amount
}

// Capacity returns the storage ceiling of c.
func (l *Ledger) Capacity(c Commodity) float64 {
	if !c.Valid() {
		return 0
	}
	return l.accounts[c].Capacity
}

// Account returns a copy of the account for c.
func (l *Ledger) Account(c Commodity) Account {
	if !c.Valid() {
		return Account{}
	}
	return l.accounts[c]
}

// Amounts returns a copy of every quantity.
func (l *Ledger) Amounts() Amounts {
	out := make(Amounts, len(Commodities))
	for _, c := range Commodities {
		out[c] = l.accounts[c].Amount
	}
	return out
}

// Capacities returns a copy of every capacity.
func (l *Ledger) Capacities() Amounts {
	out := make(Amounts, len(Commodities))
	for _, c := range Commodities {
		out[c] = l.accounts[c].Capacity
	}
	return out
}

// Total returns the sum of all four amounts.
func (l *Ledger) Total() float64 {
	total := 0.0
	for _, c := range Commodities {
		total += l.accounts[c].Amount
	}
	return total
}

// CanAfford reports whether every non-zero entry in cost is covered.
// Negative or non-finite entries make the cost unaffordable.
func (l *Ledger) CanAfford(cost Amounts) bool {
	for c, v := range cost {
		if v == 0 {
			continue
		}
		if !c.Valid() || !validQuantity(v) {
			return false
		}
		if v > l.accounts[c].Amount {
			return false
		}
	}
	return true
}

// Spend deducts cost atomically: either every commodity is deducted or
// nothing changes.
func (l *Ledger) Spend(cost Amounts) bool {
	if !l.CanAfford(cost) {
		return false
	}
	for c, v := range cost {
		if v == 0 {
			continue
		}
		l.accounts[c].Amount = math.Max(0, l.accounts[c].Amount-v)
	}
	l.recompute()
	return true
}

// Add increases c by amount, clamped to capacity. Negative amounts are
// deductions clamped at zero.
func (l *Ledger) Add(c Commodity, amount float64) {
	if !c.Valid() || math.IsNaN(amount) || math.IsInf(amount, 0) {
		return
	}
	l.addRaw(c, amount)
	l.recompute()
}

// AddAll adds every entry of delta, recomputing once.
func (l *Ledger) AddAll(delta Amounts) {
	for c, v := range delta {
		if !c.Valid() || math.IsNaN(v) || math.IsInf(v, 0) {
			continue
		}
		l.addRaw(c, v)
	}
	l.recompute()
}

// Deduct removes every entry of loss, each clamped at zero. Unlike Spend
// it never fails; it is how unavoidable losses are applied.
func (l *Ledger) Deduct(loss Amounts) {
	for c, v := range loss {
		if !c.Valid() || !validQuantity(v) {
			continue
		}
		l.accounts[c].Amount = math.Max(0, l.accounts[c].Amount-v)
	}
	l.recompute()
}

// Set assigns c directly, clamped into [0, capacity].
func (l *Ledger) Set(c Commodity, amount float64) {
	if !c.Valid() || math.IsNaN(amount) {
		return
	}
	l.accounts[c].Amount = clamp(amount, 0, l.accounts[c].Capacity)
	l.recompute()
}

// Convert performs the stateless conversion from → to at the table
// efficiency. It fails without mutation when from is short.
func (l *Ledger) Convert(from, to Commodity, amount float64) bool {
	return l.ConvertWithEfficiency(from, to, amount, SimpleEfficiency(from, to))
}

// ConvertWithEfficiency is Convert with an explicit efficiency override.
func (l *Ledger) ConvertWithEfficiency(from, to Commodity, amount, efficiency float64) bool {
	if !from.Valid() || !to.Valid() || from == to {
		return false
	}
	if !validQuantity(amount) || amount == 0 || !validQuantity(efficiency) {
		return false
	}
	if l.accounts[from].Amount < amount {
		return false
	}
	l.accounts[from].Amount -= amount
	l.addRaw(to, amount*efficiency)
	l.recompute()
	return true
}

// Tick applies one step of generation and decay.
//
// For each commodity: generation = nodes × baseRate × multiplier × mod +
// building × mod, added with capacity clamp; then amount -= amount × decay.
// A missing modifier means 1.
func (l *Ledger) Tick(nodes map[Commodity]int, building Amounts, modifiers Amounts) {
	for _, c := range Commodities {
		acct := &l.accounts[c]

		mod := 1.0
		if m, ok := modifiers[c]; ok && validQuantity(m) {
			mod = m
		}

		n := nodes[c]
		if n < 0 {
			n = 0
		}
		gen := float64(n) * acct.BaseRate * acct.GenerationMultiplier * mod
		if b := building[c]; validQuantity(b) {
			gen += b * mod
		}

		before := acct.Amount
		l.addRaw(c, gen)
		acct.LastGeneration = acct.Amount - before

		acct.Amount -= acct.Amount * acct.DecayRate
		if acct.Amount < 0 {
			acct.Amount = 0
		}
	}
	l.recompute()
}

// IncreaseCapacity raises the ceiling of c. Non-positive deltas are ignored.
func (l *Ledger) IncreaseCapacity(c Commodity, delta float64) {
	if !c.Valid() || !validQuantity(delta) || delta == 0 {
		return
	}
	l.accounts[c].Capacity += delta
}

// ModifyGenerationRate multiplies the generation multiplier of c.
// Negative or non-finite multipliers are ignored.
func (l *Ledger) ModifyGenerationRate(c Commodity, multiplier float64) {
	if !c.Valid() || !validQuantity(multiplier) {
		return
	}
	l.accounts[c].GenerationMultiplier *= multiplier
}

// ReduceDecayRate lowers the decay rate of c, floored at zero.
func (l *Ledger) ReduceDecayRate(c Commodity, delta float64) {
	if !c.Valid() || !validQuantity(delta) {
		return
	}
	l.accounts[c].DecayRate = math.Max(0, l.accounts[c].DecayRate-delta)
}

// Instability returns the derived imbalance in [0, 200].
func (l *Ledger) Instability() float64 {
	return l.instability
}

// Synergies returns the derived synergy flags.
func (l *Ledger) Synergies() Synergies {
	return l.synergies
}

func (l *Ledger) addRaw(c Commodity, amount float64) {
	acct := &l.accounts[c]
	acct.Amount = clamp(acct.Amount+amount, 0, acct.Capacity)
}

func (l *Ledger) recompute() {
	amounts := l.Amounts()
	l.instability = ComputeInstability(amounts)
	l.synergies = ComputeSynergies(amounts)
}

// ComputeInstability returns min(200, 200·σ/μ) over the four amounts,
// using the population standard deviation. It is 0 when the mean is 0.
func ComputeInstability(a Amounts) float64 {
	n := float64(len(Commodities))
	mean := a.Total() / n
	if mean <= 0 {
		return 0
	}
	variance := 0.0
	for _, c := range Commodities {
		d := a[c] - mean
		variance += d * d
	}
	stddev := math.Sqrt(variance / n)
	return math.Min(MaxInstability, MaxInstability*stddev/mean)
}

// ComputeSynergies derives the synergy flags from current amounts.
func ComputeSynergies(a Amounts) Synergies {
	pair := func(x, y, threshold float64) bool {
		div := math.Max(math.Max(x, y), 1)
		return math.Abs(x-y)/div <= 0.2 && x > threshold && y > threshold
	}

	lo, hi := math.Inf(1), math.Inf(-1)
	for _, c := range Commodities {
		lo = math.Min(lo, a[c])
		hi = math.Max(hi, a[c])
	}
	harmonic := false
	if hi > 0 {
		harmonic = (hi-lo)/hi <= 0.1 && lo > 50
	}

	return Synergies{
		Industrial: pair(a[Ore], a[Energy], 50),
		Biotech:    pair(a[Biomass], a[Data], 20),
		Harmonic:   harmonic,
	}
}

// normalize restores every invariant after a raw load.
func (l *Ledger) normalize() {
	for _, c := range Commodities {
		acct := &l.accounts[c]
		if !validQuantity(acct.Capacity) {
			acct.Capacity = 0
		}
		acct.Amount = clamp(acct.Amount, 0, acct.Capacity)
		if !validQuantity(acct.BaseRate) {
			acct.BaseRate = 0
		}
		if !validQuantity(acct.GenerationMultiplier) {
			acct.GenerationMultiplier = 1
		}
		acct.DecayRate = clamp(acct.DecayRate, 0, 1)
	}
	l.recompute()
}
