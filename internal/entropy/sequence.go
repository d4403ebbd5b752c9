package entropy

// Sequence replays a fixed list of floats, cycling when exhausted. It
// lets tests force outcomes: a leading 0 makes the next Chance succeed,
// a leading 0.999 makes it fail.
type Sequence struct {
	values []float64
	next   int
}

// NewSequence creates a scripted source. An empty script always yields 0.
func NewSequence(values ...float64) *Sequence {
	return &Sequence{values: values}
}

// Float64 returns the next scripted value.
func (s *Sequence) Float64() float64 {
	if len(s.values) == 0 {
		return 0
	}
	v := s.values[s.next%len(s.values)]
	s.next++
	if v < 0 {
		return 0
	}
	if v >= 1 {
		return 0.999999
	}
	return v
}

// Intn maps the next scripted value onto [0, n).
func (s *Sequence) Intn(n int) int {
	if n <= 0 {
		panic("entropy: Intn with non-positive n")
	}
	v := int(s.Float64() * float64(n))
	if v >= n {
		v = n - 1
	}
	return v
}

// Draws returns how many values have been consumed.
func (s *Sequence) Draws() int {
	return s.next
}
