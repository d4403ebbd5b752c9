// Package entropy isolates every game-balance random draw behind a small
// interface so sessions can be seeded and tests can script outcomes.
package entropy

import (
	"crypto/rand"
	"encoding/binary"
	"fmt"
	mrand "math/rand"
)

// Rand is the source of randomness used by the economy engines.
// *math/rand.Rand satisfies it.
type Rand interface {
	// Float64 returns a value in [0, 1).
	Float64() float64
	// Intn returns a value in [0, n). Panics if n <= 0.
	Intn(n int) int
}

// NewSeeded returns a deterministic source for the given seed.
func NewSeeded(seed int64) Rand {
	return mrand.New(mrand.NewSource(seed))
}

// NewSeed generates a high-entropy seed from crypto/rand.
func NewSeed() (int64, error) {
	var b [8]byte
	if _, err := rand.Read(b[:]); err != nil {
		return 0, fmt.Errorf("read random seed: %w", err)
	}
	return int64(binary.LittleEndian.Uint64(b[:])), nil
}

// Crypto draws from crypto/rand. Not reproducible; used when no seed is
// configured and a session must not be predictable.
type Crypto struct{}

// Float64 returns a crypto-random value in [0, 1).
func (Crypto) Float64() float64 {
	return cryptoRandFloat()
}

// Intn returns a crypto-random value in [0, n).
func (c Crypto) Intn(n int) int {
	if n <= 0 {
		panic("entropy: Intn with non-positive n")
	}
	v := int(c.Float64() * float64(n))
	if v >= n {
		v = n - 1
	}
	return v
}

// cryptoRandFloat generates a random float64 using crypto/rand.
func cryptoRandFloat() float64 {
	var buf [8]byte
	_, err := rand.Read(buf[:])
	if err != nil {
		// This should never happen but return 0.5 as a safe default.
		return 0.5
	}
	// Use only 53 bits for a uniform float64 in [0, 1).
	n := binary.LittleEndian.Uint64(buf[:]) >> 11
	return float64(n) / float64(1<<53)
}

// Uniform returns a value in [lo, hi).
func Uniform(r Rand, lo, hi float64) float64 {
	if hi <= lo {
		return lo
	}
	return lo + r.Float64()*(hi-lo)
}

// Chance reports whether an event of probability p happens.
func Chance(r Rand, p float64) bool {
	if p <= 0 {
		return false
	}
	if p >= 1 {
		return true
	}
	return r.Float64() < p
}
