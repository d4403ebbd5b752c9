// Package narrator decorates events, puzzles and market offers with
// generated flavour text. It is strictly optional: every caller already
// holds deterministic fallback text and keeps it when the narrator is
// absent, slow, or failing.
package narrator

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"strings"
)

// SubjectKind says what is being narrated.
type SubjectKind string

const (
	SubjectEvent  SubjectKind = "event"
	SubjectPuzzle SubjectKind = "puzzle"
	SubjectOffer  SubjectKind = "offer"
)

// Subject is the input to one enhancement call.
type Subject struct {
	Kind        SubjectKind
	ID          string
	Title       string
	Description string
	Tags        []string // player behaviour tags
	Instability float64
}

// Key hashes the text that shapes the narration. The ID is left out so
// subjects built from the same template share a cache entry, and so is
// Instability, which only tints the prompt. A result is only applied
// while its key still matches the subject's current key.
func (s Subject) Key() string {
	h := sha256.New()
	for _, part := range []string{string(s.Kind), s.Title, s.Description, strings.Join(s.Tags, ",")} {
		h.Write([]byte(part))
		h.Write([]byte{0})
	}
	return hex.EncodeToString(h.Sum(nil))[:16]
}

// Override replaces flavour text. Empty fields keep the original.
type Override struct {
	Title       string `json:"title"`
	Description string `json:"description"`
}

// Empty reports whether o changes nothing.
func (o Override) Empty() bool {
	return o.Title == "" && o.Description == ""
}

// Narrator produces flavour overrides. Implementations must honour ctx
// cancellation.
type Narrator interface {
	Enhance(ctx context.Context, s Subject) (Override, error)
}

// Func adapts a function to Narrator.
type Func func(ctx context.Context, s Subject) (Override, error)

// Enhance calls f.
func (f Func) Enhance(ctx context.Context, s Subject) (Override, error) {
	return f(ctx, s)
}
