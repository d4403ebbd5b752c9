package engine

import (
	"bytes"
	_ "embed"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/santhosh-tekuri/jsonschema/v5"

	"github.com/lucylow/quaternion/internal/blackmarket"
	"github.com/lucylow/quaternion/internal/conversion"
	"github.com/lucylow/quaternion/internal/economy"
	"github.com/lucylow/quaternion/internal/events"
	"github.com/lucylow/quaternion/internal/puzzle"
)

// StateVersion is the current persisted state format.
const StateVersion = 1

// State is the flat, JSON-compatible form of a whole session.
type State struct {
	Version int                `json:"version"`
	Tick    uint64             `json:"tick"`
	Now     time.Time          `json:"now"`
	Ledger  economy.State      `json:"ledger"`
	Routes  []conversion.Route `json:"routes"`
	Events  events.State       `json:"events"`
	Puzzles puzzle.State       `json:"puzzles"`
	Market  blackmarket.State  `json:"market"`
	Techs   []string           `json:"techs"`
}

// Export captures the session for persistence.
func (e *Economy) Export() State {
	return State{
		Version: StateVersion,
		Tick:    e.tick,
		Now:     e.now,
		Ledger:  e.ledger.Export(),
		Routes:  e.routes.Routes(),
		Events:  e.events.Export(),
		Puzzles: e.puzzles.Export(),
		Market:  e.market.Export(),
		Techs:   e.Techs(),
	}
}

// Import replaces the session with st. Values are loaded as-is and every
// invariant is then re-validated by the owning component, so corrupt
// data is clamped rather than trusted.
func (e *Economy) Import(st State) error {
	if st.Version > StateVersion {
		return fmt.Errorf("state version %d is newer than supported %d", st.Version, StateVersion)
	}
	e.ledger.Load(st.Ledger)
	e.routes.Load(st.Routes)
	e.events.Load(st.Events)
	e.puzzles.Load(st.Puzzles)
	e.market.Load(st.Market)

	// Route boosts from these techs are already baked into Routes.
	e.techs = make(map[string]bool, len(st.Techs))
	for _, t := range st.Techs {
		if t != "" {
			e.techs[t] = true
		}
	}
	e.tick = st.Tick
	if !st.Now.IsZero() {
		e.now = st.Now
	}
	e.publish()
	return nil
}

//go:embed state.schema.json
var stateSchemaJSON []byte

var stateSchema = sync.OnceValues(func() (*jsonschema.Schema, error) {
	c := jsonschema.NewCompiler()
	if err := c.AddResource("state.schema.json", bytes.NewReader(stateSchemaJSON)); err != nil {
		return nil, err
	}
	return c.Compile("state.schema.json")
})

// DecodeState validates raw JSON against the state schema and decodes it.
func DecodeState(data []byte) (State, error) {
	schema, err := stateSchema()
	if err != nil {
		return State{}, fmt.Errorf("compile state schema: %w", err)
	}

	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	var raw any
	if err := dec.Decode(&raw); err != nil {
		return State{}, fmt.Errorf("parse state: %w", err)
	}
	if err := schema.Validate(raw); err != nil {
		return State{}, fmt.Errorf("validate state: %w", err)
	}

	var st State
	if err := json.Unmarshal(data, &st); err != nil {
		return State{}, fmt.Errorf("decode state: %w", err)
	}
	return st, nil
}

// EncodeState marshals st as JSON.
func EncodeState(st State) ([]byte, error) {
	b, err := json.Marshal(st)
	if err != nil {
		return nil, fmt.Errorf("encode state: %w", err)
	}
	return b, nil
}
