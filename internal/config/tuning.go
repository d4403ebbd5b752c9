package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/lucylow/quaternion/internal/engine"
	"github.com/lucylow/quaternion/internal/world"
)

// Tuning is the full game tuning of a server. A YAML file only needs to
// name the values it changes.
type Tuning struct {
	Economy engine.Config `yaml:"economy"`
	World   world.Config  `yaml:"world"`

	TicksPerRound uint64 `yaml:"ticks_per_round"`
	TicksPerSave  uint64 `yaml:"ticks_per_save"`
}

// DefaultTuning returns the built-in tuning.
func DefaultTuning() Tuning {
	return Tuning{
		Economy:       engine.DefaultConfig(),
		World:         world.DefaultConfig(),
		TicksPerRound: engine.DefaultTicksPerRound,
		TicksPerSave:  engine.DefaultTicksPerSave,
	}
}

// LoadTuning reads path and layers it onto DefaultTuning. An empty path
// returns the defaults.
func LoadTuning(path string) (Tuning, error) {
	t := DefaultTuning()
	if path == "" {
		return t, nil
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		return t, err
	}
	if err := t.Merge(raw); err != nil {
		return t, fmt.Errorf("%s: %w", path, err)
	}
	return t, nil
}

// Merge decodes YAML onto t. Unknown keys are rejected so typos surface.
func (t *Tuning) Merge(raw []byte) error {
	dec := yaml.NewDecoder(bytes.NewReader(raw))
	dec.KnownFields(true)
	if err := dec.Decode(t); err != nil && !errors.Is(err, io.EOF) {
		return err
	}
	return t.Validate()
}

// Validate rejects tuning the engines cannot run with.
func (t Tuning) Validate() error {
	e := t.Economy
	switch {
	case e.Events.Frequency <= 0:
		return errors.New("economy.events.frequency must be positive")
	case e.Events.MinDuration <= 0 || e.Events.MaxDuration < e.Events.MinDuration:
		return errors.New("economy.events durations must satisfy 0 < min ≤ max")
	case e.Puzzles.Interval <= 0:
		return errors.New("economy.puzzles.interval must be positive")
	case e.Market.TTL <= 0:
		return errors.New("economy.market.ttl must be positive")
	case e.Market.MinInterval <= 0 || e.Market.BaseInterval < e.Market.MinInterval:
		return errors.New("economy.market intervals must satisfy 0 < min ≤ base")
	case e.Market.MaxRisk < 0 || e.Market.MaxRisk > 1:
		return errors.New("economy.market.max_risk must be in [0, 1]")
	case len(e.Routes) == 0:
		return errors.New("economy.routes must not be empty")
	case t.World.Gen.Radius < 1:
		return errors.New("world.gen.radius must be at least 1")
	case t.World.MaxRadius > t.World.Gen.Radius:
		return fmt.Errorf("world.max_radius %d exceeds map radius %d", t.World.MaxRadius, t.World.Gen.Radius)
	}
	for i, r := range e.Routes {
		if r.From == r.To {
			return fmt.Errorf("economy.routes[%d]: %s cannot convert to itself", i, r.From)
		}
		if r.BaseRate <= 0 {
			return fmt.Errorf("economy.routes[%d]: base_rate must be positive", i)
		}
	}
	return nil
}
