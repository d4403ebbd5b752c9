package engine

import (
	"time"

	"github.com/lucylow/quaternion/internal/blackmarket"
	"github.com/lucylow/quaternion/internal/conversion"
	"github.com/lucylow/quaternion/internal/economy"
	"github.com/lucylow/quaternion/internal/events"
	"github.com/lucylow/quaternion/internal/puzzle"
)

// TechBoost is the route improvement granted once when a tech is
// researched.
type TechBoost struct {
	Route      conversion.RouteID `yaml:"route"`
	Efficiency float64            `yaml:"efficiency"`
	Stability  float64            `yaml:"stability"`
}

// Config gathers the tuning of every subsystem in one session.
type Config struct {
	Ledger          economy.Config         `yaml:"ledger"`
	Routes          []conversion.Spec      `yaml:"routes"`
	Conversion      conversion.Tuning      `yaml:"conversion"`
	Events          events.Config          `yaml:"events"`
	Puzzles         puzzle.Config          `yaml:"puzzles"`
	Market          blackmarket.Config     `yaml:"market"`
	Techs           map[string][]TechBoost `yaml:"techs"`
	NarratorTimeout time.Duration          `yaml:"narrator_timeout"`
}

// DefaultConfig returns the standard session tuning.
func DefaultConfig() Config {
	return Config{
		Ledger:     economy.DefaultConfig(),
		Routes:     conversion.DefaultRoutes(),
		Conversion: conversion.DefaultTuning(),
		Events:     events.DefaultConfig(),
		Puzzles:    puzzle.DefaultConfig(),
		Market:     blackmarket.DefaultConfig(),
		Techs:      DefaultTechs(),

		NarratorTimeout: 5 * time.Second,
	}
}

// DefaultTechs returns the route boosts unlocked by research.
func DefaultTechs() map[string][]TechBoost {
	return map[string][]TechBoost{
		"field_logistics": {
			{Route: "energy_to_ore", Stability: 0.05},
		},
		"advanced_refining": {
			{Route: "ore_to_energy", Efficiency: 0.05, Stability: 0.1},
			{Route: "energy_to_ore", Efficiency: 0.05},
		},
		"quantum_computing": {
			{Route: "energy_to_data", Efficiency: 0.1, Stability: 0.1},
			{Route: "data_to_energy", Efficiency: 0.05},
		},
		"bioengineering": {
			{Route: "biomass_to_energy", Efficiency: 0.05, Stability: 0.1},
			{Route: "biomass_to_ore", Efficiency: 0.05},
		},
		"fusion_power": {
			{Route: "ore_to_energy", Efficiency: 0.05},
			{Route: "biomass_to_energy", Efficiency: 0.05},
			{Route: "data_to_energy", Stability: 0.15},
		},
		"orbital_relays": {
			{Route: "energy_to_data", Efficiency: 0.05},
			{Route: "data_to_energy", Efficiency: 0.05},
		},
	}
}
