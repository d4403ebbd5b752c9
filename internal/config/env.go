// Package config loads process settings from the environment and game
// tuning from YAML.
package config

import (
	"fmt"
	"time"

	"github.com/caarlos0/env/v11"
)

// ParseEnv loads configuration from environment variables.
func ParseEnv(target any) error {
	if err := env.Parse(target); err != nil {
		return fmt.Errorf("parse env: %w", err)
	}
	return nil
}

// Server holds the settings of the economy server process.
type Server struct {
	Addr       string `env:"QUATERNION_ADDR" envDefault:":8080"`
	DBPath     string `env:"QUATERNION_DB" envDefault:"data/quaternion.db"`
	ArchiveDir string `env:"QUATERNION_ARCHIVE_DIR" envDefault:"data/archives"`
	TuningPath string `env:"QUATERNION_TUNING"`
	LogLevel   string `env:"QUATERNION_LOG_LEVEL" envDefault:"info"`

	// Seed drives every random draw of the session. Zero picks one.
	Seed         int64         `env:"QUATERNION_SEED"`
	TickInterval time.Duration `env:"QUATERNION_TICK_INTERVAL" envDefault:"1s"`

	AdminKey    string   `env:"QUATERNION_ADMIN_KEY"`
	CORSOrigins []string `env:"CORS_ORIGINS" envSeparator:","`

	AnthropicKey    string `env:"ANTHROPIC_API_KEY"`
	NarratorModel   string `env:"QUATERNION_NARRATOR_MODEL"`
	NarratorPerMin  int    `env:"QUATERNION_NARRATOR_PER_MIN" envDefault:"20"`
	ActionPerSecond int    `env:"QUATERNION_ACTIONS_PER_SECOND" envDefault:"5"`

	// TrustProxy rate-limits by X-Forwarded-For instead of the peer address.
	TrustProxy bool `env:"QUATERNION_TRUST_PROXY"`
}

// LoadServer parses Server from the environment.
func LoadServer() (Server, error) {
	var s Server
	if err := ParseEnv(&s); err != nil {
		return Server{}, err
	}
	if s.TickInterval <= 0 {
		return Server{}, fmt.Errorf("QUATERNION_TICK_INTERVAL must be positive, got %s", s.TickInterval)
	}
	return s, nil
}

// Advisor holds the settings of the headless advisor.
type Advisor struct {
	APIURL   string        `env:"QUATERNION_API_URL" envDefault:"http://localhost:8080"`
	Interval time.Duration `env:"ADVISOR_INTERVAL" envDefault:"10s"`
	DryRun   bool          `env:"ADVISOR_DRY_RUN"`

	// MaxInstability is the ceiling above which market deals are refused.
	MaxInstability float64 `env:"ADVISOR_MAX_INSTABILITY" envDefault:"60"`
}

// LoadAdvisor parses Advisor from the environment.
func LoadAdvisor() (Advisor, error) {
	var a Advisor
	if err := ParseEnv(&a); err != nil {
		return Advisor{}, err
	}
	return a, nil
}
