// Package config loads IntakePipe configuration from the environment.
//
// Values come from an optional .env file, then process environment variables
// parsed into Config. Command-line flags in cmd/IntakePipe override both.
package config

import (
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/BTreeMap/IntakePipe/internal/models"
	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
)

// Default configuration constants
const (
	// DefaultStateDir is the default directory for IntakePipe state data
	DefaultStateDir = "/var/lib/intakepipe"
	// DefaultDBFileName is the SQLite file created in the state directory when
	// the DSN is the SQLiteShorthand
	DefaultDBFileName = "intakepipe.db"
	// SQLiteShorthand selects SQLite in the state directory
	SQLiteShorthand = "sqlite"
)

// Config holds environment configuration.
type Config struct {
	StateDir        string        `env:"INTAKEPIPE_STATE_DIR" envDefault:"/var/lib/intakepipe"`
	DatabaseURL     string        `env:"DATABASE_URL"`
	DBDSN           string        `env:"INTAKEPIPE_DB_DSN"`
	APIAddr         string        `env:"API_ADDR" envDefault:":8080"`
	OpenAIKey       string        `env:"OPENAI_API_KEY"`
	ModerationModel string        `env:"INTAKEPIPE_MODERATION_MODEL" envDefault:"omni-moderation-latest"`
	SessionTimeout  time.Duration `env:"INTAKEPIPE_SESSION_TIMEOUT" envDefault:"30m"`
	MaxSessionAge   time.Duration `env:"INTAKEPIPE_MAX_SESSION_AGE" envDefault:"45m"`
	SafetyTimeout   time.Duration `env:"INTAKEPIPE_SAFETY_TIMEOUT" envDefault:"5s"`
	SweepSchedule   string        `env:"INTAKEPIPE_SWEEP_SCHEDULE" envDefault:"*/5 * * * *"`
	ScriptFile      string        `env:"INTAKEPIPE_SCRIPT_FILE"`
	LogLevel        string        `env:"INTAKEPIPE_LOG_LEVEL" envDefault:"info"`
}

// ParseEnv loads configuration from environment variables.
func ParseEnv(target any) error {
	if err := env.Parse(target); err != nil {
		return fmt.Errorf("parse env: %w", err)
	}
	return nil
}

// Load reads the given .env files (or ./.env when none are given), then
// parses the environment into a Config and validates it. A missing .env file
// is not an error.
func Load(envFiles ...string) (Config, error) {
	if err := godotenv.Load(envFiles...); err != nil {
		slog.Debug("failed to load .env file", "error", err)
	} else {
		slog.Debug("successfully loaded .env file")
	}

	var cfg Config
	if err := ParseEnv(&cfg); err != nil {
		return Config{}, &models.ConfigurationError{Source: "environment", Reason: err.Error()}
	}
	if cfg.DBDSN == "" && cfg.DatabaseURL != "" {
		cfg.DBDSN = cfg.DatabaseURL
		slog.Debug("Using DATABASE_URL as INTAKEPIPE_DB_DSN", "dsn_set", true)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}

	slog.Debug("environment variables loaded",
		"INTAKEPIPE_STATE_DIR", cfg.StateDir,
		"INTAKEPIPE_DB_DSN_SET", cfg.DBDSN != "",
		"API_ADDR", cfg.APIAddr,
		"OPENAI_API_KEY_SET", cfg.OpenAIKey != "",
		"INTAKEPIPE_SESSION_TIMEOUT", cfg.SessionTimeout,
		"INTAKEPIPE_MAX_SESSION_AGE", cfg.MaxSessionAge,
		"INTAKEPIPE_SAFETY_TIMEOUT", cfg.SafetyTimeout,
		"INTAKEPIPE_SWEEP_SCHEDULE", cfg.SweepSchedule,
		"INTAKEPIPE_SCRIPT_FILE", cfg.ScriptFile,
		"INTAKEPIPE_LOG_LEVEL", cfg.LogLevel)
	return cfg, nil
}

// Validate checks value ranges that the env parser cannot.
func (c Config) Validate() error {
	var problems []string
	if c.SessionTimeout <= 0 {
		problems = append(problems, "INTAKEPIPE_SESSION_TIMEOUT must be positive")
	}
	if c.MaxSessionAge <= 0 {
		problems = append(problems, "INTAKEPIPE_MAX_SESSION_AGE must be positive")
	}
	if c.SafetyTimeout <= 0 {
		problems = append(problems, "INTAKEPIPE_SAFETY_TIMEOUT must be positive")
	}
	if _, err := ParseLevel(c.LogLevel); err != nil {
		problems = append(problems, err.Error())
	}
	if len(problems) > 0 {
		return &models.ConfigurationError{Source: "environment", Reason: strings.Join(problems, "; ")}
	}
	return nil
}

// ParseLevel maps a level name to a slog.Level.
func ParseLevel(name string) (slog.Level, error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(strings.TrimSpace(name))); err != nil {
		return slog.LevelInfo, fmt.Errorf("invalid log level %q", name)
	}
	return level, nil
}
