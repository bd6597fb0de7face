package config

import (
	"fmt"
	"time"

	"github.com/kelseyhightower/envconfig"

	"github.com/roman-shvetsov/infinite-memory-bot/internal/domain"
)

// Config holds application configuration loaded from environment variables.
type Config struct {
	BotToken string `envconfig:"BOT_TOKEN" required:"true"`
	DBPath   string `envconfig:"DB_PATH" default:"./data/memory.db"`
	LogLevel string `envconfig:"LOG_LEVEL" default:"info"`  // debug|info|warn|error
	HTTPAddr string `envconfig:"HTTP_ADDR" default:":8080"` // healthz

	// Curve is the repetition schedule: delay i applies after the i-th
	// confirmation. Override as a comma-separated duration list.
	Curve []time.Duration `envconfig:"REPEAT_CURVE" default:"1h,24h,96h,168h,720h,2160h,4320h"`

	// Quiet hours in the user's local time: a delivery landing inside
	// [QuietFromHour, QuietToHour) shifts to QuietToHour:00 the same day.
	QuietFromHour int `envconfig:"QUIET_FROM_HOUR" default:"0"`
	QuietToHour   int `envconfig:"QUIET_TO_HOUR" default:"8"`

	// SweepInterval is how often the reconciler re-scans durable state.
	SweepInterval time.Duration `envconfig:"SWEEP_INTERVAL" default:"1m"`
	// AwaitingAfter is the age at which an unconfirmed sent reminder is
	// flipped to "awaiting" by the sweep.
	AwaitingAfter time.Duration `envconfig:"AWAITING_AFTER" default:"24h"`
	// SweepBatch caps how many overdue reminders one sweep delivers.
	SweepBatch int `envconfig:"SWEEP_BATCH" default:"100"`
	// TestDelay is how far ahead a preview nudge is scheduled.
	TestDelay time.Duration `envconfig:"TEST_DELAY" default:"5s"`
}

// Load reads environment variables into Config and checks cross-field rules.
func Load() (Config, error) {
	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return cfg, err
	}
	if err := cfg.validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func (c Config) validate() error {
	if err := c.RepetitionCurve().Validate(); err != nil {
		return fmt.Errorf("REPEAT_CURVE: %w", err)
	}
	if err := c.Quiet().Validate(); err != nil {
		return fmt.Errorf("QUIET_FROM_HOUR/QUIET_TO_HOUR: %w", err)
	}
	if c.SweepInterval <= 0 {
		return fmt.Errorf("SWEEP_INTERVAL must be positive, got %s", c.SweepInterval)
	}
	if c.AwaitingAfter <= 0 {
		return fmt.Errorf("AWAITING_AFTER must be positive, got %s", c.AwaitingAfter)
	}
	if c.SweepBatch <= 0 {
		return fmt.Errorf("SWEEP_BATCH must be positive, got %d", c.SweepBatch)
	}
	if c.TestDelay <= 0 {
		return fmt.Errorf("TEST_DELAY must be positive, got %s", c.TestDelay)
	}
	return nil
}

// Quiet returns the quiet-hours window as a domain value.
func (c Config) Quiet() domain.QuietHours {
	return domain.QuietHours{From: c.QuietFromHour, To: c.QuietToHour}
}

// RepetitionCurve returns the configured curve as a domain value.
func (c Config) RepetitionCurve() domain.Curve {
	return domain.Curve(c.Curve)
}
