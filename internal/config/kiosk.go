// Package config loads go-arkiosk settings from the environment and the
// stand configuration from TOML.
package config

import (
	"errors"
	"fmt"
	"path/filepath"
	"strconv"

	"github.com/caarlos0/env/v11"
)

// Default kiosk settings.
const (
	DefaultPort       = "8080"
	DefaultStandsFile = "stands.toml"
	DefaultDataDir    = "data"
)

// Kiosk holds process-level settings read from KIOSK_* variables.
type Kiosk struct {
	Port            string `env:"KIOSK_PORT"             envDefault:"8080"`
	StandsFile      string `env:"KIOSK_STANDS_FILE"      envDefault:"stands.toml"`
	DataDir         string `env:"KIOSK_DATA_DIR"         envDefault:"data"`
	StaticDir       string `env:"KIOSK_STATIC_DIR"`
	LogLevel        string `env:"KIOSK_LOG_LEVEL"        envDefault:"info"`
	AnalyticsBuffer int    `env:"KIOSK_ANALYTICS_BUFFER" envDefault:"256"`
	Analytics       bool   `env:"KIOSK_ANALYTICS"        envDefault:"true"`
}

// LoadKiosk parses the environment and validates the result.
func LoadKiosk() (Kiosk, error) {
	var k Kiosk
	if err := env.Parse(&k); err != nil {
		return Kiosk{}, fmt.Errorf("parse env: %w", err)
	}
	if err := k.Validate(); err != nil {
		return Kiosk{}, err
	}
	return k, nil
}

// Validate checks value ranges.
func (k Kiosk) Validate() error {
	port, err := strconv.Atoi(k.Port)
	if err != nil || port < 0 || port > 65535 {
		return fmt.Errorf("invalid KIOSK_PORT %q", k.Port)
	}
	if k.StandsFile == "" {
		return errors.New("KIOSK_STANDS_FILE must not be empty")
	}
	if k.DataDir == "" {
		return errors.New("KIOSK_DATA_DIR must not be empty")
	}
	if k.AnalyticsBuffer <= 0 {
		return fmt.Errorf("KIOSK_ANALYTICS_BUFFER must be positive, got %d", k.AnalyticsBuffer)
	}
	return nil
}

// Addr returns the listen address for the web server.
func (k Kiosk) Addr() string {
	return ":" + k.Port
}

// AnalyticsPath is the sqlite database holding stand events.
func (k Kiosk) AnalyticsPath() string {
	return filepath.Join(k.DataDir, "analytics.db")
}

// LockPath guards against two kiosk daemons sharing a data directory.
func (k Kiosk) LockPath() string {
	return filepath.Join(k.DataDir, "kiosk.lock")
}
