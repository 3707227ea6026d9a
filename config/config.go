// Package config loads federate settings from a TOML file and turns them
// into session options.
package config

import (
	"os"

	"github.com/pelletier/go-toml/v2"
	"github.com/pkg/errors"

	"github.com/simfed/fedkit"
)

var ErrInvalid = errors.New("config: invalid")

type JournalConfig struct {
	Dir string `toml:"dir"`
}

// MetricsConfig holds the scrape endpoint address; empty disables it.
type MetricsConfig struct {
	Addr string `toml:"addr"`
}

// FederateConfig mirrors one federate's [federate] section plus the
// optional [journal] one.
type FederateConfig struct {
	Federation string  `toml:"federation"`
	Name       string  `toml:"name"`
	Type       string  `toml:"type"`
	Lookahead  float64 `toml:"lookahead"`
	StepSize   float64 `toml:"step_size"`
	TimeOffset float64 `toml:"time_offset"`

	SyncPoints        []string `toml:"sync_points"`
	RequiredFederates []string `toml:"required_federates"`

	Journal JournalConfig `toml:"journal"`
	Metrics MetricsConfig `toml:"metrics"`
}

// Load reads and validates a config file.
func Load(path string) (*FederateConfig, error) {
	body, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrap(err, "config: read")
	}
	return Parse(body)
}

func Parse(body []byte) (*FederateConfig, error) {
	var cfg FederateConfig
	if err := toml.Unmarshal(body, &cfg); err != nil {
		return nil, errors.Wrap(err, "config: parse")
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *FederateConfig) Validate() error {
	if c.Federation == "" {
		return errors.Wrap(ErrInvalid, "federation is required")
	}
	if c.Name == "" {
		return errors.Wrap(ErrInvalid, "name is required")
	}
	if c.StepSize <= 0 {
		return errors.Wrap(ErrInvalid, "step_size must be positive")
	}
	if c.Lookahead < 0 || c.TimeOffset < 0 {
		return errors.Wrap(ErrInvalid, "time parameters must not be negative")
	}
	return nil
}

// Options converts the config into session options. Monitor, callbacks and
// logger stay with the caller.
func (c *FederateConfig) Options() fedkit.Options {
	return fedkit.Options{
		Federation:        c.Federation,
		Name:              c.Name,
		Type:              c.Type,
		Lookahead:         c.Lookahead,
		StepSize:          c.StepSize,
		TimeOffset:        c.TimeOffset,
		SyncPoints:        c.SyncPoints,
		RequiredFederates: c.RequiredFederates,
	}
}
