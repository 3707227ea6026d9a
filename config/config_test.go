package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
)

const sample = `
federation = "Exercise"
name = "pilot"
type = "aircraft"
lookahead = 1.0
step_size = 0.5
time_offset = 10.0
sync_points = ["Run", "Shutdown", "Checkpoint"]
required_federates = ["viewer", "logger"]

[journal]
dir = "/var/lib/fedsim/journal"

[metrics]
addr = "127.0.0.1:9347"
`

func TestParse(t *testing.T) {
	cfg, err := Parse([]byte(sample))
	assert.NoError(t, err)
	assert.Equal(t, "Exercise", cfg.Federation)
	assert.Equal(t, 0.5, cfg.StepSize)
	assert.Equal(t, []string{"Run", "Shutdown", "Checkpoint"}, cfg.SyncPoints)
	assert.Equal(t, "/var/lib/fedsim/journal", cfg.Journal.Dir)
	assert.Equal(t, "127.0.0.1:9347", cfg.Metrics.Addr)

	opts := cfg.Options()
	assert.Equal(t, "pilot", opts.Name)
	assert.Equal(t, 10.0, opts.TimeOffset)
	assert.Equal(t, []string{"viewer", "logger"}, opts.RequiredFederates)
}

func TestLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "federate.toml")
	assert.NoError(t, os.WriteFile(path, []byte(sample), 0o644))

	cfg, err := Load(path)
	assert.NoError(t, err)
	assert.Equal(t, "pilot", cfg.Name)

	_, err = Load(filepath.Join(t.TempDir(), "missing.toml"))
	assert.Error(t, err)
}

func TestValidate(t *testing.T) {
	cases := []struct {
		name string
		body string
	}{
		{"missing federation", `name = "pilot"` + "\n" + `step_size = 0.5`},
		{"missing name", `federation = "Exercise"` + "\n" + `step_size = 0.5`},
		{"zero step", `federation = "Exercise"` + "\n" + `name = "pilot"`},
		{"negative lookahead", `federation = "Exercise"` + "\n" + `name = "pilot"` + "\n" + `step_size = 0.5` + "\n" + `lookahead = -1.0`},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			_, err := Parse([]byte(c.body))
			assert.ErrorIs(t, err, ErrInvalid)
		})
	}
	_, err := Parse([]byte("not toml ["))
	assert.Error(t, err)
	assert.NotErrorIs(t, err, ErrInvalid)
}
