package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ctagard/sdb-dap/internal/errors"
)

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	assert.Equal(t, "localhost:8000", cfg.DefaultHostnamePort)
	assert.Equal(t, 5, cfg.Probe.Attempts)
	assert.Equal(t, BackoffExponential, cfg.Probe.Backoff)
	assert.Equal(t, 200*time.Millisecond, cfg.Probe.Interval.Std())
	assert.Equal(t, time.Second, cfg.ConfigurationDoneTimeout.Std())
	assert.Equal(t, 10, cfg.MaxSessions)
	assert.Zero(t, cfg.SessionTimeout)
	assert.False(t, cfg.Legacy.DisableImmediateValues)
	require.NoError(t, cfg.Validate())
}

func TestLoadConfig_EmptyPathReturnsDefaults(t *testing.T) {
	cfg, err := LoadConfig("")
	require.NoError(t, err)
	assert.Equal(t, DefaultConfig(), cfg)
}

func TestLoadConfig_JSON(t *testing.T) {
	path := writeFile(t, "sdb.json", `{
		"defaultHostnamePort": "127.0.0.1:9000",
		"probe": {"attempts": 3, "backoff": "fixed", "interval": "50ms"},
		"commandTimeout": 1500,
		"legacy": {"coarseExitDiagnostics": true}
	}`)

	cfg, err := LoadConfig(path)
	require.NoError(t, err)

	assert.Equal(t, "127.0.0.1:9000", cfg.DefaultHostnamePort)
	assert.Equal(t, 3, cfg.Probe.Attempts)
	assert.Equal(t, BackoffFixed, cfg.Probe.Backoff)
	assert.Equal(t, 50*time.Millisecond, cfg.Probe.Interval.Std())
	assert.Equal(t, 1500*time.Millisecond, cfg.CommandTimeout.Std())
	assert.True(t, cfg.Legacy.CoarseExitDiagnostics)
	// untouched fields keep defaults
	assert.Equal(t, 2*time.Second, cfg.Probe.MaxInterval.Std())
	assert.Equal(t, 10, cfg.MaxSessions)
}

func TestLoadConfig_YAML(t *testing.T) {
	path := writeFile(t, "sdb.yaml", `
defaultHostnamePort: remote:8000
handshakeTimeout: 2s
configurationDoneTimeout: 250
maxSessions: 2
sessionTimeout: 30m
legacy:
  disableImmediateValues: true
log:
  level: debug
  format: json
`)

	cfg, err := LoadConfig(path)
	require.NoError(t, err)

	assert.Equal(t, "remote:8000", cfg.DefaultHostnamePort)
	assert.Equal(t, 2*time.Second, cfg.HandshakeTimeout.Std())
	assert.Equal(t, 250*time.Millisecond, cfg.ConfigurationDoneTimeout.Std())
	assert.Equal(t, 2, cfg.MaxSessions)
	assert.Equal(t, 30*time.Minute, cfg.SessionTimeout.Std())
	assert.True(t, cfg.Legacy.DisableImmediateValues)
	assert.Equal(t, "debug", cfg.Log.Level)
	assert.Equal(t, "json", cfg.Log.Format)
}

func TestLoadConfig_Errors(t *testing.T) {
	t.Run("missing file", func(t *testing.T) {
		_, err := LoadConfig(filepath.Join(t.TempDir(), "nope.json"))
		assert.Error(t, err)
	})

	t.Run("bad duration", func(t *testing.T) {
		path := writeFile(t, "bad.json", `{"commandTimeout": "soon"}`)
		_, err := LoadConfig(path)
		assert.Error(t, err)
	})

	t.Run("invalid backoff", func(t *testing.T) {
		path := writeFile(t, "bad.yml", "probe:\n  backoff: linear\n")
		_, err := LoadConfig(path)
		require.Error(t, err)
		assert.True(t, errors.HasCode(err, errors.CodeConfigInvalid))
	})
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"zero attempts", func(c *Config) { c.Probe.Attempts = 0 }},
		{"max below interval", func(c *Config) { c.Probe.MaxInterval = Duration(time.Millisecond) }},
		{"zero handshake timeout", func(c *Config) { c.HandshakeTimeout = 0 }},
		{"zero command timeout", func(c *Config) { c.CommandTimeout = 0 }},
		{"zero progress interval", func(c *Config) { c.ProgressInterval = 0 }},
		{"zero sessions", func(c *Config) { c.MaxSessions = 0 }},
		{"unknown log format", func(c *Config) { c.Log.Format = "xml" }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(cfg)
			err := cfg.Validate()
			require.Error(t, err)
			assert.True(t, errors.HasCode(err, errors.CodeConfigInvalid))
		})
	}
}
