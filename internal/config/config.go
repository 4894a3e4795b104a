// Package config provides configuration management for the SDB debug bridge.
//
// Configuration controls:
//   - Connection: default debugger address, liveness probe budget and backoff
//   - Timeouts: websocket handshake, command round-trips, configuration wait
//   - Legacy switches: behaviour of the superseded runtime variant
//   - Safety limits: maximum sessions and session timeout
//   - Logging: level, destination and format
//
// Configuration can be loaded from a JSON or YAML file, or use sensible
// defaults. Fields omitted from the file keep their default values.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/ctagard/sdb-dap/internal/errors"
)

// BackoffKind selects how the delay between probe attempts grows
type BackoffKind string

const (
	BackoffFixed       BackoffKind = "fixed"
	BackoffExponential BackoffKind = "exponential"
)

// Duration is a time.Duration that reads Go duration strings ("200ms", "2s")
// from JSON and YAML. Plain numbers are taken as milliseconds.
type Duration time.Duration

// Std returns the value as a time.Duration
func (d Duration) Std() time.Duration {
	return time.Duration(d)
}

func (d Duration) String() string {
	return time.Duration(d).String()
}

func parseDuration(s string) (Duration, error) {
	v, err := time.ParseDuration(s)
	if err != nil {
		return 0, err
	}
	return Duration(v), nil
}

// MarshalJSON encodes the duration as a Go duration string
func (d Duration) MarshalJSON() ([]byte, error) {
	return json.Marshal(d.String())
}

// UnmarshalJSON accepts a duration string or a number of milliseconds
func (d *Duration) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err == nil {
		v, err := parseDuration(s)
		if err != nil {
			return err
		}
		*d = v
		return nil
	}
	var ms int64
	if err := json.Unmarshal(data, &ms); err != nil {
		return fmt.Errorf("duration must be a string like \"500ms\" or milliseconds: %s", string(data))
	}
	*d = Duration(time.Duration(ms) * time.Millisecond)
	return nil
}

// MarshalYAML encodes the duration as a Go duration string
func (d Duration) MarshalYAML() (interface{}, error) {
	return d.String(), nil
}

// UnmarshalYAML accepts a duration string or a number of milliseconds
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var ms int64
	if value.Tag == "!!int" {
		if err := value.Decode(&ms); err != nil {
			return err
		}
		*d = Duration(time.Duration(ms) * time.Millisecond)
		return nil
	}
	var s string
	if err := value.Decode(&s); err != nil {
		return err
	}
	v, err := parseDuration(s)
	if err != nil {
		return err
	}
	*d = v
	return nil
}

// ProbeConfig controls the HTTP liveness probe that precedes the websocket
type ProbeConfig struct {
	Attempts    int         `json:"attempts" yaml:"attempts"`
	Backoff     BackoffKind `json:"backoff" yaml:"backoff"`
	Interval    Duration    `json:"interval" yaml:"interval"`
	MaxInterval Duration    `json:"maxInterval" yaml:"maxInterval"`
}

// LegacyConfig reproduces the behaviour of the older runtime variant
type LegacyConfig struct {
	// DisableImmediateValues makes hover/watch evaluation echo the request
	DisableImmediateValues bool `json:"disableImmediateValues" yaml:"disableImmediateValues"`
	// CoarseExitDiagnostics reports every nonzero exit with one message
	CoarseExitDiagnostics bool `json:"coarseExitDiagnostics" yaml:"coarseExitDiagnostics"`
}

// LogConfig controls the structured logger
type LogConfig struct {
	Level  string `json:"level" yaml:"level"`
	File   string `json:"file" yaml:"file"`
	Format string `json:"format" yaml:"format"`
}

// Config holds the bridge configuration
type Config struct {
	DefaultHostnamePort string `json:"defaultHostnamePort" yaml:"defaultHostnamePort"`

	Probe ProbeConfig `json:"probe" yaml:"probe"`

	HandshakeTimeout         Duration `json:"handshakeTimeout" yaml:"handshakeTimeout"`
	CommandTimeout           Duration `json:"commandTimeout" yaml:"commandTimeout"`
	ConfigurationDoneTimeout Duration `json:"configurationDoneTimeout" yaml:"configurationDoneTimeout"`
	ProgressInterval         Duration `json:"progressInterval" yaml:"progressInterval"`

	Legacy LegacyConfig `json:"legacy" yaml:"legacy"`

	// Limits for safety
	MaxSessions    int      `json:"maxSessions" yaml:"maxSessions"`
	SessionTimeout Duration `json:"sessionTimeout" yaml:"sessionTimeout"`

	Log LogConfig `json:"log" yaml:"log"`
}

// DefaultConfig returns a configuration with sensible defaults
func DefaultConfig() *Config {
	return &Config{
		DefaultHostnamePort: "localhost:8000",
		Probe: ProbeConfig{
			Attempts:    5,
			Backoff:     BackoffExponential,
			Interval:    Duration(200 * time.Millisecond),
			MaxInterval: Duration(2 * time.Second),
		},
		HandshakeTimeout:         Duration(5 * time.Second),
		CommandTimeout:           Duration(30 * time.Second),
		ConfigurationDoneTimeout: Duration(time.Second),
		ProgressInterval:         Duration(500 * time.Millisecond),
		MaxSessions:              10,
		Log: LogConfig{
			Level:  "info",
			Format: "text",
		},
	}
}

// LoadConfig loads configuration from a JSON or YAML file. The format is
// chosen by extension; .yaml and .yml are YAML, anything else is JSON.
func LoadConfig(path string) (*Config, error) {
	cfg := DefaultConfig()

	if path == "" {
		return cfg, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		err = yaml.Unmarshal(data, cfg)
	default:
		err = json.Unmarshal(data, cfg)
	}
	if err != nil {
		return nil, fmt.Errorf("parse config %s: %w", path, err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate rejects values the bridge cannot run with
func (c *Config) Validate() error {
	if c.Probe.Attempts < 1 {
		return errors.ConfigInvalid("probe.attempts", "must be at least 1")
	}
	switch c.Probe.Backoff {
	case BackoffFixed, BackoffExponential:
	default:
		return errors.ConfigInvalid("probe.backoff", fmt.Sprintf("unknown backoff %q, want fixed or exponential", c.Probe.Backoff))
	}
	if c.Probe.Interval < 0 || c.Probe.MaxInterval < 0 {
		return errors.ConfigInvalid("probe.interval", "intervals cannot be negative")
	}
	if c.Probe.MaxInterval > 0 && c.Probe.MaxInterval < c.Probe.Interval {
		return errors.ConfigInvalid("probe.maxInterval", "must not be smaller than probe.interval")
	}
	if c.HandshakeTimeout <= 0 {
		return errors.ConfigInvalid("handshakeTimeout", "must be positive")
	}
	if c.CommandTimeout <= 0 {
		return errors.ConfigInvalid("commandTimeout", "must be positive")
	}
	if c.ConfigurationDoneTimeout < 0 {
		return errors.ConfigInvalid("configurationDoneTimeout", "cannot be negative")
	}
	if c.ProgressInterval <= 0 {
		return errors.ConfigInvalid("progressInterval", "must be positive")
	}
	if c.MaxSessions < 1 {
		return errors.ConfigInvalid("maxSessions", "must be at least 1")
	}
	if c.SessionTimeout < 0 {
		return errors.ConfigInvalid("sessionTimeout", "cannot be negative")
	}
	switch c.Log.Format {
	case "", "text", "json":
	default:
		return errors.ConfigInvalid("log.format", fmt.Sprintf("unknown format %q, want text or json", c.Log.Format))
	}
	return nil
}
