package sdb

import (
	"log/slog"
	"time"

	"github.com/ctagard/sdb-dap/internal/config"
	"github.com/ctagard/sdb-dap/internal/logging"
)

// Options configure a Runtime
type Options struct {
	Probe            RetryPolicy
	HandshakeTimeout time.Duration
	CommandTimeout   time.Duration

	// CoarseExitDiagnostics reports every nonzero exit the same way,
	// without telling startup failures from runtime failures
	CoarseExitDiagnostics bool

	Files  FileAccessor
	Logger *slog.Logger
}

// DefaultOptions mirrors config.DefaultConfig
func DefaultOptions() Options {
	return Options{
		Probe:            DefaultRetryPolicy(),
		HandshakeTimeout: 5 * time.Second,
		CommandTimeout:   30 * time.Second,
		Files:            OSFileAccessor{},
		Logger:           logging.Discard(),
	}
}

// OptionsFromConfig builds runtime options from the loaded configuration
func OptionsFromConfig(cfg *config.Config, logger *slog.Logger) Options {
	opts := DefaultOptions()
	opts.Probe = RetryPolicy{
		Attempts:    cfg.Probe.Attempts,
		Backoff:     cfg.Probe.Backoff,
		Interval:    cfg.Probe.Interval.Std(),
		MaxInterval: cfg.Probe.MaxInterval.Std(),
	}
	opts.HandshakeTimeout = cfg.HandshakeTimeout.Std()
	opts.CommandTimeout = cfg.CommandTimeout.Std()
	opts.CoarseExitDiagnostics = cfg.Legacy.CoarseExitDiagnostics
	if logger != nil {
		opts.Logger = logger
	}
	return opts
}

func (o Options) withDefaults() Options {
	d := DefaultOptions()
	if o.Probe.Attempts < 1 {
		o.Probe = d.Probe
	}
	if o.HandshakeTimeout <= 0 {
		o.HandshakeTimeout = d.HandshakeTimeout
	}
	if o.CommandTimeout <= 0 {
		o.CommandTimeout = d.CommandTimeout
	}
	if o.Files == nil {
		o.Files = d.Files
	}
	if o.Logger == nil {
		o.Logger = d.Logger
	}
	return o
}
