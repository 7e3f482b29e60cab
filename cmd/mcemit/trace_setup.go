package main

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"mcemit/internal/trace"
)

// traceConfigFromFlags builds a trace.Config from the persistent flags. A
// --trace output with the level left off traces at phase level.
func traceConfigFromFlags(cmd *cobra.Command) (trace.Config, error) {
	flags := cmd.Root().PersistentFlags()
	var cfg trace.Config
	output, err := flags.GetString("trace")
	if err != nil {
		return cfg, err
	}
	levelName, err := flags.GetString("trace-level")
	if err != nil {
		return cfg, err
	}
	modeName, err := flags.GetString("trace-mode")
	if err != nil {
		return cfg, err
	}
	ringSize, err := flags.GetInt("trace-ring-size")
	if err != nil {
		return cfg, err
	}

	if cfg.Level, err = trace.ParseLevel(levelName); err != nil {
		return cfg, fmt.Errorf("--trace-level: %w", err)
	}
	if cfg.Level == trace.LevelOff && output != "" {
		cfg.Level = trace.LevelPhase
	}
	if cfg.Mode, err = trace.ParseMode(modeName); err != nil {
		return cfg, fmt.Errorf("--trace-mode: %w", err)
	}
	cfg.OutputPath = output
	cfg.RingSize = ringSize
	return cfg, nil
}

// setupTracing installs the configured tracer in the command context. The
// returned cleanup dumps a ring-only trace to stderr, then flushes and
// closes the tracer.
func setupTracing(cmd *cobra.Command) (func(), error) {
	cfg, err := traceConfigFromFlags(cmd)
	if err != nil {
		return nil, err
	}
	if cfg.Level == trace.LevelOff {
		cmd.SetContext(trace.WithTracer(cmd.Context(), trace.Nop))
		return func() {}, nil
	}
	tracer, err := trace.New(cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create tracer: %w", err)
	}
	cmd.SetContext(trace.WithTracer(cmd.Context(), tracer))

	return func() {
		var errs []error
		if ring := trace.RingOf(tracer); ring != nil && cfg.Mode == trace.ModeRing {
			errs = append(errs, ring.Dump(cmd.ErrOrStderr(), trace.FormatText))
		}
		errs = append(errs, tracer.Flush(), tracer.Close())
		if err := errors.Join(errs...); err != nil {
			fmt.Fprintf(cmd.ErrOrStderr(), "trace: %v\n", err)
		}
	}, nil
}
