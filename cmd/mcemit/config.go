package main

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strings"

	"github.com/BurntSushi/toml"
	"github.com/spf13/cobra"

	"mcemit/internal/asminfo"
	"mcemit/internal/codegen"
	"mcemit/internal/triple"
)

const configFileName = "mcemit.toml"

type fileConfig struct {
	Target targetSection `toml:"target"`
	Asm    asmSection    `toml:"asm"`
	Emit   emitSection   `toml:"emit"`
}

type targetSection struct {
	Triple string `toml:"triple"`
}

type asmSection struct {
	Syntax          string `toml:"syntax"`
	MarkDataRegions bool   `toml:"mark_data_regions"`
}

type emitSection struct {
	FileType string `toml:"filetype"`
	Verify   bool   `toml:"verify"`
	Jobs     int    `toml:"jobs"`
}

// loadedConfig is a parsed mcemit.toml together with which keys it set.
type loadedConfig struct {
	path string
	cfg  fileConfig
	meta toml.MetaData
}

func (c *loadedConfig) defines(key ...string) bool {
	return c != nil && c.meta.IsDefined(key...)
}

func findConfigFile(startDir string) (string, bool, error) {
	if startDir == "" {
		startDir = "."
	}
	dir, err := filepath.Abs(startDir)
	if err != nil {
		return "", false, fmt.Errorf("failed to resolve start directory: %w", err)
	}
	for {
		candidate := filepath.Join(dir, configFileName)
		if _, err := os.Stat(candidate); err == nil {
			return candidate, true, nil
		} else if !errors.Is(err, os.ErrNotExist) {
			return "", false, fmt.Errorf("failed to stat %q: %w", candidate, err)
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			break
		}
		dir = parent
	}
	return "", false, nil
}

func loadConfigFile(path string) (*loadedConfig, error) {
	var cfg fileConfig
	meta, err := toml.DecodeFile(path, &cfg)
	if err != nil {
		return nil, fmt.Errorf("%s: failed to parse TOML: %w", path, err)
	}
	if undecoded := meta.Undecoded(); len(undecoded) > 0 {
		keys := make([]string, len(undecoded))
		for i, k := range undecoded {
			keys[i] = k.String()
		}
		return nil, fmt.Errorf("%s: unknown keys: %s", path, strings.Join(keys, ", "))
	}
	if meta.IsDefined("target", "triple") && strings.TrimSpace(cfg.Target.Triple) == "" {
		return nil, fmt.Errorf("%s: [target].triple is empty", path)
	}
	if meta.IsDefined("emit", "jobs") && cfg.Emit.Jobs < 1 {
		return nil, fmt.Errorf("%s: [emit].jobs must be positive", path)
	}
	return &loadedConfig{path: path, cfg: cfg, meta: meta}, nil
}

// loadConfig honours --config, then searches upward from the working directory.
func loadConfig(cmd *cobra.Command) (*loadedConfig, error) {
	path, err := cmd.Root().PersistentFlags().GetString("config")
	if err != nil {
		return nil, fmt.Errorf("failed to get config flag: %w", err)
	}
	if path == "" {
		found, ok, err := findConfigFile(".")
		if err != nil || !ok {
			return nil, err
		}
		path = found
	}
	return loadConfigFile(path)
}

// settings is the effective configuration: defaults, overridden by
// mcemit.toml, overridden by flags set on the command line.
type settings struct {
	triple string
	asm    asminfo.Config
	opts   codegen.Options
	jobs   int
}

func defaultSettings() settings {
	return settings{
		triple: triple.Host().String(),
		asm:    asminfo.DefaultConfig(),
		opts:   codegen.Options{FileKind: codegen.FileAsm},
		jobs:   runtime.GOMAXPROCS(0),
	}
}

// resolveAsmConfig applies the two global toggles from the config file and
// the persistent flags.
func resolveAsmConfig(cmd *cobra.Command, cfg *loadedConfig) (asminfo.Config, error) {
	out := asminfo.DefaultConfig()
	flags := cmd.Root().PersistentFlags()

	syntax := ""
	if cfg.defines("asm", "syntax") {
		syntax = cfg.cfg.Asm.Syntax
	}
	if flags.Changed("x86-asm-syntax") {
		v, err := flags.GetString("x86-asm-syntax")
		if err != nil {
			return out, err
		}
		syntax = v
	}
	d, err := asminfo.ParseDialect(syntax)
	if err != nil {
		return out, err
	}
	out.Dialect = d

	if cfg.defines("asm", "mark_data_regions") {
		out.MarkDataRegions = cfg.cfg.Asm.MarkDataRegions
	}
	if flags.Changed("mark-data-regions") {
		v, err := flags.GetBool("mark-data-regions")
		if err != nil {
			return out, err
		}
		out.MarkDataRegions = v
	}
	return out, nil
}

func resolveSettings(cmd *cobra.Command, cfg *loadedConfig) (settings, error) {
	s := defaultSettings()
	asm, err := resolveAsmConfig(cmd, cfg)
	if err != nil {
		return s, err
	}
	s.asm = asm

	if cfg.defines("target", "triple") {
		s.triple = strings.TrimSpace(cfg.cfg.Target.Triple)
	}
	if cfg.defines("emit", "filetype") {
		k, err := codegen.ParseFileKind(cfg.cfg.Emit.FileType)
		if err != nil {
			return s, fmt.Errorf("%s: %w", cfg.path, err)
		}
		s.opts.FileKind = k
	}
	if cfg.defines("emit", "verify") {
		s.opts.Verify = cfg.cfg.Emit.Verify
	}
	if cfg.defines("emit", "jobs") {
		s.jobs = cfg.cfg.Emit.Jobs
	}

	flags := cmd.Flags()
	if flags.Changed("target") {
		if s.triple, err = flags.GetString("target"); err != nil {
			return s, err
		}
	}
	if flags.Changed("filetype") {
		v, err := flags.GetString("filetype")
		if err != nil {
			return s, err
		}
		if s.opts.FileKind, err = codegen.ParseFileKind(v); err != nil {
			return s, err
		}
	}
	if flags.Changed("verify") {
		if s.opts.Verify, err = flags.GetBool("verify"); err != nil {
			return s, err
		}
	}
	if flags.Changed("start-after") {
		v, err := flags.GetString("start-after")
		if err != nil {
			return s, err
		}
		s.opts.StartAfter = codegen.StageName(v)
	}
	if flags.Changed("stop-after") {
		v, err := flags.GetString("stop-after")
		if err != nil {
			return s, err
		}
		s.opts.StopAfter = codegen.StageName(v)
	}
	if flags.Changed("jobs") {
		if s.jobs, err = flags.GetInt("jobs"); err != nil {
			return s, err
		}
	}
	if s.jobs < 1 {
		return s, fmt.Errorf("--jobs must be positive, got %d", s.jobs)
	}
	return s, nil
}
