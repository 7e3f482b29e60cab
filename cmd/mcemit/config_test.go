package main

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/spf13/cobra"

	"mcemit/internal/asminfo"
	"mcemit/internal/codegen"
)

// parsedEmitCmd returns an emit command with args parsed but not run.
func parsedEmitCmd(t *testing.T, args ...string) *cobra.Command {
	t.Helper()
	root := &cobra.Command{Use: "mcemit"}
	addPersistentFlags(root)
	emit := &cobra.Command{Use: "emit", RunE: func(*cobra.Command, []string) error { return nil }}
	addEmitFlags(emit)
	root.AddCommand(emit)
	if err := emit.ParseFlags(args); err != nil {
		t.Fatal(err)
	}
	return emit
}

func TestFindConfigWalksUp(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, configFileName), "[target]\ntriple = \"x86_64-apple-darwin\"\n")
	nested := filepath.Join(dir, "a", "b")
	if err := os.MkdirAll(nested, 0o755); err != nil {
		t.Fatal(err)
	}
	path, ok, err := findConfigFile(nested)
	if err != nil || !ok {
		t.Fatalf("findConfigFile = %q, %v, %v", path, ok, err)
	}
	want, _ := filepath.Abs(filepath.Join(dir, configFileName))
	if path != want {
		t.Errorf("path = %q, want %q", path, want)
	}
}

func TestLoadConfigRejects(t *testing.T) {
	tests := map[string]string{
		"unknown key":  "[asm]\nsyntx = \"intel\"\n",
		"empty triple": "[target]\ntriple = \"  \"\n",
		"zero jobs":    "[emit]\njobs = 0\n",
		"bad toml":     "[asm\n",
	}
	for name, content := range tests {
		t.Run(name, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), configFileName)
			writeFile(t, path, content)
			if _, err := loadConfigFile(path); err == nil {
				t.Error("expected an error")
			}
		})
	}
}

func TestSettingsPrecedence(t *testing.T) {
	path := filepath.Join(t.TempDir(), configFileName)
	writeFile(t, path, `
[target]
triple = "x86_64-unknown-linux-gnu"

[asm]
syntax = "intel"
mark_data_regions = true

[emit]
filetype = "obj"
verify = true
jobs = 3
`)
	cfg, err := loadConfigFile(path)
	if err != nil {
		t.Fatal(err)
	}

	s, err := resolveSettings(parsedEmitCmd(t), cfg)
	if err != nil {
		t.Fatal(err)
	}
	if s.triple != "x86_64-unknown-linux-gnu" || s.asm.Dialect != asminfo.DialectIntel || !s.asm.MarkDataRegions {
		t.Errorf("file settings not applied: %+v", s)
	}
	if s.opts.FileKind != codegen.FileObj || !s.opts.Verify || s.jobs != 3 {
		t.Errorf("emit section not applied: %+v", s)
	}

	s, err = resolveSettings(parsedEmitCmd(t,
		"--target", "x86_64-apple-darwin",
		"--x86-asm-syntax", "att",
		"--mark-data-regions=false",
		"--filetype", "null",
		"--verify=false",
		"--stop-after", "layout",
		"--jobs", "1",
	), cfg)
	if err != nil {
		t.Fatal(err)
	}
	if s.triple != "x86_64-apple-darwin" || s.asm.Dialect != asminfo.DialectATT || s.asm.MarkDataRegions {
		t.Errorf("flags must override the file: %+v", s)
	}
	if s.opts.FileKind != codegen.FileNull || s.opts.Verify || s.opts.StopAfter != codegen.StageLayout || s.jobs != 1 {
		t.Errorf("emit flags must override the file: %+v", s)
	}
}

func TestSettingsDefaults(t *testing.T) {
	s, err := resolveSettings(parsedEmitCmd(t), nil)
	if err != nil {
		t.Fatal(err)
	}
	if s.triple == "" || s.opts.FileKind != codegen.FileAsm || s.jobs < 1 || s.asm != asminfo.DefaultConfig() {
		t.Errorf("defaults = %+v", s)
	}
	if _, err := resolveSettings(parsedEmitCmd(t, "--x86-asm-syntax", "motorola"), nil); err == nil || !strings.Contains(err.Error(), "assembler syntax") {
		t.Errorf("bad syntax err = %v", err)
	}
	if _, err := resolveSettings(parsedEmitCmd(t, "--jobs", "-1"), nil); err == nil {
		t.Error("negative jobs should fail")
	}
}
