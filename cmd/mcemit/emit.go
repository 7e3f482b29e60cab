package main

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"mcemit/internal/codegen"
	"mcemit/internal/mc"
	"mcemit/internal/observ"
	"mcemit/internal/target"
	"mcemit/internal/trace"
)

var emitCmd = &cobra.Command{
	Use:   "emit [flags] unit.toml...",
	Short: "Emit assembly or objects for machine-code units",
	Long: `Emit runs the emission pipeline over each unit file for one target and
writes the result next to the input, under --out-dir, or to -o.`,
	Args: cobra.MinimumNArgs(1),
	RunE: emitExecution,
}

func init() {
	addEmitFlags(emitCmd)
}

func addEmitFlags(cmd *cobra.Command) {
	cmd.Flags().String("target", "", "platform identifier (default: [target].triple or the host)")
	cmd.Flags().String("filetype", "asm", "output kind (asm|obj|null)")
	cmd.Flags().Bool("verify", false, "check the unit after every stage")
	cmd.Flags().String("start-after", "", "skip stages up to and including this one")
	cmd.Flags().String("stop-after", "", "stop after this stage without writing output")
	cmd.Flags().StringP("output", "o", "", "output file (- for stdout); single input only")
	cmd.Flags().String("out-dir", "", "directory for output files")
	cmd.Flags().Int("jobs", 0, "units emitted in parallel (default: [emit].jobs or GOMAXPROCS)")
	cmd.Flags().String("ui", "auto", "progress UI (auto|on|off)")
}

// unitJob is one input file and what became of it.
type unitJob struct {
	input   string
	output  string
	unit    *mc.Unit
	timings observ.Report
	err     error
}

func emitExecution(cmd *cobra.Command, args []string) error {
	cleanup, err := setupTracing(cmd)
	if err != nil {
		return err
	}
	defer cleanup()

	stopProfiling, err := setupProfiling(cmd)
	if err != nil {
		return err
	}
	defer stopProfiling()

	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	s, err := resolveSettings(cmd, cfg)
	if err != nil {
		return err
	}
	output, err := cmd.Flags().GetString("output")
	if err != nil {
		return err
	}
	outDir, err := cmd.Flags().GetString("out-dir")
	if err != nil {
		return err
	}
	uiValue, err := cmd.Flags().GetString("ui")
	if err != nil {
		return err
	}
	uiModeValue, err := readUIMode(uiValue)
	if err != nil {
		return err
	}
	quiet, err := cmd.Root().PersistentFlags().GetBool("quiet")
	if err != nil {
		return err
	}
	showTimings, err := cmd.Root().PersistentFlags().GetBool("timings")
	if err != nil {
		return err
	}
	if output != "" && len(args) > 1 {
		return fmt.Errorf("-o requires a single input, got %d", len(args))
	}
	if output != "" && outDir != "" {
		return fmt.Errorf("-o and --out-dir are mutually exclusive")
	}

	resolver := target.NewResolver(nil, s.asm)
	// Reject bad targets and options before reading any input.
	if _, d, err := resolver.Resolve(s.triple); err != nil {
		return err
	} else if err := d.Configure(s.opts); err != nil {
		return err
	}

	jobs := make([]*unitJob, len(args))
	for i, input := range args {
		u, err := mc.Load(input)
		if err != nil {
			return err
		}
		jobs[i] = &unitJob{
			input:  input,
			unit:   u,
			output: outputPathFor(input, output, outDir, s.opts.FileKind),
		}
	}

	ctx := cmd.Context()
	span := trace.Begin(trace.FromContext(ctx), trace.ScopeDriver, "emit", 0).
		WithExtra("target", s.triple).
		WithExtra("units", fmt.Sprint(len(jobs)))
	ctx = trace.WithParentSpan(ctx, span.ID())

	run := func(progress codegen.ProgressSink) error {
		return emitAll(ctx, resolver, s, jobs, progress, cmd.OutOrStdout())
	}
	if shouldUseTUI(uiModeValue, cmd.OutOrStdout()) && output != "-" {
		names := make([]string, len(jobs))
		for i, j := range jobs {
			names[i] = j.unit.Name
		}
		err = runWithUI(ctx, "mcemit "+s.triple, names, run)
	} else {
		err = run(nil)
	}
	if err != nil {
		span.End("failed")
	} else {
		span.End("ok")
	}

	if showTimings {
		for _, j := range jobs {
			printUnitTimings(cmd.ErrOrStderr(), j.unit.Name, j.timings)
		}
	}
	if !quiet {
		for _, j := range jobs {
			if j.err == nil && j.output != "" && j.output != "-" && producesOutput(s.opts) {
				fmt.Fprintf(cmd.OutOrStdout(), "wrote %s\n", j.output)
			}
		}
	}
	return err
}

// emitAll runs every job with at most s.jobs in flight. Each job gets its
// own driver; the first failure is returned once all running jobs finish.
func emitAll(ctx context.Context, resolver *target.Resolver, s settings, jobs []*unitJob, progress codegen.ProgressSink, stdout io.Writer) error {
	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(s.jobs)
	for _, j := range jobs {
		j := j // per-iteration copy; go.mod targets go1.21 loop semantics
		g.Go(func() error {
			j.err = emitOne(ctx, resolver, s, j, progress, stdout)
			if progress != nil {
				ev := codegen.Event{Unit: j.unit.Name, Status: codegen.StatusDone}
				if j.err != nil {
					ev.Status, ev.Err = codegen.StatusError, j.err
				}
				progress.OnEvent(ev)
			}
			if j.err != nil {
				return fmt.Errorf("%s: %w", j.input, j.err)
			}
			return nil
		})
	}
	return g.Wait()
}

func emitOne(ctx context.Context, resolver *target.Resolver, s settings, j *unitJob, progress codegen.ProgressSink, stdout io.Writer) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	_, d, err := resolver.Resolve(s.triple)
	if err != nil {
		return err
	}
	if progress != nil {
		d.SetProgress(progress)
	}
	var buf bytes.Buffer
	err = resolver.EmitWith(ctx, d, j.unit, s.opts, &buf)
	j.timings = d.Timings()
	if err != nil {
		return err
	}
	if !producesOutput(s.opts) {
		return nil
	}
	if j.output == "-" {
		_, err := stdout.Write(buf.Bytes())
		return err
	}
	return writeFileAtomic(j.output, buf.Bytes())
}

func producesOutput(opts codegen.Options) bool {
	return opts.FileKind != codegen.FileNull && opts.StopAfter == ""
}

// outputPathFor names the output of input: explicit wins, then out-dir,
// then the input's directory, with the file kind's extension.
func outputPathFor(input, explicit, outDir string, kind codegen.FileKind) string {
	if explicit != "" {
		return explicit
	}
	if kind == codegen.FileNull {
		return ""
	}
	dir := filepath.Dir(input)
	if outDir != "" {
		dir = outDir
	}
	return filepath.Join(dir, mc.UnitNameFromPath(input)+kind.Extension())
}

// writeFileAtomic writes data through a temporary file in the target
// directory, so a failed write never leaves a partial output behind.
func writeFileAtomic(path string, data []byte) (err error) {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	f, err := os.CreateTemp(dir, ".mcemit-*")
	if err != nil {
		return err
	}
	defer func() {
		if err != nil {
			err = errors.Join(err, removeIfExists(f.Name()))
		}
	}()
	if _, err = f.Write(data); err != nil {
		_ = f.Close()
		return err
	}
	if err = f.Close(); err != nil {
		return err
	}
	return os.Rename(f.Name(), path)
}

func removeIfExists(path string) error {
	if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return err
	}
	return nil
}
