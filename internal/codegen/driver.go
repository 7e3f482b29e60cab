// Package codegen runs the emission pipeline for one compilation unit:
// a fixed sequence of named stages followed by an output writer.
package codegen

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"mcemit/internal/asminfo"
	"mcemit/internal/asmwriter"
	"mcemit/internal/mc"
	"mcemit/internal/objwriter"
	"mcemit/internal/observ"
	"mcemit/internal/trace"
)

// State is the working set stages read and rewrite.
type State struct {
	Unit    *mc.Unit
	Profile *asminfo.Profile
}

// Stage is one named step of the pipeline.
type Stage interface {
	Name() StageName
	Run(ctx context.Context, st *State) error
}

// Checker is implemented by stages with postconditions beyond the structural
// check; it runs only when verification is enabled.
type Checker interface {
	Check(st *State) error
}

// DriverState is the lifecycle position of a Driver.
type DriverState uint8

const (
	StateIdle DriverState = iota
	StateConfigured
	StateRunning
	StateCompleted
	StateFailed
)

func (s DriverState) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateConfigured:
		return "configured"
	case StateRunning:
		return "running"
	case StateCompleted:
		return "completed"
	case StateFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// Driver emits one compilation unit. It is single use and not safe for
// concurrent use; run distinct units on distinct drivers.
type Driver struct {
	profile  *asminfo.Profile
	stages   []Stage
	opts     Options
	state    DriverState
	progress ProgressSink
	timer    *observ.Timer
}

// NewDriver returns an idle driver bound to profile.
func NewDriver(profile *asminfo.Profile, stages ...Stage) *Driver {
	return &Driver{
		profile: profile,
		stages:  stages,
		timer:   observ.NewTimer(),
	}
}

// Profile returns the convention profile handed to the writer.
func (d *Driver) Profile() *asminfo.Profile { return d.profile }

// State returns the lifecycle state.
func (d *Driver) State() DriverState { return d.state }

// Stages lists the stage names in execution order.
func (d *Driver) Stages() []StageName {
	names := make([]StageName, len(d.stages))
	for i, s := range d.stages {
		names[i] = s.Name()
	}
	return names
}

// SetProgress installs a progress sink. It must be called before Emit.
func (d *Driver) SetProgress(sink ProgressSink) { d.progress = sink }

// Timings reports the per-stage durations of the last run.
func (d *Driver) Timings() observ.Report { return d.timer.Report() }

// Configure binds the request options. It moves an idle driver to configured.
func (d *Driver) Configure(opts Options) error {
	if d.state != StateIdle {
		return fmt.Errorf("%w: configure in state %s", ErrDriverState, d.state)
	}
	if d.profile == nil {
		return errors.New("driver has no convention profile")
	}
	if opts.FileKind == "" {
		opts.FileKind = FileAsm
	}
	switch opts.FileKind {
	case FileAsm, FileObj, FileNull:
	default:
		return fmt.Errorf("unsupported file kind %q", opts.FileKind)
	}
	seen := make(map[StageName]bool, len(d.stages))
	for _, name := range d.Stages() {
		if seen[name] {
			return fmt.Errorf("duplicate stage name %q", name)
		}
		seen[name] = true
	}
	start, stop := -1, len(d.stages)-1
	if opts.StartAfter != "" {
		i := d.indexOf(opts.StartAfter)
		if i < 0 {
			return fmt.Errorf("%w: start-after %q", ErrUnknownStage, opts.StartAfter)
		}
		start = i
	}
	if opts.StopAfter != "" {
		i := d.indexOf(opts.StopAfter)
		if i < 0 {
			return fmt.Errorf("%w: stop-after %q", ErrUnknownStage, opts.StopAfter)
		}
		stop = i
	}
	if opts.StartAfter != "" && opts.StopAfter != "" && start >= stop {
		return fmt.Errorf("start-after %q must precede stop-after %q", opts.StartAfter, opts.StopAfter)
	}
	d.opts = opts
	d.state = StateConfigured
	return nil
}

func (d *Driver) indexOf(name StageName) int {
	for i, s := range d.stages {
		if s.Name() == name {
			return i
		}
	}
	return -1
}

// Emit runs the stages over a private copy of u and, unless stopped early
// or asked for no output, writes the result to sink. Output is rendered in
// full before the first write, so a failed run never writes.
func (d *Driver) Emit(ctx context.Context, u *mc.Unit, sink io.Writer) error {
	if d.state != StateConfigured {
		return fmt.Errorf("%w: emit in state %s", ErrDriverState, d.state)
	}
	if u == nil {
		return errors.New("nil compilation unit")
	}
	if sink == nil && d.opts.FileKind != FileNull {
		return errors.New("no output sink")
	}
	if ctx == nil {
		ctx = context.Background()
	}
	d.state = StateRunning

	tracer := trace.FromContext(ctx)
	unitSpan := trace.Begin(tracer, trace.ScopeUnit, "unit:"+u.Name, trace.ParentSpan(ctx))
	ctx = trace.WithParentSpan(ctx, unitSpan.ID())
	d.emit(u.Name, "", StatusQueued, nil, 0)

	st := &State{Unit: u.Clone(), Profile: d.profile}
	stopped, err := d.runStages(ctx, st)
	if err == nil && !stopped {
		err = d.write(ctx, st, sink)
	}
	if err != nil {
		d.state = StateFailed
		unitSpan.WithExtra("error", err.Error()).End("failed")
		return err
	}
	d.state = StateCompleted
	unitSpan.End("ok")
	return nil
}

// runStages reports whether StopAfter ended the run.
func (d *Driver) runStages(ctx context.Context, st *State) (bool, error) {
	tracer := trace.FromContext(ctx)
	parent := trace.ParentSpan(ctx)
	begin := 0
	if d.opts.StartAfter != "" {
		begin = d.indexOf(d.opts.StartAfter) + 1
		for _, s := range d.stages[:begin] {
			trace.Point(tracer, trace.ScopeStage, "stage:"+string(s.Name()), "skipped", parent)
		}
	}
	for _, s := range d.stages[begin:] {
		name := s.Name()
		span := trace.Begin(tracer, trace.ScopeStage, "stage:"+string(name), parent)
		idx := d.timer.Begin(string(name))
		d.emit(st.Unit.Name, name, StatusWorking, nil, 0)

		err := d.runStage(trace.WithParentSpan(ctx, span.ID()), s, st)
		elapsed := d.timer.End(idx, "")
		if err != nil {
			d.emit(st.Unit.Name, name, StatusError, err, elapsed)
			span.WithExtra("error", err.Error()).End("failed")
			return false, err
		}
		d.emit(st.Unit.Name, name, StatusDone, nil, elapsed)
		span.End("")
		if name == d.opts.StopAfter {
			return true, nil
		}
	}
	return false, nil
}

func (d *Driver) runStage(ctx context.Context, s Stage, st *State) error {
	if err := s.Run(ctx, st); err != nil {
		return &StageError{Stage: s.Name(), Kind: ErrStageFailure, Err: err}
	}
	if !d.opts.Verify {
		return nil
	}
	if err := mc.Verify(st.Unit); err != nil {
		return &StageError{Stage: s.Name(), Kind: ErrVerification, Err: err}
	}
	if c, ok := s.(Checker); ok {
		if err := c.Check(st); err != nil {
			return &StageError{Stage: s.Name(), Kind: ErrVerification, Err: err}
		}
	}
	return nil
}

func (d *Driver) write(ctx context.Context, st *State, sink io.Writer) error {
	if d.opts.FileKind == FileNull {
		return nil
	}
	span := trace.Begin(trace.FromContext(ctx), trace.ScopeStage, "write:"+string(d.opts.FileKind), trace.ParentSpan(ctx))
	idx := d.timer.Begin("write")
	var buf bytes.Buffer
	var err error
	switch d.opts.FileKind {
	case FileAsm:
		err = asmwriter.Write(&buf, st.Unit, d.profile)
	case FileObj:
		err = objwriter.Write(&buf, st.Unit, d.profile)
	}
	if err == nil {
		_, err = sink.Write(buf.Bytes())
	}
	elapsed := d.timer.End(idx, "")
	if err != nil {
		span.End("failed")
		d.emit(st.Unit.Name, "", StatusError, err, elapsed)
		return fmt.Errorf("%w: %w", ErrOutput, err)
	}
	span.WithExtra("bytes", fmt.Sprint(buf.Len())).End("")
	d.emit(st.Unit.Name, "", StatusDone, nil, elapsed)
	return nil
}

func (d *Driver) emit(unit string, stage StageName, status Status, err error, elapsed time.Duration) {
	if d.progress == nil {
		return
	}
	d.progress.OnEvent(Event{Unit: unit, Stage: stage, Status: status, Err: err, Elapsed: elapsed})
}
