package codegen

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// FileKind selects what the driver writes after the last stage.
type FileKind string

const (
	// FileAsm writes textual assembly.
	FileAsm FileKind = "asm"
	// FileObj writes a relocatable object.
	FileObj FileKind = "obj"
	// FileNull runs every stage and writes nothing.
	FileNull FileKind = "null"
)

// ParseFileKind converts a flag value to a FileKind.
func ParseFileKind(s string) (FileKind, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "asm", "s", "":
		return FileAsm, nil
	case "obj", "o":
		return FileObj, nil
	case "null":
		return FileNull, nil
	default:
		return "", fmt.Errorf("invalid file type: %q (expected: asm|obj|null)", s)
	}
}

// Extension returns the conventional output file extension.
func (k FileKind) Extension() string {
	switch k {
	case FileAsm:
		return ".s"
	case FileObj:
		return ".o"
	default:
		return ""
	}
}

// StageName identifies a pipeline stage.
type StageName string

const (
	StageLegalize StageName = "legalize"
	StageMangle   StageName = "mangle"
	StageLayout   StageName = "layout"
	StageUnwind   StageName = "unwind"
)

// Status captures progress state within a stage.
type Status string

const (
	// StatusQueued indicates the unit is waiting to start.
	StatusQueued Status = "queued"
	// StatusWorking indicates the stage is running.
	StatusWorking Status = "working"
	// StatusDone indicates the stage finished.
	StatusDone Status = "done"
	// StatusError indicates the stage failed.
	StatusError Status = "error"
)

// Event reports progress for a unit.
type Event struct {
	Unit    string
	Stage   StageName
	Status  Status
	Err     error
	Elapsed time.Duration
}

// ProgressSink consumes progress events.
type ProgressSink interface {
	OnEvent(Event)
}

// ChannelSink forwards events into a channel.
type ChannelSink struct {
	Ch chan<- Event
}

func (s ChannelSink) OnEvent(evt Event) {
	if s.Ch == nil {
		return
	}
	s.Ch <- evt
}

// Options binds a driver to one emission request.
type Options struct {
	FileKind FileKind
	// Verify runs the structural check after every stage.
	Verify bool
	// StartAfter skips stages up to and including the named one.
	StartAfter StageName
	// StopAfter halts after the named stage without writing output.
	StopAfter StageName
}

var (
	// ErrStageFailure reports a stage that could not produce valid output.
	ErrStageFailure = errors.New("stage failed")
	// ErrVerification reports a failed structural check after a stage.
	ErrVerification = errors.New("verification failed")
	// ErrUnknownStage reports a start/stop name not in the sequence.
	ErrUnknownStage = errors.New("unknown stage")
	// ErrDriverState reports an operation invalid in the driver's current state.
	ErrDriverState = errors.New("invalid driver state")
	// ErrOutput reports a failure of the output writer.
	ErrOutput = errors.New("output writer failed")
)

// StageError carries the failing stage's name. It matches ErrStageFailure or
// ErrVerification with errors.Is, and unwraps to the cause.
type StageError struct {
	Stage StageName
	Kind  error
	Err   error
}

func (e *StageError) Error() string {
	return fmt.Sprintf("%v in stage %s: %v", e.Kind, e.Stage, e.Err)
}

func (e *StageError) Unwrap() []error { return []error{e.Kind, e.Err} }
