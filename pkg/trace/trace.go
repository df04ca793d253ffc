// Package trace is penpal's logging facility: a context-carried Log that
// every pipeline stage and leaf package tags with its own component name,
// so a verbose run reads as a trace of the Idle -> Preflight -> Staged ->
// Streaming -> Emitted -> Released state machine rather than an
// undifferentiated stream of messages.
package trace

import (
	"context"
	"fmt"
	"log"
	"os"
)

// Verbosity controls how much a Log prints.
type Verbosity int

const (
	// VerbosityNormal prints only user-facing progress and errors.
	VerbosityNormal Verbosity = iota
	// VerbosityVerbose additionally prints per-component debug detail
	// (block selection, staging paths, archive members).
	VerbosityVerbose
	// VerbosityTrace prints everything VerbosityVerbose does plus
	// fine-grained Tracef calls not needed for routine debugging.
	VerbosityTrace
)

// Stage names a point in the encrypt/decrypt pipeline's state machine.
// Encrypter and Decrypter tag their log lines with the stage they are
// in via WithStage, so a verbose run shows which stage failed without
// the caller having to infer it from the error alone.
type Stage int

const (
	StageIdle Stage = iota
	StagePreflight
	StageStaged
	StageStreaming
	StageEmitted
	StageReleased
	StageFailed
)

func (s Stage) String() string {
	switch s {
	case StageIdle:
		return "IDLE"
	case StagePreflight:
		return "PREFLIGHT"
	case StageStaged:
		return "STAGED"
	case StageStreaming:
		return "STREAMING"
	case StageEmitted:
		return "EMITTED"
	case StageReleased:
		return "RELEASED"
	case StageFailed:
		return "FAILED"
	default:
		return "UNKNOWN"
	}
}

type logKeyType string

const logKey logKeyType = "penpal-log"

// Log is a context-carried, prefixed logger. A component obtains one via
// FromContext and narrows it with WithPrefix or WithStage before emitting
// lines, so every message in a verbose run is traceable to the component
// and pipeline stage that produced it.
type Log struct {
	prefix  string
	level   Verbosity
	verbose bool
}

// NewLog creates a Log tagged with prefix at the given verbosity.
func NewLog(prefix string, level Verbosity) *Log {
	return &Log{
		prefix:  prefix,
		level:   level,
		verbose: level >= VerbosityVerbose,
	}
}

// NewFromVerboseFlag builds the root Log for a CLI invocation directly
// from the --verbose flag's boolean value, so cmd/penpal never has to
// know about the Verbosity enum.
func NewFromVerboseFlag(prefix string, verbose bool) *Log {
	level := VerbosityNormal
	if verbose {
		level = VerbosityVerbose
	}
	return NewLog(prefix, level)
}

// Tracef logs a message at VerbosityTrace, the most detailed level.
func (t *Log) Tracef(format string, args ...interface{}) {
	if t.level < VerbosityTrace {
		return
	}
	msg := fmt.Sprintf(format, args...)
	log.Printf("%s TRACE: %s", t.prefix, msg)
}

// WithContext attaches log to ctx.
func WithContext(ctx context.Context, log *Log) context.Context {
	return context.WithValue(ctx, logKey, log)
}

// FromContext extracts the Log carried by ctx, or a silent default Log if
// none was attached. The CLI commands attach one via WithContext before
// calling into the library; library functions such as Encrypter.Encrypt,
// Decrypter.Decrypt and CreatePad only read it back with FromContext.
func FromContext(ctx context.Context) *Log {
	if l, ok := ctx.Value(logKey).(*Log); ok {
		return l
	}
	return NewLog("", VerbosityNormal)
}

// SetVerbose updates the verbosity in place.
func (t *Log) SetVerbose(verbose bool) {
	t.verbose = verbose
	if verbose {
		t.level = VerbosityVerbose
	} else {
		t.level = VerbosityNormal
	}
}

// IsVerbose reports whether this Log prints debug-level detail.
func (t *Log) IsVerbose() bool {
	return t.verbose
}

// Infof logs a formatted message at normal level.
func (t *Log) Infof(format string, args ...interface{}) {
	msg := fmt.Sprintf(format, args...)
	if t.prefix != "" {
		log.Printf("%s: %s", t.prefix, msg)
	} else {
		log.Print(msg)
	}
}

// Debugf logs a formatted message only when verbosity is enabled.
func (t *Log) Debugf(format string, args ...interface{}) {
	if !t.verbose {
		return
	}
	msg := fmt.Sprintf(format, args...)
	log.Printf("%s: %s", t.prefix, msg)
}

// Error logs an error.
func (t *Log) Error(err error) {
	if t.prefix != "" {
		log.Printf("%s ERROR: %v", t.prefix, err)
	} else {
		log.Printf("ERROR: %v", err)
	}
}

// Fatal logs an error and terminates the process with exit status 1. No
// package in this module calls it; the CLI reports errors through
// errs.ExitCode instead.
func (t *Log) Fatal(err error) {
	if t.prefix != "" {
		log.Fatalf("%s FATAL: %v", t.prefix, err)
	} else {
		log.Fatalf("FATAL: %v", err)
	}
	os.Exit(1)
}

// WithPrefix returns a copy of this Log tagged with an arbitrary
// component name (e.g. "PAD", "ARCHIVE").
func (t *Log) WithPrefix(prefix string) *Log {
	return &Log{
		prefix:  prefix,
		level:   t.level,
		verbose: t.verbose,
	}
}

// WithStage returns a copy of this Log tagged with a pipeline stage name,
// for use at the points in Encrypter/Decrypter where the state machine
// actually transitions.
func (t *Log) WithStage(stage Stage) *Log {
	return t.WithPrefix(stage.String())
}
