package trace

import (
	"bytes"
	"context"
	"errors"
	"log"
	"os"
	"strings"
	"testing"
)

func TestNewLog(t *testing.T) {
	l := NewLog("TEST", VerbosityNormal)
	if l.prefix != "TEST" {
		t.Errorf("Expected prefix 'TEST', got '%s'", l.prefix)
	}
	if l.level != VerbosityNormal {
		t.Errorf("Expected level VerbosityNormal, got %v", l.level)
	}
	if l.verbose {
		t.Errorf("Expected verbose=false, got true")
	}

	l = NewLog("DEBUG", VerbosityVerbose)
	if l.prefix != "DEBUG" {
		t.Errorf("Expected prefix 'DEBUG', got '%s'", l.prefix)
	}
	if l.level != VerbosityVerbose {
		t.Errorf("Expected level VerbosityVerbose, got %v", l.level)
	}
	if !l.verbose {
		t.Errorf("Expected verbose=true, got false")
	}
}

func TestNewFromVerboseFlag(t *testing.T) {
	quiet := NewFromVerboseFlag("CLI", false)
	if quiet.IsVerbose() {
		t.Errorf("expected non-verbose Log from verbose=false")
	}

	loud := NewFromVerboseFlag("CLI", true)
	if !loud.IsVerbose() {
		t.Errorf("expected verbose Log from verbose=true")
	}
	if loud.level != VerbosityVerbose {
		t.Errorf("expected level VerbosityVerbose, got %v", loud.level)
	}
}

func TestWithContext(t *testing.T) {
	ctx := context.Background()
	l := NewLog("TEST", VerbosityNormal)

	tracedCtx := WithContext(ctx, l)

	extracted := tracedCtx.Value(logKey).(*Log)
	if extracted != l {
		t.Errorf("Expected to extract the same Log that was put in context")
	}
}

func TestFromContext(t *testing.T) {
	ctx := context.Background()
	l := NewLog("TEST", VerbosityNormal)
	tracedCtx := WithContext(ctx, l)

	extracted := FromContext(tracedCtx)
	if extracted != l {
		t.Errorf("Expected FromContext to return the Log we put in")
	}

	emptyCtx := context.Background()
	defaultLog := FromContext(emptyCtx)

	if defaultLog == nil {
		t.Errorf("Expected a default Log, got nil")
	} else {
		if defaultLog.prefix != "" {
			t.Errorf("Expected empty prefix for default Log, got '%s'", defaultLog.prefix)
		}
		if defaultLog.level != VerbosityNormal {
			t.Errorf("Expected level VerbosityNormal for default Log, got %v", defaultLog.level)
		}
	}
}

func TestSetVerbose(t *testing.T) {
	l := NewLog("TEST", VerbosityNormal)
	if l.verbose {
		t.Errorf("Expected initial verbose=false, got true")
	}

	l.SetVerbose(true)
	if !l.verbose {
		t.Errorf("Expected verbose=true after SetVerbose(true), got false")
	}
	if l.level != VerbosityVerbose {
		t.Errorf("Expected level VerbosityVerbose after SetVerbose(true), got %v", l.level)
	}

	l.SetVerbose(false)
	if l.verbose {
		t.Errorf("Expected verbose=false after SetVerbose(false), got true")
	}
	if l.level != VerbosityNormal {
		t.Errorf("Expected level VerbosityNormal after SetVerbose(false), got %v", l.level)
	}
}

func TestIsVerbose(t *testing.T) {
	l := NewLog("TEST", VerbosityNormal)
	if l.IsVerbose() {
		t.Errorf("Expected IsVerbose()=false for normal Log, got true")
	}

	l = NewLog("TEST", VerbosityVerbose)
	if !l.IsVerbose() {
		t.Errorf("Expected IsVerbose()=true for verbose Log, got false")
	}
}

func TestInfof(t *testing.T) {
	var buf bytes.Buffer
	log.SetOutput(&buf)
	defer log.SetOutput(os.Stderr)

	l := NewLog("TEST", VerbosityNormal)
	l.Infof("Test message %d", 123)

	output := buf.String()
	if !strings.Contains(output, "TEST: Test message 123") {
		t.Errorf("Expected log output to contain 'TEST: Test message 123', got '%s'", output)
	}

	buf.Reset()
	l = NewLog("", VerbosityNormal)
	l.Infof("Plain message %d", 456)

	output = buf.String()
	if !strings.Contains(output, "Plain message 456") {
		t.Errorf("Expected log output to contain 'Plain message 456', got '%s'", output)
	}
	if strings.Contains(output, ": Plain message") {
		t.Errorf("Expected no prefix in log output, got '%s'", output)
	}
}

func TestDebugf(t *testing.T) {
	var buf bytes.Buffer
	log.SetOutput(&buf)
	defer log.SetOutput(os.Stderr)

	l := NewLog("TEST", VerbosityNormal)
	l.Debugf("Debug message %d", 123)

	output := buf.String()
	if output != "" {
		t.Errorf("Expected no debug output with normal verbosity, got '%s'", output)
	}

	buf.Reset()
	l = NewLog("TEST", VerbosityVerbose)
	l.Debugf("Debug message %d", 456)

	output = buf.String()
	if !strings.Contains(output, "TEST: Debug message 456") {
		t.Errorf("Expected log output to contain 'TEST: Debug message 456', got '%s'", output)
	}
}

func TestError(t *testing.T) {
	var buf bytes.Buffer
	log.SetOutput(&buf)
	defer log.SetOutput(os.Stderr)

	l := NewLog("TEST", VerbosityNormal)
	err := errors.New("test error")
	l.Error(err)

	output := buf.String()
	if !strings.Contains(output, "TEST ERROR: test error") {
		t.Errorf("Expected log output to contain 'TEST ERROR: test error', got '%s'", output)
	}

	buf.Reset()
	l = NewLog("", VerbosityNormal)
	l.Error(err)

	output = buf.String()
	if !strings.Contains(output, "ERROR: test error") {
		t.Errorf("Expected log output to contain 'ERROR: test error', got '%s'", output)
	}
}

func TestWithPrefix(t *testing.T) {
	original := NewLog("ORIG", VerbosityVerbose)

	child := original.WithPrefix("CHILD")

	if child.prefix != "CHILD" {
		t.Errorf("Expected prefix 'CHILD', got '%s'", child.prefix)
	}
	if child.level != VerbosityVerbose {
		t.Errorf("Expected child to inherit VerbosityVerbose, got %v", child.level)
	}
	if !child.verbose {
		t.Errorf("Expected child to inherit verbose=true, got false")
	}

	if original.prefix != "ORIG" {
		t.Errorf("Expected original prefix to remain 'ORIG', got '%s'", original.prefix)
	}
}

func TestWithStage(t *testing.T) {
	base := NewLog("ENCRYPT", VerbosityVerbose)

	staged := base.WithStage(StageStreaming)
	if staged.prefix != "STREAMING" {
		t.Errorf("Expected prefix 'STREAMING', got '%s'", staged.prefix)
	}

	for stage, want := range map[Stage]string{
		StageIdle:      "IDLE",
		StagePreflight: "PREFLIGHT",
		StageStaged:    "STAGED",
		StageStreaming: "STREAMING",
		StageEmitted:   "EMITTED",
		StageReleased:  "RELEASED",
		StageFailed:    "FAILED",
	} {
		if got := stage.String(); got != want {
			t.Errorf("Stage(%d).String() = %q, want %q", stage, got, want)
		}
	}
}
