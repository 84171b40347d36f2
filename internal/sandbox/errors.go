package sandbox

import (
	"errors"
	"fmt"
	"time"
)

var (
	// ErrBusy is matched by every BusyFault.
	ErrBusy = errors.New("executor busy")
	// ErrTimeout is matched by every TimeoutFault.
	ErrTimeout = errors.New("execution timed out")
	// ErrInterrupted is returned by capabilities once an execution has been interrupted.
	ErrInterrupted = errors.New("execution interrupted")
	// ErrCancelled trips the token when the caller abandons an execution.
	ErrCancelled = errors.New("execution cancelled")
)

// Kind classifies a failed execution.
type Kind string

const (
	KindNone    Kind = ""
	KindCompile Kind = "compile"
	KindRuntime Kind = "runtime"
	KindTimeout Kind = "timeout"
	KindBusy    Kind = "busy"
)

// CompileError reports a script rejected before execution. Line and Col are
// 1-based and zero when unknown.
type CompileError struct {
	Reason string
	Line   int
	Col    int
}

func (e *CompileError) Error() string {
	if e.Line > 0 {
		return fmt.Sprintf("compile error at line %d, column %d: %s", e.Line, e.Col, e.Reason)
	}
	return "compile error: " + e.Reason
}

// RuntimeFault reports a script that raised while running.
type RuntimeFault struct {
	Message   string
	Line      int
	Backtrace string
	cause     error
}

func (e *RuntimeFault) Error() string {
	if e.Line > 0 {
		return fmt.Sprintf("runtime error at line %d: %s", e.Line, e.Message)
	}
	return "runtime error: " + e.Message
}

func (e *RuntimeFault) Unwrap() error { return e.cause }

// TimeoutFault reports a script that did not finish within its timeout.
type TimeoutFault struct {
	Timeout time.Duration
}

func (e *TimeoutFault) Error() string {
	return fmt.Sprintf("execution timed out after %s", e.Timeout)
}

func (e *TimeoutFault) Is(target error) bool { return target == ErrTimeout }

// BusyFault reports a start request refused because another execution owns the engine.
type BusyFault struct {
	Reason string
}

func (e *BusyFault) Error() string {
	if e.Reason == "" {
		return ErrBusy.Error()
	}
	return ErrBusy.Error() + ": " + e.Reason
}

func (e *BusyFault) Is(target error) bool { return target == ErrBusy }

// KindOf maps an execution error onto its Kind.
func KindOf(err error) Kind {
	var (
		ce *CompileError
		rf *RuntimeFault
		tf *TimeoutFault
		bf *BusyFault
	)
	switch {
	case err == nil:
		return KindNone
	case errors.As(err, &ce):
		return KindCompile
	case errors.As(err, &tf):
		return KindTimeout
	case errors.As(err, &bf):
		return KindBusy
	case errors.As(err, &rf):
		return KindRuntime
	default:
		return KindRuntime
	}
}
