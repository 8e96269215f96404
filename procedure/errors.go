package procedure

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// Sentinels for errors.Is.
var (
	// ErrUnknownStep is wrapped by LookupError.
	ErrUnknownStep = errors.New("unknown step")

	// ErrStepExecution is wrapped by StepExecutionError.
	ErrStepExecution = errors.New("step execution failed")

	// ErrStepReported is wrapped by StepReportedFailure.
	ErrStepReported = errors.New("step reported failure")

	// ErrResume is wrapped by ResumeError.
	ErrResume = errors.New("cannot resume")
)

// EngineError reports invalid engine configuration. No context is created or
// persisted when Run returns one.
type EngineError struct {
	Message string
	Code    string
}

func (e *EngineError) Error() string {
	if e.Code != "" {
		return e.Code + ": " + e.Message
	}
	return e.Message
}

// LookupError is returned by a Registry for an unregistered step name.
type LookupError struct {
	Name string
}

func (e *LookupError) Error() string {
	return "unknown step " + strconv.Quote(e.Name)
}

func (e *LookupError) Unwrap() error { return ErrUnknownStep }

// StepExecutionError wraps an error returned by a step, a panic raised while
// it ran, or a failure to apply its result.
type StepExecutionError struct {
	Step     string
	Position int
	Stage    int
	Cause    error

	// Stack holds the goroutine stack when the step panicked.
	Stack string

	// Tracebacks are failures the step reported alongside its error.
	Tracebacks []string
}

func (e *StepExecutionError) Error() string {
	return fmt.Sprintf("step %s (position %d, stage %d): %v", e.Step, e.Position, e.Stage, e.Cause)
}

func (e *StepExecutionError) Unwrap() []error { return []error{ErrStepExecution, e.Cause} }

// Traceback renders the error with its stack, if one was captured, followed
// by any tracebacks the step reported.
func (e *StepExecutionError) Traceback() string {
	out := e.Error()
	if e.Stack != "" {
		out += "\n" + strings.TrimRight(e.Stack, "\n")
	}
	if len(e.Tracebacks) > 0 {
		out += "\nreported failure:\n" + strings.Join(e.Tracebacks, "\n")
	}
	return out
}

// StepReportedFailure is a step result that carried tracebacks without
// raising an error.
type StepReportedFailure struct {
	Step       string
	Position   int
	Stage      int
	Tracebacks []string
}

func (e *StepReportedFailure) Error() string {
	first := ""
	if len(e.Tracebacks) > 0 {
		first = firstLine(e.Tracebacks[0])
	}
	return fmt.Sprintf("step %s (position %d, stage %d) reported %d failure(s): %s",
		e.Step, e.Position, e.Stage, len(e.Tracebacks), first)
}

func (e *StepReportedFailure) Unwrap() error { return ErrStepReported }

// Traceback renders every reported traceback under a header line.
func (e *StepReportedFailure) Traceback() string {
	header := fmt.Sprintf("step %s (position %d, stage %d) reported failure:", e.Step, e.Position, e.Stage)
	return header + "\n" + strings.Join(e.Tracebacks, "\n")
}

// ResumeError is returned at startup when a resume was requested but no
// snapshot could be loaded.
type ResumeError struct {
	// Name is the requested snapshot, empty for "latest".
	Name string
	Err  error
}

func (e *ResumeError) Error() string {
	target := "latest context"
	if e.Name != "" {
		target = "context " + strconv.Quote(e.Name)
	}
	if e.Err == nil {
		return "cannot resume from " + target
	}
	return "cannot resume from " + target + ": " + e.Err.Error()
}

func (e *ResumeError) Unwrap() []error {
	if e.Err == nil {
		return []error{ErrResume}
	}
	return []error{ErrResume, e.Err}
}

// AggregateError is returned when a run fails. It carries every traceback
// observed during the run, in order, and every underlying error.
type AggregateError struct {
	Tracebacks []string
	Errs       []error
}

func (e *AggregateError) Error() string {
	var b strings.Builder
	fmt.Fprintf(&b, "procedure failed with %d traceback(s)", len(e.Tracebacks))
	for i, tb := range e.Tracebacks {
		fmt.Fprintf(&b, "\n\n[%d] %s", i+1, tb)
	}
	return b.String()
}

func (e *AggregateError) Unwrap() []error { return e.Errs }

// traceback returns the most detailed rendering available for err.
func traceback(err error) string {
	var tb interface{ Traceback() string }
	if errors.As(err, &tb) {
		return tb.Traceback()
	}
	return err.Error()
}

func firstLine(s string) string {
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		return s[:i]
	}
	return s
}
