package procedure

import (
	"context"

	"github.com/dshills/procedure-go/procedure/document"
)

// Step is one named unit of work in a procedure.
//
// A Step never touches the execution context. It receives a copy of the
// accumulated state in Call and describes its changes through Result.Update,
// which the engine applies with Result.Accept.
type Step[S any] interface {
	Invoke(ctx context.Context, call Call[S]) Result[S]
}

// StepFunc adapts a plain function to the Step interface.
//
//	hello := procedure.StepFunc[MyState](func(ctx context.Context, c procedure.Call[MyState]) procedure.Result[MyState] {
//	    return procedure.Result[MyState]{Logs: []string{"hello"}}
//	})
type StepFunc[S any] func(ctx context.Context, call Call[S]) Result[S]

// Invoke implements Step.
func (f StepFunc[S]) Invoke(ctx context.Context, call Call[S]) Result[S] {
	return f(ctx, call)
}

// Call is everything a step receives for one invocation.
type Call[S any] struct {
	// Name is the step name as written in the document.
	Name string

	// Args are the parsed arguments, after import overrides.
	Args document.Arguments

	// State is a deep copy of the accumulated state.
	State S

	// Position is the index of the step in the document.
	Position int

	// Stage is the number of steps accepted so far.
	Stage int

	RunID       string
	ContextName string
}

// Result is what a step returns.
type Result[S any] struct {
	// Tracebacks reports failures without raising an error. A non-empty list
	// fails the run exactly like Err does.
	Tracebacks []string

	// Logs are informational lines recorded in the stage history.
	Logs []string

	// Update computes the new state from the current one. Nil leaves the
	// state unchanged.
	Update func(S) (S, error)

	// Err reports that the step could not run.
	Err error
}

// Success reports whether the result carries no failure.
func (r Result[S]) Success() bool {
	return r.Err == nil && len(r.Tracebacks) == 0
}

// Accept folds the result into c. It is the only way step output reaches the
// context. The stage counter is advanced by the engine, not here.
func (r Result[S]) Accept(c *Context[S]) error {
	if r.Update == nil {
		return nil
	}
	next, err := r.Update(c.State)
	if err != nil {
		return err
	}
	c.State = next
	return nil
}

// Failed returns a result that reports tracebacks.
func Failed[S any](tracebacks ...string) Result[S] {
	return Result[S]{Tracebacks: tracebacks}
}
