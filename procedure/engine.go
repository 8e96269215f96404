// Package procedure executes processing procedures: ordered lists of named
// steps run one at a time against a persisted execution context.
//
// The Engine resolves each step through a Registry, folds each Result into the
// Context, and persists the Context at every terminal transition so an
// operator can always resume from the last accepted step. A named breakpoint
// can pause a run (ActionBreak) and a later run can continue after it
// (ActionResume).
package procedure

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"strings"
	"time"

	"github.com/dshills/procedure-go/procedure/document"
	"github.com/dshills/procedure-go/procedure/emit"
	"github.com/dshills/procedure-go/procedure/report"
	"github.com/dshills/procedure-go/procedure/store"
)

// Reason explains why a run stopped.
type Reason string

const (
	ReasonCompleted  Reason = "completed"
	ReasonBreakpoint Reason = "breakpoint"
	ReasonExitStage  Reason = "exit_stage"
	ReasonImportOnly Reason = "import_only"
	ReasonFailed     Reason = "failed"
	ReasonCancelled  Reason = "cancelled"
)

// Outcome is the result of a run.
type Outcome[S any] struct {
	// Status is StatusDone, StatusFailed, or StatusPaused after cancellation.
	Status Status
	Reason Reason

	// Context is the final context, as persisted.
	Context *Context[S]

	// Dispatched lists the steps handed to the registry, in order.
	Dispatched []string
}

// Engine runs procedures. An Engine may be reused for several runs, but runs
// must not overlap when they share a store.
//
// Example:
//
//	reg := procedure.NewMapRegistry[Project]()
//	reg.MustRegister("h_init", initStep)
//	st, _ := store.NewFileStore[procedure.Context[Project]]("./work")
//
//	engine, err := procedure.New(reg, st, procedure.Options{})
//	if err != nil {
//	    log.Fatal(err)
//	}
//	outcome, err := engine.Run(ctx, doc, Project{})
type Engine[S any] struct {
	registry Registry[S]
	store    store.Store[Context[S]]
	opts     Options

	emitter   emit.Emitter
	metrics   *PrometheusMetrics
	reporter  report.Reporter
	exporters []Exporter
	now       func() time.Time
}

// New creates an Engine. Options are checked here; the registry and store
// are checked when Run is called.
func New[S any](registry Registry[S], st store.Store[Context[S]], opts Options, options ...Option) (*Engine[S], error) {
	if err := opts.Validate(); err != nil {
		return nil, err
	}
	cfg := engineConfig{
		emitter: emit.NewNullEmitter(),
		now:     time.Now,
	}
	for _, o := range options {
		if err := o(&cfg); err != nil {
			return nil, err
		}
	}
	if cfg.emitter == nil {
		cfg.emitter = emit.NewNullEmitter()
	}
	return &Engine[S]{
		registry:  registry,
		store:     st,
		opts:      opts,
		emitter:   cfg.emitter,
		metrics:   cfg.metrics,
		reporter:  cfg.reporter,
		exporters: cfg.exporters,
		now:       cfg.now,
	}, nil
}

// Options returns the run configuration.
func (e *Engine[S]) Options() Options { return e.opts }

// Run executes doc.
//
// A fresh run starts from initial in a new context, after re-saving the
// store's current context under its own name. A resumed run ignores initial
// and continues the latest (or Options.ResumeName) context.
//
// Run returns an *EngineError for invalid configuration, a *ResumeError when
// there is nothing to resume, and an *AggregateError when a step fails. In
// the failure case the context has been persisted and the reporter has run
// before Run returns. Stopping at the breakpoint, the exit stage, or after
// the first import in ModeImportOnly is not an error.
func (e *Engine[S]) Run(ctx context.Context, doc *document.Document, initial S) (*Outcome[S], error) {
	if e.registry == nil {
		return nil, &EngineError{Message: "registry is required", Code: "MISSING_REGISTRY"}
	}
	if e.store == nil {
		return nil, &EngineError{Message: "store is required", Code: "MISSING_STORE"}
	}
	if doc == nil {
		return nil, &EngineError{Message: "procedure document is required", Code: "MISSING_DOCUMENT"}
	}
	if err := doc.Validate(); err != nil {
		return nil, err
	}

	bp := e.opts.Breakpoint
	if bp.Action == "" {
		bp.Action = ActionIgnore
	}
	if bp.Action != ActionIgnore && bp.Name == "" {
		bp.Name = document.BreakpointStep
	}
	if bp.Active() {
		switch n := doc.Count(bp.Name); {
		case n > 1:
			return nil, &EngineError{
				Message: fmt.Sprintf("breakpoint %q occurs %d times in the procedure", bp.Name, n),
				Code:    "DUPLICATE_BREAKPOINT",
			}
		case n == 0 && bp.Action == ActionResume:
			return nil, &EngineError{
				Message: fmt.Sprintf("breakpoint %q does not occur in the procedure", bp.Name),
				Code:    "BREAKPOINT_NOT_FOUND",
			}
		}
	}

	r := &run[S]{e: e, doc: doc, bp: bp, inputs: e.inputsFor(doc)}
	if err := r.start(ctx, initial); err != nil {
		return nil, err
	}
	return r.execute(ctx)
}

func (e *Engine[S]) inputsFor(doc *document.Document) document.Inputs {
	in := e.opts.Inputs
	if in.Empty() && len(doc.Datasets) > 0 {
		return doc.Inputs(e.opts.DataRoot)
	}
	if len(in.Sessions) == 0 && len(in.Files) > 0 {
		in.Sessions = make([]string, len(in.Files))
		for i := range in.Sessions {
			in.Sessions[i] = document.DefaultSession
		}
	}
	return in
}

// IsImportStep reports whether name is an import or restore step. Such
// steps get their vis and session arguments from the run's input manifest.
func IsImportStep(name string) bool {
	n := strings.ToLower(name)
	return n == "importdata" || n == "restoredata" ||
		strings.HasSuffix(n, "_importdata") || strings.HasSuffix(n, "_restoredata")
}

// run holds the state of one Run call.
type run[S any] struct {
	e      *Engine[S]
	doc    *document.Document
	bp     Breakpoint
	inputs document.Inputs
	c      *Context[S]

	resuming bool
	passed   bool

	tracebacks []string
	errs       []error
	dispatched []string
}

func (r *run[S]) start(ctx context.Context, initial S) error {
	e := r.e
	if r.bp.Action == ActionResume {
		var (
			loaded Context[S]
			name   = e.opts.ResumeName
			err    error
		)
		if name != "" {
			loaded, err = e.store.Load(ctx, name)
		} else {
			loaded, name, err = e.store.LoadLatest(ctx)
		}
		if err != nil {
			return &ResumeError{Name: e.opts.ResumeName, Err: err}
		}
		if loaded.Name == "" {
			loaded.Name = name
		}
		r.c = &loaded
		r.c.Meta.Resumes++
		r.c.Meta.Breakpoint = r.bp
		r.c.Status = StatusRunning
		r.resuming = true
		r.emit(emit.MsgRunResumed, "", map[string]interface{}{"context": r.c.Name, "breakpoint": r.bp.Name})
		return nil
	}

	var unreadable error
	prior, priorName, err := e.store.LoadLatest(ctx)
	switch {
	case err == nil:
		if err := e.store.Save(ctx, priorName, prior.Stage, prior); err != nil {
			return &EngineError{Message: "archive current context: " + err.Error(), Code: "STORE_ERROR"}
		}
	case errors.Is(err, store.ErrCorrupt):
		// Left in place under its own name; the new context becomes current.
		unreadable = err
	case !errors.Is(err, store.ErrNotFound):
		return &EngineError{Message: "read current context: " + err.Error(), Code: "STORE_ERROR"}
	}

	r.c = newContext(initial, e.now())
	r.c.Meta = Metadata{Procedure: r.doc.Title, Project: r.doc.Project, Breakpoint: r.bp}
	r.c.Status = StatusRunning
	if err := r.save(ctx); err != nil {
		return &EngineError{Message: "save new context: " + err.Error(), Code: "STORE_ERROR"}
	}
	if priorName != "" {
		r.emit(emit.MsgContextArchived, "", map[string]interface{}{"context": priorName})
	}
	if unreadable != nil {
		r.emit(emit.MsgContextUnreadable, "", map[string]interface{}{"error": unreadable.Error()})
	}
	r.emit(emit.MsgRunStarted, "", map[string]interface{}{"context": r.c.Name, "steps": len(r.doc.Steps)})
	return nil
}

func (r *run[S]) execute(ctx context.Context) (*Outcome[S], error) {
	opts := r.e.opts
	for pos, inv := range r.doc.Steps {
		if err := ctx.Err(); err != nil {
			return r.cancel(err)
		}

		if pos < opts.StartStage {
			if r.resuming && inv.Name == r.bp.Name {
				r.passed = true
			}
			r.skip(pos, inv.Name, "start_stage")
			continue
		}

		if r.resuming && !r.passed {
			if inv.Name == r.bp.Name {
				r.passed = true
				r.e.metrics.IncBreakpoint(ActionResume)
				r.emit(emit.MsgBreakpointPass, inv.Name, map[string]interface{}{"position": pos})
			}
			r.skip(pos, inv.Name, "resume")
			continue
		}

		if inv.Name == r.bp.Name && r.bp.Action == ActionBreak {
			return r.pause(ctx, pos)
		}

		if inv.IsBreakpoint() {
			continue
		}

		if r.exitReached() {
			return r.finish(ctx, ReasonExitStage)
		}

		step, err := r.e.registry.Resolve(inv.Name)
		if err != nil {
			return r.fail(ctx, inv.Name, err)
		}

		args := inv.Args
		if IsImportStep(inv.Name) && !r.inputs.Empty() {
			args = args.
				With("vis", document.Strings(r.inputs.Files)).
				With("session", document.Strings(r.inputs.Sessions))
		}

		if err := r.dispatch(ctx, pos, inv.Name, step, args); err != nil {
			return r.fail(ctx, inv.Name, err)
		}

		if opts.Mode == ModeImportOnly && IsImportStep(inv.Name) {
			r.emit(emit.MsgImportOnlyStop, inv.Name, nil)
			return r.finish(ctx, ReasonImportOnly)
		}
		if r.exitReached() {
			return r.finish(ctx, ReasonExitStage)
		}
	}
	return r.finish(ctx, ReasonCompleted)
}

func (r *run[S]) exitReached() bool {
	exit := r.e.opts.ExitStage
	if exit > 0 && r.c.Stage >= exit {
		r.emit(emit.MsgExitStage, "", map[string]interface{}{"exit_stage": exit})
		return true
	}
	return false
}

func (r *run[S]) dispatch(ctx context.Context, pos int, name string, step Step[S], args document.Arguments) error {
	state, err := deepCopy(r.c.State)
	if err != nil {
		return &StepExecutionError{Step: name, Position: pos, Stage: r.c.Stage, Cause: err}
	}
	call := Call[S]{
		Name:        name,
		Args:        args.Clone(),
		State:       state,
		Position:    pos,
		Stage:       r.c.Stage,
		RunID:       r.c.RunID,
		ContextName: r.c.Name,
	}

	r.dispatched = append(r.dispatched, name)
	r.emit(emit.MsgStepStarted, name, map[string]interface{}{"position": pos, "args": args.Literals()})

	startedAt := r.e.now()
	begin := time.Now()
	res, err := invoke(ctx, step, call)
	elapsed := time.Since(begin)
	if err != nil {
		r.e.metrics.RecordStep(name, stepStatus(err), elapsed)
		return err
	}
	if err := res.Accept(r.c); err != nil {
		r.e.metrics.RecordStep(name, "error", elapsed)
		return &StepExecutionError{Step: name, Position: pos, Stage: r.c.Stage, Cause: fmt.Errorf("accept result: %w", err)}
	}

	r.c.Stage++
	r.c.Stages = append(r.c.Stages, StageRecord{
		Stage:      r.c.Stage,
		Step:       name,
		Position:   pos,
		Args:       args.Literals(),
		Logs:       res.Logs,
		StartedAt:  startedAt.UTC(),
		DurationMS: elapsed.Milliseconds(),
	})
	r.c.Meta.LastStep = name
	r.e.metrics.RecordStep(name, "success", elapsed)
	r.e.metrics.SetStage(r.c.Stage)

	if r.e.opts.CheckpointEachStep {
		if err := r.save(ctx); err != nil {
			return fmt.Errorf("checkpoint after step %s: %w", name, err)
		}
	}
	r.emit(emit.MsgStepCompleted, name, map[string]interface{}{
		"position":    pos,
		"duration_ms": elapsed.Milliseconds(),
	})
	return nil
}

// invoke runs step, turning a panic, a returned error, or reported
// tracebacks into an error.
func invoke[S any](ctx context.Context, step Step[S], call Call[S]) (res Result[S], err error) {
	defer func() {
		if p := recover(); p != nil {
			err = &StepExecutionError{
				Step:     call.Name,
				Position: call.Position,
				Stage:    call.Stage,
				Cause:    fmt.Errorf("panic: %v", p),
				Stack:    string(debug.Stack()),
			}
		}
	}()

	res = step.Invoke(ctx, call)
	if res.Err != nil {
		return res, &StepExecutionError{
			Step:       call.Name,
			Position:   call.Position,
			Stage:      call.Stage,
			Cause:      res.Err,
			Tracebacks: append([]string(nil), res.Tracebacks...),
		}
	}
	if len(res.Tracebacks) > 0 {
		return res, &StepReportedFailure{
			Step:       call.Name,
			Position:   call.Position,
			Stage:      call.Stage,
			Tracebacks: append([]string(nil), res.Tracebacks...),
		}
	}
	return res, nil
}

func stepStatus(err error) string {
	if errors.Is(err, ErrStepReported) {
		return "reported"
	}
	return "error"
}

func failureKind(err error) string {
	switch {
	case errors.Is(err, ErrUnknownStep):
		return "lookup"
	case errors.Is(err, ErrStepReported):
		return "reported"
	case errors.Is(err, ErrStepExecution):
		return "execution"
	}
	return "internal"
}

func (r *run[S]) skip(pos int, name, reason string) {
	r.emit(emit.MsgStepSkipped, name, map[string]interface{}{"position": pos, "reason": reason})
}

func (r *run[S]) pause(ctx context.Context, pos int) (*Outcome[S], error) {
	r.c.Status = StatusPaused
	r.e.metrics.IncBreakpoint(ActionBreak)
	r.emit(emit.MsgBreakpointHit, r.bp.Name, map[string]interface{}{"position": pos})
	if err := r.save(ctx); err != nil {
		return r.fail(ctx, "", fmt.Errorf("save context at breakpoint: %w", err))
	}
	return r.outcome(StatusDone, ReasonBreakpoint), nil
}

func (r *run[S]) finish(ctx context.Context, reason Reason) (*Outcome[S], error) {
	r.c.Status = StatusDone
	if err := r.save(ctx); err != nil {
		return r.fail(ctx, "", fmt.Errorf("save final context: %w", err))
	}
	r.emit(emit.MsgRunCompleted, "", map[string]interface{}{"reason": string(reason)})
	return r.outcome(StatusDone, reason), nil
}

func (r *run[S]) cancel(cause error) (*Outcome[S], error) {
	r.c.Status = StatusPaused
	err := cause
	if saveErr := r.save(context.Background()); saveErr != nil {
		err = errors.Join(cause, fmt.Errorf("save context: %w", saveErr))
	}
	r.emit(emit.MsgRunCancelled, "", map[string]interface{}{"error": cause.Error()})
	return r.outcome(StatusPaused, ReasonCancelled), err
}

// fail persists the context, reports the failure and returns every
// traceback seen in the run as one AggregateError.
func (r *run[S]) fail(ctx context.Context, stepName string, cause error) (*Outcome[S], error) {
	e := r.e
	r.record(cause)
	r.c.Status = StatusFailed
	e.metrics.IncFailure(failureKind(cause))
	r.emit(emit.MsgStepFailed, stepName, map[string]interface{}{"error": cause.Error()})

	// Persistence and reporting must happen even when ctx is cancelled.
	finalCtx := context.WithoutCancel(ctx)
	if err := r.save(finalCtx); err != nil {
		r.record(fmt.Errorf("save failed context: %w", err))
	}

	if e.reporter != nil {
		f := report.Failure{
			RunID:       r.c.RunID,
			ContextName: r.c.Name,
			Procedure:   r.c.Meta.Procedure,
			Stage:       r.c.Stage,
			Step:        stepName,
			Time:        e.now(),
		}
		if artifacts, err := snapshotArtifacts(r.c); err != nil {
			r.record(fmt.Errorf("export context: %w", err))
		} else {
			f.Artifacts = artifacts
		}
		for _, x := range e.exporters {
			f.Tracebacks = append([]string(nil), r.tracebacks...)
			artifacts, err := x(finalCtx, f)
			if err != nil {
				r.record(fmt.Errorf("export products: %w", err))
			}
			f.Artifacts = append(f.Artifacts, artifacts...)
		}
		f.Tracebacks = append([]string(nil), r.tracebacks...)
		if err := e.reporter.Report(finalCtx, f); err != nil {
			r.record(fmt.Errorf("report failure: %w", err))
		} else {
			r.emit(emit.MsgReportWritten, stepName, nil)
		}
	}

	r.emit(emit.MsgRunFailed, stepName, map[string]interface{}{
		"error":      cause.Error(),
		"tracebacks": len(r.tracebacks),
	})
	return r.outcome(StatusFailed, ReasonFailed), &AggregateError{
		Tracebacks: append([]string(nil), r.tracebacks...),
		Errs:       append([]error(nil), r.errs...),
	}
}

func (r *run[S]) record(err error) {
	tb := traceback(err)
	r.tracebacks = append(r.tracebacks, tb)
	r.errs = append(r.errs, err)
	r.c.Meta.Tracebacks = append(r.c.Meta.Tracebacks, tb)
}

func (r *run[S]) save(ctx context.Context) error {
	r.c.UpdatedAt = r.e.now().UTC()
	if err := r.e.store.Save(ctx, r.c.Name, r.c.Stage, *r.c); err != nil {
		return err
	}
	r.emit(emit.MsgContextSaved, "", map[string]interface{}{"context": r.c.Name, "status": string(r.c.Status)})
	return nil
}

func (r *run[S]) outcome(status Status, reason Reason) *Outcome[S] {
	return &Outcome[S]{
		Status:     status,
		Reason:     reason,
		Context:    r.c,
		Dispatched: append([]string(nil), r.dispatched...),
	}
}

func (r *run[S]) emit(msg, step string, meta map[string]interface{}) {
	r.e.emitter.Emit(emit.Event{
		RunID: r.c.RunID,
		Stage: r.c.Stage,
		Step:  step,
		Msg:   msg,
		Meta:  meta,
	})
}
