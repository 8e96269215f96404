package procedure

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/dshills/procedure-go/procedure/document"
	"github.com/dshills/procedure-go/procedure/emit"
	"github.com/dshills/procedure-go/procedure/report"
)

// Mode selects how much of a procedure runs.
type Mode string

const (
	// ModeFull runs every step.
	ModeFull Mode = "full"

	// ModeImportOnly stops once the first import or restore step has been
	// accepted.
	ModeImportOnly Mode = "import-only"
)

// ParseMode converts a flag value to a Mode. The empty string means ModeFull.
func ParseMode(s string) (Mode, error) {
	switch Mode(strings.ToLower(strings.TrimSpace(s))) {
	case "", ModeFull:
		return ModeFull, nil
	case ModeImportOnly, "importonly", "import_only":
		return ModeImportOnly, nil
	}
	return "", fmt.Errorf("invalid mode %q (valid: full, import-only)", s)
}

// Options configures one run.
//
// Zero values are valid: no breakpoint, no stage limits, full mode.
type Options struct {
	Breakpoint Breakpoint

	// StartStage skips the first StartStage document positions.
	StartStage int

	// ExitStage stops the run once the stage counter reaches it. Zero means
	// no limit.
	ExitStage int

	// Inputs overrides the vis and session arguments of import and restore
	// steps. When empty, the document's own dataset manifest is used,
	// resolved below DataRoot.
	Inputs   document.Inputs
	DataRoot string

	Mode Mode

	// CheckpointEachStep saves the context after every accepted step as well
	// as at terminal transitions.
	CheckpointEachStep bool

	// ResumeName resumes a specific snapshot instead of the latest one.
	ResumeName string
}

// Validate checks option values that do not depend on the document.
func (o Options) Validate() error {
	if o.StartStage < 0 {
		return &EngineError{Message: "start stage cannot be negative", Code: "INVALID_OPTIONS"}
	}
	if o.ExitStage < 0 {
		return &EngineError{Message: "exit stage cannot be negative", Code: "INVALID_OPTIONS"}
	}
	if _, err := ParseAction(string(o.Breakpoint.Action)); err != nil {
		return &EngineError{Message: err.Error(), Code: "INVALID_OPTIONS"}
	}
	if _, err := ParseMode(string(o.Mode)); err != nil {
		return &EngineError{Message: err.Error(), Code: "INVALID_OPTIONS"}
	}
	if o.ResumeName != "" && o.Breakpoint.Action != ActionResume {
		return &EngineError{Message: "resume name requires the resume action", Code: "INVALID_OPTIONS"}
	}
	if len(o.Inputs.Sessions) > 0 && len(o.Inputs.Sessions) != len(o.Inputs.Files) {
		return &EngineError{Message: "inputs: sessions and files differ in length", Code: "INVALID_OPTIONS"}
	}
	return nil
}

// Option configures an Engine's collaborators.
//
//	engine, err := procedure.New(registry, st, opts,
//	    procedure.WithEmitter(emit.NewSlogEmitter(logger)),
//	    procedure.WithReporter(report.NewFileReporter(workDir, productsDir)),
//	)
type Option func(*engineConfig) error

type engineConfig struct {
	emitter   emit.Emitter
	metrics   *PrometheusMetrics
	reporter  report.Reporter
	exporters []Exporter
	now       func() time.Time
}

// WithEmitter sets the event sink. The default discards events.
func WithEmitter(e emit.Emitter) Option {
	return func(cfg *engineConfig) error {
		cfg.emitter = e
		return nil
	}
}

// WithMetrics enables Prometheus metrics.
func WithMetrics(m *PrometheusMetrics) Option {
	return func(cfg *engineConfig) error {
		cfg.metrics = m
		return nil
	}
}

// WithReporter sets the failure reporter. Without one no error marker is
// written.
func WithReporter(r report.Reporter) Option {
	return func(cfg *engineConfig) error {
		cfg.reporter = r
		return nil
	}
}

// Exporter contributes extra artifacts to the export of a failed run. It
// sees the failure as it will be reported, including the artifacts gathered
// so far.
type Exporter func(ctx context.Context, f report.Failure) ([]report.Artifact, error)

// WithExporter adds an exporter. Exporters run in the order they were added,
// after the built-in snapshot export.
func WithExporter(x Exporter) Option {
	return func(cfg *engineConfig) error {
		if x == nil {
			return &EngineError{Message: "exporter cannot be nil", Code: "INVALID_OPTIONS"}
		}
		cfg.exporters = append(cfg.exporters, x)
		return nil
	}
}

// WithClock replaces time.Now, for tests.
func WithClock(now func() time.Time) Option {
	return func(cfg *engineConfig) error {
		if now == nil {
			return &EngineError{Message: "clock cannot be nil", Code: "INVALID_OPTIONS"}
		}
		cfg.now = now
		return nil
	}
}
