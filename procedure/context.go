package procedure

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Status is the state of a run as recorded in its context.
type Status string

const (
	StatusReady   Status = "ready"
	StatusRunning Status = "running"
	StatusPaused  Status = "paused"
	StatusFailed  Status = "failed"
	StatusDone    Status = "done"
)

// Context is the accumulated, persisted state of a run.
//
// A Context is owned by exactly one Engine run. Steps never modify it; the
// engine folds each accepted Result into it and advances Stage by one.
type Context[S any] struct {
	// Name identifies the snapshot in the store.
	Name  string `json:"name"`
	RunID string `json:"run_id"`

	// Stage counts accepted steps.
	Stage int `json:"stage"`

	State  S             `json:"state"`
	Meta   Metadata      `json:"meta"`
	Stages []StageRecord `json:"stages,omitempty"`
	Status Status        `json:"status"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Metadata describes how the context was produced.
type Metadata struct {
	Procedure  string     `json:"procedure,omitempty"`
	Project    string     `json:"project,omitempty"`
	Breakpoint Breakpoint `json:"breakpoint"`
	LastStep   string     `json:"last_step,omitempty"`

	// Resumes counts how many times the context was loaded to continue.
	Resumes int `json:"resumes,omitempty"`

	// Tracebacks holds every failure traceback recorded against the context.
	Tracebacks []string `json:"tracebacks,omitempty"`
}

// StageRecord is the history entry for one accepted step.
type StageRecord struct {
	Stage      int       `json:"stage" yaml:"stage"`
	Step       string    `json:"step" yaml:"step"`
	Position   int       `json:"position" yaml:"position"`
	Args       []string  `json:"args,omitempty" yaml:"args,omitempty"`
	Logs       []string  `json:"logs,omitempty" yaml:"logs,omitempty"`
	StartedAt  time.Time `json:"started_at" yaml:"started_at"`
	DurationMS int64     `json:"duration_ms" yaml:"duration_ms"`
}

// StepNames returns the names of the accepted steps in order.
func (c *Context[S]) StepNames() []string {
	names := make([]string, len(c.Stages))
	for i, rec := range c.Stages {
		names[i] = rec.Step
	}
	return names
}

// newContextName returns a unique, sortable snapshot name.
func newContextName(now time.Time) string {
	return fmt.Sprintf("pipeline-%s-%s", now.UTC().Format("20060102T150405Z"), uuid.NewString()[:8])
}

func newContext[S any](initial S, now time.Time) *Context[S] {
	return &Context[S]{
		Name:      newContextName(now),
		RunID:     uuid.NewString(),
		State:     initial,
		Status:    StatusReady,
		CreatedAt: now.UTC(),
		UpdatedAt: now.UTC(),
	}
}
