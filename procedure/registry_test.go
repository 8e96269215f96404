package procedure

import (
	"context"
	"errors"
	"strings"
	"testing"
)

func noopStep() Step[testState] {
	return StepFunc[testState](func(context.Context, Call[testState]) Result[testState] {
		return Result[testState]{}
	})
}

func TestMapRegistry_Register(t *testing.T) {
	tests := []struct {
		name     string
		stepName string
		step     Step[testState]
		wantCode string
	}{
		{"empty name", "  ", noopStep(), "INVALID_STEP"},
		{"nil step", "h_init", nil, "INVALID_STEP"},
		{"reserved marker", "breakpoint", noopStep(), "RESERVED_STEP"},
		{"duplicate", "h_dup", noopStep(), "DUPLICATE_STEP"},
	}

	reg := NewMapRegistry[testState]()
	if err := reg.Register("h_dup", noopStep()); err != nil {
		t.Fatalf("Register: %v", err)
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := reg.Register(tt.stepName, tt.step)
			var engineErr *EngineError
			if !errors.As(err, &engineErr) {
				t.Fatalf("expected *EngineError, got %v", err)
			}
			if engineErr.Code != tt.wantCode {
				t.Errorf("code = %q, want %q", engineErr.Code, tt.wantCode)
			}
		})
	}
}

func TestMapRegistry_Resolve(t *testing.T) {
	reg := NewMapRegistry[testState]()
	reg.MustRegister("h_b", noopStep())
	reg.MustRegister("h_a", noopStep())

	if _, err := reg.Resolve("h_a"); err != nil {
		t.Errorf("Resolve(h_a): %v", err)
	}

	_, err := reg.Resolve("h_missing")
	if !errors.Is(err, ErrUnknownStep) {
		t.Fatalf("expected ErrUnknownStep, got %v", err)
	}
	var lookup *LookupError
	if !errors.As(err, &lookup) || lookup.Name != "h_missing" {
		t.Errorf("expected LookupError for h_missing, got %v", err)
	}

	if got := strings.Join(reg.Names(), ","); got != "h_a,h_b" {
		t.Errorf("Names = %s, want h_a,h_b", got)
	}
}

func TestMapRegistry_MustRegisterPanics(t *testing.T) {
	reg := NewMapRegistry[testState]()
	reg.MustRegister("h_init", noopStep())
	defer func() {
		if recover() == nil {
			t.Error("expected panic on duplicate MustRegister")
		}
	}()
	reg.MustRegister("h_init", noopStep())
}
