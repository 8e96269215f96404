package procedure

import (
	"errors"
	"testing"

	"github.com/dshills/procedure-go/procedure/document"
)

func TestParseAction(t *testing.T) {
	tests := []struct {
		in      string
		want    Action
		wantErr bool
	}{
		{"", ActionIgnore, false},
		{"ignore", ActionIgnore, false},
		{" Break ", ActionBreak, false},
		{"RESUME", ActionResume, false},
		{"pause", "", true},
	}
	for _, tt := range tests {
		got, err := ParseAction(tt.in)
		if (err != nil) != tt.wantErr {
			t.Errorf("ParseAction(%q) error = %v, wantErr %v", tt.in, err, tt.wantErr)
			continue
		}
		if got != tt.want {
			t.Errorf("ParseAction(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestParseMode(t *testing.T) {
	tests := []struct {
		in      string
		want    Mode
		wantErr bool
	}{
		{"", ModeFull, false},
		{"full", ModeFull, false},
		{"import-only", ModeImportOnly, false},
		{"import_only", ModeImportOnly, false},
		{"partial", "", true},
	}
	for _, tt := range tests {
		got, err := ParseMode(tt.in)
		if (err != nil) != tt.wantErr {
			t.Errorf("ParseMode(%q) error = %v, wantErr %v", tt.in, err, tt.wantErr)
			continue
		}
		if got != tt.want {
			t.Errorf("ParseMode(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestBreakpoint_Active(t *testing.T) {
	tests := []struct {
		bp   Breakpoint
		want bool
	}{
		{Breakpoint{}, false},
		{Breakpoint{Name: "breakpoint", Action: ActionIgnore}, false},
		{Breakpoint{Name: "breakpoint", Action: ActionBreak}, true},
		{Breakpoint{Name: "h_cal", Action: ActionResume}, true},
		{Breakpoint{Action: ActionBreak}, false},
	}
	for _, tt := range tests {
		if got := tt.bp.Active(); got != tt.want {
			t.Errorf("%+v.Active() = %v, want %v", tt.bp, got, tt.want)
		}
	}
}

func TestOptions_Validate(t *testing.T) {
	tests := []struct {
		name    string
		opts    Options
		wantErr bool
	}{
		{"zero value", Options{}, false},
		{"negative start", Options{StartStage: -1}, true},
		{"negative exit", Options{ExitStage: -2}, true},
		{"bad action", Options{Breakpoint: Breakpoint{Action: "halt"}}, true},
		{"bad mode", Options{Mode: "some"}, true},
		{"resume name without resume", Options{ResumeName: "pipeline-2"}, true},
		{"resume name with resume", Options{ResumeName: "pipeline-2", Breakpoint: Breakpoint{Action: ActionResume}}, false},
		{"session mismatch", Options{Inputs: document.Inputs{Files: []string{"a", "b"}, Sessions: []string{"s1"}}}, true},
		{"sessions match", Options{Inputs: document.Inputs{Files: []string{"a"}, Sessions: []string{"s1"}}}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.opts.Validate()
			if (err != nil) != tt.wantErr {
				t.Fatalf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
			var engineErr *EngineError
			if err != nil && (!errors.As(err, &engineErr) || engineErr.Code != "INVALID_OPTIONS") {
				t.Errorf("expected INVALID_OPTIONS EngineError, got %v", err)
			}
		})
	}
}

func TestWithOptions_RejectNil(t *testing.T) {
	cfg := &engineConfig{}
	if err := WithExporter(nil)(cfg); err == nil {
		t.Error("WithExporter(nil) should fail")
	}
	if err := WithClock(nil)(cfg); err == nil {
		t.Error("WithClock(nil) should fail")
	}
}
