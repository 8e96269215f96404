package procedure

import (
	"fmt"
	"strings"
)

// Action selects what the engine does at the breakpoint.
type Action string

const (
	// ActionIgnore runs as if no breakpoint were configured.
	ActionIgnore Action = "ignore"

	// ActionBreak saves the context and stops before the breakpoint step.
	ActionBreak Action = "break"

	// ActionResume loads the latest context and skips every step up to and
	// including the breakpoint step.
	ActionResume Action = "resume"
)

// ParseAction converts a flag value to an Action. The empty string means
// ActionIgnore.
func ParseAction(s string) (Action, error) {
	switch Action(strings.ToLower(strings.TrimSpace(s))) {
	case "", ActionIgnore:
		return ActionIgnore, nil
	case ActionBreak:
		return ActionBreak, nil
	case ActionResume:
		return ActionResume, nil
	}
	return "", fmt.Errorf("invalid breakpoint action %q (valid: ignore, break, resume)", s)
}

// Breakpoint is the breakpoint configuration of a run. It is fixed for the
// whole run.
//
// Name may be a real step instead of the "breakpoint" marker. That step is
// not run by the break and is skipped by the resume, so a break/resume pair
// at a real step never dispatches it.
type Breakpoint struct {
	Name   string `json:"name,omitempty"`
	Action Action `json:"action,omitempty"`
}

// Active reports whether the breakpoint changes control flow.
func (b Breakpoint) Active() bool {
	return b.Name != "" && (b.Action == ActionBreak || b.Action == ActionResume)
}
