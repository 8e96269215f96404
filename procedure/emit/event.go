package emit

// Event is an observability record produced while a procedure runs.
type Event struct {
	// RunID identifies the run that emitted this event.
	RunID string

	// Stage is the context's stage counter when the event was emitted.
	Stage int

	// Step is the step name. Empty for run-level events.
	Step string

	// Msg names the event, one of the Msg* constants.
	Msg string

	// Meta carries event-specific data. Common keys:
	//   - "position": index of the step in the document
	//   - "duration_ms": step execution time
	//   - "error": error text on failure events
	//   - "context": execution context name
	Meta map[string]interface{}
}

// Event names used by the engine.
const (
	MsgRunStarted        = "run_started"
	MsgRunResumed        = "run_resumed"
	MsgRunCompleted      = "run_completed"
	MsgRunFailed         = "run_failed"
	MsgRunCancelled      = "run_cancelled"
	MsgStepSkipped       = "step_skipped"
	MsgStepStarted       = "step_started"
	MsgStepCompleted     = "step_completed"
	MsgStepFailed        = "step_failed"
	MsgBreakpointHit     = "breakpoint_hit"
	MsgBreakpointPass    = "breakpoint_passed"
	MsgExitStage         = "exit_stage_reached"
	MsgImportOnlyStop    = "import_only_stop"
	MsgContextSaved      = "context_saved"
	MsgContextArchived   = "context_archived"
	MsgContextUnreadable = "context_unreadable"
	MsgReportWritten     = "report_written"
)

// IsFailure reports whether msg names a failure event.
func IsFailure(msg string) bool {
	return msg == MsgStepFailed || msg == MsgRunFailed
}
