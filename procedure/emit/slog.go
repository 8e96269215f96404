package emit

import (
	"context"
	"log/slog"
	"sort"
)

// SlogEmitter forwards events to a structured logger. Failure events are
// logged at Error, skips at Debug, everything else at Info.
type SlogEmitter struct {
	logger *slog.Logger
}

// NewSlogEmitter creates a SlogEmitter. A nil logger means slog.Default().
func NewSlogEmitter(logger *slog.Logger) *SlogEmitter {
	if logger == nil {
		logger = slog.Default()
	}
	return &SlogEmitter{logger: logger}
}

// Emit implements Emitter.
func (s *SlogEmitter) Emit(event Event) {
	level := slog.LevelInfo
	switch {
	case IsFailure(event.Msg):
		level = slog.LevelError
	case event.Msg == MsgContextUnreadable:
		level = slog.LevelWarn
	case event.Msg == MsgStepSkipped || event.Msg == MsgContextSaved:
		level = slog.LevelDebug
	}

	ctx := context.Background()
	if !s.logger.Enabled(ctx, level) {
		return
	}

	attrs := make([]slog.Attr, 0, len(event.Meta)+3)
	attrs = append(attrs, slog.String("run_id", event.RunID), slog.Int("stage", event.Stage))
	if event.Step != "" {
		attrs = append(attrs, slog.String("step", event.Step))
	}
	keys := make([]string, 0, len(event.Meta))
	for k := range event.Meta {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		attrs = append(attrs, slog.Any(k, event.Meta[k]))
	}
	s.logger.LogAttrs(ctx, level, event.Msg, attrs...)
}
