package emit

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// OTelEmitter turns events into OpenTelemetry spans.
//
// run_started and run_resumed open a run span that stays open until a
// terminal run event (run_completed, run_failed, run_cancelled) arrives.
// Every other event becomes a child span of the open run span. Events that
// carry "duration_ms" get a span whose start time is shifted back by that
// duration, so step spans show real execution time.
//
// Usage:
//
//	tp := sdktrace.NewTracerProvider(sdktrace.WithBatcher(exporter))
//	emitter := emit.NewOTelEmitter(tp.Tracer("procedure"))
type OTelEmitter struct {
	tracer trace.Tracer

	mu   sync.Mutex
	runs map[string]runSpan
}

type runSpan struct {
	ctx  context.Context
	span trace.Span
}

// NewOTelEmitter creates an emitter that records spans with tracer.
func NewOTelEmitter(tracer trace.Tracer) *OTelEmitter {
	return &OTelEmitter{
		tracer: tracer,
		runs:   make(map[string]runSpan),
	}
}

// Emit implements Emitter.
func (o *OTelEmitter) Emit(event Event) {
	switch event.Msg {
	case MsgRunStarted, MsgRunResumed:
		o.startRun(event)
		return
	case MsgRunCompleted, MsgRunFailed, MsgRunCancelled:
		o.endRun(event)
		return
	}

	o.mu.Lock()
	parent, ok := o.runs[event.RunID]
	o.mu.Unlock()
	ctx := context.Background()
	if ok {
		ctx = parent.ctx
	}

	now := time.Now()
	start := now
	if d, ok := durationMeta(event.Meta); ok {
		start = now.Add(-d)
	}
	_, span := o.tracer.Start(ctx, event.Msg, trace.WithTimestamp(start))
	o.annotate(span, event)
	span.End(trace.WithTimestamp(now))
}

func (o *OTelEmitter) startRun(event Event) {
	ctx, span := o.tracer.Start(context.Background(), "procedure.run")
	o.annotate(span, event)
	span.AddEvent(event.Msg)

	o.mu.Lock()
	defer o.mu.Unlock()
	if prev, ok := o.runs[event.RunID]; ok {
		prev.span.End()
	}
	o.runs[event.RunID] = runSpan{ctx: ctx, span: span}
}

func (o *OTelEmitter) endRun(event Event) {
	o.mu.Lock()
	rs, ok := o.runs[event.RunID]
	delete(o.runs, event.RunID)
	o.mu.Unlock()

	if !ok {
		_, rs.span = o.tracer.Start(context.Background(), "procedure.run")
	}
	rs.span.AddEvent(event.Msg)
	o.annotate(rs.span, event)
	rs.span.End()
}

// Close ends any run spans still open.
func (o *OTelEmitter) Close() {
	o.mu.Lock()
	defer o.mu.Unlock()
	for id, rs := range o.runs {
		rs.span.End()
		delete(o.runs, id)
	}
}

func (o *OTelEmitter) annotate(span trace.Span, event Event) {
	span.SetAttributes(
		attribute.String("procedure.run_id", event.RunID),
		attribute.Int("procedure.stage", event.Stage),
	)
	if event.Step != "" {
		span.SetAttributes(attribute.String("procedure.step", event.Step))
	}
	for key, value := range event.Meta {
		attrKey := "procedure." + key
		switch v := value.(type) {
		case string:
			span.SetAttributes(attribute.String(attrKey, v))
		case int:
			span.SetAttributes(attribute.Int(attrKey, v))
		case int64:
			span.SetAttributes(attribute.Int64(attrKey, v))
		case float64:
			span.SetAttributes(attribute.Float64(attrKey, v))
		case bool:
			span.SetAttributes(attribute.Bool(attrKey, v))
		case []string:
			span.SetAttributes(attribute.StringSlice(attrKey, v))
		case time.Duration:
			span.SetAttributes(attribute.Int64(attrKey, v.Milliseconds()))
		default:
			span.SetAttributes(attribute.String(attrKey, fmt.Sprintf("%v", v)))
		}
	}
	if msg, ok := event.Meta["error"].(string); ok && IsFailure(event.Msg) {
		span.SetStatus(codes.Error, msg)
		span.RecordError(errors.New(msg))
	}
}

func durationMeta(meta map[string]interface{}) (time.Duration, bool) {
	switch v := meta["duration_ms"].(type) {
	case int64:
		return time.Duration(v) * time.Millisecond, true
	case int:
		return time.Duration(v) * time.Millisecond, true
	case float64:
		return time.Duration(v * float64(time.Millisecond)), true
	}
	return 0, false
}
