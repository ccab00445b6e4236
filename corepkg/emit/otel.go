package emit

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// OtelEmitter turns events into OpenTelemetry spans: one span per
// event, ended immediately (events here mark a point in time, not a
// duration the caller wants to bracket — the advance pipeline itself
// owns any longer-lived span across the full call). Grounded on the
// teacher's graph/emit.OTelEmitter.
type OtelEmitter struct {
	tracer trace.Tracer
}

// NewOtelEmitter wraps tracer (e.g. otel.Tracer("durableflow")).
func NewOtelEmitter(tracer trace.Tracer) *OtelEmitter {
	return &OtelEmitter{tracer: tracer}
}

func (o *OtelEmitter) Emit(event Event) {
	_, span := o.tracer.Start(context.Background(), event.Kind)
	o.annotate(span, event)
	span.End()
}

func (o *OtelEmitter) EmitBatch(ctx context.Context, events []Event) error {
	for _, event := range events {
		_, span := o.tracer.Start(ctx, event.Kind)
		o.annotate(span, event)
		span.End()
	}
	return nil
}

// Flush force-flushes the global tracer provider's span processor, if
// it supports it (sdktrace.TracerProvider's ForceFlush(ctx) error);
// providers that don't (e.g. the no-op default) make this a no-op.
func (o *OtelEmitter) Flush(ctx context.Context) error {
	type flusher interface {
		ForceFlush(context.Context) error
	}
	if f, ok := otel.GetTracerProvider().(flusher); ok {
		return f.ForceFlush(ctx)
	}
	return nil
}

func (o *OtelEmitter) annotate(span trace.Span, event Event) {
	span.SetAttributes(
		attribute.String("durableflow.session_id", string(event.SessionId)),
		attribute.String("durableflow.run_id", string(event.RunId)),
		attribute.String("durableflow.node_id", string(event.NodeId)),
		attribute.String("durableflow.msg", event.Msg),
	)
	for k, v := range event.Meta {
		span.SetAttributes(attribute.String("durableflow.meta."+k, fmt.Sprintf("%v", v)))
	}
	if errMsg, ok := event.Meta["error"].(string); ok {
		span.SetStatus(codes.Error, errMsg)
		span.RecordError(fmt.Errorf("%s", errMsg))
	}
}
