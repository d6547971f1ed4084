package metrics

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/anoop6543/PharmaVax-sub001/pkg/control/core/metrics"
)

// OTelTracer is an implementation of metrics.Tracer using OpenTelemetry.
type OTelTracer struct {
	tracer trace.Tracer
}

// NewOTelTracer creates a tracer from provider.
func NewOTelTracer(provider trace.TracerProvider) *OTelTracer {
	return &OTelTracer{tracer: provider.Tracer(instrumentationName)}
}

// StartCycleSpan starts the root span of one scan cycle.
func (t *OTelTracer) StartCycleSpan(ctx context.Context, cycle uint64) (context.Context, func()) {
	ctx, span := t.tracer.Start(ctx, "scan.cycle", trace.WithAttributes(attribute.Int64("scan.cycle", int64(cycle))))
	return ctx, func() { span.End() }
}

// StartStageSpan starts a child span for one stage.
func (t *OTelTracer) StartStageSpan(ctx context.Context, stage string) (context.Context, func()) {
	ctx, span := t.tracer.Start(ctx, "scan."+stage, trace.WithAttributes(attribute.String("scan.stage", stage)))
	return ctx, func() { span.End() }
}

// RecordError marks the current span as failed.
func (t *OTelTracer) RecordError(ctx context.Context, module string, err error) {
	if err == nil {
		return
	}
	span := trace.SpanFromContext(ctx)
	span.RecordError(err, trace.WithAttributes(attribute.String("module", module)))
	span.SetStatus(codes.Error, err.Error())
}

// RecordEvent adds an event to the current span.
func (t *OTelTracer) RecordEvent(ctx context.Context, name string, attributes map[string]interface{}) {
	trace.SpanFromContext(ctx).AddEvent(name, trace.WithAttributes(toAttributes(attributes)...))
}

func toAttributes(m map[string]interface{}) []attribute.KeyValue {
	out := make([]attribute.KeyValue, 0, len(m))
	for k, v := range m {
		switch val := v.(type) {
		case string:
			out = append(out, attribute.String(k, val))
		case bool:
			out = append(out, attribute.Bool(k, val))
		case int:
			out = append(out, attribute.Int(k, val))
		case int64:
			out = append(out, attribute.Int64(k, val))
		case uint64:
			out = append(out, attribute.Int64(k, int64(val)))
		case float64:
			out = append(out, attribute.Float64(k, val))
		case fmt.Stringer:
			out = append(out, attribute.String(k, val.String()))
		default:
			out = append(out, attribute.String(k, fmt.Sprintf("%v", val)))
		}
	}
	return out
}

var _ metrics.Tracer = (*OTelTracer)(nil)
