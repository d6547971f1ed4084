package metrics

import (
	"context"
	"time"

	"github.com/hashicorp/go-multierror"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/anoop6543/PharmaVax-sub001/pkg/control/core/alarm"
	"github.com/anoop6543/PharmaVax-sub001/pkg/control/core/batch"
	"github.com/anoop6543/PharmaVax-sub001/pkg/control/core/metrics"
)

const instrumentationName = "github.com/anoop6543/PharmaVax-sub001/pkg/control"

// OTelRecorder records scan metrics through an OpenTelemetry meter.
type OTelRecorder struct {
	cycleDuration   metric.Float64Histogram
	cycles          metric.Int64Counter
	overruns        metric.Int64Counter
	stageDuration   metric.Float64Histogram
	stageErrors     metric.Int64Counter
	loopOutput      metric.Float64Gauge
	alarmEvents     metric.Int64Counter
	batchEvents     metric.Int64Counter
	publishDuration metric.Float64Histogram
	publishErrors   metric.Int64Counter
}

// NewOTelRecorder creates every instrument on a meter from provider.
func NewOTelRecorder(provider metric.MeterProvider) (*OTelRecorder, error) {
	meter := provider.Meter(instrumentationName)
	r := &OTelRecorder{}
	var errs *multierror.Error
	collect := func(err error) {
		if err != nil {
			errs = multierror.Append(errs, err)
		}
	}

	var err error
	r.cycleDuration, err = meter.Float64Histogram("dcs.scan.cycle.duration", metric.WithUnit("s"), metric.WithDescription("Duration of scan cycles."))
	collect(err)
	r.cycles, err = meter.Int64Counter("dcs.scan.cycles", metric.WithDescription("Completed scan cycles."))
	collect(err)
	r.overruns, err = meter.Int64Counter("dcs.scan.overruns", metric.WithDescription("Scan cycles over the overrun threshold."))
	collect(err)
	r.stageDuration, err = meter.Float64Histogram("dcs.scan.stage.duration", metric.WithUnit("s"), metric.WithDescription("Duration of scan stages."))
	collect(err)
	r.stageErrors, err = meter.Int64Counter("dcs.scan.stage.errors", metric.WithDescription("Scan stage errors."))
	collect(err)
	r.loopOutput, err = meter.Float64Gauge("dcs.loop.output", metric.WithDescription("Last output of each control loop."))
	collect(err)
	r.alarmEvents, err = meter.Int64Counter("dcs.alarm.events", metric.WithDescription("Alarm events by type and priority."))
	collect(err)
	r.batchEvents, err = meter.Int64Counter("dcs.batch.events", metric.WithDescription("Batch events by type."))
	collect(err)
	r.publishDuration, err = meter.Float64Histogram("dcs.gateway.publish.duration", metric.WithUnit("s"), metric.WithDescription("Duration of gateway publishes."))
	collect(err)
	r.publishErrors, err = meter.Int64Counter("dcs.gateway.publish.errors", metric.WithDescription("Failed gateway publishes."))
	collect(err)

	if err := errs.ErrorOrNil(); err != nil {
		return nil, err
	}
	return r, nil
}

func (r *OTelRecorder) RecordCycle(ctx context.Context, duration time.Duration, overrun bool) {
	r.cycleDuration.Record(ctx, duration.Seconds())
	r.cycles.Add(ctx, 1)
	if overrun {
		r.overruns.Add(ctx, 1)
	}
}

func (r *OTelRecorder) RecordStage(ctx context.Context, stage string, duration time.Duration, err error) {
	attrs := metric.WithAttributes(attribute.String("stage", stage))
	r.stageDuration.Record(ctx, duration.Seconds(), attrs)
	if err != nil {
		r.stageErrors.Add(ctx, 1, attrs)
	}
}

func (r *OTelRecorder) RecordLoopOutput(ctx context.Context, loop string, output float64) {
	r.loopOutput.Record(ctx, output, metric.WithAttributes(attribute.String("loop", loop)))
}

func (r *OTelRecorder) RecordAlarmEvent(ctx context.Context, ev alarm.Event) {
	r.alarmEvents.Add(ctx, 1, metric.WithAttributes(
		attribute.String("type", string(ev.Type)),
		attribute.Int("priority", int(ev.Priority)),
	))
}

func (r *OTelRecorder) RecordBatchEvent(ctx context.Context, ev batch.Event) {
	r.batchEvents.Add(ctx, 1, metric.WithAttributes(attribute.String("type", string(ev.Type))))
}

func (r *OTelRecorder) RecordPublish(ctx context.Context, gateway string, duration time.Duration, err error) {
	attrs := metric.WithAttributes(attribute.String("gateway", gateway))
	r.publishDuration.Record(ctx, duration.Seconds(), attrs)
	if err != nil {
		r.publishErrors.Add(ctx, 1, attrs)
	}
}

var _ metrics.ScanRecorder = (*OTelRecorder)(nil)
