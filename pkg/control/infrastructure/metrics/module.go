// Package metrics holds the Prometheus and OpenTelemetry implementations of the scan recorder
// and tracer, plus the asynchronous decorator that keeps recording off the scan path.
package metrics

import (
	"context"

	"go.uber.org/fx"

	"github.com/anoop6543/PharmaVax-sub001/pkg/control/core/config"
	"github.com/anoop6543/PharmaVax-sub001/pkg/control/core/metrics"
	"github.com/anoop6543/PharmaVax-sub001/pkg/control/infrastructure/telemetry"
	"github.com/anoop6543/PharmaVax-sub001/pkg/control/support/util/logger"
)

// RecorderResult exposes the combined recorder and, when enabled, the Prometheus recorder
// whose registry is served at /metrics.
type RecorderResult struct {
	fx.Out
	Recorder   metrics.ScanRecorder
	Prometheus *PrometheusRecorder
}

// NewRecorders builds the recorders selected by the telemetry configuration.
func NewRecorders(cfg *config.Config, providers *telemetry.Providers) (RecorderResult, error) {
	tcfg := cfg.Controller.Telemetry
	var recorders []metrics.ScanRecorder
	var prom *PrometheusRecorder

	if tcfg.Prometheus {
		prom = NewPrometheusRecorder()
		recorders = append(recorders, prom)
	}
	if tcfg.Enabled {
		otelRec, err := NewOTelRecorder(providers.MeterProvider)
		if err != nil {
			return RecorderResult{}, err
		}
		recorders = append(recorders, otelRec)
	}

	switch len(recorders) {
	case 0:
		return RecorderResult{Recorder: metrics.NewNoOpScanRecorder()}, nil
	case 1:
		return RecorderResult{Recorder: recorders[0], Prometheus: prom}, nil
	default:
		return RecorderResult{Recorder: NewMultiRecorder(recorders...), Prometheus: prom}, nil
	}
}

// NewTracer returns an OpenTelemetry tracer. It records nothing when telemetry is disabled.
func NewTracer(providers *telemetry.Providers) metrics.Tracer {
	return NewOTelTracer(providers.TracerProvider)
}

// DecorateAsync wraps the recorder in an AsyncRecorder that is flushed on shutdown.
func DecorateAsync(lc fx.Lifecycle, cfg *config.Config, syncRecorder metrics.ScanRecorder) metrics.ScanRecorder {
	if _, ok := syncRecorder.(*metrics.NoOpScanRecorder); ok {
		return syncRecorder
	}
	asyncRecorder := NewAsyncRecorder(cfg.Controller.Telemetry.AsyncBufferSize, syncRecorder)
	lc.Append(fx.Hook{
		OnStop: func(ctx context.Context) error {
			asyncRecorder.Close()
			if n := asyncRecorder.Discarded(); n > 0 {
				logger.Warnf("AsyncRecorder discarded %d events during this run.", n)
			}
			return nil
		},
	})
	logger.Debugf("ScanRecorder decorated with asynchronous wrapper.")
	return asyncRecorder
}

// Module provides metrics.ScanRecorder, metrics.Tracer and *PrometheusRecorder.
var Module = fx.Options(
	fx.Provide(NewRecorders),
	fx.Provide(NewTracer),
	fx.Decorate(DecorateAsync),
)
