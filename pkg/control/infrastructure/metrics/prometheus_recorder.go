package metrics

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/anoop6543/PharmaVax-sub001/pkg/control/core/alarm"
	"github.com/anoop6543/PharmaVax-sub001/pkg/control/core/batch"
	"github.com/anoop6543/PharmaVax-sub001/pkg/control/core/metrics"
	"github.com/anoop6543/PharmaVax-sub001/pkg/control/support/util/logger"
)

var scanBuckets = []float64{.0005, .001, .0025, .005, .01, .025, .05, .1, .25, .5, 1}

// PrometheusRecorder is a Prometheus implementation of metrics.ScanRecorder with its own registry.
type PrometheusRecorder struct {
	registry *prometheus.Registry

	// Scan Metrics
	cycleDuration prometheus.Histogram
	cycleTotal    prometheus.Counter
	overrunTotal  prometheus.Counter
	stageDuration *prometheus.HistogramVec
	stageErrors   *prometheus.CounterVec

	// Loop Metrics
	loopOutput *prometheus.GaugeVec

	// Event Metrics
	alarmEvents *prometheus.CounterVec
	batchEvents *prometheus.CounterVec

	// Gateway Metrics
	publishDuration *prometheus.HistogramVec
	publishErrors   *prometheus.CounterVec
}

// NewPrometheusRecorder creates a recorder registered on a fresh registry.
func NewPrometheusRecorder() *PrometheusRecorder {
	registry := prometheus.NewRegistry()

	registry.MustRegister(collectors.NewGoCollector())
	registry.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	r := &PrometheusRecorder{
		registry: registry,
		cycleDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "dcs_scan_cycle_duration_seconds",
			Help:    "Duration of scan cycles.",
			Buckets: scanBuckets,
		}),
		cycleTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "dcs_scan_cycles_total",
			Help: "Total number of completed scan cycles.",
		}),
		overrunTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "dcs_scan_overruns_total",
			Help: "Total number of scan cycles that exceeded the overrun threshold.",
		}),
		stageDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "dcs_scan_stage_duration_seconds",
			Help:    "Duration of scan cycle stages.",
			Buckets: scanBuckets,
		}, []string{"stage"}),
		stageErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "dcs_scan_stage_errors_total",
			Help: "Total number of scan stage errors by stage.",
		}, []string{"stage"}),
		loopOutput: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "dcs_loop_output",
			Help: "Last output of each control loop.",
		}, []string{"loop"}),
		alarmEvents: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "dcs_alarm_events_total",
			Help: "Total alarm events by type and priority.",
		}, []string{"type", "priority"}),
		batchEvents: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "dcs_batch_events_total",
			Help: "Total batch events by type.",
		}, []string{"type"}),
		publishDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "dcs_gateway_publish_duration_seconds",
			Help:    "Duration of gateway publishes.",
			Buckets: scanBuckets,
		}, []string{"gateway"}),
		publishErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "dcs_gateway_publish_errors_total",
			Help: "Total failed gateway publishes.",
		}, []string{"gateway"}),
	}

	registry.MustRegister(r.cycleDuration)
	registry.MustRegister(r.cycleTotal)
	registry.MustRegister(r.overrunTotal)
	registry.MustRegister(r.stageDuration)
	registry.MustRegister(r.stageErrors)
	registry.MustRegister(r.loopOutput)
	registry.MustRegister(r.alarmEvents)
	registry.MustRegister(r.batchEvents)
	registry.MustRegister(r.publishDuration)
	registry.MustRegister(r.publishErrors)

	return r
}

// GetRegistry returns the Prometheus registry.
func (r *PrometheusRecorder) GetRegistry() *prometheus.Registry {
	return r.registry
}

// Handler serves the registry in the Prometheus exposition format.
func (r *PrometheusRecorder) Handler() http.Handler {
	return promhttp.HandlerFor(r.registry, promhttp.HandlerOpts{Registry: r.registry})
}

func (r *PrometheusRecorder) RecordCycle(ctx context.Context, duration time.Duration, overrun bool) {
	r.cycleDuration.Observe(duration.Seconds())
	r.cycleTotal.Inc()
	if overrun {
		r.overrunTotal.Inc()
	}
}

func (r *PrometheusRecorder) RecordStage(ctx context.Context, stage string, duration time.Duration, err error) {
	r.stageDuration.WithLabelValues(stage).Observe(duration.Seconds())
	if err != nil {
		r.stageErrors.WithLabelValues(stage).Inc()
	}
}

func (r *PrometheusRecorder) RecordLoopOutput(ctx context.Context, loop string, output float64) {
	r.loopOutput.WithLabelValues(loop).Set(output)
}

func (r *PrometheusRecorder) RecordAlarmEvent(ctx context.Context, ev alarm.Event) {
	r.alarmEvents.WithLabelValues(string(ev.Type), strconv.Itoa(int(ev.Priority))).Inc()
}

func (r *PrometheusRecorder) RecordBatchEvent(ctx context.Context, ev batch.Event) {
	r.batchEvents.WithLabelValues(string(ev.Type)).Inc()
	logger.Tracef("Metrics: batch %s %s.", ev.BatchID, ev.Type)
}

func (r *PrometheusRecorder) RecordPublish(ctx context.Context, gateway string, duration time.Duration, err error) {
	r.publishDuration.WithLabelValues(gateway).Observe(duration.Seconds())
	if err != nil {
		r.publishErrors.WithLabelValues(gateway).Inc()
	}
}

var _ metrics.ScanRecorder = (*PrometheusRecorder)(nil)
