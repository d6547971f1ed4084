package controller

import (
	"context"

	"go.uber.org/fx"

	"github.com/anoop6543/PharmaVax-sub001/pkg/control/core/alarm"
	"github.com/anoop6543/PharmaVax-sub001/pkg/control/core/audit"
	"github.com/anoop6543/PharmaVax-sub001/pkg/control/core/batch"
	"github.com/anoop6543/PharmaVax-sub001/pkg/control/core/config"
	"github.com/anoop6543/PharmaVax-sub001/pkg/control/core/gateway"
	"github.com/anoop6543/PharmaVax-sub001/pkg/control/core/historian"
	"github.com/anoop6543/PharmaVax-sub001/pkg/control/core/metrics"
	"github.com/anoop6543/PharmaVax-sub001/pkg/control/core/redundancy"
)

// Result tags for contributing to the value groups collected into Dependencies.
const (
	GatewayGroup       = `group:"gateways"`
	AuditSinkGroup     = `group:"audit_sinks"`
	HistorianSinkGroup = `group:"historian_sinks"`
	AlarmListenerGroup = `group:"alarm_listeners"`
	BatchListenerGroup = `group:"batch_listeners"`
)

// Params are the fx inputs of NewFromParams.
type Params struct {
	fx.In
	Config         *config.Config
	Devices        DeviceFactory            `optional:"true"`
	Recorder       metrics.ScanRecorder     `optional:"true"`
	Tracer         metrics.Tracer           `optional:"true"`
	Peer           redundancy.HealthChecker `optional:"true"`
	Archiver       audit.Archiver           `optional:"true"`
	Gateways       []gateway.Gateway        `group:"gateways"`
	AuditSinks     []audit.Sink             `group:"audit_sinks"`
	HistorianSinks []historian.Sink         `group:"historian_sinks"`
	AlarmListeners []alarm.Listener         `group:"alarm_listeners"`
	BatchListeners []batch.Listener         `group:"batch_listeners"`
}

// NewFromParams builds the controller from the fx graph.
func NewFromParams(p Params) (*Controller, error) {
	return New(p.Config, Dependencies{
		Devices:        p.Devices,
		Gateways:       p.Gateways,
		Recorder:       p.Recorder,
		Tracer:         p.Tracer,
		Peer:           p.Peer,
		Archiver:       p.Archiver,
		AuditSinks:     p.AuditSinks,
		HistorianSinks: p.HistorianSinks,
		AlarmListeners: p.AlarmListeners,
		BatchListeners: p.BatchListeners,
	})
}

// RegisterLifecycle starts the controller with the application and stops it on shutdown.
func RegisterLifecycle(lc fx.Lifecycle, c *Controller) {
	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			return c.Start(ctx)
		},
		OnStop: func(ctx context.Context) error {
			return c.Stop(ctx)
		},
	})
}

// Module provides *Controller and ties it to the fx lifecycle.
var Module = fx.Options(
	fx.Provide(NewFromParams),
	fx.Invoke(RegisterLifecycle),
)
