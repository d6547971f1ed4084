package sql

import (
	"context"

	"go.uber.org/fx"
	"gorm.io/gorm"

	"github.com/anoop6543/PharmaVax-sub001/pkg/control/core/alarm"
	"github.com/anoop6543/PharmaVax-sub001/pkg/control/core/audit"
	"github.com/anoop6543/PharmaVax-sub001/pkg/control/core/batch"
)

// Params are the inputs of NewFromParams. DB is nil when persistence is disabled.
type Params struct {
	fx.In
	Lifecycle fx.Lifecycle
	DB        *gorm.DB `optional:"true"`
}

// Result contributes the repository to the controller's sink and listener groups.
// The slices are empty when persistence is disabled.
type Result struct {
	fx.Out
	Repository     *Repository
	AuditSinks     []audit.Sink     `group:"audit_sinks,flatten"`
	AlarmListeners []alarm.Listener `group:"alarm_listeners,flatten"`
	BatchListeners []batch.Listener `group:"batch_listeners,flatten"`
}

// NewFromParams builds the repository and ties its writer to the application lifecycle.
func NewFromParams(p Params) Result {
	if p.DB == nil {
		return Result{}
	}
	repo := NewRepository(p.DB)
	p.Lifecycle.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			repo.Start()
			return nil
		},
		OnStop: func(ctx context.Context) error {
			return repo.Stop(ctx)
		},
	})
	return Result{
		Repository:     repo,
		AuditSinks:     []audit.Sink{repo},
		AlarmListeners: []alarm.Listener{repo},
		BatchListeners: []batch.Listener{repo},
	}
}

// Module provides *Repository (nil when the database is disabled).
var Module = fx.Options(
	fx.Provide(NewFromParams),
)
