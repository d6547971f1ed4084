package unit

import (
	"time"

	"github.com/anoop6543/PharmaVax-sub001/pkg/control/core/pid"
	"github.com/anoop6543/PharmaVax-sub001/pkg/control/core/tag"
	"github.com/anoop6543/PharmaVax-sub001/pkg/control/support/util/exception"
)

// LoopBinding ties a PID loop to the tags it reads and writes.
type LoopBinding struct {
	Loop      *pid.Loop
	PVTag     string
	OutputTag string
	// CascadeFrom names the tag supplying the setpoint while the loop is in Cascade mode,
	// normally the output tag of the upstream loop.
	CascadeFrom string

	store *tag.Store
}

// Name returns the loop name.
func (b *LoopBinding) Name() string {
	return b.Loop.Name()
}

// CascadeInput is a cascade setpoint captured before the loop stage fans out.
type CascadeInput struct {
	Setpoint float64
	Valid    bool
}

// ReadCascade captures the upstream setpoint. It is Valid only while the loop is in Cascade
// mode and the upstream tag has Good quality.
func (b *LoopBinding) ReadCascade() CascadeInput {
	if b.store == nil || b.CascadeFrom == "" || b.Loop.Mode() != pid.ModeCascade {
		return CascadeInput{}
	}
	sp, ok := b.store.Get(b.CascadeFrom)
	if !ok || sp.Quality != tag.QualityGood {
		return CascadeInput{}
	}
	return CascadeInput{Setpoint: sp.Value.Value, Valid: true}
}

// Run executes one loop step, reading the cascade setpoint at call time.
func (b *LoopBinding) Run(dt time.Duration, now time.Time) error {
	return b.RunWith(dt, now, b.ReadCascade())
}

// RunWith executes one loop step using a cascade setpoint captured earlier in the cycle,
// so loops that run concurrently see upstream outputs from the previous scan. A PV that is
// missing or Bad holds the output and marks the output tag Uncertain.
func (b *LoopBinding) RunWith(dt time.Duration, now time.Time, cascade CascadeInput) error {
	if b.store == nil {
		return exception.NewControlErrorf("unit", exception.KindConfiguration, "loop %s is not attached to a unit", b.Name())
	}
	if !b.Loop.Enabled() {
		return nil
	}
	pv, ok := b.store.Get(b.PVTag)
	if !ok || pv.Quality == tag.QualityBad {
		b.store.SetQuality(b.OutputTag, tag.QualityUncertain, now)
		return nil
	}
	if cascade.Valid {
		b.Loop.SetCascadeSetpoint(cascade.Setpoint)
	}
	out := b.Loop.Execute(pv.Value.Value, dt)
	b.store.Set(b.OutputTag, out, tag.QualityGood, now)
	return nil
}
