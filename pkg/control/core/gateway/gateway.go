// Package gateway defines the seam between the scan cycle and external transports.
package gateway

import (
	"context"
	"fmt"
	"sync"

	"github.com/hashicorp/go-multierror"

	"github.com/anoop6543/PharmaVax-sub001/pkg/control/core/tag"
	"github.com/anoop6543/PharmaVax-sub001/pkg/control/support/util/logger"
)

// Gateway publishes the full tag snapshot once per scan cycle.
type Gateway interface {
	Name() string
	Publish(ctx context.Context, snapshot map[string]tag.Value) error
	Healthy() bool
}

// LogGateway writes a debug line per publish. It is the default when no transport is configured.
type LogGateway struct {
	mu        sync.Mutex
	published uint64
}

// NewLogGateway creates a LogGateway.
func NewLogGateway() *LogGateway {
	return &LogGateway{}
}

func (g *LogGateway) Name() string { return "log" }

func (g *LogGateway) Publish(ctx context.Context, snapshot map[string]tag.Value) error {
	g.mu.Lock()
	g.published++
	n := g.published
	g.mu.Unlock()
	logger.Tracef("Gateway publish #%d: %d tags.", n, len(snapshot))
	return nil
}

func (g *LogGateway) Healthy() bool { return true }

// Published returns the number of snapshots published.
func (g *LogGateway) Published() uint64 {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.published
}

// MultiGateway fans a publish out to several gateways.
type MultiGateway struct {
	gateways []Gateway
}

// NewMultiGateway combines gateways. Publishing continues past individual failures.
func NewMultiGateway(gateways ...Gateway) *MultiGateway {
	return &MultiGateway{gateways: gateways}
}

func (m *MultiGateway) Name() string { return "multi" }

// Publish sends to every gateway and returns their failures together.
func (m *MultiGateway) Publish(ctx context.Context, snapshot map[string]tag.Value) error {
	var errs *multierror.Error
	for _, g := range m.gateways {
		if err := g.Publish(ctx, snapshot); err != nil {
			errs = multierror.Append(errs, fmt.Errorf("gateway %s: %w", g.Name(), err))
		}
	}
	return errs.ErrorOrNil()
}

// Healthy is true only when every gateway is healthy.
func (m *MultiGateway) Healthy() bool {
	for _, g := range m.gateways {
		if !g.Healthy() {
			return false
		}
	}
	return true
}

// Gateways returns the wrapped gateways.
func (m *MultiGateway) Gateways() []Gateway {
	return append([]Gateway(nil), m.gateways...)
}
