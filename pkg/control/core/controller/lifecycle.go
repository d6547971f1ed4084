package controller

import (
	"context"
	"fmt"
	"sync"

	"github.com/anoop6543/PharmaVax-sub001/pkg/control/core/audit"
	"github.com/anoop6543/PharmaVax-sub001/pkg/control/support/util/exception"
	"github.com/anoop6543/PharmaVax-sub001/pkg/control/support/util/logger"
)

// Start launches the scan scheduler and the redundancy monitor. The scheduler idles while
// this node is standby.
func (c *Controller) Start(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.running {
		return exception.Rejected(moduleName, exception.ErrInvalidTransition, "controller is already running")
	}
	runCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	done := make(chan struct{})
	c.cancel = cancel
	c.done = done
	c.running = true

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		if err := c.Scheduler.Run(runCtx); err != nil {
			logger.Errorf("Scan scheduler stopped with error: %v", err)
		}
	}()
	go func() {
		defer wg.Done()
		c.Redundancy.Run(runCtx)
	}()
	go func() {
		wg.Wait()
		close(done)
	}()

	c.Audit.Record("system", "CONTROLLER_START", audit.CategorySystem,
		fmt.Sprintf("scan period %s, role %s", c.Scheduler.Period(), c.Redundancy.Status().Role), true)
	logger.Infof("Controller %s started.", c.cfg.Controller.Name)
	return nil
}

// Stop cancels the scan loop after the in-flight cycle and waits for it, or for ctx.
func (c *Controller) Stop(ctx context.Context) error {
	c.mu.Lock()
	if !c.running {
		c.mu.Unlock()
		return nil
	}
	cancel, done := c.cancel, c.done
	c.running = false
	c.mu.Unlock()

	cancel()
	select {
	case <-done:
	case <-ctx.Done():
		return fmt.Errorf("controller stop: %w", ctx.Err())
	}
	st := c.Scheduler.Stats()
	c.Audit.Record("system", "CONTROLLER_STOP", audit.CategorySystem,
		fmt.Sprintf("%d cycles, %d missed scans, %d faults", st.Cycles, st.MissedScans, st.Faults), true)
	logger.Infof("Controller %s stopped.", c.cfg.Controller.Name)
	return nil
}

// Running reports whether Start has been called without a matching Stop.
func (c *Controller) Running() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.running
}
