// Package redundancy tracks the health of a peer controller for cold-standby operation.
// There is no state replication: a standby is promoted manually and starts from its own
// configuration.
package redundancy

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/anoop6543/PharmaVax-sub001/pkg/control/core/audit"
	"github.com/anoop6543/PharmaVax-sub001/pkg/control/support/util/exception"
	"github.com/anoop6543/PharmaVax-sub001/pkg/control/support/util/logger"
)

const moduleName = "redundancy"

// Role is this node's redundancy role.
type Role string

const (
	RolePrimary Role = "PRIMARY"
	RoleStandby Role = "STANDBY"
)

// Config configures the monitor.
type Config struct {
	Enabled          bool          `yaml:"enabled"`
	Role             Role          `yaml:"role" validate:"omitempty,oneof=PRIMARY STANDBY"`
	PeerURL          string        `yaml:"peer_url" validate:"required_if=Enabled true"`
	PollInterval     time.Duration `yaml:"poll_interval"`
	Timeout          time.Duration `yaml:"timeout"`
	FailureThreshold int           `yaml:"failure_threshold"`
}

// HealthChecker probes the peer.
type HealthChecker interface {
	Check(ctx context.Context) error
}

// Status is a snapshot of the monitor.
type Status struct {
	Enabled             bool      `json:"enabled"`
	Role                Role      `json:"role"`
	PeerHealthy         bool      `json:"peer_healthy"`
	ConsecutiveFailures int       `json:"consecutive_failures"`
	LastPoll            time.Time `json:"last_poll,omitempty"`
	LastError           string    `json:"last_error,omitempty"`
}

// Monitor polls the peer and holds the local role.
type Monitor struct {
	cfg     Config
	peer    HealthChecker
	auditor audit.Recorder
	now     func() time.Time

	mu        sync.Mutex
	role      Role
	failures  int
	polled    bool
	lastPoll  time.Time
	lastErr   error
	onPromote []func()
}

// NewMonitor creates a monitor. When redundancy is disabled the node is always primary.
//
// Parameters:
//
//	cfg: Role, peer polling interval and failure threshold.
//	peer: Health check against the partner node. It may be nil when redundancy is disabled.
//	auditor: Receives promotion attempts.
func NewMonitor(cfg Config, peer HealthChecker, auditor audit.Recorder) *Monitor {
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = time.Second
	}
	if cfg.FailureThreshold <= 0 {
		cfg.FailureThreshold = 3
	}
	role := cfg.Role
	if !cfg.Enabled || role == "" {
		role = RolePrimary
	}
	return &Monitor{cfg: cfg, peer: peer, auditor: auditor, now: time.Now, role: role}
}

// OnPromote registers fn to run after a successful promotion.
func (m *Monitor) OnPromote(fn func()) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.onPromote = append(m.onPromote, fn)
}

// IsPrimary reports whether this node should run the scan cycle.
func (m *Monitor) IsPrimary() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.role == RolePrimary
}

// Poll probes the peer once.
func (m *Monitor) Poll(ctx context.Context) {
	if !m.cfg.Enabled || m.peer == nil {
		return
	}
	if m.cfg.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, m.cfg.Timeout)
		defer cancel()
	}
	err := m.peer.Check(ctx)

	m.mu.Lock()
	defer m.mu.Unlock()
	m.polled = true
	m.lastPoll = m.now()
	m.lastErr = err
	if err != nil {
		m.failures++
		if m.failures == m.cfg.FailureThreshold {
			logger.Warnf("Redundancy peer unhealthy after %d polls: %v", m.failures, err)
		}
		return
	}
	if m.failures >= m.cfg.FailureThreshold {
		logger.Infof("Redundancy peer healthy again.")
	}
	m.failures = 0
}

// Run polls until ctx is cancelled.
func (m *Monitor) Run(ctx context.Context) {
	if !m.cfg.Enabled {
		return
	}
	ticker := time.NewTicker(m.cfg.PollInterval)
	defer ticker.Stop()
	for {
		m.Poll(ctx)
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// Promote makes this standby the primary. It is allowed once the peer has failed
// FailureThreshold consecutive polls, or unconditionally with force. Every attempt is audited.
func (m *Monitor) Promote(user string, force bool) error {
	m.mu.Lock()
	if m.role == RolePrimary {
		m.mu.Unlock()
		return nil
	}
	peerDown := m.polled && m.failures >= m.cfg.FailureThreshold
	if !peerDown && !force {
		failures := m.failures
		m.mu.Unlock()
		m.record(user, fmt.Sprintf("promotion denied: peer failures %d below threshold %d", failures, m.cfg.FailureThreshold), false)
		return exception.Rejected(moduleName, exception.ErrPromotionDenied,
			"peer still healthy (%d/%d failed polls); use force to override", failures, m.cfg.FailureThreshold)
	}
	m.role = RolePrimary
	hooks := append([]func(){}, m.onPromote...)
	m.mu.Unlock()

	m.record(user, fmt.Sprintf("promoted to primary (forced: %t, peer down: %t)", force, peerDown), true)
	logger.Warnf("Controller promoted to PRIMARY by %s (forced: %t).", user, force)
	for _, fn := range hooks {
		fn()
	}
	return nil
}

// Status returns a snapshot.
func (m *Monitor) Status() Status {
	m.mu.Lock()
	defer m.mu.Unlock()
	st := Status{
		Enabled:             m.cfg.Enabled,
		Role:                m.role,
		PeerHealthy:         m.polled && m.failures == 0,
		ConsecutiveFailures: m.failures,
		LastPoll:            m.lastPoll,
	}
	if m.lastErr != nil {
		st.LastError = m.lastErr.Error()
	}
	return st
}

func (m *Monitor) record(user, description string, success bool) {
	if m.auditor == nil {
		return
	}
	m.auditor.Record(user, "REDUNDANCY_PROMOTE", audit.CategoryRedundancy, description, success)
}
