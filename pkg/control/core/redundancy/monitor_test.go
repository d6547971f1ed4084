package redundancy_test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/anoop6543/PharmaVax-sub001/pkg/control/core/audit"
	"github.com/anoop6543/PharmaVax-sub001/pkg/control/core/redundancy"
	"github.com/anoop6543/PharmaVax-sub001/pkg/control/support/util/exception"
)

func peerServer(t *testing.T, healthy *atomic.Bool) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/health" {
			http.NotFound(w, r)
			return
		}
		if !healthy.Load() {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestMonitor_DisabledIsAlwaysPrimary(t *testing.T) {
	m := redundancy.NewMonitor(redundancy.Config{Role: redundancy.RoleStandby}, nil, nil)
	assert.True(t, m.IsPrimary())
	m.Poll(context.Background())
	assert.False(t, m.Status().Enabled)
}

func TestMonitor_PromotionNeedsPeerFailureOrForce(t *testing.T) {
	var healthy atomic.Bool
	healthy.Store(true)
	srv := peerServer(t, &healthy)
	trail := audit.NewTrail(audit.Config{})
	m := redundancy.NewMonitor(redundancy.Config{
		Enabled:          true,
		Role:             redundancy.RoleStandby,
		PeerURL:          srv.URL,
		FailureThreshold: 2,
	}, redundancy.NewHTTPPeer(srv.URL, srv.Client()), trail)

	m.Poll(context.Background())
	assert.True(t, m.Status().PeerHealthy)
	assert.False(t, m.IsPrimary())

	err := m.Promote("operator", false)
	require.Error(t, err)
	assert.ErrorIs(t, err, exception.ErrPromotionDenied)
	assert.False(t, trail.Recent(1)[0].Success)

	healthy.Store(false)
	m.Poll(context.Background())
	m.Poll(context.Background())
	st := m.Status()
	assert.False(t, st.PeerHealthy)
	assert.Equal(t, 2, st.ConsecutiveFailures)
	assert.Contains(t, st.LastError, "503")

	promoted := false
	m.OnPromote(func() { promoted = true })
	require.NoError(t, m.Promote("operator", false))
	assert.True(t, m.IsPrimary())
	assert.True(t, promoted)
	last := trail.Recent(1)[0]
	assert.Equal(t, "REDUNDANCY_PROMOTE", last.Action)
	assert.True(t, last.Success)
}

func TestMonitor_ForcedPromotion(t *testing.T) {
	var healthy atomic.Bool
	healthy.Store(true)
	srv := peerServer(t, &healthy)
	m := redundancy.NewMonitor(redundancy.Config{Enabled: true, Role: redundancy.RoleStandby, PeerURL: srv.URL},
		redundancy.NewHTTPPeer(srv.URL, srv.Client()), nil)

	require.NoError(t, m.Promote("supervisor", true))
	assert.True(t, m.IsPrimary())
	require.NoError(t, m.Promote("supervisor", false), "already primary")
}

func TestMonitor_RecoveryResetsFailures(t *testing.T) {
	var healthy atomic.Bool
	srv := peerServer(t, &healthy)
	m := redundancy.NewMonitor(redundancy.Config{Enabled: true, Role: redundancy.RoleStandby, PeerURL: srv.URL},
		redundancy.NewHTTPPeer(srv.URL, srv.Client()), nil)

	m.Poll(context.Background())
	assert.Equal(t, 1, m.Status().ConsecutiveFailures)
	healthy.Store(true)
	m.Poll(context.Background())
	assert.Zero(t, m.Status().ConsecutiveFailures)
	assert.True(t, m.Status().PeerHealthy)
}
