package p2p

import (
	"context"
	"testing"
	"time"

	mocknet "github.com/libp2p/go-libp2p/p2p/net/mock"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/meshwire/meshwire/p2p/server"
)

func totalSeries(t *testing.T, reg *prometheus.Registry) int {
	t.Helper()
	families, err := reg.Gather()
	require.NoError(t, err)
	total := 0
	for _, mf := range families {
		total += len(mf.Metric)
	}
	return total
}

func newUpgraded(t *testing.T, cfg Config) (*Host, *prometheus.Registry) {
	t.Helper()
	mesh, err := mocknet.FullMeshConnected(1)
	require.NoError(t, err)
	reg := prometheus.NewRegistry()
	fh, err := Upgrade(mesh.Hosts()[0],
		WithConfig(cfg),
		WithLog(zaptest.NewLogger(t)),
		WithMetricsRegisterer(reg),
	)
	require.NoError(t, err)
	t.Cleanup(func() { fh.Stop() })
	return fh, reg
}

func TestUpgradeRegistersConfiguredGroups(t *testing.T) {
	t.Run("AllGroupsAbsent", func(t *testing.T) {
		cfg := DefaultConfig()
		cfg.DisableGossip = true
		_, reg := newUpgraded(t, cfg)
		// only the two node-wide gauges
		require.Equal(t, 2, totalSeries(t, reg))
	})
	t.Run("AllGroupsOneTopic", func(t *testing.T) {
		cfg := DefaultConfig()
		cfg.Topics = []string{"blocks"}
		cfg.EnableSQMR = true
		_, reg := newUpgraded(t, cfg)
		require.Equal(t, 16, totalSeries(t, reg))
	})
	t.Run("GossipOnly", func(t *testing.T) {
		cfg := DefaultConfig()
		_, reg := newUpgraded(t, cfg)
		require.Equal(t, 12, totalSeries(t, reg))
	})
}

func TestBlacklistGauge(t *testing.T) {
	cfg := DefaultConfig()
	cfg.DisableGossip = true
	fh, _ := newUpgraded(t, cfg)

	other, err := mocknet.FullMeshConnected(1)
	require.NoError(t, err)
	pid := other.Hosts()[0].ID()

	gauge := fh.NetworkMetrics().NumBlacklistedPeers
	require.Zero(t, gauge.Value())

	fh.Blacklist().Add(pid)
	require.Equal(t, float64(1), gauge.Value())
	require.True(t, fh.Blacklist().Blacklisted(pid))
	require.False(t, fh.Blacklist().InterceptPeerDial(pid))

	// adding twice does not double count
	fh.Blacklist().Add(pid)
	require.Equal(t, float64(1), gauge.Value())

	fh.Blacklist().Remove(pid)
	require.Zero(t, gauge.Value())
	require.True(t, fh.Blacklist().InterceptPeerDial(pid))
}

func TestConnectedPeersGauge(t *testing.T) {
	mesh, err := mocknet.FullMeshLinked(2)
	require.NoError(t, err)

	cfg := DefaultConfig()
	cfg.DisableGossip = true
	reg := prometheus.NewRegistry()
	fh, err := Upgrade(mesh.Hosts()[0],
		WithConfig(cfg),
		WithLog(zaptest.NewLogger(t)),
		WithMetricsRegisterer(reg),
	)
	require.NoError(t, err)
	t.Cleanup(func() { fh.Stop() })

	require.Zero(t, fh.NetworkMetrics().NumConnectedPeers.Value())
	_, err = mesh.ConnectPeers(mesh.Hosts()[0].ID(), mesh.Hosts()[1].ID())
	require.NoError(t, err)
	require.Eventually(t, func() bool {
		return fh.NetworkMetrics().NumConnectedPeers.Value() == 1
	}, time.Second, 10*time.Millisecond)

	require.NoError(t, mesh.DisconnectPeers(mesh.Hosts()[0].ID(), mesh.Hosts()[1].ID()))
	require.Eventually(t, func() bool {
		return fh.NetworkMetrics().NumConnectedPeers.Value() == 0
	}, time.Second, 10*time.Millisecond)
}

func TestNewServerRequiresSQMR(t *testing.T) {
	handler := func(context.Context, []byte, *server.ResponseWriter) error { return nil }

	cfg := DefaultConfig()
	cfg.DisableGossip = true
	fh, _ := newUpgraded(t, cfg)
	_, err := fh.NewServer("proto", handler)
	require.Error(t, err)

	cfg.EnableSQMR = true
	fh2, _ := newUpgraded(t, cfg)
	srv, err := fh2.NewServer("proto", handler)
	require.NoError(t, err)
	require.NotNil(t, srv)
}
