package metrics

import (
	"testing"

	"github.com/libp2p/go-libp2p/core/network"
	"github.com/libp2p/go-libp2p/core/peer"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/require"

	"github.com/meshwire/meshwire/metrics"
)

type stubConn struct {
	network.Conn
	remote peer.ID
}

func (c stubConn) RemotePeer() peer.ID { return c.remote }

func TestConnectionsMeeter(t *testing.T) {
	netMetrics := NewNetworkMetrics(nil, false, false,
		metrics.WithRegisterer(prometheus.NewRegistry()))
	netMetrics.Register()
	meeter := NewConnectionsMeeter(netMetrics)

	meeter.Connected(nil, stubConn{remote: "peer_1"})
	meeter.Connected(nil, stubConn{remote: "peer_1"})
	meeter.Connected(nil, stubConn{remote: "peer_2"})
	require.Equal(t, float64(2), netMetrics.NumConnectedPeers.Value())

	// the first disconnect of peer_1 still leaves one open connection
	meeter.Disconnected(nil, stubConn{remote: "peer_1"})
	require.Equal(t, float64(2), netMetrics.NumConnectedPeers.Value())
	meeter.Disconnected(nil, stubConn{remote: "peer_1"})
	require.Equal(t, float64(1), netMetrics.NumConnectedPeers.Value())

	// disconnect without a tracked connection is ignored
	meeter.Disconnected(nil, stubConn{remote: "peer_3"})
	require.Equal(t, float64(1), netMetrics.NumConnectedPeers.Value())
}

func TestBandwidthCollector(t *testing.T) {
	collector := NewBandwidthCollector()
	collector.LogSentMessageStream(128, "/sqmr/1", "peer_1")
	collector.LogSentMessageStream(64, "/sqmr/1", "peer_2")
	collector.LogRecvMessageStream(32, "/sqmr/1", "peer_1")

	stat := collector.GetStat()
	require.Equal(t, int64(2), stat.MessagesPerProtocol["/sqmr/1"][outgoing])
	require.Equal(t, int64(1), stat.MessagesPerProtocol["/sqmr/1"][incoming])
}
