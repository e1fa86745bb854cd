package metrics

import (
	"sync"

	"github.com/libp2p/go-libp2p/core/network"
	"github.com/libp2p/go-libp2p/core/peer"
	ma "github.com/multiformats/go-multiaddr"

	"github.com/meshwire/meshwire/metrics"
)

// ConnectionsMeeter drives the node-wide connected peers gauge from network
// notifications. Multiple connections to the same peer count once.
type ConnectionsMeeter struct {
	connected *metrics.Gauge

	mu    sync.Mutex
	conns map[peer.ID]int
}

var _ network.Notifiee = (*ConnectionsMeeter)(nil)

// NewConnectionsMeeter returns a ConnectionsMeeter updating the
// NumConnectedPeers gauge of the aggregate.
func NewConnectionsMeeter(netMetrics *NetworkMetrics) *ConnectionsMeeter {
	return &ConnectionsMeeter{
		connected: netMetrics.NumConnectedPeers,
		conns:     make(map[peer.ID]int),
	}
}

// Listen called when network starts listening on an addr.
func (c *ConnectionsMeeter) Listen(network.Network, ma.Multiaddr) {}

// ListenClose called when network stops listening on an addr.
func (c *ConnectionsMeeter) ListenClose(network.Network, ma.Multiaddr) {}

// Connected called when a connection opened.
func (c *ConnectionsMeeter) Connected(_ network.Network, conn network.Conn) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.conns[conn.RemotePeer()]++
	if c.conns[conn.RemotePeer()] == 1 {
		c.connected.Inc()
	}
}

// Disconnected called when a connection closed.
func (c *ConnectionsMeeter) Disconnected(_ network.Network, conn network.Conn) {
	c.mu.Lock()
	defer c.mu.Unlock()
	remote := conn.RemotePeer()
	if c.conns[remote] == 0 {
		return
	}
	c.conns[remote]--
	if c.conns[remote] == 0 {
		delete(c.conns, remote)
		c.connected.Dec()
	}
}
