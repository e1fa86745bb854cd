package metrics

import (
	"sync"

	pubsub "github.com/libp2p/go-libp2p-pubsub"
	"github.com/libp2p/go-libp2p/core/peer"
	"github.com/libp2p/go-libp2p/core/protocol"
)

// PeersStat is a snapshot of the peers attached to the gossip router.
type PeersStat struct {
	TotalPeers       int
	PeersPerProtocol map[protocol.ID]int
}

// GossipTracer is a pubsub.RawTracer implementation that feeds the gossipsub
// event counters and keeps an in-memory per-protocol peer snapshot. The
// metrics group may be nil when gossipsub metrics are disabled; the snapshot
// is maintained either way.
type GossipTracer struct {
	metrics *GossipsubMetrics

	peers struct {
		sync.Mutex
		m map[peer.ID]protocol.ID
	}
}

var _ pubsub.RawTracer = (*GossipTracer)(nil)

// NewGossipTracer creates a GossipTracer feeding the given group.
func NewGossipTracer(metrics *GossipsubMetrics) *GossipTracer {
	tracer := &GossipTracer{metrics: metrics}
	tracer.peers.m = make(map[peer.ID]protocol.ID)
	return tracer
}

// GetStat returns the current peers snapshot.
func (g *GossipTracer) GetStat() *PeersStat {
	g.peers.Lock()
	defer g.peers.Unlock()
	perProtocol := make(map[protocol.ID]int, len(g.peers.m))
	for _, proto := range g.peers.m {
		perProtocol[proto]++
	}
	return &PeersStat{
		TotalPeers:       len(g.peers.m),
		PeersPerProtocol: perProtocol,
	}
}

// AddPeer is invoked when a new peer is added. A peer attached over the
// floodsub protocol does not speak gossipsub.
func (g *GossipTracer) AddPeer(id peer.ID, proto protocol.ID) {
	g.peers.Lock()
	g.peers.m[id] = proto
	g.peers.Unlock()

	if g.metrics == nil {
		return
	}
	g.metrics.NumPeerAdded.Inc()
	if proto == pubsub.FloodSubID {
		g.metrics.NumGossipsubNotSupported.Inc()
	}
}

// RemovePeer is invoked when a peer is removed.
func (g *GossipTracer) RemovePeer(id peer.ID) {
	g.peers.Lock()
	delete(g.peers.m, id)
	g.peers.Unlock()

	if g.metrics == nil {
		return
	}
	g.metrics.NumPeerRemoved.Inc()
}

// Join is invoked when a new topic is joined.
func (g *GossipTracer) Join(string) {
	if g.metrics == nil {
		return
	}
	g.metrics.NumSubscriptions.Inc()
}

// Leave is invoked when a topic is abandoned.
func (g *GossipTracer) Leave(string) {
	if g.metrics == nil {
		return
	}
	g.metrics.NumUnsubscriptions.Inc()
}

// Graft is invoked when a remote peer joins the topic mesh.
func (g *GossipTracer) Graft(peer.ID, string) {
	if g.metrics == nil {
		return
	}
	g.metrics.NumPeerSubscribed.Inc()
}

// Prune is invoked when a remote peer leaves the topic mesh.
func (g *GossipTracer) Prune(peer.ID, string) {
	if g.metrics == nil {
		return
	}
	g.metrics.NumPeerUnsubscribed.Inc()
}

// ValidateMessage is invoked when a message first enters the validation pipeline.
func (g *GossipTracer) ValidateMessage(*pubsub.Message) {}

// DeliverMessage is invoked when a message is delivered.
func (g *GossipTracer) DeliverMessage(*pubsub.Message) {
	if g.metrics == nil {
		return
	}
	g.metrics.NumMessagesReceived.Inc()
}

// RejectMessage is invoked when a message is rejected or ignored.
func (g *GossipTracer) RejectMessage(*pubsub.Message, string) {}

// DuplicateMessage is invoked when a duplicate message is dropped.
func (g *GossipTracer) DuplicateMessage(*pubsub.Message) {}

// ThrottlePeer is invoked when a peer is throttled by the peer gater.
func (g *GossipTracer) ThrottlePeer(peer.ID) {
	if g.metrics == nil {
		return
	}
	g.metrics.NumSlowPeers.Inc()
}

// RecvRPC is invoked when an incoming RPC is received.
func (g *GossipTracer) RecvRPC(*pubsub.RPC) {}

// SendRPC is invoked when a RPC is sent.
func (g *GossipTracer) SendRPC(*pubsub.RPC, peer.ID) {}

// DropRPC is invoked when an outbound RPC is dropped, typically because of a queue full.
func (g *GossipTracer) DropRPC(*pubsub.RPC, peer.ID) {}

// UndeliverableMessage is invoked when the consumer of Subscribe is not
// reading messages fast enough and the pressure release mechanism triggers,
// dropping messages.
func (g *GossipTracer) UndeliverableMessage(*pubsub.Message) {}
