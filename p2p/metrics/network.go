// Package metrics aggregates the metrics emitted by the p2p layer. The
// aggregate is assembled once at node startup from the set of enabled
// sub-protocols and registered in a single pass before any network event is
// processed.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/meshwire/meshwire/metrics"
)

const subsystem = "p2p"

// Topic identifies a broadcast topic. Topics are compared by value.
type Topic = string

// BroadcastNetworkMetrics counts broadcast messages for a single topic.
type BroadcastNetworkMetrics struct {
	NumSentBroadcastMessages     *metrics.Counter
	NumReceivedBroadcastMessages *metrics.Counter
}

// NewBroadcastNetworkMetrics creates the per-topic broadcast counters. The
// topic is attached as a constant label so topics share the metric family.
func NewBroadcastNetworkMetrics(topic Topic, opts ...metrics.Opt) *BroadcastNetworkMetrics {
	opts = append(opts, metrics.WithLabels(prometheus.Labels{"topic": topic}))
	return &BroadcastNetworkMetrics{
		NumSentBroadcastMessages: metrics.NewCounter(
			"num_sent_broadcast_messages",
			"Number of broadcast messages sent on the topic",
			opts...,
		),
		NumReceivedBroadcastMessages: metrics.NewCounter(
			"num_received_broadcast_messages",
			"Number of broadcast messages received on the topic",
			opts...,
		),
	}
}

// Register declares both counters. Must run before either counter is
// incremented.
func (m *BroadcastNetworkMetrics) Register() {
	m.NumSentBroadcastMessages.Register()
	m.NumReceivedBroadcastMessages.Register()
}

// SqmrNetworkMetrics tracks active single-query-multiple-response sessions.
type SqmrNetworkMetrics struct {
	NumActiveInboundSessions  *metrics.Gauge
	NumActiveOutboundSessions *metrics.Gauge
}

// NewSqmrNetworkMetrics creates the session gauges.
func NewSqmrNetworkMetrics(opts ...metrics.Opt) *SqmrNetworkMetrics {
	return &SqmrNetworkMetrics{
		NumActiveInboundSessions: metrics.NewGauge(
			"num_active_inbound_sessions",
			"Number of currently open inbound SQMR sessions",
			opts...,
		),
		NumActiveOutboundSessions: metrics.NewGauge(
			"num_active_outbound_sessions",
			"Number of currently open outbound SQMR sessions",
			opts...,
		),
	}
}

// Register declares both gauges and sets them to 0. No session can exist
// before registration, so the baseline is asserted explicitly rather than
// left to the backend default.
func (m *SqmrNetworkMetrics) Register() {
	m.NumActiveInboundSessions.Register()
	m.NumActiveInboundSessions.Set(0)
	m.NumActiveOutboundSessions.Register()
	m.NumActiveOutboundSessions.Set(0)
}

// GossipsubMetrics counts the gossip transport's internal events. Each
// counter is an independent monotonic tally.
type GossipsubMetrics struct {
	NumMessagesReceived      *metrics.Counter
	NumMessagesPublished     *metrics.Counter
	NumSubscriptions         *metrics.Counter
	NumUnsubscriptions       *metrics.Counter
	NumPeerSubscribed        *metrics.Counter
	NumPeerUnsubscribed      *metrics.Counter
	NumGossipsubNotSupported *metrics.Counter
	NumSlowPeers             *metrics.Counter
	NumPeerAdded             *metrics.Counter
	NumPeerRemoved           *metrics.Counter
}

// NewGossipsubMetrics creates the gossipsub event counters.
func NewGossipsubMetrics(opts ...metrics.Opt) *GossipsubMetrics {
	return &GossipsubMetrics{
		NumMessagesReceived: metrics.NewCounter(
			"num_messages_received", "Number of gossipsub messages received", opts...),
		NumMessagesPublished: metrics.NewCounter(
			"num_messages_published", "Number of gossipsub messages published", opts...),
		NumSubscriptions: metrics.NewCounter(
			"num_subscriptions", "Number of topic subscriptions", opts...),
		NumUnsubscriptions: metrics.NewCounter(
			"num_unsubscriptions", "Number of topic unsubscriptions", opts...),
		NumPeerSubscribed: metrics.NewCounter(
			"num_peer_subscribed", "Number of remote peer subscribe events", opts...),
		NumPeerUnsubscribed: metrics.NewCounter(
			"num_peer_unsubscribed", "Number of remote peer unsubscribe events", opts...),
		NumGossipsubNotSupported: metrics.NewCounter(
			"num_gossipsub_not_supported", "Number of peers attached without gossipsub support", opts...),
		NumSlowPeers: metrics.NewCounter(
			"num_slow_peers", "Number of slow peer detections", opts...),
		NumPeerAdded: metrics.NewCounter(
			"num_peer_added", "Number of peer added events", opts...),
		NumPeerRemoved: metrics.NewCounter(
			"num_peer_removed", "Number of peer removed events", opts...),
	}
}

// Register declares all ten counters. Counters start at the backend's
// implicit zero, so no initial value is set.
func (m *GossipsubMetrics) Register() {
	m.NumMessagesReceived.Register()
	m.NumMessagesPublished.Register()
	m.NumSubscriptions.Register()
	m.NumUnsubscriptions.Register()
	m.NumPeerSubscribed.Register()
	m.NumPeerUnsubscribed.Register()
	m.NumGossipsubNotSupported.Register()
	m.NumSlowPeers.Register()
	m.NumPeerAdded.Register()
	m.NumPeerRemoved.Register()
}

// NetworkMetrics is the root aggregate, one per running node. A nil group
// means the corresponding sub-protocol is disabled; code paths that would
// touch it must be configuration-gated.
type NetworkMetrics struct {
	NumConnectedPeers   *metrics.Gauge
	NumBlacklistedPeers *metrics.Gauge

	BroadcastMetricsByTopic map[Topic]*BroadcastNetworkMetrics
	SqmrMetrics             *SqmrNetworkMetrics
	GossipsubMetrics        *GossipsubMetrics
}

// NewNetworkMetrics assembles the aggregate for the enabled sub-protocol
// set. An empty topic list leaves the broadcast mapping nil.
func NewNetworkMetrics(topics []Topic, sqmr, gossipsub bool, opts ...metrics.Opt) *NetworkMetrics {
	m := &NetworkMetrics{
		NumConnectedPeers: metrics.NewGauge(
			"num_connected_peers", "Number of connected peers", opts...),
		NumBlacklistedPeers: metrics.NewGauge(
			"num_blacklisted_peers", "Number of blacklisted peers", opts...),
	}
	if len(topics) > 0 {
		m.BroadcastMetricsByTopic = make(map[Topic]*BroadcastNetworkMetrics, len(topics))
		for _, topic := range topics {
			m.BroadcastMetricsByTopic[topic] = NewBroadcastNetworkMetrics(topic, opts...)
		}
	}
	if sqmr {
		m.SqmrMetrics = NewSqmrNetworkMetrics(opts...)
	}
	if gossipsub {
		m.GossipsubMetrics = NewGossipsubMetrics(opts...)
	}
	return m
}

// Register declares every present metric and initializes the gauges to
// their startup baseline. It must be called exactly once per instance, after
// construction and before the node processes any network event. The
// registration pass runs single-threaded; only the subsequent counter and
// gauge mutations are concurrent.
func (m *NetworkMetrics) Register() {
	m.NumConnectedPeers.Register()
	m.NumConnectedPeers.Set(0)
	m.NumBlacklistedPeers.Register()
	m.NumBlacklistedPeers.Set(0)
	for _, broadcastMetrics := range m.BroadcastMetricsByTopic {
		broadcastMetrics.Register()
	}
	if m.SqmrMetrics != nil {
		m.SqmrMetrics.Register()
	}
	if m.GossipsubMetrics != nil {
		m.GossipsubMetrics.Register()
	}
}
