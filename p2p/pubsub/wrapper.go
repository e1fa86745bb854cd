package pubsub

import (
	"context"
	"fmt"
	"sync"

	pubsub "github.com/libp2p/go-libp2p-pubsub"
	"github.com/libp2p/go-libp2p/core/host"
	"github.com/libp2p/go-libp2p/core/peer"
	"go.uber.org/zap"

	pmetrics "github.com/meshwire/meshwire/p2p/metrics"
)

// PubSub is the broadcast surface used by protocol code.
type PubSub interface {
	Register(topic string, handler GossipHandler)
	Publish(ctx context.Context, topic string, msg []byte) error
	ProtocolPeers(protocol string) []peer.ID
}

// NullPubSub is a no-op implementation for configurations with broadcast
// disabled.
type NullPubSub struct{}

var _ PubSub = &NullPubSub{}

// Register implements PubSub.
func (*NullPubSub) Register(topic string, handler GossipHandler) {}

// Publish implements PubSub.
func (*NullPubSub) Publish(ctx context.Context, topic string, msg []byte) error {
	return nil
}

// ProtocolPeers implements PubSub.
func (*NullPubSub) ProtocolPeers(protocol string) []peer.ID {
	return nil
}

// GossipPubSub is the gossipsub-backed broadcast layer. Per-topic broadcast
// counters are owned by the network metrics aggregate; this wrapper only
// increments them.
type GossipPubSub struct {
	logger     *zap.Logger
	pubsub     *pubsub.PubSub
	host       host.Host
	netMetrics *pmetrics.NetworkMetrics

	mu     sync.RWMutex
	topics map[string]*pubsub.Topic
}

var _ PubSub = &GossipPubSub{}

// Register handler for topic.
func (ps *GossipPubSub) Register(topic string, handler GossipHandler) {
	ps.mu.Lock()
	defer ps.mu.Unlock()
	if _, exist := ps.topics[topic]; exist {
		ps.logger.Panic("already registered a topic", zap.String("topic", topic))
	}
	broadcastMetrics := ps.broadcastMetrics(topic)
	ps.pubsub.RegisterTopicValidator(
		topic,
		func(ctx context.Context, pid peer.ID, msg *pubsub.Message) pubsub.ValidationResult {
			rst := handler(ctx, pid, msg.Data)
			if rst == pubsub.ValidationAccept && broadcastMetrics != nil {
				broadcastMetrics.NumReceivedBroadcastMessages.Inc()
			}
			if rst != pubsub.ValidationAccept {
				ps.logger.Debug("topic validation did not accept message",
					zap.String("topic", topic), zap.Stringer("peer", pid))
			}
			return rst
		},
	)
	topich, err := ps.pubsub.Join(topic)
	if err != nil {
		ps.logger.Panic("failed to join a topic", zap.String("topic", topic), zap.Error(err))
	}
	ps.topics[topic] = topich
	if _, err := topich.Relay(); err != nil {
		ps.logger.Panic("failed to enable relay for topic",
			zap.String("topic", topic), zap.Error(err))
	}
}

// Publish message to the topic.
func (ps *GossipPubSub) Publish(ctx context.Context, topic string, msg []byte) error {
	ps.mu.RLock()
	topich := ps.topics[topic]
	ps.mu.RUnlock()
	if topich == nil {
		ps.logger.Panic("Publish is called before Register", zap.String("topic", topic))
	}
	if err := topich.Publish(ctx, msg); err != nil {
		return fmt.Errorf("failed to publish to topic %v: %w", topic, err)
	}
	if broadcastMetrics := ps.broadcastMetrics(topic); broadcastMetrics != nil {
		broadcastMetrics.NumSentBroadcastMessages.Inc()
	}
	if ps.netMetrics != nil && ps.netMetrics.GossipsubMetrics != nil {
		ps.netMetrics.GossipsubMetrics.NumMessagesPublished.Inc()
	}
	return nil
}

// ProtocolPeers returns the list of peers communicating on a given protocol.
func (ps *GossipPubSub) ProtocolPeers(protocol string) []peer.ID {
	return ps.pubsub.ListPeers(protocol)
}

func (ps *GossipPubSub) broadcastMetrics(topic string) *pmetrics.BroadcastNetworkMetrics {
	if ps.netMetrics == nil {
		return nil
	}
	return ps.netMetrics.BroadcastMetricsByTopic[topic]
}
