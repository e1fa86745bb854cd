// Package pubsub wraps gossipsub into the broadcast layer of the node.
package pubsub

import (
	"context"
	"fmt"
	"time"

	pubsub "github.com/libp2p/go-libp2p-pubsub"
	pb "github.com/libp2p/go-libp2p-pubsub/pb"
	"github.com/libp2p/go-libp2p/core/host"
	"github.com/libp2p/go-libp2p/core/peer"
	"github.com/zeebo/blake3"
	"go.uber.org/zap"

	pmetrics "github.com/meshwire/meshwire/p2p/metrics"
)

const (
	GossipScoreThreshold             = -500
	PublishScoreThreshold            = -1000
	GraylistScoreThreshold           = -2500
	AcceptPXScoreThreshold           = 1000
	OpportunisticGraftScoreThreshold = 3.5
)

// DefaultConfig for PubSub.
func DefaultConfig() Config {
	return Config{Flood: true, QueueSize: 8192}
}

// Config for PubSub.
type Config struct {
	Flood          bool
	IsBootnode     bool
	MaxMessageSize int
	QueueSize      int
}

// GossipHandler is a function for receiving messages.
type GossipHandler = func(context.Context, peer.ID, []byte) ValidationResult

// ValidationResult is one of the validation result constants.
type ValidationResult = pubsub.ValidationResult

const (
	// ValidationAccept should be returned if message is good and can be broadcasted.
	ValidationAccept = pubsub.ValidationAccept
	// ValidationIgnore should be returned if message might be good, but outdated
	// and shouldn't be broadcasted.
	ValidationIgnore = pubsub.ValidationIgnore
	// ValidationReject should be returned if message is malformed or malicious
	// and shouldn't be broadcasted. Peer might potentially get banned on this result.
	ValidationReject = pubsub.ValidationReject
)

// ChainGossipHandler helper to chain multiple GossipHandler together. Called
// synchronously and in order.
func ChainGossipHandler(handlers ...GossipHandler) GossipHandler {
	return func(ctx context.Context, pid peer.ID, msg []byte) ValidationResult {
		for _, h := range handlers {
			if rst := h(ctx, pid, msg); rst != pubsub.ValidationAccept {
				return rst
			}
		}
		return pubsub.ValidationAccept
	}
}

// New creates a GossipPubSub instance. The network metrics aggregate must be
// registered by the caller before the first message flows; its gossipsub
// group (when present) is fed by a raw tracer attached to the router.
func New(
	ctx context.Context,
	logger *zap.Logger,
	h host.Host,
	netMetrics *pmetrics.NetworkMetrics,
	cfg Config,
) (*GossipPubSub, error) {
	var gossipMetrics *pmetrics.GossipsubMetrics
	if netMetrics != nil {
		gossipMetrics = netMetrics.GossipsubMetrics
	}
	ps, err := pubsub.NewGossipSub(ctx, h, getOptions(cfg, pmetrics.NewGossipTracer(gossipMetrics))...)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize gossipsub instance: %w", err)
	}
	return &GossipPubSub{
		logger:     logger,
		pubsub:     ps,
		host:       h,
		netMetrics: netMetrics,
		topics:     map[string]*pubsub.Topic{},
	}, nil
}

func msgID(msg *pb.Message) string {
	hasher := blake3.New()
	if msg.Topic != nil {
		hasher.Write([]byte(*msg.Topic))
	}
	hasher.Write(msg.Data)
	return string(hasher.Sum(nil))
}

func getOptions(cfg Config, tracer *pmetrics.GossipTracer) []pubsub.Option {
	options := []pubsub.Option{
		pubsub.WithFloodPublish(cfg.Flood),
		pubsub.WithMessageIdFn(msgID),
		pubsub.WithNoAuthor(),
		pubsub.WithMessageSignaturePolicy(pubsub.StrictNoSign),
		pubsub.WithPeerOutboundQueueSize(cfg.QueueSize),
		pubsub.WithValidateQueueSize(cfg.QueueSize),
		pubsub.WithRawTracer(tracer),
		pubsub.WithPeerScore(
			&pubsub.PeerScoreParams{
				AppSpecificScore: func(p peer.ID) float64 {
					return 0
				},
				AppSpecificWeight: 1,

				// P7: behavioural penalties, decay after 1hr
				BehaviourPenaltyThreshold: 6,
				BehaviourPenaltyWeight:    -10,
				BehaviourPenaltyDecay:     pubsub.ScoreParameterDecay(time.Hour),

				DecayInterval: pubsub.DefaultDecayInterval,
				DecayToZero:   pubsub.DefaultDecayToZero,

				// this retains non-positive scores for 6 hours
				RetainScore: 6 * time.Hour,
			},
			&pubsub.PeerScoreThresholds{
				GossipThreshold:             GossipScoreThreshold,
				PublishThreshold:            PublishScoreThreshold,
				GraylistThreshold:           GraylistScoreThreshold,
				AcceptPXThreshold:           AcceptPXScoreThreshold,
				OpportunisticGraftThreshold: OpportunisticGraftScoreThreshold,
			},
		),
	}
	if cfg.MaxMessageSize != 0 {
		options = append(options, pubsub.WithMaxMessageSize(cfg.MaxMessageSize))
	}
	// enable peer exchange on bootnodes
	if cfg.IsBootnode {
		options = append(options, pubsub.WithPeerExchange(true))
	}
	return options
}
