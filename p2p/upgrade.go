package p2p

import (
	"context"
	"fmt"

	"github.com/libp2p/go-libp2p/core/host"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/meshwire/meshwire/metrics"
	pmetrics "github.com/meshwire/meshwire/p2p/metrics"
	"github.com/meshwire/meshwire/p2p/pubsub"
	"github.com/meshwire/meshwire/p2p/server"
)

// Opt is for configuring Host.
type Opt func(fh *Host)

// WithLog configures logger for Host.
func WithLog(logger *zap.Logger) Opt {
	return func(fh *Host) {
		fh.logger = logger
	}
}

// WithConfig sets Config for Host.
func WithConfig(cfg Config) Opt {
	return func(fh *Host) {
		fh.cfg = cfg
	}
}

// WithContext sets context for Host.
func WithContext(ctx context.Context) Opt {
	return func(fh *Host) {
		fh.ctx = ctx
	}
}

// WithMetricsRegisterer overrides the prometheus registerer the network
// metrics are declared to. Defaults to the global registerer.
func WithMetricsRegisterer(registerer prometheus.Registerer) Opt {
	return func(fh *Host) {
		fh.metricsOpts = append(fh.metricsOpts, metrics.WithRegisterer(registerer))
	}
}

func withBlacklist(blacklist *Blacklist) Opt {
	return func(fh *Host) {
		fh.blacklist = blacklist
	}
}

// Host is a convenience wrapper for all p2p related functionality required to
// run a full meshwire node.
type Host struct {
	ctx    context.Context
	cfg    Config
	logger *zap.Logger

	host.Host
	pubsub.PubSub

	netMetrics  *pmetrics.NetworkMetrics
	metricsOpts []metrics.Opt
	blacklist   *Blacklist
	bandwidth   *pmetrics.BandwidthCollector
}

// Upgrade creates Host instance from host.Host. The network metrics
// aggregate is assembled from the configured sub-protocol set and registered
// here, exactly once, before any protocol handler is attached.
func Upgrade(h host.Host, opts ...Opt) (*Host, error) {
	fh := &Host{
		ctx:    context.Background(),
		cfg:    DefaultConfig(),
		logger: zap.NewNop(),
		Host:   h,
	}
	for _, opt := range opts {
		opt(fh)
	}
	cfg := fh.cfg

	fh.netMetrics = pmetrics.NewNetworkMetrics(
		cfg.Topics, cfg.EnableSQMR, !cfg.DisableGossip, fh.metricsOpts...)
	fh.netMetrics.Register()

	h.Network().Notify(pmetrics.NewConnectionsMeeter(fh.netMetrics))
	if fh.blacklist == nil {
		fh.blacklist = NewBlacklist()
	}
	fh.blacklist.bind(fh.netMetrics.NumBlacklistedPeers)

	if cfg.DisableGossip {
		fh.PubSub = &pubsub.NullPubSub{}
	} else {
		gossip, err := pubsub.New(fh.ctx, fh.logger, h, fh.netMetrics, pubsub.Config{
			Flood:          cfg.Flood,
			MaxMessageSize: cfg.MaxMessageSize,
			QueueSize:      pubsub.DefaultConfig().QueueSize,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to initialize pubsub: %w", err)
		}
		fh.PubSub = gossip
	}
	return fh, nil
}

// NetworkMetrics returns the node's metrics aggregate. Protocol handlers
// mutate the leaf metrics directly as events occur.
func (fh *Host) NetworkMetrics() *pmetrics.NetworkMetrics {
	return fh.netMetrics
}

// Blacklist returns the connection gater.
func (fh *Host) Blacklist() *Blacklist {
	return fh.blacklist
}

// Bandwidth returns the bandwidth collector, nil unless the host was built
// with New.
func (fh *Host) Bandwidth() *pmetrics.BandwidthCollector {
	return fh.bandwidth
}

// NewServer creates an SQMR server for the protocol, wired to the session
// gauges when the SQMR group is enabled.
func (fh *Host) NewServer(proto string, handler server.Handler, opts ...server.Opt) (*server.Server, error) {
	if fh.netMetrics.SqmrMetrics == nil {
		return nil, fmt.Errorf("SQMR is not enabled for this node")
	}
	opts = append([]server.Opt{
		server.WithLog(fh.logger),
		server.WithSessionMetrics(fh.netMetrics.SqmrMetrics),
	}, opts...)
	return server.New(fh.Host, proto, handler, opts...), nil
}

// Stop releases the host's external resources.
func (fh *Host) Stop() error {
	if err := fh.Host.Close(); err != nil {
		return fmt.Errorf("failed to close libp2p host: %w", err)
	}
	return nil
}
