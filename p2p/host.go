// Package p2p assembles the libp2p host, the broadcast layer and the network
// metrics aggregate into the node's network manager.
package p2p

import (
	"context"
	"fmt"
	"time"

	lp2plog "github.com/ipfs/go-log/v2"
	"github.com/libp2p/go-libp2p"
	"github.com/libp2p/go-libp2p/core/network"
	"github.com/libp2p/go-libp2p/core/peer"
	"github.com/libp2p/go-libp2p/core/transport"
	"github.com/libp2p/go-libp2p/p2p/host/peerstore/pstoremem"
	"github.com/libp2p/go-libp2p/p2p/muxer/yamux"
	"github.com/libp2p/go-libp2p/p2p/net/connmgr"
	"github.com/libp2p/go-libp2p/p2p/security/noise"
	"github.com/libp2p/go-libp2p/p2p/transport/tcp"
	"go.uber.org/zap"

	pmetrics "github.com/meshwire/meshwire/p2p/metrics"
)

// DefaultConfig config.
func DefaultConfig() Config {
	return Config{
		Listen:             "/ip4/0.0.0.0/tcp/7613",
		Flood:              true,
		LowPeers:           40,
		HighPeers:          100,
		GracePeersShutdown: 30 * time.Second,
		MaxMessageSize:     2 << 20,
	}
}

// Config for all things related to the p2p layer.
type Config struct {
	DataDir            string
	LogLevel           string
	GracePeersShutdown time.Duration
	MaxMessageSize     int

	DisableReusePort bool     `mapstructure:"disable-reuseport"`
	DisableNatPort   bool     `mapstructure:"disable-natport"`
	Flood            bool     `mapstructure:"flood"`
	Listen           string   `mapstructure:"listen"`
	Bootnodes        []string `mapstructure:"bootnodes"`
	LowPeers         int      `mapstructure:"low-peers"`
	HighPeers        int      `mapstructure:"high-peers"`
	Topics           []string `mapstructure:"topics"`
	EnableSQMR       bool     `mapstructure:"enable-sqmr"`
	DisableGossip    bool     `mapstructure:"disable-gossip"`
	Metrics          bool     `mapstructure:"p2p-metrics"`
}

// New initializes a libp2p host configured for meshwire.
func New(ctx context.Context, logger *zap.Logger, cfg Config, opts ...Opt) (*Host, error) {
	logger.Info("starting libp2p host", zap.Any("config", &cfg))
	key, err := EnsureIdentity(cfg.DataDir)
	if err != nil {
		return nil, err
	}
	if cfg.LogLevel != "" {
		if level, err := lp2plog.LevelFromString(cfg.LogLevel); err == nil {
			lp2plog.SetAllLoggers(level)
		}
	}
	cm, err := connmgr.NewConnManager(cfg.LowPeers, cfg.HighPeers,
		connmgr.WithGracePeriod(cfg.GracePeersShutdown))
	if err != nil {
		return nil, fmt.Errorf("p2p create conn mgr: %w", err)
	}
	streamer := *yamux.DefaultTransport
	ps, err := pstoremem.NewPeerstore()
	if err != nil {
		return nil, fmt.Errorf("can't create peer store: %w", err)
	}
	blacklist := NewBlacklist()
	bandwidth := pmetrics.NewBandwidthCollector()
	lopts := []libp2p.Option{
		libp2p.Identity(key),
		libp2p.ListenAddrStrings(cfg.Listen),
		libp2p.UserAgent("meshwire"),
		libp2p.Transport(func(upgrader transport.Upgrader, rcmgr network.ResourceManager) (transport.Transport, error) {
			topts := []tcp.Option{}
			if cfg.DisableReusePort {
				topts = append(topts, tcp.DisableReuseport())
			}
			if cfg.Metrics {
				topts = append(topts, tcp.WithMetrics())
			}
			return tcp.NewTCPTransport(upgrader, rcmgr, topts...)
		}),
		libp2p.Security(noise.ID, noise.New),
		libp2p.Muxer("/yamux/1.0.0", &streamer),
		libp2p.ConnectionManager(cm),
		libp2p.ConnectionGater(blacklist),
		libp2p.Peerstore(ps),
		libp2p.BandwidthReporter(bandwidth),
	}
	if !cfg.DisableNatPort {
		lopts = append(lopts, libp2p.NATPortMap())
	}
	h, err := libp2p.New(lopts...)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize libp2p host: %w", err)
	}

	logger.Info("local node identity", zap.Stringer("identity", h.ID()))
	opts = append(opts, WithConfig(cfg), WithLog(logger), WithContext(ctx), withBlacklist(blacklist))
	fh, err := Upgrade(h, opts...)
	if err != nil {
		return nil, err
	}
	fh.bandwidth = bandwidth
	return fh, nil
}

// Bootstrap dials the configured bootnodes.
func (fh *Host) Bootstrap(ctx context.Context) error {
	for _, bootnode := range fh.cfg.Bootnodes {
		info, err := peer.AddrInfoFromString(bootnode)
		if err != nil {
			return fmt.Errorf("parse into peer.AddrInfo %s: %w", bootnode, err)
		}
		if err := fh.Connect(ctx, *info); err != nil {
			fh.logger.Warn("failed to connect to bootnode",
				zap.String("address", bootnode), zap.Error(err))
		}
	}
	return nil
}
