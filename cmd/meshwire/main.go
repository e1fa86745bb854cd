package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/meshwire/meshwire/metrics"
	"github.com/meshwire/meshwire/p2p"
)

var (
	configPath string
	logLevel   string

	metricsPort       int
	metricsPush       string
	metricsPushPeriod time.Duration
	metricsPushUser   string
	metricsPushPass   string
	metricsPushID     string
	metricsNetwork    string
)

func init() {
	cfg := p2p.DefaultConfig()

	cmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "path to the config file")
	cmd.PersistentFlags().StringVar(&logLevel, "level", "info", "logging level")

	cmd.PersistentFlags().String("data-dir", "", "directory to persist the node identity")
	cmd.PersistentFlags().String("listen", cfg.Listen, "address for the p2p host to listen on")
	cmd.PersistentFlags().StringSlice("bootnodes", nil, "multiaddrs of the bootstrap nodes")
	cmd.PersistentFlags().StringSlice("topics", nil, "gossip topics to track broadcast metrics for")
	cmd.PersistentFlags().Int("low-peers", cfg.LowPeers, "low watermark for the number of connections")
	cmd.PersistentFlags().Int("high-peers", cfg.HighPeers, "high watermark for the number of connections")
	cmd.PersistentFlags().Bool("flood", cfg.Flood, "flood published messages to all peers")
	cmd.PersistentFlags().Bool("enable-sqmr", false, "enable the streamed query protocol and its session metrics")
	cmd.PersistentFlags().Bool("disable-gossip", false, "run without the gossip layer")
	cmd.PersistentFlags().Bool("disable-reuseport", false, "disable tcp port reuse")
	cmd.PersistentFlags().Bool("disable-natport", false, "disable nat port mapping")
	cmd.PersistentFlags().Bool("p2p-metrics", false, "enable extended transport metrics")

	cmd.PersistentFlags().IntVar(&metricsPort, "metrics-port", 0,
		"port to expose prometheus metrics on, 0 disables the endpoint")
	cmd.PersistentFlags().StringVar(&metricsPush, "metrics-push", "",
		"url of a push gateway to periodically push metrics to")
	cmd.PersistentFlags().DurationVar(&metricsPushPeriod, "metrics-push-period", 10*time.Second,
		"period between metric pushes")
	cmd.PersistentFlags().StringVar(&metricsPushUser, "metrics-push-user", "",
		"basic auth username for the push gateway")
	cmd.PersistentFlags().StringVar(&metricsPushPass, "metrics-push-pass", "",
		"basic auth password for the push gateway")
	cmd.PersistentFlags().StringVar(&metricsPushID, "metrics-push-id", "node",
		"node identifier used as a push grouping label")
	cmd.PersistentFlags().StringVar(&metricsNetwork, "metrics-push-network", "mainnet",
		"network name used as a push grouping label")
}

var cmd = &cobra.Command{
	Use:   "meshwire",
	Short: "run a meshwire network node",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig(cmd)
		if err != nil {
			return err
		}
		cfg.LogLevel = logLevel

		lvl, err := zap.ParseAtomicLevel(strings.ToLower(logLevel))
		if err != nil {
			return fmt.Errorf("parse log level %q: %w", logLevel, err)
		}
		zcfg := zap.NewProductionConfig()
		zcfg.Level = lvl
		logger, err := zcfg.Build()
		if err != nil {
			return fmt.Errorf("create logger: %w", err)
		}
		defer logger.Sync()

		ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer cancel()

		host, err := p2p.New(ctx, logger.Named("p2p"), cfg)
		if err != nil {
			return fmt.Errorf("initialize p2p host: %w", err)
		}
		defer host.Stop()
		if err := host.Bootstrap(ctx); err != nil {
			return err
		}

		if metricsPort != 0 {
			metrics.StartCollectingMetrics(logger.Named("metrics"), metricsPort)
		}
		if metricsPush != "" {
			metrics.StartPushingMetrics(logger.Named("push"),
				metricsPush, metricsPushUser, metricsPushPass, nil,
				metricsPushPeriod, metricsPushID, metricsNetwork)
		}

		logger.Info("node is up", zap.Stringer("identity", host.ID()))
		<-ctx.Done()
		logger.Info("shutting down")
		return nil
	},
}

// loadConfig merges the optional config file with the command line flags,
// flags winning.
func loadConfig(cmd *cobra.Command) (p2p.Config, error) {
	cfg := p2p.DefaultConfig()
	vip := viper.New()
	if err := vip.BindPFlags(cmd.PersistentFlags()); err != nil {
		return cfg, fmt.Errorf("bind flags: %w", err)
	}
	if configPath != "" {
		vip.SetConfigFile(configPath)
		if err := vip.ReadInConfig(); err != nil {
			return cfg, fmt.Errorf("read config file %s: %w", configPath, err)
		}
	}
	if err := vip.Unmarshal(&cfg); err != nil {
		return cfg, fmt.Errorf("unmarshal config: %w", err)
	}
	cfg.DataDir = vip.GetString("data-dir")
	return cfg, nil
}

func main() {
	if err := cmd.Execute(); err != nil {
		_, _ = fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
