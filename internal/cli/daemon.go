package cli

import (
	"errors"
	"fmt"
	"net/http"
	"net/netip"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/multiformats/go-multiaddr"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"

	"github.com/ShiRenzhi/sparkle"
	prommetrics "github.com/ShiRenzhi/sparkle/prometheus"
)

// exitDrainTimeout bounds how long the daemon waits for the link layer
// to finish draining after announcing its exit.
const exitDrainTimeout = 10 * time.Second

// runDaemon is the root command: create or join a network and run
// until interrupted.
func runDaemon(cmd *cobra.Command, args []string) error {
	dir, err := profileDir(flags.profile)
	if err != nil {
		return err
	}
	profile, err := loadProfile(dir)
	if err != nil {
		return err
	}
	applyFlagOverrides(cmd, &profile)

	if profile.Node == "" {
		return errors.New("'node' option is mandatory")
	}
	nodeAddr, err := netip.ParseAddr(profile.Node)
	if err != nil {
		return fmt.Errorf("invalid node address %q: %w", profile.Node, err)
	}

	key, err := loadOrGenerateKey(dir, flags.keyLength)
	if err != nil {
		return fmt.Errorf("loading RSA key pair: %w", err)
	}

	logger := newLogger(flags.verbose)

	listen, err := multiaddr.NewMultiaddr(fmt.Sprintf("/ip4/0.0.0.0/udp/%d", profile.Port))
	if err != nil {
		return err
	}

	opts := []sparkle.ConfigOption{sparkle.WithLogger(logger)}
	if profile.NetworkDivisor != 0 {
		opts = append(opts, sparkle.WithNetworkDivisor(profile.NetworkDivisor))
	}
	if profile.MetricsAddr != "" {
		opts = append(opts, sparkle.WithMetrics(prommetrics.NewMetrics("")))
	}

	node, err := sparkle.New(sparkle.NewConfig(key, listen, opts...))
	if err != nil {
		return err
	}
	if err := node.Start(); err != nil {
		return err
	}
	defer node.Stop()

	if profile.MetricsAddr != "" {
		go serveMetrics(profile.MetricsAddr, node, logger)
	}

	if profile.Create {
		if err := node.CreateNetwork(nodeAddr); err != nil {
			return fmt.Errorf("creating network failed: %w", err)
		}
	} else {
		bootstrap, err := multiaddr.NewMultiaddr(
			fmt.Sprintf("/ip4/%s/udp/%d", nodeAddr, profile.Port))
		if err != nil {
			return err
		}
		if err := node.JoinNetwork(bootstrap, profile.BehindNAT); err != nil {
			return fmt.Errorf("joining network failed: %w", err)
		}
	}

	return serve(node, logger)
}

// applyFlagOverrides lets explicitly set flags win over the profile.
func applyFlagOverrides(cmd *cobra.Command, p *Profile) {
	if cmd.Flags().Changed("port") || p.Port == 0 {
		p.Port = flags.port
	}
	if cmd.Flags().Changed("node") || p.Node == "" {
		p.Node = flags.node
	}
	if cmd.Flags().Changed("create") {
		p.Create = flags.create
	}
	if cmd.Flags().Changed("behind-nat") {
		p.BehindNAT = flags.behindNAT
	}
	if cmd.Flags().Changed("network-divisor") {
		p.NetworkDivisor = flags.divisor
	}
	if cmd.Flags().Changed("metrics-addr") {
		p.MetricsAddr = flags.metricsAddr
	}
}

// serve pumps events and data frames until a signal arrives, then
// exits the network gracefully.
func serve(node *sparkle.Node, logger slogLogger) error {
	sigC := make(chan os.Signal, 1)
	signal.Notify(sigC, os.Interrupt, syscall.SIGTERM)

	for {
		select {
		case ev, ok := <-node.Events():
			if !ok {
				return nil
			}
			switch ev.Kind {
			case sparkle.EventJoined:
				logger.Info("joined network",
					"sparkle_ip", ev.Self.Identity.IP.String(),
					"endpoint", ev.Self.Endpoint.String(),
					"master", ev.Self.IsMaster,
					"behind_nat", ev.Self.BehindNAT)
			case sparkle.EventJoinFailed:
				return errors.New("joining network failed")
			case sparkle.EventReadyForShutdown:
				logger.Info("network exit complete")
				return nil
			}

		case msg, ok := <-node.Messages():
			if !ok {
				return nil
			}
			// The TAP device consumes these in a full deployment; the
			// bare daemon only accounts for them.
			logger.Debug("data frame",
				"from", msg.SparkleIP.String(), "bytes", len(msg.Payload))

		case <-sigC:
			logger.Info("shutting down")
			if err := node.ExitNetwork(); err != nil {
				return nil
			}
			return awaitDrain(node, logger)
		}
	}
}

// awaitDrain waits for EventReadyForShutdown after an exit
// announcement, bounded by exitDrainTimeout.
func awaitDrain(node *sparkle.Node, logger slogLogger) error {
	deadline := time.NewTimer(exitDrainTimeout)
	defer deadline.Stop()

	for {
		select {
		case ev, ok := <-node.Events():
			if !ok {
				return nil
			}
			if ev.Kind == sparkle.EventReadyForShutdown {
				logger.Info("network exit complete")
				return nil
			}
		case <-deadline.C:
			logger.Warn("exit drain timed out")
			return nil
		}
	}
}

// serveMetrics exposes Prometheus metrics and health endpoints.
func serveMetrics(addr string, node *sparkle.Node, logger slogLogger) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.Handle("/health", sparkle.HealthHandler(node))
	mux.Handle("/live", sparkle.LivenessHandler(node))

	logger.Info("serving metrics", "addr", addr)
	if err := http.ListenAndServe(addr, mux); err != nil {
		logger.Error("metrics server failed", "error", err)
	}
}
