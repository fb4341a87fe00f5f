// Package cli implements the sparkled command-line interface using
// Cobra. The daemon either creates a new overlay network or joins an
// existing one through a bootstrap node.
package cli

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "sparkled",
	Short: "Sparkle — self-organizing encrypting overlay network",
	Long: `Sparkle is a zero-configuration, fully distributed, self-organizing
encrypting overlay network. Every peer is identified by an RSA public
key; overlay addresses are derived from the hash of that key. A single
bootstrap address is sufficient to join.`,
	SilenceUsage:  true,
	SilenceErrors: true,
	RunE:          runDaemon,
}

var flags struct {
	port      uint16
	node      string
	create    bool
	profile   string
	keyLength int
	behindNAT bool
	divisor   uint8

	metricsAddr string
	verbose     bool
}

func init() {
	f := rootCmd.Flags()
	f.Uint16VarP(&flags.port, "port", "p", 1801, "use specified UDP port")
	f.StringVarP(&flags.node, "node", "n", "",
		"bootstrap address to join, or local address when creating a network")
	f.BoolVar(&flags.create, "create", false, "create a new network")
	f.StringVar(&flags.profile, "profile", "default", "use specified profile")
	f.IntVar(&flags.keyLength, "key-length", 0,
		"generate RSA key pair with specified length (first run only)")
	f.BoolVar(&flags.behindNAT, "behind-nat", false,
		"skip NAT detection and register as behind NAT")
	f.Uint8Var(&flags.divisor, "network-divisor", 0,
		"target at least 1/D of nodes as masters when creating")
	f.StringVar(&flags.metricsAddr, "metrics-addr", "",
		"serve Prometheus metrics and health checks on this address")
	f.BoolVarP(&flags.verbose, "verbose", "v", false, "enable debug logging")
}

// Execute runs the root command. Called from main.go.
func Execute(version string) {
	rootCmd.Version = version

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}
