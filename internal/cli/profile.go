package cli

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/BurntSushi/toml"

	"github.com/ShiRenzhi/sparkle/pkg/crypto"
)

// Profile is the on-disk daemon configuration, stored as
// ~/.sparkle/<profile>/config.toml. Command-line flags override it.
type Profile struct {
	// Port is the UDP port to bind.
	Port uint16 `toml:"port"`

	// Node is the bootstrap address, or the local address when
	// creating a network.
	Node string `toml:"node"`

	// Create makes the daemon create a network instead of joining.
	Create bool `toml:"create"`

	// BehindNAT skips NAT detection when joining.
	BehindNAT bool `toml:"behind_nat"`

	// NetworkDivisor is the master-ratio divisor for created networks.
	NetworkDivisor uint8 `toml:"network_divisor"`

	// MetricsAddr serves Prometheus metrics and health checks when
	// non-empty, e.g. "127.0.0.1:9090".
	MetricsAddr string `toml:"metrics_addr"`
}

// profileDir returns (and creates) the directory of a named profile.
func profileDir(profile string) (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("resolving home directory: %w", err)
	}
	dir := filepath.Join(home, ".sparkle", profile)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return "", fmt.Errorf("creating profile directory: %w", err)
	}
	return dir, nil
}

// loadProfile reads the profile's config.toml. A missing file yields
// an empty profile, not an error.
func loadProfile(dir string) (Profile, error) {
	var p Profile
	path := filepath.Join(dir, "config.toml")
	if _, err := toml.DecodeFile(path, &p); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return Profile{}, nil
		}
		return Profile{}, fmt.Errorf("reading %s: %w", path, err)
	}
	return p, nil
}

// loadOrGenerateKey returns the profile's host keypair, generating and
// persisting one on first run.
func loadOrGenerateKey(dir string, bits int) (*crypto.KeyPair, error) {
	path := filepath.Join(dir, "rsa_key")
	if _, err := os.Stat(path); err == nil {
		return crypto.ReadFromFile(path)
	}

	if bits == 0 {
		bits = crypto.DefaultKeyBits
	}
	fmt.Printf("Generating RSA key pair (%d bits)...", bits)
	key, err := crypto.Generate(bits)
	if err != nil {
		fmt.Println(" failed!")
		return nil, err
	}
	if err := key.WriteToFile(path); err != nil {
		fmt.Println(" writing failed!")
		return nil, err
	}
	fmt.Println(" done")
	return key, nil
}
