package sparkle

import (
	"fmt"
	"time"

	"github.com/multiformats/go-multiaddr"

	"github.com/ShiRenzhi/sparkle/pkg/crypto"
	"github.com/ShiRenzhi/sparkle/pkg/link"
)

// Default configuration values.
const (
	// DefaultNetworkDivisor targets one master per ten nodes.
	DefaultNetworkDivisor = 10

	// DefaultNegotiationTimeout bounds a pairwise key negotiation.
	DefaultNegotiationTimeout = link.DefaultNegotiationTimeout

	// DefaultJoinStepTimeout bounds each step of the join sequence.
	DefaultJoinStepTimeout = link.DefaultJoinStepTimeout

	// DefaultEventBufferSize is the buffer of the events channel.
	DefaultEventBufferSize = link.DefaultEventBufferSize

	// DefaultMessageBufferSize is the buffer of the data-frame channel.
	DefaultMessageBufferSize = link.DefaultMessageBufferSize

	// DefaultPacketBufferSize is the buffer of inbound datagrams
	// between the socket reader and the link layer task.
	DefaultPacketBufferSize = 256
)

// Config holds the configuration for a Sparkle node.
type Config struct {
	// HostKey is the RSA keypair anchoring this node's identity.
	// This is required and must be provided by the application.
	HostKey *crypto.KeyPair

	// ListenAddr is the UDP multiaddress this node binds, e.g.
	// /ip4/0.0.0.0/udp/1801. Required.
	ListenAddr multiaddr.Multiaddr

	// NetworkDivisor is the divisor D governing the master ratio: the
	// network keeps at least 1/D of its nodes masters. Only meaningful
	// on the node that creates a network; joiners adopt the network's
	// divisor.
	NetworkDivisor uint8

	// NegotiationTimeout bounds a pairwise key negotiation.
	NegotiationTimeout time.Duration

	// JoinStepTimeout bounds each step of the join sequence, including
	// the NAT-probe ping collection.
	JoinStepTimeout time.Duration

	// EventBufferSize is the buffer size for the events channel.
	EventBufferSize int

	// MessageBufferSize is the buffer size for the incoming data
	// channel.
	MessageBufferSize int

	// PacketBufferSize is the buffer size for inbound datagrams.
	PacketBufferSize int

	// Logger is the logger for the node. If nil, a NopLogger is used.
	// The logger must be safe for concurrent use.
	Logger Logger

	// Metrics is the metrics collector for the node. If nil, a
	// NopMetrics is used. It must be safe for concurrent use.
	Metrics Metrics
}

// Validate checks that the configuration is valid and returns an
// error describing any problems found.
func (c *Config) Validate() error {
	if c.HostKey == nil {
		return ErrMissingHostKey
	}
	if !c.HostKey.HasPrivate() {
		return fmt.Errorf("%w: host keypair lacks the private half", ErrInvalidConfig)
	}
	if c.ListenAddr == nil {
		return ErrMissingListenAddr
	}
	if _, err := AddrPortFromMultiaddr(c.ListenAddr); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}
	if c.NetworkDivisor == 0 {
		return fmt.Errorf("%w: network divisor cannot be zero", ErrInvalidConfig)
	}
	if c.NegotiationTimeout < 0 {
		return fmt.Errorf("%w: negotiation timeout cannot be negative", ErrInvalidConfig)
	}
	if c.JoinStepTimeout < 0 {
		return fmt.Errorf("%w: join step timeout cannot be negative", ErrInvalidConfig)
	}
	if c.EventBufferSize < 0 {
		return fmt.Errorf("%w: event buffer size cannot be negative", ErrInvalidConfig)
	}
	if c.MessageBufferSize < 0 {
		return fmt.Errorf("%w: message buffer size cannot be negative", ErrInvalidConfig)
	}
	if c.PacketBufferSize < 0 {
		return fmt.Errorf("%w: packet buffer size cannot be negative", ErrInvalidConfig)
	}
	return nil
}

// applyDefaults sets default values for any unset optional fields.
func (c *Config) applyDefaults() {
	if c.NetworkDivisor == 0 {
		c.NetworkDivisor = DefaultNetworkDivisor
	}
	if c.NegotiationTimeout == 0 {
		c.NegotiationTimeout = DefaultNegotiationTimeout
	}
	if c.JoinStepTimeout == 0 {
		c.JoinStepTimeout = DefaultJoinStepTimeout
	}
	if c.EventBufferSize == 0 {
		c.EventBufferSize = DefaultEventBufferSize
	}
	if c.MessageBufferSize == 0 {
		c.MessageBufferSize = DefaultMessageBufferSize
	}
	if c.PacketBufferSize == 0 {
		c.PacketBufferSize = DefaultPacketBufferSize
	}
	if c.Logger == nil {
		c.Logger = NopLogger{}
	}
	if c.Metrics == nil {
		c.Metrics = NopMetrics{}
	}
}

// ConfigOption is a functional option for configuring a Node.
type ConfigOption func(*Config)

// WithNetworkDivisor sets the master-ratio divisor for a created
// network.
func WithNetworkDivisor(d uint8) ConfigOption {
	return func(c *Config) {
		c.NetworkDivisor = d
	}
}

// WithNegotiationTimeout sets the pairwise negotiation timeout.
func WithNegotiationTimeout(d time.Duration) ConfigOption {
	return func(c *Config) {
		c.NegotiationTimeout = d
	}
}

// WithJoinStepTimeout sets the per-step join timeout.
func WithJoinStepTimeout(d time.Duration) ConfigOption {
	return func(c *Config) {
		c.JoinStepTimeout = d
	}
}

// WithEventBufferSize sets the buffer size for the events channel.
func WithEventBufferSize(size int) ConfigOption {
	return func(c *Config) {
		c.EventBufferSize = size
	}
}

// WithMessageBufferSize sets the buffer size for the incoming data
// channel.
func WithMessageBufferSize(size int) ConfigOption {
	return func(c *Config) {
		c.MessageBufferSize = size
	}
}

// WithPacketBufferSize sets the buffer size for inbound datagrams.
func WithPacketBufferSize(size int) ConfigOption {
	return func(c *Config) {
		c.PacketBufferSize = size
	}
}

// WithLogger sets the logger for the node.
// The logger must be safe for concurrent use.
func WithLogger(l Logger) ConfigOption {
	return func(c *Config) {
		c.Logger = l
	}
}

// WithMetrics sets the metrics collector for the node.
// The metrics collector must be safe for concurrent use.
func WithMetrics(m Metrics) ConfigOption {
	return func(c *Config) {
		c.Metrics = m
	}
}

// NewConfig creates a new Config with the required fields and applies
// any provided options. It applies defaults for unset optional fields
// but does not validate the configuration.
func NewConfig(hostKey *crypto.KeyPair, listenAddr multiaddr.Multiaddr, opts ...ConfigOption) *Config {
	c := &Config{
		HostKey:    hostKey,
		ListenAddr: listenAddr,
	}
	for _, opt := range opts {
		opt(c)
	}
	c.applyDefaults()
	return c
}
