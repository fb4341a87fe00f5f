package sparkle

import (
	"fmt"
	"net/netip"
	"sync"

	"github.com/multiformats/go-multiaddr"

	"github.com/ShiRenzhi/sparkle/pkg/crypto"
	"github.com/ShiRenzhi/sparkle/pkg/link"
	"github.com/ShiRenzhi/sparkle/pkg/transport"
)

// Node is the main entry point for a Sparkle peer. It aggregates the
// host keypair, the UDP transport, and the link layer, and provides a
// unified public API.
//
// All public methods are thread-safe.
type Node struct {
	config *Config

	hostKey   *crypto.KeyPair
	transport *transport.UDPTransport
	link      *link.LinkLayer

	// Lifecycle
	started bool
	startMu sync.Mutex
}

// New creates a new Sparkle node with the given configuration.
// The node is not started until Start() is called.
func New(cfg *Config) (*Node, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	cfg.applyDefaults()

	listen, err := AddrPortFromMultiaddr(cfg.ListenAddr)
	if err != nil {
		return nil, fmt.Errorf("invalid listen address: %w", err)
	}

	udp := transport.NewUDP(listen, cfg.PacketBufferSize)

	ll, err := link.New(link.Config{
		HostKey:            cfg.HostKey,
		Transport:          udp,
		NegotiationTimeout: cfg.NegotiationTimeout,
		JoinStepTimeout:    cfg.JoinStepTimeout,
		EventBufferSize:    cfg.EventBufferSize,
		MessageBufferSize:  cfg.MessageBufferSize,
		Logger:             cfg.Logger,
		Metrics:            cfg.Metrics,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create link layer: %w", err)
	}

	return &Node{
		config:    cfg,
		hostKey:   cfg.HostKey,
		transport: udp,
		link:      ll,
	}, nil
}

// Start launches the link layer task. It does not bind the socket;
// that happens on CreateNetwork or JoinNetwork.
func (n *Node) Start() error {
	n.startMu.Lock()
	defer n.startMu.Unlock()

	if n.started {
		return ErrNodeAlreadyStarted
	}
	n.link.Start()
	n.started = true
	return nil
}

// Stop shuts the node down and releases all resources. It does not
// announce an exit to the network; call ExitNetwork first and wait for
// EventReadyForShutdown for a graceful departure.
func (n *Node) Stop() error {
	n.startMu.Lock()
	defer n.startMu.Unlock()

	if !n.started {
		return ErrNodeNotStarted
	}
	n.link.Stop()
	n.started = false
	return nil
}

// CreateNetwork binds the transport and establishes this node as the
// first master of a fresh network. localIP is the address peers will
// reach this node at.
func (n *Node) CreateNetwork(localIP netip.Addr) error {
	if err := n.requireStarted(); err != nil {
		return err
	}
	return n.link.CreateNetwork(localIP, n.config.NetworkDivisor)
}

// JoinNetwork binds the transport and joins the network reachable at
// the bootstrap multiaddress. The outcome arrives as an EventJoined or
// EventJoinFailed on Events. forceBehindNAT skips NAT detection and
// registers as a NAT'd slave immediately.
func (n *Node) JoinNetwork(bootstrap multiaddr.Multiaddr, forceBehindNAT bool) error {
	if err := n.requireStarted(); err != nil {
		return err
	}
	ep, err := ValidateBootstrapAddr(bootstrap)
	if err != nil {
		return NewErrorWithCause(ErrCodeInvalidConfig, "invalid bootstrap address", err)
	}
	return n.link.JoinNetwork(ep, forceBehindNAT)
}

// ExitNetwork announces departure to a master and begins draining.
// EventReadyForShutdown is emitted once in-flight negotiations finish;
// Stop may be called then.
func (n *Node) ExitNetwork() error {
	if err := n.requireStarted(); err != nil {
		return err
	}
	return n.link.ExitNetwork()
}

// SendData sends an application frame to the peer holding the overlay
// address. The frame travels encrypted; if no session exists yet it is
// queued behind a fresh handshake.
func (n *Node) SendData(overlayIP netip.Addr, payload []byte) error {
	if err := n.requireStarted(); err != nil {
		return err
	}
	return n.link.SendData(overlayIP, payload)
}

// Events returns the channel for lifecycle events. The application
// should read from this channel promptly; events are dropped when the
// buffer fills.
func (n *Node) Events() <-chan Event {
	return n.link.Events()
}

// Messages returns the channel decrypted data-plane frames arrive on.
func (n *Node) Messages() <-chan IncomingData {
	return n.link.Messages()
}

// Self returns the local overlay identity once joined.
func (n *Node) Self() (SelfInfo, bool) {
	return n.link.Self()
}

// IsMaster reports whether this node currently holds the master role.
func (n *Node) IsMaster() bool {
	return n.link.IsMaster()
}

// PublicKeyBytes returns the host public key in wire form.
func (n *Node) PublicKeyBytes() []byte {
	return n.hostKey.PublicKeyBytes()
}

// Identity returns the overlay identity derived from the host key.
// Unlike Self, it is available before joining.
func (n *Node) Identity() Identity {
	return link.DeriveIdentity(n.hostKey.PublicKeyBytes())
}

// ListenAddr returns the configured listen multiaddress.
func (n *Node) ListenAddr() multiaddr.Multiaddr {
	return n.config.ListenAddr
}

// LocalPort returns the bound UDP port once the transport is up.
func (n *Node) LocalPort() uint16 {
	return n.transport.LocalPort()
}

// requireStarted fails operations on a stopped node.
func (n *Node) requireStarted() error {
	n.startMu.Lock()
	defer n.startMu.Unlock()
	if !n.started {
		return ErrNodeNotStarted
	}
	return nil
}
