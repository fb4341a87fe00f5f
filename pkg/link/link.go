// Package link implements the Sparkle control plane: the protocol
// state machine that discovers peers, negotiates pairwise encrypted
// channels, assigns overlay identities, maintains routing tables via
// master gossip, probes for NAT, and coordinates graceful exits.
//
// All link-layer state is owned by a single task started with Start.
// Public methods marshal onto that task, so they are safe to call from
// any goroutine.
package link

import (
	"errors"
	"net/netip"
	"strings"
	"sync"
	"time"

	"github.com/ShiRenzhi/sparkle/internal/eventdispatch"
	"github.com/ShiRenzhi/sparkle/pkg/crypto"
	"github.com/ShiRenzhi/sparkle/pkg/wire"
)

// ProtocolVersion is the link protocol version. Peers with a different
// version cannot join each other's networks.
const ProtocolVersion uint32 = 1

// Default timing bounds.
const (
	// DefaultNegotiationTimeout bounds a pairwise key negotiation.
	DefaultNegotiationTimeout = 5 * time.Second

	// DefaultJoinStepTimeout bounds each step of the join sequence,
	// including the NAT-probe ping collection.
	DefaultJoinStepTimeout = 5 * time.Second

	// DefaultEventBufferSize is the buffer of the events channel.
	DefaultEventBufferSize = 16

	// DefaultMessageBufferSize is the buffer of the data-frame channel.
	DefaultMessageBufferSize = 256
)

// natProbePings is the number of pings requested during the join NAT
// probe.
const natProbePings = 4

// maxPingBurst caps the pings a single PingRequest may ask for.
// Larger requests are treated as denial-of-service attempts.
const maxPingBurst = 16

// Sentinel errors returned by the public API.
var (
	// ErrClosed indicates the link layer task has stopped.
	ErrClosed = errors.New("link: closed")

	// ErrNotJoined indicates an operation that requires membership in
	// a network.
	ErrNotJoined = errors.New("link: not joined to a network")

	// ErrAlreadyJoined indicates a join or create on a node that is
	// already part of a network.
	ErrAlreadyJoined = errors.New("link: already joined")

	// ErrNoRoute indicates no peer holds the requested overlay address.
	ErrNoRoute = errors.New("link: no route to overlay address")

	// ErrSendToSelf indicates an attempt to send a packet to the local
	// node.
	ErrSendToSelf = errors.New("link: refusing to send to self")

	// ErrTransportInit indicates the transport could not be bound.
	ErrTransportInit = errors.New("link: cannot initiate transport")
)

// Config configures a LinkLayer.
type Config struct {
	// HostKey is the local RSA identity keypair. Required.
	HostKey *crypto.KeyPair

	// Transport delivers and sends datagrams. Required.
	Transport PacketTransport

	// NegotiationTimeout bounds a pairwise handshake. Defaults to
	// DefaultNegotiationTimeout.
	NegotiationTimeout time.Duration

	// JoinStepTimeout bounds each join step. Defaults to
	// DefaultJoinStepTimeout.
	JoinStepTimeout time.Duration

	// EventBufferSize is the events channel buffer. Defaults to
	// DefaultEventBufferSize.
	EventBufferSize int

	// MessageBufferSize is the data-frame channel buffer. Defaults to
	// DefaultMessageBufferSize.
	MessageBufferSize int

	// Logger receives link-layer logs. Defaults to NopLogger.
	Logger Logger

	// Metrics receives link-layer metrics. Defaults to NopMetrics.
	Metrics Metrics
}

func (c *Config) applyDefaults() {
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
	if c.Logger == nil {
		c.Logger = NopLogger{}
	}
	if c.Metrics == nil {
		c.Metrics = NopMetrics{}
	}
}

// LinkLayer is the Sparkle control-plane state machine.
type LinkLayer struct {
	cfg     Config
	log     Logger
	metrics Metrics

	hostKey   *crypto.KeyPair
	transport PacketTransport
	router    *Router

	// spool holds every peer record keyed by real endpoint, including
	// peers not (or not yet) in the routing table.
	spool map[netip.AddrPort]*Node

	// awaiting holds peers with an in-flight key negotiation.
	awaiting map[netip.AddrPort]*Node

	// cookies correlates the two legs of a public-key exchange.
	cookies map[uint32]*Node

	// join state
	joinStep          JoinStep
	joinMaster        *Node
	forceBehindNAT    bool
	joinPing          wire.PingPayload
	joinPingsEmitted  int
	joinPingsArrived  int
	networkDivisor    uint8
	transportStarted  bool
	preparingShutdown bool

	events   *eventdispatch.Dispatcher[Event]
	messages *eventdispatch.Dispatcher[IncomingData]

	commands chan func()
	timerC   chan timerFire
	timerGen map[string]uint64

	done     chan struct{}
	stopped  chan struct{}
	stopOnce sync.Once
}

// New creates a link layer. It does not bind the transport; that
// happens on CreateNetwork or JoinNetwork.
func New(cfg Config) (*LinkLayer, error) {
	if cfg.HostKey == nil {
		return nil, errors.New("link: host key is required")
	}
	if cfg.Transport == nil {
		return nil, errors.New("link: transport is required")
	}
	cfg.applyDefaults()

	l := &LinkLayer{
		cfg:       cfg,
		log:       cfg.Logger,
		metrics:   cfg.Metrics,
		hostKey:   cfg.HostKey,
		transport: cfg.Transport,
		router:    NewRouter(),
		spool:     make(map[netip.AddrPort]*Node),
		awaiting:  make(map[netip.AddrPort]*Node),
		cookies:   make(map[uint32]*Node),
		commands:  make(chan func()),
		timerC:    make(chan timerFire, 64),
		timerGen:  make(map[string]uint64),
		done:      make(chan struct{}),
		stopped:   make(chan struct{}),
	}
	l.events = eventdispatch.NewDispatcher[Event](cfg.EventBufferSize, func(Event) {
		l.metrics.EventDropped()
	})
	l.messages = eventdispatch.NewDispatcher[IncomingData](cfg.MessageBufferSize, func(IncomingData) {
		l.metrics.MessageDropped()
	})

	l.log.Debug("link layer ready", "protocol_version", ProtocolVersion)
	return l, nil
}

// Start launches the link layer task.
func (l *LinkLayer) Start() {
	go l.run()
}

// Stop terminates the link layer task and closes the transport. It
// does not announce an exit; call ExitNetwork first for a graceful
// departure. Safe to call multiple times.
func (l *LinkLayer) Stop() {
	l.stopOnce.Do(func() {
		close(l.done)
		<-l.stopped
		_ = l.transport.Close()
		l.events.Close()
		l.messages.Close()
	})
}

// Events returns the lifecycle event channel.
func (l *LinkLayer) Events() <-chan Event {
	return l.events.Out()
}

// Messages returns the channel decrypted data frames arrive on.
func (l *LinkLayer) Messages() <-chan IncomingData {
	return l.messages.Out()
}

// run is the link layer task. All state mutation happens here;
// handlers run to completion and never re-enter packet dispatch.
func (l *LinkLayer) run() {
	defer close(l.stopped)
	for {
		select {
		case pkt, ok := <-l.transport.Packets():
			if !ok {
				return
			}
			l.handlePacket(pkt)
		case fn := <-l.commands:
			fn()
		case f := <-l.timerC:
			l.handleTimer(f)
		case <-l.done:
			return
		}
	}
}

// call runs fn on the link layer task and waits for its result.
func (l *LinkLayer) call(fn func() error) error {
	errc := make(chan error, 1)
	select {
	case l.commands <- func() { errc <- fn() }:
	case <-l.done:
		return ErrClosed
	}
	select {
	case err := <-errc:
		return err
	case <-l.done:
		return ErrClosed
	}
}

// handleTimer dispatches an expired wakeup, discarding stale fires.
func (l *LinkLayer) handleTimer(f timerFire) {
	if !l.timerLive(f) {
		return
	}
	l.cancelTimer(f.name)

	switch {
	case f.name == timerJoin:
		l.joinTimeout()
	case f.name == timerPing:
		l.pingTimeout()
	case strings.HasPrefix(f.name, "negotiation/"):
		ep, err := netip.ParseAddrPort(strings.TrimPrefix(f.name, "negotiation/"))
		if err != nil {
			return
		}
		if node, ok := l.awaiting[ep]; ok {
			l.negotiationTimeout(node)
		}
	}
}

// initTransport binds the transport once.
func (l *LinkLayer) initTransport() error {
	if l.transportStarted {
		return nil
	}
	if err := l.transport.BeginReceiving(); err != nil {
		l.log.Error("cannot initiate transport (port already bound?)", "error", err)
		return errors.Join(ErrTransportInit, err)
	}
	l.log.Debug("transport initiated", "port", l.transport.LocalPort())
	l.transportStarted = true
	return nil
}

// wrapNode returns the spool record for an endpoint, creating it on
// first sight.
func (l *LinkLayer) wrapNode(ep netip.AddrPort) *Node {
	if node, ok := l.spool[ep]; ok {
		return node
	}
	node := newNode(ep)
	l.spool[ep] = node
	return node
}

// CreateNetwork brings the transport up and establishes this node as
// the first master of a fresh network.
func (l *LinkLayer) CreateNetwork(localIP netip.Addr, networkDivisor uint8) error {
	return l.call(func() error {
		if l.joinStep != JoinIdle {
			return ErrAlreadyJoined
		}
		if err := l.initTransport(); err != nil {
			return err
		}

		self := l.wrapNode(netip.AddrPortFrom(localIP, l.transport.LocalPort()))
		self.setMaster(true)
		self.setAuthKeyPair(l.hostKey)
		l.router.SetSelfNode(self)
		l.metrics.RoutingTableSize(l.router.Count())

		l.networkDivisor = networkDivisor
		l.log.Debug("created network",
			"endpoint", self.String(), "network_divisor", networkDivisor)

		l.joinStep = JoinFinished
		l.emitJoined(self)
		return nil
	})
}

// JoinNetwork brings the transport up and starts the join sequence
// against a bootstrap endpoint. The outcome arrives as an EventJoined
// or EventJoinFailed on Events.
func (l *LinkLayer) JoinNetwork(bootstrap netip.AddrPort, forceBehindNAT bool) error {
	return l.call(func() error {
		if l.joinStep != JoinIdle {
			return ErrAlreadyJoined
		}
		if err := l.initTransport(); err != nil {
			return err
		}

		l.log.Debug("joining network", "bootstrap", bootstrap.String())
		l.forceBehindNAT = forceBehindNAT
		l.joinStep = JoinVersionRequest
		l.sendPacket(wire.ProtocolVersionRequest, nil, l.wrapNode(bootstrap))
		l.schedule(timerJoin, l.cfg.JoinStepTimeout)
		return nil
	})
}

// ExitNetwork announces departure and begins draining. When the drain
// completes, EventReadyForShutdown is emitted.
func (l *LinkLayer) ExitNetwork() error {
	return l.call(func() error {
		l.exitNetwork()
		return nil
	})
}

// SendData frames an application payload as a DataPacket and feeds it
// through the encrypted-send gate towards the peer holding the overlay
// address. Unknown addresses trigger a RouteRequest to a master when
// this node is a slave; the frame itself is dropped.
func (l *LinkLayer) SendData(overlayIP netip.Addr, payload []byte) error {
	return l.call(func() error {
		if l.joinStep != JoinFinished {
			return ErrNotJoined
		}
		target := l.router.FindByOverlayIP(overlayIP)
		if target == nil {
			if !l.router.SelfNode().IsMaster() {
				l.sendRouteRequest(overlayIP)
			}
			return ErrNoRoute
		}
		if target == l.router.SelfNode() {
			return ErrSendToSelf
		}
		l.sendEncrypted(wire.DataPacket, payload, target)
		return nil
	})
}

// IsMaster reports the local role.
func (l *LinkLayer) IsMaster() bool {
	master := false
	_ = l.call(func() error {
		if self := l.router.SelfNode(); self != nil {
			master = self.IsMaster()
		}
		return nil
	})
	return master
}

// Self returns the local overlay identity once joined.
func (l *LinkLayer) Self() (SelfInfo, bool) {
	var info SelfInfo
	ok := false
	_ = l.call(func() error {
		self := l.router.SelfNode()
		if self == nil || l.joinStep != JoinFinished {
			return nil
		}
		info = l.selfInfo(self)
		ok = true
		return nil
	})
	return info, ok
}

// Snapshot is a point-in-time view of link-layer state for stats and
// health reporting.
type Snapshot struct {
	JoinStep        JoinStep
	Joined          bool
	IsMaster        bool
	Peers           int
	Masters         int
	SpoolSize       int
	AwaitingCount   int
	QueuedPackets   int
	NetworkDivisor  uint8
	PreparingToExit bool
}

// StateSnapshot captures the current link-layer state.
func (l *LinkLayer) StateSnapshot() Snapshot {
	var snap Snapshot
	_ = l.call(func() error {
		snap = Snapshot{
			JoinStep:        l.joinStep,
			Joined:          l.joinStep == JoinFinished,
			Peers:           l.router.Count(),
			Masters:         l.router.MasterCount(),
			SpoolSize:       len(l.spool),
			AwaitingCount:   len(l.awaiting),
			NetworkDivisor:  l.networkDivisor,
			PreparingToExit: l.preparingShutdown,
		}
		if self := l.router.SelfNode(); self != nil {
			snap.IsMaster = self.IsMaster()
		}
		for _, n := range l.spool {
			snap.QueuedPackets += len(n.queue)
		}
		return nil
	})
	return snap
}

// selfInfo builds the SelfInfo view of the local node.
func (l *LinkLayer) selfInfo(self *Node) SelfInfo {
	return SelfInfo{
		Identity:       self.Identity(),
		Endpoint:       self.Endpoint(),
		IsMaster:       self.IsMaster(),
		BehindNAT:      self.IsBehindNAT(),
		NetworkDivisor: l.networkDivisor,
	}
}

// emitJoined publishes the EventJoined notification.
func (l *LinkLayer) emitJoined(self *Node) {
	l.metrics.JoinResult("success")
	l.events.Emit(Event{
		Kind:      EventJoined,
		Self:      l.selfInfo(self),
		Timestamp: time.Now(),
	})
}

// emitJoinFailed publishes the EventJoinFailed notification.
func (l *LinkLayer) emitJoinFailed() {
	l.metrics.JoinResult("failure")
	l.events.Emit(Event{Kind: EventJoinFailed, Timestamp: time.Now()})
}

// exitNetwork runs the graceful-exit sequence on the link task.
func (l *LinkLayer) exitNetwork() {
	if l.joinStep != JoinFinished {
		l.log.Debug("join isn't finished, skipping exit finalization")
		l.events.Emit(Event{Kind: EventReadyForShutdown, Timestamp: time.Now()})
		return
	}

	self := l.router.SelfNode()
	if self.IsMaster() && l.router.MasterCount() == 1 {
		l.log.Debug("i'm the last master")
		l.reincarnateSomeone()
	} else {
		l.log.Debug("sending exit notification")
		if master := l.router.SelectMaster(); master != nil && master != self {
			l.sendEncrypted(wire.ExitNotification, nil, master)
		}
	}

	if len(l.awaiting) > 0 {
		l.preparingShutdown = true
	} else {
		l.events.Emit(Event{Kind: EventReadyForShutdown, Timestamp: time.Now()})
	}
}

// sendPacket frames and transmits an unencrypted packet.
func (l *LinkLayer) sendPacket(t wire.PacketType, payload []byte, node *Node) {
	if node == l.router.SelfNode() {
		l.log.Error("attempting to send packet to myself, dropping", "opcode", t.String())
		return
	}
	framed := wire.Frame(t, payload)
	if err := l.transport.Send(framed, node.Endpoint()); err != nil {
		l.log.Warn("transport send failed", "peer", node.String(), "error", err)
		return
	}
	l.metrics.PacketSent(t.String(), len(framed))
}

// sendEncrypted frames a packet and passes it through the handshake
// gate: encrypted immediately when session keys exist, queued behind a
// fresh negotiation otherwise.
func (l *LinkLayer) sendEncrypted(t wire.PacketType, payload []byte, node *Node) {
	framed := wire.Frame(t, payload)

	if !node.KeysNegotiated() {
		node.pushQueue(framed)
		if _, ok := l.awaiting[node.Endpoint()]; ok {
			l.log.Warn("still awaiting negotiation", "peer", node.String())
		} else {
			l.log.Debug("initiating negotiation", "peer", node.String())
			l.beginNegotiation(node)
		}
		return
	}

	l.encryptAndSend(framed, node)
}

// encryptAndSend encrypts a framed packet under the outbound session
// key and transmits it as an EncryptedPacket.
func (l *LinkLayer) encryptAndSend(framed []byte, node *Node) {
	session, err := node.mySession()
	if err != nil {
		l.metrics.EncryptionError()
		l.log.Error("cannot obtain session key", "peer", node.String(), "error", err)
		return
	}
	l.sendPacket(wire.EncryptedPacket, session.Encrypt(framed), node)
}
