// Package testutil provides an in-memory datagram network so complete
// multi-node link-layer scenarios run in-process without sockets.
package testutil

import (
	"errors"
	"net/netip"
	"sync"

	"github.com/ShiRenzhi/sparkle/pkg/link"
)

// DropRule inspects a datagram in flight and reports whether the
// network should lose it. Used to simulate NATs and lossy paths.
type DropRule func(data []byte, from, to netip.AddrPort) bool

// Network is an in-memory datagram fabric connecting Transports.
type Network struct {
	mu        sync.Mutex
	endpoints map[netip.AddrPort]*Transport
	dropRule  DropRule
}

// NewNetwork creates an empty fabric.
func NewNetwork() *Network {
	return &Network{endpoints: make(map[netip.AddrPort]*Transport)}
}

// SetDropRule installs a rule applied to every datagram. A nil rule
// delivers everything.
func (n *Network) SetDropRule(rule DropRule) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.dropRule = rule
}

// Endpoint creates and attaches a transport reachable at addr.
func (n *Network) Endpoint(addr netip.AddrPort) *Transport {
	n.mu.Lock()
	defer n.mu.Unlock()

	t := &Transport{
		net:     n,
		addr:    addr,
		packets: make(chan link.InboundPacket, 1024),
	}
	n.endpoints[addr] = t
	return t
}

// deliver routes one datagram, applying the drop rule.
func (n *Network) deliver(data []byte, from, to netip.AddrPort) {
	n.mu.Lock()
	dst := n.endpoints[to]
	rule := n.dropRule
	n.mu.Unlock()

	if dst == nil || !dst.receiving() {
		return
	}
	if rule != nil && rule(data, from, to) {
		return
	}

	cp := append([]byte(nil), data...)
	select {
	case dst.packets <- link.InboundPacket{Data: cp, Source: from}:
	default:
	}
}

// Transport is one in-memory endpoint implementing link.PacketTransport.
type Transport struct {
	net  *Network
	addr netip.AddrPort

	mu      sync.Mutex
	started bool
	closed  bool

	packets chan link.InboundPacket
}

// Ensure Transport implements link.PacketTransport.
var _ link.PacketTransport = (*Transport)(nil)

// BeginReceiving marks the endpoint as live.
func (t *Transport) BeginReceiving() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return errors.New("testutil: transport closed")
	}
	t.started = true
	return nil
}

func (t *Transport) receiving() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.started && !t.closed
}

// Packets returns the inbound datagram channel.
func (t *Transport) Packets() <-chan link.InboundPacket {
	return t.packets
}

// Send routes a datagram through the fabric.
func (t *Transport) Send(data []byte, to netip.AddrPort) error {
	t.net.deliver(data, t.addr, to)
	return nil
}

// LocalPort returns the endpoint's port.
func (t *Transport) LocalPort() uint16 {
	return t.addr.Port()
}

// Close detaches the endpoint and closes the packet channel.
func (t *Transport) Close() error {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return nil
	}
	t.closed = true
	t.mu.Unlock()

	t.net.mu.Lock()
	delete(t.net.endpoints, t.addr)
	t.net.mu.Unlock()

	close(t.packets)
	return nil
}
