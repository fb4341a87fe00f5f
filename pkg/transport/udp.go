// Package transport provides the UDP implementation of the link
// layer's PacketTransport: a single socket shared by all peers,
// delivering datagrams with their source endpoint.
package transport

import (
	"errors"
	"fmt"
	"net"
	"net/netip"
	"sync"

	"github.com/ShiRenzhi/sparkle/internal/pool"
	"github.com/ShiRenzhi/sparkle/pkg/link"
)

// maxDatagramSize bounds a single read. The wire header's 16-bit
// length field cannot describe anything larger.
const maxDatagramSize = 65535

// UDPTransport is a PacketTransport over a single UDP socket.
type UDPTransport struct {
	listenAddr netip.AddrPort

	mu      sync.Mutex
	conn    *net.UDPConn
	started bool
	closed  bool

	packets chan link.InboundPacket
}

// Ensure UDPTransport implements link.PacketTransport.
var _ link.PacketTransport = (*UDPTransport)(nil)

// NewUDP creates a transport that will bind to the given address.
// Use port 0 to let the kernel pick one.
func NewUDP(listenAddr netip.AddrPort, packetBuffer int) *UDPTransport {
	return &UDPTransport{
		listenAddr: listenAddr,
		packets:    make(chan link.InboundPacket, packetBuffer),
	}
}

// BeginReceiving binds the socket and starts the reader goroutine.
func (t *UDPTransport) BeginReceiving() error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.closed {
		return errors.New("transport: closed")
	}
	if t.started {
		return nil
	}

	conn, err := net.ListenUDP("udp4", net.UDPAddrFromAddrPort(t.listenAddr))
	if err != nil {
		return fmt.Errorf("transport: binding %s: %w", t.listenAddr, err)
	}
	t.conn = conn
	t.started = true

	go t.readLoop(conn)
	return nil
}

// readLoop delivers datagrams until the socket closes.
func (t *UDPTransport) readLoop(conn *net.UDPConn) {
	defer close(t.packets)

	for {
		buf := pool.GetExactBuffer(maxDatagramSize)
		n, src, err := conn.ReadFromUDPAddrPort(*buf)
		if err != nil {
			pool.PutBuffer(buf)
			return
		}

		// The link layer owns the datagram after delivery, so it gets
		// its own copy and the read buffer goes back to the pool.
		data := make([]byte, n)
		copy(data, (*buf)[:n])
		pool.PutBuffer(buf)

		source := netip.AddrPortFrom(src.Addr().Unmap(), src.Port())

		// Datagram semantics: when the consumer falls behind, excess
		// packets are dropped rather than blocking the socket reader.
		select {
		case t.packets <- link.InboundPacket{Data: data, Source: source}:
		default:
		}
	}
}

// Packets returns the inbound datagram channel.
func (t *UDPTransport) Packets() <-chan link.InboundPacket {
	return t.packets
}

// Send transmits one datagram best-effort.
func (t *UDPTransport) Send(data []byte, to netip.AddrPort) error {
	t.mu.Lock()
	conn := t.conn
	t.mu.Unlock()

	if conn == nil {
		return errors.New("transport: not receiving")
	}
	if _, err := conn.WriteToUDPAddrPort(data, to); err != nil {
		return fmt.Errorf("transport: sending to %s: %w", to, err)
	}
	return nil
}

// LocalPort returns the bound port, or the configured one before bind.
func (t *UDPTransport) LocalPort() uint16 {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.conn != nil {
		if addr, ok := t.conn.LocalAddr().(*net.UDPAddr); ok {
			return uint16(addr.Port)
		}
	}
	return t.listenAddr.Port()
}

// Close releases the socket; the reader goroutine closes Packets.
func (t *UDPTransport) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.closed {
		return nil
	}
	t.closed = true
	if t.conn != nil {
		return t.conn.Close()
	}
	close(t.packets)
	return nil
}
