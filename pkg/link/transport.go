package link

import "net/netip"

// InboundPacket is a datagram delivered by a PacketTransport together
// with its source endpoint.
type InboundPacket struct {
	Data   []byte
	Source netip.AddrPort
}

// PacketTransport is the datagram transport the link layer runs over.
// The canonical implementation is pkg/transport's UDP transport; tests
// substitute an in-memory network.
type PacketTransport interface {
	// BeginReceiving binds the transport and starts delivering inbound
	// datagrams on Packets. It is idempotent at the link layer: the
	// link layer calls it at most once.
	BeginReceiving() error

	// Packets returns the channel inbound datagrams arrive on.
	Packets() <-chan InboundPacket

	// Send transmits a datagram best-effort. Failures are returned for
	// logging only; the link layer never retries.
	Send(data []byte, to netip.AddrPort) error

	// LocalPort returns the bound UDP port.
	LocalPort() uint16

	// Close releases the socket and closes the Packets channel.
	Close() error
}
