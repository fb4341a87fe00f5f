package link

import (
	"fmt"
	"net/netip"
	"time"
)

// EventKind discriminates link-layer lifecycle events.
type EventKind int

const (
	// EventJoined is emitted when the node finished joining (or
	// creating) a network. Self describes the acquired identity.
	EventJoined EventKind = iota + 1

	// EventJoinFailed is emitted when a join attempt failed. All peer
	// state has been reverted when it is observed.
	EventJoinFailed

	// EventReadyForShutdown is emitted when an exit has been announced
	// and all in-flight negotiations drained.
	EventReadyForShutdown
)

// String returns a human-readable name for the event kind.
func (k EventKind) String() string {
	switch k {
	case EventJoined:
		return "Joined"
	case EventJoinFailed:
		return "JoinFailed"
	case EventReadyForShutdown:
		return "ReadyForShutdown"
	default:
		return fmt.Sprintf("EventKind(%d)", int(k))
	}
}

// SelfInfo describes the local node's acquired place in the overlay.
type SelfInfo struct {
	// Identity is the assigned overlay identity.
	Identity Identity

	// Endpoint is the real endpoint as seen by the network.
	Endpoint netip.AddrPort

	// IsMaster reports the assigned role.
	IsMaster bool

	// BehindNAT reports whether NAT was detected during the join.
	BehindNAT bool

	// NetworkDivisor is the divisor governing the master ratio.
	NetworkDivisor uint8
}

// Event is a link-layer lifecycle notification delivered to the
// application.
type Event struct {
	// Kind discriminates the event.
	Kind EventKind

	// Self is set for EventJoined.
	Self SelfInfo

	// Timestamp is when the event occurred.
	Timestamp time.Time
}

// IncomingData is a decrypted data-plane frame handed to the
// application layer.
type IncomingData struct {
	// Payload is the frame exactly as the peer framed it.
	Payload []byte

	// SparkleIP is the sender's overlay address, if known.
	SparkleIP netip.Addr

	// Source is the sender's real endpoint.
	Source netip.AddrPort
}
