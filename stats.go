package sparkle

import "time"

// Stats is a point-in-time snapshot of node state. All fields are
// copies and safe to read without synchronization.
type Stats struct {
	// JoinStep is the current join state.
	JoinStep string

	// Joined reports whether the node is a member of a network.
	Joined bool

	// IsMaster reports the current role.
	IsMaster bool

	// Peers is the number of routed peers including self.
	Peers int

	// Masters is the number of known masters including self.
	Masters int

	// KnownEndpoints is the size of the node spool, including peers
	// not (or not yet) in the routing table.
	KnownEndpoints int

	// AwaitingNegotiation is the number of peers with an in-flight
	// handshake.
	AwaitingNegotiation int

	// QueuedPackets is the number of packets queued behind handshakes.
	QueuedPackets int

	// NetworkDivisor is the divisor governing the master ratio.
	NetworkDivisor uint8

	// PreparingToExit reports whether the node announced an exit and
	// is draining.
	PreparingToExit bool

	// CapturedAt is when the snapshot was taken.
	CapturedAt time.Time
}

// Stats captures the current node state.
func (n *Node) Stats() Stats {
	snap := n.link.StateSnapshot()
	return Stats{
		JoinStep:            snap.JoinStep.String(),
		Joined:              snap.Joined,
		IsMaster:            snap.IsMaster,
		Peers:               snap.Peers,
		Masters:             snap.Masters,
		KnownEndpoints:      snap.SpoolSize,
		AwaitingNegotiation: snap.AwaitingCount,
		QueuedPackets:       snap.QueuedPackets,
		NetworkDivisor:      snap.NetworkDivisor,
		PreparingToExit:     snap.PreparingToExit,
		CapturedAt:          time.Now(),
	}
}
