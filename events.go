package sparkle

import "github.com/ShiRenzhi/sparkle/pkg/link"

// Event is a link-layer lifecycle notification delivered on the
// Events channel. Re-exported from pkg/link for the public API.
type Event = link.Event

// EventKind discriminates lifecycle events.
type EventKind = link.EventKind

// Lifecycle event kinds.
const (
	// EventJoined is emitted when the node finished joining (or
	// creating) a network.
	EventJoined = link.EventJoined

	// EventJoinFailed is emitted when a join attempt failed.
	EventJoinFailed = link.EventJoinFailed

	// EventReadyForShutdown is emitted when an exit has been announced
	// and all in-flight negotiations drained.
	EventReadyForShutdown = link.EventReadyForShutdown
)

// SelfInfo describes the local node's place in the overlay.
type SelfInfo = link.SelfInfo

// IncomingData is a decrypted data-plane frame delivered on the
// Messages channel.
type IncomingData = link.IncomingData

// Identity is a peer's derived overlay identity.
type Identity = link.Identity
