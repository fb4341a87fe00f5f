package link

// Metrics defines the metrics collection interface for the link layer.
//
// Implementations must be safe for concurrent use.
//
// Metric naming convention:
//   - Counters: <name>_total (e.g., packets_sent_total)
//   - Histograms: <name>_seconds (e.g., handshake_duration_seconds)
//   - Gauges: current_<name> (e.g., current_routes)
type Metrics interface {
	// PacketSent records a transmitted packet.
	// Labels: opcode (the packet type name)
	PacketSent(opcode string, bytes int)

	// PacketReceived records a received packet.
	// Labels: opcode (the packet type name)
	PacketReceived(opcode string, bytes int)

	// PacketDropped records a packet discarded before handling.
	// Labels: reason (malformed, unexpected, crypto, unknown_opcode)
	PacketDropped(reason string)

	// HandshakeResult records the outcome of a key negotiation.
	// Labels: result (success, timeout, failure)
	HandshakeResult(result string)

	// HandshakeDuration records the duration of a successful negotiation.
	HandshakeDuration(seconds float64)

	// JoinResult records the outcome of a join attempt.
	// Labels: result (success, failure)
	JoinResult(result string)

	// RoleChanged records a change of the local role.
	// Labels: role (master, slave)
	RoleChanged(role string)

	// RoutingTableSize records the current number of routed peers.
	RoutingTableSize(n int)

	// EncryptionError records an encryption failure.
	EncryptionError()

	// DecryptionError records a decryption failure.
	DecryptionError()

	// EventDropped records an event dropped due to a full buffer.
	EventDropped()

	// MessageDropped records a data frame dropped due to a full buffer.
	MessageDropped()
}

// NopMetrics is a no-op metrics implementation that discards all
// metrics. It is the default when no collector is configured.
type NopMetrics struct{}

// Ensure NopMetrics implements Metrics.
var _ Metrics = NopMetrics{}

// PacketSent implements Metrics.PacketSent (no-op).
func (NopMetrics) PacketSent(opcode string, bytes int) {}

// PacketReceived implements Metrics.PacketReceived (no-op).
func (NopMetrics) PacketReceived(opcode string, bytes int) {}

// PacketDropped implements Metrics.PacketDropped (no-op).
func (NopMetrics) PacketDropped(reason string) {}

// HandshakeResult implements Metrics.HandshakeResult (no-op).
func (NopMetrics) HandshakeResult(result string) {}

// HandshakeDuration implements Metrics.HandshakeDuration (no-op).
func (NopMetrics) HandshakeDuration(seconds float64) {}

// JoinResult implements Metrics.JoinResult (no-op).
func (NopMetrics) JoinResult(result string) {}

// RoleChanged implements Metrics.RoleChanged (no-op).
func (NopMetrics) RoleChanged(role string) {}

// RoutingTableSize implements Metrics.RoutingTableSize (no-op).
func (NopMetrics) RoutingTableSize(n int) {}

// EncryptionError implements Metrics.EncryptionError (no-op).
func (NopMetrics) EncryptionError() {}

// DecryptionError implements Metrics.DecryptionError (no-op).
func (NopMetrics) DecryptionError() {}

// EventDropped implements Metrics.EventDropped (no-op).
func (NopMetrics) EventDropped() {}

// MessageDropped implements Metrics.MessageDropped (no-op).
func (NopMetrics) MessageDropped() {}
