package sparkle

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// DebugState represents the complete state of a Node for debugging.
type DebugState struct {
	// Node identity
	OverlayIP  string `json:"overlay_ip"`
	OverlayMAC string `json:"overlay_mac"`
	PublicKey  string `json:"public_key"`

	// Listen address
	ListenAddr string `json:"listen_addr"`

	// Protocol version
	ProtocolVersion uint32 `json:"protocol_version"`

	// Link-layer state
	Stats Stats `json:"stats"`

	// Configuration summary
	Config DebugConfig `json:"config"`

	// Timestamp when state was captured
	CapturedAt time.Time `json:"captured_at"`
}

// DebugConfig represents configuration summary for debugging.
type DebugConfig struct {
	NetworkDivisor     uint8  `json:"network_divisor"`
	NegotiationTimeout string `json:"negotiation_timeout"`
	JoinStepTimeout    string `json:"join_step_timeout"`
	EventBufferSize    int    `json:"event_buffer_size"`
	MessageBufferSize  int    `json:"message_buffer_size"`
}

// DumpState captures the current state of the node for debugging.
// This is useful for troubleshooting join and handshake issues.
func (n *Node) DumpState() *DebugState {
	id := n.Identity()
	return &DebugState{
		OverlayIP: id.IP.String(),
		OverlayMAC: fmt.Sprintf("%02x:%02x:%02x:%02x:%02x:%02x",
			id.MAC[0], id.MAC[1], id.MAC[2], id.MAC[3], id.MAC[4], id.MAC[5]),
		PublicKey:       fmt.Sprintf("%x", n.PublicKeyBytes()),
		ListenAddr:      n.config.ListenAddr.String(),
		ProtocolVersion: ProtocolVersion,
		Stats:           n.Stats(),
		Config: DebugConfig{
			NetworkDivisor:     n.config.NetworkDivisor,
			NegotiationTimeout: n.config.NegotiationTimeout.String(),
			JoinStepTimeout:    n.config.JoinStepTimeout.String(),
			EventBufferSize:    n.config.EventBufferSize,
			MessageBufferSize:  n.config.MessageBufferSize,
		},
		CapturedAt: time.Now(),
	}
}

// DumpStateJSON returns the node state as formatted JSON.
func (n *Node) DumpStateJSON() (string, error) {
	data, err := json.MarshalIndent(n.DumpState(), "", "  ")
	if err != nil {
		return "", fmt.Errorf("failed to marshal state: %w", err)
	}
	return string(data), nil
}

// DumpStateString returns a human-readable representation of the node
// state.
func (n *Node) DumpStateString() string {
	state := n.DumpState()
	var sb strings.Builder

	sb.WriteString("=== Sparkle Node Debug State ===\n\n")

	sb.WriteString("IDENTITY:\n")
	sb.WriteString(fmt.Sprintf("  Overlay IP:  %s\n", state.OverlayIP))
	sb.WriteString(fmt.Sprintf("  Overlay MAC: %s\n", state.OverlayMAC))
	if len(state.PublicKey) >= 16 {
		sb.WriteString(fmt.Sprintf("  Public Key:  %s...\n", state.PublicKey[:16]))
	}
	sb.WriteString(fmt.Sprintf("  Protocol:    %d\n", state.ProtocolVersion))
	sb.WriteString("\n")

	sb.WriteString("LINK:\n")
	sb.WriteString(fmt.Sprintf("  Listen:      %s\n", state.ListenAddr))
	sb.WriteString(fmt.Sprintf("  Join step:   %s\n", state.Stats.JoinStep))
	sb.WriteString(fmt.Sprintf("  Role:        %s\n", roleString(state.Stats.IsMaster)))
	sb.WriteString(fmt.Sprintf("  Peers:       %d (%d masters)\n", state.Stats.Peers, state.Stats.Masters))
	sb.WriteString(fmt.Sprintf("  Endpoints:   %d known\n", state.Stats.KnownEndpoints))
	sb.WriteString(fmt.Sprintf("  Handshakes:  %d in flight, %d packets queued\n",
		state.Stats.AwaitingNegotiation, state.Stats.QueuedPackets))
	sb.WriteString("\n")

	sb.WriteString("CONFIGURATION:\n")
	sb.WriteString(fmt.Sprintf("  Network Divisor:     1/%d\n", state.Config.NetworkDivisor))
	sb.WriteString(fmt.Sprintf("  Negotiation Timeout: %s\n", state.Config.NegotiationTimeout))
	sb.WriteString(fmt.Sprintf("  Join Step Timeout:   %s\n", state.Config.JoinStepTimeout))
	sb.WriteString("\n")

	sb.WriteString(fmt.Sprintf("Captured at: %s\n", state.CapturedAt.Format(time.RFC3339)))
	sb.WriteString("================================\n")

	return sb.String()
}

func roleString(master bool) string {
	if master {
		return "master"
	}
	return "slave"
}
