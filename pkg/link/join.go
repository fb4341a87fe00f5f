package link

import (
	"fmt"
	"net/netip"

	"github.com/ShiRenzhi/sparkle/pkg/wire"
)

// JoinStep is the state of the join sequence.
type JoinStep int

const (
	// JoinIdle means no join has been started yet.
	JoinIdle JoinStep = iota

	// JoinVersionRequest awaits the bootstrap node's protocol version.
	JoinVersionRequest

	// JoinMasterNodeRequest awaits the master assignment.
	JoinMasterNodeRequest

	// JoinAwaitingPings collects the NAT-probe pings.
	JoinAwaitingPings

	// JoinRegistration awaits the master's register reply.
	JoinRegistration

	// JoinFinished means the node is a member of a network.
	JoinFinished
)

// String returns a human-readable name for the join step.
func (s JoinStep) String() string {
	switch s {
	case JoinIdle:
		return "Idle"
	case JoinVersionRequest:
		return "VersionRequest"
	case JoinMasterNodeRequest:
		return "MasterNodeRequest"
	case JoinAwaitingPings:
		return "AwaitingPings"
	case JoinRegistration:
		return "Registration"
	case JoinFinished:
		return "Finished"
	default:
		return fmt.Sprintf("JoinStep(%d)", int(s))
	}
}

// expectStep drops a packet that arrived outside the join step it
// belongs to.
func (l *LinkLayer) expectStep(node *Node, packetName string, needed JoinStep) bool {
	if l.joinStep != needed {
		l.metrics.PacketDropped("unexpected")
		l.log.Warn("unexpected packet", "packet", packetName, "peer", node.String(),
			"join_step", l.joinStep.String())
		return false
	}
	return true
}

// joinTimeout fails the join when a step did not complete in time.
func (l *LinkLayer) joinTimeout() {
	l.log.Error("join timeout", "join_step", l.joinStep.String())
	l.revertJoin()
	l.emitJoinFailed()
}

// revertJoin is the hard reset used on join failures: every peer
// record, queue, cookie and timer is destroyed.
func (l *LinkLayer) revertJoin() {
	l.cancelTimer(timerJoin)
	l.cancelTimer(timerPing)
	for _, node := range l.spool {
		l.cancelTimer(negotiationTimerName(node))
		node.flushQueue()
		if node.mySessionKey != nil {
			node.mySessionKey.Close()
		}
		if node.hisSessionKey != nil {
			node.hisSessionKey.Close()
		}
	}

	l.router.Clear()
	l.spool = make(map[netip.AddrPort]*Node)
	l.awaiting = make(map[netip.AddrPort]*Node)
	l.cookies = make(map[uint32]*Node)
	l.joinMaster = nil
	l.joinPing = wire.PingPayload{}
	l.joinPingsEmitted = 0
	l.joinPingsArrived = 0
	l.joinStep = JoinIdle
	l.metrics.RoutingTableSize(0)
}

/* ProtocolVersionRequest */

func (l *LinkLayer) handleProtocolVersionRequest(payload []byte, node *Node) {
	if len(payload) != 0 {
		l.dropMalformed("ProtocolVersionRequest", node)
		return
	}
	reply := wire.ProtocolVersionReplyPayload{Version: ProtocolVersion}
	l.sendPacket(wire.ProtocolVersionReply, reply.Marshal(), node)
}

/* ProtocolVersionReply */

func (l *LinkLayer) handleProtocolVersionReply(payload []byte, node *Node) {
	var reply wire.ProtocolVersionReplyPayload
	if err := reply.Unmarshal(payload); err != nil {
		l.dropMalformed("ProtocolVersionReply", node)
		return
	}
	if !l.expectStep(node, "ProtocolVersionReply", JoinVersionRequest) {
		return
	}

	l.log.Debug("remote protocol version", "version", reply.Version)
	if reply.Version != ProtocolVersion {
		l.log.Error("protocol version mismatch",
			"got", reply.Version, "expected", ProtocolVersion)
		l.revertJoin()
		l.emitJoinFailed()
		return
	}

	l.joinStep = JoinMasterNodeRequest
	l.sendEncrypted(wire.MasterNodeRequest, nil, node)
	l.schedule(timerJoin, l.cfg.JoinStepTimeout)
}

/* MasterNodeReply */

func (l *LinkLayer) handleMasterNodeReply(payload []byte, node *Node) {
	var reply wire.MasterNodeReplyPayload
	if err := reply.Unmarshal(payload); err != nil {
		l.dropMalformed("MasterNodeReply", node)
		return
	}
	if !l.expectStep(node, "MasterNodeReply", JoinMasterNodeRequest) {
		return
	}

	master := l.wrapNode(netip.AddrPortFrom(wire.UnpackAddr(reply.Addr), reply.Port))
	l.joinMaster = master
	l.log.Debug("determined master node", "master", master.String())

	if !l.forceBehindNAT {
		l.joinStep = JoinAwaitingPings
		l.joinPing = wire.PingPayload{}
		l.joinPingsEmitted = natProbePings
		l.joinPingsArrived = 0
		// The ping timer owns this step; the join timer is re-armed
		// when the collection window closes.
		l.cancelTimer(timerJoin)
		l.schedule(timerPing, l.cfg.JoinStepTimeout)
		l.sendPingRequest(node, master, natProbePings)
	} else {
		l.log.Debug("skipping NAT detection")
		l.joinStep = JoinRegistration
		l.sendRegisterRequest(master, true)
		l.schedule(timerJoin, l.cfg.JoinStepTimeout)
	}
}

/* Ping collection */

func (l *LinkLayer) handlePing(payload []byte, node *Node) {
	var ping wire.PingPayload
	if err := ping.Unmarshal(payload); err != nil {
		l.dropMalformed("Ping", node)
		return
	}
	if !l.expectStep(node, "Ping", JoinAwaitingPings) {
		return
	}
	if node != l.joinMaster {
		l.metrics.PacketDropped("unexpected")
		l.log.Warn("unexpected ping", "peer", node.String())
		return
	}

	l.joinPingsArrived++
	if l.joinPing.Addr == 0 {
		l.joinPing = ping
	} else if l.joinPing.Addr != ping.Addr || l.joinPing.Port != ping.Port {
		l.log.Error("got nonidentical pings")
		l.revertJoin()
		l.emitJoinFailed()
		return
	}

	if l.joinPingsArrived == l.joinPingsEmitted {
		l.joinGotPinged()
	}
}

// pingTimeout ends the ping collection window. No pings at all means a
// NAT rewrote or dropped the path and we register as behind-NAT.
func (l *LinkLayer) pingTimeout() {
	if l.joinStep != JoinAwaitingPings {
		return
	}
	if l.joinPingsArrived == 0 {
		l.log.Debug("no pings arrived, NAT is detected")
		l.joinStep = JoinRegistration
		l.log.Debug("registering", "master", l.joinMaster.String())
		l.sendRegisterRequest(l.joinMaster, true)
		l.schedule(timerJoin, l.cfg.JoinStepTimeout)
		return
	}
	l.joinGotPinged()
}

// joinGotPinged finishes the NAT probe on the direct path: the echoed
// endpoint is our public address.
func (l *LinkLayer) joinGotPinged() {
	l.log.Debug("ping collection finished",
		"arrived_percent", l.joinPingsArrived*100/l.joinPingsEmitted)

	l.cancelTimer(timerPing)
	l.joinStep = JoinRegistration

	l.log.Debug("no NAT detected",
		"real_addr", wire.UnpackAddr(l.joinPing.Addr).String(), "real_port", l.joinPing.Port)
	l.log.Debug("registering", "master", l.joinMaster.String())
	l.sendRegisterRequest(l.joinMaster, false)
	l.schedule(timerJoin, l.cfg.JoinStepTimeout)
}

/* RegisterRequest (client side) */

func (l *LinkLayer) sendRegisterRequest(master *Node, isBehindNAT bool) {
	req := wire.RegisterRequestPayload{IsBehindNAT: isBehindNAT}
	l.sendEncrypted(wire.RegisterRequest, req.Marshal(), master)
}

/* RegisterReply */

func (l *LinkLayer) handleRegisterReply(payload []byte, node *Node) {
	var reply wire.RegisterReplyPayload
	if err := reply.Unmarshal(payload); err != nil {
		l.dropMalformed("RegisterReply", node)
		return
	}
	if !l.expectStep(node, "RegisterReply", JoinRegistration) {
		return
	}

	var self *Node
	if reply.RealIP != 0 {
		// Master observed our endpoint through its NAT view.
		l.log.Debug("external endpoint was assigned by NAT passthrough")
		self = l.wrapNode(netip.AddrPortFrom(wire.UnpackAddr(reply.RealIP), reply.RealPort))
		self.setBehindNAT(true)
	} else {
		if l.joinPing.Addr == 0 {
			l.log.Error("register reply carries no endpoint and no pings arrived")
			l.revertJoin()
			l.emitJoinFailed()
			return
		}
		self = l.wrapNode(netip.AddrPortFrom(wire.UnpackAddr(l.joinPing.Addr), l.joinPing.Port))
		self.setBehindNAT(false)
	}

	self.setAuthKeyPair(l.hostKey)
	// The identity assigned by the master is authoritative; it matches
	// the key-derived one for a well-behaved master.
	self.setIdentity(Identity{IP: wire.UnpackAddr(reply.SparkleIP), MAC: reply.SparkleMAC})
	self.setMaster(reply.IsMaster)
	l.router.SetSelfNode(self)
	l.metrics.RoutingTableSize(l.router.Count())
	if reply.IsMaster {
		l.metrics.RoleChanged("master")
	} else {
		l.metrics.RoleChanged("slave")
	}

	l.networkDivisor = reply.NetworkDivisor
	l.log.Debug("network divisor assigned", "network_divisor", l.networkDivisor)

	l.cancelTimer(timerJoin)
	l.joinStep = JoinFinished
	l.emitJoined(self)
}
