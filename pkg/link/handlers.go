package link

import (
	"net/netip"

	"github.com/ShiRenzhi/sparkle/pkg/wire"
)

// dropMalformed logs and counts a packet whose payload failed
// validation. Malformed packets never mutate state.
func (l *LinkLayer) dropMalformed(packetName string, node *Node) {
	l.metrics.PacketDropped("malformed")
	l.log.Warn("malformed packet", "packet", packetName, "peer", node.String())
}

// outerSizeValid checks the size class of an unencrypted opcode before
// any peer record is created, so malformed datagrams leave the spool
// untouched.
func outerSizeValid(t wire.PacketType, payloadLen int) bool {
	switch t {
	case wire.ProtocolVersionRequest:
		return payloadLen == 0
	case wire.ProtocolVersionReply:
		return payloadLen == wire.ProtocolVersionReplySize
	case wire.PublicKeyExchange, wire.SessionKeyExchange:
		return payloadLen > wire.KeyExchangeSize
	case wire.Ping:
		return payloadLen == wire.PingSize
	case wire.EncryptedPacket:
		return payloadLen > 0
	default:
		return false
	}
}

// handlePacket is the single entry point for inbound datagrams.
func (l *LinkLayer) handlePacket(pkt InboundPacket) {
	hdr, payload, err := wire.ParseHeader(pkt.Data)
	if err != nil {
		l.metrics.PacketDropped("malformed")
		l.log.Warn("malformed packet", "source", pkt.Source.String())
		return
	}
	if !outerSizeValid(hdr.Type, len(payload)) {
		l.metrics.PacketDropped("malformed")
		l.log.Warn("malformed packet",
			"type", uint16(hdr.Type), "source", pkt.Source.String())
		return
	}
	if hdr.Type == wire.EncryptedPacket {
		// An encrypted packet can only come from a peer we negotiated
		// with; never spool unknown senders on this path.
		if _, known := l.spool[pkt.Source]; !known {
			l.metrics.PacketDropped("crypto")
			l.log.Warn("encrypted packet from unknown peer", "source", pkt.Source.String())
			return
		}
	}

	node := l.wrapNode(pkt.Source)
	l.metrics.PacketReceived(hdr.Type.String(), len(pkt.Data))

	switch hdr.Type {
	case wire.ProtocolVersionRequest:
		l.handleProtocolVersionRequest(payload, node)
		return
	case wire.ProtocolVersionReply:
		l.handleProtocolVersionReply(payload, node)
		return
	case wire.PublicKeyExchange:
		l.handlePublicKeyExchange(payload, node)
		return
	case wire.SessionKeyExchange:
		l.handleSessionKeyExchange(payload, node)
		return
	case wire.Ping:
		l.handlePing(payload, node)
		return
	}

	if !node.KeysNegotiated() {
		l.metrics.PacketDropped("crypto")
		l.log.Warn("no keys for encrypted packet", "peer", node.String())
		return
	}

	decrypted, err := node.hisSession().Decrypt(payload)
	if err != nil {
		l.metrics.DecryptionError()
		l.log.Warn("cannot decrypt packet", "peer", node.String(), "error", err)
		return
	}

	// The inner frame is dispatched through its own switch rather than
	// back through handlePacket, so opcodes that imply encryption can
	// never be injected unencrypted.
	innerHdr, innerPayload, err := wire.ParseInnerHeader(decrypted)
	if err != nil {
		l.metrics.PacketDropped("malformed")
		l.log.Warn("malformed encrypted payload", "peer", node.String())
		return
	}

	switch innerHdr.Type {
	case wire.IntroducePacket:
		l.handleIntroduce(innerPayload, node)
	case wire.MasterNodeRequest:
		l.handleMasterNodeRequest(innerPayload, node)
	case wire.MasterNodeReply:
		l.handleMasterNodeReply(innerPayload, node)
	case wire.PingRequest:
		l.handlePingRequest(innerPayload, node)
	case wire.PingInitiate:
		l.handlePingInitiate(innerPayload, node)
	case wire.RegisterRequest:
		l.handleRegisterRequest(innerPayload, node)
	case wire.RegisterReply:
		l.handleRegisterReply(innerPayload, node)
	case wire.Route:
		l.handleRoute(innerPayload, node)
	case wire.RouteRequest:
		l.handleRouteRequest(innerPayload, node)
	case wire.RouteMissing:
		l.handleRouteMissing(innerPayload, node)
	case wire.RouteInvalidate:
		l.handleRouteInvalidate(innerPayload, node)
	case wire.RoleUpdate:
		l.handleRoleUpdate(innerPayload, node)
	case wire.ExitNotification:
		l.handleExitNotification(innerPayload, node)
	case wire.DataPacket:
		l.handleDataPacket(innerPayload, node)
	default:
		l.metrics.PacketDropped("unknown_opcode")
		l.log.Warn("encrypted packet of unknown type",
			"type", uint16(innerHdr.Type), "peer", node.String())
	}
}

/* IntroducePacket */

// sendIntroduce announces the local overlay identity to a peer. Sent
// by slaves after a key exchange, since slave identities are not
// gossiped to other slaves.
func (l *LinkLayer) sendIntroduce(node *Node) {
	self := l.router.SelfNode()
	intr := wire.IntroducePayload{
		SparkleIP:  wire.PackAddr(self.Identity().IP),
		SparkleMAC: self.Identity().MAC,
	}
	l.sendEncrypted(wire.IntroducePacket, intr.Marshal(), node)
}

func (l *LinkLayer) handleIntroduce(payload []byte, node *Node) {
	var intr wire.IntroducePayload
	if err := intr.Unmarshal(payload); err != nil {
		l.dropMalformed("IntroducePacket", node)
		return
	}

	if l.router.Contains(node) {
		l.metrics.PacketDropped("unexpected")
		l.log.Warn("node is already introduced",
			"peer", node.String(), "sparkle_ip", node.Identity().IP.String())
		return
	}

	node.setIdentity(Identity{IP: wire.UnpackAddr(intr.SparkleIP), MAC: intr.SparkleMAC})
	node.setMaster(false)
	l.router.UpdateNode(node)
	l.metrics.RoutingTableSize(l.router.Count())

	l.log.Debug("node introduced itself",
		"peer", node.String(), "sparkle_ip", node.Identity().IP.String())
}

/* MasterNodeRequest */

func (l *LinkLayer) handleMasterNodeRequest(payload []byte, node *Node) {
	if len(payload) != 0 {
		l.dropMalformed("MasterNodeRequest", node)
		return
	}

	// Scatter load over the whole network.
	master := l.router.SelectMaster()
	if master == nil {
		l.log.Error("cannot choose master, this is probably a bug")
		return
	}

	reply := wire.MasterNodeReplyPayload{
		Addr: wire.PackAddr(master.Endpoint().Addr()),
		Port: master.Endpoint().Port(),
	}
	l.sendEncrypted(wire.MasterNodeReply, reply.Marshal(), node)
}

/* PingRequest / PingInitiate */

// sendPingRequest asks node to arrange count pings towards target.
func (l *LinkLayer) sendPingRequest(node, target *Node, count uint8) {
	req := wire.PingRequestPayload{
		Addr:  wire.PackAddr(target.Endpoint().Addr()),
		Port:  target.Endpoint().Port(),
		Count: count,
	}
	l.sendEncrypted(wire.PingRequest, req.Marshal(), node)
}

func (l *LinkLayer) handlePingRequest(payload []byte, node *Node) {
	var req wire.PingRequestPayload
	if err := req.Unmarshal(payload); err != nil {
		l.dropMalformed("PingRequest", node)
		return
	}

	target := l.wrapNode(netip.AddrPortFrom(wire.UnpackAddr(req.Addr), req.Port))

	// A request to ping ourselves means the requester probes the path
	// from us to it; everything else is relayed to the target.
	if self := l.router.SelfNode(); self != nil && target == self {
		l.doPing(node, req.Count)
		return
	}
	l.sendPingInitiate(target, node, req.Count)
}

// sendPingInitiate relays a ping request: node is told to ping target.
func (l *LinkLayer) sendPingInitiate(node, target *Node, count uint8) {
	req := wire.PingRequestPayload{
		Addr:  wire.PackAddr(target.Endpoint().Addr()),
		Port:  target.Endpoint().Port(),
		Count: count,
	}
	l.sendEncrypted(wire.PingInitiate, req.Marshal(), node)
}

func (l *LinkLayer) handlePingInitiate(payload []byte, node *Node) {
	var req wire.PingRequestPayload
	if err := req.Unmarshal(payload); err != nil {
		l.dropMalformed("PingInitiate", node)
		return
	}
	l.doPing(l.wrapNode(netip.AddrPortFrom(wire.UnpackAddr(req.Addr), req.Port)), req.Count)
}

// doPing emits a burst of pings, capped to defeat amplification.
func (l *LinkLayer) doPing(node *Node, count uint8) {
	if count > maxPingBurst {
		l.metrics.PacketDropped("unexpected")
		l.log.Warn("request for too many pings, DoS attempt? dropping",
			"count", count, "peer", node.String())
		return
	}
	ping := wire.PingPayload{
		Addr: wire.PackAddr(node.Endpoint().Addr()),
		Port: node.Endpoint().Port(),
	}
	for i := uint8(0); i < count; i++ {
		l.sendPacket(wire.Ping, ping.Marshal(), node)
	}
}

/* RegisterRequest (master side) */

func (l *LinkLayer) handleRegisterRequest(payload []byte, node *Node) {
	var req wire.RegisterRequestPayload
	if err := req.Unmarshal(payload); err != nil {
		l.dropMalformed("RegisterRequest", node)
		return
	}

	self := l.router.SelfNode()
	if self == nil || !self.IsMaster() {
		l.metrics.PacketDropped("unexpected")
		l.log.Warn("got RegisterRequest while not master", "peer", node.String())
		return
	}
	if node.AuthKey() == nil {
		l.metrics.PacketDropped("unexpected")
		l.log.Warn("RegisterRequest from peer without public key", "peer", node.String())
		return
	}

	node.setBehindNAT(req.IsBehindNAT)
	node.setMaster(l.shouldPromote(node))

	// A master learns every route; a slave only learns the masters.
	var updates []*Node
	if node.IsMaster() {
		updates = l.router.OtherNodes()
	} else {
		updates = l.router.OtherMasters()
	}
	for _, update := range updates {
		l.sendRoute(node, update)
		l.sendRoute(update, node)
	}
	l.sendRoute(node, self)

	l.router.UpdateNode(node)
	l.metrics.RoutingTableSize(l.router.Count())

	l.sendRegisterReply(node)
}

// shouldPromote decides the role of a registering peer. Peers behind
// NAT are always slaves; otherwise the peer becomes a master when
// there is only one, or when the master ratio has fallen under the
// 1/networkDivisor target. The comparison cross-multiplies to avoid
// floating-point rounding.
func (l *LinkLayer) shouldPromote(node *Node) bool {
	if node.IsBehindNAT() {
		return false
	}
	masters := l.router.MasterCount()
	if masters == 1 {
		return true
	}
	total := l.router.Count() + 1
	if masters*int(l.networkDivisor) < total {
		l.log.Debug("insufficient masters, adding one",
			"masters", masters, "total", total, "network_divisor", l.networkDivisor)
		return true
	}
	return false
}

func (l *LinkLayer) sendRegisterReply(node *Node) {
	reply := wire.RegisterReplyPayload{
		SparkleIP:      wire.PackAddr(node.Identity().IP),
		SparkleMAC:     node.Identity().MAC,
		IsMaster:       node.IsMaster(),
		NetworkDivisor: l.networkDivisor,
	}
	if node.IsBehindNAT() {
		reply.RealIP = wire.PackAddr(node.Endpoint().Addr())
		reply.RealPort = node.Endpoint().Port()
	}
	l.sendEncrypted(wire.RegisterReply, reply.Marshal(), node)
}

/* Route */

// sendRoute gossips target's record to node.
func (l *LinkLayer) sendRoute(node, target *Node) {
	route := wire.RoutePayload{
		RealIP:      wire.PackAddr(target.Endpoint().Addr()),
		RealPort:    target.Endpoint().Port(),
		SparkleIP:   wire.PackAddr(target.Identity().IP),
		SparkleMAC:  target.Identity().MAC,
		IsMaster:    target.IsMaster(),
		IsBehindNAT: target.IsBehindNAT(),
	}
	l.sendEncrypted(wire.Route, route.Marshal(), node)
}

func (l *LinkLayer) handleRoute(payload []byte, node *Node) {
	var route wire.RoutePayload
	if err := route.Unmarshal(payload); err != nil {
		l.dropMalformed("Route", node)
		return
	}

	// Routes are only authoritative from masters. During the initial
	// join the sender's role is not yet known, so they are accepted
	// until the self node exists.
	if !node.IsMaster() && l.router.SelfNode() != nil {
		l.metrics.PacketDropped("unexpected")
		l.log.Warn("Route packet from unauthoritative source", "peer", node.String())
		return
	}

	target := l.wrapNode(netip.AddrPortFrom(wire.UnpackAddr(route.RealIP), route.RealPort))
	if target == l.router.SelfNode() {
		l.metrics.PacketDropped("unexpected")
		l.log.Warn("attempt to add myself by Route packet", "peer", node.String())
		return
	}

	l.log.Debug("Route received", "peer", node.String(),
		"target", target.String(), "sparkle_ip", wire.UnpackAddr(route.SparkleIP).String())

	target.setIdentity(Identity{IP: wire.UnpackAddr(route.SparkleIP), MAC: route.SparkleMAC})
	target.setMaster(route.IsMaster)
	target.setBehindNAT(route.IsBehindNAT)
	l.router.UpdateNode(target)
	l.metrics.RoutingTableSize(l.router.Count())
}

/* RouteRequest */

// sendRouteRequest asks a master to resolve an overlay address.
func (l *LinkLayer) sendRouteRequest(overlayIP netip.Addr) {
	master := l.router.SelectMaster()
	if master == nil || master == l.router.SelfNode() {
		return
	}
	req := wire.RouteRequestPayload{SparkleIP: wire.PackAddr(overlayIP)}
	l.sendEncrypted(wire.RouteRequest, req.Marshal(), master)
}

func (l *LinkLayer) handleRouteRequest(payload []byte, node *Node) {
	var req wire.RouteRequestPayload
	if err := req.Unmarshal(payload); err != nil {
		l.dropMalformed("RouteRequest", node)
		return
	}

	self := l.router.SelfNode()
	if self == nil || !self.IsMaster() {
		l.metrics.PacketDropped("unexpected")
		l.log.Warn("i'm slave and got route request", "peer", node.String())
		return
	}

	overlayIP := wire.UnpackAddr(req.SparkleIP)
	if target := l.router.FindByOverlayIP(overlayIP); target != nil {
		l.sendRoute(node, target)
		return
	}
	missing := wire.RouteRequestPayload{SparkleIP: req.SparkleIP}
	l.sendEncrypted(wire.RouteMissing, missing.Marshal(), node)
}

/* RouteMissing */

func (l *LinkLayer) handleRouteMissing(payload []byte, node *Node) {
	var missing wire.RouteRequestPayload
	if err := missing.Unmarshal(payload); err != nil {
		l.dropMalformed("RouteMissing", node)
		return
	}
	l.log.Info("no route", "sparkle_ip", wire.UnpackAddr(missing.SparkleIP).String())
}

/* RouteInvalidate */

// sendRouteInvalidate orders node to forget target.
func (l *LinkLayer) sendRouteInvalidate(node, target *Node) {
	inv := wire.RouteInvalidatePayload{
		RealIP:   wire.PackAddr(target.Endpoint().Addr()),
		RealPort: target.Endpoint().Port(),
	}
	l.sendEncrypted(wire.RouteInvalidate, inv.Marshal(), node)
}

func (l *LinkLayer) handleRouteInvalidate(payload []byte, node *Node) {
	var inv wire.RouteInvalidatePayload
	if err := inv.Unmarshal(payload); err != nil {
		l.dropMalformed("RouteInvalidate", node)
		return
	}

	ep := netip.AddrPortFrom(wire.UnpackAddr(inv.RealIP), inv.RealPort)
	target, ok := l.spool[ep]
	if !ok {
		return
	}
	if target == l.router.SelfNode() {
		l.metrics.PacketDropped("unexpected")
		l.log.Warn("attempt to invalidate my own route", "peer", node.String())
		return
	}
	l.log.Debug("invalidating route",
		"target", target.String(), "commanded_by", node.String())
	l.destroyNode(target)
}

// destroyNode removes a peer from the routing table and the spool and
// releases its key material.
func (l *LinkLayer) destroyNode(target *Node) {
	l.router.RemoveNode(target)
	delete(l.spool, target.Endpoint())
	delete(l.awaiting, target.Endpoint())
	l.cancelTimer(negotiationTimerName(target))
	l.dropCookies(target)
	target.flushQueue()
	if target.mySessionKey != nil {
		target.mySessionKey.Close()
	}
	if target.hisSessionKey != nil {
		target.hisSessionKey.Close()
	}
	l.metrics.RoutingTableSize(l.router.Count())
}

/* RoleUpdate */

// sendRoleUpdate commands node to flip its own master flag.
func (l *LinkLayer) sendRoleUpdate(node *Node, isMasterNow bool) {
	update := wire.RoleUpdatePayload{IsMasterNow: isMasterNow}
	l.sendEncrypted(wire.RoleUpdate, update.Marshal(), node)
}

func (l *LinkLayer) handleRoleUpdate(payload []byte, node *Node) {
	var update wire.RoleUpdatePayload
	if err := update.Unmarshal(payload); err != nil {
		l.dropMalformed("RoleUpdate", node)
		return
	}

	if !node.IsMaster() {
		l.metrics.PacketDropped("unexpected")
		l.log.Warn("RoleUpdate received from slave, dropping", "peer", node.String())
		return
	}
	self := l.router.SelfNode()
	if self == nil {
		l.metrics.PacketDropped("unexpected")
		return
	}

	role := "slave"
	if update.IsMasterNow {
		role = "master"
	}
	l.log.Info("switching role", "role", role, "commanded_by", node.String())
	self.setMaster(update.IsMasterNow)
	l.metrics.RoleChanged(role)
}

/* ExitNotification */

func (l *LinkLayer) handleExitNotification(payload []byte, node *Node) {
	if len(payload) != 0 {
		l.dropMalformed("ExitNotification", node)
		return
	}

	self := l.router.SelfNode()
	if self == nil || !self.IsMaster() {
		l.metrics.PacketDropped("unexpected")
		l.log.Warn("ExitNotification received, but I am slave", "peer", node.String())
		return
	}

	l.router.RemoveNode(node)
	for _, target := range l.router.OtherNodes() {
		l.sendRouteInvalidate(target, node)
	}
	l.destroyNode(node)

	// Re-evaluate the master ratio now the network shrank.
	masters := l.router.MasterCount()
	total := l.router.Count()
	if masters*int(l.networkDivisor) < total || masters == 1 {
		l.log.Debug("insufficient masters after exit",
			"masters", masters, "total", total)
		l.reincarnateSomeone()
	}
}

// reincarnateSomeone promotes a slave to master to restore the master
// ratio, pairing it with every other slave via fresh routes.
func (l *LinkLayer) reincarnateSomeone() {
	if l.router.Count() == 1 {
		l.log.Warn("there're no nodes to reincarnate")
		return
	}

	target := l.router.SelectReincarnationTarget()
	if target == nil {
		l.log.Warn("no slave is eligible for reincarnation")
		return
	}
	l.log.Debug("selected reincarnation target",
		"sparkle_ip", target.Identity().IP.String(), "peer", target.String())

	target.setMaster(true)
	l.router.UpdateNode(target)

	for _, node := range l.router.OtherNodes() {
		if !node.IsMaster() && node != target {
			l.sendRoute(node, target)
			l.sendRoute(target, node)
		}
	}

	l.sendRoleUpdate(target, true)
}

/* DataPacket */

// handleDataPacket hands a decrypted application frame to the
// application layer.
func (l *LinkLayer) handleDataPacket(payload []byte, node *Node) {
	l.messages.Emit(IncomingData{
		Payload:   append([]byte(nil), payload...),
		SparkleIP: node.Identity().IP,
		Source:    node.Endpoint(),
	})
}
