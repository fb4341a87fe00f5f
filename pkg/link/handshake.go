package link

import (
	"crypto/rand"
	"encoding/binary"
	"time"

	"github.com/ShiRenzhi/sparkle/pkg/wire"
)

// beginNegotiation arms a fresh key negotiation with a peer: the
// negotiation timer starts, the peer joins the awaiting set, and the
// public-key exchange is initiated.
func (l *LinkLayer) beginNegotiation(node *Node) {
	node.negotiationStarted = time.Now()
	l.awaiting[node.Endpoint()] = node
	l.schedule(negotiationTimerName(node), l.cfg.NegotiationTimeout)
	l.sendPublicKeyExchange(node, true, 0)
}

// finishNegotiation completes a successful handshake: the queue is
// drained through the encrypted path and a pending shutdown is
// signalled once nothing is left awaiting.
func (l *LinkLayer) finishNegotiation(node *Node) {
	l.cancelTimer(negotiationTimerName(node))
	delete(l.awaiting, node.Endpoint())

	if !node.negotiationStarted.IsZero() {
		l.metrics.HandshakeDuration(time.Since(node.negotiationStarted).Seconds())
		node.negotiationStarted = time.Time{}
	}
	l.metrics.HandshakeResult("success")

	for !node.queueEmpty() {
		l.encryptAndSend(node.popQueue(), node)
	}

	if len(l.awaiting) == 0 && l.preparingShutdown {
		l.events.Emit(Event{Kind: EventReadyForShutdown, Timestamp: time.Now()})
	}
}

// abortNegotiation tears a failed handshake down: the queue is
// dropped, the peer leaves the awaiting set, and its cookies are
// forgotten.
func (l *LinkLayer) abortNegotiation(node *Node, result string) {
	l.cancelTimer(negotiationTimerName(node))
	delete(l.awaiting, node.Endpoint())
	node.negotiationStarted = time.Time{}
	node.flushQueue()
	l.dropCookies(node)
	l.metrics.HandshakeResult(result)

	if len(l.awaiting) == 0 && l.preparingShutdown {
		l.events.Emit(Event{Kind: EventReadyForShutdown, Timestamp: time.Now()})
	}
}

// negotiationTimeout handles expiry of a per-peer negotiation timer.
func (l *LinkLayer) negotiationTimeout(node *Node) {
	l.log.Warn("negotiation timeout, dropping queue", "peer", node.String())
	l.abortNegotiation(node, "timeout")
}

// newCookie returns a random cookie not currently in use.
func (l *LinkLayer) newCookie() uint32 {
	var buf [4]byte
	for {
		if _, err := rand.Read(buf[:]); err != nil {
			// crypto/rand does not fail on supported platforms.
			panic(err)
		}
		cookie := binary.LittleEndian.Uint32(buf[:])
		if _, taken := l.cookies[cookie]; !taken {
			return cookie
		}
	}
}

// dropCookies forgets all cookies pointing at a peer.
func (l *LinkLayer) dropCookies(node *Node) {
	for cookie, n := range l.cookies {
		if n == node {
			delete(l.cookies, cookie)
		}
	}
}

// mergeEndpoint rewrites orig's real endpoint to dup's after a
// public-key exchange revealed both records describe the same peer
// behind a NAT. dup is discarded so no two records share an endpoint.
func (l *LinkLayer) mergeEndpoint(orig, dup *Node) {
	oldEp := orig.Endpoint()
	newEp := dup.Endpoint()

	delete(l.spool, oldEp)
	delete(l.spool, newEp)
	if l.router.Contains(dup) {
		l.router.RemoveNode(dup)
	}
	routed := l.router.Contains(orig)
	if routed {
		l.router.RemoveNode(orig)
	}

	inFlight := false
	if _, ok := l.awaiting[oldEp]; ok {
		delete(l.awaiting, oldEp)
		l.cancelTimer(negotiationTimerName(orig))
		inFlight = true
	}

	orig.setEndpoint(newEp)
	l.spool[newEp] = orig
	if routed {
		l.router.UpdateNode(orig)
	}

	if inFlight {
		l.awaiting[newEp] = orig
		l.schedule(negotiationTimerName(orig), l.cfg.NegotiationTimeout)
	}
}

/* PublicKeyExchange */

// sendPublicKeyExchange transmits the local public key. When asking
// for the peer's key in return, a fresh cookie is minted to correlate
// the reply.
func (l *LinkLayer) sendPublicKeyExchange(node *Node, needHisKey bool, cookie uint32) {
	ke := wire.KeyExchangePayload{NeedOthersKey: needHisKey, Cookie: cookie}
	if needHisKey {
		ke.Cookie = l.newCookie()
		l.cookies[ke.Cookie] = node
	}
	l.sendPacket(wire.PublicKeyExchange, ke.Marshal(l.hostKey.PublicKeyBytes()), node)
}

func (l *LinkLayer) handlePublicKeyExchange(payload []byte, node *Node) {
	var ke wire.KeyExchangePayload
	key, err := ke.Unmarshal(payload)
	if err != nil {
		l.dropMalformed("PublicKeyExchange", node)
		return
	}

	if !ke.NeedOthersKey {
		if _, ok := l.cookies[ke.Cookie]; !ok {
			l.metrics.PacketDropped("unexpected")
			l.log.Warn("unexpected pubkey", "peer", node.String())
			return
		}
	}

	if err := node.setAuthKey(key); err != nil {
		l.metrics.PacketDropped("crypto")
		l.log.Warn("received malformed public key", "peer", node.String(), "error", err)
		l.abortNegotiation(node, "failure")
		return
	}
	l.log.Debug("received public key", "peer", node.String())

	if ke.NeedOthersKey {
		l.sendPublicKeyExchange(node, false, ke.Cookie)
		return
	}

	orig := l.cookies[ke.Cookie]
	delete(l.cookies, ke.Cookie)

	if orig != node {
		l.log.Info("node is apparently behind the same NAT, rewriting",
			"original", orig.String(), "observed", node.String())
		l.mergeEndpoint(orig, node)
		if err := orig.setAuthKey(key); err != nil {
			l.metrics.PacketDropped("crypto")
			l.abortNegotiation(orig, "failure")
			return
		}
		node = orig
	}

	if self := l.router.SelfNode(); self != nil && !self.IsMaster() {
		l.sendIntroduce(node)
	}

	l.sendSessionKeyExchange(node, true)
}

/* SessionKeyExchange */

// sendSessionKeyExchange transmits the local outbound session key,
// RSA-wrapped under the peer's public key since the outer frame is
// unencrypted.
func (l *LinkLayer) sendSessionKeyExchange(node *Node, needHisKey bool) {
	if node.AuthKey() == nil {
		l.log.Error("session key exchange without peer public key", "peer", node.String())
		l.abortNegotiation(node, "failure")
		return
	}
	session, err := node.mySession()
	if err != nil {
		l.metrics.EncryptionError()
		l.log.Error("cannot generate session key", "peer", node.String(), "error", err)
		l.abortNegotiation(node, "failure")
		return
	}
	wrapped, err := node.AuthKey().Encrypt(session.Bytes())
	if err != nil {
		l.metrics.EncryptionError()
		l.log.Error("cannot wrap session key", "peer", node.String(), "error", err)
		l.abortNegotiation(node, "failure")
		return
	}

	ke := wire.KeyExchangePayload{NeedOthersKey: needHisKey}
	l.sendPacket(wire.SessionKeyExchange, ke.Marshal(wrapped), node)
}

func (l *LinkLayer) handleSessionKeyExchange(payload []byte, node *Node) {
	var ke wire.KeyExchangePayload
	wrapped, err := ke.Unmarshal(payload)
	if err != nil {
		l.dropMalformed("SessionKeyExchange", node)
		return
	}

	material, err := l.hostKey.Decrypt(wrapped)
	if err != nil {
		l.metrics.DecryptionError()
		l.log.Warn("cannot unwrap session key", "peer", node.String(), "error", err)
		l.abortNegotiation(node, "failure")
		return
	}
	if err := node.setHisSessionKey(material); err != nil {
		l.metrics.PacketDropped("crypto")
		l.log.Warn("invalid session key material", "peer", node.String(), "error", err)
		l.abortNegotiation(node, "failure")
		return
	}
	l.log.Debug("stored session key", "peer", node.String())

	if ke.NeedOthersKey {
		l.sendSessionKeyExchange(node, false)
	}

	if node.KeysNegotiated() {
		l.finishNegotiation(node)
	}
}
