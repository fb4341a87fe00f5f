package link

import (
	"math/rand"
	"net/netip"
	"testing"

	"github.com/ShiRenzhi/sparkle/pkg/crypto"
	"github.com/ShiRenzhi/sparkle/pkg/wire"
)

// stubTransport records outbound datagrams so tests can shuttle them
// between link layers deterministically, without running event loops.
type stubTransport struct {
	port uint16
	sent []outPacket
}

type outPacket struct {
	data []byte
	to   netip.AddrPort
}

func (s *stubTransport) BeginReceiving() error         { return nil }
func (s *stubTransport) Packets() <-chan InboundPacket { return nil }
func (s *stubTransport) LocalPort() uint16             { return s.port }
func (s *stubTransport) Close() error                  { return nil }

func (s *stubTransport) Send(d []byte, to netip.AddrPort) error {
	s.sent = append(s.sent, outPacket{data: append([]byte(nil), d...), to: to})
	return nil
}

// fabric shuttles stub-transport output between link layers until no
// packets remain in flight. Handlers run synchronously, matching the
// single-task execution model.
type fabric struct {
	links map[netip.AddrPort]*LinkLayer
	stubs map[netip.AddrPort]*stubTransport
}

func newFabric() *fabric {
	return &fabric{
		links: make(map[netip.AddrPort]*LinkLayer),
		stubs: make(map[netip.AddrPort]*stubTransport),
	}
}

func (f *fabric) add(epStr string, l *LinkLayer, st *stubTransport) {
	f.links[ep(epStr)] = l
	f.stubs[ep(epStr)] = st
}

func (f *fabric) pump() {
	for progress := true; progress; {
		progress = false
		for srcEp, st := range f.stubs {
			for len(st.sent) > 0 {
				p := st.sent[0]
				st.sent = st.sent[1:]
				progress = true
				if dst, ok := f.links[p.to]; ok {
					dst.handlePacket(InboundPacket{Data: p.data, Source: srcEp})
				}
			}
		}
	}
}

// newJoinedLink builds a link layer that is already a member of a
// network, bypassing the join sequence.
func newJoinedLink(t *testing.T, epStr string, divisor uint8) (*LinkLayer, *stubTransport) {
	t.Helper()

	key, err := crypto.Generate(1024)
	if err != nil {
		t.Fatal(err)
	}
	st := &stubTransport{port: ep(epStr).Port()}
	l, err := New(Config{HostKey: key, Transport: st})
	if err != nil {
		t.Fatal(err)
	}

	l.transportStarted = true
	self := l.wrapNode(ep(epStr))
	self.setMaster(true)
	self.setAuthKeyPair(key)
	l.router.SetSelfNode(self)
	l.networkDivisor = divisor
	l.joinStep = JoinFinished
	return l, st
}

func drainMessages(l *LinkLayer) []IncomingData {
	var out []IncomingData
	for {
		select {
		case m := <-l.messages.Out():
			out = append(out, m)
		default:
			return out
		}
	}
}

func TestSendGate_QueuesAndDrainsFIFO(t *testing.T) {
	f := newFabric()
	a, at := newJoinedLink(t, "10.0.0.1:1801", 1)
	b, bt := newJoinedLink(t, "10.0.0.2:1801", 1)
	f.add("10.0.0.1:1801", a, at)
	f.add("10.0.0.2:1801", b, bt)

	peer := a.wrapNode(ep("10.0.0.2:1801"))
	a.sendEncrypted(wire.DataPacket, []byte("first"), peer)
	a.sendEncrypted(wire.DataPacket, []byte("second"), peer)

	// Nothing encrypted may leave before keys exist; only the
	// handshake opener is on the wire.
	if peer.KeysNegotiated() {
		t.Fatal("keys negotiated before any exchange")
	}
	if len(peer.queue) != 2 {
		t.Fatalf("queue depth = %d, want 2", len(peer.queue))
	}
	if _, ok := a.awaiting[peer.Endpoint()]; !ok {
		t.Fatal("peer not awaiting negotiation")
	}

	f.pump()

	// Handshake completed and the queue drained in order.
	if !peer.KeysNegotiated() {
		t.Fatal("keys not negotiated after pump")
	}
	if len(peer.queue) != 0 {
		t.Fatalf("queue depth = %d after drain, want 0", len(peer.queue))
	}
	if len(a.awaiting) != 0 {
		t.Fatal("awaiting set not empty after negotiation")
	}

	got := drainMessages(b)
	if len(got) != 2 {
		t.Fatalf("received %d frames, want 2", len(got))
	}
	if string(got[0].Payload) != "first" || string(got[1].Payload) != "second" {
		t.Errorf("frames out of order: %q, %q", got[0].Payload, got[1].Payload)
	}

	// The reverse direction reuses the negotiated session.
	back := b.spool[ep("10.0.0.1:1801")]
	if back == nil || !back.KeysNegotiated() {
		t.Fatal("responder did not finish negotiation")
	}
	b.sendEncrypted(wire.DataPacket, []byte("reply"), back)
	f.pump()
	if got := drainMessages(a); len(got) != 1 || string(got[0].Payload) != "reply" {
		t.Fatalf("reply not delivered: %v", got)
	}
}

func TestCookieNATMerge(t *testing.T) {
	a, _ := newJoinedLink(t, "10.0.0.1:1801", 1)

	// A queues towards Y's presumed endpoint, starting a negotiation.
	orig := a.wrapNode(ep("203.0.113.7:1801"))
	a.sendEncrypted(wire.DataPacket, []byte("hello"), orig)

	if len(a.cookies) != 1 {
		t.Fatalf("cookies = %d, want 1", len(a.cookies))
	}
	var cookie uint32
	for c := range a.cookies {
		cookie = c
	}

	// The reply arrives from a different endpoint: Y shares our NAT.
	peerKey, err := crypto.Generate(1024)
	if err != nil {
		t.Fatal(err)
	}
	ke := wire.KeyExchangePayload{NeedOthersKey: false, Cookie: cookie}
	reply := wire.Frame(wire.PublicKeyExchange, ke.Marshal(peerKey.PublicKeyBytes()))
	observed := ep("192.168.1.7:1801")
	a.handlePacket(InboundPacket{Data: reply, Source: observed})

	// The original record was rewritten to the observed endpoint and
	// the transient record discarded; the cookie table is drained.
	if orig.Endpoint() != observed {
		t.Errorf("endpoint = %s, want %s", orig.Endpoint(), observed)
	}
	if got := a.spool[observed]; got != orig {
		t.Error("spool does not map the observed endpoint to the original record")
	}
	if _, stale := a.spool[ep("203.0.113.7:1801")]; stale {
		t.Error("stale spool entry for the original endpoint")
	}
	if len(a.cookies) != 0 {
		t.Errorf("cookies = %d after merge, want 0", len(a.cookies))
	}

	// No two records share an endpoint.
	seen := map[netip.AddrPort]bool{}
	for e := range a.spool {
		if seen[e] {
			t.Errorf("duplicate endpoint %s", e)
		}
		seen[e] = true
	}

	// The negotiation continues against the observed endpoint.
	if _, ok := a.awaiting[observed]; !ok {
		t.Error("negotiation did not follow the rewritten endpoint")
	}
}

func TestPublicKeyExchange_UnknownCookieDropped(t *testing.T) {
	a, at := newJoinedLink(t, "10.0.0.1:1801", 1)

	peerKey, err := crypto.Generate(1024)
	if err != nil {
		t.Fatal(err)
	}
	ke := wire.KeyExchangePayload{NeedOthersKey: false, Cookie: 0x12345678}
	reply := wire.Frame(wire.PublicKeyExchange, ke.Marshal(peerKey.PublicKeyBytes()))

	sentBefore := len(at.sent)
	a.handlePacket(InboundPacket{Data: reply, Source: ep("203.0.113.7:1801")})

	if len(at.sent) != sentBefore {
		t.Error("unsolicited pubkey reply triggered a response")
	}
}

func TestNegotiationTimeout_FlushesQueue(t *testing.T) {
	a, _ := newJoinedLink(t, "10.0.0.1:1801", 1)

	peer := a.wrapNode(ep("10.0.0.9:1801"))
	a.sendEncrypted(wire.DataPacket, []byte("doomed"), peer)

	if len(peer.queue) != 1 {
		t.Fatalf("queue depth = %d, want 1", len(peer.queue))
	}

	a.negotiationTimeout(peer)

	if len(peer.queue) != 0 {
		t.Error("queue not flushed on timeout")
	}
	if _, ok := a.awaiting[peer.Endpoint()]; ok {
		t.Error("peer still awaiting negotiation after timeout")
	}
	if len(a.cookies) != 0 {
		t.Error("cookies not dropped on timeout")
	}

	// A later send re-arms a fresh handshake.
	a.sendEncrypted(wire.DataPacket, []byte("retry"), peer)
	if _, ok := a.awaiting[peer.Endpoint()]; !ok {
		t.Error("subsequent send did not restart negotiation")
	}
}

func TestSendToSelf_Dropped(t *testing.T) {
	a, at := newJoinedLink(t, "10.0.0.1:1801", 1)

	a.sendPacket(wire.Ping, (&wire.PingPayload{}).Marshal(), a.router.SelfNode())
	if len(at.sent) != 0 {
		t.Error("packet to self reached the transport")
	}
}

func TestHandlePacket_MalformedInvariance(t *testing.T) {
	a, _ := newJoinedLink(t, "10.0.0.1:1801", 1)

	spoolBefore := len(a.spool)
	routerBefore := a.router.Count()
	stepBefore := a.joinStep

	rng := rand.New(rand.NewSource(42))
	src := ep("203.0.113.200:9999")
	for i := 0; i < 1000; i++ {
		buf := make([]byte, rng.Intn(64))
		rng.Read(buf)
		a.handlePacket(InboundPacket{Data: buf, Source: src})
	}

	if len(a.spool) != spoolBefore {
		t.Errorf("spool grew: %d -> %d", spoolBefore, len(a.spool))
	}
	if a.router.Count() != routerBefore {
		t.Errorf("router changed: %d -> %d", routerBefore, a.router.Count())
	}
	if a.joinStep != stepBefore {
		t.Errorf("join step changed: %v -> %v", stepBefore, a.joinStep)
	}
	if len(a.awaiting) != 0 || len(a.cookies) != 0 {
		t.Error("negotiation state mutated by garbage")
	}
	select {
	case ev := <-a.events.Out():
		t.Errorf("unexpected event %v", ev.Kind)
	default:
	}
}

func TestShouldPromote(t *testing.T) {
	tests := []struct {
		name      string
		masters   int
		slaves    int
		divisor   uint8
		behindNAT bool
		want      bool
	}{
		{"behind NAT never", 1, 0, 1, true, false},
		{"sole master promotes", 1, 0, 10, false, true},
		{"divisor 1 always promotes", 2, 0, 1, false, true},
		{"ratio satisfied", 2, 0, 2, false, false},
		{"ratio violated", 2, 3, 2, false, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			a, _ := newJoinedLink(t, "10.0.0.1:1801", tt.divisor)
			for i := 0; i < tt.masters-1; i++ {
				m := newNode(ep(netip.AddrFrom4([4]byte{10, 0, 1, byte(i + 1)}).String() + ":1801"))
				m.setMaster(true)
				a.router.UpdateNode(m)
			}
			for i := 0; i < tt.slaves; i++ {
				s := newNode(ep(netip.AddrFrom4([4]byte{10, 0, 2, byte(i + 1)}).String() + ":1801"))
				a.router.UpdateNode(s)
			}

			candidate := newNode(ep("10.0.3.1:1801"))
			candidate.setBehindNAT(tt.behindNAT)
			if got := a.shouldPromote(candidate); got != tt.want {
				t.Errorf("shouldPromote = %v, want %v", got, tt.want)
			}
		})
	}
}
