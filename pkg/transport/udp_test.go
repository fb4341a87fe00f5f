package transport

import (
	"net/netip"
	"testing"
	"time"
)

func TestUDPTransport_Loopback(t *testing.T) {
	a := NewUDP(netip.MustParseAddrPort("127.0.0.1:0"), 16)
	b := NewUDP(netip.MustParseAddrPort("127.0.0.1:0"), 16)
	defer a.Close()
	defer b.Close()

	if err := a.BeginReceiving(); err != nil {
		t.Fatal(err)
	}
	if err := b.BeginReceiving(); err != nil {
		t.Fatal(err)
	}

	if a.LocalPort() == 0 || b.LocalPort() == 0 {
		t.Fatal("ephemeral port not reported after bind")
	}

	dst := netip.AddrPortFrom(netip.MustParseAddr("127.0.0.1"), b.LocalPort())
	payload := []byte{0xde, 0xad, 0xbe, 0xef}
	if err := a.Send(payload, dst); err != nil {
		t.Fatal(err)
	}

	select {
	case pkt := <-b.Packets():
		if string(pkt.Data) != string(payload) {
			t.Errorf("payload = %x, want %x", pkt.Data, payload)
		}
		if pkt.Source.Port() != a.LocalPort() {
			t.Errorf("source port = %d, want %d", pkt.Source.Port(), a.LocalPort())
		}
	case <-time.After(5 * time.Second):
		t.Fatal("datagram not delivered")
	}
}

func TestUDPTransport_SendBeforeBind(t *testing.T) {
	tr := NewUDP(netip.MustParseAddrPort("127.0.0.1:0"), 1)
	defer tr.Close()

	err := tr.Send([]byte{1}, netip.MustParseAddrPort("127.0.0.1:9"))
	if err == nil {
		t.Error("expected error sending before BeginReceiving")
	}
}

func TestUDPTransport_CloseClosesPackets(t *testing.T) {
	tr := NewUDP(netip.MustParseAddrPort("127.0.0.1:0"), 1)
	if err := tr.BeginReceiving(); err != nil {
		t.Fatal(err)
	}
	if err := tr.Close(); err != nil {
		t.Fatal(err)
	}

	select {
	case _, ok := <-tr.Packets():
		if ok {
			t.Error("expected closed channel")
		}
	case <-time.After(5 * time.Second):
		t.Fatal("packets channel not closed")
	}
}
