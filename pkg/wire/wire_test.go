package wire

import (
	"bytes"
	"encoding/binary"
	"math/rand"
	"net/netip"
	"testing"
)

func TestPacketType_String(t *testing.T) {
	tests := []struct {
		t    PacketType
		want string
	}{
		{ProtocolVersionRequest, "ProtocolVersionRequest"},
		{EncryptedPacket, "EncryptedPacket"},
		{RouteInvalidate, "RouteInvalidate"},
		{DataPacket, "DataPacket"},
		{PacketType(999), "PacketType(999)"},
	}
	for _, tt := range tests {
		if got := tt.t.String(); got != tt.want {
			t.Errorf("PacketType(%d).String() = %q, want %q", tt.t, got, tt.want)
		}
	}
}

func TestPacketType_Encrypted(t *testing.T) {
	unencrypted := []PacketType{
		ProtocolVersionRequest, ProtocolVersionReply,
		PublicKeyExchange, SessionKeyExchange, Ping, EncryptedPacket,
	}
	for _, pt := range unencrypted {
		if pt.Encrypted() {
			t.Errorf("%v.Encrypted() = true, want false", pt)
		}
	}
	encrypted := []PacketType{
		IntroducePacket, MasterNodeRequest, MasterNodeReply, PingRequest,
		PingInitiate, RegisterRequest, RegisterReply, Route, RouteRequest,
		RouteMissing, RouteInvalidate, RoleUpdate, ExitNotification, DataPacket,
	}
	for _, pt := range encrypted {
		if !pt.Encrypted() {
			t.Errorf("%v.Encrypted() = false, want true", pt)
		}
	}
}

func TestFrameParseHeader(t *testing.T) {
	payload := []byte{1, 2, 3, 4, 5}
	framed := Frame(Route, payload)

	if len(framed) != HeaderSize+len(payload) {
		t.Fatalf("framed length = %d, want %d", len(framed), HeaderSize+len(payload))
	}

	hdr, got, err := ParseHeader(framed)
	if err != nil {
		t.Fatalf("ParseHeader: %v", err)
	}
	if hdr.Type != Route {
		t.Errorf("type = %v, want Route", hdr.Type)
	}
	if int(hdr.Length) != len(framed) {
		t.Errorf("length = %d, want %d", hdr.Length, len(framed))
	}
	if !bytes.Equal(got, payload) {
		t.Errorf("payload = %v, want %v", got, payload)
	}
}

func TestParseHeader_Malformed(t *testing.T) {
	tests := []struct {
		name string
		data []byte
	}{
		{"empty", nil},
		{"short", []byte{1, 2, 3}},
		{"length too small", func() []byte {
			b := Frame(Ping, []byte{1, 2, 3, 4, 5, 6})
			binary.LittleEndian.PutUint16(b[0:2], 4)
			return b
		}()},
		{"length too large", func() []byte {
			b := Frame(Ping, []byte{1, 2, 3, 4, 5, 6})
			binary.LittleEndian.PutUint16(b[0:2], 60000)
			return b
		}()},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, _, err := ParseHeader(tt.data); err == nil {
				t.Error("expected error, got nil")
			}
		})
	}
}

func TestParseInnerHeader_PaddingTolerance(t *testing.T) {
	payload := []byte{9, 8, 7}
	framed := Frame(DataPacket, payload)

	// Up to 7 bytes of cipher padding are tolerated and truncated.
	for pad := 0; pad < 8; pad++ {
		padded := append(append([]byte(nil), framed...), make([]byte, pad)...)
		hdr, got, err := ParseInnerHeader(padded)
		if err != nil {
			t.Fatalf("pad %d: %v", pad, err)
		}
		if hdr.Type != DataPacket {
			t.Errorf("pad %d: type = %v", pad, hdr.Type)
		}
		if !bytes.Equal(got, payload) {
			t.Errorf("pad %d: payload = %v, want %v", pad, got, payload)
		}
	}

	// Eight or more is malformed.
	padded := append(append([]byte(nil), framed...), make([]byte, 8)...)
	if _, _, err := ParseInnerHeader(padded); err == nil {
		t.Error("expected error for 8 bytes of padding")
	}
}

func TestPackUnpackAddr(t *testing.T) {
	addrs := []string{"10.0.0.1", "192.168.254.3", "1.2.3.14", "255.255.255.255"}
	for _, s := range addrs {
		addr := netip.MustParseAddr(s)
		if got := UnpackAddr(PackAddr(addr)); got != addr {
			t.Errorf("round trip of %s = %s", addr, got)
		}
	}

	// The packed value keeps network byte order semantics.
	if got := PackAddr(netip.MustParseAddr("1.2.3.4")); got != 0x01020304 {
		t.Errorf("PackAddr(1.2.3.4) = %#x, want 0x01020304", got)
	}
}

func TestPayloadRoundTrips(t *testing.T) {
	t.Run("RegisterReply", func(t *testing.T) {
		in := RegisterReplyPayload{
			SparkleIP:      PackAddr(netip.MustParseAddr("77.12.190.14")),
			SparkleMAC:     [6]byte{0x02, 0x4d, 0x0c, 0xbe, 0x11, 0x22},
			RealIP:         PackAddr(netip.MustParseAddr("198.51.100.7")),
			RealPort:       1801,
			IsMaster:       true,
			NetworkDivisor: 10,
		}
		var out RegisterReplyPayload
		if err := out.Unmarshal(in.Marshal()); err != nil {
			t.Fatal(err)
		}
		if out != in {
			t.Errorf("round trip: got %+v, want %+v", out, in)
		}
	})

	t.Run("Route", func(t *testing.T) {
		in := RoutePayload{
			RealIP:      PackAddr(netip.MustParseAddr("203.0.113.9")),
			RealPort:    1802,
			SparkleIP:   PackAddr(netip.MustParseAddr("9.33.21.14")),
			SparkleMAC:  [6]byte{0x02, 9, 33, 21, 7, 8},
			IsMaster:    false,
			IsBehindNAT: true,
		}
		var out RoutePayload
		if err := out.Unmarshal(in.Marshal()); err != nil {
			t.Fatal(err)
		}
		if out != in {
			t.Errorf("round trip: got %+v, want %+v", out, in)
		}
	})

	t.Run("KeyExchange", func(t *testing.T) {
		in := KeyExchangePayload{NeedOthersKey: true, Cookie: 0xdeadbeef}
		key := []byte("some key material")
		var out KeyExchangePayload
		gotKey, err := out.Unmarshal(in.Marshal(key))
		if err != nil {
			t.Fatal(err)
		}
		if out != in {
			t.Errorf("prefix: got %+v, want %+v", out, in)
		}
		if !bytes.Equal(gotKey, key) {
			t.Errorf("key: got %q, want %q", gotKey, key)
		}
	})

	t.Run("PingRequest", func(t *testing.T) {
		in := PingRequestPayload{Addr: 0x0a000001, Port: 1801, Count: 4}
		var out PingRequestPayload
		if err := out.Unmarshal(in.Marshal()); err != nil {
			t.Fatal(err)
		}
		if out != in {
			t.Errorf("round trip: got %+v, want %+v", out, in)
		}
	})

	t.Run("small payloads", func(t *testing.T) {
		var ver ProtocolVersionReplyPayload
		if err := ver.Unmarshal((&ProtocolVersionReplyPayload{Version: 7}).Marshal()); err != nil || ver.Version != 7 {
			t.Errorf("version round trip: %v %d", err, ver.Version)
		}
		var reg RegisterRequestPayload
		if err := reg.Unmarshal((&RegisterRequestPayload{IsBehindNAT: true}).Marshal()); err != nil || !reg.IsBehindNAT {
			t.Errorf("register request round trip: %v %+v", err, reg)
		}
		var role RoleUpdatePayload
		if err := role.Unmarshal((&RoleUpdatePayload{IsMasterNow: true}).Marshal()); err != nil || !role.IsMasterNow {
			t.Errorf("role update round trip: %v %+v", err, role)
		}
		var inv RouteInvalidatePayload
		if err := inv.Unmarshal((&RouteInvalidatePayload{RealIP: 1, RealPort: 2}).Marshal()); err != nil || inv.RealIP != 1 || inv.RealPort != 2 {
			t.Errorf("route invalidate round trip: %v %+v", err, inv)
		}
		var intr IntroducePayload
		if err := intr.Unmarshal((&IntroducePayload{SparkleIP: 3, SparkleMAC: [6]byte{2, 1, 1, 1, 1, 1}}).Marshal()); err != nil || intr.SparkleIP != 3 {
			t.Errorf("introduce round trip: %v %+v", err, intr)
		}
	})
}

func TestUnmarshal_WrongSizes(t *testing.T) {
	// Every fixed struct must reject both truncated and oversized
	// buffers instead of crashing.
	rng := rand.New(rand.NewSource(1))
	for _, size := range []int{0, 1, 3, 5, 7, 17, 19, 64} {
		buf := make([]byte, size)
		rng.Read(buf)

		if size != ProtocolVersionReplySize {
			var p ProtocolVersionReplyPayload
			if err := p.Unmarshal(buf); err == nil {
				t.Errorf("ProtocolVersionReply accepted %d bytes", size)
			}
		}
		if size != RegisterReplySize {
			var p RegisterReplyPayload
			if err := p.Unmarshal(buf); err == nil {
				t.Errorf("RegisterReply accepted %d bytes", size)
			}
		}
		if size != RouteSize {
			var p RoutePayload
			if err := p.Unmarshal(buf); err == nil {
				t.Errorf("Route accepted %d bytes", size)
			}
		}
		if size <= KeyExchangeSize {
			var p KeyExchangePayload
			if _, err := p.Unmarshal(buf); err == nil {
				t.Errorf("KeyExchange accepted %d bytes", size)
			}
		}
	}
}
