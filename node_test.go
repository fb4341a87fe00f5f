package sparkle

import (
	"fmt"
	"net/http/httptest"
	"net/netip"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

// newLoopbackNode builds a node bound to an ephemeral loopback port.
func newLoopbackNode(t *testing.T) *Node {
	t.Helper()

	node, err := New(NewConfig(testKey(t), testAddr(t, "/ip4/127.0.0.1/udp/0")))
	require.NoError(t, err)
	require.NoError(t, node.Start())
	t.Cleanup(func() { _ = node.Stop() })
	return node
}

func waitJoined(t *testing.T, node *Node) SelfInfo {
	t.Helper()
	select {
	case ev := <-node.Events():
		require.Equal(t, EventJoined, ev.Kind, "unexpected event")
		return ev.Self
	case <-time.After(10 * time.Second):
		t.Fatal("timed out waiting for join")
		return SelfInfo{}
	}
}

// TestTwoNodeGenesisOverUDP runs the genesis scenario over real
// loopback sockets: A creates, B joins, both end up masters and can
// exchange data frames.
func TestTwoNodeGenesisOverUDP(t *testing.T) {
	a := newLoopbackNode(t)
	require.NoError(t, a.CreateNetwork(netip.MustParseAddr("127.0.0.1")))
	selfA := waitJoined(t, a)
	require.True(t, selfA.IsMaster)

	bootstrap, err := MultiaddrFromAddrPort(
		netip.AddrPortFrom(netip.MustParseAddr("127.0.0.1"), a.LocalPort()))
	require.NoError(t, err)

	b := newLoopbackNode(t)
	require.NoError(t, b.JoinNetwork(bootstrap, false))
	selfB := waitJoined(t, b)

	require.Equal(t, b.Identity(), selfB.Identity)
	require.Equal(t, uint8(DefaultNetworkDivisor), selfB.NetworkDivisor)

	// Data plane: B -> A.
	require.NoError(t, b.SendData(selfA.Identity.IP, []byte("hello")))
	select {
	case msg := <-a.Messages():
		require.Equal(t, "hello", string(msg.Payload))
		require.Equal(t, selfB.Identity.IP, msg.SparkleIP)
	case <-time.After(10 * time.Second):
		t.Fatal("frame not delivered")
	}

	// Stats reflect the two-node network on both sides.
	require.Eventually(t, func() bool {
		return a.Stats().Peers == 2 && b.Stats().Peers == 2
	}, 10*time.Second, 20*time.Millisecond)

	// Graceful exit.
	require.NoError(t, b.ExitNetwork())
	select {
	case ev := <-b.Events():
		require.Equal(t, EventReadyForShutdown, ev.Kind)
	case <-time.After(10 * time.Second):
		t.Fatal("timed out waiting for drain")
	}
}

func TestNode_Lifecycle(t *testing.T) {
	node, err := New(NewConfig(testKey(t), testAddr(t, "/ip4/127.0.0.1/udp/0")))
	require.NoError(t, err)

	// Operations before Start are refused.
	require.ErrorIs(t, node.CreateNetwork(netip.MustParseAddr("127.0.0.1")), ErrNodeNotStarted)
	require.ErrorIs(t, node.Stop(), ErrNodeNotStarted)

	require.NoError(t, node.Start())
	require.ErrorIs(t, node.Start(), ErrNodeAlreadyStarted)
	require.NoError(t, node.Stop())
}

func TestNode_InvalidBootstrap(t *testing.T) {
	node := newLoopbackNode(t)
	err := node.JoinNetwork(testAddr(t, "/ip4/0.0.0.0/udp/1801"), false)
	require.ErrorIs(t, err, NewError(ErrCodeInvalidConfig, ""))
}

func TestHealthEndpoints(t *testing.T) {
	node := newLoopbackNode(t)

	// Live but not ready before joining.
	rec := httptest.NewRecorder()
	LivenessHandler(node).ServeHTTP(rec, httptest.NewRequest("GET", "/live", nil))
	require.Equal(t, 200, rec.Code)

	rec = httptest.NewRecorder()
	HealthHandler(node).ServeHTTP(rec, httptest.NewRequest("GET", "/health", nil))
	require.Equal(t, 503, rec.Code)

	// Ready after creating a network.
	require.NoError(t, node.CreateNetwork(netip.MustParseAddr("127.0.0.1")))
	waitJoined(t, node)

	rec = httptest.NewRecorder()
	HealthHandler(node).ServeHTTP(rec, httptest.NewRequest("GET", "/health", nil))
	require.Equal(t, 200, rec.Code)
	require.Contains(t, rec.Body.String(), `"healthy":true`)
}

func TestDumpState(t *testing.T) {
	node := newLoopbackNode(t)

	out, err := node.DumpStateJSON()
	require.NoError(t, err)
	require.Contains(t, out, node.Identity().IP.String())

	text := node.DumpStateString()
	require.Contains(t, text, "Sparkle Node Debug State")
	require.Contains(t, text, fmt.Sprintf("Protocol:    %d", ProtocolVersion))
}
