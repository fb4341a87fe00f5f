package sparkle

import (
	"testing"
	"time"

	"github.com/multiformats/go-multiaddr"
	"github.com/stretchr/testify/require"

	"github.com/ShiRenzhi/sparkle/pkg/crypto"
)

func testKey(t *testing.T) *crypto.KeyPair {
	t.Helper()
	key, err := crypto.Generate(1024)
	require.NoError(t, err)
	return key
}

func testAddr(t *testing.T, s string) multiaddr.Multiaddr {
	t.Helper()
	ma, err := multiaddr.NewMultiaddr(s)
	require.NoError(t, err)
	return ma
}

func TestConfig_Validate(t *testing.T) {
	key := testKey(t)
	addr := testAddr(t, "/ip4/0.0.0.0/udp/1801")

	t.Run("valid", func(t *testing.T) {
		cfg := NewConfig(key, addr)
		require.NoError(t, cfg.Validate())
	})

	t.Run("missing key", func(t *testing.T) {
		cfg := NewConfig(nil, addr)
		require.ErrorIs(t, cfg.Validate(), ErrMissingHostKey)
	})

	t.Run("public-only key", func(t *testing.T) {
		pub, err := crypto.SetPublicKey(key.PublicKeyBytes())
		require.NoError(t, err)
		cfg := NewConfig(pub, addr)
		require.ErrorIs(t, cfg.Validate(), ErrInvalidConfig)
	})

	t.Run("missing listen addr", func(t *testing.T) {
		cfg := NewConfig(key, nil)
		require.ErrorIs(t, cfg.Validate(), ErrMissingListenAddr)
	})

	t.Run("non-udp listen addr", func(t *testing.T) {
		cfg := NewConfig(key, testAddr(t, "/ip4/127.0.0.1/tcp/80"))
		require.ErrorIs(t, cfg.Validate(), ErrInvalidConfig)
	})

	t.Run("negative timeout", func(t *testing.T) {
		cfg := NewConfig(key, addr)
		cfg.NegotiationTimeout = -time.Second
		require.ErrorIs(t, cfg.Validate(), ErrInvalidConfig)
	})
}

func TestConfig_Defaults(t *testing.T) {
	cfg := NewConfig(testKey(t), testAddr(t, "/ip4/0.0.0.0/udp/0"))

	require.Equal(t, uint8(DefaultNetworkDivisor), cfg.NetworkDivisor)
	require.Equal(t, DefaultNegotiationTimeout, cfg.NegotiationTimeout)
	require.Equal(t, DefaultJoinStepTimeout, cfg.JoinStepTimeout)
	require.Equal(t, DefaultEventBufferSize, cfg.EventBufferSize)
	require.Equal(t, DefaultMessageBufferSize, cfg.MessageBufferSize)
	require.NotNil(t, cfg.Logger)
	require.NotNil(t, cfg.Metrics)
}

func TestConfig_Options(t *testing.T) {
	cfg := NewConfig(testKey(t), testAddr(t, "/ip4/0.0.0.0/udp/0"),
		WithNetworkDivisor(3),
		WithNegotiationTimeout(time.Second),
		WithJoinStepTimeout(2*time.Second),
		WithEventBufferSize(7),
		WithMessageBufferSize(9),
		WithPacketBufferSize(11),
	)

	require.Equal(t, uint8(3), cfg.NetworkDivisor)
	require.Equal(t, time.Second, cfg.NegotiationTimeout)
	require.Equal(t, 2*time.Second, cfg.JoinStepTimeout)
	require.Equal(t, 7, cfg.EventBufferSize)
	require.Equal(t, 9, cfg.MessageBufferSize)
	require.Equal(t, 11, cfg.PacketBufferSize)
}
