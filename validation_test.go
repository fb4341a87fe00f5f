package sparkle

import (
	"net/netip"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestAddrPortFromMultiaddr(t *testing.T) {
	ep, err := AddrPortFromMultiaddr(testAddr(t, "/ip4/192.0.2.7/udp/1801"))
	require.NoError(t, err)
	require.Equal(t, netip.MustParseAddrPort("192.0.2.7:1801"), ep)

	_, err = AddrPortFromMultiaddr(testAddr(t, "/ip4/192.0.2.7/tcp/1801"))
	require.Error(t, err)
}

func TestMultiaddrFromAddrPort(t *testing.T) {
	ma, err := MultiaddrFromAddrPort(netip.MustParseAddrPort("192.0.2.7:1801"))
	require.NoError(t, err)
	require.Equal(t, "/ip4/192.0.2.7/udp/1801", ma.String())

	// Round trip.
	ep, err := AddrPortFromMultiaddr(ma)
	require.NoError(t, err)
	require.Equal(t, netip.MustParseAddrPort("192.0.2.7:1801"), ep)
}

func TestValidateBootstrapAddr(t *testing.T) {
	tests := []struct {
		name    string
		addr    string
		wantErr bool
	}{
		{"valid", "/ip4/192.0.2.7/udp/1801", false},
		{"unspecified", "/ip4/0.0.0.0/udp/1801", true},
		{"multicast", "/ip4/224.0.0.1/udp/1801", true},
		{"zero port", "/ip4/192.0.2.7/udp/0", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ValidateBootstrapAddr(testAddr(t, tt.addr))
			if tt.wantErr {
				require.Error(t, err)
			} else {
				require.NoError(t, err)
			}
		})
	}
}

func TestError_IsAndUnwrap(t *testing.T) {
	cause := ErrTransportInit
	err := NewErrorWithCause(ErrCodeTransportInit, "bind failed", cause)

	require.ErrorIs(t, err, cause)
	require.ErrorIs(t, err, NewError(ErrCodeTransportInit, "anything"))
	require.NotErrorIs(t, err, NewError(ErrCodeJoinFailed, "anything"))
	require.Contains(t, err.Error(), "bind failed")
}
