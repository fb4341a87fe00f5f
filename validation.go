package sparkle

import (
	"fmt"
	"net/netip"
	"strconv"

	"github.com/multiformats/go-multiaddr"
)

// AddrPortFromMultiaddr extracts the (IPv4, UDP port) endpoint from a
// multiaddress of the form /ip4/A.B.C.D/udp/P.
func AddrPortFromMultiaddr(ma multiaddr.Multiaddr) (netip.AddrPort, error) {
	ipStr, err := ma.ValueForProtocol(multiaddr.P_IP4)
	if err != nil {
		return netip.AddrPort{}, fmt.Errorf("%s: missing /ip4 component: %w", ma, err)
	}
	portStr, err := ma.ValueForProtocol(multiaddr.P_UDP)
	if err != nil {
		return netip.AddrPort{}, fmt.Errorf("%s: missing /udp component: %w", ma, err)
	}

	addr, err := netip.ParseAddr(ipStr)
	if err != nil {
		return netip.AddrPort{}, fmt.Errorf("%s: invalid address: %w", ma, err)
	}
	port, err := strconv.ParseUint(portStr, 10, 16)
	if err != nil {
		return netip.AddrPort{}, fmt.Errorf("%s: invalid port: %w", ma, err)
	}

	return netip.AddrPortFrom(addr, uint16(port)), nil
}

// MultiaddrFromAddrPort formats an endpoint as /ip4/A.B.C.D/udp/P.
func MultiaddrFromAddrPort(ep netip.AddrPort) (multiaddr.Multiaddr, error) {
	return multiaddr.NewMultiaddr(
		fmt.Sprintf("/ip4/%s/udp/%d", ep.Addr().Unmap(), ep.Port()))
}

// ValidateBootstrapAddr checks a bootstrap multiaddress and returns
// its endpoint. Unspecified and multicast addresses and port zero are
// rejected; any other IPv4 address, loopback included, is accepted.
func ValidateBootstrapAddr(ma multiaddr.Multiaddr) (netip.AddrPort, error) {
	ep, err := AddrPortFromMultiaddr(ma)
	if err != nil {
		return netip.AddrPort{}, err
	}
	if ep.Addr().IsUnspecified() || ep.Addr().IsMulticast() {
		return netip.AddrPort{}, fmt.Errorf("%s: not a unicast address", ma)
	}
	if ep.Port() == 0 {
		return netip.AddrPort{}, fmt.Errorf("%s: port cannot be zero", ma)
	}
	return ep, nil
}
