package link

import (
	"crypto/sha1"
	"fmt"
	"net/netip"
)

// overlayHostOctet is the fixed last octet of every overlay IPv4
// address.
const overlayHostOctet = 14

// Identity is the overlay identity of a peer: an IPv4 address and a
// MAC, both derived deterministically from the peer's public key. It
// is fixed for the life of that key.
type Identity struct {
	// IP is the overlay IPv4 address, FP0.FP1.FP2.14 where FP is the
	// SHA-1 fingerprint of the public key.
	IP netip.Addr

	// MAC is the overlay MAC, 0x02 followed by the first five
	// fingerprint bytes. The leading 0x02 marks it locally
	// administered.
	MAC [6]byte
}

// DeriveIdentity computes the overlay identity for a public key.
func DeriveIdentity(publicKeyBytes []byte) Identity {
	fp := sha1.Sum(publicKeyBytes)

	var id Identity
	id.IP = netip.AddrFrom4([4]byte{fp[0], fp[1], fp[2], overlayHostOctet})
	id.MAC[0] = 0x02
	copy(id.MAC[1:], fp[:5])
	return id
}

// Valid reports whether the identity has been assigned.
func (id Identity) Valid() bool {
	return id.IP.IsValid()
}

// String formats the identity for logging.
func (id Identity) String() string {
	return fmt.Sprintf("%s (%02x:%02x:%02x:%02x:%02x:%02x)",
		id.IP, id.MAC[0], id.MAC[1], id.MAC[2], id.MAC[3], id.MAC[4], id.MAC[5])
}
