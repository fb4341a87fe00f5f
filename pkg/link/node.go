package link

import (
	"fmt"
	"net/netip"
	"time"

	"github.com/ShiRenzhi/sparkle/pkg/crypto"
)

// Node is the per-peer record of the link layer: the real endpoint a
// peer is reached at, its authentication key and derived overlay
// identity, its role flags, the pairwise session keys, and the queue
// of packets awaiting key negotiation.
//
// Nodes are owned by the link layer task and must not be touched from
// other goroutines.
type Node struct {
	endpoint netip.AddrPort

	authKey  *crypto.KeyPair
	identity Identity

	master    bool
	behindNAT bool

	// mySessionKey encrypts traffic to this peer; hisSessionKey
	// decrypts traffic from it.
	mySessionKey  *crypto.SessionKey
	hisSessionKey *crypto.SessionKey

	// queue holds pre-framed packets until both session keys exist.
	queue [][]byte

	// negotiationStarted is the time the in-flight handshake was
	// armed; zero when none is in flight.
	negotiationStarted time.Time
}

// newNode creates a peer record for an endpoint.
func newNode(endpoint netip.AddrPort) *Node {
	return &Node{endpoint: endpoint}
}

// Endpoint returns the real (IP, UDP port) the peer is reached at.
func (n *Node) Endpoint() netip.AddrPort {
	return n.endpoint
}

// setEndpoint rewrites the real endpoint. Used when a public-key
// exchange reveals the peer is behind the same NAT as another record.
func (n *Node) setEndpoint(ep netip.AddrPort) {
	n.endpoint = ep
}

// Identity returns the overlay identity, valid only once assigned.
func (n *Node) Identity() Identity {
	return n.identity
}

// setIdentity installs an identity learned from a Route or register
// reply.
func (n *Node) setIdentity(id Identity) {
	n.identity = id
}

// setAuthKey installs the peer's public key bytes and fixes the
// overlay identity derived from them.
func (n *Node) setAuthKey(der []byte) error {
	key, err := crypto.SetPublicKey(der)
	if err != nil {
		return err
	}
	n.authKey = key
	n.identity = DeriveIdentity(der)
	return nil
}

// setAuthKeyPair installs a keypair directly; used for the self node.
func (n *Node) setAuthKeyPair(key *crypto.KeyPair) {
	n.authKey = key
	n.identity = DeriveIdentity(key.PublicKeyBytes())
}

// AuthKey returns the peer's keypair, or nil before the public-key
// exchange completed.
func (n *Node) AuthKey() *crypto.KeyPair {
	return n.authKey
}

// IsMaster reports the peer's role.
func (n *Node) IsMaster() bool {
	return n.master
}

func (n *Node) setMaster(master bool) {
	n.master = master
}

// IsBehindNAT reports the peer's NAT flag.
func (n *Node) IsBehindNAT() bool {
	return n.behindNAT
}

func (n *Node) setBehindNAT(behind bool) {
	n.behindNAT = behind
}

// KeysNegotiated reports whether both session keys are set and the
// encrypted channel is usable.
func (n *Node) KeysNegotiated() bool {
	return n.mySessionKey != nil && n.hisSessionKey != nil
}

// mySession returns the outbound session key, generating it on first
// use.
func (n *Node) mySession() (*crypto.SessionKey, error) {
	if n.mySessionKey == nil {
		key, err := crypto.NewSessionKey()
		if err != nil {
			return nil, err
		}
		n.mySessionKey = key
	}
	return n.mySessionKey, nil
}

// setHisSessionKey installs the key the peer generated for traffic it
// sends to us.
func (n *Node) setHisSessionKey(material []byte) error {
	key, err := crypto.SessionKeyFromBytes(material)
	if err != nil {
		return err
	}
	n.hisSessionKey = key
	return nil
}

// hisSession returns the inbound session key, or nil.
func (n *Node) hisSession() *crypto.SessionKey {
	return n.hisSessionKey
}

// pushQueue appends a pre-framed packet to the negotiation queue.
func (n *Node) pushQueue(framed []byte) {
	n.queue = append(n.queue, framed)
}

// popQueue removes and returns the oldest queued packet.
func (n *Node) popQueue() []byte {
	head := n.queue[0]
	n.queue = n.queue[1:]
	return head
}

// queueEmpty reports whether the negotiation queue is drained.
func (n *Node) queueEmpty() bool {
	return len(n.queue) == 0
}

// flushQueue drops all queued packets.
func (n *Node) flushQueue() {
	n.queue = nil
}

// negotiationInFlight reports whether a handshake timer is armed.
func (n *Node) negotiationInFlight() bool {
	return !n.negotiationStarted.IsZero()
}

// String formats the peer endpoint for logging.
func (n *Node) String() string {
	return fmt.Sprintf("[%s]:%d", n.endpoint.Addr(), n.endpoint.Port())
}
