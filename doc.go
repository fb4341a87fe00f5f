// Package sparkle implements a zero-configuration, fully distributed,
// self-organizing encrypting overlay network. Peers cooperatively form
// a flat virtual network over untrusted UDP; each peer is identified
// by an RSA public key, and its overlay IPv4 address and MAC are
// derived from the hash of that key. There is no central directory; a
// single bootstrap address is sufficient to join.
//
// The Node type in this package is the public entry point. It wires
// the link layer (pkg/link) to a UDP transport (pkg/transport) and the
// host keypair (pkg/crypto), and exposes lifecycle events and the
// decrypted data plane as channels:
//
//	key, _ := crypto.Generate(crypto.DefaultKeyBits)
//	addr, _ := multiaddr.NewMultiaddr("/ip4/0.0.0.0/udp/1801")
//	node, _ := sparkle.New(sparkle.NewConfig(key, addr))
//	node.Start()
//	node.JoinNetwork(bootstrap, false)
//	for ev := range node.Events() { ... }
//
// A network is a flat set of peers in two roles. Masters admit new
// members, gossip routes and issue role updates; slaves hold routes to
// masters only and ask a master to resolve unknown overlay addresses.
// The network keeps at least 1/NetworkDivisor of its nodes masters,
// promoting slaves when departures drop the ratio below target.
package sparkle
