// Package wire defines the Sparkle datagram format: the fixed packet
// header, the opcode set, and the packed payload structs exchanged by
// the link layer.
//
// All integers are little-endian. IPv4 addresses travel as their
// network-byte-order 32-bit value, itself serialized little-endian
// like any other integer field.
package wire

import (
	"encoding/binary"
	"errors"
	"fmt"
	"net/netip"
)

// PacketType identifies a link-layer opcode.
type PacketType uint16

// Link-layer opcodes. The numbering is part of the wire contract;
// both sides of a network must agree on it.
const (
	ProtocolVersionRequest PacketType = iota + 1
	ProtocolVersionReply
	PublicKeyExchange
	SessionKeyExchange
	Ping
	EncryptedPacket
	IntroducePacket
	MasterNodeRequest
	MasterNodeReply
	PingRequest
	PingInitiate
	RegisterRequest
	RegisterReply
	Route
	RouteRequest
	RouteMissing
	RouteInvalidate
	RoleUpdate
	ExitNotification
	DataPacket
)

// String returns the opcode name for logging.
func (t PacketType) String() string {
	switch t {
	case ProtocolVersionRequest:
		return "ProtocolVersionRequest"
	case ProtocolVersionReply:
		return "ProtocolVersionReply"
	case PublicKeyExchange:
		return "PublicKeyExchange"
	case SessionKeyExchange:
		return "SessionKeyExchange"
	case Ping:
		return "Ping"
	case EncryptedPacket:
		return "EncryptedPacket"
	case IntroducePacket:
		return "IntroducePacket"
	case MasterNodeRequest:
		return "MasterNodeRequest"
	case MasterNodeReply:
		return "MasterNodeReply"
	case PingRequest:
		return "PingRequest"
	case PingInitiate:
		return "PingInitiate"
	case RegisterRequest:
		return "RegisterRequest"
	case RegisterReply:
		return "RegisterReply"
	case Route:
		return "Route"
	case RouteRequest:
		return "RouteRequest"
	case RouteMissing:
		return "RouteMissing"
	case RouteInvalidate:
		return "RouteInvalidate"
	case RoleUpdate:
		return "RoleUpdate"
	case ExitNotification:
		return "ExitNotification"
	case DataPacket:
		return "DataPacket"
	default:
		return fmt.Sprintf("PacketType(%d)", uint16(t))
	}
}

// Encrypted reports whether this opcode is only ever carried inside an
// EncryptedPacket payload.
func (t PacketType) Encrypted() bool {
	switch t {
	case ProtocolVersionRequest, ProtocolVersionReply,
		PublicKeyExchange, SessionKeyExchange, Ping, EncryptedPacket:
		return false
	default:
		return true
	}
}

// HeaderSize is the size of the packet header in bytes.
const HeaderSize = 4

// Fixed payload sizes in bytes.
const (
	ProtocolVersionReplySize = 4
	KeyExchangeSize          = 5
	IntroduceSize            = 10
	MasterNodeReplySize      = 6
	PingRequestSize          = 7
	PingSize                 = 6
	RegisterRequestSize      = 1
	RegisterReplySize        = 18
	RouteSize                = 18
	RouteRequestSize         = 4
	RouteInvalidateSize      = 6
	RoleUpdateSize           = 1
)

// Sentinel decoding errors.
var (
	// ErrTruncated indicates the buffer is shorter than the struct requires.
	ErrTruncated = errors.New("wire: truncated payload")

	// ErrSizeMismatch indicates the payload size does not match the
	// fixed layout of the opcode.
	ErrSizeMismatch = errors.New("wire: payload size mismatch")

	// ErrBadHeader indicates the datagram header is malformed or its
	// length field disagrees with the datagram size.
	ErrBadHeader = errors.New("wire: malformed header")
)

// Header is the fixed prefix of every datagram and of every payload
// nested inside an EncryptedPacket.
type Header struct {
	// Length is the total size including the header itself.
	Length uint16

	// Type is the packet opcode.
	Type PacketType
}

// Frame prepends a header to payload and returns the complete packet.
func Frame(t PacketType, payload []byte) []byte {
	buf := make([]byte, HeaderSize+len(payload))
	binary.LittleEndian.PutUint16(buf[0:2], uint16(HeaderSize+len(payload)))
	binary.LittleEndian.PutUint16(buf[2:4], uint16(t))
	copy(buf[HeaderSize:], payload)
	return buf
}

// ParseHeader validates the outer header of a datagram and returns it
// together with the payload. The header length must equal the datagram
// size exactly.
func ParseHeader(data []byte) (Header, []byte, error) {
	if len(data) < HeaderSize {
		return Header{}, nil, ErrBadHeader
	}
	hdr := Header{
		Length: binary.LittleEndian.Uint16(data[0:2]),
		Type:   PacketType(binary.LittleEndian.Uint16(data[2:4])),
	}
	if int(hdr.Length) != len(data) {
		return Header{}, nil, ErrBadHeader
	}
	return hdr, data[HeaderSize:], nil
}

// ParseInnerHeader validates the header of a decrypted EncryptedPacket
// body. The cipher pads to its block size, so up to 7 trailing bytes
// beyond the declared length are tolerated and truncated.
func ParseInnerHeader(data []byte) (Header, []byte, error) {
	if len(data) < HeaderSize {
		return Header{}, nil, ErrBadHeader
	}
	hdr := Header{
		Length: binary.LittleEndian.Uint16(data[0:2]),
		Type:   PacketType(binary.LittleEndian.Uint16(data[2:4])),
	}
	if int(hdr.Length) < HeaderSize || int(hdr.Length) > len(data) {
		return Header{}, nil, ErrBadHeader
	}
	if len(data) > int(hdr.Length) {
		if len(data) >= int(hdr.Length)+8 {
			return Header{}, nil, ErrBadHeader
		}
		data = data[:hdr.Length]
	}
	return hdr, data[HeaderSize:], nil
}

// PackAddr converts an IPv4 address to its network-byte-order 32-bit
// value. Non-IPv4 addresses (including IPv4-mapped IPv6) are reduced
// to their IPv4 form first; invalid addresses pack as zero.
func PackAddr(addr netip.Addr) uint32 {
	addr = addr.Unmap()
	if !addr.Is4() {
		return 0
	}
	b := addr.As4()
	return binary.BigEndian.Uint32(b[:])
}

// UnpackAddr is the inverse of PackAddr.
func UnpackAddr(v uint32) netip.Addr {
	var b [4]byte
	binary.BigEndian.PutUint32(b[:], v)
	return netip.AddrFrom4(b)
}

// ProtocolVersionReplyPayload carries the responder's protocol version.
type ProtocolVersionReplyPayload struct {
	Version uint32
}

// Marshal serializes the payload.
func (p *ProtocolVersionReplyPayload) Marshal() []byte {
	buf := make([]byte, ProtocolVersionReplySize)
	binary.LittleEndian.PutUint32(buf[0:4], p.Version)
	return buf
}

// Unmarshal parses the payload, requiring the exact fixed size.
func (p *ProtocolVersionReplyPayload) Unmarshal(b []byte) error {
	if len(b) != ProtocolVersionReplySize {
		return ErrSizeMismatch
	}
	p.Version = binary.LittleEndian.Uint32(b[0:4])
	return nil
}

// KeyExchangePayload prefixes both PublicKeyExchange and
// SessionKeyExchange packets. The key material follows it verbatim.
// The cookie correlates the two legs of a public-key exchange and is
// unused for session keys.
type KeyExchangePayload struct {
	NeedOthersKey bool
	Cookie        uint32
}

// Marshal serializes the prefix followed by the key bytes.
func (p *KeyExchangePayload) Marshal(key []byte) []byte {
	buf := make([]byte, KeyExchangeSize+len(key))
	if p.NeedOthersKey {
		buf[0] = 1
	}
	binary.LittleEndian.PutUint32(buf[1:5], p.Cookie)
	copy(buf[KeyExchangeSize:], key)
	return buf
}

// Unmarshal parses the prefix and returns the trailing key bytes.
// The key must be non-empty.
func (p *KeyExchangePayload) Unmarshal(b []byte) ([]byte, error) {
	if len(b) <= KeyExchangeSize {
		return nil, ErrTruncated
	}
	p.NeedOthersKey = b[0] != 0
	p.Cookie = binary.LittleEndian.Uint32(b[1:5])
	return b[KeyExchangeSize:], nil
}

// IntroducePayload announces the sender's overlay identity.
type IntroducePayload struct {
	SparkleIP  uint32
	SparkleMAC [6]byte
}

// Marshal serializes the payload.
func (p *IntroducePayload) Marshal() []byte {
	buf := make([]byte, IntroduceSize)
	binary.LittleEndian.PutUint32(buf[0:4], p.SparkleIP)
	copy(buf[4:10], p.SparkleMAC[:])
	return buf
}

// Unmarshal parses the payload, requiring the exact fixed size.
func (p *IntroducePayload) Unmarshal(b []byte) error {
	if len(b) != IntroduceSize {
		return ErrSizeMismatch
	}
	p.SparkleIP = binary.LittleEndian.Uint32(b[0:4])
	copy(p.SparkleMAC[:], b[4:10])
	return nil
}

// MasterNodeReplyPayload names the master a joining node must register
// against.
type MasterNodeReplyPayload struct {
	Addr uint32
	Port uint16
}

// Marshal serializes the payload.
func (p *MasterNodeReplyPayload) Marshal() []byte {
	buf := make([]byte, MasterNodeReplySize)
	binary.LittleEndian.PutUint32(buf[0:4], p.Addr)
	binary.LittleEndian.PutUint16(buf[4:6], p.Port)
	return buf
}

// Unmarshal parses the payload, requiring the exact fixed size.
func (p *MasterNodeReplyPayload) Unmarshal(b []byte) error {
	if len(b) != MasterNodeReplySize {
		return ErrSizeMismatch
	}
	p.Addr = binary.LittleEndian.Uint32(b[0:4])
	p.Port = binary.LittleEndian.Uint16(b[4:6])
	return nil
}

// PingRequestPayload asks the recipient to emit Count pings towards
// the named endpoint. The same layout serves PingInitiate.
type PingRequestPayload struct {
	Addr  uint32
	Port  uint16
	Count uint8
}

// Marshal serializes the payload.
func (p *PingRequestPayload) Marshal() []byte {
	buf := make([]byte, PingRequestSize)
	binary.LittleEndian.PutUint32(buf[0:4], p.Addr)
	binary.LittleEndian.PutUint16(buf[4:6], p.Port)
	buf[6] = p.Count
	return buf
}

// Unmarshal parses the payload, requiring the exact fixed size.
func (p *PingRequestPayload) Unmarshal(b []byte) error {
	if len(b) != PingRequestSize {
		return ErrSizeMismatch
	}
	p.Addr = binary.LittleEndian.Uint32(b[0:4])
	p.Port = binary.LittleEndian.Uint16(b[4:6])
	p.Count = b[6]
	return nil
}

// PingPayload echoes the endpoint the sender observed for the
// recipient; during a join it tells the joining node its public
// address as seen from outside.
type PingPayload struct {
	Addr uint32
	Port uint16
}

// Marshal serializes the payload.
func (p *PingPayload) Marshal() []byte {
	buf := make([]byte, PingSize)
	binary.LittleEndian.PutUint32(buf[0:4], p.Addr)
	binary.LittleEndian.PutUint16(buf[4:6], p.Port)
	return buf
}

// Unmarshal parses the payload, requiring the exact fixed size.
func (p *PingPayload) Unmarshal(b []byte) error {
	if len(b) != PingSize {
		return ErrSizeMismatch
	}
	p.Addr = binary.LittleEndian.Uint32(b[0:4])
	p.Port = binary.LittleEndian.Uint16(b[4:6])
	return nil
}

// RegisterRequestPayload asks a master to admit the sender.
type RegisterRequestPayload struct {
	IsBehindNAT bool
}

// Marshal serializes the payload.
func (p *RegisterRequestPayload) Marshal() []byte {
	buf := make([]byte, RegisterRequestSize)
	if p.IsBehindNAT {
		buf[0] = 1
	}
	return buf
}

// Unmarshal parses the payload, requiring the exact fixed size.
func (p *RegisterRequestPayload) Unmarshal(b []byte) error {
	if len(b) != RegisterRequestSize {
		return ErrSizeMismatch
	}
	p.IsBehindNAT = b[0] != 0
	return nil
}

// RegisterReplyPayload carries the overlay identity a master assigned
// to the registering node. RealIP/RealPort are zero unless the node is
// behind NAT, in which case they hold the master-observed endpoint.
type RegisterReplyPayload struct {
	SparkleIP      uint32
	SparkleMAC     [6]byte
	RealIP         uint32
	RealPort       uint16
	IsMaster       bool
	NetworkDivisor uint8
}

// Marshal serializes the payload.
func (p *RegisterReplyPayload) Marshal() []byte {
	buf := make([]byte, RegisterReplySize)
	binary.LittleEndian.PutUint32(buf[0:4], p.SparkleIP)
	copy(buf[4:10], p.SparkleMAC[:])
	binary.LittleEndian.PutUint32(buf[10:14], p.RealIP)
	binary.LittleEndian.PutUint16(buf[14:16], p.RealPort)
	if p.IsMaster {
		buf[16] = 1
	}
	buf[17] = p.NetworkDivisor
	return buf
}

// Unmarshal parses the payload, requiring the exact fixed size.
func (p *RegisterReplyPayload) Unmarshal(b []byte) error {
	if len(b) != RegisterReplySize {
		return ErrSizeMismatch
	}
	p.SparkleIP = binary.LittleEndian.Uint32(b[0:4])
	copy(p.SparkleMAC[:], b[4:10])
	p.RealIP = binary.LittleEndian.Uint32(b[10:14])
	p.RealPort = binary.LittleEndian.Uint16(b[14:16])
	p.IsMaster = b[16] != 0
	p.NetworkDivisor = b[17]
	return nil
}

// RoutePayload describes one peer: its real endpoint, overlay identity,
// and flags. Gossiped by masters.
type RoutePayload struct {
	RealIP      uint32
	RealPort    uint16
	SparkleIP   uint32
	SparkleMAC  [6]byte
	IsMaster    bool
	IsBehindNAT bool
}

// Marshal serializes the payload.
func (p *RoutePayload) Marshal() []byte {
	buf := make([]byte, RouteSize)
	binary.LittleEndian.PutUint32(buf[0:4], p.RealIP)
	binary.LittleEndian.PutUint16(buf[4:6], p.RealPort)
	binary.LittleEndian.PutUint32(buf[6:10], p.SparkleIP)
	copy(buf[10:16], p.SparkleMAC[:])
	if p.IsMaster {
		buf[16] = 1
	}
	if p.IsBehindNAT {
		buf[17] = 1
	}
	return buf
}

// Unmarshal parses the payload, requiring the exact fixed size.
func (p *RoutePayload) Unmarshal(b []byte) error {
	if len(b) != RouteSize {
		return ErrSizeMismatch
	}
	p.RealIP = binary.LittleEndian.Uint32(b[0:4])
	p.RealPort = binary.LittleEndian.Uint16(b[4:6])
	p.SparkleIP = binary.LittleEndian.Uint32(b[6:10])
	copy(p.SparkleMAC[:], b[10:16])
	p.IsMaster = b[16] != 0
	p.IsBehindNAT = b[17] != 0
	return nil
}

// RouteRequestPayload asks a master to resolve an overlay address.
// The same layout serves RouteMissing.
type RouteRequestPayload struct {
	SparkleIP uint32
}

// Marshal serializes the payload.
func (p *RouteRequestPayload) Marshal() []byte {
	buf := make([]byte, RouteRequestSize)
	binary.LittleEndian.PutUint32(buf[0:4], p.SparkleIP)
	return buf
}

// Unmarshal parses the payload, requiring the exact fixed size.
func (p *RouteRequestPayload) Unmarshal(b []byte) error {
	if len(b) != RouteRequestSize {
		return ErrSizeMismatch
	}
	p.SparkleIP = binary.LittleEndian.Uint32(b[0:4])
	return nil
}

// RouteInvalidatePayload orders removal of the peer with the named
// real endpoint.
type RouteInvalidatePayload struct {
	RealIP   uint32
	RealPort uint16
}

// Marshal serializes the payload.
func (p *RouteInvalidatePayload) Marshal() []byte {
	buf := make([]byte, RouteInvalidateSize)
	binary.LittleEndian.PutUint32(buf[0:4], p.RealIP)
	binary.LittleEndian.PutUint16(buf[4:6], p.RealPort)
	return buf
}

// Unmarshal parses the payload, requiring the exact fixed size.
func (p *RouteInvalidatePayload) Unmarshal(b []byte) error {
	if len(b) != RouteInvalidateSize {
		return ErrSizeMismatch
	}
	p.RealIP = binary.LittleEndian.Uint32(b[0:4])
	p.RealPort = binary.LittleEndian.Uint16(b[4:6])
	return nil
}

// RoleUpdatePayload flips the recipient's master flag.
type RoleUpdatePayload struct {
	IsMasterNow bool
}

// Marshal serializes the payload.
func (p *RoleUpdatePayload) Marshal() []byte {
	buf := make([]byte, RoleUpdateSize)
	if p.IsMasterNow {
		buf[0] = 1
	}
	return buf
}

// Unmarshal parses the payload, requiring the exact fixed size.
func (p *RoleUpdatePayload) Unmarshal(b []byte) error {
	if len(b) != RoleUpdateSize {
		return ErrSizeMismatch
	}
	p.IsMasterNow = b[0] != 0
	return nil
}
