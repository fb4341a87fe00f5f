package sparkle

import (
	"errors"
	"fmt"
	"net/netip"

	"github.com/ShiRenzhi/sparkle/pkg/crypto"
	"github.com/ShiRenzhi/sparkle/pkg/link"
)

// ErrorCode identifies the type of error for programmatic handling.
type ErrorCode int

const (
	// ErrCodeUnknown indicates an unknown or unclassified error.
	ErrCodeUnknown ErrorCode = iota

	// ErrCodeInvalidConfig indicates the configuration is invalid.
	ErrCodeInvalidConfig

	// ErrCodeTransportInit indicates the UDP transport could not bind.
	ErrCodeTransportInit

	// ErrCodeJoinFailed indicates a join attempt failed.
	ErrCodeJoinFailed

	// ErrCodeNotJoined indicates an operation requiring network
	// membership.
	ErrCodeNotJoined

	// ErrCodeNoRoute indicates no peer holds the overlay address.
	ErrCodeNoRoute

	// ErrCodeHandshakeTimeout indicates a key negotiation timed out.
	ErrCodeHandshakeTimeout

	// ErrCodeEncryptionFailed indicates packet encryption failed.
	ErrCodeEncryptionFailed

	// ErrCodeDecryptionFailed indicates packet decryption failed.
	ErrCodeDecryptionFailed

	// ErrCodeNodeNotStarted indicates the node has not been started.
	ErrCodeNodeNotStarted

	// ErrCodeNodeAlreadyStarted indicates the node is already running.
	ErrCodeNodeAlreadyStarted

	// ErrCodeVersionMismatch indicates incompatible protocol versions.
	ErrCodeVersionMismatch
)

// String returns a human-readable name for the error code.
func (c ErrorCode) String() string {
	switch c {
	case ErrCodeUnknown:
		return "Unknown"
	case ErrCodeInvalidConfig:
		return "InvalidConfig"
	case ErrCodeTransportInit:
		return "TransportInit"
	case ErrCodeJoinFailed:
		return "JoinFailed"
	case ErrCodeNotJoined:
		return "NotJoined"
	case ErrCodeNoRoute:
		return "NoRoute"
	case ErrCodeHandshakeTimeout:
		return "HandshakeTimeout"
	case ErrCodeEncryptionFailed:
		return "EncryptionFailed"
	case ErrCodeDecryptionFailed:
		return "DecryptionFailed"
	case ErrCodeNodeNotStarted:
		return "NodeNotStarted"
	case ErrCodeNodeAlreadyStarted:
		return "NodeAlreadyStarted"
	case ErrCodeVersionMismatch:
		return "VersionMismatch"
	default:
		return fmt.Sprintf("ErrorCode(%d)", int(c))
	}
}

// Error represents a Sparkle error with rich context.
type Error struct {
	// Code identifies the type of error.
	Code ErrorCode

	// Message is a human-readable description of the error.
	Message string

	// Endpoint is the peer endpoint associated with the error, if any.
	Endpoint netip.AddrPort

	// Cause is the underlying error, if any.
	Cause error
}

// Error returns a human-readable error message.
func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("sparkle: %s: %v", e.Message, e.Cause)
	}
	return fmt.Sprintf("sparkle: %s", e.Message)
}

// Unwrap returns the underlying error.
func (e *Error) Unwrap() error {
	return e.Cause
}

// Is reports whether target matches this error. Two Sparkle errors are
// considered equal if they have the same error code.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Code == e.Code
}

// NewError creates a new Sparkle Error with the given code and message.
func NewError(code ErrorCode, message string) *Error {
	return &Error{Code: code, Message: message}
}

// NewErrorWithCause creates a new Sparkle Error wrapping a cause.
func NewErrorWithCause(code ErrorCode, message string, cause error) *Error {
	return &Error{Code: code, Message: message, Cause: cause}
}

// Sentinel errors re-exported from the link layer.
var (
	// ErrNotJoined indicates an operation that requires membership in
	// a network.
	ErrNotJoined = link.ErrNotJoined

	// ErrAlreadyJoined indicates a join or create on a node that is
	// already part of a network.
	ErrAlreadyJoined = link.ErrAlreadyJoined

	// ErrNoRoute indicates no peer holds the requested overlay address.
	ErrNoRoute = link.ErrNoRoute

	// ErrSendToSelf indicates an attempt to send to the local node.
	ErrSendToSelf = link.ErrSendToSelf

	// ErrTransportInit indicates the transport could not be bound.
	ErrTransportInit = link.ErrTransportInit

	// ErrInvalidPublicKey indicates public key bytes that do not parse.
	ErrInvalidPublicKey = crypto.ErrInvalidPublicKey
)

// Sentinel errors for configuration.
var (
	// ErrInvalidConfig indicates the configuration is invalid.
	ErrInvalidConfig = errors.New("invalid configuration")

	// ErrMissingHostKey indicates no host keypair was provided.
	ErrMissingHostKey = errors.New("host keypair is required")

	// ErrMissingListenAddr indicates no listen address was provided.
	ErrMissingListenAddr = errors.New("listen address is required")
)

// Sentinel errors for node operations.
var (
	// ErrNodeNotStarted indicates the node has not been started.
	ErrNodeNotStarted = errors.New("node not started")

	// ErrNodeAlreadyStarted indicates the node is already running.
	ErrNodeAlreadyStarted = errors.New("node already started")
)
