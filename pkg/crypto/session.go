package crypto

import (
	"crypto/cipher"
	"crypto/rand"
	"errors"
	"fmt"

	"golang.org/x/crypto/blowfish"
)

const (
	// SessionKeySize is the length of a generated session key in bytes.
	SessionKeySize = 16

	// sessionBlockSize is the Blowfish block size. Payloads are padded
	// to a multiple of it with zeros; the link layer truncates the
	// padding using the inner packet length.
	sessionBlockSize = blowfish.BlockSize
)

// ErrBadSessionPayload indicates ciphertext that is empty or whose
// length is not a multiple of the cipher block size.
var ErrBadSessionPayload = errors.New("crypto: ciphertext not block-aligned")

// SessionKey is the symmetric cipher protecting one direction of a
// pairwise channel. Each peer generates its own key for the traffic it
// sends and learns the peer's key for the traffic it receives.
//
// Encryption is Blowfish in CBC mode with a zero IV and zero padding.
// Every packet carries its true length in the encrypted inner header,
// which is how the receiver strips the padding.
type SessionKey struct {
	key    []byte
	cipher *blowfish.Cipher
}

// NewSessionKey generates a fresh random session key.
func NewSessionKey() (*SessionKey, error) {
	key := make([]byte, SessionKeySize)
	if _, err := rand.Read(key); err != nil {
		return nil, fmt.Errorf("crypto: generating session key: %w", err)
	}
	return SessionKeyFromBytes(key)
}

// SessionKeyFromBytes installs key material received from a peer.
func SessionKeyFromBytes(key []byte) (*SessionKey, error) {
	c, err := blowfish.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("crypto: bad session key: %w", err)
	}
	return &SessionKey{key: append([]byte(nil), key...), cipher: c}, nil
}

// Bytes returns the raw key material for transmission to the peer.
func (s *SessionKey) Bytes() []byte {
	return append([]byte(nil), s.key...)
}

// Encrypt pads data to the block size with zeros and encrypts it.
// Empty data is padded to one full block, so the ciphertext is never
// empty.
func (s *SessionKey) Encrypt(data []byte) []byte {
	padded := len(data)
	if rem := padded % sessionBlockSize; rem != 0 {
		padded += sessionBlockSize - rem
	}
	if padded == 0 {
		padded = sessionBlockSize
	}
	buf := make([]byte, padded)
	copy(buf, data)

	iv := make([]byte, sessionBlockSize)
	cipher.NewCBCEncrypter(s.cipher, iv).CryptBlocks(buf, buf)
	return buf
}

// Decrypt decrypts block-aligned ciphertext. The result retains the
// zero padding; the caller truncates it using the inner packet length.
func (s *SessionKey) Decrypt(data []byte) ([]byte, error) {
	if len(data) == 0 || len(data)%sessionBlockSize != 0 {
		return nil, ErrBadSessionPayload
	}
	buf := make([]byte, len(data))
	iv := make([]byte, sessionBlockSize)
	cipher.NewCBCDecrypter(s.cipher, iv).CryptBlocks(buf, data)
	return buf, nil
}

// Close zeros the stored key material.
func (s *SessionKey) Close() {
	SecureZero(s.key)
	s.key = nil
	s.cipher = nil
}
