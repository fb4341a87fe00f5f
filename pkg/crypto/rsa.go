// Package crypto provides the cryptographic primitives for Sparkle:
// the RSA host keypair used as peer identity, the Blowfish session
// cipher protecting pairwise channels, and key file persistence.
package crypto

import (
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha1"
	"crypto/x509"
	"encoding/pem"
	"errors"
	"fmt"
	"os"
)

// DefaultKeyBits is the default RSA modulus size for generated host keys.
const DefaultKeyBits = 1024

// FingerprintSize is the size of a public key fingerprint in bytes.
const FingerprintSize = sha1.Size

// Sentinel errors for keypair operations.
var (
	// ErrInvalidPublicKey indicates public key bytes that do not parse
	// as an RSA public key.
	ErrInvalidPublicKey = errors.New("crypto: invalid public key")

	// ErrNoPrivateKey indicates an operation requiring the private half
	// on a keypair that only holds a peer's public key.
	ErrNoPrivateKey = errors.New("crypto: no private key")
)

// KeyPair holds an RSA keypair, or only the public half when it
// represents a remote peer's identity.
type KeyPair struct {
	private *rsa.PrivateKey
	public  *rsa.PublicKey
}

// Generate creates a new keypair with the given modulus size.
func Generate(bits int) (*KeyPair, error) {
	priv, err := rsa.GenerateKey(rand.Reader, bits)
	if err != nil {
		return nil, fmt.Errorf("crypto: generating %d-bit key: %w", bits, err)
	}
	return &KeyPair{private: priv, public: &priv.PublicKey}, nil
}

// PublicKeyBytes returns the DER encoding of the public key. This is
// the byte string carried in PublicKeyExchange packets and hashed for
// the overlay identity.
func (k *KeyPair) PublicKeyBytes() []byte {
	der, err := x509.MarshalPKIXPublicKey(k.public)
	if err != nil {
		// An RSA public key always marshals; reaching here means the
		// keypair was constructed with an invalid key.
		panic(fmt.Sprintf("crypto: marshalling public key: %v", err))
	}
	return der
}

// SetPublicKey installs public key bytes received from a peer.
func SetPublicKey(der []byte) (*KeyPair, error) {
	key, err := x509.ParsePKIXPublicKey(der)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidPublicKey, err)
	}
	pub, ok := key.(*rsa.PublicKey)
	if !ok {
		return nil, fmt.Errorf("%w: not an RSA key", ErrInvalidPublicKey)
	}
	return &KeyPair{public: pub}, nil
}

// Fingerprint returns the SHA-1 digest of the public key bytes. The
// overlay identity of a peer is derived from this fingerprint.
func (k *KeyPair) Fingerprint() [FingerprintSize]byte {
	return sha1.Sum(k.PublicKeyBytes())
}

// Encrypt encrypts a short message (such as a session key) to the
// holder of this public key using RSA PKCS #1 v1.5.
func (k *KeyPair) Encrypt(msg []byte) ([]byte, error) {
	out, err := rsa.EncryptPKCS1v15(rand.Reader, k.public, msg)
	if err != nil {
		return nil, fmt.Errorf("crypto: RSA encrypt: %w", err)
	}
	return out, nil
}

// Decrypt decrypts a message encrypted to this keypair's public key.
func (k *KeyPair) Decrypt(ciphertext []byte) ([]byte, error) {
	if k.private == nil {
		return nil, ErrNoPrivateKey
	}
	out, err := rsa.DecryptPKCS1v15(rand.Reader, k.private, ciphertext)
	if err != nil {
		return nil, fmt.Errorf("crypto: RSA decrypt: %w", err)
	}
	return out, nil
}

// HasPrivate reports whether the keypair holds the private half.
func (k *KeyPair) HasPrivate() bool {
	return k.private != nil
}

// PEM block type for stored host keys.
const pemKeyType = "RSA PRIVATE KEY"

// WriteToFile stores the private key PEM-encoded at path, creating the
// file with owner-only permissions.
func (k *KeyPair) WriteToFile(path string) error {
	if k.private == nil {
		return ErrNoPrivateKey
	}
	block := &pem.Block{
		Type:  pemKeyType,
		Bytes: x509.MarshalPKCS1PrivateKey(k.private),
	}
	if err := os.WriteFile(path, pem.EncodeToMemory(block), 0o600); err != nil {
		return fmt.Errorf("crypto: writing key file: %w", err)
	}
	return nil
}

// ReadFromFile loads a private key previously stored with WriteToFile.
func ReadFromFile(path string) (*KeyPair, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("crypto: reading key file: %w", err)
	}
	block, _ := pem.Decode(data)
	if block == nil || block.Type != pemKeyType {
		return nil, fmt.Errorf("crypto: %s does not contain a %s block", path, pemKeyType)
	}
	priv, err := x509.ParsePKCS1PrivateKey(block.Bytes)
	if err != nil {
		return nil, fmt.Errorf("crypto: parsing key file: %w", err)
	}
	return &KeyPair{private: priv, public: &priv.PublicKey}, nil
}
