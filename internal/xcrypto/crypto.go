// Package xcrypto provides the cryptographic capability the log façade is
// built on: key generation, signing of Merkle roots, signature verification,
// and discovery-key derivation. Callers may supply their own implementation
// of Capability to replace any of these primitives (spec §4.1 "crypto"
// option).
package xcrypto

import (
	"crypto/ed25519"
	"crypto/rand"
	"errors"
	"fmt"

	"golang.org/x/crypto/blake2b"
)

// KeySize is the size in bytes of a log's public key.
const KeySize = ed25519.PublicKeySize

// ErrInvalidKey is returned when a supplied public key is not KeySize bytes.
var ErrInvalidKey = errors.New("xcrypto: key must be 32 bytes")

// KeyPair holds a log's identity. SecretKey is nil for read-only logs.
type KeyPair struct {
	PublicKey []byte
	SecretKey []byte
}

// Signer produces a signature over a Merkle tree root hash.
type Signer func(root []byte) ([]byte, error)

// Capability is the injectable crypto surface consumed by the log façade.
// The default implementation uses Ed25519 for signing and BLAKE2b for
// hashing and discovery-key derivation, matching the teacher's own
// reach for stdlib crypto primitives (crypto/hmac, crypto/sha256)
// generalized to asymmetric signatures.
type Capability interface {
	// Hash returns the content hash used inside Merkle tree nodes.
	Hash(data []byte) []byte
	// ParentHash combines two child hashes into a parent node hash.
	ParentHash(left, right []byte) []byte
	// Sign builds a Signer bound to secretKey, or nil if secretKey is nil.
	Sign(secretKey []byte) Signer
	// Verify checks sig over root against publicKey.
	Verify(publicKey, root, sig []byte) bool
	// DiscoveryKey derives a public, unlinkable rendezvous token from a
	// log's public key.
	DiscoveryKey(publicKey []byte) ([]byte, error)
	// ValidateKey checks that publicKey has the expected shape for this
	// capability. The default implementation requires exactly KeySize bytes.
	ValidateKey(publicKey []byte) error
	// KeyPair generates a fresh signing identity.
	KeyPair() (KeyPair, error)
}

// Default is the built-in Ed25519 + BLAKE2b capability.
var Default Capability = defaultCapability{}

type defaultCapability struct{}

func (defaultCapability) Hash(data []byte) []byte {
	h := blake2b.Sum256(data)
	return h[:]
}

func (defaultCapability) ParentHash(left, right []byte) []byte {
	buf := make([]byte, 0, 1+len(left)+len(right))
	buf = append(buf, 1) // domain-separate leaf vs. parent hashing
	buf = append(buf, left...)
	buf = append(buf, right...)
	h := blake2b.Sum256(buf)
	return h[:]
}

func (defaultCapability) Sign(secretKey []byte) Signer {
	if len(secretKey) == 0 {
		return nil
	}
	sk := append([]byte(nil), secretKey...)
	return func(root []byte) ([]byte, error) {
		if len(sk) != ed25519.PrivateKeySize {
			return nil, fmt.Errorf("xcrypto: secret key must be %d bytes", ed25519.PrivateKeySize)
		}
		return ed25519.Sign(ed25519.PrivateKey(sk), root), nil
	}
}

func (defaultCapability) Verify(publicKey, root, sig []byte) bool {
	if len(publicKey) != ed25519.PublicKeySize {
		return false
	}
	return ed25519.Verify(ed25519.PublicKey(publicKey), root, sig)
}

// discoveryKeyDomain is hashed together with the public key, analogous to
// hypercore's "hypercore" domain-separation string.
var discoveryKeyDomain = []byte("hyperlog-discovery-key")

func (defaultCapability) DiscoveryKey(publicKey []byte) ([]byte, error) {
	if len(publicKey) != KeySize {
		return nil, ErrInvalidKey
	}
	mac, err := blake2b.New256(publicKey)
	if err != nil {
		return nil, err
	}
	mac.Write(discoveryKeyDomain)
	return mac.Sum(nil), nil
}

func (defaultCapability) ValidateKey(publicKey []byte) error {
	if len(publicKey) != KeySize {
		return ErrInvalidKey
	}
	return nil
}

func (defaultCapability) KeyPair() (KeyPair, error) {
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return KeyPair{}, err
	}
	return KeyPair{PublicKey: pub, SecretKey: priv}, nil
}
