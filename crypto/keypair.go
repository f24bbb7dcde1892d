package crypto

import (
	"crypto/rand"
	"encoding/hex"
	"errors"

	"golang.org/x/crypto/curve25519"
	"golang.org/x/crypto/nacl/box"
)

// KeySize is the size of Curve25519 public and private keys in bytes.
const KeySize = 32

var (
	// ErrZeroKey indicates a private key consisting of all zeros.
	ErrZeroKey = errors.New("invalid secret key: all zeros")
	// ErrInvalidKeySize indicates key material of the wrong length.
	ErrInvalidKeySize = errors.New("key must be 32 bytes")
)

// PublicKey is a Curve25519 public key identifying a peer.
type PublicKey [KeySize]byte

// String returns the hex encoding of the public key.
func (pk PublicKey) String() string {
	return hex.EncodeToString(pk[:])
}

// PublicKeyFromString parses a hex-encoded Curve25519 public key.
func PublicKeyFromString(s string) (PublicKey, error) {
	var pk PublicKey
	raw, err := hex.DecodeString(s)
	if err != nil {
		return pk, err
	}
	if len(raw) != KeySize {
		return pk, ErrInvalidKeySize
	}
	copy(pk[:], raw)
	return pk, nil
}

// KeyPair is the local node identity: a long-term Curve25519 key pair
// usable for Diffie-Hellman during Noise handshakes. It is immutable
// after construction and shared by reference wherever sessions are
// accepted or initiated.
type KeyPair struct {
	Public  PublicKey
	Private [KeySize]byte
}

// GenerateKeyPair creates a new random Curve25519 key pair.
func GenerateKeyPair() (*KeyPair, error) {
	publicKey, privateKey, err := box.GenerateKey(rand.Reader)
	if err != nil {
		return nil, err
	}

	return &KeyPair{
		Public:  PublicKey(*publicKey),
		Private: *privateKey,
	}, nil
}

// FromSecretKey creates a key pair from an existing private key,
// deriving the corresponding public key. It fails if the private key
// cannot serve as Diffie-Hellman key material; such a failure is a
// configuration error, not an operational one.
func FromSecretKey(secretKey [KeySize]byte) (*KeyPair, error) {
	if isZeroKey(secretKey) {
		return nil, ErrZeroKey
	}

	pub, err := curve25519.X25519(secretKey[:], curve25519.Basepoint)
	if err != nil {
		return nil, err
	}

	kp := &KeyPair{Private: secretKey}
	copy(kp.Public[:], pub)
	return kp, nil
}

// isZeroKey checks if a key consists of all zeros.
func isZeroKey(key [KeySize]byte) bool {
	for _, b := range key {
		if b != 0 {
			return false
		}
	}
	return true
}
