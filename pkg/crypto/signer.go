// Package crypto wraps the Ed25519 primitives used everywhere a Mirror
// entity is signed. Keys are exactly 32 bytes, signatures exactly 64;
// hex and base64 helpers exist for API boundaries but every primitive
// operates on raw bytes.
package crypto

import (
	"crypto/ed25519"
	"crypto/rand"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
)

var (
	// ErrBadKeySize is returned when a key is not the Ed25519 size.
	ErrBadKeySize = errors.New("crypto: invalid key size")
	// ErrBadSignatureSize is returned when a signature is not 64 bytes.
	ErrBadSignatureSize = errors.New("crypto: invalid signature size")
)

// Signer produces signatures over raw message bytes.
type Signer interface {
	Sign(data []byte) (string, error)
	PublicKey() string
	PublicKeyBytes() []byte
}

// Ed25519Signer is the standard Signer implementation.
type Ed25519Signer struct {
	priv  ed25519.PrivateKey
	pub   ed25519.PublicKey
	KeyID string
}

// NewEd25519Signer generates a fresh keypair.
func NewEd25519Signer(keyID string) (*Ed25519Signer, error) {
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return nil, fmt.Errorf("crypto: key generation failed: %w", err)
	}
	return &Ed25519Signer{priv: priv, pub: pub, KeyID: keyID}, nil
}

// NewEd25519SignerFromSeed deterministically derives a signer from a
// 32-byte seed.
func NewEd25519SignerFromSeed(seed []byte, keyID string) (*Ed25519Signer, error) {
	if len(seed) != ed25519.SeedSize {
		return nil, ErrBadKeySize
	}
	priv := ed25519.NewKeyFromSeed(seed)
	return &Ed25519Signer{
		priv:  priv,
		pub:   priv.Public().(ed25519.PublicKey),
		KeyID: keyID,
	}, nil
}

// Sign signs data and returns the signature hex encoded.
func (s *Ed25519Signer) Sign(data []byte) (string, error) {
	return hex.EncodeToString(ed25519.Sign(s.priv, data)), nil
}

// SignBytes signs data and returns the raw 64-byte signature.
func (s *Ed25519Signer) SignBytes(data []byte) []byte {
	return ed25519.Sign(s.priv, data)
}

// PublicKey returns the hex-encoded public key.
func (s *Ed25519Signer) PublicKey() string {
	return hex.EncodeToString(s.pub)
}

// PublicKeyBytes returns the raw 32-byte public key.
func (s *Ed25519Signer) PublicKeyBytes() []byte {
	return s.pub
}

// Seed returns the 32-byte private seed. Callers own custody.
func (s *Ed25519Signer) Seed() []byte {
	return s.priv.Seed()
}

// Verify checks a raw signature against a raw public key.
func Verify(pub, data, sig []byte) (bool, error) {
	if len(pub) != ed25519.PublicKeySize {
		return false, ErrBadKeySize
	}
	if len(sig) != ed25519.SignatureSize {
		return false, ErrBadSignatureSize
	}
	return ed25519.Verify(ed25519.PublicKey(pub), data, sig), nil
}

// VerifyHex checks a hex-encoded signature against a hex-encoded public key.
func VerifyHex(pubHex, sigHex string, data []byte) (bool, error) {
	pub, err := hex.DecodeString(pubHex)
	if err != nil {
		return false, fmt.Errorf("crypto: invalid public key hex: %w", err)
	}
	sig, err := hex.DecodeString(sigHex)
	if err != nil {
		return false, fmt.Errorf("crypto: invalid signature hex: %w", err)
	}
	return Verify(pub, data, sig)
}

// DecodeKey accepts a hex- or base64-encoded key and returns raw bytes.
func DecodeKey(encoded string) ([]byte, error) {
	if b, err := hex.DecodeString(encoded); err == nil && len(b) == ed25519.PublicKeySize {
		return b, nil
	}
	b, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return nil, fmt.Errorf("crypto: key is neither hex nor base64: %w", err)
	}
	if len(b) != ed25519.PublicKeySize {
		return nil, ErrBadKeySize
	}
	return b, nil
}

// EncodeBase64 returns the standard base64 form of raw bytes.
func EncodeBase64(raw []byte) string {
	return base64.StdEncoding.EncodeToString(raw)
}
