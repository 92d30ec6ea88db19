package crypto

import (
	"crypto/ed25519"
	"crypto/rand"
	"crypto/sha256"
	"errors"
	"fmt"
	"io"

	"golang.org/x/crypto/hkdf"
)

// KeyProvider is the signing seam. The in-memory provider serves
// development and tests; production custody (HSM, KMS, file) plugs in here.
type KeyProvider interface {
	Sign(msg []byte) ([]byte, error)
	PublicKey() ed25519.PublicKey
}

// MemoryKeyProvider keeps the private key in process memory.
type MemoryKeyProvider struct {
	pub  ed25519.PublicKey
	priv ed25519.PrivateKey
}

// NewMemoryKeyProvider generates a fresh provider.
func NewMemoryKeyProvider() (*MemoryKeyProvider, error) {
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return nil, fmt.Errorf("crypto: key generation failed: %w", err)
	}
	return &MemoryKeyProvider{pub: pub, priv: priv}, nil
}

// NewMemoryKeyProviderFromSeed derives a provider from a 32-byte seed.
func NewMemoryKeyProviderFromSeed(seed []byte) (*MemoryKeyProvider, error) {
	if len(seed) != ed25519.SeedSize {
		return nil, ErrBadKeySize
	}
	priv := ed25519.NewKeyFromSeed(seed)
	return &MemoryKeyProvider{pub: priv.Public().(ed25519.PublicKey), priv: priv}, nil
}

func (m *MemoryKeyProvider) Sign(msg []byte) ([]byte, error) {
	return ed25519.Sign(m.priv, msg), nil
}

func (m *MemoryKeyProvider) PublicKey() ed25519.PublicKey {
	return m.pub
}

// Seed exposes the private seed for derivation. Guarded by the Keyring.
func (m *MemoryKeyProvider) Seed() []byte { return m.priv.Seed() }

// Keyring manages a long-term guardian key through a KeyProvider and
// derives short-lived operational keys from it.
type Keyring struct {
	provider KeyProvider
}

// NewKeyring wraps a provider. A nil provider is an error rather than a
// silent in-memory fallback: signing authority must be explicit.
func NewKeyring(p KeyProvider) (*Keyring, error) {
	if p == nil {
		return nil, errors.New("crypto: keyring requires a key provider")
	}
	return &Keyring{provider: p}, nil
}

// Sign signs raw message bytes with the guardian key.
func (k *Keyring) Sign(msg []byte) ([]byte, error) {
	return k.provider.Sign(msg)
}

// PublicKey returns the guardian public key.
func (k *Keyring) PublicKey() ed25519.PublicKey {
	return k.provider.PublicKey()
}

// DeriveOperational derives a deterministic Ed25519 keypair for a rotating
// operational key via HKDF-SHA256 over the guardian seed. The info string
// is the key ID, so each issued ROK gets distinct material.
func (k *Keyring) DeriveOperational(keyID string) (*Ed25519Signer, error) {
	if keyID == "" {
		return nil, errors.New("crypto: operational key ID must not be empty")
	}
	mem, ok := k.provider.(*MemoryKeyProvider)
	if !ok {
		return nil, errors.New("crypto: operational derivation requires seed access; use the provider's native derivation")
	}

	r := hkdf.New(sha256.New, mem.Seed(), []byte("mirror-rok-kdf"), []byte(keyID))
	seed := make([]byte, ed25519.SeedSize)
	if _, err := io.ReadFull(r, seed); err != nil {
		return nil, fmt.Errorf("crypto: HKDF derivation failed: %w", err)
	}
	return NewEd25519SignerFromSeed(seed, keyID)
}
