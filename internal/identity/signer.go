// Package identity signs completed artifacts so downstream consumers can
// verify which agent produced them. Ed25519 keeps signatures small and
// verification cheap.
package identity

import (
	"crypto/ed25519"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"os"
)

// Ed25519Signer signs artifact content with an Ed25519 private key.
type Ed25519Signer struct {
	key   ed25519.PrivateKey
	keyID string
}

// NewEd25519Signer wraps an existing private key.
func NewEd25519Signer(key ed25519.PrivateKey) *Ed25519Signer {
	pub := key.Public().(ed25519.PublicKey)
	sum := sha256.Sum256(pub)
	return &Ed25519Signer{key: key, keyID: hex.EncodeToString(sum[:8])}
}

// GenerateSigner creates a signer with a fresh key pair.
func GenerateSigner() (*Ed25519Signer, error) {
	_, key, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return nil, fmt.Errorf("failed to generate signing key: %w", err)
	}
	return NewEd25519Signer(key), nil
}

// LoadSigner reads a raw Ed25519 seed from path.
func LoadSigner(path string) (*Ed25519Signer, error) {
	seed, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read signing key: %w", err)
	}
	if len(seed) != ed25519.SeedSize {
		return nil, fmt.Errorf("signing key must be a %d-byte seed, got %d bytes", ed25519.SeedSize, len(seed))
	}
	return NewEd25519Signer(ed25519.NewKeyFromSeed(seed)), nil
}

// Sign returns signature metadata for the given content. It implements
// the worker pipeline's Signer contract.
func (s *Ed25519Signer) Sign(content []byte) (map[string]any, error) {
	sig := ed25519.Sign(s.key, content)
	return map[string]any{
		"signature": base64.StdEncoding.EncodeToString(sig),
		"key":       s.keyID,
		"alg":       "ed25519",
	}, nil
}

// Verify checks a signature produced by Sign against the public key.
func (s *Ed25519Signer) Verify(content []byte, signature string) bool {
	sig, err := base64.StdEncoding.DecodeString(signature)
	if err != nil {
		return false
	}
	return ed25519.Verify(s.key.Public().(ed25519.PublicKey), content, sig)
}
