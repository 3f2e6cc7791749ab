// Package identity derives account and component addresses.
//
// An account address is the last 20 bytes of the Keccak-256 digest of the
// account's Ed25519 public key, hex encoded with a 0x prefix. Component
// addresses use the same digest over a namespaced component name, so every
// deployment of the same component set yields the same addresses.
package identity

import (
	"crypto/ed25519"
	"crypto/rand"
	"encoding/hex"
	"fmt"

	"golang.org/x/crypto/sha3"

	"github.com/Mindburn-Labs/helm/settlement/pkg/substrate"
)

// Key is an Ed25519 account key.
type Key struct {
	priv ed25519.PrivateKey
	pub  ed25519.PublicKey
}

// GenerateKey creates a random key.
func GenerateKey() (*Key, error) {
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return nil, fmt.Errorf("key generation failed: %w", err)
	}
	return &Key{priv: priv, pub: pub}, nil
}

// KeyFromSeed derives a key from a 32-byte seed.
func KeyFromSeed(seed []byte) (*Key, error) {
	if len(seed) != ed25519.SeedSize {
		return nil, fmt.Errorf("identity: seed must be %d bytes, got %d", ed25519.SeedSize, len(seed))
	}
	priv := ed25519.NewKeyFromSeed(seed)
	return &Key{priv: priv, pub: priv.Public().(ed25519.PublicKey)}, nil
}

func (k *Key) PrivateKey() ed25519.PrivateKey { return k.priv }

func (k *Key) PublicKey() ed25519.PublicKey { return k.pub }

func (k *Key) PublicKeyHex() string { return hex.EncodeToString(k.pub) }

// Address returns the account address of k.
func (k *Key) Address() substrate.Address {
	return AddressFromPublicKey(k.pub)
}

// AddressFromPublicKey derives the account address of pub.
func AddressFromPublicKey(pub ed25519.PublicKey) substrate.Address {
	return fromDigest(pub)
}

// ComponentAddress derives the address of a named component.
func ComponentAddress(name string) substrate.Address {
	return fromDigest([]byte("settlement/component/" + name))
}

func fromDigest(b []byte) substrate.Address {
	h := sha3.NewLegacyKeccak256()
	h.Write(b)
	sum := h.Sum(nil)
	return substrate.Address("0x" + hex.EncodeToString(sum[12:]))
}
