// Package security provides cryptographic node identity and message
// signing. Every node has an Ed25519 keypair; P2P tunnel authentication and
// federation event signing both build on it.
package security

import (
	"crypto/ed25519"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
)

// Keypair holds the node's Ed25519 identity.
type Keypair struct {
	Public  ed25519.PublicKey
	Private ed25519.PrivateKey
}

// GenerateKeypair creates a new Ed25519 keypair.
func GenerateKeypair() (*Keypair, error) {
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return nil, fmt.Errorf("generate ed25519 keypair: %w", err)
	}
	return &Keypair{Public: pub, Private: priv}, nil
}

// LoadOrCreateKeypair loads an existing keypair from disk, or generates
// a new one on first run. Keys are stored in cisHome/keys/.
func LoadOrCreateKeypair(cisHome string) (*Keypair, error) {
	keyDir := filepath.Join(cisHome, "keys")
	pubPath := filepath.Join(keyDir, "node.pub")
	privPath := filepath.Join(keyDir, "node.key")

	// Try loading existing keys
	pubBytes, pubErr := os.ReadFile(pubPath)
	privBytes, privErr := os.ReadFile(privPath)

	if pubErr == nil && privErr == nil {
		pub, err := hex.DecodeString(string(pubBytes))
		if err != nil {
			return nil, fmt.Errorf("decode public key: %w", err)
		}
		priv, err := hex.DecodeString(string(privBytes))
		if err != nil {
			return nil, fmt.Errorf("decode private key: %w", err)
		}
		return &Keypair{
			Public:  ed25519.PublicKey(pub),
			Private: ed25519.PrivateKey(priv),
		}, nil
	}

	// Generate new keypair
	kp, err := GenerateKeypair()
	if err != nil {
		return nil, err
	}

	// Save to disk
	if err := os.MkdirAll(keyDir, 0700); err != nil {
		return nil, fmt.Errorf("create key dir: %w", err)
	}
	if err := os.WriteFile(pubPath, []byte(hex.EncodeToString(kp.Public)), 0644); err != nil {
		return nil, fmt.Errorf("write public key: %w", err)
	}
	if err := os.WriteFile(privPath, []byte(hex.EncodeToString(kp.Private)), 0600); err != nil {
		return nil, fmt.Errorf("write private key: %w", err)
	}

	return kp, nil
}

// PublicKeyHex returns the public key as a hex string (used as node ID).
func (kp *Keypair) PublicKeyHex() string {
	return hex.EncodeToString(kp.Public)
}

// Sign signs a message with the node's private key.
func (kp *Keypair) Sign(message []byte) []byte {
	return ed25519.Sign(kp.Private, message)
}

// Verify checks a signature against a public key.
func Verify(message, signature []byte, publicKey ed25519.PublicKey) bool {
	return ed25519.Verify(publicKey, message, signature)
}

// DID returns this node's decentralized identifier in a did:key-shaped
// form: "did:key:z" followed by the hex encoding of its Ed25519 public key
// (not the multicodec/base58btc encoding of the did:key method), used as
// the peer identity in tunnel challenge/response authentication.
func (kp *Keypair) DID() string {
	return "did:key:z" + hex.EncodeToString(kp.Public)
}

// SignChallenge signs a random nonce presented by a remote peer during
// tunnel authentication, proving control of this node's private key
// without revealing it.
func (kp *Keypair) SignChallenge(nonce []byte) []byte {
	return kp.Sign(nonce)
}

// VerifyChallenge checks a challenge signature against a claimed DID's
// embedded public key.
func VerifyChallenge(did string, nonce, signature []byte) bool {
	const prefix = "did:key:z"
	if len(did) <= len(prefix) || did[:len(prefix)] != prefix {
		return false
	}
	pub, err := hex.DecodeString(did[len(prefix):])
	if err != nil {
		return false
	}
	return Verify(nonce, signature, ed25519.PublicKey(pub))
}
