package tunnel

import (
	"crypto/rand"
	"fmt"

	"github.com/flynn/noise"
)

// cipherSuite is fixed across the whole deployment: Curve25519 DH,
// ChaCha20-Poly1305 AEAD, SHA-256 hash — the same AEAD primitive
// internal/memory uses for the private domain, so one audit covers both.
var cipherSuite = noise.NewCipherSuite(noise.DH25519, noise.CipherChaChaPoly, noise.HashSHA256)

// handshake wraps a noise.HandshakeState through the 3-message XX pattern
// (e; e, ee, s, es; s, se) and yields the split send/receive cipher states once
// complete.
type handshake struct {
	hs        *noise.HandshakeState
	initiator bool
}

// newHandshake starts a fresh Noise XX handshake. staticKey is this node's
// long-term Curve25519 keypair (distinct from its Ed25519 identity key —
// Noise requires a DH-capable key, so a dedicated X25519 pair is used;
// internal/node generates a fresh one each time a Node is constructed).
func newHandshake(initiator bool, staticKey noise.DHKey) (*handshake, error) {
	hs, err := noise.NewHandshakeState(noise.Config{
		CipherSuite:   cipherSuite,
		Random:        rand.Reader,
		Pattern:       noise.HandshakeXX,
		Initiator:     initiator,
		StaticKeypair: staticKey,
	})
	if err != nil {
		return nil, fmt.Errorf("tunnel: noise handshake init: %w", err)
	}
	return &handshake{hs: hs, initiator: initiator}, nil
}

// GenerateStaticKey creates a fresh X25519 keypair for the Noise layer.
func GenerateStaticKey() (noise.DHKey, error) {
	return noise.DH25519.GenerateKeypair(rand.Reader)
}

// step1Send produces message 1 ("e") for the initiator.
func (h *handshake) step1Send() ([]byte, error) {
	out, _, _, err := h.hs.WriteMessage(nil, nil)
	if err != nil {
		return nil, fmt.Errorf("tunnel: noise step1 write: %w", err)
	}
	return out, nil
}

// step1Recv consumes message 1 on the responder side.
func (h *handshake) step1Recv(msg []byte) error {
	_, _, _, err := h.hs.ReadMessage(nil, msg)
	if err != nil {
		return fmt.Errorf("tunnel: noise step1 read: %w", err)
	}
	return nil
}

// step2Send produces message 2 ("e, ee, s, es") for the responder.
func (h *handshake) step2Send() ([]byte, error) {
	out, _, _, err := h.hs.WriteMessage(nil, nil)
	if err != nil {
		return nil, fmt.Errorf("tunnel: noise step2 write: %w", err)
	}
	return out, nil
}

// step2Recv consumes message 2 on the initiator side.
func (h *handshake) step2Recv(msg []byte) error {
	_, _, _, err := h.hs.ReadMessage(nil, msg)
	if err != nil {
		return fmt.Errorf("tunnel: noise step2 read: %w", err)
	}
	return nil
}

// step3Send produces the final message ("s, se") for the initiator and
// returns the split transport cipher states.
func (h *handshake) step3Send() ([]byte, *noise.CipherState, *noise.CipherState, error) {
	out, cs1, cs2, err := h.hs.WriteMessage(nil, nil)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("tunnel: noise step3 write: %w", err)
	}
	return out, cs1, cs2, nil
}

// step3Recv consumes the final message on the responder side and returns
// the split transport cipher states.
func (h *handshake) step3Recv(msg []byte) (*noise.CipherState, *noise.CipherState, error) {
	_, cs1, cs2, err := h.hs.ReadMessage(nil, msg)
	if err != nil {
		return nil, nil, fmt.Errorf("tunnel: noise step3 read: %w", err)
	}
	return cs1, cs2, nil
}
