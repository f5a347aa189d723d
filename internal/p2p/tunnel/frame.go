// Package tunnel implements authenticated Noise-over-WebSocket tunnels
// (C5): a Connecting → Handshaking → Authenticating → Ready state
// machine backing real per-peer encrypted sessions.
package tunnel

import (
	"encoding/json"

	"github.com/google/uuid"
)

// ControlKind discriminates the JSON control envelope carried over the
// WebSocket text-frame channel.
type ControlKind string

const (
	ControlHandshake ControlKind = "HANDSHAKE"
	ControlAuth      ControlKind = "AUTH"
	ControlPing      ControlKind = "PING"
	ControlPong      ControlKind = "PONG"
	ControlError     ControlKind = "ERROR"
	ControlClose     ControlKind = "CLOSE"
)

// ControlFrame is the JSON envelope for every non-data message.
type ControlFrame struct {
	Kind    ControlKind     `json:"kind"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// HandshakePayload carries one Noise XX handshake message.
type HandshakePayload struct {
	Step int    `json:"step"`
	Data []byte `json:"data"`
}

// AuthChallengePayload is sent by the responder once the Noise handshake
// completes, naming a nonce the initiator must sign with its node key.
type AuthChallengePayload struct {
	Nonce string `json:"nonce"`
}

// AuthResponsePayload is the initiator's signed reply to AuthChallengePayload.
type AuthResponsePayload struct {
	DID       string `json:"did"`
	Signature []byte `json:"signature"`
}

// PingPayload carries a monotonic counter the peer echoes back in Pong.
type PingPayload struct {
	Counter uint64 `json:"counter"`
}

// ErrorPayload carries a human-readable reason the tunnel is closing.
type ErrorPayload struct {
	Reason string `json:"reason"`
}

// EncodeControl marshals a control frame for sending as a WebSocket text
// message.
func EncodeControl(kind ControlKind, payload any) ([]byte, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return json.Marshal(ControlFrame{Kind: kind, Payload: raw})
}

// DecodeControl unmarshals a received text frame.
func DecodeControl(data []byte) (ControlFrame, error) {
	var f ControlFrame
	err := json.Unmarshal(data, &f)
	return f, err
}

// SessionIDLen is the width of the binary prefix on a data frame.
const SessionIDLen = 16

// EncodeData prepends a 16-byte session UUID to an opaque payload, framing
// it for the WebSocket binary-message channel.
func EncodeData(sessionID uuid.UUID, payload []byte) []byte {
	out := make([]byte, SessionIDLen+len(payload))
	copy(out, sessionID[:])
	copy(out[SessionIDLen:], payload)
	return out
}

// DecodeData splits a binary frame back into its session ID and payload.
func DecodeData(frame []byte) (uuid.UUID, []byte, bool) {
	if len(frame) < SessionIDLen {
		return uuid.UUID{}, nil, false
	}
	var id uuid.UUID
	copy(id[:], frame[:SessionIDLen])
	return id, frame[SessionIDLen:], true
}

func decodePayload(raw json.RawMessage, target any) error {
	return json.Unmarshal(raw, target)
}
