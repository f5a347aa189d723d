package federation

import (
	"context"
	"encoding/json"

	"github.com/google/uuid"

	"github.com/cis-project/cis-core/internal/domain"
	"github.com/cis-project/cis-core/internal/p2p/tunnel"
)

// syncEnvelope is the opaque data-frame payload a memory_sync message
// travels as over an authenticated tunnel.
type syncEnvelope struct {
	Type    domain.MemorySyncMessageType `json:"type"`
	Payload json.RawMessage              `json:"payload"`
}

// TunnelTransport implements PeerTransport over an internal/p2p/tunnel
// Manager: peerID is looked up as a tunnel key, and the message is framed
// as an encrypted data frame rather than a control frame, since
// memory_sync traffic is ordinary application data from the tunnel's
// point of view.
type TunnelTransport struct {
	tunnels *tunnel.Manager
}

// NewTunnelTransport wraps an existing tunnel Manager.
func NewTunnelTransport(tunnels *tunnel.Manager) *TunnelTransport {
	return &TunnelTransport{tunnels: tunnels}
}

// SendSync satisfies PeerTransport.
func (t *TunnelTransport) SendSync(ctx context.Context, peerID string, msgType domain.MemorySyncMessageType, payload any) error {
	tun, ok := t.tunnels.Get(peerID)
	if !ok {
		return domain.Wrap(domain.ErrFederation, "federation.no_tunnel", domain.ErrTunnelClosed)
	}

	raw, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	frame, err := json.Marshal(syncEnvelope{Type: msgType, Payload: raw})
	if err != nil {
		return err
	}
	return tun.SendData(uuid.New(), frame)
}

// DecodeSyncEnvelope unwraps a data frame a tunnel's OnData callback
// handed to federation, returning the message type and raw payload for
// the MemorySyncManager's Handle* methods to unmarshal further.
func DecodeSyncEnvelope(data []byte) (domain.MemorySyncMessageType, json.RawMessage, error) {
	var env syncEnvelope
	if err := json.Unmarshal(data, &env); err != nil {
		return "", nil, err
	}
	return env.Type, env.Payload, nil
}
