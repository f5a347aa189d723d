package federation

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/cis-project/cis-core/internal/domain"
	"github.com/cis-project/cis-core/internal/p2p/tunnel"
)

func TestTunnelTransportReturnsErrorWithoutAnOpenTunnel(t *testing.T) {
	transport := NewTunnelTransport(tunnel.NewManager())

	err := transport.SendSync(context.Background(), "unknown-peer", domain.MemorySyncRequest, domain.MemorySyncRequestPayload{NodeID: "node-a"})
	if err == nil {
		t.Fatal("expected an error when no tunnel is registered for the peer")
	}
}

func TestDecodeSyncEnvelopeRoundTrips(t *testing.T) {
	req := domain.MemorySyncRequestPayload{NodeID: "node-a", Since: 42}
	raw, err := json.Marshal(req)
	if err != nil {
		t.Fatalf("json.Marshal: %v", err)
	}
	env, err := json.Marshal(syncEnvelope{Type: domain.MemorySyncRequest, Payload: raw})
	if err != nil {
		t.Fatalf("json.Marshal envelope: %v", err)
	}

	msgType, payload, err := DecodeSyncEnvelope(env)
	if err != nil {
		t.Fatalf("DecodeSyncEnvelope: %v", err)
	}
	if msgType != domain.MemorySyncRequest {
		t.Fatalf("msgType = %v, want MemorySyncRequest", msgType)
	}

	var decoded domain.MemorySyncRequestPayload
	if err := json.Unmarshal(payload, &decoded); err != nil {
		t.Fatalf("unmarshal payload: %v", err)
	}
	if decoded.NodeID != "node-a" || decoded.Since != 42 {
		t.Fatalf("decoded = %+v, want NodeID=node-a Since=42", decoded)
	}
}
