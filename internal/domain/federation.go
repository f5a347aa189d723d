// Package domain — federation event and server-key types (C6).
package domain

import "encoding/json"

// CisMatrixEvent is the only unit of cross-node transfer in the federation
// layer: every room-scoped fact (memory mutation, presence, skill
// invocation echo) is wrapped in one of these before it crosses a tunnel
// or the HTTP event-receive endpoint.
type CisMatrixEvent struct {
	EventID         string          `json:"event_id"`
	RoomID          string          `json:"room_id"`
	Sender          string          `json:"sender"`
	EventType       string          `json:"event_type"`
	Content         json.RawMessage `json:"content"`
	OriginServerTS  int64           `json:"origin_server_ts"`
	Origin          string          `json:"origin,omitempty"`
	Signatures      json.RawMessage `json:"signatures,omitempty"`
	Hashes          json.RawMessage `json:"hashes,omitempty"`
	Unsigned        json.RawMessage `json:"unsigned,omitempty"`
	StateKey        *string         `json:"state_key,omitempty"`
}

// ServerKeyResponse answers GET /_matrix/key/v2/server.
type ServerKeyResponse struct {
	ServerName   string                `json:"server_name"`
	ValidUntilTS int64                 `json:"valid_until_ts"`
	VerifyKeys   map[string]VerifyKey  `json:"verify_keys"`
	Signatures   map[string]map[string]string `json:"signatures,omitempty"`
}

// VerifyKey is one named Ed25519 verification key, base64-less hex-encoded
// to match the node identity format used throughout internal/security.
type VerifyKey struct {
	Key string `json:"key"`
}

// EventReceiveResult is the response body for POST /_cis/v1/event/receive.
type EventReceiveResult struct {
	Accepted bool   `json:"accepted"`
	EventID  string `json:"event_id,omitempty"`
	Error    string `json:"error,omitempty"`
}

// HealthResult is the response body for GET /_cis/v1/health.
type HealthResult struct {
	Status    string `json:"status"`
	PeerCount int    `json:"peer_count"`
}

// MemorySyncMessageType discriminates the three memory_sync CRDT message
// shapes federation nodes exchange over the tunnel layer.
type MemorySyncMessageType string

const (
	MemorySyncRequest   MemorySyncMessageType = "REQUEST"
	MemorySyncResponse  MemorySyncMessageType = "RESPONSE"
	MemorySyncBroadcast MemorySyncMessageType = "BROADCAST"
)

// MemorySyncRequestPayload pulls everything a peer has changed since a
// given timestamp.
type MemorySyncRequestPayload struct {
	NodeID    string   `json:"node_id"`
	Since     int64    `json:"since"`
	KnownKeys []string `json:"known_keys"`
}

// MemorySyncResponsePayload answers a MemorySyncRequestPayload.
type MemorySyncResponsePayload struct {
	NodeID      string      `json:"node_id"`
	Entries     []MemoryItem `json:"entries"`
	DeletedKeys []string    `json:"deleted_keys"`
	Timestamp   int64       `json:"timestamp"`
}

// MemorySyncBroadcastPayload announces a single live update.
type MemorySyncBroadcastPayload struct {
	Entry MemoryItem `json:"entry"`
}
