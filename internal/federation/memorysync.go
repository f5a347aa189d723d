package federation

import (
	"context"
	"time"

	"github.com/cis-project/cis-core/internal/domain"
)

// MemoryStore is the subset of internal/memory.Service's API the CRDT
// sync manager needs.
type MemoryStore interface {
	GetPendingSync(limit int) ([]domain.MemoryItem, error)
	ImportPublic(item domain.MemoryItem) (bool, error)
	MarkSynced(key string) error
}

// PeerTransport sends a memory_sync message to a specific peer; the
// concrete implementation rides a tunnel.Tunnel's SendData in production.
type PeerTransport interface {
	SendSync(ctx context.Context, peerID string, msgType domain.MemorySyncMessageType, payload any) error
}

// MemorySyncManager drives the CRDT convergence loop between federated
// nodes: periodic pull Requests, reply Responses, and live Broadcasts,
// each merged into the local memory store via ImportPublic.
type MemorySyncManager struct {
	memory    MemoryStore
	transport PeerTransport
	nodeID    string
	interval  time.Duration

	lastSyncAt map[string]time.Time
}

// DefaultSyncInterval is the periodic pull interval used when a node
// doesn't override it.
const DefaultSyncInterval = 60 * time.Second

// NewMemorySyncManager constructs a MemorySyncManager for this node.
func NewMemorySyncManager(memory MemoryStore, transport PeerTransport, nodeID string, interval time.Duration) *MemorySyncManager {
	if interval <= 0 {
		interval = DefaultSyncInterval
	}
	return &MemorySyncManager{
		memory:     memory,
		transport:  transport,
		nodeID:     nodeID,
		interval:   interval,
		lastSyncAt: make(map[string]time.Time),
	}
}

// Run issues a periodic Request to every peer in connectedPeers() until
// ctx is cancelled.
func (m *MemorySyncManager) Run(ctx context.Context, connectedPeers func() []string) {
	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			for _, peerID := range connectedPeers() {
				_ = m.RequestSince(ctx, peerID)
			}
		}
	}
}

// RequestSince pulls everything peerID has changed since this node's last
// successful sync with it.
func (m *MemorySyncManager) RequestSince(ctx context.Context, peerID string) error {
	since := m.lastSyncAt[peerID].Unix()
	req := domain.MemorySyncRequestPayload{NodeID: m.nodeID, Since: since}
	return m.transport.SendSync(ctx, peerID, domain.MemorySyncRequest, req)
}

// HandleRequest answers an incoming Request with a Response carrying
// every public item pending sync.
func (m *MemorySyncManager) HandleRequest(ctx context.Context, peerID string, req domain.MemorySyncRequestPayload) error {
	entries, err := m.memory.GetPendingSync(1000)
	if err != nil {
		return err
	}
	resp := domain.MemorySyncResponsePayload{
		NodeID:    m.nodeID,
		Entries:   entries,
		Timestamp: time.Now().Unix(),
	}
	return m.transport.SendSync(ctx, peerID, domain.MemorySyncResponse, resp)
}

// HandleResponse merges every entry in resp into the local store and
// advances this node's last-synced-with-peer watermark.
func (m *MemorySyncManager) HandleResponse(peerID string, resp domain.MemorySyncResponsePayload) error {
	for _, entry := range resp.Entries {
		if _, err := m.memory.ImportPublic(entry); err != nil {
			return err
		}
		if err := m.memory.MarkSynced(entry.Key); err != nil {
			return err
		}
	}
	m.lastSyncAt[peerID] = time.Unix(resp.Timestamp, 0)
	return nil
}

// HandleBroadcast merges a single live update.
func (m *MemorySyncManager) HandleBroadcast(b domain.MemorySyncBroadcastPayload) (bool, error) {
	return m.memory.ImportPublic(b.Entry)
}
