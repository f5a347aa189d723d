package federation

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/cis-project/cis-core/internal/domain"
)

type fakeMemoryStore struct {
	mu      sync.Mutex
	pending []domain.MemoryItem
	synced  map[string]bool
	stored  map[string]domain.MemoryItem
}

func newFakeMemoryStore() *fakeMemoryStore {
	return &fakeMemoryStore{synced: make(map[string]bool), stored: make(map[string]domain.MemoryItem)}
}

func (f *fakeMemoryStore) GetPendingSync(limit int) ([]domain.MemoryItem, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]domain.MemoryItem, len(f.pending))
	copy(out, f.pending)
	return out, nil
}

func (f *fakeMemoryStore) ImportPublic(item domain.MemoryItem) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.stored[item.Key] = item
	return true, nil
}

func (f *fakeMemoryStore) MarkSynced(key string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.synced[key] = true
	return nil
}

type fakeTransport struct {
	mu   sync.Mutex
	sent []sentMessage
}

type sentMessage struct {
	peerID  string
	msgType domain.MemorySyncMessageType
	payload any
}

func (f *fakeTransport) SendSync(ctx context.Context, peerID string, msgType domain.MemorySyncMessageType, payload any) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, sentMessage{peerID, msgType, payload})
	return nil
}

func TestMemorySyncManagerHandleResponseMergesAndMarksSynced(t *testing.T) {
	store := newFakeMemoryStore()
	mgr := NewMemorySyncManager(store, &fakeTransport{}, "node-a", time.Minute)

	resp := domain.MemorySyncResponsePayload{
		NodeID:    "node-b",
		Entries:   []domain.MemoryItem{{Key: "k1", Domain: domain.DomainPublic, Value: []byte("v1")}},
		Timestamp: 1234,
	}
	if err := mgr.HandleResponse("node-b", resp); err != nil {
		t.Fatalf("HandleResponse: %v", err)
	}

	if _, ok := store.stored["k1"]; !ok {
		t.Fatal("entry was not imported")
	}
	if !store.synced["k1"] {
		t.Fatal("entry was not marked synced")
	}
}

func TestMemorySyncManagerHandleBroadcastMerges(t *testing.T) {
	store := newFakeMemoryStore()
	mgr := NewMemorySyncManager(store, &fakeTransport{}, "node-a", time.Minute)

	changed, err := mgr.HandleBroadcast(domain.MemorySyncBroadcastPayload{
		Entry: domain.MemoryItem{Key: "k2", Domain: domain.DomainPublic, Value: []byte("v2")},
	})
	if err != nil {
		t.Fatalf("HandleBroadcast: %v", err)
	}
	if !changed {
		t.Fatal("expected HandleBroadcast to report a change")
	}
	if _, ok := store.stored["k2"]; !ok {
		t.Fatal("broadcast entry was not imported")
	}
}

func TestMemorySyncManagerHandleRequestRepliesWithPendingEntries(t *testing.T) {
	store := newFakeMemoryStore()
	store.pending = []domain.MemoryItem{{Key: "k3", Domain: domain.DomainPublic, Value: []byte("v3")}}
	transport := &fakeTransport{}
	mgr := NewMemorySyncManager(store, transport, "node-a", time.Minute)

	if err := mgr.HandleRequest(context.Background(), "node-b", domain.MemorySyncRequestPayload{NodeID: "node-b"}); err != nil {
		t.Fatalf("HandleRequest: %v", err)
	}

	transport.mu.Lock()
	defer transport.mu.Unlock()
	if len(transport.sent) != 1 {
		t.Fatalf("sent = %v, want 1 message", transport.sent)
	}
	if transport.sent[0].msgType != domain.MemorySyncResponse {
		t.Fatalf("msgType = %v, want MemorySyncResponse", transport.sent[0].msgType)
	}
	payload := transport.sent[0].payload.(domain.MemorySyncResponsePayload)
	if len(payload.Entries) != 1 || payload.Entries[0].Key != "k3" {
		t.Fatalf("payload entries = %v, want [k3]", payload.Entries)
	}
}

func TestMemorySyncManagerRequestSinceUsesLastSyncWatermark(t *testing.T) {
	store := newFakeMemoryStore()
	transport := &fakeTransport{}
	mgr := NewMemorySyncManager(store, transport, "node-a", time.Minute)

	if err := mgr.HandleResponse("node-b", domain.MemorySyncResponsePayload{NodeID: "node-b", Timestamp: 1234}); err != nil {
		t.Fatalf("HandleResponse: %v", err)
	}
	if err := mgr.RequestSince(context.Background(), "node-b"); err != nil {
		t.Fatalf("RequestSince: %v", err)
	}

	transport.mu.Lock()
	defer transport.mu.Unlock()
	if len(transport.sent) != 1 || transport.sent[0].msgType != domain.MemorySyncRequest {
		t.Fatalf("sent = %v, want one MemorySyncRequest", transport.sent)
	}
	req := transport.sent[0].payload.(domain.MemorySyncRequestPayload)
	if req.Since != 1234 {
		t.Fatalf("Since = %d, want 1234 (the last Response timestamp)", req.Since)
	}
}
