package federation

import (
	"testing"

	"github.com/cis-project/cis-core/internal/domain"
)

func TestPeerStoreUntrustedByDefault(t *testing.T) {
	store, err := NewPeerStore(openTestDB(t))
	if err != nil {
		t.Fatalf("NewPeerStore: %v", err)
	}
	if store.IsTrusted("unknown.example") {
		t.Fatal("an unseen origin must not be trusted")
	}
}

func TestPeerStoreMarkSeenGrantsDiscoveredTrust(t *testing.T) {
	store, err := NewPeerStore(openTestDB(t))
	if err != nil {
		t.Fatalf("NewPeerStore: %v", err)
	}
	if err := store.MarkSeen("peer.example"); err != nil {
		t.Fatalf("MarkSeen: %v", err)
	}
	if !store.IsTrusted("peer.example") {
		t.Fatal("a discovered peer should be trusted (TrustDiscovered satisfies IsTrusted)")
	}
	if store.Count() != 1 {
		t.Fatalf("Count() = %d, want 1", store.Count())
	}
}

func TestPeerStoreTrustPromotesDiscoveredPeerToFederated(t *testing.T) {
	store, err := NewPeerStore(openTestDB(t))
	if err != nil {
		t.Fatalf("NewPeerStore: %v", err)
	}
	if err := store.MarkSeen("peer.example"); err != nil {
		t.Fatalf("MarkSeen: %v", err)
	}
	if err := store.Trust("peer.example", domain.TrustFederated); err != nil {
		t.Fatalf("Trust: %v", err)
	}
	if !store.IsTrusted("peer.example") {
		t.Fatal("federated peer should be trusted")
	}
}

func TestPeerStorePersistsAcrossReload(t *testing.T) {
	db := openTestDB(t)
	store, err := NewPeerStore(db)
	if err != nil {
		t.Fatalf("NewPeerStore: %v", err)
	}
	if err := store.MarkSeen("peer.example"); err != nil {
		t.Fatalf("MarkSeen: %v", err)
	}

	reloaded, err := NewPeerStore(db)
	if err != nil {
		t.Fatalf("NewPeerStore reload: %v", err)
	}
	if !reloaded.IsTrusted("peer.example") {
		t.Fatal("reloaded store should remember previously-seen peer")
	}
}
