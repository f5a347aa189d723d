package p2p

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/cis-project/cis-core/internal/domain"
)

type fakeLocalStore struct {
	mu       sync.Mutex
	kv       map[[20]byte][]byte
	contacts []domain.NodeContact
}

func newFakeLocalStore() *fakeLocalStore {
	return &fakeLocalStore{kv: make(map[[20]byte][]byte)}
}

func (s *fakeLocalStore) LocalPut(key [20]byte, value []byte) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.kv[key] = value
}

func (s *fakeLocalStore) LocalGet(key [20]byte) ([]byte, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	v, ok := s.kv[key]
	return v, ok
}

func (s *fakeLocalStore) LocalFindNode(target [20]byte) []domain.NodeContact {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.contacts
}

func newTestTransport(t *testing.T, store LocalStore) *UDPTransport {
	t.Helper()
	tr, err := NewUDPTransport("127.0.0.1:0", store)
	if err != nil {
		t.Fatalf("NewUDPTransport() error: %v", err)
	}
	t.Cleanup(func() { tr.Close() })
	return tr
}

func TestUDPTransportPingRoundTrip(t *testing.T) {
	serverStore := newFakeLocalStore()
	server := newTestTransport(t, serverStore)
	client := newTestTransport(t, newFakeLocalStore())

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	contact := domain.NodeContact{Endpoint: server.LocalAddr()}
	if err := client.Ping(ctx, contact); err != nil {
		t.Fatalf("Ping() error: %v", err)
	}
}

func TestUDPTransportStoreAndFindValueRoundTrip(t *testing.T) {
	serverStore := newFakeLocalStore()
	server := newTestTransport(t, serverStore)
	client := newTestTransport(t, newFakeLocalStore())

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	contact := domain.NodeContact{Endpoint: server.LocalAddr()}
	var key [20]byte
	key[0] = 0x42
	value := []byte("hello from a peer")

	if err := client.Store(ctx, contact, key, value); err != nil {
		t.Fatalf("Store() error: %v", err)
	}

	got, contacts, err := client.FindValue(ctx, contact, key)
	if err != nil {
		t.Fatalf("FindValue() error: %v", err)
	}
	if string(got) != string(value) {
		t.Errorf("FindValue() value = %q, want %q", got, value)
	}
	if contacts != nil {
		t.Errorf("FindValue() contacts = %v, want nil when a value is found", contacts)
	}
}

func TestUDPTransportFindValueMissReturnsContacts(t *testing.T) {
	serverStore := newFakeLocalStore()
	want := []domain.NodeContact{{Endpoint: "10.0.0.1:4001"}, {Endpoint: "10.0.0.2:4001"}}
	serverStore.contacts = want
	server := newTestTransport(t, serverStore)
	client := newTestTransport(t, newFakeLocalStore())

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	contact := domain.NodeContact{Endpoint: server.LocalAddr()}
	var key [20]byte
	key[0] = 0x99

	value, contacts, err := client.FindValue(ctx, contact, key)
	if err != nil {
		t.Fatalf("FindValue() error: %v", err)
	}
	if value != nil {
		t.Errorf("FindValue() value = %v, want nil on miss", value)
	}
	if len(contacts) != len(want) {
		t.Fatalf("FindValue() contacts = %d, want %d", len(contacts), len(want))
	}
}

func TestUDPTransportFindNodeRoundTrip(t *testing.T) {
	serverStore := newFakeLocalStore()
	want := []domain.NodeContact{{Endpoint: "10.0.0.5:4001"}}
	serverStore.contacts = want
	server := newTestTransport(t, serverStore)
	client := newTestTransport(t, newFakeLocalStore())

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	contact := domain.NodeContact{Endpoint: server.LocalAddr()}
	var target [20]byte
	contacts, err := client.FindNode(ctx, contact, target)
	if err != nil {
		t.Fatalf("FindNode() error: %v", err)
	}
	if len(contacts) != 1 || contacts[0].Endpoint != want[0].Endpoint {
		t.Errorf("FindNode() contacts = %v, want %v", contacts, want)
	}
}

func TestUDPTransportPingFailsAgainstClosedPort(t *testing.T) {
	client := newTestTransport(t, newFakeLocalStore())

	target := newTestTransport(t, newFakeLocalStore())
	addr := target.LocalAddr()
	target.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 300*time.Millisecond)
	defer cancel()

	err := client.Ping(ctx, domain.NodeContact{Endpoint: addr})
	if err == nil {
		t.Error("Ping() against a closed port should time out with an error")
	}
}

func TestUDPTransportLocalAddrReflectsBoundPort(t *testing.T) {
	tr := newTestTransport(t, newFakeLocalStore())
	if tr.LocalAddr() == "" {
		t.Error("LocalAddr() should not be empty once bound")
	}
}
