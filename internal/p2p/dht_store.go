package p2p

import (
	"sync/atomic"

	"github.com/cis-project/cis-core/internal/domain"
	"github.com/cis-project/cis-core/internal/p2p/kademlia"
)

// KademliaStoreHandle adapts a *kademlia.DHT to the LocalStore interface
// UDPTransport needs. kademlia.ID is a distinct named type over [20]byte
// (so the routing table and XOR-distance helpers can't be handed a bare
// array by mistake), which means nothing satisfies LocalStore's
// [20]byte-keyed methods without this explicit conversion shim.
//
// The handle also breaks the construction cycle between a DHT and its
// transport: kademlia.New requires a transport up front, while
// NewUDPTransport requires a LocalStore to answer incoming RPCs — so the
// handle is built first, handed to NewUDPTransport, and Bound to the real
// DHT once kademlia.New returns. Bind uses an atomic pointer since the
// transport's read loop is already running in the background by the time
// Bind is called.
type KademliaStoreHandle struct {
	dht atomic.Pointer[kademlia.DHT]
}

// NewKademliaStoreHandle returns an unbound handle; RPCs arriving before
// Bind is called are answered as if the store were empty.
func NewKademliaStoreHandle() *KademliaStoreHandle {
	return &KademliaStoreHandle{}
}

// Bind attaches the handle to dht.
func (h *KademliaStoreHandle) Bind(dht *kademlia.DHT) {
	h.dht.Store(dht)
}

func (h *KademliaStoreHandle) LocalPut(key [20]byte, value []byte) {
	if dht := h.dht.Load(); dht != nil {
		dht.LocalPut(kademlia.ID(key), value)
	}
}

func (h *KademliaStoreHandle) LocalGet(key [20]byte) ([]byte, bool) {
	if dht := h.dht.Load(); dht != nil {
		return dht.LocalGet(kademlia.ID(key))
	}
	return nil, false
}

func (h *KademliaStoreHandle) LocalFindNode(target [20]byte) []domain.NodeContact {
	if dht := h.dht.Load(); dht != nil {
		return dht.LocalFindNode(kademlia.ID(target))
	}
	return nil
}
