// Package domain — peer and DHT contact types shared by the p2p and
// federation packages.
package domain

import "time"

// PeerState tracks liveness as observed by the Kademlia table and the
// federation trust store.
type PeerState string

const (
	PeerAlive   PeerState = "ALIVE"
	PeerSuspect PeerState = "SUSPECT"
	PeerDead    PeerState = "DEAD"
	PeerBlocked PeerState = "BLOCKED"
)

// TrustLevel classifies how much a peer is allowed to do against this node.
type TrustLevel string

const (
	TrustUnknown   TrustLevel = "UNKNOWN"
	TrustDiscovered TrustLevel = "DISCOVERED"
	TrustFederated TrustLevel = "FEDERATED"
	TrustOwner     TrustLevel = "OWNER"
)

// NodeContact is the minimal addressable unit in the Kademlia routing table:
// a 160-bit node ID plus a dialable endpoint.
type NodeContact struct {
	ID       [20]byte `json:"id"`
	Endpoint string   `json:"endpoint"`
}

// PeerInfo is a fully known peer, as tracked by federation and the tunnel
// manager — a superset of NodeContact with trust and liveness metadata.
type PeerInfo struct {
	NodeID     string     `json:"node_id"`
	DID        string     `json:"did"`
	Endpoint   string     `json:"endpoint,omitempty"`
	PublicKey  []byte     `json:"public_key"`
	LastSeen   time.Time  `json:"last_seen"`
	Reputation float64    `json:"reputation"`
	State      PeerState  `json:"state"`
	Trust      TrustLevel `json:"trust"`
}

// IsReachable returns true if the peer is alive (not dead, suspect or blocked).
func (p *PeerInfo) IsReachable() bool {
	return p.State == PeerAlive
}

// IsTrusted reports whether the peer meets the given reputation floor,
// carries any trust level other than TrustUnknown, and is not blocked.
func (p *PeerInfo) IsTrusted(threshold float64) bool {
	return p.Reputation >= threshold && p.Trust != TrustUnknown && p.State != PeerBlocked
}
