package federation

import (
	"database/sql"
	"fmt"
	"sync"
	"time"

	"github.com/cis-project/cis-core/internal/domain"
)

// PeerStore tracks which remote servers this node trusts for federation
// and when each was last seen, following the same migrate-then-statement
// idiom as internal/scheduler's SQLStore.
type PeerStore struct {
	db *sql.DB

	mu    sync.RWMutex
	cache map[string]domain.PeerInfo
}

// NewPeerStore wires a PeerStore against an already-open *sql.DB.
func NewPeerStore(db *sql.DB) (*PeerStore, error) {
	if err := ensurePeerSchema(db); err != nil {
		return nil, err
	}
	s := &PeerStore{db: db, cache: make(map[string]domain.PeerInfo)}
	if err := s.load(); err != nil {
		return nil, err
	}
	return s, nil
}

func ensurePeerSchema(db *sql.DB) error {
	const migration = `CREATE TABLE IF NOT EXISTS federation_peers (
		node_id    TEXT PRIMARY KEY,
		did        TEXT NOT NULL,
		endpoint   TEXT,
		trust      TEXT NOT NULL,
		state      TEXT NOT NULL,
		reputation REAL NOT NULL DEFAULT 0,
		last_seen  INTEGER NOT NULL
	)`
	if _, err := db.Exec(migration); err != nil {
		return fmt.Errorf("federation peer migration failed: %w", err)
	}
	return nil
}

func (s *PeerStore) load() error {
	rows, err := s.db.Query(`SELECT node_id, did, endpoint, trust, state, reputation, last_seen FROM federation_peers`)
	if err != nil {
		return err
	}
	defer rows.Close()

	s.mu.Lock()
	defer s.mu.Unlock()
	for rows.Next() {
		var p domain.PeerInfo
		var endpoint sql.NullString
		var lastSeen int64
		if err := rows.Scan(&p.NodeID, &p.DID, &endpoint, &p.Trust, &p.State, &p.Reputation, &lastSeen); err != nil {
			return err
		}
		p.Endpoint = endpoint.String
		p.LastSeen = time.Unix(lastSeen, 0).UTC()
		s.cache[p.NodeID] = p
	}
	return rows.Err()
}

// IsTrusted reports whether origin (a server name / node id) is a known,
// non-blocked federation peer.
func (s *PeerStore) IsTrusted(origin string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.cache[origin]
	if !ok {
		return false
	}
	return p.State != domain.PeerBlocked && p.Trust != domain.TrustUnknown
}

// MarkSeen records origin as alive as of now, inserting a DISCOVERED-trust
// record on first contact.
func (s *PeerStore) MarkSeen(origin string) error {
	now := time.Now().UTC()

	s.mu.Lock()
	p, ok := s.cache[origin]
	if !ok {
		p = domain.PeerInfo{NodeID: origin, DID: origin, Trust: domain.TrustDiscovered, State: domain.PeerAlive}
	}
	p.LastSeen = now
	p.State = domain.PeerAlive
	s.cache[origin] = p
	s.mu.Unlock()

	_, err := s.db.Exec(`INSERT INTO federation_peers (node_id, did, endpoint, trust, state, reputation, last_seen)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(node_id) DO UPDATE SET state = excluded.state, last_seen = excluded.last_seen`,
		p.NodeID, p.DID, p.Endpoint, string(p.Trust), string(p.State), p.Reputation, now.Unix())
	return err
}

// Trust upserts origin's trust level explicitly (e.g. an operator
// promoting a discovered peer to federated).
func (s *PeerStore) Trust(origin string, trust domain.TrustLevel) error {
	s.mu.Lock()
	p, ok := s.cache[origin]
	if !ok {
		p = domain.PeerInfo{NodeID: origin, DID: origin, State: domain.PeerAlive}
	}
	p.Trust = trust
	s.cache[origin] = p
	s.mu.Unlock()

	_, err := s.db.Exec(`INSERT INTO federation_peers (node_id, did, endpoint, trust, state, reputation, last_seen)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(node_id) DO UPDATE SET trust = excluded.trust`,
		p.NodeID, p.DID, p.Endpoint, string(trust), string(p.State), p.Reputation, time.Now().Unix())
	return err
}

// Count returns the number of known peers, trusted or not.
func (s *PeerStore) Count() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.cache)
}
