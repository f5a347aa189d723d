package memory

import (
	"database/sql"
	"encoding/json"
	"sync"
	"time"

	"github.com/cis-project/cis-core/internal/domain"
)

// Service is the dual-domain memory service: Set/Get/Delete/ListKeys
// against either the private (encrypted) or public (CRDT) domain, fronted
// by a write-through LRU cache.
type Service struct {
	db     *sql.DB
	encMu  sync.RWMutex
	enc    *Encryptor
	cache  *Cache
	nodeID string
}

// NewService wires a memory Service against an already-open *sql.DB
// (normally storage.Connection.DB()) and an Encryptor for the private
// domain. EnsureSchema must have been called already.
func NewService(db *sql.DB, enc *Encryptor, nodeID string, cacheCapacity int) *Service {
	return &Service{db: db, enc: enc, cache: NewCache(cacheCapacity), nodeID: nodeID}
}

// Set writes a value into the given domain. Private values are sealed
// before hitting disk; public values are stored plaintext with a bumped
// vector clock entry for this node.
func (s *Service) Set(domainKind domain.MemoryDomain, key string, value []byte) error {
	now := time.Now()
	switch domainKind {
	case domain.DomainPrivate:
		sealed, err := s.currentEnc().Seal(value)
		if err != nil {
			return err
		}
		_, err = s.db.Exec(
			`INSERT INTO private_entries (key, ciphertext, owner_id, created_at, updated_at)
			 VALUES (?, ?, ?, ?, ?)
			 ON CONFLICT(key) DO UPDATE SET ciphertext=excluded.ciphertext, updated_at=excluded.updated_at`,
			key, sealed, s.nodeID, now.Unix(), now.Unix(),
		)
		if err != nil {
			return domain.Wrap(domain.ErrMemory, "memory.set_private_failed", err)
		}
		s.cache.Invalidate(cacheKey(domainKind, key))
		return nil

	case domain.DomainPublic:
		clock, err := s.currentClock(key)
		if err != nil {
			return err
		}
		clock = clock.Increment(s.nodeID)
		clockJSON, err := json.Marshal(clock)
		if err != nil {
			return domain.Wrap(domain.ErrMemory, "memory.clock_marshal_failed", err)
		}
		_, err = s.db.Exec(
			`INSERT INTO public_entries (key, value, owner_id, clock, tombstone, created_at, updated_at, synced_at)
			 VALUES (?, ?, ?, ?, 0, ?, ?, NULL)
			 ON CONFLICT(key) DO UPDATE SET value=excluded.value, clock=excluded.clock,
				tombstone=0, updated_at=excluded.updated_at, synced_at=NULL`,
			key, value, s.nodeID, string(clockJSON), now.Unix(), now.Unix(),
		)
		if err != nil {
			return domain.Wrap(domain.ErrMemory, "memory.set_public_failed", err)
		}
		s.cache.Invalidate(cacheKey(domainKind, key))
		return nil

	default:
		return domain.NewError(domain.ErrInvalidInput, "memory.bad_domain", "unknown memory domain")
	}
}

// Get reads a value back, decrypting private entries transparently. Cache
// is consulted first.
func (s *Service) Get(domainKind domain.MemoryDomain, key string) ([]byte, error) {
	ck := cacheKey(domainKind, key)
	if v, ok := s.cache.Get(ck); ok {
		return v, nil
	}

	switch domainKind {
	case domain.DomainPrivate:
		var sealed []byte
		err := s.db.QueryRow(`SELECT ciphertext FROM private_entries WHERE key = ?`, key).Scan(&sealed)
		if err == sql.ErrNoRows {
			return nil, domain.Wrap(domain.ErrMemory, "memory.not_found", domain.ErrItemNotFound)
		}
		if err != nil {
			return nil, domain.Wrap(domain.ErrMemory, "memory.get_private_failed", err)
		}
		plain, err := s.currentEnc().Open(sealed)
		if err != nil {
			return nil, err
		}
		s.cache.Put(ck, plain)
		return plain, nil

	case domain.DomainPublic:
		var value []byte
		var tombstone bool
		err := s.db.QueryRow(`SELECT value, tombstone FROM public_entries WHERE key = ?`, key).Scan(&value, &tombstone)
		if err == sql.ErrNoRows || tombstone {
			return nil, domain.Wrap(domain.ErrMemory, "memory.not_found", domain.ErrItemNotFound)
		}
		if err != nil {
			return nil, domain.Wrap(domain.ErrMemory, "memory.get_public_failed", err)
		}
		s.cache.Put(ck, value)
		return value, nil

	default:
		return nil, domain.NewError(domain.ErrInvalidInput, "memory.bad_domain", "unknown memory domain")
	}
}

// Delete removes a private entry outright, or tombstones a public entry so
// the deletion itself converges across peers.
func (s *Service) Delete(domainKind domain.MemoryDomain, key string) error {
	switch domainKind {
	case domain.DomainPrivate:
		if _, err := s.db.Exec(`DELETE FROM private_entries WHERE key = ?`, key); err != nil {
			return domain.Wrap(domain.ErrMemory, "memory.delete_private_failed", err)
		}
	case domain.DomainPublic:
		clock, err := s.currentClock(key)
		if err != nil {
			return err
		}
		clock = clock.Increment(s.nodeID)
		clockJSON, _ := json.Marshal(clock)
		_, err = s.db.Exec(
			`UPDATE public_entries SET tombstone = 1, clock = ?, updated_at = ?, synced_at = NULL WHERE key = ?`,
			string(clockJSON), time.Now().Unix(), key,
		)
		if err != nil {
			return domain.Wrap(domain.ErrMemory, "memory.delete_public_failed", err)
		}
	default:
		return domain.NewError(domain.ErrInvalidInput, "memory.bad_domain", "unknown memory domain")
	}
	s.cache.Invalidate(cacheKey(domainKind, key))
	return nil
}

// ListKeys returns every non-tombstoned key in the given domain.
func (s *Service) ListKeys(domainKind domain.MemoryDomain) ([]string, error) {
	table, where := tableFor(domainKind)
	rows, err := s.db.Query(`SELECT key FROM ` + table + where)
	if err != nil {
		return nil, domain.Wrap(domain.ErrMemory, "memory.list_failed", err)
	}
	defer rows.Close()

	var keys []string
	for rows.Next() {
		var k string
		if err := rows.Scan(&k); err != nil {
			return nil, domain.Wrap(domain.ErrMemory, "memory.list_scan_failed", err)
		}
		keys = append(keys, k)
	}
	return keys, rows.Err()
}

// ExportPublic returns every public item (including tombstones) for
// shipping to a peer during a full sync.
func (s *Service) ExportPublic() ([]domain.MemoryItem, error) {
	rows, err := s.db.Query(
		`SELECT key, value, owner_id, clock, tombstone, created_at, updated_at FROM public_entries`,
	)
	if err != nil {
		return nil, domain.Wrap(domain.ErrMemory, "memory.export_failed", err)
	}
	defer rows.Close()

	var out []domain.MemoryItem
	for rows.Next() {
		item, err := scanPublicItem(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, item)
	}
	return out, rows.Err()
}

// GetPublicItem loads a single public-domain item with its full CRDT
// metadata (clock, tombstone), used by the sync queue to push one key's
// current state to a specific peer.
func (s *Service) GetPublicItem(key string) (domain.MemoryItem, error) {
	row := s.db.QueryRow(
		`SELECT key, value, owner_id, clock, tombstone, created_at, updated_at FROM public_entries WHERE key = ?`,
		key,
	)
	return scanPublicItem(row)
}

// ImportPublic merges an incoming public item using last-write-wins on
// concurrent vector clocks, tie-broken by (updated_at, owner_id). Returns
// true if the import changed local state.
func (s *Service) ImportPublic(incoming domain.MemoryItem) (bool, error) {
	var existing *domain.MemoryItem
	row := s.db.QueryRow(
		`SELECT key, value, owner_id, clock, tombstone, created_at, updated_at FROM public_entries WHERE key = ?`,
		incoming.Key,
	)
	item, err := scanPublicItem(row)
	if err == nil {
		existing = &item
	} else if err != domain.ErrItemNotFound {
		return false, err
	}

	if existing != nil {
		order := existing.Clock.Compare(incoming.Clock)
		switch order {
		case domain.ClockAfter, domain.ClockEqual:
			return false, nil // local state already dominates
		case domain.ClockConcurrent:
			if !lastWriteWins(incoming, *existing) {
				return false, nil
			}
		}
		// ClockBefore or won concurrent tie: fall through and apply incoming.
	}

	clockJSON, _ := json.Marshal(incoming.Clock)
	_, err = s.db.Exec(
		`INSERT INTO public_entries (key, value, owner_id, clock, tombstone, created_at, updated_at, synced_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(key) DO UPDATE SET value=excluded.value, owner_id=excluded.owner_id,
			clock=excluded.clock, tombstone=excluded.tombstone, updated_at=excluded.updated_at,
			synced_at=excluded.synced_at`,
		incoming.Key, incoming.Value, incoming.OwnerID, string(clockJSON), incoming.Tombstone,
		incoming.CreatedAt.Unix(), incoming.UpdatedAt.Unix(), time.Now().Unix(),
	)
	if err != nil {
		return false, domain.Wrap(domain.ErrMemory, "memory.import_failed", err)
	}
	s.cache.Invalidate(cacheKey(domain.DomainPublic, incoming.Key))
	return true, nil
}

// GetPendingSync returns public items with local changes not yet pushed.
func (s *Service) GetPendingSync(limit int) ([]domain.MemoryItem, error) {
	rows, err := s.db.Query(
		`SELECT key, value, owner_id, clock, tombstone, created_at, updated_at FROM public_entries
		 WHERE synced_at IS NULL OR updated_at > synced_at ORDER BY updated_at ASC LIMIT ?`, limit,
	)
	if err != nil {
		return nil, domain.Wrap(domain.ErrMemory, "memory.pending_sync_failed", err)
	}
	defer rows.Close()

	var out []domain.MemoryItem
	for rows.Next() {
		item, err := scanPublicItem(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, item)
	}
	return out, rows.Err()
}

// MarkSynced records that key has been pushed successfully as of now.
func (s *Service) MarkSynced(key string) error {
	_, err := s.db.Exec(`UPDATE public_entries SET synced_at = ? WHERE key = ?`, time.Now().Unix(), key)
	if err != nil {
		return domain.Wrap(domain.ErrMemory, "memory.mark_synced_failed", err)
	}
	return nil
}

// Rotate re-encrypts every private entry under newEnc and then swaps it in
// as the Service's encryption key: decrypt with the old key, encrypt with
// the new one, per entry, inside a single transaction so a crash mid-
// rotation leaves every row sealed under one key or the other, never a mix.
// newEnc should come from RotateKeyFile, which has already written the new
// key file; Rotate only migrates the data that key file's old counterpart
// had sealed.
func (s *Service) Rotate(newEnc *Encryptor) error {
	oldEnc := s.currentEnc()

	tx, err := s.db.Begin()
	if err != nil {
		return domain.Wrap(domain.ErrMemory, "memory.rotate_begin_failed", err)
	}
	defer tx.Rollback()

	rows, err := tx.Query(`SELECT key, ciphertext FROM private_entries`)
	if err != nil {
		return domain.Wrap(domain.ErrMemory, "memory.rotate_query_failed", err)
	}
	type entry struct {
		key    string
		sealed []byte
	}
	var entries []entry
	for rows.Next() {
		var e entry
		if err := rows.Scan(&e.key, &e.sealed); err != nil {
			rows.Close()
			return domain.Wrap(domain.ErrMemory, "memory.rotate_scan_failed", err)
		}
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return domain.Wrap(domain.ErrMemory, "memory.rotate_rows_failed", err)
	}
	rows.Close()

	for _, e := range entries {
		plain, err := oldEnc.Open(e.sealed)
		if err != nil {
			return domain.Wrap(domain.ErrMemory, "memory.rotate_decrypt_failed", err)
		}
		resealed, err := newEnc.Seal(plain)
		if err != nil {
			return domain.Wrap(domain.ErrMemory, "memory.rotate_encrypt_failed", err)
		}
		if _, err := tx.Exec(`UPDATE private_entries SET ciphertext = ? WHERE key = ?`, resealed, e.key); err != nil {
			return domain.Wrap(domain.ErrMemory, "memory.rotate_update_failed", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return domain.Wrap(domain.ErrMemory, "memory.rotate_commit_failed", err)
	}

	s.encMu.Lock()
	s.enc = newEnc
	s.encMu.Unlock()
	return nil
}

func (s *Service) currentEnc() *Encryptor {
	s.encMu.RLock()
	defer s.encMu.RUnlock()
	return s.enc
}

// ─── helpers ────────────────────────────────────────────────────────────────

func (s *Service) currentClock(key string) (domain.VectorClock, error) {
	var raw string
	err := s.db.QueryRow(`SELECT clock FROM public_entries WHERE key = ?`, key).Scan(&raw)
	if err == sql.ErrNoRows {
		return domain.VectorClock{}, nil
	}
	if err != nil {
		return nil, domain.Wrap(domain.ErrMemory, "memory.clock_read_failed", err)
	}
	var clock domain.VectorClock
	if err := json.Unmarshal([]byte(raw), &clock); err != nil {
		return nil, domain.Wrap(domain.ErrMemory, "memory.clock_unmarshal_failed", err)
	}
	return clock, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanPublicItem(s rowScanner) (domain.MemoryItem, error) {
	var item domain.MemoryItem
	var clockRaw string
	var createdAt, updatedAt int64
	item.Domain = domain.DomainPublic

	err := s.Scan(&item.Key, &item.Value, &item.OwnerID, &clockRaw, &item.Tombstone, &createdAt, &updatedAt)
	if err == sql.ErrNoRows {
		return domain.MemoryItem{}, domain.ErrItemNotFound
	}
	if err != nil {
		return domain.MemoryItem{}, domain.Wrap(domain.ErrMemory, "memory.scan_failed", err)
	}
	item.CreatedAt = time.Unix(createdAt, 0)
	item.UpdatedAt = time.Unix(updatedAt, 0)
	if err := json.Unmarshal([]byte(clockRaw), &item.Clock); err != nil {
		return domain.MemoryItem{}, domain.Wrap(domain.ErrMemory, "memory.clock_unmarshal_failed", err)
	}
	return item, nil
}

// lastWriteWins breaks a concurrent vector-clock tie using (updated_at,
// owner_id) — the newer write wins; if timestamps tie, the
// lexicographically greater owner ID wins so every replica picks the same
// side deterministically.
func lastWriteWins(a, b domain.MemoryItem) bool {
	if !a.UpdatedAt.Equal(b.UpdatedAt) {
		return a.UpdatedAt.After(b.UpdatedAt)
	}
	return a.OwnerID > b.OwnerID
}

func cacheKey(d domain.MemoryDomain, key string) string {
	return string(d) + ":" + key
}

func tableFor(d domain.MemoryDomain) (table, where string) {
	if d == domain.DomainPublic {
		return "public_entries", " WHERE tombstone = 0"
	}
	return "private_entries", ""
}
