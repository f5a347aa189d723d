package federation

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/cis-project/cis-core/internal/domain"
)

// EventStore persists received federation events and rejects replays by
// event_id.
type EventStore struct {
	db *sql.DB
}

// NewEventStore wires an EventStore against an already-open *sql.DB.
func NewEventStore(db *sql.DB) (*EventStore, error) {
	if err := ensureEventSchema(db); err != nil {
		return nil, err
	}
	return &EventStore{db: db}, nil
}

func ensureEventSchema(db *sql.DB) error {
	const migration = `CREATE TABLE IF NOT EXISTS federation_events (
		event_id         TEXT PRIMARY KEY,
		room_id          TEXT NOT NULL,
		sender           TEXT NOT NULL,
		event_type       TEXT NOT NULL,
		content          TEXT NOT NULL,
		origin           TEXT,
		origin_server_ts INTEGER NOT NULL,
		received_at      INTEGER NOT NULL
	)`
	if _, err := db.Exec(migration); err != nil {
		return fmt.Errorf("federation event migration failed: %w", err)
	}
	return nil
}

// Seen reports whether eventID has already been persisted.
func (s *EventStore) Seen(eventID string) (bool, error) {
	var n int
	err := s.db.QueryRow(`SELECT COUNT(1) FROM federation_events WHERE event_id = ?`, eventID).Scan(&n)
	return n > 0, err
}

// Persist stores a new event, rejecting an exact event_id replay.
func (s *EventStore) Persist(ev domain.CisMatrixEvent) error {
	seen, err := s.Seen(ev.EventID)
	if err != nil {
		return err
	}
	if seen {
		return domain.Wrap(domain.ErrFederation, "federation.event_replayed", domain.ErrEventReplayed)
	}

	_, err = s.db.Exec(`INSERT INTO federation_events
		(event_id, room_id, sender, event_type, content, origin, origin_server_ts, received_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		ev.EventID, ev.RoomID, ev.Sender, ev.EventType, string(ev.Content), ev.Origin, ev.OriginServerTS, time.Now().Unix())
	return err
}
