package memory

import (
	"database/sql"
	"fmt"
)

// EnsureSchema creates the private_entries and public_entries tables if
// they don't already exist. Private entries store ciphertext only; public
// entries store plaintext JSON plus a serialized vector clock for CRDT
// convergence.
func EnsureSchema(db *sql.DB) error {
	migrations := []string{
		`CREATE TABLE IF NOT EXISTS private_entries (
			key        TEXT PRIMARY KEY,
			ciphertext BLOB NOT NULL,
			owner_id   TEXT NOT NULL,
			created_at INTEGER NOT NULL,
			updated_at INTEGER NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS public_entries (
			key        TEXT PRIMARY KEY,
			value      BLOB NOT NULL,
			owner_id   TEXT NOT NULL,
			clock      TEXT NOT NULL DEFAULT '{}',
			tombstone  BOOLEAN NOT NULL DEFAULT 0,
			created_at INTEGER NOT NULL,
			updated_at INTEGER NOT NULL,
			synced_at  INTEGER
		)`,
		`CREATE INDEX IF NOT EXISTS idx_public_entries_sync ON public_entries(updated_at, synced_at)`,
	}
	for _, m := range migrations {
		if _, err := db.Exec(m); err != nil {
			return fmt.Errorf("memory migration failed: %w\nSQL: %s", err, m)
		}
	}
	return nil
}
