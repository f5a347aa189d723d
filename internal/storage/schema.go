package storage

import "fmt"

// migrate runs the base schema shared by every component: a generic
// node_info key/value table. Each component package (memory, skill,
// scheduler, p2p, federation, vector) owns and migrates its own tables via
// EnsureSchema, called against Connection.DB() during construction.
func (c *Connection) migrate() error {
	migrations := []string{
		`CREATE TABLE IF NOT EXISTS node_info (
			key   TEXT PRIMARY KEY,
			value TEXT NOT NULL
		)`,
	}
	for _, m := range migrations {
		if _, err := c.db.Exec(m); err != nil {
			return fmt.Errorf("migration failed: %w\nSQL: %s", err, m)
		}
	}
	return nil
}

// SetNodeInfo stores a key-value pair in node_info.
func (c *Connection) SetNodeInfo(key, value string) error {
	_, err := c.db.Exec(
		`INSERT INTO node_info (key, value) VALUES (?, ?)
		 ON CONFLICT(key) DO UPDATE SET value=excluded.value`,
		key, value,
	)
	return err
}

// GetNodeInfo retrieves a value from node_info, returning "" if absent.
func (c *Connection) GetNodeInfo(key string) (string, error) {
	var value string
	err := c.db.QueryRow(`SELECT value FROM node_info WHERE key = ?`, key).Scan(&value)
	if err != nil {
		return "", nil
	}
	return value, nil
}
