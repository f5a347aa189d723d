package skill

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/cis-project/cis-core/internal/domain"
)

// EnsureSchema creates the skills and execution_records tables.
func EnsureSchema(db *sql.DB) error {
	migrations := []string{
		`CREATE TABLE IF NOT EXISTS skills (
			id            TEXT PRIMARY KEY,
			name          TEXT NOT NULL,
			version       TEXT NOT NULL,
			kind          TEXT NOT NULL,
			entrypoint    TEXT NOT NULL,
			permissions   TEXT NOT NULL DEFAULT '',
			limits        TEXT NOT NULL DEFAULT '{}',
			exports       TEXT NOT NULL DEFAULT '',
			config        TEXT NOT NULL DEFAULT '{}',
			dependencies  TEXT NOT NULL DEFAULT '',
			registered_at INTEGER NOT NULL,
			UNIQUE(name, version)
		)`,
		`CREATE TABLE IF NOT EXISTS execution_records (
			id           TEXT PRIMARY KEY,
			skill_id     TEXT NOT NULL,
			status       TEXT NOT NULL,
			input        BLOB,
			output       BLOB,
			error        TEXT,
			memory_mb    INTEGER NOT NULL DEFAULT 0,
			cpu_percent  REAL NOT NULL DEFAULT 0,
			wall_seconds INTEGER NOT NULL DEFAULT 0,
			started_at   INTEGER NOT NULL,
			completed_at INTEGER
		)`,
		`CREATE INDEX IF NOT EXISTS idx_execution_records_skill ON execution_records(skill_id)`,
	}
	for _, m := range migrations {
		if _, err := db.Exec(m); err != nil {
			return fmt.Errorf("skill migration failed: %w\nSQL: %s", err, m)
		}
	}
	return nil
}

// joinScopes marshals a skill's structured permission scopes to JSON for
// storage — the scope's category/pattern/constraints shape doesn't fit the
// flat comma-joined encoding the other skill fields use.
func joinScopes(scopes []domain.PermissionScope) string {
	if len(scopes) == 0 {
		return "[]"
	}
	raw, err := json.Marshal(scopes)
	if err != nil {
		return "[]"
	}
	return string(raw)
}

func joinStrings(ss []string) string {
	return strings.Join(ss, ",")
}

func splitScopes(s string) []domain.PermissionScope {
	if s == "" || s == "[]" {
		return nil
	}
	var out []domain.PermissionScope
	_ = json.Unmarshal([]byte(s), &out)
	return out
}

func splitStrings(s string) []string {
	if s == "" {
		return nil
	}
	return strings.Split(s, ",")
}

func unmarshalLimits(s string) domain.ResourceLimits {
	var l domain.ResourceLimits
	_ = json.Unmarshal([]byte(s), &l)
	return l
}

func unmarshalConfig(s string) map[string]any {
	if s == "" || s == "{}" {
		return nil
	}
	var c map[string]any
	_ = json.Unmarshal([]byte(s), &c)
	return c
}

func marshalLimits(l domain.ResourceLimits) string {
	raw, _ := json.Marshal(l)
	return string(raw)
}

func marshalConfig(c map[string]any) string {
	if c == nil {
		return "{}"
	}
	raw, _ := json.Marshal(c)
	return string(raw)
}

func nullableUnix(t time.Time) sql.NullInt64 {
	if t.IsZero() {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: t.Unix(), Valid: true}
}

func readEntrypointFile(path string) ([]byte, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, domain.Wrap(domain.ErrSkill, "skill.entrypoint_read_failed", err)
	}
	return data, nil
}
