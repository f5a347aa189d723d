// Package storage provides the multi-file SQL storage substrate (C1): a
// primary SQLite database plus zero or more attached databases addressed by
// alias, all reachable through one *sql.DB connection in WAL mode.
package storage

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sync"
	"time"

	_ "modernc.org/sqlite" // pure-Go SQLite driver, no CGO required

	"github.com/cis-project/cis-core/internal/domain"
)

// aliasPattern is the SQL-identifier grammar an ATTACH alias must satisfy:
// a letter or underscore, then letters/digits/underscores.
var aliasPattern = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

// reservedAliases may never be used for an attachment — they collide with
// SQLite's own schema names or this package's primary connection.
var reservedAliases = map[string]bool{
	"main": true, "temp": true, "sqlite_master": true,
}

// Connection wraps one primary SQLite database plus its current attachments.
// SQLite is single-writer; callers share one *Connection and rely on its
// internal mutex rather than opening multiple connections per process.
type Connection struct {
	mu          sync.RWMutex
	db          *sql.DB
	dir         string
	attached    map[string]string // alias -> file path
	attachOrder []string
	maxAttached int
}

// Options configures Open.
type Options struct {
	Dir           string
	PrimaryFile   string // defaults to "primary.db"
	MaxAttached   int    // defaults to 4
	BusyTimeoutMS int    // defaults to 5000
}

// Open creates or opens the primary database at dir/PrimaryFile in WAL mode
// with foreign keys on and the given busy timeout, then runs migrations.
func Open(opts Options) (*Connection, error) {
	if opts.PrimaryFile == "" {
		opts.PrimaryFile = "primary.db"
	}
	if opts.MaxAttached <= 0 {
		opts.MaxAttached = 4
	}
	if opts.BusyTimeoutMS <= 0 {
		opts.BusyTimeoutMS = 5000
	}

	if err := os.MkdirAll(opts.Dir, 0700); err != nil {
		return nil, domain.Wrap(domain.ErrStorage, "storage.mkdir_failed", fmt.Errorf("create data dir: %w", err))
	}

	dbPath := filepath.Join(opts.Dir, opts.PrimaryFile)
	dsn := fmt.Sprintf("%s?_journal_mode=WAL&_busy_timeout=%d&_foreign_keys=on", dbPath, opts.BusyTimeoutMS)

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, domain.Wrap(domain.ErrStorage, "storage.open_failed", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, domain.Wrap(domain.ErrStorage, "storage.ping_failed", err)
	}

	// SQLite is single-writer; one connection in the pool avoids SQLITE_BUSY
	// churn under modernc.org/sqlite's own internal locking.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	c := &Connection{
		db:       db,
		dir:      opts.Dir,
		attached: make(map[string]string, opts.MaxAttached),
	}
	c.maxAttached = opts.MaxAttached

	if err := c.migrate(); err != nil {
		db.Close()
		return nil, err
	}
	return c, nil
}

// DB exposes the underlying *sql.DB for callers (C4 persistence, C2 schema)
// that need to prepare their own statements against the primary connection.
func (c *Connection) DB() *sql.DB {
	return c.db
}

// Close checkpoints WAL and closes the connection. Any remaining
// attachments are detached in reverse-attach order first.
func (c *Connection) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	for i := len(c.attachOrder) - 1; i >= 0; i-- {
		alias := c.attachOrder[i]
		_, _ = c.db.Exec(fmt.Sprintf("DETACH DATABASE %s", alias))
	}
	_, _ = c.db.Exec("PRAGMA wal_checkpoint(TRUNCATE)")
	return c.db.Close()
}

// Attach mounts an additional SQLite file under the given alias, making its
// tables reachable as alias.table_name in subsequent queries.
func (c *Connection) Attach(alias, file string) error {
	if !aliasPattern.MatchString(alias) || reservedAliases[alias] {
		return domain.Wrap(domain.ErrStorage, "storage.attach_invalid_alias", domain.ErrAttachInvalid)
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if _, exists := c.attached[alias]; exists {
		return domain.Wrap(domain.ErrStorage, "storage.attach_duplicate", domain.ErrAttachDuplicate)
	}
	if len(c.attached) >= c.maxAttached {
		return domain.NewError(domain.ErrStorage, "storage.attach_limit", "maximum attached databases reached")
	}

	path := file
	if !filepath.IsAbs(path) {
		path = filepath.Join(c.dir, file)
	}

	if _, err := c.db.Exec(fmt.Sprintf("ATTACH DATABASE ? AS %s", alias), path); err != nil {
		return domain.Wrap(domain.ErrStorage, "storage.attach_failed", err)
	}

	c.attached[alias] = path
	c.attachOrder = append(c.attachOrder, alias)
	return nil
}

// Detach unmounts a previously attached database, checkpointing its WAL
// first so no pending writes are lost.
func (c *Connection) Detach(alias string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, exists := c.attached[alias]; !exists {
		return domain.Wrap(domain.ErrStorage, "storage.detach_unknown", domain.ErrDetachUnknown)
	}

	if _, err := c.db.Exec(fmt.Sprintf("PRAGMA %s.wal_checkpoint(TRUNCATE)", alias)); err != nil {
		return domain.Wrap(domain.ErrStorage, "storage.checkpoint_failed", err)
	}
	if _, err := c.db.Exec(fmt.Sprintf("DETACH DATABASE %s", alias)); err != nil {
		return domain.Wrap(domain.ErrStorage, "storage.detach_failed", err)
	}

	delete(c.attached, alias)
	for i, a := range c.attachOrder {
		if a == alias {
			c.attachOrder = append(c.attachOrder[:i], c.attachOrder[i+1:]...)
			break
		}
	}
	return nil
}

// Attachments returns the currently mounted aliases, in attach order.
func (c *Connection) Attachments() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]string, len(c.attachOrder))
	copy(out, c.attachOrder)
	return out
}

// Ping checks connectivity.
func (c *Connection) Ping() error {
	return c.db.Ping()
}

// scanner is satisfied by both *sql.Row and *sql.Rows, letting a single
// scan helper serve both single-row and multi-row callers.
type scanner interface {
	Scan(dest ...any) error
}

// nullableUnix converts a time.Time to a nullable unix-seconds column value.
func nullableUnix(t time.Time) sql.NullInt64 {
	if t.IsZero() {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: t.Unix(), Valid: true}
}

func unixOrZero(n sql.NullInt64) time.Time {
	if !n.Valid {
		return time.Time{}
	}
	return time.Unix(n.Int64, 0)
}
