// Package cache persists compiled units in a local SQLite database,
// keyed by a hash of the source text. Script startup skips the
// compiler front end entirely on a hit.
package cache

import (
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"fmt"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"github.com/chazu/calyx/pkg/bytecode"
)

const schema = `
CREATE TABLE IF NOT EXISTS units (
	id         TEXT PRIMARY KEY,
	source_key TEXT NOT NULL UNIQUE,
	version    INTEGER NOT NULL,
	unit       BLOB NOT NULL,
	created_at TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_units_source_key ON units(source_key);
`

// Cache is a compile cache backed by a SQLite file. Safe for use
// from one process; SQLite serializes concurrent writers.
type Cache struct {
	db *sql.DB
}

// Open opens (and if needed initializes) a cache database at path.
// Use ":memory:" for an ephemeral cache.
func Open(path string) (*Cache, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open compile cache: %w", err)
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("initialize compile cache: %w", err)
	}
	return &Cache{db: db}, nil
}

// Close releases the underlying database.
func (c *Cache) Close() error {
	return c.db.Close()
}

// Key derives the cache key for a source text. The bytecode wire
// version participates so opcode changes invalidate every entry.
func Key(source string) string {
	h := sha256.New()
	fmt.Fprintf(h, "v%d\n", bytecode.WireVersion)
	h.Write([]byte(source))
	return hex.EncodeToString(h.Sum(nil))
}

// Load returns the cached compiled unit, the global table it was
// compiled against, and the globals it declares, or a miss. Entries
// that fail to decode are treated as misses and evicted.
func (c *Cache) Load(sourceKey string) ([]*bytecode.CompiledClause, []string, []string, bool, error) {
	var blob []byte
	err := c.db.QueryRow(
		`SELECT unit FROM units WHERE source_key = ? AND version = ?`,
		sourceKey, bytecode.WireVersion,
	).Scan(&blob)
	if err == sql.ErrNoRows {
		return nil, nil, nil, false, nil
	}
	if err != nil {
		return nil, nil, nil, false, fmt.Errorf("read compile cache: %w", err)
	}

	clauses, base, globals, err := bytecode.DecodeUnit(blob)
	if err != nil {
		c.evict(sourceKey)
		return nil, nil, nil, false, nil
	}
	return clauses, base, globals, true, nil
}

// Store saves a compiled unit under its source key, replacing any
// previous entry.
func (c *Cache) Store(sourceKey string, clauses []*bytecode.CompiledClause, baseNames, globalNames []string) error {
	blob, err := bytecode.EncodeUnit(clauses, baseNames, globalNames)
	if err != nil {
		return fmt.Errorf("encode compiled unit: %w", err)
	}
	_, err = c.db.Exec(
		`INSERT INTO units (id, source_key, version, unit, created_at)
		 VALUES (?, ?, ?, ?, ?)
		 ON CONFLICT(source_key) DO UPDATE SET
		   version = excluded.version,
		   unit = excluded.unit,
		   created_at = excluded.created_at`,
		uuid.NewString(), sourceKey, bytecode.WireVersion, blob,
		time.Now().UTC().Format(time.RFC3339),
	)
	if err != nil {
		return fmt.Errorf("write compile cache: %w", err)
	}
	return nil
}

// Purge removes every cached unit.
func (c *Cache) Purge() error {
	_, err := c.db.Exec(`DELETE FROM units`)
	return err
}

func (c *Cache) evict(sourceKey string) {
	c.db.Exec(`DELETE FROM units WHERE source_key = ?`, sourceKey)
}
