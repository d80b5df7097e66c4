package chunkstore

import (
	"database/sql"
	"fmt"
	"sync"

	_ "modernc.org/sqlite"
)

// SQLitePresence is a durable presence cache backed by modernc.org/sqlite,
// persisted alongside the chunk store so that dedup classification survives
// process restarts without re-stating every chunk file. This extends the
// spec's baseline in-memory presence cache (spec §4.1, §9) with a durable
// one; it is strictly an optimization — Store.Put still falls back to a
// filesystem stat when the index hasn't seen a hash yet, so a missing or
// stale index database never causes incorrect behavior.
type SQLitePresence struct {
	db *sql.DB
	mu sync.Mutex
}

// OpenSQLitePresence opens (creating if absent) the presence index database
// at path.
func OpenSQLitePresence(path string) (*SQLitePresence, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("chunkstore: open presence index: %w", err)
	}
	db.SetMaxOpenConns(1) // modernc.org/sqlite: serialize writers from this process

	const schema = `
		CREATE TABLE IF NOT EXISTS chunks (
			hash TEXT PRIMARY KEY,
			size INTEGER NOT NULL
		);
	`
	if _, err := db.Exec(schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("chunkstore: create presence schema: %w", err)
	}

	return &SQLitePresence{db: db}, nil
}

// Has reports whether hash has previously been recorded.
func (p *SQLitePresence) Has(hash string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()

	var exists int
	err := p.db.QueryRow(`SELECT 1 FROM chunks WHERE hash = ?`, hash).Scan(&exists)
	return err == nil
}

// Mark records hash (and its size) as present. Insertion is idempotent.
func (p *SQLitePresence) Mark(hash string, size int64) {
	p.mu.Lock()
	defer p.mu.Unlock()

	_, _ = p.db.Exec(`INSERT OR IGNORE INTO chunks (hash, size) VALUES (?, ?)`, hash, size)
}

// Close closes the underlying database handle.
func (p *SQLitePresence) Close() error {
	return p.db.Close()
}

var _ PresenceCache = (*SQLitePresence)(nil)
