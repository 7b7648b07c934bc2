package persistence

import (
	"database/sql"
	"encoding/json"
	"fmt"

	_ "modernc.org/sqlite"

	"github.com/mdesalvo/Morgana-sub001/pkg/model"
)

// SQLiteStore persists agent session blobs in a SQLite database. The
// payload is marshalled to JSON for storage; the core treats that JSON
// document as an opaque blob (§4.7) — SQLiteStore never reads its
// fields, only the identifier column is indexed.
//
// Encryption of the blob, if required, is an external concern (§1
// Non-goals): wrap the sql.DB with a driver-level cipher or encrypt the
// JSON before Save and decrypt after Load.
type SQLiteStore struct {
	db *sql.DB
}

// OpenSQLiteStore opens (creating if necessary) a SQLite-backed Store at path.
func OpenSQLiteStore(path string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("persistence: open sqlite: %w", err)
	}

	const schema = `
CREATE TABLE IF NOT EXISTS agent_sessions (
	identifier TEXT PRIMARY KEY,
	blob       TEXT NOT NULL,
	updated_at DATETIME DEFAULT CURRENT_TIMESTAMP
);`
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("persistence: migrate sqlite schema: %w", err)
	}

	return &SQLiteStore{db: db}, nil
}

// Close releases the underlying database handle.
func (s *SQLiteStore) Close() error { return s.db.Close() }

func (s *SQLiteStore) Save(id model.AgentIdentifier, payload Payload) error {
	blob, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("persistence: marshal payload: %w", err)
	}

	// INSERT ... ON CONFLICT makes Save idempotent and last-write-wins
	// for concurrent saves of the same identifier (§4.7).
	const stmt = `
INSERT INTO agent_sessions (identifier, blob, updated_at)
VALUES (?, ?, CURRENT_TIMESTAMP)
ON CONFLICT(identifier) DO UPDATE SET blob = excluded.blob, updated_at = excluded.updated_at;`
	if _, err := s.db.Exec(stmt, id.String(), string(blob)); err != nil {
		return fmt.Errorf("persistence: save %s: %w", id, err)
	}
	return nil
}

func (s *SQLiteStore) Load(id model.AgentIdentifier) (Payload, bool, error) {
	var blob string
	err := s.db.QueryRow(`SELECT blob FROM agent_sessions WHERE identifier = ?`, id.String()).Scan(&blob)
	if err == sql.ErrNoRows {
		return Payload{}, false, nil
	}
	if err != nil {
		return Payload{}, false, fmt.Errorf("persistence: load %s: %w", id, err)
	}

	var payload Payload
	if err := json.Unmarshal([]byte(blob), &payload); err != nil {
		return Payload{}, false, fmt.Errorf("persistence: unmarshal %s: %w", id, err)
	}
	return payload, true, nil
}

var _ Store = (*SQLiteStore)(nil)
