package reflex

import (
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "modernc.org/sqlite"
)

// SQLiteBackend keeps every generation as a row of a single database file.
type SQLiteBackend struct {
	path string
	db   *sql.DB
}

// OpenSQLiteBackend opens (or creates) the database at path.
func OpenSQLiteBackend(path string) (*SQLiteBackend, error) {
	if path == "" {
		return nil, errors.New("sqlite path is required")
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, err
	}
	if _, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS generations (
			generation INTEGER PRIMARY KEY,
			payload    BLOB NOT NULL,
			written_at TEXT NOT NULL
		)
	`); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to create generations table: %w", err)
	}
	return &SQLiteBackend{path: path, db: db}, nil
}

// Read returns the stored generation or ErrGenerationNotFound.
func (b *SQLiteBackend) Read(generation int) ([]byte, error) {
	var payload []byte
	err := b.db.QueryRow(`SELECT payload FROM generations WHERE generation = ?`, generation).Scan(&payload)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrGenerationNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read generation %d: %w", generation, err)
	}
	return payload, nil
}

// Write stores the generation, replacing any previous row.
func (b *SQLiteBackend) Write(generation int, data []byte) error {
	_, err := b.db.Exec(`
		INSERT INTO generations (generation, payload, written_at)
		VALUES (?, ?, ?)
		ON CONFLICT(generation) DO UPDATE SET
			payload = excluded.payload,
			written_at = excluded.written_at
	`, generation, data, time.Now().UTC().Format(time.RFC3339))
	return err
}

// Close closes the database.
func (b *SQLiteBackend) Close() error {
	return b.db.Close()
}
