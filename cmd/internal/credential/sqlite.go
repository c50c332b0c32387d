package credential

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	_ "modernc.org/sqlite" // registers the "sqlite" driver
)

const metadataSchema = `
CREATE TABLE IF NOT EXISTS metadata (
  key   TEXT PRIMARY KEY,
  value BLOB NOT NULL
);
`

// SQLiteStore keeps the token as one row of a local metadata table.
//
// The database is opened with a single connection, so every Load is ordered
// after every completed Save.
type SQLiteStore struct {
	db    *sql.DB
	owned bool
}

// OpenSQLiteStore opens (creating when missing) the SQLite database at path.
func OpenSQLiteStore(ctx context.Context, path string) (*SQLiteStore, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return nil, errors.New("credential: empty sqlite path")
	}

	db, err := sql.Open("sqlite", "file:"+path+"?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)")
	if err != nil {
		return nil, fmt.Errorf("credential: open sqlite: %w", err)
	}
	db.SetMaxOpenConns(1)

	s, err := NewSQLiteStore(ctx, db)
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	s.owned = true
	return s, nil
}

// NewSQLiteStore wraps an existing database and ensures the metadata table exists.
// The caller keeps ownership of db.
func NewSQLiteStore(ctx context.Context, db *sql.DB) (*SQLiteStore, error) {
	if db == nil {
		return nil, errors.New("credential: nil db")
	}
	if _, err := db.ExecContext(ctx, metadataSchema); err != nil {
		return nil, fmt.Errorf("credential: create schema: %w", err)
	}
	return &SQLiteStore{db: db}, nil
}

// Load reads the token row.
func (s *SQLiteStore) Load(ctx context.Context) (string, bool, error) {
	var value []byte
	err := s.db.QueryRowContext(ctx, `SELECT value FROM metadata WHERE key = ?`, EntryName).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("credential: get metadata[%s]: %w", EntryName, err)
	}

	token, err := normalizeToken(string(value))
	if err != nil {
		return "", false, fmt.Errorf("%w: %v", ErrCorrupt, err)
	}
	return token, true, nil
}

// Save upserts the token row.
func (s *SQLiteStore) Save(ctx context.Context, token string) error {
	token, err := normalizeToken(token)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO metadata (key, value) VALUES (?, ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value
	`, EntryName, []byte(token))
	if err != nil {
		return fmt.Errorf("credential: set metadata[%s]: %w", EntryName, err)
	}
	return nil
}

// Clear deletes the token row. It runs on a background context so that
// logout always completes even when the caller's context is done.
func (s *SQLiteStore) Clear(_ context.Context) error {
	_, err := s.db.ExecContext(context.Background(), `DELETE FROM metadata WHERE key = ?`, EntryName)
	if err != nil {
		return fmt.Errorf("credential: delete metadata[%s]: %w", EntryName, err)
	}
	return nil
}

// Close releases the database when the store opened it.
func (s *SQLiteStore) Close() error {
	if !s.owned {
		return nil
	}
	return s.db.Close()
}
