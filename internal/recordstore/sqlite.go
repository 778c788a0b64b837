package recordstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jmoiron/sqlx"
	_ "modernc.org/sqlite"

	"github.com/zombor/shop-scanner/internal/scan"
)

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS documents(
  collection TEXT NOT NULL,
  key TEXT NOT NULL,
  body TEXT NOT NULL,
  updated_at TEXT DEFAULT CURRENT_TIMESTAMP,
  PRIMARY KEY(collection, key)
);`

// SQLite implements scan.RecordStore on a single documents table
type SQLite struct {
	db *sqlx.DB
}

// NewSQLite opens the database at dsn and ensures the schema exists
func NewSQLite(dsn string) (*SQLite, error) {
	db, err := sqlx.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("opening sqlite: %w", err)
	}
	// an in-memory database lives only as long as its one connection
	db.SetMaxOpenConns(1)
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("connecting to sqlite: %w", err)
	}
	if _, err := db.Exec(sqliteSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("creating schema: %w", err)
	}
	return &SQLite{db: db}, nil
}

// Get retrieves a document by key
func (s *SQLite) Get(ctx context.Context, collection, key string) (scan.FieldMap, error) {
	var body string
	err := s.db.GetContext(ctx, &body, `SELECT body FROM documents WHERE collection = ? AND key = ?`, collection, key)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%s/%s: %w", collection, key, scan.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("querying document: %w", err)
	}

	var fields scan.FieldMap
	if err := json.Unmarshal([]byte(body), &fields); err != nil {
		return nil, fmt.Errorf("unmarshaling document: %w", err)
	}
	return fields, nil
}

// Put stores a document, replacing any existing one
func (s *SQLite) Put(ctx context.Context, collection, key string, fields scan.FieldMap) error {
	data, err := json.Marshal(fields)
	if err != nil {
		return fmt.Errorf("marshaling document: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO documents(collection, key, body, updated_at)
		VALUES(?, ?, ?, CURRENT_TIMESTAMP)
		ON CONFLICT(collection, key) DO UPDATE
		SET body = excluded.body, updated_at = CURRENT_TIMESTAMP
	`, collection, key, string(data))
	if err != nil {
		return fmt.Errorf("writing document: %w", err)
	}
	return nil
}

// Close closes the database connection
func (s *SQLite) Close() error {
	return s.db.Close()
}
