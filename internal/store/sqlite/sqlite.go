// Package sqlite stores documents in a local SQLite database (modernc.org/sqlite, no cgo).
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"

	"github.com/pmrelay/pmrelay/internal/store"
)

const schema = `
CREATE TABLE IF NOT EXISTS documents (
    bot        TEXT    NOT NULL,
    kind       TEXT    NOT NULL,
    chat_id    INTEGER NOT NULL,
    text       TEXT    NOT NULL,
    version    INTEGER NOT NULL,
    updated_at INTEGER NOT NULL,
    PRIMARY KEY (bot, kind, chat_id)
)`

// Open opens (or creates) a SQLite database at the given path and enables WAL journal mode.
func Open(path string) (*sql.DB, error) {
	// ensure parent directory exists to avoid SQLITE_CANTOPEN errors
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}

	dsn := fmt.Sprintf("file:%s?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)", path)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, err
	}
	// single writer; the relay never needs more
	db.SetMaxOpenConns(1)
	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return db, nil
}

type Store struct {
	db  *sql.DB
	now func() time.Time
}

// New creates the schema on db and returns the store.
func New(ctx context.Context, db *sql.DB) (*Store, error) {
	if _, err := db.ExecContext(ctx, schema); err != nil {
		return nil, fmt.Errorf("sqlite schema: %w", err)
	}
	return &Store{db: db, now: time.Now}, nil
}

func (s *Store) Load(ctx context.Context, key store.Key) (*store.Blob, error) {
	var b store.Blob
	var updated int64
	row := s.db.QueryRowContext(ctx, `
        SELECT text, version, updated_at FROM documents
        WHERE bot = ? AND kind = ? AND chat_id = ?
    `, key.Bot, string(key.Kind), key.ChatID)
	if err := row.Scan(&b.Text, &b.Version, &updated); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("load %s: %w", key, store.ErrNotFound)
		}
		return nil, fmt.Errorf("load %s: %w", key, err)
	}
	b.UpdatedAt = time.Unix(0, updated)
	return &b, nil
}

func (s *Store) Create(ctx context.Context, key store.Key, text string) (*store.Blob, error) {
	if err := store.CheckSize(text); err != nil {
		return nil, err
	}
	now := s.now()
	b := store.Blob{Text: text, UpdatedAt: time.Unix(0, now.UnixNano())}
	row := s.db.QueryRowContext(ctx, `
        INSERT INTO documents (bot, kind, chat_id, text, version, updated_at)
        VALUES (?, ?, ?, ?, 1, ?)
        ON CONFLICT (bot, kind, chat_id) DO UPDATE
        SET text = excluded.text, version = documents.version + 1, updated_at = excluded.updated_at
        RETURNING version
    `, key.Bot, string(key.Kind), key.ChatID, text, now.UnixNano())
	if err := row.Scan(&b.Version); err != nil {
		return nil, fmt.Errorf("create %s: %w", key, err)
	}
	return &b, nil
}

func (s *Store) Save(ctx context.Context, key store.Key, _ *store.Blob, text string) (*store.Blob, error) {
	if err := store.CheckSize(text); err != nil {
		return nil, err
	}
	now := s.now()
	b := store.Blob{Text: text, UpdatedAt: time.Unix(0, now.UnixNano())}
	row := s.db.QueryRowContext(ctx, `
        UPDATE documents SET text = ?, version = version + 1, updated_at = ?
        WHERE bot = ? AND kind = ? AND chat_id = ?
        RETURNING version
    `, text, now.UnixNano(), key.Bot, string(key.Kind), key.ChatID)
	if err := row.Scan(&b.Version); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("save %s: %w", key, store.ErrNotFound)
		}
		return nil, fmt.Errorf("save %s: %w", key, err)
	}
	return &b, nil
}

func (s *Store) Reset(ctx context.Context, key store.Key) error {
	_, err := s.db.ExecContext(ctx, `
        DELETE FROM documents WHERE bot = ? AND kind = ? AND chat_id = ?
    `, key.Bot, string(key.Kind), key.ChatID)
	if err != nil {
		return fmt.Errorf("reset %s: %w", key, err)
	}
	return nil
}

// HealthPing implements health.HealthPinger.
func (s *Store) HealthPing(ctx context.Context) error { return s.db.PingContext(ctx) }

// Close closes the underlying database.
func (s *Store) Close() error { return s.db.Close() }
