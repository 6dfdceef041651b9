// Package postgres stores documents in PostgreSQL through the pgx stdlib driver.
package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"

	"github.com/pmrelay/pmrelay/internal/store"
)

const schema = `
CREATE TABLE IF NOT EXISTS relay_documents (
    bot        TEXT        NOT NULL,
    kind       TEXT        NOT NULL,
    chat_id    BIGINT      NOT NULL,
    text       TEXT        NOT NULL,
    version    BIGINT      NOT NULL,
    updated_at TIMESTAMPTZ NOT NULL DEFAULT now(),
    PRIMARY KEY (bot, kind, chat_id)
)`

// Open opens a PostgreSQL connection using the pgx stdlib driver and verifies connectivity.
func Open(dsn string) (*sql.DB, error) {
	if dsn == "" {
		return nil, fmt.Errorf("postgres DSN is empty")
	}
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, err
	}
	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return db, nil
}

type Store struct{ db *sql.DB }

// New creates the schema on db and returns the store.
func New(ctx context.Context, db *sql.DB) (*Store, error) {
	if _, err := db.ExecContext(ctx, schema); err != nil {
		return nil, fmt.Errorf("postgres schema: %w", err)
	}
	return &Store{db: db}, nil
}

func (s *Store) Load(ctx context.Context, key store.Key) (*store.Blob, error) {
	var b store.Blob
	row := s.db.QueryRowContext(ctx, `
        SELECT text, version, updated_at FROM relay_documents
        WHERE bot=$1 AND kind=$2 AND chat_id=$3
    `, key.Bot, string(key.Kind), key.ChatID)
	if err := row.Scan(&b.Text, &b.Version, &b.UpdatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("load %s: %w", key, store.ErrNotFound)
		}
		return nil, fmt.Errorf("load %s: %w", key, err)
	}
	return &b, nil
}

func (s *Store) Create(ctx context.Context, key store.Key, text string) (*store.Blob, error) {
	if err := store.CheckSize(text); err != nil {
		return nil, err
	}
	b := store.Blob{Text: text}
	row := s.db.QueryRowContext(ctx, `
        INSERT INTO relay_documents (bot, kind, chat_id, text, version)
        VALUES ($1,$2,$3,$4,1)
        ON CONFLICT (bot, kind, chat_id) DO UPDATE
        SET text = EXCLUDED.text, version = relay_documents.version + 1, updated_at = now()
        RETURNING version, updated_at
    `, key.Bot, string(key.Kind), key.ChatID, text)
	if err := row.Scan(&b.Version, &b.UpdatedAt); err != nil {
		return nil, fmt.Errorf("create %s: %w", key, err)
	}
	return &b, nil
}

func (s *Store) Save(ctx context.Context, key store.Key, _ *store.Blob, text string) (*store.Blob, error) {
	if err := store.CheckSize(text); err != nil {
		return nil, err
	}
	b := store.Blob{Text: text}
	row := s.db.QueryRowContext(ctx, `
        UPDATE relay_documents SET text=$4, version=version+1, updated_at=now()
        WHERE bot=$1 AND kind=$2 AND chat_id=$3
        RETURNING version, updated_at
    `, key.Bot, string(key.Kind), key.ChatID, text)
	if err := row.Scan(&b.Version, &b.UpdatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("save %s: %w", key, store.ErrNotFound)
		}
		return nil, fmt.Errorf("save %s: %w", key, err)
	}
	return &b, nil
}

func (s *Store) Reset(ctx context.Context, key store.Key) error {
	if _, err := s.db.ExecContext(ctx, `
        DELETE FROM relay_documents WHERE bot=$1 AND kind=$2 AND chat_id=$3
    `, key.Bot, string(key.Kind), key.ChatID); err != nil {
		return fmt.Errorf("reset %s: %w", key, err)
	}
	return nil
}

// HealthPing implements health.HealthPinger for the Postgres-backed store.
func (s *Store) HealthPing(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Close closes the underlying database.
func (s *Store) Close() error { return s.db.Close() }

// Bootstrap performs a connectivity check to ensure Postgres is reachable.
func Bootstrap(ctx context.Context, dsn string) error {
	db, err := Open(dsn)
	if err != nil {
		return err
	}
	defer func() { _ = db.Close() }()

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	return db.PingContext(pingCtx)
}
