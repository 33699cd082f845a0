// Package sqlite implements the storage contract on an embedded SQLite database.
package sqlite

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/jmoiron/sqlx"
	_ "github.com/mattn/go-sqlite3"
	"github.com/pressly/goose/v3"

	"github.com/satwatch/satwatch/internal/infra/storage"
)

//go:embed migrations/*.sql
var embedMigrations embed.FS

// Store persists processed chain state in a single SQLite database file.
type Store struct {
	db *sqlx.DB
}

// Open opens the database at path, creating parent directories and
// applying pending migrations.
func Open(path string) (*Store, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create state directory: %w", err)
		}
	}

	db, err := sqlx.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL;",
		"PRAGMA synchronous=NORMAL;",
		"PRAGMA busy_timeout=5000;",
	} {
		if _, err := db.Exec(pragma); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("apply pragma: %w", err)
		}
	}

	goose.SetBaseFS(embedMigrations)
	if err := goose.SetDialect("sqlite3"); err != nil {
		_ = db.Close()
		return nil, err
	}
	if err := goose.Up(db.DB, "migrations"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("migrate database: %w", err)
	}

	return &Store{db: db}, nil
}

func (s *Store) GetLastHeight(ctx context.Context) (int64, error) {
	var height sql.NullInt64
	if err := s.db.GetContext(ctx, &height, `SELECT MAX(height) FROM blocks`); err != nil {
		return 0, fmt.Errorf("query last height: %w", err)
	}
	if !height.Valid {
		return 0, storage.ErrNotFound
	}
	return height.Int64, nil
}

func (s *Store) MarkBlockProcessed(ctx context.Context, height int64, hash string) error {
	query := `
		INSERT INTO blocks (height, hash, processed_at)
		VALUES (?, ?, ?)
		ON CONFLICT (height) DO UPDATE SET
			hash = excluded.hash,
			processed_at = excluded.processed_at
	`

	if _, err := s.db.ExecContext(ctx, query, height, hash, now()); err != nil {
		return fmt.Errorf("save block %d: %w", height, err)
	}
	return nil
}

func (s *Store) IsTransactionProcessed(ctx context.Context, txid string) (bool, error) {
	var one int
	err := s.db.GetContext(ctx, &one, `SELECT 1 FROM transactions WHERE txid = ?`, txid)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("query transaction %s: %w", txid, err)
	}
	return true, nil
}

func (s *Store) MarkTransactionProcessed(ctx context.Context, txid string, height int64, hash, eventType string) error {
	query := `
		INSERT INTO transactions (txid, block_height, block_hash, processed_at, event_type)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT (txid) DO UPDATE SET
			block_height = excluded.block_height,
			block_hash = excluded.block_hash,
			processed_at = excluded.processed_at,
			event_type = excluded.event_type
	`

	var et sql.NullString
	if eventType != "" {
		et = sql.NullString{String: eventType, Valid: true}
	}

	if _, err := s.db.ExecContext(ctx, query, txid, height, hash, now(), et); err != nil {
		return fmt.Errorf("save transaction %s: %w", txid, err)
	}
	return nil
}

func (s *Store) GetBlockHash(ctx context.Context, height int64) (string, error) {
	var hash string
	err := s.db.GetContext(ctx, &hash, `SELECT hash FROM blocks WHERE height = ?`, height)
	if errors.Is(err, sql.ErrNoRows) {
		return "", storage.ErrNotFound
	}
	if err != nil {
		return "", fmt.Errorf("query block %d: %w", height, err)
	}
	return hash, nil
}

// RollbackFromHeight removes blocks and their transactions in one
// database transaction, so a crash leaves the rollback entirely
// applied or entirely unapplied.
func (s *Store) RollbackFromHeight(ctx context.Context, h int64) error {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin rollback: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM transactions WHERE block_height >= ?`, h); err != nil {
		return fmt.Errorf("delete transactions from %d: %w", h, err)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM blocks WHERE height >= ?`, h); err != nil {
		return fmt.Errorf("delete blocks from %d: %w", h, err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit rollback: %w", err)
	}
	return nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

func now() string {
	return time.Now().UTC().Format(time.RFC3339)
}
