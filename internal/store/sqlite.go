// Package store provides storage backends for IntakePipe.
//
// This file implements an SQLite-backed session store.
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	_ "embed"

	"github.com/BTreeMap/IntakePipe/internal/models"
	_ "github.com/mattn/go-sqlite3"
)

// Constants for SQLite store configuration
const (
	// DefaultDirPermissions defines the default permissions for database directories
	DefaultDirPermissions = 0755
)

//go:embed migrations_sqlite.sql
var sqliteMigrations string

type SQLiteStore struct {
	db  *sql.DB
	now func() time.Time
}

// NewSQLiteStore creates a new SQLite store with the given DSN.
// The DSN should be a file path to the SQLite database file.
// If the directory doesn't exist, it will be created.
func NewSQLiteStore(opts ...Option) (*SQLiteStore, error) {
	cfg := applyOpts(opts)
	slog.Debug("NewSQLiteStore invoked", "DSN_set", cfg.DSN != "")

	dsn := cfg.DSN
	if dsn == "" {
		slog.Error("SQLiteStore DSN not set")
		return nil, fmt.Errorf("database DSN not set")
	}

	dir := filepath.Dir(dsn)
	if err := os.MkdirAll(dir, DefaultDirPermissions); err != nil {
		slog.Error("Failed to create database directory", "error", err, "dir", dir)
		return nil, fmt.Errorf("failed to create database directory: %w", err)
	}
	slog.Debug("SQLite database directory verified/created", "dir", dir)

	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		slog.Error("Failed to open SQLite connection", "error", err)
		return nil, err
	}
	db.SetMaxOpenConns(1)

	if err := db.Ping(); err != nil {
		slog.Error("SQLite ping failed", "error", err)
		db.Close()
		return nil, err
	}
	slog.Debug("SQLite ping successful")

	if _, err := db.Exec(sqliteMigrations); err != nil {
		slog.Error("Failed to run migrations", "error", err)
		db.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}
	slog.Debug("SQLite migrations applied successfully")

	return &SQLiteStore{db: db, now: cfg.Now}, nil
}

// Get implements Store.
func (s *SQLiteStore) Get(ctx context.Context, id string) (*models.ConversationSession, error) {
	var payload string
	err := s.db.QueryRowContext(ctx,
		`SELECT payload FROM conversation_sessions WHERE session_id = ? AND (expires_at = 0 OR expires_at >= ?)`,
		id, s.now().UnixMilli()).Scan(&payload)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, models.ErrSessionNotFound
	}
	if err != nil {
		slog.Error("SQLiteStore Get failed", "error", err, "sessionID", id)
		return nil, fmt.Errorf("failed to get session %s: %w", id, err)
	}
	session, err := models.SessionFromJSON([]byte(payload))
	if err != nil {
		slog.Error("SQLiteStore Get decode failed", "error", err, "sessionID", id)
		return nil, err
	}
	return session, nil
}

// Put implements Store.
func (s *SQLiteStore) Put(ctx context.Context, session *models.ConversationSession, ttl time.Duration) error {
	payload, err := session.ToJSON()
	if err != nil {
		slog.Error("SQLiteStore Put JSON marshal failed", "error", err, "sessionID", session.ID)
		return err
	}
	now := s.now()
	var expiresAt int64
	if exp := expiryFor(now, ttl); !exp.IsZero() {
		expiresAt = exp.UnixMilli()
	}
	query := `
		INSERT OR REPLACE INTO conversation_sessions (session_id, user_id, status, current_stage, payload, expires_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`
	if _, err := s.db.ExecContext(ctx, query,
		session.ID, session.UserID, string(session.Status), string(session.CurrentStage),
		string(payload), expiresAt, now.UnixMilli()); err != nil {
		slog.Error("SQLiteStore Put failed", "error", err, "sessionID", session.ID)
		return fmt.Errorf("failed to save session %s: %w", session.ID, err)
	}
	slog.Debug("SQLiteStore Put succeeded", "sessionID", session.ID, "status", session.Status, "stage", session.CurrentStage)
	return nil
}

// Delete implements Store.
func (s *SQLiteStore) Delete(ctx context.Context, id string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM conversation_sessions WHERE session_id = ?`, id); err != nil {
		slog.Error("SQLiteStore Delete failed", "error", err, "sessionID", id)
		return fmt.Errorf("failed to delete session %s: %w", id, err)
	}
	slog.Debug("SQLiteStore Delete succeeded", "sessionID", id)
	return nil
}

// PurgeExpired implements Purger.
func (s *SQLiteStore) PurgeExpired(ctx context.Context) (int, error) {
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM conversation_sessions WHERE expires_at > 0 AND expires_at < ?`, s.now().UnixMilli())
	if err != nil {
		slog.Error("SQLiteStore PurgeExpired failed", "error", err)
		return 0, fmt.Errorf("failed to purge expired sessions: %w", err)
	}
	n, _ := res.RowsAffected()
	slog.Debug("SQLiteStore PurgeExpired succeeded", "count", n)
	return int(n), nil
}

// Close closes the SQLite database connection.
func (s *SQLiteStore) Close() error {
	slog.Debug("Closing SQLite database connection")
	err := s.db.Close()
	if err != nil {
		slog.Error("Failed to close SQLite database", "error", err)
	} else {
		slog.Debug("SQLite database connection closed successfully")
	}
	return err
}
