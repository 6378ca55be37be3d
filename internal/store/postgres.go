// Package store provides storage backends for IntakePipe.
//
// This file implements a PostgreSQL-backed session store.
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	_ "embed"

	"github.com/BTreeMap/IntakePipe/internal/models"
	_ "github.com/lib/pq"
)

// Database connection pool configuration constants
const (
	// DefaultMaxOpenConns is the default maximum number of open connections to the database
	DefaultMaxOpenConns = 25
	// DefaultMaxIdleConns is the default maximum number of idle connections in the pool
	DefaultMaxIdleConns = 25
	// DefaultConnMaxLifetime is the default maximum amount of time a connection may be reused
	DefaultConnMaxLifetime = 5 * time.Minute
)

//go:embed migrations_postgres.sql
var postgresMigrations string

type PostgresStore struct {
	db  *sql.DB
	now func() time.Time
}

// NewPostgresStore creates a new Postgres store based on provided options.
func NewPostgresStore(opts ...Option) (*PostgresStore, error) {
	cfg := applyOpts(opts)
	slog.Debug("PostgresStore.NewPostgresStore: creating Postgres store", "DSN_set", cfg.DSN != "")
	dsn := cfg.DSN
	if dsn == "" {
		slog.Error("PostgresStore DSN not set")
		return nil, fmt.Errorf("database DSN not set")
	}

	db, err := sql.Open("postgres", dsn)
	if err != nil {
		slog.Error("Failed to open Postgres connection", "error", err)
		return nil, err
	}

	db.SetMaxOpenConns(DefaultMaxOpenConns)
	db.SetMaxIdleConns(DefaultMaxIdleConns)
	db.SetConnMaxLifetime(DefaultConnMaxLifetime)

	if err := db.Ping(); err != nil {
		slog.Error("Postgres ping failed", "error", err)
		db.Close()
		return nil, err
	}
	slog.Debug("Postgres ping successful")
	if _, err := db.Exec(postgresMigrations); err != nil {
		slog.Error("Failed to run migrations", "error", err)
		db.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}
	slog.Debug("Postgres migrations applied successfully")
	return &PostgresStore{db: db, now: cfg.Now}, nil
}

// Get implements Store.
func (s *PostgresStore) Get(ctx context.Context, id string) (*models.ConversationSession, error) {
	var payload []byte
	err := s.db.QueryRowContext(ctx,
		`SELECT payload FROM conversation_sessions WHERE session_id = $1 AND (expires_at IS NULL OR expires_at >= $2)`,
		id, s.now().UTC()).Scan(&payload)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, models.ErrSessionNotFound
	}
	if err != nil {
		slog.Error("PostgresStore Get failed", "error", err, "sessionID", id)
		return nil, fmt.Errorf("failed to get session %s: %w", id, err)
	}
	return models.SessionFromJSON(payload)
}

// Put implements Store.
func (s *PostgresStore) Put(ctx context.Context, session *models.ConversationSession, ttl time.Duration) error {
	payload, err := session.ToJSON()
	if err != nil {
		slog.Error("PostgresStore Put JSON marshal failed", "error", err, "sessionID", session.ID)
		return err
	}
	now := s.now().UTC()
	var expiresAt sql.NullTime
	if exp := expiryFor(now, ttl); !exp.IsZero() {
		expiresAt = sql.NullTime{Time: exp, Valid: true}
	}
	query := `
		INSERT INTO conversation_sessions (session_id, user_id, status, current_stage, payload, expires_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (session_id)
		DO UPDATE SET
			user_id = EXCLUDED.user_id,
			status = EXCLUDED.status,
			current_stage = EXCLUDED.current_stage,
			payload = EXCLUDED.payload,
			expires_at = EXCLUDED.expires_at,
			updated_at = EXCLUDED.updated_at`
	if _, err := s.db.ExecContext(ctx, query,
		session.ID, session.UserID, string(session.Status), string(session.CurrentStage),
		string(payload), expiresAt, now); err != nil {
		slog.Error("PostgresStore Put failed", "error", err, "sessionID", session.ID)
		return fmt.Errorf("failed to save session %s: %w", session.ID, err)
	}
	slog.Debug("PostgresStore Put succeeded", "sessionID", session.ID, "status", session.Status, "stage", session.CurrentStage)
	return nil
}

// Delete implements Store.
func (s *PostgresStore) Delete(ctx context.Context, id string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM conversation_sessions WHERE session_id = $1`, id); err != nil {
		slog.Error("PostgresStore Delete failed", "error", err, "sessionID", id)
		return fmt.Errorf("failed to delete session %s: %w", id, err)
	}
	slog.Debug("PostgresStore Delete succeeded", "sessionID", id)
	return nil
}

// PurgeExpired implements Purger.
func (s *PostgresStore) PurgeExpired(ctx context.Context) (int, error) {
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM conversation_sessions WHERE expires_at IS NOT NULL AND expires_at < $1`, s.now().UTC())
	if err != nil {
		slog.Error("PostgresStore PurgeExpired failed", "error", err)
		return 0, fmt.Errorf("failed to purge expired sessions: %w", err)
	}
	n, _ := res.RowsAffected()
	slog.Debug("PostgresStore PurgeExpired succeeded", "count", n)
	return int(n), nil
}

// Close closes the Postgres database connection.
func (s *PostgresStore) Close() error {
	slog.Debug("Closing Postgres database connection")
	return s.db.Close()
}
