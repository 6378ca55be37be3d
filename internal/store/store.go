// Package store provides storage backends for IntakePipe conversation sessions.
//
// It includes an in-memory store and persistent SQLite and PostgreSQL stores.
// All backends are keyed by session id with last-write-wins semantics and an
// optional per-entry TTL.
package store

import (
	"context"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/BTreeMap/IntakePipe/internal/models"
)

// Store persists conversation sessions by id.
type Store interface {
	// Get returns the session, or models.ErrSessionNotFound if it is missing or its TTL has passed.
	Get(ctx context.Context, id string) (*models.ConversationSession, error)
	// Put writes the session. A ttl of zero or less keeps it indefinitely.
	Put(ctx context.Context, session *models.ConversationSession, ttl time.Duration) error
	// Delete removes the session. Deleting a missing session is not an error.
	Delete(ctx context.Context, id string) error
	Close() error
}

// Purger is implemented by stores that can drop expired entries in bulk.
type Purger interface {
	PurgeExpired(ctx context.Context) (int, error)
}

// Opts holds configuration for store backends.
type Opts struct {
	DSN string
	Now func() time.Time
}

// Option configures a store.
type Option func(*Opts)

// WithSQLiteDSN sets the SQLite database file path.
func WithSQLiteDSN(dsn string) Option {
	return func(o *Opts) {
		o.DSN = dsn
	}
}

// WithPostgresDSN sets the PostgreSQL connection string.
func WithPostgresDSN(dsn string) Option {
	return func(o *Opts) {
		o.DSN = dsn
	}
}

// WithClock overrides the clock used for TTL bookkeeping.
func WithClock(now func() time.Time) Option {
	return func(o *Opts) {
		o.Now = now
	}
}

func applyOpts(opts []Option) Opts {
	cfg := Opts{Now: time.Now}
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return cfg
}

// DSN types returned by DetectDSNType.
const (
	DSNTypePostgres = "postgres"
	DSNTypeSQLite   = "sqlite3"
)

// DetectDSNType reports whether a DSN addresses PostgreSQL or a SQLite file.
func DetectDSNType(dsn string) string {
	lower := strings.ToLower(strings.TrimSpace(dsn))
	if strings.HasPrefix(lower, "postgres://") || strings.HasPrefix(lower, "postgresql://") {
		return DSNTypePostgres
	}
	if strings.Contains(lower, "host=") || strings.Contains(lower, "dbname=") {
		return DSNTypePostgres
	}
	return DSNTypeSQLite
}

func expiryFor(now time.Time, ttl time.Duration) time.Time {
	if ttl <= 0 {
		return time.Time{}
	}
	return now.Add(ttl)
}

type memoryEntry struct {
	session   *models.ConversationSession
	expiresAt time.Time
}

// InMemoryStore keeps sessions in a map. Sessions are cloned on the way in and
// out so callers never share state with the store.
type InMemoryStore struct {
	mu       sync.RWMutex
	sessions map[string]memoryEntry
	now      func() time.Time
}

// NewInMemoryStore creates an empty in-memory store.
func NewInMemoryStore(opts ...Option) *InMemoryStore {
	cfg := applyOpts(opts)
	return &InMemoryStore{sessions: make(map[string]memoryEntry), now: cfg.Now}
}

// Get implements Store.
func (s *InMemoryStore) Get(ctx context.Context, id string) (*models.ConversationSession, error) {
	s.mu.RLock()
	entry, ok := s.sessions[id]
	s.mu.RUnlock()
	if !ok || entry.expired(s.now()) {
		return nil, models.ErrSessionNotFound
	}
	return entry.session.Clone(), nil
}

// Put implements Store.
func (s *InMemoryStore) Put(ctx context.Context, session *models.ConversationSession, ttl time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sessions[session.ID] = memoryEntry{session: session.Clone(), expiresAt: expiryFor(s.now(), ttl)}
	return nil
}

// Delete implements Store.
func (s *InMemoryStore) Delete(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.sessions, id)
	return nil
}

// PurgeExpired implements Purger.
func (s *InMemoryStore) PurgeExpired(ctx context.Context) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.now()
	n := 0
	for id, entry := range s.sessions {
		if entry.expired(now) {
			delete(s.sessions, id)
			n++
		}
	}
	if n > 0 {
		slog.Debug("InMemoryStore.PurgeExpired: purged sessions", "count", n)
	}
	return n, nil
}

// Close implements Store.
func (s *InMemoryStore) Close() error {
	return nil
}

func (e memoryEntry) expired(now time.Time) bool {
	return !e.expiresAt.IsZero() && now.After(e.expiresAt)
}
