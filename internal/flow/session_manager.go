package flow

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/BTreeMap/IntakePipe/internal/models"
	"github.com/BTreeMap/IntakePipe/internal/store"
)

// SessionManager loads and saves sessions through a Store, applying lazy
// expiry on read and last-terminal-wins on write.
type SessionManager struct {
	store   store.Store
	commits *keyedMutex
	timeout time.Duration
	now     func() time.Time
}

// NewSessionManager creates a SessionManager backed by st.
func NewSessionManager(st store.Store, timeout time.Duration, now func() time.Time) *SessionManager {
	slog.Debug("SessionManager.NewSessionManager: creating session manager", "timeout", timeout)
	if now == nil {
		now = time.Now
	}
	return &SessionManager{store: st, commits: newKeyedMutex(), timeout: timeout, now: now}
}

// Load returns the session, or models.ErrSessionNotFound when it is missing
// or has been idle past the timeout.
func (m *SessionManager) Load(ctx context.Context, id string) (*models.ConversationSession, error) {
	if id == "" {
		return nil, models.ErrEmptySessionID
	}
	session, err := m.store.Get(ctx, id)
	if err != nil {
		if !errors.Is(err, models.ErrSessionNotFound) {
			slog.Error("SessionManager.Load: store get failed", "sessionID", id, "error", err)
		}
		return nil, err
	}
	if session.IsExpired(m.now(), m.timeout) {
		slog.Debug("SessionManager.Load: session expired", "sessionID", id, "lastActivity", session.LastActivityAt)
		return nil, models.ErrSessionNotFound
	}
	return session, nil
}

// Create persists a new session.
func (m *SessionManager) Create(ctx context.Context, session *models.ConversationSession) error {
	unlock := m.commits.Lock(session.ID)
	defer unlock()
	return m.put(ctx, session)
}

// Save persists session unless the stored copy is already terminal. Callers
// only save sessions they loaded as non-terminal, so a terminal stored status
// was written by someone else mid-call; the write is discarded and
// ErrInactiveSession returned, even when session is terminal itself.
func (m *SessionManager) Save(ctx context.Context, session *models.ConversationSession) error {
	unlock := m.commits.Lock(session.ID)
	defer unlock()

	current, err := m.store.Get(ctx, session.ID)
	switch {
	case err == nil:
		if current.Status.IsTerminal() {
			slog.Info("SessionManager.Save: discarding write over terminal session", "sessionID", session.ID, "storedStatus", current.Status, "status", session.Status)
			return fmt.Errorf("session %s is %s: %w", session.ID, current.Status, models.ErrInactiveSession)
		}
	case errors.Is(err, models.ErrSessionNotFound):
	default:
		slog.Error("SessionManager.Save: store get failed", "sessionID", session.ID, "error", err)
		return err
	}
	return m.put(ctx, session)
}

// Update applies fn to the stored session under the commit lock only, so it
// never waits on a turn in progress.
func (m *SessionManager) Update(ctx context.Context, id string, fn func(*models.ConversationSession) error) (*models.ConversationSession, error) {
	unlock := m.commits.Lock(id)
	defer unlock()

	session, err := m.Load(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := fn(session); err != nil {
		return nil, err
	}
	if err := m.put(ctx, session); err != nil {
		return nil, err
	}
	return session, nil
}

func (m *SessionManager) put(ctx context.Context, session *models.ConversationSession) error {
	session.UpdatedAt = m.now()
	var ttl time.Duration
	if !session.Status.IsTerminal() {
		ttl = m.timeout
	}
	if err := m.store.Put(ctx, session, ttl); err != nil {
		slog.Error("SessionManager.put: store put failed", "sessionID", session.ID, "error", err)
		return fmt.Errorf("failed to persist session %s: %w", session.ID, err)
	}
	slog.Debug("SessionManager.put: session persisted", "sessionID", session.ID, "status", session.Status, "stage", session.CurrentStage)
	return nil
}
