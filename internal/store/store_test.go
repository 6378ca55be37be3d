package store

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"syscall"
	"testing"
	"time"

	"github.com/BTreeMap/IntakePipe/internal/models"
	"github.com/google/go-cmp/cmp"
)

// fakeClock is a settable clock shared by a store under test.
type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}
}

func testSession(id string) *models.ConversationSession {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	profile := models.NewCollectedProfile()
	profile.Set(models.FieldName, models.TextValue("Priya"))
	profile.Set(models.FieldGoals, models.ListValue("rest", "run"))
	return &models.ConversationSession{
		ID:             id,
		UserID:         "user-" + id,
		Status:         models.StatusActive,
		CurrentStage:   models.StageIdentity,
		StageEnteredAt: now,
		Profile:        profile,
		History: []models.Message{
			{ID: "m1", Timestamp: now, Sender: models.SenderAssistant, Content: "Welcome", Stage: models.StageWelcome},
			{ID: "m2", Timestamp: now.Add(time.Second), Sender: models.SenderUser, Content: "My name is Priya", Stage: models.StageWelcome},
		},
		CreatedAt:      now,
		UpdatedAt:      now,
		LastActivityAt: now,
	}
}

// exerciseStore runs the behaviour every backend must share.
func exerciseStore(t *testing.T, s Store, clock *fakeClock) {
	t.Helper()
	ctx := context.Background()

	if _, err := s.Get(ctx, "missing"); !errors.Is(err, models.ErrSessionNotFound) {
		t.Fatalf("expected ErrSessionNotFound for missing session, got %v", err)
	}

	want := testSession("a")
	if err := s.Put(ctx, want, 0); err != nil {
		t.Fatalf("Put failed: %v", err)
	}
	got, err := s.Get(ctx, "a")
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("round trip mismatch (-want +got):\n%s", diff)
	}

	// last write wins
	want.CurrentStage = models.StageChallenges
	want.History = append(want.History, models.Message{ID: "m3", Sender: models.SenderUser, Content: "school", Stage: models.StageIdentity, Timestamp: want.CreatedAt})
	if err := s.Put(ctx, want, 0); err != nil {
		t.Fatalf("Put failed: %v", err)
	}
	got, err = s.Get(ctx, "a")
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if got.CurrentStage != models.StageChallenges || len(got.History) != 3 {
		t.Errorf("expected overwritten session, got stage %s with %d messages", got.CurrentStage, len(got.History))
	}

	// returned sessions are independent copies
	got.Profile.Set(models.FieldName, models.TextValue("changed"))
	again, _ := s.Get(ctx, "a")
	if again.Profile.Text(models.FieldName) != "Priya" {
		t.Error("mutating a returned session changed the stored copy")
	}

	// ttl expiry and purge
	if err := s.Put(ctx, testSession("ttl"), time.Minute); err != nil {
		t.Fatalf("Put with ttl failed: %v", err)
	}
	if _, err := s.Get(ctx, "ttl"); err != nil {
		t.Fatalf("expected ttl session before expiry, got %v", err)
	}
	clock.Advance(2 * time.Minute)
	if _, err := s.Get(ctx, "ttl"); !errors.Is(err, models.ErrSessionNotFound) {
		t.Errorf("expected expired session to be not found, got %v", err)
	}
	if purger, ok := s.(Purger); ok {
		n, err := purger.PurgeExpired(ctx)
		if err != nil {
			t.Fatalf("PurgeExpired failed: %v", err)
		}
		if n != 1 {
			t.Errorf("expected 1 purged session, got %d", n)
		}
	}
	if _, err := s.Get(ctx, "a"); err != nil {
		t.Errorf("session without ttl should survive purge, got %v", err)
	}

	if err := s.Delete(ctx, "a"); err != nil {
		t.Fatalf("Delete failed: %v", err)
	}
	if _, err := s.Get(ctx, "a"); !errors.Is(err, models.ErrSessionNotFound) {
		t.Errorf("expected deleted session to be not found, got %v", err)
	}
	if err := s.Delete(ctx, "a"); err != nil {
		t.Errorf("deleting a missing session should not fail, got %v", err)
	}
}

func TestInMemoryStore(t *testing.T) {
	clock := newFakeClock()
	s := NewInMemoryStore(WithClock(clock.Now))
	defer s.Close()
	exerciseStore(t, s, clock)
}

func TestSQLiteStore(t *testing.T) {
	clock := newFakeClock()
	dbPath := filepath.Join(t.TempDir(), "nested", "intake.db")
	s, err := NewSQLiteStore(WithSQLiteDSN(dbPath), WithClock(clock.Now))
	if err != nil {
		t.Fatalf("NewSQLiteStore failed: %v", err)
	}
	defer s.Close()
	exerciseStore(t, s, clock)
}

func TestSQLiteStorePersistsAcrossReopen(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "intake.db")
	s1, err := NewSQLiteStore(WithSQLiteDSN(dbPath))
	if err != nil {
		t.Fatalf("NewSQLiteStore failed: %v", err)
	}
	if err := s1.Put(context.Background(), testSession("p"), 0); err != nil {
		t.Fatalf("Put failed: %v", err)
	}
	s1.Close()

	s2, err := NewSQLiteStore(WithSQLiteDSN(dbPath))
	if err != nil {
		t.Fatalf("reopen failed: %v", err)
	}
	defer s2.Close()
	got, err := s2.Get(context.Background(), "p")
	if err != nil {
		t.Fatalf("Get after reopen failed: %v", err)
	}
	if got.Profile.Text(models.FieldName) != "Priya" {
		t.Errorf("unexpected profile after reopen: %v", got.Profile.Fields)
	}
}

func TestNewSQLiteStoreRequiresDSN(t *testing.T) {
	if _, err := NewSQLiteStore(); err == nil {
		t.Error("expected error without DSN")
	}
}

func TestPostgresStore(t *testing.T) {
	// Requires a running PostgreSQL instance; set DATABASE_URL to enable.
	connStr := getenvOrSkip(t, "DATABASE_URL")
	clock := newFakeClock()
	pgStore, err := NewPostgresStore(WithPostgresDSN(connStr), WithClock(clock.Now))
	if err != nil {
		t.Skipf("Postgres not available: %v", err)
	}
	defer pgStore.Close()
	pgStore.db.Exec("DELETE FROM conversation_sessions")
	exerciseStore(t, pgStore, clock)
}

func TestDetectDSNType(t *testing.T) {
	tests := []struct {
		dsn  string
		want string
	}{
		{"postgres://user:pw@localhost/db", DSNTypePostgres},
		{"postgresql://localhost/db", DSNTypePostgres},
		{"host=localhost dbname=intake sslmode=disable", DSNTypePostgres},
		{"/var/lib/intakepipe/intakepipe.db", DSNTypeSQLite},
		{"file:test.db?cache=shared", DSNTypeSQLite},
	}
	for _, tt := range tests {
		if got := DetectDSNType(tt.dsn); got != tt.want {
			t.Errorf("DetectDSNType(%q) = %s, want %s", tt.dsn, got, tt.want)
		}
	}
}

func getenvOrSkip(t *testing.T, key string) string {
	v := ""
	if val, ok := syscall.Getenv(key); ok {
		v = val
	}
	if v == "" {
		t.Skipf("env %s not set", key)
	}
	return v
}
