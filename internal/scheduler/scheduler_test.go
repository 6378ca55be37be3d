package scheduler

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/BTreeMap/IntakePipe/internal/models"
	"github.com/BTreeMap/IntakePipe/internal/store"
)

func TestSchedulerAddJob(t *testing.T) {
	s := NewScheduler()
	defer s.Stop()
	// Should add a valid cron job without error
	if err := s.AddJob("* * * * *", func() {}); err != nil {
		t.Errorf("Expected no error adding job, got %v", err)
	}
	if err := s.AddJob("not a schedule", func() {}); err == nil {
		t.Error("Expected error for invalid cron expression")
	}
}

func TestSweeperPurgesExpiredSessions(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	clock := func() time.Time { return now }
	st := store.NewInMemoryStore(store.WithClock(clock))

	for _, id := range []string{"a", "b"} {
		if err := st.Put(ctx, &models.ConversationSession{ID: id, Profile: models.NewCollectedProfile()}, time.Minute); err != nil {
			t.Fatalf("Put failed: %v", err)
		}
	}
	if err := st.Put(ctx, &models.ConversationSession{ID: "keep", Profile: models.NewCollectedProfile()}, 0); err != nil {
		t.Fatalf("Put failed: %v", err)
	}

	now = now.Add(2 * time.Minute)
	n, err := NewSweeper(st).Sweep(ctx)
	if err != nil {
		t.Fatalf("Sweep failed: %v", err)
	}
	if n != 2 {
		t.Errorf("expected 2 purged sessions, got %d", n)
	}
	if _, err := st.Get(ctx, "keep"); err != nil {
		t.Errorf("expected session without ttl to remain, got %v", err)
	}
}

type failingPurger struct{}

func (failingPurger) PurgeExpired(ctx context.Context) (int, error) {
	return 0, errors.New("database is locked")
}

func TestSweeperReportsErrors(t *testing.T) {
	if _, err := NewSweeper(failingPurger{}).Sweep(context.Background()); err == nil {
		t.Error("expected purge error to be returned")
	}
}

func TestSweeperSchedule(t *testing.T) {
	s := NewScheduler()
	defer s.Stop()
	w := NewSweeper(failingPurger{})
	if err := w.Schedule(s, ""); err != nil {
		t.Errorf("expected default schedule to be accepted, got %v", err)
	}
	if err := w.Schedule(s, "every now and then"); err == nil {
		t.Error("expected invalid schedule to be rejected")
	}
}
