package flow

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/BTreeMap/IntakePipe/internal/models"
	"github.com/BTreeMap/IntakePipe/internal/store"
)

func TestSessionManagerSaveDiscardsWriteOverTerminal(t *testing.T) {
	ctx := context.Background()
	st := store.NewInMemoryStore()
	m := NewSessionManager(st, time.Hour, nil)

	s := sessionAt(models.StageWelcome)
	s.LastActivityAt = time.Now()
	if err := m.Create(ctx, s); err != nil {
		t.Fatalf("Create failed: %v", err)
	}

	stale, err := m.Load(ctx, s.ID)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if _, err := m.Update(ctx, s.ID, func(cur *models.ConversationSession) error {
		cur.Status = models.StatusAbandoned
		return nil
	}); err != nil {
		t.Fatalf("Update failed: %v", err)
	}

	stale.CurrentStage = models.StageIdentity
	if err := m.Save(ctx, stale); !errors.Is(err, models.ErrInactiveSession) {
		t.Fatalf("expected ErrInactiveSession, got %v", err)
	}
	got, err := m.Load(ctx, s.ID)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if got.Status != models.StatusAbandoned || got.CurrentStage != models.StageWelcome {
		t.Errorf("terminal write did not win: status=%s stage=%s", got.Status, got.CurrentStage)
	}

	// a terminal write from the stale copy loses too
	stale.Status = models.StatusCompleted
	if err := m.Save(ctx, stale); !errors.Is(err, models.ErrInactiveSession) {
		t.Fatalf("expected ErrInactiveSession for terminal write, got %v", err)
	}
	if got, _ := m.Load(ctx, s.ID); got.Status != models.StatusAbandoned {
		t.Errorf("expected ABANDONED to stay, got %s", got.Status)
	}
}

func TestSessionManagerLoadExpires(t *testing.T) {
	ctx := context.Background()
	clock := &testClock{now: baseTime}
	m := NewSessionManager(store.NewInMemoryStore(store.WithClock(clock.Now)), 30*time.Minute, clock.Now)

	s := sessionAt(models.StageWelcome)
	if err := m.Create(ctx, s); err != nil {
		t.Fatalf("Create failed: %v", err)
	}
	clock.Advance(31 * time.Minute)
	if _, err := m.Load(ctx, s.ID); !errors.Is(err, models.ErrSessionNotFound) {
		t.Errorf("expected ErrSessionNotFound, got %v", err)
	}
	if _, err := m.Load(ctx, ""); !errors.Is(err, models.ErrEmptySessionID) {
		t.Errorf("expected ErrEmptySessionID, got %v", err)
	}
}

func TestKeyedMutexSerializesPerKey(t *testing.T) {
	km := newKeyedMutex()
	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		inside  int
		maxSeen int
	)
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			unlock := km.Lock("a")
			defer unlock()
			mu.Lock()
			inside++
			if inside > maxSeen {
				maxSeen = inside
			}
			mu.Unlock()
			time.Sleep(time.Millisecond)
			mu.Lock()
			inside--
			mu.Unlock()
		}()
	}
	wg.Wait()
	if maxSeen != 1 {
		t.Errorf("expected at most one holder per key, saw %d", maxSeen)
	}
	if n := km.size(); n != 0 {
		t.Errorf("expected idle keys to be released, %d remain", n)
	}
}

func TestKeyedMutexIndependentKeys(t *testing.T) {
	km := newKeyedMutex()
	unlockA := km.Lock("a")
	done := make(chan struct{})
	go func() {
		unlock := km.Lock("b")
		unlock()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("lock on b blocked behind a")
	}
	unlockA()
}
