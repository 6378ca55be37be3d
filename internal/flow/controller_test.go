package flow

import (
	"context"
	"errors"
	"math"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/BTreeMap/IntakePipe/internal/models"
	"github.com/BTreeMap/IntakePipe/internal/safety"
	"github.com/BTreeMap/IntakePipe/internal/script"
)

var baseTime = time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)

func fixedClock(t time.Time) func() time.Time {
	return func() time.Time { return t }
}

func loadScript(t *testing.T) *script.Repository {
	t.Helper()
	repo, err := script.Default()
	if err != nil {
		t.Fatalf("failed to load default script: %v", err)
	}
	return repo
}

// sessionAt builds an active session at stage whose user replies were all sent there.
func sessionAt(stage models.StageID, replies ...string) *models.ConversationSession {
	s := &models.ConversationSession{
		ID:             "s1",
		UserID:         "u1",
		Status:         models.StatusActive,
		CurrentStage:   stage,
		StageEnteredAt: baseTime,
		Profile:        models.NewCollectedProfile(),
		CreatedAt:      baseTime,
		LastActivityAt: baseTime,
	}
	for i, r := range replies {
		s.History = append(s.History, models.Message{
			ID:        "m" + string(rune('a'+i)),
			Timestamp: baseTime,
			Sender:    models.SenderUser,
			Content:   r,
			Stage:     stage,
		})
	}
	return s
}

func TestEngagementScore(t *testing.T) {
	s := sessionAt(models.StageIdentity, "I feel great today", "just okay")
	got := EngagementScore(s, baseTime.Add(2*time.Minute))
	// length 3/20, cadence (2/2)/2, affect 1/2
	want := (0.15 + 0.5 + 0.5) / 3
	if math.Abs(got-want) > 1e-9 {
		t.Errorf("EngagementScore = %f, want %f", got, want)
	}

	if got := EngagementScore(sessionAt(models.StageIdentity), baseTime); got != 0 {
		t.Errorf("expected 0 for a session without replies, got %f", got)
	}
}

func TestEngagementScoreClampsElapsedTime(t *testing.T) {
	s := sessionAt(models.StageIdentity, "one two three four")
	early := EngagementScore(s, baseTime.Add(5*time.Second))
	oneMinute := EngagementScore(s, baseTime.Add(time.Minute))
	if early != oneMinute {
		t.Errorf("expected elapsed time below a minute to count as one minute, got %f vs %f", early, oneMinute)
	}
}

func TestDeterminePacing(t *testing.T) {
	long := strings.Repeat("word ", 24) + "feel"

	tests := []struct {
		name    string
		session *models.ConversationSession
		now     time.Time
		want    models.PacingLevel
	}{
		{"no replies", sessionAt(models.StageWelcome), baseTime, models.PacingSlow},
		{"moderate", sessionAt(models.StageIdentity, "I feel great today", "just okay"), baseTime.Add(2 * time.Minute), models.PacingNormal},
		{"long and quick", sessionAt(models.StageIdentity, long, long), baseTime, models.PacingAccelerated},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := DeterminePacing(tt.session, tt.now); got != tt.want {
				t.Errorf("DeterminePacing = %s, want %s", got, tt.want)
			}
		})
	}

	crisis := sessionAt(models.StageIdentity, long, long)
	crisis.CrisisFlag = true
	if got := DeterminePacing(crisis, baseTime); got != models.PacingSlow {
		t.Errorf("expected SLOW pacing with crisis flag, got %s", got)
	}
}

func TestRequiredExchanges(t *testing.T) {
	tests := []struct {
		min    int
		pacing models.PacingLevel
		want   int
	}{
		{2, models.PacingSlow, 3},
		{2, models.PacingNormal, 2},
		{2, models.PacingAccelerated, 1},
		{1, models.PacingSlow, 1},
		{0, models.PacingNormal, 1},
		{5, models.PacingAccelerated, 4},
	}
	for _, tt := range tests {
		got := RequiredExchanges(models.StageDefinition{MinExchanges: tt.min}, tt.pacing)
		if got != tt.want {
			t.Errorf("RequiredExchanges(%d, %s) = %d, want %d", tt.min, tt.pacing, got, tt.want)
		}
	}
}

func TestDefaultNextStage(t *testing.T) {
	c := NewController(loadScript(t), safety.NewKeywordValidator())
	if got := c.DefaultNextStage(sessionAt(models.StageWelcome)); got != models.StageIdentity {
		t.Errorf("expected identity after welcome, got %s", got)
	}
	if got := c.DefaultNextStage(sessionAt(models.StageCompletion)); got != "" {
		t.Errorf("expected no stage after completion, got %s", got)
	}
}

func TestCanAdvance(t *testing.T) {
	repo := loadScript(t)
	now := baseTime.Add(time.Minute)
	keyword := safety.NewKeywordValidator()
	failing := safety.ValidatorFunc(func(ctx context.Context, text string, sc safety.Context) (safety.Verdict, error) {
		return safety.Verdict{}, errors.New("moderation unavailable")
	})

	named := func(s *models.ConversationSession) *models.ConversationSession {
		s.Profile.Set(models.FieldName, models.TextValue("Priya"))
		return s
	}

	tests := []struct {
		name       string
		validator  safety.Validator
		session    *models.ConversationSession
		target     models.StageID
		now        time.Time
		want       bool
		reasonPart string
	}{
		{
			name:    "welcome with name",
			session: named(sessionAt(models.StageWelcome, "My name is Priya")),
			target:  models.StageIdentity,
			want:    true,
		},
		{
			name:       "missing required field",
			session:    sessionAt(models.StageWelcome, "hello there friend"),
			target:     models.StageIdentity,
			reasonPart: "name",
		},
		{
			name: "crisis flag",
			session: func() *models.ConversationSession {
				s := named(sessionAt(models.StageWelcome, "My name is Priya"))
				s.CrisisFlag = true
				return s
			}(),
			target:     models.StageIdentity,
			reasonPart: "crisis",
		},
		{
			name:       "validator error fails closed",
			validator:  failing,
			session:    named(sessionAt(models.StageWelcome, "My name is Priya")),
			target:     models.StageIdentity,
			reasonPart: "safety",
		},
		{
			name:       "unsafe message in window",
			session:    named(sessionAt(models.StageWelcome, "hello", "I feel hopeless", "My name is Priya")),
			target:     models.StageIdentity,
			reasonPart: "safety",
		},
		{
			name:    "unsafe message outside window",
			session: named(sessionAt(models.StageWelcome, "I feel hopeless", "hello", "hi again", "My name is Priya")),
			target:  models.StageIdentity,
			want:    true,
		},
		{
			name:       "target precedes current stage",
			session:    sessionAt(models.StageIdentity, "I'm 24 and I work in a cafe"),
			target:     models.StageWelcome,
			reasonPart: "precedes",
		},
		{
			name:       "unknown target",
			session:    sessionAt(models.StageIdentity, "I'm 24 and I work in a cafe"),
			target:     "epilogue",
			reasonPart: "unknown",
		},
		{
			name:       "short replies",
			session:    sessionAt(models.StageIdentity, "ok sure", "fine"),
			target:     models.StageChallenges,
			reasonPart: "words",
		},
		{
			name:       "session too old",
			session:    sessionAt(models.StageIdentity, "I'm 24 and I work in a cafe"),
			target:     models.StageChallenges,
			now:        baseTime.Add(50 * time.Minute),
			reasonPart: "older",
		},
		{
			name: "stage duration exceeded",
			session: func() *models.ConversationSession {
				s := sessionAt(models.StageIdentity, "I'm 24 and I work in a cafe")
				s.StageEnteredAt = baseTime.Add(-21 * time.Minute)
				s.CreatedAt = baseTime.Add(-30 * time.Minute)
				return s
			}(),
			target:     models.StageChallenges,
			reasonPart: "exceeded",
		},
		{
			name: "low engagement at goals",
			session: func() *models.ConversationSession {
				s := sessionAt(models.StageGoals, "I want to run")
				s.Profile.Set(models.FieldGoals, models.ListValue("run"))
				return s
			}(),
			target:     models.StageSupport,
			now:        baseTime.Add(30 * time.Minute),
			reasonPart: "engagement",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			v := tt.validator
			if v == nil {
				v = keyword
			}
			at := tt.now
			if at.IsZero() {
				at = now
			}
			c := NewController(repo, v, WithClock(fixedClock(at)))
			ok, reason := c.CanAdvance(context.Background(), tt.session, tt.target)
			if ok != tt.want {
				t.Fatalf("CanAdvance = %v (%q), want %v", ok, reason, tt.want)
			}
			if ok && reason != "" {
				t.Errorf("expected empty reason when allowed, got %q", reason)
			}
			if !ok && !strings.Contains(reason, tt.reasonPart) {
				t.Errorf("reason %q does not mention %q", reason, tt.reasonPart)
			}
		})
	}
}

func TestSafetyFirstChecksOnlyRecentMessages(t *testing.T) {
	var calls atomic.Int32
	counting := safety.ValidatorFunc(func(ctx context.Context, text string, sc safety.Context) (safety.Verdict, error) {
		calls.Add(1)
		if sc.SessionID != "s1" || sc.ContentType != safety.ContentUserMessage {
			t.Errorf("unexpected safety context %+v", sc)
		}
		return safety.Safe(), nil
	})
	c := NewController(loadScript(t), counting, WithClock(fixedClock(baseTime)))
	s := sessionAt(models.StageWelcome, "one", "two", "three", "four", "My name is Priya")
	s.Profile.Set(models.FieldName, models.TextValue("Priya"))

	if ok, reason := c.CanAdvance(context.Background(), s, models.StageIdentity); !ok {
		t.Fatalf("expected advance, denied: %s", reason)
	}
	if got := calls.Load(); got != SafetyWindow {
		t.Errorf("expected %d validator calls, got %d", SafetyWindow, got)
	}
}

func TestSafetyFirstTimeoutFailsClosed(t *testing.T) {
	slow := safety.ValidatorFunc(func(ctx context.Context, text string, sc safety.Context) (safety.Verdict, error) {
		<-ctx.Done()
		return safety.Verdict{}, ctx.Err()
	})
	c := NewController(loadScript(t), slow, WithClock(fixedClock(baseTime)), WithSafetyTimeout(10*time.Millisecond))
	s := sessionAt(models.StageWelcome, "My name is Priya")
	s.Profile.Set(models.FieldName, models.TextValue("Priya"))

	if ok, _ := c.CanAdvance(context.Background(), s, models.StageIdentity); ok {
		t.Error("expected a validator timeout to deny the transition")
	}
}
