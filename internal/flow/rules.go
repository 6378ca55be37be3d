package flow

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/BTreeMap/IntakePipe/internal/models"
	"github.com/BTreeMap/IntakePipe/internal/safety"
	"golang.org/x/sync/errgroup"
)

// Window sizes used by the progression rules.
const (
	SafetyWindow          = 3
	EngagementWindow      = 5
	MinMeanWordsToAdvance = 3.0
)

var errNotSafe = errors.New("message not affirmatively safe")

// checkSafetyFirst fails on a crisis flag or when any of the last few user
// messages is not judged safe. Validator errors and timeouts count as unsafe.
func (c *Controller) checkSafetyFirst(ctx context.Context, session *models.ConversationSession) string {
	if session.CrisisFlag {
		return "crisis flag is set"
	}
	if c.validator == nil {
		return "no safety validator configured"
	}
	msgs := session.UserMessages()
	if len(msgs) > SafetyWindow {
		msgs = msgs[len(msgs)-SafetyWindow:]
	}

	g, gctx := errgroup.WithContext(ctx)
	sc := safety.Context{SessionID: session.ID, UserID: session.UserID, ContentType: safety.ContentUserMessage}
	for _, m := range msgs {
		text := m.Content
		g.Go(func() error {
			callCtx := gctx
			if c.validatorTimeout > 0 {
				var cancel context.CancelFunc
				callCtx, cancel = context.WithTimeout(gctx, c.validatorTimeout)
				defer cancel()
			}
			verdict, err := c.validator.Validate(callCtx, text, sc)
			if err != nil {
				return err
			}
			if !verdict.IsSafe {
				return errNotSafe
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		if !errors.Is(err, errNotSafe) {
			slog.Warn("Controller.checkSafetyFirst: validator failed, treating as unsafe", "sessionID", session.ID, "error", err)
		}
		return "recent messages did not pass the safety check"
	}
	return ""
}

func checkReadiness(session *models.ConversationSession, now time.Time) string {
	if score := EngagementScore(session, now); score < ReadinessThreshold {
		return fmt.Sprintf("engagement %.2f is below %.2f", score, ReadinessThreshold)
	}
	return ""
}

// checkEngagement requires a user message among the last few history entries
// and substantive recent replies at the current stage.
func checkEngagement(session *models.ConversationSession) string {
	recent := session.History
	if len(recent) > EngagementWindow {
		recent = recent[len(recent)-EngagementWindow:]
	}
	hasUser := false
	for _, m := range recent {
		if m.Sender == models.SenderUser {
			hasUser = true
			break
		}
	}
	if !hasUser {
		return "no recent user reply"
	}

	replies := session.UserMessagesAt(session.CurrentStage)
	if len(replies) > EngagementWindow {
		replies = replies[len(replies)-EngagementWindow:]
	}
	if mean := averageWords(replies); mean < MinMeanWordsToAdvance {
		return fmt.Sprintf("recent replies average %.1f words", mean)
	}
	return ""
}

func checkTimeBounds(session *models.ConversationSession, def models.StageDefinition, now time.Time, maxAge time.Duration) string {
	if maxAge > 0 && now.Sub(session.CreatedAt) > maxAge {
		return fmt.Sprintf("session is older than %s", maxAge)
	}
	if def.MaxDuration > 0 && now.Sub(session.StageEnteredAt) > def.MaxDuration {
		return fmt.Sprintf("stage %s exceeded %s", def.ID, def.MaxDuration)
	}
	return ""
}

func checkCompleteness(session *models.ConversationSession, def models.StageDefinition) string {
	var missing []string
	for _, f := range def.RequiredFields {
		if !session.Profile.Has(f) {
			missing = append(missing, string(f))
		}
	}
	if len(missing) > 0 {
		return "missing required fields: " + strings.Join(missing, ", ")
	}
	return ""
}
