package flow

import (
	"math"
	"strings"
	"time"

	"github.com/BTreeMap/IntakePipe/internal/classifier"
	"github.com/BTreeMap/IntakePipe/internal/models"
)

// Engagement thresholds used for pacing and the READINESS_BASED rule.
const (
	SlowPacingThreshold        = 0.3
	AcceleratedPacingThreshold = 0.8
	AcceleratedMinAvgWords     = 15.0
	ReadinessThreshold         = 0.5

	lengthSignalWords = 20.0
	cadencePerMinute  = 2.0
)

// averageWords returns the mean word count over msgs, or 0 when empty.
func averageWords(msgs []models.Message) float64 {
	if len(msgs) == 0 {
		return 0
	}
	total := 0
	for _, m := range msgs {
		total += len(strings.Fields(m.Content))
	}
	return float64(total) / float64(len(msgs))
}

// EngagementScore blends three signals clamped to [0,1]: reply length,
// message cadence since the session started, and the share of replies that
// carry affect vocabulary. A session with no user messages scores 0.
func EngagementScore(session *models.ConversationSession, now time.Time) float64 {
	msgs := session.UserMessages()
	if len(msgs) == 0 {
		return 0
	}

	length := math.Min(averageWords(msgs)/lengthSignalWords, 1)

	minutes := now.Sub(session.CreatedAt).Minutes()
	if minutes < 1 {
		minutes = 1
	}
	cadence := math.Min((float64(len(msgs))/minutes)/cadencePerMinute, 1)

	affective := 0
	for _, m := range msgs {
		if classifier.HasAffect(m.Content) {
			affective++
		}
	}
	affect := float64(affective) / float64(len(msgs))

	return (length + cadence + affect) / 3
}

// DeterminePacing picks the pacing level that scales minimum exchange counts.
func DeterminePacing(session *models.ConversationSession, now time.Time) models.PacingLevel {
	if session.CrisisFlag {
		return models.PacingSlow
	}
	score := EngagementScore(session, now)
	switch {
	case score < SlowPacingThreshold:
		return models.PacingSlow
	case score > AcceleratedPacingThreshold && averageWords(session.UserMessages()) > AcceleratedMinAvgWords:
		return models.PacingAccelerated
	default:
		return models.PacingNormal
	}
}

// RequiredExchanges scales a stage's minimum exchange count by pacing. The
// result is never below one.
func RequiredExchanges(stage models.StageDefinition, pacing models.PacingLevel) int {
	n := int(math.Floor(float64(stage.MinExchanges) * pacing.Multiplier()))
	if n < 1 {
		return 1
	}
	return n
}
