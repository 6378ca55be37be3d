// Package flow drives intake conversations: the progression-rule controller
// that gates stage transitions, and the orchestrator that owns the session
// lifecycle and composes safety, extraction and classification per turn.
package flow

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/BTreeMap/IntakePipe/internal/models"
	"github.com/BTreeMap/IntakePipe/internal/safety"
	"github.com/BTreeMap/IntakePipe/internal/script"
)

// Controller defaults.
const (
	DefaultMaxSessionAge    = 45 * time.Minute
	DefaultValidatorTimeout = 5 * time.Second
)

// Controller decides whether a session may move to a target stage.
type Controller struct {
	script           *script.Repository
	validator        safety.Validator
	validatorTimeout time.Duration
	maxSessionAge    time.Duration
	now              func() time.Time
}

// NewController creates a controller. validator backs the SAFETY_FIRST rule.
func NewController(repo *script.Repository, validator safety.Validator, opts ...Option) *Controller {
	o := applyOptions(opts)
	slog.Debug("Controller.NewController: creating controller", "maxSessionAge", o.MaxSessionAge, "validatorTimeout", o.SafetyTimeout)
	return &Controller{
		script:           repo,
		validator:        validator,
		validatorTimeout: o.SafetyTimeout,
		maxSessionAge:    o.MaxSessionAge,
		now:              o.Now,
	}
}

// DefaultNextStage returns the stage after the session's current one in
// declared order, or "" at the final stage.
func (c *Controller) DefaultNextStage(session *models.ConversationSession) models.StageID {
	return c.script.Next(session.CurrentStage)
}

// CanAdvance runs the current stage's progression rules in order and reports
// the first failure. An empty reason means the transition is allowed.
func (c *Controller) CanAdvance(ctx context.Context, session *models.ConversationSession, target models.StageID) (bool, string) {
	def, ok := c.script.Stage(session.CurrentStage)
	if !ok {
		return false, fmt.Sprintf("unknown current stage %q", session.CurrentStage)
	}
	ti := c.script.Index(target)
	if ti < 0 {
		return false, fmt.Sprintf("unknown target stage %q", target)
	}
	if ti < c.script.Index(session.CurrentStage) {
		return false, fmt.Sprintf("target stage %s precedes current stage %s", target, session.CurrentStage)
	}

	now := c.now()
	for _, rule := range def.Rules {
		var reason string
		switch rule {
		case models.RuleSafetyFirst:
			reason = c.checkSafetyFirst(ctx, session)
		case models.RuleReadinessBased:
			reason = checkReadiness(session, now)
		case models.RuleEngagementDriven:
			reason = checkEngagement(session)
		case models.RuleTimeBounded:
			reason = checkTimeBounds(session, def, now, c.maxSessionAge)
		case models.RuleCompletenessGated:
			reason = checkCompleteness(session, def)
		default:
			reason = fmt.Sprintf("unknown rule %s", rule)
		}
		if reason != "" {
			slog.Debug("Controller.CanAdvance: rule denied transition", "sessionID", session.ID, "stage", session.CurrentStage, "target", target, "rule", rule, "reason", reason)
			return false, reason
		}
	}
	return true, ""
}
