package safety

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/BTreeMap/IntakePipe/internal/models"
	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
)

// moderationService defines the minimal interface of the OpenAI moderation API.
type moderationService interface {
	New(ctx context.Context, body openai.ModerationNewParams, opts ...option.RequestOption) (*openai.ModerationNewResponse, error)
}

// OpenAIValidator classifies text with the OpenAI moderation endpoint.
type OpenAIValidator struct {
	moderations moderationService
	model       openai.ModerationModel
	// lowScore is the self-harm score above which an unflagged result is reported as low.
	lowScore float64
}

// OpenAIOption configures an OpenAIValidator.
type OpenAIOption func(*OpenAIValidator)

// WithModerationModel sets the moderation model name.
func WithModerationModel(model string) OpenAIOption {
	return func(v *OpenAIValidator) {
		if model != "" {
			v.model = openai.ModerationModel(model)
		}
	}
}

// NewOpenAIValidator creates a validator backed by the OpenAI API.
func NewOpenAIValidator(apiKey string, opts ...OpenAIOption) (*OpenAIValidator, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("OPENAI_API_KEY not set")
	}
	client := openai.NewClient(option.WithAPIKey(apiKey))
	return newOpenAIValidator(&client.Moderations, opts...), nil
}

func newOpenAIValidator(svc moderationService, opts ...OpenAIOption) *OpenAIValidator {
	v := &OpenAIValidator{
		moderations: svc,
		model:       openai.ModerationModelOmniModerationLatest,
		lowScore:    0.3,
	}
	for _, opt := range opts {
		opt(v)
	}
	return v
}

// Validate implements Validator. API errors are returned as errors so the
// caller fails closed.
func (o *OpenAIValidator) Validate(ctx context.Context, text string, sc Context) (Verdict, error) {
	resp, err := o.moderations.New(ctx, openai.ModerationNewParams{
		Input: openai.ModerationNewParamsInputUnion{OfString: openai.String(text)},
		Model: o.model,
	})
	if err != nil {
		slog.Warn("OpenAIValidator.Validate: moderation request failed", "sessionID", sc.SessionID, "error", err)
		return Verdict{}, fmt.Errorf("moderation request failed: %w", err)
	}
	if resp == nil || len(resp.Results) == 0 {
		return Verdict{}, fmt.Errorf("moderation returned no results")
	}

	verdict := Safe()
	for _, r := range resp.Results {
		verdict = Worse(verdict, o.fromResult(r))
	}
	slog.Debug("OpenAIValidator.Validate: moderation verdict", "sessionID", sc.SessionID, "level", verdict.CrisisLevel, "flags", verdict.ContentFlags)
	return verdict, nil
}

func (o *OpenAIValidator) fromResult(r openai.Moderation) Verdict {
	c := r.Categories
	switch {
	case c.SelfHarmIntent || c.SelfHarmInstructions:
		return Verdict{IsSafe: false, CrisisLevel: models.CrisisEmergency, ContentFlags: []string{FlagSelfHarm, FlagImminent}}
	case c.SelfHarm:
		return Verdict{IsSafe: false, CrisisLevel: models.CrisisHigh, ContentFlags: []string{FlagSelfHarm}}
	case c.Violence || c.HarassmentThreatening || c.HateThreatening || c.IllicitViolent:
		return Verdict{IsSafe: false, CrisisLevel: models.CrisisMedium, ContentFlags: []string{FlagViolence}}
	case r.Flagged:
		return Verdict{IsSafe: false, CrisisLevel: models.CrisisLow, ContentFlags: []string{FlagModerated}}
	case r.CategoryScores.SelfHarm > o.lowScore:
		return Verdict{IsSafe: true, CrisisLevel: models.CrisisLow}
	default:
		return Safe()
	}
}
