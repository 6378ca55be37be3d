// Package safety defines the Safety Validator used to gate every user turn and
// ships the validators IntakePipe runs with: a local keyword lexicon, the
// OpenAI moderation endpoint, and combinators for chaining and deadlines.
//
// Callers treat anything other than an affirmative safe verdict, including an
// error or timeout, as unsafe.
package safety

import (
	"context"
	"errors"

	"github.com/BTreeMap/IntakePipe/internal/models"
)

// Content types passed in Context.ContentType.
const (
	ContentUserMessage = "user_message"
)

// ErrValidatorTimeout is returned when a validator does not answer in time.
var ErrValidatorTimeout = errors.New("safety validator timed out")

// Context identifies the content being validated.
type Context struct {
	SessionID   string
	UserID      string
	ContentType string
}

// Verdict is a validator's judgement of one piece of text.
type Verdict struct {
	IsSafe       bool               `json:"is_safe"`
	CrisisLevel  models.CrisisLevel `json:"crisis_level"`
	ContentFlags []string           `json:"content_flags,omitempty"`
}

// IsBlocking reports whether the verdict pre-empts the conversation.
func (v Verdict) IsBlocking() bool {
	return v.CrisisLevel.IsBlocking()
}

// Safe is the verdict for text with no concerns.
func Safe() Verdict {
	return Verdict{IsSafe: true, CrisisLevel: models.CrisisNone}
}

// Validator judges whether user text is safe to continue with.
type Validator interface {
	Validate(ctx context.Context, text string, sc Context) (Verdict, error)
}

// ValidatorFunc adapts a function to the Validator interface.
type ValidatorFunc func(ctx context.Context, text string, sc Context) (Verdict, error)

// Validate calls f.
func (f ValidatorFunc) Validate(ctx context.Context, text string, sc Context) (Verdict, error) {
	return f(ctx, text, sc)
}

// Severity orders crisis levels from none (0) to emergency (4).
func Severity(level models.CrisisLevel) int {
	switch level {
	case models.CrisisLow:
		return 1
	case models.CrisisMedium:
		return 2
	case models.CrisisHigh:
		return 3
	case models.CrisisEmergency:
		return 4
	default:
		return 0
	}
}

// Worse returns the more severe of two verdicts, merging their flags.
func Worse(a, b Verdict) Verdict {
	out := a
	if Severity(b.CrisisLevel) > Severity(a.CrisisLevel) {
		out.CrisisLevel = b.CrisisLevel
	}
	out.IsSafe = a.IsSafe && b.IsSafe
	out.ContentFlags = appendUnique(append([]string(nil), a.ContentFlags...), b.ContentFlags...)
	return out
}

func appendUnique(dst []string, items ...string) []string {
	for _, item := range items {
		found := false
		for _, d := range dst {
			if d == item {
				found = true
				break
			}
		}
		if !found {
			dst = append(dst, item)
		}
	}
	return dst
}
