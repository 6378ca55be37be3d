package safety

import (
	"context"

	"github.com/BTreeMap/IntakePipe/internal/classifier"
	"github.com/BTreeMap/IntakePipe/internal/models"
)

// Content flags reported by the keyword validator.
const (
	FlagSelfHarm  = "self_harm"
	FlagImminent  = "imminent"
	FlagDistress  = "distress"
	FlagViolence  = "violence"
	FlagModerated = "moderated"
)

var imminenceMarkers = []string{
	"tonight", "right now", "today", "have a plan", "i have pills",
	"goodbye forever", "this is goodbye", "going to do it",
}

var distressMarkers = []string{
	"hopeless", "worthless", "can't cope", "cant cope", "can't take it",
	"empty inside", "i give up", "i've given up", "giving up on everything",
	"there's no point", "no point in anything", "i feel trapped", "i'm trapped",
}

// weakDistressMarkers also turn up in ordinary replies ("I won't give up")
// and only grade low.
var weakDistressMarkers = []string{"give up", "no point", "trapped"}

var violenceMarkers = []string{
	"hurt someone", "kill him", "kill her", "kill them", "hurt them",
}

// KeywordValidator is a local, dependency-free validator built on the crisis
// lexicon. Crisis phrases are high, or emergency with an imminence marker.
// First-person distress and violence markers are medium and unsafe. Weak
// distress markers and emotional vocabulary alone are low and safe.
type KeywordValidator struct {
	// Extra adds phrases treated like built-in crisis keywords.
	Extra []string
}

// NewKeywordValidator creates a keyword validator.
func NewKeywordValidator(extra ...string) *KeywordValidator {
	return &KeywordValidator{Extra: extra}
}

// Validate implements Validator.
func (k *KeywordValidator) Validate(ctx context.Context, text string, _ Context) (Verdict, error) {
	if err := ctx.Err(); err != nil {
		return Verdict{}, err
	}
	norm := classifier.Normalize(text)

	if classifier.IsCrisis(text, k.Extra...) {
		v := Verdict{IsSafe: false, CrisisLevel: models.CrisisHigh, ContentFlags: []string{FlagSelfHarm}}
		if anyPhrase(norm, imminenceMarkers) {
			v.CrisisLevel = models.CrisisEmergency
			v.ContentFlags = append(v.ContentFlags, FlagImminent)
		}
		return v, nil
	}
	if anyPhrase(norm, violenceMarkers) {
		return Verdict{IsSafe: false, CrisisLevel: models.CrisisMedium, ContentFlags: []string{FlagViolence}}, nil
	}
	if anyPhrase(norm, distressMarkers) {
		return Verdict{IsSafe: false, CrisisLevel: models.CrisisMedium, ContentFlags: []string{FlagDistress}}, nil
	}
	if anyPhrase(norm, weakDistressMarkers) {
		return Verdict{IsSafe: true, CrisisLevel: models.CrisisLow, ContentFlags: []string{FlagDistress}}, nil
	}
	if anyPhrase(norm, classifier.EmotionalKeywords) {
		return Verdict{IsSafe: true, CrisisLevel: models.CrisisLow}, nil
	}
	return Safe(), nil
}

func anyPhrase(norm string, phrases []string) bool {
	for _, p := range phrases {
		if classifier.ContainsPhrase(norm, p) {
			return true
		}
	}
	return false
}
