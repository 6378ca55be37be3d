// Package classifier tags a user reply with a coarse response type using
// keyword heuristics. No model call; the result depends only on the text.
package classifier

import (
	"strings"
	"unicode"

	"github.com/BTreeMap/IntakePipe/internal/models"
)

// DetailedTokenThreshold is the token count above which a reply is detailed.
const DetailedTokenThreshold = 20

// CrisisKeywords are always checked, in addition to any stage-specific list.
var CrisisKeywords = []string{
	"kill myself", "killing myself", "suicide", "suicidal",
	"end my life", "end it all", "want to die", "wanna die",
	"self harm", "hurt myself", "hurting myself", "cut myself", "cutting myself",
	"better off dead", "no reason to live", "overdose", "not worth living",
}

// EmotionalKeywords signal that the reply carries strong feeling.
var EmotionalKeywords = []string{
	"sad", "anxious", "anxiety", "depressed", "depression", "lonely",
	"scared", "afraid", "angry", "overwhelmed", "hopeless", "stressed",
	"worried", "upset", "hurt", "crying", "cry", "frustrated", "ashamed",
	"heartbroken", "grief", "grieving", "miserable", "panic", "terrified",
}

// ResistancePhrases signal reluctance to answer.
var ResistancePhrases = []string{
	"don't want to", "dont want to", "rather not", "prefer not",
	"none of your business", "not telling", "no comment", "i won't",
	"skip this", "skip that", "skip it", "i'll pass", "leave me alone",
	"why do you need", "why does it matter", "not comfortable",
}

// ClarifyingMarkers signal that the user did not understand the prompt.
var ClarifyingMarkers = []string{
	"what do you mean", "don't understand", "dont understand", "not sure what you",
	"can you repeat", "say that again", "confused", "huh", "what?",
}

// positiveAffect extends EmotionalKeywords for engagement scoring.
var positiveAffect = []string{
	"happy", "excited", "proud", "grateful", "hopeful", "love", "glad",
	"joy", "calm", "relieved", "feel", "feeling", "felt",
}

// AffectWords is the vocabulary used by the engagement affect signal.
var AffectWords = append(append([]string(nil), EmotionalKeywords...), positiveAffect...)

// Classify maps a reply to a response type. Priority order: crisis, emotional,
// resistant, unclear, then length (detailed above the token threshold, otherwise brief).
// extraCrisis adds stage-specific crisis phrases to the built-in list.
func Classify(text string, extraCrisis ...string) models.ResponseType {
	norm := Normalize(text)

	if containsAny(norm, CrisisKeywords) || containsAny(norm, extraCrisis) {
		return models.ResponseCrisis
	}
	if containsAny(norm, EmotionalKeywords) {
		return models.ResponseEmotional
	}
	if containsAny(norm, ResistancePhrases) {
		return models.ResponseResistant
	}
	if isUnclear(text, norm) {
		return models.ResponseUnclear
	}
	if len(strings.Fields(text)) > DetailedTokenThreshold {
		return models.ResponseDetailed
	}
	return models.ResponseBrief
}

// IsCrisis reports whether the text contains a crisis phrase.
func IsCrisis(text string, extraCrisis ...string) bool {
	norm := Normalize(text)
	return containsAny(norm, CrisisKeywords) || containsAny(norm, extraCrisis)
}

// HasAffect reports whether the text contains any affect-vocabulary token.
func HasAffect(text string) bool {
	return containsAny(Normalize(text), AffectWords)
}

func isUnclear(raw, norm string) bool {
	nonSpace := 0
	for _, r := range raw {
		if !unicode.IsSpace(r) {
			nonSpace++
		}
	}
	if nonSpace < 2 {
		return true
	}
	lower := strings.ToLower(strings.TrimSpace(raw))
	if lower == "?" || lower == "??" {
		return true
	}
	for _, m := range ClarifyingMarkers {
		if strings.HasSuffix(m, "?") {
			if strings.Contains(lower, m) {
				return true
			}
			continue
		}
		if containsPhrase(norm, m) {
			return true
		}
	}
	return false
}

// Normalize lower-cases text and reduces it to space-separated word tokens,
// padded with a leading and trailing space so phrases match on word boundaries.
// Apostrophes are kept; other punctuation and hyphens become spaces.
func Normalize(text string) string {
	var b strings.Builder
	b.Grow(len(text) + 2)
	b.WriteByte(' ')
	lastSpace := true
	for _, r := range strings.ToLower(text) {
		switch {
		case unicode.IsLetter(r) || unicode.IsDigit(r):
			b.WriteRune(r)
			lastSpace = false
		case r == '\'' || r == '’':
			b.WriteByte('\'')
			lastSpace = false
		default:
			if !lastSpace {
				b.WriteByte(' ')
				lastSpace = true
			}
		}
	}
	if !lastSpace {
		b.WriteByte(' ')
	}
	return b.String()
}

func containsAny(norm string, phrases []string) bool {
	for _, p := range phrases {
		if containsPhrase(norm, p) {
			return true
		}
	}
	return false
}

// containsPhrase matches a phrase against normalized text on word boundaries.
func containsPhrase(norm, phrase string) bool {
	p := strings.TrimSpace(Normalize(phrase))
	if p == "" {
		return false
	}
	return strings.Contains(norm, " "+p+" ")
}

// ContainsPhrase reports whether phrase occurs in text on word boundaries,
// ignoring case and punctuation.
func ContainsPhrase(text, phrase string) bool {
	return containsPhrase(Normalize(text), phrase)
}
