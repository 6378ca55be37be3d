package extract

import (
	"regexp"
	"strconv"
	"strings"
	"unicode"

	"github.com/BTreeMap/IntakePipe/internal/classifier"
	"github.com/BTreeMap/IntakePipe/internal/models"
	"golang.org/x/text/cases"
	"golang.org/x/text/language"
)

// Transform turns a matched fragment into a profile value. ok is false when
// the fragment does not yield a usable value, letting the next rule try.
type Transform func(fragment string) (value models.ProfileValue, ok bool)

// KeywordEntry maps a keyword phrase to a canonical value.
type KeywordEntry struct {
	Keyword string
	Value   string
}

var (
	whitespaceRe = regexp.MustCompile(`\s+`)
	listSplitRe  = regexp.MustCompile(`(?i)\s*(?:[,;.!?\n]|\band\b|\bor\b|&)\s*`)
	numberRe     = regexp.MustCompile(`\d+(?:\.\d+)?`)
	ageNumberRe  = regexp.MustCompile(`\b\d{1,3}\b`)
)

// leadingFiller is stripped from the front of list items.
var leadingFiller = []string{"also ", "just ", "mostly ", "probably ", "maybe ", "like "}

// clean trims, collapses whitespace and strips surrounding punctuation.
func clean(s string) string {
	s = whitespaceRe.ReplaceAllString(strings.TrimSpace(s), " ")
	return strings.TrimFunc(s, func(r rune) bool {
		return unicode.IsSpace(r) || (unicode.IsPunct(r) && r != '\'')
	})
}

// Cleanup returns a literal text value with whitespace and punctuation tidied.
// With titleCase, each word's first letter is upper-cased.
func Cleanup(titleCase bool) Transform {
	return func(fragment string) (models.ProfileValue, bool) {
		s := clean(fragment)
		if s == "" {
			return models.ProfileValue{}, false
		}
		if titleCase {
			// Casers keep state; one per call.
			s = cases.Title(language.Und, cases.NoLower).String(s)
		}
		return models.TextValue(s), true
	}
}

// KeywordTable maps the first keyword found (in table order) to its canonical value.
func KeywordTable(entries []KeywordEntry) Transform {
	return func(fragment string) (models.ProfileValue, bool) {
		if v, ok := lookupKeyword(fragment, entries); ok {
			return models.TextValue(v), true
		}
		return models.ProfileValue{}, false
	}
}

func lookupKeyword(fragment string, entries []KeywordEntry) (string, bool) {
	for _, e := range entries {
		if classifier.ContainsPhrase(fragment, e.Keyword) {
			return e.Value, true
		}
	}
	return "", false
}

// ListSplit splits a fragment on commas, semicolons, sentence breaks and the
// words "and"/"or", returning a de-duplicated list of cleaned items.
func ListSplit() Transform {
	return func(fragment string) (models.ProfileValue, bool) {
		var items []string
		seen := make(map[string]bool)
		for _, part := range listSplitRe.Split(fragment, -1) {
			item := clean(part)
			lower := strings.ToLower(item)
			for _, f := range leadingFiller {
				if strings.HasPrefix(lower, f) {
					item = strings.TrimSpace(item[len(f):])
					lower = strings.ToLower(item)
				}
			}
			if item == "" || seen[lower] {
				continue
			}
			seen[lower] = true
			items = append(items, item)
		}
		if len(items) == 0 {
			return models.ProfileValue{}, false
		}
		return models.ListValue(items...), true
	}
}

// readinessKeywords are checked in order; "not ready" precedes "ready".
var readinessKeywords = []KeywordEntry{
	{"not ready", "0.1"},
	{"not at all", "0.1"},
	{"no way", "0.1"},
	{"very ready", "0.9"},
	{"so ready", "0.9"},
	{"totally ready", "0.9"},
	{"completely ready", "0.9"},
	{"can't wait", "0.9"},
	{"unsure", "0.3"},
	{"not sure", "0.3"},
	{"a little", "0.3"},
	{"nervous", "0.3"},
	{"somewhat", "0.5"},
	{"kind of", "0.5"},
	{"maybe", "0.5"},
	{"halfway", "0.5"},
	{"ready", "0.7"},
	{"yes", "0.7"},
}

// ReadinessScale maps a reply to a readiness level in [0,1]. A numeric token
// up to 10 is read as a 0-10 scale, up to 100 as a percentage. Larger numbers
// and replies without a number fall back to the keyword buckets.
func ReadinessScale() Transform {
	return func(fragment string) (models.ProfileValue, bool) {
		if tok := numberRe.FindString(fragment); tok != "" {
			if v, err := strconv.ParseFloat(tok, 64); err == nil {
				switch {
				case v <= 10:
					return models.NumberValue(v / 10), true
				case v <= 100:
					return models.NumberValue(v / 100), true
				}
			}
		}
		if s, ok := lookupKeyword(fragment, readinessKeywords); ok {
			v, _ := strconv.ParseFloat(s, 64)
			return models.NumberValue(v), true
		}
		return models.ProfileValue{}, false
	}
}

// ageKeywords are checked in order so "early twenties" wins over "twenties".
var ageKeywords = []KeywordEntry{
	{"teenager", "under_18"},
	{"teen", "under_18"},
	{"high school", "under_18"},
	{"early twenties", "18_24"},
	{"early 20s", "18_24"},
	{"twenties", "25_34"},
	{"20s", "25_34"},
	{"early thirties", "25_34"},
	{"thirties", "35_44"},
	{"30s", "35_44"},
	{"forties", "45_54"},
	{"40s", "45_54"},
	{"fifties", "55_64"},
	{"50s", "55_64"},
	{"sixties", "65_plus"},
	{"60s", "65_plus"},
	{"seventies", "65_plus"},
	{"senior", "65_plus"},
}

// AgeBucket maps a stated age to its age range. Numbers outside 5..120 are ignored.
func AgeBucket() Transform {
	return func(fragment string) (models.ProfileValue, bool) {
		for _, tok := range ageNumberRe.FindAllString(fragment, -1) {
			n, err := strconv.Atoi(tok)
			if err != nil || n < 5 || n > 120 {
				continue
			}
			return models.TextValue(ageRange(n)), true
		}
		if v, ok := lookupKeyword(fragment, ageKeywords); ok {
			return models.TextValue(v), true
		}
		return models.ProfileValue{}, false
	}
}

func ageRange(n int) string {
	switch {
	case n < 18:
		return "under_18"
	case n < 25:
		return "18_24"
	case n < 35:
		return "25_34"
	case n < 45:
		return "35_44"
	case n < 55:
		return "45_54"
	case n < 65:
		return "55_64"
	default:
		return "65_plus"
	}
}
