package extract

import (
	"regexp"
	"strings"
	"unicode"

	"github.com/BTreeMap/IntakePipe/internal/classifier"
	"github.com/BTreeMap/IntakePipe/internal/models"
)

// Matcher selects the fragment of a stage's text a rule should transform.
type Matcher func(text string) (fragment string, ok bool)

// Rule is one (matcher, transform) pair. Rules for a field are tried in order
// and the first one that both matches and transforms successfully wins.
type Rule struct {
	Name      string
	Match     Matcher
	Transform Transform
}

// Apply runs the rule against text.
func (r Rule) Apply(text string) (models.ProfileValue, bool) {
	fragment, ok := r.Match(text)
	if !ok {
		return models.ProfileValue{}, false
	}
	return r.Transform(fragment)
}

// clauseBreakRe cuts a captured fragment where a new clause starts.
var clauseBreakRe = regexp.MustCompile(`(?i)\s+(?:but|because|when|since|although|though|so that|which)\s+`)

// Pattern matches a regular expression and returns its first capture group,
// or the whole match when the expression has no groups. The fragment is cut
// at the first clause break.
func Pattern(expr string) Matcher {
	re := regexp.MustCompile(expr)
	return func(text string) (string, bool) {
		m := re.FindStringSubmatch(text)
		if m == nil {
			return "", false
		}
		fragment := m[0]
		if len(m) > 1 {
			fragment = m[1]
		}
		if loc := clauseBreakRe.FindStringIndex(fragment); loc != nil {
			fragment = fragment[:loc[0]]
		}
		fragment = strings.TrimSpace(fragment)
		return fragment, fragment != ""
	}
}

// Whole matches any non-blank text and returns it unchanged.
func Whole() Matcher {
	return func(text string) (string, bool) {
		return text, strings.TrimSpace(text) != ""
	}
}

// ShortReply matches text of at most maxWords words made only of letters,
// apostrophes and hyphens, skipping common non-answers.
func ShortReply(maxWords int, stop ...string) Matcher {
	stopSet := make(map[string]bool, len(stop))
	for _, s := range stop {
		stopSet[strings.ToLower(s)] = true
	}
	return func(text string) (string, bool) {
		t := strings.TrimFunc(text, func(r rune) bool { return unicode.IsSpace(r) || unicode.IsPunct(r) })
		words := strings.Fields(t)
		if len(words) == 0 || len(words) > maxWords {
			return "", false
		}
		for _, w := range words {
			if stopSet[strings.ToLower(w)] {
				return "", false
			}
			for _, r := range w {
				if !unicode.IsLetter(r) && r != '\'' && r != '-' {
					return "", false
				}
			}
		}
		return t, true
	}
}

// EachLine tries m on every line of text in order and returns the first match.
func EachLine(m Matcher) Matcher {
	return func(text string) (string, bool) {
		for _, line := range strings.Split(text, "\n") {
			if frag, ok := m(line); ok {
				return frag, true
			}
		}
		return "", false
	}
}

// Answering skips replies the classifier does not tag brief or detailed, so
// refusals and clarifying questions are never taken as answers.
func Answering(m Matcher) Matcher {
	return func(text string) (string, bool) {
		switch classifier.Classify(text) {
		case models.ResponseBrief, models.ResponseDetailed:
			return m(text)
		}
		return "", false
	}
}

// untilSentenceEnd captures up to the next sentence break.
const untilSentenceEnd = `\s+([^.!?\n]+)`

var nameStopWords = []string{"hi", "hello", "hey", "yes", "no", "ok", "okay", "sure", "thanks", "um", "uh", "idk", "nothing", "none"}

// Keyword tables for enum fields. Order matters: the first hit wins.
var (
	pronounKeywords = []KeywordEntry{
		{"she they", "she/they"},
		{"he they", "he/they"},
		{"she her", "she/her"},
		{"he him", "he/him"},
		{"they them", "they/them"},
		{"xe xem", "xe/xem"},
		{"ze zir", "ze/zir"},
		{"any pronouns", "any"},
	}

	lifeContextKeywords = []KeywordEntry{
		{"unemployed", "between_jobs"},
		{"between jobs", "between_jobs"},
		{"looking for work", "between_jobs"},
		{"looking for a job", "between_jobs"},
		{"retired", "retired"},
		{"retirement", "retired"},
		{"student", "student"},
		{"school", "student"},
		{"college", "student"},
		{"university", "student"},
		{"studying", "student"},
		{"parent", "parenting"},
		{"my kids", "parenting"},
		{"my children", "parenting"},
		{"stay at home", "parenting"},
		{"work", "working"},
		{"working", "working"},
		{"job", "working"},
		{"employed", "working"},
		{"career", "working"},
	}

	intensityKeywords = []KeywordEntry{
		{"a little", "mild"},
		{"a bit", "mild"},
		{"mild", "mild"},
		{"slightly", "mild"},
		{"not much", "mild"},
		{"manageable", "mild"},
		{"a lot", "severe"},
		{"severe", "severe"},
		{"really hard", "severe"},
		{"overwhelming", "severe"},
		{"extremely", "severe"},
		{"all the time", "severe"},
		{"constantly", "severe"},
		{"unbearable", "severe"},
		{"sometimes", "moderate"},
		{"moderate", "moderate"},
		{"somewhat", "moderate"},
		{"on and off", "moderate"},
		{"now and then", "moderate"},
	}

	timeframeKeywords = []KeywordEntry{
		{"next few weeks", "short_term"},
		{"weeks", "short_term"},
		{"week", "short_term"},
		{"right away", "short_term"},
		{"soon", "short_term"},
		{"next month", "short_term"},
		{"few months", "medium_term"},
		{"months", "medium_term"},
		{"this year", "medium_term"},
		{"half a year", "medium_term"},
		{"long term", "long_term"},
		{"longer", "long_term"},
		{"years", "long_term"},
		{"year", "long_term"},
		{"someday", "long_term"},
		{"eventually", "long_term"},
	}

	styleKeywords = []KeywordEntry{
		{"gentle", "gentle"},
		{"gently", "gentle"},
		{"soft", "gentle"},
		{"patient", "gentle"},
		{"direct", "direct"},
		{"straight", "direct"},
		{"blunt", "direct"},
		{"honest", "direct"},
		{"playful", "playful"},
		{"funny", "playful"},
		{"humor", "playful"},
		{"humour", "playful"},
		{"fun", "playful"},
		{"encouraging", "encouraging"},
		{"supportive", "encouraging"},
		{"motivating", "encouraging"},
		{"cheer", "encouraging"},
	}
)

// DefaultRules returns the ordered extraction rules for every canonical field.
func DefaultRules() map[models.ProfileField][]Rule {
	return map[models.ProfileField][]Rule{
		models.FieldName: {
			{Name: "name-phrase", Match: Pattern(`(?i:my name is|my name's|call me|i go by|name is)\s+([\p{L}'-]+)`), Transform: Cleanup(true)},
			{Name: "im-capitalized", Match: Pattern(`\b(?:I'm|I am|Im|i'm)\s+(\p{Lu}[\p{L}'-]*)`), Transform: Cleanup(true)},
			{Name: "bare-name", Match: EachLine(Answering(ShortReply(2, nameStopWords...))), Transform: Cleanup(true)},
		},
		models.FieldAgeRange: {
			{Name: "age", Match: Whole(), Transform: AgeBucket()},
		},
		models.FieldPronouns: {
			{Name: "pronouns", Match: Whole(), Transform: KeywordTable(pronounKeywords)},
		},
		models.FieldLifeContext: {
			{Name: "life-context", Match: Whole(), Transform: KeywordTable(lifeContextKeywords)},
		},
		models.FieldChallenges: {
			{Name: "struggle-phrase", Match: Pattern(`(?i)(?:struggling with|struggle with|dealing with|trouble with|hard time with|worried about|stressed about|problems with|issues with|difficulty with)` + untilSentenceEnd), Transform: ListSplit()},
			{Name: "whole-reply", Match: Whole(), Transform: ListSplit()},
		},
		models.FieldChallengeIntensity: {
			{Name: "intensity", Match: Whole(), Transform: KeywordTable(intensityKeywords)},
		},
		models.FieldStrengths: {
			{Name: "good-at", Match: Pattern(`(?i)(?:i'm good at|i am good at|good at|great at|skilled at|talented at|my strengths? (?:is|are)|people say i'm)` + untilSentenceEnd), Transform: ListSplit()},
		},
		models.FieldInterests: {
			{Name: "enjoy", Match: Pattern(`(?i)(?:i love|i enjoy|i like|i'm into|i am into|my hobbies are|my hobby is|for fun i|in my free time i)` + untilSentenceEnd), Transform: ListSplit()},
		},
		models.FieldCoreValues: {
			{Name: "value-phrase", Match: Pattern(`(?i)(?:i value|i care about|what matters most to me is|what matters to me is|important to me is|important to me are)` + untilSentenceEnd), Transform: ListSplit()},
			{Name: "whole-reply", Match: Whole(), Transform: ListSplit()},
		},
		models.FieldGoals: {
			{Name: "want-to", Match: Pattern(`(?i)(?:i want to|i'd like to|i would like to|my goal is to|my goal is|i hope to|hoping to|i'm trying to|i plan to|i wish i could)` + untilSentenceEnd), Transform: ListSplit()},
			{Name: "whole-reply", Match: Whole(), Transform: ListSplit()},
		},
		models.FieldGoalTimeframe: {
			{Name: "timeframe", Match: Whole(), Transform: KeywordTable(timeframeKeywords)},
		},
		models.FieldSupportSystem: {
			{Name: "lean-on", Match: Pattern(`(?i)(?:talk to|lean on|rely on|turn to|count on|supported by|support from|help from)` + untilSentenceEnd), Transform: ListSplit()},
		},
		models.FieldCopingStrategies: {
			{Name: "cope-by", Match: Pattern(`(?i)(?:to cope,? i|i cope by|cope by|i deal with it by|what helps me is|what helps is|it helps me to|i calm down by|i usually|things get tough,? i)` + untilSentenceEnd), Transform: ListSplit()},
		},
		models.FieldCommunicationStyle: {
			{Name: "style", Match: Whole(), Transform: KeywordTable(styleKeywords)},
		},
		models.FieldReadinessLevel: {
			{Name: "scale", Match: Whole(), Transform: ReadinessScale()},
		},
	}
}
