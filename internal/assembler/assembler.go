// Package assembler turns a finalized intake profile into a Character.
package assembler

import (
	"context"
	"strings"

	"github.com/BTreeMap/IntakePipe/internal/classifier"
	"github.com/BTreeMap/IntakePipe/internal/models"
)

// Assembler builds the domain character from a completed profile.
type Assembler interface {
	Assemble(ctx context.Context, profile models.CollectedProfile) (*models.Character, error)
}

// DefaultTone is used when the profile has no communication style.
const DefaultTone = "encouraging"

// DefaultArchetype is used when no archetype keyword matches.
const DefaultArchetype = "Wanderer"

type archetypeRule struct {
	archetype string
	keywords  []string
}

// archetypes are matched in order against strengths, interests and values.
var archetypes = []archetypeRule{
	{"Healer", []string{"kindness", "kind", "caring", "helping", "listening", "empathy", "compassion", "family"}},
	{"Bard", []string{"art", "drawing", "painting", "music", "singing", "writing", "creativity", "creative", "dance"}},
	{"Paladin", []string{"courage", "brave", "justice", "honesty", "loyalty", "fairness", "integrity"}},
	{"Sage", []string{"learning", "knowledge", "reading", "science", "curiosity", "curious", "wisdom"}},
	{"Ranger", []string{"freedom", "adventure", "hiking", "travel", "nature", "outdoors", "running"}},
}

// ProfileAssembler is the built-in Assembler. It derives the archetype from
// keywords and maps the remaining fields directly.
type ProfileAssembler struct{}

// NewProfileAssembler creates a ProfileAssembler.
func NewProfileAssembler() *ProfileAssembler {
	return &ProfileAssembler{}
}

// Assemble implements Assembler. It returns *models.ValidationError when the
// profile lacks a name or a goal, or carries an out-of-range readiness.
func (a *ProfileAssembler) Assemble(ctx context.Context, profile models.CollectedProfile) (*models.Character, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	var errs []models.FieldError
	name := strings.TrimSpace(profile.Text(models.FieldName))
	if name == "" {
		errs = append(errs, models.FieldError{Field: models.FieldName, Message: "character needs a name"})
	}
	quests := nonEmpty(profile.List(models.FieldGoals))
	if len(quests) == 0 {
		errs = append(errs, models.FieldError{Field: models.FieldGoals, Message: "character needs at least one quest"})
	}
	readiness, _ := profile.Get(models.FieldReadinessLevel)
	if readiness.Kind == models.KindNumber && (readiness.Number < 0 || readiness.Number > 1) {
		errs = append(errs, models.FieldError{Field: models.FieldReadinessLevel, Message: "readiness out of range"})
	}
	if len(errs) > 0 {
		return nil, &models.ValidationError{Errors: errs}
	}

	tone := profile.Text(models.FieldCommunicationStyle)
	if tone == "" {
		tone = DefaultTone
	}

	var traits []string
	traits = append(traits, nonEmpty(profile.List(models.FieldStrengths))...)
	traits = append(traits, nonEmpty(profile.List(models.FieldCoreValues))...)

	return &models.Character{
		Name:      name,
		Pronouns:  profile.Text(models.FieldPronouns),
		Archetype: archetypeFor(profile),
		Traits:    traits,
		Quests:    quests,
		Allies:    nonEmpty(profile.List(models.FieldSupportSystem)),
		Abilities: nonEmpty(profile.List(models.FieldCopingStrategies)),
		Tone:      tone,
		Readiness: readiness.Number,
	}, nil
}

func archetypeFor(profile models.CollectedProfile) string {
	var parts []string
	for _, f := range []models.ProfileField{models.FieldStrengths, models.FieldInterests, models.FieldCoreValues} {
		parts = append(parts, profile.List(f)...)
	}
	text := strings.Join(parts, " ")
	for _, rule := range archetypes {
		for _, kw := range rule.keywords {
			if classifier.ContainsPhrase(text, kw) {
				return rule.archetype
			}
		}
	}
	return DefaultArchetype
}

func nonEmpty(items []string) []string {
	var out []string
	for _, s := range items {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	return out
}
