// Package models defines the collected character profile built during intake.
package models

import (
	"encoding/json"
	"fmt"
	"strings"
)

// ProfileField names a canonical profile field.
type ProfileField string

// Canonical profile fields. Completeness is measured against this set.
const (
	FieldName               ProfileField = "name"
	FieldAgeRange           ProfileField = "age_range"
	FieldPronouns           ProfileField = "pronouns"
	FieldLifeContext        ProfileField = "life_context"
	FieldChallenges         ProfileField = "challenges"
	FieldChallengeIntensity ProfileField = "challenge_intensity"
	FieldStrengths          ProfileField = "strengths"
	FieldInterests          ProfileField = "interests"
	FieldCoreValues         ProfileField = "core_values"
	FieldGoals              ProfileField = "goals"
	FieldGoalTimeframe      ProfileField = "goal_timeframe"
	FieldSupportSystem      ProfileField = "support_system"
	FieldCopingStrategies   ProfileField = "coping_strategies"
	FieldCommunicationStyle ProfileField = "communication_style"
	FieldReadinessLevel     ProfileField = "readiness_level"
)

// CanonicalFields lists every canonical field in display order.
var CanonicalFields = []ProfileField{
	FieldName,
	FieldAgeRange,
	FieldPronouns,
	FieldLifeContext,
	FieldChallenges,
	FieldChallengeIntensity,
	FieldStrengths,
	FieldInterests,
	FieldCoreValues,
	FieldGoals,
	FieldGoalTimeframe,
	FieldSupportSystem,
	FieldCopingStrategies,
	FieldCommunicationStyle,
	FieldReadinessLevel,
}

// ValueKind describes the shape of a profile value.
type ValueKind string

const (
	KindText   ValueKind = "text"
	KindNumber ValueKind = "number"
	KindList   ValueKind = "list"
)

// fieldKinds maps each canonical field to the value shape it holds.
var fieldKinds = map[ProfileField]ValueKind{
	FieldName:               KindText,
	FieldAgeRange:           KindText,
	FieldPronouns:           KindText,
	FieldLifeContext:        KindText,
	FieldChallenges:         KindList,
	FieldChallengeIntensity: KindText,
	FieldStrengths:          KindList,
	FieldInterests:          KindList,
	FieldCoreValues:         KindList,
	FieldGoals:              KindList,
	FieldGoalTimeframe:      KindText,
	FieldSupportSystem:      KindList,
	FieldCopingStrategies:   KindList,
	FieldCommunicationStyle: KindText,
	FieldReadinessLevel:     KindNumber,
}

// IsCanonicalField checks if the field belongs to the canonical set.
func IsCanonicalField(f ProfileField) bool {
	_, ok := fieldKinds[f]
	return ok
}

// KindOf returns the value kind of a canonical field.
func KindOf(f ProfileField) (ValueKind, bool) {
	k, ok := fieldKinds[f]
	return k, ok
}

// ProfileValue holds either a scalar (text or number) or a list of strings.
type ProfileValue struct {
	Kind   ValueKind `json:"kind"`
	Text   string    `json:"text,omitempty"`
	Number float64   `json:"number,omitempty"`
	List   []string  `json:"list,omitempty"`
}

// TextValue builds a text scalar.
func TextValue(s string) ProfileValue { return ProfileValue{Kind: KindText, Text: s} }

// NumberValue builds a numeric scalar.
func NumberValue(n float64) ProfileValue { return ProfileValue{Kind: KindNumber, Number: n} }

// ListValue builds a list value.
func ListValue(items ...string) ProfileValue { return ProfileValue{Kind: KindList, List: items} }

// IsEmpty reports whether the value carries no data.
func (v ProfileValue) IsEmpty() bool {
	switch v.Kind {
	case KindText:
		return strings.TrimSpace(v.Text) == ""
	case KindNumber:
		return false
	case KindList:
		for _, item := range v.List {
			if strings.TrimSpace(item) != "" {
				return false
			}
		}
		return true
	default:
		return true
	}
}

// String renders the value for summaries and logs.
func (v ProfileValue) String() string {
	switch v.Kind {
	case KindText:
		return v.Text
	case KindNumber:
		return fmt.Sprintf("%.2f", v.Number)
	case KindList:
		return strings.Join(v.List, ", ")
	default:
		return ""
	}
}

// CollectedProfile is the field→value mapping built from the conversation.
type CollectedProfile struct {
	Fields map[ProfileField]ProfileValue `json:"fields"`
}

// NewCollectedProfile returns an empty profile.
func NewCollectedProfile() CollectedProfile {
	return CollectedProfile{Fields: make(map[ProfileField]ProfileValue)}
}

// Get returns the value stored for a field.
func (p CollectedProfile) Get(f ProfileField) (ProfileValue, bool) {
	v, ok := p.Fields[f]
	return v, ok
}

// Has reports whether the field holds a non-empty value.
func (p CollectedProfile) Has(f ProfileField) bool {
	v, ok := p.Fields[f]
	return ok && !v.IsEmpty()
}

// Set stores a value, allocating the map if needed.
func (p *CollectedProfile) Set(f ProfileField, v ProfileValue) {
	if p.Fields == nil {
		p.Fields = make(map[ProfileField]ProfileValue)
	}
	p.Fields[f] = v
}

// Text returns the text value of a field, or "".
func (p CollectedProfile) Text(f ProfileField) string {
	return p.Fields[f].Text
}

// List returns the list value of a field, or nil.
func (p CollectedProfile) List(f ProfileField) []string {
	return p.Fields[f].List
}

// PopulatedCount returns how many canonical fields hold a non-empty value.
func (p CollectedProfile) PopulatedCount() int {
	n := 0
	for _, f := range CanonicalFields {
		if p.Has(f) {
			n++
		}
	}
	return n
}

// Clone returns a deep copy of the profile.
func (p CollectedProfile) Clone() CollectedProfile {
	out := NewCollectedProfile()
	for f, v := range p.Fields {
		if v.List != nil {
			v.List = append([]string(nil), v.List...)
		}
		out.Fields[f] = v
	}
	return out
}

// ToJSON serializes the profile to a JSON string.
func (p *CollectedProfile) ToJSON() (string, error) {
	data, err := json.Marshal(p)
	if err != nil {
		return "", fmt.Errorf("failed to marshal collected profile: %w", err)
	}
	return string(data), nil
}

// FromJSON deserializes a profile from a JSON string.
func (p *CollectedProfile) FromJSON(data string) error {
	if err := json.Unmarshal([]byte(data), p); err != nil {
		return fmt.Errorf("failed to unmarshal collected profile: %w", err)
	}
	if p.Fields == nil {
		p.Fields = make(map[ProfileField]ProfileValue)
	}
	return nil
}
