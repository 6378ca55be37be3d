package extract

import (
	"fmt"
	"slices"
	"unicode/utf8"

	"github.com/BTreeMap/IntakePipe/internal/models"
)

// Length bounds, counted in characters.
const (
	MinTextLength  = 1
	MaxTextLength  = 100
	MinEntryLength = 1
	MaxEntryLength = 120
)

// RequiredFields must be present for a profile to validate.
var RequiredFields = []models.ProfileField{
	models.FieldName,
	models.FieldChallenges,
	models.FieldGoals,
	models.FieldReadinessLevel,
}

// EnumValues lists the allowed values of enumerated text fields.
var EnumValues = map[models.ProfileField][]string{
	models.FieldAgeRange:           {"under_18", "18_24", "25_34", "35_44", "45_54", "55_64", "65_plus"},
	models.FieldPronouns:           {"she/her", "he/him", "they/them", "she/they", "he/they", "xe/xem", "ze/zir", "any"},
	models.FieldLifeContext:        {"student", "working", "parenting", "retired", "between_jobs"},
	models.FieldChallengeIntensity: {"mild", "moderate", "severe"},
	models.FieldGoalTimeframe:      {"short_term", "medium_term", "long_term"},
	models.FieldCommunicationStyle: {"gentle", "direct", "playful", "encouraging"},
}

// Validate checks the whole profile and returns every violation found.
// It never stops at the first failure.
func Validate(p models.CollectedProfile) (bool, []models.FieldError) {
	var errs []models.FieldError
	for _, field := range RequiredFields {
		if !p.Has(field) {
			errs = append(errs, models.FieldError{Field: field, Message: "is required"})
		}
	}
	errs = append(errs, ValidateFields(p, models.CanonicalFields)...)
	return len(errs) == 0, errs
}

// ValidateFields checks the value constraints of the given fields that are
// present in p. Presence is not checked.
func ValidateFields(p models.CollectedProfile, fields []models.ProfileField) []models.FieldError {
	var errs []models.FieldError
	for _, field := range fields {
		v, ok := p.Get(field)
		if !ok || v.IsEmpty() {
			continue
		}
		errs = append(errs, validateValue(field, v)...)
	}
	return errs
}

func validateValue(field models.ProfileField, v models.ProfileValue) []models.FieldError {
	kind, ok := models.KindOf(field)
	if !ok {
		return nil
	}
	if v.Kind != kind {
		return []models.FieldError{{Field: field, Message: fmt.Sprintf("expected a %s value, got %s", kind, v.Kind)}}
	}

	var errs []models.FieldError
	switch kind {
	case models.KindText:
		n := utf8.RuneCountInString(v.Text)
		if n < MinTextLength || n > MaxTextLength {
			errs = append(errs, models.FieldError{Field: field, Message: fmt.Sprintf("must be between %d and %d characters", MinTextLength, MaxTextLength)})
		}
		if allowed, isEnum := EnumValues[field]; isEnum && !slices.Contains(allowed, v.Text) {
			errs = append(errs, models.FieldError{Field: field, Message: fmt.Sprintf("%q is not a recognized value", v.Text)})
		}
	case models.KindList:
		for i, item := range v.List {
			n := utf8.RuneCountInString(item)
			if n < MinEntryLength || n > MaxEntryLength {
				errs = append(errs, models.FieldError{Field: field, Message: fmt.Sprintf("entry %d must be between %d and %d characters", i+1, MinEntryLength, MaxEntryLength)})
			}
		}
	case models.KindNumber:
		if field == models.FieldReadinessLevel && (v.Number < 0 || v.Number > 1) {
			errs = append(errs, models.FieldError{Field: field, Message: "must be between 0 and 1"})
		}
	}
	return errs
}

// DropInvalid removes invalid values from delta and returns the errors for
// what it removed. Over-long list entries are dropped individually; any other
// violation drops the whole field.
func DropInvalid(delta *models.CollectedProfile) []models.FieldError {
	var errs []models.FieldError
	for _, field := range models.CanonicalFields {
		v, ok := delta.Get(field)
		if !ok {
			continue
		}
		if v.Kind == models.KindList && v.Kind == fieldKind(field) {
			var kept []string
			for _, item := range v.List {
				if n := utf8.RuneCountInString(item); n >= MinEntryLength && n <= MaxEntryLength {
					kept = append(kept, item)
					continue
				}
				errs = append(errs, models.FieldError{Field: field, Message: fmt.Sprintf("entries must be between %d and %d characters", MinEntryLength, MaxEntryLength)})
			}
			if len(kept) == 0 {
				delete(delta.Fields, field)
			} else {
				delta.Set(field, models.ListValue(kept...))
			}
			continue
		}
		if fe := validateValue(field, v); len(fe) > 0 {
			errs = append(errs, fe...)
			delete(delta.Fields, field)
		}
	}
	return errs
}

func fieldKind(field models.ProfileField) models.ValueKind {
	k, _ := models.KindOf(field)
	return k
}
