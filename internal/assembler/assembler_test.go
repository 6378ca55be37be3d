package assembler

import (
	"context"
	"errors"
	"testing"

	"github.com/BTreeMap/IntakePipe/internal/models"
	"github.com/google/go-cmp/cmp"
)

func TestAssemble(t *testing.T) {
	p := models.NewCollectedProfile()
	p.Set(models.FieldName, models.TextValue("Priya"))
	p.Set(models.FieldPronouns, models.TextValue("she/her"))
	p.Set(models.FieldStrengths, models.ListValue("drawing"))
	p.Set(models.FieldCoreValues, models.ListValue("honesty"))
	p.Set(models.FieldGoals, models.ListValue("sleep better", "finish my degree"))
	p.Set(models.FieldSupportSystem, models.ListValue("my sister"))
	p.Set(models.FieldCopingStrategies, models.ListValue("running"))
	p.Set(models.FieldReadinessLevel, models.NumberValue(0.8))

	got, err := NewProfileAssembler().Assemble(context.Background(), p)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	want := &models.Character{
		Name:      "Priya",
		Pronouns:  "she/her",
		Archetype: "Bard",
		Traits:    []string{"drawing", "honesty"},
		Quests:    []string{"sleep better", "finish my degree"},
		Allies:    []string{"my sister"},
		Abilities: []string{"running"},
		Tone:      DefaultTone,
		Readiness: 0.8,
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("character mismatch (-want +got):\n%s", diff)
	}
}

func TestAssembleDefaultArchetype(t *testing.T) {
	p := models.NewCollectedProfile()
	p.Set(models.FieldName, models.TextValue("Sam"))
	p.Set(models.FieldGoals, models.ListValue("rest"))
	p.Set(models.FieldCommunicationStyle, models.TextValue("playful"))

	got, err := NewProfileAssembler().Assemble(context.Background(), p)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got.Archetype != DefaultArchetype || got.Tone != "playful" {
		t.Errorf("unexpected archetype/tone: %s/%s", got.Archetype, got.Tone)
	}
}

func TestAssembleRejectsIncompleteProfile(t *testing.T) {
	p := models.NewCollectedProfile()
	p.Set(models.FieldReadinessLevel, models.NumberValue(3))

	_, err := NewProfileAssembler().Assemble(context.Background(), p)
	var verr *models.ValidationError
	if !errors.As(err, &verr) {
		t.Fatalf("expected *models.ValidationError, got %v", err)
	}
	if len(verr.Errors) != 3 {
		t.Errorf("expected 3 field errors, got %v", verr.Errors)
	}
}
