package models

import (
	"testing"

	"github.com/google/uuid"
)

func TestIsValidKind(t *testing.T) {
	for _, kind := range AllKinds {
		if !IsValidKind(kind) {
			t.Errorf("kind %q should be valid", kind)
		}
	}
	for _, kind := range []string{"", "Ingredient", "gadget"} {
		if IsValidKind(kind) {
			t.Errorf("kind %q should be invalid", kind)
		}
	}
}

func TestActivePaidLines(t *testing.T) {
	rec := Recipe{
		Lines: []RecipeLine{
			{ID: uuid.New(), IngredientName: "Flour", Active: true},
			{ID: uuid.New(), IngredientName: "Water", Active: true, Complimentary: true},
			{ID: uuid.New(), IngredientName: "Butter", Active: false},
		},
	}

	lines := rec.ActivePaidLines()
	if len(lines) != 1 {
		t.Fatalf("ActivePaidLines() returned %d lines, want 1", len(lines))
	}
	if lines[0].IngredientName != "Flour" {
		t.Errorf("unexpected line %+v", lines[0])
	}
}
