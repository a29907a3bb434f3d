package services

import (
	"strings"
	"testing"

	"github.com/craftcost/backend/internal/models"
	"github.com/google/uuid"
)

func paidIngredient(name string, cost float64) models.Ingredient {
	return models.Ingredient{ID: uuid.New(), Name: name, Unit: "kg", CostPerUnit: cost}
}

func TestValidateBatchDuplicateIngredientName(t *testing.T) {
	req := &models.BatchSaveRequest{
		Ingredients: []models.Ingredient{
			paidIngredient("Flour", 1.2),
			paidIngredient("Flour", 1.5),
		},
	}

	result := ValidateBatch(req)
	if result.Valid {
		t.Fatal("expected invalid batch")
	}
	found := false
	for _, issue := range result.Issues {
		if strings.Contains(issue.Message, "duplicate ingredient name") {
			found = true
		}
	}
	if !found {
		t.Fatalf("expected duplicate-name issue, got %+v", result.Issues)
	}
}

func TestValidateBatchAllowsMultipleNewIngredients(t *testing.T) {
	// Creations arrive without ids; two nil ids are not the same identity.
	result := ValidateBatch(&models.BatchSaveRequest{
		Ingredients: []models.Ingredient{
			{Name: "Flour", Unit: "kg", CostPerUnit: 1.2},
			{Name: "Sugar", Unit: "kg", CostPerUnit: 2.0},
		},
	})
	if !result.Valid {
		t.Fatalf("expected valid batch, got %+v", result.Issues)
	}
}

func TestValidateBatchDuplicateIngredientID(t *testing.T) {
	id := uuid.New()
	a := paidIngredient("Flour", 1.2)
	b := paidIngredient("Sugar", 2.0)
	a.ID = id
	b.ID = id

	result := ValidateBatch(&models.BatchSaveRequest{Ingredients: []models.Ingredient{a, b}})
	if result.Valid {
		t.Fatal("expected invalid batch")
	}
}

func TestValidateIngredientRules(t *testing.T) {
	tests := []struct {
		name  string
		ing   models.Ingredient
		valid bool
	}{
		{"paid with positive cost", paidIngredient("Flour", 1.2), true},
		{"paid with zero cost", paidIngredient("Flour", 0), false},
		{"paid with negative cost", paidIngredient("Flour", -1), false},
		{"complimentary with zero cost", models.Ingredient{ID: uuid.New(), Name: "Water", Unit: "l", Complimentary: true}, true},
		{"complimentary with nonzero cost", models.Ingredient{ID: uuid.New(), Name: "Water", Unit: "l", Complimentary: true, CostPerUnit: 0.5}, false},
		{"missing name", models.Ingredient{ID: uuid.New(), Unit: "kg", CostPerUnit: 1}, false},
		{"missing unit", models.Ingredient{ID: uuid.New(), Name: "Flour", CostPerUnit: 1}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := ValidateBatch(&models.BatchSaveRequest{Ingredients: []models.Ingredient{tt.ing}})
			if result.Valid != tt.valid {
				t.Fatalf("valid = %v, want %v (issues: %+v)", result.Valid, tt.valid, result.Issues)
			}
		})
	}
}

func TestValidateComplimentaryToPaidTransition(t *testing.T) {
	prior := models.Ingredient{ID: uuid.New(), Name: "Water", Unit: "l", Complimentary: true, Version: 3}

	// No new cost supplied: rejected with the transition message.
	cur := prior
	cur.Complimentary = false
	cur.CostPerUnit = 0
	req := &models.BatchSaveRequest{
		Ingredients:      []models.Ingredient{cur},
		PriorIngredients: []models.Ingredient{prior},
	}
	result := ValidateBatch(req)
	if result.Valid {
		t.Fatal("expected invalid batch")
	}
	found := false
	for _, issue := range result.Issues {
		if strings.Contains(issue.Message, "transitioning from complimentary to paid") {
			found = true
		}
	}
	if !found {
		t.Fatalf("expected transition issue, got %+v", result.Issues)
	}

	// With a positive new cost the transition is fine.
	cur.CostPerUnit = 0.8
	req.Ingredients = []models.Ingredient{cur}
	if result := ValidateBatch(req); !result.Valid {
		t.Fatalf("expected valid batch, got %+v", result.Issues)
	}
}

func TestValidateRecipeRules(t *testing.T) {
	flour := uuid.New()
	water := uuid.New()

	tests := []struct {
		name  string
		lines []models.RecipeLine
		valid bool
	}{
		{
			"one active paid line",
			[]models.RecipeLine{{ID: uuid.New(), IngredientID: flour, IngredientName: "Flour", Quantity: 1, Active: true}},
			true,
		},
		{
			"only complimentary lines",
			[]models.RecipeLine{{ID: uuid.New(), IngredientID: water, IngredientName: "Water", Quantity: 1, Active: true, Complimentary: true}},
			false,
		},
		{
			"only inactive lines",
			[]models.RecipeLine{{ID: uuid.New(), IngredientID: flour, IngredientName: "Flour", Quantity: 1, Active: false}},
			false,
		},
		{
			"duplicate ingredient in lines",
			[]models.RecipeLine{
				{ID: uuid.New(), IngredientID: flour, IngredientName: "Flour", Quantity: 1, Active: true},
				{ID: uuid.New(), IngredientID: flour, IngredientName: "Flour", Quantity: 2, Active: true},
			},
			false,
		},
		{
			"negative quantity",
			[]models.RecipeLine{{ID: uuid.New(), IngredientID: flour, IngredientName: "Flour", Quantity: -1, Active: true}},
			false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := models.Recipe{ID: uuid.New(), Name: "Bread", Lines: tt.lines}
			result := ValidateBatch(&models.BatchSaveRequest{Recipes: []models.Recipe{rec}})
			if result.Valid != tt.valid {
				t.Fatalf("valid = %v, want %v (issues: %+v)", result.Valid, tt.valid, result.Issues)
			}
		})
	}
}

func TestValidateDeletionRules(t *testing.T) {
	stored := uuid.New()

	tests := []struct {
		name  string
		req   models.BatchSaveRequest
		valid bool
	}{
		{
			"versioned deletion",
			models.BatchSaveRequest{Deletions: []models.Deletion{{Type: models.KindIngredient, ID: stored, Version: 2}}},
			true,
		},
		{
			"deletion without version token",
			models.BatchSaveRequest{Deletions: []models.Deletion{{Type: models.KindIngredient, ID: stored}}},
			false,
		},
		{
			"deletion without id",
			models.BatchSaveRequest{Deletions: []models.Deletion{{Type: models.KindIngredient, Version: 2}}},
			false,
		},
		{
			"deletion with unknown kind",
			models.BatchSaveRequest{Deletions: []models.Deletion{{Type: "gadget", ID: stored, Version: 2}}},
			false,
		},
		{
			"duplicate deletion",
			models.BatchSaveRequest{Deletions: []models.Deletion{
				{Type: models.KindIngredient, ID: stored, Version: 2},
				{Type: models.KindIngredient, ID: stored, Version: 2},
			}},
			false,
		},
		{
			"same entity saved and deleted",
			models.BatchSaveRequest{
				Ingredients: []models.Ingredient{{ID: stored, Name: "Flour", Unit: "kg", CostPerUnit: 1.2, Version: 2}},
				Deletions:   []models.Deletion{{Type: models.KindIngredient, ID: stored, Version: 2}},
			},
			false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := ValidateBatch(&tt.req)
			if result.Valid != tt.valid {
				t.Fatalf("valid = %v, want %v (issues: %+v)", result.Valid, tt.valid, result.Issues)
			}
		})
	}
}

func TestValidatePackagingRules(t *testing.T) {
	result := ValidateBatch(&models.BatchSaveRequest{
		Packaging: []models.Packaging{{ID: uuid.New(), Name: "", CostPerUnit: -2}},
	})
	if result.Valid {
		t.Fatal("expected invalid batch")
	}
	if len(result.Issues) != 2 {
		t.Fatalf("expected 2 issues, got %+v", result.Issues)
	}
}
