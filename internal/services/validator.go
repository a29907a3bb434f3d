package services

import (
	"fmt"
	"strings"

	"github.com/craftcost/backend/internal/models"
	"github.com/google/uuid"
)

// ValidateBatch checks cross-entity business rules before any store access.
// It never mutates the batch and never leaves partial state.
func ValidateBatch(req *models.BatchSaveRequest) models.ValidationResult {
	var issues []models.ValidationIssue
	prior := req.PriorIngredientIndex()

	seenNames := make(map[string]bool, len(req.Ingredients))
	seenIDs := make(map[uuid.UUID]bool, len(req.Ingredients))
	for _, ing := range req.Ingredients {
		issues = append(issues, validateIngredient(ing, prior)...)

		name := strings.ToLower(strings.TrimSpace(ing.Name))
		if name != "" && seenNames[name] {
			issues = append(issues, models.ValidationIssue{
				EntityType: models.KindIngredient,
				EntityID:   ing.ID,
				Field:      "name",
				Message:    fmt.Sprintf("duplicate ingredient name %q in batch", ing.Name),
			})
		}
		seenNames[name] = true

		// A nil id is a creation, not an identity; only client-assigned ids
		// can collide.
		if ing.ID != uuid.Nil {
			if seenIDs[ing.ID] {
				issues = append(issues, models.ValidationIssue{
					EntityType: models.KindIngredient,
					EntityID:   ing.ID,
					Message:    "duplicate ingredient id in batch",
				})
			}
			seenIDs[ing.ID] = true
		}
	}

	for _, rec := range req.Recipes {
		issues = append(issues, validateRecipe(rec)...)
	}

	issues = append(issues, validateDeletions(req)...)

	for _, pkg := range req.Packaging {
		if strings.TrimSpace(pkg.Name) == "" {
			issues = append(issues, models.ValidationIssue{
				EntityType: models.KindPackaging,
				EntityID:   pkg.ID,
				Field:      "name",
				Message:    "packaging name is required",
			})
		}
		if pkg.CostPerUnit < 0 {
			issues = append(issues, models.ValidationIssue{
				EntityType: models.KindPackaging,
				EntityID:   pkg.ID,
				Field:      "cost_per_unit",
				Message:    "packaging cost cannot be negative",
			})
		}
	}

	return models.ValidationResult{Valid: len(issues) == 0, Issues: issues}
}

func validateDeletions(req *models.BatchSaveRequest) []models.ValidationIssue {
	var issues []models.ValidationIssue

	edited := make(map[uuid.UUID]bool, req.ItemCount())
	for _, ing := range req.Ingredients {
		edited[ing.ID] = true
	}
	for _, rec := range req.Recipes {
		edited[rec.ID] = true
	}
	for _, pkg := range req.Packaging {
		edited[pkg.ID] = true
	}

	seen := make(map[uuid.UUID]bool, len(req.Deletions))
	for _, del := range req.Deletions {
		issue := func(field, msg string) {
			issues = append(issues, models.ValidationIssue{
				EntityType: del.Type,
				EntityID:   del.ID,
				Field:      field,
				Message:    msg,
			})
		}

		if !models.IsValidKind(del.Type) {
			issue("type", fmt.Sprintf("unknown entity kind %q", del.Type))
			continue
		}
		if del.ID == uuid.Nil {
			issue("id", "deletion requires an entity id")
			continue
		}
		if del.Version <= 0 {
			issue("version", "deletion requires the entity's current version token")
		}
		if edited[del.ID] {
			issue("id", "entity cannot be both saved and deleted in one batch")
		}
		if seen[del.ID] {
			issue("id", "duplicate deletion in batch")
		}
		seen[del.ID] = true
	}

	return issues
}

func validateIngredient(ing models.Ingredient, prior map[uuid.UUID]models.Ingredient) []models.ValidationIssue {
	var issues []models.ValidationIssue
	issue := func(field, msg string) {
		issues = append(issues, models.ValidationIssue{
			EntityType: models.KindIngredient,
			EntityID:   ing.ID,
			Field:      field,
			Message:    msg,
		})
	}

	if strings.TrimSpace(ing.Name) == "" {
		issue("name", "ingredient name is required")
	}
	if strings.TrimSpace(ing.Unit) == "" {
		issue("unit", "ingredient unit is required")
	}

	// Complimentary and cost must agree in both directions.
	if ing.Complimentary && ing.CostPerUnit != 0 {
		issue("cost_per_unit", "complimentary ingredient must have zero cost")
	}
	if !ing.Complimentary {
		if old, ok := prior[ing.ID]; ok && old.Complimentary {
			if ing.CostPerUnit <= 0 {
				issue("cost_per_unit", "must specify a positive cost when transitioning from complimentary to paid")
			}
		} else if ing.CostPerUnit <= 0 {
			issue("cost_per_unit", "non-complimentary ingredient must have a positive cost")
		}
	}

	return issues
}

func validateRecipe(rec models.Recipe) []models.ValidationIssue {
	var issues []models.ValidationIssue
	issue := func(field, msg string) {
		issues = append(issues, models.ValidationIssue{
			EntityType: models.KindRecipe,
			EntityID:   rec.ID,
			Field:      field,
			Message:    msg,
		})
	}

	if strings.TrimSpace(rec.Name) == "" {
		issue("name", "recipe name is required")
	}

	seen := make(map[uuid.UUID]bool, len(rec.Lines))
	activePaid := 0
	for _, line := range rec.Lines {
		if seen[line.IngredientID] {
			issue("lines", fmt.Sprintf("ingredient %q appears more than once in recipe", line.IngredientName))
		}
		seen[line.IngredientID] = true

		if line.Quantity < 0 {
			issue("lines", fmt.Sprintf("line %q has negative quantity", line.IngredientName))
		}
		if line.Active && !line.Complimentary {
			activePaid++
		}
	}
	if activePaid == 0 {
		issue("lines", "recipe must keep at least one active, non-complimentary line")
	}

	return issues
}
