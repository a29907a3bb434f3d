package models

import (
	"time"

	"github.com/google/uuid"
)

// AuditContext identifies who triggered a batch and why.
type AuditContext struct {
	UserID    uuid.UUID `json:"user_id"`
	Operation string    `json:"operation"` // e.g. "global_save"
	Timestamp time.Time `json:"timestamp"`
}

// Deletion marks one stored entity for tombstoning as part of a batch. The
// version token is required: deleting an entity the client has never read is
// meaningless.
type Deletion struct {
	Type    string    `json:"type"` // entity kind
	ID      uuid.UUID `json:"id"`
	Version int64     `json:"version"`
	Name    string    `json:"name,omitempty"`
}

// BatchSaveRequest carries every edit of one user-visible save. The Prior
// slices hold the client's pre-edit snapshots and feed transition validation
// and field-level audit diffs; absent priors are treated as unknown.
type BatchSaveRequest struct {
	Ingredients  []Ingredient `json:"ingredients"`
	Recipes      []Recipe     `json:"recipes"`
	Packaging    []Packaging  `json:"packaging"`
	Deletions    []Deletion   `json:"deletions,omitempty"`
	AuditContext AuditContext `json:"audit_context"`

	PriorIngredients []Ingredient `json:"prior_ingredients,omitempty"`
	PriorRecipes     []Recipe     `json:"prior_recipes,omitempty"`
	PriorPackaging   []Packaging  `json:"prior_packaging,omitempty"`

	// OperationID groups the batch in the audit trail. Zero means the
	// orchestrator generates one.
	OperationID uuid.UUID `json:"operation_id,omitempty"`

	// ForceOverride skips conflict rejection; set only by the explicit
	// override path after the user chose to overwrite remote changes.
	ForceOverride bool `json:"-"`
}

// PriorIngredientIndex maps prior snapshots by id for validation lookups.
func (r *BatchSaveRequest) PriorIngredientIndex() map[uuid.UUID]Ingredient {
	if len(r.PriorIngredients) == 0 {
		return nil
	}
	idx := make(map[uuid.UUID]Ingredient, len(r.PriorIngredients))
	for _, ing := range r.PriorIngredients {
		idx[ing.ID] = ing
	}
	return idx
}

func (r *BatchSaveRequest) ItemCount() int {
	return len(r.Ingredients) + len(r.Recipes) + len(r.Packaging) + len(r.Deletions)
}

func (r *BatchSaveRequest) IsEmpty() bool {
	return r.ItemCount() == 0
}

// Conflict reports a stale client view of one entity. Produced only when the
// stored version is strictly newer than the client's.
type Conflict struct {
	Type           string    `json:"type"` // entity kind
	ID             uuid.UUID `json:"id"`
	ClientVersion  int64     `json:"client_version"`
	CurrentVersion int64     `json:"current_version"`
	Name           string    `json:"name"`
}

// ValidationIssue is one broken business rule inside a batch.
type ValidationIssue struct {
	EntityType string    `json:"entity_type"`
	EntityID   uuid.UUID `json:"entity_id"`
	Field      string    `json:"field,omitempty"`
	Message    string    `json:"message"`
}

type ValidationResult struct {
	Valid  bool              `json:"valid"`
	Issues []ValidationIssue `json:"issues,omitempty"`
}

// BatchSaveResult is the single typed outcome of a batch save. Exactly one of
// the three shapes is populated: saved entities on success, conflicts on a
// stale view, issues on a validation failure.
type BatchSaveResult struct {
	Success          bool              `json:"success"`
	OperationID      uuid.UUID         `json:"operation_id"`
	SavedIngredients []Ingredient      `json:"saved_ingredients,omitempty"`
	SavedRecipes     []Recipe          `json:"saved_recipes,omitempty"`
	SavedPackaging   []Packaging       `json:"saved_packaging,omitempty"`
	Deleted          []Deletion        `json:"deleted,omitempty"`
	Conflicts        []Conflict        `json:"conflicts,omitempty"`
	Issues           []ValidationIssue `json:"issues,omitempty"`
	CompletedAt      *time.Time        `json:"completed_at,omitempty"`
}
