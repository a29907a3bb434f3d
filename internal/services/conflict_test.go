package services

import (
	"testing"

	"github.com/craftcost/backend/internal/models"
	"github.com/craftcost/backend/internal/store"
	"github.com/google/uuid"
)

func TestDetectConflicts(t *testing.T) {
	id := uuid.New()

	tests := []struct {
		name          string
		clientVersion int64
		storedVersion int64
		conflict      bool
	}{
		{"stored newer than client", 3, 5, true},
		{"stored equals client", 5, 5, false},
		{"stored older than client", 5, 3, false},
		{"stored one ahead", 4, 5, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := &models.BatchSaveRequest{
				Ingredients: []models.Ingredient{{ID: id, Name: "Flour", Version: tt.clientVersion}},
			}
			current := []store.VersionRecord{{Kind: models.KindIngredient, ID: id, Version: tt.storedVersion, Name: "Flour"}}

			conflicts := DetectConflicts(req, current)
			if got := len(conflicts) > 0; got != tt.conflict {
				t.Fatalf("conflict = %v, want %v", got, tt.conflict)
			}
			if tt.conflict {
				c := conflicts[0]
				if c.ClientVersion != tt.clientVersion || c.CurrentVersion != tt.storedVersion {
					t.Fatalf("unexpected conflict payload %+v", c)
				}
				if c.Type != models.KindIngredient || c.ID != id {
					t.Fatalf("unexpected conflict identity %+v", c)
				}
			}
		})
	}
}

func TestDetectConflictsSkipsCreations(t *testing.T) {
	id := uuid.New()
	req := &models.BatchSaveRequest{
		Ingredients: []models.Ingredient{{ID: id, Name: "Flour", Version: 0}},
	}
	// Even if the store somehow reports a row, a creation token never conflicts.
	current := []store.VersionRecord{{Kind: models.KindIngredient, ID: id, Version: 7}}
	if conflicts := DetectConflicts(req, current); len(conflicts) != 0 {
		t.Fatalf("expected no conflicts, got %+v", conflicts)
	}
}

func TestVersionedRefsOnlyListsVersionedItems(t *testing.T) {
	req := &models.BatchSaveRequest{
		Ingredients: []models.Ingredient{
			{ID: uuid.New(), Version: 0},
			{ID: uuid.New(), Version: 2},
		},
		Recipes:   []models.Recipe{{ID: uuid.New(), Version: 1}},
		Packaging: []models.Packaging{{ID: uuid.New(), Version: 0}},
	}

	refs := versionedRefs(req)
	if len(refs) != 2 {
		t.Fatalf("expected 2 refs, got %d", len(refs))
	}
	kinds := map[string]int{}
	for _, ref := range refs {
		kinds[ref.Kind]++
	}
	if kinds[models.KindIngredient] != 1 || kinds[models.KindRecipe] != 1 {
		t.Fatalf("unexpected ref kinds %+v", kinds)
	}
}

func TestDetectConflictsCoversDeletions(t *testing.T) {
	id := uuid.New()
	req := &models.BatchSaveRequest{
		Deletions: []models.Deletion{{Type: models.KindPackaging, ID: id, Version: 1}},
	}

	refs := versionedRefs(req)
	if len(refs) != 1 || refs[0].Kind != models.KindPackaging {
		t.Fatalf("unexpected refs %+v", refs)
	}

	current := []store.VersionRecord{{Kind: models.KindPackaging, ID: id, Version: 4, Name: "Box"}}
	conflicts := DetectConflicts(req, current)
	if len(conflicts) != 1 {
		t.Fatalf("expected one conflict, got %+v", conflicts)
	}
	if conflicts[0].Type != models.KindPackaging || conflicts[0].CurrentVersion != 4 {
		t.Fatalf("unexpected conflict %+v", conflicts[0])
	}
}
