package services

import (
	"github.com/craftcost/backend/internal/models"
	"github.com/craftcost/backend/internal/store"
	"github.com/google/uuid"
)

// versionedRefs lists every batch item that carries a client version token.
// Items without one are creations and are never conflict-checked.
func versionedRefs(req *models.BatchSaveRequest) []store.EntityRef {
	var refs []store.EntityRef
	for _, ing := range req.Ingredients {
		if ing.Version > 0 {
			refs = append(refs, store.EntityRef{Kind: models.KindIngredient, ID: ing.ID})
		}
	}
	for _, rec := range req.Recipes {
		if rec.Version > 0 {
			refs = append(refs, store.EntityRef{Kind: models.KindRecipe, ID: rec.ID})
		}
	}
	for _, pkg := range req.Packaging {
		if pkg.Version > 0 {
			refs = append(refs, store.EntityRef{Kind: models.KindPackaging, ID: pkg.ID})
		}
	}
	for _, del := range req.Deletions {
		if del.Version > 0 {
			refs = append(refs, store.EntityRef{Kind: del.Type, ID: del.ID})
		}
	}
	return refs
}

// DetectConflicts compares the batch's client tokens against the store's
// current view. Pure: a conflict is reported iff the stored token is strictly
// newer than the client's.
func DetectConflicts(req *models.BatchSaveRequest, current []store.VersionRecord) []models.Conflict {
	type key struct {
		kind string
		id   uuid.UUID
	}
	stored := make(map[key]store.VersionRecord, len(current))
	for _, rec := range current {
		stored[key{rec.Kind, rec.ID}] = rec
	}

	var conflicts []models.Conflict
	check := func(kind string, id uuid.UUID, clientVersion int64, name string) {
		if clientVersion <= 0 {
			return
		}
		rec, ok := stored[key{kind, id}]
		if !ok {
			return
		}
		if rec.Version > clientVersion {
			if rec.Name != "" {
				name = rec.Name
			}
			conflicts = append(conflicts, models.Conflict{
				Type:           kind,
				ID:             id,
				ClientVersion:  clientVersion,
				CurrentVersion: rec.Version,
				Name:           name,
			})
		}
	}

	for _, ing := range req.Ingredients {
		check(models.KindIngredient, ing.ID, ing.Version, ing.Name)
	}
	for _, rec := range req.Recipes {
		check(models.KindRecipe, rec.ID, rec.Version, rec.Name)
	}
	for _, pkg := range req.Packaging {
		check(models.KindPackaging, pkg.ID, pkg.Version, pkg.Name)
	}
	for _, del := range req.Deletions {
		check(del.Type, del.ID, del.Version, del.Name)
	}
	return conflicts
}
