package services

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/craftcost/backend/internal/events"
	"github.com/craftcost/backend/internal/metrics"
	"github.com/craftcost/backend/internal/models"
	"github.com/craftcost/backend/internal/store"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Save states
type SaveState string

const (
	StateIdle           SaveState = "idle"
	StatePreflighting   SaveState = "preflighting"
	StateConflictsFound SaveState = "conflicts_found"
	StateValidated      SaveState = "validated"
	StateCommitting     SaveState = "committing"
	StateCommitted      SaveState = "committed"
	StateRolledBack     SaveState = "rolled_back"
)

// CommitError is the hard failure: the transaction broke mid-commit and was
// rolled back in full.
type CommitError struct {
	OperationID uuid.UUID
	Err         error
}

func (e *CommitError) Error() string {
	return fmt.Sprintf("batch %s: commit failed: %v", e.OperationID, e.Err)
}

func (e *CommitError) Unwrap() error { return e.Err }

// SaveService sequences validation, conflict detection and the atomic commit
// of one batch. One save runs at a time; the store sees at most two logical
// round trips per save: the preflight version read and the commit
// transaction.
type SaveService struct {
	store     store.Store
	audit     *AuditService
	publisher events.Publisher
	metrics   *metrics.Metrics
	log       *zap.Logger
	now       func() time.Time

	mu    sync.Mutex
	state SaveState
}

func NewSaveService(st store.Store, audit *AuditService, publisher events.Publisher, m *metrics.Metrics, log *zap.Logger) *SaveService {
	return &SaveService{
		store:     st,
		audit:     audit,
		publisher: publisher,
		metrics:   m,
		log:       log,
		now:       time.Now,
		state:     StateIdle,
	}
}

// State reports the machine's current position, for the UI's save indicator.
func (s *SaveService) State() SaveState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

func (s *SaveService) setState(st SaveState) {
	s.mu.Lock()
	s.state = st
	s.mu.Unlock()
}

// ExecuteBatchSave runs the full save flow. Validation failures and conflicts
// come back inside the result with a nil error; a mid-commit failure returns
// a *CommitError after the whole transaction has been rolled back.
func (s *SaveService) ExecuteBatchSave(ctx context.Context, req *models.BatchSaveRequest) (*models.BatchSaveResult, error) {
	start := s.now()

	opID := req.OperationID
	if opID == uuid.Nil {
		opID = uuid.New()
	}
	userID := req.AuditContext.UserID
	result := &models.BatchSaveResult{OperationID: opID}

	if req.IsEmpty() {
		result.Success = true
		t := s.now()
		result.CompletedAt = &t
		return result, nil
	}

	// Creations may arrive without ids. Assign them on the request itself so
	// validation, bulk ops and the result all see the same identity.
	assignCreationIDs(req)

	s.setState(StatePreflighting)
	defer s.setState(StateIdle)

	s.audit.LogBatchOperation(ctx, opID, userID, models.ActionBatchStart, map[string]any{
		"ingredients": len(req.Ingredients),
		"recipes":     len(req.Recipes),
		"packaging":   len(req.Packaging),
		"deletions":   len(req.Deletions),
	})
	s.publish(ctx, events.EventGlobalSaveStart, map[string]any{
		"operation_id": opID.String(),
		"items":        req.ItemCount(),
	})

	// Preflight, local half: business rules before any store access.
	if v := ValidateBatch(req); !v.Valid {
		result.Issues = v.Issues
		s.audit.LogBatchOperation(ctx, opID, userID, models.ActionBatchFailed, map[string]any{
			"reason": "validation",
			"issues": len(v.Issues),
		})
		return result, nil
	}

	// Preflight, remote half: version read, round trip 1.
	refs := versionedRefs(req)
	var current []store.VersionRecord
	if len(refs) > 0 {
		var err error
		current, err = s.store.CurrentVersions(ctx, refs)
		if err != nil {
			s.publishError(ctx, opID, err)
			s.audit.LogBatchOperation(ctx, opID, userID, models.ActionBatchFailed, map[string]any{"reason": "preflight_read"})
			return nil, fmt.Errorf("preflight version read: %w", err)
		}
	}

	if conflicts := DetectConflicts(req, current); len(conflicts) > 0 {
		if !req.ForceOverride {
			s.setState(StateConflictsFound)
			result.Conflicts = conflicts
			s.metrics.ConflictTotal.Add(float64(len(conflicts)))
			s.audit.LogBatchOperation(ctx, opID, userID, models.ActionBatchFailed, map[string]any{
				"reason":    "conflicts",
				"conflicts": len(conflicts),
			})
			s.publish(ctx, events.EventConflictDetected, map[string]any{
				"operation_id": opID.String(),
				"conflicts":    len(conflicts),
			})
			return result, nil
		}

		// Forced write: adopt the store's tokens so the commit guard lets
		// the overwrite through, and record the override.
		overrideVersions(req, current)
		s.metrics.OverrideTotal.Inc()
		s.audit.LogBatchOperation(ctx, opID, userID, models.ActionConflictOverride, map[string]any{
			"overridden": len(conflicts),
		})
		s.publish(ctx, events.EventConflictOverridden, map[string]any{
			"operation_id": opID.String(),
			"overridden":   len(conflicts),
		})
	}

	s.setState(StateValidated)

	// Cancellation is free up to this point; once commit starts the
	// transaction runs to completion either way.
	if err := ctx.Err(); err != nil {
		s.audit.LogBatchOperation(ctx, opID, userID, models.ActionBatchFailed, map[string]any{"reason": "cancelled"})
		return nil, err
	}
	commitCtx := context.WithoutCancel(ctx)

	s.setState(StateCommitting)
	txID, err := s.store.StartTransaction(commitCtx, opID)
	if err != nil {
		s.setState(StateRolledBack)
		s.publishError(commitCtx, opID, err)
		s.audit.LogBatchOperation(commitCtx, opID, userID, models.ActionBatchFailed, map[string]any{"reason": "begin"})
		return nil, &CommitError{OperationID: opID, Err: err}
	}

	results, execErr := s.executeGroups(commitCtx, txID, req)
	if execErr != nil {
		_ = s.store.RollbackTransaction(commitCtx, txID)
		s.setState(StateRolledBack)

		var stale *store.StaleVersionError
		if errors.As(execErr, &stale) {
			// The token advanced between preflight and commit. Same outcome
			// as a preflight conflict: nothing persisted.
			result.Conflicts = []models.Conflict{{
				Type:           stale.Kind,
				ID:             stale.ID,
				ClientVersion:  stale.Client,
				CurrentVersion: stale.Current,
				Name:           stale.Name,
			}}
			s.metrics.ConflictTotal.Inc()
			s.audit.LogBatchOperation(commitCtx, opID, userID, models.ActionBatchFailed, map[string]any{
				"reason":    "commit_conflict",
				"conflicts": 1,
			})
			s.publish(commitCtx, events.EventConflictDetected, map[string]any{
				"operation_id": opID.String(),
				"conflicts":    1,
			})
			return result, nil
		}

		s.publishError(commitCtx, opID, execErr)
		s.audit.LogBatchOperation(commitCtx, opID, userID, models.ActionBatchFailed, map[string]any{"reason": "commit"})
		return nil, &CommitError{OperationID: opID, Err: execErr}
	}

	if err := s.store.CommitTransaction(commitCtx, txID); err != nil {
		s.setState(StateRolledBack)
		s.publishError(commitCtx, opID, err)
		s.audit.LogBatchOperation(commitCtx, opID, userID, models.ActionBatchFailed, map[string]any{"reason": "commit"})
		return nil, &CommitError{OperationID: opID, Err: err}
	}

	s.finishResult(req, results, result)
	s.logEntityDiffs(commitCtx, opID, userID, req, result)
	s.audit.LogBatchOperation(commitCtx, opID, userID, models.ActionBatchComplete, map[string]any{
		"success":     true,
		"ingredients": len(result.SavedIngredients),
		"recipes":     len(result.SavedRecipes),
		"packaging":   len(result.SavedPackaging),
		"deleted":     len(result.Deleted),
	})

	s.setState(StateCommitted)
	latency := s.now().Sub(start)
	s.metrics.SaveLatency.Observe(float64(latency.Milliseconds()))
	s.publish(commitCtx, events.EventGlobalSaveComplete, map[string]any{
		"operation_id": opID.String(),
		"items":        req.ItemCount(),
		"latency_ms":   latency.Milliseconds(),
	})
	return result, nil
}

// executeGroups writes the three entity groups concurrently inside one store
// transaction and joins before returning; the first error wins.
func (s *SaveService) executeGroups(ctx context.Context, txID string, req *models.BatchSaveRequest) ([]store.OpResult, error) {
	groups := [][]store.BulkOperation{
		append(ingredientOps(req.Ingredients), deletionOps(req.Deletions, models.KindIngredient)...),
		append(recipeOps(req.Recipes), deletionOps(req.Deletions, models.KindRecipe)...),
		append(packagingOps(req.Packaging), deletionOps(req.Deletions, models.KindPackaging)...),
	}

	var (
		wg       sync.WaitGroup
		mu       sync.Mutex
		results  []store.OpResult
		firstErr error
	)
	for _, ops := range groups {
		if len(ops) == 0 {
			continue
		}
		wg.Add(1)
		go func(ops []store.BulkOperation) {
			defer wg.Done()
			res, err := s.store.ExecuteBulkOperations(ctx, txID, ops)
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				if firstErr == nil {
					firstErr = err
				}
				return
			}
			results = append(results, res...)
		}(ops)
	}
	wg.Wait()

	if firstErr != nil {
		return nil, firstErr
	}
	return results, nil
}

// assignCreationIDs gives every id-less entity its identity before anything
// else looks at the batch, so the id in the bulk op, the audit trail and the
// result payload is the same one.
func assignCreationIDs(req *models.BatchSaveRequest) {
	for i := range req.Ingredients {
		if req.Ingredients[i].ID == uuid.Nil {
			req.Ingredients[i].ID = uuid.New()
		}
	}
	for i := range req.Recipes {
		if req.Recipes[i].ID == uuid.Nil {
			req.Recipes[i].ID = uuid.New()
		}
	}
	for i := range req.Packaging {
		if req.Packaging[i].ID == uuid.Nil {
			req.Packaging[i].ID = uuid.New()
		}
	}
}

func ingredientOps(items []models.Ingredient) []store.BulkOperation {
	ops := make([]store.BulkOperation, 0, len(items))
	for _, ing := range items {
		op := store.OpUpdate
		if ing.Version == 0 {
			op = store.OpCreate
		}
		ops = append(ops, store.BulkOperation{
			Op:            op,
			EntityKind:    models.KindIngredient,
			EntityID:      ing.ID,
			ClientVersion: ing.Version,
			Payload:       ing,
		})
	}
	return ops
}

func recipeOps(items []models.Recipe) []store.BulkOperation {
	ops := make([]store.BulkOperation, 0, len(items))
	for _, rec := range items {
		op := store.OpUpdate
		if rec.Version == 0 {
			op = store.OpCreate
		}
		ops = append(ops, store.BulkOperation{
			Op:            op,
			EntityKind:    models.KindRecipe,
			EntityID:      rec.ID,
			ClientVersion: rec.Version,
			Payload:       rec,
		})
	}
	return ops
}

func packagingOps(items []models.Packaging) []store.BulkOperation {
	ops := make([]store.BulkOperation, 0, len(items))
	for _, pkg := range items {
		op := store.OpUpdate
		if pkg.Version == 0 {
			op = store.OpCreate
		}
		ops = append(ops, store.BulkOperation{
			Op:            op,
			EntityKind:    models.KindPackaging,
			EntityID:      pkg.ID,
			ClientVersion: pkg.Version,
			Payload:       pkg,
		})
	}
	return ops
}

func deletionOps(deletions []models.Deletion, kind string) []store.BulkOperation {
	var ops []store.BulkOperation
	for _, del := range deletions {
		if del.Type != kind {
			continue
		}
		ops = append(ops, store.BulkOperation{
			Op:            store.OpDelete,
			EntityKind:    del.Type,
			EntityID:      del.ID,
			ClientVersion: del.Version,
		})
	}
	return ops
}

// overrideVersions rewrites client tokens to the store's current view so a
// forced save passes the commit-time guard.
func overrideVersions(req *models.BatchSaveRequest, current []store.VersionRecord) {
	versions := make(map[uuid.UUID]int64, len(current))
	for _, rec := range current {
		versions[rec.ID] = rec.Version
	}
	for i := range req.Ingredients {
		if v, ok := versions[req.Ingredients[i].ID]; ok {
			req.Ingredients[i].Version = v
		}
	}
	for i := range req.Recipes {
		if v, ok := versions[req.Recipes[i].ID]; ok {
			req.Recipes[i].Version = v
		}
	}
	for i := range req.Packaging {
		if v, ok := versions[req.Packaging[i].ID]; ok {
			req.Packaging[i].Version = v
		}
	}
	for i := range req.Deletions {
		if v, ok := versions[req.Deletions[i].ID]; ok {
			req.Deletions[i].Version = v
		}
	}
}

// finishResult stamps saved entities with their new tokens.
func (s *SaveService) finishResult(req *models.BatchSaveRequest, results []store.OpResult, result *models.BatchSaveResult) {
	versions := make(map[uuid.UUID]int64, len(results))
	for _, r := range results {
		versions[r.ID] = r.Version
	}
	now := s.now()

	for _, ing := range req.Ingredients {
		if v, ok := versions[ing.ID]; ok {
			ing.Version = v
		}
		ing.UpdatedAt = now
		result.SavedIngredients = append(result.SavedIngredients, ing)
	}
	for _, rec := range req.Recipes {
		if v, ok := versions[rec.ID]; ok {
			rec.Version = v
		}
		rec.UpdatedAt = now
		result.SavedRecipes = append(result.SavedRecipes, rec)
	}
	for _, pkg := range req.Packaging {
		if v, ok := versions[pkg.ID]; ok {
			pkg.Version = v
		}
		pkg.UpdatedAt = now
		result.SavedPackaging = append(result.SavedPackaging, pkg)
	}
	for _, del := range req.Deletions {
		if v, ok := versions[del.ID]; ok {
			del.Version = v
		}
		result.Deleted = append(result.Deleted, del)
	}

	result.Success = true
	result.CompletedAt = &now
}

func (s *SaveService) logEntityDiffs(ctx context.Context, opID, userID uuid.UUID, req *models.BatchSaveRequest, result *models.BatchSaveResult) {
	priorIng := make(map[uuid.UUID]*models.Ingredient, len(req.PriorIngredients))
	for i := range req.PriorIngredients {
		priorIng[req.PriorIngredients[i].ID] = &req.PriorIngredients[i]
	}
	priorRec := make(map[uuid.UUID]*models.Recipe, len(req.PriorRecipes))
	for i := range req.PriorRecipes {
		priorRec[req.PriorRecipes[i].ID] = &req.PriorRecipes[i]
	}
	priorPkg := make(map[uuid.UUID]*models.Packaging, len(req.PriorPackaging))
	for i := range req.PriorPackaging {
		priorPkg[req.PriorPackaging[i].ID] = &req.PriorPackaging[i]
	}

	for i := range result.SavedIngredients {
		saved := &result.SavedIngredients[i]
		action := models.ActionUpdate
		if saved.Version == 1 {
			action = models.ActionCreate
		}
		s.audit.LogIngredientChange(ctx, opID, userID, action, priorIng[saved.ID], saved)
	}
	for i := range result.SavedRecipes {
		saved := &result.SavedRecipes[i]
		action := models.ActionUpdate
		if saved.Version == 1 {
			action = models.ActionCreate
		}
		s.audit.LogRecipeChange(ctx, opID, userID, action, priorRec[saved.ID], saved)
	}
	for i := range result.SavedPackaging {
		saved := &result.SavedPackaging[i]
		action := models.ActionUpdate
		if saved.Version == 1 {
			action = models.ActionCreate
		}
		s.audit.LogPackagingChange(ctx, opID, userID, action, priorPkg[saved.ID], saved)
	}
	for i := range result.Deleted {
		del := result.Deleted[i]
		s.audit.LogAction(ctx, models.AuditEntry{
			OperationID: &opID,
			UserID:      &userID,
			Action:      models.ActionDelete,
			EntityType:  del.Type,
			EntityID:    &del.ID,
			Metadata:    map[string]any{"name": del.Name},
		})
	}
}

func (s *SaveService) publish(ctx context.Context, eventType string, payload map[string]any) {
	if s.publisher == nil {
		return
	}
	_ = s.publisher.Publish(ctx, events.StreamSave, events.Event{Type: eventType, Payload: payload})
}

func (s *SaveService) publishError(ctx context.Context, opID uuid.UUID, err error) {
	s.log.Error("batch save failed", zap.String("operation_id", opID.String()), zap.Error(err))
	s.publish(ctx, events.EventGlobalSaveError, map[string]any{
		"operation_id": opID.String(),
		"error":        err.Error(),
	})
}
