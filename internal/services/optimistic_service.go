package services

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/craftcost/backend/internal/events"
	"github.com/craftcost/backend/internal/metrics"
	"github.com/craftcost/backend/internal/models"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// RestoreFunc puts one entity back to its pre-edit state during rollback.
type RestoreFunc func(ctx context.Context, item models.AffectedItem) error

// OptimisticService holds speculative edits between "user typed" and "store
// confirmed". Edits apply immediately to the caller's view; the service
// commits them through the orchestrator or rolls them back to their anchored
// originals.
type OptimisticService struct {
	save      *SaveService
	audit     *AuditService
	publisher events.Publisher
	metrics   *metrics.Metrics
	log       *zap.Logger

	mu           sync.RWMutex
	ops          map[uuid.UUID]*models.OptimisticOperation
	liveByEntity map[uuid.UUID]uuid.UUID // entity id -> operation holding its speculative value
	restore      RestoreFunc
}

func NewOptimisticService(save *SaveService, audit *AuditService, publisher events.Publisher, m *metrics.Metrics, log *zap.Logger) *OptimisticService {
	return &OptimisticService{
		save:         save,
		audit:        audit,
		publisher:    publisher,
		metrics:      m,
		log:          log,
		ops:          make(map[uuid.UUID]*models.OptimisticOperation),
		liveByEntity: make(map[uuid.UUID]uuid.UUID),
	}
}

// RegisterRestoreCallback sets the function rollback uses to put entities
// back. Typically wired to the client session's cache.
func (s *OptimisticService) RegisterRestoreCallback(fn RestoreFunc) {
	s.mu.Lock()
	s.restore = fn
	s.mu.Unlock()
}

// ApplyOptimisticUpdate records a speculative value for one entity under the
// given operation. The original anchors to the first unconfirmed edit: later
// edits to the same entity only move the optimistic value.
func (s *OptimisticService) ApplyOptimisticUpdate(userID uuid.UUID, kind string, entityID uuid.UUID, original, optimistic any, operationID uuid.UUID) error {
	if !models.IsValidKind(kind) {
		return fmt.Errorf("unknown entity kind %q", kind)
	}
	if operationID == uuid.Nil {
		return fmt.Errorf("operation id is required")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if holder, live := s.liveByEntity[entityID]; live && holder != operationID {
		return fmt.Errorf("entity %s already has a speculative edit in operation %s", entityID, holder)
	}

	op, ok := s.ops[operationID]
	if !ok {
		op = &models.OptimisticOperation{
			OperationID: operationID,
			Timestamp:   time.Now(),
			UserID:      userID,
		}
		s.ops[operationID] = op
	}

	for i := range op.AffectedItems {
		if op.AffectedItems[i].ID == entityID {
			// Original stays anchored; only the speculative value moves.
			op.AffectedItems[i].OptimisticData = optimistic
			return nil
		}
	}

	op.AffectedItems = append(op.AffectedItems, models.AffectedItem{
		Type:           kind,
		ID:             entityID,
		OriginalData:   original,
		OptimisticData: optimistic,
	})
	s.liveByEntity[entityID] = operationID
	s.metrics.PendingChanges.Set(float64(s.pendingLocked()))
	return nil
}

// PendingCount reports live speculative edits across all operations.
func (s *OptimisticService) PendingCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.pendingLocked()
}

func (s *OptimisticService) pendingLocked() int {
	n := 0
	for _, op := range s.ops {
		n += len(op.AffectedItems)
	}
	return n
}

// Operation returns a snapshot of one pending operation.
func (s *OptimisticService) Operation(operationID uuid.UUID) (models.OptimisticOperation, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	op, ok := s.ops[operationID]
	if !ok {
		return models.OptimisticOperation{}, false
	}
	snapshot := *op
	snapshot.AffectedItems = append([]models.AffectedItem(nil), op.AffectedItems...)
	return snapshot, true
}

// CommitOptimisticChanges builds a batch from the operation's speculative
// values and runs it through the orchestrator. Success clears the state;
// conflicts leave it intact for the user's refresh/override choice; a hard
// failure triggers automatic rollback.
func (s *OptimisticService) CommitOptimisticChanges(ctx context.Context, operationID uuid.UUID) (*models.BatchSaveResult, error) {
	op, ok := s.Operation(operationID)
	if !ok {
		return nil, fmt.Errorf("unknown optimistic operation %s", operationID)
	}

	req, err := s.buildRequest(&op, false)
	if err != nil {
		return nil, err
	}

	result, err := s.save.ExecuteBatchSave(ctx, req)
	if err != nil {
		report, rbErr := s.RollbackOptimisticChanges(ctx, operationID, "save failed")
		if rbErr != nil {
			s.log.Error("automatic rollback failed", zap.String("operation_id", operationID.String()), zap.Error(rbErr))
		} else if len(report.Errors) > 0 {
			s.log.Warn("automatic rollback left items unreconciled",
				zap.String("operation_id", operationID.String()),
				zap.Int("errors", len(report.Errors)),
			)
		}
		return nil, err
	}

	if result.Success {
		s.clear(operationID)
	}
	// On conflicts the speculative state stays; the caller surfaces the
	// refresh-or-override choice.
	return result, nil
}

// OverrideConflicts re-runs the save as a forced write after the user chose
// to overwrite remote changes.
func (s *OptimisticService) OverrideConflicts(ctx context.Context, operationID uuid.UUID) (*models.BatchSaveResult, error) {
	op, ok := s.Operation(operationID)
	if !ok {
		return nil, fmt.Errorf("unknown optimistic operation %s", operationID)
	}

	req, err := s.buildRequest(&op, true)
	if err != nil {
		return nil, err
	}

	result, err := s.save.ExecuteBatchSave(ctx, req)
	if err != nil {
		return nil, err
	}
	if result.Success {
		s.clear(operationID)
	}
	return result, nil
}

// RefreshConflicts discards the operation's speculative edits in favor of the
// store's state: originals are restored and the caller refetches.
func (s *OptimisticService) RefreshConflicts(ctx context.Context, operationID uuid.UUID) (*models.RollbackReport, error) {
	report, err := s.RollbackOptimisticChanges(ctx, operationID, "conflict refresh")
	if err != nil {
		return nil, err
	}
	if s.publisher != nil {
		_ = s.publisher.Publish(ctx, events.StreamSave, events.Event{
			Type:    events.EventConflictRefreshed,
			Payload: map[string]any{"operation_id": operationID.String()},
		})
	}
	return report, nil
}

// RollbackOptimisticChanges restores every affected item to its anchored
// original. Restore failures are collected per item; the rollback itself
// still completes and the operation is cleared.
func (s *OptimisticService) RollbackOptimisticChanges(ctx context.Context, operationID uuid.UUID, reason string) (*models.RollbackReport, error) {
	op, ok := s.Operation(operationID)
	if !ok {
		return nil, fmt.Errorf("unknown optimistic operation %s", operationID)
	}

	s.mu.RLock()
	restore := s.restore
	s.mu.RUnlock()

	report := &models.RollbackReport{OperationID: operationID, Reason: reason}
	for _, item := range op.AffectedItems {
		if restore == nil {
			report.Errors = append(report.Errors, models.RollbackItemError{
				Type: item.Type, ID: item.ID, Message: "no restore callback registered",
			})
			continue
		}
		if err := restore(ctx, item); err != nil {
			report.Errors = append(report.Errors, models.RollbackItemError{
				Type: item.Type, ID: item.ID, Message: err.Error(),
			})
			continue
		}
		report.Restored++
	}

	s.clear(operationID)

	s.audit.LogAction(ctx, models.AuditEntry{
		OperationID: &operationID,
		UserID:      &op.UserID,
		Action:      models.ActionRollback,
		EntityType:  "batch",
		Metadata: map[string]any{
			"reason":   reason,
			"restored": report.Restored,
			"errors":   len(report.Errors),
		},
	})
	return report, nil
}

func (s *OptimisticService) clear(operationID uuid.UUID) {
	s.mu.Lock()
	defer s.mu.Unlock()
	op, ok := s.ops[operationID]
	if !ok {
		return
	}
	for _, item := range op.AffectedItems {
		if s.liveByEntity[item.ID] == operationID {
			delete(s.liveByEntity, item.ID)
		}
	}
	delete(s.ops, operationID)
	s.metrics.PendingChanges.Set(float64(s.pendingLocked()))
}

// buildRequest turns the operation's typed speculative values into a batch
// save request, carrying originals as priors for validation and diffing.
func (s *OptimisticService) buildRequest(op *models.OptimisticOperation, force bool) (*models.BatchSaveRequest, error) {
	req := &models.BatchSaveRequest{
		OperationID:   op.OperationID,
		ForceOverride: force,
		AuditContext: models.AuditContext{
			UserID:    op.UserID,
			Operation: "global_save",
			Timestamp: time.Now(),
		},
	}

	for _, item := range op.AffectedItems {
		switch v := item.OptimisticData.(type) {
		case models.Ingredient:
			req.Ingredients = append(req.Ingredients, v)
		case models.Recipe:
			req.Recipes = append(req.Recipes, v)
		case models.Packaging:
			req.Packaging = append(req.Packaging, v)
		default:
			return nil, fmt.Errorf("entity %s: unexpected optimistic payload %T", item.ID, item.OptimisticData)
		}

		switch v := item.OriginalData.(type) {
		case nil:
			// Creation; no prior.
		case models.Ingredient:
			req.PriorIngredients = append(req.PriorIngredients, v)
		case models.Recipe:
			req.PriorRecipes = append(req.PriorRecipes, v)
		case models.Packaging:
			req.PriorPackaging = append(req.PriorPackaging, v)
		default:
			return nil, fmt.Errorf("entity %s: unexpected original payload %T", item.ID, item.OriginalData)
		}
	}
	return req, nil
}
