package handlers

import (
	"encoding/json"
	"errors"
	"time"

	"github.com/craftcost/backend/internal/http/dto"
	"github.com/craftcost/backend/internal/middleware"
	"github.com/craftcost/backend/internal/models"
	"github.com/craftcost/backend/internal/services"
	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// SaveHandler fronts the batch save flow: direct saves, speculative edits
// and the conflict resolution choices.
type SaveHandler struct {
	save       *services.SaveService
	optimistic *services.OptimisticService
	log        *zap.Logger
}

func NewSaveHandler(save *services.SaveService, optimistic *services.OptimisticService, log *zap.Logger) *SaveHandler {
	return &SaveHandler{save: save, optimistic: optimistic, log: log}
}

// ExecuteSave persists a whole batch in one go.
func (h *SaveHandler) ExecuteSave(c *fiber.Ctx) error {
	var req models.BatchSaveRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(dto.ErrorResponse{Error: "invalid request"})
	}

	req.AuditContext.UserID = middleware.GetUserID(c)
	if req.AuditContext.Operation == "" {
		req.AuditContext.Operation = "global_save"
	}
	req.AuditContext.Timestamp = time.Now()

	result, err := h.save.ExecuteBatchSave(c.Context(), &req)
	if err != nil {
		var commitErr *services.CommitError
		if errors.As(err, &commitErr) {
			h.log.Error("batch save rolled back", zap.Error(err))
			return c.Status(fiber.StatusInternalServerError).JSON(dto.ErrorResponse{
				Error: "save failed, your changes were reverted",
			})
		}
		return c.Status(fiber.StatusInternalServerError).JSON(dto.ErrorResponse{Error: "internal error"})
	}

	if !result.Success {
		// Validation issues or conflicts; both are the caller's to act on.
		return c.Status(fiber.StatusConflict).JSON(result)
	}
	return c.JSON(result)
}

// ApplyChange records one speculative edit under an operation.
func (h *SaveHandler) ApplyChange(c *fiber.Ctx) error {
	var req dto.ApplyChangeRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(dto.ErrorResponse{Error: "invalid request"})
	}

	opID, err := uuid.Parse(req.OperationID)
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(dto.ErrorResponse{Error: "invalid operation_id"})
	}
	entityID, err := uuid.Parse(req.ID)
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(dto.ErrorResponse{Error: "invalid entity id"})
	}

	optimistic, err := decodeEntity(req.Type, req.Optimistic)
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(dto.ErrorResponse{Error: err.Error()})
	}
	var original any
	if len(req.Original) > 0 && string(req.Original) != "null" {
		original, err = decodeEntity(req.Type, req.Original)
		if err != nil {
			return c.Status(fiber.StatusBadRequest).JSON(dto.ErrorResponse{Error: err.Error()})
		}
	}

	userID := middleware.GetUserID(c)
	if err := h.optimistic.ApplyOptimisticUpdate(userID, req.Type, entityID, original, optimistic, opID); err != nil {
		return c.Status(fiber.StatusConflict).JSON(dto.ErrorResponse{Error: err.Error()})
	}
	return c.JSON(dto.SuccessResponse{OK: true})
}

// CommitChanges pushes an operation's speculative edits through the save
// orchestrator.
func (h *SaveHandler) CommitChanges(c *fiber.Ctx) error {
	opID, err := uuid.Parse(c.Params("operationId"))
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(dto.ErrorResponse{Error: "invalid operation id"})
	}

	result, err := h.optimistic.CommitOptimisticChanges(c.Context(), opID)
	if err != nil {
		var commitErr *services.CommitError
		if errors.As(err, &commitErr) {
			return c.Status(fiber.StatusInternalServerError).JSON(dto.ErrorResponse{
				Error: "save failed, your changes were reverted",
			})
		}
		return c.Status(fiber.StatusBadRequest).JSON(dto.ErrorResponse{Error: err.Error()})
	}

	if !result.Success {
		return c.Status(fiber.StatusConflict).JSON(result)
	}
	return c.JSON(result)
}

// ResolveConflicts applies the user's choice after a conflicted commit.
func (h *SaveHandler) ResolveConflicts(c *fiber.Ctx) error {
	opID, err := uuid.Parse(c.Params("operationId"))
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(dto.ErrorResponse{Error: "invalid operation id"})
	}

	var req dto.ResolveConflictsRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(dto.ErrorResponse{Error: "invalid request"})
	}

	switch req.Action {
	case "refresh":
		report, err := h.optimistic.RefreshConflicts(c.Context(), opID)
		if err != nil {
			return c.Status(fiber.StatusBadRequest).JSON(dto.ErrorResponse{Error: err.Error()})
		}
		return c.JSON(dto.SuccessResponse{OK: true, Data: report})
	case "override":
		result, err := h.optimistic.OverrideConflicts(c.Context(), opID)
		if err != nil {
			return c.Status(fiber.StatusInternalServerError).JSON(dto.ErrorResponse{Error: "override failed"})
		}
		if !result.Success {
			return c.Status(fiber.StatusConflict).JSON(result)
		}
		return c.JSON(result)
	default:
		return c.Status(fiber.StatusBadRequest).JSON(dto.ErrorResponse{Error: "action must be refresh or override"})
	}
}

// RollbackChanges discards an operation's speculative edits.
func (h *SaveHandler) RollbackChanges(c *fiber.Ctx) error {
	opID, err := uuid.Parse(c.Params("operationId"))
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(dto.ErrorResponse{Error: "invalid operation id"})
	}

	var req dto.RollbackRequest
	_ = c.BodyParser(&req)
	if req.Reason == "" {
		req.Reason = "user requested"
	}

	report, err := h.optimistic.RollbackOptimisticChanges(c.Context(), opID, req.Reason)
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(dto.ErrorResponse{Error: err.Error()})
	}
	return c.JSON(dto.SuccessResponse{OK: true, Data: report})
}

// PendingChanges reports live speculative edit counts for the UI badge.
func (h *SaveHandler) PendingChanges(c *fiber.Ctx) error {
	return c.JSON(dto.PendingChangesResponse{Pending: h.optimistic.PendingCount()})
}

func decodeEntity(kind string, raw json.RawMessage) (any, error) {
	switch kind {
	case models.KindIngredient:
		var v models.Ingredient
		if err := json.Unmarshal(raw, &v); err != nil {
			return nil, errors.New("invalid ingredient payload")
		}
		return v, nil
	case models.KindRecipe:
		var v models.Recipe
		if err := json.Unmarshal(raw, &v); err != nil {
			return nil, errors.New("invalid recipe payload")
		}
		return v, nil
	case models.KindPackaging:
		var v models.Packaging
		if err := json.Unmarshal(raw, &v); err != nil {
			return nil, errors.New("invalid packaging payload")
		}
		return v, nil
	default:
		return nil, errors.New("unknown entity type")
	}
}
