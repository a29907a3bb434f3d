package handlers

import (
	"errors"

	"github.com/craftcost/backend/internal/http/dto"
	"github.com/craftcost/backend/internal/models"
	"github.com/craftcost/backend/internal/repositories"
	"github.com/craftcost/backend/internal/services"
	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

type CatalogHandler struct {
	catalogRepo *repositories.CatalogRepo
	pricing     *services.Pricing
	log         *zap.Logger
}

func NewCatalogHandler(catalogRepo *repositories.CatalogRepo, pricing *services.Pricing, log *zap.Logger) *CatalogHandler {
	return &CatalogHandler{catalogRepo: catalogRepo, pricing: pricing, log: log}
}

func (h *CatalogHandler) ListIngredients(c *fiber.Ctx) error {
	items, err := h.catalogRepo.ListIngredients(c.Context())
	if err != nil {
		h.log.Error("list ingredients failed", zap.Error(err))
		return c.Status(fiber.StatusInternalServerError).JSON(dto.ErrorResponse{Error: "internal error"})
	}
	return c.JSON(dto.SuccessResponse{OK: true, Data: items})
}

func (h *CatalogHandler) ListRecipes(c *fiber.Ctx) error {
	items, err := h.catalogRepo.ListRecipes(c.Context())
	if err != nil {
		h.log.Error("list recipes failed", zap.Error(err))
		return c.Status(fiber.StatusInternalServerError).JSON(dto.ErrorResponse{Error: "internal error"})
	}
	return c.JSON(dto.SuccessResponse{OK: true, Data: items})
}

func (h *CatalogHandler) ListPackaging(c *fiber.Ctx) error {
	items, err := h.catalogRepo.ListPackaging(c.Context())
	if err != nil {
		h.log.Error("list packaging failed", zap.Error(err))
		return c.Status(fiber.StatusInternalServerError).JSON(dto.ErrorResponse{Error: "internal error"})
	}
	return c.JSON(dto.SuccessResponse{OK: true, Data: items})
}

// PreviewRecipeCost computes cost and suggested price for one recipe at the
// configured target margin.
func (h *CatalogHandler) PreviewRecipeCost(c *fiber.Ctx) error {
	id, err := uuid.Parse(c.Params("id"))
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(dto.ErrorResponse{Error: "invalid recipe id"})
	}

	rec, err := h.catalogRepo.GetRecipe(c.Context(), id)
	if err != nil {
		if errors.Is(err, repositories.ErrNotFound) {
			return c.Status(fiber.StatusNotFound).JSON(dto.ErrorResponse{Error: "recipe not found"})
		}
		h.log.Error("get recipe failed", zap.Error(err))
		return c.Status(fiber.StatusInternalServerError).JSON(dto.ErrorResponse{Error: "internal error"})
	}

	ingredients, err := h.catalogRepo.ListIngredients(c.Context())
	if err != nil {
		h.log.Error("list ingredients failed", zap.Error(err))
		return c.Status(fiber.StatusInternalServerError).JSON(dto.ErrorResponse{Error: "internal error"})
	}
	index := make(map[uuid.UUID]models.Ingredient, len(ingredients))
	for _, ing := range ingredients {
		index[ing.ID] = ing
	}

	preview, err := h.pricing.Preview(rec, index)
	if err != nil {
		return c.Status(fiber.StatusUnprocessableEntity).JSON(dto.ErrorResponse{Error: err.Error()})
	}
	return c.JSON(dto.SuccessResponse{OK: true, Data: preview})
}
