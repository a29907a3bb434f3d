package services

import (
	"fmt"

	"github.com/craftcost/backend/internal/models"
	"github.com/google/uuid"
)

// Pricing previews recipe cost and a suggested price at the configured
// target margin. Pure and stateless; the margin is configuration, not a
// constant.
type Pricing struct {
	targetMarginPct float64
}

func NewPricing(targetMarginPct float64) *Pricing {
	return &Pricing{targetMarginPct: targetMarginPct}
}

// RecipeCost sums the active lines against the ingredient index.
// Complimentary lines contribute nothing.
func (p *Pricing) RecipeCost(rec *models.Recipe, ingredients map[uuid.UUID]models.Ingredient) (float64, error) {
	var total float64
	for _, line := range rec.Lines {
		if !line.Active || line.Complimentary {
			continue
		}
		ing, ok := ingredients[line.IngredientID]
		if !ok {
			return 0, fmt.Errorf("recipe %q: unknown ingredient %s", rec.Name, line.IngredientID)
		}
		total += line.Quantity * ing.CostPerUnit
	}
	return total, nil
}

// SuggestedPrice marks the cost up to hit the target margin.
func (p *Pricing) SuggestedPrice(cost float64) float64 {
	if p.targetMarginPct <= 0 || p.targetMarginPct >= 100 {
		return cost
	}
	return cost / (1 - p.targetMarginPct/100)
}

type CostPreview struct {
	Cost            float64 `json:"cost"`
	SuggestedPrice  float64 `json:"suggested_price"`
	TargetMarginPct float64 `json:"target_margin_pct"`
}

func (p *Pricing) Preview(rec *models.Recipe, ingredients map[uuid.UUID]models.Ingredient) (*CostPreview, error) {
	cost, err := p.RecipeCost(rec, ingredients)
	if err != nil {
		return nil, err
	}
	return &CostPreview{
		Cost:            cost,
		SuggestedPrice:  p.SuggestedPrice(cost),
		TargetMarginPct: p.targetMarginPct,
	}, nil
}
