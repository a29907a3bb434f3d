package repositories

import (
	"context"
	"errors"
	"fmt"

	"github.com/craftcost/backend/internal/models"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

var ErrNotFound = errors.New("not found")

// CatalogRepo serves the read side: entities with their current version
// tokens, tombstones excluded. Writes go through the store transaction layer.
type CatalogRepo struct {
	pool *pgxpool.Pool
}

func NewCatalogRepo(pool *pgxpool.Pool) *CatalogRepo {
	return &CatalogRepo{pool: pool}
}

func (r *CatalogRepo) ListIngredients(ctx context.Context) ([]models.Ingredient, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT id, name, unit, cost_per_unit, complimentary, supplier, notes, version, created_at, updated_at
		FROM ingredients WHERE deleted_at IS NULL ORDER BY name
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []models.Ingredient
	for rows.Next() {
		var ing models.Ingredient
		if err := rows.Scan(&ing.ID, &ing.Name, &ing.Unit, &ing.CostPerUnit, &ing.Complimentary,
			&ing.Supplier, &ing.Notes, &ing.Version, &ing.CreatedAt, &ing.UpdatedAt); err != nil {
			return nil, err
		}
		out = append(out, ing)
	}
	return out, rows.Err()
}

func (r *CatalogRepo) GetIngredient(ctx context.Context, id uuid.UUID) (*models.Ingredient, error) {
	var ing models.Ingredient
	err := r.pool.QueryRow(ctx, `
		SELECT id, name, unit, cost_per_unit, complimentary, supplier, notes, version, created_at, updated_at
		FROM ingredients WHERE id=$1 AND deleted_at IS NULL
	`, id).Scan(&ing.ID, &ing.Name, &ing.Unit, &ing.CostPerUnit, &ing.Complimentary,
		&ing.Supplier, &ing.Notes, &ing.Version, &ing.CreatedAt, &ing.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &ing, nil
}

func (r *CatalogRepo) ListRecipes(ctx context.Context) ([]models.Recipe, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT id, name, category, batch_size, version, created_at, updated_at
		FROM recipes WHERE deleted_at IS NULL ORDER BY name
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var recipes []models.Recipe
	for rows.Next() {
		var rec models.Recipe
		if err := rows.Scan(&rec.ID, &rec.Name, &rec.Category, &rec.BatchSize,
			&rec.Version, &rec.CreatedAt, &rec.UpdatedAt); err != nil {
			return nil, err
		}
		recipes = append(recipes, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	for i := range recipes {
		lines, err := r.recipeLines(ctx, recipes[i].ID)
		if err != nil {
			return nil, err
		}
		recipes[i].Lines = lines
	}
	return recipes, nil
}

func (r *CatalogRepo) GetRecipe(ctx context.Context, id uuid.UUID) (*models.Recipe, error) {
	var rec models.Recipe
	err := r.pool.QueryRow(ctx, `
		SELECT id, name, category, batch_size, version, created_at, updated_at
		FROM recipes WHERE id=$1 AND deleted_at IS NULL
	`, id).Scan(&rec.ID, &rec.Name, &rec.Category, &rec.BatchSize, &rec.Version, &rec.CreatedAt, &rec.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	rec.Lines, err = r.recipeLines(ctx, id)
	if err != nil {
		return nil, err
	}
	return &rec, nil
}

func (r *CatalogRepo) recipeLines(ctx context.Context, recipeID uuid.UUID) ([]models.RecipeLine, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT l.id, l.ingredient_id, COALESCE(i.name, ''), l.quantity, l.unit, l.active, l.complimentary
		FROM recipe_lines l
		LEFT JOIN ingredients i ON i.id = l.ingredient_id
		WHERE l.recipe_id=$1
	`, recipeID)
	if err != nil {
		return nil, fmt.Errorf("load lines for recipe %s: %w", recipeID, err)
	}
	defer rows.Close()

	var lines []models.RecipeLine
	for rows.Next() {
		var l models.RecipeLine
		if err := rows.Scan(&l.ID, &l.IngredientID, &l.IngredientName, &l.Quantity, &l.Unit, &l.Active, &l.Complimentary); err != nil {
			return nil, err
		}
		lines = append(lines, l)
	}
	return lines, rows.Err()
}

func (r *CatalogRepo) ListPackaging(ctx context.Context) ([]models.Packaging, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT id, name, cost_per_unit, supplier, version, created_at, updated_at
		FROM packaging WHERE deleted_at IS NULL ORDER BY name
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []models.Packaging
	for rows.Next() {
		var p models.Packaging
		if err := rows.Scan(&p.ID, &p.Name, &p.CostPerUnit, &p.Supplier, &p.Version, &p.CreatedAt, &p.UpdatedAt); err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}
