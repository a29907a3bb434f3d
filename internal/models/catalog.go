package models

import (
	"time"

	"github.com/google/uuid"
)

// Entity kinds
const (
	KindIngredient = "ingredient"
	KindRecipe     = "recipe"
	KindPackaging  = "packaging"
)

var AllKinds = []string{KindIngredient, KindRecipe, KindPackaging}

func IsValidKind(k string) bool {
	for _, kind := range AllKinds {
		if kind == k {
			return true
		}
	}
	return false
}

// Ingredient is a purchasable input to recipes. Version is the token from the
// client's last read or write; 0 means the entity has never been stored.
type Ingredient struct {
	ID             uuid.UUID  `json:"id"`
	Name           string     `json:"name"`
	Unit           string     `json:"unit"` // kg/l/pcs
	CostPerUnit    float64    `json:"cost_per_unit"`
	Complimentary  bool       `json:"complimentary"`
	Supplier       *string    `json:"supplier,omitempty"`
	Notes          *string    `json:"notes,omitempty"`
	Version        int64      `json:"version"`
	DeletedAt      *time.Time `json:"deleted_at,omitempty"`
	CreatedAt      time.Time  `json:"created_at"`
	UpdatedAt      time.Time  `json:"updated_at"`
}

// RecipeLine ties an ingredient into a recipe. Complimentary is denormalized
// from the ingredient at edit time so batch validation stays local.
type RecipeLine struct {
	ID             uuid.UUID `json:"id"`
	IngredientID   uuid.UUID `json:"ingredient_id"`
	IngredientName string    `json:"ingredient_name"`
	Quantity       float64   `json:"quantity"`
	Unit           string    `json:"unit"`
	Active         bool      `json:"active"`
	Complimentary  bool      `json:"complimentary"`
}

type Recipe struct {
	ID        uuid.UUID    `json:"id"`
	Name      string       `json:"name"`
	Category  *string      `json:"category,omitempty"`
	BatchSize float64      `json:"batch_size"`
	Lines     []RecipeLine `json:"lines"`
	Version   int64        `json:"version"`
	DeletedAt *time.Time   `json:"deleted_at,omitempty"`
	CreatedAt time.Time    `json:"created_at"`
	UpdatedAt time.Time    `json:"updated_at"`
}

// ActivePaidLines returns the lines that count toward the recipe's cost base.
func (r *Recipe) ActivePaidLines() []RecipeLine {
	var out []RecipeLine
	for _, l := range r.Lines {
		if l.Active && !l.Complimentary {
			out = append(out, l)
		}
	}
	return out
}

type Packaging struct {
	ID          uuid.UUID  `json:"id"`
	Name        string     `json:"name"`
	CostPerUnit float64    `json:"cost_per_unit"`
	Supplier    *string    `json:"supplier,omitempty"`
	Version     int64      `json:"version"`
	DeletedAt   *time.Time `json:"deleted_at,omitempty"`
	CreatedAt   time.Time  `json:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at"`
}

type User struct {
	ID           uuid.UUID `json:"id"`
	Email        string    `json:"email"`
	DisplayName  string    `json:"display_name"`
	Role         string    `json:"role"` // member / admin
	PasswordHash string    `json:"-"`
	CreatedAt    time.Time `json:"created_at"`
}

const (
	RoleMember = "member"
	RoleAdmin  = "admin"
)
