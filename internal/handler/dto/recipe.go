// Package dto provides Data Transfer Objects for API requests and responses.
package dto

import (
	"time"

	"github.com/recipebox/recipebox/internal/model"
)

// CreateRecipeRequest represents the request body for creating or replacing a recipe.
// Pointer fields distinguish an omitted field from an empty one.
type CreateRecipeRequest struct {
	Name       *string `json:"name"`
	Ingredient *string `json:"ingredient"`
	Step       *string `json:"step"`
}

// UpdateRecipeRequest represents the request body for partially updating a recipe.
type UpdateRecipeRequest struct {
	Name       *string `json:"name,omitempty"`
	Ingredient *string `json:"ingredient,omitempty"`
	Step       *string `json:"step,omitempty"`
}

// Fields converts the request into model fields.
func (r CreateRecipeRequest) Fields() model.RecipeFields {
	return model.RecipeFields{Name: r.Name, Ingredient: r.Ingredient, Step: r.Step}
}

// Fields converts the request into model fields.
func (r UpdateRecipeRequest) Fields() model.RecipeFields {
	return model.RecipeFields{Name: r.Name, Ingredient: r.Ingredient, Step: r.Step}
}

// RecipeResponse represents a recipe in API responses.
type RecipeResponse struct {
	ID         string    `json:"id"`
	Name       string    `json:"name"`
	Ingredient string    `json:"ingredient"`
	Step       string    `json:"step"`
	Owner      string    `json:"owner"`
	CreatedAt  time.Time `json:"created_at"`
	UpdatedAt  time.Time `json:"updated_at"`
}

// ErrorResponse represents an API error.
type ErrorResponse struct {
	Error  string              `json:"error"`
	Code   string              `json:"code"`
	Fields map[string][]string `json:"fields,omitempty"`
}

// ToRecipeResponse converts a Recipe model to RecipeResponse DTO.
func ToRecipeResponse(recipe *model.Recipe) *RecipeResponse {
	return &RecipeResponse{
		ID:         recipe.ID,
		Name:       recipe.Name,
		Ingredient: recipe.Ingredient,
		Step:       recipe.Step,
		Owner:      recipe.OwnerID,
		CreatedAt:  recipe.CreatedAt,
		UpdatedAt:  recipe.UpdatedAt,
	}
}

// ToRecipeListResponse converts recipes to a JSON array. An empty list
// encodes as [] rather than null.
func ToRecipeListResponse(recipes []*model.Recipe) []RecipeResponse {
	responses := make([]RecipeResponse, len(recipes))
	for i, recipe := range recipes {
		responses[i] = *ToRecipeResponse(recipe)
	}
	return responses
}
