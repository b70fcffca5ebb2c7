package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/recipebox/recipebox/internal/model"
)

// Common errors for recipe repository operations.
var (
	ErrRecipeNotFound   = errors.New("recipe not found")
	ErrRecipeNameExists = errors.New("recipe name already exists")
	ErrOwnerNotFound    = errors.New("recipe owner does not exist")
)

// recipeNameConstraint is the unique constraint on recipes.name.
const recipeNameConstraint = "recipes_name_key"

const recipeColumns = `id, name, ingredient, step, owner_id, created_at, updated_at`

// CreateRecipe inserts a new recipe into the database.
func (r *Repository) CreateRecipe(ctx context.Context, recipe *model.Recipe) error {
	query := `
		INSERT INTO recipes (id, name, ingredient, step, owner_id, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`

	_, err := r.pool.Exec(ctx, query,
		recipe.ID,
		recipe.Name,
		recipe.Ingredient,
		recipe.Step,
		recipe.OwnerID,
		recipe.CreatedAt,
		recipe.UpdatedAt,
	)

	if err != nil {
		if isUniqueViolation(err, recipeNameConstraint) {
			return ErrRecipeNameExists
		}
		if isForeignKeyViolation(err) {
			return ErrOwnerNotFound
		}
		return fmt.Errorf("failed to create recipe: %w", err)
	}

	return nil
}

// GetRecipeByID retrieves a recipe by its ID regardless of owner.
func (r *Repository) GetRecipeByID(ctx context.Context, id string) (*model.Recipe, error) {
	query := `SELECT ` + recipeColumns + ` FROM recipes WHERE id = $1`

	recipe, err := scanRecipe(r.pool.QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrRecipeNotFound
		}
		return nil, fmt.Errorf("failed to get recipe by ID: %w", err)
	}

	return recipe, nil
}

// ListRecipesByOwner returns every recipe owned by ownerID in insertion order.
func (r *Repository) ListRecipesByOwner(ctx context.Context, ownerID string) ([]*model.Recipe, error) {
	query := `
		SELECT ` + recipeColumns + `
		FROM recipes
		WHERE owner_id = $1
		ORDER BY created_at, id
	`

	rows, err := r.pool.Query(ctx, query, ownerID)
	if err != nil {
		return nil, fmt.Errorf("failed to list recipes: %w", err)
	}

	recipes, err := collect(rows, scanRecipe)
	if err != nil {
		return nil, fmt.Errorf("failed to list recipes: %w", err)
	}

	return recipes, nil
}

// UpdateRecipe writes the client-editable fields of a recipe.
// owner_id is never modified.
func (r *Repository) UpdateRecipe(ctx context.Context, recipe *model.Recipe) error {
	query := `
		UPDATE recipes
		SET name = $2, ingredient = $3, step = $4, updated_at = $5
		WHERE id = $1
	`

	result, err := r.pool.Exec(ctx, query,
		recipe.ID,
		recipe.Name,
		recipe.Ingredient,
		recipe.Step,
		recipe.UpdatedAt,
	)

	if err != nil {
		if isUniqueViolation(err, recipeNameConstraint) {
			return ErrRecipeNameExists
		}
		return fmt.Errorf("failed to update recipe: %w", err)
	}

	if result.RowsAffected() == 0 {
		return ErrRecipeNotFound
	}

	return nil
}

// DeleteRecipe permanently removes a recipe.
func (r *Repository) DeleteRecipe(ctx context.Context, id string) error {
	result, err := r.pool.Exec(ctx, `DELETE FROM recipes WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("failed to delete recipe: %w", err)
	}

	if result.RowsAffected() == 0 {
		return ErrRecipeNotFound
	}

	return nil
}

// RecipeNameExists checks whether another recipe already uses name.
// excludeID skips the recipe being updated; pass "" on create.
func (r *Repository) RecipeNameExists(ctx context.Context, name, excludeID string) (bool, error) {
	query := `SELECT EXISTS(SELECT 1 FROM recipes WHERE name = $1 AND id <> $2)`

	var exists bool
	if err := r.pool.QueryRow(ctx, query, name, excludeID).Scan(&exists); err != nil {
		return false, fmt.Errorf("failed to check recipe name existence: %w", err)
	}

	return exists, nil
}

// scanRecipe scans a single row into a Recipe model.
func scanRecipe(row pgx.Row) (*model.Recipe, error) {
	var recipe model.Recipe
	err := row.Scan(
		&recipe.ID,
		&recipe.Name,
		&recipe.Ingredient,
		&recipe.Step,
		&recipe.OwnerID,
		&recipe.CreatedAt,
		&recipe.UpdatedAt,
	)
	return &recipe, err
}
