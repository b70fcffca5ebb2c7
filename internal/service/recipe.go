// Package service provides business logic for the application.
package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/recipebox/recipebox/internal/metrics"
	"github.com/recipebox/recipebox/internal/model"
	"github.com/recipebox/recipebox/internal/repository"
)

// Service errors.
var (
	ErrAuthenticationRequired = errors.New("authentication required")
	ErrRecipeNotFound         = errors.New("recipe not found")
	// ErrPermissionDenied is always wrapped together with ErrRecipeNotFound
	// so other users' recipes look exactly like missing ones.
	ErrPermissionDenied = errors.New("recipe belongs to another user")
)

// Validation messages.
const (
	msgRequired   = "This field is required."
	msgNameExists = "recipe with this name already exists."
)

// RecipeStore is the persistence contract the service relies on.
// *repository.Repository satisfies it.
type RecipeStore interface {
	CreateRecipe(ctx context.Context, recipe *model.Recipe) error
	GetRecipeByID(ctx context.Context, id string) (*model.Recipe, error)
	ListRecipesByOwner(ctx context.Context, ownerID string) ([]*model.Recipe, error)
	UpdateRecipe(ctx context.Context, recipe *model.Recipe) error
	DeleteRecipe(ctx context.Context, id string) error
	RecipeNameExists(ctx context.Context, name, excludeID string) (bool, error)
}

// RecipeService scopes every recipe operation to an owner.
// The owner is always passed explicitly; nothing is read from the request.
type RecipeService struct {
	store   RecipeStore
	metrics metrics.Recorder
	now     func() time.Time
}

// NewRecipeService creates a new RecipeService.
func NewRecipeService(store RecipeStore, recorder metrics.Recorder) *RecipeService {
	if recorder == nil {
		recorder = metrics.NewNoop()
	}
	return &RecipeService{
		store:   store,
		metrics: recorder,
		now:     func() time.Time { return time.Now().UTC().Truncate(time.Microsecond) },
	}
}

// ListFor returns exactly the recipes owned by ownerID, in insertion order.
func (s *RecipeService) ListFor(ctx context.Context, ownerID string) ([]*model.Recipe, error) {
	if ownerID == "" {
		return nil, ErrAuthenticationRequired
	}

	recipes, err := s.store.ListRecipesByOwner(ctx, ownerID)
	if err != nil {
		return nil, fmt.Errorf("failed to list recipes: %w", err)
	}

	// The store filters by owner already; this keeps the guarantee local.
	owned := recipes[:0]
	for _, recipe := range recipes {
		if recipe.IsOwnedBy(ownerID) {
			owned = append(owned, recipe)
		}
	}

	return owned, nil
}

// AuthorizeWrite reports whether ownerID may modify recipe.
func (s *RecipeService) AuthorizeWrite(ownerID string, recipe *model.Recipe) bool {
	return recipe != nil && recipe.IsOwnedBy(ownerID)
}

// Get retrieves one of ownerID's recipes.
func (s *RecipeService) Get(ctx context.Context, ownerID, id string) (*model.Recipe, error) {
	if ownerID == "" {
		return nil, ErrAuthenticationRequired
	}
	return s.getOwned(ctx, ownerID, id)
}

// Create validates and stores a new recipe owned by ownerID.
// All three text fields are required.
func (s *RecipeService) Create(ctx context.Context, ownerID string, fields model.RecipeFields) (*model.Recipe, error) {
	if ownerID == "" {
		return nil, ErrAuthenticationRequired
	}

	now := s.now()
	recipe := &model.Recipe{
		ID:        ulid.Make().String(),
		OwnerID:   ownerID,
		CreatedAt: now,
		UpdatedAt: now,
	}
	fields.Apply(recipe)

	if err := s.validate(ctx, recipe, requiredFields(fields), true); err != nil {
		return nil, err
	}

	if err := s.store.CreateRecipe(ctx, recipe); err != nil {
		return nil, s.translateStoreError(err, "create")
	}

	s.metrics.IncRecipeCreated()

	return recipe, nil
}

// Replace overwrites every editable field of one of ownerID's recipes.
func (s *RecipeService) Replace(ctx context.Context, ownerID, id string, fields model.RecipeFields) (*model.Recipe, error) {
	if ownerID == "" {
		return nil, ErrAuthenticationRequired
	}

	recipe, err := s.getOwned(ctx, ownerID, id)
	if err != nil {
		return nil, err
	}

	fields.Apply(recipe)
	if err := s.validate(ctx, recipe, requiredFields(fields), true); err != nil {
		return nil, err
	}

	return s.update(ctx, recipe)
}

// Patch updates only the fields that are set.
func (s *RecipeService) Patch(ctx context.Context, ownerID, id string, fields model.RecipeFields) (*model.Recipe, error) {
	if ownerID == "" {
		return nil, ErrAuthenticationRequired
	}

	recipe, err := s.getOwned(ctx, ownerID, id)
	if err != nil {
		return nil, err
	}

	if fields.IsEmpty() {
		return recipe, nil
	}

	fields.Apply(recipe)
	if err := s.validate(ctx, recipe, nil, fields.Name != nil); err != nil {
		return nil, err
	}

	return s.update(ctx, recipe)
}

// Delete removes one of ownerID's recipes.
func (s *RecipeService) Delete(ctx context.Context, ownerID, id string) error {
	if ownerID == "" {
		return ErrAuthenticationRequired
	}

	if _, err := s.getOwned(ctx, ownerID, id); err != nil {
		return err
	}

	if err := s.store.DeleteRecipe(ctx, id); err != nil {
		return s.translateStoreError(err, "delete")
	}

	s.metrics.IncRecipeDeleted()

	return nil
}

func (s *RecipeService) update(ctx context.Context, recipe *model.Recipe) (*model.Recipe, error) {
	recipe.UpdatedAt = s.now()

	if err := s.store.UpdateRecipe(ctx, recipe); err != nil {
		return nil, s.translateStoreError(err, "update")
	}

	s.metrics.IncRecipeUpdated()

	return recipe, nil
}

// getOwned loads a recipe and applies the ownership check.
// A foreign recipe is reported as not found.
func (s *RecipeService) getOwned(ctx context.Context, ownerID, id string) (*model.Recipe, error) {
	if id == "" {
		return nil, ErrRecipeNotFound
	}

	recipe, err := s.store.GetRecipeByID(ctx, id)
	if err != nil {
		return nil, s.translateStoreError(err, "get")
	}

	if !s.AuthorizeWrite(ownerID, recipe) {
		return nil, fmt.Errorf("%w: %w", ErrRecipeNotFound, ErrPermissionDenied)
	}

	return recipe, nil
}

// validate runs field checks first and the name uniqueness check second.
// missing lists fields absent from the request; checkName skips the
// uniqueness lookup when the name did not change.
func (s *RecipeService) validate(ctx context.Context, recipe *model.Recipe, missing []string, checkName bool) error {
	verr := &model.ValidationError{}
	for _, field := range missing {
		verr.Add(field, msgRequired)
	}

	var fieldErr *model.ValidationError
	if err := recipe.Validate(); errors.As(err, &fieldErr) {
		for field, messages := range fieldErr.Fields {
			if _, reported := verr.Fields[field]; reported {
				continue
			}
			for _, msg := range messages {
				verr.Add(field, msg)
			}
		}
	}

	if verr.HasErrors() {
		return verr
	}

	if !checkName {
		return nil
	}

	exists, err := s.store.RecipeNameExists(ctx, recipe.Name, recipe.ID)
	if err != nil {
		return fmt.Errorf("failed to check recipe name: %w", err)
	}
	if exists {
		return model.NewValidationError(model.FieldName, msgNameExists)
	}

	return nil
}

// translateStoreError maps repository errors onto service errors.
func (s *RecipeService) translateStoreError(err error, op string) error {
	switch {
	case errors.Is(err, repository.ErrRecipeNotFound):
		return ErrRecipeNotFound
	case errors.Is(err, repository.ErrRecipeNameExists):
		// Lost a race against a concurrent create or rename.
		return model.NewValidationError(model.FieldName, msgNameExists)
	case errors.Is(err, repository.ErrOwnerNotFound):
		return ErrAuthenticationRequired
	default:
		return fmt.Errorf("failed to %s recipe: %w", op, err)
	}
}

// requiredFields lists the text fields a full write left unset.
func requiredFields(fields model.RecipeFields) []string {
	var missing []string
	if fields.Name == nil {
		missing = append(missing, model.FieldName)
	}
	if fields.Ingredient == nil {
		missing = append(missing, model.FieldIngredient)
	}
	if fields.Step == nil {
		missing = append(missing, model.FieldStep)
	}
	return missing
}
