// Package memstore provides an in-memory recipe store for tests.
// It mirrors the repository's error contract so services can be
// exercised without PostgreSQL.
package memstore

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/recipebox/recipebox/internal/model"
	"github.com/recipebox/recipebox/internal/repository"
)

// Store is a goroutine-safe recipe store keyed by recipe ID.
type Store struct {
	mu      sync.Mutex
	recipes map[string]*model.Recipe
	order   []string
	calls   atomic.Int64

	// Err, when set, is returned from every operation to simulate an outage.
	Err error
}

// New returns an empty Store.
func New() *Store {
	return &Store{recipes: make(map[string]*model.Recipe)}
}

// Calls returns how many store operations have been invoked.
func (s *Store) Calls() int64 {
	return s.calls.Load()
}

// Len returns the number of stored recipes.
func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.recipes)
}

// CreateRecipe stores a copy of recipe.
func (s *Store) CreateRecipe(ctx context.Context, recipe *model.Recipe) error {
	s.calls.Add(1)
	if s.Err != nil {
		return s.Err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.nameTaken(recipe.Name, "") {
		return repository.ErrRecipeNameExists
	}

	stored := *recipe
	s.recipes[recipe.ID] = &stored
	s.order = append(s.order, recipe.ID)
	return nil
}

// GetRecipeByID returns a copy of the stored recipe.
func (s *Store) GetRecipeByID(ctx context.Context, id string) (*model.Recipe, error) {
	s.calls.Add(1)
	if s.Err != nil {
		return nil, s.Err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	recipe, ok := s.recipes[id]
	if !ok {
		return nil, repository.ErrRecipeNotFound
	}
	out := *recipe
	return &out, nil
}

// ListRecipesByOwner returns copies of ownerID's recipes in insertion order.
func (s *Store) ListRecipesByOwner(ctx context.Context, ownerID string) ([]*model.Recipe, error) {
	s.calls.Add(1)
	if s.Err != nil {
		return nil, s.Err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]*model.Recipe, 0)
	for _, id := range s.order {
		recipe, ok := s.recipes[id]
		if !ok || recipe.OwnerID != ownerID {
			continue
		}
		cp := *recipe
		out = append(out, &cp)
	}
	return out, nil
}

// UpdateRecipe replaces the editable fields of a stored recipe.
func (s *Store) UpdateRecipe(ctx context.Context, recipe *model.Recipe) error {
	s.calls.Add(1)
	if s.Err != nil {
		return s.Err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	existing, ok := s.recipes[recipe.ID]
	if !ok {
		return repository.ErrRecipeNotFound
	}
	if s.nameTaken(recipe.Name, recipe.ID) {
		return repository.ErrRecipeNameExists
	}

	existing.Name = recipe.Name
	existing.Ingredient = recipe.Ingredient
	existing.Step = recipe.Step
	existing.UpdatedAt = recipe.UpdatedAt
	return nil
}

// DeleteRecipe removes a recipe.
func (s *Store) DeleteRecipe(ctx context.Context, id string) error {
	s.calls.Add(1)
	if s.Err != nil {
		return s.Err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.recipes[id]; !ok {
		return repository.ErrRecipeNotFound
	}
	delete(s.recipes, id)
	for i, oid := range s.order {
		if oid == id {
			s.order = append(s.order[:i], s.order[i+1:]...)
			break
		}
	}
	return nil
}

// RecipeNameExists reports whether a recipe other than excludeID uses name.
func (s *Store) RecipeNameExists(ctx context.Context, name, excludeID string) (bool, error) {
	s.calls.Add(1)
	if s.Err != nil {
		return false, s.Err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	return s.nameTaken(name, excludeID), nil
}

func (s *Store) nameTaken(name, excludeID string) bool {
	for id, recipe := range s.recipes {
		if id != excludeID && recipe.Name == name {
			return true
		}
	}
	return false
}
