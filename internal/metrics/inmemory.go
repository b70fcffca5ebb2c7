package metrics

import "sync/atomic"

// Snapshot captures current in-memory counters.
type Snapshot struct {
	RecipesCreated uint64
	RecipesUpdated uint64
	RecipesDeleted uint64
}

// InMemoryRecorder keeps counters in process memory.
type InMemoryRecorder struct {
	recipesCreated uint64
	recipesUpdated uint64
	recipesDeleted uint64
}

// NewInMemory returns a Recorder that stores counters in memory.
func NewInMemory() *InMemoryRecorder {
	return &InMemoryRecorder{}
}

// Snapshot returns a copy of the counters.
func (m *InMemoryRecorder) Snapshot() Snapshot {
	return Snapshot{
		RecipesCreated: atomic.LoadUint64(&m.recipesCreated),
		RecipesUpdated: atomic.LoadUint64(&m.recipesUpdated),
		RecipesDeleted: atomic.LoadUint64(&m.recipesDeleted),
	}
}

// IncRecipeCreated increments recipe created counter.
func (m *InMemoryRecorder) IncRecipeCreated() {
	atomic.AddUint64(&m.recipesCreated, 1)
}

// IncRecipeUpdated increments recipe updated counter.
func (m *InMemoryRecorder) IncRecipeUpdated() {
	atomic.AddUint64(&m.recipesUpdated, 1)
}

// IncRecipeDeleted increments recipe deleted counter.
func (m *InMemoryRecorder) IncRecipeDeleted() {
	atomic.AddUint64(&m.recipesDeleted, 1)
}
