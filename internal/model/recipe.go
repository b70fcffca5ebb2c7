package model

import (
	"fmt"
	"sort"
	"strings"
	"time"
	"unicode/utf8"

	"golang.org/x/text/unicode/norm"
)

// Field length limits for recipes, counted in characters.
const (
	MaxRecipeNameLength       = 20
	MaxRecipeIngredientLength = 200
	MaxRecipeStepLength       = 1000
)

// Field names used in validation errors and wire payloads.
const (
	FieldName       = "name"
	FieldIngredient = "ingredient"
	FieldStep       = "step"
	FieldOwner      = "owner"
)

// Recipe represents a named recipe owned by a single user.
type Recipe struct {
	ID         string    `json:"id"`
	Name       string    `json:"name"`
	Ingredient string    `json:"ingredient"`
	Step       string    `json:"step"`
	OwnerID    string    `json:"owner"`
	CreatedAt  time.Time `json:"created_at"`
	UpdatedAt  time.Time `json:"updated_at"`
}

// Validate checks field-level invariants.
// It must be called before the recipe is handed to storage.
func (r *Recipe) Validate() error {
	verr := &ValidationError{}

	checkText(verr, FieldName, r.Name, MaxRecipeNameLength)
	checkText(verr, FieldIngredient, r.Ingredient, MaxRecipeIngredientLength)
	checkText(verr, FieldStep, r.Step, MaxRecipeStepLength)

	if r.OwnerID == "" {
		verr.Add(FieldOwner, "This field is required.")
	}

	if verr.HasErrors() {
		return verr
	}
	return nil
}

// IsOwnedBy reports whether the recipe belongs to the given user.
func (r *Recipe) IsOwnedBy(userID string) bool {
	return userID != "" && r.OwnerID == userID
}

func checkText(verr *ValidationError, field, value string, maxLen int) {
	if value == "" {
		verr.Add(field, "This field may not be blank.")
		return
	}
	if strings.ContainsRune(value, 0) {
		verr.Add(field, "Null characters are not allowed.")
	}
	if utf8.RuneCountInString(value) > maxLen {
		verr.Add(field, fmt.Sprintf("Ensure this field has no more than %d characters.", maxLen))
	}
}

// RecipeFields holds a subset of client-writable recipe fields.
// Nil pointers mean "leave unchanged".
type RecipeFields struct {
	Name       *string
	Ingredient *string
	Step       *string
}

// IsEmpty returns true if no field is set.
func (f RecipeFields) IsEmpty() bool {
	return f.Name == nil && f.Ingredient == nil && f.Step == nil
}

// Apply copies the set fields onto the recipe in Unicode NFC with leading
// and trailing whitespace removed, so a name typed with combining marks or
// stray spaces counts and compares like its clean form.
// Owner and ID are never touched.
func (f RecipeFields) Apply(r *Recipe) {
	if f.Name != nil {
		r.Name = cleanText(*f.Name)
	}
	if f.Ingredient != nil {
		r.Ingredient = cleanText(*f.Ingredient)
	}
	if f.Step != nil {
		r.Step = cleanText(*f.Step)
	}
}

func cleanText(s string) string {
	return strings.TrimSpace(norm.NFC.String(s))
}

// ValidationError lists the offending fields of a rejected write.
type ValidationError struct {
	Fields map[string][]string
}

// NewValidationError creates a ValidationError with a single field message.
func NewValidationError(field, message string) *ValidationError {
	verr := &ValidationError{}
	verr.Add(field, message)
	return verr
}

// Add records a message for a field.
func (e *ValidationError) Add(field, message string) {
	if e.Fields == nil {
		e.Fields = make(map[string][]string)
	}
	e.Fields[field] = append(e.Fields[field], message)
}

// HasErrors returns true if any field failed.
func (e *ValidationError) HasErrors() bool {
	return len(e.Fields) > 0
}

// FieldNames returns the offending field names in sorted order.
func (e *ValidationError) FieldNames() []string {
	names := make([]string, 0, len(e.Fields))
	for name := range e.Fields {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func (e *ValidationError) Error() string {
	return "validation failed: " + strings.Join(e.FieldNames(), ", ")
}
