package handler

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/recipebox/recipebox/internal/auth"
	"github.com/recipebox/recipebox/internal/handler/dto"
	"github.com/recipebox/recipebox/internal/model"
	"github.com/recipebox/recipebox/internal/service"
)

// RecipeHandler handles HTTP requests for recipe operations.
type RecipeHandler struct {
	svc    *service.RecipeService
	logger *slog.Logger
}

// NewRecipeHandler creates a new RecipeHandler.
func NewRecipeHandler(svc *service.RecipeService, logger *slog.Logger) *RecipeHandler {
	return &RecipeHandler{
		svc:    svc,
		logger: logger,
	}
}

// List handles GET /recipes.
func (h *RecipeHandler) List(w http.ResponseWriter, r *http.Request) {
	userID, ok := h.identity(w, r)
	if !ok {
		return
	}

	recipes, err := h.svc.ListFor(r.Context(), userID)
	if err != nil {
		h.handleServiceError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, dto.ToRecipeListResponse(recipes))
}

// Get handles GET /recipes/{id}.
func (h *RecipeHandler) Get(w http.ResponseWriter, r *http.Request) {
	userID, ok := h.identity(w, r)
	if !ok {
		return
	}

	recipe, err := h.svc.Get(r.Context(), userID, chi.URLParam(r, "id"))
	if err != nil {
		h.handleServiceError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, dto.ToRecipeResponse(recipe))
}

// Create handles POST /recipes.
func (h *RecipeHandler) Create(w http.ResponseWriter, r *http.Request) {
	userID, ok := h.identity(w, r)
	if !ok {
		return
	}

	var req dto.CreateRecipeRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	recipe, err := h.svc.Create(r.Context(), userID, req.Fields())
	if err != nil {
		h.handleServiceError(w, r, err)
		return
	}

	h.logger.Info("recipe_created",
		"recipe_id", recipe.ID,
		"owner_id", recipe.OwnerID,
		"key_id", auth.KeyIDFromContext(r.Context()),
	)

	writeJSON(w, http.StatusCreated, dto.ToRecipeResponse(recipe))
}

// Replace handles PUT /recipes/{id}.
func (h *RecipeHandler) Replace(w http.ResponseWriter, r *http.Request) {
	userID, ok := h.identity(w, r)
	if !ok {
		return
	}

	var req dto.CreateRecipeRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	recipe, err := h.svc.Replace(r.Context(), userID, chi.URLParam(r, "id"), req.Fields())
	if err != nil {
		h.handleServiceError(w, r, err)
		return
	}

	h.logger.Info("recipe_updated", "recipe_id", recipe.ID, "partial", false)

	writeJSON(w, http.StatusOK, dto.ToRecipeResponse(recipe))
}

// Patch handles PATCH /recipes/{id}.
func (h *RecipeHandler) Patch(w http.ResponseWriter, r *http.Request) {
	userID, ok := h.identity(w, r)
	if !ok {
		return
	}

	var req dto.UpdateRecipeRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	recipe, err := h.svc.Patch(r.Context(), userID, chi.URLParam(r, "id"), req.Fields())
	if err != nil {
		h.handleServiceError(w, r, err)
		return
	}

	h.logger.Info("recipe_updated", "recipe_id", recipe.ID, "partial", true)

	writeJSON(w, http.StatusOK, dto.ToRecipeResponse(recipe))
}

// Delete handles DELETE /recipes/{id}.
func (h *RecipeHandler) Delete(w http.ResponseWriter, r *http.Request) {
	userID, ok := h.identity(w, r)
	if !ok {
		return
	}

	id := chi.URLParam(r, "id")
	if err := h.svc.Delete(r.Context(), userID, id); err != nil {
		h.handleServiceError(w, r, err)
		return
	}

	h.logger.Info("recipe_deleted", "recipe_id", id)

	w.WriteHeader(http.StatusNoContent)
}

// identity returns the authenticated user or writes a 401.
// Requests are rejected here before the body is read.
func (h *RecipeHandler) identity(w http.ResponseWriter, r *http.Request) (string, bool) {
	userID := auth.UserIDFromContext(r.Context())
	if userID == "" {
		h.handleServiceError(w, r, service.ErrAuthenticationRequired)
		return "", false
	}
	return userID, true
}

// handleServiceError maps service errors to HTTP responses.
func (h *RecipeHandler) handleServiceError(w http.ResponseWriter, r *http.Request, err error) {
	var verr *model.ValidationError

	switch {
	case errors.As(err, &verr):
		writeJSON(w, http.StatusBadRequest, dto.ErrorResponse{
			Error:  "Validation failed",
			Code:   "VALIDATION_FAILED",
			Fields: verr.Fields,
		})
	case errors.Is(err, service.ErrAuthenticationRequired):
		h.writeError(w, http.StatusUnauthorized, "UNAUTHORIZED", "Authentication credentials were not provided")
	case errors.Is(err, service.ErrRecipeNotFound):
		if errors.Is(err, service.ErrPermissionDenied) {
			h.logger.Warn("recipe_access_denied",
				"recipe_id", chi.URLParam(r, "id"),
				"user_id", auth.UserIDFromContext(r.Context()),
				"method", r.Method,
			)
		}
		h.writeError(w, http.StatusNotFound, "RECIPE_NOT_FOUND", "Recipe not found")
	default:
		h.logger.Error("internal_error", "error", err, "path", r.URL.Path)
		h.writeError(w, http.StatusInternalServerError, "INTERNAL_ERROR", "An internal error occurred")
	}
}

// writeError writes an error response.
func (h *RecipeHandler) writeError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, dto.ErrorResponse{
		Error: message,
		Code:  code,
	})
}
