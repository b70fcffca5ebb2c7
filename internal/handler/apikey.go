package handler

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"slices"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/go-chi/chi/v5"
	"github.com/oklog/ulid/v2"

	"github.com/recipebox/recipebox/internal/auth"
	"github.com/recipebox/recipebox/internal/handler/dto"
	"github.com/recipebox/recipebox/internal/model"
	"github.com/recipebox/recipebox/internal/repository"
)

const maxAPIKeyNameLength = 100

// APIKeyStore persists API keys. *repository.Repository satisfies it.
type APIKeyStore interface {
	CreateAPIKey(ctx context.Context, key *model.APIKey) error
	GetAPIKeyByID(ctx context.Context, id string) (*model.APIKey, error)
	ListAPIKeysByUserID(ctx context.Context, userID string) ([]*model.APIKey, error)
	RevokeAPIKey(ctx context.Context, id string) error
}

// AuthInvalidator drops cached identities for a key. *cache.Cache satisfies it.
type AuthInvalidator interface {
	InvalidateAPIKey(ctx context.Context, keyID string) error
}

// APIKeyHandler lets a user manage their own API keys.
// Keys of other users are reported as not found.
type APIKeyHandler struct {
	store       APIKeyStore
	invalidator AuthInvalidator
	keyEnv      string
	logger      *slog.Logger
	now         func() time.Time
}

// NewAPIKeyHandler creates a new APIKeyHandler. keyEnv is auth.EnvLive or
// auth.EnvTest and is embedded in every issued key.
func NewAPIKeyHandler(store APIKeyStore, invalidator AuthInvalidator, keyEnv string, logger *slog.Logger) *APIKeyHandler {
	return &APIKeyHandler{
		store:       store,
		invalidator: invalidator,
		keyEnv:      keyEnv,
		logger:      logger,
		now:         func() time.Time { return time.Now().UTC() },
	}
}

// List handles GET /api-keys.
func (h *APIKeyHandler) List(w http.ResponseWriter, r *http.Request) {
	caller, ok := h.caller(w, r)
	if !ok {
		return
	}

	keys, err := h.store.ListAPIKeysByUserID(r.Context(), caller.UserID)
	if err != nil {
		h.internalError(w, r, "list api keys", err)
		return
	}

	writeJSON(w, http.StatusOK, dto.ToAPIKeyListResponse(keys))
}

// Create handles POST /api-keys.
func (h *APIKeyHandler) Create(w http.ResponseWriter, r *http.Request) {
	caller, ok := h.caller(w, r)
	if !ok {
		return
	}

	var req dto.CreateAPIKeyRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	scopes, verr := validateKeyRequest(caller, &req)
	if verr != nil {
		writeJSON(w, http.StatusBadRequest, dto.ErrorResponse{
			Error:  "Validation failed",
			Code:   "VALIDATION_FAILED",
			Fields: verr.Fields,
		})
		return
	}

	created, err := h.issue(r.Context(), caller.UserID, strings.TrimSpace(req.Name), scopes, caller.RateLimitTier)
	if err != nil {
		h.internalError(w, r, "create api key", err)
		return
	}

	h.logger.Info("api_key_created",
		"key_id", created.ID,
		"key_prefix", created.KeyPrefix,
		"user_id", caller.UserID,
		"scopes", strings.Join(created.Scopes, ","),
	)

	writeJSON(w, http.StatusCreated, created)
}

// Revoke handles DELETE /api-keys/{id}.
func (h *APIKeyHandler) Revoke(w http.ResponseWriter, r *http.Request) {
	caller, ok := h.caller(w, r)
	if !ok {
		return
	}

	key, ok := h.ownedActiveKey(w, r, caller)
	if !ok {
		return
	}

	if err := h.revoke(r.Context(), key.ID); err != nil {
		if errors.Is(err, repository.ErrAPIKeyNotFound) {
			h.writeError(w, http.StatusNotFound, "KEY_NOT_FOUND", "API key not found")
			return
		}
		h.internalError(w, r, "revoke api key", err)
		return
	}

	h.logger.Info("api_key_revoked", "key_id", key.ID, "user_id", caller.UserID)

	w.WriteHeader(http.StatusNoContent)
}

// Rotate handles POST /api-keys/{id}/rotate. The replacement keeps the
// name, scopes and tier of the old key, which is revoked.
func (h *APIKeyHandler) Rotate(w http.ResponseWriter, r *http.Request) {
	caller, ok := h.caller(w, r)
	if !ok {
		return
	}

	old, ok := h.ownedActiveKey(w, r, caller)
	if !ok {
		return
	}

	// Issue first so a failure never leaves the user without a key.
	created, err := h.issue(r.Context(), old.UserID, old.Name, old.Scopes, old.RateLimitTier)
	if err != nil {
		h.internalError(w, r, "rotate api key", err)
		return
	}

	if err := h.revoke(r.Context(), old.ID); err != nil && !errors.Is(err, repository.ErrAPIKeyNotFound) {
		h.logger.Error("failed to revoke old api key during rotation",
			"error", err,
			"old_key_id", old.ID,
			"new_key_id", created.ID,
		)
	}

	h.logger.Info("api_key_rotated",
		"old_key_id", old.ID,
		"new_key_id", created.ID,
		"user_id", caller.UserID,
	)

	writeJSON(w, http.StatusCreated, dto.RotateAPIKeyResponse{
		RevokedKeyID: old.ID,
		NewKey:       *created,
	})
}

func (h *APIKeyHandler) issue(ctx context.Context, userID, name string, scopes []string, tier string) (*dto.CreatedAPIKeyResponse, error) {
	generated, err := auth.GenerateAPIKey(h.keyEnv)
	if err != nil {
		return nil, err
	}

	if !model.IsValidTier(tier) {
		tier = model.TierFree
	}

	key := &model.APIKey{
		ID:            ulid.Make().String(),
		UserID:        userID,
		KeyHash:       generated.Hash,
		KeyPrefix:     generated.Prefix,
		Scopes:        scopes,
		RateLimitTier: tier,
		Name:          name,
		CreatedAt:     h.now(),
	}
	if err := h.store.CreateAPIKey(ctx, key); err != nil {
		return nil, err
	}

	return &dto.CreatedAPIKeyResponse{
		APIKeyResponse: dto.ToAPIKeyResponse(key),
		Key:            generated.Plaintext,
	}, nil
}

// revoke marks the key revoked and drops its cached identities. A cache
// failure is logged; the entry still expires with its TTL.
func (h *APIKeyHandler) revoke(ctx context.Context, keyID string) error {
	if err := h.store.RevokeAPIKey(ctx, keyID); err != nil {
		return err
	}
	if err := h.invalidator.InvalidateAPIKey(ctx, keyID); err != nil {
		h.logger.Warn("failed to invalidate cached auth context", "error", err, "key_id", keyID)
	}
	return nil
}

// ownedActiveKey loads the key named in the URL, writing a 404 when it is
// missing, revoked, or owned by someone else.
func (h *APIKeyHandler) ownedActiveKey(w http.ResponseWriter, r *http.Request, caller *model.AuthContext) (*model.APIKey, bool) {
	keyID := chi.URLParam(r, "id")

	key, err := h.store.GetAPIKeyByID(r.Context(), keyID)
	if err != nil && !errors.Is(err, repository.ErrAPIKeyNotFound) {
		h.internalError(w, r, "get api key", err)
		return nil, false
	}
	if err != nil || key.UserID != caller.UserID || key.IsRevoked() {
		if key != nil && key.UserID != caller.UserID {
			h.logger.Warn("api_key_access_denied", "key_id", keyID, "user_id", caller.UserID)
		}
		h.writeError(w, http.StatusNotFound, "KEY_NOT_FOUND", "API key not found")
		return nil, false
	}
	return key, true
}

func (h *APIKeyHandler) caller(w http.ResponseWriter, r *http.Request) (*model.AuthContext, bool) {
	caller := auth.AuthFromContext(r.Context())
	if caller == nil || caller.UserID == "" {
		h.writeError(w, http.StatusUnauthorized, "UNAUTHORIZED", "Authentication credentials were not provided")
		return nil, false
	}
	return caller, true
}

func (h *APIKeyHandler) internalError(w http.ResponseWriter, r *http.Request, op string, err error) {
	h.logger.Error("internal_error", "op", op, "error", err, "path", r.URL.Path)
	h.writeError(w, http.StatusInternalServerError, "INTERNAL_ERROR", "An internal error occurred")
}

func (h *APIKeyHandler) writeError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, dto.ErrorResponse{Error: message, Code: code})
}

// validateKeyRequest normalizes the requested scopes. A key can never be
// granted a scope its creator lacks. No scopes means read only.
func validateKeyRequest(caller *model.AuthContext, req *dto.CreateAPIKeyRequest) ([]string, *model.ValidationError) {
	var verr *model.ValidationError
	add := func(field, msg string) {
		if verr == nil {
			verr = model.NewValidationError(field, msg)
			return
		}
		verr.Add(field, msg)
	}

	if utf8.RuneCountInString(strings.TrimSpace(req.Name)) > maxAPIKeyNameLength {
		add("name", "Ensure this field has no more than 100 characters.")
	}

	scopes := make([]string, 0, len(req.Scopes))
	for _, scope := range req.Scopes {
		switch {
		case !model.IsValidScope(scope):
			add("scopes", `"`+scope+`" is not a valid scope.`)
		case !caller.HasScope(scope):
			add("scopes", `scope "`+scope+`" exceeds the permissions of the calling key.`)
		case !slices.Contains(scopes, scope):
			scopes = append(scopes, scope)
		}
	}
	if len(req.Scopes) == 0 {
		scopes = append(scopes, model.ScopeRead)
	}

	if verr != nil {
		return nil, verr
	}
	return scopes, nil
}
