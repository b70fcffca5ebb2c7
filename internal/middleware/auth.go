package middleware

import (
	"context"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/recipebox/recipebox/internal/auth"
	"github.com/recipebox/recipebox/internal/model"
)

const lastUsedTimeout = 5 * time.Second

// Auth failure reasons, logged but never returned to the client.
const (
	reasonMissingKey    = "missing_key"
	reasonInvalidFormat = "invalid_format"
	reasonInvalidKey    = "invalid_key"
	reasonRevoked       = "revoked_key"
	reasonLookupFailed  = "lookup_failed"
)

// KeyStore looks up API keys. *repository.Repository satisfies it.
type KeyStore interface {
	GetAPIKeysByPrefix(ctx context.Context, prefix string) ([]*model.APIKey, error)
	UpdateAPIKeyLastUsed(ctx context.Context, id string) error
}

// AuthCache caches resolved auth contexts. *cache.Cache satisfies it.
type AuthCache interface {
	GetAuthContext(ctx context.Context, cacheKey string) (*model.AuthContext, error)
	SetAuthContext(ctx context.Context, cacheKey string, auth *model.AuthContext) error
}

// AuthConfig holds configuration for the auth middleware.
type AuthConfig struct {
	Logger *slog.Logger
	Keys   KeyStore
	Cache  AuthCache
	// MinDuration pads each attempt to at least this long. Zero disables padding.
	MinDuration time.Duration
}

// Auth returns a middleware that authenticates API requests.
// It extracts the API key from the Authorization header,
// verifies it, and injects the auth context into the request.
// Every failure yields the same 401 body.
func Auth(cfg AuthConfig) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()

			authCtx, reason, cacheHit := authenticate(cfg, r)

			if elapsed := time.Since(start); elapsed < cfg.MinDuration {
				time.Sleep(cfg.MinDuration - elapsed)
			}

			if authCtx == nil {
				cfg.Logger.Warn("authentication failed",
					slog.String("reason", reason),
					slog.String("ip", r.RemoteAddr),
					slog.String("endpoint", r.Method+" "+r.URL.Path),
					slog.String("request_id", GetRequestID(r.Context())),
				)
				writeAuthError(w)
				return
			}

			cfg.Logger.Info("authentication successful",
				slog.String("key_id", authCtx.KeyID),
				slog.String("key_prefix", authCtx.KeyPrefix),
				slog.String("user_id", authCtx.UserID),
				slog.String("endpoint", r.Method+" "+r.URL.Path),
				slog.Bool("cache_hit", cacheHit),
				slog.String("request_id", GetRequestID(r.Context())),
			)

			ctx := auth.ContextWithAuth(r.Context(), authCtx)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// authenticate resolves the request's API key to an auth context.
// On failure it returns nil and the reason.
func authenticate(cfg AuthConfig, r *http.Request) (*model.AuthContext, string, bool) {
	ctx := r.Context()

	key := extractAPIKey(r)
	if key == "" {
		return nil, reasonMissingKey, false
	}

	parsed, err := auth.ParseAPIKey(key)
	if err != nil {
		return nil, reasonInvalidFormat, false
	}

	cacheKey := auth.CacheKey(key)
	if cached, _ := cfg.Cache.GetAuthContext(ctx, cacheKey); cached != nil {
		return cached, "", true
	}

	keys, err := cfg.Keys.GetAPIKeysByPrefix(ctx, parsed.Prefix)
	if err != nil {
		cfg.Logger.Error("database error during auth",
			slog.String("error", err.Error()),
			slog.String("request_id", GetRequestID(ctx)),
		)
		return nil, reasonLookupFailed, false
	}

	// Several keys may share a prefix; verify against each.
	var matched *model.APIKey
	for _, k := range keys {
		if ok, err := auth.VerifyKey(key, k.KeyHash); err == nil && ok {
			matched = k
			break
		}
	}

	if matched == nil {
		return nil, reasonInvalidKey, false
	}
	if matched.IsRevoked() {
		return nil, reasonRevoked, false
	}
	if auth.NeedsRehash(matched.KeyHash, auth.DefaultParams) {
		cfg.Logger.Warn("api key hash uses outdated parameters; rotate the key",
			slog.String("key_id", matched.ID),
		)
	}

	authCtx := matched.Identity()

	if err := cfg.Cache.SetAuthContext(ctx, cacheKey, authCtx); err != nil {
		cfg.Logger.Warn("failed to cache auth context",
			slog.String("error", err.Error()),
			slog.String("key_id", authCtx.KeyID),
		)
	}

	// The request context is canceled once the response is written.
	go func(id string) {
		bg, cancel := context.WithTimeout(context.WithoutCancel(ctx), lastUsedTimeout)
		defer cancel()
		if err := cfg.Keys.UpdateAPIKeyLastUsed(bg, id); err != nil {
			cfg.Logger.Warn("failed to update api key last_used_at",
				slog.String("error", err.Error()),
				slog.String("key_id", id),
			)
		}
	}(matched.ID)

	return authCtx, "", false
}

// extractAPIKey extracts the API key from the request.
// Supports both "Authorization: Bearer <key>" and "X-API-Key: <key>" headers.
func extractAPIKey(r *http.Request) string {
	if key, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer "); ok {
		return key
	}
	return r.Header.Get("X-API-Key")
}

// writeAuthError writes a 401 Unauthorized response.
// Uses the same message for all auth failures to prevent enumeration.
func writeAuthError(w http.ResponseWriter) {
	writeError(w, http.StatusUnauthorized, "UNAUTHORIZED", "Invalid or missing API key")
}
