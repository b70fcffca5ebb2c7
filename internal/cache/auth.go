package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/recipebox/recipebox/internal/model"
)

const (
	authCachePrefix = "auth:ctx:"
	// authKeyIndexPrefix maps an API key id to the cache entries resolved
	// from it, so revocation can drop them without knowing the plaintext.
	authKeyIndexPrefix = "auth:key:"
	authCacheTTL       = 5 * time.Minute
)

// cachedAuthContext is the Redis representation of a resolved identity.
// The raw API key is never stored; entries are keyed by auth.CacheKey.
type cachedAuthContext struct {
	KeyID         string   `json:"key_id"`
	KeyPrefix     string   `json:"key_prefix"`
	UserID        string   `json:"user_id"`
	Scopes        []string `json:"scopes"`
	RateLimitTier string   `json:"rate_limit_tier"`
}

// GetAuthContext returns the identity cached under cacheKey.
// A miss, an unreadable entry, or a Redis failure all return nil so the
// caller falls back to the database.
func (c *Cache) GetAuthContext(ctx context.Context, cacheKey string) (*model.AuthContext, error) {
	data, err := c.client.Get(ctx, c.key(authCachePrefix, cacheKey)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get auth context: %w", err)
	}

	var cached cachedAuthContext
	if err := json.Unmarshal(data, &cached); err != nil {
		return nil, nil //nolint:nilerr // corrupt entry is a miss
	}

	return &model.AuthContext{
		KeyID:         cached.KeyID,
		KeyPrefix:     cached.KeyPrefix,
		UserID:        cached.UserID,
		Scopes:        cached.Scopes,
		RateLimitTier: cached.RateLimitTier,
	}, nil
}

// SetAuthContext caches a resolved identity for authCacheTTL and records
// the entry under its key id.
func (c *Cache) SetAuthContext(ctx context.Context, cacheKey string, a *model.AuthContext) error {
	data, err := json.Marshal(cachedAuthContext{
		KeyID:         a.KeyID,
		KeyPrefix:     a.KeyPrefix,
		UserID:        a.UserID,
		Scopes:        a.Scopes,
		RateLimitTier: a.RateLimitTier,
	})
	if err != nil {
		return fmt.Errorf("marshal auth context: %w", err)
	}

	index := c.key(authKeyIndexPrefix, a.KeyID)
	pipe := c.client.TxPipeline()
	pipe.Set(ctx, c.key(authCachePrefix, cacheKey), data, authCacheTTL)
	pipe.SAdd(ctx, index, cacheKey)
	pipe.Expire(ctx, index, authCacheTTL)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("set auth context: %w", err)
	}
	return nil
}

// InvalidateAPIKey drops every cached identity resolved from keyID.
// Call it after revoking or rotating a key.
func (c *Cache) InvalidateAPIKey(ctx context.Context, keyID string) error {
	index := c.key(authKeyIndexPrefix, keyID)

	members, err := c.client.SMembers(ctx, index).Result()
	if err != nil {
		return fmt.Errorf("read auth key index: %w", err)
	}

	keys := make([]string, 0, len(members)+1)
	for _, m := range members {
		keys = append(keys, c.key(authCachePrefix, m))
	}
	keys = append(keys, index)

	if err := c.client.Del(ctx, keys...).Err(); err != nil {
		return fmt.Errorf("invalidate auth contexts: %w", err)
	}
	return nil
}
