// Package model defines the domain entities: users, API keys, recipes and
// the identity attached to an authenticated request.
package model

import (
	"slices"
	"time"
)

// Scopes an API key can carry. Admin implies every other scope.
const (
	ScopeRead  = "read"
	ScopeWrite = "write"
	ScopeAdmin = "admin"
)

// ValidScopes lists every scope in ascending privilege.
var ValidScopes = []string{ScopeRead, ScopeWrite, ScopeAdmin}

// IsValidScope reports whether s names a known scope.
func IsValidScope(s string) bool {
	return slices.Contains(ValidScopes, s)
}

// Rate limit tiers.
const (
	TierFree      = "free"
	TierPro       = "pro"
	TierUnlimited = "unlimited"
)

// RateLimitConfig is the token bucket of a tier. A zero RequestsPerMinute
// disables limiting.
type RateLimitConfig struct {
	RequestsPerMinute int
	Burst             int
}

// TierConfigs holds the bucket of every known tier.
var TierConfigs = map[string]RateLimitConfig{
	TierFree:      {RequestsPerMinute: 60, Burst: 10},
	TierPro:       {RequestsPerMinute: 600, Burst: 50},
	TierUnlimited: {},
}

// IsValidTier reports whether t names a known tier.
func IsValidTier(t string) bool {
	_, ok := TierConfigs[t]
	return ok
}

// TierLimits returns the bucket of tier, falling back to the free tier for
// names it does not know.
func TierLimits(tier string) RateLimitConfig {
	if cfg, ok := TierConfigs[tier]; ok {
		return cfg
	}
	return TierConfigs[TierFree]
}

// APIKey is a stored credential. Only the hash of its secret is kept.
type APIKey struct {
	ID            string     `json:"id"`
	UserID        string     `json:"user_id"`
	KeyHash       string     `json:"-"`
	KeyPrefix     string     `json:"key_prefix"`
	Scopes        []string   `json:"scopes"`
	RateLimitTier string     `json:"rate_limit_tier"`
	Name          string     `json:"name,omitempty"`
	RevokedAt     *time.Time `json:"revoked_at,omitempty"`
	LastUsedAt    *time.Time `json:"last_used_at,omitempty"`
	CreatedAt     time.Time  `json:"created_at"`
}

// IsRevoked reports whether the key can no longer authenticate.
func (k *APIKey) IsRevoked() bool {
	return k.RevokedAt != nil
}

// Identity is the AuthContext a request authenticated with k acts as.
// The scopes are copied so the context does not alias the key.
func (k *APIKey) Identity() *AuthContext {
	return &AuthContext{
		KeyID:         k.ID,
		KeyPrefix:     k.KeyPrefix,
		UserID:        k.UserID,
		Scopes:        slices.Clone(k.Scopes),
		RateLimitTier: k.RateLimitTier,
	}
}

// AuthContext identifies the user and key behind a request.
type AuthContext struct {
	KeyID         string
	KeyPrefix     string
	UserID        string
	Scopes        []string
	RateLimitTier string
}

// HasScope reports whether the context grants scope.
func (a *AuthContext) HasScope(scope string) bool {
	return slices.Contains(a.Scopes, ScopeAdmin) || slices.Contains(a.Scopes, scope)
}

// RateLimit returns the bucket of the context's tier. Unknown tiers, for
// example from a stale cache entry, get the free tier.
func (a *AuthContext) RateLimit() RateLimitConfig {
	return TierLimits(a.RateLimitTier)
}
