package dto

import (
	"time"

	"github.com/recipebox/recipebox/internal/model"
)

// CreateAPIKeyRequest is the body of POST /api-keys.
type CreateAPIKeyRequest struct {
	Name   string   `json:"name"`
	Scopes []string `json:"scopes"`
}

// APIKeyResponse describes a key without its secret.
type APIKeyResponse struct {
	ID            string     `json:"id"`
	Name          string     `json:"name"`
	KeyPrefix     string     `json:"key_prefix"`
	Scopes        []string   `json:"scopes"`
	RateLimitTier string     `json:"rate_limit_tier"`
	LastUsedAt    *time.Time `json:"last_used_at,omitempty"`
	RevokedAt     *time.Time `json:"revoked_at,omitempty"`
	CreatedAt     time.Time  `json:"created_at"`
}

// CreatedAPIKeyResponse carries the plaintext key. It is returned exactly
// once, when the key is issued.
type CreatedAPIKeyResponse struct {
	APIKeyResponse
	Key string `json:"key"`
}

// RotateAPIKeyResponse is returned by POST /api-keys/{id}/rotate.
type RotateAPIKeyResponse struct {
	RevokedKeyID string                `json:"revoked_key_id"`
	NewKey       CreatedAPIKeyResponse `json:"new_key"`
}

// ToAPIKeyResponse converts an APIKey model to its public form.
func ToAPIKeyResponse(key *model.APIKey) APIKeyResponse {
	return APIKeyResponse{
		ID:            key.ID,
		Name:          key.Name,
		KeyPrefix:     key.KeyPrefix,
		Scopes:        key.Scopes,
		RateLimitTier: key.RateLimitTier,
		LastUsedAt:    key.LastUsedAt,
		RevokedAt:     key.RevokedAt,
		CreatedAt:     key.CreatedAt,
	}
}

// ToAPIKeyListResponse converts keys to a JSON array, never null.
func ToAPIKeyListResponse(keys []*model.APIKey) []APIKeyResponse {
	responses := make([]APIKeyResponse, len(keys))
	for i, key := range keys {
		responses[i] = ToAPIKeyResponse(key)
	}
	return responses
}
