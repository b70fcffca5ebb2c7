package model

import (
	"testing"
	"time"
)

func TestAuthContext_HasScope(t *testing.T) {
	tests := []struct {
		held  []string
		check string
		want  bool
	}{
		{[]string{ScopeRead}, ScopeRead, true},
		{[]string{ScopeRead}, ScopeWrite, false},
		{[]string{ScopeRead, ScopeWrite}, ScopeWrite, true},
		{[]string{ScopeWrite}, ScopeAdmin, false},
		{[]string{ScopeAdmin}, ScopeRead, true},
		{[]string{ScopeAdmin}, ScopeWrite, true},
		{nil, ScopeRead, false},
	}

	for _, tt := range tests {
		a := &AuthContext{Scopes: tt.held}
		if got := a.HasScope(tt.check); got != tt.want {
			t.Errorf("%v.HasScope(%s) = %v, want %v", tt.held, tt.check, got, tt.want)
		}
	}
}

func TestTierLimits(t *testing.T) {
	tests := map[string]RateLimitConfig{
		TierFree:      {60, 10},
		TierPro:       {600, 50},
		TierUnlimited: {0, 0},
		"enterprise":  {60, 10},
		"":            {60, 10},
	}

	for tier, want := range tests {
		if got := TierLimits(tier); got != want {
			t.Errorf("TierLimits(%q) = %+v, want %+v", tier, got, want)
		}
		if got := (&AuthContext{RateLimitTier: tier}).RateLimit(); got != want {
			t.Errorf("RateLimit() for %q = %+v, want %+v", tier, got, want)
		}
	}
}

func TestValidity(t *testing.T) {
	for _, s := range []string{ScopeRead, ScopeWrite, ScopeAdmin} {
		if !IsValidScope(s) {
			t.Errorf("IsValidScope(%q) = false", s)
		}
	}
	for _, s := range []string{"", "owner", "READ"} {
		if IsValidScope(s) {
			t.Errorf("IsValidScope(%q) = true", s)
		}
	}

	if !IsValidTier(TierPro) || IsValidTier("gold") {
		t.Error("IsValidTier misclassifies tiers")
	}
}

func TestAPIKey_Identity(t *testing.T) {
	now := time.Now()
	key := &APIKey{
		ID:            "01HXKEY",
		UserID:        "01HXUSER",
		KeyHash:       "$argon2id$...",
		KeyPrefix:     "a1b2c3",
		Scopes:        []string{ScopeRead, ScopeWrite},
		RateLimitTier: TierPro,
	}

	if key.IsRevoked() {
		t.Error("fresh key reported revoked")
	}
	key.RevokedAt = &now
	if !key.IsRevoked() {
		t.Error("revoked key reported active")
	}

	id := key.Identity()
	if id.KeyID != key.ID || id.UserID != key.UserID || id.KeyPrefix != key.KeyPrefix || id.RateLimitTier != TierPro {
		t.Errorf("identity = %+v", id)
	}

	id.Scopes[0] = ScopeAdmin
	if key.Scopes[0] != ScopeRead {
		t.Error("identity scopes alias the key's scopes")
	}
}
