package middleware

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/recipebox/recipebox/internal/auth"
	"github.com/recipebox/recipebox/internal/handler/dto"
	"github.com/recipebox/recipebox/internal/model"
)

type fakeKeyStore struct {
	mu       sync.Mutex
	keys     []*model.APIKey
	err      error
	lookups  int
	lastUsed chan string
}

func (f *fakeKeyStore) GetAPIKeysByPrefix(ctx context.Context, prefix string) ([]*model.APIKey, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.lookups++
	if f.err != nil {
		return nil, f.err
	}
	var out []*model.APIKey
	for _, k := range f.keys {
		if k.KeyPrefix == prefix {
			out = append(out, k)
		}
	}
	return out, nil
}

func (f *fakeKeyStore) UpdateAPIKeyLastUsed(ctx context.Context, id string) error {
	if f.lastUsed != nil {
		f.lastUsed <- id
	}
	return nil
}

func (f *fakeKeyStore) lookupCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.lookups
}

type fakeAuthCache struct {
	mu      sync.Mutex
	entries map[string]*model.AuthContext
}

func (f *fakeAuthCache) GetAuthContext(ctx context.Context, cacheKey string) (*model.AuthContext, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.entries[cacheKey], nil
}

func (f *fakeAuthCache) SetAuthContext(ctx context.Context, cacheKey string, a *model.AuthContext) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.entries == nil {
		f.entries = make(map[string]*model.AuthContext)
	}
	f.entries[cacheKey] = a
	return nil
}

type authFixture struct {
	key     *auth.GeneratedKey
	apiKey  *model.APIKey
	store   *fakeKeyStore
	cache   *fakeAuthCache
	handler http.Handler
}

func newAuthFixture(t *testing.T) *authFixture {
	t.Helper()

	key, err := auth.GenerateAPIKey(auth.EnvTest)
	if err != nil {
		t.Fatalf("GenerateAPIKey: %v", err)
	}

	apiKey := &model.APIKey{
		ID:            "key-1",
		UserID:        "user-1",
		KeyHash:       key.Hash,
		KeyPrefix:     key.Prefix,
		Scopes:        []string{model.ScopeRead},
		RateLimitTier: model.TierFree,
	}

	f := &authFixture{
		key:    key,
		apiKey: apiKey,
		store:  &fakeKeyStore{keys: []*model.APIKey{apiKey}, lastUsed: make(chan string, 4)},
		cache:  &fakeAuthCache{},
	}

	f.handler = Auth(AuthConfig{
		Logger: slog.New(slog.NewTextHandler(io.Discard, nil)),
		Keys:   f.store,
		Cache:  f.cache,
	})(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(auth.UserIDFromContext(r.Context())))
	}))

	return f
}

func (f *authFixture) serve(header, value string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodGet, "/recipes", nil)
	if header != "" {
		req.Header.Set(header, value)
	}
	rec := httptest.NewRecorder()
	f.handler.ServeHTTP(rec, req)
	return rec
}

func TestAuth_ValidKey(t *testing.T) {
	f := newAuthFixture(t)

	for _, tc := range []struct{ header, value string }{
		{"Authorization", "Bearer " + f.key.Plaintext},
		{"X-API-Key", f.key.Plaintext},
	} {
		rec := f.serve(tc.header, tc.value)
		if rec.Code != http.StatusOK {
			t.Fatalf("%s: expected 200, got %d", tc.header, rec.Code)
		}
		if rec.Body.String() != "user-1" {
			t.Errorf("%s: identity = %q, want user-1", tc.header, rec.Body.String())
		}
	}

	select {
	case id := <-f.store.lastUsed:
		if id != "key-1" {
			t.Errorf("last_used updated for %q", id)
		}
	case <-time.After(time.Second):
		t.Error("expected last_used_at update")
	}
}

func TestAuth_CachesResolvedKey(t *testing.T) {
	f := newAuthFixture(t)

	for i := 0; i < 3; i++ {
		if rec := f.serve("X-API-Key", f.key.Plaintext); rec.Code != http.StatusOK {
			t.Fatalf("request %d: expected 200, got %d", i, rec.Code)
		}
	}

	if got := f.store.lookupCount(); got != 1 {
		t.Errorf("store lookups = %d, want 1", got)
	}
}

func TestAuth_Failures(t *testing.T) {
	f := newAuthFixture(t)
	wrongSecret := auth.FormatAPIKey(auth.EnvTest, f.key.Prefix, "00000000000000000000000000000000")

	tests := []struct {
		name   string
		header string
		value  string
	}{
		{"missing key", "", ""},
		{"malformed key", "X-API-Key", "not-a-key"},
		{"basic auth", "Authorization", "Basic abc123"},
		{"wrong secret", "X-API-Key", wrongSecret},
		{"unknown prefix", "X-API-Key", auth.FormatAPIKey(auth.EnvTest, "ffffff", "00000000000000000000000000000000")},
	}

	var bodies []string
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := f.serve(tt.header, tt.value)
			if rec.Code != http.StatusUnauthorized {
				t.Fatalf("expected 401, got %d", rec.Code)
			}

			var resp dto.ErrorResponse
			if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
				t.Fatalf("decode: %v", err)
			}
			if resp.Code != "UNAUTHORIZED" {
				t.Errorf("code = %s", resp.Code)
			}
			bodies = append(bodies, rec.Body.String())
		})
	}

	for i := 1; i < len(bodies); i++ {
		if b := bodies[i]; b != bodies[0] {
			t.Errorf("auth failures must share one body: %q vs %q", b, bodies[0])
		}
	}
}

func TestAuth_RevokedKey(t *testing.T) {
	f := newAuthFixture(t)
	revokedAt := time.Now()
	f.apiKey.RevokedAt = &revokedAt

	if rec := f.serve("X-API-Key", f.key.Plaintext); rec.Code != http.StatusUnauthorized {
		t.Errorf("expected 401 for revoked key, got %d", rec.Code)
	}
}

func TestAuth_StoreError(t *testing.T) {
	f := newAuthFixture(t)
	f.store.err = errors.New("connection refused")

	if rec := f.serve("X-API-Key", f.key.Plaintext); rec.Code != http.StatusUnauthorized {
		t.Errorf("expected 401 on lookup failure, got %d", rec.Code)
	}
}

func TestAuth_MinDuration(t *testing.T) {
	store := &fakeKeyStore{}
	handler := Auth(AuthConfig{
		Logger:      slog.New(slog.NewTextHandler(io.Discard, nil)),
		Keys:        store,
		Cache:       &fakeAuthCache{},
		MinDuration: 50 * time.Millisecond,
	})(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))

	start := time.Now()
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/recipes", nil))

	if elapsed := time.Since(start); elapsed < 50*time.Millisecond {
		t.Errorf("auth returned after %v, want at least 50ms", elapsed)
	}
}

func TestExtractAPIKey(t *testing.T) {
	testCases := []struct {
		name         string
		authHeader   string
		apiKeyHeader string
		want         string
	}{
		{"Bearer token", "Bearer rk_live_abc123_secret", "", "rk_live_abc123_secret"},
		{"X-API-Key header", "", "rk_live_abc123_secret", "rk_live_abc123_secret"},
		{"Bearer takes precedence", "Bearer bearer_key", "apikey_header", "bearer_key"},
		{"No key", "", "", ""},
		{"Invalid Bearer format", "Basic abc123", "", ""},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/test", nil)
			if tc.authHeader != "" {
				req.Header.Set("Authorization", tc.authHeader)
			}
			if tc.apiKeyHeader != "" {
				req.Header.Set("X-API-Key", tc.apiKeyHeader)
			}

			if got := extractAPIKey(req); got != tc.want {
				t.Errorf("extractAPIKey() = %q, want %q", got, tc.want)
			}
		})
	}
}
