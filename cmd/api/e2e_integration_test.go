//go:build integration

package main

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/recipebox/recipebox/internal/auth"
	"github.com/recipebox/recipebox/internal/cache"
	"github.com/recipebox/recipebox/internal/config"
	"github.com/recipebox/recipebox/internal/handler"
	"github.com/recipebox/recipebox/internal/handler/dto"
	"github.com/recipebox/recipebox/internal/metrics"
	"github.com/recipebox/recipebox/internal/model"
	"github.com/recipebox/recipebox/internal/repository"
	"github.com/recipebox/recipebox/internal/service"
	"github.com/recipebox/recipebox/internal/testutil"
)

type e2eEnv struct {
	baseURL string
	repo    *repository.Repository
}

func newE2EEnv(t *testing.T) *e2eEnv {
	t.Helper()
	if testing.Short() {
		t.Skip("skipping integration tests in short mode")
	}

	ctx := context.Background()
	dbURL := testutil.RequireEnv(t, "DATABASE_URL")
	redisURL := testutil.RequireEnv(t, "REDIS_URL")

	repo, err := repository.New(ctx, dbURL)
	if err != nil {
		t.Fatalf("connect db: %v", err)
	}
	t.Cleanup(repo.Close)

	unlock, err := testutil.AcquireDBLock(ctx, repo.Pool())
	if err != nil {
		t.Fatalf("acquire db lock: %v", err)
	}
	t.Cleanup(func() { _ = unlock() })

	if err := testutil.ResetSchema(ctx, repo.Pool()); err != nil {
		t.Fatalf("reset schema: %v", err)
	}

	cacheClient, err := cache.New(ctx, redisURL)
	if err != nil {
		t.Fatalf("connect redis: %v", err)
	}
	t.Cleanup(func() { _ = cacheClient.Close() })
	if err := testutil.FlushRedis(ctx, cacheClient.Client()); err != nil {
		t.Fatalf("flush redis: %v", err)
	}

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	recorder := metrics.NewInMemory()
	cfg := &config.Config{
		AppEnv:              "development",
		MaxRequestBodySize:  1 << 20,
		RateLimitAPIEnabled: true,
		RateLimitIPEnabled:  true,
		RateLimitIPPerMin:   600,
		RateLimitIPBurst:    100,
	}

	router := setupRouter(routerDeps{
		handler: handler.New(),
		health:  handler.NewHealthHandler(repo, cacheClient),
		metrics: handler.NewMetricsHandler(recorder),
		recipes: handler.NewRecipeHandler(service.NewRecipeService(repo, recorder), logger),
		apiKeys: handler.NewAPIKeyHandler(repo, cacheClient, auth.EnvTest, logger),
		keys:    repo,
		cache:   cacheClient,
		cfg:     cfg,
		logger:  logger,
	})

	srv := httptest.NewServer(router)
	t.Cleanup(srv.Close)

	return &e2eEnv{baseURL: srv.URL, repo: repo}
}

// issueKey creates a user and a key for it, returning the user id and the
// plaintext key. Without scopes the key gets read and write.
func (e *e2eEnv) issueKey(t *testing.T, scopes ...string) (string, string) {
	t.Helper()
	ctx := context.Background()

	user := testutil.NewTestUser(t)
	if err := e.repo.CreateUser(ctx, user); err != nil {
		t.Fatalf("create user: %v", err)
	}

	if len(scopes) == 0 {
		scopes = []string{model.ScopeRead, model.ScopeWrite}
	}

	generated, err := auth.GenerateAPIKey(auth.EnvTest)
	if err != nil {
		t.Fatalf("generate api key: %v", err)
	}
	if err := e.repo.CreateAPIKey(ctx, &model.APIKey{
		ID:            ulid.Make().String(),
		UserID:        user.ID,
		KeyHash:       generated.Hash,
		KeyPrefix:     generated.Prefix,
		Scopes:        scopes,
		RateLimitTier: model.TierUnlimited,
		Name:          "e2e",
		CreatedAt:     time.Now().UTC(),
	}); err != nil {
		t.Fatalf("create api key: %v", err)
	}

	return user.ID, generated.Plaintext
}

func (e *e2eEnv) doJSON(t *testing.T, method, path, apiKey string, payload, out any) int {
	t.Helper()

	var body io.Reader
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			t.Fatalf("marshal payload: %v", err)
		}
		body = bytes.NewReader(data)
	}

	req, err := http.NewRequest(method, e.baseURL+path, body)
	if err != nil {
		t.Fatalf("create request: %v", err)
	}
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+apiKey)
	}

	client := &http.Client{Timeout: 10 * time.Second}
	resp, err := client.Do(req)
	if err != nil {
		t.Fatalf("%s %s: %v", method, path, err)
	}
	defer resp.Body.Close()

	if out != nil && resp.StatusCode < 300 && resp.StatusCode != http.StatusNoContent {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			t.Fatalf("decode response: %v", err)
		}
	}
	return resp.StatusCode
}

func TestIntegrationE2E_FriedRice(t *testing.T) {
	env := newE2EEnv(t)
	u1, key1 := env.issueKey(t)
	_, key2 := env.issueKey(t)

	payload := map[string]string{
		"name":       "炒饭",
		"ingredient": "米饭，鸡蛋，火腿，青豆",
		"step":       "1. 打鸡蛋，加盐搅拌。2. 热锅，倒油，炒鸡蛋。3. 加入米饭，翻炒均匀。",
		"owner":      "someone-else",
	}

	var created dto.RecipeResponse
	if status := env.doJSON(t, http.MethodPost, "/recipes/", key1, payload, &created); status != http.StatusCreated {
		t.Fatalf("create: expected 201, got %d", status)
	}
	if created.Owner != u1 {
		t.Errorf("owner = %q, want %q", created.Owner, u1)
	}

	var list1, list2 []dto.RecipeResponse
	env.doJSON(t, http.MethodGet, "/recipes/", key1, nil, &list1)
	env.doJSON(t, http.MethodGet, "/recipes/", key2, nil, &list2)
	if len(list1) != 1 || list1[0].ID != created.ID {
		t.Errorf("owner list = %+v", list1)
	}
	if len(list2) != 0 {
		t.Errorf("other user sees %d recipes", len(list2))
	}

	if status := env.doJSON(t, http.MethodPost, "/recipes/", key2, payload, nil); status != http.StatusBadRequest {
		t.Errorf("duplicate name: expected 400, got %d", status)
	}

	path := "/recipes/" + created.ID + "/"
	if status := env.doJSON(t, http.MethodPatch, path, key2, map[string]string{"step": "x"}, nil); status != http.StatusNotFound {
		t.Errorf("cross-owner patch: expected 404, got %d", status)
	}

	var patched dto.RecipeResponse
	if status := env.doJSON(t, http.MethodPatch, path, key1, map[string]string{"step": "快炒"}, &patched); status != http.StatusOK {
		t.Fatalf("patch: expected 200, got %d", status)
	}
	if patched.Step != "快炒" || patched.Name != "炒饭" {
		t.Errorf("patched = %+v", patched)
	}

	if status := env.doJSON(t, http.MethodDelete, path, key1, nil, nil); status != http.StatusNoContent {
		t.Fatalf("delete: expected 204, got %d", status)
	}
	if status := env.doJSON(t, http.MethodGet, path, key1, nil, nil); status != http.StatusNotFound {
		t.Errorf("get after delete: expected 404, got %d", status)
	}
}

func TestIntegrationE2E_RevokedKey(t *testing.T) {
	env := newE2EEnv(t)
	userID, key := env.issueKey(t)

	keys, err := env.repo.ListAPIKeysByUserID(context.Background(), userID)
	if err != nil || len(keys) != 1 {
		t.Fatalf("list keys: %v", err)
	}
	if err := env.repo.RevokeAPIKey(context.Background(), keys[0].ID); err != nil {
		t.Fatalf("revoke: %v", err)
	}

	if status := env.doJSON(t, http.MethodGet, "/recipes", key, nil, nil); status != http.StatusUnauthorized {
		t.Errorf("expected 401 for revoked key, got %d", status)
	}
}

func TestIntegrationE2E_Readiness(t *testing.T) {
	env := newE2EEnv(t)

	var resp handler.HealthResponse
	if status := env.doJSON(t, http.MethodGet, "/readyz", "", nil, &resp); status != http.StatusOK {
		t.Fatalf("readyz: expected 200, got %d", status)
	}
	if resp.Status != "ok" {
		t.Errorf("status = %q", resp.Status)
	}
}

func TestIntegrationE2E_RotatedKeyStopsWorking(t *testing.T) {
	env := newE2EEnv(t)
	userID, adminKey := env.issueKey(t, model.ScopeAdmin)

	// Resolve once so the identity is cached in Redis.
	if status := env.doJSON(t, http.MethodGet, "/recipes", adminKey, nil, nil); status != http.StatusOK {
		t.Fatalf("list with admin key: expected 200, got %d", status)
	}

	keys, err := env.repo.ListAPIKeysByUserID(context.Background(), userID)
	if err != nil || len(keys) != 1 {
		t.Fatalf("list keys: %v", err)
	}

	var rotated dto.RotateAPIKeyResponse
	if status := env.doJSON(t, http.MethodPost, "/api/v1/api-keys/"+keys[0].ID+"/rotate", adminKey, nil, &rotated); status != http.StatusCreated {
		t.Fatalf("rotate: expected 201, got %d", status)
	}

	if status := env.doJSON(t, http.MethodGet, "/recipes", adminKey, nil, nil); status != http.StatusUnauthorized {
		t.Errorf("old key after rotation: expected 401, got %d", status)
	}
	if status := env.doJSON(t, http.MethodGet, "/recipes", rotated.NewKey.Key, nil, nil); status != http.StatusOK {
		t.Errorf("new key: expected 200, got %d", status)
	}
}
