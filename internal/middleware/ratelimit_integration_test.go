//go:build integration

package middleware

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/recipebox/recipebox/internal/auth"
	"github.com/recipebox/recipebox/internal/cache"
	"github.com/recipebox/recipebox/internal/model"
	"github.com/recipebox/recipebox/internal/testutil"
)

// TestIntegrationRateLimitConcurrency drives the API limiter through Redis
// under concurrent load and checks the burst is never exceeded.
func TestIntegrationRateLimitConcurrency(t *testing.T) {
	ctx := context.Background()
	redisURL := testutil.RequireEnv(t, "REDIS_URL")

	cacheClient, err := cache.New(ctx, redisURL)
	if err != nil {
		t.Fatalf("connect redis: %v", err)
	}
	defer cacheClient.Close()

	if err := testutil.FlushRedis(ctx, cacheClient.Client()); err != nil {
		t.Fatalf("flush redis: %v", err)
	}

	handler := RateLimitAPI(RateLimitConfig{
		Logger:     slog.New(slog.NewTextHandler(io.Discard, nil)),
		Limiter:    cacheClient,
		APIEnabled: true,
	})(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	burst := model.TierConfigs[model.TierFree].Burst
	var allowed, rejected int64
	var wg sync.WaitGroup

	for i := 0; i < 30; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			req := httptest.NewRequest(http.MethodGet, "/recipes", nil)
			req = req.WithContext(auth.ContextWithAuth(req.Context(), &model.AuthContext{
				KeyID:         "concurrent-key",
				UserID:        "user-1",
				RateLimitTier: model.TierFree,
			}))
			rec := httptest.NewRecorder()
			handler.ServeHTTP(rec, req)

			switch rec.Code {
			case http.StatusOK:
				atomic.AddInt64(&allowed, 1)
			case http.StatusTooManyRequests:
				atomic.AddInt64(&rejected, 1)
			default:
				t.Errorf("unexpected status %d", rec.Code)
			}
		}()
	}
	wg.Wait()

	t.Logf("%d allowed, %d rejected", allowed, rejected)

	// One extra token may refill if the test straddles a second boundary.
	if allowed > int64(burst+1) {
		t.Errorf("allowed %d requests, burst is %d", allowed, burst)
	}
	if rejected == 0 {
		t.Error("expected some requests to be rejected")
	}
}
