package handler

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"
)

type pinger struct {
	err   error
	delay time.Duration
	calls atomic.Int32
}

func (p *pinger) Ping(ctx context.Context) error {
	p.calls.Add(1)
	if p.delay > 0 {
		select {
		case <-time.After(p.delay):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return p.err
}

func serveHealth(t *testing.T, fn http.HandlerFunc, path string) (int, HealthResponse) {
	t.Helper()

	rec := httptest.NewRecorder()
	fn(rec, httptest.NewRequest(http.MethodGet, path, nil))

	var body HealthResponse
	if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
		t.Fatalf("decode %s: %v", path, err)
	}
	return rec.Code, body
}

func TestHealthz_NeverPings(t *testing.T) {
	db := &pinger{err: errors.New("down")}
	h := NewHealthHandler(db, nil)

	code, body := serveHealth(t, h.Healthz, "/healthz")
	if code != http.StatusOK || body.Status != "ok" {
		t.Errorf("healthz = %d %+v", code, body)
	}
	if body.Checks != nil {
		t.Errorf("healthz must not report checks, got %v", body.Checks)
	}
	if db.calls.Load() != 0 {
		t.Error("liveness must not ping dependencies")
	}
}

func TestReadyz(t *testing.T) {
	tests := []struct {
		name     string
		db       HealthChecker
		cache    HealthChecker
		code     int
		status   string
		postgres string
		redis    string
	}{
		{"all healthy", &pinger{}, &pinger{}, http.StatusOK, "ok", "ok", "ok"},
		{"database down", &pinger{err: errors.New("connection refused")}, &pinger{}, http.StatusServiceUnavailable, "unhealthy", "error: connection refused", "ok"},
		{"redis down", &pinger{}, &pinger{err: errors.New("i/o timeout")}, http.StatusServiceUnavailable, "unhealthy", "ok", "error: i/o timeout"},
		{"nothing configured", nil, nil, http.StatusOK, "ok", "not configured", "not configured"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			code, body := serveHealth(t, NewHealthHandler(tt.db, tt.cache).Readyz, "/readyz")

			if code != tt.code || body.Status != tt.status {
				t.Errorf("readyz = %d %q, want %d %q", code, body.Status, tt.code, tt.status)
			}
			if body.Checks["postgres"] != tt.postgres || body.Checks["redis"] != tt.redis {
				t.Errorf("checks = %v", body.Checks)
			}
		})
	}
}

func TestReadyz_PingsInParallel(t *testing.T) {
	db := &pinger{delay: 200 * time.Millisecond}
	cache := &pinger{delay: 200 * time.Millisecond}
	h := NewHealthHandler(db, cache)

	start := time.Now()
	code, _ := serveHealth(t, h.Readyz, "/readyz")
	elapsed := time.Since(start)

	if code != http.StatusOK {
		t.Fatalf("readyz = %d, want 200", code)
	}
	if elapsed >= 380*time.Millisecond {
		t.Errorf("readyz took %v, dependencies were pinged one after another", elapsed)
	}
	if db.calls.Load() != 1 || cache.calls.Load() != 1 {
		t.Errorf("ping calls = %d/%d, want 1/1", db.calls.Load(), cache.calls.Load())
	}
}
