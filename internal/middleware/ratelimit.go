package middleware

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/recipebox/recipebox/internal/auth"
	"github.com/recipebox/recipebox/internal/cache"
)

// RateLimiter takes tokens from Redis buckets. *cache.Cache satisfies it.
type RateLimiter interface {
	CheckAPIRateLimit(ctx context.Context, keyID string, ratePerMinute, burst int) (*cache.RateLimitResult, error)
	CheckIPRateLimit(ctx context.Context, ip string, ratePerMinute, burst int) (*cache.RateLimitResult, error)
}

// RateLimitConfig configures both limiters.
type RateLimitConfig struct {
	Logger  *slog.Logger
	Limiter RateLimiter

	// APIEnabled turns on the per key limiter, sized by the key's tier.
	APIEnabled bool

	// IPEnabled turns on the per address limiter that runs before Auth.
	IPEnabled   bool
	IPPerMinute int
	IPBurst     int
}

// bucketRequest names the bucket a request draws from. A zero value
// means the request is not limited.
type bucketRequest struct {
	kind    string
	subject slog.Attr
	perMin  int
	// headers reports the limit to the client.
	headers bool
	take    func(ctx context.Context) (*cache.RateLimitResult, error)
}

// limit wraps next with the bucket chosen by pick. Limiter errors fail open.
func limit(logger *slog.Logger, pick func(r *http.Request) bucketRequest) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			b := pick(r)
			if b.take == nil {
				next.ServeHTTP(w, r)
				return
			}

			res, err := b.take(r.Context())
			if err != nil {
				logger.Error("rate limit check failed",
					slog.String("type", b.kind),
					b.subject,
					slog.String("error", err.Error()),
				)
				next.ServeHTTP(w, r)
				return
			}

			if b.headers {
				h := w.Header()
				h.Set("X-RateLimit-Limit", strconv.Itoa(b.perMin))
				h.Set("X-RateLimit-Remaining", strconv.FormatInt(res.Remaining, 10))
				h.Set("X-RateLimit-Reset", strconv.FormatInt(res.ResetAt.Unix(), 10))
			}

			if !res.Allowed {
				logger.Warn("rate limit exceeded",
					slog.String("type", b.kind),
					b.subject,
					slog.String("endpoint", r.Method+" "+r.URL.Path),
					slog.Duration("retry_after", res.RetryAfter),
					slog.String("request_id", GetRequestID(r.Context())),
				)
				writeRateLimitError(w, res.RetryAfter)
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

// RateLimitAPI limits each API key by its tier. It must run after Auth;
// requests without an identity and unlimited tiers pass untouched.
func RateLimitAPI(cfg RateLimitConfig) func(http.Handler) http.Handler {
	return limit(cfg.Logger, func(r *http.Request) bucketRequest {
		if !cfg.APIEnabled {
			return bucketRequest{}
		}
		caller := auth.AuthFromContext(r.Context())
		if caller == nil {
			return bucketRequest{}
		}
		tier := caller.RateLimit()
		if tier.RequestsPerMinute == 0 {
			return bucketRequest{}
		}

		return bucketRequest{
			kind:    "api",
			subject: slog.String("key_id", caller.KeyID),
			perMin:  tier.RequestsPerMinute,
			headers: true,
			take: func(ctx context.Context) (*cache.RateLimitResult, error) {
				return cfg.Limiter.CheckAPIRateLimit(ctx, caller.KeyID, tier.RequestsPerMinute, tier.Burst)
			},
		}
	})
}

// RateLimitIP limits each client address. It runs in front of Auth so key
// guessing is throttled before any Argon2 work.
func RateLimitIP(cfg RateLimitConfig) func(http.Handler) http.Handler {
	return limit(cfg.Logger, func(r *http.Request) bucketRequest {
		if !cfg.IPEnabled || cfg.IPPerMinute <= 0 {
			return bucketRequest{}
		}
		ip := getClientIP(r)

		return bucketRequest{
			kind:    "ip",
			subject: slog.String("ip", ip),
			perMin:  cfg.IPPerMinute,
			take: func(ctx context.Context) (*cache.RateLimitResult, error) {
				return cfg.Limiter.CheckIPRateLimit(ctx, ip, cfg.IPPerMinute, cfg.IPBurst)
			},
		}
	})
}

// writeRateLimitError answers 429. Retry-After is rounded up so clients
// never retry early.
func writeRateLimitError(w http.ResponseWriter, retryAfter time.Duration) {
	seconds := int(math.Ceil(retryAfter.Seconds()))
	w.Header().Set("Retry-After", strconv.Itoa(seconds))
	writeError(w, http.StatusTooManyRequests, "RATE_LIMITED",
		fmt.Sprintf("Rate limit exceeded. Retry after %d seconds.", seconds))
}

// getClientIP prefers the first X-Forwarded-For hop, then X-Real-IP, then
// the connection address without its port.
func getClientIP(r *http.Request) string {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		first, _, _ := strings.Cut(xff, ",")
		return strings.TrimSpace(first)
	}
	if xri := strings.TrimSpace(r.Header.Get("X-Real-IP")); xri != "" {
		return xri
	}
	if host, _, err := net.SplitHostPort(r.RemoteAddr); err == nil {
		return host
	}
	return r.RemoteAddr
}
