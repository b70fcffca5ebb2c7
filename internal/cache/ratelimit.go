package cache

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"math"
	"net"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

// bucket names one family of token buckets in Redis.
type bucket struct {
	prefix string
	// idle is the minimum time an untouched bucket survives. Buckets that
	// take longer to refill live until they are full.
	idle time.Duration
}

var (
	apiKeyBuckets = bucket{prefix: "ratelimit:apikey:", idle: 2 * time.Minute}
	ipBuckets     = bucket{prefix: "ratelimit:ip:", idle: 2 * time.Minute}
)

// RateLimitResult reports the outcome of taking one token.
type RateLimitResult struct {
	Allowed   bool
	Remaining int64
	// ResetAt is when the bucket will be full again.
	ResetAt time.Time
	// RetryAfter is zero when Allowed is true.
	RetryAfter time.Duration
}

// takeTokenScript refills a bucket for the elapsed time and takes one token.
// Times are unix milliseconds and the rate is tokens per millisecond.
// The reply is {allowed, wait_ms, tokens_left}.
var takeTokenScript = redis.NewScript(`
local key = KEYS[1]
local rate = tonumber(ARGV[1])
local burst = tonumber(ARGV[2])
local now = tonumber(ARGV[3])
local idle = tonumber(ARGV[4])

local state = redis.call('HMGET', key, 'tokens', 'ts')
local tokens = tonumber(state[1]) or burst
local ts = tonumber(state[2]) or now
if now > ts then
  tokens = math.min(burst, tokens + (now - ts) * rate)
end

local allowed = 0
local wait = 0
if tokens >= 1 then
  tokens = tokens - 1
  allowed = 1
else
  wait = math.ceil((1 - tokens) / rate)
end

redis.call('HSET', key, 'tokens', tokens, 'ts', math.max(now, ts))
redis.call('PEXPIRE', key, idle)
return {allowed, wait, math.floor(tokens)}
`)

// CheckAPIRateLimit takes a token from the bucket of an API key.
// A zero rate means the tier is unlimited and Redis is not consulted.
func (c *Cache) CheckAPIRateLimit(ctx context.Context, keyID string, ratePerMinute, burst int) (*RateLimitResult, error) {
	if ratePerMinute == 0 {
		return &RateLimitResult{Allowed: true, Remaining: int64(burst), ResetAt: time.Now()}, nil
	}
	return c.take(ctx, apiKeyBuckets, keyID, ratePerMinute, burst)
}

// CheckIPRateLimit takes a token from the bucket of a client address.
// Addresses are stored hashed.
func (c *Cache) CheckIPRateLimit(ctx context.Context, ip string, ratePerMinute, burst int) (*RateLimitResult, error) {
	return c.take(ctx, ipBuckets, ipBucketID(ip), ratePerMinute, burst)
}

// take runs the script for one bucket. Callers decide whether to fail open.
func (c *Cache) take(ctx context.Context, b bucket, id string, ratePerMinute, burst int) (*RateLimitResult, error) {
	if ratePerMinute <= 0 || burst <= 0 {
		return nil, fmt.Errorf("invalid bucket %d/min burst %d", ratePerMinute, burst)
	}

	perMilli := float64(ratePerMinute) / float64(time.Minute/time.Millisecond)
	idle := max(b.idle, time.Duration(math.Ceil(float64(burst)/perMilli))*time.Millisecond)
	now := time.Now()

	reply, err := takeTokenScript.Run(ctx, c.client,
		[]string{c.key(b.prefix, id)},
		perMilli, burst, now.UnixMilli(), idle.Milliseconds(),
	).Int64Slice()
	if err != nil {
		return nil, fmt.Errorf("run token bucket script: %w", err)
	}
	if len(reply) != 3 {
		return nil, fmt.Errorf("unexpected token bucket reply: %v", reply)
	}

	return newResult(reply[0] == 1, reply[1], reply[2], burst, perMilli, now), nil
}

// newResult converts a script reply into a RateLimitResult.
func newResult(allowed bool, waitMillis, remaining int64, burst int, perMilli float64, now time.Time) *RateLimitResult {
	missing := float64(int64(burst) - remaining)
	refill := time.Duration(math.Ceil(missing/perMilli)) * time.Millisecond

	res := &RateLimitResult{
		Allowed:   allowed,
		Remaining: remaining,
		ResetAt:   now.Add(refill),
	}
	if !allowed {
		res.RetryAfter = time.Duration(waitMillis) * time.Millisecond
	}
	return res
}

// ipBucketID hashes the canonical form of an address so that equivalent
// spellings share a bucket. Ports are ignored.
func ipBucketID(addr string) string {
	host := strings.TrimSpace(addr)
	if h, _, err := net.SplitHostPort(host); err == nil {
		host = h
	}
	if ip := net.ParseIP(host); ip != nil {
		host = ip.String()
	}

	sum := sha256.Sum256([]byte(host))
	return hex.EncodeToString(sum[:8])
}
