package redis

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/arklim/session-security/internal/core/port"
)

// KEYS[1] window key
// ARGV[1] now (ms), ARGV[2] window start (ms), ARGV[3] limit, ARGV[4] ttl (ms), ARGV[5] member
var reserveScript = redis.NewScript(`
redis.call('ZREMRANGEBYSCORE', KEYS[1], '-inf', ARGV[2])
local count = redis.call('ZCARD', KEYS[1])
local allowed = 0
if count < tonumber(ARGV[3]) then
  redis.call('ZADD', KEYS[1], ARGV[1], ARGV[5])
  count = count + 1
  allowed = 1
end
if tonumber(ARGV[4]) > 0 then
  redis.call('PEXPIRE', KEYS[1], ARGV[4])
end
local oldest = redis.call('ZRANGE', KEYS[1], 0, 0, 'WITHSCORES')
local oldestScore = ''
if oldest[2] then
  oldestScore = oldest[2]
end
return {allowed, count, oldestScore}
`)

// SlidingWindowConfig defines configuration for the sliding window limiter.
type SlidingWindowConfig struct {
	KeyPrefix string
	TTL       time.Duration
}

// RateLimitRepository persists rate-limit attempts in Redis sorted sets.
type RateLimitRepository struct {
	client *redis.Client
	cfg    SlidingWindowConfig
}

// NewRateLimitRepository constructs a repository using the provided Redis client and config.
func NewRateLimitRepository(client *redis.Client, cfg SlidingWindowConfig) *RateLimitRepository {
	return &RateLimitRepository{client: client, cfg: cfg}
}

// Reserve runs the trim, count and record steps as one script so concurrent callers cannot overshoot the limit.
func (r *RateLimitRepository) Reserve(ctx context.Context, identifier string, limit int, window time.Duration, at time.Time) (port.RateLimitDecision, error) {
	if window <= 0 {
		return port.RateLimitDecision{}, errors.New("window must be positive")
	}
	if limit <= 0 {
		return port.RateLimitDecision{}, errors.New("limit must be positive")
	}

	ttl := r.cfg.TTL
	if ttl <= 0 {
		ttl = window
	}

	nowMs := at.UnixMilli()
	member := fmt.Sprintf("%d-%s", nowMs, uuid.NewString())

	raw, err := reserveScript.Run(ctx, r.client, []string{r.key(identifier)},
		nowMs,
		at.Add(-window).UnixMilli(),
		limit,
		ttl.Milliseconds(),
		member,
	).Slice()
	if err != nil {
		return port.RateLimitDecision{}, fmt.Errorf("redis reserve script: %w", err)
	}

	return parseDecision(raw)
}

func parseDecision(raw []any) (port.RateLimitDecision, error) {
	if len(raw) != 3 {
		return port.RateLimitDecision{}, fmt.Errorf("unexpected reserve reply length %d", len(raw))
	}

	allowed, ok := raw[0].(int64)
	if !ok {
		return port.RateLimitDecision{}, fmt.Errorf("unexpected allowed type %T", raw[0])
	}
	count, ok := raw[1].(int64)
	if !ok {
		return port.RateLimitDecision{}, fmt.Errorf("unexpected count type %T", raw[1])
	}

	decision := port.RateLimitDecision{Allowed: allowed == 1, Count: int(count)}

	if score, ok := raw[2].(string); ok && score != "" {
		ms, err := strconv.ParseFloat(score, 64)
		if err != nil {
			return port.RateLimitDecision{}, fmt.Errorf("parse oldest score: %w", err)
		}
		decision.Oldest = time.UnixMilli(int64(ms))
	}

	return decision, nil
}

func (r *RateLimitRepository) key(identifier string) string {
	if r.cfg.KeyPrefix == "" {
		return identifier
	}
	return fmt.Sprintf("%s:%s", r.cfg.KeyPrefix, identifier)
}

var _ port.RateLimitStore = (*RateLimitRepository)(nil)
