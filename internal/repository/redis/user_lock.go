package redis

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/arklim/session-security/internal/core/port"
)

const defaultUserLockPrefix = "sessec:lock:user"

var releaseScript = redis.NewScript(`
if redis.call('GET', KEYS[1]) == ARGV[1] then
  return redis.call('DEL', KEYS[1])
end
return 0
`)

// UserLockRepository provides a per-user mutex for session mutations.
type UserLockRepository struct {
	client *redis.Client
	prefix string
}

// NewUserLockRepository constructs a lock repository; an empty prefix falls back to the default.
func NewUserLockRepository(client *redis.Client, keyPrefix string) *UserLockRepository {
	prefix := strings.TrimSpace(keyPrefix)
	if prefix == "" {
		prefix = defaultUserLockPrefix
	}
	return &UserLockRepository{client: client, prefix: prefix}
}

// Acquire sets the lock key when absent. The returned token must be passed to Release.
func (r *UserLockRepository) Acquire(ctx context.Context, userID string, ttl time.Duration) (string, bool, error) {
	if ttl <= 0 {
		return "", false, errors.New("ttl must be positive")
	}
	key := r.key(userID)
	if key == "" {
		return "", false, errors.New("user id must not be empty")
	}

	token := uuid.NewString()
	ok, err := r.client.SetNX(ctx, key, token, ttl).Result()
	if err != nil {
		return "", false, fmt.Errorf("redis setnx user lock: %w", err)
	}
	if !ok {
		return "", false, nil
	}

	return token, true, nil
}

// Release deletes the lock only when it is still held with token.
func (r *UserLockRepository) Release(ctx context.Context, userID, token string) error {
	key := r.key(userID)
	if key == "" || token == "" {
		return nil
	}

	if err := releaseScript.Run(ctx, r.client, []string{key}, token).Err(); err != nil {
		return fmt.Errorf("redis release user lock: %w", err)
	}
	return nil
}

func (r *UserLockRepository) key(userID string) string {
	trimmed := strings.TrimSpace(userID)
	if trimmed == "" {
		return ""
	}
	return fmt.Sprintf("%s:%s", r.prefix, trimmed)
}

var _ port.UserLock = (*UserLockRepository)(nil)
