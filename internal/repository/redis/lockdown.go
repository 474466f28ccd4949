package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/arklim/session-security/internal/core/domain"
	"github.com/arklim/session-security/internal/core/port"
	"github.com/arklim/session-security/internal/repository"
)

const defaultLockdownPrefix = "sessec:lockdown"

type lockdownRecord struct {
	UserID      string    `json:"user_id"`
	AlertID     string    `json:"alert_id"`
	Reason      string    `json:"reason"`
	TriggeredAt time.Time `json:"triggered_at"`
	ExpiresAt   time.Time `json:"expires_at"`
}

// LockdownRepository stores emergency lockdown markers with a TTL.
type LockdownRepository struct {
	client *redis.Client
	prefix string
}

// NewLockdownRepository wires a Redis client into a lockdown repository.
func NewLockdownRepository(client *redis.Client, keyPrefix string) *LockdownRepository {
	prefix := strings.TrimSpace(keyPrefix)
	if prefix == "" {
		prefix = defaultLockdownPrefix
	}
	return &LockdownRepository{client: client, prefix: prefix}
}

// Place stores the lockdown, replacing any existing marker for the user.
func (r *LockdownRepository) Place(ctx context.Context, lockdown domain.Lockdown, ttl time.Duration) error {
	if ttl <= 0 {
		return errors.New("ttl must be positive")
	}
	key := r.key(lockdown.UserID)
	if key == "" {
		return errors.New("user id must not be empty")
	}

	payload, err := json.Marshal(lockdownRecord{
		UserID:      lockdown.UserID,
		AlertID:     lockdown.AlertID,
		Reason:      lockdown.Reason,
		TriggeredAt: lockdown.TriggeredAt.UTC(),
		ExpiresAt:   lockdown.ExpiresAt.UTC(),
	})
	if err != nil {
		return fmt.Errorf("marshal lockdown: %w", err)
	}

	if err := r.client.Set(ctx, key, payload, ttl).Err(); err != nil {
		return fmt.Errorf("redis set lockdown: %w", err)
	}
	return nil
}

// Get returns the active lockdown or repository.ErrNotFound.
func (r *LockdownRepository) Get(ctx context.Context, userID string) (*domain.Lockdown, error) {
	key := r.key(userID)
	if key == "" {
		return nil, errors.New("user id must not be empty")
	}

	raw, err := r.client.Get(ctx, key).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, repository.ErrNotFound
		}
		return nil, fmt.Errorf("redis get lockdown: %w", err)
	}

	var record lockdownRecord
	if err := json.Unmarshal(raw, &record); err != nil {
		return nil, fmt.Errorf("unmarshal lockdown: %w", err)
	}

	return &domain.Lockdown{
		UserID:      record.UserID,
		AlertID:     record.AlertID,
		Reason:      record.Reason,
		TriggeredAt: record.TriggeredAt,
		ExpiresAt:   record.ExpiresAt,
	}, nil
}

// Lift removes the lockdown marker; lifting an absent lockdown is not an error.
func (r *LockdownRepository) Lift(ctx context.Context, userID string) error {
	key := r.key(userID)
	if key == "" {
		return errors.New("user id must not be empty")
	}
	if err := r.client.Del(ctx, key).Err(); err != nil {
		return fmt.Errorf("redis del lockdown: %w", err)
	}
	return nil
}

func (r *LockdownRepository) key(userID string) string {
	trimmed := strings.TrimSpace(userID)
	if trimmed == "" {
		return ""
	}
	return fmt.Sprintf("%s:%s", r.prefix, trimmed)
}

var _ port.LockdownStore = (*LockdownRepository)(nil)
