package port

import (
	"context"
	"time"

	"github.com/arklim/session-security/internal/core/domain"
)

// EmergencyLockdown is invoked for critical, unblocked privilege escalation alerts.
type EmergencyLockdown interface {
	Trigger(ctx context.Context, alert domain.SecurityAlert) error
}

// LockdownStore persists lockdown markers for accounts.
type LockdownStore interface {
	Place(ctx context.Context, lockdown domain.Lockdown, ttl time.Duration) error
	Get(ctx context.Context, userID string) (*domain.Lockdown, error)
	Lift(ctx context.Context, userID string) error
}

// UserLock serialises session mutations for a single account.
type UserLock interface {
	Acquire(ctx context.Context, userID string, ttl time.Duration) (string, bool, error)
	Release(ctx context.Context, userID, token string) error
}
