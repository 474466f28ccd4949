package usecase

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/arklim/session-security/internal/core/domain"
	"github.com/arklim/session-security/internal/core/port"
	"github.com/arklim/session-security/internal/repository"
)

var (
	// ErrLockdownNotFound indicates no active lockdown exists for the account.
	ErrLockdownNotFound = errors.New("lockdown not found")
	// ErrLockdownTarget indicates the alert does not identify an account to lock.
	ErrLockdownTarget = errors.New("alert has no lockdown target")
)

const defaultLockdownTTL = time.Hour

// LockdownService places, reads and lifts emergency account lockdowns.
type LockdownService struct {
	store  port.LockdownStore
	events port.EventPublisher
	ttl    time.Duration
	logger *zap.Logger
	now    func() time.Time
}

var _ port.EmergencyLockdown = (*LockdownService)(nil)

// NewLockdownService constructs a LockdownService. events may be nil.
func NewLockdownService(store port.LockdownStore, events port.EventPublisher, ttl time.Duration, log *zap.Logger) *LockdownService {
	if log == nil {
		log = zap.NewNop()
	}
	if ttl <= 0 {
		ttl = defaultLockdownTTL
	}
	return &LockdownService{
		store:  store,
		events: events,
		ttl:    ttl,
		logger: log,
		now:    func() time.Time { return time.Now().UTC() },
	}
}

// WithClock overrides the internal clock for deterministic tests.
func (s *LockdownService) WithClock(clock func() time.Time) *LockdownService {
	if clock != nil {
		s.now = clock
	}
	return s
}

// Trigger locks the account behind alert and announces it on the bus.
func (s *LockdownService) Trigger(ctx context.Context, alert domain.SecurityAlert) error {
	userID := strings.TrimSpace(alert.UserID)
	if userID == "" || userID == domain.SystemActor {
		return ErrLockdownTarget
	}

	now := s.now()
	lockdown := domain.Lockdown{
		UserID:      userID,
		AlertID:     alert.ID,
		Reason:      lockdownReason(alert),
		TriggeredAt: now,
		ExpiresAt:   now.Add(s.ttl),
	}

	if err := s.store.Place(ctx, lockdown, s.ttl); err != nil {
		return fmt.Errorf("place lockdown: %w", err)
	}

	s.logger.Warn("emergency lockdown placed",
		zap.String("user_id", userID),
		zap.String("alert_id", alert.ID),
		zap.Time("expires_at", lockdown.ExpiresAt),
	)

	if s.events == nil {
		return nil
	}
	if err := s.events.PublishLockdownTriggered(ctx, domain.LockdownTriggeredEvent{
		EventID:     uuid.NewString(),
		UserID:      lockdown.UserID,
		AlertID:     lockdown.AlertID,
		Reason:      lockdown.Reason,
		TriggeredAt: lockdown.TriggeredAt,
		ExpiresAt:   lockdown.ExpiresAt,
	}); err != nil {
		s.logger.Warn("failed to publish lockdown event", zap.String("user_id", userID), zap.Error(err))
	}

	return nil
}

// Status returns the active lockdown for userID.
func (s *LockdownService) Status(ctx context.Context, userID string) (*domain.Lockdown, error) {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return nil, ErrLockdownNotFound
	}

	lockdown, err := s.store.Get(ctx, userID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, ErrLockdownNotFound
		}
		return nil, fmt.Errorf("get lockdown: %w", err)
	}
	return lockdown, nil
}

// Lift removes the lockdown for userID.
func (s *LockdownService) Lift(ctx context.Context, userID string) error {
	if _, err := s.Status(ctx, userID); err != nil {
		return err
	}
	if err := s.store.Lift(ctx, userID); err != nil {
		return fmt.Errorf("lift lockdown: %w", err)
	}
	s.logger.Info("emergency lockdown lifted", zap.String("user_id", userID))
	return nil
}

func lockdownReason(alert domain.SecurityAlert) string {
	reason := "unblocked privilege escalation"
	if detail, ok := alert.Metadata["reason"].(string); ok && strings.TrimSpace(detail) != "" {
		reason += ": " + strings.TrimSpace(detail)
	}
	return reason
}
