package port

import (
	"context"

	"github.com/arklim/session-security/internal/core/domain"
)

// EventPublisher publishes security events to the message bus.
type EventPublisher interface {
	PublishAlertRaised(ctx context.Context, event domain.AlertRaisedEvent) error
	PublishLockdownTriggered(ctx context.Context, event domain.LockdownTriggeredEvent) error
}
