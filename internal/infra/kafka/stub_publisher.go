package kafka

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/arklim/session-security/internal/core/domain"
	"github.com/arklim/session-security/internal/core/port"
)

// StubPublisher logs events instead of sending them to Kafka. Used when no brokers are configured.
type StubPublisher struct {
	logger *zap.Logger
}

// NewStubPublisher constructs a logging event publisher.
func NewStubPublisher(logger *zap.Logger) *StubPublisher {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &StubPublisher{logger: logger}
}

func (p *StubPublisher) logEvent(topic, userID string, at time.Time, fields ...zap.Field) {
	if at.IsZero() {
		at = time.Now().UTC()
	}

	base := []zap.Field{
		zap.String("topic", topic),
		zap.String("user_id", userID),
		zap.Time("timestamp", at.UTC()),
	}
	p.logger.Info("stub event published", append(base, fields...)...)
}

// PublishAlertRaised logs security alert events.
func (p *StubPublisher) PublishAlertRaised(_ context.Context, event domain.AlertRaisedEvent) error {
	p.logEvent(TopicSecurityAlert, event.UserID, event.RaisedAt,
		zap.String("alert_id", event.AlertID),
		zap.String("alert_type", string(event.AlertType)),
		zap.String("severity", string(event.Severity)),
		zap.Int("threat_score", event.ThreatScore),
	)
	return nil
}

// PublishLockdownTriggered logs lockdown events.
func (p *StubPublisher) PublishLockdownTriggered(_ context.Context, event domain.LockdownTriggeredEvent) error {
	p.logEvent(TopicSecurityLockdown, event.UserID, event.TriggeredAt,
		zap.String("alert_id", event.AlertID),
		zap.String("reason", event.Reason),
		zap.Time("expires_at", event.ExpiresAt),
	)
	return nil
}

var _ port.EventPublisher = (*StubPublisher)(nil)
