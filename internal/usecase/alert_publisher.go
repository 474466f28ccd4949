package usecase

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/arklim/session-security/internal/core/domain"
	"github.com/arklim/session-security/internal/core/port"
)

// AlertMetrics counts raised alerts.
type AlertMetrics interface {
	AlertRaised(alertType, severity string)
}

// NewAlertPublishingListener returns a listener that counts each alert and publishes it to the bus.
func NewAlertPublishingListener(events port.EventPublisher, metrics AlertMetrics) AlertListener {
	return func(ctx context.Context, alert domain.SecurityAlert) error {
		if metrics != nil {
			metrics.AlertRaised(string(alert.Type), string(alert.Severity))
		}
		if events == nil {
			return nil
		}

		if err := events.PublishAlertRaised(ctx, domain.AlertRaisedEvent{
			EventID:     uuid.NewString(),
			AlertID:     alert.ID,
			AlertType:   alert.Type,
			Severity:    alert.Severity,
			UserID:      alert.UserID,
			ThreatScore: ThreatScore(alert),
			RaisedAt:    alert.Timestamp,
			Metadata:    alert.Metadata,
		}); err != nil {
			return fmt.Errorf("publish alert: %w", err)
		}
		return nil
	}
}
