package port

import (
	"context"

	"github.com/arklim/session-security/internal/core/domain"
)

// AuditRepository persists the append-only security audit log.
type AuditRepository interface {
	Insert(ctx context.Context, entry domain.AuditEntry) error
}

// AlertRepository reads alert rows back from the audit log and records acknowledgements.
type AlertRepository interface {
	ListRecentAlerts(ctx context.Context, types []domain.AlertType, limit int) ([]domain.AuditEntry, error)
	GetAlert(ctx context.Context, alertID string) (*domain.AuditEntry, error)
	// Acknowledge stores the acknowledgement, returning false when one already exists.
	Acknowledge(ctx context.Context, ack domain.AlertAcknowledgement) (bool, error)
}
