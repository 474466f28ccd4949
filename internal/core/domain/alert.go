package domain

import (
	"strings"
	"time"
)

// AlertType enumerates the administrative activity the monitor tracks.
type AlertType string

const (
	AlertBootstrapTokenGenerated AlertType = "bootstrap_token_generated"
	AlertAdminRoleAssigned       AlertType = "admin_role_assigned"
	AlertPrivilegeEscalation     AlertType = "privilege_escalation"
	AlertSuspiciousAdminActivity AlertType = "suspicious_admin_activity"
)

// TrackedAlertTypes lists every alert type persisted by the monitor.
var TrackedAlertTypes = []AlertType{
	AlertBootstrapTokenGenerated,
	AlertAdminRoleAssigned,
	AlertPrivilegeEscalation,
	AlertSuspiciousAdminActivity,
}

// Severity classifies alerts and audit entries.
type Severity string

const (
	SeverityCritical Severity = "critical"
	SeverityHigh     Severity = "high"
	SeverityMedium   Severity = "medium"
	SeverityLow      Severity = "low"
)

// ParseSeverity normalises a raw severity value, defaulting to low.
func ParseSeverity(raw string) Severity {
	switch Severity(strings.ToLower(strings.TrimSpace(raw))) {
	case SeverityCritical:
		return SeverityCritical
	case SeverityHigh:
		return SeverityHigh
	case SeverityMedium:
		return SeverityMedium
	default:
		return SeverityLow
	}
}

// SystemActor identifies alerts without a human actor.
const SystemActor = "system"

// SecurityAlert is raised by the admin security monitor from a storage change event.
type SecurityAlert struct {
	ID           string
	Type         AlertType
	Severity     Severity
	UserID       string
	Metadata     map[string]any
	Timestamp    time.Time
	Acknowledged bool
}

// Blocked reports whether the underlying attempt was recorded as blocked.
func (a SecurityAlert) Blocked() bool {
	if a.Metadata == nil {
		return false
	}
	switch v := a.Metadata["blocked"].(type) {
	case bool:
		return v
	case string:
		return strings.EqualFold(strings.TrimSpace(v), "true")
	default:
		return false
	}
}

// Lockdown records an emergency lockdown placed on an account.
type Lockdown struct {
	UserID      string
	AlertID     string
	Reason      string
	TriggeredAt time.Time
	ExpiresAt   time.Time
}
