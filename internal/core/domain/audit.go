package domain

import "time"

// Audit event categories.
const (
	CategorySessionSecurity    = "session_security"
	CategoryAdminSecurity      = "admin_security"
	CategorySecurityEscalation = "security_escalation"
	CategoryInputValidation    = "input_validation"
)

// Audit event types written outside the alert taxonomy.
const (
	EventSessionValidationAnomaly = "session_validation_anomaly"
	EventSessionRotation          = "session_rotation"
	EventSessionInvalidated       = "session_invalidated"
	EventConcurrentLimitEnforced  = "concurrent_session_limit_enforced"
	EventAlertEscalated           = "security_alert_escalated"
	EventAlertAcknowledged        = "security_alert_acknowledged"
	EventFieldValidationFailure   = "field_validation_failure"
	EventFormValidationFailure    = "form_validation_failure"
	EventFileValidationFailure    = "file_validation_failure"
)

// AuditEntry is an append-only row in the security audit log.
type AuditEntry struct {
	ID           string
	EventType    string
	Category     string
	Severity     Severity
	UserID       string
	Data         map[string]any
	RiskScore    *int
	ThreatScore  *int
	AutoBlocked  bool
	CreatedAt    time.Time
	Acknowledged bool
}

// AlertAcknowledgement links an alert audit row to the administrator who reviewed it.
type AlertAcknowledgement struct {
	AlertID        string
	AcknowledgedBy string
	AcknowledgedAt time.Time
}
