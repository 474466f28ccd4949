package handlers

import (
	"fmt"
	"regexp"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/arklim/session-security/internal/core/domain"
	"github.com/arklim/session-security/internal/usecase"
)

// Error codes returned in ErrorResponse.Code.
const (
	CodeInvalidRequest      = "invalid_request"
	CodeInvalidAction       = "invalid_action"
	CodeSessionNotFound     = "session_not_found"
	CodeConcurrentOperation = "concurrent_operation"
	CodeAlertNotFound       = "alert_not_found"
	CodeLockdownNotFound    = "lockdown_not_found"
	CodeInternal            = "internal_error"
)

// ErrorResponse represents a generic error payload with trace ID for debugging.
type ErrorResponse struct {
	Error   string `json:"error"`
	Code    string `json:"code"`
	TraceID string `json:"trace_id,omitempty"`
}

// NewErrorResponse creates an error response with trace ID from context
func NewErrorResponse(c *gin.Context, message, code string) ErrorResponse {
	traceID, _ := c.Get("trace_id")
	traceIDStr, _ := traceID.(string)

	return ErrorResponse{
		Error:   message,
		Code:    code,
		TraceID: traceIDStr,
	}
}

// SessionSecurityRequest is the action-dispatch payload of the session security endpoint.
type SessionSecurityRequest struct {
	SessionID         string `json:"sessionId" binding:"required"`
	DeviceFingerprint string `json:"deviceFingerprint"`
	IPAddress         string `json:"ipAddress"`
	UserAgent         string `json:"userAgent"`
	Action            string `json:"action"`
}

func (r SessionSecurityRequest) toUsecase() usecase.SessionRequest {
	return usecase.SessionRequest{
		SessionID:         r.SessionID,
		DeviceFingerprint: r.DeviceFingerprint,
		IPAddress:         r.IPAddress,
		UserAgent:         r.UserAgent,
	}
}

type ValidateSessionResponse struct {
	Valid         bool     `json:"valid"`
	SecurityScore int      `json:"securityScore"`
	Flags         []string `json:"flags"`
	Reason        string   `json:"reason"`
}

type RotateSessionResponse struct {
	Success      bool      `json:"success"`
	NewSessionID string    `json:"newSessionId"`
	ExpiresAt    time.Time `json:"expiresAt"`
}

type InvalidateSessionResponse struct {
	Success bool `json:"success"`
}

type CheckConcurrentResponse struct {
	ActiveSessions int  `json:"activeSessions"`
	MaxAllowed     int  `json:"maxAllowed"`
	LimitEnforced  bool `json:"limitEnforced"`
}

// SecurityAlertResponse is the admin view of a monitor alert.
type SecurityAlertResponse struct {
	ID           string         `json:"id"`
	Type         string         `json:"type"`
	Severity     string         `json:"severity"`
	UserID       string         `json:"user_id"`
	ThreatScore  int            `json:"threat_score"`
	Metadata     map[string]any `json:"metadata,omitempty"`
	Timestamp    time.Time      `json:"timestamp"`
	Acknowledged bool           `json:"acknowledged"`
}

func newSecurityAlertResponse(alert domain.SecurityAlert) SecurityAlertResponse {
	return SecurityAlertResponse{
		ID:           alert.ID,
		Type:         string(alert.Type),
		Severity:     string(alert.Severity),
		UserID:       alert.UserID,
		ThreatScore:  usecase.ThreatScore(alert),
		Metadata:     alert.Metadata,
		Timestamp:    alert.Timestamp,
		Acknowledged: alert.Acknowledged,
	}
}

type SecurityAlertListResponse struct {
	Alerts []SecurityAlertResponse `json:"alerts"`
}

type AcknowledgeAlertResponse struct {
	AlertID        string    `json:"alert_id"`
	AcknowledgedBy string    `json:"acknowledged_by"`
	AcknowledgedAt time.Time `json:"acknowledged_at"`
}

type LockdownResponse struct {
	UserID      string    `json:"user_id"`
	AlertID     string    `json:"alert_id"`
	Reason      string    `json:"reason"`
	TriggeredAt time.Time `json:"triggered_at"`
	ExpiresAt   time.Time `json:"expires_at"`
}

// FieldRuleRequest is the wire form of domain.FieldRule. Custom validators cannot be expressed over HTTP.
type FieldRuleRequest struct {
	Required  bool   `json:"required"`
	MinLength int    `json:"min_length" binding:"gte=0"`
	MaxLength int    `json:"max_length" binding:"gte=0"`
	Pattern   string `json:"pattern"`
	Type      string `json:"type" binding:"omitempty,oneof=general email url filename sql password"`
}

func (r FieldRuleRequest) toDomain() (domain.FieldRule, error) {
	rule := domain.FieldRule{
		Required:  r.Required,
		MinLength: r.MinLength,
		MaxLength: r.MaxLength,
		Type:      domain.FieldType(r.Type),
	}
	if r.Pattern != "" {
		pattern, err := regexp.Compile(r.Pattern)
		if err != nil {
			return domain.FieldRule{}, fmt.Errorf("invalid pattern: %w", err)
		}
		rule.Pattern = pattern
	}
	return rule, nil
}

type ValidateFieldRequest struct {
	Field    string           `json:"field" binding:"required"`
	Value    string           `json:"value"`
	Rule     FieldRuleRequest `json:"rule"`
	FormName string           `json:"form_name"`
}

type ValidateFormRequest struct {
	Values   map[string]string           `json:"values"`
	Rules    map[string]FieldRuleRequest `json:"rules" binding:"required,dive"`
	FormName string                      `json:"form_name"`
}

type ValidationResultResponse struct {
	IsValid        bool     `json:"is_valid"`
	Errors         []string `json:"errors"`
	Warnings       []string `json:"warnings"`
	SanitizedValue string   `json:"sanitized_value"`
	RiskLevel      string   `json:"risk_level"`
}

func newValidationResultResponse(result domain.ValidationResult) ValidationResultResponse {
	return ValidationResultResponse{
		IsValid:        result.IsValid,
		Errors:         nonNil(result.Errors),
		Warnings:       nonNil(result.Warnings),
		SanitizedValue: result.SanitizedValue,
		RiskLevel:      string(result.RiskLevel),
	}
}

type FormValidationResponse struct {
	IsValid         bool                                `json:"is_valid"`
	Fields          map[string]ValidationResultResponse `json:"fields"`
	SanitizedValues map[string]string                   `json:"sanitized_values"`
	RiskLevel       string                              `json:"risk_level"`
}

type HealthResponse struct {
	Status    string    `json:"status"`
	StartedAt time.Time `json:"started_at"`
}

type ReadinessResponse struct {
	Status string            `json:"status"`
	Checks map[string]string `json:"checks"`
}

func nonNil(values []string) []string {
	if values == nil {
		return []string{}
	}
	return values
}
