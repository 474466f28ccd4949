package handlers

import (
	"context"
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/arklim/session-security/internal/core/domain"
	"github.com/arklim/session-security/internal/transport/http/middleware"
	"github.com/arklim/session-security/internal/usecase"
)

// AlertReader lists and acknowledges monitor alerts.
type AlertReader interface {
	GetRecentAlerts(ctx context.Context, limit int) ([]domain.SecurityAlert, error)
	AcknowledgeAlert(ctx context.Context, alertID, userID string) (domain.AlertAcknowledgement, error)
}

// LockdownManager exposes emergency lockdown state.
type LockdownManager interface {
	Status(ctx context.Context, userID string) (*domain.Lockdown, error)
	Lift(ctx context.Context, userID string) error
}

var adminErrorCases = []ErrorCase{
	{Err: usecase.ErrAlertNotFound, Status: http.StatusNotFound, Code: CodeAlertNotFound, Message: "Alert not found"},
	{Err: usecase.ErrLockdownNotFound, Status: http.StatusNotFound, Code: CodeLockdownNotFound, Message: "No active lockdown for user"},
}

// AdminSecurityHandler serves the administrator security dashboard endpoints.
type AdminSecurityHandler struct {
	alerts    AlertReader
	lockdowns LockdownManager
}

func NewAdminSecurityHandler(alerts AlertReader, lockdowns LockdownManager) *AdminSecurityHandler {
	return &AdminSecurityHandler{alerts: alerts, lockdowns: lockdowns}
}

// RegisterRoutes binds the admin security routes to the provided router group.
func (h *AdminSecurityHandler) RegisterRoutes(r *gin.RouterGroup) {
	if r == nil {
		return
	}

	r.GET("/alerts", h.ListAlerts)
	r.POST("/alerts/:alert_id/acknowledge", h.AcknowledgeAlert)
	r.GET("/lockdowns/:user_id", h.GetLockdown)
	r.DELETE("/lockdowns/:user_id", h.LiftLockdown)
}

// ListAlerts serves GET /alerts?limit=N.
func (h *AdminSecurityHandler) ListAlerts(c *gin.Context) {
	limit := 0
	if raw := strings.TrimSpace(c.Query("limit")); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed < 0 {
			respondInvalidRequest(c, "limit must be a non-negative integer")
			return
		}
		limit = parsed
	}

	alerts, err := h.alerts.GetRecentAlerts(c.Request.Context(), limit)
	if err != nil {
		RespondWithMappedError(c, err, adminErrorCases)
		return
	}

	resp := SecurityAlertListResponse{Alerts: make([]SecurityAlertResponse, 0, len(alerts))}
	for _, alert := range alerts {
		resp.Alerts = append(resp.Alerts, newSecurityAlertResponse(alert))
	}
	c.JSON(http.StatusOK, resp)
}

// AcknowledgeAlert records the calling administrator as having reviewed the alert.
func (h *AdminSecurityHandler) AcknowledgeAlert(c *gin.Context) {
	userID, ok := middleware.GetAuthenticatedUserID(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, NewErrorResponse(c, "authentication required", middleware.CodeUnauthorized))
		return
	}

	ack, err := h.alerts.AcknowledgeAlert(c.Request.Context(), c.Param("alert_id"), userID)
	if err != nil {
		RespondWithMappedError(c, err, adminErrorCases)
		return
	}

	c.JSON(http.StatusOK, AcknowledgeAlertResponse{
		AlertID:        ack.AlertID,
		AcknowledgedBy: ack.AcknowledgedBy,
		AcknowledgedAt: ack.AcknowledgedAt.UTC(),
	})
}

func (h *AdminSecurityHandler) GetLockdown(c *gin.Context) {
	lockdown, err := h.lockdowns.Status(c.Request.Context(), c.Param("user_id"))
	if err != nil {
		RespondWithMappedError(c, err, adminErrorCases)
		return
	}

	c.JSON(http.StatusOK, LockdownResponse{
		UserID:      lockdown.UserID,
		AlertID:     lockdown.AlertID,
		Reason:      lockdown.Reason,
		TriggeredAt: lockdown.TriggeredAt.UTC(),
		ExpiresAt:   lockdown.ExpiresAt.UTC(),
	})
}

func (h *AdminSecurityHandler) LiftLockdown(c *gin.Context) {
	if err := h.lockdowns.Lift(c.Request.Context(), c.Param("user_id")); err != nil {
		RespondWithMappedError(c, err, adminErrorCases)
		return
	}
	c.Status(http.StatusNoContent)
}
