package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/arklim/session-security/internal/core/domain"
	"github.com/arklim/session-security/internal/transport/http/middleware"
	"github.com/arklim/session-security/internal/usecase"
)

type stubAlertReader struct {
	alerts    []domain.SecurityAlert
	err       error
	lastLimit int
	ackedBy   string
}

func (s *stubAlertReader) GetRecentAlerts(ctx context.Context, limit int) ([]domain.SecurityAlert, error) {
	s.lastLimit = limit
	return s.alerts, s.err
}

func (s *stubAlertReader) AcknowledgeAlert(ctx context.Context, alertID, userID string) (domain.AlertAcknowledgement, error) {
	if s.err != nil {
		return domain.AlertAcknowledgement{}, s.err
	}
	s.ackedBy = userID
	return domain.AlertAcknowledgement{AlertID: alertID, AcknowledgedBy: userID, AcknowledgedAt: time.Date(2026, 7, 1, 12, 0, 0, 0, time.UTC)}, nil
}

type stubLockdowns struct {
	lockdowns map[string]domain.Lockdown
}

func (s *stubLockdowns) Status(ctx context.Context, userID string) (*domain.Lockdown, error) {
	lockdown, ok := s.lockdowns[userID]
	if !ok {
		return nil, usecase.ErrLockdownNotFound
	}
	return &lockdown, nil
}

func (s *stubLockdowns) Lift(ctx context.Context, userID string) error {
	if _, ok := s.lockdowns[userID]; !ok {
		return usecase.ErrLockdownNotFound
	}
	delete(s.lockdowns, userID)
	return nil
}

func newAdminTestRouter(alerts AlertReader, lockdowns LockdownManager, userID string) *gin.Engine {
	gin.SetMode(gin.TestMode)

	router := gin.New()
	group := router.Group("/admin", func(c *gin.Context) {
		if userID != "" {
			c.Set(middleware.UserIDKey, userID)
		}
		c.Next()
	})
	NewAdminSecurityHandler(alerts, lockdowns).RegisterRoutes(group)
	return router
}

func serve(router *gin.Engine, method, path string) *httptest.ResponseRecorder {
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, httptest.NewRequest(method, path, nil))
	return rr
}

func TestListAlertsIncludesThreatScore(t *testing.T) {
	alerts := &stubAlertReader{alerts: []domain.SecurityAlert{{
		ID:        "a-1",
		Type:      domain.AlertPrivilegeEscalation,
		Severity:  domain.SeverityCritical,
		UserID:    "u-1",
		Timestamp: time.Date(2026, 7, 1, 12, 0, 0, 0, time.UTC),
		Metadata:  map[string]any{"blocked": false},
	}}}

	rr := serve(newAdminTestRouter(alerts, &stubLockdowns{}, "admin-1"), http.MethodGet, "/admin/alerts?limit=10")
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}
	if alerts.lastLimit != 10 {
		t.Fatalf("expected limit 10 to be forwarded, got %d", alerts.lastLimit)
	}

	var body SecurityAlertListResponse
	if err := json.Unmarshal(rr.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode body: %v", err)
	}
	if len(body.Alerts) != 1 || body.Alerts[0].ThreatScore != 100 || body.Alerts[0].Type != "privilege_escalation" {
		t.Fatalf("unexpected alerts %+v", body.Alerts)
	}
}

func TestListAlertsRejectsBadLimit(t *testing.T) {
	rr := serve(newAdminTestRouter(&stubAlertReader{}, &stubLockdowns{}, "admin-1"), http.MethodGet, "/admin/alerts?limit=abc")
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rr.Code)
	}
}

func TestAcknowledgeAlertUsesAuthenticatedUser(t *testing.T) {
	alerts := &stubAlertReader{}

	rr := serve(newAdminTestRouter(alerts, &stubLockdowns{}, "admin-1"), http.MethodPost, "/admin/alerts/a-1/acknowledge")
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}
	if alerts.ackedBy != "admin-1" {
		t.Fatalf("expected acknowledgement by admin-1, got %q", alerts.ackedBy)
	}

	rr = serve(newAdminTestRouter(&stubAlertReader{err: usecase.ErrAlertNotFound}, &stubLockdowns{}, "admin-1"), http.MethodPost, "/admin/alerts/a-2/acknowledge")
	if rr.Code != http.StatusNotFound {
		t.Fatalf("expected 404 for unknown alert, got %d", rr.Code)
	}

	rr = serve(newAdminTestRouter(alerts, &stubLockdowns{}, ""), http.MethodPost, "/admin/alerts/a-1/acknowledge")
	if rr.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 without user, got %d", rr.Code)
	}
}

func TestLockdownStatusAndLift(t *testing.T) {
	lockdowns := &stubLockdowns{lockdowns: map[string]domain.Lockdown{
		"u-1": {UserID: "u-1", AlertID: "a-1", Reason: "unblocked privilege escalation"},
	}}
	router := newAdminTestRouter(&stubAlertReader{}, lockdowns, "admin-1")

	rr := serve(router, http.MethodGet, "/admin/lockdowns/u-1")
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}
	var body LockdownResponse
	if err := json.Unmarshal(rr.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode body: %v", err)
	}
	if body.AlertID != "a-1" {
		t.Fatalf("unexpected lockdown %+v", body)
	}

	if rr := serve(router, http.MethodDelete, "/admin/lockdowns/u-1"); rr.Code != http.StatusNoContent {
		t.Fatalf("expected 204 on lift, got %d", rr.Code)
	}
	if rr := serve(router, http.MethodGet, "/admin/lockdowns/u-1"); rr.Code != http.StatusNotFound {
		t.Fatalf("expected 404 after lift, got %d", rr.Code)
	}
}
