package usecase

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"go.uber.org/zap/zaptest"

	"github.com/arklim/session-security/internal/core/domain"
)

var sessionTestNow = time.Date(2026, 5, 4, 10, 0, 0, 0, time.UTC)

func strPtr(value string) *string { return &value }

func storedSession(id, userID string) domain.Session {
	return domain.Session{
		ID:                id,
		UserID:            userID,
		DeviceFingerprint: "fp-1",
		IPAddress:         strPtr("203.0.113.10"),
		UserAgent:         strPtr("Mozilla/5.0"),
		SecurityScore:     100,
		LastValidation:    sessionTestNow.Add(-time.Hour),
		ExpiresAt:         sessionTestNow.Add(time.Hour),
		CreatedAt:         sessionTestNow.Add(-2 * time.Hour),
	}
}

func newTestSessionService(t *testing.T, sessions *fakeSessionRepository, audit *fakeAuditRepository) *SessionSecurityService {
	t.Helper()
	service := NewSessionSecurityService(sessions, audit, SessionSecurityConfig{}, zaptest.NewLogger(t))
	service.WithClock(func() time.Time { return sessionTestNow })
	return service
}

func TestValidateFullMatchScoresHundred(t *testing.T) {
	sessions := newFakeSessionRepository(storedSession("s-1", "u-1"))
	audit := newFakeAuditRepository()
	metrics := newCountingMetrics()
	service := newTestSessionService(t, sessions, audit).WithMetrics(metrics)

	result, err := service.Validate(context.Background(), SessionRequest{
		SessionID:         "s-1",
		DeviceFingerprint: "fp-1",
		IPAddress:         "203.0.113.10",
		UserAgent:         "Mozilla/5.0",
	})
	if err != nil {
		t.Fatalf("Validate returned error: %v", err)
	}
	if !result.Valid || result.SecurityScore != 100 {
		t.Fatalf("expected valid score 100, got %+v", result)
	}
	if len(result.Flags) != 0 {
		t.Fatalf("expected no flags, got %v", result.Flags)
	}
	if result.Reason != "Session valid" {
		t.Fatalf("unexpected reason %q", result.Reason)
	}
	if len(audit.all()) != 0 {
		t.Fatalf("expected no audit rows, got %d", len(audit.all()))
	}

	stored := sessions.session("s-1")
	if !stored.LastValidation.Equal(sessionTestNow) || stored.SuspiciousActivityCount != 0 {
		t.Fatalf("unexpected persisted validation state: %+v", stored)
	}
	if metrics.validations["valid"] != 1 {
		t.Fatalf("expected valid outcome to be counted, got %v", metrics.validations)
	}
}

func TestValidateExpiredSessionIsRejected(t *testing.T) {
	session := storedSession("s-1", "u-1")
	session.ExpiresAt = sessionTestNow.Add(-time.Second)
	sessions := newFakeSessionRepository(session)
	service := newTestSessionService(t, sessions, newFakeAuditRepository())

	result, err := service.Validate(context.Background(), SessionRequest{
		SessionID:         "s-1",
		DeviceFingerprint: "fp-1",
		IPAddress:         "203.0.113.10",
		UserAgent:         "Mozilla/5.0",
	})
	if err != nil {
		t.Fatalf("Validate returned error: %v", err)
	}
	if result.Valid || result.SecurityScore != 0 || result.Reason != "Session expired" {
		t.Fatalf("expected expired rejection, got %+v", result)
	}
	if len(sessions.validations) != 0 {
		t.Fatalf("expired session must not be updated")
	}
}

func TestValidateMissingSession(t *testing.T) {
	service := newTestSessionService(t, newFakeSessionRepository(), newFakeAuditRepository())

	result, err := service.Validate(context.Background(), SessionRequest{SessionID: "missing", DeviceFingerprint: "fp"})
	if err != nil {
		t.Fatalf("Validate returned error: %v", err)
	}
	if result.Valid || result.SecurityScore != 0 || result.Reason != "Session not found" {
		t.Fatalf("expected not found result, got %+v", result)
	}
	if result.Flags == nil {
		t.Fatalf("expected empty, non-nil flags")
	}
}

func TestValidateFingerprintMismatchCostsThirtyFive(t *testing.T) {
	sessions := newFakeSessionRepository(storedSession("s-1", "u-1"))
	audit := newFakeAuditRepository()
	service := newTestSessionService(t, sessions, audit)

	result, err := service.Validate(context.Background(), SessionRequest{
		SessionID:         "s-1",
		DeviceFingerprint: "other-device",
		IPAddress:         "203.0.113.10",
		UserAgent:         "Mozilla/5.0",
	})
	if err != nil {
		t.Fatalf("Validate returned error: %v", err)
	}
	if result.SecurityScore != 65 {
		t.Fatalf("expected score 65, got %d", result.SecurityScore)
	}
	if !result.Valid {
		t.Fatalf("expected score 65 to remain valid")
	}
	if len(result.Flags) != 1 || result.Flags[0] != domain.FlagDeviceFingerprintMismatch {
		t.Fatalf("unexpected flags %v", result.Flags)
	}

	anomalies := audit.byType(domain.EventSessionValidationAnomaly)
	if len(anomalies) != 1 {
		t.Fatalf("expected one anomaly row, got %d", len(anomalies))
	}
	if anomalies[0].Severity != domain.SeverityMedium {
		t.Fatalf("expected medium severity, got %s", anomalies[0].Severity)
	}
	if anomalies[0].RiskScore == nil || *anomalies[0].RiskScore != 35 {
		t.Fatalf("expected risk score 35, got %v", anomalies[0].RiskScore)
	}
	if ip := anomalies[0].Data["ip_address"]; ip != "203.0.*.*" {
		t.Fatalf("expected masked ip in audit data, got %v", ip)
	}
	if count := sessions.session("s-1").SuspiciousActivityCount; count != 1 {
		t.Fatalf("expected suspicious count 1, got %d", count)
	}
}

func TestValidateAllMismatchesIsHighSeverity(t *testing.T) {
	sessions := newFakeSessionRepository(storedSession("s-1", "u-1"))
	audit := newFakeAuditRepository()
	service := newTestSessionService(t, sessions, audit)

	result, err := service.Validate(context.Background(), SessionRequest{
		SessionID:         "s-1",
		DeviceFingerprint: "other",
		IPAddress:         "198.51.100.7",
		UserAgent:         "curl/8.0",
	})
	if err != nil {
		t.Fatalf("Validate returned error: %v", err)
	}
	if result.SecurityScore != 35 || result.Valid {
		t.Fatalf("expected invalid score 35, got %+v", result)
	}
	if result.Reason != "Security score below threshold" {
		t.Fatalf("unexpected reason %q", result.Reason)
	}
	want := []string{domain.FlagDeviceFingerprintMismatch, domain.FlagIPAddressChange, domain.FlagUserAgentChange}
	if fmt.Sprint(result.Flags) != fmt.Sprint(want) {
		t.Fatalf("expected flags %v, got %v", want, result.Flags)
	}
	anomalies := audit.byType(domain.EventSessionValidationAnomaly)
	if len(anomalies) != 1 || anomalies[0].Severity != domain.SeverityHigh {
		t.Fatalf("expected one high severity anomaly, got %+v", anomalies)
	}
}

func TestValidateThresholdBoundary(t *testing.T) {
	sessions := newFakeSessionRepository(storedSession("s-1", "u-1"))
	service := newTestSessionService(t, sessions, newFakeAuditRepository())

	// Fingerprint mismatch offset by a matching IP lands exactly on the threshold.
	result, err := service.Validate(context.Background(), SessionRequest{
		SessionID:         "s-1",
		DeviceFingerprint: "other",
		IPAddress:         "203.0.113.10",
	})
	if err != nil {
		t.Fatalf("Validate returned error: %v", err)
	}
	if result.SecurityScore != 60 || !result.Valid {
		t.Fatalf("expected score 60 to be valid, got %+v", result)
	}

	if !isValidScore(60) {
		t.Fatalf("expected 60 to be valid")
	}
	if isValidScore(59) {
		t.Fatalf("expected 59 to be invalid")
	}
}

func TestValidateOmittedContextIsNeutral(t *testing.T) {
	sessions := newFakeSessionRepository(storedSession("s-1", "u-1"))
	service := newTestSessionService(t, sessions, newFakeAuditRepository())

	result, err := service.Validate(context.Background(), SessionRequest{SessionID: "s-1", DeviceFingerprint: "fp-1"})
	if err != nil {
		t.Fatalf("Validate returned error: %v", err)
	}
	if result.SecurityScore != 80 || len(result.Flags) != 0 {
		t.Fatalf("expected score 80 without flags, got %+v", result)
	}
}

func TestValidatePropagatesStorageErrors(t *testing.T) {
	sessions := newFakeSessionRepository()
	sessions.getErr = errors.New("connection reset")
	service := newTestSessionService(t, sessions, newFakeAuditRepository())

	if _, err := service.Validate(context.Background(), SessionRequest{SessionID: "s-1"}); err == nil {
		t.Fatalf("expected storage error to propagate")
	}
}

func TestClampScore(t *testing.T) {
	cases := map[int]int{-20: 0, 0: 0, 45: 45, 100: 100, 140: 100}
	for input, want := range cases {
		if got := clampScore(input); got != want {
			t.Fatalf("clampScore(%d) = %d, want %d", input, got, want)
		}
	}
}

func TestRotateIssuesNewIdentity(t *testing.T) {
	sessions := newFakeSessionRepository(storedSession("old", "u-1"))
	audit := newFakeAuditRepository()
	lock := newFakeUserLock()
	service := newTestSessionService(t, sessions, audit).WithUserLock(lock)

	rotation, err := service.Rotate(context.Background(), SessionRequest{SessionID: "old", DeviceFingerprint: "fp-1"})
	if err != nil {
		t.Fatalf("Rotate returned error: %v", err)
	}
	if !rotation.Success || len(rotation.NewSessionID) != 64 {
		t.Fatalf("unexpected rotation %+v", rotation)
	}
	if !rotation.ExpiresAt.Equal(sessionTestNow.Add(24 * time.Hour)) {
		t.Fatalf("expected 24h expiry, got %s", rotation.ExpiresAt)
	}
	if sessions.has("old") {
		t.Fatalf("expected old session to be removed")
	}

	next := sessions.session(rotation.NewSessionID)
	if next.UserID != "u-1" || next.SecurityScore != 0 {
		t.Fatalf("unexpected new session %+v", next)
	}
	if next.IPAddress == nil || *next.IPAddress != "203.0.113.10" || next.UserAgent == nil || *next.UserAgent != "Mozilla/5.0" {
		t.Fatalf("expected ip and user agent to be inherited, got %+v", next)
	}

	rotations := audit.byType(domain.EventSessionRotation)
	if len(rotations) != 1 {
		t.Fatalf("expected one rotation audit row, got %d", len(rotations))
	}
	if rotations[0].Data["old_session_id"] != "old" || rotations[0].Data["new_session_id"] != rotation.NewSessionID {
		t.Fatalf("unexpected rotation audit data %v", rotations[0].Data)
	}
	if lock.acquired != 1 || lock.released != 1 {
		t.Fatalf("expected lock to be acquired and released once, got %d/%d", lock.acquired, lock.released)
	}

	old, err := service.Validate(context.Background(), SessionRequest{SessionID: "old", DeviceFingerprint: "fp-1"})
	if err != nil {
		t.Fatalf("Validate old returned error: %v", err)
	}
	if old.Valid || old.Reason != "Session not found" {
		t.Fatalf("expected old session to be not found, got %+v", old)
	}

	fresh, err := service.Validate(context.Background(), SessionRequest{SessionID: rotation.NewSessionID, DeviceFingerprint: "fp-1"})
	if err != nil {
		t.Fatalf("Validate new returned error: %v", err)
	}
	if !fresh.Valid || fresh.SecurityScore != 80 {
		t.Fatalf("expected new session to score 80, got %+v", fresh)
	}
}

func TestRotateUsesRequestContext(t *testing.T) {
	sessions := newFakeSessionRepository(storedSession("old", "u-1"))
	service := newTestSessionService(t, sessions, newFakeAuditRepository())

	rotation, err := service.Rotate(context.Background(), SessionRequest{
		SessionID:         "old",
		DeviceFingerprint: "fp-2",
		IPAddress:         "198.51.100.1",
	})
	if err != nil {
		t.Fatalf("Rotate returned error: %v", err)
	}

	next := sessions.session(rotation.NewSessionID)
	if next.DeviceFingerprint != "fp-2" || *next.IPAddress != "198.51.100.1" || *next.UserAgent != "Mozilla/5.0" {
		t.Fatalf("unexpected new session context %+v", next)
	}
}

func TestRotateMissingSession(t *testing.T) {
	service := newTestSessionService(t, newFakeSessionRepository(), newFakeAuditRepository())

	if _, err := service.Rotate(context.Background(), SessionRequest{SessionID: "missing"}); !errors.Is(err, ErrSessionNotFound) {
		t.Fatalf("expected ErrSessionNotFound, got %v", err)
	}
}

func TestRotateLockContention(t *testing.T) {
	sessions := newFakeSessionRepository(storedSession("old", "u-1"))
	lock := newFakeUserLock()
	lock.held["u-1"] = "someone-else"
	service := newTestSessionService(t, sessions, newFakeAuditRepository()).WithUserLock(lock)

	if _, err := service.Rotate(context.Background(), SessionRequest{SessionID: "old"}); !errors.Is(err, ErrConcurrentSessionOperation) {
		t.Fatalf("expected ErrConcurrentSessionOperation, got %v", err)
	}
	if !sessions.has("old") {
		t.Fatalf("session must be untouched when the lock is held")
	}
}

func TestInvalidateIsIdempotent(t *testing.T) {
	sessions := newFakeSessionRepository(storedSession("s-1", "u-1"))
	audit := newFakeAuditRepository()
	service := newTestSessionService(t, sessions, audit)

	if err := service.Invalidate(context.Background(), "s-1"); err != nil {
		t.Fatalf("Invalidate returned error: %v", err)
	}
	if sessions.has("s-1") {
		t.Fatalf("expected session to be deleted")
	}
	if err := service.Invalidate(context.Background(), "s-1"); err != nil {
		t.Fatalf("second Invalidate returned error: %v", err)
	}
	if rows := audit.byType(domain.EventSessionInvalidated); len(rows) != 1 {
		t.Fatalf("expected one invalidation audit row, got %d", len(rows))
	}
}

func TestCheckConcurrentEvictsLeastRecentlyValidated(t *testing.T) {
	seeded := make([]domain.Session, 0, 7)
	for i := 0; i < 7; i++ {
		session := storedSession(fmt.Sprintf("s-%d", i), "u-1")
		session.LastValidation = sessionTestNow.Add(-time.Duration(i+1) * time.Minute)
		seeded = append(seeded, session)
	}
	other := storedSession("other-user", "u-2")
	sessions := newFakeSessionRepository(append(seeded, other)...)
	audit := newFakeAuditRepository()
	service := newTestSessionService(t, sessions, audit).WithUserLock(newFakeUserLock())

	check, err := service.CheckConcurrent(context.Background(), "s-0")
	if err != nil {
		t.Fatalf("CheckConcurrent returned error: %v", err)
	}
	if check.ActiveSessions != 5 || check.MaxAllowed != 5 || !check.LimitEnforced {
		t.Fatalf("unexpected check %+v", check)
	}

	for _, evicted := range []string{"s-5", "s-6"} {
		if sessions.has(evicted) {
			t.Fatalf("expected %s to be evicted", evicted)
		}
	}
	for _, kept := range []string{"s-0", "s-1", "s-2", "s-3", "s-4", "other-user"} {
		if !sessions.has(kept) {
			t.Fatalf("expected %s to be kept", kept)
		}
	}

	rows := audit.byType(domain.EventConcurrentLimitEnforced)
	if len(rows) != 1 {
		t.Fatalf("expected one summary audit row, got %d", len(rows))
	}
	if rows[0].Data["total_sessions"] != 7 || rows[0].Data["evicted_count"] != 2 {
		t.Fatalf("unexpected audit data %v", rows[0].Data)
	}
}

func TestCheckConcurrentUnderLimit(t *testing.T) {
	sessions := newFakeSessionRepository(storedSession("s-1", "u-1"), storedSession("s-2", "u-1"))
	audit := newFakeAuditRepository()
	service := newTestSessionService(t, sessions, audit)

	check, err := service.CheckConcurrent(context.Background(), "s-1")
	if err != nil {
		t.Fatalf("CheckConcurrent returned error: %v", err)
	}
	if check.ActiveSessions != 2 || check.LimitEnforced {
		t.Fatalf("unexpected check %+v", check)
	}
	if len(audit.all()) != 0 || len(sessions.deletedBatch) != 0 {
		t.Fatalf("expected no eviction side effects")
	}
}

func TestCheckConcurrentMissingSession(t *testing.T) {
	service := newTestSessionService(t, newFakeSessionRepository(), newFakeAuditRepository())

	if _, err := service.CheckConcurrent(context.Background(), "missing"); !errors.Is(err, ErrSessionNotFound) {
		t.Fatalf("expected ErrSessionNotFound, got %v", err)
	}
}
