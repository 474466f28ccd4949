package usecase

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/arklim/session-security/internal/core/domain"
	"github.com/arklim/session-security/internal/core/port"
	"github.com/arklim/session-security/internal/repository"
)

var (
	// ErrAlertNotFound indicates the alert id does not reference a tracked alert.
	ErrAlertNotFound = errors.New("alert not found")
	// ErrMonitorRunning indicates Start was called on a monitor that is already consuming.
	ErrMonitorRunning = errors.New("monitor already running")
)

const (
	defaultRecentAlerts = 50
	maxRecentAlerts     = 500
)

// AlertListener receives every alert processed by the monitor.
type AlertListener func(ctx context.Context, alert domain.SecurityAlert) error

// MonitorMetrics records escalations.
type MonitorMetrics interface {
	AlertEscalated()
}

// AdminSecurityMonitor turns admin table changes into audited, escalated security alerts.
type AdminSecurityMonitor struct {
	feed       port.ChangeFeed
	audit      port.AuditRepository
	alerts     port.AlertRepository
	lockdown   port.EmergencyLockdown
	metrics    MonitorMetrics
	privileged map[string]struct{}
	logger     *zap.Logger
	now        func() time.Time

	mu        sync.RWMutex
	listeners map[uint64]AlertListener
	nextID    uint64

	runMu  sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
}

// NewAdminSecurityMonitor constructs a monitor. Start must be called to begin consuming the feed.
func NewAdminSecurityMonitor(feed port.ChangeFeed, audit port.AuditRepository, alerts port.AlertRepository, privilegedRoles []string, log *zap.Logger) *AdminSecurityMonitor {
	if log == nil {
		log = zap.NewNop()
	}
	if len(privilegedRoles) == 0 {
		privilegedRoles = []string{"admin", "super_admin"}
	}
	privileged := make(map[string]struct{}, len(privilegedRoles))
	for _, role := range privilegedRoles {
		if role = strings.ToLower(strings.TrimSpace(role)); role != "" {
			privileged[role] = struct{}{}
		}
	}

	return &AdminSecurityMonitor{
		feed:       feed,
		audit:      audit,
		alerts:     alerts,
		privileged: privileged,
		logger:     log,
		now:        func() time.Time { return time.Now().UTC() },
		listeners:  make(map[uint64]AlertListener),
	}
}

// WithClock overrides the internal clock for deterministic tests.
func (m *AdminSecurityMonitor) WithClock(clock func() time.Time) *AdminSecurityMonitor {
	if clock != nil {
		m.now = clock
	}
	return m
}

// WithEmergencyLockdown sets the routine invoked for unblocked privilege escalations.
func (m *AdminSecurityMonitor) WithEmergencyLockdown(lockdown port.EmergencyLockdown) *AdminSecurityMonitor {
	m.lockdown = lockdown
	return m
}

// WithMetrics attaches an escalation counter.
func (m *AdminSecurityMonitor) WithMetrics(metrics MonitorMetrics) *AdminSecurityMonitor {
	m.metrics = metrics
	return m
}

// Start consumes the change feed on a background goroutine until Stop or ctx cancellation.
func (m *AdminSecurityMonitor) Start(ctx context.Context) error {
	if m.feed == nil {
		return fmt.Errorf("change feed not configured")
	}

	m.runMu.Lock()
	defer m.runMu.Unlock()
	if m.cancel != nil {
		return ErrMonitorRunning
	}

	runCtx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	m.cancel = cancel
	m.done = done

	go func() {
		defer close(done)
		if err := m.feed.Run(runCtx, m.HandleChange); err != nil {
			m.logger.Error("admin security monitor stopped", zap.Error(err))
			return
		}
		m.logger.Info("admin security monitor stopped")
	}()

	m.logger.Info("admin security monitor started")
	return nil
}

// Stop cancels consumption, closes the feed and waits for the consumer goroutine.
func (m *AdminSecurityMonitor) Stop() error {
	m.runMu.Lock()
	cancel, done := m.cancel, m.done
	m.cancel, m.done = nil, nil
	m.runMu.Unlock()

	if cancel == nil {
		return nil
	}

	cancel()
	err := m.feed.Close()
	<-done
	if err != nil {
		return fmt.Errorf("close change feed: %w", err)
	}
	return nil
}

// OnAlert registers a listener and returns a func that removes it.
func (m *AdminSecurityMonitor) OnAlert(listener AlertListener) func() {
	if listener == nil {
		return func() {}
	}

	m.mu.Lock()
	id := m.nextID
	m.nextID++
	m.listeners[id] = listener
	m.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			m.mu.Lock()
			delete(m.listeners, id)
			m.mu.Unlock()
		})
	}
}

// HandleChange maps a change event to an alert and processes it. Untracked changes are ignored.
func (m *AdminSecurityMonitor) HandleChange(ctx context.Context, event domain.ChangeEvent) error {
	alert, ok := m.alertFromChange(event)
	if !ok {
		m.logger.Debug("ignoring change event",
			zap.String("table", event.Table),
			zap.String("operation", event.Operation),
		)
		return nil
	}

	_, err := m.ProcessAlert(ctx, alert)
	return err
}

// ProcessAlert persists the alert, fans it out to listeners and escalates critical alerts.
// Only the primary audit write can fail the call.
func (m *AdminSecurityMonitor) ProcessAlert(ctx context.Context, alert domain.SecurityAlert) (domain.SecurityAlert, error) {
	if alert.ID == "" {
		alert.ID = uuid.NewString()
	}
	if alert.Timestamp.IsZero() {
		alert.Timestamp = m.now()
	}
	if alert.UserID == "" {
		alert.UserID = domain.SystemActor
	}
	if alert.Metadata == nil {
		alert.Metadata = map[string]any{}
	}

	threat := ThreatScore(alert)
	if err := m.audit.Insert(ctx, domain.AuditEntry{
		ID:          alert.ID,
		EventType:   string(alert.Type),
		Category:    domain.CategoryAdminSecurity,
		Severity:    alert.Severity,
		UserID:      alert.UserID,
		Data:        alert.Metadata,
		ThreatScore: &threat,
		AutoBlocked: alert.Severity == domain.SeverityCritical,
		CreatedAt:   alert.Timestamp,
	}); err != nil {
		return alert, fmt.Errorf("audit alert: %w", err)
	}

	m.logger.Warn("security alert raised",
		zap.String("alert_id", alert.ID),
		zap.String("type", string(alert.Type)),
		zap.String("severity", string(alert.Severity)),
		zap.String("user_id", alert.UserID),
		zap.Int("threat_score", threat),
	)

	m.notify(ctx, alert)

	if alert.Severity == domain.SeverityCritical {
		m.escalate(ctx, alert, threat)
	}

	return alert, nil
}

// GetRecentAlerts returns the newest tracked alerts, default 50 and at most 500.
func (m *AdminSecurityMonitor) GetRecentAlerts(ctx context.Context, limit int) ([]domain.SecurityAlert, error) {
	if m.alerts == nil {
		return nil, fmt.Errorf("alert repository not configured")
	}
	if limit <= 0 {
		limit = defaultRecentAlerts
	}
	if limit > maxRecentAlerts {
		limit = maxRecentAlerts
	}

	entries, err := m.alerts.ListRecentAlerts(ctx, domain.TrackedAlertTypes, limit)
	if err != nil {
		return nil, fmt.Errorf("list recent alerts: %w", err)
	}

	alerts := make([]domain.SecurityAlert, 0, len(entries))
	for _, entry := range entries {
		alerts = append(alerts, alertFromEntry(entry))
	}
	return alerts, nil
}

// AcknowledgeAlert records that userID reviewed alertID. Repeated acknowledgements are no-ops.
func (m *AdminSecurityMonitor) AcknowledgeAlert(ctx context.Context, alertID, userID string) (domain.AlertAcknowledgement, error) {
	if m.alerts == nil {
		return domain.AlertAcknowledgement{}, fmt.Errorf("alert repository not configured")
	}
	alertID = strings.TrimSpace(alertID)
	if alertID == "" {
		return domain.AlertAcknowledgement{}, ErrAlertNotFound
	}
	userID = strings.TrimSpace(userID)
	if userID == "" {
		userID = domain.SystemActor
	}

	entry, err := m.alerts.GetAlert(ctx, alertID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return domain.AlertAcknowledgement{}, ErrAlertNotFound
		}
		return domain.AlertAcknowledgement{}, fmt.Errorf("get alert: %w", err)
	}
	if !isTrackedAlertType(entry.EventType) {
		return domain.AlertAcknowledgement{}, ErrAlertNotFound
	}

	ack := domain.AlertAcknowledgement{
		AlertID:        entry.ID,
		AcknowledgedBy: userID,
		AcknowledgedAt: m.now(),
	}
	created, err := m.alerts.Acknowledge(ctx, ack)
	if err != nil {
		return domain.AlertAcknowledgement{}, fmt.Errorf("acknowledge alert: %w", err)
	}
	if !created {
		return ack, nil
	}

	if err := m.audit.Insert(ctx, domain.AuditEntry{
		EventType: domain.EventAlertAcknowledged,
		Category:  domain.CategoryAdminSecurity,
		Severity:  domain.SeverityLow,
		UserID:    userID,
		Data: map[string]any{
			"alert_id":   entry.ID,
			"alert_type": entry.EventType,
		},
		CreatedAt: ack.AcknowledgedAt,
	}); err != nil {
		return domain.AlertAcknowledgement{}, fmt.Errorf("audit acknowledgement: %w", err)
	}

	return ack, nil
}

// ThreatScore derives the 0-100 prioritisation score for an alert.
func ThreatScore(alert domain.SecurityAlert) int {
	var score int
	switch alert.Severity {
	case domain.SeverityCritical:
		score = 90
	case domain.SeverityHigh:
		score = 70
	case domain.SeverityMedium:
		score = 40
	default:
		score = 20
	}

	switch alert.Type {
	case domain.AlertBootstrapTokenGenerated:
		score += 10
	case domain.AlertPrivilegeEscalation:
		score += 15
	}

	if !alert.Blocked() {
		score += 20
	}

	return min(score, 100)
}

func (m *AdminSecurityMonitor) notify(ctx context.Context, alert domain.SecurityAlert) {
	m.mu.RLock()
	listeners := make([]AlertListener, 0, len(m.listeners))
	for _, listener := range m.listeners {
		listeners = append(listeners, listener)
	}
	m.mu.RUnlock()

	for _, listener := range listeners {
		m.invokeListener(ctx, listener, alert)
	}
}

func (m *AdminSecurityMonitor) invokeListener(ctx context.Context, listener AlertListener, alert domain.SecurityAlert) {
	defer func() {
		if r := recover(); r != nil {
			m.logger.Error("alert listener panicked",
				zap.String("alert_id", alert.ID),
				zap.Any("panic", r),
			)
		}
	}()

	if err := listener(ctx, alert); err != nil {
		m.logger.Error("alert listener failed",
			zap.String("alert_id", alert.ID),
			zap.Error(err),
		)
	}
}

func (m *AdminSecurityMonitor) escalate(ctx context.Context, alert domain.SecurityAlert, threat int) {
	if err := m.audit.Insert(ctx, domain.AuditEntry{
		EventType: domain.EventAlertEscalated,
		Category:  domain.CategorySecurityEscalation,
		Severity:  domain.SeverityCritical,
		UserID:    alert.UserID,
		Data: map[string]any{
			"original_alert_id": alert.ID,
			"alert_type":        string(alert.Type),
			"threat_score":      threat,
		},
		ThreatScore: &threat,
		AutoBlocked: true,
		CreatedAt:   m.now(),
	}); err != nil {
		m.logger.Error("failed to record alert escalation", zap.String("alert_id", alert.ID), zap.Error(err))
	}

	if m.metrics != nil {
		m.metrics.AlertEscalated()
	}

	if alert.Type != domain.AlertPrivilegeEscalation || alert.Blocked() || m.lockdown == nil {
		return
	}

	if err := m.lockdown.Trigger(ctx, alert); err != nil {
		m.logger.Error("emergency lockdown failed",
			zap.String("alert_id", alert.ID),
			zap.String("user_id", alert.UserID),
			zap.Error(err),
		)
	}
}

func (m *AdminSecurityMonitor) alertFromChange(event domain.ChangeEvent) (domain.SecurityAlert, bool) {
	table := strings.ToLower(strings.TrimSpace(event.Table))
	operation := strings.ToUpper(strings.TrimSpace(event.Operation))

	alert := domain.SecurityAlert{
		ID:        uuid.NewString(),
		Timestamp: event.CommitTime,
	}
	if alert.Timestamp.IsZero() {
		alert.Timestamp = m.now()
	}

	switch table {
	case domain.ChangeSourceUserRoles:
		role := event.String("role")
		if !m.isPrivileged(role) {
			return domain.SecurityAlert{}, false
		}
		metadata := map[string]any{
			"target_user_id": event.String("user_id"),
			"role":           role,
			"ip_address":     event.String("ip_address"),
		}
		switch operation {
		case domain.ChangeInsert, domain.ChangeUpdate:
			alert.Type = domain.AlertAdminRoleAssigned
			alert.Severity = domain.SeverityHigh
			alert.UserID = actorOf(event, "assigned_by")
			metadata["assigned_by"] = event.String("assigned_by")
		case domain.ChangeDelete:
			alert.Type = domain.AlertSuspiciousAdminActivity
			alert.Severity = domain.SeverityMedium
			alert.UserID = actorOf(event, "revoked_by", "assigned_by")
			metadata["action"] = "privileged_role_removed"
		default:
			return domain.SecurityAlert{}, false
		}
		alert.Metadata = metadata

	case domain.ChangeSourceBootstrapTokens:
		if operation != domain.ChangeInsert {
			return domain.SecurityAlert{}, false
		}
		alert.Type = domain.AlertBootstrapTokenGenerated
		alert.Severity = domain.SeverityCritical
		alert.UserID = actorOf(event, "created_by")
		alert.Metadata = map[string]any{
			"token_id":   event.String("id"),
			"created_by": event.String("created_by"),
			"expires_at": event.String("expires_at"),
			"ip_address": event.String("ip_address"),
		}

	case domain.ChangeSourcePrivilegeEscalation:
		if operation != domain.ChangeInsert {
			return domain.SecurityAlert{}, false
		}
		blocked := event.Bool("blocked")
		alert.Type = domain.AlertPrivilegeEscalation
		alert.Severity = domain.SeverityHigh
		if !blocked {
			alert.Severity = domain.SeverityCritical
		}
		alert.UserID = actorOf(event, "user_id")
		alert.Metadata = map[string]any{
			"requested_role": event.String("requested_role"),
			"current_role":   event.String("current_role"),
			"reason":         event.String("reason"),
			"ip_address":     event.String("ip_address"),
			"blocked":        blocked,
		}

	default:
		return domain.SecurityAlert{}, false
	}

	return alert, true
}

func (m *AdminSecurityMonitor) isPrivileged(role string) bool {
	_, ok := m.privileged[strings.ToLower(strings.TrimSpace(role))]
	return ok
}

func actorOf(event domain.ChangeEvent, columns ...string) string {
	for _, column := range columns {
		if value := event.String(column); value != "" {
			return value
		}
	}
	return domain.SystemActor
}

func alertFromEntry(entry domain.AuditEntry) domain.SecurityAlert {
	metadata := entry.Data
	if metadata == nil {
		metadata = map[string]any{}
	}
	return domain.SecurityAlert{
		ID:           entry.ID,
		Type:         domain.AlertType(entry.EventType),
		Severity:     entry.Severity,
		UserID:       entry.UserID,
		Metadata:     metadata,
		Timestamp:    entry.CreatedAt,
		Acknowledged: entry.Acknowledged,
	}
}

func isTrackedAlertType(eventType string) bool {
	for _, tracked := range domain.TrackedAlertTypes {
		if string(tracked) == eventType {
			return true
		}
	}
	return false
}
