package usecase

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/arklim/session-security/internal/core/domain"
	"github.com/arklim/session-security/internal/core/port"
	"github.com/arklim/session-security/internal/infra/logger"
	"github.com/arklim/session-security/internal/infra/security"
	"github.com/arklim/session-security/internal/repository"
)

var (
	// ErrSessionNotFound indicates that the requested session does not exist.
	ErrSessionNotFound = errors.New("session not found")
	// ErrConcurrentSessionOperation indicates another mutation for the same account holds the lock.
	ErrConcurrentSessionOperation = errors.New("concurrent session operation in progress")
	// ErrInvalidAction indicates an unsupported session security action.
	ErrInvalidAction = errors.New("invalid action")
)

// Session scoring weights.
const (
	baseSecurityScore        = 60
	fingerprintMatchBonus    = 20
	fingerprintMismatchCost  = 15
	ipMatchBonus             = 15
	ipMismatchCost           = 10
	userAgentMatchBonus      = 5
	validSecurityScore       = 60
	anomalySecurityScore     = 70
	highSeveritySecurityMark = 50
)

const (
	reasonSessionNotFound = "Session not found"
	reasonSessionExpired  = "Session expired"
	reasonSessionValid    = "Session valid"
	reasonScoreTooLow     = "Security score below threshold"
)

// Session security actions accepted by the HTTP endpoint.
const (
	ActionValidate        = "validate"
	ActionRotate          = "rotate"
	ActionInvalidate      = "invalidate"
	ActionCheckConcurrent = "check_concurrent"
)

// SessionMetrics records validation outcomes.
type SessionMetrics interface {
	SessionValidated(result string)
}

// SessionRequest carries the client context presented with a session id.
// Empty IPAddress or UserAgent means the caller did not supply it.
type SessionRequest struct {
	SessionID         string
	DeviceFingerprint string
	IPAddress         string
	UserAgent         string
}

// SessionSecurityConfig tunes rotation and concurrency enforcement.
type SessionSecurityConfig struct {
	TTL                   time.Duration
	MaxConcurrentSessions int
	LockTTL               time.Duration
}

// SessionSecurityService validates, rotates and limits sessions.
type SessionSecurityService struct {
	sessions port.SessionRepository
	audit    port.AuditRepository
	lock     port.UserLock
	metrics  SessionMetrics
	cfg      SessionSecurityConfig
	logger   *zap.Logger
	now      func() time.Time
	newID    func() (string, error)
}

// NewSessionSecurityService constructs a SessionSecurityService.
func NewSessionSecurityService(sessions port.SessionRepository, audit port.AuditRepository, cfg SessionSecurityConfig, log *zap.Logger) *SessionSecurityService {
	if log == nil {
		log = zap.NewNop()
	}
	if cfg.TTL <= 0 {
		cfg.TTL = 24 * time.Hour
	}
	if cfg.MaxConcurrentSessions <= 0 {
		cfg.MaxConcurrentSessions = 5
	}
	if cfg.LockTTL <= 0 {
		cfg.LockTTL = 5 * time.Second
	}
	return &SessionSecurityService{
		sessions: sessions,
		audit:    audit,
		cfg:      cfg,
		logger:   log,
		now:      func() time.Time { return time.Now().UTC() },
		newID:    security.GenerateSessionID,
	}
}

// WithClock overrides the internal clock for deterministic tests.
func (s *SessionSecurityService) WithClock(clock func() time.Time) *SessionSecurityService {
	if clock != nil {
		s.now = clock
	}
	return s
}

// WithUserLock serialises rotation and concurrency checks per account.
func (s *SessionSecurityService) WithUserLock(lock port.UserLock) *SessionSecurityService {
	s.lock = lock
	return s
}

// WithMetrics attaches a validation outcome recorder.
func (s *SessionSecurityService) WithMetrics(metrics SessionMetrics) *SessionSecurityService {
	s.metrics = metrics
	return s
}

// MaxConcurrentSessions returns the configured cap.
func (s *SessionSecurityService) MaxConcurrentSessions() int {
	return s.cfg.MaxConcurrentSessions
}

// Validate scores the request against the stored session.
func (s *SessionSecurityService) Validate(ctx context.Context, req SessionRequest) (domain.SessionValidation, error) {
	if strings.TrimSpace(req.SessionID) == "" {
		return domain.SessionValidation{}, fmt.Errorf("session id is required")
	}

	session, err := s.sessions.Get(ctx, req.SessionID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			s.recordOutcome("not_found")
			return rejectedValidation(reasonSessionNotFound), nil
		}
		return domain.SessionValidation{}, fmt.Errorf("get session: %w", err)
	}

	now := s.now()
	if session.IsExpired(now) {
		s.recordOutcome("expired")
		return rejectedValidation(reasonSessionExpired), nil
	}

	score, flags := scoreSession(*session, req)
	suspicious := len(flags) > 0

	if err := s.sessions.RecordValidation(ctx, session.ID, score, suspicious, now); err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			s.recordOutcome("not_found")
			return rejectedValidation(reasonSessionNotFound), nil
		}
		return domain.SessionValidation{}, fmt.Errorf("record validation: %w", err)
	}

	if score < anomalySecurityScore || suspicious {
		if err := s.auditAnomaly(ctx, *session, req, score, flags, now); err != nil {
			return domain.SessionValidation{}, err
		}
	}

	valid := isValidScore(score)
	reason := reasonSessionValid
	result := "valid"
	if !valid {
		reason = reasonScoreTooLow
		result = "invalid"
	}
	s.recordOutcome(result)

	return domain.SessionValidation{
		Valid:         valid,
		SecurityScore: score,
		Flags:         flags,
		Reason:        reason,
	}, nil
}

// Rotate issues a new session identity for the owner of req.SessionID and removes the old one.
func (s *SessionSecurityService) Rotate(ctx context.Context, req SessionRequest) (domain.SessionRotation, error) {
	if strings.TrimSpace(req.SessionID) == "" {
		return domain.SessionRotation{}, fmt.Errorf("session id is required")
	}

	previous, err := s.fetchSession(ctx, req.SessionID)
	if err != nil {
		return domain.SessionRotation{}, err
	}

	release, err := s.lockUser(ctx, previous.UserID)
	if err != nil {
		return domain.SessionRotation{}, err
	}
	defer release()

	newID, err := s.newID()
	if err != nil {
		return domain.SessionRotation{}, fmt.Errorf("generate session id: %w", err)
	}

	now := s.now()
	next := domain.Session{
		ID:                newID,
		UserID:            previous.UserID,
		DeviceFingerprint: firstNonEmpty(req.DeviceFingerprint, previous.DeviceFingerprint),
		IPAddress:         inheritOptional(req.IPAddress, previous.IPAddress),
		UserAgent:         inheritOptional(req.UserAgent, previous.UserAgent),
		SecurityScore:     0,
		LastValidation:    now,
		ExpiresAt:         now.Add(s.cfg.TTL),
		CreatedAt:         now,
	}

	if err := s.sessions.Rotate(ctx, previous.ID, next); err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return domain.SessionRotation{}, ErrSessionNotFound
		}
		return domain.SessionRotation{}, fmt.Errorf("rotate session: %w", err)
	}

	if err := s.audit.Insert(ctx, domain.AuditEntry{
		EventType: domain.EventSessionRotation,
		Category:  domain.CategorySessionSecurity,
		Severity:  domain.SeverityLow,
		UserID:    previous.UserID,
		Data: map[string]any{
			"old_session_id": previous.ID,
			"new_session_id": next.ID,
		},
		CreatedAt: now,
	}); err != nil {
		return domain.SessionRotation{}, fmt.Errorf("audit rotation: %w", err)
	}

	return domain.SessionRotation{
		Success:      true,
		NewSessionID: next.ID,
		ExpiresAt:    next.ExpiresAt,
	}, nil
}

// Invalidate deletes the session. Absent sessions succeed.
func (s *SessionSecurityService) Invalidate(ctx context.Context, sessionID string) error {
	if strings.TrimSpace(sessionID) == "" {
		return fmt.Errorf("session id is required")
	}

	session, err := s.sessions.Get(ctx, sessionID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil
		}
		return fmt.Errorf("get session: %w", err)
	}

	deleted, err := s.sessions.Delete(ctx, sessionID)
	if err != nil {
		return fmt.Errorf("delete session: %w", err)
	}
	if !deleted {
		return nil
	}

	if err := s.audit.Insert(ctx, domain.AuditEntry{
		EventType: domain.EventSessionInvalidated,
		Category:  domain.CategorySessionSecurity,
		Severity:  domain.SeverityLow,
		UserID:    session.UserID,
		Data:      map[string]any{"session_id": sessionID},
		CreatedAt: s.now(),
	}); err != nil {
		return fmt.Errorf("audit invalidation: %w", err)
	}

	return nil
}

// CheckConcurrent enforces the active session cap for the owner of sessionID,
// evicting the least recently validated sessions beyond the cap.
func (s *SessionSecurityService) CheckConcurrent(ctx context.Context, sessionID string) (domain.ConcurrencyCheck, error) {
	if strings.TrimSpace(sessionID) == "" {
		return domain.ConcurrencyCheck{}, fmt.Errorf("session id is required")
	}

	session, err := s.fetchSession(ctx, sessionID)
	if err != nil {
		return domain.ConcurrencyCheck{}, err
	}

	release, err := s.lockUser(ctx, session.UserID)
	if err != nil {
		return domain.ConcurrencyCheck{}, err
	}
	defer release()

	now := s.now()
	active, err := s.sessions.ListActiveByUser(ctx, session.UserID, now)
	if err != nil {
		return domain.ConcurrencyCheck{}, fmt.Errorf("list active sessions: %w", err)
	}

	limit := s.cfg.MaxConcurrentSessions
	check := domain.ConcurrencyCheck{
		ActiveSessions: min(len(active), limit),
		MaxAllowed:     limit,
	}
	if len(active) <= limit {
		return check, nil
	}

	evicted := make([]string, 0, len(active)-limit)
	for _, candidate := range active[limit:] {
		evicted = append(evicted, candidate.ID)
	}

	removed, err := s.sessions.DeleteMany(ctx, evicted)
	if err != nil {
		return domain.ConcurrencyCheck{}, fmt.Errorf("evict sessions: %w", err)
	}

	if err := s.audit.Insert(ctx, domain.AuditEntry{
		EventType: domain.EventConcurrentLimitEnforced,
		Category:  domain.CategorySessionSecurity,
		Severity:  domain.SeverityMedium,
		UserID:    session.UserID,
		Data: map[string]any{
			"total_sessions":   len(active),
			"max_allowed":      limit,
			"evicted_count":    removed,
			"evicted_sessions": evicted,
		},
		CreatedAt: now,
	}); err != nil {
		return domain.ConcurrencyCheck{}, fmt.Errorf("audit concurrent limit: %w", err)
	}

	s.logger.Info("concurrent session limit enforced",
		zap.String("user_id", session.UserID),
		zap.Int("total_sessions", len(active)),
		zap.Int("evicted", removed),
	)

	check.LimitEnforced = true
	check.Evicted = evicted
	return check, nil
}

func (s *SessionSecurityService) fetchSession(ctx context.Context, sessionID string) (*domain.Session, error) {
	session, err := s.sessions.Get(ctx, sessionID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, ErrSessionNotFound
		}
		return nil, fmt.Errorf("get session: %w", err)
	}
	return session, nil
}

func (s *SessionSecurityService) lockUser(ctx context.Context, userID string) (func(), error) {
	if s.lock == nil {
		return func() {}, nil
	}

	token, ok, err := s.lock.Acquire(ctx, userID, s.cfg.LockTTL)
	if err != nil {
		return nil, fmt.Errorf("acquire user lock: %w", err)
	}
	if !ok {
		return nil, ErrConcurrentSessionOperation
	}

	return func() {
		releaseCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), time.Second)
		defer cancel()
		if err := s.lock.Release(releaseCtx, userID, token); err != nil {
			s.logger.Warn("failed to release user lock", zap.String("user_id", userID), zap.Error(err))
		}
	}, nil
}

func (s *SessionSecurityService) auditAnomaly(ctx context.Context, session domain.Session, req SessionRequest, score int, flags []string, at time.Time) error {
	severity := domain.SeverityMedium
	if score < highSeveritySecurityMark {
		severity = domain.SeverityHigh
	}
	risk := 100 - score

	data := map[string]any{
		"session_id":     session.ID,
		"flags":          flags,
		"security_score": score,
	}
	if req.IPAddress != "" {
		data["ip_address"] = logger.MaskIP(req.IPAddress)
	}

	if err := s.audit.Insert(ctx, domain.AuditEntry{
		EventType: domain.EventSessionValidationAnomaly,
		Category:  domain.CategorySessionSecurity,
		Severity:  severity,
		UserID:    session.UserID,
		Data:      data,
		RiskScore: &risk,
		CreatedAt: at,
	}); err != nil {
		return fmt.Errorf("audit validation anomaly: %w", err)
	}
	return nil
}

func (s *SessionSecurityService) recordOutcome(result string) {
	if s.metrics != nil {
		s.metrics.SessionValidated(result)
	}
}

// scoreSession applies the additive scoring rules and clamps the result to [0,100].
func scoreSession(session domain.Session, req SessionRequest) (int, []string) {
	score := baseSecurityScore
	flags := make([]string, 0, 3)

	if req.DeviceFingerprint == session.DeviceFingerprint {
		score += fingerprintMatchBonus
	} else {
		flags = append(flags, domain.FlagDeviceFingerprintMismatch)
		score -= fingerprintMismatchCost
	}

	if req.IPAddress != "" {
		if session.IPAddress != nil && req.IPAddress == *session.IPAddress {
			score += ipMatchBonus
		} else {
			flags = append(flags, domain.FlagIPAddressChange)
			score -= ipMismatchCost
		}
	}

	if req.UserAgent != "" {
		if session.UserAgent != nil && req.UserAgent == *session.UserAgent {
			score += userAgentMatchBonus
		} else {
			flags = append(flags, domain.FlagUserAgentChange)
		}
	}

	return clampScore(score), flags
}

func clampScore(score int) int {
	return max(0, min(100, score))
}

func isValidScore(score int) bool {
	return score >= validSecurityScore
}

func rejectedValidation(reason string) domain.SessionValidation {
	return domain.SessionValidation{
		Valid:         false,
		SecurityScore: 0,
		Flags:         []string{},
		Reason:        reason,
	}
}

func inheritOptional(requested string, previous *string) *string {
	if trimmed := strings.TrimSpace(requested); trimmed != "" {
		return &trimmed
	}
	if previous == nil {
		return nil
	}
	value := *previous
	return &value
}

func firstNonEmpty(values ...string) string {
	for _, value := range values {
		if strings.TrimSpace(value) != "" {
			return value
		}
	}
	return ""
}
