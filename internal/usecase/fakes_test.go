package usecase

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/arklim/session-security/internal/core/domain"
	"github.com/arklim/session-security/internal/core/port"
	"github.com/arklim/session-security/internal/repository"
)

type fakeSessionRepository struct {
	mu       sync.Mutex
	sessions map[string]domain.Session

	getErr       error
	rotateErr    error
	validations  []string
	deletedBatch [][]string
}

func newFakeSessionRepository(sessions ...domain.Session) *fakeSessionRepository {
	repo := &fakeSessionRepository{sessions: make(map[string]domain.Session)}
	for _, session := range sessions {
		repo.sessions[session.ID] = session
	}
	return repo
}

func (f *fakeSessionRepository) Create(_ context.Context, session domain.Session) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sessions[session.ID] = session
	return nil
}

func (f *fakeSessionRepository) Get(_ context.Context, sessionID string) (*domain.Session, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.getErr != nil {
		return nil, f.getErr
	}
	session, ok := f.sessions[sessionID]
	if !ok {
		return nil, repository.ErrNotFound
	}
	return &session, nil
}

func (f *fakeSessionRepository) RecordValidation(_ context.Context, sessionID string, score int, suspicious bool, at time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	session, ok := f.sessions[sessionID]
	if !ok {
		return repository.ErrNotFound
	}
	session.SecurityScore = score
	session.LastValidation = at
	if suspicious {
		session.SuspiciousActivityCount++
	}
	f.sessions[sessionID] = session
	f.validations = append(f.validations, sessionID)
	return nil
}

func (f *fakeSessionRepository) Rotate(_ context.Context, previousID string, next domain.Session) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.rotateErr != nil {
		return f.rotateErr
	}
	if _, ok := f.sessions[previousID]; !ok {
		return repository.ErrNotFound
	}
	delete(f.sessions, previousID)
	f.sessions[next.ID] = next
	return nil
}

func (f *fakeSessionRepository) Delete(_ context.Context, sessionID string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.sessions[sessionID]; !ok {
		return false, nil
	}
	delete(f.sessions, sessionID)
	return true, nil
}

func (f *fakeSessionRepository) DeleteMany(_ context.Context, sessionIDs []string) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.deletedBatch = append(f.deletedBatch, append([]string(nil), sessionIDs...))
	removed := 0
	for _, id := range sessionIDs {
		if _, ok := f.sessions[id]; ok {
			delete(f.sessions, id)
			removed++
		}
	}
	return removed, nil
}

func (f *fakeSessionRepository) ListActiveByUser(_ context.Context, userID string, at time.Time) ([]domain.Session, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	active := make([]domain.Session, 0)
	for _, session := range f.sessions {
		if session.UserID == userID && session.ExpiresAt.After(at) {
			active = append(active, session)
		}
	}
	sort.Slice(active, func(i, j int) bool {
		return active[i].LastValidation.After(active[j].LastValidation)
	})
	return active, nil
}

func (f *fakeSessionRepository) has(sessionID string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	_, ok := f.sessions[sessionID]
	return ok
}

func (f *fakeSessionRepository) session(sessionID string) domain.Session {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.sessions[sessionID]
}

var (
	_ port.SessionRepository = (*fakeSessionRepository)(nil)
	_ port.AuditRepository   = (*fakeAuditRepository)(nil)
	_ port.AlertRepository   = (*fakeAuditRepository)(nil)
)

type fakeAuditRepository struct {
	mu      sync.Mutex
	entries []domain.AuditEntry
	acks    map[string]domain.AlertAcknowledgement

	insertErr error
	// failAfter makes every insert after the first n fail; negative disables it.
	failAfter int
	listLimit int
}

func newFakeAuditRepository() *fakeAuditRepository {
	return &fakeAuditRepository{acks: make(map[string]domain.AlertAcknowledgement), failAfter: -1}
}

func (f *fakeAuditRepository) Insert(_ context.Context, entry domain.AuditEntry) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.insertErr != nil {
		return f.insertErr
	}
	if f.failAfter >= 0 && len(f.entries) >= f.failAfter {
		return errors.New("audit unavailable")
	}
	f.entries = append(f.entries, entry)
	return nil
}

func (f *fakeAuditRepository) ListRecentAlerts(_ context.Context, types []domain.AlertType, limit int) ([]domain.AuditEntry, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.listLimit = limit

	tracked := make(map[string]struct{}, len(types))
	for _, t := range types {
		tracked[string(t)] = struct{}{}
	}
	result := make([]domain.AuditEntry, 0)
	for i := len(f.entries) - 1; i >= 0 && len(result) < limit; i-- {
		entry := f.entries[i]
		if _, ok := tracked[entry.EventType]; !ok {
			continue
		}
		_, entry.Acknowledged = f.acks[entry.ID]
		result = append(result, entry)
	}
	return result, nil
}

func (f *fakeAuditRepository) GetAlert(_ context.Context, alertID string) (*domain.AuditEntry, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, entry := range f.entries {
		if entry.ID == alertID {
			_, entry.Acknowledged = f.acks[entry.ID]
			return &entry, nil
		}
	}
	return nil, repository.ErrNotFound
}

func (f *fakeAuditRepository) Acknowledge(_ context.Context, ack domain.AlertAcknowledgement) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, exists := f.acks[ack.AlertID]; exists {
		return false, nil
	}
	f.acks[ack.AlertID] = ack
	return true, nil
}

func (f *fakeAuditRepository) all() []domain.AuditEntry {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]domain.AuditEntry(nil), f.entries...)
}

func (f *fakeAuditRepository) byType(eventType string) []domain.AuditEntry {
	matches := make([]domain.AuditEntry, 0)
	for _, entry := range f.all() {
		if entry.EventType == eventType {
			matches = append(matches, entry)
		}
	}
	return matches
}

type fakeUserLock struct {
	mu       sync.Mutex
	held     map[string]string
	acquired int
	released int
}

func newFakeUserLock() *fakeUserLock {
	return &fakeUserLock{held: make(map[string]string)}
}

func (f *fakeUserLock) Acquire(_ context.Context, userID string, _ time.Duration) (string, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.held[userID]; ok {
		return "", false, nil
	}
	f.acquired++
	token := "token-" + userID
	f.held[userID] = token
	return token, true, nil
}

func (f *fakeUserLock) Release(_ context.Context, userID, token string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.held[userID] == token {
		delete(f.held, userID)
		f.released++
	}
	return nil
}

type fakeLockdownStore struct {
	mu        sync.Mutex
	lockdowns map[string]domain.Lockdown
	ttls      map[string]time.Duration
	placeErr  error
}

func newFakeLockdownStore() *fakeLockdownStore {
	return &fakeLockdownStore{
		lockdowns: make(map[string]domain.Lockdown),
		ttls:      make(map[string]time.Duration),
	}
}

func (f *fakeLockdownStore) Place(_ context.Context, lockdown domain.Lockdown, ttl time.Duration) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.placeErr != nil {
		return f.placeErr
	}
	f.lockdowns[lockdown.UserID] = lockdown
	f.ttls[lockdown.UserID] = ttl
	return nil
}

func (f *fakeLockdownStore) Get(_ context.Context, userID string) (*domain.Lockdown, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	lockdown, ok := f.lockdowns[userID]
	if !ok {
		return nil, repository.ErrNotFound
	}
	return &lockdown, nil
}

func (f *fakeLockdownStore) Lift(_ context.Context, userID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.lockdowns, userID)
	return nil
}

type fakeEventPublisher struct {
	mu        sync.Mutex
	alerts    []domain.AlertRaisedEvent
	lockdowns []domain.LockdownTriggeredEvent
	err       error
}

func (f *fakeEventPublisher) PublishAlertRaised(_ context.Context, event domain.AlertRaisedEvent) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.alerts = append(f.alerts, event)
	return nil
}

func (f *fakeEventPublisher) PublishLockdownTriggered(_ context.Context, event domain.LockdownTriggeredEvent) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.lockdowns = append(f.lockdowns, event)
	return nil
}

type recordingLockdown struct {
	mu     sync.Mutex
	alerts []domain.SecurityAlert
	err    error
}

func (r *recordingLockdown) Trigger(_ context.Context, alert domain.SecurityAlert) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.alerts = append(r.alerts, alert)
	return r.err
}

func (r *recordingLockdown) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.alerts)
}

// fakeChangeFeed replays queued events and then blocks until cancelled or closed.
type fakeChangeFeed struct {
	events  chan domain.ChangeEvent
	closed  chan struct{}
	once    sync.Once
	handled chan error
}

func newFakeChangeFeed() *fakeChangeFeed {
	return &fakeChangeFeed{
		events:  make(chan domain.ChangeEvent, 8),
		closed:  make(chan struct{}),
		handled: make(chan error, 8),
	}
}

func (f *fakeChangeFeed) Run(ctx context.Context, handle port.ChangeHandlerFunc) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-f.closed:
			return nil
		case event := <-f.events:
			f.handled <- handle(ctx, event)
		}
	}
}

func (f *fakeChangeFeed) Close() error {
	f.once.Do(func() { close(f.closed) })
	return nil
}

type countingMetrics struct {
	mu          sync.Mutex
	alerts      map[string]int
	escalations int
	validations map[string]int
}

func newCountingMetrics() *countingMetrics {
	return &countingMetrics{alerts: make(map[string]int), validations: make(map[string]int)}
}

func (c *countingMetrics) AlertRaised(alertType, severity string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.alerts[alertType+"/"+severity]++
}

func (c *countingMetrics) AlertEscalated() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.escalations++
}

func (c *countingMetrics) SessionValidated(result string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.validations[result]++
}
