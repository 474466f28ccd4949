package port

import (
	"context"
	"time"

	"github.com/arklim/session-security/internal/core/domain"
)

// SessionRepository deals with session storage.
type SessionRepository interface {
	Create(ctx context.Context, session domain.Session) error
	Get(ctx context.Context, sessionID string) (*domain.Session, error)
	RecordValidation(ctx context.Context, sessionID string, score int, suspicious bool, at time.Time) error
	// Rotate inserts next and deletes previousID atomically.
	Rotate(ctx context.Context, previousID string, next domain.Session) error
	Delete(ctx context.Context, sessionID string) (bool, error)
	DeleteMany(ctx context.Context, sessionIDs []string) (int, error)
	// ListActiveByUser returns non-expired sessions ordered by last validation, newest first.
	ListActiveByUser(ctx context.Context, userID string, at time.Time) ([]domain.Session, error)
}
