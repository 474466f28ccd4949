package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	squirrel "github.com/Masterminds/squirrel"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/arklim/session-security/internal/core/domain"
	"github.com/arklim/session-security/internal/core/port"
	"github.com/arklim/session-security/internal/repository"
)

const sessionsTable = "sessec.security_sessions"

var sessionColumns = []string{
	"session_id",
	"user_id",
	"device_fingerprint",
	"ip_address",
	"user_agent",
	"security_score",
	"last_validation",
	"expires_at",
	"suspicious_activity_count",
	"created_at",
}

type pgExecutor interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Begin(ctx context.Context) (pgx.Tx, error)
}

// SessionRepository implements port.SessionRepository backed by PostgreSQL.
type SessionRepository struct {
	exec    pgExecutor
	builder squirrel.StatementBuilderType
}

// NewSessionRepository constructs a repository backed by any executor that satisfies pgExecutor.
func NewSessionRepository(exec pgExecutor) *SessionRepository {
	return &SessionRepository{
		exec:    exec,
		builder: squirrel.StatementBuilder.PlaceholderFormat(squirrel.Dollar),
	}
}

// WithTx returns a repository instance that executes statements within the supplied transaction.
func (r *SessionRepository) WithTx(tx pgx.Tx) *SessionRepository {
	if tx == nil {
		return r
	}
	return &SessionRepository{
		exec:    tx,
		builder: r.builder,
	}
}

// Create persists a new session record.
func (r *SessionRepository) Create(ctx context.Context, session domain.Session) error {
	createdAt := session.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now().UTC()
	}

	sqlStmt, args, err := r.builder.Insert(sessionsTable).
		Columns(sessionColumns...).
		Values(
			session.ID,
			session.UserID,
			session.DeviceFingerprint,
			optionalString(session.IPAddress),
			optionalString(session.UserAgent),
			session.SecurityScore,
			session.LastValidation.UTC(),
			session.ExpiresAt.UTC(),
			session.SuspiciousActivityCount,
			createdAt.UTC(),
		).
		ToSql()
	if err != nil {
		return fmt.Errorf("build insert session sql: %w", err)
	}

	if _, err := r.exec.Exec(ctx, sqlStmt, args...); err != nil {
		return fmt.Errorf("insert session: %w", err)
	}

	return nil
}

// Get fetches a session by its identifier.
func (r *SessionRepository) Get(ctx context.Context, sessionID string) (*domain.Session, error) {
	stmt, args, err := r.builder.
		Select(sessionColumns...).
		From(sessionsTable).
		Where(squirrel.Eq{"session_id": sessionID}).
		Limit(1).
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("build select session sql: %w", err)
	}

	session, err := scanSession(r.exec.QueryRow(ctx, stmt, args...))
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, err
		}
		return nil, fmt.Errorf("scan session: %w", err)
	}

	return session, nil
}

// RecordValidation stores the latest score and bumps the suspicious activity counter when flagged.
func (r *SessionRepository) RecordValidation(ctx context.Context, sessionID string, score int, suspicious bool, at time.Time) error {
	increment := 0
	if suspicious {
		increment = 1
	}

	stmt, args, err := r.builder.Update(sessionsTable).
		Set("last_validation", at.UTC()).
		Set("security_score", score).
		Set("suspicious_activity_count", squirrel.Expr("suspicious_activity_count + ?", increment)).
		Where(squirrel.Eq{"session_id": sessionID}).
		ToSql()
	if err != nil {
		return fmt.Errorf("build update session validation sql: %w", err)
	}

	tag, err := r.exec.Exec(ctx, stmt, args...)
	if err != nil {
		return fmt.Errorf("update session validation: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return repository.ErrNotFound
	}

	return nil
}

// Rotate inserts the replacement session and deletes the previous one in a single transaction.
func (r *SessionRepository) Rotate(ctx context.Context, previousID string, next domain.Session) error {
	tx, err := r.exec.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin rotate session tx: %w", err)
	}

	committed := false
	defer func() {
		if !committed {
			_ = tx.Rollback(ctx)
		}
	}()

	txRepo := r.WithTx(tx)
	if err := txRepo.Create(ctx, next); err != nil {
		return err
	}

	deleted, err := txRepo.Delete(ctx, previousID)
	if err != nil {
		return err
	}
	if !deleted {
		return repository.ErrNotFound
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit rotate session tx: %w", err)
	}
	committed = true

	return nil
}

// Delete removes a session, reporting whether a row existed.
func (r *SessionRepository) Delete(ctx context.Context, sessionID string) (bool, error) {
	stmt, args, err := r.builder.Delete(sessionsTable).
		Where(squirrel.Eq{"session_id": sessionID}).
		ToSql()
	if err != nil {
		return false, fmt.Errorf("build delete session sql: %w", err)
	}

	tag, err := r.exec.Exec(ctx, stmt, args...)
	if err != nil {
		return false, fmt.Errorf("delete session: %w", err)
	}

	return tag.RowsAffected() > 0, nil
}

// DeleteMany removes the supplied sessions and returns how many rows were deleted.
func (r *SessionRepository) DeleteMany(ctx context.Context, sessionIDs []string) (int, error) {
	if len(sessionIDs) == 0 {
		return 0, nil
	}

	stmt, args, err := r.builder.Delete(sessionsTable).
		Where(squirrel.Eq{"session_id": sessionIDs}).
		ToSql()
	if err != nil {
		return 0, fmt.Errorf("build delete sessions sql: %w", err)
	}

	tag, err := r.exec.Exec(ctx, stmt, args...)
	if err != nil {
		return 0, fmt.Errorf("delete sessions: %w", err)
	}

	return int(tag.RowsAffected()), nil
}

// ListActiveByUser retrieves the user's non-expired sessions ordered by last validation, newest first.
func (r *SessionRepository) ListActiveByUser(ctx context.Context, userID string, at time.Time) ([]domain.Session, error) {
	stmt, args, err := r.builder.
		Select(sessionColumns...).
		From(sessionsTable).
		Where(squirrel.Eq{"user_id": userID}).
		Where(squirrel.Gt{"expires_at": at.UTC()}).
		OrderBy("last_validation DESC").
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("build list sessions sql: %w", err)
	}

	rows, err := r.exec.Query(ctx, stmt, args...)
	if err != nil {
		return nil, fmt.Errorf("query sessions: %w", err)
	}
	defer rows.Close()

	sessions := make([]domain.Session, 0)
	for rows.Next() {
		session, err := scanSession(rows)
		if err != nil {
			return nil, fmt.Errorf("scan session: %w", err)
		}
		sessions = append(sessions, *session)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate sessions: %w", err)
	}

	return sessions, nil
}

func scanSession(row pgx.Row) (*domain.Session, error) {
	var (
		session   domain.Session
		ipAddress sql.NullString
		userAgent sql.NullString
	)

	if err := row.Scan(
		&session.ID,
		&session.UserID,
		&session.DeviceFingerprint,
		&ipAddress,
		&userAgent,
		&session.SecurityScore,
		&session.LastValidation,
		&session.ExpiresAt,
		&session.SuspiciousActivityCount,
		&session.CreatedAt,
	); err != nil {
		if errors.Is(err, pgx.ErrNoRows) || errors.Is(err, sql.ErrNoRows) {
			return nil, repository.ErrNotFound
		}
		return nil, err
	}

	session.IPAddress = nullableStringPtr(ipAddress)
	session.UserAgent = nullableStringPtr(userAgent)
	session.LastValidation = session.LastValidation.UTC()
	session.ExpiresAt = session.ExpiresAt.UTC()
	session.CreatedAt = session.CreatedAt.UTC()

	return &session, nil
}

var _ port.SessionRepository = (*SessionRepository)(nil)
