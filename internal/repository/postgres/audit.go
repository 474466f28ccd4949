package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	squirrel "github.com/Masterminds/squirrel"
	"github.com/jackc/pgx/v5"
	"github.com/google/uuid"

	"github.com/arklim/session-security/internal/core/domain"
	"github.com/arklim/session-security/internal/core/port"
	"github.com/arklim/session-security/internal/repository"
)

const (
	auditTable           = "sessec.security_audit_log"
	acknowledgementTable = "sessec.security_alert_acknowledgements"
)

var alertColumns = []string{
	"a.id",
	"a.event_type",
	"a.event_category",
	"a.severity",
	"a.user_id",
	"a.event_data",
	"a.risk_score",
	"a.threat_score",
	"a.auto_blocked",
	"a.created_at",
	"(ack.alert_id IS NOT NULL) AS acknowledged",
}

// AuditRepository implements port.AuditRepository and port.AlertRepository backed by PostgreSQL.
type AuditRepository struct {
	exec    pgExecutor
	builder squirrel.StatementBuilderType
}

// NewAuditRepository constructs an audit log repository.
func NewAuditRepository(exec pgExecutor) *AuditRepository {
	return &AuditRepository{
		exec:    exec,
		builder: squirrel.StatementBuilder.PlaceholderFormat(squirrel.Dollar),
	}
}

// Insert appends an entry to the security audit log.
func (r *AuditRepository) Insert(ctx context.Context, entry domain.AuditEntry) error {
	if entry.ID == "" {
		entry.ID = uuid.NewString()
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now().UTC()
	}

	data, err := marshalEventData(entry.Data)
	if err != nil {
		return err
	}

	stmt, args, err := r.builder.Insert(auditTable).
		Columns(
			"id",
			"event_type",
			"event_category",
			"severity",
			"user_id",
			"event_data",
			"risk_score",
			"threat_score",
			"auto_blocked",
			"created_at",
		).
		Values(
			entry.ID,
			entry.EventType,
			entry.Category,
			string(entry.Severity),
			entry.UserID,
			data,
			optionalInt(entry.RiskScore),
			optionalInt(entry.ThreatScore),
			entry.AutoBlocked,
			entry.CreatedAt.UTC(),
		).
		ToSql()
	if err != nil {
		return fmt.Errorf("build insert audit entry sql: %w", err)
	}

	if _, err := r.exec.Exec(ctx, stmt, args...); err != nil {
		return fmt.Errorf("insert audit entry: %w", err)
	}

	return nil
}

// ListRecentAlerts returns up to limit alert rows of the supplied types, newest first.
func (r *AuditRepository) ListRecentAlerts(ctx context.Context, types []domain.AlertType, limit int) ([]domain.AuditEntry, error) {
	if limit <= 0 {
		return []domain.AuditEntry{}, nil
	}

	eventTypes := make([]string, 0, len(types))
	for _, t := range types {
		eventTypes = append(eventTypes, string(t))
	}

	stmt, args, err := r.alertQuery().
		Where(squirrel.Eq{"a.event_type": eventTypes}).
		OrderBy("a.created_at DESC").
		Limit(uint64(limit)).
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("build list alerts sql: %w", err)
	}

	rows, err := r.exec.Query(ctx, stmt, args...)
	if err != nil {
		return nil, fmt.Errorf("query alerts: %w", err)
	}
	defer rows.Close()

	entries := make([]domain.AuditEntry, 0, limit)
	for rows.Next() {
		entry, err := scanAuditEntry(rows)
		if err != nil {
			return nil, fmt.Errorf("scan alert: %w", err)
		}
		entries = append(entries, *entry)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate alerts: %w", err)
	}

	return entries, nil
}

// GetAlert fetches a single audit row with its acknowledgement state.
func (r *AuditRepository) GetAlert(ctx context.Context, alertID string) (*domain.AuditEntry, error) {
	stmt, args, err := r.alertQuery().
		Where(squirrel.Eq{"a.id": alertID}).
		Limit(1).
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("build get alert sql: %w", err)
	}

	entry, err := scanAuditEntry(r.exec.QueryRow(ctx, stmt, args...))
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, err
		}
		return nil, fmt.Errorf("scan alert: %w", err)
	}

	return entry, nil
}

// Acknowledge records that an administrator reviewed the alert.
func (r *AuditRepository) Acknowledge(ctx context.Context, ack domain.AlertAcknowledgement) (bool, error) {
	at := ack.AcknowledgedAt
	if at.IsZero() {
		at = time.Now().UTC()
	}

	stmt, args, err := r.builder.Insert(acknowledgementTable).
		Columns("alert_id", "acknowledged_by", "acknowledged_at").
		Values(ack.AlertID, ack.AcknowledgedBy, at.UTC()).
		Suffix("ON CONFLICT (alert_id) DO NOTHING").
		ToSql()
	if err != nil {
		return false, fmt.Errorf("build insert acknowledgement sql: %w", err)
	}

	tag, err := r.exec.Exec(ctx, stmt, args...)
	if err != nil {
		return false, fmt.Errorf("insert acknowledgement: %w", err)
	}

	return tag.RowsAffected() > 0, nil
}

func (r *AuditRepository) alertQuery() squirrel.SelectBuilder {
	return r.builder.
		Select(alertColumns...).
		From(auditTable + " AS a").
		LeftJoin(acknowledgementTable + " AS ack ON ack.alert_id = a.id")
}

func scanAuditEntry(row pgx.Row) (*domain.AuditEntry, error) {
	var (
		entry       domain.AuditEntry
		severity    string
		rawData     []byte
		riskScore   sql.NullInt64
		threatScore sql.NullInt64
	)

	if err := row.Scan(
		&entry.ID,
		&entry.EventType,
		&entry.Category,
		&severity,
		&entry.UserID,
		&rawData,
		&riskScore,
		&threatScore,
		&entry.AutoBlocked,
		&entry.CreatedAt,
		&entry.Acknowledged,
	); err != nil {
		if errors.Is(err, pgx.ErrNoRows) || errors.Is(err, sql.ErrNoRows) {
			return nil, repository.ErrNotFound
		}
		return nil, err
	}

	data, err := unmarshalEventData(rawData)
	if err != nil {
		return nil, err
	}

	entry.Severity = domain.ParseSeverity(severity)
	entry.Data = data
	entry.RiskScore = nullableIntPtr(riskScore)
	entry.ThreatScore = nullableIntPtr(threatScore)
	entry.CreatedAt = entry.CreatedAt.UTC()

	return &entry, nil
}

var (
	_ port.AuditRepository = (*AuditRepository)(nil)
	_ port.AlertRepository = (*AuditRepository)(nil)
)
