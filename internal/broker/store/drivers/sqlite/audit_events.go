package sqlite

import (
	"context"
	"database/sql"
	"time"

	"github.com/matric-platform/secretbroker/internal/broker/domain"
)

type auditEventsRepo struct {
	db *sql.DB
}

func (r *auditEventsRepo) InsertAuditEvent(ctx context.Context, e domain.AuditEvent) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO audit_events (id, tenant_id, user_id, op, path, outcome, status, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		e.ID, e.TenantID, e.UserID, e.Op, e.Path, e.Outcome, e.Status, e.CreatedAt.UTC(),
	)
	return err
}

func (r *auditEventsRepo) ListRecentAuditEvents(ctx context.Context, limit int) ([]domain.AuditEvent, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, tenant_id, user_id, op, path, outcome, status, created_at
		FROM audit_events
		ORDER BY id DESC
		LIMIT ?`,
		limit,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var events []domain.AuditEvent
	for rows.Next() {
		var e domain.AuditEvent
		var createdAt time.Time
		if err := rows.Scan(
			&e.ID, &e.TenantID, &e.UserID, &e.Op, &e.Path, &e.Outcome, &e.Status, &createdAt,
		); err != nil {
			return nil, err
		}
		e.CreatedAt = createdAt.UTC()
		events = append(events, e)
	}

	return events, rows.Err()
}

func (r *auditEventsRepo) DeleteAuditEventsBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := r.db.ExecContext(ctx,
		`DELETE FROM audit_events WHERE created_at < ?`,
		cutoff.UTC(),
	)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}
