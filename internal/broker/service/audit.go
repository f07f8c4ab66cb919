package service

import (
	"context"
	"log/slog"

	"github.com/matric-platform/secretbroker/internal/broker/domain"
	"github.com/matric-platform/secretbroker/internal/broker/store"
	"github.com/matric-platform/secretbroker/pkg/brokersdk"
	"github.com/matric-platform/secretbroker/pkg/idx"
)

// AuditService persists broker operation events. It implements
// brokersdk.Recorder, so the broker stays unaware of the storage layer.
type AuditService struct {
	Store  store.Store
	Logger *slog.Logger
}

// Record writes one event. Auditing never interferes with the secret
// operation that produced it: storage failures are logged and swallowed.
func (s *AuditService) Record(ctx context.Context, e brokersdk.Event) {
	event := domain.AuditEvent{
		ID:        idx.NewAt(e.At).String(),
		TenantID:  e.TenantID,
		UserID:    e.UserID,
		Op:        e.Op,
		Path:      e.Path,
		Outcome:   e.Outcome,
		Status:    e.Status,
		CreatedAt: e.At,
	}

	if err := s.Store.AuditEvents().InsertAuditEvent(ctx, event); err != nil {
		s.Logger.Error("failed to record audit event",
			"op", e.Op,
			"path", e.Path,
			"error", err,
		)
	}
}

// Recent returns up to limit events, newest first.
func (s *AuditService) Recent(ctx context.Context, limit int) ([]domain.AuditEvent, error) {
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	return s.Store.AuditEvents().ListRecentAuditEvents(ctx, limit)
}
