package store

import (
	"context"
	"errors"
	"time"

	"github.com/matric-platform/secretbroker/internal/broker/domain"
)

var ErrNotFound = errors.New("store: not found")

// Store is the root data access interface. Concrete drivers (sqlite today)
// implement this. It exposes sub-repositories to keep concerns tidy and
// testable.
type Store interface {
	AuditEvents() AuditEvents

	ApplyMigrations() error

	// Close releases any underlying resources.
	Close() error

	// Ping verifies the database connection is still alive.
	Ping(ctx context.Context) error
}

// AuditEvents persists the broker's operation trail.
type AuditEvents interface {
	// InsertAuditEvent appends one event (id is provided by the app via ULID).
	InsertAuditEvent(ctx context.Context, e domain.AuditEvent) error

	// ListRecentAuditEvents returns up to limit events, newest first.
	ListRecentAuditEvents(ctx context.Context, limit int) ([]domain.AuditEvent, error)

	// DeleteAuditEventsBefore removes events created before cutoff and
	// reports how many were deleted.
	DeleteAuditEventsBefore(ctx context.Context, cutoff time.Time) (int64, error)
}
