package service

import (
	"context"
	"log/slog"
	"time"

	"github.com/matric-platform/secretbroker/internal/broker/store"
)

// HousekeepingService periodically prunes audit events past their retention
// window to prevent unbounded growth of the broker database.
type HousekeepingService struct {
	Store     store.Store
	Logger    *slog.Logger
	Interval  time.Duration
	Retention time.Duration

	stopCh chan struct{}
	doneCh chan struct{}
}

// NewHousekeepingService creates a housekeeping service. A non-positive
// interval defaults to 1 hour, a non-positive retention to 30 days.
func NewHousekeepingService(st store.Store, logger *slog.Logger, interval, retention time.Duration) *HousekeepingService {
	if interval <= 0 {
		interval = 1 * time.Hour
	}
	if retention <= 0 {
		retention = 30 * 24 * time.Hour
	}

	return &HousekeepingService{
		Store:     st,
		Logger:    logger,
		Interval:  interval,
		Retention: retention,
		stopCh:    make(chan struct{}),
		doneCh:    make(chan struct{}),
	}
}

// Start begins the background worker. Non-blocking; call Stop to shut down.
func (s *HousekeepingService) Start() {
	go s.run()
	s.Logger.Info("housekeeping service started",
		"interval", s.Interval,
		"retention", s.Retention,
	)
}

// Stop gracefully shuts down the background worker.
// Blocks until any in-progress cleanup has finished.
func (s *HousekeepingService) Stop() {
	close(s.stopCh)
	<-s.doneCh
	s.Logger.Info("housekeeping service stopped")
}

func (s *HousekeepingService) run() {
	defer close(s.doneCh)

	ticker := time.NewTicker(s.Interval)
	defer ticker.Stop()

	// Run cleanup immediately on startup
	s.cleanup()

	for {
		select {
		case <-ticker.C:
			s.cleanup()
		case <-s.stopCh:
			return
		}
	}
}

// cleanup deletes audit events older than the retention window.
func (s *HousekeepingService) cleanup() {
	ctx := context.Background()
	cutoff := time.Now().UTC().Add(-s.Retention)

	deleted, err := s.Store.AuditEvents().DeleteAuditEventsBefore(ctx, cutoff)
	if err != nil {
		s.Logger.Error("failed to prune audit events", "error", err)
		return
	}

	if deleted > 0 {
		s.Logger.Info("pruned audit events", "deleted", deleted, "cutoff", cutoff)
	}
}
