package service

import (
	"context"
	"log/slog"
	"time"

	"github.com/parclabs/keygate/internal/auth/store"
)

// HousekeepingService periodically deletes expired persisted grants
// so dead refresh tokens, device codes and pushed requests do not
// accumulate.
type HousekeepingService struct {
	Store    store.Store
	Logger   *slog.Logger
	Interval time.Duration

	// GracePeriod keeps expired one-time grants around a little
	// longer, so a replayed consumed token can still trip family
	// revocation instead of just reading as unknown.
	GracePeriod time.Duration

	stopCh chan struct{}
	doneCh chan struct{}
}

// NewHousekeepingService creates a housekeeping service. A zero or
// negative interval defaults to 1 hour.
func NewHousekeepingService(store store.Store, logger *slog.Logger, interval, grace time.Duration) *HousekeepingService {
	if interval <= 0 {
		interval = 1 * time.Hour
	}

	return &HousekeepingService{
		Store:       store,
		Logger:      logger,
		Interval:    interval,
		GracePeriod: grace,
		stopCh:      make(chan struct{}),
		doneCh:      make(chan struct{}),
	}
}

// Start begins the background worker. Non-blocking; call Stop to
// shut it down.
func (s *HousekeepingService) Start() {
	go s.run()
	s.Logger.Info("housekeeping service started", "interval", s.Interval)
}

// Stop gracefully shuts down the background worker, blocking until
// any in-progress cleanup finishes.
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

func (s *HousekeepingService) cleanup() {
	ctx := context.Background()
	cutoff := time.Now().Add(-s.GracePeriod)

	removed, err := s.Store.Grants().DeleteExpiredGrants(ctx, cutoff)
	if err != nil {
		s.Logger.Error("failed to delete expired grants", "error", err)
		return
	}
	s.Logger.Info("housekeeping cleanup completed", "removed_grants", removed)
}
