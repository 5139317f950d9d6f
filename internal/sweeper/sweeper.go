// Package sweeper expires active entries whose window has elapsed. Sweeps
// are idempotent per entry and safe to run concurrently from multiple
// timers or nodes: each transition is a conditional write, and running a
// sweep twice over the same entry is a no-op the second time.
package sweeper

import (
	"context"
	"errors"
	"time"

	"github.com/go-co-op/gocron"
	"go.uber.org/zap"

	"github.com/patrickwarner/promoserve/internal/models"
	"github.com/patrickwarner/promoserve/internal/observability"
	"github.com/patrickwarner/promoserve/internal/store"
)

// Sweeper scans for elapsed entries and transitions them to expired.
type Sweeper struct {
	store     store.Store
	logger    *zap.Logger
	metrics   observability.MetricsRegistry
	scheduler *gocron.Scheduler
	now       func() time.Time
}

// New constructs a Sweeper.
func New(st store.Store, logger *zap.Logger, metrics observability.MetricsRegistry) *Sweeper {
	return &Sweeper{
		store:   st,
		logger:  logger,
		metrics: metrics,
		now:     time.Now,
	}
}

// SetClock overrides the time source. Used by tests.
func (s *Sweeper) SetClock(now func() time.Time) {
	s.now = now
}

// Start schedules periodic sweeps at the given interval. Rotation never
// depends on the schedule for correctness (selection re-verifies expiry
// itself); the sweeps keep stored statuses and target mirrors current.
func (s *Sweeper) Start(interval time.Duration) error {
	s.scheduler = gocron.NewScheduler(time.UTC)
	_, err := s.scheduler.Every(interval).Do(func() {
		if _, err := s.Sweep(context.Background(), s.now().UTC()); err != nil {
			s.logger.Error("scheduled sweep", zap.Error(err))
		}
	})
	if err != nil {
		return err
	}
	s.scheduler.StartAsync()
	s.logger.Info("expiration sweeper started", zap.Duration("interval", interval))
	return nil
}

// Stop halts the periodic schedule.
func (s *Sweeper) Stop() {
	if s.scheduler != nil {
		s.scheduler.Stop()
	}
}

// Sweep transitions every entry with expiresAt <= now out of the active
// state and clears the target mirror for targets no longer covered by any
// unexpired entry. It returns how many entries this pass transitioned;
// entries another sweep got to first are skipped silently.
func (s *Sweeper) Sweep(ctx context.Context, now time.Time) (int, error) {
	start := time.Now()
	defer func() {
		s.metrics.RecordSweepDuration(time.Since(start))
	}()

	elapsed, err := s.store.ListExpiredEntries(ctx, now)
	if err != nil {
		return 0, err
	}

	expired := 0
	for _, e := range elapsed {
		won, err := s.store.ExpireEntry(ctx, e.ID)
		if err != nil {
			s.metrics.IncrementSweepErrors()
			s.logger.Error("expire entry", zap.Error(err), zap.String("entry_id", e.ID))
			continue
		}
		if !won {
			continue // a concurrent sweep transitioned it first
		}
		expired++

		// Clear the mirror only when no other unexpired entry still
		// covers the target, e.g. an overlapping boost bought before the
		// first one ran out.
		covered, err := s.store.HasActiveEntryForTarget(ctx, e.TargetID, now)
		if err != nil {
			s.metrics.IncrementSweepErrors()
			s.logger.Error("check target coverage", zap.Error(err), zap.String("target_id", e.TargetID))
			continue
		}
		if !covered {
			if err := s.store.SetTargetPromoted(ctx, e.TargetID, false); err != nil && !errors.Is(err, models.ErrNotFound) {
				s.metrics.IncrementSweepErrors()
				s.logger.Error("clear target mirror", zap.Error(err), zap.String("target_id", e.TargetID))
			}
		}
	}

	if expired > 0 {
		s.metrics.AddExpiredEntries(expired)
		s.logger.Info("sweep complete",
			zap.Int("expired", expired),
			zap.Int("candidates", len(elapsed)))
	}
	return expired, nil
}
