package appointment

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"github.com/careflow/careflow/internal/platform/apperr"
	"github.com/careflow/careflow/internal/platform/lock"
	"github.com/careflow/careflow/internal/platform/telemetry"
)

// SweepLockKey names the lease that keeps a single replica sweeping.
const SweepLockKey = "deadline-sweep"

// Sweeper cancels pending appointments whose response deadline has passed.
type Sweeper struct {
	svc      *Service
	repo     Repository
	locker   lock.Locker
	metrics  *telemetry.Metrics
	logger   zerolog.Logger
	Interval time.Duration
	Batch    int
}

func NewSweeper(svc *Service, locker lock.Locker, metrics *telemetry.Metrics, logger zerolog.Logger) *Sweeper {
	if locker == nil {
		locker = lock.NopLocker{}
	}
	return &Sweeper{
		svc:      svc,
		repo:     svc.repo,
		locker:   locker,
		metrics:  metrics,
		logger:   logger.With().Str("component", "sweeper").Logger(),
		Interval: time.Minute,
		Batch:    100,
	}
}

// Start sweeps once immediately and then on every tick. It blocks until ctx
// is cancelled.
func (s *Sweeper) Start(ctx context.Context) {
	s.tick(ctx)

	ticker := time.NewTicker(s.Interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.tick(ctx)
		}
	}
}

func (s *Sweeper) tick(ctx context.Context) {
	if _, err := s.RunOnce(ctx); err != nil && ctx.Err() == nil {
		s.logger.Error().Err(err).Msg("deadline sweep failed")
	}
}

// RunOnce expires up to Batch overdue appointments and reports how many it
// cancelled. It does nothing when another replica holds the sweep lease.
func (s *Sweeper) RunOnce(ctx context.Context) (int, error) {
	ttl := 2 * s.Interval
	if ttl < time.Minute {
		ttl = time.Minute
	}
	release, ok, err := s.locker.Acquire(ctx, SweepLockKey, ttl)
	if err != nil {
		return 0, err
	}
	if !ok {
		s.logger.Debug().Msg("sweep lease held elsewhere, skipping")
		return 0, nil
	}
	defer func() {
		if err := release(context.Background()); err != nil {
			s.logger.Warn().Err(err).Msg("failed to release sweep lease")
		}
	}()

	overdue, err := s.repo.ListOverdue(ctx, s.svc.now(), s.Batch)
	if err != nil {
		return 0, err
	}

	expired := 0
	for _, a := range overdue {
		_, changed, err := s.svc.expire(ctx, a.ID)
		switch {
		case err == nil:
			if changed {
				expired++
			}
		case apperr.Is(err, apperr.Conflict), apperr.Is(err, apperr.NotFound):
			// Someone answered or removed it between the scan and the write.
			s.logger.Debug().Err(err).Str("appointment_id", a.ID.String()).Msg("skipped during sweep")
		default:
			s.logger.Warn().Err(err).Str("appointment_id", a.ID.String()).Msg("failed to expire appointment")
		}
	}

	s.metrics.SweepExpired(expired)
	if expired > 0 {
		s.logger.Info().Int("expired", expired).Int("scanned", len(overdue)).Msg("deadline sweep finished")
	}
	return expired, nil
}
