package recovery

import (
	"context"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"gorm.io/gorm"
)

// Supervisor is the safety net for state abandoned by crashed workers.
// It runs on its own interval, independent of the splitting and execution
// workers, and only ever applies conditional transitions out of stale
// transient states.
type Supervisor struct {
	db               *Database
	pollInterval     time.Duration
	splitTimeout     time.Duration
	executionTimeout time.Duration
}

func NewSupervisor(gormDB *gorm.DB, pollInterval, splitTimeout, executionTimeout time.Duration) *Supervisor {
	return &Supervisor{
		db:               NewDatabase(gormDB),
		pollInterval:     pollInterval,
		splitTimeout:     splitTimeout,
		executionTimeout: executionTimeout,
	}
}

// Start begins the recovery loop and blocks until ctx is cancelled
func (s *Supervisor) Start(ctx context.Context) {
	logger := log.With().Str("component", "timeout_supervisor").Logger()
	logger.Info().
		Dur("poll_interval", s.pollInterval).
		Dur("split_timeout", s.splitTimeout).
		Dur("execution_timeout", s.executionTimeout).
		Msg("starting timeout supervisor")

	ticker := time.NewTicker(s.pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			logger.Info().Msg("shutting down timeout supervisor")
			return
		case <-ticker.C:
			s.sweep(logger)
		}
	}
}

// Sweep runs all three recovery rules once
func (s *Supervisor) Sweep() error {
	logger := log.With().Str("component", "timeout_supervisor").Logger()
	return s.sweep(logger)
}

func (s *Supervisor) sweep(logger zerolog.Logger) error {
	now := time.Now().UTC()

	recovered, err := s.db.FailStuckSplits(now.Add(-s.splitTimeout))
	if err != nil {
		logger.Error().Err(err).Msg("failed to recover stuck splits")
		return err
	}
	if recovered > 0 {
		logger.Warn().Int64("count", recovered).Msg("recovered orders stuck in SPLITTING")
	}

	recovered, err = s.db.FailStuckExecutions(now.Add(-s.executionTimeout))
	if err != nil {
		logger.Error().Err(err).Msg("failed to recover stuck executions")
		return err
	}
	if recovered > 0 {
		logger.Warn().Int64("count", recovered).Msg("recovered slices stuck in EXECUTING")
	}

	return s.skipExpiredWindows(now, logger)
}

// skipExpiredWindows marks the remaining SCHEDULED slices of fully elapsed
// split windows as SKIPPED so their parents can reach completion
func (s *Supervisor) skipExpiredWindows(now time.Time, logger zerolog.Logger) error {
	parents, err := s.db.ParentsWithScheduledSlices()
	if err != nil {
		logger.Error().Err(err).Msg("failed to list parents with scheduled slices")
		return err
	}

	for i := range parents {
		parent := &parents[i]
		if !parent.WindowExpired(now) {
			continue
		}

		skipped, err := s.db.SkipScheduledSlices(parent.OrderID)
		if err != nil {
			logger.Error().Err(err).Str("order_id", parent.OrderID).Msg("failed to skip expired slices")
			continue
		}
		if skipped > 0 {
			logger.Warn().
				Str("order_id", parent.OrderID).
				Int64("count", skipped).
				Time("window_end", parent.WindowEnd()).
				Msg("skipped slices past split window")
		}
	}

	return nil
}
