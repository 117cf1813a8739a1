package splitting

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/ksred/pulse-api/internal/types"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"gorm.io/gorm"
)

// Worker drains the PENDING parent order queue, one order at a time.
// Multiple instances may run against the same database; the claim in
// ClaimNextPending guarantees each order is split by exactly one of them.
type Worker struct {
	db           *Database
	engine       *Engine
	pollInterval time.Duration
}

func NewWorker(gormDB *gorm.DB, engine *Engine, pollInterval time.Duration) *Worker {
	return &Worker{
		db:           NewDatabase(gormDB),
		engine:       engine,
		pollInterval: pollInterval,
	}
}

// Start begins the splitting loop and blocks until ctx is cancelled
func (w *Worker) Start(ctx context.Context) {
	logger := log.With().Str("component", "splitting_worker").Logger()
	logger.Info().Dur("poll_interval", w.pollInterval).Msg("starting splitting worker")

	ticker := time.NewTicker(w.pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			logger.Info().Msg("shutting down splitting worker")
			return
		case <-ticker.C:
			w.drain(ctx, logger)
		}
	}
}

// drain claims and processes orders until the queue is empty
func (w *Worker) drain(ctx context.Context, logger zerolog.Logger) {
	for ctx.Err() == nil {
		order, err := w.db.ClaimNextPending()
		if err != nil {
			logger.Error().Err(err).Msg("failed to claim pending order")
			return
		}
		if order == nil {
			return
		}

		// A single order's failure never blocks the queue
		w.process(order, logger)
	}
}

func (w *Worker) process(order *types.ParentOrder, logger zerolog.Logger) {
	orderLogger := logger.With().
		Str("order_id", order.OrderID).
		Int64("total_quantity", order.TotalQuantity).
		Int("num_splits", order.NumSplits).
		Logger()

	orderLogger.Info().Msg("processing order for splitting")

	schedule, err := w.engine.Split(
		order.CreatedAt,
		order.TotalQuantity,
		order.NumSplits,
		order.DurationMinutes,
		order.Randomize,
	)
	if err != nil {
		orderLogger.Error().Err(err).Msg("split computation failed")
		w.fail(order.OrderID, splitFailureReason(err), orderLogger)
		return
	}

	slices := make([]types.Slice, len(schedule))
	for i, s := range schedule {
		slices[i] = types.Slice{
			SliceID:        uuid.New().String(),
			ParentOrderID:  order.OrderID,
			SequenceNumber: s.SequenceNumber,
			Instrument:     order.Instrument,
			Side:           order.Side,
			Quantity:       s.Quantity,
			ScheduledAt:    s.ScheduledAt,
			Status:         types.SliceStatusScheduled,
		}
	}

	if err := w.db.CompleteSplit(order.OrderID, slices); err != nil {
		orderLogger.Error().Err(err).Msg("failed to persist slice schedule")
		if !errors.Is(err, ErrClaimLost) {
			w.fail(order.OrderID, fmt.Sprintf("persistence error: %s", err), orderLogger)
		}
		return
	}

	orderLogger.Info().Int("slices_created", len(slices)).Msg("order splitting completed")
}

func (w *Worker) fail(orderID, reason string, logger zerolog.Logger) {
	if err := w.db.MarkSplitFailed(orderID, reason); err != nil && !errors.Is(err, ErrClaimLost) {
		logger.Error().Err(err).Msg("failed to mark order as FAILED")
	}
}

// splitFailureReason maps engine errors onto recorded failure reasons
func splitFailureReason(err error) string {
	if errors.Is(err, ErrInvalidQuantityDistribution) {
		return types.ReasonInvalidQuantityDistribution
	}
	return fmt.Sprintf("splitting error: %s", err)
}
