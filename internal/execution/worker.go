package execution

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/ksred/pulse-api/internal/broker"
	"github.com/ksred/pulse-api/internal/types"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"gorm.io/gorm"
)

const (
	eventTypePlaceOrder  = "PLACE_ORDER"
	eventTypeOrderStatus = "ORDER_STATUS"

	// Open broker orders are polled a few times before the slice is failed
	statusPollAttempts = 3
	statusPollInterval = 2 * time.Second
)

// Worker drives due slices through the broker. Any number of instances may
// run concurrently; the conditional update in TryClaimSlice is the sole
// arbiter of slice ownership.
type Worker struct {
	db           *Database
	broker       broker.Client
	workerID     string
	pollInterval time.Duration
	batchSize    int
	maxRetries   int
}

func NewWorker(gormDB *gorm.DB, brokerClient broker.Client, pollInterval time.Duration, batchSize, maxRetries int) *Worker {
	return &Worker{
		db:           NewDatabase(gormDB),
		broker:       brokerClient,
		workerID:     fmt.Sprintf("exec-worker-%s", uuid.New().String()[:8]),
		pollInterval: pollInterval,
		batchSize:    batchSize,
		maxRetries:   maxRetries,
	}
}

// Start begins the execution loop and blocks until ctx is cancelled
func (w *Worker) Start(ctx context.Context) {
	logger := log.With().
		Str("component", "execution_worker").
		Str("worker_id", w.workerID).
		Logger()
	logger.Info().Dur("poll_interval", w.pollInterval).Msg("starting execution worker")

	ticker := time.NewTicker(w.pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			logger.Info().Msg("shutting down execution worker")
			return
		case <-ticker.C:
			if err := w.processDue(ctx, logger); err != nil {
				logger.Error().Err(err).Msg("failed to process due slices")
			}
		}
	}
}

func (w *Worker) processDue(ctx context.Context, logger zerolog.Logger) error {
	slices, err := w.db.DueSlices(time.Now().UTC(), w.batchSize)
	if err != nil {
		return err
	}

	for i := range slices {
		if ctx.Err() != nil {
			return nil
		}
		// One bad slice never stops the loop
		w.processSlice(ctx, &slices[i], logger)
	}

	return nil
}

func (w *Worker) processSlice(ctx context.Context, slice *types.Slice, logger zerolog.Logger) {
	sliceLogger := logger.With().
		Str("slice_id", slice.SliceID).
		Str("order_id", slice.ParentOrderID).
		Int("sequence_number", slice.SequenceNumber).
		Logger()

	parent, err := w.db.GetParent(slice.ParentOrderID)
	if err != nil {
		sliceLogger.Error().Err(err).Msg("failed to load parent order")
		return
	}
	if parent == nil {
		sliceLogger.Error().Msg("slice has no parent order")
		return
	}

	now := time.Now().UTC()
	if parent.WindowExpired(now) {
		skipped, err := w.db.MarkSkippedIfScheduled(slice.SliceID, types.ReasonWindowExpired)
		if err != nil {
			sliceLogger.Error().Err(err).Msg("failed to skip expired slice")
			return
		}
		if skipped {
			sliceLogger.Warn().Time("window_end", parent.WindowEnd()).Msg("slice skipped, split window expired")
		}
		return
	}

	claimed, err := w.db.TryClaimSlice(slice.SliceID)
	if err != nil {
		sliceLogger.Error().Err(err).Msg("failed to claim slice")
		return
	}
	if !claimed {
		// Another instance or the timeout supervisor got there first
		sliceLogger.Debug().Msg("slice claim lost")
		return
	}

	sliceLogger.Info().Int64("quantity", slice.Quantity).Msg("slice claimed for execution")
	w.execute(ctx, slice, sliceLogger)
}

// execute places the claimed slice with the broker and records the outcome
func (w *Worker) execute(ctx context.Context, slice *types.Slice, logger zerolog.Logger) {
	attempt := slice.RetryCount + 1

	req := broker.OrderRequest{
		Instrument: slice.Instrument,
		Side:       slice.Side,
		Quantity:   slice.Quantity,
		OrderType:  types.OrderTypeMarket,
	}

	start := time.Now()
	resp, err := w.broker.PlaceOrder(ctx, req)
	elapsed := time.Since(start)

	w.recordEvent(slice.SliceID, eventTypePlaceOrder, attempt, resp, err, elapsed, logger)

	if err != nil {
		w.handleBrokerError(slice, attempt, err, logger)
		return
	}

	// An open order needs polling before the slice can be finalized
	if resp.Status == broker.StatusOpen {
		resp = w.pollUntilSettled(ctx, slice, attempt, resp, logger)
	}

	switch resp.Status {
	case broker.StatusComplete:
		done, err := w.db.MarkExecuted(slice.SliceID, resp.BrokerOrderID, resp.AveragePrice, resp.FilledQuantity)
		if err != nil {
			logger.Error().Err(err).Msg("failed to record execution")
			return
		}
		if !done {
			logger.Warn().Msg("slice no longer EXECUTING, result discarded")
			return
		}
		logger.Info().
			Str("broker_order_id", resp.BrokerOrderID).
			Int64("filled_quantity", resp.FilledQuantity).
			Msg("slice executed")
	case broker.StatusRejected, broker.StatusCancelled:
		w.failSlice(slice.SliceID, fmt.Sprintf("broker order %s: %s", resp.Status, resp.Message), logger)
	default:
		w.failSlice(slice.SliceID, fmt.Sprintf("broker order stuck in %s", resp.Status), logger)
	}
}

// pollUntilSettled polls an OPEN broker order a bounded number of times and
// returns the last snapshot seen
func (w *Worker) pollUntilSettled(ctx context.Context, slice *types.Slice, attempt int, resp *broker.OrderResponse, logger zerolog.Logger) *broker.OrderResponse {
	for i := 0; i < statusPollAttempts && resp.Status == broker.StatusOpen; i++ {
		select {
		case <-time.After(statusPollInterval):
		case <-ctx.Done():
			return resp
		}

		start := time.Now()
		snapshot, err := w.broker.GetOrderStatus(ctx, resp.BrokerOrderID)
		elapsed := time.Since(start)

		w.recordEvent(slice.SliceID, eventTypeOrderStatus, attempt, snapshot, err, elapsed, logger)
		if err != nil {
			logger.Warn().Err(err).Msg("broker status poll failed")
			continue
		}
		resp = snapshot
	}

	return resp
}

// handleBrokerError classifies a broker failure: rejections fail the slice
// immediately, transient errors put it back on the queue until the retry
// ceiling is reached
func (w *Worker) handleBrokerError(slice *types.Slice, attempt int, err error, logger zerolog.Logger) {
	var brokerErr *broker.Error
	retryable := errors.As(err, &brokerErr) && brokerErr.Retryable()

	if !retryable {
		logger.Warn().Err(err).Msg("broker rejected slice")
		w.failSlice(slice.SliceID, fmt.Sprintf("broker rejection: %s", err), logger)
		return
	}

	if attempt >= w.maxRetries {
		logger.Warn().Err(err).Int("attempts", attempt).Msg("retry ceiling reached")
		w.failSlice(slice.SliceID, fmt.Sprintf("%s: %s", types.ReasonRetryLimitExceeded, err), logger)
		return
	}

	reverted, revertErr := w.db.RevertToScheduled(slice.SliceID, attempt)
	if revertErr != nil {
		logger.Error().Err(revertErr).Msg("failed to requeue slice")
		return
	}
	if reverted {
		logger.Warn().Err(err).Int("retry_count", attempt).Msg("transient broker failure, slice requeued")
	}
}

func (w *Worker) failSlice(sliceID, reason string, logger zerolog.Logger) {
	failed, err := w.db.MarkFailed(sliceID, reason)
	if err != nil {
		logger.Error().Err(err).Msg("failed to mark slice as FAILED")
		return
	}
	if failed {
		logger.Warn().Str("reason", reason).Msg("slice failed")
	}
}

// recordEvent appends the outcome of one broker call to the audit trail
func (w *Worker) recordEvent(sliceID, eventType string, attempt int, resp *broker.OrderResponse, callErr error, elapsed time.Duration, logger zerolog.Logger) {
	event := &types.BrokerEvent{
		EventID:        uuid.New().String(),
		SliceID:        sliceID,
		EventType:      eventType,
		AttemptNumber:  attempt,
		Success:        callErr == nil,
		ResponseTimeMs: elapsed.Milliseconds(),
	}

	if resp != nil {
		event.BrokerOrderID = &resp.BrokerOrderID
		event.BrokerStatus = &resp.Status
	}
	if callErr != nil {
		msg := callErr.Error()
		event.ErrorMessage = &msg
		var brokerErr *broker.Error
		if errors.As(callErr, &brokerErr) {
			event.ErrorCode = &brokerErr.Code
		}
	}

	if err := w.db.RecordBrokerEvent(event); err != nil {
		logger.Error().Err(err).Msg("failed to record broker event")
	}
}
