package metrics

import (
	"github.com/ksred/pulse-api/internal/types"
	"gorm.io/gorm"
)

// Projector computes parent-level metrics from slice rows at read time.
// Nothing here is ever written back: the slice table is the single source
// of truth and this is the only code path allowed to aggregate it.
type Projector struct {
	db *gorm.DB
}

func NewProjector(db *gorm.DB) *Projector {
	return &Projector{db: db}
}

// Project derives per-status counts and the filled quantity for a parent
// order. The parent is operationally completed once every slice is in a
// terminal state.
func (p *Projector) Project(parentOrderID string) (*types.OrderMetrics, error) {
	var slices []types.Slice
	if err := p.db.
		Where("parent_order_id = ?", parentOrderID).
		Find(&slices).Error; err != nil {
		return nil, err
	}

	metrics := &types.OrderMetrics{
		TotalSlices: len(slices),
	}

	terminal := 0
	for i := range slices {
		s := &slices[i]
		switch s.Status {
		case types.SliceStatusScheduled:
			metrics.ScheduledSlices++
		case types.SliceStatusExecuting:
			metrics.ExecutingSlices++
		case types.SliceStatusExecuted:
			metrics.ExecutedSlices++
		case types.SliceStatusFailed:
			metrics.FailedSlices++
		case types.SliceStatusSkipped:
			metrics.SkippedSlices++
		}

		if s.Status.Terminal() {
			terminal++
		}
		if s.Status == types.SliceStatusExecuted && s.ExecutionQuantity != nil {
			metrics.ExecutedQuantity += *s.ExecutionQuantity
		}
	}

	metrics.Completed = len(slices) > 0 && terminal == len(slices)
	return metrics, nil
}
