package splitting

import (
	"errors"
	"fmt"
	"math"
	"math/rand"
	"time"
)

var (
	// ErrInvalidQuantityDistribution is returned when randomization (or a
	// degenerate quantity/split ratio) would produce a slice with zero or
	// negative quantity. The whole split fails rather than emitting it.
	ErrInvalidQuantityDistribution = errors.New("invalid quantity distribution")

	// ErrScheduleInvariant is returned when the computed schedule violates
	// a post-computation invariant. This is a programming-level failure and
	// is never silently corrected.
	ErrScheduleInvariant = errors.New("split schedule invariant violation")
)

const (
	quantityVariance = 0.20
	timeVariance     = 0.30
)

// SplitSlice is one entry of a computed slice schedule
type SplitSlice struct {
	SequenceNumber int
	Quantity       int64
	ScheduledAt    time.Time
}

// Engine computes slice schedules. It is pure: no I/O, no shared state.
// The RNG is injected so tests can supply a deterministic source.
type Engine struct {
	rng *rand.Rand
}

// NewEngine creates an engine backed by the given RNG. A nil RNG gets a
// time-seeded source.
func NewEngine(rng *rand.Rand) *Engine {
	if rng == nil {
		rng = rand.New(rand.NewSource(time.Now().UnixNano()))
	}
	return &Engine{rng: rng}
}

// Split partitions totalQuantity across numSplits slices scheduled inside
// [createdAt, createdAt+durationMinutes].
//
// Quantities: every slice except the last receives the base share, with a
// +/-20% variance when randomize is set; the last slice receives the exact
// remainder so the sum always equals totalQuantity. The remainder slice may
// fall outside the variance bound by construction.
//
// Times: slices are spread at even intervals; when randomize is set the
// interior slices are perturbed by up to +/-30% of one interval. The first
// and last slices are never perturbed, so the schedule spans the full
// window at its extremes. Every time is clamped into the window.
func (e *Engine) Split(createdAt time.Time, totalQuantity int64, numSplits, durationMinutes int, randomize bool) ([]SplitSlice, error) {
	if numSplits < 2 {
		return nil, fmt.Errorf("num_splits must be >= 2, got %d", numSplits)
	}
	if totalQuantity <= 0 {
		return nil, fmt.Errorf("total_quantity must be > 0, got %d", totalQuantity)
	}
	if durationMinutes < 1 {
		return nil, fmt.Errorf("duration_minutes must be >= 1, got %d", durationMinutes)
	}

	createdAt = createdAt.UTC()
	windowEnd := createdAt.Add(time.Duration(durationMinutes) * time.Minute)
	baseShare := float64(totalQuantity) / float64(numSplits)

	quantities := make([]int64, numSplits)
	var allocated int64
	for i := 0; i < numSplits-1; i++ {
		share := baseShare
		if randomize {
			u := e.rng.Float64()*2*quantityVariance - quantityVariance
			share = baseShare * (1 + u)
		}
		qty := int64(math.Floor(share))
		if qty <= 0 {
			return nil, fmt.Errorf("%w: slice %d computed quantity %d", ErrInvalidQuantityDistribution, i+1, qty)
		}
		quantities[i] = qty
		allocated += qty
	}

	remainder := totalQuantity - allocated
	if remainder <= 0 {
		return nil, fmt.Errorf("%w: remainder %d for final slice", ErrInvalidQuantityDistribution, remainder)
	}
	quantities[numSplits-1] = remainder

	interval := float64(durationMinutes) / float64(numSplits-1)

	slices := make([]SplitSlice, numSplits)
	for i := 0; i < numSplits; i++ {
		var scheduledAt time.Time
		switch i {
		// The endpoints are pinned exactly, independent of float rounding
		case 0:
			scheduledAt = createdAt
		case numSplits - 1:
			scheduledAt = windowEnd
		default:
			offsetMinutes := float64(i) * interval
			if randomize {
				offsetMinutes += e.rng.Float64()*2*timeVariance*interval - timeVariance*interval
			}
			scheduledAt = createdAt.Add(time.Duration(offsetMinutes * float64(time.Minute)))
			if scheduledAt.Before(createdAt) {
				scheduledAt = createdAt
			}
			if scheduledAt.After(windowEnd) {
				scheduledAt = windowEnd
			}
		}

		slices[i] = SplitSlice{
			SequenceNumber: i + 1,
			Quantity:       quantities[i],
			ScheduledAt:    scheduledAt,
		}
	}

	if err := validateSchedule(slices, createdAt, windowEnd, totalQuantity, numSplits); err != nil {
		return nil, err
	}

	return slices, nil
}

// validateSchedule checks the computed schedule against the guarantees the
// rest of the system relies on, before any row is persisted
func validateSchedule(slices []SplitSlice, createdAt, windowEnd time.Time, totalQuantity int64, numSplits int) error {
	if len(slices) != numSplits {
		return fmt.Errorf("%w: expected %d slices, got %d", ErrScheduleInvariant, numSplits, len(slices))
	}

	var sum int64
	for i, s := range slices {
		if s.SequenceNumber != i+1 {
			return fmt.Errorf("%w: sequence number %d at position %d", ErrScheduleInvariant, s.SequenceNumber, i)
		}
		if s.ScheduledAt.Before(createdAt) || s.ScheduledAt.After(windowEnd) {
			return fmt.Errorf("%w: slice %d scheduled outside window", ErrScheduleInvariant, s.SequenceNumber)
		}
		sum += s.Quantity
	}

	if sum != totalQuantity {
		return fmt.Errorf("%w: quantities sum to %d, expected %d", ErrScheduleInvariant, sum, totalQuantity)
	}

	return nil
}
