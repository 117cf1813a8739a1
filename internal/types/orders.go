package types

import (
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

// Side is the direction of an order
type Side string

const (
	SideBuy  Side = "BUY"
	SideSell Side = "SELL"
)

// Valid reports whether the side is one of the known values
func (s Side) Valid() bool {
	return s == SideBuy || s == SideSell
}

// OrderType is the broker order type used for slices
type OrderType string

const (
	OrderTypeMarket OrderType = "MARKET"
	OrderTypeLimit  OrderType = "LIMIT"
)

// OrderStatus tracks a parent order through the splitting lifecycle
type OrderStatus string

const (
	OrderStatusPending       OrderStatus = "PENDING"
	OrderStatusSplitting     OrderStatus = "SPLITTING"
	OrderStatusSplitComplete OrderStatus = "SPLIT_COMPLETE"
	OrderStatusFailed        OrderStatus = "FAILED"
)

// orderTransitions is the closed set of legal parent order status transitions.
// PENDING is never re-entered; SPLIT_COMPLETE and FAILED are terminal.
var orderTransitions = map[OrderStatus][]OrderStatus{
	OrderStatusPending:   {OrderStatusSplitting},
	OrderStatusSplitting: {OrderStatusSplitComplete, OrderStatusFailed},
}

// CanTransitionTo reports whether moving to next is a legal transition
func (s OrderStatus) CanTransitionTo(next OrderStatus) bool {
	for _, allowed := range orderTransitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

// Terminal reports whether the status ends the splitting lifecycle
func (s OrderStatus) Terminal() bool {
	return s == OrderStatusSplitComplete || s == OrderStatusFailed
}

// SliceStatus tracks a slice through the execution lifecycle
type SliceStatus string

const (
	SliceStatusScheduled SliceStatus = "SCHEDULED"
	SliceStatusExecuting SliceStatus = "EXECUTING"
	SliceStatusExecuted  SliceStatus = "EXECUTED"
	SliceStatusFailed    SliceStatus = "FAILED"
	SliceStatusSkipped   SliceStatus = "SKIPPED"
)

// sliceTransitions is the closed set of legal slice status transitions.
// EXECUTING reverts to SCHEDULED only on a retryable broker failure.
var sliceTransitions = map[SliceStatus][]SliceStatus{
	SliceStatusScheduled: {SliceStatusExecuting, SliceStatusSkipped},
	SliceStatusExecuting: {SliceStatusExecuted, SliceStatusFailed, SliceStatusScheduled},
}

// CanTransitionTo reports whether moving to next is a legal transition
func (s SliceStatus) CanTransitionTo(next SliceStatus) bool {
	for _, allowed := range sliceTransitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

// Terminal reports whether the status ends the execution lifecycle
func (s SliceStatus) Terminal() bool {
	return s == SliceStatusExecuted || s == SliceStatusFailed || s == SliceStatusSkipped
}

// Failure reasons recorded on terminal FAILED/SKIPPED records
const (
	ReasonInvalidQuantityDistribution = "invalid_quantity_distribution"
	ReasonSplitTimeout                = "split_timeout"
	ReasonExecutionTimeout            = "execution_timeout"
	ReasonWindowExpired               = "window_expired"
	ReasonRetryLimitExceeded          = "retry_limit_exceeded"
)

// ParentOrder is a user-submitted order before splitting. The acceptance
// inputs are immutable; only the splitting lifecycle fields change, and only
// through the splitting worker and the timeout supervisor.
type ParentOrder struct {
	gorm.Model         `json:"-"`
	OrderID            string      `gorm:"uniqueIndex" json:"order_id"`
	OrderUniqueKey     string      `gorm:"uniqueIndex" json:"order_unique_key"`
	Instrument         string      `json:"instrument"`
	Side               Side        `json:"side"`
	TotalQuantity      int64       `json:"total_quantity"`
	NumSplits          int         `json:"num_splits"`
	DurationMinutes    int         `json:"duration_minutes"`
	Randomize          bool        `json:"randomize"`
	Status             OrderStatus `gorm:"index" json:"status"`
	FailureReason      *string     `json:"failure_reason,omitempty"`
	SplittingStartedAt *time.Time  `json:"splitting_started_at,omitempty"`
	SplitCompletedAt   *time.Time  `json:"split_completed_at,omitempty"`
	CreatedAt          time.Time   `json:"created_at"`
	UpdatedAt          time.Time   `json:"updated_at"`
}

// WindowEnd returns the end of the split window. All slices must be
// scheduled within [CreatedAt, WindowEnd].
func (o *ParentOrder) WindowEnd() time.Time {
	return o.CreatedAt.Add(time.Duration(o.DurationMinutes) * time.Minute)
}

// WindowExpired reports whether the split window has fully elapsed at now
func (o *ParentOrder) WindowExpired(now time.Time) bool {
	return now.After(o.WindowEnd())
}

// Slice is one child order produced by splitting a parent. Quantity and
// scheduled time are computed once at split time and never change.
type Slice struct {
	gorm.Model         `json:"-"`
	SliceID            string           `gorm:"uniqueIndex" json:"slice_id"`
	ParentOrderID      string           `gorm:"index;index:idx_slices_parent_seq,unique" json:"parent_order_id"`
	SequenceNumber     int              `gorm:"index:idx_slices_parent_seq,unique" json:"sequence_number"`
	Instrument         string           `json:"instrument"`
	Side               Side             `json:"side"`
	Quantity           int64            `json:"quantity"`
	ScheduledAt        time.Time        `gorm:"index:idx_slices_due,priority:2" json:"scheduled_at"`
	Status             SliceStatus      `gorm:"index:idx_slices_due,priority:1" json:"status"`
	BrokerOrderID      *string          `json:"broker_order_id,omitempty"`
	ExecutionPrice     *decimal.Decimal `gorm:"type:decimal(18,4)" json:"execution_price,omitempty"`
	ExecutionQuantity  *int64           `json:"execution_quantity,omitempty"`
	FailureReason      *string          `json:"failure_reason,omitempty"`
	RetryCount         int              `json:"retry_count"`
	ExecutionStartedAt *time.Time       `json:"execution_started_at,omitempty"`
	CreatedAt          time.Time        `json:"created_at"`
	UpdatedAt          time.Time        `json:"updated_at"`
}

// BrokerEvent is an append-only audit record of a single broker call made
// while executing a slice
type BrokerEvent struct {
	gorm.Model     `json:"-"`
	EventID        string    `gorm:"uniqueIndex" json:"event_id"`
	SliceID        string    `gorm:"index" json:"slice_id"`
	EventType      string    `json:"event_type"` // PLACE_ORDER or ORDER_STATUS
	AttemptNumber  int       `json:"attempt_number"`
	Success        bool      `json:"success"`
	BrokerOrderID  *string   `json:"broker_order_id,omitempty"`
	BrokerStatus   *string   `json:"broker_status,omitempty"`
	ErrorCode      *string   `json:"error_code,omitempty"`
	ErrorMessage   *string   `json:"error_message,omitempty"`
	ResponseTimeMs int64     `json:"response_time_ms"`
	CreatedAt      time.Time `json:"created_at"`
}
