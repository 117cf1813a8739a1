package types

import "time"

// OrderMetrics is the read-side projection of a parent order's slice rows.
// It is recomputed on every read and never stored, so it cannot drift from
// the slice rows it is derived from.
type OrderMetrics struct {
	TotalSlices      int   `json:"total_slices"`
	ScheduledSlices  int   `json:"scheduled_slices"`
	ExecutingSlices  int   `json:"executing_slices"`
	ExecutedSlices   int   `json:"executed_slices"`
	FailedSlices     int   `json:"failed_slices"`
	SkippedSlices    int   `json:"skipped_slices"`
	ExecutedQuantity int64 `json:"executed_quantity"`
	Completed        bool  `json:"completed"`
}

// CreateOrderRequest is the acceptance payload for a new parent order
type CreateOrderRequest struct {
	OrderUniqueKey  string `json:"order_unique_key" binding:"required"`
	Instrument      string `json:"instrument" binding:"required"`
	Side            Side   `json:"side" binding:"required,oneof=BUY SELL"`
	TotalQuantity   int64  `json:"total_quantity" binding:"required,gt=0"`
	NumSplits       int    `json:"num_splits" binding:"required,gte=2,lte=100"`
	DurationMinutes int    `json:"duration_minutes" binding:"required,gte=1,lte=1440"`
	Randomize       bool   `json:"randomize"`
}

// OrderStatusResponse combines a parent order with its projected metrics
type OrderStatusResponse struct {
	Order   *ParentOrder  `json:"order"`
	Metrics *OrderMetrics `json:"metrics"`
}

// OrderResponse is the minimal acceptance response
type OrderResponse struct {
	OrderID        string    `json:"order_id"`
	OrderUniqueKey string    `json:"order_unique_key"`
	Status         string    `json:"status"`
	CreatedAt      time.Time `json:"created_at"`
}
