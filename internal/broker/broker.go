package broker

import (
	"context"
	"fmt"

	"github.com/ksred/pulse-api/internal/types"
	"github.com/shopspring/decimal"
)

// Broker order statuses as reported by the broker API
const (
	StatusComplete  = "COMPLETE"
	StatusOpen      = "OPEN"
	StatusRejected  = "REJECTED"
	StatusCancelled = "CANCELLED"
)

// ErrorKind classifies broker failures so the execution worker can decide
// between failing a slice immediately and retrying it
type ErrorKind string

const (
	// ErrorKindRejection is a business rejection. Never retried.
	ErrorKindRejection ErrorKind = "rejection"
	// ErrorKindNetwork is a transport failure. Retryable.
	ErrorKindNetwork ErrorKind = "network"
	// ErrorKindTimeout is a broker call that never returned. Retryable.
	ErrorKindTimeout ErrorKind = "timeout"
)

// Error is a classified broker failure
type Error struct {
	Kind    ErrorKind
	Code    string
	Message string
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Retryable reports whether the failure is transient
func (e *Error) Retryable() bool {
	return e.Kind == ErrorKindNetwork || e.Kind == ErrorKindTimeout
}

// OrderRequest is a request to place a single slice with the broker
type OrderRequest struct {
	Instrument string
	Side       types.Side
	Quantity   int64
	OrderType  types.OrderType
	LimitPrice *decimal.Decimal
}

// OrderResponse is the broker's view of a placed order
type OrderResponse struct {
	BrokerOrderID   string
	Status          string
	FilledQuantity  int64
	PendingQuantity int64
	AveragePrice    *decimal.Decimal
	Message         string
}

// Client is the outbound broker dependency of the execution worker.
// PlaceOrder failures are *Error values classified for retry decisions.
type Client interface {
	PlaceOrder(ctx context.Context, req OrderRequest) (*OrderResponse, error)
	GetOrderStatus(ctx context.Context, brokerOrderID string) (*OrderResponse, error)
}
