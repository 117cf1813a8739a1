package broker

import (
	"context"
	"fmt"
	"math/rand"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/ksred/pulse-api/internal/types"
	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"
)

// Mock scenarios controlling how the simulated broker behaves
const (
	ScenarioSuccess      = "success"
	ScenarioRejection    = "rejection"
	ScenarioNetworkError = "network_error"
	ScenarioTimeout      = "timeout"
	ScenarioPartialFill  = "partial_fill"
)

// MockBroker simulates a broker API for development and testing.
// The scenario knob selects a failure mode; "success" fills market orders
// immediately at a simulated price.
type MockBroker struct {
	scenario string
	latency  time.Duration

	mu     sync.Mutex
	orders map[string]*OrderResponse
}

// NewMockBroker creates a mock broker with the given scenario and simulated
// network latency
func NewMockBroker(scenario string, latency time.Duration) *MockBroker {
	return &MockBroker{
		scenario: scenario,
		latency:  latency,
		orders:   make(map[string]*OrderResponse),
	}
}

// PlaceOrder simulates placing an order with the broker
func (b *MockBroker) PlaceOrder(ctx context.Context, req OrderRequest) (*OrderResponse, error) {
	logger := log.With().
		Str("component", "mock_broker").
		Str("instrument", req.Instrument).
		Str("side", string(req.Side)).
		Int64("quantity", req.Quantity).
		Logger()

	select {
	case <-time.After(b.latency):
	case <-ctx.Done():
		return nil, &Error{Kind: ErrorKindTimeout, Code: "CONTEXT_CANCELLED", Message: ctx.Err().Error()}
	}

	switch b.scenario {
	case ScenarioRejection:
		logger.Warn().Msg("order rejected by broker")
		return nil, &Error{
			Kind:    ErrorKindRejection,
			Code:    "INSUFFICIENT_FUNDS",
			Message: "insufficient funds in account",
		}
	case ScenarioNetworkError:
		logger.Warn().Msg("simulated network failure")
		return nil, &Error{
			Kind:    ErrorKindNetwork,
			Code:    "CONNECTION_RESET",
			Message: "connection reset by peer",
		}
	case ScenarioTimeout:
		logger.Warn().Msg("simulated broker timeout")
		return nil, &Error{
			Kind:    ErrorKindTimeout,
			Code:    "NETWORK_TIMEOUT",
			Message: "connection timeout after 30 seconds",
		}
	}

	brokerOrderID := fmt.Sprintf("BRK%s%s", time.Now().Format("060102"), uuid.New().String()[:8])
	price := b.simulatedPrice(req.Instrument)

	resp := &OrderResponse{
		BrokerOrderID: brokerOrderID,
	}

	switch {
	case b.scenario == ScenarioPartialFill:
		// Half fills now, the rest stays pending for status polling
		resp.Status = StatusOpen
		resp.FilledQuantity = req.Quantity / 2
		resp.PendingQuantity = req.Quantity - resp.FilledQuantity
		if resp.FilledQuantity > 0 {
			resp.AveragePrice = &price
		}
	case req.OrderType == types.OrderTypeMarket:
		// Market orders fill immediately
		resp.Status = StatusComplete
		resp.FilledQuantity = req.Quantity
		resp.AveragePrice = &price
	default:
		// Limit orders stay open initially
		resp.Status = StatusOpen
		resp.PendingQuantity = req.Quantity
	}

	b.mu.Lock()
	b.orders[brokerOrderID] = resp
	b.mu.Unlock()

	logger.Info().
		Str("broker_order_id", brokerOrderID).
		Str("status", resp.Status).
		Int64("filled_quantity", resp.FilledQuantity).
		Msg("order placed with broker")

	return resp, nil
}

// GetOrderStatus returns the current state of a previously placed order.
// Open mock orders complete on the first poll.
func (b *MockBroker) GetOrderStatus(ctx context.Context, brokerOrderID string) (*OrderResponse, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	resp, ok := b.orders[brokerOrderID]
	if !ok {
		return nil, &Error{
			Kind:    ErrorKindRejection,
			Code:    "ORDER_NOT_FOUND",
			Message: fmt.Sprintf("unknown broker order %s", brokerOrderID),
		}
	}

	if resp.Status == StatusOpen {
		resp.Status = StatusComplete
		resp.FilledQuantity += resp.PendingQuantity
		resp.PendingQuantity = 0
		if resp.AveragePrice == nil {
			price := b.simulatedPrice("")
			resp.AveragePrice = &price
		}
	}

	out := *resp
	return &out, nil
}

// simulatedPrice returns a price around 1250 with +/-2% variance
func (b *MockBroker) simulatedPrice(_ string) decimal.Decimal {
	variance := 1 + (rand.Float64()*0.04 - 0.02)
	return decimal.NewFromFloat(1250.0 * variance).Round(2)
}
