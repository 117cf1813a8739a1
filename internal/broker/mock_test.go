package broker

import (
	"context"
	"errors"
	"testing"

	"github.com/ksred/pulse-api/internal/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func marketOrder(quantity int64) OrderRequest {
	return OrderRequest{
		Instrument: "NSE:TCS",
		Side:       types.SideBuy,
		Quantity:   quantity,
		OrderType:  types.OrderTypeMarket,
	}
}

func TestMockBrokerFillsMarketOrders(t *testing.T) {
	b := NewMockBroker(ScenarioSuccess, 0)

	resp, err := b.PlaceOrder(context.Background(), marketOrder(100))
	require.NoError(t, err)

	assert.Equal(t, StatusComplete, resp.Status)
	assert.Equal(t, int64(100), resp.FilledQuantity)
	assert.NotEmpty(t, resp.BrokerOrderID)
	require.NotNil(t, resp.AveragePrice)
	assert.True(t, resp.AveragePrice.IsPositive())
}

func TestMockBrokerRejectionIsNotRetryable(t *testing.T) {
	b := NewMockBroker(ScenarioRejection, 0)

	_, err := b.PlaceOrder(context.Background(), marketOrder(100))
	require.Error(t, err)

	var brokerErr *Error
	require.True(t, errors.As(err, &brokerErr))
	assert.Equal(t, ErrorKindRejection, brokerErr.Kind)
	assert.False(t, brokerErr.Retryable())
}

func TestMockBrokerTransientErrorsAreRetryable(t *testing.T) {
	for _, scenario := range []string{ScenarioNetworkError, ScenarioTimeout} {
		b := NewMockBroker(scenario, 0)

		_, err := b.PlaceOrder(context.Background(), marketOrder(100))
		require.Error(t, err, scenario)

		var brokerErr *Error
		require.True(t, errors.As(err, &brokerErr), scenario)
		assert.True(t, brokerErr.Retryable(), scenario)
	}
}

func TestMockBrokerPartialFillCompletesOnPoll(t *testing.T) {
	b := NewMockBroker(ScenarioPartialFill, 0)

	placed, err := b.PlaceOrder(context.Background(), marketOrder(100))
	require.NoError(t, err)
	assert.Equal(t, StatusOpen, placed.Status)
	assert.Equal(t, int64(50), placed.FilledQuantity)
	assert.Equal(t, int64(50), placed.PendingQuantity)

	polled, err := b.GetOrderStatus(context.Background(), placed.BrokerOrderID)
	require.NoError(t, err)
	assert.Equal(t, StatusComplete, polled.Status)
	assert.Equal(t, int64(100), polled.FilledQuantity)
	assert.Zero(t, polled.PendingQuantity)
}

func TestMockBrokerUnknownOrderStatus(t *testing.T) {
	b := NewMockBroker(ScenarioSuccess, 0)

	_, err := b.GetOrderStatus(context.Background(), "BRK000000missing")
	require.Error(t, err)

	var brokerErr *Error
	require.True(t, errors.As(err, &brokerErr))
	assert.Equal(t, "ORDER_NOT_FOUND", brokerErr.Code)
}
