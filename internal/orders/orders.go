package orders

import (
	"errors"
	"fmt"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/ksred/pulse-api/internal/metrics"
	"github.com/ksred/pulse-api/internal/types"
	"github.com/ksred/pulse-api/pkg/response"
	"github.com/rs/zerolog/log"
	"gorm.io/gorm"
)

// ErrDuplicateOrderKey is returned when an order_unique_key has already
// been accepted. The original order is unaffected.
var ErrDuplicateOrderKey = errors.New("order unique key already exists")

// Service handles parent order acceptance and the read API
type Service struct {
	db        *Database
	projector *metrics.Projector
}

// NewService creates a new order service with the given database connection
func NewService(gormDB *gorm.DB) *Service {
	return &Service{
		db:        NewDatabase(gormDB),
		projector: metrics.NewProjector(gormDB),
	}
}

// CreateOrder accepts a new parent order in PENDING state. Deduplication
// is enforced by the uniqueness constraint on order_unique_key, not
// re-derived here.
func (s *Service) CreateOrder(req *types.CreateOrderRequest) (*types.ParentOrder, error) {
	order := &types.ParentOrder{
		OrderID:         uuid.New().String(),
		OrderUniqueKey:  req.OrderUniqueKey,
		Instrument:      req.Instrument,
		Side:            req.Side,
		TotalQuantity:   req.TotalQuantity,
		NumSplits:       req.NumSplits,
		DurationMinutes: req.DurationMinutes,
		Randomize:       req.Randomize,
		Status:          types.OrderStatusPending,
	}

	if err := s.db.CreateOrder(order); err != nil {
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			return nil, fmt.Errorf("%w: %s", ErrDuplicateOrderKey, req.OrderUniqueKey)
		}
		return nil, err
	}

	log.Info().
		Str("order_id", order.OrderID).
		Str("order_unique_key", order.OrderUniqueKey).
		Str("instrument", order.Instrument).
		Int64("total_quantity", order.TotalQuantity).
		Int("num_splits", order.NumSplits).
		Msg("order accepted")

	return order, nil
}

// GetOrderStatus returns an order together with its projected metrics
func (s *Service) GetOrderStatus(orderID string) (*types.OrderStatusResponse, error) {
	order, err := s.db.GetOrder(orderID)
	if err != nil || order == nil {
		return nil, err
	}

	orderMetrics, err := s.projector.Project(order.OrderID)
	if err != nil {
		return nil, err
	}

	return &types.OrderStatusResponse{
		Order:   order,
		Metrics: orderMetrics,
	}, nil
}

// GetSlices returns the slice schedule of an order
func (s *Service) GetSlices(orderID string) ([]types.Slice, error) {
	return s.db.GetSlices(orderID)
}

// GinHandlers contains HTTP handlers for order endpoints
type GinHandlers struct {
	service *Service
}

// NewGinHandlers creates a new set of HTTP handlers for order endpoints
func NewGinHandlers(service *Service) *GinHandlers {
	return &GinHandlers{
		service: service,
	}
}

// CreateOrderHandler handles POST requests to accept new parent orders.
// Duplicate order_unique_key values are rejected with a conflict.
func (h *GinHandlers) CreateOrderHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		var req types.CreateOrderRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			response.BadRequest(c, err.Error())
			return
		}

		order, err := h.service.CreateOrder(&req)
		if err != nil {
			if errors.Is(err, ErrDuplicateOrderKey) {
				response.Conflict(c, err.Error())
				return
			}
			response.InternalError(c, err.Error())
			return
		}

		response.Success(c, types.OrderResponse{
			OrderID:        order.OrderID,
			OrderUniqueKey: order.OrderUniqueKey,
			Status:         string(order.Status),
			CreatedAt:      order.CreatedAt,
		})
	}
}

// GetOrderStatusHandler handles GET requests for an order and its derived
// metrics
// URL parameter: order_id
func (h *GinHandlers) GetOrderStatusHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		orderID := c.Param("order_id")
		if orderID == "" {
			response.BadRequest(c, "Order ID is required")
			return
		}

		status, err := h.service.GetOrderStatus(orderID)
		if err != nil {
			response.InternalError(c, err.Error())
			return
		}
		if status == nil {
			response.NotFound(c, "Order not found")
			return
		}

		response.Success(c, status)
	}
}

// GetOrderSlicesHandler handles GET requests for an order's slice schedule
// URL parameter: order_id
func (h *GinHandlers) GetOrderSlicesHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		orderID := c.Param("order_id")
		if orderID == "" {
			response.BadRequest(c, "Order ID is required")
			return
		}

		slices, err := h.service.GetSlices(orderID)
		if err != nil {
			response.InternalError(c, err.Error())
			return
		}

		response.Success(c, slices)
	}
}
