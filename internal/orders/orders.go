package orders

import (
	"errors"
	"fmt"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/ksred/pulse-api/internal/auth"
	"github.com/ksred/pulse-api/internal/types"
	"github.com/ksred/pulse-api/pkg/response"
	"github.com/rs/zerolog/log"
	"gorm.io/gorm"
)

// Service handles idempotent parent-order intake and status reads.
type Service struct {
	db *Database
}

// NewService creates a new orders service with the given database connection.
func NewService(gormDB *gorm.DB) *Service {
	return &Service{
		db: NewDatabase(gormDB),
	}
}

// CreateOrder creates a new parent order keyed by the client-supplied
// order_unique_key.
// Resubmitting an identical payload under the same key returns the existing
// order; resubmitting a different payload under the same key is a conflict
// carrying the existing order_id. Concurrent identical submissions race on
// the unique index and the loser falls back to returning the winner's row.
func (s *Service) CreateOrder(req *types.CreateOrderRequest, clientID string) (*types.ParentOrder, error) {
	logger := log.With().
		Str("order_unique_key", req.OrderUniqueKey).
		Str("client_id", clientID).
		Str("service", "orders").
		Logger()

	if err := validateRequest(req); err != nil {
		return nil, err
	}

	order := &types.ParentOrder{
		OrderID:        uuid.New().String(),
		OrderUniqueKey: req.OrderUniqueKey,
		ClientID:       clientID,
		Exchange:       req.Exchange,
		Symbol:         req.Symbol,
		Side:           req.Side,
		TotalQuantity:  req.TotalQuantity,
		SplitConfig:    req.SplitConfig.Config(),
		Status:         types.OrderStatusPending,
		CreatedAt:      time.Now(),
		UpdatedAt:      time.Now(),
	}

	// Fast path: key already taken.
	existing, err := s.db.GetOrderByUniqueKey(req.OrderUniqueKey)
	if err != nil {
		return nil, err
	}
	if existing != nil {
		return s.resolveDuplicate(order, existing)
	}

	if err := s.db.CreateOrder(order); err != nil {
		// Lost an insert race on the unique key: read the winner's row and
		// resolve against it instead of surfacing the constraint error.
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			winner, readErr := s.db.GetOrderByUniqueKey(req.OrderUniqueKey)
			if readErr != nil {
				return nil, readErr
			}
			if winner == nil {
				return nil, fmt.Errorf("duplicate key for %q but winner row not found", req.OrderUniqueKey)
			}
			return s.resolveDuplicate(order, winner)
		}
		return nil, err
	}

	logger.Info().
		Str("order_id", order.OrderID).
		Str("symbol", order.Symbol).
		Str("side", order.Side).
		Int64("total_quantity", order.TotalQuantity).
		Int("num_splits", order.SplitConfig.NumSplits).
		Bool("randomize", order.SplitConfig.Randomize).
		Msg("parent order created")

	return order, nil
}

// resolveDuplicate decides between idempotent success and key conflict.
func (s *Service) resolveDuplicate(submitted, existing *types.ParentOrder) (*types.ParentOrder, error) {
	if existing.SamePayload(submitted) {
		return existing, nil
	}
	return nil, &types.DuplicateKeyConflict{
		OrderUniqueKey:  submitted.OrderUniqueKey,
		ExistingOrderID: existing.OrderID,
	}
}

// GetOrderStatus returns a parent order with its slices and the aggregate
// recomputed from the slice table.
func (s *Service) GetOrderStatus(orderID, clientID string) (*types.OrderStatusResponse, error) {
	order, err := s.db.GetOrderByOrderIDAndClientID(orderID, clientID)
	if err != nil {
		return nil, err
	}
	if order == nil {
		return nil, nil
	}

	slices, err := s.db.GetSlices(order.OrderID)
	if err != nil {
		return nil, err
	}

	counts, err := s.db.CountSlicesByStage(order.OrderID)
	if err != nil {
		return nil, err
	}

	return &types.OrderStatusResponse{
		Order:     order,
		Slices:    slices,
		Counts:    counts,
		Timestamp: time.Now(),
	}, nil
}

// GetOrder retrieves an order by its ID.
func (s *Service) GetOrder(orderID string) (*types.ParentOrder, error) {
	return s.db.GetOrder(orderID)
}

// validateRequest enforces the ingress bounds so invalid submissions never
// enter the store.
func validateRequest(req *types.CreateOrderRequest) error {
	if req.Side != types.SideBuy && req.Side != types.SideSell {
		return types.NewValidationError("side must be %s or %s", types.SideBuy, types.SideSell)
	}
	if req.Exchange == "" || req.Symbol == "" {
		return types.NewValidationError("exchange and symbol are required")
	}
	if req.TotalQuantity <= 0 {
		return types.NewValidationError("total_quantity must be positive")
	}

	cfg := req.SplitConfig.Config()
	if cfg.NumSplits < types.MinSplits || cfg.NumSplits > types.MaxSplits {
		return types.NewValidationError("num_splits must be between %d and %d", types.MinSplits, types.MaxSplits)
	}
	if cfg.DurationMinutes < types.MinDurationMinutes || cfg.DurationMinutes > types.MaxDurationMinutes {
		return types.NewValidationError("duration_minutes must be between %d and %d",
			types.MinDurationMinutes, types.MaxDurationMinutes)
	}
	if req.TotalQuantity < int64(cfg.NumSplits) {
		return types.NewValidationError("total_quantity %d is less than num_splits %d",
			req.TotalQuantity, cfg.NumSplits)
	}
	return nil
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

// CreateOrderHandler handles POST requests to create split orders.
// Requires a valid JWT token; the dedup key travels in the request body as
// order_unique_key.
func (h *GinHandlers) CreateOrderHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		claims, exists := c.Get("claims")
		if !exists {
			response.Unauthorized(c, "Missing authentication claims")
			return
		}

		clientID := auth.GetClientID(claims)
		if clientID == "" {
			response.Unauthorized(c, "Invalid client ID in token")
			return
		}

		var req types.CreateOrderRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			response.BadRequest(c, err.Error())
			return
		}

		order, err := h.service.CreateOrder(&req, clientID)
		if err != nil {
			response.Handle(c, nil, err)
			return
		}

		response.Success(c, types.CreateOrderResponse{
			OrderID:        order.OrderID,
			OrderUniqueKey: order.OrderUniqueKey,
			Status:         order.Status,
		})
	}
}

// GetOrderStatusHandler handles GET requests to retrieve an order with its
// slices. Requires a valid JWT token.
// URL parameter: order_id
func (h *GinHandlers) GetOrderStatusHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		claims, exists := c.Get("claims")
		if !exists {
			response.Unauthorized(c, "Missing authentication claims")
			return
		}

		clientID := auth.GetClientID(claims)
		if clientID == "" {
			response.Unauthorized(c, "Invalid client ID in token")
			return
		}

		orderID := c.Param("order_id")
		if orderID == "" {
			response.BadRequest(c, "Order ID is required")
			return
		}

		status, err := h.service.GetOrderStatus(orderID, clientID)
		if err != nil || status == nil {
			response.NotFound(c, "Order not found")
			return
		}

		response.Success(c, status)
	}
}
