package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"lumina-order-service/internal/lifecycle"
	"lumina-order-service/internal/models"
	"lumina-order-service/internal/store"
	"lumina-order-service/internal/util"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// OrderService covers checkout-intent creation and the operator actions:
// approval, rejection, regeneration, and administrative purge.
type OrderService struct {
	store      Store
	dispatcher Dispatcher
	generator  *GenerationOrchestrator
	notifier   Notifier
	publisher  LifecyclePublisher
	logger     *zap.Logger

	// spawn runs background regeneration work; synchronous in tests.
	spawn func(fn func())
}

// NewOrderService creates the order service.
func NewOrderService(
	st Store,
	dispatcher Dispatcher,
	generator *GenerationOrchestrator,
	notifier Notifier,
	publisher LifecyclePublisher,
) *OrderService {
	return &OrderService{
		store:      st,
		dispatcher: dispatcher,
		generator:  generator,
		notifier:   notifier,
		publisher:  publisher,
		logger:     util.GetLogger(),
		spawn:      func(fn func()) { go fn() },
	}
}

// CreateOrderRequest is the checkout-intent payload.
type CreateOrderRequest struct {
	Email        string            `json:"email" binding:"required,email"`
	Name         string            `json:"name" binding:"required"`
	Amount       int64             `json:"amount" binding:"required,min=1"`
	Currency     string            `json:"currency" binding:"required,len=3"`
	ServiceLevel int               `json:"service_level" binding:"required,min=1,max=3"`
	Intake       map[string]string `json:"intake,omitempty"`
}

// CreateOrder creates a PENDING order for a checkout intent, allocating the
// daily order number.
func (os *OrderService) CreateOrder(ctx context.Context, req *CreateOrderRequest) (*models.Order, error) {
	ctx, span := util.StartSpan(ctx, "OrderService.CreateOrder")
	defer span.End()

	user, err := os.store.UpsertUserByEmail(ctx, req.Email, req.Name)
	if err != nil {
		return nil, fmt.Errorf("failed to upsert user: %w", err)
	}

	number, err := os.store.NextOrderNumber(ctx, time.Now())
	if err != nil {
		return nil, err
	}

	intake, _ := json.Marshal(req.Intake)
	order := &models.Order{
		ID:           uuid.New().String(),
		OrderNumber:  number,
		UserID:       user.ID,
		Status:       lifecycle.StatusPending,
		Amount:       req.Amount,
		Currency:     req.Currency,
		ServiceLevel: req.ServiceLevel,
		IntakeData:   intake,
	}
	if err := os.store.CreateOrder(ctx, order); err != nil {
		return nil, fmt.Errorf("failed to create order: %w", err)
	}

	util.OrdersCreatedTotal.WithLabelValues("checkout").Inc()
	os.logger.Info("Order created",
		zap.String("order_id", order.ID),
		zap.String("order_number", order.OrderNumber))
	return order, nil
}

// GetOrder retrieves an order by ID.
func (os *OrderService) GetOrder(ctx context.Context, orderID string) (*models.Order, error) {
	order, err := os.store.GetOrderByID(ctx, orderID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, fmt.Errorf("%w: order %s", ErrNotFound, orderID)
		}
		return nil, err
	}
	return order, nil
}

// ListUserOrders retrieves a user's orders, newest first.
func (os *OrderService) ListUserOrders(ctx context.Context, userID string) ([]models.Order, error) {
	return os.store.GetOrdersByUserID(ctx, userID)
}

// Approve applies operator approval: AWAITING_VALIDATION -> COMPLETED with
// the delivery stamped, followed by best-effort completion notice.
func (os *OrderService) Approve(ctx context.Context, orderID string) (*models.Order, error) {
	ctx, span := util.StartSpan(ctx, "OrderService.Approve")
	defer span.End()

	if err := os.store.CompleteOrder(ctx, orderID, time.Now().UTC()); err != nil {
		return nil, os.mapGuardErr(err, orderID)
	}

	order, err := os.store.GetOrderByID(ctx, orderID)
	if err != nil {
		return nil, err
	}

	util.OrdersCompletedTotal.Inc()
	os.logger.Info("Order approved",
		zap.String("order_id", order.ID),
		zap.String("order_number", order.OrderNumber))

	if os.publisher != nil {
		if err := os.publisher.PublishOrderCompleted(ctx, order); err != nil {
			os.logger.Error("Failed to publish ORDER_COMPLETED event", zap.Error(err))
		}
	}
	if os.notifier != nil {
		if user, err := os.store.GetUserByID(ctx, order.UserID); err == nil {
			if err := os.notifier.Send(ctx, user.Email, "order-delivered", map[string]string{
				"order_number": order.OrderNumber,
				"name":         user.Name,
			}); err != nil {
				os.logger.Warn("Delivery notification failed", zap.Error(err))
			}
		}
	}
	return order, nil
}

// Reject sends an order back for another attempt: content cleared, revision
// incremented, status PROCESSING, then re-dispatch in the background.
func (os *OrderService) Reject(ctx context.Context, orderID, operator string) (*models.Order, error) {
	ctx, span := util.StartSpan(ctx, "OrderService.Reject")
	defer span.End()

	if err := os.store.ClearOrderForRevision(ctx, orderID, lifecycle.SourcesValidation); err != nil {
		return nil, os.mapGuardErr(err, orderID)
	}
	return os.restartGeneration(ctx, orderID, operator)
}

// Regenerate retries a FAILED (or rejected-in-review) order on operator
// request.
func (os *OrderService) Regenerate(ctx context.Context, orderID, operator string) (*models.Order, error) {
	ctx, span := util.StartSpan(ctx, "OrderService.Regenerate")
	defer span.End()

	if err := os.store.ClearOrderForRevision(ctx, orderID, lifecycle.SourcesRegenerate); err != nil {
		return nil, os.mapGuardErr(err, orderID)
	}
	return os.restartGeneration(ctx, orderID, operator)
}

// restartGeneration re-enters the pipeline after a revision clear. The order
// is already PROCESSING, so dispatch needs no further transition.
func (os *OrderService) restartGeneration(ctx context.Context, orderID, operator string) (*models.Order, error) {
	order, err := os.store.GetOrderByID(ctx, orderID)
	if err != nil {
		return nil, err
	}

	os.logger.Info("Regeneration requested",
		zap.String("order_id", order.ID),
		zap.String("order_number", order.OrderNumber),
		zap.Int("revision", order.Revision),
		zap.String("operator", operator))

	os.spawn(func() {
		defer func() {
			if r := recover(); r != nil {
				os.logger.Error("Regeneration panicked",
					zap.String("order_id", orderID), zap.Any("panic", r))
				os.recordFailure(orderID, fmt.Sprintf("regeneration panic: %v", r))
			}
		}()

		bg, cancel := context.WithTimeout(context.Background(), 10*time.Minute)
		defer cancel()

		if os.dispatcher != nil && os.dispatcher.Configured() {
			user, err := os.store.GetUserByID(bg, order.UserID)
			if err != nil {
				os.recordFailure(orderID, fmt.Sprintf("loading user for dispatch: %v", err))
				return
			}
			err = os.dispatcher.Dispatch(bg, order, user, DispatchOptions{
				Operator:     operator,
				Regeneration: order.Revision > 0,
			})
			if err != nil {
				os.recordFailure(orderID, err.Error())
			}
			return
		}

		if os.generator != nil {
			if err := os.generator.Run(bg, orderID); err != nil {
				// The orchestrator already moved the order to FAILED.
				os.logger.Error("In-process regeneration failed",
					zap.String("order_id", orderID), zap.Error(err))
			}
		}
	})

	return order, nil
}

// Purge physically removes an order and its files. Administrative action.
func (os *OrderService) Purge(ctx context.Context, orderID string) error {
	ctx, span := util.StartSpan(ctx, "OrderService.Purge")
	defer span.End()

	if err := os.store.PurgeOrder(ctx, orderID); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return fmt.Errorf("%w: order %s", ErrNotFound, orderID)
		}
		return err
	}
	os.logger.Info("Order purged", zap.String("order_id", orderID))
	return nil
}

func (os *OrderService) recordFailure(orderID, cause string) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	util.OrdersFailedTotal.WithLabelValues("regeneration").Inc()
	if err := os.store.FailOrder(ctx, orderID, cause); err != nil {
		os.logger.Error("Failed to record failure on order",
			zap.String("order_id", orderID), zap.Error(err))
	}
}

func (os *OrderService) mapGuardErr(err error, orderID string) error {
	switch {
	case errors.Is(err, store.ErrNotFound):
		return fmt.Errorf("%w: order %s", ErrNotFound, orderID)
	case errors.Is(err, store.ErrStaleStatus):
		return fmt.Errorf("%w: order %s", ErrConflict, orderID)
	default:
		return err
	}
}
