package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"lumina-order-service/internal/lifecycle"
	"lumina-order-service/internal/models"
	"lumina-order-service/internal/signature"
	"lumina-order-service/internal/store"
	"lumina-order-service/internal/util"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// PaymentService is the idempotent intake for provider payment webhooks.
// Verification runs over the raw request bytes; the ProcessedEvent ledger
// makes redelivery a no-op; the PENDING guard makes the PAID transition
// apply exactly once.
type PaymentService struct {
	store      Store
	secret     string
	dispatcher Dispatcher
	generator  *GenerationOrchestrator
	notifier   Notifier
	publisher  LifecyclePublisher
	events     EventCache // optional
	logger     *zap.Logger

	// spawn runs the post-payment generation trigger; fire-and-forget in
	// production, synchronous in tests.
	spawn func(fn func())
}

// EventCache is an optional shared marker in front of the ledger. It
// short-circuits hot redeliveries; the Postgres ledger stays authoritative.
type EventCache interface {
	SeenEvent(ctx context.Context, eventID string) (bool, error)
	MarkEventSeen(ctx context.Context, eventID string, ttl time.Duration) error
}

// eventCacheTTL bounds the fast-path markers; providers stop redelivering
// well before this.
const eventCacheTTL = 24 * time.Hour

// NewPaymentService creates the payment intake service.
func NewPaymentService(
	st Store,
	webhookSecret string,
	dispatcher Dispatcher,
	generator *GenerationOrchestrator,
	notifier Notifier,
	publisher LifecyclePublisher,
) *PaymentService {
	return &PaymentService{
		store:      st,
		secret:     webhookSecret,
		dispatcher: dispatcher,
		generator:  generator,
		notifier:   notifier,
		publisher:  publisher,
		logger:     util.GetLogger(),
		spawn:      func(fn func()) { go fn() },
	}
}

// WithEventCache attaches the fast-path event cache.
func (ps *PaymentService) WithEventCache(cache EventCache) *PaymentService {
	ps.events = cache
	return ps
}

// HandleWebhook processes one provider delivery. rawBody must be the exact
// bytes received. The returned ack is identical on every internal branch so
// the response leaks nothing; only signature failures produce an error
// before any state is touched.
func (ps *PaymentService) HandleWebhook(ctx context.Context, rawBody []byte, providedSig string) (*models.WebhookAck, error) {
	ctx, span := util.StartSpan(ctx, "PaymentService.HandleWebhook")
	defer span.End()

	if !signature.VerifyBody(ps.secret, rawBody, providedSig) {
		util.PaymentEventsTotal.WithLabelValues("invalid_signature").Inc()
		return nil, fmt.Errorf("%w: payment webhook signature", ErrAuthentication)
	}

	var event models.PaymentEvent
	if err := json.Unmarshal(rawBody, &event); err != nil {
		util.PaymentEventsTotal.WithLabelValues("malformed").Inc()
		return nil, fmt.Errorf("%w: %v", ErrInvalidPayload, err)
	}
	if event.EventID == "" {
		util.PaymentEventsTotal.WithLabelValues("malformed").Inc()
		return nil, fmt.Errorf("%w: missing event_id", ErrInvalidPayload)
	}

	if ps.events != nil {
		if seen, err := ps.events.SeenEvent(ctx, event.EventID); err == nil && seen {
			util.PaymentEventsTotal.WithLabelValues("duplicate").Inc()
			return &models.WebhookAck{Received: true}, nil
		}
	}

	processed, err := ps.store.IsEventProcessed(ctx, event.EventID)
	if err != nil {
		return nil, fmt.Errorf("failed to check event ledger: %w", err)
	}
	if processed {
		ps.logger.Info("Duplicate payment event, acknowledging prior result",
			zap.String("event_id", event.EventID))
		util.PaymentEventsTotal.WithLabelValues("duplicate").Inc()
		return &models.WebhookAck{Received: true}, nil
	}

	switch event.EventType {
	case models.PaymentEventSucceeded:
		if err := ps.applyPaymentSucceeded(ctx, &event); err != nil {
			// Infrastructure errors propagate so the provider retries; the
			// ledger has not been written yet, so the retry is safe.
			return nil, err
		}
	default:
		ps.logger.Info("Ignoring unhandled payment event type",
			zap.String("event_id", event.EventID),
			zap.String("event_type", event.EventType))
		util.PaymentEventsTotal.WithLabelValues("ignored").Inc()
	}

	// The ledger write pairs the success response with durability, even when
	// the business effect above was a no-op.
	if err := ps.store.MarkEventProcessed(ctx, event.EventID, event.EventType, rawBody); err != nil {
		return nil, fmt.Errorf("failed to record event: %w", err)
	}
	if ps.events != nil {
		if err := ps.events.MarkEventSeen(ctx, event.EventID, eventCacheTTL); err != nil {
			ps.logger.Warn("Failed to set event fast-path marker",
				zap.String("event_id", event.EventID), zap.Error(err))
		}
	}

	return &models.WebhookAck{Received: true}, nil
}

// applyPaymentSucceeded resolves the order, applies PENDING -> PAID, and
// schedules generation. Stale and unknown references are logged and absorbed
// so the provider is still acknowledged.
func (ps *PaymentService) applyPaymentSucceeded(ctx context.Context, event *models.PaymentEvent) error {
	order, created, err := ps.resolveOrder(ctx, event)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) || errors.Is(err, ErrInvalidPayload) {
			ps.logger.Warn("Payment event references no resolvable order",
				zap.String("event_id", event.EventID),
				zap.String("order_id", event.Data.OrderID),
				zap.Error(err))
			util.PaymentEventsTotal.WithLabelValues("unresolvable").Inc()
			return nil
		}
		return err
	}

	applied := created
	if order.Status == lifecycle.StatusPending {
		err := ps.store.MarkOrderPaid(ctx, order.ID, event.Data.PaymentRef, time.Now().UTC())
		if errors.Is(err, store.ErrStaleStatus) {
			ps.logger.Info("Order already past PENDING, payment apply is a no-op",
				zap.String("order_id", order.ID))
			util.PaymentEventsTotal.WithLabelValues("stale").Inc()
			return nil
		}
		if err != nil {
			return fmt.Errorf("failed to mark order paid: %w", err)
		}
		order.Status = lifecycle.StatusPaid
		applied = true
	}

	// A distinct event for an order already past PENDING changed nothing;
	// acknowledge without repeating the transition's side effects.
	if !applied {
		ps.logger.Info("Order already past PENDING, payment apply is a no-op",
			zap.String("order_id", order.ID),
			zap.String("status", string(order.Status)))
		util.PaymentEventsTotal.WithLabelValues("stale").Inc()
		return nil
	}

	util.OrdersPaidTotal.Inc()
	util.PaymentEventsTotal.WithLabelValues("processed").Inc()
	ps.logger.Info("Payment confirmed",
		zap.String("order_id", order.ID),
		zap.String("order_number", order.OrderNumber),
		zap.String("payment_ref", event.Data.PaymentRef))

	if ps.publisher != nil {
		if err := ps.publisher.PublishOrderPaid(ctx, order); err != nil {
			ps.logger.Error("Failed to publish ORDER_PAID event", zap.Error(err))
		}
	}

	if user, err := ps.store.GetUserByID(ctx, order.UserID); err == nil {
		ps.notifyConfirmation(ctx, user, order)
		ps.triggerGeneration(order.ID, user)
	} else {
		ps.logger.Error("Failed to load user for post-payment steps",
			zap.String("order_id", order.ID), zap.Error(err))
		ps.triggerGeneration(order.ID, nil)
	}

	return nil
}

// resolveOrder finds the order a payment event refers to, creating the user
// and the order on the fly for the fast-checkout path. created reports
// whether the order was born here, already PAID.
func (ps *PaymentService) resolveOrder(ctx context.Context, event *models.PaymentEvent) (order *models.Order, created bool, err error) {
	if event.Data.OrderID != "" {
		order, err = ps.store.GetOrderByID(ctx, event.Data.OrderID)
		return order, false, err
	}
	if event.Data.Email == "" {
		return nil, false, fmt.Errorf("%w: no order reference and no checkout metadata", ErrInvalidPayload)
	}

	user, err := ps.store.UpsertUserByEmail(ctx, event.Data.Email, event.Data.Name)
	if err != nil {
		return nil, false, fmt.Errorf("failed to upsert user: %w", err)
	}

	number, err := ps.store.NextOrderNumber(ctx, time.Now())
	if err != nil {
		return nil, false, err
	}

	intake, _ := json.Marshal(event.Data.Intake)
	paidAt := time.Now().UTC()
	order = &models.Order{
		ID:           uuid.New().String(),
		OrderNumber:  number,
		UserID:       user.ID,
		Status:       lifecycle.StatusPaid,
		Amount:       event.Data.Amount,
		Currency:     event.Data.Currency,
		ServiceLevel: event.Data.ServiceLevel,
		IntakeData:   intake,
		PaymentRef:   event.Data.PaymentRef,
		PaidAt:       &paidAt,
	}
	if err := ps.store.CreateOrder(ctx, order); err != nil {
		return nil, false, fmt.Errorf("failed to create fast-checkout order: %w", err)
	}

	util.OrdersCreatedTotal.WithLabelValues("fast_checkout").Inc()
	ps.logger.Info("Fast-checkout order created",
		zap.String("order_id", order.ID),
		zap.String("order_number", order.OrderNumber),
		zap.String("email", user.Email))
	return order, true, nil
}

func (ps *PaymentService) notifyConfirmation(ctx context.Context, user *models.User, order *models.Order) {
	if ps.notifier == nil {
		return
	}
	err := ps.notifier.Send(ctx, user.Email, "payment-confirmed", map[string]string{
		"order_number": order.OrderNumber,
		"name":         user.Name,
	})
	if err != nil {
		util.NotificationsTotal.WithLabelValues("error").Inc()
		ps.logger.Warn("Payment confirmation notification failed",
			zap.String("order_id", order.ID), zap.Error(err))
		return
	}
	util.NotificationsTotal.WithLabelValues("sent").Inc()
}

// triggerGeneration spawns the generation step behind an error boundary: the
// webhook response never blocks on it, and an infrastructure failure becomes
// an order FAILED write, never an unhandled fault. A lost race surfaces as
// ErrConflict and leaves the order alone; a pipeline failure has already been
// recorded by the orchestrator.
func (ps *PaymentService) triggerGeneration(orderID string, user *models.User) {
	ps.spawn(func() {
		defer func() {
			if r := recover(); r != nil {
				ps.logger.Error("Generation trigger panicked",
					zap.String("order_id", orderID),
					zap.Any("panic", r))
				ps.recordTriggerFailure(orderID, fmt.Sprintf("generation trigger panic: %v", r))
			}
		}()

		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Minute)
		defer cancel()

		err := ps.runGeneration(ctx, orderID, user)
		switch {
		case err == nil:
		case errors.Is(err, ErrConflict):
			// Another actor already moved the order on; its result stands
			// and the order must not be touched.
			ps.logger.Info("Generation trigger lost to a concurrent transition",
				zap.String("order_id", orderID), zap.Error(err))
		case errors.Is(err, ErrGeneration):
			// The orchestrator already recorded the failure on the order.
			ps.logger.Warn("Generation pipeline failed",
				zap.String("order_id", orderID), zap.Error(err))
		default:
			ps.recordTriggerFailure(orderID, err.Error())
		}
	})
}

// runGeneration dispatches to the external worker when one is configured,
// otherwise runs the in-process pipeline.
func (ps *PaymentService) runGeneration(ctx context.Context, orderID string, user *models.User) error {
	if ps.dispatcher != nil && ps.dispatcher.Configured() {
		order, err := ps.store.GetOrderByID(ctx, orderID)
		if err != nil {
			return err
		}
		if user == nil {
			if user, err = ps.store.GetUserByID(ctx, order.UserID); err != nil {
				return err
			}
		}

		err = ps.store.UpdateOrderStatus(ctx, orderID, lifecycle.SourcesDispatch, lifecycle.StatusProcessing)
		if errors.Is(err, store.ErrStaleStatus) {
			// Another trigger got here first.
			return nil
		}
		if err != nil {
			return err
		}
		return ps.dispatcher.Dispatch(ctx, order, user, DispatchOptions{})
	}

	if ps.generator != nil {
		return ps.generator.Run(ctx, orderID)
	}

	ps.logger.Warn("No dispatcher or generator configured, order stays PAID",
		zap.String("order_id", orderID))
	return nil
}

// recordTriggerFailure converts a background failure into order state.
func (ps *PaymentService) recordTriggerFailure(orderID, cause string) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	util.OrdersFailedTotal.WithLabelValues("post_payment_trigger").Inc()
	if err := ps.store.FailOrder(ctx, orderID, cause); err != nil {
		ps.logger.Error("Failed to record trigger failure on order",
			zap.String("order_id", orderID),
			zap.String("cause", cause),
			zap.Error(err))
	}
}
