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

	"go.uber.org/zap"
)

// CallbackService is the intake for generation results delivered back by the
// external worker over the signed callback channel. Signature, freshness,
// and replay checks run before any business logic; the status guard absorbs
// duplicate deliveries.
type CallbackService struct {
	store     Store
	verifier  *signature.Verifier
	publisher LifecyclePublisher
	notifier  Notifier
	logger    *zap.Logger
}

// NewCallbackService creates the callback intake service.
func NewCallbackService(st Store, verifier *signature.Verifier, publisher LifecyclePublisher, notifier Notifier) *CallbackService {
	return &CallbackService{
		store:     st,
		verifier:  verifier,
		publisher: publisher,
		notifier:  notifier,
		logger:    util.GetLogger(),
	}
}

// HandleCallback verifies and applies one worker delivery. A persistence
// error surfaces unwrapped so the handler returns a retryable status; the
// worker redelivers and the status guard keeps the retry safe.
func (cs *CallbackService) HandleCallback(ctx context.Context, rawBody []byte, sig, timestamp, nonce string) (*models.Order, error) {
	ctx, span := util.StartSpan(ctx, "CallbackService.HandleCallback")
	defer span.End()

	if err := cs.verifier.Verify(ctx, rawBody, sig, timestamp, nonce); err != nil {
		util.CallbacksTotal.WithLabelValues("unauthenticated").Inc()
		return nil, fmt.Errorf("%w: %v", ErrAuthentication, err)
	}

	var req models.CallbackRequest
	if err := json.Unmarshal(rawBody, &req); err != nil {
		util.CallbacksTotal.WithLabelValues("malformed").Inc()
		return nil, fmt.Errorf("%w: %v", ErrInvalidPayload, err)
	}
	if req.OrderID == "" || req.OrderNumber == "" {
		util.CallbacksTotal.WithLabelValues("malformed").Inc()
		return nil, fmt.Errorf("%w: orderId and orderNumber are required", ErrInvalidPayload)
	}
	if req.Status != models.CallbackStatusReady && req.Status != models.CallbackStatusFailed {
		util.CallbacksTotal.WithLabelValues("malformed").Inc()
		return nil, fmt.Errorf("%w: status must be %q or %q", ErrInvalidPayload,
			models.CallbackStatusReady, models.CallbackStatusFailed)
	}

	order, err := cs.store.GetOrderByID(ctx, req.OrderID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			util.CallbacksTotal.WithLabelValues("unknown_order").Inc()
			return nil, fmt.Errorf("%w: order %s", ErrNotFound, req.OrderID)
		}
		return nil, err
	}
	if order.OrderNumber != req.OrderNumber {
		util.CallbacksTotal.WithLabelValues("malformed").Inc()
		return nil, fmt.Errorf("%w: order number mismatch", ErrInvalidPayload)
	}

	if !statusIn(order.Status, lifecycle.SourcesGeneration) {
		util.CallbacksTotal.WithLabelValues("conflict").Inc()
		return nil, fmt.Errorf("%w: order %s is %s", ErrConflict, order.ID, order.Status)
	}

	if req.Status == models.CallbackStatusFailed {
		return cs.applyFailed(ctx, order, &req)
	}
	return cs.applyReady(ctx, order, &req)
}

func (cs *CallbackService) applyFailed(ctx context.Context, order *models.Order, req *models.CallbackRequest) (*models.Order, error) {
	reason := req.Error
	if reason == "" {
		reason = "generation worker reported failure"
	}

	if err := cs.store.FailOrder(ctx, order.ID, reason); err != nil {
		if errors.Is(err, store.ErrStaleStatus) {
			return nil, fmt.Errorf("%w: order %s left generation states", ErrConflict, order.ID)
		}
		return nil, err
	}

	order.Status = lifecycle.StatusFailed
	order.ErrorLog = reason
	util.CallbacksTotal.WithLabelValues("failed").Inc()
	util.OrdersFailedTotal.WithLabelValues("worker_reported").Inc()
	cs.logger.Warn("Generation worker reported failure",
		zap.String("order_id", order.ID),
		zap.String("order_number", order.OrderNumber),
		zap.String("reason", reason))

	if cs.publisher != nil {
		if err := cs.publisher.PublishOrderFailed(ctx, order, reason); err != nil {
			cs.logger.Error("Failed to publish ORDER_FAILED event", zap.Error(err))
		}
	}
	return order, nil
}

func (cs *CallbackService) applyReady(ctx context.Context, order *models.Order, req *models.CallbackRequest) (*models.Order, error) {
	content := &models.GeneratedContent{
		Archetype:   req.Content.Archetype,
		Reading:     req.Content.Reading,
		DocumentURL: req.Content.DocumentURL,
		AudioURL:    req.Content.AudioURL,
		Ritual:      req.Content.Ritual,
		Analysis:    req.Content.Analysis,
		GeneratedAt: time.Now().UTC(),
	}

	err := cs.store.SetOrderContent(ctx, order.ID, content,
		lifecycle.SourcesGeneration, lifecycle.StatusAwaitingValidation)
	if err != nil {
		if errors.Is(err, store.ErrStaleStatus) {
			// The first delivery already moved the order on.
			util.CallbacksTotal.WithLabelValues("conflict").Inc()
			return nil, fmt.Errorf("%w: order %s already has a result", ErrConflict, order.ID)
		}
		// Retryable: the worker redelivers.
		return nil, fmt.Errorf("failed to persist generated content: %w", err)
	}

	order.Status = lifecycle.StatusAwaitingValidation
	order.GeneratedContent = content
	util.CallbacksTotal.WithLabelValues("ready").Inc()
	cs.logger.Info("Generated content accepted",
		zap.String("order_id", order.ID),
		zap.String("order_number", order.OrderNumber),
		zap.Int("revision", order.Revision))

	if cs.publisher != nil {
		if err := cs.publisher.PublishOrderGenerated(ctx, order); err != nil {
			cs.logger.Error("Failed to publish ORDER_GENERATED event", zap.Error(err))
		}
	}
	cs.notifyReady(ctx, order)
	return order, nil
}

// notifyReady sends the best-effort reading-ready notice, matching what the
// in-process pipeline sends.
func (cs *CallbackService) notifyReady(ctx context.Context, order *models.Order) {
	if cs.notifier == nil {
		return
	}
	user, err := cs.store.GetUserByID(ctx, order.UserID)
	if err != nil {
		cs.logger.Warn("Failed to load user for ready notification",
			zap.String("order_id", order.ID), zap.Error(err))
		return
	}
	err = cs.notifier.Send(ctx, user.Email, "reading-ready", map[string]string{
		"order_number": order.OrderNumber,
		"name":         user.Name,
	})
	if err != nil {
		util.NotificationsTotal.WithLabelValues("error").Inc()
		cs.logger.Warn("Ready notification failed",
			zap.String("order_id", order.ID), zap.Error(err))
		return
	}
	util.NotificationsTotal.WithLabelValues("sent").Inc()
}
