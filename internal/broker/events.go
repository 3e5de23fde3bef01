package broker

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"time"

	"lumina-order-service/internal/models"

	"github.com/google/uuid"
	"github.com/segmentio/kafka-go"
)

// EventPublisher publishes order lifecycle events for downstream consumers.
// Publishing is best effort everywhere it is called: a broker outage never
// fails an order transition.
type EventPublisher struct {
	lifecycle     *Producer
	notifications *Producer
}

// NewEventPublisher creates a new event publisher
func NewEventPublisher(lifecycle, notifications *Producer) *EventPublisher {
	return &EventPublisher{lifecycle: lifecycle, notifications: notifications}
}

func baseEvent(eventType string) models.BaseEvent {
	return models.BaseEvent{
		EventID:   uuid.New().String(),
		EventType: eventType,
		Timestamp: time.Now(),
	}
}

// PublishOrderPaid publishes an ORDER_PAID event
func (ep *EventPublisher) PublishOrderPaid(ctx context.Context, order *models.Order) error {
	event := &models.OrderPaidEvent{
		BaseEvent:   baseEvent(models.EventTypeOrderPaid),
		OrderID:     order.ID,
		OrderNumber: order.OrderNumber,
		UserID:      order.UserID,
		Amount:      order.Amount,
		Currency:    order.Currency,
	}
	return ep.lifecycle.PublishEvent(ctx, "order-"+order.ID, event)
}

// PublishOrderGenerated publishes an ORDER_GENERATED event
func (ep *EventPublisher) PublishOrderGenerated(ctx context.Context, order *models.Order) error {
	event := &models.OrderGeneratedEvent{
		BaseEvent:   baseEvent(models.EventTypeOrderGenerated),
		OrderID:     order.ID,
		OrderNumber: order.OrderNumber,
		Revision:    order.Revision,
	}
	return ep.lifecycle.PublishEvent(ctx, "order-"+order.ID, event)
}

// PublishOrderFailed publishes an ORDER_FAILED event
func (ep *EventPublisher) PublishOrderFailed(ctx context.Context, order *models.Order, reason string) error {
	event := &models.OrderFailedEvent{
		BaseEvent:   baseEvent(models.EventTypeOrderFailed),
		OrderID:     order.ID,
		OrderNumber: order.OrderNumber,
		Reason:      reason,
	}
	return ep.lifecycle.PublishEvent(ctx, "order-"+order.ID, event)
}

// PublishOrderCompleted publishes an ORDER_COMPLETED event
func (ep *EventPublisher) PublishOrderCompleted(ctx context.Context, order *models.Order) error {
	event := &models.OrderCompletedEvent{
		BaseEvent:   baseEvent(models.EventTypeOrderCompleted),
		OrderID:     order.ID,
		OrderNumber: order.OrderNumber,
		UserID:      order.UserID,
	}
	return ep.lifecycle.PublishEvent(ctx, "order-"+order.ID, event)
}

// PublishNotification publishes a NOTIFICATION event for the notification
// worker.
func (ep *EventPublisher) PublishNotification(ctx context.Context, to, template string, payload map[string]string) error {
	event := &models.NotificationEvent{
		BaseEvent: baseEvent(models.EventTypeNotification),
		To:        to,
		Template:  template,
		Context:   payload,
	}
	return ep.notifications.PublishEvent(ctx, "notify-"+to, event)
}

// NotificationHandler routes notification messages to a delivery function.
type NotificationHandler struct {
	deliver func(context.Context, *models.NotificationEvent) error
}

// NewNotificationHandler creates a handler around a delivery function
func NewNotificationHandler(deliver func(context.Context, *models.NotificationEvent) error) *NotificationHandler {
	return &NotificationHandler{deliver: deliver}
}

// HandleMessage decodes and delivers a notification message
func (nh *NotificationHandler) HandleMessage(ctx context.Context, msg kafka.Message) error {
	var base models.BaseEvent
	if err := json.Unmarshal(msg.Value, &base); err != nil {
		return fmt.Errorf("failed to unmarshal base event: %w", err)
	}

	if base.EventType != models.EventTypeNotification {
		log.Printf("Skipping event type on notification topic: %s", base.EventType)
		return nil
	}

	var event models.NotificationEvent
	if err := json.Unmarshal(msg.Value, &event); err != nil {
		return fmt.Errorf("failed to unmarshal notification event: %w", err)
	}
	return nh.deliver(ctx, &event)
}
