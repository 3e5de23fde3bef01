package models

import (
	"encoding/json"
	"time"
)

// Payment provider event types
const (
	PaymentEventSucceeded = "payment.succeeded"
	PaymentEventFailed    = "payment.failed"
)

// PaymentEvent is the provider-signed envelope delivered to the payment
// webhook. Signature verification runs over the raw request bytes, never a
// re-serialization of this struct.
type PaymentEvent struct {
	EventID   string           `json:"event_id"`
	EventType string           `json:"event_type"`
	Data      PaymentEventData `json:"data"`
}

// PaymentEventData carries the business payload of a payment event. OrderID
// references an existing order; when it is empty the checkout metadata
// (email, name, level, amount) drives lazy user and order creation.
type PaymentEventData struct {
	PaymentRef   string            `json:"payment_ref"`
	OrderID      string            `json:"order_id,omitempty"`
	Amount       int64             `json:"amount"`
	Currency     string            `json:"currency"`
	Email        string            `json:"email,omitempty"`
	Name         string            `json:"name,omitempty"`
	ServiceLevel int               `json:"service_level,omitempty"`
	Intake       map[string]string `json:"intake,omitempty"`
}

// WebhookAck is the fixed acknowledgment returned to the payment provider
// regardless of the internal branch taken.
type WebhookAck struct {
	Received bool `json:"received"`
}

// Callback status flags reported by the generation worker.
const (
	CallbackStatusReady  = "ready"
	CallbackStatusFailed = "failed"
)

// CallbackRequest is the signed result envelope posted back by the external
// generation worker.
type CallbackRequest struct {
	OrderID     string          `json:"orderId"`
	OrderNumber string          `json:"orderNumber"`
	Status      string          `json:"status"`
	Error       string          `json:"error,omitempty"`
	Content     CallbackContent `json:"content"`
}

// CallbackContent is the generated payload inside a ready callback. All
// fields are optional strings on the wire.
type CallbackContent struct {
	Archetype   string `json:"archetype,omitempty"`
	Reading     string `json:"reading,omitempty"`
	DocumentURL string `json:"documentUrl,omitempty"`
	AudioURL    string `json:"audioUrl,omitempty"`
	Ritual      string `json:"ritual,omitempty"`
	Analysis    string `json:"analysis,omitempty"`
}

// DispatchPayload is the signed request body sent to the external generation
// worker.
type DispatchPayload struct {
	OrderID      string          `json:"order_id"`
	OrderNumber  string          `json:"order_number"`
	ServiceLevel int             `json:"service_level"`
	Instructions string          `json:"instructions,omitempty"`
	ClientName   string          `json:"client_name"`
	ClientEmail  string          `json:"client_email"`
	IntakeData   json.RawMessage `json:"intake_data,omitempty"`
	Operator     string          `json:"operator,omitempty"`
	Regeneration bool            `json:"regeneration,omitempty"`
}

// Lifecycle event types published to the broker
const (
	EventTypeOrderPaid      = "ORDER_PAID"
	EventTypeOrderGenerated = "ORDER_GENERATED"
	EventTypeOrderFailed    = "ORDER_FAILED"
	EventTypeOrderCompleted = "ORDER_COMPLETED"
	EventTypeNotification   = "NOTIFICATION"
)

// BaseEvent contains common fields for all broker events.
type BaseEvent struct {
	EventID   string    `json:"event_id"`
	EventType string    `json:"event_type"`
	Timestamp time.Time `json:"timestamp"`
}

// OrderPaidEvent is published when payment is confirmed.
type OrderPaidEvent struct {
	BaseEvent
	OrderID     string `json:"order_id"`
	OrderNumber string `json:"order_number"`
	UserID      string `json:"user_id"`
	Amount      int64  `json:"amount"`
	Currency    string `json:"currency"`
}

// OrderGeneratedEvent is published when content reaches the order.
type OrderGeneratedEvent struct {
	BaseEvent
	OrderID     string `json:"order_id"`
	OrderNumber string `json:"order_number"`
	Revision    int    `json:"revision"`
}

// OrderFailedEvent is published when the pipeline marks an order FAILED.
type OrderFailedEvent struct {
	BaseEvent
	OrderID     string `json:"order_id"`
	OrderNumber string `json:"order_number"`
	Reason      string `json:"reason"`
}

// OrderCompletedEvent is published on operator or automatic approval.
type OrderCompletedEvent struct {
	BaseEvent
	OrderID     string `json:"order_id"`
	OrderNumber string `json:"order_number"`
	UserID      string `json:"user_id"`
}

// NotificationEvent is the fire-and-forget message consumed by the
// notification worker.
type NotificationEvent struct {
	BaseEvent
	To       string            `json:"to"`
	Template string            `json:"template"`
	Context  map[string]string `json:"context,omitempty"`
}
