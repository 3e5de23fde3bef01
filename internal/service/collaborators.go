package service

import (
	"context"
	"time"

	"lumina-order-service/internal/lifecycle"
	"lumina-order-service/internal/models"
)

// Store is the persistence surface the services depend on, implemented by
// *store.Store. Guarded writes return store.ErrStaleStatus when the status
// precondition fails and store.ErrNotFound for missing rows; services
// translate those into the taxonomy in errors.go.
type Store interface {
	GetOrderByID(ctx context.Context, id string) (*models.Order, error)
	GetOrderByPaymentRef(ctx context.Context, ref string) (*models.Order, error)
	GetOrdersByUserID(ctx context.Context, userID string) ([]models.Order, error)
	CreateOrder(ctx context.Context, order *models.Order) error
	NextOrderNumber(ctx context.Context, now time.Time) (string, error)

	UpdateOrderStatus(ctx context.Context, orderID string, from []lifecycle.Status, to lifecycle.Status) error
	MarkOrderPaid(ctx context.Context, orderID, paymentRef string, paidAt time.Time) error
	SetOrderContent(ctx context.Context, orderID string, content *models.GeneratedContent, from []lifecycle.Status, to lifecycle.Status) error
	FailOrder(ctx context.Context, orderID, errorLog string) error
	ClearOrderForRevision(ctx context.Context, orderID string, from []lifecycle.Status) error
	CompleteOrder(ctx context.Context, orderID string, deliveredAt time.Time) error
	PurgeOrder(ctx context.Context, orderID string) error

	GetUserByID(ctx context.Context, id string) (*models.User, error)
	UpsertUserByEmail(ctx context.Context, email, name string) (*models.User, error)

	IsEventProcessed(ctx context.Context, eventID string) (bool, error)
	MarkEventProcessed(ctx context.Context, eventID, eventType string, payload []byte) error
}

// ModelClient is the generative-model collaborator. A malformed or empty
// response is a hard failure; the orchestrator does not retry it.
type ModelClient interface {
	Generate(ctx context.Context, profile models.ClientProfile, order *models.Order) (*models.GenerationResult, error)
}

// Renderer produces the deliverable document bytes.
type Renderer interface {
	Render(ctx context.Context, templateName string, data *models.ReadingDocument) ([]byte, error)
}

// ArtifactStore persists a rendered artifact and returns a durable URL.
type ArtifactStore interface {
	Upload(ctx context.Context, orderID, key, contentType string, data []byte) (string, error)
}

// Notifier is the fire-and-forget notification collaborator. Callers log
// failures and never propagate them.
type Notifier interface {
	Send(ctx context.Context, to, template string, payload map[string]string) error
}

// LifecyclePublisher mirrors order transitions onto the event broker,
// implemented by broker.EventPublisher. Best effort everywhere.
type LifecyclePublisher interface {
	PublishOrderPaid(ctx context.Context, order *models.Order) error
	PublishOrderGenerated(ctx context.Context, order *models.Order) error
	PublishOrderFailed(ctx context.Context, order *models.Order, reason string) error
	PublishOrderCompleted(ctx context.Context, order *models.Order) error
}

// Locker takes best-effort leases around generation runs to avoid wasted
// duplicate model calls. Correctness relies on the status guard, not on this.
type Locker interface {
	AcquireLock(ctx context.Context, key string, ttl time.Duration) (bool, error)
	ReleaseLock(ctx context.Context, key string) error
}

// Dispatcher sends a generation request to the external worker.
type Dispatcher interface {
	Configured() bool
	Dispatch(ctx context.Context, order *models.Order, user *models.User, opts DispatchOptions) error
}

// DispatchOptions carries per-request dispatch parameters.
type DispatchOptions struct {
	Operator     string
	Regeneration bool
}
