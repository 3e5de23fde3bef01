package models

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"time"

	"lumina-order-service/internal/lifecycle"

	"github.com/jmoiron/sqlx/types"
)

// User owns orders. Created at checkout, or lazily by the fast-checkout
// path when a payment event arrives for an unknown customer.
type User struct {
	ID        string    `db:"id" json:"id"`
	Email     string    `db:"email" json:"email"`
	Name      string    `db:"name" json:"name"`
	CreatedAt time.Time `db:"created_at" json:"created_at"`
}

// Order is the unit of work for one paid request for generated content.
type Order struct {
	ID               string            `db:"id" json:"id"`
	OrderNumber      string            `db:"order_number" json:"order_number"`
	UserID           string            `db:"user_id" json:"user_id"`
	Status           lifecycle.Status  `db:"status" json:"status"`
	Amount           int64             `db:"amount" json:"amount"`
	Currency         string            `db:"currency" json:"currency"`
	ServiceLevel     int               `db:"service_level" json:"service_level"`
	IntakeData       types.JSONText    `db:"intake_data" json:"intake_data,omitempty"`
	GeneratedContent *GeneratedContent `db:"generated_content" json:"generated_content,omitempty"`
	PaymentRef       string            `db:"payment_ref" json:"payment_ref,omitempty"`
	ErrorLog         string            `db:"error_log" json:"error_log,omitempty"`
	Revision         int               `db:"revision" json:"revision"`
	CreatedAt        time.Time         `db:"created_at" json:"created_at"`
	PaidAt           *time.Time        `db:"paid_at" json:"paid_at,omitempty"`
	DeliveredAt      *time.Time        `db:"delivered_at" json:"delivered_at,omitempty"`
	UpdatedAt        time.Time         `db:"updated_at" json:"updated_at"`
}

// GeneratedContent is the structured reading produced for an order. It is
// written wholesale at the single persistence point of the generation
// pipeline and overwritten entirely on regeneration, never merged.
type GeneratedContent struct {
	Archetype   string    `json:"archetype,omitempty"`
	Reading     string    `json:"reading,omitempty"`
	DocumentURL string    `json:"document_url,omitempty"`
	AudioURL    string    `json:"audio_url,omitempty"`
	Ritual      string    `json:"ritual,omitempty"`
	Analysis    string    `json:"analysis,omitempty"`
	GeneratedAt time.Time `json:"generated_at"`
}

// Value marshals the content for a JSONB column.
func (g GeneratedContent) Value() (driver.Value, error) {
	return json.Marshal(g)
}

// Scan unmarshals the content from a JSONB column.
func (g *GeneratedContent) Scan(src interface{}) error {
	switch v := src.(type) {
	case []byte:
		return json.Unmarshal(v, g)
	case string:
		return json.Unmarshal([]byte(v), g)
	case nil:
		return nil
	default:
		return fmt.Errorf("cannot scan %T into GeneratedContent", src)
	}
}

// ClientProfile is the snippet of user data handed to the model collaborator
// and to the external generation worker.
type ClientProfile struct {
	Name  string `json:"name"`
	Email string `json:"email"`
}

// GenerationResult is the structured response of the model collaborator.
type GenerationResult struct {
	Archetype string `json:"archetype"`
	Reading   string `json:"reading"`
	Ritual    string `json:"ritual,omitempty"`
	Analysis  string `json:"analysis,omitempty"`
}

// ReadingDocument is the data rendered into the deliverable document.
type ReadingDocument struct {
	OrderNumber string
	ClientName  string
	Archetype   string
	Reading     string
	Ritual      string
	Analysis    string
	GeneratedAt time.Time
}

// StoredFile is a rendered artifact persisted by the storage collaborator.
// Purging an order cascades to its files.
type StoredFile struct {
	ID          string    `db:"id" json:"id"`
	OrderID     string    `db:"order_id" json:"order_id"`
	Key         string    `db:"key" json:"key"`
	ContentType string    `db:"content_type" json:"content_type"`
	Data        []byte    `db:"data" json:"-"`
	CreatedAt   time.Time `db:"created_at" json:"created_at"`
}

// ProcessedEvent is the idempotency ledger for inbound payment events. An
// event id is recorded at most once; a replayed delivery is a no-op.
type ProcessedEvent struct {
	EventID     string         `db:"event_id"`
	EventType   string         `db:"event_type"`
	Payload     types.JSONText `db:"payload"`
	ProcessedAt time.Time      `db:"processed_at"`
}
