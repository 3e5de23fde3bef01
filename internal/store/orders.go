package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"lumina-order-service/internal/lifecycle"
	"lumina-order-service/internal/models"

	"github.com/lib/pq"
)

// CreateOrder inserts a new order
func (s *Store) CreateOrder(ctx context.Context, order *models.Order) error {
	query := `
		INSERT INTO orders (id, order_number, user_id, status, amount, currency,
			service_level, intake_data, payment_ref, paid_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		RETURNING created_at, updated_at`

	row := s.db.QueryRowxContext(ctx, query,
		order.ID, order.OrderNumber, order.UserID, order.Status, order.Amount,
		order.Currency, order.ServiceLevel, order.IntakeData, order.PaymentRef,
		order.PaidAt)
	return row.Scan(&order.CreatedAt, &order.UpdatedAt)
}

// GetOrderByID retrieves an order by ID
func (s *Store) GetOrderByID(ctx context.Context, id string) (*models.Order, error) {
	var order models.Order
	err := s.db.GetContext(ctx, &order, "SELECT * FROM orders WHERE id = $1", id)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("order %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	return &order, nil
}

// GetOrderByPaymentRef retrieves an order by the provider's payment reference
func (s *Store) GetOrderByPaymentRef(ctx context.Context, ref string) (*models.Order, error) {
	var order models.Order
	err := s.db.GetContext(ctx, &order, "SELECT * FROM orders WHERE payment_ref = $1", ref)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("order with payment ref %s: %w", ref, ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	return &order, nil
}

// GetOrdersByUserID retrieves orders for a user
func (s *Store) GetOrdersByUserID(ctx context.Context, userID string) ([]models.Order, error) {
	var orders []models.Order
	err := s.db.SelectContext(ctx, &orders,
		"SELECT * FROM orders WHERE user_id = $1 ORDER BY created_at DESC", userID)
	return orders, err
}

// UpdateOrderStatus moves an order to a new status if its current status is
// in the allowed source set. The guard lives in the WHERE clause so check
// and write are a single statement.
func (s *Store) UpdateOrderStatus(ctx context.Context, orderID string, from []lifecycle.Status, to lifecycle.Status) error {
	res, err := s.db.ExecContext(ctx,
		"UPDATE orders SET status = $1, updated_at = NOW() WHERE id = $2 AND status = ANY($3)",
		to, orderID, pq.Array(statusStrings(from)))
	if err != nil {
		return err
	}
	return s.guardResult(ctx, res, orderID)
}

// MarkOrderPaid applies a payment confirmation: PENDING -> PAID with paidAt
// stamped exactly once.
func (s *Store) MarkOrderPaid(ctx context.Context, orderID, paymentRef string, paidAt time.Time) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE orders
		SET status = $1, paid_at = $2, payment_ref = $3, updated_at = NOW()
		WHERE id = $4 AND status = ANY($5)`,
		lifecycle.StatusPaid, paidAt, paymentRef, orderID,
		pq.Array(statusStrings(lifecycle.SourcesPayment)))
	if err != nil {
		return err
	}
	return s.guardResult(ctx, res, orderID)
}

// SetOrderContent is the single persistence point of the generation
// pipeline: it writes the content wholesale and advances the status, guarded
// by the generation source set.
func (s *Store) SetOrderContent(ctx context.Context, orderID string, content *models.GeneratedContent, from []lifecycle.Status, to lifecycle.Status) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE orders
		SET status = $1, generated_content = $2, error_log = '', updated_at = NOW()
		WHERE id = $3 AND status = ANY($4)`,
		to, content, orderID, pq.Array(statusStrings(from)))
	if err != nil {
		return err
	}
	return s.guardResult(ctx, res, orderID)
}

// FailOrder moves an order to FAILED with the failure recorded, from any
// non-terminal state.
func (s *Store) FailOrder(ctx context.Context, orderID, errorLog string) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE orders
		SET status = $1, error_log = $2, updated_at = NOW()
		WHERE id = $3 AND status = ANY($4)`,
		lifecycle.StatusFailed, errorLog, orderID,
		pq.Array(statusStrings(lifecycle.SourcesFailure)))
	if err != nil {
		return err
	}
	return s.guardResult(ctx, res, orderID)
}

// ClearOrderForRevision prepares an order for another generation attempt:
// status back to PROCESSING, prior content and error log dropped, revision
// counter bumped.
func (s *Store) ClearOrderForRevision(ctx context.Context, orderID string, from []lifecycle.Status) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE orders
		SET status = $1, generated_content = NULL, error_log = '',
			revision = revision + 1, updated_at = NOW()
		WHERE id = $2 AND status = ANY($3)`,
		lifecycle.StatusProcessing, orderID, pq.Array(statusStrings(from)))
	if err != nil {
		return err
	}
	return s.guardResult(ctx, res, orderID)
}

// CompleteOrder applies approval: AWAITING_VALIDATION -> COMPLETED with the
// delivery time stamped.
func (s *Store) CompleteOrder(ctx context.Context, orderID string, deliveredAt time.Time) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE orders
		SET status = $1, delivered_at = $2, updated_at = NOW()
		WHERE id = $3 AND status = ANY($4)`,
		lifecycle.StatusCompleted, deliveredAt, orderID,
		pq.Array(statusStrings(lifecycle.SourcesValidation)))
	if err != nil {
		return err
	}
	return s.guardResult(ctx, res, orderID)
}

// PurgeOrder physically removes an order and its stored files. Administrative
// action only; orders are otherwise never deleted.
func (s *Store) PurgeOrder(ctx context.Context, orderID string) error {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, "DELETE FROM stored_files WHERE order_id = $1", orderID); err != nil {
		return fmt.Errorf("failed to delete order files: %w", err)
	}

	res, err := tx.ExecContext(ctx, "DELETE FROM orders WHERE id = $1", orderID)
	if err != nil {
		return fmt.Errorf("failed to delete order: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("order %s: %w", orderID, ErrNotFound)
	}

	return tx.Commit()
}

// guardResult distinguishes a missing order from a failed status guard after
// a conditional write matched no rows.
func (s *Store) guardResult(ctx context.Context, res sql.Result, orderID string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n > 0 {
		return nil
	}

	var exists bool
	if err := s.db.GetContext(ctx, &exists,
		"SELECT EXISTS(SELECT 1 FROM orders WHERE id = $1)", orderID); err != nil {
		return err
	}
	if !exists {
		return fmt.Errorf("order %s: %w", orderID, ErrNotFound)
	}
	return fmt.Errorf("order %s: %w", orderID, ErrStaleStatus)
}

func statusStrings(statuses []lifecycle.Status) []string {
	out := make([]string, len(statuses))
	for i, s := range statuses {
		out[i] = string(s)
	}
	return out
}
