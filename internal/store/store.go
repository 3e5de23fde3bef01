package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"lumina-order-service/internal/models"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
)

// Store-level sentinel errors. Services translate these into their own
// taxonomy at the boundary.
var (
	// ErrNotFound means the requested row does not exist.
	ErrNotFound = errors.New("not found")

	// ErrStaleStatus means a guarded write matched no row because the order
	// left the allowed source set. The precondition and the mutation are one
	// statement, so this is the only signal a lost race produces.
	ErrStaleStatus = errors.New("order status precondition failed")
)

type Store struct {
	db *sqlx.DB
}

// NewStore creates a new database store
func NewStore(databaseURL string) (*Store, error) {
	db, err := sqlx.Connect("postgres", databaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return &Store{db: db}, nil
}

// Close closes the database connection
func (s *Store) Close() error {
	return s.db.Close()
}

// GetDB returns the underlying database connection
func (s *Store) GetDB() *sqlx.DB {
	return s.db
}

// GetUserByID retrieves a user by ID
func (s *Store) GetUserByID(ctx context.Context, id string) (*models.User, error) {
	var user models.User
	err := s.db.GetContext(ctx, &user, "SELECT * FROM users WHERE id = $1", id)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("user %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	return &user, nil
}

// GetUserByEmail retrieves a user by email
func (s *Store) GetUserByEmail(ctx context.Context, email string) (*models.User, error) {
	var user models.User
	err := s.db.GetContext(ctx, &user, "SELECT * FROM users WHERE email = $1", email)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("user %s: %w", email, ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	return &user, nil
}

// UpsertUserByEmail creates a user keyed by email or returns the existing
// one, refreshing the name when a non-empty one is supplied. Used by the
// fast-checkout path.
func (s *Store) UpsertUserByEmail(ctx context.Context, email, name string) (*models.User, error) {
	query := `
		INSERT INTO users (id, email, name)
		VALUES ($1, $2, $3)
		ON CONFLICT (email) DO UPDATE
			SET name = CASE WHEN EXCLUDED.name <> '' THEN EXCLUDED.name ELSE users.name END
		RETURNING *`

	var user models.User
	if err := s.db.GetContext(ctx, &user, query, uuid.New().String(), email, name); err != nil {
		return nil, fmt.Errorf("failed to upsert user: %w", err)
	}
	return &user, nil
}

// IsEventProcessed checks the idempotency ledger for an event id
func (s *Store) IsEventProcessed(ctx context.Context, eventID string) (bool, error) {
	var exists bool
	err := s.db.GetContext(ctx, &exists,
		"SELECT EXISTS(SELECT 1 FROM processed_events WHERE event_id = $1)", eventID)
	return exists, err
}

// MarkEventProcessed records an event id in the idempotency ledger. A
// concurrent duplicate insert is a no-op.
func (s *Store) MarkEventProcessed(ctx context.Context, eventID, eventType string, payload []byte) error {
	_, err := s.db.ExecContext(ctx,
		"INSERT INTO processed_events (event_id, event_type, payload) VALUES ($1, $2, $3) ON CONFLICT (event_id) DO NOTHING",
		eventID, eventType, payload)
	return err
}

// NextOrderNumber allocates the next order number for the day of now.
// The daily counter is bumped and read in one upsert, so concurrent
// allocations never collide and the sequence resets at midnight.
func (s *Store) NextOrderNumber(ctx context.Context, now time.Time) (string, error) {
	prefix := DayPrefix(now)

	var seq int
	err := s.db.GetContext(ctx, &seq, `
		INSERT INTO order_counters (day_prefix, seq)
		VALUES ($1, 1)
		ON CONFLICT (day_prefix) DO UPDATE SET seq = order_counters.seq + 1
		RETURNING seq`, prefix)
	if err != nil {
		return "", fmt.Errorf("failed to allocate order number: %w", err)
	}

	return FormatOrderNumber(prefix, seq), nil
}

// DayPrefix returns the YYMMDD prefix for order numbers on the given day.
func DayPrefix(t time.Time) string {
	return t.Format("060102")
}

// FormatOrderNumber builds a human-readable order number: LU + day prefix +
// zero-padded daily sequence. The padding widens past 999 rather than wrap.
func FormatOrderNumber(dayPrefix string, seq int) string {
	return fmt.Sprintf("LU%s%03d", dayPrefix, seq)
}
