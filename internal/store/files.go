package store

import (
	"context"
	"database/sql"
	"fmt"

	"lumina-order-service/internal/models"
)

// SaveFile persists a rendered artifact
func (s *Store) SaveFile(ctx context.Context, file *models.StoredFile) error {
	query := `
		INSERT INTO stored_files (id, order_id, key, content_type, data)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING created_at`

	row := s.db.QueryRowxContext(ctx, query,
		file.ID, file.OrderID, file.Key, file.ContentType, file.Data)
	return row.Scan(&file.CreatedAt)
}

// GetFile retrieves a stored artifact by ID
func (s *Store) GetFile(ctx context.Context, id string) (*models.StoredFile, error) {
	var file models.StoredFile
	err := s.db.GetContext(ctx, &file, "SELECT * FROM stored_files WHERE id = $1", id)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("file %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	return &file, nil
}

// GetFilesByOrderID lists artifacts stored for an order
func (s *Store) GetFilesByOrderID(ctx context.Context, orderID string) ([]models.StoredFile, error) {
	var files []models.StoredFile
	err := s.db.SelectContext(ctx, &files,
		"SELECT * FROM stored_files WHERE order_id = $1 ORDER BY created_at DESC", orderID)
	return files, err
}
