// Package storage implements the artifact-store collaborator on top of the
// database, returning durable URLs served by the files endpoint.
package storage

import (
	"context"
	"fmt"
	"strings"

	"lumina-order-service/internal/models"
	"lumina-order-service/internal/store"

	"github.com/google/uuid"
)

// DBArtifactStore persists rendered artifacts as rows keyed by id. Purging
// an order deletes its rows, which is the cascade the administrative purge
// relies on.
type DBArtifactStore struct {
	store   *store.Store
	baseURL string
}

// NewDBArtifactStore creates an artifact store. baseURL is the public origin
// the returned URLs are rooted at.
func NewDBArtifactStore(st *store.Store, baseURL string) *DBArtifactStore {
	return &DBArtifactStore{
		store:   st,
		baseURL: strings.TrimRight(baseURL, "/"),
	}
}

// Upload stores the artifact and returns its durable URL.
func (s *DBArtifactStore) Upload(ctx context.Context, orderID, key, contentType string, data []byte) (string, error) {
	file := &models.StoredFile{
		ID:          uuid.New().String(),
		OrderID:     orderID,
		Key:         key,
		ContentType: contentType,
		Data:        data,
	}
	if err := s.store.SaveFile(ctx, file); err != nil {
		return "", fmt.Errorf("failed to store artifact %s: %w", key, err)
	}
	return fmt.Sprintf("%s/files/%s", s.baseURL, file.ID), nil
}
