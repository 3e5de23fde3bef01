package ai

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"lumina-order-service/internal/lifecycle"
	"lumina-order-service/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testOrder() *models.Order {
	return &models.Order{
		ID:           "ord-1",
		OrderNumber:  "LU260828001",
		Status:       lifecycle.StatusProcessing,
		ServiceLevel: 2,
		IntakeData:   []byte(`{"birth_date":"1990-04-01"}`),
		Revision:     1,
	}
}

func fastClient(url string) *Client {
	c := NewClient(url, "test-key", "lumina-reading-v2", time.Second)
	c.initialDelay = time.Millisecond
	return c
}

func TestGenerate(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/readings", r.URL.Path)
		assert.Equal(t, "Bearer test-key", r.Header.Get("Authorization"))

		var req generateRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "lumina-reading-v2", req.Model)
		assert.Equal(t, "Iris", req.Profile.Name)
		assert.Equal(t, 2, req.ServiceLevel)
		assert.Equal(t, 1, req.Revision)

		json.NewEncoder(w).Encode(generateResponse{
			Archetype: "The Weaver",
			Reading:   "A long reading.",
			Ritual:    "Light a candle.",
		})
	}))
	defer srv.Close()

	result, err := fastClient(srv.URL).Generate(context.Background(),
		models.ClientProfile{Name: "Iris", Email: "iris@example.com"}, testOrder())
	require.NoError(t, err)

	assert.Equal(t, "The Weaver", result.Archetype)
	assert.Equal(t, "A long reading.", result.Reading)
	assert.Equal(t, "Light a candle.", result.Ritual)
}

func TestGenerateRetriesServerErrors(t *testing.T) {
	var hits int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		if atomic.AddInt32(&hits, 1) < 3 {
			http.Error(w, `{"error":{"message":"overloaded"}}`, http.StatusServiceUnavailable)
			return
		}
		json.NewEncoder(w).Encode(generateResponse{Archetype: "A", Reading: "R"})
	}))
	defer srv.Close()

	result, err := fastClient(srv.URL).Generate(context.Background(), models.ClientProfile{}, testOrder())
	require.NoError(t, err)
	assert.Equal(t, int32(3), atomic.LoadInt32(&hits))
	assert.Equal(t, "A", result.Archetype)
}

func TestGenerateDoesNotRetryClientErrors(t *testing.T) {
	var hits int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		atomic.AddInt32(&hits, 1)
		http.Error(w, `{"error":{"message":"bad intake","type":"invalid_request"}}`, http.StatusBadRequest)
	}))
	defer srv.Close()

	_, err := fastClient(srv.URL).Generate(context.Background(), models.ClientProfile{}, testOrder())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "bad intake")
	assert.Equal(t, int32(1), atomic.LoadInt32(&hits))
}

func TestGenerateExhaustsRetries(t *testing.T) {
	var hits int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		atomic.AddInt32(&hits, 1)
		http.Error(w, "too many requests", http.StatusTooManyRequests)
	}))
	defer srv.Close()

	_, err := fastClient(srv.URL).Generate(context.Background(), models.ClientProfile{}, testOrder())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "after 3 attempts")
	assert.Equal(t, int32(3), atomic.LoadInt32(&hits))
}
