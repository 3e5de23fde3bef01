// Package ai implements the generative-model collaborator as an HTTP client
// against the reading-model API.
package ai

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"lumina-order-service/internal/models"
)

const (
	defaultMaxRetries   = 3
	defaultInitialDelay = 1 * time.Second
)

// Client calls the reading-model API.
type Client struct {
	baseURL string
	apiKey  string
	model   string
	client  *http.Client

	maxRetries   int
	initialDelay time.Duration
}

type generateRequest struct {
	Model        string               `json:"model"`
	Profile      models.ClientProfile `json:"profile"`
	ServiceLevel int                  `json:"service_level"`
	Intake       json.RawMessage      `json:"intake,omitempty"`
	Revision     int                  `json:"revision,omitempty"`
}

type generateResponse struct {
	Archetype string `json:"archetype"`
	Reading   string `json:"reading"`
	Ritual    string `json:"ritual"`
	Analysis  string `json:"analysis"`
}

type apiError struct {
	Error struct {
		Message string `json:"message"`
		Type    string `json:"type"`
	} `json:"error"`
}

// NewClient creates a model client
func NewClient(baseURL, apiKey, model string, timeout time.Duration) *Client {
	return &Client{
		baseURL:      baseURL,
		apiKey:       apiKey,
		model:        model,
		client:       &http.Client{Timeout: timeout},
		maxRetries:   defaultMaxRetries,
		initialDelay: defaultInitialDelay,
	}
}

// Generate requests a structured reading for an order. Server errors and
// rate limits are retried with exponential backoff; client errors are not.
func (c *Client) Generate(ctx context.Context, profile models.ClientProfile, order *models.Order) (*models.GenerationResult, error) {
	reqBody := generateRequest{
		Model:        c.model,
		Profile:      profile,
		ServiceLevel: order.ServiceLevel,
		Intake:       json.RawMessage(order.IntakeData),
		Revision:     order.Revision,
	}

	payload, err := json.Marshal(reqBody)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal generate request: %w", err)
	}

	var lastErr error
	delay := c.initialDelay
	for attempt := 0; attempt < c.maxRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(delay):
			}
			delay *= 2
		}

		result, retryable, err := c.doGenerate(ctx, payload)
		if err == nil {
			return result, nil
		}
		lastErr = err
		if !retryable {
			return nil, err
		}
	}

	return nil, fmt.Errorf("model call failed after %d attempts: %w", c.maxRetries, lastErr)
}

func (c *Client) doGenerate(ctx context.Context, payload []byte) (*models.GenerationResult, bool, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/v1/readings", bytes.NewReader(payload))
	if err != nil {
		return nil, false, err
	}
	req.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, true, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, true, err
	}

	if resp.StatusCode != http.StatusOK {
		var apiErr apiError
		msg := string(body)
		if json.Unmarshal(body, &apiErr) == nil && apiErr.Error.Message != "" {
			msg = apiErr.Error.Message
		}
		retryable := resp.StatusCode >= 500 || resp.StatusCode == http.StatusTooManyRequests
		return nil, retryable, fmt.Errorf("model API %d: %s", resp.StatusCode, msg)
	}

	var out generateResponse
	if err := json.Unmarshal(body, &out); err != nil {
		return nil, false, fmt.Errorf("failed to decode model response: %w", err)
	}

	return &models.GenerationResult{
		Archetype: out.Archetype,
		Reading:   out.Reading,
		Ritual:    out.Ritual,
		Analysis:  out.Analysis,
	}, false, nil
}
