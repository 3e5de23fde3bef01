package service

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"lumina-order-service/internal/models"
	"lumina-order-service/internal/signature"
	"lumina-order-service/internal/util"

	"go.uber.org/zap"
)

// SignatureHeader carries the body HMAC on outbound dispatch requests.
const SignatureHeader = "X-Lumina-Signature"

// DispatchClient sends signed generation requests to the external worker
// with bounded retries and exponential backoff. Delivery is at-least-once;
// the callback intake's status guard absorbs duplicates.
type DispatchClient struct {
	endpoint     string
	secret       string
	instructions string
	maxAttempts  int
	backoffBase  time.Duration
	httpClient   *http.Client
	logger       *zap.Logger

	// sleep is overridable in tests.
	sleep func(ctx context.Context, d time.Duration) error
}

// NewDispatchClient creates a dispatch client. An empty endpoint is legal
// and turns Dispatch into a logged no-op for deployments without the worker.
func NewDispatchClient(endpoint, secret, instructions string, timeout time.Duration, maxAttempts int) *DispatchClient {
	if maxAttempts <= 0 {
		maxAttempts = 3
	}
	return &DispatchClient{
		endpoint:     endpoint,
		secret:       secret,
		instructions: instructions,
		maxAttempts:  maxAttempts,
		backoffBase:  time.Second,
		httpClient:   &http.Client{Timeout: timeout},
		logger:       util.GetLogger(),
		sleep:        sleepCtx,
	}
}

// Configured reports whether a worker endpoint is set.
func (dc *DispatchClient) Configured() bool {
	return dc.endpoint != ""
}

// Dispatch serializes, signs, and posts the generation request. Each failed
// attempt sleeps 2^attempt seconds before the next; exhaustion surfaces
// ErrDispatchExhausted to the caller.
func (dc *DispatchClient) Dispatch(ctx context.Context, order *models.Order, user *models.User, opts DispatchOptions) error {
	ctx, span := util.StartSpan(ctx, "DispatchClient.Dispatch")
	defer span.End()

	if !dc.Configured() {
		dc.logger.Info("Dispatch endpoint not configured, skipping",
			zap.String("order_id", order.ID))
		return nil
	}

	payload := &models.DispatchPayload{
		OrderID:      order.ID,
		OrderNumber:  order.OrderNumber,
		ServiceLevel: order.ServiceLevel,
		Instructions: dc.instructions,
		ClientName:   user.Name,
		ClientEmail:  user.Email,
		IntakeData:   json.RawMessage(order.IntakeData),
		Operator:     opts.Operator,
		Regeneration: opts.Regeneration,
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal dispatch payload: %w", err)
	}
	sig := signature.Sign(dc.secret, body)

	var lastErr error
	for attempt := 1; attempt <= dc.maxAttempts; attempt++ {
		util.DispatchAttemptsTotal.Inc()

		lastErr = dc.post(ctx, body, sig)
		if lastErr == nil {
			dc.logger.Info("Dispatch delivered",
				zap.String("order_id", order.ID),
				zap.Int("attempt", attempt))
			return nil
		}

		util.DispatchFailuresTotal.WithLabelValues("attempt").Inc()
		dc.logger.Warn("Dispatch attempt failed",
			zap.String("order_id", order.ID),
			zap.Int("attempt", attempt),
			zap.Error(lastErr))

		if attempt < dc.maxAttempts {
			backoff := dc.backoffBase * (1 << attempt)
			if err := dc.sleep(ctx, backoff); err != nil {
				return fmt.Errorf("%w: %v", ErrDispatchExhausted, err)
			}
		}
	}

	util.DispatchFailuresTotal.WithLabelValues("exhausted").Inc()
	return fmt.Errorf("%w after %d attempts: %v", ErrDispatchExhausted, dc.maxAttempts, lastErr)
}

// post performs one signed delivery attempt. Non-2xx counts as failure.
func (dc *DispatchClient) post(ctx context.Context, body []byte, sig string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, dc.endpoint, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(SignatureHeader, sig)

	resp, err := dc.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 256))
		return fmt.Errorf("worker responded %d: %s", resp.StatusCode, snippet)
	}
	return nil
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
