package service

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"testing"
	"time"

	"lumina-order-service/internal/lifecycle"
	"lumina-order-service/internal/models"
	"lumina-order-service/internal/signature"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const callbackSecret = "callback-test-secret"

func newCallbackService(t *testing.T, st Store, publisher LifecyclePublisher) *CallbackService {
	t.Helper()
	nonces := signature.NewMemoryNonceCache(time.Hour)
	t.Cleanup(nonces.Stop)

	verifier := signature.NewVerifier(callbackSecret, 5*time.Minute, time.Hour, nonces)
	return NewCallbackService(st, verifier, publisher, nil)
}

// signCallback produces the header triple for a request body.
func signCallback(body []byte, nonce string) (sig, timestamp string) {
	timestamp = strconv.FormatInt(time.Now().Unix(), 10)
	signed := []byte(timestamp + "." + nonce + "." + string(body))
	return signature.Sign(callbackSecret, signed), timestamp
}

func callbackBody(t *testing.T, req models.CallbackRequest) []byte {
	t.Helper()
	body, err := json.Marshal(req)
	require.NoError(t, err)
	return body
}

func TestHandleCallbackReady(t *testing.T) {
	st := newFakeStore()
	user := st.addUser("iris@example.com", "Iris")
	order := st.addOrder(user.ID, lifecycle.StatusProcessing)

	publisher := &fakePublisher{}
	cs := newCallbackService(t, st, publisher)

	body := callbackBody(t, models.CallbackRequest{
		OrderID:     order.ID,
		OrderNumber: order.OrderNumber,
		Status:      models.CallbackStatusReady,
		Content: models.CallbackContent{
			Archetype:   "The Weaver",
			Reading:     "A long reading.",
			DocumentURL: "https://worker.example.test/doc.pdf",
		},
	})
	sig, ts := signCallback(body, "nonce-ready-1")

	got, err := cs.HandleCallback(context.Background(), body, sig, ts, "nonce-ready-1")
	require.NoError(t, err)
	assert.Equal(t, lifecycle.StatusAwaitingValidation, got.Status)

	stored := st.order(order.ID)
	assert.Equal(t, lifecycle.StatusAwaitingValidation, stored.Status)
	require.NotNil(t, stored.GeneratedContent)
	assert.Equal(t, "The Weaver", stored.GeneratedContent.Archetype)
	assert.Equal(t, "https://worker.example.test/doc.pdf", stored.GeneratedContent.DocumentURL)
	assert.False(t, stored.GeneratedContent.GeneratedAt.IsZero())

	assert.Equal(t, []string{models.EventTypeOrderGenerated}, publisher.published())
}

func TestHandleCallbackReadyNotifiesUser(t *testing.T) {
	st := newFakeStore()
	user := st.addUser("iris@example.com", "Iris")
	order := st.addOrder(user.ID, lifecycle.StatusProcessing)

	nonces := signature.NewMemoryNonceCache(time.Hour)
	t.Cleanup(nonces.Stop)
	verifier := signature.NewVerifier(callbackSecret, 5*time.Minute, time.Hour, nonces)
	notifier := &fakeNotifier{}
	cs := NewCallbackService(st, verifier, nil, notifier)

	body := callbackBody(t, models.CallbackRequest{
		OrderID:     order.ID,
		OrderNumber: order.OrderNumber,
		Status:      models.CallbackStatusReady,
		Content:     models.CallbackContent{Archetype: "The Weaver", Reading: "A reading."},
	})
	sig, ts := signCallback(body, "nonce-notify-1")

	_, err := cs.HandleCallback(context.Background(), body, sig, ts, "nonce-notify-1")
	require.NoError(t, err)

	require.Len(t, notifier.sends, 1)
	assert.Equal(t, "iris@example.com", notifier.sends[0].To)
	assert.Equal(t, "reading-ready", notifier.sends[0].Template)
	assert.Equal(t, order.OrderNumber, notifier.sends[0].Payload["order_number"])
}

func TestHandleCallbackFailed(t *testing.T) {
	st := newFakeStore()
	user := st.addUser("iris@example.com", "Iris")
	order := st.addOrder(user.ID, lifecycle.StatusProcessing)

	publisher := &fakePublisher{}
	cs := newCallbackService(t, st, publisher)

	body := callbackBody(t, models.CallbackRequest{
		OrderID:     order.ID,
		OrderNumber: order.OrderNumber,
		Status:      models.CallbackStatusFailed,
		Error:       "model quota exhausted",
	})
	sig, ts := signCallback(body, "nonce-fail-1")

	got, err := cs.HandleCallback(context.Background(), body, sig, ts, "nonce-fail-1")
	require.NoError(t, err)
	assert.Equal(t, lifecycle.StatusFailed, got.Status)

	stored := st.order(order.ID)
	assert.Equal(t, lifecycle.StatusFailed, stored.Status)
	assert.Equal(t, "model quota exhausted", stored.ErrorLog)
	assert.Equal(t, []string{models.EventTypeOrderFailed}, publisher.published())
}

func TestHandleCallbackFailedDefaultReason(t *testing.T) {
	st := newFakeStore()
	user := st.addUser("iris@example.com", "Iris")
	order := st.addOrder(user.ID, lifecycle.StatusProcessing)

	cs := newCallbackService(t, st, nil)

	body := callbackBody(t, models.CallbackRequest{
		OrderID:     order.ID,
		OrderNumber: order.OrderNumber,
		Status:      models.CallbackStatusFailed,
	})
	sig, ts := signCallback(body, "nonce-fail-2")

	_, err := cs.HandleCallback(context.Background(), body, sig, ts, "nonce-fail-2")
	require.NoError(t, err)
	assert.NotEmpty(t, st.order(order.ID).ErrorLog)
}

func TestHandleCallbackRejectsBadSignature(t *testing.T) {
	st := newFakeStore()
	user := st.addUser("iris@example.com", "Iris")
	order := st.addOrder(user.ID, lifecycle.StatusProcessing)

	cs := newCallbackService(t, st, nil)

	body := callbackBody(t, models.CallbackRequest{
		OrderID:     order.ID,
		OrderNumber: order.OrderNumber,
		Status:      models.CallbackStatusReady,
	})
	_, ts := signCallback(body, "nonce-bad-1")

	_, err := cs.HandleCallback(context.Background(), body, "sha256=deadbeef", ts, "nonce-bad-1")
	assert.ErrorIs(t, err, ErrAuthentication)
	assert.Equal(t, lifecycle.StatusProcessing, st.order(order.ID).Status)
}

func TestHandleCallbackRejectsStaleTimestamp(t *testing.T) {
	st := newFakeStore()
	user := st.addUser("iris@example.com", "Iris")
	order := st.addOrder(user.ID, lifecycle.StatusProcessing)

	cs := newCallbackService(t, st, nil)

	body := callbackBody(t, models.CallbackRequest{
		OrderID:     order.ID,
		OrderNumber: order.OrderNumber,
		Status:      models.CallbackStatusReady,
	})

	ts := strconv.FormatInt(time.Now().Add(-time.Hour).Unix(), 10)
	signed := []byte(ts + ".nonce-stale-1." + string(body))
	sig := signature.Sign(callbackSecret, signed)

	_, err := cs.HandleCallback(context.Background(), body, sig, ts, "nonce-stale-1")
	assert.ErrorIs(t, err, ErrAuthentication)
}

func TestHandleCallbackRejectsReplayedNonce(t *testing.T) {
	st := newFakeStore()
	user := st.addUser("iris@example.com", "Iris")
	order := st.addOrder(user.ID, lifecycle.StatusProcessing)

	cs := newCallbackService(t, st, nil)

	body := callbackBody(t, models.CallbackRequest{
		OrderID:     order.ID,
		OrderNumber: order.OrderNumber,
		Status:      models.CallbackStatusReady,
		Content:     models.CallbackContent{Archetype: "A", Reading: "R"},
	})
	sig, ts := signCallback(body, "nonce-replay-1")

	_, err := cs.HandleCallback(context.Background(), body, sig, ts, "nonce-replay-1")
	require.NoError(t, err)

	_, err = cs.HandleCallback(context.Background(), body, sig, ts, "nonce-replay-1")
	assert.ErrorIs(t, err, ErrAuthentication)
}

func TestHandleCallbackUnknownOrder(t *testing.T) {
	cs := newCallbackService(t, newFakeStore(), nil)

	body := callbackBody(t, models.CallbackRequest{
		OrderID:     "no-such-order",
		OrderNumber: "LU260828001",
		Status:      models.CallbackStatusReady,
	})
	sig, ts := signCallback(body, "nonce-404-1")

	_, err := cs.HandleCallback(context.Background(), body, sig, ts, "nonce-404-1")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestHandleCallbackOrderNumberMismatch(t *testing.T) {
	st := newFakeStore()
	user := st.addUser("iris@example.com", "Iris")
	order := st.addOrder(user.ID, lifecycle.StatusProcessing)

	cs := newCallbackService(t, st, nil)

	body := callbackBody(t, models.CallbackRequest{
		OrderID:     order.ID,
		OrderNumber: "LU000101999",
		Status:      models.CallbackStatusReady,
	})
	sig, ts := signCallback(body, "nonce-mismatch-1")

	_, err := cs.HandleCallback(context.Background(), body, sig, ts, "nonce-mismatch-1")
	assert.ErrorIs(t, err, ErrInvalidPayload)
}

func TestHandleCallbackInvalidStatusValue(t *testing.T) {
	st := newFakeStore()
	user := st.addUser("iris@example.com", "Iris")
	order := st.addOrder(user.ID, lifecycle.StatusProcessing)

	cs := newCallbackService(t, st, nil)

	body := callbackBody(t, models.CallbackRequest{
		OrderID:     order.ID,
		OrderNumber: order.OrderNumber,
		Status:      "done",
	})
	sig, ts := signCallback(body, "nonce-status-1")

	_, err := cs.HandleCallback(context.Background(), body, sig, ts, "nonce-status-1")
	assert.ErrorIs(t, err, ErrInvalidPayload)
}

func TestHandleCallbackConflictAfterCompletion(t *testing.T) {
	st := newFakeStore()
	user := st.addUser("iris@example.com", "Iris")

	for i, status := range []lifecycle.Status{
		lifecycle.StatusPending,
		lifecycle.StatusAwaitingValidation,
		lifecycle.StatusCompleted,
		lifecycle.StatusFailed,
	} {
		order := st.addOrder(user.ID, status)
		cs := newCallbackService(t, st, nil)

		body := callbackBody(t, models.CallbackRequest{
			OrderID:     order.ID,
			OrderNumber: order.OrderNumber,
			Status:      models.CallbackStatusReady,
			Content:     models.CallbackContent{Archetype: "A", Reading: "R"},
		})
		nonce := fmt.Sprintf("nonce-conflict-%d", i)
		sig, ts := signCallback(body, nonce)

		_, err := cs.HandleCallback(context.Background(), body, sig, ts, nonce)
		assert.ErrorIs(t, err, ErrConflict, string(status))
		assert.Equal(t, status, st.order(order.ID).Status)
	}
}
