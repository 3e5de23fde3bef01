package api

import (
	"context"
	"errors"
	"io"
	"net/http"
	"strconv"
	"time"

	"lumina-order-service/internal/models"
	"lumina-order-service/internal/service"
	"lumina-order-service/internal/util"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Webhook headers.
const (
	HeaderPaymentSignature  = "X-Webhook-Signature"
	HeaderCallbackSignature = "X-Signature"
	HeaderCallbackTimestamp = "X-Timestamp"
	HeaderCallbackNonce     = "X-Nonce"
)

// maxWebhookBody caps inbound webhook bodies.
const maxWebhookBody = 1 << 20

// FileStore serves stored artifacts.
type FileStore interface {
	GetFile(ctx context.Context, id string) (*models.StoredFile, error)
}

// Handler contains HTTP handlers
type Handler struct {
	orders    *service.OrderService
	payments  *service.PaymentService
	callbacks *service.CallbackService
	files     FileStore
}

// NewHandler creates a new HTTP handler
func NewHandler(
	orders *service.OrderService,
	payments *service.PaymentService,
	callbacks *service.CallbackService,
	files FileStore,
) *Handler {
	return &Handler{
		orders:    orders,
		payments:  payments,
		callbacks: callbacks,
		files:     files,
	}
}

// SetupRoutes sets up HTTP routes
func (h *Handler) SetupRoutes(router *gin.Engine) {
	router.Use(gin.Recovery())
	router.Use(prometheusMiddleware())
	router.Use(gin.Logger())

	router.GET("/health", h.healthCheck)
	router.GET("/ready", h.readinessCheck)
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	router.POST("/webhooks/payment", h.paymentWebhook)
	router.POST("/webhooks/generation", h.generationCallback)

	router.GET("/files/:id", h.getFile)

	v1 := router.Group("/api/v1")
	{
		v1.POST("/orders", h.createOrder)
		v1.GET("/orders/:id", h.getOrder)
		v1.POST("/orders/:id/approve", h.approveOrder)
		v1.POST("/orders/:id/reject", h.rejectOrder)
		v1.POST("/orders/:id/regenerate", h.regenerateOrder)
		v1.DELETE("/orders/:id", h.purgeOrder)
		v1.GET("/users/:id/orders", h.listUserOrders)
	}
}

// healthCheck handles health check requests
func (h *Handler) healthCheck(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status": "healthy",
		"time":   time.Now().Unix(),
	})
}

// readinessCheck handles readiness check requests
func (h *Handler) readinessCheck(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status": "ready",
		"time":   time.Now().Unix(),
	})
}

// paymentWebhook receives provider payment events. The body is read raw so
// the signature check runs over the exact delivered bytes. The response is
// the same fixed acknowledgment on every internal branch; only signature
// failures are non-2xx.
func (h *Handler) paymentWebhook(c *gin.Context) {
	rawBody, err := io.ReadAll(io.LimitReader(c.Request.Body, maxWebhookBody))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "failed to read body"})
		return
	}

	ack, err := h.payments.HandleWebhook(c.Request.Context(), rawBody, c.GetHeader(HeaderPaymentSignature))
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, ack)
}

// generationCallback receives signed results from the generation worker.
func (h *Handler) generationCallback(c *gin.Context) {
	rawBody, err := io.ReadAll(io.LimitReader(c.Request.Body, maxWebhookBody))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "failed to read body"})
		return
	}

	order, err := h.callbacks.HandleCallback(
		c.Request.Context(),
		rawBody,
		c.GetHeader(HeaderCallbackSignature),
		c.GetHeader(HeaderCallbackTimestamp),
		c.GetHeader(HeaderCallbackNonce),
	)
	if err != nil {
		h.writeError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"status": "accepted",
		"order":  order,
	})
}

// createOrder handles checkout-intent order creation
func (h *Handler) createOrder(c *gin.Context) {
	var req service.CreateOrderRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "Invalid request body",
			"details": err.Error(),
		})
		return
	}

	order, err := h.orders.CreateOrder(c.Request.Context(), &req)
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, order)
}

// getOrder handles get order by ID
func (h *Handler) getOrder(c *gin.Context) {
	order, err := h.orders.GetOrder(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, order)
}

// listUserOrders lists a user's orders
func (h *Handler) listUserOrders(c *gin.Context) {
	orders, err := h.orders.ListUserOrders(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"orders": orders})
}

// approveOrder applies operator approval
func (h *Handler) approveOrder(c *gin.Context) {
	order, err := h.orders.Approve(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, order)
}

type operatorRequest struct {
	Operator string `json:"operator"`
}

// rejectOrder sends an order back for another generation attempt
func (h *Handler) rejectOrder(c *gin.Context) {
	var req operatorRequest
	_ = c.ShouldBindJSON(&req)

	order, err := h.orders.Reject(c.Request.Context(), c.Param("id"), req.Operator)
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, order)
}

// regenerateOrder retries a failed order
func (h *Handler) regenerateOrder(c *gin.Context) {
	var req operatorRequest
	_ = c.ShouldBindJSON(&req)

	order, err := h.orders.Regenerate(c.Request.Context(), c.Param("id"), req.Operator)
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, order)
}

// purgeOrder removes an order and its files
func (h *Handler) purgeOrder(c *gin.Context) {
	if err := h.orders.Purge(c.Request.Context(), c.Param("id")); err != nil {
		h.writeError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

// getFile serves a stored artifact
func (h *Handler) getFile(c *gin.Context) {
	file, err := h.files.GetFile(c.Request.Context(), c.Param("id"))
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "file not found"})
		return
	}
	c.Data(http.StatusOK, file.ContentType, file.Data)
}

// writeError maps service errors onto HTTP statuses.
func (h *Handler) writeError(c *gin.Context, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, service.ErrAuthentication):
		status = http.StatusUnauthorized
	case errors.Is(err, service.ErrNotFound):
		status = http.StatusNotFound
	case errors.Is(err, service.ErrConflict):
		status = http.StatusConflict
	case errors.Is(err, service.ErrInvalidPayload):
		status = http.StatusBadRequest
	case errors.Is(err, service.ErrDispatchExhausted):
		status = http.StatusBadGateway
	}

	c.JSON(status, gin.H{"error": err.Error()})
}

// prometheusMiddleware collects HTTP metrics
func prometheusMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()

		c.Next()

		duration := time.Since(start).Seconds()
		status := strconv.Itoa(c.Writer.Status())

		util.HTTPRequestDuration.WithLabelValues(
			c.Request.Method,
			c.FullPath(),
			status,
		).Observe(duration)

		util.HTTPRequestsTotal.WithLabelValues(
			c.Request.Method,
			c.FullPath(),
			status,
		).Inc()
	}
}
