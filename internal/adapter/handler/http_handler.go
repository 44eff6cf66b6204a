package handler

import (
	"context"
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/rl1809/order-reconciler/internal/core/apperr"
	"github.com/rl1809/order-reconciler/internal/core/domain"
	"github.com/rl1809/order-reconciler/internal/core/service"
)

const (
	HeaderSignature = "X-Razorpay-Signature"
	HeaderEventID   = "X-Razorpay-Event-Id"

	maxWebhookBytes = 1 << 20
)

type PaymentConfirmer interface {
	ConfirmPayment(ctx context.Context, req domain.ConfirmationRequest) (*service.ConfirmationResult, error)
}

type WebhookProcessor interface {
	HandleWebhook(ctx context.Context, body []byte, sig, eventID string) error
}

// HealthCheck reports whether a dependency is reachable.
type HealthCheck func(ctx context.Context) error

type HTTPHandler struct {
	payments PaymentConfirmer
	webhooks WebhookProcessor
	checks   map[string]HealthCheck
	logger   *zap.Logger
}

func NewHTTPHandler(payments PaymentConfirmer, webhooks WebhookProcessor, checks map[string]HealthCheck, logger *zap.Logger) *HTTPHandler {
	return &HTTPHandler{payments: payments, webhooks: webhooks, checks: checks, logger: logger}
}

// Register mounts the API routes on r.
func (h *HTTPHandler) Register(r gin.IRouter) {
	r.GET("/health", h.HealthCheck)
	r.POST("/api/payment/verify", h.VerifyPayment)
	r.POST("/api/payment/webhook", h.Webhook)
}

func (h *HTTPHandler) VerifyPayment(c *gin.Context) {
	var req domain.ConfirmationRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, apperr.ValidationErr("invalid request body"))
		return
	}

	result, err := h.payments.ConfirmPayment(c.Request.Context(), req)
	if err != nil {
		_ = c.Error(err)
		writeError(c, err)
		return
	}

	c.JSON(http.StatusOK, newVerifyPaymentResponse(result))
}

func (h *HTTPHandler) Webhook(c *gin.Context) {
	body, err := io.ReadAll(http.MaxBytesReader(c.Writer, c.Request.Body, maxWebhookBytes))
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			c.JSON(http.StatusRequestEntityTooLarge, ErrorResponse{Error: "payload too large"})
			return
		}
		writeError(c, apperr.ValidationErr("invalid request body"))
		return
	}

	err = h.webhooks.HandleWebhook(c.Request.Context(), body, c.GetHeader(HeaderSignature), c.GetHeader(HeaderEventID))
	if err != nil {
		_ = c.Error(err)
		writeWebhookError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"status": "success"})
}

func (h *HTTPHandler) HealthCheck(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
	defer cancel()

	status := http.StatusOK
	deps := make(map[string]string, len(h.checks))
	for name, check := range h.checks {
		if err := check(ctx); err != nil {
			h.logger.Warn("health check failed", zap.String("dependency", name), zap.Error(err))
			deps[name] = "down"
			status = http.StatusServiceUnavailable
			continue
		}
		deps[name] = "up"
	}

	overall := "ok"
	if status != http.StatusOK {
		overall = "degraded"
	}
	c.JSON(status, gin.H{"status": overall, "dependencies": deps})
}

func writeError(c *gin.Context, err error) {
	status, body := newErrorResponse(err)
	c.AbortWithStatusJSON(status, body)
}

// writeWebhookError keeps the gateway-facing messages short.
func writeWebhookError(c *gin.Context, err error) {
	ae := apperr.Wrap(err)
	switch ae.Kind {
	case apperr.Configuration:
		c.AbortWithStatusJSON(http.StatusInternalServerError, ErrorResponse{Error: "Webhook secret not configured"})
	case apperr.Signature:
		c.AbortWithStatusJSON(http.StatusBadRequest, ErrorResponse{Error: "Invalid signature"})
	case apperr.Validation:
		c.AbortWithStatusJSON(http.StatusBadRequest, ErrorResponse{Error: ae.Msg})
	default:
		c.AbortWithStatusJSON(http.StatusInternalServerError, ErrorResponse{Error: "Webhook processing failed", Details: apperr.Details(ae)})
	}
}
