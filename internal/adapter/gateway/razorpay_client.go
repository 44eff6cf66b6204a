package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/rl1809/order-reconciler/internal/core/apperr"
	"github.com/rl1809/order-reconciler/internal/core/domain"
	"github.com/rl1809/order-reconciler/internal/metrics"
)

const (
	DefaultBaseURL = "https://api.razorpay.com"
	DefaultTimeout = 10 * time.Second
	maxTimeout     = 60 * time.Second
	maxBodyBytes   = 1 << 20
)

type Config struct {
	BaseURL      string
	KeyID        string
	KeySecret    string
	Timeout      time.Duration
	MaxFailures  int
	ResetTimeout time.Duration
}

// APIError is a non-2xx response from the gateway.
type APIError struct {
	StatusCode  int
	Code        string
	Description string
}

func (e *APIError) Error() string {
	if e.Code == "" {
		return fmt.Sprintf("gateway returned %d", e.StatusCode)
	}
	return fmt.Sprintf("gateway returned %d: %s: %s", e.StatusCode, e.Code, e.Description)
}

type RazorpayClient struct {
	baseURL    string
	keyID      string
	keySecret  string
	httpClient *http.Client
	breaker    *CircuitBreaker
	logger     *zap.Logger
	tracer     trace.Tracer
}

func NewRazorpayClient(cfg Config, logger *zap.Logger) (*RazorpayClient, error) {
	if cfg.KeyID == "" || cfg.KeySecret == "" {
		return nil, apperr.ConfigurationErr("payment gateway credentials are not configured")
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultBaseURL
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	if cfg.Timeout > maxTimeout {
		cfg.Timeout = maxTimeout
	}
	if cfg.ResetTimeout <= 0 {
		cfg.ResetTimeout = 30 * time.Second
	}

	return &RazorpayClient{
		baseURL:    strings.TrimRight(cfg.BaseURL, "/"),
		keyID:      cfg.KeyID,
		keySecret:  cfg.KeySecret,
		httpClient: &http.Client{Timeout: cfg.Timeout},
		breaker:    NewCircuitBreaker(cfg.MaxFailures, cfg.ResetTimeout),
		logger:     logger,
		tracer:     otel.Tracer("razorpay-client"),
	}, nil
}

// Unconfigured stands in for the client when credentials are missing at
// startup. Every call fails with the configuration error.
type Unconfigured struct {
	Err error
}

func (u Unconfigured) FetchPayment(context.Context, string) (domain.GatewayPayment, error) {
	return domain.GatewayPayment{}, u.Err
}

func (u Unconfigured) FetchOrder(context.Context, string) (domain.GatewayOrder, error) {
	return domain.GatewayOrder{}, u.Err
}

func (c *RazorpayClient) FetchPayment(ctx context.Context, paymentID string) (domain.GatewayPayment, error) {
	var p domain.GatewayPayment
	if err := c.get(ctx, "fetch_payment", "/v1/payments/"+url.PathEscape(paymentID), &p); err != nil {
		return domain.GatewayPayment{}, err
	}
	return p, nil
}

func (c *RazorpayClient) FetchOrder(ctx context.Context, orderID string) (domain.GatewayOrder, error) {
	var o domain.GatewayOrder
	if err := c.get(ctx, "fetch_order", "/v1/orders/"+url.PathEscape(orderID), &o); err != nil {
		return domain.GatewayOrder{}, err
	}
	return o, nil
}

func (c *RazorpayClient) get(ctx context.Context, operation, path string, out any) error {
	ctx, span := c.tracer.Start(ctx, "razorpay."+operation, trace.WithSpanKind(trace.SpanKindClient))
	defer span.End()
	span.SetAttributes(attribute.String("http.path", path))

	start := time.Now()
	var apiErr *APIError

	err := c.breaker.Execute(ctx, func() error {
		body, status, err := c.do(ctx, path)
		if err != nil {
			return err
		}
		span.SetAttributes(attribute.Int("http.status_code", status))

		if status >= http.StatusInternalServerError {
			return decodeAPIError(status, body)
		}
		if status >= http.StatusBadRequest {
			// Client errors say nothing about gateway health.
			apiErr = decodeAPIError(status, body)
			return nil
		}
		if err := json.Unmarshal(body, out); err != nil {
			return fmt.Errorf("decode %s response: %w", operation, err)
		}
		return nil
	})
	if err == nil && apiErr != nil {
		err = apiErr
	}

	result := "ok"
	if err != nil {
		result = "error"
		if errors.Is(err, ErrCircuitOpen) {
			result = "circuit_open"
		}
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		c.logger.Warn("gateway request failed",
			zap.String("operation", operation),
			zap.String("breaker", c.breaker.GetState().String()),
			zap.Error(err))
	}
	metrics.ObserveGatewayRequest(operation, result, time.Since(start).Seconds())

	if err != nil {
		return fmt.Errorf("%s: %w", operation, err)
	}
	return nil
}

func (c *RazorpayClient) do(ctx context.Context, path string) ([]byte, int, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return nil, 0, fmt.Errorf("build request: %w", err)
	}
	req.SetBasicAuth(c.keyID, c.keySecret)
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, 0, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return nil, resp.StatusCode, fmt.Errorf("read response: %w", err)
	}
	return body, resp.StatusCode, nil
}

func decodeAPIError(status int, body []byte) *APIError {
	var envelope struct {
		Error struct {
			Code        string `json:"code"`
			Description string `json:"description"`
		} `json:"error"`
	}
	_ = json.Unmarshal(body, &envelope)
	return &APIError{
		StatusCode:  status,
		Code:        envelope.Error.Code,
		Description: envelope.Error.Description,
	}
}
