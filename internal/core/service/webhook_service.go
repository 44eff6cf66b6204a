package service

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/rl1809/order-reconciler/internal/core/apperr"
	"github.com/rl1809/order-reconciler/internal/core/domain"
	"github.com/rl1809/order-reconciler/internal/core/signature"
	"github.com/rl1809/order-reconciler/internal/metrics"
	"github.com/rl1809/order-reconciler/internal/port"
)

// HandlerFunc applies one webhook event. Handlers must be safe to run more
// than once for the same delivery.
type HandlerFunc func(ctx context.Context, event domain.WebhookEvent) error

type WebhookService struct {
	verifier *signature.Verifier
	db       port.DatabaseRepository
	cache    port.CacheRepository
	notifier *Notifier
	handlers map[string]HandlerFunc
	logger   *zap.Logger
	tracer   trace.Tracer
}

// NewWebhookService registers the payment and order transitions. cache may
// be nil, in which case duplicate deliveries are absorbed by the
// conditional store update alone.
func NewWebhookService(
	verifier *signature.Verifier,
	db port.DatabaseRepository,
	cache port.CacheRepository,
	notifier *Notifier,
	logger *zap.Logger,
) *WebhookService {
	s := &WebhookService{
		verifier: verifier,
		db:       db,
		cache:    cache,
		notifier: notifier,
		handlers: make(map[string]HandlerFunc),
		logger:   logger,
		tracer:   otel.Tracer("webhook-service"),
	}

	s.Register(domain.EventPaymentCaptured, s.paymentTransition(
		domain.OrderStatusProcessing, domain.PaymentStatusCaptured,
		func(p domain.GatewayPayment) string {
			return fmt.Sprintf("Payment captured via webhook: %s", p.ID)
		}))
	s.Register(domain.EventPaymentFailed, s.paymentTransition(
		domain.OrderStatusFailed, domain.PaymentStatusFailed,
		func(p domain.GatewayPayment) string {
			reason := p.ErrorReason
			if reason == "" {
				reason = "Unknown"
			}
			return fmt.Sprintf("Payment failed via webhook: %s. Reason: %s", p.ID, reason)
		}))
	s.Register(domain.EventPaymentAuthorized, s.paymentTransition(
		domain.OrderStatusPending, domain.PaymentStatusAuthorized,
		func(p domain.GatewayPayment) string {
			return fmt.Sprintf("Payment authorized via webhook: %s", p.ID)
		}))
	s.Register(domain.EventOrderPaid, s.handleOrderPaid)

	return s
}

func (s *WebhookService) Register(event string, fn HandlerFunc) {
	s.handlers[event] = fn
}

// HandleWebhook verifies body against sig and applies the event it
// carries. Only verification and envelope errors are returned; a failing
// handler is logged so the gateway is not made to redeliver an event that
// was received correctly.
func (s *WebhookService) HandleWebhook(ctx context.Context, body []byte, sig, eventID string) error {
	ctx, span := s.tracer.Start(ctx, "HandleWebhook")
	defer span.End()

	if err := s.verifier.VerifyWebhook(body, sig); err != nil {
		switch apperr.KindOf(err) {
		case apperr.Signature:
			metrics.RecordSignatureFailure("webhook")
			s.logger.Warn("rejected webhook signature", zap.Int("body_bytes", len(body)))
		case apperr.Configuration:
			s.logger.Error("webhook secret not configured")
		default:
			s.logger.Warn("malformed webhook request", zap.Error(err))
		}
		return err
	}

	event, err := domain.ParseWebhookEvent(body)
	if err != nil {
		return apperr.ValidationErr("invalid webhook payload", "body")
	}
	event.ID = eventID
	span.SetAttributes(attribute.String("webhook.event", event.Event))

	s.logger.Info("received webhook",
		zap.String("event", event.Event),
		zap.String("event_id", eventID),
		zap.String("entity_id", event.EntityID()))

	s.Dispatch(ctx, event)
	return nil
}

// Dispatch runs the handler registered for the event, if any.
func (s *WebhookService) Dispatch(ctx context.Context, event domain.WebhookEvent) {
	handler, ok := s.handlers[event.Event]
	if !ok {
		s.logger.Info("unhandled webhook event", zap.String("event", event.Event))
		metrics.RecordWebhookEvent("unknown", "ignored")
		return
	}

	key := dedupeKey(event)
	if s.cache != nil && key != "" {
		first, err := s.cache.SetIdempotency(ctx, key)
		if err != nil {
			s.logger.Warn("webhook dedupe unavailable, relying on conditional update",
				zap.String("key", key), zap.Error(err))
		} else if !first {
			s.logger.Info("duplicate webhook delivery ignored",
				zap.String("event", event.Event), zap.String("key", key))
			metrics.RecordWebhookEvent(event.Event, "duplicate")
			return
		}
	}

	if err := handler(ctx, event); err != nil {
		s.logger.Error("webhook handler failed",
			zap.String("event", event.Event),
			zap.String("event_id", event.ID),
			zap.Error(err))
		metrics.RecordWebhookEvent(event.Event, "error")
		if s.cache != nil && key != "" {
			if relErr := s.cache.ReleaseIdempotency(ctx, key); relErr != nil {
				s.logger.Warn("failed to release webhook dedupe key",
					zap.String("key", key), zap.Error(relErr))
			}
		}
		return
	}
	metrics.RecordWebhookEvent(event.Event, "processed")
}

func dedupeKey(event domain.WebhookEvent) string {
	if event.ID != "" {
		return "webhook:" + event.ID
	}
	if id := event.EntityID(); id != "" {
		return "webhook:" + event.Event + ":" + id
	}
	return ""
}

func (s *WebhookService) paymentTransition(status domain.OrderStatus, paymentStatus domain.PaymentStatus, note func(domain.GatewayPayment) string) HandlerFunc {
	return func(ctx context.Context, event domain.WebhookEvent) error {
		payment, err := event.Payment()
		if err != nil {
			return err
		}
		return s.transition(ctx, event.Event,
			domain.OrderFilter{PaymentID: payment.ID},
			domain.OrderPatch{Status: &status, PaymentStatus: &paymentStatus, Note: note(payment)})
	}
}

func (s *WebhookService) handleOrderPaid(ctx context.Context, event domain.WebhookEvent) error {
	gwOrder, err := event.Order()
	if err != nil {
		return err
	}
	status := domain.OrderStatusProcessing
	return s.transition(ctx, event.Event,
		domain.OrderFilter{GatewayOrderID: gwOrder.ID},
		domain.OrderPatch{Status: &status, Note: fmt.Sprintf("Order marked as paid via webhook: %s", gwOrder.ID)})
}

// transition never creates an order: orders come only from confirmations.
func (s *WebhookService) transition(ctx context.Context, event string, filter domain.OrderFilter, patch domain.OrderPatch) error {
	orders, err := s.db.FindOrders(ctx, filter)
	if err != nil {
		return fmt.Errorf("find order: %w", err)
	}
	if len(orders) == 0 {
		s.logger.Warn("no order found for webhook",
			zap.String("event", event),
			zap.String("payment_id", filter.PaymentID),
			zap.String("gateway_order_id", filter.GatewayOrderID))
		return nil
	}

	order := orders[0]
	applied, err := s.db.UpdateOrder(ctx, order.ID, patch)
	if err != nil {
		return fmt.Errorf("update order %s: %w", order.ID, err)
	}
	if !applied {
		s.logger.Info("webhook transition already applied",
			zap.String("event", event),
			zap.String("order_id", order.ID))
		return nil
	}

	if patch.Status != nil {
		order.Status = *patch.Status
	}
	if patch.PaymentStatus != nil {
		order.Payment.Status = *patch.PaymentStatus
	}
	order.Notes = domain.AppendNote(order.Notes, patch.Note)

	s.logger.Info("order updated from webhook",
		zap.String("event", event),
		zap.String("order_id", order.ID),
		zap.String("status", string(order.Status)),
		zap.String("payment_status", string(order.Payment.Status)))

	s.notifier.Enqueue(orderEvent(domain.OrderEventStatusChanged, order, event))
	return nil
}
