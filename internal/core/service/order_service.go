package service

import (
	"context"
	"errors"
	"fmt"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/rl1809/order-reconciler/internal/core/apperr"
	"github.com/rl1809/order-reconciler/internal/core/domain"
	"github.com/rl1809/order-reconciler/internal/core/signature"
	"github.com/rl1809/order-reconciler/internal/metrics"
	"github.com/rl1809/order-reconciler/internal/port"
)

type OrderService struct {
	verifier   *signature.Verifier
	gateway    port.PaymentGateway
	db         port.DatabaseRepository
	normalizer *Normalizer
	validator  *Validator
	notifier   *Notifier
	logger     *zap.Logger
	tracer     trace.Tracer
}

func NewOrderService(
	verifier *signature.Verifier,
	gateway port.PaymentGateway,
	db port.DatabaseRepository,
	normalizer *Normalizer,
	validator *Validator,
	notifier *Notifier,
	logger *zap.Logger,
) *OrderService {
	return &OrderService{
		verifier:   verifier,
		gateway:    gateway,
		db:         db,
		normalizer: normalizer,
		validator:  validator,
		notifier:   notifier,
		logger:     logger,
		tracer:     otel.Tracer("order-service"),
	}
}

type ConfirmationResult struct {
	Order        domain.Order
	Payment      domain.GatewayPayment
	GatewayOrder domain.GatewayOrder
	// Replayed is set when the order already existed for this payment.
	Replayed bool
}

// ConfirmPayment verifies a client's payment confirmation against the
// gateway and creates the order for it. Repeating the call for the same
// payment returns the order created the first time.
func (s *OrderService) ConfirmPayment(ctx context.Context, req domain.ConfirmationRequest) (*ConfirmationResult, error) {
	ctx, span := s.tracer.Start(ctx, "ConfirmPayment")
	defer span.End()
	span.SetAttributes(
		attribute.String("gateway.order_id", req.GatewayOrderID),
		attribute.String("gateway.payment_id", req.GatewayPaymentID),
	)

	result, err := s.confirm(ctx, req)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		metrics.RecordConfirmation(string(apperr.KindOf(err)))
		return nil, err
	}
	if result.Replayed {
		metrics.RecordConfirmation("replayed")
	} else {
		metrics.RecordConfirmation("created")
	}
	return result, nil
}

func (s *OrderService) confirm(ctx context.Context, req domain.ConfirmationRequest) (*ConfirmationResult, error) {
	if missing := req.MissingPaymentFields(); len(missing) > 0 {
		return nil, apperr.ValidationErr("missing required payment verification fields", missing...)
	}

	if err := s.verifier.VerifyConfirmation(req.GatewayOrderID, req.GatewayPaymentID, req.GatewaySignature); err != nil {
		if apperr.KindOf(err) == apperr.Signature {
			metrics.RecordSignatureFailure("confirmation")
			s.logger.Warn("rejected payment confirmation signature",
				zap.String("gateway_order_id", req.GatewayOrderID),
				zap.String("gateway_payment_id", req.GatewayPaymentID))
		}
		return nil, err
	}

	payment, err := s.gateway.FetchPayment(ctx, req.GatewayPaymentID)
	if err != nil {
		return nil, gatewayErr("failed to fetch payment from gateway", err)
	}
	gwOrder, err := s.gateway.FetchOrder(ctx, req.GatewayOrderID)
	if err != nil {
		return nil, gatewayErr("failed to fetch order from gateway", err)
	}
	if payment.OrderID != "" && payment.OrderID != gwOrder.ID {
		return nil, apperr.ValidationErr(
			fmt.Sprintf("payment %s does not belong to order %s", payment.ID, gwOrder.ID),
			"razorpay_order_id")
	}

	s.logger.Info("fetched gateway payment",
		zap.String("payment_id", payment.ID),
		zap.String("status", payment.Status),
		zap.Int64("amount", payment.Amount))

	existing, err := s.findByPayment(ctx, payment.ID)
	if err != nil {
		return nil, err
	}
	if existing != nil {
		s.logger.Info("payment already confirmed, returning existing order",
			zap.String("payment_id", payment.ID),
			zap.String("order_id", existing.ID))
		return &ConfirmationResult{Order: *existing, Payment: payment, GatewayOrder: gwOrder, Replayed: true}, nil
	}

	order, err := s.normalizer.Normalize(req, payment, gwOrder)
	if err != nil {
		return nil, err
	}
	if err := s.validator.Validate(order); err != nil {
		s.logger.Info("order rejected",
			zap.String("payment_id", payment.ID),
			zap.Error(err))
		return nil, err
	}

	created, err := s.db.CreateOrder(ctx, order)
	if errors.Is(err, port.ErrDuplicatePayment) {
		// Lost a race with a concurrent confirmation of the same payment.
		existing, findErr := s.findByPayment(ctx, payment.ID)
		if findErr != nil {
			return nil, findErr
		}
		if existing == nil {
			return nil, apperr.PersistenceErr("order for payment vanished after duplicate insert", err)
		}
		return &ConfirmationResult{Order: *existing, Payment: payment, GatewayOrder: gwOrder, Replayed: true}, nil
	}
	if err != nil {
		s.logger.Error("failed to create order, manual recovery required",
			zap.String("payment_id", payment.ID),
			zap.Any("order", order),
			zap.Error(err))
		return nil, apperr.PersistenceErr("failed to create order in database", err)
	}

	s.logger.Info("order created",
		zap.String("order_id", created.ID),
		zap.String("order_number", created.OrderNumber),
		zap.String("payment_id", created.PaymentID))

	s.notifier.Enqueue(orderEvent(domain.OrderEventCreated, created, "confirmation"))

	return &ConfirmationResult{Order: created, Payment: payment, GatewayOrder: gwOrder}, nil
}

func gatewayErr(msg string, err error) error {
	if apperr.KindOf(err) == apperr.Configuration {
		return err
	}
	return apperr.UpstreamErr(msg, err)
}

func (s *OrderService) findByPayment(ctx context.Context, paymentID string) (*domain.Order, error) {
	orders, err := s.db.FindOrders(ctx, domain.OrderFilter{PaymentID: paymentID})
	if err != nil {
		return nil, apperr.PersistenceErr("failed to look up existing order", err)
	}
	if len(orders) == 0 {
		return nil, nil
	}
	return &orders[0], nil
}
