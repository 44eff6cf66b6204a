package service

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/rl1809/order-reconciler/internal/core/apperr"
	"github.com/rl1809/order-reconciler/internal/core/domain"
)

func TestConfirmPayment_Success(t *testing.T) {
	db := newMockDatabaseRepo()
	svc, notifier := newTestOrderService(t, db, newMockGateway(100000))

	result, err := svc.ConfirmPayment(context.Background(), validRequest())
	if err != nil {
		t.Fatalf("expected success, got error: %v", err)
	}

	if result.Replayed {
		t.Error("expected a new order, got a replay")
	}
	order := result.Order
	if order.ID == "" {
		t.Error("expected store-assigned order id")
	}
	if order.OrderNumber != "ORD-1700000000000-ABC123" {
		t.Errorf("unexpected order number %s", order.OrderNumber)
	}
	if order.Status != domain.OrderStatusProcessing {
		t.Errorf("expected processing status, got %s", order.Status)
	}
	if order.Payment.Status != domain.PaymentStatusCaptured {
		t.Errorf("expected captured payment, got %s", order.Payment.Status)
	}
	if order.PaymentID != "pay_1" || order.Payment.GatewayOrderID != "order_1" {
		t.Errorf("unexpected payment identifiers %+v", order.Payment)
	}
	if order.Total.StringFixed(2) != "1000.00" {
		t.Errorf("expected total 1000.00, got %s", order.Total)
	}

	events := drain(notifier)
	if len(events) != 1 || events[0].Type != domain.OrderEventCreated {
		t.Fatalf("expected one order.created event, got %+v", events)
	}
	if events[0].CustomerEmail != "asha@example.com" {
		t.Errorf("expected customer email on event, got %q", events[0].CustomerEmail)
	}
}

func TestConfirmPayment_DuplicateReturnsExistingOrder(t *testing.T) {
	db := newMockDatabaseRepo()
	svc, notifier := newTestOrderService(t, db, newMockGateway(100000))

	first, err := svc.ConfirmPayment(context.Background(), validRequest())
	if err != nil {
		t.Fatalf("first confirmation failed: %v", err)
	}

	second, err := svc.ConfirmPayment(context.Background(), validRequest())
	if err != nil {
		t.Fatalf("second confirmation failed: %v", err)
	}

	if !second.Replayed {
		t.Error("expected second confirmation to be a replay")
	}
	if second.Order.ID != first.Order.ID {
		t.Errorf("expected same order %s, got %s", first.Order.ID, second.Order.ID)
	}
	if db.count() != 1 {
		t.Errorf("expected 1 order, got %d", db.count())
	}
	if got := len(drain(notifier)); got != 1 {
		t.Errorf("expected 1 event, got %d", got)
	}
}

func TestConfirmPayment_Concurrent(t *testing.T) {
	db := newMockDatabaseRepo()
	svc, _ := newTestOrderService(t, db, newMockGateway(100000))

	var created atomic.Int32
	var replayed atomic.Int32
	var wg sync.WaitGroup

	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			result, err := svc.ConfirmPayment(context.Background(), validRequest())
			if err != nil {
				t.Errorf("unexpected error: %v", err)
				return
			}
			if result.Replayed {
				replayed.Add(1)
			} else {
				created.Add(1)
			}
		}()
	}

	wg.Wait()

	if created.Load() != 1 {
		t.Errorf("expected exactly 1 created, got %d", created.Load())
	}
	if replayed.Load() != 19 {
		t.Errorf("expected 19 replays, got %d", replayed.Load())
	}
	if db.count() != 1 {
		t.Errorf("expected 1 order, got %d", db.count())
	}
}

func TestConfirmPayment_InvalidSignature(t *testing.T) {
	db := newMockDatabaseRepo()
	gw := newMockGateway(100000)
	svc, _ := newTestOrderService(t, db, gw)

	req := validRequest()
	req.GatewayPaymentID = "pay_other"

	_, err := svc.ConfirmPayment(context.Background(), req)
	if apperr.KindOf(err) != apperr.Signature {
		t.Fatalf("expected signature error, got: %v", err)
	}
	if gw.calls.Load() != 0 {
		t.Error("gateway must not be called for a bad signature")
	}
	if db.count() != 0 {
		t.Error("expected no order")
	}
}

func TestConfirmPayment_MissingPaymentFields(t *testing.T) {
	svc, _ := newTestOrderService(t, newMockDatabaseRepo(), newMockGateway(100000))

	req := validRequest()
	req.GatewaySignature = ""

	_, err := svc.ConfirmPayment(context.Background(), req)
	ae, ok := apperr.As(err)
	if !ok || ae.Kind != apperr.Validation {
		t.Fatalf("expected validation error, got: %v", err)
	}
	if len(ae.Fields) != 1 || ae.Fields[0] != "razorpay_signature" {
		t.Errorf("unexpected fields %v", ae.Fields)
	}
}

func TestConfirmPayment_MissingEmail(t *testing.T) {
	db := newMockDatabaseRepo()
	svc, _ := newTestOrderService(t, db, newMockGateway(100000))

	req := validRequest()
	req.CustomerDetails.Email = ""

	_, err := svc.ConfirmPayment(context.Background(), req)
	ae, ok := apperr.As(err)
	if !ok || ae.Kind != apperr.Validation {
		t.Fatalf("expected validation error, got: %v", err)
	}
	if !contains(ae.Fields, "email") {
		t.Errorf("expected email in fields, got %v", ae.Fields)
	}
	if db.count() != 0 {
		t.Error("expected no order")
	}
}

func TestConfirmPayment_GatewayFailure(t *testing.T) {
	db := newMockDatabaseRepo()
	gw := newMockGateway(100000)
	gw.paymentErr = errors.New("connection refused")
	svc, _ := newTestOrderService(t, db, gw)

	_, err := svc.ConfirmPayment(context.Background(), validRequest())
	if apperr.KindOf(err) != apperr.Upstream {
		t.Fatalf("expected upstream error, got: %v", err)
	}
	if db.count() != 0 {
		t.Error("expected no order")
	}
}

func TestConfirmPayment_GatewayNotConfigured(t *testing.T) {
	gw := newMockGateway(100000)
	gw.paymentErr = apperr.ConfigurationErr("payment gateway credentials are not configured")
	svc, _ := newTestOrderService(t, newMockDatabaseRepo(), gw)

	_, err := svc.ConfirmPayment(context.Background(), validRequest())
	if apperr.KindOf(err) != apperr.Configuration {
		t.Fatalf("expected configuration error, got: %v", err)
	}
}

func TestConfirmPayment_PaymentFromDifferentOrder(t *testing.T) {
	gw := newMockGateway(100000)
	gw.payment.OrderID = "order_other"
	svc, _ := newTestOrderService(t, newMockDatabaseRepo(), gw)

	_, err := svc.ConfirmPayment(context.Background(), validRequest())
	if apperr.KindOf(err) != apperr.Validation {
		t.Fatalf("expected validation error, got: %v", err)
	}
}

func TestConfirmPayment_AmountMismatch(t *testing.T) {
	db := newMockDatabaseRepo()
	// Gateway captured 997.50 against a 1000.00 cart.
	svc, notifier := newTestOrderService(t, db, newMockGateway(99750))

	_, err := svc.ConfirmPayment(context.Background(), validRequest())
	ae, ok := apperr.As(err)
	if !ok || ae.Kind != apperr.Validation {
		t.Fatalf("expected validation error, got: %v", err)
	}
	if !contains(ae.Fields, "total") {
		t.Errorf("expected total in fields, got %v", ae.Fields)
	}
	if db.count() != 0 {
		t.Error("expected no order")
	}
	if len(drain(notifier)) != 0 {
		t.Error("expected no events")
	}
}

func TestConfirmPayment_NegativeTaxRejected(t *testing.T) {
	db := newMockDatabaseRepo()
	svc, _ := newTestOrderService(t, db, newMockGateway(100000))

	req := validRequest()
	req.Cart.Tax = domain.NewNumeric("-20")
	req.Cart.ShippingCost = domain.NewNumeric("40")

	_, err := svc.ConfirmPayment(context.Background(), req)
	ae, ok := apperr.As(err)
	if !ok || ae.Kind != apperr.Validation {
		t.Fatalf("expected validation error, got: %v", err)
	}
	if len(ae.Fields) != 1 || ae.Fields[0] != "tax" {
		t.Errorf("expected tax field, got %v", ae.Fields)
	}
	if db.count() != 0 {
		t.Error("expected no order")
	}
}

func TestConfirmPayment_PersistenceFailure(t *testing.T) {
	db := newMockDatabaseRepo()
	db.createErr = errors.New("deadlock")
	svc, notifier := newTestOrderService(t, db, newMockGateway(100000))

	_, err := svc.ConfirmPayment(context.Background(), validRequest())
	if apperr.KindOf(err) != apperr.Persistence {
		t.Fatalf("expected persistence error, got: %v", err)
	}
	if len(drain(notifier)) != 0 {
		t.Error("expected no events")
	}
}

// raceRepo behaves as if another request inserted the order between the
// existence check and the insert.
type raceRepo struct {
	*mockDatabaseRepo
	finds atomic.Int32
}

func (r *raceRepo) FindOrders(ctx context.Context, filter domain.OrderFilter) ([]domain.Order, error) {
	if r.finds.Add(1) == 1 {
		return nil, nil
	}
	return r.mockDatabaseRepo.FindOrders(ctx, filter)
}

func TestConfirmPayment_DuplicateKeyRace(t *testing.T) {
	inner := newMockDatabaseRepo()
	inner.put(domain.Order{ID: "order-existing", PaymentID: "pay_1", Status: domain.OrderStatusProcessing})
	repo := &raceRepo{mockDatabaseRepo: inner}

	svc, _ := newTestOrderService(t, inner, newMockGateway(100000))
	svc.db = repo

	result, err := svc.ConfirmPayment(context.Background(), validRequest())
	if err != nil {
		t.Fatalf("expected replay, got error: %v", err)
	}
	if !result.Replayed || result.Order.ID != "order-existing" {
		t.Errorf("expected replay of order-existing, got %+v", result)
	}
	if inner.createCalls.Load() != 1 {
		t.Errorf("expected one insert attempt, got %d", inner.createCalls.Load())
	}
}

func TestConfirmPayment_LookupFailure(t *testing.T) {
	db := newMockDatabaseRepo()
	db.findErr = errors.New("i/o timeout")
	svc, _ := newTestOrderService(t, db, newMockGateway(100000))

	_, err := svc.ConfirmPayment(context.Background(), validRequest())
	if apperr.KindOf(err) != apperr.Persistence {
		t.Fatalf("expected persistence error, got: %v", err)
	}
}

func contains(list []string, want string) bool {
	for _, s := range list {
		if s == want {
			return true
		}
	}
	return false
}
