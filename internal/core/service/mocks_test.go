package service

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"go.uber.org/zap/zaptest"

	"github.com/rl1809/order-reconciler/internal/core/domain"
	"github.com/rl1809/order-reconciler/internal/core/signature"
	"github.com/rl1809/order-reconciler/internal/port"
)

const (
	testKeySecret     = "key_secret"
	testWebhookSecret = "webhook_secret"
)

// Mock DatabaseRepository with the same uniqueness and conditional update
// rules as the MySQL adapter.
type mockDatabaseRepo struct {
	mu        sync.Mutex
	orders    map[string]domain.Order
	nextID    int
	createErr error
	findErr   error
	updateErr error

	createCalls atomic.Int32
	updateCalls atomic.Int32
}

func newMockDatabaseRepo() *mockDatabaseRepo {
	return &mockDatabaseRepo{orders: make(map[string]domain.Order)}
}

func (m *mockDatabaseRepo) CreateOrder(ctx context.Context, order domain.Order) (domain.Order, error) {
	m.createCalls.Add(1)
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.createErr != nil {
		return domain.Order{}, m.createErr
	}
	for _, o := range m.orders {
		if o.PaymentID == order.PaymentID {
			return domain.Order{}, port.ErrDuplicatePayment
		}
	}
	m.nextID++
	order.ID = fmt.Sprintf("order-%d", m.nextID)
	m.orders[order.ID] = order
	return order, nil
}

func (m *mockDatabaseRepo) FindOrders(ctx context.Context, filter domain.OrderFilter) ([]domain.Order, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.findErr != nil {
		return nil, m.findErr
	}
	var out []domain.Order
	for _, o := range m.orders {
		if filter.PaymentID != "" && o.PaymentID != filter.PaymentID {
			continue
		}
		if filter.GatewayOrderID != "" && o.Payment.GatewayOrderID != filter.GatewayOrderID {
			continue
		}
		out = append(out, o)
	}
	return out, nil
}

func (m *mockDatabaseRepo) UpdateOrder(ctx context.Context, id string, patch domain.OrderPatch) (bool, error) {
	m.updateCalls.Add(1)
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.updateErr != nil {
		return false, m.updateErr
	}
	o, ok := m.orders[id]
	if !ok {
		return false, nil
	}

	changed := patch.Status == nil && patch.PaymentStatus == nil
	if patch.Status != nil && o.Status != *patch.Status {
		changed = true
	}
	if patch.PaymentStatus != nil && o.Payment.Status != *patch.PaymentStatus {
		changed = true
	}
	if !changed {
		return false, nil
	}

	if patch.Status != nil {
		o.Status = *patch.Status
	}
	if patch.PaymentStatus != nil {
		o.Payment.Status = *patch.PaymentStatus
	}
	if patch.Note != "" {
		o.Notes = domain.AppendNote(o.Notes, patch.Note)
	}
	m.orders[id] = o
	return true, nil
}

func (m *mockDatabaseRepo) count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.orders)
}

func (m *mockDatabaseRepo) get(id string) domain.Order {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.orders[id]
}

func (m *mockDatabaseRepo) put(order domain.Order) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.orders[order.ID] = order
}

// Mock CacheRepository
type mockCacheRepo struct {
	idempotencySet map[string]bool
	setErr         error
	released       []string
	mu             sync.Mutex
}

func newMockCacheRepo() *mockCacheRepo {
	return &mockCacheRepo{idempotencySet: make(map[string]bool)}
}

func (m *mockCacheRepo) SetIdempotency(ctx context.Context, key string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.setErr != nil {
		return false, m.setErr
	}
	if m.idempotencySet[key] {
		return false, nil
	}
	m.idempotencySet[key] = true
	return true, nil
}

func (m *mockCacheRepo) ReleaseIdempotency(ctx context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.idempotencySet, key)
	m.released = append(m.released, key)
	return nil
}

// Mock PaymentGateway
type mockGateway struct {
	payment    domain.GatewayPayment
	order      domain.GatewayOrder
	paymentErr error
	orderErr   error
	calls      atomic.Int32
}

func newMockGateway(amount int64) *mockGateway {
	return &mockGateway{
		payment: domain.GatewayPayment{
			ID:        "pay_1",
			Entity:    "payment",
			Amount:    amount,
			Currency:  "INR",
			Status:    "captured",
			OrderID:   "order_1",
			Method:    "card",
			Captured:  true,
			CreatedAt: 1632150000,
		},
		order: domain.GatewayOrder{
			ID:      "order_1",
			Entity:  "order",
			Amount:  amount,
			Status:  "paid",
			Receipt: "rcpt_1",
		},
	}
}

func (m *mockGateway) FetchPayment(ctx context.Context, paymentID string) (domain.GatewayPayment, error) {
	m.calls.Add(1)
	if m.paymentErr != nil {
		return domain.GatewayPayment{}, m.paymentErr
	}
	return m.payment, nil
}

func (m *mockGateway) FetchOrder(ctx context.Context, orderID string) (domain.GatewayOrder, error) {
	m.calls.Add(1)
	if m.orderErr != nil {
		return domain.GatewayOrder{}, m.orderErr
	}
	return m.order, nil
}

func fixedNormalizer() *Normalizer {
	n := NewNormalizer("")
	n.now = func() time.Time { return time.UnixMilli(1700000000000) }
	n.suffix = func() string { return "ABC123" }
	return n
}

func newTestOrderService(t *testing.T, db *mockDatabaseRepo, gw *mockGateway) (*OrderService, *Notifier) {
	logger := zaptest.NewLogger(t)
	notifier := NewNotifier(100, logger)
	svc := NewOrderService(
		signature.NewVerifier(testKeySecret, testWebhookSecret),
		gw,
		db,
		fixedNormalizer(),
		NewValidator(DefaultAmountTolerance),
		notifier,
		logger,
	)
	return svc, notifier
}

// validRequest is a signed confirmation for two items worth 1000.00 in
// total: 2 x 450 + 1 x 80 + 20 shipping.
func validRequest() domain.ConfirmationRequest {
	return domain.ConfirmationRequest{
		GatewayOrderID:   "order_1",
		GatewayPaymentID: "pay_1",
		GatewaySignature: signature.Sign(signature.ConfirmationMessage("order_1", "pay_1"), testKeySecret),
		Cart: domain.CartDetails{
			Items: []domain.CartItemInput{
				{ProductID: "11", BasePrice: domain.NewNumeric("450"), Quantity: domain.NewNumeric("2")},
				{ID: "12", Price: domain.NewNumeric("80.00"), Quantity: domain.NewNumeric("1")},
			},
			ShippingCost: domain.NewNumeric("20"),
		},
		CustomerDetails: &domain.Customer{
			Email:     "asha@example.com",
			FirstName: "Asha",
			LastName:  "Rao",
		},
		ShippingAddress: &domain.Address{
			Address1:   "12 MG Road",
			City:       "Bengaluru",
			State:      "KA",
			PostalCode: "560001",
		},
	}
}

func drain(n *Notifier) []domain.OrderEvent {
	var events []domain.OrderEvent
	for {
		select {
		case e := <-n.GetEventQueue():
			events = append(events, e)
		default:
			return events
		}
	}
}
