package service_test

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	_ "github.com/go-sql-driver/mysql"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap/zaptest"

	"github.com/rl1809/order-reconciler/internal/adapter/gateway"
	"github.com/rl1809/order-reconciler/internal/adapter/gateway/gatewaytest"
	"github.com/rl1809/order-reconciler/internal/adapter/storage"
	"github.com/rl1809/order-reconciler/internal/core/domain"
	"github.com/rl1809/order-reconciler/internal/core/service"
	"github.com/rl1809/order-reconciler/internal/core/signature"
)

const (
	itKeySecret     = "it_key_secret"
	itWebhookSecret = "it_webhook_secret"
)

type testEnv struct {
	mysql   *sql.DB
	redis   *redis.Client
	db      *storage.MySQLAdapter
	cache   *storage.RedisAdapter
	cleanup func()
}

func setupTestEnv(t *testing.T) *testEnv {
	redisAddr := os.Getenv("REDIS_ADDR")
	if redisAddr == "" {
		redisAddr = "localhost:6379"
	}

	mysqlDSN := os.Getenv("MYSQL_DSN")
	if mysqlDSN == "" {
		mysqlDSN = "root:root@tcp(localhost:3306)/orders?parseTime=true"
	}

	rdb := redis.NewClient(&redis.Options{Addr: redisAddr})
	if err := rdb.Ping(context.Background()).Err(); err != nil {
		t.Skipf("Redis not available: %v", err)
	}

	db, err := sql.Open("mysql", mysqlDSN)
	if err != nil {
		t.Skipf("MySQL not available: %v", err)
	}
	if err := db.Ping(); err != nil {
		t.Skipf("MySQL not available: %v", err)
	}
	if err := storage.Migrate(context.Background(), db); err != nil {
		t.Fatalf("migrate: %v", err)
	}

	return &testEnv{
		mysql: db,
		redis: rdb,
		db:    storage.NewMySQLAdapter(db),
		cache: storage.NewRedisAdapter(rdb, time.Minute),
		cleanup: func() {
			rdb.Close()
			db.Close()
		},
	}
}

type countingPublisher struct {
	mu     sync.Mutex
	counts map[string]int
}

func (p *countingPublisher) Publish(ctx context.Context, event domain.OrderEvent) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.counts == nil {
		p.counts = make(map[string]int)
	}
	p.counts[event.Type]++
	return nil
}

func (p *countingPublisher) count(eventType string) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.counts[eventType]
}

func itRequest(orderID, paymentID string) domain.ConfirmationRequest {
	return domain.ConfirmationRequest{
		GatewayOrderID:   orderID,
		GatewayPaymentID: paymentID,
		GatewaySignature: signature.Sign(signature.ConfirmationMessage(orderID, paymentID), itKeySecret),
		Cart: domain.CartDetails{
			Items: []domain.CartItemInput{
				{ProductID: "11", Price: domain.NewNumeric("500"), Quantity: domain.NewNumeric("2")},
			},
		},
		CustomerDetails: &domain.Customer{Email: "it@example.com", FirstName: "Int", LastName: "Test"},
		ShippingAddress: &domain.Address{
			Address1:   "1 Test Street",
			City:       "Pune",
			State:      "MH",
			PostalCode: "411001",
		},
	}
}

func TestIntegration_ConfirmAndReconcile(t *testing.T) {
	env := setupTestEnv(t)
	defer env.cleanup()

	ctx := context.Background()
	logger := zaptest.NewLogger(t)
	suffix := strings.ReplaceAll(uuid.NewString(), "-", "")[:12]
	orderID, paymentID := "order_it"+suffix, "pay_it"+suffix
	defer env.mysql.ExecContext(ctx, `DELETE FROM orders WHERE payment_id = ?`, paymentID)

	gw := gatewaytest.NewServer(
		domain.GatewayPayment{ID: paymentID, OrderID: orderID, Amount: 100000, Status: "authorized", Method: "upi"},
		domain.GatewayOrder{ID: orderID, Amount: 100000, Status: "attempted", Receipt: "rcpt_it"},
	)
	defer gw.Close()

	client, err := gateway.NewRazorpayClient(gateway.Config{
		BaseURL:   gw.URL,
		KeyID:     "rzp_test_it",
		KeySecret: itKeySecret,
	}, logger)
	if err != nil {
		t.Fatalf("NewRazorpayClient: %v", err)
	}

	verifier := signature.NewVerifier(itKeySecret, itWebhookSecret)
	notifier := service.NewNotifier(100, logger)
	publisher := &countingPublisher{}

	var wg sync.WaitGroup
	for i := 0; i < 3; i++ {
		wg.Add(1)
		go func(id int) {
			defer wg.Done()
			service.WorkerLoop(id, notifier.GetEventQueue(), publisher, logger)
		}(i)
	}

	orders := service.NewOrderService(verifier, client, env.db,
		service.NewNormalizer("India"), service.NewValidator(service.DefaultAmountTolerance), notifier, logger)
	webhooks := service.NewWebhookService(verifier, env.db, env.cache, notifier, logger)

	// Concurrent confirmations of the same payment
	var created, replayed atomic.Int32
	var confirmWg sync.WaitGroup
	for i := 0; i < 20; i++ {
		confirmWg.Add(1)
		go func() {
			defer confirmWg.Done()
			result, err := orders.ConfirmPayment(ctx, itRequest(orderID, paymentID))
			if err != nil {
				t.Errorf("confirm failed: %v", err)
				return
			}
			if result.Replayed {
				replayed.Add(1)
			} else {
				created.Add(1)
			}
		}()
	}
	confirmWg.Wait()

	if created.Load() != 1 || replayed.Load() != 19 {
		t.Errorf("expected 1 created and 19 replayed, got %d and %d", created.Load(), replayed.Load())
	}

	// Duplicate webhook deliveries, some sharing an event id
	body := []byte(fmt.Sprintf(`{"entity":"event","event":"payment.captured","contains":["payment"],`+
		`"payload":{"payment":{"entity":{"id":%q,"order_id":%q,"amount":100000,"status":"captured","method":"upi"}}}}`,
		paymentID, orderID))
	sig := signature.Sign(body, itWebhookSecret)

	var hookWg sync.WaitGroup
	for i := 0; i < 10; i++ {
		hookWg.Add(1)
		go func(i int) {
			defer hookWg.Done()
			eventID := fmt.Sprintf("evt_%s_%d", suffix, i%3)
			if err := webhooks.HandleWebhook(ctx, body, sig, eventID); err != nil {
				t.Errorf("webhook failed: %v", err)
			}
		}(i)
	}
	hookWg.Wait()

	notifier.Close()
	wg.Wait()

	found, err := env.db.FindOrders(ctx, domain.OrderFilter{PaymentID: paymentID})
	if err != nil {
		t.Fatalf("FindOrders: %v", err)
	}
	if len(found) != 1 {
		t.Fatalf("expected 1 order, got %d", len(found))
	}
	order := found[0]
	if order.Status != domain.OrderStatusProcessing || order.Payment.Status != domain.PaymentStatusCaptured {
		t.Errorf("expected processing/captured, got %s/%s", order.Status, order.Payment.Status)
	}
	if n := strings.Count(order.Notes, "Payment captured via webhook"); n != 1 {
		t.Errorf("expected one capture note, got %d in %q", n, order.Notes)
	}

	if publisher.count(domain.OrderEventCreated) != 1 {
		t.Errorf("expected 1 created event, got %d", publisher.count(domain.OrderEventCreated))
	}
	if publisher.count(domain.OrderEventStatusChanged) != 1 {
		t.Errorf("expected 1 status change event, got %d", publisher.count(domain.OrderEventStatusChanged))
	}
}
