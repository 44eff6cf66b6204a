package main

import (
	"context"
	"database/sql"
	"fmt"
	"log"
	"os"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	_ "github.com/go-sql-driver/mysql"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/rl1809/order-reconciler/internal/adapter/gateway"
	"github.com/rl1809/order-reconciler/internal/adapter/gateway/gatewaytest"
	"github.com/rl1809/order-reconciler/internal/adapter/messaging"
	"github.com/rl1809/order-reconciler/internal/adapter/storage"
	"github.com/rl1809/order-reconciler/internal/core/domain"
	"github.com/rl1809/order-reconciler/internal/core/service"
	"github.com/rl1809/order-reconciler/internal/core/signature"
)

const (
	keySecret         = "stress_key_secret"
	webhookSecret     = "stress_webhook_secret"
	totalConfirms     = 50
	totalDeliveries   = 50
	distinctEventIDs  = 5
	amountMinorUnits  = 250000
	queueSize         = 1000
	publishWorkers    = 4
	defaultMySQLDSN   = "root:root@tcp(localhost:3306)/orders?parseTime=true"
	defaultRedisAddr  = "localhost:6379"
	captureNotePrefix = "Payment captured via webhook"
)

func main() {
	ctx := context.Background()
	logger := zap.NewNop()

	// Initialize MySQL
	db, err := sql.Open("mysql", getEnv("MYSQL_DSN", defaultMySQLDSN))
	if err != nil {
		log.Fatalf("failed to open mysql: %v", err)
	}
	defer db.Close()
	if err := db.PingContext(ctx); err != nil {
		log.Fatalf("failed to connect mysql: %v", err)
	}
	if err := storage.Migrate(ctx, db); err != nil {
		log.Fatalf("failed to migrate: %v", err)
	}

	// Initialize Redis
	rdb := redis.NewClient(&redis.Options{Addr: getEnv("REDIS_ADDR", defaultRedisAddr)})
	if err := rdb.Ping(ctx).Err(); err != nil {
		log.Fatalf("failed to connect redis: %v", err)
	}
	defer rdb.Close()

	run := strings.ReplaceAll(uuid.NewString(), "-", "")[:12]
	orderID, paymentID := "order_st"+run, "pay_st"+run
	defer db.ExecContext(ctx, `DELETE FROM orders WHERE payment_id = ?`, paymentID)

	// Local gateway so that the run does not depend on real credentials
	gw := gatewaytest.NewServer(
		domain.GatewayPayment{ID: paymentID, OrderID: orderID, Amount: amountMinorUnits, Status: "authorized", Method: "card"},
		domain.GatewayOrder{ID: orderID, Amount: amountMinorUnits, Status: "attempted", Receipt: "rcpt_" + run},
	)
	defer gw.Close()

	client, err := gateway.NewRazorpayClient(gateway.Config{
		BaseURL:   gw.URL,
		KeyID:     "rzp_test_stress",
		KeySecret: keySecret,
	}, logger)
	if err != nil {
		log.Fatalf("failed to create gateway client: %v", err)
	}

	mysqlAdapter := storage.NewMySQLAdapter(db)
	verifier := signature.NewVerifier(keySecret, webhookSecret)
	notifier := service.NewNotifier(queueSize, logger)

	var workers sync.WaitGroup
	for i := 0; i < publishWorkers; i++ {
		workers.Add(1)
		go func(id int) {
			defer workers.Done()
			service.WorkerLoop(id, notifier.GetEventQueue(), messaging.NewLogPublisher(logger), logger)
		}(i)
	}

	orderService := service.NewOrderService(verifier, client, mysqlAdapter,
		service.NewNormalizer("India"), service.NewValidator(service.DefaultAmountTolerance), notifier, logger)
	webhookService := service.NewWebhookService(verifier, mysqlAdapter,
		storage.NewRedisAdapter(rdb, time.Minute), notifier, logger)

	// Counters
	var created, replayed, confirmFailed atomic.Int32
	var delivered, deliveryFailed atomic.Int32

	start := time.Now()

	// Phase 1: concurrent confirmations of the same payment
	var wg sync.WaitGroup
	for i := 0; i < totalConfirms; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()

			result, err := orderService.ConfirmPayment(ctx, confirmation(orderID, paymentID))
			switch {
			case err != nil:
				confirmFailed.Add(1)
				log.Printf("confirmation failed: %v", err)
			case result.Replayed:
				replayed.Add(1)
			default:
				created.Add(1)
			}
		}()
	}
	wg.Wait()

	// Phase 2: concurrent duplicate webhook deliveries
	body := []byte(fmt.Sprintf(`{"entity":"event","event":"payment.captured","contains":["payment"],`+
		`"payload":{"payment":{"entity":{"id":%q,"order_id":%q,"amount":%d,"status":"captured","method":"card"}}}}`,
		paymentID, orderID, amountMinorUnits))
	sig := signature.Sign(body, webhookSecret)

	for i := 0; i < totalDeliveries; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()

			eventID := fmt.Sprintf("evt_%s_%d", run, i%distinctEventIDs)
			if err := webhookService.HandleWebhook(ctx, body, sig, eventID); err != nil {
				deliveryFailed.Add(1)
				log.Printf("delivery failed: %v", err)
				return
			}
			delivered.Add(1)
		}(i)
	}
	wg.Wait()
	elapsed := time.Since(start)

	notifier.Close()
	workers.Wait()

	// Verify persisted state
	var orderCount int
	db.QueryRowContext(ctx, `SELECT COUNT(*) FROM orders WHERE payment_id = ?`, paymentID).Scan(&orderCount)

	orders, err := mysqlAdapter.FindOrders(ctx, domain.OrderFilter{PaymentID: paymentID})
	if err != nil {
		log.Fatalf("failed to load order: %v", err)
	}
	notes := 0
	var status domain.OrderStatus
	if len(orders) > 0 {
		notes = strings.Count(orders[0].Notes, captureNotePrefix)
		status = orders[0].Status
	}

	// Results
	fmt.Println("========== STRESS TEST RESULTS ==========")
	fmt.Printf("Confirmations:    %d\n", totalConfirms)
	fmt.Printf("  Created:        %d\n", created.Load())
	fmt.Printf("  Replayed:       %d\n", replayed.Load())
	fmt.Printf("  Failed:         %d\n", confirmFailed.Load())
	fmt.Printf("Webhook Delivers: %d\n", totalDeliveries)
	fmt.Printf("  Acknowledged:   %d\n", delivered.Load())
	fmt.Printf("  Failed:         %d\n", deliveryFailed.Load())
	fmt.Printf("Gateway Requests: %d\n", gw.Requests())
	fmt.Printf("Duration:         %v\n", elapsed)
	fmt.Println("==========================================")

	// Assertions
	pass := true
	if created.Load() == 1 && replayed.Load() == totalConfirms-1 {
		fmt.Println("PASS: exactly one confirmation created the order")
	} else {
		pass = false
		fmt.Printf("FAIL: expected 1 created/%d replayed, got %d/%d\n",
			totalConfirms-1, created.Load(), replayed.Load())
	}

	if orderCount == 1 {
		fmt.Println("PASS: one order row for the payment")
	} else {
		pass = false
		fmt.Printf("FAIL: expected 1 order row, got %d\n", orderCount)
	}

	if notes == 1 && status == domain.OrderStatusProcessing {
		fmt.Println("PASS: capture applied once")
	} else {
		pass = false
		fmt.Printf("FAIL: expected 1 capture note and processing, got %d and %q\n", notes, status)
	}

	if !pass {
		os.Exit(1)
	}
}

func confirmation(orderID, paymentID string) domain.ConfirmationRequest {
	return domain.ConfirmationRequest{
		GatewayOrderID:   orderID,
		GatewayPaymentID: paymentID,
		GatewaySignature: signature.Sign(signature.ConfirmationMessage(orderID, paymentID), keySecret),
		Cart: domain.CartDetails{
			Items: []domain.CartItemInput{
				{ProductID: "101", Price: domain.NewNumeric("1200"), Quantity: domain.NewNumeric("2")},
			},
			ShippingCost: domain.NewNumeric("100"),
		},
		CustomerDetails: &domain.Customer{Email: "load@example.com", FirstName: "Load", LastName: "Test"},
		ShippingAddress: &domain.Address{
			Address1:   "42 Residency Road",
			City:       "Bengaluru",
			State:      "KA",
			PostalCode: "560025",
		},
	}
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}
