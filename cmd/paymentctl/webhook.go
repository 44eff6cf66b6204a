package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/rl1809/order-reconciler/internal/adapter/handler"
	"github.com/rl1809/order-reconciler/internal/core/domain"
	"github.com/rl1809/order-reconciler/internal/core/signature"
)

type sampleOptions struct {
	event     string
	paymentID string
	orderID   string
	amount    int64
	reason    string
}

// samplePayload builds a webhook body shaped like the gateway's test
// deliveries.
func samplePayload(opts sampleOptions) ([]byte, error) {
	payment := domain.GatewayPayment{
		ID:        opts.paymentID,
		Entity:    "payment",
		Amount:    opts.amount,
		Currency:  "INR",
		Status:    "captured",
		OrderID:   opts.orderID,
		Method:    "card",
		Captured:  true,
		CreatedAt: time.Now().Unix(),
	}

	payload := map[string]any{}
	contains := []string{"payment"}

	switch opts.event {
	case domain.EventPaymentCaptured:
	case domain.EventPaymentAuthorized:
		payment.Status = "authorized"
		payment.Captured = false
	case domain.EventPaymentFailed:
		payment.Status = "failed"
		payment.Captured = false
		payment.ErrorReason = opts.reason
	case domain.EventOrderPaid:
		contains = append(contains, "order")
		payload["order"] = map[string]any{"entity": domain.GatewayOrder{
			ID:         opts.orderID,
			Entity:     "order",
			Amount:     opts.amount,
			AmountPaid: opts.amount,
			Currency:   "INR",
			Status:     "paid",
		}}
	default:
		return nil, fmt.Errorf("unsupported event %q", opts.event)
	}
	payload["payment"] = map[string]any{"entity": payment}

	return json.Marshal(map[string]any{
		"entity":     "event",
		"account_id": "acc_test_account",
		"event":      opts.event,
		"contains":   contains,
		"payload":    payload,
		"created_at": time.Now().Unix(),
	})
}

func sendWebhookCmd() *cobra.Command {
	var opts sampleOptions

	cmd := &cobra.Command{
		Use:   "send-webhook",
		Short: "Sign and deliver a sample webhook to a running server",
		RunE: func(cmd *cobra.Command, args []string) error {
			secret, err := secretFlag(cmd, "RAZORPAY_WEBHOOK_SECRET")
			if err != nil {
				return err
			}
			url, _ := cmd.Flags().GetString("url")
			eventID, _ := cmd.Flags().GetString("event-id")
			dryRun, _ := cmd.Flags().GetBool("dry-run")

			body, err := samplePayload(opts)
			if err != nil {
				return err
			}
			sig := signature.Sign(body, secret)
			if eventID == "" {
				eventID = "evt_" + uuid.NewString()
			}

			out := cmd.OutOrStdout()
			if dryRun {
				fmt.Fprintf(out, "%s: %s\n%s: %s\n%s\n", handler.HeaderSignature, sig, handler.HeaderEventID, eventID, body)
				return nil
			}

			req, err := http.NewRequestWithContext(cmd.Context(), http.MethodPost, url, bytes.NewReader(body))
			if err != nil {
				return err
			}
			req.Header.Set("Content-Type", "application/json")
			req.Header.Set(handler.HeaderSignature, sig)
			req.Header.Set(handler.HeaderEventID, eventID)

			resp, err := (&http.Client{Timeout: 10 * time.Second}).Do(req)
			if err != nil {
				return fmt.Errorf("deliver webhook: %w", err)
			}
			defer resp.Body.Close()

			respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<16))
			fmt.Fprintf(out, "%s %s\n", resp.Status, bytes.TrimSpace(respBody))
			if resp.StatusCode != http.StatusOK {
				return fmt.Errorf("webhook rejected with %d", resp.StatusCode)
			}
			return nil
		},
	}

	cmd.Flags().String("url", "http://localhost:8080/api/payment/webhook", "Webhook endpoint")
	cmd.Flags().String("secret", "", "Webhook secret (default $RAZORPAY_WEBHOOK_SECRET)")
	cmd.Flags().String("event-id", "", "Delivery id (random when empty)")
	cmd.Flags().Bool("dry-run", false, "Print the signed delivery instead of sending it")
	cmd.Flags().StringVar(&opts.event, "event", domain.EventPaymentCaptured, "Event name")
	cmd.Flags().StringVar(&opts.paymentID, "payment-id", "pay_test_payment_id", "Payment id")
	cmd.Flags().StringVar(&opts.orderID, "order-id", "order_test_order_id", "Gateway order id")
	cmd.Flags().Int64Var(&opts.amount, "amount", 100000, "Amount in minor units")
	cmd.Flags().StringVar(&opts.reason, "reason", "", "Failure reason for payment.failed")

	return cmd
}
