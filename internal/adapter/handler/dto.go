package handler

import (
	"github.com/rl1809/order-reconciler/internal/core/apperr"
	"github.com/rl1809/order-reconciler/internal/core/service"
)

type VerifyPaymentResponse struct {
	Success      bool                `json:"success"`
	Message      string              `json:"message"`
	Replayed     bool                `json:"replayed"`
	Order        OrderSummary        `json:"order"`
	Payment      PaymentSummary      `json:"payment"`
	GatewayOrder GatewayOrderSummary `json:"razorpayOrder"`
}

type OrderSummary struct {
	ID          string  `json:"id"`
	OrderNumber string  `json:"orderNumber"`
	Status      string  `json:"status"`
	Total       float64 `json:"total"`
}

type PaymentSummary struct {
	ID        string `json:"id"`
	Amount    int64  `json:"amount"`
	Status    string `json:"status"`
	Method    string `json:"method"`
	CreatedAt int64  `json:"created_at"`
}

type GatewayOrderSummary struct {
	ID      string `json:"id"`
	Amount  int64  `json:"amount"`
	Status  string `json:"status"`
	Receipt string `json:"receipt"`
}

type ErrorResponse struct {
	Error         string   `json:"error"`
	MissingFields []string `json:"missingFields,omitempty"`
	Details       string   `json:"details,omitempty"`
}

func newVerifyPaymentResponse(result *service.ConfirmationResult) VerifyPaymentResponse {
	message := "Payment verified and order created successfully"
	if result.Replayed {
		message = "Payment already verified, returning existing order"
	}

	return VerifyPaymentResponse{
		Success:  true,
		Message:  message,
		Replayed: result.Replayed,
		Order: OrderSummary{
			ID:          result.Order.ID,
			OrderNumber: result.Order.OrderNumber,
			Status:      string(result.Order.Status),
			Total:       result.Order.Total.InexactFloat64(),
		},
		Payment: PaymentSummary{
			ID:        result.Payment.ID,
			Amount:    result.Payment.Amount,
			Status:    result.Payment.Status,
			Method:    result.Payment.Method,
			CreatedAt: result.Payment.CreatedAt,
		},
		GatewayOrder: GatewayOrderSummary{
			ID:      result.GatewayOrder.ID,
			Amount:  result.GatewayOrder.Amount,
			Status:  result.GatewayOrder.Status,
			Receipt: result.GatewayOrder.Receipt,
		},
	}
}

// newErrorResponse keeps internal detail out of 4xx bodies. 5xx bodies
// carry the cause so operators can correlate with logs.
func newErrorResponse(err error) (int, ErrorResponse) {
	ae := apperr.Wrap(err)
	status := apperr.HTTPStatus(ae)

	if status < 500 {
		return status, ErrorResponse{Error: ae.Msg, MissingFields: ae.Fields}
	}

	msg := ae.Msg
	switch ae.Kind {
	case apperr.Upstream, apperr.Persistence, apperr.Internal:
		msg = "Failed to process payment and create order"
	}
	return status, ErrorResponse{Error: msg, Details: apperr.Details(ae)}
}
