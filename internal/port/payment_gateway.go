package port

import (
	"context"

	"github.com/rl1809/order-reconciler/internal/core/domain"
)

type PaymentGateway interface {
	FetchPayment(ctx context.Context, paymentID string) (domain.GatewayPayment, error)
	FetchOrder(ctx context.Context, orderID string) (domain.GatewayOrder, error)
}
