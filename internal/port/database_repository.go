package port

import (
	"context"
	"errors"

	"github.com/rl1809/order-reconciler/internal/core/domain"
)

// ErrDuplicatePayment is returned by CreateOrder when an order already
// exists for the payment id.
var ErrDuplicatePayment = errors.New("order already exists for payment")

type DatabaseRepository interface {
	// CreateOrder persists a new order and returns it with its store id.
	// A second order for the same payment id fails with a duplicate error.
	CreateOrder(ctx context.Context, order domain.Order) (domain.Order, error)

	// FindOrders returns orders matching every set field of the filter
	FindOrders(ctx context.Context, filter domain.OrderFilter) ([]domain.Order, error)

	// UpdateOrder merges patch into the order, conditioned on the patch
	// changing its current state; reports whether a row was changed
	UpdateOrder(ctx context.Context, id string, patch domain.OrderPatch) (bool, error)
}
