package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

type OrderStatus string

const (
	OrderStatusPending    OrderStatus = "pending"
	OrderStatusProcessing OrderStatus = "processing"
	OrderStatusFailed     OrderStatus = "failed"
	OrderStatusShipped    OrderStatus = "shipped"
	OrderStatusDelivered  OrderStatus = "delivered"
	OrderStatusCancelled  OrderStatus = "cancelled"
)

type PaymentStatus string

const (
	PaymentStatusPending    PaymentStatus = "pending"
	PaymentStatusAuthorized PaymentStatus = "authorized"
	PaymentStatusCaptured   PaymentStatus = "captured"
	PaymentStatusFailed     PaymentStatus = "failed"
	PaymentStatusRefunded   PaymentStatus = "refunded"
)

// ParsePaymentStatus maps a gateway payment status onto the statuses an
// order tracks. Anything unrecognised (e.g. "created") is pending.
func ParsePaymentStatus(s string) PaymentStatus {
	switch PaymentStatus(s) {
	case PaymentStatusAuthorized, PaymentStatusCaptured, PaymentStatusFailed, PaymentStatusRefunded:
		return PaymentStatus(s)
	default:
		return PaymentStatusPending
	}
}

const PaymentMethodRazorpay = "razorpay"

type Customer struct {
	Email     string `json:"email" validate:"required"`
	FirstName string `json:"firstName" validate:"required"`
	LastName  string `json:"lastName" validate:"required"`
	Phone     string `json:"phone"`
}

type Address struct {
	Address1   string `json:"address1" validate:"required"`
	Address2   string `json:"address2"`
	City       string `json:"city" validate:"required"`
	State      string `json:"state" validate:"required"`
	PostalCode string `json:"postalCode" validate:"required"`
	Country    string `json:"country"`
}

type BillingAddress struct {
	SameAsShipping bool `json:"sameAsShipping"`
	Address
}

type OrderItem struct {
	ProductRef string          `json:"product"`
	Quantity   int             `json:"quantity"`
	UnitPrice  decimal.Decimal `json:"price"`
	LineTotal  decimal.Decimal `json:"total"`
}

// Payment is built only from records fetched from the gateway; client
// supplied amounts and statuses never reach it.
type Payment struct {
	GatewayOrderID   string        `json:"razorpayOrderId"`
	GatewayPaymentID string        `json:"razorpayPaymentId"`
	GatewaySignature string        `json:"razorpaySignature"`
	Status           PaymentStatus `json:"paymentStatus"`
	Method           string        `json:"paymentMethod"`
	PaidAt           time.Time     `json:"paymentDate"`
	Amount           int64         `json:"amount"`
}

type Order struct {
	ID            string          `json:"id"`
	OrderNumber   string          `json:"orderNumber"`
	Customer      Customer        `json:"customer"`
	Items         []OrderItem     `json:"items"`
	Shipping      Address         `json:"shipping"`
	Billing       BillingAddress  `json:"billing"`
	Subtotal      decimal.Decimal `json:"subtotal"`
	Tax           decimal.Decimal `json:"tax"`
	ShippingCost  decimal.Decimal `json:"shipping_cost"`
	Discount      decimal.Decimal `json:"discount"`
	Total         decimal.Decimal `json:"total"`
	PaymentMethod string          `json:"paymentMethod"`
	Payment       Payment         `json:"payment"`
	PaymentID     string          `json:"paymentId"`
	Status        OrderStatus     `json:"status"`
	Notes         string          `json:"notes"`
	CreatedAt     time.Time       `json:"createdAt"`
	UpdatedAt     time.Time       `json:"updatedAt"`
}

// OrderFilter selects orders by equality on the set fields. At least one
// field must be set.
type OrderFilter struct {
	PaymentID      string
	GatewayOrderID string
}

func (f OrderFilter) Empty() bool {
	return f.PaymentID == "" && f.GatewayOrderID == ""
}

// OrderPatch is a partial update. Nil fields are left untouched and Note,
// when non-empty, is appended to the audit log. A patch is applied only if
// it changes at least one of the set state fields.
type OrderPatch struct {
	Status        *OrderStatus
	PaymentStatus *PaymentStatus
	Note          string
}

// AppendNote joins the audit log the way the store does.
func AppendNote(notes, note string) string {
	if notes == "" {
		return note
	}
	return notes + "\n" + note
}
