package service

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/rl1809/order-reconciler/internal/core/apperr"
	"github.com/rl1809/order-reconciler/internal/core/domain"
)

const defaultCountry = "India"

// Normalizer turns a storefront cart and the gateway's records into an
// order. It does no I/O; the clock and order-number suffix are injected so
// identical inputs give identical orders.
type Normalizer struct {
	now            func() time.Time
	suffix         func() string
	defaultCountry string
}

func NewNormalizer(country string) *Normalizer {
	if country == "" {
		country = defaultCountry
	}
	return &Normalizer{
		now:            time.Now,
		suffix:         randomSuffix,
		defaultCountry: country,
	}
}

func randomSuffix() string {
	return strings.ToUpper(strings.ReplaceAll(uuid.NewString(), "-", "")[:6])
}

func (n *Normalizer) OrderNumber() string {
	return fmt.Sprintf("ORD-%d-%s", n.now().UnixMilli(), n.suffix())
}

func (n *Normalizer) Normalize(req domain.ConfirmationRequest, payment domain.GatewayPayment, gwOrder domain.GatewayOrder) (domain.Order, error) {
	items, err := normalizeItems(req.Cart.Items)
	if err != nil {
		return domain.Order{}, err
	}

	subtotal := decimal.Zero
	for _, item := range items {
		subtotal = subtotal.Add(item.LineTotal)
	}

	tax, err := coerce(req.Cart.Tax, "cartDetails.tax")
	if err != nil {
		return domain.Order{}, err
	}
	shippingCost, err := coerce(req.Cart.ShippingCost, "cartDetails.shippingCost")
	if err != nil {
		return domain.Order{}, err
	}
	discount, err := coerce(req.Cart.Discount, "cartDetails.discount")
	if err != nil {
		return domain.Order{}, err
	}

	var customer domain.Customer
	if c := req.Customer(); c != nil {
		customer = domain.Customer{
			Email:     strings.TrimSpace(c.Email),
			FirstName: strings.TrimSpace(c.FirstName),
			LastName:  strings.TrimSpace(c.LastName),
			Phone:     strings.TrimSpace(c.Phone),
		}
	}

	var shipping domain.Address
	if req.ShippingAddress != nil {
		shipping = n.address(*req.ShippingAddress)
	}

	billing := domain.BillingAddress{SameAsShipping: true, Address: shipping}
	if b := req.BillingAddress; b != nil {
		if b.SameAsShipping != nil {
			billing.SameAsShipping = *b.SameAsShipping
		}
		if !billing.SameAsShipping {
			billing.Address = n.address(b.Address)
		}
	}

	paymentStatus := domain.ParsePaymentStatus(payment.Status)
	status := domain.OrderStatusPending
	if paymentStatus == domain.PaymentStatusCaptured {
		status = domain.OrderStatusProcessing
	}

	now := n.now().UTC()
	return domain.Order{
		OrderNumber:   n.OrderNumber(),
		Customer:      customer,
		Items:         items,
		Shipping:      shipping,
		Billing:       billing,
		Subtotal:      subtotal,
		Tax:           tax,
		ShippingCost:  shippingCost,
		Discount:      discount,
		Total:         subtotal.Add(tax).Add(shippingCost).Sub(discount),
		PaymentMethod: domain.PaymentMethodRazorpay,
		Payment: domain.Payment{
			GatewayOrderID:   gwOrder.ID,
			GatewayPaymentID: payment.ID,
			GatewaySignature: req.GatewaySignature,
			Status:           paymentStatus,
			Method:           payment.Method,
			PaidAt:           time.Unix(payment.CreatedAt, 0).UTC(),
			Amount:           payment.Amount,
		},
		PaymentID: payment.ID,
		Status:    status,
		Notes:     fmt.Sprintf("Payment completed via Razorpay. Method: %s", payment.Method),
		CreatedAt: now,
		UpdatedAt: now,
	}, nil
}

func (n *Normalizer) address(a domain.Address) domain.Address {
	out := domain.Address{
		Address1:   strings.TrimSpace(a.Address1),
		Address2:   strings.TrimSpace(a.Address2),
		City:       strings.TrimSpace(a.City),
		State:      strings.TrimSpace(a.State),
		PostalCode: strings.TrimSpace(a.PostalCode),
		Country:    strings.TrimSpace(a.Country),
	}
	if out.Country == "" {
		out.Country = n.defaultCountry
	}
	return out
}

// maxItemQuantity bounds a single cart line.
const maxItemQuantity = 10000

func normalizeItems(in []domain.CartItemInput) ([]domain.OrderItem, error) {
	items := make([]domain.OrderItem, 0, len(in))
	for i, item := range in {
		field := fmt.Sprintf("items[%d]", i)

		quantity, err := coerce(item.Quantity, field+".quantity")
		if err != nil {
			return nil, err
		}
		if !quantity.IsInteger() {
			return nil, apperr.ValidationErr(
				fmt.Sprintf("cart item %d has a fractional quantity", i+1), field+".quantity")
		}
		if quantity.GreaterThan(decimal.NewFromInt(maxItemQuantity)) {
			return nil, apperr.ValidationErr(
				fmt.Sprintf("cart item %d quantity exceeds %d", i+1, maxItemQuantity), field+".quantity")
		}

		price, err := unitPrice(item, quantity, field)
		if err != nil {
			return nil, err
		}

		ref := item.ProductID
		if ref == "" {
			ref = item.ID
		}

		qty := int(quantity.IntPart())
		items = append(items, domain.OrderItem{
			ProductRef: string(ref),
			Quantity:   qty,
			UnitPrice:  price,
			LineTotal:  price.Mul(decimal.NewFromInt(int64(qty))),
		})
	}
	return items, nil
}

// unitPrice resolves the per-unit price: basePrice, then price, then
// totalPrice spread over the quantity, else zero.
func unitPrice(item domain.CartItemInput, quantity decimal.Decimal, field string) (decimal.Decimal, error) {
	for _, c := range []struct {
		value domain.Numeric
		name  string
	}{
		{item.BasePrice, "basePrice"},
		{item.Price, "price"},
	} {
		d, err := coerce(c.value, field+"."+c.name)
		if err != nil {
			return decimal.Zero, err
		}
		if d.IsPositive() {
			return d, nil
		}
	}

	total, err := coerce(item.TotalPrice, field+".totalPrice")
	if err != nil {
		return decimal.Zero, err
	}
	if total.IsPositive() && quantity.IsPositive() {
		return total.DivRound(quantity, 4), nil
	}
	return decimal.Zero, nil
}

func coerce(n domain.Numeric, field string) (decimal.Decimal, error) {
	d, err := n.Decimal()
	if err != nil {
		return decimal.Zero, apperr.ValidationErr(fmt.Sprintf("%s: %v", field, err), field)
	}
	return d, nil
}
