package service

import (
	"errors"
	"fmt"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"

	"github.com/rl1809/order-reconciler/internal/core/apperr"
	"github.com/rl1809/order-reconciler/internal/core/domain"
)

// minorUnitsPerMajor converts the gateway's paise amounts into rupees.
var minorUnitsPerMajor = decimal.NewFromInt(100)

var DefaultAmountTolerance = decimal.NewFromInt(1)

// Validator rejects orders that must not be persisted. Nothing is
// corrected; the first failing check is returned with the fields it found.
type Validator struct {
	validate  *validator.Validate
	tolerance decimal.Decimal
}

func NewValidator(tolerance decimal.Decimal) *Validator {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name := strings.SplitN(f.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	if tolerance.IsNegative() {
		tolerance = DefaultAmountTolerance
	}
	return &Validator{validate: v, tolerance: tolerance}
}

func (v *Validator) Validate(order domain.Order) error {
	if fields := v.missing(order.Customer); len(fields) > 0 {
		return apperr.ValidationErr("missing required customer details", fields...)
	}
	if fields := v.missing(order.Shipping); len(fields) > 0 {
		return apperr.ValidationErr("missing required shipping address details", fields...)
	}
	if len(order.Items) == 0 {
		return apperr.ValidationErr("cart items are required", "items")
	}
	for i, item := range order.Items {
		if item.ProductRef == "" {
			return apperr.ValidationErr(
				fmt.Sprintf("cart item %d is missing product ID", i+1),
				fmt.Sprintf("items[%d].productId", i))
		}
	}
	for i, item := range order.Items {
		var fields []string
		if item.Quantity <= 0 {
			fields = append(fields, fmt.Sprintf("items[%d].quantity", i))
		}
		if !item.UnitPrice.IsPositive() {
			fields = append(fields, fmt.Sprintf("items[%d].price", i))
		}
		if len(fields) > 0 {
			return apperr.ValidationErr(
				fmt.Sprintf("cart item %d is missing valid quantity or price", i+1), fields...)
		}
	}
	for _, amount := range []struct {
		value decimal.Decimal
		field string
	}{
		{order.Subtotal, "subtotal"},
		{order.Tax, "tax"},
		{order.ShippingCost, "shippingCost"},
		{order.Discount, "discount"},
		{order.Total, "total"},
	} {
		if amount.value.IsNegative() {
			return apperr.ValidationErr(fmt.Sprintf("order %s cannot be negative", amount.field), amount.field)
		}
	}
	return v.reconcile(order)
}

// reconcile compares the computed total with the amount the gateway says
// was paid. A gap beyond the tolerance means currency drift or a cart that
// was altered after payment.
func (v *Validator) reconcile(order domain.Order) error {
	paid := decimal.NewFromInt(order.Payment.Amount).Div(minorUnitsPerMajor)
	if paid.Sub(order.Total).Abs().GreaterThan(v.tolerance) {
		return apperr.ValidationErr(
			fmt.Sprintf("order total mismatch: gateway amount %s vs calculated total %s",
				paid.StringFixed(2), order.Total.StringFixed(2)),
			"total")
	}
	return nil
}

func (v *Validator) missing(s any) []string {
	err := v.validate.Struct(s)
	if err == nil {
		return nil
	}
	var ve validator.ValidationErrors
	if !errors.As(err, &ve) {
		return []string{"_"}
	}
	fields := make([]string, 0, len(ve))
	for _, fe := range ve {
		fields = append(fields, fe.Field())
	}
	return fields
}
