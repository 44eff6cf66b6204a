package domain

// CartItemInput is a line item as the storefront sends it. Price fields
// vary by cart implementation; the normalizer picks one.
type CartItemInput struct {
	ProductID  Ref     `json:"productId,omitempty"`
	ID         Ref     `json:"id,omitempty"`
	Price      Numeric `json:"price"`
	BasePrice  Numeric `json:"basePrice"`
	TotalPrice Numeric `json:"totalPrice"`
	Quantity   Numeric `json:"quantity"`
}

type CartDetails struct {
	Items        []CartItemInput `json:"items"`
	Tax          Numeric         `json:"tax"`
	ShippingCost Numeric         `json:"shippingCost"`
	Discount     Numeric         `json:"discount"`
}

type BillingInput struct {
	SameAsShipping *bool `json:"sameAsShipping,omitempty"`
	Address
}

type ConfirmationRequest struct {
	GatewayOrderID   string        `json:"razorpay_order_id"`
	GatewayPaymentID string        `json:"razorpay_payment_id"`
	GatewaySignature string        `json:"razorpay_signature"`
	Cart             CartDetails   `json:"cartDetails"`
	CustomerDetails  *Customer     `json:"customerDetails,omitempty"`
	CustomerAlias    *Customer     `json:"customer,omitempty"`
	ShippingAddress  *Address      `json:"shippingAddress,omitempty"`
	BillingAddress   *BillingInput `json:"billingAddress,omitempty"`
}

// Customer prefers customerDetails and falls back to the older customer
// field some storefronts still send.
func (r ConfirmationRequest) Customer() *Customer {
	if r.CustomerDetails != nil {
		return r.CustomerDetails
	}
	return r.CustomerAlias
}

// MissingPaymentFields lists the gateway identifiers absent from the request.
func (r ConfirmationRequest) MissingPaymentFields() []string {
	var missing []string
	if r.GatewayOrderID == "" {
		missing = append(missing, "razorpay_order_id")
	}
	if r.GatewayPaymentID == "" {
		missing = append(missing, "razorpay_payment_id")
	}
	if r.GatewaySignature == "" {
		missing = append(missing, "razorpay_signature")
	}
	return missing
}
