package domain

import (
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

var (
	// FlatShippingFee is charged on every processor order.
	FlatShippingFee = MustParseMoney("5.99")
	// TaxRate applies to the primary cart subtotal.
	TaxRate = decimal.RequireFromString("0.08")
)

// CustomerInfo is collected on the checkout form. All fields are optional.
type CustomerInfo struct {
	FirstName  string `json:"firstName,omitempty"`
	LastName   string `json:"lastName,omitempty"`
	Email      string `json:"email,omitempty"`
	Phone      string `json:"phone,omitempty"`
	Address    string `json:"address,omitempty"`
	City       string `json:"city,omitempty"`
	State      string `json:"state,omitempty"`
	PostalCode string `json:"postalCode,omitempty"`
	Country    string `json:"country,omitempty"`
	Notes      string `json:"notes,omitempty"`
}

// FullName joins first and last name, defaulting to "Customer".
func (c CustomerInfo) FullName() string {
	name := strings.TrimSpace(strings.TrimSpace(c.FirstName) + " " + strings.TrimSpace(c.LastName))
	if name == "" {
		return "Customer"
	}
	return name
}

// ChargeBreakdown is the amount sent to the payment processor.
type ChargeBreakdown struct {
	Subtotal Money
	Shipping Money
	Tax      Money
	Total    Money
}

// ComputeCharge derives the processor charge from the primary cart.
// Tax is rounded to cents first so the breakdown always sums to the total.
func ComputeCharge(primary CartSnapshot) ChargeBreakdown {
	subtotal := primary.TotalAmount
	tax := subtotal.Rate(TaxRate)
	return ChargeBreakdown{
		Subtotal: subtotal,
		Shipping: FlatShippingFee,
		Tax:      tax,
		Total:    subtotal.Add(FlatShippingFee).Add(tax),
	}
}

// PaymentCapture is the processor's confirmation that funds moved.
type PaymentCapture struct {
	ExternalOrderID       string    `json:"externalOrderId"`
	ExternalTransactionID string    `json:"externalTransactionId"`
	CapturedAmount        Money     `json:"capturedAmount"`
	CapturedAt            time.Time `json:"capturedAt"`
}

// OrderItem is the persisted copy of a cart line.
type OrderItem struct {
	ProductRef  string `json:"productRef"`
	ProductName string `json:"productName,omitempty"`
	Quantity    int    `json:"quantity"`
	UnitPrice   Money  `json:"unitPrice"`
	TotalPrice  Money  `json:"totalPrice"`
}

// PersistedOrder is the append-only local record of a completed checkout.
type PersistedOrder struct {
	ID                string         `json:"id"`
	Customer          CustomerInfo   `json:"customer"`
	Capture           PaymentCapture `json:"capture"`
	Items             []OrderItem    `json:"items"`
	BackendOrderID    string         `json:"backendOrderId,omitempty"`
	FulfillmentStatus int            `json:"fulfillmentStatus,omitempty"`
	CreatedAt         time.Time      `json:"createdAt"`
}

// OrderItemsFromSnapshot copies snapshot lines into persisted order items.
func OrderItemsFromSnapshot(s CartSnapshot) []OrderItem {
	items := make([]OrderItem, 0, len(s.Items))
	for _, item := range s.Items {
		items = append(items, OrderItem{
			ProductRef:  item.ProductRef,
			ProductName: item.ProductName,
			Quantity:    item.Quantity,
			UnitPrice:   item.UnitPrice,
			TotalPrice:  item.TotalPrice,
		})
	}
	return items
}
