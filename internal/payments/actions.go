package payments

import (
	"context"
	"strconv"
	"strings"

	"github.com/hanko-field/storefront/internal/domain"
)

// Actions is the processor-side contract the checkout widget drives. CreateOrder may
// return a bare id string or an object carrying an "id"; CaptureOrder returns the raw
// capture document.
type Actions interface {
	CreateOrder(ctx context.Context, req OrderRequest) (any, error)
	CaptureOrder(ctx context.Context, orderID string) ([]byte, error)
}

// Logger receives provider events.
type Logger func(ctx context.Context, event string, fields map[string]any)

func noopLogger(context.Context, string, map[string]any) {}

// OrderRequest is the processor order body (Orders v2 shape).
type OrderRequest struct {
	Intent             string             `json:"intent"`
	PurchaseUnits      []PurchaseUnit     `json:"purchase_units"`
	ApplicationContext ApplicationContext `json:"application_context"`
}

// PurchaseUnit is a single charge inside an order.
type PurchaseUnit struct {
	Amount   Amount   `json:"amount"`
	Items    []Item   `json:"items"`
	Shipping Shipping `json:"shipping"`
}

// Amount is a currency value with an optional breakdown.
type Amount struct {
	CurrencyCode string     `json:"currency_code"`
	Value        string     `json:"value"`
	Breakdown    *Breakdown `json:"breakdown,omitempty"`
}

// Breakdown splits an amount into its components.
type Breakdown struct {
	ItemTotal Amount `json:"item_total"`
	Shipping  Amount `json:"shipping"`
	TaxTotal  Amount `json:"tax_total"`
}

// Item is one order line. Quantity is a string on the wire.
type Item struct {
	Name       string `json:"name"`
	Quantity   string `json:"quantity"`
	UnitAmount Amount `json:"unit_amount"`
}

// Shipping carries the recipient.
type Shipping struct {
	Name    ShippingName    `json:"name"`
	Address ShippingAddress `json:"address"`
}

// ShippingName is the recipient name.
type ShippingName struct {
	FullName string `json:"full_name"`
}

// ShippingAddress is the recipient address.
type ShippingAddress struct {
	AddressLine1 string `json:"address_line_1"`
	AdminArea2   string `json:"admin_area_2"`
	AdminArea1   string `json:"admin_area_1"`
	PostalCode   string `json:"postal_code"`
	CountryCode  string `json:"country_code"`
}

// ApplicationContext tunes the approval flow.
type ApplicationContext struct {
	ShippingPreference string `json:"shipping_preference"`
	UserAction         string `json:"user_action"`
}

const defaultCountryCode = "US"

// BuildOrderRequest converts the primary cart and customer into a processor order.
func BuildOrderRequest(cart domain.CartSnapshot, customer domain.CustomerInfo, currency string) (OrderRequest, domain.ChargeBreakdown) {
	currency = strings.ToUpper(strings.TrimSpace(currency))
	if currency == "" {
		currency = "USD"
	}
	charge := domain.ComputeCharge(cart)
	amount := func(m domain.Money) Amount {
		return Amount{CurrencyCode: currency, Value: m.String()}
	}

	items := make([]Item, 0, len(cart.Items))
	for _, line := range cart.Items {
		name := strings.TrimSpace(line.ProductName)
		if name == "" {
			name = "Item"
		}
		items = append(items, Item{
			Name:       name,
			Quantity:   strconv.Itoa(line.Quantity),
			UnitAmount: amount(line.TotalPrice.DivQuantity(line.Quantity)),
		})
	}

	country := strings.ToUpper(strings.TrimSpace(customer.Country))
	if country == "" {
		country = defaultCountryCode
	}

	total := amount(charge.Total)
	total.Breakdown = &Breakdown{
		ItemTotal: amount(charge.Subtotal),
		Shipping:  amount(charge.Shipping),
		TaxTotal:  amount(charge.Tax),
	}

	return OrderRequest{
		Intent: "CAPTURE",
		PurchaseUnits: []PurchaseUnit{{
			Amount: total,
			Items:  items,
			Shipping: Shipping{
				Name: ShippingName{FullName: customer.FullName()},
				Address: ShippingAddress{
					AddressLine1: strings.TrimSpace(customer.Address),
					AdminArea2:   strings.TrimSpace(customer.City),
					AdminArea1:   strings.TrimSpace(customer.State),
					PostalCode:   strings.TrimSpace(customer.PostalCode),
					CountryCode:  country,
				},
			},
		}},
		ApplicationContext: ApplicationContext{
			ShippingPreference: "SET_PROVIDED_ADDRESS",
			UserAction:         "PAY_NOW",
		},
	}, charge
}
