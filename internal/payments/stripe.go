package payments

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stripe/stripe-go/v78"
	"github.com/stripe/stripe-go/v78/client"
)

type stripePaymentIntentAPI interface {
	New(params *stripe.PaymentIntentParams) (*stripe.PaymentIntent, error)
	Capture(id string, params *stripe.PaymentIntentCaptureParams) (*stripe.PaymentIntent, error)
}

type stripeClients struct {
	intents stripePaymentIntentAPI
}

// StripeConfig configures StripeActions.
type StripeConfig struct {
	APIKey    string
	AccountID string
	Backends  *stripe.Backends
	Logger    Logger
	Clock     func() time.Time
	Clients   *stripeClients
}

// StripeActions creates manual-capture PaymentIntents and re-shapes captures into the
// Orders v2 capture document the gateway understands.
type StripeActions struct {
	api     stripeClients
	account string
	clock   func() time.Time
	logger  Logger
}

// NewStripeActions constructs StripeActions.
func NewStripeActions(cfg StripeConfig) (*StripeActions, error) {
	apiKey := strings.TrimSpace(cfg.APIKey)
	if apiKey == "" && cfg.Clients == nil {
		return nil, errors.New("stripe: api key is required")
	}

	var clients stripeClients
	if cfg.Clients != nil {
		clients = *cfg.Clients
	} else {
		sc := client.New(apiKey, cfg.Backends)
		clients = stripeClients{intents: sc.PaymentIntents}
	}
	if clients.intents == nil {
		return nil, errors.New("stripe: incomplete client configuration")
	}

	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	logger := cfg.Logger
	if logger == nil {
		logger = noopLogger
	}

	return &StripeActions{
		api:     clients,
		account: strings.TrimSpace(cfg.AccountID),
		clock: func() time.Time {
			return clock().UTC()
		},
		logger: logger,
	}, nil
}

// CreateOrder creates a PaymentIntent for the order total and returns {"id", "client_secret"}.
func (s *StripeActions) CreateOrder(ctx context.Context, req OrderRequest) (any, error) {
	if s == nil {
		return nil, errors.New("stripe: actions are nil")
	}
	if len(req.PurchaseUnits) == 0 {
		return nil, errors.New("stripe: order has no purchase units")
	}
	unit := req.PurchaseUnits[0]
	minor, err := minorUnits(unit.Amount.Value)
	if err != nil {
		return nil, fmt.Errorf("stripe: %w", err)
	}

	params := &stripe.PaymentIntentParams{
		Amount:        stripe.Int64(minor),
		Currency:      stripe.String(strings.ToLower(unit.Amount.CurrencyCode)),
		CaptureMethod: stripe.String(string(stripe.PaymentIntentCaptureMethodManual)),
		Metadata: map[string]string{
			"items": strconv.Itoa(len(unit.Items)),
		},
		Shipping: &stripe.ShippingDetailsParams{
			Name: stripe.String(unit.Shipping.Name.FullName),
			Address: &stripe.AddressParams{
				Line1:      stripe.String(unit.Shipping.Address.AddressLine1),
				City:       stripe.String(unit.Shipping.Address.AdminArea2),
				State:      stripe.String(unit.Shipping.Address.AdminArea1),
				PostalCode: stripe.String(unit.Shipping.Address.PostalCode),
				Country:    stripe.String(unit.Shipping.Address.CountryCode),
			},
		},
	}
	params.Context = ctx
	if s.account != "" {
		params.SetStripeAccount(s.account)
	}
	if b := unit.Amount.Breakdown; b != nil {
		params.Metadata["item_total"] = b.ItemTotal.Value
		params.Metadata["shipping"] = b.Shipping.Value
		params.Metadata["tax_total"] = b.TaxTotal.Value
	}

	intent, err := s.api.intents.New(params)
	if err != nil {
		return nil, fmt.Errorf("stripe: create payment intent: %w", err)
	}
	s.logger(ctx, "payments.stripe.intent.created", map[string]any{
		"paymentIntent": intent.ID,
		"amount":        intent.Amount,
	})
	return map[string]any{
		"id":            intent.ID,
		"client_secret": intent.ClientSecret,
	}, nil
}

// CaptureOrder captures the PaymentIntent and returns it as a capture document.
func (s *StripeActions) CaptureOrder(ctx context.Context, orderID string) ([]byte, error) {
	if s == nil {
		return nil, errors.New("stripe: actions are nil")
	}
	params := &stripe.PaymentIntentCaptureParams{}
	params.Context = ctx
	if s.account != "" {
		params.SetStripeAccount(s.account)
	}
	intent, err := s.api.intents.Capture(orderID, params)
	if err != nil {
		return nil, fmt.Errorf("stripe: capture payment intent: %w", err)
	}
	s.logger(ctx, "payments.stripe.intent.captured", map[string]any{
		"paymentIntent":  intent.ID,
		"amountReceived": intent.AmountReceived,
	})
	return json.Marshal(s.captureDocument(intent))
}

func (s *StripeActions) captureDocument(intent *stripe.PaymentIntent) map[string]any {
	captureID := intent.ID
	createdAt := s.clock()
	if charge := intent.LatestCharge; charge != nil {
		if charge.ID != "" {
			captureID = charge.ID
		}
		if charge.Created != 0 {
			createdAt = time.Unix(charge.Created, 0).UTC()
		}
	}
	received := intent.AmountReceived
	if received == 0 {
		received = intent.Amount
	}
	value := decimal.New(received, -2).StringFixed(2)
	currency := strings.ToUpper(string(intent.Currency))

	return map[string]any{
		"id":     intent.ID,
		"status": string(intent.Status),
		"purchase_units": []any{
			map[string]any{
				"amount": map[string]any{"currency_code": currency, "value": value},
				"payments": map[string]any{
					"captures": []any{
						map[string]any{
							"id":          captureID,
							"amount":      map[string]any{"currency_code": currency, "value": value},
							"create_time": createdAt.Format(time.RFC3339),
						},
					},
				},
			},
		},
	}
}

func minorUnits(value string) (int64, error) {
	d, err := decimal.NewFromString(strings.TrimSpace(value))
	if err != nil {
		return 0, fmt.Errorf("invalid amount %q: %w", value, err)
	}
	if d.IsNegative() {
		return 0, fmt.Errorf("invalid amount %q", value)
	}
	return d.Shift(2).Round(0).IntPart(), nil
}
