package payments

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"time"

	"github.com/hanko-field/storefront/internal/domain"
)

// ReasonEmptyOrderID marks a created order whose id came back empty.
const ReasonEmptyOrderID = "order id is empty"

// Gateway adapts Actions to the storefront's domain: it refuses empty carts, builds the
// order body, normalises the created order id and extracts the capture.
type Gateway struct {
	actions  Actions
	currency string
	clock    func() time.Time
	logger   Logger
}

// GatewayOption configures a Gateway.
type GatewayOption func(*Gateway)

// WithCurrency sets the ISO currency of every order.
func WithCurrency(currency string) GatewayOption {
	return func(g *Gateway) {
		if c := strings.ToUpper(strings.TrimSpace(currency)); c != "" {
			g.currency = c
		}
	}
}

// WithClock overrides the capture timestamp source.
func WithClock(clock func() time.Time) GatewayOption {
	return func(g *Gateway) {
		if clock != nil {
			g.clock = clock
		}
	}
}

// WithGatewayLogger sets the event logger.
func WithGatewayLogger(logger Logger) GatewayOption {
	return func(g *Gateway) {
		if logger != nil {
			g.logger = logger
		}
	}
}

// NewGateway wraps actions.
func NewGateway(actions Actions, opts ...GatewayOption) (*Gateway, error) {
	if actions == nil {
		return nil, errors.New("payments: actions are required")
	}
	g := &Gateway{
		actions:  actions,
		currency: "USD",
		clock:    time.Now,
		logger:   noopLogger,
	}
	for _, opt := range opts {
		opt(g)
	}
	return g, nil
}

// CreateOrder submits an order for the primary cart and returns the processor order id.
func (g *Gateway) CreateOrder(ctx context.Context, cart domain.CartSnapshot, customer domain.CustomerInfo) (string, error) {
	if cart.IsEmpty() {
		return "", &domain.Error{Kind: domain.KindEmptyCart, Op: "payments.create_order"}
	}
	req, charge := BuildOrderRequest(cart, customer, g.currency)

	result, err := g.actions.CreateOrder(ctx, req)
	if err != nil {
		return "", err
	}
	id, err := normalizeOrderID(result)
	if err != nil {
		g.logger(ctx, "payments.order.malformed", map[string]any{"resultType": typeName(result)})
		return "", err
	}
	g.logger(ctx, "payments.order.created", map[string]any{
		"orderId": id,
		"total":   charge.Total.String(),
		"items":   len(req.PurchaseUnits[0].Items),
	})
	return id, nil
}

// Capture captures orderID and returns the normalised capture.
func (g *Gateway) Capture(ctx context.Context, orderID string) (domain.PaymentCapture, error) {
	raw, err := g.actions.CaptureOrder(ctx, orderID)
	if err != nil {
		return domain.PaymentCapture{}, err
	}
	capture, err := ParseCapture(raw, orderID, g.clock)
	if err != nil {
		return domain.PaymentCapture{}, err
	}
	g.logger(ctx, "payments.order.captured", map[string]any{
		"orderId":   capture.ExternalOrderID,
		"captureId": capture.ExternalTransactionID,
		"amount":    capture.CapturedAmount.String(),
	})
	return capture, nil
}

func normalizeOrderID(result any) (string, error) {
	malformed := func(reason string) error {
		return &domain.Error{Kind: domain.KindMalformedGateway, Op: "payments.create_order", Reason: reason}
	}
	switch v := result.(type) {
	case string:
		if id := strings.TrimSpace(v); id != "" {
			return id, nil
		}
		return "", malformed(ReasonEmptyOrderID)
	case map[string]any:
		if id, ok := v["id"].(string); ok && strings.TrimSpace(id) != "" {
			return strings.TrimSpace(id), nil
		}
	case json.RawMessage:
		return normalizeRaw(v, malformed)
	case []byte:
		return normalizeRaw(v, malformed)
	}
	return "", malformed("")
}

func normalizeRaw(data []byte, malformed func(string) error) (string, error) {
	var decoded any
	if err := json.Unmarshal(data, &decoded); err != nil {
		return "", malformed("")
	}
	switch decoded.(type) {
	case string, map[string]any:
		return normalizeOrderID(decoded)
	}
	return "", malformed("")
}

type captureDocument struct {
	ID            string `json:"id"`
	PurchaseUnits []struct {
		Amount *struct {
			Value string `json:"value"`
		} `json:"amount"`
		Payments *struct {
			Captures []struct {
				ID     string `json:"id"`
				Amount *struct {
					Value string `json:"value"`
				} `json:"amount"`
				CreateTime string `json:"create_time"`
			} `json:"captures"`
		} `json:"payments"`
	} `json:"purchase_units"`
}

// ParseCapture extracts purchase_units[0].payments.captures[0] from a capture document.
// The captured amount falls back to purchase_units[0].amount.value; the order id falls
// back to orderID.
func ParseCapture(raw []byte, orderID string, clock func() time.Time) (domain.PaymentCapture, error) {
	malformed := func(reason string, err error) error {
		return &domain.Error{Kind: domain.KindMalformedCapture, Op: "payments.capture", Reason: reason, Err: err}
	}
	if clock == nil {
		clock = time.Now
	}

	var doc captureDocument
	if err := json.Unmarshal(raw, &doc); err != nil {
		return domain.PaymentCapture{}, malformed("", err)
	}
	if len(doc.PurchaseUnits) == 0 || doc.PurchaseUnits[0].Payments == nil || len(doc.PurchaseUnits[0].Payments.Captures) == 0 {
		return domain.PaymentCapture{}, malformed("", nil)
	}
	unit := doc.PurchaseUnits[0]
	first := unit.Payments.Captures[0]
	if strings.TrimSpace(first.ID) == "" {
		return domain.PaymentCapture{}, malformed("capture id is empty", nil)
	}

	value := ""
	if first.Amount != nil {
		value = first.Amount.Value
	}
	if value == "" && unit.Amount != nil {
		value = unit.Amount.Value
	}
	if strings.TrimSpace(value) == "" {
		return domain.PaymentCapture{}, malformed("amount is missing", nil)
	}
	amount, err := domain.ParseMoney(value)
	if err != nil {
		return domain.PaymentCapture{}, malformed("amount is invalid", err)
	}

	capturedAt := clock().UTC()
	if first.CreateTime != "" {
		if t, err := time.Parse(time.RFC3339, first.CreateTime); err == nil {
			capturedAt = t.UTC()
		}
	}

	externalID := strings.TrimSpace(doc.ID)
	if externalID == "" {
		externalID = strings.TrimSpace(orderID)
	}

	return domain.PaymentCapture{
		ExternalOrderID:       externalID,
		ExternalTransactionID: strings.TrimSpace(first.ID),
		CapturedAmount:        amount,
		CapturedAt:            capturedAt,
	}, nil
}

func typeName(v any) string {
	switch v.(type) {
	case nil:
		return "nil"
	case string:
		return "string"
	case map[string]any:
		return "object"
	case []any:
		return "array"
	case float64, int, int64:
		return "number"
	case bool:
		return "bool"
	default:
		return "other"
	}
}
