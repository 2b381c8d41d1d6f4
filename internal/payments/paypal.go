package payments

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/clientcredentials"

	"github.com/google/uuid"

	"github.com/hanko-field/storefront/internal/domain"
)

// DefaultPayPalBaseURL is the sandbox REST endpoint.
const DefaultPayPalBaseURL = "https://api-m.sandbox.paypal.com"

const maxPayPalBody = 1 << 20

// PayPalConfig configures PayPalActions.
type PayPalConfig struct {
	BaseURL      string
	ClientID     string
	ClientSecret string
	// HTTPClient is the base transport for both token and API calls.
	HTTPClient *http.Client
	Logger     Logger
}

// PayPalActions talks to the Orders v2 REST API using client-credential tokens.
type PayPalActions struct {
	baseURL string
	http    *http.Client
	logger  Logger
}

// NewPayPalActions builds PayPalActions. Tokens are fetched lazily and cached until expiry.
func NewPayPalActions(cfg PayPalConfig) (*PayPalActions, error) {
	clientID := strings.TrimSpace(cfg.ClientID)
	secret := strings.TrimSpace(cfg.ClientSecret)
	if clientID == "" || secret == "" {
		return nil, errors.New("paypal: client id and secret are required")
	}
	base := strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	if base == "" {
		base = DefaultPayPalBaseURL
	}
	if _, err := url.Parse(base); err != nil {
		return nil, fmt.Errorf("paypal: invalid base url: %w", err)
	}

	baseClient := cfg.HTTPClient
	if baseClient == nil {
		baseClient = &http.Client{
			Timeout:   20 * time.Second,
			Transport: otelhttp.NewTransport(http.DefaultTransport),
		}
	}

	creds := clientcredentials.Config{
		ClientID:     clientID,
		ClientSecret: secret,
		TokenURL:     base + "/v1/oauth2/token",
		AuthStyle:    oauth2.AuthStyleInHeader,
	}
	tokenCtx := context.WithValue(context.Background(), oauth2.HTTPClient, baseClient)
	httpClient := creds.Client(tokenCtx)
	httpClient.Timeout = baseClient.Timeout

	logger := cfg.Logger
	if logger == nil {
		logger = noopLogger
	}
	return &PayPalActions{baseURL: base, http: httpClient, logger: logger}, nil
}

// CreateOrder posts req to /v2/checkout/orders and returns the decoded order object.
func (p *PayPalActions) CreateOrder(ctx context.Context, req OrderRequest) (any, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("paypal: encode order: %w", err)
	}
	data, err := p.post(ctx, "paypal.create_order", "/v2/checkout/orders", body)
	if err != nil {
		return nil, err
	}
	var decoded any
	if err := json.Unmarshal(data, &decoded); err != nil {
		return nil, &domain.Error{Kind: domain.KindMalformedGateway, Op: "paypal.create_order", Err: err}
	}
	p.logger(ctx, "payments.paypal.order.created", map[string]any{"status": http.StatusCreated})
	return decoded, nil
}

// CaptureOrder posts to /v2/checkout/orders/{id}/capture and returns the raw document.
func (p *PayPalActions) CaptureOrder(ctx context.Context, orderID string) ([]byte, error) {
	orderID = strings.TrimSpace(orderID)
	if orderID == "" {
		return nil, errors.New("paypal: order id is required")
	}
	data, err := p.post(ctx, "paypal.capture_order", "/v2/checkout/orders/"+url.PathEscape(orderID)+"/capture", nil)
	if err != nil {
		return nil, err
	}
	p.logger(ctx, "payments.paypal.order.captured", map[string]any{"orderId": orderID})
	return data, nil
}

func (p *PayPalActions) post(ctx context.Context, op, path string, body []byte) ([]byte, error) {
	if body == nil {
		body = []byte("{}")
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("paypal: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	req.Header.Set("PayPal-Request-Id", uuid.NewString())

	resp, err := p.http.Do(req)
	if err != nil {
		return nil, domain.NetworkError(op, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxPayPalBody))
	if err != nil {
		return nil, domain.NetworkError(op, err)
	}
	if resp.StatusCode >= http.StatusBadRequest {
		p.logger(ctx, "payments.paypal.rejected", map[string]any{"op": op, "status": resp.StatusCode})
		return nil, domain.BackendRejected(op, resp.StatusCode, string(data))
	}
	return data, nil
}
