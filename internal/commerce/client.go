package commerce

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/sony/gobreaker/v2"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.uber.org/zap"
	"golang.org/x/net/publicsuffix"
	"golang.org/x/sync/singleflight"

	"github.com/hanko-field/storefront/internal/domain"
)

const (
	csrfCookieName    = "csrftoken"
	csrfHeader        = "X-CSRFToken"
	idempotencyHeader = "Idempotency-Key"
	maxErrorBody      = 4096

	defaultBreakerFailures = 5
	defaultBreakerWindow   = 30 * time.Second
)

var (
	// ErrCartAbsent is returned when the remote API does not return a cart (typically anonymous sessions).
	ErrCartAbsent = errors.New("commerce: cart not available")
	// ErrBonusProductAbsent is returned when no active bonus product exists.
	ErrBonusProductAbsent = errors.New("commerce: bonus product not available")
)

// Breaker guards remote calls; open circuits fail fast.
type Breaker = gobreaker.CircuitBreaker[*http.Response]

// NewBreaker builds a breaker that opens after maxFailures consecutive transport failures.
func NewBreaker(name string, maxFailures int, openWindow time.Duration) *Breaker {
	if maxFailures <= 0 {
		maxFailures = defaultBreakerFailures
	}
	if openWindow <= 0 {
		openWindow = defaultBreakerWindow
	}
	return gobreaker.NewCircuitBreaker[*http.Response](gobreaker.Settings{
		Name:    name,
		Timeout: openWindow,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= uint32(maxFailures)
		},
	})
}

// Identity is the authenticated user reported by the auth endpoints.
type Identity struct {
	ID       string
	Username string
	Email    string
}

// OrderSubmission is the backend order payload.
type OrderSubmission struct {
	Email      string `json:"email"`
	FirstName  string `json:"first_name"`
	LastName   string `json:"last_name"`
	Address    string `json:"address"`
	City       string `json:"city"`
	Country    string `json:"country"`
	PostalCode string `json:"postal_code"`
	Phone      string `json:"phone"`

	// IdempotencyKey is sent as the Idempotency-Key header so a repeated submission of the
	// same attempt is recorded once. A random key is used when empty.
	IdempotencyKey string `json:"-"`
}

// SubmissionFromCustomer maps checkout form fields onto the backend payload.
func SubmissionFromCustomer(c domain.CustomerInfo) OrderSubmission {
	return OrderSubmission{
		Email:      strings.TrimSpace(c.Email),
		FirstName:  strings.TrimSpace(c.FirstName),
		LastName:   strings.TrimSpace(c.LastName),
		Address:    strings.TrimSpace(c.Address),
		City:       strings.TrimSpace(c.City),
		Country:    strings.TrimSpace(c.Country),
		PostalCode: strings.TrimSpace(c.PostalCode),
		Phone:      strings.TrimSpace(c.Phone),
	}
}

// OrderReceipt is the backend acknowledgement of a submitted order.
type OrderReceipt struct {
	OrderID string
	Status  string
	// FulfillmentStatus is the HTTP status reported by the print-on-demand provider, zero when absent.
	FulfillmentStatus int
}

// Client talks to the remote commerce API on behalf of one browser session.
type Client struct {
	baseURL    string
	http       *http.Client
	jar        http.CookieJar
	breaker    *Breaker
	metaToken  string
	csrfFlight singleflight.Group
	logger     *zap.Logger
}

// Option customises the client.
type Option func(*Client)

// WithHTTPClient overrides the HTTP client. A cookie jar is attached when it has none.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		if hc != nil {
			c.http = hc
		}
	}
}

// WithBreaker shares a circuit breaker between clients.
func WithBreaker(b *Breaker) Option {
	return func(c *Client) {
		if b != nil {
			c.breaker = b
		}
	}
}

// WithCSRFMetaToken configures the fallback token used when no csrftoken cookie is present.
func WithCSRFMetaToken(token string) Option {
	return func(c *Client) {
		c.metaToken = strings.TrimSpace(token)
	}
}

// WithLogger sets the client logger.
func WithLogger(logger *zap.Logger) Option {
	return func(c *Client) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// NewClient constructs a client rooted at baseURL (for example http://localhost:8000/api).
func NewClient(baseURL string, opts ...Option) (*Client, error) {
	base := strings.TrimRight(strings.TrimSpace(baseURL), "/")
	if base == "" {
		return nil, errors.New("commerce: base url is required")
	}
	if _, err := url.Parse(base); err != nil {
		return nil, fmt.Errorf("commerce: invalid base url: %w", err)
	}

	c := &Client{
		baseURL: base,
		logger:  zap.NewNop(),
	}
	for _, opt := range opts {
		opt(c)
	}

	if c.http == nil {
		c.http = &http.Client{Transport: otelhttp.NewTransport(http.DefaultTransport)}
	}
	if c.http.Jar == nil {
		jar, err := cookiejar.New(&cookiejar.Options{PublicSuffixList: publicsuffix.List})
		if err != nil {
			return nil, fmt.Errorf("commerce: cookie jar: %w", err)
		}
		c.http.Jar = jar
	}
	c.jar = c.http.Jar
	if c.breaker == nil {
		c.breaker = NewBreaker("commerce", defaultBreakerFailures, defaultBreakerWindow)
	}
	return c, nil
}

// CheckSession reports whether the remote session is authenticated. Any failure yields false.
func (c *Client) CheckSession(ctx context.Context) bool {
	resp, err := c.send(ctx, http.MethodGet, "auth.me", nil, "auth", "me")
	if err != nil {
		c.logger.Debug("session check failed", zap.Error(err))
		return false
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 400 {
		return false
	}
	var payload struct {
		ID json.RawMessage `json:"id"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		c.logger.Debug("session check decode failed", zap.Error(err))
		return false
	}
	raw := bytes.TrimSpace(payload.ID)
	return len(raw) > 0 && !bytes.Equal(raw, []byte("null"))
}

// FetchCart loads the given cart. Non-success responses yield ErrCartAbsent.
func (c *Client) FetchCart(ctx context.Context, kind domain.CartKind) (domain.CartSnapshot, error) {
	op := "cart.fetch"
	resp, err := c.send(ctx, http.MethodGet, op, nil, cartPath(kind))
	if err != nil {
		return domain.CartSnapshot{}, err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 400 {
		return domain.CartSnapshot{}, fmt.Errorf("%w: status %d", ErrCartAbsent, resp.StatusCode)
	}
	var payload cartPayload
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return domain.CartSnapshot{}, fmt.Errorf("commerce: decode cart: %w", err)
	}
	return payload.toSnapshot(), nil
}

// Mutate applies op to the given cart and returns the server's replacement snapshot.
func (c *Client) Mutate(ctx context.Context, kind domain.CartKind, op Operation) (domain.CartSnapshot, error) {
	var body any
	if op.Kind != OpClear {
		body = map[string]int{"quantity": op.Quantity}
	}
	name := "cart." + op.Kind.String()
	resp, err := c.send(ctx, http.MethodPost, name, body, cartPath(kind), op.Kind.action())
	if err != nil {
		return domain.CartSnapshot{}, err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		var failure errorPayload
		_ = json.NewDecoder(io.LimitReader(resp.Body, maxErrorBody)).Decode(&failure)
		return domain.CartSnapshot{}, domain.CartFailure(name, resp.StatusCode, failure.reason())
	}
	if op.Kind == OpClear {
		return domain.EmptySnapshot(), nil
	}
	var payload cartPayload
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return domain.CartSnapshot{}, fmt.Errorf("commerce: decode cart: %w", err)
	}
	return payload.toSnapshot(), nil
}

// FetchBonusProduct loads the active upsell product.
func (c *Client) FetchBonusProduct(ctx context.Context) (domain.Product, error) {
	resp, err := c.send(ctx, http.MethodGet, "bonus_product.fetch", nil, "bonus-product")
	if err != nil {
		return domain.Product{}, err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 400 {
		return domain.Product{}, fmt.Errorf("%w: status %d", ErrBonusProductAbsent, resp.StatusCode)
	}
	var payload productPayload
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return domain.Product{}, fmt.Errorf("commerce: decode bonus product: %w", err)
	}
	return payload.toDomain(), nil
}

// Login authenticates the remote session.
func (c *Client) Login(ctx context.Context, username, password string) (Identity, error) {
	const op = "auth.login"
	body := map[string]string{"username": strings.TrimSpace(username), "password": password}
	resp, err := c.send(ctx, http.MethodPost, op, body, "auth", "login")
	if err != nil {
		return Identity{}, err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 400 {
		return Identity{}, domain.BackendRejected(op, resp.StatusCode, drainError(resp.Body))
	}
	var payload identityPayload
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return Identity{}, fmt.Errorf("commerce: decode identity: %w", err)
	}
	return Identity{ID: string(payload.ID), Username: payload.Username, Email: payload.Email}, nil
}

// Logout ends the remote session.
func (c *Client) Logout(ctx context.Context) error {
	const op = "auth.logout"
	resp, err := c.send(ctx, http.MethodPost, op, nil, "auth", "logout")
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 400 {
		return domain.BackendRejected(op, resp.StatusCode, drainError(resp.Body))
	}
	_, _ = io.Copy(io.Discard, resp.Body)
	return nil
}

// SubmitOrder records the paid order with the backend.
func (c *Client) SubmitOrder(ctx context.Context, order OrderSubmission) (OrderReceipt, error) {
	const op = "orders.create"
	c.ensureCSRF(ctx)

	key := strings.TrimSpace(order.IdempotencyKey)
	if key == "" {
		key = uuid.NewString()
	}
	resp, err := c.sendWithHeaders(ctx, http.MethodPost, op, order, http.Header{idempotencyHeader: {key}}, "orders")
	if err != nil {
		return OrderReceipt{}, err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 400 {
		return OrderReceipt{}, domain.BackendRejected(op, resp.StatusCode, drainError(resp.Body))
	}
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return OrderReceipt{}, domain.NetworkError(op, err)
	}
	payload, err := decodeOrderPayload(data)
	if err != nil {
		return OrderReceipt{}, fmt.Errorf("commerce: decode order: %w", err)
	}
	return OrderReceipt{
		OrderID:           string(payload.ID),
		Status:            strings.TrimSpace(payload.Status),
		FulfillmentStatus: payload.ShirtigoStatus,
	}, nil
}

// CSRFToken returns the token attached to mutating requests, preferring the session cookie.
func (c *Client) CSRFToken() string {
	if u, err := url.Parse(c.baseURL + "/"); err == nil && c.jar != nil {
		for _, cookie := range c.jar.Cookies(u) {
			if cookie.Name == csrfCookieName && cookie.Value != "" {
				if v, err := url.QueryUnescape(cookie.Value); err == nil {
					return v
				}
				return cookie.Value
			}
		}
	}
	return c.metaToken
}

// ensureCSRF provokes the csrftoken cookie with a session request. Concurrent callers share one request.
func (c *Client) ensureCSRF(ctx context.Context) {
	if c.CSRFToken() != "" {
		return
	}
	_, _, _ = c.csrfFlight.Do("csrf", func() (any, error) {
		resp, err := c.send(ctx, http.MethodGet, "auth.csrf_prime", nil, "auth", "me")
		if err != nil {
			c.logger.Warn("could not ensure csrf cookie", zap.Error(err))
			return nil, err
		}
		_, _ = io.Copy(io.Discard, resp.Body)
		resp.Body.Close()
		return nil, nil
	})
}

func (c *Client) send(ctx context.Context, method, op string, body any, segments ...string) (*http.Response, error) {
	return c.sendWithHeaders(ctx, method, op, body, nil, segments...)
}

func (c *Client) sendWithHeaders(ctx context.Context, method, op string, body any, extra http.Header, segments ...string) (*http.Response, error) {
	endpoint, err := url.JoinPath(c.baseURL, segments...)
	if err != nil {
		return nil, err
	}
	// Django routes require the trailing slash.
	endpoint += "/"

	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return nil, err
		}
		reader = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, endpoint, reader)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if method != http.MethodGet {
		if token := c.CSRFToken(); token != "" {
			req.Header.Set(csrfHeader, token)
		}
	}
	for name, values := range extra {
		for _, value := range values {
			req.Header.Add(name, value)
		}
	}

	resp, err := c.breaker.Execute(func() (*http.Response, error) {
		return c.http.Do(req)
	})
	if err != nil {
		c.logger.Debug("commerce request failed", zap.String("op", op), zap.Error(err))
		return nil, domain.NetworkError(op, err)
	}
	return resp, nil
}

func cartPath(kind domain.CartKind) string {
	if kind == domain.CartBonus {
		return "bonus-cart"
	}
	return "cart"
}

func drainError(body io.Reader) string {
	data, err := io.ReadAll(io.LimitReader(body, maxErrorBody))
	if err != nil {
		return ""
	}
	return strings.TrimSpace(string(data))
}
