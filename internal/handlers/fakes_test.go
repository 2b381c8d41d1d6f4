package handlers

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/hanko-field/storefront/internal/commerce"
	"github.com/hanko-field/storefront/internal/domain"
	"github.com/hanko-field/storefront/internal/payments"
	"github.com/hanko-field/storefront/internal/projection"
	"github.com/hanko-field/storefront/internal/services"
	"github.com/hanko-field/storefront/internal/storage"
)

var testHashKey = []byte("0123456789abcdef0123456789abcdef")

var fixedNow = time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)

// stubCommerce stands in for one session's commerce API: single-SKU carts plus auth and orders.
type stubCommerce struct {
	mu            sync.Mutex
	authenticated bool
	quantities    map[domain.CartKind]int
	mutateErr     error
	submitErr     error
	submissions   []commerce.OrderSubmission
}

func newStubCommerce(authenticated bool, primary, bonus int) *stubCommerce {
	return &stubCommerce{
		authenticated: authenticated,
		quantities:    map[domain.CartKind]int{domain.CartPrimary: primary, domain.CartBonus: bonus},
	}
}

func stubSnapshot(kind domain.CartKind, qty int) domain.CartSnapshot {
	if qty <= 0 {
		return domain.EmptySnapshot()
	}
	item := domain.CartItem{ProductRef: "1", ProductName: "Logo Tee", Quantity: qty, UnitPrice: domain.MustParseMoney("10.00")}
	if kind == domain.CartBonus {
		item = domain.CartItem{ProductRef: "9", ProductName: "Digital Guide", Quantity: qty, UnitPrice: domain.MustParseMoney("4.99")}
	}
	return domain.NormalizeSnapshot([]domain.CartItem{item})
}

func (s *stubCommerce) CheckSession(context.Context) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.authenticated
}

func (s *stubCommerce) FetchCart(_ context.Context, kind domain.CartKind) (domain.CartSnapshot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.authenticated {
		return domain.CartSnapshot{}, commerce.ErrCartAbsent
	}
	return stubSnapshot(kind, s.quantities[kind]), nil
}

func (s *stubCommerce) Mutate(_ context.Context, kind domain.CartKind, op commerce.Operation) (domain.CartSnapshot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.mutateErr != nil {
		return domain.CartSnapshot{}, s.mutateErr
	}
	qty := s.quantities[kind]
	switch op.Kind {
	case commerce.OpAdd:
		qty += op.Quantity
	case commerce.OpSetQuantity:
		qty = op.Quantity
	case commerce.OpClear:
		qty = 0
	}
	s.quantities[kind] = qty
	return stubSnapshot(kind, qty), nil
}

func (s *stubCommerce) SubmitOrder(_ context.Context, order commerce.OrderSubmission) (commerce.OrderReceipt, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.submitErr != nil {
		return commerce.OrderReceipt{}, s.submitErr
	}
	s.submissions = append(s.submissions, order)
	return commerce.OrderReceipt{OrderID: "42", Status: "pending", FulfillmentStatus: http.StatusCreated}, nil
}

func (s *stubCommerce) Login(_ context.Context, username, password string) (commerce.Identity, error) {
	if password != "secret" {
		return commerce.Identity{}, domain.BackendRejected("auth.login", http.StatusBadRequest, "invalid credentials")
	}
	s.mu.Lock()
	s.authenticated = true
	s.mu.Unlock()
	return commerce.Identity{ID: "7", Username: username}, nil
}

func (s *stubCommerce) Logout(context.Context) error {
	s.mu.Lock()
	s.authenticated = false
	s.mu.Unlock()
	return nil
}

type testServer struct {
	router   http.Handler
	registry *SessionRegistry
	orders   *storage.MemoryOrderLog

	mu       sync.Mutex
	commerce map[string]*stubCommerce
	seed     func() *stubCommerce
}

func newTestServer(t *testing.T, seed func() *stubCommerce, checkoutOpts ...CheckoutOption) *testServer {
	t.Helper()
	ts := &testServer{
		orders:   storage.NewMemoryOrderLog(),
		commerce: make(map[string]*stubCommerce),
		seed:     seed,
	}

	factory := func(ctx context.Context, id string) (*Session, error) {
		client := ts.seed()
		ts.mu.Lock()
		ts.commerce[id] = client
		ts.mu.Unlock()

		board := projection.NewReadyBoard()
		engine, err := services.NewCartSyncEngine(services.CartSyncDeps{Client: client, Projector: board, Scope: id})
		if err != nil {
			return nil, err
		}
		if err := engine.Initialize(ctx); err != nil {
			return nil, err
		}
		gateway, err := payments.NewGateway(payments.NewSimulatedActions(func() time.Time { return fixedNow }))
		if err != nil {
			return nil, err
		}
		orch, err := services.NewCheckoutOrchestrator(services.CheckoutDeps{
			Carts:     engine,
			Gateway:   gateway,
			Backend:   client,
			Orders:    ts.orders,
			Projector: board,
			Scope:     id,
			Clock:     func() time.Time { return fixedNow },
		})
		if err != nil {
			return nil, err
		}
		engine.Subscribe(orch.OnCartChange)
		return &Session{Auth: client, Carts: engine, Checkout: orch, Board: board}, nil
	}

	registry, err := NewSessionRegistry(factory, SessionOptions{HashKey: testHashKey, IdleTTL: time.Hour})
	if err != nil {
		t.Fatalf("new registry: %v", err)
	}
	ts.registry = registry
	ts.router = NewRouter(
		WithSessions(registry),
		WithCartRoutes(NewCartHandlers().Routes),
		WithAuthRoutes(NewAuthHandlers().Routes),
		WithCheckoutRoutes(NewCheckoutHandlers(checkoutOpts...).Routes),
		WithOrderRoutes(NewOrderHandlers(ts.orders).Routes),
	)
	return ts
}

// do sends a request carrying cookie (when non-nil) and returns the recorder.
func (ts *testServer) do(method, path, body string, cookie *http.Cookie) *httptest.ResponseRecorder {
	return ts.doWithHeaders(method, path, body, cookie, nil)
}

func (ts *testServer) doWithHeaders(method, path, body string, cookie *http.Cookie, headers http.Header) *httptest.ResponseRecorder {
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, path, nil)
	} else {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	}
	for name, values := range headers {
		for _, value := range values {
			req.Header.Add(name, value)
		}
	}
	if cookie != nil {
		req.AddCookie(cookie)
	}
	rr := httptest.NewRecorder()
	ts.router.ServeHTTP(rr, req)
	return rr
}

// submissions counts the orders every session sent to the commerce backend.
func (ts *testServer) submissions() int {
	ts.mu.Lock()
	defer ts.mu.Unlock()
	total := 0
	for _, client := range ts.commerce {
		client.mu.Lock()
		total += len(client.submissions)
		client.mu.Unlock()
	}
	return total
}

func sessionCookie(t *testing.T, rr *httptest.ResponseRecorder) *http.Cookie {
	t.Helper()
	for _, c := range rr.Result().Cookies() {
		if c.Name == "storefront_session" {
			return c
		}
	}
	t.Fatal("expected session cookie")
	return nil
}
