package services

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/hanko-field/storefront/internal/commerce"
	"github.com/hanko-field/storefront/internal/domain"
	"github.com/hanko-field/storefront/internal/payments"
	"github.com/hanko-field/storefront/internal/projection"
	"github.com/hanko-field/storefront/internal/storage"
)

type catalogEntry struct {
	ref   string
	name  string
	price string
}

var testCatalog = map[domain.CartKind]catalogEntry{
	domain.CartPrimary: {ref: "1", name: "Logo Tee", price: "10.00"},
	domain.CartBonus:   {ref: "9", name: "Digital Guide", price: "4.99"},
}

func cartWith(kind domain.CartKind, qty int) domain.CartSnapshot {
	if qty <= 0 {
		return domain.EmptySnapshot()
	}
	entry := testCatalog[kind]
	return domain.NormalizeSnapshot([]domain.CartItem{{
		ProductRef:  entry.ref,
		ProductName: entry.name,
		Quantity:    qty,
		UnitPrice:   domain.MustParseMoney(entry.price),
	}})
}

// fakeCartClient behaves like the commerce API for a single-SKU cart per kind.
type fakeCartClient struct {
	mu            sync.Mutex
	authenticated bool
	quantities    map[domain.CartKind]int
	fetchErr      error
	mutateFunc    func(ctx context.Context, kind domain.CartKind, op commerce.Operation) (domain.CartSnapshot, error)
	calls         []commerce.Operation
}

func newFakeCartClient(primary, bonus int) *fakeCartClient {
	return &fakeCartClient{
		authenticated: true,
		quantities:    map[domain.CartKind]int{domain.CartPrimary: primary, domain.CartBonus: bonus},
	}
}

func (f *fakeCartClient) CheckSession(context.Context) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.authenticated
}

func (f *fakeCartClient) FetchCart(_ context.Context, kind domain.CartKind) (domain.CartSnapshot, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.fetchErr != nil {
		return domain.CartSnapshot{}, f.fetchErr
	}
	if !f.authenticated {
		return domain.CartSnapshot{}, commerce.ErrCartAbsent
	}
	return cartWith(kind, f.quantities[kind]), nil
}

func (f *fakeCartClient) Mutate(ctx context.Context, kind domain.CartKind, op commerce.Operation) (domain.CartSnapshot, error) {
	f.mu.Lock()
	f.calls = append(f.calls, op)
	fn := f.mutateFunc
	f.mu.Unlock()
	if fn != nil {
		return fn(ctx, kind, op)
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	qty := f.quantities[kind]
	switch op.Kind {
	case commerce.OpAdd:
		qty += op.Quantity
	case commerce.OpSetQuantity:
		qty = op.Quantity
	case commerce.OpClear:
		qty = 0
	}
	f.quantities[kind] = qty
	if op.Kind == commerce.OpClear {
		return domain.EmptySnapshot(), nil
	}
	return cartWith(kind, qty), nil
}

func (f *fakeCartClient) operations() []commerce.Operation {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]commerce.Operation(nil), f.calls...)
}

type stubBonusCatalog struct{}

func (stubBonusCatalog) FetchBonusProduct(context.Context) (domain.Product, error) {
	return domain.Product{ID: "9", Name: "Digital Guide", Price: domain.MustParseMoney("4.99")}, nil
}

// gate parks a fake call until the test releases it.
type gate struct {
	entered chan struct{}
	release chan struct{}
}

func newGate() *gate {
	return &gate{entered: make(chan struct{}), release: make(chan struct{})}
}

func (g *gate) pass() {
	if g == nil {
		return
	}
	g.entered <- struct{}{}
	<-g.release
}

func (g *gate) wait(t *testing.T) {
	t.Helper()
	select {
	case <-g.entered:
	case <-time.After(5 * time.Second):
		t.Fatal("call never reached the gate")
	}
}

// gatedActions wraps processor actions so create or capture can be held mid-flight.
type gatedActions struct {
	next    payments.Actions
	create  *gate
	capture *gate
}

func (g *gatedActions) CreateOrder(ctx context.Context, req payments.OrderRequest) (any, error) {
	g.create.pass()
	return g.next.CreateOrder(ctx, req)
}

func (g *gatedActions) CaptureOrder(ctx context.Context, orderID string) ([]byte, error) {
	g.capture.pass()
	return g.next.CaptureOrder(ctx, orderID)
}

type stubOrderBackend struct {
	mu      sync.Mutex
	receipt commerce.OrderReceipt
	err     error
	calls   int
	last    commerce.OrderSubmission
	gate    *gate
}

func (s *stubOrderBackend) SubmitOrder(_ context.Context, order commerce.OrderSubmission) (commerce.OrderReceipt, error) {
	s.mu.Lock()
	s.calls++
	s.last = order
	g := s.gate
	s.mu.Unlock()
	g.pass()

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return commerce.OrderReceipt{}, s.err
	}
	return s.receipt, nil
}

type failingOrderLog struct{}

func (failingOrderLog) Append(context.Context, string, domain.PersistedOrder) error {
	return errors.New("disk full")
}

func (failingOrderLog) List(context.Context, string) ([]domain.PersistedOrder, error) {
	return nil, nil
}

var fixedNow = time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)

type checkoutFixture struct {
	client  *fakeCartClient
	board   *projection.Board
	engine  *CartSyncEngine
	backend *stubOrderBackend
	actions *gatedActions
	orders  storage.OrderLog
	orch    *CheckoutOrchestrator
}

func newCheckoutFixture(t *testing.T, primary, bonus int, orders storage.OrderLog) *checkoutFixture {
	t.Helper()
	f, err := buildCheckoutFixture(primary, bonus, orders)
	if err != nil {
		t.Fatalf("checkout fixture: %v", err)
	}
	return f
}

func buildCheckoutFixture(primary, bonus int, orders storage.OrderLog) (*checkoutFixture, error) {
	ctx := context.Background()
	if orders == nil {
		orders = storage.NewMemoryOrderLog()
	}
	client := newFakeCartClient(primary, bonus)
	board := projection.NewReadyBoard()

	engine, err := NewCartSyncEngine(CartSyncDeps{Client: client, Projector: board, Scope: "sess-1"})
	if err != nil {
		return nil, fmt.Errorf("new engine: %w", err)
	}
	if err := engine.Initialize(ctx); err != nil {
		return nil, fmt.Errorf("initialize: %w", err)
	}

	actions := &gatedActions{next: payments.NewSimulatedActions(func() time.Time { return fixedNow })}
	gateway, err := payments.NewGateway(actions)
	if err != nil {
		return nil, fmt.Errorf("new gateway: %w", err)
	}
	backend := &stubOrderBackend{receipt: commerce.OrderReceipt{OrderID: "42", Status: "pending", FulfillmentStatus: 201}}

	orch, err := NewCheckoutOrchestrator(CheckoutDeps{
		Carts:     engine,
		Gateway:   gateway,
		Backend:   backend,
		Orders:    orders,
		Projector: board,
		Scope:     "sess-1",
		Clock:     func() time.Time { return fixedNow },
	})
	if err != nil {
		return nil, fmt.Errorf("new orchestrator: %w", err)
	}
	engine.Subscribe(orch.OnCartChange)

	return &checkoutFixture{client: client, board: board, engine: engine, backend: backend, actions: actions, orders: orders, orch: orch}, nil
}

func (f *checkoutFixture) persisted(t *testing.T) []domain.PersistedOrder {
	t.Helper()
	orders, err := f.orders.List(context.Background(), "sess-1")
	if err != nil {
		t.Fatalf("list orders: %v", err)
	}
	return orders
}
