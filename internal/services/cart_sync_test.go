package services

import (
	"bytes"
	"context"
	"errors"
	"net/http"
	"testing"
	"time"

	"github.com/hanko-field/storefront/internal/commerce"
	"github.com/hanko-field/storefront/internal/domain"
	"github.com/hanko-field/storefront/internal/projection"
	"github.com/hanko-field/storefront/internal/storage"
)

func newEngine(t *testing.T, client *fakeCartClient, board *projection.Board, cache storage.CartCache) *CartSyncEngine {
	t.Helper()
	engine, err := NewCartSyncEngine(CartSyncDeps{
		Client:    client,
		Bonus:     stubBonusCatalog{},
		Projector: board,
		Cache:     cache,
		Scope:     "sess-1",
		Clock:     func() time.Time { return fixedNow },
	})
	if err != nil {
		t.Fatalf("new engine: %v", err)
	}
	return engine
}

func TestNewCartSyncEngineRequiresDependencies(t *testing.T) {
	if _, err := NewCartSyncEngine(CartSyncDeps{Projector: projection.NewBoard()}); !errors.Is(err, errCartClientRequired) {
		t.Fatalf("expected client error, got %v", err)
	}
	if _, err := NewCartSyncEngine(CartSyncDeps{Client: newFakeCartClient(0, 0)}); !errors.Is(err, errProjectorRequired) {
		t.Fatalf("expected projector error, got %v", err)
	}
}

func TestInitializeWaitsForReadySignal(t *testing.T) {
	board := projection.NewBoard()
	engine := newEngine(t, newFakeCartClient(1, 0), board, nil)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := engine.Initialize(ctx); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context cancellation, got %v", err)
	}
	if board.Version() != 0 {
		t.Fatalf("expected no writes before ready, got version %d", board.Version())
	}
}

func TestInitializeAuthenticatedLoadsBothCarts(t *testing.T) {
	board := projection.NewBoard()
	engine := newEngine(t, newFakeCartClient(1, 1), board, nil)

	done := make(chan error, 1)
	go func() { done <- engine.Initialize(context.Background()) }()
	board.MarkReady()
	if err := <-done; err != nil {
		t.Fatalf("initialize: %v", err)
	}

	state := engine.State()
	if !state.Authenticated || state.Primary.ItemCount != 1 || state.Bonus.ItemCount != 1 {
		t.Fatalf("unexpected state %+v", state)
	}
	snap := board.Snapshot()
	if got := snap.View(projection.RegionCartSubtotal).Text; got != "$14.99" {
		t.Fatalf("expected combined subtotal $14.99, got %q", got)
	}
	if got := snap.View(projection.RegionShippingProgress).Percent; got != 50 {
		t.Fatalf("expected 50%% progress, got %d", got)
	}
	if !snap.View(projection.RegionBonusLine).Visible || snap.View(projection.RegionBonusUpsell).Visible {
		t.Fatal("expected bonus line instead of upsell")
	}
}

func TestInitializeAnonymousPublishesShippingDefaultsOnly(t *testing.T) {
	client := newFakeCartClient(3, 0)
	client.authenticated = false
	board := projection.NewReadyBoard()
	engine := newEngine(t, client, board, nil)

	if err := engine.Initialize(context.Background()); err != nil {
		t.Fatalf("initialize: %v", err)
	}
	snap := board.Snapshot()
	if got := snap.View(projection.RegionShippingMessage).Text; got != domain.ShippingThresholdFor(0).Message {
		t.Fatalf("unexpected shipping message %q", got)
	}
	if _, ok := snap.Regions[projection.RegionCartCount]; ok {
		t.Fatal("cart count must not be written for anonymous sessions")
	}
	if _, ok := snap.Regions[projection.RegionCartLines]; ok {
		t.Fatal("cart lines must not be written for anonymous sessions")
	}
}

func TestInitializeFallsBackToCacheOnNetworkFailure(t *testing.T) {
	cache := storage.NewMemoryCartCache(time.Hour)
	if err := cache.Put(context.Background(), "sess-1", storage.CachedCart{Primary: cartWith(domain.CartPrimary, 2), Bonus: domain.EmptySnapshot()}); err != nil {
		t.Fatalf("seed cache: %v", err)
	}
	client := newFakeCartClient(0, 0)
	client.fetchErr = domain.NetworkError("commerce.fetch_cart", errors.New("connection refused"))
	engine := newEngine(t, client, projection.NewReadyBoard(), cache)

	if err := engine.Initialize(context.Background()); err != nil {
		t.Fatalf("initialize: %v", err)
	}
	if got := engine.State().Primary.ItemCount; got != 2 {
		t.Fatalf("expected cached primary cart, got %d items", got)
	}
}

func TestSetPrimaryQuantityZeroRemovesItem(t *testing.T) {
	sequences := [][]int{{1}, {3}, {1, 4}, {2, 0, 5}}
	for _, seq := range sequences {
		client := newFakeCartClient(0, 0)
		engine := newEngine(t, client, projection.NewReadyBoard(), nil)
		ctx := context.Background()
		if err := engine.Initialize(ctx); err != nil {
			t.Fatalf("initialize: %v", err)
		}
		for _, qty := range seq {
			if err := engine.AddPrimary(ctx, qty); err != nil {
				t.Fatalf("add: %v", err)
			}
		}
		before := engine.State().Primary.ItemCount
		if err := engine.SetPrimaryQuantity(ctx, 0); err != nil {
			t.Fatalf("set quantity: %v", err)
		}
		after := engine.State().Primary
		if !after.IsEmpty() || after.ItemCount != 0 {
			t.Fatalf("sequence %v: expected empty primary cart, got %+v (was %d)", seq, after, before)
		}
	}
}

func TestMutationFailureKeepsSnapshotAndNotifies(t *testing.T) {
	cases := []struct {
		name    string
		kind    domain.CartKind
		op      func(*CartSyncEngine, context.Context) error
		err     error
		message string
	}{
		{
			name:    "reason from server",
			kind:    domain.CartPrimary,
			op:      func(e *CartSyncEngine, ctx context.Context) error { return e.AddPrimary(ctx, 1) },
			err:     domain.CartFailure("commerce.cart.add_to_cart", http.StatusBadRequest, "Out of stock"),
			message: "Error: Out of stock",
		},
		{
			name:    "default bonus reason",
			kind:    domain.CartBonus,
			op:      func(e *CartSyncEngine, ctx context.Context) error { return e.AddBonus(ctx, 1) },
			err:     domain.CartFailure("commerce.bonus-cart.add_to_cart", http.StatusBadRequest, ""),
			message: "Error: Failed to add bonus to cart",
		},
		{
			name:    "default update reason",
			kind:    domain.CartPrimary,
			op:      func(e *CartSyncEngine, ctx context.Context) error { return e.SetPrimaryQuantity(ctx, 3) },
			err:     domain.CartFailure("commerce.cart.update_quantity", http.StatusNotFound, ""),
			message: "Error: Failed to update cart",
		},
		{
			name:    "network",
			kind:    domain.CartPrimary,
			op:      func(e *CartSyncEngine, ctx context.Context) error { return e.ClearPrimary(ctx) },
			err:     domain.NetworkError("commerce.cart.clear_cart", errors.New("connection reset")),
			message: "Network error. Please try again.",
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			client := newFakeCartClient(2, 1)
			board := projection.NewReadyBoard()
			engine := newEngine(t, client, board, nil)
			ctx := context.Background()
			if err := engine.Initialize(ctx); err != nil {
				t.Fatalf("initialize: %v", err)
			}
			before := engine.State()
			client.mutateFunc = func(context.Context, domain.CartKind, commerce.Operation) (domain.CartSnapshot, error) {
				return domain.CartSnapshot{}, tc.err
			}

			if err := tc.op(engine, ctx); !errors.Is(err, tc.err) {
				t.Fatalf("expected %v, got %v", tc.err, err)
			}
			after := engine.State()
			if after.Primary.ItemCount != before.Primary.ItemCount || after.Bonus.ItemCount != before.Bonus.ItemCount {
				t.Fatalf("snapshot changed on failure: %+v -> %+v", before, after)
			}
			note := board.Snapshot().View(projection.RegionNotification)
			if note.Text != tc.message || note.Tone != projection.ToneError {
				t.Fatalf("unexpected notification %+v", note)
			}
		})
	}
}

func TestMutationSuccessNotifications(t *testing.T) {
	client := newFakeCartClient(0, 0)
	board := projection.NewReadyBoard()
	engine := newEngine(t, client, board, nil)
	ctx := context.Background()
	_ = engine.Initialize(ctx)

	steps := []struct {
		run  func() error
		want string
	}{
		{func() error { return engine.AddPrimary(ctx, 1) }, "Product added to cart successfully!"},
		{func() error { return engine.AddBonus(ctx, 1) }, "Bonus product added to cart successfully!"},
		{func() error { return engine.SetPrimaryQuantity(ctx, 2) }, "Cart updated successfully!"},
		{func() error { return engine.SetBonusQuantity(ctx, 2) }, "Bonus cart updated successfully!"},
		{func() error { return engine.ClearPrimary(ctx) }, "Cart cleared successfully!"},
		{func() error { return engine.ClearBonus(ctx) }, "Bonus cart cleared successfully!"},
	}
	for _, step := range steps {
		if err := step.run(); err != nil {
			t.Fatalf("step %q: %v", step.want, err)
		}
		note := board.Snapshot().View(projection.RegionNotification)
		if note.Text != step.want || note.Tone != projection.ToneSuccess {
			t.Fatalf("expected %q, got %+v", step.want, note)
		}
	}
}

func TestBonusUpsellIsComplementOfBonusCart(t *testing.T) {
	client := newFakeCartClient(1, 0)
	board := projection.NewReadyBoard()
	engine := newEngine(t, client, board, nil)
	ctx := context.Background()
	_ = engine.Initialize(ctx)

	check := func(wantLine bool) {
		t.Helper()
		snap := board.Snapshot()
		upsell := snap.View(projection.RegionBonusUpsell)
		line := snap.View(projection.RegionBonusLine)
		if upsell.Visible == wantLine || line.Visible != wantLine {
			t.Fatalf("upsell visible=%v line visible=%v, want line=%v", upsell.Visible, line.Visible, wantLine)
		}
	}

	check(false)
	if got := board.Snapshot().View(projection.RegionBonusUpsell).Text; got != "Add Digital Guide for $4.99" {
		t.Fatalf("unexpected upsell label %q", got)
	}
	_ = engine.AddBonus(ctx, 1)
	check(true)
	_ = engine.SetBonusQuantity(ctx, 0)
	check(false)
}

func TestDisplayRefreshIsIdempotent(t *testing.T) {
	board := projection.NewReadyBoard()
	engine := newEngine(t, newFakeCartClient(2, 1), board, nil)
	_ = engine.Initialize(context.Background())

	render := func() string {
		var buf bytes.Buffer
		if err := projection.RenderMiniCart(&buf, board.Snapshot()); err != nil {
			t.Fatalf("render: %v", err)
		}
		return buf.String()
	}

	engine.DisplayRefresh()
	first := board.Snapshot()
	firstHTML := render()
	engine.DisplayRefresh()
	second := board.Snapshot()

	if first.Version != second.Version {
		t.Fatalf("redundant refresh changed version %d -> %d", first.Version, second.Version)
	}
	if render() != firstHTML {
		t.Fatal("redundant refresh changed rendered fragment")
	}
	if got := len(second.View(projection.RegionCartLines).Lines); got != 1 {
		t.Fatalf("expected one cart line, got %d", got)
	}
}

func TestOverlappingMutationsLastResponseWins(t *testing.T) {
	client := newFakeCartClient(1, 0)
	engine := newEngine(t, client, projection.NewReadyBoard(), nil)
	ctx := context.Background()
	_ = engine.Initialize(ctx)

	entered := make(chan struct{})
	release := make(chan struct{})
	client.mutateFunc = func(_ context.Context, kind domain.CartKind, op commerce.Operation) (domain.CartSnapshot, error) {
		if op.Quantity == 5 {
			close(entered)
			<-release
		}
		return cartWith(kind, op.Quantity), nil
	}

	done := make(chan error, 1)
	go func() { done <- engine.SetPrimaryQuantity(ctx, 5) }()
	<-entered

	if err := engine.SetPrimaryQuantity(ctx, 2); err != nil {
		t.Fatalf("second mutation: %v", err)
	}
	if got := engine.State().Primary.ItemCount; got != 2 {
		t.Fatalf("expected second response applied, got %d", got)
	}

	close(release)
	if err := <-done; err != nil {
		t.Fatalf("first mutation: %v", err)
	}
	if got := engine.State().Primary.ItemCount; got != 5 {
		t.Fatalf("expected the later-arriving response to win, got %d", got)
	}
}

func TestIncrementDecrementOperateOnFirstItem(t *testing.T) {
	client := newFakeCartClient(1, 0)
	engine := newEngine(t, client, projection.NewReadyBoard(), nil)
	ctx := context.Background()
	_ = engine.Initialize(ctx)

	_ = engine.IncrementPrimary(ctx)
	_ = engine.DecrementPrimary(ctx)
	_ = engine.DecrementPrimary(ctx)
	_ = engine.DecrementPrimary(ctx)
	_ = engine.IncrementBonus(ctx)

	ops := client.operations()
	want := []commerce.Operation{commerce.SetQuantity(2), commerce.SetQuantity(1), commerce.SetQuantity(0)}
	if len(ops) != len(want) {
		t.Fatalf("expected %d calls, got %v", len(want), ops)
	}
	for i := range want {
		if ops[i] != want[i] {
			t.Fatalf("call %d: expected %+v, got %+v", i, want[i], ops[i])
		}
	}
	if !engine.State().Primary.IsEmpty() {
		t.Fatal("expected primary cart to be empty")
	}
}

func TestCartCacheTracksState(t *testing.T) {
	cache := storage.NewMemoryCartCache(time.Hour)
	engine := newEngine(t, newFakeCartClient(0, 0), projection.NewReadyBoard(), cache)
	ctx := context.Background()
	_ = engine.Initialize(ctx)

	var seen []CartState
	engine.Subscribe(func(s CartState) { seen = append(seen, s) })

	if err := engine.AddPrimary(ctx, 2); err != nil {
		t.Fatalf("add: %v", err)
	}
	cached, err := cache.Get(ctx, "sess-1")
	if err != nil {
		t.Fatalf("cache get: %v", err)
	}
	if cached.Primary.ItemCount != 2 || !cached.UpdatedAt.Equal(fixedNow) {
		t.Fatalf("unexpected cached cart %+v", cached)
	}

	if err := engine.ClearAll(ctx); err != nil {
		t.Fatalf("clear all: %v", err)
	}
	if _, err := cache.Get(ctx, "sess-1"); !errors.Is(err, storage.ErrCacheMiss) {
		t.Fatalf("expected cache miss after clear, got %v", err)
	}
	if len(seen) != 3 || seen[0].Primary.ItemCount != 2 || !seen[2].Primary.IsEmpty() {
		t.Fatalf("unexpected notifications %+v", seen)
	}
}
