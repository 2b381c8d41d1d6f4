package services

import (
	"context"
	"errors"
	"strconv"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/hanko-field/storefront/internal/commerce"
	"github.com/hanko-field/storefront/internal/domain"
	"github.com/hanko-field/storefront/internal/projection"
	"github.com/hanko-field/storefront/internal/storage"
)

var (
	errCartClientRequired = errors.New("cart sync: client is required")
	errProjectorRequired  = errors.New("cart sync: projector is required")
)

// CartState is the engine's authoritative pair of carts.
type CartState struct {
	Authenticated bool                `json:"authenticated"`
	Primary       domain.CartSnapshot `json:"primary"`
	Bonus         domain.CartSnapshot `json:"bonus"`
}

func (s CartState) clone() CartState {
	return CartState{Authenticated: s.Authenticated, Primary: s.Primary.Clone(), Bonus: s.Bonus.Clone()}
}

// CartSyncDeps wires the engine's collaborators. Bonus, Cache and Reporter are optional.
type CartSyncDeps struct {
	Client    CartClient
	Bonus     BonusCatalog
	Projector projection.Projector
	Reporter  *ErrorReporter
	Cache     storage.CartCache
	Scope     string
	Logger    *zap.Logger
	Clock     func() time.Time
}

// CartSyncEngine owns the in-memory primary and bonus carts of one session and keeps
// the projection in step with them.
//
// Mutations are not queued. The lock is never held across remote calls, so when two
// mutations overlap the response that arrives last overwrites the snapshot.
type CartSyncEngine struct {
	client    CartClient
	catalog   BonusCatalog
	projector projection.Projector
	reporter  *ErrorReporter
	cache     storage.CartCache
	scope     string
	logger    *zap.Logger
	now       func() time.Time

	mu         sync.Mutex
	state      CartState
	bonusLabel string
	listeners  []func(CartState)
}

// NewCartSyncEngine constructs an engine with empty carts.
func NewCartSyncEngine(deps CartSyncDeps) (*CartSyncEngine, error) {
	if deps.Client == nil {
		return nil, errCartClientRequired
	}
	if deps.Projector == nil {
		return nil, errProjectorRequired
	}
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	reporter := deps.Reporter
	if reporter == nil {
		r, err := NewErrorReporter(logger)
		if err != nil {
			return nil, err
		}
		reporter = r
	}
	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}
	return &CartSyncEngine{
		client:    deps.Client,
		catalog:   deps.Bonus,
		projector: deps.Projector,
		reporter:  reporter,
		cache:     deps.Cache,
		scope:     strings.TrimSpace(deps.Scope),
		logger:    logger,
		now:       func() time.Time { return clock().UTC() },
		state: CartState{
			Primary: domain.EmptySnapshot(),
			Bonus:   domain.EmptySnapshot(),
		},
	}, nil
}

// Initialize checks the session, loads both carts when authenticated and publishes the
// first display refresh once the projection is ready. Load failures degrade to empty carts.
func (e *CartSyncEngine) Initialize(ctx context.Context) error {
	authenticated := e.client.CheckSession(ctx)

	primary, bonus := domain.EmptySnapshot(), domain.EmptySnapshot()
	label := ""
	g, gctx := errgroup.WithContext(ctx)
	if authenticated {
		g.Go(func() error {
			primary = e.load(gctx, domain.CartPrimary)
			return nil
		})
		g.Go(func() error {
			bonus = e.load(gctx, domain.CartBonus)
			return nil
		})
	}
	if e.catalog != nil {
		g.Go(func() error {
			label = e.loadBonusLabel(gctx)
			return nil
		})
	}
	_ = g.Wait()

	e.mu.Lock()
	e.state = CartState{Authenticated: authenticated, Primary: primary, Bonus: bonus}
	e.bonusLabel = label
	state := e.state.clone()
	e.mu.Unlock()

	if authenticated {
		e.publish(ctx, state)
	}

	select {
	case <-e.projector.Ready():
	case <-ctx.Done():
		return ctx.Err()
	}
	e.DisplayRefresh()
	return nil
}

func (e *CartSyncEngine) load(ctx context.Context, kind domain.CartKind) domain.CartSnapshot {
	snap, err := e.client.FetchCart(ctx, kind)
	if err == nil {
		return snap
	}
	e.logger.Debug("cart load failed", zap.String("cart", string(kind)), zap.Error(err))
	if domain.KindOf(err) == domain.KindNetwork {
		if cached, ok := e.cached(ctx, kind); ok {
			return cached
		}
	}
	return domain.EmptySnapshot()
}

func (e *CartSyncEngine) cached(ctx context.Context, kind domain.CartKind) (domain.CartSnapshot, bool) {
	if e.cache == nil || e.scope == "" {
		return domain.CartSnapshot{}, false
	}
	entry, err := e.cache.Get(ctx, e.scope)
	if err != nil {
		if !errors.Is(err, storage.ErrCacheMiss) {
			e.logger.Debug("cart cache read failed", zap.Error(err))
		}
		return domain.CartSnapshot{}, false
	}
	if kind == domain.CartBonus {
		return entry.Bonus, true
	}
	return entry.Primary, true
}

func (e *CartSyncEngine) loadBonusLabel(ctx context.Context) string {
	product, err := e.catalog.FetchBonusProduct(ctx)
	if err != nil {
		e.logger.Debug("bonus product load failed", zap.Error(err))
		return ""
	}
	if product.Price.IsZero() {
		return "Add " + product.Name
	}
	return "Add " + product.Name + " for " + product.Price.Display()
}

// AddPrimary adds qty of the principal product.
func (e *CartSyncEngine) AddPrimary(ctx context.Context, qty int) error {
	return e.mutate(ctx, domain.CartPrimary, commerce.Add(qty))
}

// AddBonus adds qty of the bonus product.
func (e *CartSyncEngine) AddBonus(ctx context.Context, qty int) error {
	return e.mutate(ctx, domain.CartBonus, commerce.Add(qty))
}

// SetPrimaryQuantity sets the primary line quantity; zero removes it.
func (e *CartSyncEngine) SetPrimaryQuantity(ctx context.Context, qty int) error {
	return e.mutate(ctx, domain.CartPrimary, commerce.SetQuantity(qty))
}

// SetBonusQuantity sets the bonus line quantity; zero removes it.
func (e *CartSyncEngine) SetBonusQuantity(ctx context.Context, qty int) error {
	return e.mutate(ctx, domain.CartBonus, commerce.SetQuantity(qty))
}

// ClearPrimary empties the primary cart.
func (e *CartSyncEngine) ClearPrimary(ctx context.Context) error {
	return e.mutate(ctx, domain.CartPrimary, commerce.Clear())
}

// ClearBonus empties the bonus cart.
func (e *CartSyncEngine) ClearBonus(ctx context.Context) error {
	return e.mutate(ctx, domain.CartBonus, commerce.Clear())
}

// IncrementPrimary raises the first primary line by one.
func (e *CartSyncEngine) IncrementPrimary(ctx context.Context) error {
	return e.step(ctx, domain.CartPrimary, 1)
}

// DecrementPrimary lowers the first primary line by one, removing it from one.
func (e *CartSyncEngine) DecrementPrimary(ctx context.Context) error {
	return e.step(ctx, domain.CartPrimary, -1)
}

// IncrementBonus raises the first bonus line by one.
func (e *CartSyncEngine) IncrementBonus(ctx context.Context) error {
	return e.step(ctx, domain.CartBonus, 1)
}

// DecrementBonus lowers the first bonus line by one, removing it from one.
func (e *CartSyncEngine) DecrementBonus(ctx context.Context) error {
	return e.step(ctx, domain.CartBonus, -1)
}

// Apply runs op against the cart of the given kind.
func (e *CartSyncEngine) Apply(ctx context.Context, kind domain.CartKind, op commerce.Operation) error {
	return e.mutate(ctx, kind, op)
}

// Step is IncrementX/DecrementX addressed by kind.
func (e *CartSyncEngine) Step(ctx context.Context, kind domain.CartKind, delta int) error {
	return e.step(ctx, kind, delta)
}

func (e *CartSyncEngine) step(ctx context.Context, kind domain.CartKind, delta int) error {
	e.mu.Lock()
	first, ok := e.snapshotLocked(kind).First()
	e.mu.Unlock()
	if !ok {
		return nil
	}
	qty := first.Quantity + delta
	if qty < 0 {
		qty = 0
	}
	return e.mutate(ctx, kind, commerce.SetQuantity(qty))
}

func (e *CartSyncEngine) mutate(ctx context.Context, kind domain.CartKind, op commerce.Operation) error {
	snap, err := e.client.Mutate(ctx, kind, op)
	if err != nil {
		e.reporter.Report(ctx, "cart."+string(kind)+"."+op.Kind.String(), err)
		e.notify(projection.ToneError, e.reporter.CartFailure(kind, op.Kind, err))
		e.DisplayRefresh()
		return err
	}

	e.mu.Lock()
	if kind == domain.CartBonus {
		e.state.Bonus = snap.Clone()
	} else {
		e.state.Primary = snap.Clone()
	}
	e.state.Authenticated = true
	state := e.state.clone()
	e.mu.Unlock()

	e.publish(ctx, state)
	e.notify(projection.ToneSuccess, e.reporter.CartSuccess(kind, op.Kind))
	e.DisplayRefresh()
	return nil
}

func (e *CartSyncEngine) snapshotLocked(kind domain.CartKind) domain.CartSnapshot {
	if kind == domain.CartBonus {
		return e.state.Bonus
	}
	return e.state.Primary
}

func (e *CartSyncEngine) publish(ctx context.Context, state CartState) {
	e.mu.Lock()
	listeners := e.listeners
	e.mu.Unlock()
	for _, fn := range listeners {
		fn(state.clone())
	}

	if e.cache == nil || e.scope == "" {
		return
	}
	var err error
	if state.Primary.IsEmpty() && state.Bonus.IsEmpty() {
		err = e.cache.Delete(ctx, e.scope)
	} else {
		err = e.cache.Put(ctx, e.scope, storage.CachedCart{
			Primary:   state.Primary,
			Bonus:     state.Bonus,
			UpdatedAt: e.now(),
		})
	}
	if err != nil {
		e.logger.Warn("cart cache write failed", zap.String("scope", e.scope), zap.Error(err))
	}
}

func (e *CartSyncEngine) notify(tone projection.Tone, text string) {
	if text == "" {
		return
	}
	e.projector.Write(projection.RegionNotification, projection.View{Text: text, Visible: true, Tone: tone})
}

// DisplayRefresh writes every cart region from the current state. Calling it again
// without a state change writes identical views.
func (e *CartSyncEngine) DisplayRefresh() {
	e.mu.Lock()
	state := e.state.clone()
	label := e.bonusLabel
	e.mu.Unlock()

	threshold := domain.ShippingThresholdFor(state.Primary.ItemCount)
	e.projector.Write(projection.RegionShippingMessage, projection.Shown(threshold.Message))
	e.projector.Write(projection.RegionShippingProgress, projection.View{Visible: true, Percent: threshold.ProgressPercent})
	if !state.Authenticated {
		return
	}

	count := strconv.Itoa(state.Primary.ItemCount)
	e.projector.Write(projection.RegionCartCount, projection.Shown(count))
	if state.Primary.ItemCount > 0 {
		e.projector.Write(projection.RegionCartBadge, projection.Shown(count))
	} else {
		e.projector.Write(projection.RegionCartBadge, projection.Hidden())
	}
	e.projector.Write(projection.RegionCartSubtotal, projection.Shown(domain.CombinedTotal(state.Primary, state.Bonus).Display()))
	e.projector.Write(projection.RegionCartLines, linesView(state.Primary))

	if state.Bonus.IsEmpty() {
		e.projector.Write(projection.RegionBonusUpsell, projection.View{Visible: true, Text: label})
		e.projector.Write(projection.RegionBonusLine, projection.Hidden())
	} else {
		e.projector.Write(projection.RegionBonusUpsell, projection.Hidden())
		e.projector.Write(projection.RegionBonusLine, linesView(state.Bonus))
	}
}

func linesView(snap domain.CartSnapshot) projection.View {
	if snap.IsEmpty() {
		return projection.Hidden()
	}
	lines := make([]projection.Line, 0, len(snap.Items))
	for _, item := range snap.Items {
		lines = append(lines, projection.Line{
			ProductRef: item.ProductRef,
			Name:       item.ProductName,
			Image:      item.Image,
			Quantity:   item.Quantity,
			UnitPrice:  item.UnitPrice.String(),
			TotalPrice: item.TotalPrice.String(),
		})
	}
	return projection.View{Visible: true, Lines: lines}
}

// State returns a copy of both carts.
func (e *CartSyncEngine) State() CartState {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state.clone()
}

// PrimaryCart returns a copy of the primary snapshot.
func (e *CartSyncEngine) PrimaryCart(context.Context) domain.CartSnapshot {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state.Primary.Clone()
}

// ClearAll clears both carts and drops the cached copy.
func (e *CartSyncEngine) ClearAll(ctx context.Context) error {
	errPrimary := e.ClearPrimary(ctx)
	errBonus := e.ClearBonus(ctx)
	if e.cache != nil && e.scope != "" {
		if err := e.cache.Delete(ctx, e.scope); err != nil {
			e.logger.Warn("cart cache delete failed", zap.String("scope", e.scope), zap.Error(err))
		}
	}
	return errors.Join(errPrimary, errBonus)
}

// Subscribe registers fn to receive the state after every applied snapshot.
func (e *CartSyncEngine) Subscribe(fn func(CartState)) {
	if fn == nil {
		return
	}
	e.mu.Lock()
	e.listeners = append(append([]func(CartState){}, e.listeners...), fn)
	e.mu.Unlock()
}
