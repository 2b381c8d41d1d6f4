package services

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/hanko-field/storefront/internal/commerce"
	"github.com/hanko-field/storefront/internal/domain"
	"github.com/hanko-field/storefront/internal/payments"
	"github.com/hanko-field/storefront/internal/projection"
	"github.com/hanko-field/storefront/internal/storage"
)

const instrumentationName = "github.com/hanko-field/storefront/internal/services"

// CheckoutState is a state of the checkout machine.
type CheckoutState string

const (
	StateIdle              CheckoutState = "idle"
	StateAwaitingCreate    CheckoutState = "awaiting_create"
	StateAwaitingCapture   CheckoutState = "awaiting_capture"
	StateSubmittingBackend CheckoutState = "submitting_backend"
	StatePersisted         CheckoutState = "persisted"
	StateFailed            CheckoutState = "failed"
	StateCancelled         CheckoutState = "cancelled"
)

// InFlight reports whether a checkout attempt is running.
func (s CheckoutState) InFlight() bool {
	switch s {
	case StateAwaitingCreate, StateAwaitingCapture, StateSubmittingBackend:
		return true
	default:
		return false
	}
}

// Terminal reports whether s ends an attempt.
func (s CheckoutState) Terminal() bool {
	switch s {
	case StatePersisted, StateFailed, StateCancelled:
		return true
	default:
		return false
	}
}

var (
	// ErrCheckoutInProgress is returned when a checkout is started while another runs.
	ErrCheckoutInProgress = errors.New("checkout: already in progress")
	// ErrCheckoutCompleted is returned when starting over a persisted checkout with an empty cart.
	ErrCheckoutCompleted = errors.New("checkout: already completed")
	// ErrNoPendingCapture is returned when approval arrives without a created order.
	ErrNoPendingCapture = errors.New("checkout: no order awaiting capture")
	// ErrAttemptEnded is returned by a step whose attempt was cancelled, failed or replaced meanwhile.
	ErrAttemptEnded = errors.New("checkout: attempt ended before the step finished")

	errCartSourceRequired = errors.New("checkout: cart source is required")
	errGatewayRequired    = errors.New("checkout: payment gateway is required")
	errBackendRequired    = errors.New("checkout: order backend is required")
	errOrderLogRequired   = errors.New("checkout: order log is required")
)

// Transition records one state change.
type Transition struct {
	From   CheckoutState `json:"from"`
	To     CheckoutState `json:"to"`
	Reason string        `json:"reason,omitempty"`
	At     time.Time     `json:"at"`
}

// CheckoutStatus is the externally visible state of the machine.
type CheckoutStatus struct {
	State          CheckoutState          `json:"state"`
	OrderID        string                 `json:"orderId,omitempty"`
	Reason         string                 `json:"reason,omitempty"`
	Message        string                 `json:"message,omitempty"`
	PaymentEnabled bool                   `json:"paymentEnabled"`
	Order          *domain.PersistedOrder `json:"order,omitempty"`
}

// CheckoutDeps wires the orchestrator.
type CheckoutDeps struct {
	Carts       CartSource
	Gateway     PaymentGateway
	Backend     OrderBackend
	Orders      storage.OrderLog
	Projector   projection.Projector
	Reporter    *ErrorReporter
	Scope       string
	Logger      *zap.Logger
	Clock       func() time.Time
	IDGenerator func() string
	Tracer      trace.Tracer
	Meter       metric.Meter
}

// CheckoutOrchestrator drives one session's payment attempts from order creation to the
// persisted local order. Only one attempt runs at a time.
type CheckoutOrchestrator struct {
	carts     CartSource
	gateway   PaymentGateway
	backend   OrderBackend
	orders    storage.OrderLog
	projector projection.Projector
	reporter  *ErrorReporter
	scope     string
	logger    *zap.Logger
	now       func() time.Time
	newID     func() string
	tracer    trace.Tracer
	outcomes  metric.Int64Counter

	mu             sync.Mutex
	state          CheckoutState
	attempt        uint64
	capturing      bool
	orderID        string
	reason         string
	message        string
	customer       domain.CustomerInfo
	cart           domain.CartSnapshot
	order          *domain.PersistedOrder
	paymentEnabled bool
	history        []Transition
	listeners      []func(CheckoutStatus)
}

// NewCheckoutOrchestrator constructs an idle orchestrator and enables the payment action.
func NewCheckoutOrchestrator(deps CheckoutDeps) (*CheckoutOrchestrator, error) {
	switch {
	case deps.Carts == nil:
		return nil, errCartSourceRequired
	case deps.Gateway == nil:
		return nil, errGatewayRequired
	case deps.Backend == nil:
		return nil, errBackendRequired
	case deps.Orders == nil:
		return nil, errOrderLogRequired
	case deps.Projector == nil:
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
	idGen := deps.IDGenerator
	if idGen == nil {
		idGen = func() string { return ulid.Make().String() }
	}
	tracer := deps.Tracer
	if tracer == nil {
		tracer = otel.Tracer(instrumentationName)
	}
	meter := deps.Meter
	if meter == nil {
		meter = otel.Meter(instrumentationName)
	}
	outcomes, err := meter.Int64Counter("storefront.checkout.outcomes",
		metric.WithDescription("Checkout attempts by terminal state"))
	if err != nil {
		return nil, fmt.Errorf("checkout: outcome counter: %w", err)
	}

	o := &CheckoutOrchestrator{
		carts:          deps.Carts,
		gateway:        deps.Gateway,
		backend:        deps.Backend,
		orders:         deps.Orders,
		projector:      deps.Projector,
		reporter:       reporter,
		scope:          strings.TrimSpace(deps.Scope),
		logger:         logger,
		now:            func() time.Time { return clock().UTC() },
		newID:          idGen,
		tracer:         tracer,
		outcomes:       outcomes,
		state:          StateIdle,
		paymentEnabled: true,
	}
	o.writePaymentAction(true)
	return o, nil
}

// SetCustomer stores the checkout form used for the next attempt.
func (o *CheckoutOrchestrator) SetCustomer(info domain.CustomerInfo) {
	o.mu.Lock()
	o.customer = info
	o.mu.Unlock()
}

// Customer returns the stored checkout form.
func (o *CheckoutOrchestrator) Customer() domain.CustomerInfo {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.customer
}

// Summary returns the charge the next attempt would create.
func (o *CheckoutOrchestrator) Summary(ctx context.Context) (domain.CartSnapshot, domain.ChargeBreakdown) {
	cart := o.carts.PrimaryCart(ctx)
	return cart, domain.ComputeCharge(cart)
}

// OnCreateOrder starts an attempt: it reads the primary cart and creates the processor
// order, returning its id.
func (o *CheckoutOrchestrator) OnCreateOrder(ctx context.Context) (string, error) {
	ctx, span := o.tracer.Start(ctx, "checkout.create_order")
	defer span.End()

	o.mu.Lock()
	if err := o.beginLocked(); err != nil {
		o.mu.Unlock()
		return "", err
	}
	o.transitionLocked(StateAwaitingCreate, "")
	attempt := o.attempt
	customer := o.customer
	o.mu.Unlock()
	o.notifyListeners()
	o.writePaymentAction(false)

	cart := o.carts.PrimaryCart(ctx)
	if cart.IsEmpty() {
		return "", o.fail(ctx, span, attempt, &domain.Error{Kind: domain.KindEmptyCart, Op: "checkout.create_order"})
	}
	orderID, err := o.gateway.CreateOrder(ctx, cart, customer)
	if err != nil {
		return "", o.fail(ctx, span, attempt, err)
	}

	o.mu.Lock()
	if !o.currentLocked(attempt, StateAwaitingCreate) {
		o.mu.Unlock()
		o.logger.Info("processor order created after attempt ended", zap.String("scope", o.scope), zap.String("orderId", orderID))
		return "", ErrAttemptEnded
	}
	o.orderID = orderID
	o.cart = cart
	o.transitionLocked(StateAwaitingCapture, "")
	o.mu.Unlock()
	o.notifyListeners()

	span.SetAttributes(attribute.String("checkout.order_id", orderID))
	o.logger.Info("checkout order created", zap.String("scope", o.scope), zap.String("orderId", orderID))
	return orderID, nil
}

// OnApprove captures the approved order and completes the checkout.
func (o *CheckoutOrchestrator) OnApprove(ctx context.Context, orderID string) (domain.PersistedOrder, error) {
	ctx, span := o.tracer.Start(ctx, "checkout.approve")
	defer span.End()

	o.mu.Lock()
	if o.state != StateAwaitingCapture {
		state := o.state
		o.mu.Unlock()
		return domain.PersistedOrder{}, fmt.Errorf("%w (state %s)", ErrNoPendingCapture, state)
	}
	if o.capturing {
		o.mu.Unlock()
		return domain.PersistedOrder{}, ErrCheckoutInProgress
	}
	o.capturing = true
	if id := strings.TrimSpace(orderID); id != "" {
		o.orderID = id
	}
	orderID = o.orderID
	attempt := o.attempt
	o.mu.Unlock()

	o.resetBanners()
	capture, err := o.gateway.Capture(ctx, orderID)
	if err != nil {
		return domain.PersistedOrder{}, o.fail(ctx, span, attempt, err)
	}
	return o.complete(ctx, span, attempt, capture)
}

// SimulateApproval drives the approval path with a fabricated capture. An empty payload
// uses the default test capture. From Idle or a finished attempt it starts a new one, which
// fails like OnCreateOrder when the primary cart is empty.
func (o *CheckoutOrchestrator) SimulateApproval(ctx context.Context, payload []byte) (domain.PersistedOrder, error) {
	ctx, span := o.tracer.Start(ctx, "checkout.simulate")
	defer span.End()

	o.mu.Lock()
	fresh := o.state != StateAwaitingCapture
	switch {
	case fresh:
		if err := o.beginLocked(); err != nil {
			o.mu.Unlock()
			return domain.PersistedOrder{}, err
		}
		o.transitionLocked(StateAwaitingCreate, "simulated")
	case o.capturing:
		o.mu.Unlock()
		return domain.PersistedOrder{}, ErrCheckoutInProgress
	default:
		o.capturing = true
	}
	attempt := o.attempt
	orderID := o.orderID
	o.mu.Unlock()
	o.notifyListeners()
	o.writePaymentAction(false)

	if fresh {
		cart := o.carts.PrimaryCart(ctx)
		if cart.IsEmpty() {
			return domain.PersistedOrder{}, o.fail(ctx, span, attempt, &domain.Error{Kind: domain.KindEmptyCart, Op: "checkout.simulate"})
		}
		o.mu.Lock()
		if !o.currentLocked(attempt, StateAwaitingCreate) {
			o.mu.Unlock()
			return domain.PersistedOrder{}, ErrAttemptEnded
		}
		o.cart = cart
		o.capturing = true
		o.transitionLocked(StateAwaitingCapture, "simulated")
		o.mu.Unlock()
		o.notifyListeners()
	}

	o.resetBanners()
	if len(payload) == 0 {
		payload = payments.DefaultSimulatedCapture(o.now())
	}
	capture, err := payments.ParseCapture(payload, orderID, o.now)
	if err != nil {
		return domain.PersistedOrder{}, o.fail(ctx, span, attempt, err)
	}
	o.logger.Info("simulated capture", zap.String("scope", o.scope), zap.String("captureId", capture.ExternalTransactionID))
	return o.complete(ctx, span, attempt, capture)
}

// complete submits a captured attempt to the backend and records it. Once here the funds are
// taken, so cancel and error signals no longer end the attempt.
func (o *CheckoutOrchestrator) complete(ctx context.Context, span trace.Span, attempt uint64, capture domain.PaymentCapture) (domain.PersistedOrder, error) {
	o.mu.Lock()
	if !o.currentLocked(attempt, StateAwaitingCapture) {
		o.mu.Unlock()
		o.logger.Warn("capture completed after attempt ended", zap.String("captureId", capture.ExternalTransactionID))
		return domain.PersistedOrder{}, ErrAttemptEnded
	}
	o.transitionLocked(StateSubmittingBackend, "")
	customer := o.customer
	cart := o.cart
	localID := o.newID()
	o.mu.Unlock()
	o.notifyListeners()

	submission := commerce.SubmissionFromCustomer(customer)
	submission.IdempotencyKey = localID
	receipt, err := o.backend.SubmitOrder(ctx, submission)
	if err != nil {
		return domain.PersistedOrder{}, o.fail(ctx, span, attempt, err)
	}
	if s := receipt.FulfillmentStatus; s != 0 && (s < 200 || s >= 300) {
		o.logger.Warn("fulfillment provider reported failure",
			zap.String("backendOrderId", receipt.OrderID),
			zap.Int("shirtigoStatus", s),
		)
	}

	order := domain.PersistedOrder{
		ID:                localID,
		Customer:          customer,
		Capture:           capture,
		Items:             domain.OrderItemsFromSnapshot(cart),
		BackendOrderID:    receipt.OrderID,
		FulfillmentStatus: receipt.FulfillmentStatus,
		CreatedAt:         o.now(),
	}
	o.mu.Lock()
	current := o.currentLocked(attempt, StateSubmittingBackend)
	o.mu.Unlock()
	if !current {
		o.logger.Error("backend accepted order for an ended attempt", zap.String("orderId", localID), zap.String("backendOrderId", receipt.OrderID))
		return domain.PersistedOrder{}, ErrAttemptEnded
	}
	if err := o.orders.Append(ctx, o.scope, order); err != nil {
		return domain.PersistedOrder{}, o.fail(ctx, span, attempt, &domain.Error{Kind: domain.KindStorage, Op: "checkout.persist", Err: err})
	}

	o.mu.Lock()
	o.capturing = false
	o.order = &order
	o.reason = ""
	o.message = o.reporter.CheckoutSuccess()
	o.transitionLocked(StatePersisted, "")
	o.mu.Unlock()

	if err := o.carts.ClearAll(ctx); err != nil {
		o.logger.Warn("cart clear after checkout failed", zap.String("orderId", order.ID), zap.Error(err))
	}
	o.projector.Write(projection.RegionBannerError, projection.Hidden())
	o.projector.Write(projection.RegionBannerSuccess, projection.View{
		Text:    o.reporter.CheckoutSuccess() + " Order ID: " + capture.ExternalOrderID,
		Visible: true,
		Tone:    projection.ToneSuccess,
	})

	o.record(ctx, StatePersisted)
	span.SetAttributes(attribute.String("checkout.local_order_id", order.ID))
	o.logger.Info("checkout persisted",
		zap.String("scope", o.scope),
		zap.String("orderId", order.ID),
		zap.String("captureId", capture.ExternalTransactionID),
		zap.String("amount", capture.CapturedAmount.String()),
	)
	o.notifyListeners()
	return order, nil
}

// OnError fails the running attempt with err. Errors on a finished attempt, or on one whose
// capture is already under way, are logged and ignored.
func (o *CheckoutOrchestrator) OnError(ctx context.Context, err error) error {
	if err == nil {
		err = errors.New("payment widget reported an error")
	}
	o.mu.Lock()
	terminal, settling := o.state.Terminal(), o.settlingLocked()
	attempt := o.attempt
	o.mu.Unlock()
	switch {
	case terminal:
		o.logger.Info("ignoring processor error on finished checkout", zap.Error(err))
		return nil
	case settling:
		o.logger.Warn("ignoring processor error while payment settles", zap.String("scope", o.scope), zap.Error(err))
		return nil
	}
	ctx, span := o.tracer.Start(ctx, "checkout.error")
	defer span.End()
	return o.fail(ctx, span, attempt, err)
}

// OnCancel aborts the running attempt and re-enables the payment action. It has no effect
// once the capture is under way.
func (o *CheckoutOrchestrator) OnCancel(ctx context.Context) {
	o.mu.Lock()
	if o.state.Terminal() {
		o.mu.Unlock()
		return
	}
	if o.settlingLocked() {
		o.mu.Unlock()
		o.logger.Warn("ignoring cancel while payment settles", zap.String("scope", o.scope))
		return
	}
	o.reason = string(domain.KindUserCancelled)
	o.message = o.reporter.CheckoutMessage(domain.ErrUserCancelled)
	o.paymentEnabled = true
	o.transitionLocked(StateCancelled, o.reason)
	message := o.message
	o.mu.Unlock()

	o.projector.Write(projection.RegionBannerCancel, projection.View{Text: message, Visible: true, Tone: projection.ToneInfo})
	o.writePaymentAction(true)
	o.record(ctx, StateCancelled)
	o.logger.Info("checkout cancelled", zap.String("scope", o.scope))
	o.notifyListeners()
}

// OnCartChange starts over after a persisted checkout once the primary cart refills.
func (o *CheckoutOrchestrator) OnCartChange(state CartState) {
	if state.Primary.IsEmpty() {
		return
	}
	o.mu.Lock()
	if o.state != StatePersisted {
		o.mu.Unlock()
		return
	}
	o.transitionLocked(StateIdle, "cart changed")
	o.paymentEnabled = true
	o.orderID = ""
	o.order = nil
	o.message = ""
	o.mu.Unlock()

	o.projector.Write(projection.RegionBannerSuccess, projection.Hidden())
	o.writePaymentAction(true)
	o.notifyListeners()
}

func (o *CheckoutOrchestrator) beginLocked() error {
	switch {
	case o.state.InFlight():
		return ErrCheckoutInProgress
	case o.state == StatePersisted:
		return ErrCheckoutCompleted
	}
	o.attempt++
	o.capturing = false
	o.orderID = ""
	o.reason = ""
	o.message = ""
	o.order = nil
	o.paymentEnabled = false
	return nil
}

// currentLocked reports whether attempt is still the running one and sits in state.
func (o *CheckoutOrchestrator) currentLocked(attempt uint64, state CheckoutState) bool {
	return o.attempt == attempt && o.state == state
}

// settlingLocked reports whether funds may already be moving for the running attempt.
func (o *CheckoutOrchestrator) settlingLocked() bool {
	return o.state == StateSubmittingBackend || (o.state == StateAwaitingCapture && o.capturing)
}

func (o *CheckoutOrchestrator) fail(ctx context.Context, span trace.Span, attempt uint64, err error) error {
	span.RecordError(err)
	span.SetStatus(codes.Error, string(domain.KindOf(err)))

	o.mu.Lock()
	if o.attempt != attempt || o.state.Terminal() {
		o.mu.Unlock()
		o.logger.Info("checkout failure after attempt ended", zap.Error(err))
		return err
	}
	o.reason = string(domain.KindOf(err))
	o.message = o.reporter.CheckoutMessage(err)
	o.paymentEnabled = true
	o.capturing = false
	o.transitionLocked(StateFailed, o.reason)
	message := o.message
	o.mu.Unlock()

	o.reporter.Report(ctx, "checkout", err)
	o.projector.Write(projection.RegionBannerSuccess, projection.Hidden())
	o.projector.Write(projection.RegionBannerError, projection.View{Text: message, Visible: true, Tone: projection.ToneError})
	o.writePaymentAction(true)
	o.record(ctx, StateFailed)
	o.notifyListeners()
	return err
}

func (o *CheckoutOrchestrator) resetBanners() {
	o.projector.Write(projection.RegionBannerError, projection.Hidden())
	o.projector.Write(projection.RegionBannerSuccess, projection.Hidden())
	o.projector.Write(projection.RegionBannerCancel, projection.Hidden())
}

func (o *CheckoutOrchestrator) writePaymentAction(enabled bool) {
	o.projector.Write(projection.RegionPaymentAction, projection.View{Visible: true, Enabled: enabled})
}

func (o *CheckoutOrchestrator) transitionLocked(to CheckoutState, reason string) {
	o.history = append(o.history, Transition{From: o.state, To: to, Reason: reason, At: o.now()})
	o.state = to
}

func (o *CheckoutOrchestrator) record(ctx context.Context, outcome CheckoutState) {
	o.outcomes.Add(ctx, 1, metric.WithAttributes(attribute.String("outcome", string(outcome))))
}

// Status returns the current state.
func (o *CheckoutOrchestrator) Status() CheckoutStatus {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.statusLocked()
}

func (o *CheckoutOrchestrator) statusLocked() CheckoutStatus {
	status := CheckoutStatus{
		State:          o.state,
		OrderID:        o.orderID,
		Reason:         o.reason,
		Message:        o.message,
		PaymentEnabled: o.paymentEnabled,
	}
	if o.order != nil {
		order := *o.order
		status.Order = &order
	}
	return status
}

// History returns every transition so far.
func (o *CheckoutOrchestrator) History() []Transition {
	o.mu.Lock()
	defer o.mu.Unlock()
	return slices.Clone(o.history)
}

// Subscribe registers fn to receive the status after each transition.
func (o *CheckoutOrchestrator) Subscribe(fn func(CheckoutStatus)) {
	if fn == nil {
		return
	}
	o.mu.Lock()
	o.listeners = append(append([]func(CheckoutStatus){}, o.listeners...), fn)
	o.mu.Unlock()
}

func (o *CheckoutOrchestrator) notifyListeners() {
	o.mu.Lock()
	listeners := o.listeners
	status := o.statusLocked()
	o.mu.Unlock()
	for _, fn := range listeners {
		fn(status)
	}
}
