package services

import (
	"context"
	"errors"
	"testing"

	"github.com/hanko-field/storefront/internal/domain"
)

type inflightStage string

const (
	stageCreate  inflightStage = "create"
	stageCapture inflightStage = "capture"
	stageSubmit  inflightStage = "submit"
)

// startHeldAttempt runs an attempt until it blocks at stage and returns the gate and the
// channel receiving the blocked call's error.
func startHeldAttempt(t *testing.T, f *checkoutFixture, stage inflightStage) (*gate, <-chan error) {
	t.Helper()
	ctx := context.Background()
	g := newGate()
	switch stage {
	case stageCreate:
		f.actions.create = g
	case stageCapture:
		f.actions.capture = g
	case stageSubmit:
		f.backend.gate = g
	}

	done := make(chan error, 1)
	if stage == stageCreate {
		go func() {
			_, err := f.orch.OnCreateOrder(ctx)
			done <- err
		}()
	} else {
		id, err := f.orch.OnCreateOrder(ctx)
		if err != nil {
			t.Fatalf("create: %v", err)
		}
		go func() {
			_, err := f.orch.OnApprove(ctx, id)
			done <- err
		}()
	}
	g.wait(t)
	return g, done
}

func TestCheckoutSignalsDuringInFlightStages(t *testing.T) {
	cancel := func(ctx context.Context, o *CheckoutOrchestrator) { o.OnCancel(ctx) }
	widgetError := func(ctx context.Context, o *CheckoutOrchestrator) {
		_ = o.OnError(ctx, errors.New("widget closed"))
	}

	cases := []struct {
		name       string
		stage      inflightStage
		signal     func(context.Context, *CheckoutOrchestrator)
		wantDuring CheckoutState
		wantFinal  CheckoutState
		wantOrders int
	}{
		{"cancel while creating", stageCreate, cancel, StateCancelled, StateCancelled, 0},
		{"error while creating", stageCreate, widgetError, StateFailed, StateFailed, 0},
		{"cancel while capturing", stageCapture, cancel, StateAwaitingCapture, StatePersisted, 1},
		{"error while capturing", stageCapture, widgetError, StateAwaitingCapture, StatePersisted, 1},
		{"cancel while submitting", stageSubmit, cancel, StateSubmittingBackend, StatePersisted, 1},
		{"error while submitting", stageSubmit, widgetError, StateSubmittingBackend, StatePersisted, 1},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			f := newCheckoutFixture(t, 1, 0, nil)
			ctx := context.Background()
			g, done := startHeldAttempt(t, f, tc.stage)

			tc.signal(ctx, f.orch)
			status := f.orch.Status()
			if status.State != tc.wantDuring {
				t.Fatalf("expected %s after signal, got %s", tc.wantDuring, status.State)
			}
			if tc.wantDuring.InFlight() {
				if status.PaymentEnabled {
					t.Fatal("payment action must stay disabled while the payment settles")
				}
				if _, err := f.orch.OnCreateOrder(ctx); !errors.Is(err, ErrCheckoutInProgress) {
					t.Fatalf("expected in progress, got %v", err)
				}
				if _, err := f.orch.SimulateApproval(ctx, nil); !errors.Is(err, ErrCheckoutInProgress) {
					t.Fatalf("expected in progress for simulation, got %v", err)
				}
			} else if !status.PaymentEnabled {
				t.Fatal("payment action must be re-enabled")
			}

			close(g.release)
			err := <-done
			if tc.wantFinal == StatePersisted {
				if err != nil {
					t.Fatalf("expected the held attempt to complete, got %v", err)
				}
			} else if !errors.Is(err, ErrAttemptEnded) {
				t.Fatalf("expected attempt ended, got %v", err)
			}

			if got := f.orch.Status().State; got != tc.wantFinal {
				t.Fatalf("expected final %s, got %s", tc.wantFinal, got)
			}
			if got := len(f.persisted(t)); got != tc.wantOrders {
				t.Fatalf("expected %d persisted orders, got %d", tc.wantOrders, got)
			}
		})
	}
}

func TestCheckoutCancelDuringSubmissionKeepsSingleFlight(t *testing.T) {
	f := newCheckoutFixture(t, 1, 0, nil)
	ctx := context.Background()
	g, done := startHeldAttempt(t, f, stageSubmit)

	f.orch.OnCancel(ctx)
	if _, err := f.orch.OnCreateOrder(ctx); !errors.Is(err, ErrCheckoutInProgress) {
		t.Fatalf("second attempt must wait for the submission, got %v", err)
	}
	close(g.release)
	if err := <-done; err != nil {
		t.Fatalf("approve: %v", err)
	}

	want := []CheckoutState{StateAwaitingCreate, StateAwaitingCapture, StateSubmittingBackend, StatePersisted}
	got := states(f.orch.History())
	if len(got) != len(want) {
		t.Fatalf("expected transitions %v, got %v", want, got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("expected transitions %v, got %v", want, got)
		}
	}

	orders := f.persisted(t)
	if len(orders) != 1 {
		t.Fatalf("expected one persisted order, got %d", len(orders))
	}
	if f.backend.last.IdempotencyKey != orders[0].ID {
		t.Fatalf("expected submission keyed by local order %s, got %q", orders[0].ID, f.backend.last.IdempotencyKey)
	}
}

func TestCheckoutStaleCreateDoesNotOverwriteNewAttempt(t *testing.T) {
	f := newCheckoutFixture(t, 1, 0, nil)
	ctx := context.Background()
	g, done := startHeldAttempt(t, f, stageCreate)

	f.orch.OnCancel(ctx)
	f.actions.create = nil
	orderID, err := f.orch.OnCreateOrder(ctx)
	if err != nil {
		t.Fatalf("new attempt after cancel: %v", err)
	}

	close(g.release)
	if err := <-done; !errors.Is(err, ErrAttemptEnded) {
		t.Fatalf("expected the cancelled attempt to end, got %v", err)
	}
	status := f.orch.Status()
	if status.State != StateAwaitingCapture || status.OrderID != orderID {
		t.Fatalf("new attempt was disturbed: %+v", status)
	}

	if _, err := f.orch.OnApprove(ctx, orderID); err != nil {
		t.Fatalf("approve: %v", err)
	}
	if got := len(f.persisted(t)); got != 1 {
		t.Fatalf("expected one persisted order, got %d", got)
	}
}

func TestCheckoutRejectsConcurrentApproval(t *testing.T) {
	f := newCheckoutFixture(t, 1, 0, nil)
	ctx := context.Background()
	g, done := startHeldAttempt(t, f, stageCapture)

	if _, err := f.orch.OnApprove(ctx, ""); !errors.Is(err, ErrCheckoutInProgress) {
		t.Fatalf("expected in progress, got %v", err)
	}
	close(g.release)
	if err := <-done; err != nil {
		t.Fatalf("approve: %v", err)
	}
	if got := len(f.persisted(t)); got != 1 {
		t.Fatalf("expected one persisted order, got %d", got)
	}
}

func TestSimulateApprovalWithEmptyCartFails(t *testing.T) {
	f := newCheckoutFixture(t, 0, 0, nil)

	_, err := f.orch.SimulateApproval(context.Background(), nil)
	if !errors.Is(err, domain.ErrEmptyCart) {
		t.Fatalf("expected empty cart error, got %v", err)
	}
	status := f.orch.Status()
	if status.State != StateFailed || !status.PaymentEnabled {
		t.Fatalf("unexpected status %+v", status)
	}
	if f.backend.calls != 0 {
		t.Fatalf("backend must not be called, got %d calls", f.backend.calls)
	}
	if got := len(f.persisted(t)); got != 0 {
		t.Fatalf("expected nothing persisted, got %d", got)
	}
}
