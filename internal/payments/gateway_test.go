package payments

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/hanko-field/storefront/internal/domain"
)

type fakeActions struct {
	created   OrderRequest
	result    any
	createErr error
	capture   []byte
	captureID string
	err       error
}

func (f *fakeActions) CreateOrder(_ context.Context, req OrderRequest) (any, error) {
	f.created = req
	return f.result, f.createErr
}

func (f *fakeActions) CaptureOrder(_ context.Context, orderID string) ([]byte, error) {
	f.captureID = orderID
	return f.capture, f.err
}

func sampleCart() domain.CartSnapshot {
	return domain.NormalizeSnapshot([]domain.CartItem{{
		ProductRef:  "1",
		ProductName: "Logo Tee",
		Quantity:    1,
		TotalPrice:  domain.MustParseMoney("10.00"),
	}})
}

func TestGatewayCreateOrderBuildsBreakdown(t *testing.T) {
	actions := &fakeActions{result: "ORDER-1"}
	gw, err := NewGateway(actions)
	if err != nil {
		t.Fatalf("new gateway: %v", err)
	}

	id, err := gw.CreateOrder(context.Background(), sampleCart(), domain.CustomerInfo{City: "Austin", State: "TX"})
	if err != nil {
		t.Fatalf("create order: %v", err)
	}
	if id != "ORDER-1" {
		t.Fatalf("expected ORDER-1, got %q", id)
	}

	unit := actions.created.PurchaseUnits[0]
	if unit.Amount.Value != "16.79" {
		t.Fatalf("expected total 16.79, got %s", unit.Amount.Value)
	}
	b := unit.Amount.Breakdown
	if b == nil || b.ItemTotal.Value != "10.00" || b.Shipping.Value != "5.99" || b.TaxTotal.Value != "0.80" {
		t.Fatalf("unexpected breakdown %+v", b)
	}
	if unit.Items[0].Quantity != "1" || unit.Items[0].UnitAmount.Value != "10.00" {
		t.Fatalf("unexpected item %+v", unit.Items[0])
	}
	if unit.Shipping.Name.FullName != "Customer" {
		t.Fatalf("expected default full name, got %q", unit.Shipping.Name.FullName)
	}
	if unit.Shipping.Address.CountryCode != "US" || unit.Shipping.Address.AdminArea2 != "Austin" {
		t.Fatalf("unexpected address %+v", unit.Shipping.Address)
	}
	if actions.created.ApplicationContext.ShippingPreference != "SET_PROVIDED_ADDRESS" {
		t.Fatalf("unexpected application context %+v", actions.created.ApplicationContext)
	}
}

func TestGatewayCreateOrderEmptyCart(t *testing.T) {
	actions := &fakeActions{result: "ORDER-1"}
	gw, _ := NewGateway(actions)

	_, err := gw.CreateOrder(context.Background(), domain.EmptySnapshot(), domain.CustomerInfo{})
	if !errors.Is(err, domain.ErrEmptyCart) {
		t.Fatalf("expected empty cart error, got %v", err)
	}
	if len(actions.created.PurchaseUnits) != 0 {
		t.Fatal("actions must not be called for an empty cart")
	}
}

func TestGatewayNormalisesOrderID(t *testing.T) {
	cases := []struct {
		name    string
		result  any
		want    string
		wantErr bool
	}{
		{name: "string", result: " ORDER-2 ", want: "ORDER-2"},
		{name: "object", result: map[string]any{"id": "ORDER-3", "status": "CREATED"}, want: "ORDER-3"},
		{name: "raw object", result: json.RawMessage(`{"id":"ORDER-4"}`), want: "ORDER-4"},
		{name: "empty string", result: "", wantErr: true},
		{name: "object without id", result: map[string]any{"status": "CREATED"}, wantErr: true},
		{name: "number", result: 42, wantErr: true},
		{name: "nil", result: nil, wantErr: true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			gw, _ := NewGateway(&fakeActions{result: tc.result})
			id, err := gw.CreateOrder(context.Background(), sampleCart(), domain.CustomerInfo{})
			if tc.wantErr {
				if !errors.Is(err, domain.ErrMalformedGateway) {
					t.Fatalf("expected malformed gateway error, got %v", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if id != tc.want {
				t.Fatalf("expected %q, got %q", tc.want, id)
			}
		})
	}
}

func TestGatewayCapture(t *testing.T) {
	raw := []byte(`{"id":"ORDER-1","purchase_units":[{"amount":{"value":"16.79"},"payments":{"captures":[{"id":"CAP-1","amount":{"value":"16.79"},"create_time":"2026-01-02T03:04:05Z"}]}}]}`)
	actions := &fakeActions{capture: raw}
	gw, _ := NewGateway(actions)

	capture, err := gw.Capture(context.Background(), "ORDER-1")
	if err != nil {
		t.Fatalf("capture: %v", err)
	}
	if actions.captureID != "ORDER-1" {
		t.Fatalf("expected capture for ORDER-1, got %q", actions.captureID)
	}
	if capture.ExternalTransactionID != "CAP-1" || capture.CapturedAmount.String() != "16.79" {
		t.Fatalf("unexpected capture %+v", capture)
	}
	if !capture.CapturedAt.Equal(time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)) {
		t.Fatalf("unexpected capture time %v", capture.CapturedAt)
	}
}

func TestParseCaptureFallsBackToUnitAmount(t *testing.T) {
	now := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	raw := []byte(`{"purchase_units":[{"amount":{"value":"25.00"},"payments":{"captures":[{"id":"CAP-2"}]}}]}`)

	capture, err := ParseCapture(raw, "ORDER-9", func() time.Time { return now })
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if capture.ExternalOrderID != "ORDER-9" || capture.CapturedAmount.String() != "25.00" || !capture.CapturedAt.Equal(now) {
		t.Fatalf("unexpected capture %+v", capture)
	}
}

func TestParseCaptureMalformed(t *testing.T) {
	for name, raw := range map[string]string{
		"not json":       `nope`,
		"no units":       `{"id":"X"}`,
		"no payments":    `{"purchase_units":[{"amount":{"value":"1.00"}}]}`,
		"empty captures": `{"purchase_units":[{"payments":{"captures":[]}}]}`,
		"no amount":      `{"purchase_units":[{"payments":{"captures":[{"id":"C"}]}}]}`,
	} {
		t.Run(name, func(t *testing.T) {
			_, err := ParseCapture([]byte(raw), "X", nil)
			if !errors.Is(err, domain.ErrMalformedCapture) {
				t.Fatalf("expected malformed capture, got %v", err)
			}
		})
	}
}

func TestSimulatedActionsRoundTrip(t *testing.T) {
	now := time.UnixMilli(1700000000000)
	sim := NewSimulatedActions(func() time.Time { return now })
	gw, _ := NewGateway(sim)

	id, err := gw.CreateOrder(context.Background(), sampleCart(), domain.CustomerInfo{})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if id != "TEST_ORDER_1700000000000" {
		t.Fatalf("unexpected id %q", id)
	}
	capture, err := gw.Capture(context.Background(), id)
	if err != nil {
		t.Fatalf("capture: %v", err)
	}
	if capture.ExternalTransactionID != "TEST_CAPTURE_1700000000000" || capture.CapturedAmount.String() != "16.79" {
		t.Fatalf("unexpected capture %+v", capture)
	}

	fallback, err := ParseCapture(DefaultSimulatedCapture(now), "", nil)
	if err != nil {
		t.Fatalf("parse default: %v", err)
	}
	if fallback.CapturedAmount.String() != SimulatedAmount {
		t.Fatalf("expected %s, got %s", SimulatedAmount, fallback.CapturedAmount)
	}
}
