package payments

import (
	"context"
	"encoding/json"
	"strconv"
	"sync"
	"time"
)

// SimulatedAmount is the amount of a fabricated capture when none is known.
const SimulatedAmount = "25.00"

// SimulatedActions fabricates orders and captures without a processor.
type SimulatedActions struct {
	clock func() time.Time

	mu      sync.Mutex
	amounts map[string]string
}

// NewSimulatedActions returns SimulatedActions; a nil clock uses time.Now.
func NewSimulatedActions(clock func() time.Time) *SimulatedActions {
	if clock == nil {
		clock = time.Now
	}
	return &SimulatedActions{clock: clock, amounts: make(map[string]string)}
}

// CreateOrder returns a TEST_ORDER_ id and remembers the order total.
func (s *SimulatedActions) CreateOrder(_ context.Context, req OrderRequest) (any, error) {
	id := "TEST_ORDER_" + strconv.FormatInt(s.clock().UnixMilli(), 10)
	if len(req.PurchaseUnits) > 0 {
		s.mu.Lock()
		s.amounts[id] = req.PurchaseUnits[0].Amount.Value
		s.mu.Unlock()
	}
	return id, nil
}

// CaptureOrder fabricates a capture for orderID.
func (s *SimulatedActions) CaptureOrder(_ context.Context, orderID string) ([]byte, error) {
	s.mu.Lock()
	amount, ok := s.amounts[orderID]
	delete(s.amounts, orderID)
	s.mu.Unlock()
	if !ok || amount == "" {
		amount = SimulatedAmount
	}
	captureID := "TEST_CAPTURE_" + strconv.FormatInt(s.clock().UnixMilli(), 10)
	return SimulatedCapture(orderID, captureID, amount)
}

// SimulatedCapture renders a capture document.
func SimulatedCapture(orderID, captureID, amount string) ([]byte, error) {
	doc := map[string]any{
		"id":     orderID,
		"status": "COMPLETED",
		"purchase_units": []any{
			map[string]any{
				"payments": map[string]any{
					"captures": []any{
						map[string]any{"id": captureID, "amount": map[string]any{"value": amount}},
					},
				},
				"amount": map[string]any{"value": amount},
			},
		},
	}
	return json.Marshal(doc)
}

// DefaultSimulatedCapture fabricates the capture used by test-mode approvals.
func DefaultSimulatedCapture(now time.Time) []byte {
	stamp := strconv.FormatInt(now.UnixMilli(), 10)
	data, _ := SimulatedCapture("TEST_ORDER_"+stamp, "TEST_CAPTURE_"+stamp, SimulatedAmount)
	return data
}
