package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"html"
	"net/http"
	"net/mail"
	"strings"
	"unicode/utf8"

	"github.com/go-chi/chi/v5"
	"github.com/microcosm-cc/bluemonday"

	"github.com/hanko-field/storefront/internal/domain"
	"github.com/hanko-field/storefront/internal/platform/httpx"
	"github.com/hanko-field/storefront/internal/platform/idempotency"
	"github.com/hanko-field/storefront/internal/projection"
	"github.com/hanko-field/storefront/internal/services"
)

const maxCustomerFieldLength = 256

// CheckoutHandlers drive the session's checkout orchestrator.
type CheckoutHandlers struct {
	simulation  bool
	policy      *bluemonday.Policy
	idempotency func(http.Handler) http.Handler
}

// CheckoutOption customises checkout handlers.
type CheckoutOption func(*CheckoutHandlers)

// WithSimulation exposes POST /checkout/simulate.
func WithSimulation(enabled bool) CheckoutOption {
	return func(h *CheckoutHandlers) {
		h.simulation = enabled
	}
}

// WithIdempotency guards the checkout POST routes so a repeated Idempotency-Key replays the
// first response instead of running the step again.
func WithIdempotency(store idempotency.Store, opts ...idempotency.MiddlewareOption) CheckoutOption {
	return func(h *CheckoutHandlers) {
		if store != nil {
			h.idempotency = idempotency.Middleware(store, opts...)
		}
	}
}

// NewCheckoutHandlers constructs checkout handlers.
func NewCheckoutHandlers(opts ...CheckoutOption) *CheckoutHandlers {
	h := &CheckoutHandlers{policy: bluemonday.StrictPolicy()}
	for _, opt := range opts {
		if opt != nil {
			opt(h)
		}
	}
	return h
}

// Routes wires the /checkout endpoints onto the provided router.
func (h *CheckoutHandlers) Routes(r chi.Router) {
	if r == nil {
		return
	}
	r.Put("/customer", h.putCustomer)
	r.Get("/summary", h.getSummary)
	r.Get("/status", h.getStatus)

	mutating := r
	if h.idempotency != nil {
		mutating = r.With(h.idempotency)
	}
	mutating.Post("/orders", h.createOrder)
	mutating.Post("/orders/{orderID}/approve", h.approveOrder)
	mutating.Post("/cancel", h.cancel)
	mutating.Post("/error", h.reportError)
	if h.simulation {
		mutating.Post("/simulate", h.simulate)
	}
}

type customerPayload struct {
	FirstName  string `json:"firstName"`
	LastName   string `json:"lastName"`
	Email      string `json:"email"`
	Phone      string `json:"phone"`
	Address    string `json:"address"`
	City       string `json:"city"`
	State      string `json:"state"`
	PostalCode string `json:"postalCode"`
	Country    string `json:"country"`
	Notes      string `json:"notes"`
}

type summaryResponse struct {
	Cart     domain.CartSnapshot `json:"cart"`
	Subtotal string              `json:"subtotal"`
	Shipping string              `json:"shipping"`
	Tax      string              `json:"tax"`
	Total    string              `json:"total"`
	Customer domain.CustomerInfo `json:"customer"`
}

type createOrderResponse struct {
	OrderID string                  `json:"orderId"`
	Status  services.CheckoutStatus `json:"status"`
}

type orderResponse struct {
	Order  domain.PersistedOrder   `json:"order"`
	Status services.CheckoutStatus `json:"status"`
}

type errorReportRequest struct {
	Message string `json:"message"`
}

func (h *CheckoutHandlers) putCustomer(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	session, ok := requireSession(w, r)
	if !ok {
		return
	}
	body, err := readLimitedBody(r, maxBodySize)
	if err != nil {
		writeBodyError(ctx, w, err)
		return
	}
	var payload customerPayload
	if err := json.Unmarshal(body, &payload); err != nil {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "invalid JSON payload", http.StatusBadRequest))
		return
	}
	info, err := h.customerFromPayload(payload)
	if err != nil {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_customer", err.Error(), http.StatusBadRequest))
		return
	}
	session.Checkout.SetCustomer(info)
	httpx.WriteJSON(w, http.StatusOK, info)
}

func (h *CheckoutHandlers) customerFromPayload(p customerPayload) (domain.CustomerInfo, error) {
	info := domain.CustomerInfo{
		FirstName:  h.clean(p.FirstName),
		LastName:   h.clean(p.LastName),
		Email:      h.clean(p.Email),
		Phone:      h.clean(p.Phone),
		Address:    h.clean(p.Address),
		City:       h.clean(p.City),
		State:      h.clean(p.State),
		PostalCode: h.clean(p.PostalCode),
		Country:    strings.ToUpper(h.clean(p.Country)),
		Notes:      h.clean(p.Notes),
	}
	if info.Email != "" {
		addr, err := mail.ParseAddress(info.Email)
		if err != nil {
			return domain.CustomerInfo{}, errors.New("email must be a valid address")
		}
		info.Email = addr.Address
	}
	return info, nil
}

// clean strips markup from free-text form fields before they reach the processor or backend.
// Sanitize entity-escapes what it keeps, so the text is unescaped again for plain JSON use.
func (h *CheckoutHandlers) clean(value string) string {
	value = strings.TrimSpace(html.UnescapeString(h.policy.Sanitize(value)))
	return truncateRunes(value, maxCustomerFieldLength)
}

// truncateRunes cuts value to at most limit bytes without splitting a UTF-8 sequence.
func truncateRunes(value string, limit int) string {
	if len(value) <= limit {
		return value
	}
	cut := limit
	for cut > 0 && !utf8.RuneStart(value[cut]) {
		cut--
	}
	return value[:cut]
}

func (h *CheckoutHandlers) getSummary(w http.ResponseWriter, r *http.Request) {
	session, ok := requireSession(w, r)
	if !ok {
		return
	}
	cart, charge := session.Checkout.Summary(r.Context())
	setNoStore(w)
	httpx.WriteJSON(w, http.StatusOK, summaryResponse{
		Cart:     cart,
		Subtotal: charge.Subtotal.String(),
		Shipping: charge.Shipping.String(),
		Tax:      charge.Tax.String(),
		Total:    charge.Total.String(),
		Customer: session.Checkout.Customer(),
	})
}

func (h *CheckoutHandlers) getStatus(w http.ResponseWriter, r *http.Request) {
	session, ok := requireSession(w, r)
	if !ok {
		return
	}
	setNoStore(w)
	httpx.WriteJSON(w, http.StatusOK, session.Checkout.Status())
}

func (h *CheckoutHandlers) createOrder(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	session, ok := requireSession(w, r)
	if !ok {
		return
	}
	orderID, err := session.Checkout.OnCreateOrder(context.WithoutCancel(ctx))
	if err != nil {
		writeCheckoutError(ctx, w, session, err)
		return
	}
	httpx.WriteJSON(w, http.StatusCreated, createOrderResponse{OrderID: orderID, Status: session.Checkout.Status()})
}

func (h *CheckoutHandlers) approveOrder(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	session, ok := requireSession(w, r)
	if !ok {
		return
	}
	orderID := strings.TrimSpace(chi.URLParam(r, "orderID"))
	order, err := session.Checkout.OnApprove(context.WithoutCancel(ctx), orderID)
	if err != nil {
		writeCheckoutError(ctx, w, session, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, orderResponse{Order: order, Status: session.Checkout.Status()})
}

func (h *CheckoutHandlers) simulate(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	session, ok := requireSession(w, r)
	if !ok {
		return
	}
	var payload []byte
	if r.Body != nil {
		body, err := readLimitedBody(r, maxBodySize)
		switch {
		case err == nil:
			if !json.Valid(body) {
				httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "capture payload must be JSON", http.StatusBadRequest))
				return
			}
			payload = body
		case errors.Is(err, errEmptyBody):
		default:
			writeBodyError(ctx, w, err)
			return
		}
	}
	order, err := session.Checkout.SimulateApproval(context.WithoutCancel(ctx), payload)
	if err != nil {
		writeCheckoutError(ctx, w, session, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, orderResponse{Order: order, Status: session.Checkout.Status()})
}

func (h *CheckoutHandlers) cancel(w http.ResponseWriter, r *http.Request) {
	session, ok := requireSession(w, r)
	if !ok {
		return
	}
	session.Checkout.OnCancel(context.WithoutCancel(r.Context()))
	httpx.WriteJSON(w, http.StatusOK, session.Checkout.Status())
}

func (h *CheckoutHandlers) reportError(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	session, ok := requireSession(w, r)
	if !ok {
		return
	}
	var req errorReportRequest
	if body, err := readLimitedBody(r, maxBodySize); err == nil {
		if err := json.Unmarshal(body, &req); err != nil {
			httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "invalid JSON payload", http.StatusBadRequest))
			return
		}
	} else if !errors.Is(err, errEmptyBody) {
		writeBodyError(ctx, w, err)
		return
	}

	var reported error
	if msg := h.clean(req.Message); msg != "" {
		reported = errors.New(msg)
	}
	_ = session.Checkout.OnError(context.WithoutCancel(ctx), reported)
	httpx.WriteJSON(w, http.StatusOK, session.Checkout.Status())
}

func writeCheckoutError(ctx context.Context, w http.ResponseWriter, session *Session, err error) {
	message := session.Checkout.Status().Message
	if message == "" {
		message = session.Board.Snapshot().View(projection.RegionBannerError).Text
	}
	writeServiceError(ctx, w, err, message)
}
