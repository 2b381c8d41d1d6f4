package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/hanko-field/storefront/internal/commerce"
	"github.com/hanko-field/storefront/internal/domain"
	"github.com/hanko-field/storefront/internal/platform/httpx"
	"github.com/hanko-field/storefront/internal/platform/observability"
	"github.com/hanko-field/storefront/internal/projection"
)

// CartHandlers exposes the session's carts and their projection.
type CartHandlers struct{}

// NewCartHandlers constructs cart handlers. Carts are resolved per request from the session.
func NewCartHandlers() *CartHandlers {
	return &CartHandlers{}
}

// Routes wires the /cart endpoints onto the provided router.
func (h *CartHandlers) Routes(r chi.Router) {
	if r == nil {
		return
	}
	r.Get("/", h.getCart)
	r.Get("/fragment", h.getFragment)
	r.Post("/{kind}/{action}", h.mutateCart)
}

type cartResponse struct {
	Authenticated bool                `json:"authenticated"`
	Primary       domain.CartSnapshot `json:"primary"`
	Bonus         domain.CartSnapshot `json:"bonus"`
	Board         projection.Snapshot `json:"board"`
}

type cartMutationRequest struct {
	Quantity *int `json:"quantity"`
}

func buildCartResponse(session *Session) cartResponse {
	state := session.Carts.State()
	return cartResponse{
		Authenticated: state.Authenticated,
		Primary:       state.Primary,
		Bonus:         state.Bonus,
		Board:         session.Board.Snapshot(),
	}
}

func (h *CartHandlers) getCart(w http.ResponseWriter, r *http.Request) {
	session, ok := requireSession(w, r)
	if !ok {
		return
	}
	setNoStore(w)
	httpx.WriteJSON(w, http.StatusOK, buildCartResponse(session))
}

func (h *CartHandlers) getFragment(w http.ResponseWriter, r *http.Request) {
	session, ok := requireSession(w, r)
	if !ok {
		return
	}
	var buf bytes.Buffer
	if err := projection.RenderMiniCart(&buf, session.Board.Snapshot()); err != nil {
		observability.FromContext(r.Context()).Error("render mini cart", zap.Error(err))
		httpx.WriteError(r.Context(), w, httpx.NewError("render_failed", "unable to render cart", http.StatusInternalServerError))
		return
	}
	setNoStore(w)
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = buf.WriteTo(w)
}

func (h *CartHandlers) mutateCart(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	session, ok := requireSession(w, r)
	if !ok {
		return
	}

	kind, err := domain.ParseCartKind(chi.URLParam(r, "kind"))
	if err != nil {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_cart", err.Error(), http.StatusNotFound))
		return
	}
	action := strings.ToLower(strings.TrimSpace(chi.URLParam(r, "action")))

	// Mutations keep running if the browser disconnects; the engine still has to
	// apply whatever snapshot the commerce API answers with.
	detached := context.WithoutCancel(ctx)
	switch action {
	case "add", "set":
		qty, err := parseQuantity(r, action)
		if err != nil {
			writeBodyError(ctx, w, err)
			return
		}
		op := commerce.Add(qty)
		if action == "set" {
			op = commerce.SetQuantity(qty)
		}
		err = session.Carts.Apply(detached, kind, op)
		h.respond(ctx, w, session, err)
	case "clear":
		h.respond(ctx, w, session, session.Carts.Apply(detached, kind, commerce.Clear()))
	case "increment":
		h.respond(ctx, w, session, session.Carts.Step(detached, kind, 1))
	case "decrement":
		h.respond(ctx, w, session, session.Carts.Step(detached, kind, -1))
	default:
		httpx.WriteError(ctx, w, httpx.NewError("invalid_action", fmt.Sprintf("unsupported cart action %q", action), http.StatusNotFound))
	}
}

func (h *CartHandlers) respond(ctx context.Context, w http.ResponseWriter, session *Session, err error) {
	setNoStore(w)
	if err != nil {
		message := session.Board.Snapshot().View(projection.RegionNotification).Text
		writeServiceError(ctx, w, err, message)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, buildCartResponse(session))
}

func parseQuantity(r *http.Request, action string) (int, error) {
	body, err := readLimitedBody(r, maxBodySize)
	if err != nil {
		if errors.Is(err, errEmptyBody) && action == "add" {
			return 1, nil
		}
		return 0, err
	}
	var req cartMutationRequest
	if err := json.Unmarshal(body, &req); err != nil {
		return 0, fmt.Errorf("invalid JSON: %w", err)
	}
	if req.Quantity == nil {
		if action == "add" {
			return 1, nil
		}
		return 0, errors.New("quantity is required")
	}
	qty := *req.Quantity
	switch {
	case action == "add" && qty <= 0:
		return 0, errors.New("quantity must be positive")
	case qty < 0:
		return 0, errors.New("quantity must not be negative")
	}
	return qty, nil
}

func setNoStore(w http.ResponseWriter) {
	w.Header().Set("Cache-Control", "no-store, no-cache, max-age=0, must-revalidate")
	w.Header().Set("Pragma", "no-cache")
}
