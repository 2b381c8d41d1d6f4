package handlers

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/hanko-field/storefront/internal/domain"
	"github.com/hanko-field/storefront/internal/platform/httpx"
	"github.com/hanko-field/storefront/internal/platform/observability"
	"github.com/hanko-field/storefront/internal/storage"
)

// OrderHandlers list the orders persisted for the current session.
type OrderHandlers struct {
	orders storage.OrderLog
}

// NewOrderHandlers constructs order handlers reading from the local order log.
func NewOrderHandlers(orders storage.OrderLog) *OrderHandlers {
	return &OrderHandlers{orders: orders}
}

// Routes wires the /orders endpoints onto the provided router.
func (h *OrderHandlers) Routes(r chi.Router) {
	if r == nil {
		return
	}
	r.Get("/", h.listOrders)
}

type orderListResponse struct {
	Items []domain.PersistedOrder `json:"items"`
}

func (h *OrderHandlers) listOrders(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.orders == nil {
		httpx.WriteError(ctx, w, httpx.NewError("order_log_unavailable", "order log is unavailable", http.StatusServiceUnavailable))
		return
	}
	session, ok := requireSession(w, r)
	if !ok {
		return
	}
	orders, err := h.orders.List(ctx, session.ID)
	if err != nil {
		observability.FromContext(ctx).Error("list orders", zap.Error(err))
		httpx.WriteError(ctx, w, httpx.NewError("order_log_unavailable", "failed to list orders", http.StatusInternalServerError))
		return
	}
	if orders == nil {
		orders = []domain.PersistedOrder{}
	}
	setNoStore(w)
	httpx.WriteJSON(w, http.StatusOK, orderListResponse{Items: orders})
}
