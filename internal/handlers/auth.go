package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/hanko-field/storefront/internal/domain"
	"github.com/hanko-field/storefront/internal/platform/httpx"
	"github.com/hanko-field/storefront/internal/platform/observability"
)

// AuthHandlers pass login and logout through to the commerce API and reload the carts.
type AuthHandlers struct{}

// NewAuthHandlers constructs the auth pass-through handlers.
func NewAuthHandlers() *AuthHandlers {
	return &AuthHandlers{}
}

// Routes wires the /auth endpoints onto the provided router.
func (h *AuthHandlers) Routes(r chi.Router) {
	if r == nil {
		return
	}
	r.Post("/login", h.login)
	r.Post("/logout", h.logout)
}

type loginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type loginResponse struct {
	User userPayload  `json:"user"`
	Cart cartResponse `json:"cart"`
}

type userPayload struct {
	ID       string `json:"id"`
	Username string `json:"username"`
	Email    string `json:"email,omitempty"`
}

func (h *AuthHandlers) login(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	session, ok := requireSession(w, r)
	if !ok {
		return
	}
	if session.Auth == nil {
		httpx.WriteError(ctx, w, httpx.NewError("auth_unavailable", "authentication is unavailable", http.StatusServiceUnavailable))
		return
	}

	body, err := readLimitedBody(r, maxBodySize)
	if err != nil {
		writeBodyError(ctx, w, err)
		return
	}
	var req loginRequest
	if err := json.Unmarshal(body, &req); err != nil {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "invalid JSON payload", http.StatusBadRequest))
		return
	}
	if strings.TrimSpace(req.Username) == "" || req.Password == "" {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "username and password are required", http.StatusBadRequest))
		return
	}

	detached := context.WithoutCancel(ctx)
	identity, err := session.Auth.Login(detached, req.Username, req.Password)
	if err != nil {
		var derr *domain.Error
		if errors.As(err, &derr) && derr.Kind == domain.KindBackendRejected && derr.Status < http.StatusInternalServerError {
			httpx.WriteError(ctx, w, httpx.NewError("invalid_credentials", "username or password is incorrect", http.StatusUnauthorized))
			return
		}
		observability.FromContext(ctx).Warn("login failed", zap.Error(err))
		writeServiceError(ctx, w, err, "")
		return
	}

	if err := session.Carts.Initialize(detached); err != nil {
		observability.FromContext(ctx).Warn("cart reload after login failed", zap.Error(err))
	}
	httpx.WriteJSON(w, http.StatusOK, loginResponse{
		User: userPayload{ID: identity.ID, Username: identity.Username, Email: identity.Email},
		Cart: buildCartResponse(session),
	})
}

func (h *AuthHandlers) logout(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	session, ok := requireSession(w, r)
	if !ok {
		return
	}
	if session.Auth == nil {
		httpx.WriteError(ctx, w, httpx.NewError("auth_unavailable", "authentication is unavailable", http.StatusServiceUnavailable))
		return
	}

	detached := context.WithoutCancel(ctx)
	if err := session.Auth.Logout(detached); err != nil {
		writeServiceError(ctx, w, err, "")
		return
	}
	if err := session.Carts.Initialize(detached); err != nil {
		observability.FromContext(ctx).Warn("cart reload after logout failed", zap.Error(err))
	}
	w.WriteHeader(http.StatusNoContent)
}
