package handlers

import (
	"context"
	"errors"
	"io"
	"net/http"
	"strings"

	"github.com/hanko-field/storefront/internal/payments"
	"github.com/hanko-field/storefront/internal/platform/httpx"
	"github.com/hanko-field/storefront/internal/services"
)

var (
	errEmptyBody    = errors.New("request body is required")
	errBodyTooLarge = errors.New("request body too large")
)

const maxBodySize = 16 * 1024

func readLimitedBody(r *http.Request, limit int64) ([]byte, error) {
	if r == nil || r.Body == nil {
		return nil, errEmptyBody
	}
	if limit <= 0 {
		limit = maxBodySize
	}
	data, err := io.ReadAll(io.LimitReader(r.Body, limit+1))
	if err != nil {
		return nil, err
	}
	if len(strings.TrimSpace(string(data))) == 0 {
		return nil, errEmptyBody
	}
	if int64(len(data)) > limit {
		return nil, errBodyTooLarge
	}
	return data, nil
}

func writeBodyError(ctx context.Context, w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, errBodyTooLarge):
		httpx.WriteError(ctx, w, httpx.NewError("payload_too_large", "request body exceeds allowed size", http.StatusRequestEntityTooLarge))
	default:
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", err.Error(), http.StatusBadRequest))
	}
}

// writeServiceError maps the storefront error taxonomy onto HTTP statuses. message is the
// user-facing text already projected by the service; it is echoed so clients without a
// board subscription still see it.
func writeServiceError(ctx context.Context, w http.ResponseWriter, err error, message string) {
	if err == nil {
		return
	}
	switch {
	case errors.Is(err, services.ErrCheckoutInProgress):
		httpx.WriteError(ctx, w, httpx.NewError("checkout_in_progress", "a checkout attempt is already running", http.StatusConflict))
		return
	case errors.Is(err, services.ErrCheckoutCompleted):
		httpx.WriteError(ctx, w, httpx.NewError("checkout_completed", "order already placed; add items to start a new checkout", http.StatusConflict))
		return
	case errors.Is(err, services.ErrAttemptEnded):
		httpx.WriteError(ctx, w, httpx.NewError("checkout_attempt_ended", "the checkout attempt was cancelled or replaced", http.StatusConflict))
		return
	case errors.Is(err, services.ErrNoPendingCapture):
		httpx.WriteError(ctx, w, httpx.NewError("no_pending_capture", "no payment is awaiting approval", http.StatusConflict))
		return
	case errors.Is(err, payments.ErrUnsupportedProvider):
		httpx.WriteError(ctx, w, httpx.NewError("unsupported_provider", err.Error(), http.StatusBadRequest))
		return
	}

	httpx.WriteError(ctx, w, httpx.FromError(err, message))
}
