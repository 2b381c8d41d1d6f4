package httpx

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5/middleware"

	"github.com/hanko-field/storefront/internal/domain"
	"github.com/hanko-field/storefront/internal/platform/requestctx"
)

// Error is the JSON error envelope returned by the storefront.
type Error struct {
	Code    string
	Message string
	Status  int
	Kind    domain.ErrorKind
	Details map[string]any
}

// NewError constructs a new Error with the provided parameters.
func NewError(code, message string, status int) Error {
	if status == 0 {
		status = http.StatusInternalServerError
	}
	return Error{
		Code:    sanitize(code, 80),
		Message: sanitize(message, 512),
		Status:  status,
	}
}

// kindStatus maps the storefront failure taxonomy to a status and envelope code.
var kindStatus = map[domain.ErrorKind]struct {
	status int
	code   string
}{
	domain.KindNetwork:          {http.StatusBadGateway, "upstream_unreachable"},
	domain.KindEmptyCart:        {http.StatusUnprocessableEntity, "empty_cart"},
	domain.KindCartFailure:      {http.StatusUnprocessableEntity, "cart_update_failed"},
	domain.KindMalformedGateway: {http.StatusBadGateway, "payment_response_invalid"},
	domain.KindMalformedCapture: {http.StatusBadGateway, "payment_response_invalid"},
	domain.KindBackendRejected:  {http.StatusBadGateway, "order_rejected"},
	domain.KindUserCancelled:    {http.StatusConflict, "payment_cancelled"},
	domain.KindStorage:          {http.StatusInternalServerError, "order_log_unavailable"},
}

// FromError builds the envelope for a taxonomy error. message is the user-facing text;
// when empty the status text is used so internal detail never leaks.
func FromError(err error, message string) Error {
	kind := domain.KindOf(err)
	status, code := http.StatusInternalServerError, "storefront_error"
	if mapped, ok := kindStatus[kind]; ok {
		status, code = mapped.status, mapped.code
	}
	if strings.TrimSpace(message) == "" {
		message = http.StatusText(status)
	}
	e := NewError(code, message, status)
	e.Kind = kind
	return e
}

// WithDetails attaches additional JSON-serialisable metadata.
func (e Error) WithDetails(details map[string]any) Error {
	if len(details) == 0 {
		return e
	}
	merged := make(map[string]any, len(details)+len(e.Details))
	for k, v := range e.Details {
		merged[k] = v
	}
	for k, v := range details {
		merged[k] = v
	}
	e.Details = merged
	return e
}

// WriteError writes the structured error as JSON, tagged with the request and session ids.
func WriteError(ctx context.Context, w http.ResponseWriter, err Error) {
	status := err.Status
	if status == 0 {
		status = http.StatusInternalServerError
	}

	payload := map[string]any{
		"error":   err.Code,
		"message": err.Message,
		"status":  status,
	}
	if err.Kind != "" {
		payload["kind"] = string(err.Kind)
	}
	if requestID := sanitize(middleware.GetReqID(ctx), 80); requestID != "" {
		payload["request_id"] = requestID
	}
	if session := sanitize(requestctx.SessionID(ctx), 80); session != "" {
		payload["session_id"] = session
	}
	for k, v := range err.Details {
		payload[k] = v
	}

	WriteJSON(w, status, payload)
}

// WriteJSON encodes payload with the given status.
func WriteJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func sanitize(value string, limit int) string {
	value = strings.Join(strings.FieldsFunc(value, func(r rune) bool { return r == '\n' || r == '\r' }), " ")
	value = strings.TrimSpace(value)
	if len(value) > limit {
		value = value[:limit]
	}
	return value
}
