package services

import (
	"context"
	_ "embed"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strings"

	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"github.com/hanko-field/storefront/internal/commerce"
	"github.com/hanko-field/storefront/internal/domain"
	"github.com/hanko-field/storefront/internal/payments"
	"github.com/hanko-field/storefront/internal/platform/requestctx"
)

// Category is the user-facing class of a failure.
type Category string

const (
	CategoryOrderIssue Category = "order_issue"
	CategoryValidation Category = "validation"
	CategoryNetwork    Category = "network"
	CategoryCart       Category = "cart"
	CategorySystem     Category = "system"
	CategoryGeneric    Category = "generic"
	CategoryCancelled  Category = "cancelled"
)

//go:embed messages/messages.yaml
var defaultCatalog []byte

type cartMessages struct {
	Primary map[string]string `yaml:"primary"`
	Bonus   map[string]string `yaml:"bonus"`
}

func (m cartMessages) lookup(kind domain.CartKind, key string) string {
	if kind == domain.CartBonus {
		return m.Bonus[key]
	}
	return m.Primary[key]
}

type messageCatalog struct {
	Checkout map[string]string `yaml:"checkout"`
	Cart     struct {
		Network string       `yaml:"network"`
		Success cartMessages `yaml:"success"`
		Failure cartMessages `yaml:"failure"`
	} `yaml:"cart"`
}

// ErrorReporter turns failures into categories and user-facing messages.
type ErrorReporter struct {
	catalog messageCatalog
	logger  *zap.Logger
}

// NewErrorReporter loads the embedded message catalog.
func NewErrorReporter(logger *zap.Logger) (*ErrorReporter, error) {
	return NewErrorReporterFromCatalog(defaultCatalog, logger)
}

// NewErrorReporterFromCatalog loads messages from a YAML document.
func NewErrorReporterFromCatalog(data []byte, logger *zap.Logger) (*ErrorReporter, error) {
	var catalog messageCatalog
	if err := yaml.Unmarshal(data, &catalog); err != nil {
		return nil, fmt.Errorf("error reporter: parse catalog: %w", err)
	}
	if strings.TrimSpace(catalog.Checkout[string(CategoryGeneric)]) == "" {
		return nil, errors.New("error reporter: catalog is missing checkout.generic")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ErrorReporter{catalog: catalog, logger: logger}, nil
}

// Classify maps err onto a Category. Classified errors are matched by kind; anything
// else falls back to its text.
func (r *ErrorReporter) Classify(err error) Category {
	if err == nil {
		return CategoryGeneric
	}
	var derr *domain.Error
	if errors.As(err, &derr) && derr != nil {
		switch derr.Kind {
		case domain.KindNetwork:
			return CategoryNetwork
		case domain.KindEmptyCart, domain.KindCartFailure:
			return CategoryCart
		case domain.KindMalformedGateway:
			if derr.Reason == payments.ReasonEmptyOrderID {
				return CategoryOrderIssue
			}
			return CategorySystem
		case domain.KindMalformedCapture, domain.KindStorage:
			return CategorySystem
		case domain.KindBackendRejected:
			if derr.Status >= http.StatusBadRequest && derr.Status < http.StatusInternalServerError {
				return CategoryValidation
			}
			return CategoryOrderIssue
		case domain.KindUserCancelled:
			return CategoryCancelled
		}
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return CategoryNetwork
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return CategoryNetwork
	}
	return classifyText(err.Error())
}

func classifyText(msg string) Category {
	lower := strings.ToLower(msg)
	switch {
	case strings.Contains(lower, "order id"):
		return CategoryOrderIssue
	case strings.Contains(lower, "validation"):
		return CategoryValidation
	case strings.Contains(lower, "network"), strings.Contains(lower, "timeout"):
		return CategoryNetwork
	case strings.Contains(lower, "cart"), strings.Contains(lower, "items"):
		return CategoryCart
	case strings.Contains(lower, "format"), strings.Contains(lower, "unexpected"):
		return CategorySystem
	default:
		return CategoryGeneric
	}
}

// CheckoutMessage returns the banner text for a failed checkout.
func (r *ErrorReporter) CheckoutMessage(err error) string {
	return r.message(r.Classify(err))
}

// CheckoutSuccess returns the banner text for a persisted order.
func (r *ErrorReporter) CheckoutSuccess() string {
	if msg := r.catalog.Checkout["success"]; msg != "" {
		return msg
	}
	return "Payment successful!"
}

func (r *ErrorReporter) message(category Category) string {
	if msg := r.catalog.Checkout[string(category)]; msg != "" {
		return msg
	}
	return r.catalog.Checkout[string(CategoryGeneric)]
}

// CartSuccess returns the notification for an applied cart mutation.
func (r *ErrorReporter) CartSuccess(kind domain.CartKind, op commerce.OpKind) string {
	return r.catalog.Cart.Success.lookup(kind, opKey(op))
}

// CartFailure returns the notification for a failed cart mutation: the network message
// for transport failures, otherwise "Error: " and the server's reason or a default.
func (r *ErrorReporter) CartFailure(kind domain.CartKind, op commerce.OpKind, err error) string {
	if domain.KindOf(err) == domain.KindNetwork {
		return r.catalog.Cart.Network
	}
	reason := ""
	var derr *domain.Error
	if errors.As(err, &derr) && derr != nil {
		reason = strings.TrimSpace(derr.Reason)
	}
	if reason == "" {
		reason = r.catalog.Cart.Failure.lookup(kind, opKey(op))
	}
	return "Error: " + reason
}

// Report logs err with its category.
func (r *ErrorReporter) Report(ctx context.Context, scope string, err error) Category {
	category := r.Classify(err)
	logger := r.logger
	if l := requestctx.Logger(ctx); l != requestctx.NoopLogger() {
		logger = l
	}
	logger.Warn("storefront failure",
		zap.String("scope", scope),
		zap.String("category", string(category)),
		zap.String("kind", string(domain.KindOf(err))),
		zap.Error(err),
	)
	return category
}

func opKey(op commerce.OpKind) string {
	switch op {
	case commerce.OpSetQuantity:
		return "set"
	case commerce.OpClear:
		return "clear"
	default:
		return "add"
	}
}
