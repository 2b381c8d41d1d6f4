package services

import (
	"context"

	"github.com/hanko-field/storefront/internal/commerce"
	"github.com/hanko-field/storefront/internal/domain"
)

// CartClient is the remote cart API the engine synchronises against.
type CartClient interface {
	CheckSession(ctx context.Context) bool
	FetchCart(ctx context.Context, kind domain.CartKind) (domain.CartSnapshot, error)
	Mutate(ctx context.Context, kind domain.CartKind, op commerce.Operation) (domain.CartSnapshot, error)
}

// BonusCatalog supplies the upsell product shown while the bonus cart is empty.
type BonusCatalog interface {
	FetchBonusProduct(ctx context.Context) (domain.Product, error)
}

// OrderBackend records a paid order with the commerce API.
type OrderBackend interface {
	SubmitOrder(ctx context.Context, order commerce.OrderSubmission) (commerce.OrderReceipt, error)
}

// PaymentGateway creates and captures processor orders.
type PaymentGateway interface {
	CreateOrder(ctx context.Context, cart domain.CartSnapshot, customer domain.CustomerInfo) (string, error)
	Capture(ctx context.Context, orderID string) (domain.PaymentCapture, error)
}

// CartSource is what checkout needs from the cart engine.
type CartSource interface {
	PrimaryCart(ctx context.Context) domain.CartSnapshot
	ClearAll(ctx context.Context) error
}
