// Package storage holds the storefront's local durable state: the append-only
// order log and the session-scoped cart cache.
package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/hanko-field/storefront/internal/domain"
)

var (
	// ErrCacheMiss is returned when no cart is cached for a scope.
	ErrCacheMiss = errors.New("storage: cache miss")
	// ErrDuplicateOrder is returned when an order id was already appended.
	ErrDuplicateOrder = errors.New("storage: duplicate order id")
	// ErrInvalidScope is returned for blank scopes.
	ErrInvalidScope = errors.New("storage: scope is required")
)

// OrderLog is an append-only list of completed orders per session scope.
// Entries are never mutated; List returns them in append order.
type OrderLog interface {
	Append(ctx context.Context, scope string, order domain.PersistedOrder) error
	List(ctx context.Context, scope string) ([]domain.PersistedOrder, error)
}

// CartCache keeps the last known dual-cart state for a session scope.
// Put overwrites the entry wholesale.
type CartCache interface {
	Put(ctx context.Context, scope string, cart CachedCart) error
	Get(ctx context.Context, scope string) (CachedCart, error)
	Delete(ctx context.Context, scope string) error
}

// CachedCart is the cached copy of both carts.
type CachedCart struct {
	Primary   domain.CartSnapshot `json:"primary"`
	Bonus     domain.CartSnapshot `json:"bonus"`
	UpdatedAt time.Time           `json:"updatedAt"`
}

func normalizeScope(scope string) (string, error) {
	scope = strings.TrimSpace(scope)
	if scope == "" {
		return "", ErrInvalidScope
	}
	return scope, nil
}

func encodeOrder(order domain.PersistedOrder) ([]byte, error) {
	data, err := json.Marshal(order)
	if err != nil {
		return nil, fmt.Errorf("storage: encode order %s: %w", order.ID, err)
	}
	return data, nil
}

func decodeOrder(data []byte) (domain.PersistedOrder, error) {
	var order domain.PersistedOrder
	if err := json.Unmarshal(data, &order); err != nil {
		return domain.PersistedOrder{}, fmt.Errorf("storage: decode order: %w", err)
	}
	return order, nil
}
