package domain

import (
	"fmt"
	"strings"
)

// CartKind distinguishes the two carts a session holds.
type CartKind string

const (
	// CartPrimary is the main cart for the storefront's principal product.
	CartPrimary CartKind = "primary"
	// CartBonus is the single-item upsell cart.
	CartBonus CartKind = "bonus"
)

// ParseCartKind maps route and form values onto a CartKind.
func ParseCartKind(raw string) (CartKind, error) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "primary", "cart", "main":
		return CartPrimary, nil
	case "bonus", "bonus-cart":
		return CartBonus, nil
	default:
		return "", fmt.Errorf("cart: unknown kind %q", raw)
	}
}

// Product is the catalogue entry a cart line refers to.
type Product struct {
	ID    string
	Name  string
	Price Money
	Image string
}

// CartItem is a single line of a cart snapshot.
type CartItem struct {
	ProductRef  string `json:"productRef"`
	ProductName string `json:"productName,omitempty"`
	Image       string `json:"image,omitempty"`
	Quantity    int    `json:"quantity"`
	UnitPrice   Money  `json:"unitPrice"`
	TotalPrice  Money  `json:"totalPrice"`
}

// CartSnapshot is the full replace-on-write representation of one cart.
type CartSnapshot struct {
	Items       []CartItem `json:"items"`
	ItemCount   int        `json:"itemCount"`
	TotalAmount Money      `json:"totalAmount"`
}

// EmptySnapshot returns a cart without items.
func EmptySnapshot() CartSnapshot {
	return CartSnapshot{Items: []CartItem{}}
}

// IsEmpty reports whether the snapshot holds no items.
func (s CartSnapshot) IsEmpty() bool {
	return len(s.Items) == 0
}

// First returns the first line, used by the single-SKU quantity helpers.
func (s CartSnapshot) First() (CartItem, bool) {
	if len(s.Items) == 0 {
		return CartItem{}, false
	}
	return s.Items[0], true
}

// Clone returns a deep copy so callers cannot mutate engine state.
func (s CartSnapshot) Clone() CartSnapshot {
	out := CartSnapshot{
		Items:       make([]CartItem, len(s.Items)),
		ItemCount:   s.ItemCount,
		TotalAmount: s.TotalAmount,
	}
	copy(out.Items, s.Items)
	return out
}

// NormalizeSnapshot drops zero-quantity lines, fills missing unit/line prices and
// recomputes the derived count and total from the remaining lines.
func NormalizeSnapshot(items []CartItem) CartSnapshot {
	out := CartSnapshot{Items: make([]CartItem, 0, len(items))}
	for _, item := range items {
		if item.Quantity <= 0 {
			continue
		}
		if item.TotalPrice.IsZero() && !item.UnitPrice.IsZero() {
			item.TotalPrice = item.UnitPrice.Times(item.Quantity)
		}
		if item.UnitPrice.IsZero() && !item.TotalPrice.IsZero() {
			item.UnitPrice = item.TotalPrice.DivQuantity(item.Quantity)
		}
		out.Items = append(out.Items, item)
		out.ItemCount += item.Quantity
		out.TotalAmount = out.TotalAmount.Add(item.TotalPrice)
	}
	return out
}

// CombinedTotal sums the primary and bonus totals for display.
func CombinedTotal(primary, bonus CartSnapshot) Money {
	return primary.TotalAmount.Add(bonus.TotalAmount)
}
