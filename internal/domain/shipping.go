package domain

const (
	shippingMessageNeedTwo  = "Get 2 more items to unlock FREE SHIPPING on your order.."
	shippingMessageNeedOne  = "Get 1 more item to unlock FREE SHIPPING on your order.."
	shippingMessageUnlocked = "Congrats! You've unlocked FREE SHIPPING"

	// FreeShippingItemCount is the primary item count that unlocks free shipping.
	FreeShippingItemCount = 2
)

// ShippingThreshold is the derived free-shipping progress view.
type ShippingThreshold struct {
	Message         string
	ProgressPercent int
	Unlocked        bool
}

// ShippingThresholdFor derives the progress view from the primary cart's item count.
func ShippingThresholdFor(itemCount int) ShippingThreshold {
	switch {
	case itemCount >= FreeShippingItemCount:
		return ShippingThreshold{Message: shippingMessageUnlocked, ProgressPercent: 100, Unlocked: true}
	case itemCount == 1:
		return ShippingThreshold{Message: shippingMessageNeedOne, ProgressPercent: 50}
	default:
		return ShippingThreshold{Message: shippingMessageNeedTwo, ProgressPercent: 0}
	}
}
