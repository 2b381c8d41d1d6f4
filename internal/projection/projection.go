// Package projection is the write-only contract between the storefront core and the UI.
// The core writes named regions; it never reads layout back.
package projection

import "slices"

// Region names a UI area the core writes to.
type Region string

const (
	RegionCartCount        Region = "cart.count"
	RegionCartBadge        Region = "cart.badge"
	RegionCartSubtotal     Region = "cart.subtotal"
	RegionCartLines        Region = "cart.lines"
	RegionBonusUpsell      Region = "bonus.upsell"
	RegionBonusLine        Region = "bonus.line"
	RegionShippingMessage  Region = "shipping.message"
	RegionShippingProgress Region = "shipping.progress"
	RegionBannerSuccess    Region = "banner.success"
	RegionBannerError      Region = "banner.error"
	RegionBannerCancel     Region = "banner.cancel"
	RegionPaymentAction    Region = "payment.action"
	RegionNotification     Region = "notification"
)

// Regions lists every region in render order.
var Regions = []Region{
	RegionCartCount,
	RegionCartBadge,
	RegionCartSubtotal,
	RegionCartLines,
	RegionBonusUpsell,
	RegionBonusLine,
	RegionShippingMessage,
	RegionShippingProgress,
	RegionBannerSuccess,
	RegionBannerError,
	RegionBannerCancel,
	RegionPaymentAction,
	RegionNotification,
}

// Tone classifies notifications and banners.
type Tone string

const (
	ToneInfo    Tone = "info"
	ToneSuccess Tone = "success"
	ToneError   Tone = "error"
)

// Line is one rendered cart line.
type Line struct {
	ProductRef string `json:"productRef"`
	Name       string `json:"name"`
	Image      string `json:"image,omitempty"`
	Quantity   int    `json:"quantity"`
	UnitPrice  string `json:"unitPrice"`
	TotalPrice string `json:"totalPrice"`
}

// View is the full content of one region. Writes replace the previous view wholesale.
type View struct {
	Text    string `json:"text,omitempty"`
	Visible bool   `json:"visible"`
	Enabled bool   `json:"enabled,omitempty"`
	Percent int    `json:"percent,omitempty"`
	Tone    Tone   `json:"tone,omitempty"`
	Lines   []Line `json:"lines,omitempty"`
}

// Equal reports whether two views render identically.
func (v View) Equal(o View) bool {
	return v.Text == o.Text &&
		v.Visible == o.Visible &&
		v.Enabled == o.Enabled &&
		v.Percent == o.Percent &&
		v.Tone == o.Tone &&
		slices.Equal(v.Lines, o.Lines)
}

// Projector receives region writes. Ready is closed once the UI can accept writes.
type Projector interface {
	Write(region Region, view View)
	Ready() <-chan struct{}
}

// Hidden is the view of a hidden region.
func Hidden() View { return View{} }

// Shown is a visible text view.
func Shown(text string) View { return View{Text: text, Visible: true} }
