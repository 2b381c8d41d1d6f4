package commerce

import (
	"bytes"
	"encoding/json"
	"strings"

	"github.com/hanko-field/storefront/internal/domain"
)

// flexID accepts identifiers encoded either as JSON numbers or strings.
type flexID string

func (f *flexID) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || bytes.Equal(data, []byte("null")) {
		*f = ""
		return nil
	}
	if data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*f = flexID(strings.TrimSpace(s))
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(data, &n); err != nil {
		return err
	}
	*f = flexID(n.String())
	return nil
}

type productPayload struct {
	ID    flexID       `json:"id"`
	Name  string       `json:"name"`
	Price domain.Money `json:"price"`
	Image string       `json:"image"`
}

func (p productPayload) toDomain() domain.Product {
	return domain.Product{
		ID:    string(p.ID),
		Name:  strings.TrimSpace(p.Name),
		Price: p.Price,
		Image: strings.TrimSpace(p.Image),
	}
}

type cartItemPayload struct {
	ID         flexID         `json:"id"`
	Product    productPayload `json:"product"`
	Quantity   int            `json:"quantity"`
	TotalPrice domain.Money   `json:"total_price"`
}

type cartPayload struct {
	Items       []cartItemPayload `json:"items"`
	TotalAmount domain.Money      `json:"total_amount"`
	ItemCount   int               `json:"item_count"`
}

// toSnapshot converts the wire cart into a normalised snapshot. A payload without
// items (such as the clear_cart acknowledgement) yields an empty cart.
func (p cartPayload) toSnapshot() domain.CartSnapshot {
	items := make([]domain.CartItem, 0, len(p.Items))
	for _, item := range p.Items {
		ref := string(item.Product.ID)
		if ref == "" {
			ref = string(item.ID)
		}
		items = append(items, domain.CartItem{
			ProductRef:  ref,
			ProductName: strings.TrimSpace(item.Product.Name),
			Image:       strings.TrimSpace(item.Product.Image),
			Quantity:    item.Quantity,
			UnitPrice:   item.Product.Price,
			TotalPrice:  item.TotalPrice,
		})
	}
	return domain.NormalizeSnapshot(items)
}

type errorPayload struct {
	Error  string `json:"error"`
	Detail string `json:"detail"`
}

func (p errorPayload) reason() string {
	if s := strings.TrimSpace(p.Error); s != "" {
		return s
	}
	return strings.TrimSpace(p.Detail)
}

type identityPayload struct {
	ID       flexID `json:"id"`
	Username string `json:"username"`
	Email    string `json:"email"`
}

type orderPayload struct {
	ID             flexID `json:"id"`
	Status         string `json:"status"`
	ShirtigoStatus int    `json:"shirtigo_status"`
}

// decodeOrderPayload accepts either a single order object or a list of orders.
func decodeOrderPayload(data []byte) (orderPayload, error) {
	data = bytes.TrimSpace(data)
	if len(data) > 0 && data[0] == '[' {
		var list []orderPayload
		if err := json.Unmarshal(data, &list); err != nil {
			return orderPayload{}, err
		}
		if len(list) == 0 {
			return orderPayload{}, nil
		}
		first := list[0]
		for _, entry := range list[1:] {
			if first.ShirtigoStatus == 0 {
				first.ShirtigoStatus = entry.ShirtigoStatus
			}
		}
		return first, nil
	}
	var single orderPayload
	if len(data) == 0 {
		return single, nil
	}
	err := json.Unmarshal(data, &single)
	return single, err
}
