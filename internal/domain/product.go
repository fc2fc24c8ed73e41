package domain

import (
	"encoding/json"
	"html"
	"strings"

	"github.com/microcosm-cc/bluemonday"
	"github.com/shopspring/decimal"
)

var customizationPolicy = bluemonday.StrictPolicy()

// Product is the catalog shape handed to the cart by the UI layer. Catalog payloads expose the
// identity either as id or as _id; both are folded into ID by UnmarshalJSON.
type Product struct {
	ID              string
	OriginalPrice   decimal.Decimal
	DiscountedPrice decimal.NullDecimal
	Customization   map[string]any
}

// UnmarshalJSON reuses the cart item ingress rules so both shapes normalize identically.
func (p *Product) UnmarshalJSON(data []byte) error {
	var item CartItem
	if err := json.Unmarshal(data, &item); err != nil {
		return err
	}
	*p = Product{
		ID:              item.ProductID,
		OriginalPrice:   item.Price.Original,
		DiscountedPrice: item.Price.Discounted,
		Customization:   item.Customization,
	}
	return nil
}

// NormalizeProduct converts a product into a cart item with the canonical identity and the
// given quantity. Customization strings are stripped of markup.
func NormalizeProduct(p Product, quantity int) (CartItem, error) {
	id := strings.TrimSpace(p.ID)
	if id == "" {
		return CartItem{}, ErrMissingProductID
	}
	if quantity < 1 {
		quantity = 1
	}
	item := CartItem{
		ProductID: id,
		Quantity:  quantity,
		Price: PriceSnapshot{
			Original:   p.OriginalPrice,
			Discounted: p.DiscountedPrice,
		},
		Customization: sanitizeCustomization(p.Customization),
	}
	return item, nil
}

func sanitizeCustomization(in map[string]any) map[string]any {
	if len(in) == 0 {
		return nil
	}
	out := make(map[string]any, len(in))
	for key, value := range in {
		if _, reserved := reservedItemFields[key]; reserved {
			continue
		}
		if s, ok := value.(string); ok {
			// bluemonday escapes entities; store plain text and leave escaping to renderers.
			out[key] = strings.TrimSpace(html.UnescapeString(customizationPolicy.Sanitize(s)))
			continue
		}
		out[key] = value
	}
	if len(out) == 0 {
		return nil
	}
	return out
}
