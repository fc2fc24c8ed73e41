package domain

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
)

// ErrMissingProductID is returned when a cart item or product carries no usable identity.
var ErrMissingProductID = errors.New("domain: product id is required")

// PriceSnapshot captures the prices of a product at the moment it entered the cart.
type PriceSnapshot struct {
	Original   decimal.Decimal
	Discounted decimal.NullDecimal
}

// Unit returns the price charged per unit: the discounted price when present, otherwise the original.
func (p PriceSnapshot) Unit() decimal.Decimal {
	if p.Discounted.Valid {
		return p.Discounted.Decimal
	}
	return p.Original
}

// CartItem stores a single product entry within the cart sequence.
type CartItem struct {
	ProductID     string
	Quantity      int
	Price         PriceSnapshot
	Customization map[string]any
}

// CartSnapshot is the read model handed to callers after each cart operation.
type CartSnapshot struct {
	Identity string
	Items    []CartItem
	Totals   CartTotals
}

// wire field names reserved by CartItem; every other top-level field is customization.
const (
	fieldProductID       = "productId"
	fieldLegacyID        = "id"
	fieldDocumentID      = "_id"
	fieldQuantity        = "quantity"
	fieldOriginalPrice   = "originalPrice"
	fieldPrice           = "price"
	fieldDiscountedPrice = "discountedPrice"
)

var reservedItemFields = map[string]struct{}{
	fieldProductID:       {},
	fieldLegacyID:        {},
	fieldDocumentID:      {},
	fieldQuantity:        {},
	fieldOriginalPrice:   {},
	fieldPrice:           {},
	fieldDiscountedPrice: {},
}

// MarshalJSON writes the flat wire form: productId, quantity, prices and customization fields side by side.
func (i CartItem) MarshalJSON() ([]byte, error) {
	out := make(map[string]any, len(i.Customization)+4)
	for key, value := range i.Customization {
		if _, reserved := reservedItemFields[key]; reserved {
			continue
		}
		out[key] = value
	}
	out[fieldProductID] = i.ProductID
	out[fieldQuantity] = i.Quantity
	out[fieldOriginalPrice] = json.Number(i.Price.Original.String())
	if i.Price.Discounted.Valid {
		out[fieldDiscountedPrice] = json.Number(i.Price.Discounted.Decimal.String())
	}
	return json.Marshal(out)
}

// UnmarshalJSON accepts the identity under productId, id or _id and the original price under
// originalPrice or price. Unknown fields are kept as customization.
func (i *CartItem) UnmarshalJSON(data []byte) error {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return fmt.Errorf("domain: decode cart item: %w", err)
	}

	id, err := firstString(raw, fieldProductID, fieldLegacyID, fieldDocumentID)
	if err != nil {
		return err
	}

	item := CartItem{ProductID: id}
	if rawQty, ok := raw[fieldQuantity]; ok && !isNull(rawQty) {
		var qty json.Number
		if err := json.Unmarshal(rawQty, &qty); err != nil {
			return fmt.Errorf("domain: decode quantity: %w", err)
		}
		parsed, err := decimal.NewFromString(qty.String())
		if err != nil {
			return fmt.Errorf("domain: decode quantity: %w", err)
		}
		// Integral values written as 2.0 or 2e0 are whole units.
		if !parsed.IsInteger() {
			return fmt.Errorf("domain: decode quantity: %s is not a whole number", qty)
		}
		item.Quantity = int(parsed.IntPart())
	}

	original, ok, err := decimalField(raw, fieldOriginalPrice)
	if err != nil {
		return err
	}
	if !ok {
		original, _, err = decimalField(raw, fieldPrice)
		if err != nil {
			return err
		}
	}
	item.Price.Original = original

	if discounted, ok, err := decimalField(raw, fieldDiscountedPrice); err != nil {
		return err
	} else if ok {
		item.Price.Discounted = decimal.NewNullDecimal(discounted)
	}

	for key, value := range raw {
		if _, reserved := reservedItemFields[key]; reserved {
			continue
		}
		var decoded any
		if err := json.Unmarshal(value, &decoded); err != nil {
			return fmt.Errorf("domain: decode customization %q: %w", key, err)
		}
		if item.Customization == nil {
			item.Customization = make(map[string]any)
		}
		item.Customization[key] = decoded
	}

	*i = item
	return nil
}

// Clone returns a deep-enough copy so callers cannot mutate synchronizer state through maps.
func (i CartItem) Clone() CartItem {
	out := i
	if len(i.Customization) > 0 {
		out.Customization = make(map[string]any, len(i.Customization))
		for k, v := range i.Customization {
			out.Customization[k] = v
		}
	}
	return out
}

// CloneItems copies a cart sequence preserving order.
func CloneItems(items []CartItem) []CartItem {
	if len(items) == 0 {
		return []CartItem{}
	}
	out := make([]CartItem, len(items))
	for idx, item := range items {
		out[idx] = item.Clone()
	}
	return out
}

// NormalizeItems drops entries without an identity or with a non-positive quantity and merges
// duplicates so each product appears once, keeping the first occurrence's position.
func NormalizeItems(items []CartItem) []CartItem {
	out := make([]CartItem, 0, len(items))
	index := make(map[string]int, len(items))
	for _, item := range items {
		id := strings.TrimSpace(item.ProductID)
		if id == "" || item.Quantity <= 0 {
			continue
		}
		if pos, ok := index[id]; ok {
			out[pos].Quantity += item.Quantity
			continue
		}
		clone := item.Clone()
		clone.ProductID = id
		clone.Customization = sanitizeCustomization(clone.Customization)
		index[id] = len(out)
		out = append(out, clone)
	}
	return out
}

func firstString(raw map[string]json.RawMessage, keys ...string) (string, error) {
	for _, key := range keys {
		value, ok := raw[key]
		if !ok || isNull(value) {
			continue
		}
		var s string
		if err := json.Unmarshal(value, &s); err != nil {
			var n json.Number
			if numErr := json.Unmarshal(value, &n); numErr != nil {
				return "", fmt.Errorf("domain: decode %s: %w", key, err)
			}
			s = n.String()
		}
		if s = strings.TrimSpace(s); s != "" {
			return s, nil
		}
	}
	return "", ErrMissingProductID
}

func decimalField(raw map[string]json.RawMessage, key string) (decimal.Decimal, bool, error) {
	value, ok := raw[key]
	if !ok || isNull(value) {
		return decimal.Zero, false, nil
	}
	var d decimal.Decimal
	if err := d.UnmarshalJSON(value); err != nil {
		return decimal.Zero, false, fmt.Errorf("domain: decode %s: %w", key, err)
	}
	return d, true, nil
}

func isNull(raw json.RawMessage) bool {
	return len(bytes.TrimSpace(raw)) == 0 || bytes.Equal(bytes.TrimSpace(raw), []byte("null"))
}
