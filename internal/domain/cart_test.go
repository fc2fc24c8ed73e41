package domain

import (
	"encoding/json"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
)

func TestCartItemUnmarshal_NormalizesIdentityField(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name string
		body string
		want string
	}{
		{name: "productId", body: `{"productId":"p-1","quantity":2,"originalPrice":100}`, want: "p-1"},
		{name: "id", body: `{"id":"p-2","quantity":1,"originalPrice":100}`, want: "p-2"},
		{name: "document id", body: `{"_id":"p-3","quantity":1,"price":100}`, want: "p-3"},
		{name: "productId wins", body: `{"productId":"p-4","_id":"other","quantity":1,"price":1}`, want: "p-4"},
		{name: "numeric id", body: `{"id":42,"quantity":1,"price":1}`, want: "42"},
	}

	for _, tc := range cases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			var item CartItem
			require.NoError(t, json.Unmarshal([]byte(tc.body), &item))
			require.Equal(t, tc.want, item.ProductID)
			require.NotContains(t, item.Customization, "_id")
			require.NotContains(t, item.Customization, "id")
		})
	}
}

func TestCartItemUnmarshal_MissingIdentity(t *testing.T) {
	t.Parallel()

	var item CartItem
	err := json.Unmarshal([]byte(`{"quantity":1,"price":10}`), &item)
	require.ErrorIs(t, err, ErrMissingProductID)
}

func TestCartItemUnmarshal_QuantityForms(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name    string
		body    string
		want    int
		wantErr bool
	}{
		{name: "integer", body: `{"id":"a","quantity":2}`, want: 2},
		{name: "trailing zero fraction", body: `{"id":"a","quantity":2.0}`, want: 2},
		{name: "exponent", body: `{"id":"a","quantity":3e0}`, want: 3},
		{name: "null", body: `{"id":"a","quantity":null}`, want: 0},
		{name: "fractional", body: `{"id":"a","quantity":2.5}`, wantErr: true},
		{name: "string", body: `{"id":"a","quantity":"two"}`, wantErr: true},
	}

	for _, tc := range cases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			var item CartItem
			err := json.Unmarshal([]byte(tc.body), &item)
			if tc.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			require.Equal(t, tc.want, item.Quantity)
		})
	}
}

func TestCartItemJSON_PreservesCustomizationAndPrices(t *testing.T) {
	t.Parallel()

	var item CartItem
	require.NoError(t, json.Unmarshal([]byte(`{"_id":"seal-01","quantity":3,"price":"1200","discountedPrice":980,"engraving":"山田","size":"15mm"}`), &item))

	require.Equal(t, 3, item.Quantity)
	require.True(t, item.Price.Original.Equal(decimal.NewFromInt(1200)))
	require.True(t, item.Price.Discounted.Valid)
	require.True(t, item.Price.Discounted.Decimal.Equal(decimal.NewFromInt(980)))
	require.Equal(t, "山田", item.Customization["engraving"])

	encoded, err := json.Marshal(item)
	require.NoError(t, err)

	var wire map[string]any
	require.NoError(t, json.Unmarshal(encoded, &wire))
	require.Equal(t, "seal-01", wire["productId"])
	require.Equal(t, float64(1200), wire["originalPrice"])
	require.Equal(t, float64(980), wire["discountedPrice"])
	require.Equal(t, "15mm", wire["size"])
	require.NotContains(t, wire, "_id")
	require.NotContains(t, wire, "price")
}

func TestCartItemMarshal_OmitsMissingDiscount(t *testing.T) {
	t.Parallel()

	encoded, err := json.Marshal(CartItem{ProductID: "a", Quantity: 1, Price: PriceSnapshot{Original: decimal.RequireFromString("19.99")}})
	require.NoError(t, err)
	require.JSONEq(t, `{"productId":"a","quantity":1,"originalPrice":19.99}`, string(encoded))
}

func TestNormalizeItems_DropsInvalidAndMergesDuplicates(t *testing.T) {
	t.Parallel()

	items := NormalizeItems([]CartItem{
		{ProductID: " a ", Quantity: 1},
		{ProductID: "", Quantity: 4},
		{ProductID: "b", Quantity: 0},
		{ProductID: "c", Quantity: 2},
		{ProductID: "a", Quantity: 2},
	})

	require.Len(t, items, 2)
	require.Equal(t, "a", items[0].ProductID)
	require.Equal(t, 3, items[0].Quantity)
	require.Equal(t, "c", items[1].ProductID)
}

func TestNormalizeProduct(t *testing.T) {
	t.Parallel()

	item, err := NormalizeProduct(Product{
		ID:            " seal-9 ",
		OriginalPrice: decimal.NewFromInt(500),
		Customization: map[string]any{"engraving": "<b>Sato</b>", "productId": "spoof"},
	}, 0)
	require.NoError(t, err)
	require.Equal(t, "seal-9", item.ProductID)
	require.Equal(t, 1, item.Quantity)
	require.Equal(t, "Sato", item.Customization["engraving"])
	require.NotContains(t, item.Customization, "productId")

	_, err = NormalizeProduct(Product{ID: "  "}, 1)
	require.ErrorIs(t, err, ErrMissingProductID)
}

func TestProductUnmarshal_UsesCartIngressRules(t *testing.T) {
	t.Parallel()

	var p Product
	require.NoError(t, json.Unmarshal([]byte(`{"_id":"x1","price":100,"discountedPrice":80,"color":"red"}`), &p))
	require.Equal(t, "x1", p.ID)
	require.True(t, p.OriginalPrice.Equal(decimal.NewFromInt(100)))
	require.True(t, p.DiscountedPrice.Valid)
	require.Equal(t, "red", p.Customization["color"])
}

func TestNormalizeIdentity(t *testing.T) {
	t.Parallel()

	require.Equal(t, "user@example.com", NormalizeIdentity("  User@Example.COM "))
	require.Equal(t, "user@example.com", NormalizeIdentity("ｕｓｅｒ@example.com"))
	require.Equal(t, "", NormalizeIdentity("   "))
}
