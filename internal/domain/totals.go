package domain

import "github.com/shopspring/decimal"

// CartTotals summarizes the cart sequence. It is always derived, never stored.
type CartTotals struct {
	TotalItems int
	TotalPrice decimal.Decimal
}

// CalculateTotals sums quantities and unit price × quantity over the sequence.
func CalculateTotals(items []CartItem) CartTotals {
	totals := CartTotals{TotalPrice: decimal.Zero}
	for _, item := range items {
		if item.Quantity <= 0 {
			continue
		}
		totals.TotalItems += item.Quantity
		totals.TotalPrice = totals.TotalPrice.Add(item.Price.Unit().Mul(decimal.NewFromInt(int64(item.Quantity))))
	}
	return totals
}
