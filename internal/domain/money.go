package domain

import "github.com/shopspring/decimal"

// PnLRate returns pnl/cost as a percentage rounded to two decimal places.
// Cost must be positive.
func PnLRate(pnl, cost int64) float64 {
	if cost <= 0 {
		return 0
	}
	rate := decimal.NewFromInt(pnl).
		Div(decimal.NewFromInt(cost)).
		Mul(decimal.NewFromInt(100)).
		Round(2)
	f, _ := rate.Float64()
	return f
}

// Weight returns part/total as a percentage rounded to two decimal places.
func Weight(part, total int64) float64 {
	if total <= 0 {
		return 0
	}
	w := decimal.NewFromInt(part).
		Div(decimal.NewFromInt(total)).
		Mul(decimal.NewFromInt(100)).
		Round(2)
	f, _ := w.Float64()
	return f
}
