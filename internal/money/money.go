// Package money rounds and combines currency amounts. All player-visible
// amounts pass through here so float math never leaks sub-cent residue
// into balances or prices.
package money

import "github.com/shopspring/decimal"

// Round rounds an amount to the currency's minimum unit (cents).
func Round(v float64) float64 {
	f, _ := decimal.NewFromFloat(v).Round(2).Float64()
	return f
}

// Mul multiplies a unit price by a quantity and rounds to cents.
func Mul(price, qty float64) float64 {
	f, _ := decimal.NewFromFloat(price).Mul(decimal.NewFromFloat(qty)).Round(2).Float64()
	return f
}

// Sum adds amounts exactly and rounds the total to cents.
func Sum(vs ...float64) float64 {
	total := decimal.Zero
	for _, v := range vs {
		total = total.Add(decimal.NewFromFloat(v))
	}
	f, _ := total.Round(2).Float64()
	return f
}
