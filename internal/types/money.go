// README: Common money value object used across modules.
package types

import "github.com/shopspring/decimal"

// Money holds an amount in minor currency units (paise for INR).
type Money struct {
	Amount   int64  `json:"amountMinor"`
	Currency string `json:"currency"`
}

// MoneyFromDecimal converts a major-unit decimal into minor units, rounding half away from zero.
func MoneyFromDecimal(v decimal.Decimal, currency string) Money {
	return Money{Amount: v.Shift(2).Round(0).IntPart(), Currency: currency}
}

// Decimal returns the amount in major units.
func (m Money) Decimal() decimal.Decimal {
	return decimal.New(m.Amount, -2)
}

func (m Money) Float() float64 {
	f, _ := m.Decimal().Float64()
	return f
}
