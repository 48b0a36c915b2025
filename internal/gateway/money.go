package gateway

import "github.com/shopspring/decimal"

// ToMinor converts an amount to the gateway's minor units (paise, cents).
func ToMinor(d decimal.Decimal) int64 {
	return d.Shift(2).Round(0).IntPart()
}

// FromMinor converts minor units back to a decimal amount.
func FromMinor(minor int64) decimal.Decimal {
	return decimal.New(minor, -2)
}
