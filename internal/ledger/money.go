package ledger

import "github.com/shopspring/decimal"

// Cent is the smallest monetary unit tracked by the ledger
var Cent = decimal.New(1, -2)

// Round2 rounds d to two decimal places, half away from zero
func Round2(d decimal.Decimal) decimal.Decimal {
	return d.Round(2)
}

// WithinCent reports whether a and b differ by at most one cent
func WithinCent(a, b decimal.Decimal) bool {
	return a.Sub(b).Abs().LessThanOrEqual(Cent)
}
