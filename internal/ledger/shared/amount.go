package shared

import "github.com/shopspring/decimal"

// Tolerance is the rounding tolerance applied to all balance comparisons.
var Tolerance = decimal.NewFromFloat(0.01)

// WithinTolerance reports whether a and b differ by at most Tolerance.
func WithinTolerance(a, b decimal.Decimal) bool {
	return a.Sub(b).Abs().Cmp(Tolerance) <= 0
}

// IsZeroish reports whether v rounds to zero at tolerance precision.
func IsZeroish(v decimal.Decimal) bool {
	return v.Abs().Cmp(Tolerance) < 0
}
