package valuation

import "github.com/shopspring/decimal"

// Round2 rounds half away from zero to two decimal places. Every numeric
// output is rounded through it, at the output boundary only.
func Round2(v float64) float64 {
	return decimal.NewFromFloat(v).Round(2).InexactFloat64()
}
