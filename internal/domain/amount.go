package domain

import "github.com/shopspring/decimal"

// BaseUnitDecimals is the number of decimal places between the ledger's base
// unit and one whole currency unit (micro-units).
const BaseUnitDecimals = 6

// FormatAmount renders a base-unit amount as a whole-unit decimal string,
// e.g. 1_666_666 -> "1.666666". Amounts never exceed MaxAmount, so the int64
// conversion is lossless.
func FormatAmount(amount uint64) string {
	return decimal.NewFromInt(int64(amount)).Shift(-BaseUnitDecimals).String()
}

// FormatOdds renders fixed-point odds as a multiplier, e.g. 150 -> "1.5".
func FormatOdds(odds uint64) string {
	return decimal.NewFromInt(int64(odds)).Shift(-2).String()
}
