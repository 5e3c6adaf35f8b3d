package checkout

import (
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
)

// zeroDecimal lists ISO 4217 currencies without a minor unit.
var zeroDecimal = map[string]bool{
	"BIF": true, "CLP": true, "DJF": true, "GNF": true, "JPY": true, "KMF": true, "KRW": true,
	"MGA": true, "PYG": true, "RWF": true, "UGX": true, "VND": true, "VUV": true, "XAF": true,
	"XOF": true, "XPF": true,
}

// MinorUnits converts a major-unit amount to the gateway's integer minor unit, rounding half away
// from zero.
func MinorUnits(amount decimal.Decimal, currency string) (int64, error) {
	if amount.IsNegative() {
		return 0, fmt.Errorf("negative amount %s", amount)
	}
	exp := int32(2)
	if zeroDecimal[strings.ToUpper(currency)] {
		exp = 0
	}
	minor := amount.Shift(exp).Round(0)
	if !minor.IsInteger() {
		return 0, fmt.Errorf("amount %s is not representable", amount)
	}
	return minor.IntPart(), nil
}
