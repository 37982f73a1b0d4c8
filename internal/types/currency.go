package types

import (
	"strings"

	"github.com/shopspring/decimal"
)

// CURRENCY_PRECISION maps lower case ISO 4217 codes to their minor unit digits
// TODO add more currencies or look for a library
var CURRENCY_PRECISION = map[string]int32{
	"usd": 2,
	"eur": 2,
	"gbp": 2,
	"aud": 2,
	"cad": 2,
	"chf": 2,
	"sek": 2,
	"nzd": 2,
	"hkd": 2,
	"sgd": 2,
	"jpy": 0,
	"krw": 0,
	"cny": 2,
	"inr": 2,
	"brl": 2,
	"mxn": 2,
	"zar": 2,
	"bhd": 3,
	"kwd": 3,
	"omr": 3,
}

// DefaultCurrencyPrecision applies to currencies missing from CURRENCY_PRECISION
const DefaultCurrencyPrecision int32 = 2

// GetCurrencyPrecision returns the number of minor unit digits of code
func GetCurrencyPrecision(code string) int32 {
	if precision, ok := CURRENCY_PRECISION[strings.ToLower(code)]; ok {
		return precision
	}
	return DefaultCurrencyPrecision
}

// RoundToCurrencyPrecision rounds amount half up to the minor unit of currency
func RoundToCurrencyPrecision(amount decimal.Decimal, currency string) decimal.Decimal {
	return amount.Round(GetCurrencyPrecision(currency))
}
