package model

import (
	"strings"
	"unicode"

	"github.com/shopspring/decimal"
)

// ParseDecimal strips currency symbols, codes and thousands separators
// from a marketplace price string. ok is false when nothing numeric remains.
func ParseDecimal(s string) (decimal.Decimal, bool) {
	var b strings.Builder
	for _, r := range s {
		if unicode.IsDigit(r) || r == '.' || r == '-' {
			b.WriteRune(r)
		}
	}
	cleaned := strings.Trim(b.String(), ".")
	if cleaned == "" || cleaned == "-" {
		return decimal.Decimal{}, false
	}
	d, err := decimal.NewFromString(cleaned)
	if err != nil {
		return decimal.Decimal{}, false
	}
	return d.Round(2), true
}

// ParseAmount parses "$12.50", "US $1,234.5" or "12.5" into a two-decimal number.
func ParseAmount(s string) *float64 {
	d, ok := ParseDecimal(s)
	if !ok {
		return nil
	}
	return Amount(d)
}

// Amount converts a decimal into a rounded float pointer.
func Amount(d decimal.Decimal) *float64 {
	f, _ := d.Round(2).Float64()
	return &f
}

// NullAmount converts an optional decimal into a nullable amount.
func NullAmount(d decimal.NullDecimal) *float64 {
	if !d.Valid {
		return nil
	}
	return Amount(d.Decimal)
}
