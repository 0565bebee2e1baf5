// Package core holds the domain model shared by the sync, aggregation and
// transport layers: minor-unit money, linked accounts, transactions and
// categories.
//
// All monetary amounts are integers in the smallest currency unit (kobo,
// cents, pence). Floating point never enters arithmetic; it only appears at
// the formatting boundary.
package core

import (
	"fmt"
	"strconv"
	"strings"
	"unicode"
)

// Money is an amount in minor units of a single currency.
type Money struct {
	Minor    int64
	Currency string
}

// Balances maps an ISO 4217 currency code to a minor-unit total. Totals for
// accounts in different currencies stay partitioned by code; there is no way
// to collapse a Balances into one number without an explicit conversion.
type Balances map[string]int64

// currencySymbols covers the currencies the app actually links. Anything
// else falls back to "CODE 12.34".
var currencySymbols = map[string]string{
	"NGN": "₦",
	"USD": "$",
	"EUR": "€",
	"GBP": "£",
}

// ParseDecimalToMinor converts a decimal string to minor units with half-up
// rounding on the third decimal place. Both dot and comma separators are
// accepted. The sign is kept: credits parse positive, debits negative.
//
//	ParseDecimalToMinor("12.34")  -> 1234
//	ParseDecimalToMinor("-12,5")  -> -1250
//	ParseDecimalToMinor("12.346") -> 1235
func ParseDecimalToMinor(s string) (int64, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, ErrInvalidAmount
	}
	s = strings.ReplaceAll(s, ",", ".")

	sign := int64(1)
	switch s[0] {
	case '-':
		sign = -1
		s = s[1:]
	case '+':
		s = s[1:]
	}
	if s == "" || s == "." {
		return 0, ErrInvalidAmount
	}

	parts := strings.Split(s, ".")
	if len(parts) > 2 {
		return 0, ErrInvalidAmount
	}
	intPart := parts[0]
	fracPart := ""
	if len(parts) == 2 {
		fracPart = parts[1]
	}
	if intPart == "" {
		intPart = "0"
	}
	for _, r := range intPart {
		if !unicode.IsDigit(r) {
			return 0, ErrInvalidAmount
		}
	}
	for _, r := range fracPart {
		if !unicode.IsDigit(r) {
			return 0, ErrInvalidAmount
		}
	}

	iv, err := strconv.ParseInt(intPart, 10, 64)
	if err != nil {
		return 0, ErrInvalidAmount
	}
	const maxSafeInt64 = (1<<63 - 1) / 100
	if iv > maxSafeInt64 {
		return 0, ErrInvalidAmount
	}

	// First two fractional digits, half-up on the third.
	var frac int64
	if len(fracPart) > 0 {
		frac = int64(fracPart[0]-'0') * 10
		if len(fracPart) > 1 {
			frac += int64(fracPart[1] - '0')
			if len(fracPart) > 2 && fracPart[2] >= '5' {
				frac++
			}
		}
	}

	return sign * (iv*100 + frac), nil
}

// FormatMinor renders a minor-unit amount with the currency's symbol,
// thousands separators and two decimals, e.g. FormatMinor(150000, "NGN")
// returns "₦1,500.00".
func FormatMinor(minor int64, currency string) string {
	neg := minor < 0
	if neg {
		minor = -minor
	}
	whole := minor / 100
	frac := minor % 100

	body := groupThousands(whole) + fmt.Sprintf(".%02d", frac)

	sym, ok := currencySymbols[strings.ToUpper(currency)]
	var out string
	if ok {
		out = sym + body
	} else {
		out = strings.ToUpper(currency) + " " + body
	}
	if neg {
		return "-" + out
	}
	return out
}

// String implements fmt.Stringer.
func (m Money) String() string {
	return FormatMinor(m.Minor, m.Currency)
}

func groupThousands(v int64) string {
	s := strconv.FormatInt(v, 10)
	if len(s) <= 3 {
		return s
	}
	var b strings.Builder
	lead := len(s) % 3
	if lead > 0 {
		b.WriteString(s[:lead])
	}
	for i := lead; i < len(s); i += 3 {
		if b.Len() > 0 {
			b.WriteByte(',')
		}
		b.WriteString(s[i : i+3])
	}
	return b.String()
}

// ValidCurrency reports whether code looks like an ISO 4217 alphabetic code.
func ValidCurrency(code string) bool {
	if len(code) != 3 {
		return false
	}
	for _, r := range code {
		if r < 'A' || r > 'Z' {
			return false
		}
	}
	return true
}
