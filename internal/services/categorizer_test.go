package services

import (
	"testing"

	"balanz/internal/core"
)

func TestCategorize(t *testing.T) {
	c := NewCategorizer()

	tests := []struct {
		name        string
		description string
		merchant    string
		amount      int64
		want        string
	}{
		{"restaurant debit", "POS purchase KFC Ikeja", "", -4500, "food-dining"},
		{"ride hailing", "UBER TRIP HELP.UBER.COM", "", -1200, "transportation"},
		{"utility via merchant field", "POS purchase", "DSTV subscription", -8000, "bills-utilities"},
		{"streaming", "Netflix.com", "", -4400, "entertainment"},
		{"pharmacy", "HealthPlus Pharmacy Lekki", "", -2500, "health"},
		{"online store", "JUMIA* order 99812", "", -15000, "shopping"},
		{"bank transfer", "NIP/TRF from Ada", "", -50000, "transfers"},
		{"salary credit", "MARCH SALARY ACME LTD", "", 50000000, "salary"},
		{"salary keyword on a debit stays spending", "salary advance repayment transfer", "", -10000, "transfers"},
		{"unknown credit", "REV/reversal", "", 3000, "other-income"},
		{"unknown debit", "misc charge", "", -3000, "uncategorized"},
		{"case insensitive", "Chicken Republic VI", "", -2000, "food-dining"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tx := core.Transaction{
				Description: tt.description,
				Merchant:    tt.merchant,
				AmountMinor: tt.amount,
			}
			if got := c.Categorize(tx); got != tt.want {
				t.Errorf("Categorize(%q) = %q, want %q", tt.description, got, tt.want)
			}
		})
	}
}
