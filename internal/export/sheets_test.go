package export

import (
	"testing"
	"time"

	"balanz/internal/core"
)

func TestStatementAmount(t *testing.T) {
	tests := []struct {
		minor int64
		want  string
	}{
		{0, "0.00"},
		{50, "0.50"},
		{1234, "12.34"},
		{150000, "1500.00"},
		{-50, "-0.50"},
		{-1, "-0.01"},
		{-99, "-0.99"},
		{-1234, "-12.34"},
		{-150000, "-1500.00"},
	}
	for _, tt := range tests {
		if got := statementAmount(tt.minor); got != tt.want {
			t.Errorf("statementAmount(%d) = %q, want %q", tt.minor, got, tt.want)
		}
	}
}

func TestStatementRows(t *testing.T) {
	txs := []core.Transaction{
		{
			ID:          "tx_1",
			AccountID:   "acct_1",
			PostedAt:    time.Date(2025, 3, 5, 10, 0, 0, 0, time.UTC),
			AmountMinor: -50,
			Currency:    "NGN",
			Description: "SMS alert charge",
			CategoryID:  "bills-utilities",
		},
		{
			ID:          "tx_2",
			AccountID:   "acct_1",
			PostedAt:    time.Date(2025, 3, 6, 9, 0, 0, 0, time.UTC),
			AmountMinor: 250000,
			Currency:    "NGN",
			Description: "Salary",
			CategoryID:  "salary",
		},
	}

	rows := statementRows(txs)
	if len(rows) != 2 {
		t.Fatalf("rows = %d, want 2", len(rows))
	}

	want := []any{"2025-03-05", "acct_1", "SMS alert charge", "-0.50", "NGN", "bills-utilities"}
	for i, cell := range want {
		if rows[0][i] != cell {
			t.Errorf("row[0][%d] = %v, want %v", i, rows[0][i], cell)
		}
	}
	if rows[1][3] != "2500.00" {
		t.Errorf("credit amount = %v, want 2500.00", rows[1][3])
	}
}
