package core

import "time"

// BalanceSummary is the read-side total across a user's linked accounts.
// PerCurrency always carries the partitioned totals; ConvertedMinor is only
// set when the caller supplied a target currency and a rate existed for
// every source currency.
type BalanceSummary struct {
	PerCurrency    Balances
	TargetCurrency string
	ConvertedMinor int64
	AccountCount   int
	// LastSyncedAt is the most recent successful sync over the included
	// accounts, so a caller can flag stale totals. Nil if never synced.
	LastSyncedAt *time.Time
}

// CategorySlice is one bucket of a spending breakdown. PercentBP is in
// basis points (10000 = 100%); the buckets of one breakdown always sum to
// exactly 10000.
type CategorySlice struct {
	Category   Category
	TotalMinor int64
	PercentBP  int64
}

// Percent returns the slice share as a display value, e.g. 33.4.
func (s CategorySlice) Percent() float64 {
	return float64(s.PercentBP) / 100.0
}
