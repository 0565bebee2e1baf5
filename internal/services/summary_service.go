package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"balanz/internal/auth"
	"balanz/internal/core"
	"balanz/internal/storage"
)

var (
	// ErrMissingRate means a currency conversion was requested but the
	// rate table has no entry for a needed pair. The caller should either
	// seed the rate or ask for the partitioned totals instead.
	ErrMissingRate = errors.New("summary: no exchange rate for currency pair")

	ErrBadTargetCurrency = errors.New("summary: target currency must be a 3-letter ISO code")
)

// SummaryService computes the read-side views over stored accounts and
// transactions. Everything here is a pure derivation; it can be recomputed
// at will and holds no state.
type SummaryService struct {
	store *storage.Repository
}

func NewSummaryService(store *storage.Repository) *SummaryService {
	return &SummaryService{store: store}
}

// TotalBalance returns the user's balances partitioned by currency. When
// targetCurrency is set, it additionally converts the partitioned totals
// into one scalar using the stored rate table; a missing rate fails the
// conversion rather than silently adding unlike currencies.
func (s *SummaryService) TotalBalance(ctx context.Context, sess auth.Session, targetCurrency string) (core.BalanceSummary, error) {
	balances, lastSyncedAt, count, err := s.store.BalancesByCurrency(ctx, sess.UserID)
	if err != nil {
		return core.BalanceSummary{}, fmt.Errorf("load balances: %w", err)
	}

	summary := core.BalanceSummary{
		PerCurrency:  balances,
		AccountCount: count,
		LastSyncedAt: lastSyncedAt,
	}
	if targetCurrency == "" {
		return summary, nil
	}

	target := strings.ToUpper(targetCurrency)
	if !core.ValidCurrency(target) {
		return core.BalanceSummary{}, ErrBadTargetCurrency
	}

	total := decimal.Zero
	for currency, minor := range balances {
		amount := decimal.NewFromInt(minor)
		if currency != target {
			rate, err := s.store.GetRate(ctx, currency, target)
			if errors.Is(err, storage.ErrNotFound) {
				return core.BalanceSummary{}, fmt.Errorf("%w: %s/%s", ErrMissingRate, currency, target)
			}
			if err != nil {
				return core.BalanceSummary{}, fmt.Errorf("load rate %s/%s: %w", currency, target, err)
			}
			factor, err := decimal.NewFromString(rate)
			if err != nil {
				return core.BalanceSummary{}, fmt.Errorf("bad stored rate %s/%s %q: %w", currency, target, rate, err)
			}
			amount = amount.Mul(factor)
		}
		total = total.Add(amount)
	}

	summary.TargetCurrency = target
	summary.ConvertedMinor = total.Round(0).IntPart()
	return summary, nil
}

// RecentTransactions returns the user's activity newest first, tie-broken
// by created_at then transaction id for a stable order.
func (s *SummaryService) RecentTransactions(ctx context.Context, sess auth.Session, limit, offset int) ([]core.Transaction, error) {
	if limit <= 0 {
		limit = 20
	}
	if limit > 200 {
		limit = 200
	}
	if offset < 0 {
		offset = 0
	}
	txs, err := s.store.RecentTransactions(ctx, sess.UserID, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("recent transactions: %w", err)
	}
	return txs, nil
}

// CategoryBreakdown splits the user's spending in [from, to) across expense
// categories. Shares are computed in basis points, truncating per bucket
// with the final bucket absorbing the remainder, so the returned slices
// always sum to exactly 100%.
func (s *SummaryService) CategoryBreakdown(ctx context.Context, sess auth.Session, from, to time.Time) ([]core.CategorySlice, error) {
	if !from.Before(to) {
		return nil, errors.New("summary: period start must be before end")
	}
	totals, err := s.store.ExpenseTotalsByCategory(ctx, sess.UserID, from, to)
	if err != nil {
		return nil, fmt.Errorf("expense totals: %w", err)
	}
	if len(totals) == 0 {
		return nil, nil
	}

	var grand int64
	for _, row := range totals {
		grand += row.TotalMinor
	}
	if grand <= 0 {
		return nil, nil
	}

	slices := make([]core.CategorySlice, len(totals))
	var assigned int64
	for i, row := range totals {
		bp := row.TotalMinor * 10000 / grand
		if i == len(totals)-1 {
			bp = 10000 - assigned
		}
		assigned += bp
		slices[i] = core.CategorySlice{
			Category:   row.Category,
			TotalMinor: row.TotalMinor,
			PercentBP:  bp,
		}
	}
	return slices, nil
}
