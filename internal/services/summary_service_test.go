package services

import (
	"context"
	"errors"
	"testing"
	"time"

	"balanz/internal/core"
	"balanz/internal/storage"
)

func seedActiveAccount(t *testing.T, repo *storage.Repository, userID, accountID, currency string, balance int64) {
	t.Helper()
	ctx := context.Background()
	err := repo.UpsertPendingAccount(ctx, core.LinkedAccount{
		ID:        accountID,
		UserID:    userID,
		Provider:  "mono",
		Currency:  currency,
		Status:    core.StatusPending,
		CreatedAt: time.Now(),
	})
	if err != nil {
		t.Fatalf("seed account: %v", err)
	}
	if err := repo.FinishSync(ctx, accountID, balance, "", time.Now()); err != nil {
		t.Fatalf("activate account: %v", err)
	}
}

func insertExpense(t *testing.T, repo *storage.Repository, userID, accountID, txID, categoryID string, amount int64, postedAt time.Time) {
	t.Helper()
	tx := core.Transaction{
		ID:          txID,
		AccountID:   accountID,
		UserID:      userID,
		PostedAt:    postedAt,
		AmountMinor: amount,
		Currency:    "NGN",
		Description: "seed " + txID,
		CategoryID:  categoryID,
		IsManual:    true,
		CreatedAt:   time.Now(),
	}
	if err := repo.InsertManualTransaction(context.Background(), tx); err != nil {
		t.Fatalf("insert %s: %v", txID, err)
	}
}

func TestTotalBalancePartitionsByCurrency(t *testing.T) {
	repo := newTestRepo(t)
	seedActiveAccount(t, repo, "user_1", "acct_ngn", "NGN", 500000)
	seedActiveAccount(t, repo, "user_1", "acct_usd", "USD", 10000)

	svc := NewSummaryService(repo)
	summary, err := svc.TotalBalance(context.Background(), testSession("user_1"), "")
	if err != nil {
		t.Fatalf("TotalBalance: %v", err)
	}

	if len(summary.PerCurrency) != 2 {
		t.Fatalf("partitions = %v, want NGN and USD", summary.PerCurrency)
	}
	if summary.PerCurrency["NGN"] != 500000 {
		t.Errorf("NGN total = %d, want 500000", summary.PerCurrency["NGN"])
	}
	if summary.PerCurrency["USD"] != 10000 {
		t.Errorf("USD total = %d, want 10000", summary.PerCurrency["USD"])
	}
	if summary.AccountCount != 2 {
		t.Errorf("account count = %d, want 2", summary.AccountCount)
	}
	if summary.TargetCurrency != "" || summary.ConvertedMinor != 0 {
		t.Error("conversion fields set without a target currency")
	}
}

func TestTotalBalanceConversion(t *testing.T) {
	repo := newTestRepo(t)
	seedActiveAccount(t, repo, "user_1", "acct_ngn", "NGN", 500000)
	seedActiveAccount(t, repo, "user_1", "acct_usd", "USD", 10000)
	ctx := context.Background()

	svc := NewSummaryService(repo)

	// No USD/NGN rate yet: the conversion fails rather than adding kobo
	// to cents.
	_, err := svc.TotalBalance(ctx, testSession("user_1"), "NGN")
	if !errors.Is(err, ErrMissingRate) {
		t.Fatalf("TotalBalance without rate = %v, want ErrMissingRate", err)
	}

	if err := repo.SetRate(ctx, "USD", "NGN", "1500"); err != nil {
		t.Fatalf("SetRate: %v", err)
	}
	summary, err := svc.TotalBalance(ctx, testSession("user_1"), "ngn")
	if err != nil {
		t.Fatalf("TotalBalance: %v", err)
	}
	if summary.TargetCurrency != "NGN" {
		t.Errorf("target = %q, want NGN", summary.TargetCurrency)
	}
	// 500000 kobo + 10000 cents * 1500
	if want := int64(500000 + 10000*1500); summary.ConvertedMinor != want {
		t.Errorf("converted = %d, want %d", summary.ConvertedMinor, want)
	}
}

func TestTotalBalanceBadTarget(t *testing.T) {
	repo := newTestRepo(t)
	svc := NewSummaryService(repo)
	_, err := svc.TotalBalance(context.Background(), testSession("user_1"), "naira")
	if !errors.Is(err, ErrBadTargetCurrency) {
		t.Errorf("TotalBalance = %v, want ErrBadTargetCurrency", err)
	}
}

func TestTotalBalanceExcludesDisconnected(t *testing.T) {
	repo := newTestRepo(t)
	seedActiveAccount(t, repo, "user_1", "acct_1", "NGN", 500000)
	seedActiveAccount(t, repo, "user_1", "acct_2", "NGN", 300000)
	ctx := context.Background()
	if err := repo.SetAccountStatus(ctx, "acct_2", core.StatusDisconnected); err != nil {
		t.Fatalf("SetAccountStatus: %v", err)
	}

	svc := NewSummaryService(repo)
	summary, err := svc.TotalBalance(ctx, testSession("user_1"), "")
	if err != nil {
		t.Fatalf("TotalBalance: %v", err)
	}
	if summary.PerCurrency["NGN"] != 500000 {
		t.Errorf("NGN total = %d, want 500000 (disconnected excluded)", summary.PerCurrency["NGN"])
	}
	if summary.AccountCount != 1 {
		t.Errorf("account count = %d, want 1", summary.AccountCount)
	}
}

func TestCategoryBreakdownPercentagesSumExactly(t *testing.T) {
	repo := newTestRepo(t)
	seedActiveAccount(t, repo, "user_1", "acct_1", "NGN", 0)
	day := time.Date(2025, 3, 10, 12, 0, 0, 0, time.UTC)

	// Three equal buckets: 33.33 / 33.33 / 33.34.
	insertExpense(t, repo, "user_1", "acct_1", "tx_1", "food-dining", -1000, day)
	insertExpense(t, repo, "user_1", "acct_1", "tx_2", "transportation", -1000, day)
	insertExpense(t, repo, "user_1", "acct_1", "tx_3", "health", -1000, day)

	svc := NewSummaryService(repo)
	from := time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC)
	to := from.AddDate(0, 1, 0)
	slices, err := svc.CategoryBreakdown(context.Background(), testSession("user_1"), from, to)
	if err != nil {
		t.Fatalf("CategoryBreakdown: %v", err)
	}
	if len(slices) != 3 {
		t.Fatalf("have %d slices, want 3", len(slices))
	}

	var sum int64
	for _, s := range slices {
		sum += s.PercentBP
	}
	if sum != 10000 {
		t.Errorf("percentages sum to %d basis points, want 10000", sum)
	}
	if slices[0].PercentBP != 3333 || slices[1].PercentBP != 3333 || slices[2].PercentBP != 3334 {
		t.Errorf("shares = %d/%d/%d, want 3333/3333/3334",
			slices[0].PercentBP, slices[1].PercentBP, slices[2].PercentBP)
	}
}

func TestCategoryBreakdownRoutesUncategorized(t *testing.T) {
	repo := newTestRepo(t)
	seedActiveAccount(t, repo, "user_1", "acct_1", "NGN", 0)
	day := time.Date(2025, 3, 10, 12, 0, 0, 0, time.UTC)

	insertExpense(t, repo, "user_1", "acct_1", "tx_1", "food-dining", -3000, day)
	insertExpense(t, repo, "user_1", "acct_1", "tx_2", "", -1000, day)
	// A credit never counts as spending, categorized or not.
	insertExpense(t, repo, "user_1", "acct_1", "tx_3", "salary", 500000, day)
	// An expense tagged with an income-only category is uncategorized
	// spending, not a new bucket.
	insertExpense(t, repo, "user_1", "acct_1", "tx_4", "salary", -2000, day)

	svc := NewSummaryService(repo)
	from := time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC)
	to := from.AddDate(0, 1, 0)
	slices, err := svc.CategoryBreakdown(context.Background(), testSession("user_1"), from, to)
	if err != nil {
		t.Fatalf("CategoryBreakdown: %v", err)
	}
	if len(slices) != 2 {
		t.Fatalf("have %d slices, want food-dining and uncategorized", len(slices))
	}

	// Largest first.
	if slices[0].Category.ID != "food-dining" || slices[0].TotalMinor != 3000 {
		t.Errorf("top slice = %s/%d, want food-dining/3000", slices[0].Category.ID, slices[0].TotalMinor)
	}
	if slices[1].Category.ID != "uncategorized" || slices[1].TotalMinor != 3000 {
		t.Errorf("second slice = %s/%d, want uncategorized/3000", slices[1].Category.ID, slices[1].TotalMinor)
	}
}

func TestCategoryBreakdownEmptyPeriod(t *testing.T) {
	repo := newTestRepo(t)
	svc := NewSummaryService(repo)
	from := time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC)

	slices, err := svc.CategoryBreakdown(context.Background(), testSession("user_1"), from, from.AddDate(0, 1, 0))
	if err != nil {
		t.Fatalf("CategoryBreakdown: %v", err)
	}
	if slices != nil {
		t.Errorf("slices = %v, want nil for an empty period", slices)
	}

	if _, err := svc.CategoryBreakdown(context.Background(), testSession("user_1"), from, from); err == nil {
		t.Error("CategoryBreakdown accepted an empty range")
	}
}

func TestRecentTransactionsOrderAndClamp(t *testing.T) {
	repo := newTestRepo(t)
	seedActiveAccount(t, repo, "user_1", "acct_1", "NGN", 0)

	base := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	insertExpense(t, repo, "user_1", "acct_1", "tx_old", "food-dining", -100, base)
	insertExpense(t, repo, "user_1", "acct_1", "tx_new", "food-dining", -200, base.AddDate(0, 0, 5))

	svc := NewSummaryService(repo)
	txs, err := svc.RecentTransactions(context.Background(), testSession("user_1"), 0, 0)
	if err != nil {
		t.Fatalf("RecentTransactions: %v", err)
	}
	if len(txs) != 2 {
		t.Fatalf("have %d transactions, want 2", len(txs))
	}
	if txs[0].ID != "tx_new" {
		t.Errorf("first = %s, want tx_new (newest first)", txs[0].ID)
	}

	// Pagination.
	page, err := svc.RecentTransactions(context.Background(), testSession("user_1"), 1, 1)
	if err != nil {
		t.Fatalf("RecentTransactions offset: %v", err)
	}
	if len(page) != 1 || page[0].ID != "tx_old" {
		t.Errorf("offset page = %v, want tx_old", page)
	}
}
