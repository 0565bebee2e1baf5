// Package services holds the sync orchestrator, the aggregation views and
// the transaction categorizer. This is the only layer with multi-step,
// partial-failure-prone control flow; everything it touches is owned by the
// storage layer and held only for the duration of a pass.
package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"

	"balanz/internal/auth"
	"balanz/internal/core"
	"balanz/internal/provider"
	"balanz/internal/storage"
)

var (
	ErrAccountNotLinked    = errors.New("sync: account not linked for this user")
	ErrAccountDisconnected = errors.New("sync: account is disconnected")
)

// CategorizeEnqueuer is the outbound port to the categorization queue.
// A nil enqueuer disables async categorization; syncs never fail on it.
type CategorizeEnqueuer interface {
	PublishCategorize(ctx context.Context, accountID, transactionID string) error
}

// SyncConfig tunes a SyncService.
type SyncConfig struct {
	// Parallelism bounds how many accounts one batch sync works on at
	// once. Reconciliation within an account is always sequential.
	Parallelism int
}

// DefaultSyncConfig returns sensible defaults.
func DefaultSyncConfig() SyncConfig {
	return SyncConfig{Parallelism: 4}
}

// SyncService drives linking and synchronization of provider accounts
// against local storage.
type SyncService struct {
	store    *storage.Repository
	provider provider.Client
	queue    CategorizeEnqueuer
	config   SyncConfig

	// inflight coalesces overlapping sync requests per account: a second
	// request for an account mid-sync shares the in-flight result instead
	// of racing it for the cursor.
	inflight singleflight.Group

	now func() time.Time
}

func NewSyncService(store *storage.Repository, client provider.Client, queue CategorizeEnqueuer, config SyncConfig) *SyncService {
	if config.Parallelism < 1 {
		config.Parallelism = 1
	}
	return &SyncService{
		store:    store,
		provider: client,
		queue:    queue,
		config:   config,
		now:      time.Now,
	}
}

// AccountSyncResult describes one account's outcome within a sync pass.
type AccountSyncResult struct {
	AccountID         string
	Status            core.AccountStatus
	TransactionsAdded int
	Pages             int
	Err               error
}

// Succeeded reports whether the account completed its pass.
func (r AccountSyncResult) Succeeded() bool {
	return r.Err == nil
}

// SyncReport aggregates a batch sync. Per-account failures are collected
// here, never thrown: one bad account must not mask the others.
type SyncReport struct {
	Processed         int
	Succeeded         int
	Failed            int
	TransactionsAdded int
	Accounts          []AccountSyncResult
}

// LinkAccount exchanges a one-time linking code, upserts the linked account
// in pending status and runs the first sync pass. The returned
// AccountSyncResult describes that first pass; its failure leaves the
// account pending (or expired) and is not an error of the link itself.
func (s *SyncService) LinkAccount(ctx context.Context, sess auth.Session, code string) (core.LinkedAccount, AccountSyncResult, error) {
	ref, err := s.provider.ExchangeCode(ctx, code)
	if err != nil {
		return core.LinkedAccount{}, AccountSyncResult{}, fmt.Errorf("exchange code: %w", err)
	}

	remote, err := s.provider.GetAccount(ctx, ref.AccountID)
	if err != nil {
		// The code is burnt but nothing was persisted; the user can
		// request a fresh code and link again.
		return core.LinkedAccount{}, AccountSyncResult{}, fmt.Errorf("fetch linked account: %w", err)
	}

	acct := core.LinkedAccount{
		ID:                remote.ID,
		UserID:            sess.UserID,
		Provider:          "mono",
		BankName:          remote.BankName,
		AccountName:       remote.Name,
		AccountNumberMask: maskAccountNumber(remote.AccountNumber),
		Type:              accountTypeFromWire(remote.Type),
		Currency:          remote.Currency,
		BalanceMinor:      remote.BalanceMinor,
		Status:            core.StatusPending,
		CreatedAt:         s.now(),
	}

	// Identity is decoration; a failure here never fails the link.
	if identity, err := s.provider.GetIdentity(ctx, ref.AccountID); err == nil && identity.FullName != "" {
		if acct.AccountName == "" {
			acct.AccountName = identity.FullName
		}
	} else if err != nil {
		slog.WarnContext(ctx, "Identity fetch failed, continuing without it",
			"account_id", ref.AccountID, "error", err)
	}

	if err := s.store.UpsertPendingAccount(ctx, acct); err != nil {
		return core.LinkedAccount{}, AccountSyncResult{}, fmt.Errorf("persist linked account: %w", err)
	}

	slog.InfoContext(ctx, "Linked account",
		"user_id", sess.UserID,
		"account_id", acct.ID,
		"bank", acct.BankName,
		"currency", acct.Currency)

	stored, err := s.store.GetAccount(ctx, sess.UserID, acct.ID)
	if err != nil {
		return core.LinkedAccount{}, AccountSyncResult{}, fmt.Errorf("reload linked account: %w", err)
	}

	result := s.syncOne(ctx, stored)
	if result.Err != nil {
		slog.WarnContext(ctx, "First sync after link failed",
			"account_id", acct.ID, "error", result.Err)
	}

	final, err := s.store.GetAccount(ctx, sess.UserID, acct.ID)
	if err != nil {
		return core.LinkedAccount{}, result, fmt.Errorf("reload linked account: %w", err)
	}
	return final, result, nil
}

// SyncAccounts synchronizes the given accounts, or every syncable account
// of the session's user when none are named. Accounts are processed
// independently with bounded parallelism; the report carries per-account
// outcomes.
func (s *SyncService) SyncAccounts(ctx context.Context, sess auth.Session, accountIDs ...string) (SyncReport, error) {
	targets, report, err := s.resolveTargets(ctx, sess, accountIDs)
	if err != nil {
		return SyncReport{}, err
	}

	results := make([]AccountSyncResult, len(targets))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.config.Parallelism)
	for i, acct := range targets {
		g.Go(func() error {
			results[i] = s.syncOne(gctx, acct)
			// Per-account failures are data, not errors: returning one
			// here would cancel the siblings.
			return nil
		})
	}
	_ = g.Wait()

	for _, res := range results {
		report.Accounts = append(report.Accounts, res)
		report.Processed++
		if res.Succeeded() {
			report.Succeeded++
			report.TransactionsAdded += res.TransactionsAdded
		} else {
			report.Failed++
		}
	}

	slog.InfoContext(ctx, "Sync pass finished",
		"user_id", sess.UserID,
		"processed", report.Processed,
		"succeeded", report.Succeeded,
		"failed", report.Failed,
		"transactions_added", report.TransactionsAdded)
	return report, nil
}

// resolveTargets loads the accounts a sync pass should cover. Explicitly
// named accounts that cannot be synced produce per-account failures in the
// report rather than aborting the batch.
func (s *SyncService) resolveTargets(ctx context.Context, sess auth.Session, accountIDs []string) ([]core.LinkedAccount, SyncReport, error) {
	var report SyncReport

	if len(accountIDs) == 0 {
		accounts, err := s.store.ListAccounts(ctx, sess.UserID, false)
		if err != nil {
			return nil, report, fmt.Errorf("list accounts: %w", err)
		}
		var targets []core.LinkedAccount
		for _, a := range accounts {
			if a.Syncable() || a.Status == core.StatusExpired {
				// Expired accounts are retried: the provider may have
				// been re-authorized out of band.
				targets = append(targets, a)
			}
		}
		return targets, report, nil
	}

	var targets []core.LinkedAccount
	for _, id := range accountIDs {
		acct, err := s.store.GetAccount(ctx, sess.UserID, id)
		switch {
		case errors.Is(err, storage.ErrNotFound):
			report.Accounts = append(report.Accounts, AccountSyncResult{AccountID: id, Err: ErrAccountNotLinked})
			report.Processed++
			report.Failed++
		case err != nil:
			return nil, report, fmt.Errorf("load account %s: %w", id, err)
		case acct.Status == core.StatusDisconnected:
			report.Accounts = append(report.Accounts, AccountSyncResult{AccountID: id, Status: acct.Status, Err: ErrAccountDisconnected})
			report.Processed++
			report.Failed++
		default:
			targets = append(targets, acct)
		}
	}
	return targets, report, nil
}

// syncOne runs one account's pass under the per-account coalescing group.
// At most one sync per account is ever in flight; joiners share its result.
func (s *SyncService) syncOne(ctx context.Context, acct core.LinkedAccount) AccountSyncResult {
	v, err, _ := s.inflight.Do(acct.ID, func() (any, error) {
		return s.doSync(ctx, acct), nil
	})
	if err != nil {
		return AccountSyncResult{AccountID: acct.ID, Status: acct.Status, Err: err}
	}
	return v.(AccountSyncResult)
}

// doSync is the single-writer pass for one account: refresh the balance,
// page transactions from the stored cursor, reconcile page by page, then
// finish by advancing balance, cursor and last_synced_at together. The
// cursor advances only with each fully reconciled page, and last_synced_at
// only when the whole pass lands, so an abort anywhere leaves the next run
// able to resume without skipping data.
func (s *SyncService) doSync(ctx context.Context, acct core.LinkedAccount) AccountSyncResult {
	result := AccountSyncResult{AccountID: acct.ID, Status: acct.Status}

	remote, err := s.provider.GetAccount(ctx, acct.ID)
	if err != nil {
		return s.failSync(ctx, result, err)
	}

	// A pass that resumes a previously aborted pagination must walk every
	// remaining page. A pass starting fresh on an already-synced account
	// may stop as soon as a whole page turns out to be known data.
	cursor := acct.Cursor.NextPage
	incremental := cursor == "" && acct.LastSyncedAt != nil

	for {
		if err := ctx.Err(); err != nil {
			result.Err = err
			return result
		}

		page, err := s.provider.ListTransactions(ctx, acct.ID, cursor)
		if err != nil {
			return s.failSync(ctx, result, err)
		}
		result.Pages++

		txs := make([]core.Transaction, 0, len(page.Transactions))
		for _, remoteTx := range page.Transactions {
			txs = append(txs, providerTransaction(remoteTx, acct))
		}

		inserted, err := s.store.InsertTransactions(ctx, txs, acct.ID, page.Next)
		if err != nil {
			result.Err = fmt.Errorf("reconcile page: %w", err)
			return result
		}
		result.TransactionsAdded += len(inserted)
		s.enqueueCategorization(ctx, acct.ID, inserted)

		if page.Next == "" {
			break
		}
		if incremental && len(inserted) == 0 && len(page.Transactions) > 0 {
			// Every row on this page was already known; older pages
			// were covered by the previous complete pass.
			break
		}
		cursor = page.Next
	}

	syncedAt := s.now()
	if err := s.store.FinishSync(ctx, acct.ID, remote.BalanceMinor, "", syncedAt); err != nil {
		result.Err = fmt.Errorf("finish sync: %w", err)
		return result
	}

	result.Status = core.StatusActive
	slog.InfoContext(ctx, "Account synced",
		"account_id", acct.ID,
		"pages", result.Pages,
		"transactions_added", result.TransactionsAdded,
		"balance_minor", remote.BalanceMinor)
	return result
}

// failSync records a provider failure against the result, transitioning the
// account to expired when the provider says the credential is gone.
func (s *SyncService) failSync(ctx context.Context, result AccountSyncResult, err error) AccountSyncResult {
	result.Err = err
	if errors.Is(err, provider.ErrAuthExpired) {
		if uerr := s.store.SetAccountStatus(ctx, result.AccountID, core.StatusExpired); uerr != nil {
			slog.ErrorContext(ctx, "Failed to mark account expired",
				"account_id", result.AccountID, "error", uerr)
		} else {
			result.Status = core.StatusExpired
		}
		slog.WarnContext(ctx, "Account authorization expired, re-link required",
			"account_id", result.AccountID)
	}
	return result
}

func (s *SyncService) enqueueCategorization(ctx context.Context, accountID string, txIDs []string) {
	if s.queue == nil {
		return
	}
	for _, id := range txIDs {
		if err := s.queue.PublishCategorize(ctx, accountID, id); err != nil {
			// Best effort: categorization catches up on the next pass
			// or stays manual.
			slog.WarnContext(ctx, "Failed to enqueue categorization",
				"account_id", accountID, "transaction_id", id, "error", err)
			return
		}
	}
}

// UnlinkAccount disconnects an account. The provider-side revocation is
// best effort; locally the account always ends up disconnected with its
// transaction history retained.
func (s *SyncService) UnlinkAccount(ctx context.Context, sess auth.Session, accountID string) error {
	acct, err := s.store.GetAccount(ctx, sess.UserID, accountID)
	if errors.Is(err, storage.ErrNotFound) {
		return ErrAccountNotLinked
	}
	if err != nil {
		return fmt.Errorf("load account: %w", err)
	}
	if acct.Status == core.StatusDisconnected {
		return nil
	}

	if err := s.provider.Unlink(ctx, accountID); err != nil {
		slog.WarnContext(ctx, "Provider unlink failed, disconnecting locally anyway",
			"account_id", accountID, "error", err)
	}

	if err := s.store.SetAccountStatus(ctx, accountID, core.StatusDisconnected); err != nil {
		return fmt.Errorf("disconnect account: %w", err)
	}
	slog.InfoContext(ctx, "Account disconnected",
		"user_id", sess.UserID, "account_id", accountID)
	return nil
}

func providerTransaction(remoteTx provider.Transaction, acct core.LinkedAccount) core.Transaction {
	amount := remoteTx.AmountMinor
	if amount > 0 && remoteTx.Type == "debit" {
		amount = -amount
	}
	currency := remoteTx.Currency
	if currency == "" {
		currency = acct.Currency
	}
	description := remoteTx.Narration
	if description == "" {
		description = "(no narration)"
	}
	return core.Transaction{
		ID:          remoteTx.ID,
		AccountID:   acct.ID,
		UserID:      acct.UserID,
		PostedAt:    remoteTx.PostedAt,
		AmountMinor: amount,
		Currency:    currency,
		Description: description,
		Merchant:    remoteTx.Merchant,
		CreatedAt:   time.Now(),
	}
}

func accountTypeFromWire(t string) core.AccountType {
	switch strings.ToLower(t) {
	case "checking", "current", "current_account":
		return core.AccountChecking
	case "savings", "savings_account":
		return core.AccountSavings
	case "credit", "credit_card":
		return core.AccountCredit
	default:
		return core.AccountOther
	}
}

func maskAccountNumber(number string) string {
	if len(number) <= 4 {
		return number
	}
	return strings.Repeat("*", len(number)-4) + number[len(number)-4:]
}
