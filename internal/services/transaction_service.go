package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"balanz/internal/auth"
	"balanz/internal/core"
	"balanz/internal/storage"
)

// TransactionService handles user-entered transactions. Provider-reported
// rows only ever enter through the sync pass; manual rows enter here, get a
// locally assigned id and are categorized inline.
type TransactionService struct {
	store       *storage.Repository
	categorizer *Categorizer
}

func NewTransactionService(store *storage.Repository, categorizer *Categorizer) *TransactionService {
	return &TransactionService{store: store, categorizer: categorizer}
}

// ManualTransactionInput is one user-entered movement. Amount is a decimal
// string as typed ("-1500.50" for a debit).
type ManualTransactionInput struct {
	AccountID   string
	Amount      string
	Description string
	Merchant    string
	CategoryID  string
	PostedAt    time.Time
}

// CreateManual validates the input against the owning account and persists
// the transaction with a locally assigned id.
func (s *TransactionService) CreateManual(ctx context.Context, sess auth.Session, in ManualTransactionInput) (core.Transaction, error) {
	acct, err := s.store.GetAccount(ctx, sess.UserID, in.AccountID)
	if errors.Is(err, storage.ErrNotFound) {
		return core.Transaction{}, ErrAccountNotLinked
	}
	if err != nil {
		return core.Transaction{}, fmt.Errorf("load account: %w", err)
	}
	if acct.Status == core.StatusDisconnected {
		return core.Transaction{}, ErrAccountDisconnected
	}

	minor, err := core.ParseDecimalToMinor(in.Amount)
	if err != nil {
		return core.Transaction{}, err
	}

	postedAt := in.PostedAt
	if postedAt.IsZero() {
		postedAt = time.Now()
	}

	t := core.Transaction{
		ID:          "manual-" + uuid.NewString(),
		AccountID:   acct.ID,
		UserID:      sess.UserID,
		PostedAt:    postedAt,
		AmountMinor: minor,
		Currency:    acct.Currency,
		Description: in.Description,
		Merchant:    in.Merchant,
		CategoryID:  in.CategoryID,
		IsManual:    true,
		CreatedAt:   time.Now(),
	}
	if t.CategoryID == "" {
		t.CategoryID = s.categorizer.Categorize(t)
	}
	if err := t.Validate(); err != nil {
		return core.Transaction{}, err
	}

	if err := s.store.InsertManualTransaction(ctx, t); err != nil {
		return core.Transaction{}, fmt.Errorf("save manual transaction: %w", err)
	}

	slog.InfoContext(ctx, "Manual transaction saved",
		"user_id", sess.UserID,
		"account_id", t.AccountID,
		"transaction_id", t.ID,
		"amount_minor", t.AmountMinor,
		"category_id", t.CategoryID)
	return t, nil
}

// Categorize assigns a category to one stored transaction if it has none.
// Used by the background worker.
func (s *TransactionService) Categorize(ctx context.Context, accountID, txID string) error {
	t, err := s.store.GetTransaction(ctx, accountID, txID)
	if errors.Is(err, storage.ErrNotFound) {
		// Stale or replayed queue message; nothing to do.
		slog.WarnContext(ctx, "Transaction vanished before categorization",
			"account_id", accountID, "transaction_id", txID)
		return nil
	}
	if err != nil {
		return fmt.Errorf("load transaction: %w", err)
	}
	if t.CategoryID != "" {
		return nil
	}

	categoryID := s.categorizer.Categorize(t)
	if err := s.store.SetTransactionCategory(ctx, accountID, txID, categoryID); err != nil {
		return fmt.Errorf("assign category: %w", err)
	}
	slog.DebugContext(ctx, "Transaction categorized",
		"account_id", accountID,
		"transaction_id", txID,
		"category_id", categoryID)
	return nil
}
