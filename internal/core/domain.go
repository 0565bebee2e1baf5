package core

import (
	"errors"
	"strings"
	"time"
)

// AccountStatus is the lifecycle state of a linked account.
//
// pending -> active on the first successful sync, active -> expired when the
// provider reports an auth failure, any state -> disconnected on user unlink.
// Disconnected is terminal; the account row and its transactions are kept.
type AccountStatus string

const (
	StatusPending      AccountStatus = "pending"
	StatusActive       AccountStatus = "active"
	StatusExpired      AccountStatus = "expired"
	StatusDisconnected AccountStatus = "disconnected"
)

// AccountType classifies a linked account.
type AccountType string

const (
	AccountChecking AccountType = "checking"
	AccountSavings  AccountType = "savings"
	AccountCredit   AccountType = "credit"
	AccountOther    AccountType = "other"
)

var (
	ErrInvalidAmount    = errors.New("invalid amount")
	ErrInvalidCurrency  = errors.New("invalid currency code")
	ErrEmptyDescription = errors.New("empty description")
	ErrEmptyUserID      = errors.New("empty user id")
	ErrEmptyAccountID   = errors.New("empty account id")
)

type (
	// LinkedAccount is a bank account connected through the provider,
	// together with its sync cursor. BalanceMinor is always minor units.
	LinkedAccount struct {
		ID                string // provider account id, opaque
		UserID            string
		Provider          string // e.g. "mono"
		BankName          string
		AccountName       string
		AccountNumberMask string
		Type              AccountType
		Currency          string
		BalanceMinor      int64
		Status            AccountStatus
		LastSyncedAt      *time.Time
		Cursor            SyncCursor
		CreatedAt         time.Time
	}

	// SyncCursor records how far transaction ingestion got for one account.
	// NextPage is the provider's page token; empty means start from the top.
	SyncCursor struct {
		NextPage     string
		LastSyncedAt *time.Time
	}

	// Transaction is one account movement. AmountMinor is signed: positive
	// for credits, negative for debits. Rows are immutable after insert
	// except for CategoryID, which the categorizer or the user may set.
	Transaction struct {
		ID           string // provider tx id, or locally assigned for manual rows
		AccountID    string
		UserID       string
		PostedAt     time.Time
		AmountMinor  int64
		Currency     string
		Description  string
		Merchant     string
		CategoryID   string // empty until categorized
		IsManual     bool
		CreatedAt    time.Time
	}

	// Category is static reference data seeded by migration.
	Category struct {
		ID        string
		Name      string
		Icon      string
		Color     string
		IsIncome  bool
		IsExpense bool
	}
)

// Syncable reports whether the account should be picked up by a batch sync.
func (a LinkedAccount) Syncable() bool {
	return a.Status == StatusPending || a.Status == StatusActive
}

func (a LinkedAccount) Validate() error {
	if strings.TrimSpace(a.ID) == "" {
		return ErrEmptyAccountID
	}
	if strings.TrimSpace(a.UserID) == "" {
		return ErrEmptyUserID
	}
	if !ValidCurrency(a.Currency) {
		return ErrInvalidCurrency
	}
	switch a.Status {
	case StatusPending, StatusActive, StatusExpired, StatusDisconnected:
	default:
		return errors.New("invalid account status")
	}
	return nil
}

func (t Transaction) Validate() error {
	if strings.TrimSpace(t.ID) == "" {
		return errors.New("empty transaction id")
	}
	if strings.TrimSpace(t.AccountID) == "" {
		return ErrEmptyAccountID
	}
	if t.AmountMinor == 0 {
		return ErrInvalidAmount
	}
	if !ValidCurrency(t.Currency) {
		return ErrInvalidCurrency
	}
	if len(strings.TrimSpace(t.Description)) == 0 {
		return ErrEmptyDescription
	}
	if len(t.Description) > 200 {
		return errors.New("description too long (max 200 characters)")
	}
	if t.PostedAt.IsZero() {
		return errors.New("posted date cannot be zero")
	}
	return nil
}

// IsExpense reports whether the transaction is a debit.
func (t Transaction) IsExpense() bool {
	return t.AmountMinor < 0
}
