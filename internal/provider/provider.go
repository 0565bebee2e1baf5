// Package provider defines the outbound port to the bank-data provider and
// the failure taxonomy the sync layer keys its decisions on.
package provider

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// Failure taxonomy. The sync layer matches these with errors.Is and reacts
// per class: ErrAuthExpired marks the account expired, ErrProviderUnavailable
// is retried with backoff, the rest surface to the caller untouched.
var (
	// ErrInvalidCode means the one-time linking code was rejected. Codes
	// are single-use, so a repeated exchange also lands here.
	ErrInvalidCode = errors.New("provider: invalid or already used linking code")

	// ErrAuthExpired means the provider-side credential for the account
	// needs the user to re-link. Not a transient error.
	ErrAuthExpired = errors.New("provider: account authorization expired")

	ErrAccountNotFound = errors.New("provider: account not found")

	// ErrProviderUnavailable covers network failures and 5xx responses.
	// Eligible for retry on idempotent calls.
	ErrProviderUnavailable = errors.New("provider: temporarily unavailable")
)

// MalformedResponseError is raised at the parse boundary when the provider
// returns a body that does not match the documented schema. Never retried.
type MalformedResponseError struct {
	Endpoint string
	Detail   string
}

func (e *MalformedResponseError) Error() string {
	return fmt.Sprintf("provider: malformed response from %s: %s", e.Endpoint, e.Detail)
}

type (
	// AccountRef is the durable reference returned by a code exchange.
	AccountRef struct {
		AccountID string
	}

	// Account is the provider's view of a linked bank account. Balance is
	// already in minor units on the wire.
	Account struct {
		ID            string
		Name          string
		AccountNumber string
		Type          string
		Currency      string
		BalanceMinor  int64
		BankName      string
		BankCode      string
	}

	// Transaction is one provider-reported movement. AmountMinor is a
	// magnitude; Type ("credit"/"debit") carries the direction.
	Transaction struct {
		ID          string
		AmountMinor int64
		Type        string
		Narration   string
		Merchant    string
		PostedAt    time.Time
		Currency    string
	}

	// TransactionPage is one page of results plus the token for the next
	// one. Next is empty on the last page. The cursor must be persisted by
	// the caller; pages are not restartable mid-way.
	TransactionPage struct {
		Transactions []Transaction
		Next         string
	}

	// Identity is the account holder's profile, fetched once at link time.
	Identity struct {
		FullName string
		Email    string
	}
)

// Client is the port the sync orchestrator consumes. Implementations are
// stateless between calls; all blocking operations take a context.
type Client interface {
	// ExchangeCode trades a one-time linking code for an account
	// reference. Never retried internally: the provider enforces
	// single use.
	ExchangeCode(ctx context.Context, code string) (AccountRef, error)

	// ListAccounts returns every account visible to the API key.
	ListAccounts(ctx context.Context) ([]Account, error)

	// GetAccount returns one account's current state.
	GetAccount(ctx context.Context, accountID string) (Account, error)

	// ListTransactions returns one page of transactions for an account.
	// An empty cursor starts from the newest data.
	ListTransactions(ctx context.Context, accountID, cursor string) (TransactionPage, error)

	// GetIdentity returns the account holder's profile.
	GetIdentity(ctx context.Context, accountID string) (Identity, error)

	// Unlink revokes the provider-side connection for an account.
	Unlink(ctx context.Context, accountID string) error
}
