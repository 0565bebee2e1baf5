// Package memory is an in-process provider used by tests and the offline
// development backend. Accounts and transaction pages are scripted up front;
// failures can be injected per call.
package memory

import (
	"context"
	"sync"

	"balanz/internal/provider"
)

type Store struct {
	mu sync.Mutex

	// codes maps one-time linking codes to account ids. A code is
	// consumed on exchange, matching the real provider's single-use rule.
	codes    map[string]string
	accounts map[string]provider.Account
	// pages maps accountID -> cursor -> page. Cursor "" is the first page.
	pages      map[string]map[string]provider.TransactionPage
	identities map[string]provider.Identity

	// errs injects a failure for a named call ("exchange", "get",
	// "list", "transactions", "identity", "unlink"), keyed by account id
	// (or code for "exchange"). Cleared after use unless Sticky.
	errs   map[string]error
	sticky map[string]bool

	Unlinked []string
}

var _ provider.Client = (*Store)(nil)

func New() *Store {
	return &Store{
		codes:      make(map[string]string),
		accounts:   make(map[string]provider.Account),
		pages:      make(map[string]map[string]provider.TransactionPage),
		identities: make(map[string]provider.Identity),
		errs:       make(map[string]error),
		sticky:     make(map[string]bool),
	}
}

// AddCode registers a one-time linking code resolving to accountID.
func (s *Store) AddCode(code, accountID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.codes[code] = accountID
}

func (s *Store) SetAccount(a provider.Account) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.accounts[a.ID] = a
}

func (s *Store) SetIdentity(accountID string, id provider.Identity) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.identities[accountID] = id
}

// SetPage scripts one transaction page for an account at the given cursor
// ("" for the first page).
func (s *Store) SetPage(accountID, cursor string, page provider.TransactionPage) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.pages[accountID] == nil {
		s.pages[accountID] = make(map[string]provider.TransactionPage)
	}
	s.pages[accountID][cursor] = page
}

// FailWith injects err for the next call matching op+key. With sticky the
// failure persists across calls.
func (s *Store) FailWith(op, key string, err error, stickyFail bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.errs[op+":"+key] = err
	s.sticky[op+":"+key] = stickyFail
}

func (s *Store) takeErr(op, key string) error {
	err, ok := s.errs[op+":"+key]
	if !ok {
		return nil
	}
	if !s.sticky[op+":"+key] {
		delete(s.errs, op+":"+key)
	}
	return err
}

func (s *Store) ExchangeCode(_ context.Context, code string) (provider.AccountRef, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.takeErr("exchange", code); err != nil {
		return provider.AccountRef{}, err
	}
	accountID, ok := s.codes[code]
	if !ok {
		return provider.AccountRef{}, provider.ErrInvalidCode
	}
	delete(s.codes, code) // single use
	return provider.AccountRef{AccountID: accountID}, nil
}

func (s *Store) ListAccounts(_ context.Context) ([]provider.Account, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.takeErr("list", ""); err != nil {
		return nil, err
	}
	out := make([]provider.Account, 0, len(s.accounts))
	for _, a := range s.accounts {
		out = append(out, a)
	}
	return out, nil
}

func (s *Store) GetAccount(_ context.Context, accountID string) (provider.Account, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.takeErr("get", accountID); err != nil {
		return provider.Account{}, err
	}
	a, ok := s.accounts[accountID]
	if !ok {
		return provider.Account{}, provider.ErrAccountNotFound
	}
	return a, nil
}

func (s *Store) ListTransactions(_ context.Context, accountID, cursor string) (provider.TransactionPage, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.takeErr("transactions", accountID); err != nil {
		return provider.TransactionPage{}, err
	}
	if err := s.takeErr("transactions", accountID+"@"+cursor); err != nil {
		return provider.TransactionPage{}, err
	}
	pages, ok := s.pages[accountID]
	if !ok {
		if _, exists := s.accounts[accountID]; !exists {
			return provider.TransactionPage{}, provider.ErrAccountNotFound
		}
		return provider.TransactionPage{}, nil
	}
	return pages[cursor], nil
}

func (s *Store) GetIdentity(_ context.Context, accountID string) (provider.Identity, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.takeErr("identity", accountID); err != nil {
		return provider.Identity{}, err
	}
	return s.identities[accountID], nil
}

func (s *Store) Unlink(_ context.Context, accountID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.takeErr("unlink", accountID); err != nil {
		return err
	}
	s.Unlinked = append(s.Unlinked, accountID)
	return nil
}
