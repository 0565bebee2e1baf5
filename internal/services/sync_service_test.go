package services

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"balanz/internal/auth"
	"balanz/internal/core"
	"balanz/internal/provider"
	"balanz/internal/provider/memory"
	"balanz/internal/storage"
)

func newTestRepo(t *testing.T) *storage.Repository {
	t.Helper()
	repo, err := storage.NewRepository(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("NewRepository: %v", err)
	}
	t.Cleanup(func() { _ = repo.Close() })
	return repo
}

func testSession(userID string) auth.Session {
	return auth.Session{
		UserID:    userID,
		IssuedAt:  time.Now(),
		ExpiresAt: time.Now().Add(time.Hour),
	}
}

func scriptAccount(p *memory.Store, id string, balance int64) {
	p.SetAccount(provider.Account{
		ID:            id,
		Name:          "Main Account",
		AccountNumber: "0123456789",
		Type:          "savings_account",
		Currency:      "NGN",
		BalanceMinor:  balance,
		BankName:      "GTBank",
	})
}

func ptx(id string, amount int64, txType string, day int) provider.Transaction {
	return provider.Transaction{
		ID:          id,
		AmountMinor: amount,
		Type:        txType,
		Narration:   "movement " + id,
		PostedAt:    time.Date(2025, 3, day, 10, 0, 0, 0, time.UTC),
		Currency:    "NGN",
	}
}

func seedPending(t *testing.T, repo *storage.Repository, userID, accountID string) {
	t.Helper()
	err := repo.UpsertPendingAccount(context.Background(), core.LinkedAccount{
		ID:        accountID,
		UserID:    userID,
		Provider:  "mono",
		BankName:  "GTBank",
		Currency:  "NGN",
		Status:    core.StatusPending,
		CreatedAt: time.Now(),
	})
	if err != nil {
		t.Fatalf("seed account %s: %v", accountID, err)
	}
}

func TestLinkAccountFirstSync(t *testing.T) {
	repo := newTestRepo(t)
	prov := memory.New()
	prov.AddCode("code_1", "acct_1")
	scriptAccount(prov, "acct_1", 150000)
	prov.SetIdentity("acct_1", provider.Identity{FullName: "Ada Obi"})
	prov.SetPage("acct_1", "", provider.TransactionPage{
		Transactions: []provider.Transaction{
			ptx("tx_1", 1500, "debit", 1),
			ptx("tx_2", 500000, "credit", 2),
		},
	})

	svc := NewSyncService(repo, prov, nil, DefaultSyncConfig())
	sess := testSession("user_1")

	acct, first, err := svc.LinkAccount(context.Background(), sess, "code_1")
	if err != nil {
		t.Fatalf("LinkAccount: %v", err)
	}
	if !first.Succeeded() || first.TransactionsAdded != 2 {
		t.Errorf("first sync = %+v, want 2 transactions added", first)
	}
	if acct.Status != core.StatusActive {
		t.Errorf("status = %q, want active", acct.Status)
	}
	if acct.BalanceMinor != 150000 {
		t.Errorf("balance = %d, want 150000", acct.BalanceMinor)
	}
	if acct.LastSyncedAt == nil {
		t.Error("last synced at not set after a completed pass")
	}
	if acct.Cursor.NextPage != "" {
		t.Errorf("cursor = %q, want empty after completed pass", acct.Cursor.NextPage)
	}
	if acct.AccountNumberMask != "******6789" {
		t.Errorf("account number mask = %q", acct.AccountNumberMask)
	}
	if acct.Type != core.AccountSavings {
		t.Errorf("type = %q, want savings", acct.Type)
	}

	// Direction: provider magnitudes become signed amounts.
	stored, err := repo.GetTransaction(context.Background(), "acct_1", "tx_1")
	if err != nil {
		t.Fatalf("GetTransaction: %v", err)
	}
	if stored.AmountMinor != -1500 {
		t.Errorf("debit stored as %d, want -1500", stored.AmountMinor)
	}
}

func TestLinkAccountIdempotent(t *testing.T) {
	repo := newTestRepo(t)
	prov := memory.New()
	prov.AddCode("code_1", "acct_1")
	prov.AddCode("code_2", "acct_1")
	scriptAccount(prov, "acct_1", 100000)
	prov.SetPage("acct_1", "", provider.TransactionPage{
		Transactions: []provider.Transaction{ptx("tx_1", 1500, "debit", 1)},
	})

	svc := NewSyncService(repo, prov, nil, DefaultSyncConfig())
	sess := testSession("user_1")
	ctx := context.Background()

	if _, _, err := svc.LinkAccount(ctx, sess, "code_1"); err != nil {
		t.Fatalf("first link: %v", err)
	}
	if _, _, err := svc.LinkAccount(ctx, sess, "code_2"); err != nil {
		t.Fatalf("second link: %v", err)
	}

	accounts, err := repo.ListAccounts(ctx, "user_1", true)
	if err != nil {
		t.Fatalf("ListAccounts: %v", err)
	}
	if len(accounts) != 1 {
		t.Fatalf("have %d accounts after relink, want 1", len(accounts))
	}
	count, err := repo.CountTransactions(ctx, "acct_1")
	if err != nil {
		t.Fatalf("CountTransactions: %v", err)
	}
	if count != 1 {
		t.Errorf("have %d transactions after relink, want 1", count)
	}
}

func TestLinkAccountInvalidCode(t *testing.T) {
	repo := newTestRepo(t)
	svc := NewSyncService(repo, memory.New(), nil, DefaultSyncConfig())

	_, _, err := svc.LinkAccount(context.Background(), testSession("user_1"), "nope")
	if !errors.Is(err, provider.ErrInvalidCode) {
		t.Fatalf("LinkAccount = %v, want ErrInvalidCode", err)
	}

	accounts, _ := repo.ListAccounts(context.Background(), "user_1", true)
	if len(accounts) != 0 {
		t.Errorf("failed link persisted %d accounts", len(accounts))
	}
}

func TestLinkAccountFetchFailureLeavesNothing(t *testing.T) {
	repo := newTestRepo(t)
	prov := memory.New()
	prov.AddCode("code_1", "acct_1")
	scriptAccount(prov, "acct_1", 0)
	prov.FailWith("get", "acct_1", provider.ErrProviderUnavailable, false)

	svc := NewSyncService(repo, prov, nil, DefaultSyncConfig())
	_, _, err := svc.LinkAccount(context.Background(), testSession("user_1"), "code_1")
	if !errors.Is(err, provider.ErrProviderUnavailable) {
		t.Fatalf("LinkAccount = %v, want ErrProviderUnavailable", err)
	}

	accounts, _ := repo.ListAccounts(context.Background(), "user_1", true)
	if len(accounts) != 0 {
		t.Errorf("failed link persisted %d accounts", len(accounts))
	}
}

func TestResyncAddsNothingNew(t *testing.T) {
	repo := newTestRepo(t)
	prov := memory.New()
	scriptAccount(prov, "acct_1", 100000)
	prov.SetPage("acct_1", "", provider.TransactionPage{
		Transactions: []provider.Transaction{
			ptx("tx_1", 1500, "debit", 1),
			ptx("tx_2", 2500, "debit", 2),
		},
	})
	seedPending(t, repo, "user_1", "acct_1")

	svc := NewSyncService(repo, prov, nil, DefaultSyncConfig())
	sess := testSession("user_1")
	ctx := context.Background()

	first, err := svc.SyncAccounts(ctx, sess)
	if err != nil {
		t.Fatalf("first sync: %v", err)
	}
	if first.TransactionsAdded != 2 {
		t.Fatalf("first sync added %d, want 2", first.TransactionsAdded)
	}

	second, err := svc.SyncAccounts(ctx, sess)
	if err != nil {
		t.Fatalf("second sync: %v", err)
	}
	if second.TransactionsAdded != 0 {
		t.Errorf("second sync added %d, want 0", second.TransactionsAdded)
	}
	if second.Succeeded != 1 {
		t.Errorf("second sync succeeded = %d, want 1", second.Succeeded)
	}

	count, _ := repo.CountTransactions(ctx, "acct_1")
	if count != 2 {
		t.Errorf("have %d transactions after resync, want 2", count)
	}
}

func TestAbortedPaginationResumes(t *testing.T) {
	repo := newTestRepo(t)
	prov := memory.New()
	scriptAccount(prov, "acct_1", 100000)
	prov.SetPage("acct_1", "", provider.TransactionPage{
		Transactions: []provider.Transaction{
			ptx("tx_1", 1500, "debit", 3),
			ptx("tx_2", 2500, "debit", 2),
		},
		Next: "2",
	})
	prov.SetPage("acct_1", "2", provider.TransactionPage{
		Transactions: []provider.Transaction{ptx("tx_3", 900, "debit", 1)},
	})
	prov.FailWith("transactions", "acct_1@2", provider.ErrProviderUnavailable, false)
	seedPending(t, repo, "user_1", "acct_1")

	svc := NewSyncService(repo, prov, nil, DefaultSyncConfig())
	sess := testSession("user_1")
	ctx := context.Background()

	report, err := svc.SyncAccounts(ctx, sess, "acct_1")
	if err != nil {
		t.Fatalf("SyncAccounts: %v", err)
	}
	if report.Failed != 1 {
		t.Fatalf("aborted pass reported as success: %+v", report)
	}

	// Page one landed and the cursor points at the failed page; the pass
	// as a whole did not complete.
	acct, err := repo.GetAccount(ctx, "user_1", "acct_1")
	if err != nil {
		t.Fatalf("GetAccount: %v", err)
	}
	if acct.Cursor.NextPage != "2" {
		t.Errorf("cursor = %q, want 2", acct.Cursor.NextPage)
	}
	if acct.LastSyncedAt != nil {
		t.Error("last_synced_at advanced on an aborted pass")
	}
	count, _ := repo.CountTransactions(ctx, "acct_1")
	if count != 2 {
		t.Errorf("have %d transactions after aborted pass, want 2", count)
	}

	// The next pass resumes from the stored cursor instead of starting
	// over, and completes.
	report, err = svc.SyncAccounts(ctx, sess, "acct_1")
	if err != nil {
		t.Fatalf("resume sync: %v", err)
	}
	if report.Succeeded != 1 || report.TransactionsAdded != 1 {
		t.Errorf("resume report = %+v, want 1 succeeded / 1 added", report)
	}

	acct, _ = repo.GetAccount(ctx, "user_1", "acct_1")
	if acct.Cursor.NextPage != "" {
		t.Errorf("cursor = %q after completed pass, want empty", acct.Cursor.NextPage)
	}
	if acct.LastSyncedAt == nil {
		t.Error("last_synced_at not set after completed pass")
	}
	count, _ = repo.CountTransactions(ctx, "acct_1")
	if count != 3 {
		t.Errorf("have %d transactions, want 3", count)
	}
}

func TestBatchSyncIsolatesFailures(t *testing.T) {
	repo := newTestRepo(t)
	prov := memory.New()
	scriptAccount(prov, "acct_a", 100000)
	scriptAccount(prov, "acct_b", 200000)
	prov.SetPage("acct_a", "", provider.TransactionPage{
		Transactions: []provider.Transaction{ptx("tx_a1", 1500, "debit", 1)},
	})
	prov.FailWith("get", "acct_b", provider.ErrAuthExpired, true)
	seedPending(t, repo, "user_1", "acct_a")
	seedPending(t, repo, "user_1", "acct_b")

	svc := NewSyncService(repo, prov, nil, SyncConfig{Parallelism: 2})
	sess := testSession("user_1")
	ctx := context.Background()

	report, err := svc.SyncAccounts(ctx, sess)
	if err != nil {
		t.Fatalf("SyncAccounts: %v", err)
	}
	if report.Processed != 2 || report.Succeeded != 1 || report.Failed != 1 {
		t.Errorf("report = %+v, want processed 2 / succeeded 1 / failed 1", report)
	}
	if report.TransactionsAdded != 1 {
		t.Errorf("transactions added = %d, want 1", report.TransactionsAdded)
	}

	a, _ := repo.GetAccount(ctx, "user_1", "acct_a")
	if a.Status != core.StatusActive {
		t.Errorf("healthy account status = %q, want active", a.Status)
	}
	b, _ := repo.GetAccount(ctx, "user_1", "acct_b")
	if b.Status != core.StatusExpired {
		t.Errorf("expired account status = %q, want expired", b.Status)
	}
}

func TestSyncDuplicateIDsWithinPage(t *testing.T) {
	repo := newTestRepo(t)
	prov := memory.New()
	scriptAccount(prov, "acct_1", 100000)
	prov.SetPage("acct_1", "", provider.TransactionPage{
		Transactions: []provider.Transaction{
			ptx("tx_1", 1500, "debit", 1),
			ptx("tx_1", 1500, "debit", 1),
		},
	})
	seedPending(t, repo, "user_1", "acct_1")

	svc := NewSyncService(repo, prov, nil, DefaultSyncConfig())
	report, err := svc.SyncAccounts(context.Background(), testSession("user_1"), "acct_1")
	if err != nil {
		t.Fatalf("SyncAccounts: %v", err)
	}
	if report.TransactionsAdded != 1 {
		t.Errorf("added %d, want 1 (duplicate id collapses)", report.TransactionsAdded)
	}
	count, _ := repo.CountTransactions(context.Background(), "acct_1")
	if count != 1 {
		t.Errorf("have %d rows, want 1", count)
	}
}

func TestSyncUnknownAccountIsPerAccountFailure(t *testing.T) {
	repo := newTestRepo(t)
	svc := NewSyncService(repo, memory.New(), nil, DefaultSyncConfig())

	report, err := svc.SyncAccounts(context.Background(), testSession("user_1"), "ghost")
	if err != nil {
		t.Fatalf("SyncAccounts: %v", err)
	}
	if report.Processed != 1 || report.Failed != 1 {
		t.Fatalf("report = %+v, want one failure", report)
	}
	if !errors.Is(report.Accounts[0].Err, ErrAccountNotLinked) {
		t.Errorf("failure = %v, want ErrAccountNotLinked", report.Accounts[0].Err)
	}
}

func TestUnlinkAccount(t *testing.T) {
	repo := newTestRepo(t)
	prov := memory.New()
	prov.AddCode("code_1", "acct_1")
	scriptAccount(prov, "acct_1", 100000)
	prov.SetPage("acct_1", "", provider.TransactionPage{
		Transactions: []provider.Transaction{ptx("tx_1", 1500, "debit", 1)},
	})

	svc := NewSyncService(repo, prov, nil, DefaultSyncConfig())
	sess := testSession("user_1")
	ctx := context.Background()

	if _, _, err := svc.LinkAccount(ctx, sess, "code_1"); err != nil {
		t.Fatalf("LinkAccount: %v", err)
	}
	if err := svc.UnlinkAccount(ctx, sess, "acct_1"); err != nil {
		t.Fatalf("UnlinkAccount: %v", err)
	}

	acct, err := repo.GetAccount(ctx, "user_1", "acct_1")
	if err != nil {
		t.Fatalf("GetAccount: %v", err)
	}
	if acct.Status != core.StatusDisconnected {
		t.Errorf("status = %q, want disconnected", acct.Status)
	}
	if len(prov.Unlinked) != 1 || prov.Unlinked[0] != "acct_1" {
		t.Errorf("provider unlink calls = %v", prov.Unlinked)
	}

	// History is retained.
	count, _ := repo.CountTransactions(ctx, "acct_1")
	if count != 1 {
		t.Errorf("transactions after unlink = %d, want 1", count)
	}

	// A named sync on a disconnected account fails per-account.
	report, err := svc.SyncAccounts(ctx, sess, "acct_1")
	if err != nil {
		t.Fatalf("SyncAccounts: %v", err)
	}
	if !errors.Is(report.Accounts[0].Err, ErrAccountDisconnected) {
		t.Errorf("sync on disconnected = %v, want ErrAccountDisconnected", report.Accounts[0].Err)
	}

	// Unlinking again is a no-op.
	if err := svc.UnlinkAccount(ctx, sess, "acct_1"); err != nil {
		t.Errorf("second unlink: %v", err)
	}
}

func TestUnlinkSucceedsWhenProviderFails(t *testing.T) {
	repo := newTestRepo(t)
	prov := memory.New()
	scriptAccount(prov, "acct_1", 0)
	prov.FailWith("unlink", "acct_1", provider.ErrProviderUnavailable, true)
	seedPending(t, repo, "user_1", "acct_1")

	svc := NewSyncService(repo, prov, nil, DefaultSyncConfig())
	if err := svc.UnlinkAccount(context.Background(), testSession("user_1"), "acct_1"); err != nil {
		t.Fatalf("UnlinkAccount: %v", err)
	}
	acct, _ := repo.GetAccount(context.Background(), "user_1", "acct_1")
	if acct.Status != core.StatusDisconnected {
		t.Errorf("status = %q, want disconnected despite provider failure", acct.Status)
	}
}

func TestUnlinkUnknownAccount(t *testing.T) {
	repo := newTestRepo(t)
	svc := NewSyncService(repo, memory.New(), nil, DefaultSyncConfig())
	err := svc.UnlinkAccount(context.Background(), testSession("user_1"), "ghost")
	if !errors.Is(err, ErrAccountNotLinked) {
		t.Errorf("UnlinkAccount = %v, want ErrAccountNotLinked", err)
	}
}

func TestAccountBelongsToOneUser(t *testing.T) {
	repo := newTestRepo(t)
	prov := memory.New()
	prov.AddCode("code_1", "acct_1")
	prov.AddCode("code_2", "acct_1")
	scriptAccount(prov, "acct_1", 100000)

	svc := NewSyncService(repo, prov, nil, DefaultSyncConfig())
	ctx := context.Background()

	if _, _, err := svc.LinkAccount(ctx, testSession("user_1"), "code_1"); err != nil {
		t.Fatalf("first user link: %v", err)
	}
	if _, _, err := svc.LinkAccount(ctx, testSession("user_2"), "code_2"); err == nil {
		t.Error("second user linked an account owned by someone else")
	}
}

type recordingQueue struct {
	published []string
}

func (q *recordingQueue) PublishCategorize(_ context.Context, accountID, txID string) error {
	q.published = append(q.published, accountID+"/"+txID)
	return nil
}

func TestSyncEnqueuesCategorization(t *testing.T) {
	repo := newTestRepo(t)
	prov := memory.New()
	scriptAccount(prov, "acct_1", 100000)
	prov.SetPage("acct_1", "", provider.TransactionPage{
		Transactions: []provider.Transaction{
			ptx("tx_1", 1500, "debit", 1),
			ptx("tx_2", 900, "debit", 2),
		},
	})
	seedPending(t, repo, "user_1", "acct_1")

	queue := &recordingQueue{}
	svc := NewSyncService(repo, prov, queue, SyncConfig{Parallelism: 1})
	if _, err := svc.SyncAccounts(context.Background(), testSession("user_1"), "acct_1"); err != nil {
		t.Fatalf("SyncAccounts: %v", err)
	}
	if len(queue.published) != 2 {
		t.Errorf("published %d categorization messages, want 2", len(queue.published))
	}
}

func TestProviderTransactionMapping(t *testing.T) {
	acct := core.LinkedAccount{ID: "acct_1", UserID: "user_1", Currency: "NGN"}

	debit := providerTransaction(ptx("tx_1", 1500, "debit", 1), acct)
	if debit.AmountMinor != -1500 {
		t.Errorf("debit amount = %d, want -1500", debit.AmountMinor)
	}
	credit := providerTransaction(ptx("tx_2", 1500, "credit", 1), acct)
	if credit.AmountMinor != 1500 {
		t.Errorf("credit amount = %d, want 1500", credit.AmountMinor)
	}

	// Account currency backfills a row missing its own.
	bare := provider.Transaction{ID: "tx_3", AmountMinor: 10, Type: "debit", PostedAt: time.Now()}
	mapped := providerTransaction(bare, acct)
	if mapped.Currency != "NGN" {
		t.Errorf("currency = %q, want NGN", mapped.Currency)
	}
	if mapped.Description == "" {
		t.Error("empty narration not backfilled")
	}
}

// gateProvider parks the first GetAccount call until release is closed and
// counts how many times the provider is actually hit.
type gateProvider struct {
	*memory.Store

	mu       sync.Mutex
	calls    int
	entered  chan struct{}
	release  chan struct{}
	enterOne sync.Once
}

func newGateProvider(inner *memory.Store) *gateProvider {
	return &gateProvider{
		Store:   inner,
		entered: make(chan struct{}),
		release: make(chan struct{}),
	}
}

func (p *gateProvider) GetAccount(ctx context.Context, accountID string) (provider.Account, error) {
	p.mu.Lock()
	p.calls++
	p.mu.Unlock()
	p.enterOne.Do(func() { close(p.entered) })
	select {
	case <-p.release:
	case <-ctx.Done():
		return provider.Account{}, ctx.Err()
	}
	return p.Store.GetAccount(ctx, accountID)
}

func (p *gateProvider) callCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.calls
}

func TestOverlappingSyncsCoalesce(t *testing.T) {
	repo := newTestRepo(t)
	inner := memory.New()
	scriptAccount(inner, "acct_1", 100000)
	inner.SetPage("acct_1", "", provider.TransactionPage{
		Transactions: []provider.Transaction{ptx("tx_1", 1500, "debit", 1)},
	})
	seedPending(t, repo, "user_1", "acct_1")

	prov := newGateProvider(inner)
	svc := NewSyncService(repo, prov, nil, DefaultSyncConfig())
	sess := testSession("user_1")

	reports := make(chan SyncReport, 2)
	errs := make(chan error, 2)
	runSync := func() {
		report, err := svc.SyncAccounts(context.Background(), sess, "acct_1")
		reports <- report
		errs <- err
	}

	go runSync()
	<-prov.entered

	// Second request arrives while the first pass is mid-flight; it must
	// join that pass instead of racing it for the cursor.
	go runSync()
	time.Sleep(100 * time.Millisecond)
	close(prov.release)

	for i := 0; i < 2; i++ {
		if err := <-errs; err != nil {
			t.Fatalf("SyncAccounts: %v", err)
		}
		report := <-reports
		if report.Succeeded != 1 || report.Failed != 0 {
			t.Errorf("report = %+v, want one success", report)
		}
	}

	if got := prov.callCount(); got != 1 {
		t.Errorf("GetAccount hit %d times, want 1 for two overlapping syncs", got)
	}
	count, err := repo.CountTransactions(context.Background(), "acct_1")
	if err != nil {
		t.Fatalf("CountTransactions: %v", err)
	}
	if count != 1 {
		t.Errorf("stored %d transactions, want 1", count)
	}
}

func TestMaskAccountNumber(t *testing.T) {
	tests := []struct{ in, want string }{
		{"0123456789", "******6789"},
		{"1234", "1234"},
		{"", ""},
	}
	for _, tt := range tests {
		if got := maskAccountNumber(tt.in); got != tt.want {
			t.Errorf("maskAccountNumber(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}
