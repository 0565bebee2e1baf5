// Package storage persists linked accounts, transactions and reference data
// in SQLite. It is the single owner of the schema; the sync layer never
// caches rows across calls.
package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"balanz/internal/core"

	_ "modernc.org/sqlite"
)

// timeLayout keeps stored timestamps fixed-width so lexicographic ordering
// in SQL matches chronological ordering.
const timeLayout = "2006-01-02T15:04:05.000000000Z"

var ErrNotFound = errors.New("storage: not found")

type Repository struct {
	db *sql.DB
}

func NewRepository(dbPath string) (*Repository, error) {
	if dir := filepath.Dir(dbPath); dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("create db directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open sqlite database: %w", err)
	}
	if _, err := db.Exec("PRAGMA foreign_keys = ON"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enable foreign keys: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	if err := RunMigrations(dbPath); err != nil {
		db.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}

	return &Repository{db: db}, nil
}

func (r *Repository) Close() error {
	if r.db != nil {
		return r.db.Close()
	}
	return nil
}

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func parseTime(s string) (time.Time, error) {
	return time.Parse(timeLayout, s)
}

// UpsertPendingAccount creates the linked-account row after a successful
// code exchange, or reuses an existing row for the same provider account.
// Reuse resets the row to pending (the relink flow) without touching the
// cursor or history. A row belonging to another user is never taken over.
func (r *Repository) UpsertPendingAccount(ctx context.Context, a core.LinkedAccount) error {
	if err := a.Validate(); err != nil {
		return err
	}
	res, err := r.db.ExecContext(ctx, `
		INSERT INTO accounts (id, user_id, provider, bank_name, account_name,
			account_number_mask, account_type, currency, balance_minor, status, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, 'pending', ?)
		ON CONFLICT (id) DO UPDATE SET
			status = 'pending',
			bank_name = excluded.bank_name,
			account_name = excluded.account_name,
			account_number_mask = excluded.account_number_mask,
			balance_minor = excluded.balance_minor
		WHERE accounts.user_id = excluded.user_id`,
		a.ID, a.UserID, a.Provider, a.BankName, a.AccountName,
		a.AccountNumberMask, string(a.Type), a.Currency, a.BalanceMinor,
		formatTime(a.CreatedAt))
	if err != nil {
		return fmt.Errorf("upsert account: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("account %s is linked to another user", a.ID)
	}
	return nil
}

func (r *Repository) GetAccount(ctx context.Context, userID, accountID string) (core.LinkedAccount, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT id, user_id, provider, bank_name, account_name, account_number_mask,
			account_type, currency, balance_minor, status, next_page, last_synced_at, created_at
		FROM accounts WHERE id = ? AND user_id = ?`, accountID, userID)
	return scanAccount(row)
}

// ListAccounts returns every non-disconnected account for the user unless
// includeDisconnected is set.
func (r *Repository) ListAccounts(ctx context.Context, userID string, includeDisconnected bool) ([]core.LinkedAccount, error) {
	query := `
		SELECT id, user_id, provider, bank_name, account_name, account_number_mask,
			account_type, currency, balance_minor, status, next_page, last_synced_at, created_at
		FROM accounts WHERE user_id = ?`
	if !includeDisconnected {
		query += ` AND status != 'disconnected'`
	}
	query += ` ORDER BY created_at, id`

	rows, err := r.db.QueryContext(ctx, query, userID)
	if err != nil {
		return nil, fmt.Errorf("list accounts: %w", err)
	}
	defer rows.Close()

	var accounts []core.LinkedAccount
	for rows.Next() {
		a, err := scanAccount(rows)
		if err != nil {
			return nil, err
		}
		accounts = append(accounts, a)
	}
	return accounts, rows.Err()
}

func (r *Repository) SetAccountStatus(ctx context.Context, accountID string, status core.AccountStatus) error {
	res, err := r.db.ExecContext(ctx,
		`UPDATE accounts SET status = ? WHERE id = ?`, string(status), accountID)
	if err != nil {
		return fmt.Errorf("set account status: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// FinishSync records a completed sync pass: fresh balance, cleared cursor
// position for the next incremental run, last_synced_at, and the
// pending/expired -> active transition. Called only after every page of the
// pass has been reconciled.
func (r *Repository) FinishSync(ctx context.Context, accountID string, balanceMinor int64, nextPage string, syncedAt time.Time) error {
	res, err := r.db.ExecContext(ctx, `
		UPDATE accounts
		SET balance_minor = ?, next_page = ?, last_synced_at = ?, status = 'active'
		WHERE id = ? AND status != 'disconnected'`,
		balanceMinor, nextPage, formatTime(syncedAt), accountID)
	if err != nil {
		return fmt.Errorf("finish sync: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// InsertTransactions reconciles one provider page inside a single SQL
// transaction: each row is inserted with ON CONFLICT DO NOTHING so the
// store's (account_id, id) uniqueness is the dedup signal, and the page
// cursor advances in the same transaction. last_synced_at is not touched
// here; only FinishSync sets it. Returns the ids actually inserted, in
// input order.
func (r *Repository) InsertTransactions(ctx context.Context, txs []core.Transaction, accountID, nextPage string) ([]string, error) {
	dbTx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin: %w", err)
	}
	defer dbTx.Rollback()

	var inserted []string
	for _, t := range txs {
		if err := t.Validate(); err != nil {
			return nil, fmt.Errorf("transaction %s: %w", t.ID, err)
		}
		res, err := dbTx.ExecContext(ctx, `
			INSERT INTO transactions (id, account_id, user_id, posted_at, amount_minor,
				currency, description, merchant, category_id, is_manual, created_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT (account_id, id) DO NOTHING`,
			t.ID, t.AccountID, t.UserID, formatTime(t.PostedAt), t.AmountMinor,
			t.Currency, t.Description, t.Merchant, nullable(t.CategoryID),
			boolToInt(t.IsManual), formatTime(t.CreatedAt))
		if err != nil {
			return nil, fmt.Errorf("insert transaction %s: %w", t.ID, err)
		}
		if n, _ := res.RowsAffected(); n > 0 {
			inserted = append(inserted, t.ID)
		}
	}

	if _, err := dbTx.ExecContext(ctx,
		`UPDATE accounts SET next_page = ? WHERE id = ?`, nextPage, accountID); err != nil {
		return nil, fmt.Errorf("advance cursor: %w", err)
	}

	if err := dbTx.Commit(); err != nil {
		return nil, fmt.Errorf("commit: %w", err)
	}

	slog.DebugContext(ctx, "Reconciled transaction page",
		"account_id", accountID,
		"fetched", len(txs),
		"inserted", len(inserted))
	return inserted, nil
}

// InsertManualTransaction stores a user-entered transaction.
func (r *Repository) InsertManualTransaction(ctx context.Context, t core.Transaction) error {
	if err := t.Validate(); err != nil {
		return err
	}
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO transactions (id, account_id, user_id, posted_at, amount_minor,
			currency, description, merchant, category_id, is_manual, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, 1, ?)`,
		t.ID, t.AccountID, t.UserID, formatTime(t.PostedAt), t.AmountMinor,
		t.Currency, t.Description, t.Merchant, nullable(t.CategoryID),
		formatTime(t.CreatedAt))
	if err != nil {
		return fmt.Errorf("insert manual transaction: %w", err)
	}
	return nil
}

func (r *Repository) GetTransaction(ctx context.Context, accountID, txID string) (core.Transaction, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT id, account_id, user_id, posted_at, amount_minor, currency,
			description, merchant, COALESCE(category_id, ''), is_manual, created_at
		FROM transactions WHERE account_id = ? AND id = ?`, accountID, txID)
	return scanTransaction(row)
}

// SetTransactionCategory assigns a category once. A category already set
// (by the user or an earlier worker run) is never overwritten.
func (r *Repository) SetTransactionCategory(ctx context.Context, accountID, txID, categoryID string) error {
	res, err := r.db.ExecContext(ctx, `
		UPDATE transactions SET category_id = ?
		WHERE account_id = ? AND id = ? AND category_id IS NULL`,
		categoryID, accountID, txID)
	if err != nil {
		return fmt.Errorf("set transaction category: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		slog.DebugContext(ctx, "Category already assigned, leaving as is",
			"account_id", accountID, "transaction_id", txID)
	}
	return nil
}

// RecentTransactions pages through a user's transactions newest first, with
// a stable tie-break on created_at then id.
func (r *Repository) RecentTransactions(ctx context.Context, userID string, limit, offset int) ([]core.Transaction, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, account_id, user_id, posted_at, amount_minor, currency,
			description, merchant, COALESCE(category_id, ''), is_manual, created_at
		FROM transactions WHERE user_id = ?
		ORDER BY posted_at DESC, created_at DESC, id DESC
		LIMIT ? OFFSET ?`, userID, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("recent transactions: %w", err)
	}
	defer rows.Close()

	var out []core.Transaction
	for rows.Next() {
		t, err := scanTransaction(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

// TransactionsBetween returns a user's transactions with posted_at in
// [from, to), oldest first. Used by the statement export.
func (r *Repository) TransactionsBetween(ctx context.Context, userID string, from, to time.Time) ([]core.Transaction, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, account_id, user_id, posted_at, amount_minor, currency,
			description, merchant, COALESCE(category_id, ''), is_manual, created_at
		FROM transactions
		WHERE user_id = ? AND posted_at >= ? AND posted_at < ?
		ORDER BY posted_at, created_at, id`,
		userID, formatTime(from), formatTime(to))
	if err != nil {
		return nil, fmt.Errorf("transactions between: %w", err)
	}
	defer rows.Close()

	var out []core.Transaction
	for rows.Next() {
		t, err := scanTransaction(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

func (r *Repository) CountTransactions(ctx context.Context, accountID string) (int64, error) {
	var n int64
	err := r.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM transactions WHERE account_id = ?`, accountID).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count transactions: %w", err)
	}
	return n, nil
}

// BalancesByCurrency sums balance_minor per currency over the user's active
// and expired accounts, along with the freshest last_synced_at and the
// account count. Disconnected and never-synced pending accounts are
// excluded from totals.
func (r *Repository) BalancesByCurrency(ctx context.Context, userID string) (core.Balances, *time.Time, int, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT currency, SUM(balance_minor), COUNT(*), MAX(COALESCE(last_synced_at, ''))
		FROM accounts
		WHERE user_id = ? AND status IN ('active', 'expired')
		GROUP BY currency`, userID)
	if err != nil {
		return nil, nil, 0, fmt.Errorf("balances by currency: %w", err)
	}
	defer rows.Close()

	balances := make(core.Balances)
	var newest *time.Time
	count := 0
	for rows.Next() {
		var (
			currency string
			total    int64
			n        int
			syncedAt string
		)
		if err := rows.Scan(&currency, &total, &n, &syncedAt); err != nil {
			return nil, nil, 0, fmt.Errorf("scan balance row: %w", err)
		}
		balances[currency] = total
		count += n
		if syncedAt != "" {
			t, err := parseTime(syncedAt)
			if err == nil && (newest == nil || t.After(*newest)) {
				newest = &t
			}
		}
	}
	return balances, newest, count, rows.Err()
}

// CategoryTotal is one row of the expense aggregation query.
type CategoryTotal struct {
	Category   core.Category
	TotalMinor int64
}

// ExpenseTotalsByCategory sums debit amounts per expense category for
// posted_at in [from, to). Totals come back as positive magnitudes. Debits
// without a category (or with a non-expense one) land in the uncategorized
// bucket.
func (r *Repository) ExpenseTotalsByCategory(ctx context.Context, userID string, from, to time.Time) ([]CategoryTotal, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT c.id, c.name, c.icon, c.color, c.is_income, c.is_expense, SUM(-t.amount_minor)
		FROM transactions t
		JOIN categories c
			ON c.id = CASE
				WHEN t.category_id IS NOT NULL
					AND EXISTS (SELECT 1 FROM categories e WHERE e.id = t.category_id AND e.is_expense = 1)
				THEN t.category_id
				ELSE 'uncategorized'
			END
		WHERE t.user_id = ? AND t.amount_minor < 0
			AND t.posted_at >= ? AND t.posted_at < ?
		GROUP BY c.id
		ORDER BY SUM(-t.amount_minor) DESC, c.name`,
		userID, formatTime(from), formatTime(to))
	if err != nil {
		return nil, fmt.Errorf("expense totals by category: %w", err)
	}
	defer rows.Close()

	var out []CategoryTotal
	for rows.Next() {
		var (
			row                 CategoryTotal
			isIncome, isExpense int
		)
		if err := rows.Scan(&row.Category.ID, &row.Category.Name, &row.Category.Icon,
			&row.Category.Color, &isIncome, &isExpense, &row.TotalMinor); err != nil {
			return nil, fmt.Errorf("scan category total: %w", err)
		}
		row.Category.IsIncome = isIncome == 1
		row.Category.IsExpense = isExpense == 1
		out = append(out, row)
	}
	return out, rows.Err()
}

func (r *Repository) ListCategories(ctx context.Context) ([]core.Category, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT id, name, icon, color, is_income, is_expense FROM categories ORDER BY name`)
	if err != nil {
		return nil, fmt.Errorf("list categories: %w", err)
	}
	defer rows.Close()

	var out []core.Category
	for rows.Next() {
		var (
			c                   core.Category
			isIncome, isExpense int
		)
		if err := rows.Scan(&c.ID, &c.Name, &c.Icon, &c.Color, &isIncome, &isExpense); err != nil {
			return nil, fmt.Errorf("scan category: %w", err)
		}
		c.IsIncome = isIncome == 1
		c.IsExpense = isExpense == 1
		out = append(out, c)
	}
	return out, rows.Err()
}

// GetRate returns the stored conversion rate from base to quote as a
// decimal string.
func (r *Repository) GetRate(ctx context.Context, base, quote string) (string, error) {
	var rate string
	err := r.db.QueryRowContext(ctx, `
		SELECT rate FROM exchange_rates
		WHERE base_currency = ? AND quote_currency = ?`,
		strings.ToUpper(base), strings.ToUpper(quote)).Scan(&rate)
	if errors.Is(err, sql.ErrNoRows) {
		return "", ErrNotFound
	}
	if err != nil {
		return "", fmt.Errorf("get rate: %w", err)
	}
	return rate, nil
}

func (r *Repository) SetRate(ctx context.Context, base, quote, rate string) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO exchange_rates (base_currency, quote_currency, rate, updated_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT (base_currency, quote_currency) DO UPDATE SET
			rate = excluded.rate, updated_at = excluded.updated_at`,
		strings.ToUpper(base), strings.ToUpper(quote), rate, formatTime(time.Now()))
	if err != nil {
		return fmt.Errorf("set rate: %w", err)
	}
	return nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanAccount(row scanner) (core.LinkedAccount, error) {
	var (
		a            core.LinkedAccount
		accountType  string
		status       string
		nextPage     string
		lastSyncedAt sql.NullString
		createdAt    string
	)
	err := row.Scan(&a.ID, &a.UserID, &a.Provider, &a.BankName, &a.AccountName,
		&a.AccountNumberMask, &accountType, &a.Currency, &a.BalanceMinor,
		&status, &nextPage, &lastSyncedAt, &createdAt)
	if errors.Is(err, sql.ErrNoRows) {
		return core.LinkedAccount{}, ErrNotFound
	}
	if err != nil {
		return core.LinkedAccount{}, fmt.Errorf("scan account: %w", err)
	}
	a.Type = core.AccountType(accountType)
	a.Status = core.AccountStatus(status)
	a.Cursor.NextPage = nextPage
	if lastSyncedAt.Valid && lastSyncedAt.String != "" {
		t, err := parseTime(lastSyncedAt.String)
		if err != nil {
			return core.LinkedAccount{}, fmt.Errorf("parse last_synced_at: %w", err)
		}
		a.LastSyncedAt = &t
		a.Cursor.LastSyncedAt = &t
	}
	if t, err := parseTime(createdAt); err == nil {
		a.CreatedAt = t
	}
	return a, nil
}

func scanTransaction(row scanner) (core.Transaction, error) {
	var (
		t                   core.Transaction
		postedAt, createdAt string
		categoryID          sql.NullString
		isManual            int
	)
	err := row.Scan(&t.ID, &t.AccountID, &t.UserID, &postedAt, &t.AmountMinor,
		&t.Currency, &t.Description, &t.Merchant, &categoryID, &isManual, &createdAt)
	if errors.Is(err, sql.ErrNoRows) {
		return core.Transaction{}, ErrNotFound
	}
	if err != nil {
		return core.Transaction{}, fmt.Errorf("scan transaction: %w", err)
	}
	t.CategoryID = categoryID.String
	t.IsManual = isManual == 1
	if ts, err := parseTime(postedAt); err == nil {
		t.PostedAt = ts
	}
	if ts, err := parseTime(createdAt); err == nil {
		t.CreatedAt = ts
	}
	return t, nil
}

func nullable(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
