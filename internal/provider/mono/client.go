// Package mono implements the provider port against the Mono open-banking
// API (https://api.withmono.com).
package mono

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"balanz/internal/provider"
)

const (
	defaultBaseURL  = "https://api.withmono.com"
	defaultPageSize = 50

	// Backoff for transient failures on idempotent calls.
	retryBase     = 500 * time.Millisecond
	retryFactor   = 2
	retryAttempts = 3
)

// Config holds everything the client needs. The secret key is the static
// credential Mono expects in the mono-sec-key header.
type Config struct {
	SecretKey string
	BaseURL   string
	PageSize  int
	Timeout   time.Duration
}

type Client struct {
	httpClient *http.Client
	secretKey  string
	baseURL    string
	pageSize   int
}

var _ provider.Client = (*Client)(nil)

// New builds a Mono client from config.
func New(cfg Config) (*Client, error) {
	if strings.TrimSpace(cfg.SecretKey) == "" {
		return nil, errors.New("mono: secret key is required")
	}
	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = defaultBaseURL
	}
	pageSize := cfg.PageSize
	if pageSize <= 0 {
		pageSize = defaultPageSize
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Client{
		httpClient: &http.Client{Timeout: timeout},
		secretKey:  cfg.SecretKey,
		baseURL:    strings.TrimRight(baseURL, "/"),
		pageSize:   pageSize,
	}, nil
}

// envelope is the common Mono response wrapper.
type envelope struct {
	Status  string          `json:"status"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data"`
	Meta    *pageMeta       `json:"meta"`
}

type pageMeta struct {
	Total    int    `json:"total"`
	Page     int    `json:"page"`
	Previous string `json:"previous"`
	Next     string `json:"next"`
}

type wireAccount struct {
	ID            string `json:"id"`
	Name          string `json:"name"`
	AccountNumber string `json:"account_number"`
	Type          string `json:"type"`
	Currency      string `json:"currency"`
	Balance       int64  `json:"balance"`
	Institution   struct {
		Name     string `json:"name"`
		BankCode string `json:"bank_code"`
	} `json:"institution"`
}

type wireTransaction struct {
	ID        string `json:"id"`
	Narration string `json:"narration"`
	Amount    int64  `json:"amount"`
	Type      string `json:"type"`
	Category  string `json:"category"`
	Currency  string `json:"currency"`
	Date      string `json:"date"`
}

// ExchangeCode trades a one-time linking code for the durable account id.
// Not retried: the code is single-use and a replay comes back invalid.
func (c *Client) ExchangeCode(ctx context.Context, code string) (provider.AccountRef, error) {
	if strings.TrimSpace(code) == "" {
		return provider.AccountRef{}, provider.ErrInvalidCode
	}
	body, _ := json.Marshal(map[string]string{"code": code})
	env, err := c.do(ctx, http.MethodPost, "/v2/accounts/auth", body, false)
	if err != nil {
		return provider.AccountRef{}, err
	}

	var data struct {
		ID string `json:"id"`
	}
	if err := json.Unmarshal(env.Data, &data); err != nil || data.ID == "" {
		return provider.AccountRef{}, &provider.MalformedResponseError{
			Endpoint: "/v2/accounts/auth",
			Detail:   "missing account id in exchange response",
		}
	}
	return provider.AccountRef{AccountID: data.ID}, nil
}

func (c *Client) ListAccounts(ctx context.Context) ([]provider.Account, error) {
	env, err := c.do(ctx, http.MethodGet, "/v2/accounts", nil, true)
	if err != nil {
		return nil, err
	}
	var rows []wireAccount
	if err := json.Unmarshal(env.Data, &rows); err != nil {
		return nil, &provider.MalformedResponseError{
			Endpoint: "/v2/accounts",
			Detail:   "account list is not an array: " + err.Error(),
		}
	}
	accounts := make([]provider.Account, 0, len(rows))
	for _, row := range rows {
		acct, err := row.toAccount("/v2/accounts")
		if err != nil {
			return nil, err
		}
		accounts = append(accounts, acct)
	}
	return accounts, nil
}

func (c *Client) GetAccount(ctx context.Context, accountID string) (provider.Account, error) {
	path := "/v2/accounts/" + accountID
	env, err := c.do(ctx, http.MethodGet, path, nil, true)
	if err != nil {
		return provider.Account{}, err
	}
	// Mono nests the account under data.account on the detail endpoint.
	var detail struct {
		Account *wireAccount `json:"account"`
	}
	if err := json.Unmarshal(env.Data, &detail); err != nil || detail.Account == nil {
		var flat wireAccount
		if err := json.Unmarshal(env.Data, &flat); err != nil || flat.ID == "" {
			return provider.Account{}, &provider.MalformedResponseError{
				Endpoint: path,
				Detail:   "unrecognized account payload",
			}
		}
		return flat.toAccount(path)
	}
	return detail.Account.toAccount(path)
}

// ListTransactions fetches one page. The cursor is the page number to
// request; empty means page 1. The returned Next cursor is empty once the
// provider reports no further page.
func (c *Client) ListTransactions(ctx context.Context, accountID, cursor string) (provider.TransactionPage, error) {
	page := 1
	if cursor != "" {
		parsed, err := strconv.Atoi(cursor)
		if err != nil || parsed < 1 {
			return provider.TransactionPage{}, fmt.Errorf("mono: bad transaction cursor %q", cursor)
		}
		page = parsed
	}
	path := fmt.Sprintf("/v2/accounts/%s/transactions?limit=%d&page=%d", accountID, c.pageSize, page)
	env, err := c.do(ctx, http.MethodGet, path, nil, true)
	if err != nil {
		return provider.TransactionPage{}, err
	}

	var rows []wireTransaction
	if err := json.Unmarshal(env.Data, &rows); err != nil {
		return provider.TransactionPage{}, &provider.MalformedResponseError{
			Endpoint: path,
			Detail:   "transaction list is not an array: " + err.Error(),
		}
	}

	out := provider.TransactionPage{Transactions: make([]provider.Transaction, 0, len(rows))}
	for _, row := range rows {
		tx, err := row.toTransaction(path)
		if err != nil {
			return provider.TransactionPage{}, err
		}
		out.Transactions = append(out.Transactions, tx)
	}
	if env.Meta != nil && env.Meta.Next != "" {
		out.Next = strconv.Itoa(page + 1)
	}
	return out, nil
}

func (c *Client) GetIdentity(ctx context.Context, accountID string) (provider.Identity, error) {
	path := "/v2/accounts/" + accountID + "/identity"
	env, err := c.do(ctx, http.MethodGet, path, nil, true)
	if err != nil {
		return provider.Identity{}, err
	}
	var data struct {
		FullName string `json:"full_name"`
		Email    string `json:"email"`
	}
	if err := json.Unmarshal(env.Data, &data); err != nil {
		return provider.Identity{}, &provider.MalformedResponseError{
			Endpoint: path,
			Detail:   "unrecognized identity payload",
		}
	}
	return provider.Identity{FullName: data.FullName, Email: data.Email}, nil
}

func (c *Client) Unlink(ctx context.Context, accountID string) error {
	_, err := c.do(ctx, http.MethodPost, "/v2/accounts/"+accountID+"/unlink", nil, false)
	return err
}

// do performs one request, mapping HTTP status and body shape onto the
// provider taxonomy. Idempotent calls retry ErrProviderUnavailable with
// exponential backoff; everything else surfaces on the first attempt.
func (c *Client) do(ctx context.Context, method, path string, body []byte, idempotent bool) (*envelope, error) {
	attempts := 1
	if idempotent {
		attempts = retryAttempts
	}

	var lastErr error
	delay := retryBase
	for attempt := 1; attempt <= attempts; attempt++ {
		if attempt > 1 {
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(delay):
			}
			delay *= retryFactor
			slog.DebugContext(ctx, "Retrying provider request",
				"method", method, "path", path, "attempt", attempt)
		}

		env, err := c.doOnce(ctx, method, path, body)
		if err == nil {
			return env, nil
		}
		lastErr = err
		if !errors.Is(err, provider.ErrProviderUnavailable) {
			return nil, err
		}
	}
	return nil, lastErr
}

func (c *Client) doOnce(ctx context.Context, method, path string, body []byte) (*envelope, error) {
	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	req.Header.Set("mono-sec-key", c.secretKey)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, fmt.Errorf("%w: %v", provider.ErrProviderUnavailable, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return nil, fmt.Errorf("%w: read body: %v", provider.ErrProviderUnavailable, err)
	}

	if err := c.mapStatus(resp.StatusCode, path, raw); err != nil {
		return nil, err
	}

	contentType := resp.Header.Get("Content-Type")
	if !strings.Contains(contentType, "application/json") {
		return nil, &provider.MalformedResponseError{
			Endpoint: path,
			Detail:   "unexpected content type " + contentType,
		}
	}

	var env envelope
	if len(raw) == 0 {
		return nil, &provider.MalformedResponseError{Endpoint: path, Detail: "empty body"}
	}
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, &provider.MalformedResponseError{
			Endpoint: path,
			Detail:   "invalid JSON: " + err.Error(),
		}
	}
	return &env, nil
}

func (c *Client) mapStatus(status int, path string, raw []byte) error {
	switch {
	case status >= 200 && status < 300:
		return nil
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		return fmt.Errorf("%w: %s", provider.ErrAuthExpired, apiMessage(raw))
	case status == http.StatusNotFound:
		return fmt.Errorf("%w: %s", provider.ErrAccountNotFound, path)
	case status == http.StatusBadRequest && strings.Contains(path, "/accounts/auth"):
		return fmt.Errorf("%w: %s", provider.ErrInvalidCode, apiMessage(raw))
	case status >= 500 || status == http.StatusTooManyRequests:
		return fmt.Errorf("%w: HTTP %d", provider.ErrProviderUnavailable, status)
	default:
		return fmt.Errorf("mono: HTTP %d from %s: %s", status, path, apiMessage(raw))
	}
}

// apiMessage pulls the human message out of an error body, tolerating
// non-JSON content.
func apiMessage(raw []byte) string {
	var body struct {
		Message string `json:"message"`
		Error   string `json:"error"`
	}
	if err := json.Unmarshal(raw, &body); err == nil {
		if body.Message != "" {
			return body.Message
		}
		if body.Error != "" {
			return body.Error
		}
	}
	if len(raw) > 120 {
		raw = raw[:120]
	}
	return string(raw)
}

func (w wireAccount) toAccount(endpoint string) (provider.Account, error) {
	if w.ID == "" || w.Currency == "" {
		return provider.Account{}, &provider.MalformedResponseError{
			Endpoint: endpoint,
			Detail:   "account missing id or currency",
		}
	}
	return provider.Account{
		ID:            w.ID,
		Name:          w.Name,
		AccountNumber: w.AccountNumber,
		Type:          w.Type,
		Currency:      w.Currency,
		BalanceMinor:  w.Balance,
		BankName:      w.Institution.Name,
		BankCode:      w.Institution.BankCode,
	}, nil
}

func (w wireTransaction) toTransaction(endpoint string) (provider.Transaction, error) {
	if w.ID == "" {
		return provider.Transaction{}, &provider.MalformedResponseError{
			Endpoint: endpoint,
			Detail:   "transaction missing id",
		}
	}
	postedAt, err := parseWireDate(w.Date)
	if err != nil {
		return provider.Transaction{}, &provider.MalformedResponseError{
			Endpoint: endpoint,
			Detail:   fmt.Sprintf("transaction %s has bad date %q", w.ID, w.Date),
		}
	}
	txType := strings.ToLower(w.Type)
	if txType != "credit" && txType != "debit" {
		return provider.Transaction{}, &provider.MalformedResponseError{
			Endpoint: endpoint,
			Detail:   fmt.Sprintf("transaction %s has unknown type %q", w.ID, w.Type),
		}
	}
	return provider.Transaction{
		ID:          w.ID,
		AmountMinor: w.Amount,
		Type:        txType,
		Narration:   w.Narration,
		Merchant:    w.Category,
		PostedAt:    postedAt,
		Currency:    w.Currency,
	}, nil
}

func parseWireDate(s string) (time.Time, error) {
	for _, layout := range []string{time.RFC3339, "2006-01-02T15:04:05.000Z", "2006-01-02"} {
		if t, err := time.Parse(layout, s); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("unparseable date %q", s)
}
