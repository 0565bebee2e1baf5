package http

import (
	"errors"
	"net/http"
	"time"

	"balanz/internal/core"
	applog "balanz/internal/log"
	"balanz/internal/provider"
	"balanz/internal/services"
)

type accountResponse struct {
	ID                string     `json:"id"`
	Provider          string     `json:"provider"`
	BankName          string     `json:"bank_name"`
	AccountName       string     `json:"account_name"`
	AccountNumberMask string     `json:"account_number_mask,omitempty"`
	Type              string     `json:"type"`
	Currency          string     `json:"currency"`
	BalanceMinor      int64      `json:"balance_minor"`
	Balance           string     `json:"balance"`
	Status            string     `json:"status"`
	LastSyncedAt      *time.Time `json:"last_synced_at,omitempty"`
}

func toAccountResponse(a core.LinkedAccount) accountResponse {
	return accountResponse{
		ID:                a.ID,
		Provider:          a.Provider,
		BankName:          a.BankName,
		AccountName:       a.AccountName,
		AccountNumberMask: a.AccountNumberMask,
		Type:              string(a.Type),
		Currency:          a.Currency,
		BalanceMinor:      a.BalanceMinor,
		Balance:           core.FormatMinor(a.BalanceMinor, a.Currency),
		Status:            string(a.Status),
		LastSyncedAt:      a.LastSyncedAt,
	}
}

type syncResultResponse struct {
	AccountID         string `json:"account_id"`
	Status            string `json:"status"`
	TransactionsAdded int    `json:"transactions_added"`
	Pages             int    `json:"pages"`
	Error             string `json:"error,omitempty"`
}

func toSyncResultResponse(r services.AccountSyncResult) syncResultResponse {
	out := syncResultResponse{
		AccountID:         r.AccountID,
		Status:            string(r.Status),
		TransactionsAdded: r.TransactionsAdded,
		Pages:             r.Pages,
	}
	if r.Err != nil {
		out.Error = r.Err.Error()
	}
	return out
}

type linkAccountRequest struct {
	Code string `json:"code"`
}

type linkAccountResponse struct {
	Account   accountResponse    `json:"account"`
	FirstSync syncResultResponse `json:"first_sync"`
}

func (s *Server) handleLinkAccount(w http.ResponseWriter, r *http.Request) {
	var req linkAccountRequest
	if !decodeBody(w, r, &req) {
		return
	}
	code := sanitizeInput(req.Code)
	if code == "" {
		writeError(w, http.StatusUnprocessableEntity, "code is required")
		return
	}

	sess := sessionFromContext(r.Context())
	acct, first, err := s.sync.LinkAccount(r.Context(), sess, code)
	if err != nil {
		applog.FromContext(r.Context()).Error("Account link failed",
			applog.FieldError, err,
			applog.FieldUserID, sess.UserID)
		writeError(w, linkStatus(err), err.Error())
		return
	}

	writeJSON(w, http.StatusCreated, linkAccountResponse{
		Account:   toAccountResponse(acct),
		FirstSync: toSyncResultResponse(first),
	})
}

func linkStatus(err error) int {
	switch {
	case errors.Is(err, provider.ErrInvalidCode):
		return http.StatusUnprocessableEntity
	case errors.Is(err, provider.ErrProviderUnavailable):
		return http.StatusBadGateway
	case errors.Is(err, provider.ErrAuthExpired):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

func (s *Server) handleListAccounts(w http.ResponseWriter, r *http.Request) {
	sess := sessionFromContext(r.Context())
	includeDisconnected := r.URL.Query().Get("all") == "true"

	accounts, err := s.store.ListAccounts(r.Context(), sess.UserID, includeDisconnected)
	if err != nil {
		applog.FromContext(r.Context()).Error("Failed to list accounts",
			applog.FieldError, err,
			applog.FieldUserID, sess.UserID)
		writeError(w, http.StatusInternalServerError, "could not list accounts")
		return
	}

	out := make([]accountResponse, 0, len(accounts))
	for _, a := range accounts {
		out = append(out, toAccountResponse(a))
	}
	writeJSON(w, http.StatusOK, map[string]any{"accounts": out})
}

func (s *Server) handleUnlinkAccount(w http.ResponseWriter, r *http.Request) {
	sess := sessionFromContext(r.Context())
	accountID := r.PathValue("id")

	if err := s.sync.UnlinkAccount(r.Context(), sess, accountID); err != nil {
		if errors.Is(err, services.ErrAccountNotLinked) {
			writeError(w, http.StatusNotFound, "account not linked")
			return
		}
		applog.FromContext(r.Context()).Error("Unlink failed",
			applog.FieldError, err,
			applog.FieldAccountID, accountID)
		writeError(w, http.StatusInternalServerError, "could not unlink account")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type syncRequest struct {
	AccountIDs []string `json:"account_ids"`
}

type syncResponse struct {
	Processed         int                  `json:"processed"`
	Succeeded         int                  `json:"succeeded"`
	Failed            int                  `json:"failed"`
	TransactionsAdded int                  `json:"transactions_added"`
	Accounts          []syncResultResponse `json:"accounts"`
}

// handleSync runs a batch sync for the caller's accounts. Per-account
// failures are reported in the body; the request itself succeeds.
func (s *Server) handleSync(w http.ResponseWriter, r *http.Request) {
	var req syncRequest
	if !decodeOptionalBody(w, r, &req) {
		return
	}

	sess := sessionFromContext(r.Context())
	report, err := s.sync.SyncAccounts(r.Context(), sess, req.AccountIDs...)
	if err != nil {
		applog.FromContext(r.Context()).Error("Batch sync failed",
			applog.FieldError, err,
			applog.FieldUserID, sess.UserID)
		writeError(w, http.StatusInternalServerError, "sync failed")
		return
	}

	out := syncResponse{
		Processed:         report.Processed,
		Succeeded:         report.Succeeded,
		Failed:            report.Failed,
		TransactionsAdded: report.TransactionsAdded,
	}
	for _, res := range report.Accounts {
		out.Accounts = append(out.Accounts, toSyncResultResponse(res))
	}
	writeJSON(w, http.StatusOK, out)
}
