package http

import (
	"errors"
	"net/http"
	"time"

	"balanz/internal/core"
	applog "balanz/internal/log"
	"balanz/internal/services"
)

type transactionResponse struct {
	ID          string    `json:"id"`
	AccountID   string    `json:"account_id"`
	PostedAt    time.Time `json:"posted_at"`
	AmountMinor int64     `json:"amount_minor"`
	Amount      string    `json:"amount"`
	Currency    string    `json:"currency"`
	Description string    `json:"description"`
	Merchant    string    `json:"merchant,omitempty"`
	CategoryID  string    `json:"category_id,omitempty"`
	IsManual    bool      `json:"is_manual"`
}

func toTransactionResponse(t core.Transaction) transactionResponse {
	return transactionResponse{
		ID:          t.ID,
		AccountID:   t.AccountID,
		PostedAt:    t.PostedAt,
		AmountMinor: t.AmountMinor,
		Amount:      core.FormatMinor(t.AmountMinor, t.Currency),
		Currency:    t.Currency,
		Description: t.Description,
		Merchant:    t.Merchant,
		CategoryID:  t.CategoryID,
		IsManual:    t.IsManual,
	}
}

func (s *Server) handleListTransactions(w http.ResponseWriter, r *http.Request) {
	sess := sessionFromContext(r.Context())
	limit, offset := parseLimitOffset(r)

	txs, err := s.summary.RecentTransactions(r.Context(), sess, limit, offset)
	if err != nil {
		applog.FromContext(r.Context()).Error("Failed to list transactions",
			applog.FieldError, err,
			applog.FieldUserID, sess.UserID)
		writeError(w, http.StatusInternalServerError, "could not list transactions")
		return
	}

	out := make([]transactionResponse, 0, len(txs))
	for _, t := range txs {
		out = append(out, toTransactionResponse(t))
	}
	writeJSON(w, http.StatusOK, map[string]any{"transactions": out})
}

type createTransactionRequest struct {
	AccountID   string `json:"account_id"`
	Amount      string `json:"amount"`
	Description string `json:"description"`
	Merchant    string `json:"merchant"`
	CategoryID  string `json:"category_id"`
	PostedAt    string `json:"posted_at"`
}

func (s *Server) handleCreateTransaction(w http.ResponseWriter, r *http.Request) {
	var req createTransactionRequest
	if !decodeBody(w, r, &req) {
		return
	}

	var postedAt time.Time
	if req.PostedAt != "" {
		var err error
		postedAt, err = time.Parse("2006-01-02", req.PostedAt)
		if err != nil {
			writeError(w, http.StatusUnprocessableEntity, "posted_at must be YYYY-MM-DD")
			return
		}
	}

	sess := sessionFromContext(r.Context())
	tx, err := s.txs.CreateManual(r.Context(), sess, services.ManualTransactionInput{
		AccountID:   sanitizeInput(req.AccountID),
		Amount:      sanitizeInput(req.Amount),
		Description: sanitizeInput(req.Description),
		Merchant:    sanitizeInput(req.Merchant),
		CategoryID:  sanitizeInput(req.CategoryID),
		PostedAt:    postedAt,
	})
	if err != nil {
		switch {
		case errors.Is(err, services.ErrAccountNotLinked):
			writeError(w, http.StatusNotFound, "account not linked")
		case errors.Is(err, services.ErrAccountDisconnected):
			writeError(w, http.StatusConflict, "account is disconnected")
		case errors.Is(err, core.ErrInvalidAmount),
			errors.Is(err, core.ErrInvalidCurrency),
			errors.Is(err, core.ErrEmptyDescription):
			writeError(w, http.StatusUnprocessableEntity, err.Error())
		default:
			applog.FromContext(r.Context()).Error("Failed to create transaction",
				applog.FieldError, err,
				applog.FieldAccountID, req.AccountID)
			writeError(w, http.StatusUnprocessableEntity, err.Error())
		}
		return
	}

	writeJSON(w, http.StatusCreated, toTransactionResponse(tx))
}
