package http

import (
	"errors"
	"net/http"
	"strings"
	"time"

	"balanz/internal/core"
	applog "balanz/internal/log"
	"balanz/internal/services"
)

type balanceResponse struct {
	PerCurrency    map[string]int64  `json:"per_currency"`
	Formatted      map[string]string `json:"formatted"`
	TargetCurrency string            `json:"target_currency,omitempty"`
	ConvertedMinor *int64            `json:"converted_minor,omitempty"`
	AccountCount   int               `json:"account_count"`
	LastSyncedAt   *time.Time        `json:"last_synced_at,omitempty"`
}

// handleBalance returns balances partitioned by currency. With ?currency=XXX
// it additionally converts the partitions into one scalar; a missing
// exchange rate is a client-visible failure, never a silent cross-currency
// sum.
func (s *Server) handleBalance(w http.ResponseWriter, r *http.Request) {
	sess := sessionFromContext(r.Context())
	target := strings.ToUpper(strings.TrimSpace(r.URL.Query().Get("currency")))

	summary, err := s.summary.TotalBalance(r.Context(), sess, target)
	if err != nil {
		switch {
		case errors.Is(err, services.ErrBadTargetCurrency):
			writeError(w, http.StatusUnprocessableEntity, err.Error())
		case errors.Is(err, services.ErrMissingRate):
			writeError(w, http.StatusConflict, err.Error())
		default:
			applog.FromContext(r.Context()).Error("Failed to compute balance",
				applog.FieldError, err,
				applog.FieldUserID, sess.UserID)
			writeError(w, http.StatusInternalServerError, "could not compute balance")
		}
		return
	}

	out := balanceResponse{
		PerCurrency:    summary.PerCurrency,
		Formatted:      make(map[string]string, len(summary.PerCurrency)),
		TargetCurrency: summary.TargetCurrency,
		AccountCount:   summary.AccountCount,
		LastSyncedAt:   summary.LastSyncedAt,
	}
	for currency, minor := range summary.PerCurrency {
		out.Formatted[currency] = core.FormatMinor(minor, currency)
	}
	if summary.TargetCurrency != "" {
		converted := summary.ConvertedMinor
		out.ConvertedMinor = &converted
	}
	writeJSON(w, http.StatusOK, out)
}

type categoryResponse struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	Icon      string `json:"icon"`
	Color     string `json:"color"`
	IsIncome  bool   `json:"is_income"`
	IsExpense bool   `json:"is_expense"`
}

func (s *Server) handleListCategories(w http.ResponseWriter, r *http.Request) {
	categories, err := s.store.ListCategories(r.Context())
	if err != nil {
		applog.FromContext(r.Context()).Error("Failed to list categories",
			applog.FieldError, err)
		writeError(w, http.StatusInternalServerError, "could not list categories")
		return
	}

	out := make([]categoryResponse, 0, len(categories))
	for _, c := range categories {
		out = append(out, categoryResponse{
			ID:        c.ID,
			Name:      c.Name,
			Icon:      c.Icon,
			Color:     c.Color,
			IsIncome:  c.IsIncome,
			IsExpense: c.IsExpense,
		})
	}
	writeJSON(w, http.StatusOK, map[string]any{"categories": out})
}

type breakdownSliceResponse struct {
	Category   categoryResponse `json:"category"`
	TotalMinor int64            `json:"total_minor"`
	Percent    float64          `json:"percent"`
}

// handleCategoryBreakdown returns expense totals per category for a date
// range, with percentages that add up to exactly 100.
func (s *Server) handleCategoryBreakdown(w http.ResponseWriter, r *http.Request) {
	sess := sessionFromContext(r.Context())

	from, to, err := parseDateRange(r, time.Now().UTC())
	if err != nil {
		writeError(w, http.StatusUnprocessableEntity, "from/to must be YYYY-MM-DD")
		return
	}

	slices, err := s.summary.CategoryBreakdown(r.Context(), sess, from, to)
	if err != nil {
		applog.FromContext(r.Context()).Error("Failed to compute breakdown",
			applog.FieldError, err,
			applog.FieldUserID, sess.UserID)
		writeError(w, http.StatusInternalServerError, "could not compute breakdown")
		return
	}

	out := make([]breakdownSliceResponse, 0, len(slices))
	for _, sl := range slices {
		out = append(out, breakdownSliceResponse{
			Category: categoryResponse{
				ID:        sl.Category.ID,
				Name:      sl.Category.Name,
				Icon:      sl.Category.Icon,
				Color:     sl.Category.Color,
				IsIncome:  sl.Category.IsIncome,
				IsExpense: sl.Category.IsExpense,
			},
			TotalMinor: sl.TotalMinor,
			Percent:    sl.Percent(),
		})
	}
	writeJSON(w, http.StatusOK, map[string]any{"breakdown": out})
}
