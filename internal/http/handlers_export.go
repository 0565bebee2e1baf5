package http

import (
	"net/http"
	"time"

	applog "balanz/internal/log"
)

type exportRequest struct {
	From string `json:"from"`
	To   string `json:"to"`
}

type exportResponse struct {
	Rows int    `json:"rows"`
	From string `json:"from"`
	To   string `json:"to"`
}

// handleExport appends the caller's transactions in a date range to the
// configured spreadsheet.
func (s *Server) handleExport(w http.ResponseWriter, r *http.Request) {
	if s.exporter == nil {
		writeError(w, http.StatusNotImplemented, "statement export is not configured")
		return
	}

	var req exportRequest
	if !decodeBody(w, r, &req) {
		return
	}

	from, err := time.Parse("2006-01-02", req.From)
	if err != nil {
		writeError(w, http.StatusUnprocessableEntity, "from must be YYYY-MM-DD")
		return
	}
	to, err := time.Parse("2006-01-02", req.To)
	if err != nil {
		writeError(w, http.StatusUnprocessableEntity, "to must be YYYY-MM-DD")
		return
	}
	if to.Before(from) {
		writeError(w, http.StatusUnprocessableEntity, "to must not be before from")
		return
	}
	// to is inclusive in the request.
	toExclusive := to.AddDate(0, 0, 1)

	sess := sessionFromContext(r.Context())
	txs, err := s.store.TransactionsBetween(r.Context(), sess.UserID, from, toExclusive)
	if err != nil {
		applog.FromContext(r.Context()).Error("Failed to load statement range",
			applog.FieldError, err,
			applog.FieldUserID, sess.UserID)
		writeError(w, http.StatusInternalServerError, "could not load transactions")
		return
	}

	rows, err := s.exporter.ExportStatement(r.Context(), txs, from, to)
	if err != nil {
		applog.FromContext(r.Context()).Error("Statement export failed",
			applog.FieldError, err,
			applog.FieldUserID, sess.UserID)
		writeError(w, http.StatusBadGateway, "statement export failed")
		return
	}

	writeJSON(w, http.StatusOK, exportResponse{
		Rows: rows,
		From: req.From,
		To:   req.To,
	})
}
