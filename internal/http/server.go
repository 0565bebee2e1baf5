// Package http exposes the JSON API: sessions, account linking, sync,
// transactions, balance and category summaries, and statement export.
package http

import (
	"context"
	"net/http"
	"sync"
	"time"

	"balanz/internal/auth"
	"balanz/internal/core"
	"balanz/internal/services"
)

// StatementExporter writes a batch of transactions somewhere external and
// reports how many rows landed. Nil exporter disables the export endpoint.
type StatementExporter interface {
	ExportStatement(ctx context.Context, txs []core.Transaction, from, to time.Time) (int, error)
}

// AccountStore is the slice of storage the handlers read directly.
type AccountStore interface {
	ListAccounts(ctx context.Context, userID string, includeDisconnected bool) ([]core.LinkedAccount, error)
	ListCategories(ctx context.Context) ([]core.Category, error)
	TransactionsBetween(ctx context.Context, userID string, from, to time.Time) ([]core.Transaction, error)
}

type Server struct {
	http.Server

	sessions *auth.Manager
	store    AccountStore
	sync     *services.SyncService
	summary  *services.SummaryService
	txs      *services.TransactionService
	exporter StatementExporter

	rateLimiter  *rateLimiter
	shutdownOnce sync.Once
}

// NewServer configures routes and returns a ready-to-run http.Server.
func NewServer(addr string, sessions *auth.Manager, store AccountStore, syncSvc *services.SyncService, summarySvc *services.SummaryService, txSvc *services.TransactionService, exporter StatementExporter) *Server {
	mux := http.NewServeMux()

	s := &Server{
		Server: http.Server{
			Addr:              addr,
			Handler:           mux,
			ReadHeaderTimeout: 5 * time.Second,
			ReadTimeout:       30 * time.Second,
			WriteTimeout:      2 * time.Minute,
			IdleTimeout:       2 * time.Minute,
		},
		sessions:    sessions,
		store:       store,
		sync:        syncSvc,
		summary:     summarySvc,
		txs:         txSvc,
		exporter:    exporter,
		rateLimiter: newRateLimiter(),
	}

	mux.HandleFunc("GET /healthz", s.handleHealth)
	mux.HandleFunc("POST /api/sessions", s.withRateLimit(s.handleCreateSession))

	mux.HandleFunc("POST /api/accounts/link", s.withSession(s.handleLinkAccount))
	mux.HandleFunc("GET /api/accounts", s.withSession(s.handleListAccounts))
	mux.HandleFunc("DELETE /api/accounts/{id}", s.withSession(s.handleUnlinkAccount))
	mux.HandleFunc("POST /api/sync", s.withSession(s.handleSync))

	mux.HandleFunc("GET /api/transactions", s.withSession(s.handleListTransactions))
	mux.HandleFunc("POST /api/transactions", s.withSession(s.handleCreateTransaction))

	mux.HandleFunc("GET /api/balance", s.withSession(s.handleBalance))
	mux.HandleFunc("GET /api/categories", s.withSession(s.handleListCategories))
	mux.HandleFunc("GET /api/categories/breakdown", s.withSession(s.handleCategoryBreakdown))

	mux.HandleFunc("POST /api/export", s.withSession(s.handleExport))

	return s
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// Shutdown stops the HTTP server and the rate limiter cleanup goroutine.
func (s *Server) Shutdown(ctx context.Context) error {
	var shutdownErr error
	s.shutdownOnce.Do(func() {
		if s.rateLimiter != nil {
			s.rateLimiter.stop()
		}
		shutdownErr = s.Server.Shutdown(ctx)
	})
	return shutdownErr
}
