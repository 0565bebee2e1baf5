package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"balanz/internal/amqp"
	"balanz/internal/auth"
	"balanz/internal/config"
	"balanz/internal/export"
	apphttp "balanz/internal/http"
	applog "balanz/internal/log"
	"balanz/internal/provider/mono"
	"balanz/internal/services"
	"balanz/internal/storage"
)

func main() {
	// Load .env file for local development (ignore errors in production/docker)
	_ = godotenv.Load()

	logger := applog.New(applog.DefaultConfig())
	applog.SetDefault(logger)

	cfg := config.Load()
	if err := cfg.Validate(); err != nil {
		logger.Error("Configuration validation failed", applog.FieldError, err)
		os.Exit(1)
	}

	repo, err := storage.NewRepository(cfg.SQLiteDBPath)
	if err != nil {
		logger.Error("Failed to initialize storage", applog.FieldError, err, "path", cfg.SQLiteDBPath)
		os.Exit(1)
	}
	defer repo.Close()

	monoClient, err := mono.New(mono.Config{
		SecretKey: cfg.MonoSecretKey,
		BaseURL:   cfg.MonoBaseURL,
		PageSize:  cfg.MonoPageSize,
		Timeout:   cfg.SyncTimeout,
	})
	if err != nil {
		logger.Error("Failed to initialize provider client", applog.FieldError, err)
		os.Exit(1)
	}

	// Categorization queue is optional: without AMQP_URL new transactions
	// are still synced, just not categorized asynchronously.
	var queue services.CategorizeEnqueuer
	if cfg.AMQPURL != "" {
		amqpClient, err := amqp.NewClient(cfg.AMQPURL, cfg.AMQPExchange, cfg.AMQPQueue)
		if err != nil {
			logger.Error("Failed to initialize AMQP client", applog.FieldError, err)
			os.Exit(1)
		}
		defer amqpClient.Close()
		queue = amqpClient
		logger.Info("Categorization queue enabled", "queue", cfg.AMQPQueue)
	} else {
		logger.Info("Categorization queue disabled - no AMQP_URL provided")
	}

	sessions, err := auth.NewManager(cfg.JWTSecret, cfg.SessionTTL)
	if err != nil {
		logger.Error("Failed to initialize session manager", applog.FieldError, err)
		os.Exit(1)
	}

	var exporter apphttp.StatementExporter
	if cfg.GoogleSpreadsheetID != "" {
		sheets, err := export.NewSheetsExporter(context.Background(), cfg.GoogleSpreadsheetID, cfg.GoogleSheetName)
		if err != nil {
			logger.Error("Failed to initialize Google Sheets exporter", applog.FieldError, err)
			os.Exit(1)
		}
		exporter = sheets
		logger.Info("Statement export enabled", "spreadsheet_id", cfg.GoogleSpreadsheetID)
	} else {
		logger.Info("Statement export disabled - no GOOGLE_SPREADSHEET_ID provided")
	}

	syncSvc := services.NewSyncService(repo, monoClient, queue, services.SyncConfig{
		Parallelism: cfg.SyncParallelism,
	})
	summarySvc := services.NewSummaryService(repo)
	txSvc := services.NewTransactionService(repo, services.NewCategorizer())

	srv := apphttp.NewServer(":"+cfg.Port, sessions, repo, syncSvc, summarySvc, txSvc, exporter)
	srv.Handler = applog.Middleware(logger)(applog.ComponentMiddleware("http")(srv.Handler))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go func() {
		sigChan := make(chan os.Signal, 1)
		signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
		sig := <-sigChan
		logger.Info("Shutdown signal received", "signal", sig.String())

		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer shutdownCancel()

		if err := srv.Shutdown(shutdownCtx); err != nil {
			logger.Error("Server shutdown error", applog.FieldError, err)
		}
		cancel()
	}()

	logger.Info("Starting balanz server", "port", cfg.Port)
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logger.Error("Server error", applog.FieldError, err, "port", cfg.Port)
		os.Exit(1)
	}

	<-ctx.Done()
	logger.Info("Server stopped gracefully")
}
