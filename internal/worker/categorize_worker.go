// Package worker consumes categorization messages and assigns categories to
// stored transactions in the background.
package worker

import (
	"context"
	"fmt"
	"log/slog"

	"balanz/internal/amqp"
	"balanz/internal/services"
)

// CategorizeWorker processes categorize messages from the queue.
type CategorizeWorker struct {
	txService *services.TransactionService
}

func NewCategorizeWorker(txService *services.TransactionService) *CategorizeWorker {
	return &CategorizeWorker{txService: txService}
}

// HandleMessage processes a single categorize message. Retryable failures
// propagate to the consumer, which nacks and requeues.
func (w *CategorizeWorker) HandleMessage(ctx context.Context, msg *amqp.CategorizeMessage) error {
	slog.DebugContext(ctx, "Processing categorize message",
		"account_id", msg.AccountID,
		"transaction_id", msg.TransactionID)

	if err := w.txService.Categorize(ctx, msg.AccountID, msg.TransactionID); err != nil {
		return fmt.Errorf("categorize %s/%s: %w", msg.AccountID, msg.TransactionID, err)
	}
	return nil
}

// Run consumes from the queue until the context is cancelled.
func (w *CategorizeWorker) Run(ctx context.Context, client *amqp.Client) error {
	return client.ConsumeCategorize(ctx, func(msg *amqp.CategorizeMessage) error {
		return w.HandleMessage(ctx, msg)
	})
}
