package amqp

import (
	"encoding/json"
	"time"
)

// CategorizeMessage asks the worker to assign a category to one freshly
// ingested transaction. It carries only the keys; the worker fetches the
// row from storage.
type CategorizeMessage struct {
	AccountID     string    `json:"account_id"`
	TransactionID string    `json:"transaction_id"`
	Timestamp     time.Time `json:"timestamp"`
}

// NewCategorizeMessage creates a message for one transaction.
func NewCategorizeMessage(accountID, transactionID string) *CategorizeMessage {
	return &CategorizeMessage{
		AccountID:     accountID,
		TransactionID: transactionID,
		Timestamp:     time.Now(),
	}
}

// ToJSON converts the message to JSON bytes
func (m *CategorizeMessage) ToJSON() ([]byte, error) {
	return json.Marshal(m)
}

// CategorizeMessageFromJSON creates a message from JSON bytes
func CategorizeMessageFromJSON(data []byte) (*CategorizeMessage, error) {
	var m CategorizeMessage
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, err
	}
	return &m, nil
}
