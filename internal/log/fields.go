package log

// Common field names for structured logging
const (
	FieldComponent   = "component"
	FieldRequestID   = "request_id"
	FieldClientIP    = "client_ip"
	FieldMethod      = "method"
	FieldPath        = "path"
	FieldStatusCode  = "status_code"
	FieldDuration    = "duration_ms"
	FieldError       = "error"
	FieldOperation   = "operation"
	FieldUserID      = "user_id"
	FieldAccountID   = "account_id"
	FieldProvider    = "provider"
	FieldTxID        = "transaction_id"
	FieldAmountMinor = "amount_minor"
	FieldCurrency    = "currency"
	FieldCategoryID  = "category_id"
	FieldCursor      = "cursor"
	FieldInserted    = "inserted"
	FieldFetched     = "fetched"
)

// Components defines standard component names
const (
	ComponentApp      = "app"
	ComponentHTTP     = "http"
	ComponentSync     = "sync"
	ComponentProvider = "provider"
	ComponentStorage  = "storage"
	ComponentAMQP     = "amqp"
	ComponentWorker   = "worker"
	ComponentExport   = "export"
	ComponentAuth     = "auth"
)
