package log

// Common field names for structured logging
const (
	FieldComponent   = "component"
	FieldOperation   = "operation"
	FieldError       = "error"
	FieldDuration    = "duration_ms"
	FieldTable       = "table"
	FieldColumn      = "column"
	FieldRowID       = "row_id"
	FieldRows        = "rows"
	FieldStatement   = "statement"
	FieldPath        = "path"
	FieldAttempts    = "attempts"
	FieldRemaining   = "remaining"
	FieldBatchID     = "batch_id"
	FieldRecordCount = "record_count"
	FieldErrorCount  = "error_count"
	FieldVaultID     = "vault_id"
	FieldAmount      = "amount"
	FieldEventType   = "event_type"
)

// Components defines standard component names
const (
	ComponentApp        = "app"
	ComponentStorage    = "storage"
	ComponentFacade     = "facade"
	ComponentCredential = "credential"
	ComponentBackup     = "backup"
	ComponentVault      = "vault"
	ComponentAMQP       = "amqp"
	ComponentCLI        = "cli"
)

// Operations defines standard operation names
const (
	OpOpen       = "open"
	OpInvalidate = "invalidate"
	OpMigrate    = "migrate"
	OpInsert     = "insert"
	OpVerify     = "verify"
	OpImport     = "import"
	OpExport     = "export"
	OpDeposit    = "deposit"
	OpWithdraw   = "withdraw"
	OpPublish    = "publish"
	OpStartup    = "startup"
	OpShutdown   = "shutdown"
)

// LogFields provides a builder pattern for structured log fields
type LogFields map[string]any

// NewFields creates a new LogFields instance
func NewFields() LogFields {
	return make(LogFields)
}

// WithComponent adds component field
func (f LogFields) WithComponent(component string) LogFields {
	f[FieldComponent] = component
	return f
}

// WithError adds error field
func (f LogFields) WithError(err error) LogFields {
	if err != nil {
		f[FieldError] = err.Error()
	}
	return f
}

// WithOperation adds operation field
func (f LogFields) WithOperation(op string) LogFields {
	f[FieldOperation] = op
	return f
}

// WithTable adds table and row fields
func (f LogFields) WithTable(table string, rowID int64) LogFields {
	f[FieldTable] = table
	if rowID > 0 {
		f[FieldRowID] = rowID
	}
	return f
}

// WithImport adds backup import fields
func (f LogFields) WithImport(batchID string, records, errors int) LogFields {
	f[FieldBatchID] = batchID
	f[FieldRecordCount] = records
	f[FieldErrorCount] = errors
	return f
}

// ToSlice converts LogFields to a slice for slog
func (f LogFields) ToSlice() []any {
	slice := make([]any, 0, len(f)*2)
	for k, v := range f {
		slice = append(slice, k, v)
	}
	return slice
}
