package logger

// Fields is an alias for map[string]interface{} for convenience.
type Fields map[string]interface{}

// ============================================
// Standard Tracing Fields (Context level)
// These fields are propagated through the call chain
// ============================================

const (
	// FieldRequestID is the HTTP request ID (UUID)
	FieldRequestID = "request_id"

	// FieldRunID is the reload pipeline run ID
	FieldRunID = "run_id"

	// FieldListName is the logical list name being reloaded
	FieldListName = "list"

	// FieldDeliveryID is the webhook delivery ID from the source-control host
	FieldDeliveryID = "delivery_id"

	// FieldComponent is the component/module name
	FieldComponent = "component"

	// FieldTrigger is the surface that started a run (webhook, command)
	FieldTrigger = "trigger"
)

// ============================================
// Standard Metric Fields (Entry level)
// These fields are used for aggregation and alerting
// ============================================

const (
	// FieldDurationMs is the execution duration in milliseconds
	FieldDurationMs = "duration_ms"

	// FieldCount is a generic count field
	FieldCount = "count"

	// FieldSize is the data size in bytes
	FieldSize = "size"

	// FieldStatus is the operation status
	FieldStatus = "status"

	// FieldAttempts is the number of poll attempts spent
	FieldAttempts = "attempts"
)
