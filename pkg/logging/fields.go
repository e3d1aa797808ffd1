// Package logging defines standardized logging field names and the root zap logger
// construction shared by every component of the bridge.
package logging

// Standard field names, kept consistent across transports, sessions, backends,
// the proxy engine, and the aggregating bridge.
const (
	FieldServer        = "server"
	FieldBackend       = "backend"
	FieldSessionID     = "session_id"
	FieldConnectionID  = "connection_id"
	FieldMethod        = "method"
	FieldRequestID     = "request_id"
	FieldNamespace     = "namespace"
	FieldTransport     = "transport"
	FieldURL           = "url"
	FieldStatus        = "status"
	FieldStatusCode    = "status_code"
	FieldDuration      = "duration_ms"
	FieldAttempt       = "attempt"
	FieldRetryCount    = "retry_count"
	FieldFailureCount  = "failure_count"
	FieldError         = "error"
	FieldErrorCode     = "error_code"
	FieldComponent     = "component"
)

// ServiceName identifies the process for structured logs and trace resources.
const ServiceName = "mcpbridge"
