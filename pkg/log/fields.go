package log

const (
	// Request
	FieldRequestID = "request_id"
	FieldMethod    = "method"
	FieldPath      = "path"
	FieldStatus    = "status"
	FieldLatency   = "latency_ms"
	FieldClientIP  = "client_ip"

	// Actor (matches pkg/middleware/auth.go keys)
	FieldUserID   = "user_id"
	FieldUsername = "username"

	// Realtime
	FieldConnectionID = "connection_id"
	FieldGroup        = "group"
	FieldEvent        = "event"
	FieldInstanceID   = "instance_id"

	// Service
	FieldService = "service"
)
