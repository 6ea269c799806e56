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
	FieldUserID = "user_id"

	// Real-time entities
	FieldConnID    = "conn_id"
	FieldPeerID    = "peer_id"
	FieldCallID    = "call_id"
	FieldMessageID = "message_id"
	FieldEventType = "event_type"

	// Service
	FieldService = "service"
	FieldNodeID  = "node_id"

	// Log type (for audit log)
	FieldLogType = "log_type"
	LogTypeAudit = "audit"
)
