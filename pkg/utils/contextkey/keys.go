package contextkey

// key is a private type to avoid context key collisions across packages.
type key string

const (
	TraceID      key = "trace_id"
	RequestID    key = "request_id"
	UserID       key = "user_id"
	ExecutorHost key = "executor_host"
)

// Fields lists the keys the logger copies from a request context.
var Fields = []key{TraceID, RequestID, UserID, ExecutorHost}

// String returns the field name used in logs.
func (k key) String() string {
	return string(k)
}
