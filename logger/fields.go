package logger

// Standard field key constants for structured logging.
const (
	FieldService    = "service"
	FieldComponent  = "component"
	FieldConnection = "connection"
	FieldInstance   = "instance"
	FieldKind       = "kind"
	FieldEvent      = "event"
	FieldStatus     = "status"
	FieldChannel    = "channel"
	FieldPattern    = "pattern"
	FieldAddr       = "addr"
	FieldAttempt    = "attempt"
	FieldDelay      = "delay"
	FieldCount      = "count"
	FieldError      = "error"
)

// Fields builds a map[string]interface{} from alternating key-value pairs.
//
//	log.Info("subscribed", logger.Fields(logger.FieldChannel, "news", logger.FieldCount, 1))
func Fields(kvs ...interface{}) map[string]interface{} {
	m := make(map[string]interface{}, len(kvs)/2)
	for i := 0; i < len(kvs)-1; i += 2 {
		if key, ok := kvs[i].(string); ok {
			m[key] = kvs[i+1]
		}
	}
	return m
}

// ErrorFields creates fields for an event that carried an error.
func ErrorFields(event string, err error) map[string]interface{} {
	m := map[string]interface{}{FieldEvent: event}
	if err != nil {
		m[FieldError] = err.Error()
	}
	return m
}
