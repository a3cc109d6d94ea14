package core

import "strings"

// RedactedValue replaces credential bearing values in logs and rendered
// payloads.
const RedactedValue = "[REDACTED]"

// passKeys are identifiers this subsystem logs for traceability. They stay
// visible even when a token would otherwise match (idempotency_key carries
// no secret, api_key does).
var passKeys = map[string]struct{}{
	"domain":          {},
	"entry_id":        {},
	"flow_id":         {},
	"source":          {},
	"step":            {},
	"announcement_id": {},
	"idempotency_key": {},
	"trace_id":        {},
	"request_id":      {},
}

// redactTokens mark a key as credential bearing wherever they appear in it.
var redactTokens = []string{
	"password",
	"secret",
	"token",
	"authorization",
	"api_key",
	"apikey",
	"access_key",
	"refresh",
	"credential",
	"signature",
}

// RedactSensitiveMap returns a deep copy of metadata with credential
// bearing values replaced by RedactedValue. Nested maps and slices are
// walked; traceability identifiers pass through untouched.
func RedactSensitiveMap(metadata map[string]any) map[string]any {
	out := make(map[string]any, len(metadata))
	for key, value := range metadata {
		if keyIsSensitive(key) {
			out[key] = RedactedValue
			continue
		}
		out[key] = redactAny(value)
	}
	return out
}

// RedactForSchema redacts data the way its declaring schema asks: fields
// the schema marks Sensitive are hidden by name, everything else falls back
// to token matching. A nil schema degrades to RedactSensitiveMap.
func RedactForSchema(schema *DataSchema, data map[string]any) map[string]any {
	if schema == nil {
		return RedactSensitiveMap(data)
	}
	out := make(map[string]any, len(data))
	for key, value := range data {
		if field, known := schema.Field(key); known {
			if field.Sensitive {
				out[key] = RedactedValue
			} else {
				out[key] = redactAny(value)
			}
			continue
		}
		if keyIsSensitive(key) {
			out[key] = RedactedValue
			continue
		}
		out[key] = redactAny(value)
	}
	return out
}

func redactAny(value any) any {
	switch typed := value.(type) {
	case map[string]any:
		return RedactSensitiveMap(typed)
	case []any:
		out := make([]any, len(typed))
		for i, item := range typed {
			out[i] = redactAny(item)
		}
		return out
	default:
		return value
	}
}

func keyIsSensitive(key string) bool {
	key = strings.ToLower(strings.TrimSpace(key))
	if key == "" {
		return false
	}
	if _, pass := passKeys[key]; pass {
		return false
	}
	for _, token := range redactTokens {
		if strings.Contains(key, token) {
			return true
		}
	}
	return false
}
