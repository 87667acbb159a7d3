package orchestrator

import (
	"strings"

	"github.com/ccos-run/ccos/rtfs"
)

// sensitiveKeyMarkers names map-key substrings the Causal Chain must never
// store verbatim (spec.md §4.8 step 3's "redacted secret args").
var sensitiveKeyMarkers = []string{
	"password", "secret", "token", "apikey", "api_key", "credential", "private_key", "auth",
}

// redact renders v as a plain Go value (JSON-friendly, matching
// Action.Metadata's map[string]interface{} shape) with any map key that
// looks like a credential replaced by a fixed placeholder.
func redact(v rtfs.Value) interface{} {
	return redactValue(toInterface(v))
}

func toInterface(v rtfs.Value) interface{} {
	switch v.Kind {
	case rtfs.KNil:
		return nil
	case rtfs.KBool:
		return v.Bool
	case rtfs.KInt:
		return v.Int
	case rtfs.KFloat:
		return v.Float
	case rtfs.KString, rtfs.KKeyword, rtfs.KSymbol:
		return v.Str
	case rtfs.KVector:
		out := make([]interface{}, len(v.Vec))
		for i, item := range v.Vec {
			out[i] = toInterface(item)
		}
		return out
	case rtfs.KMap:
		out := make(map[string]interface{}, len(v.MapKeys))
		for _, k := range v.MapKeys {
			out[k.Str] = toInterface(v.Map[k])
		}
		return out
	default:
		return rtfs.Render(v)
	}
}

func redactValue(v interface{}) interface{} {
	switch t := v.(type) {
	case map[string]interface{}:
		out := make(map[string]interface{}, len(t))
		for k, val := range t {
			if isSensitiveKey(k) {
				out[k] = "[REDACTED]"
			} else {
				out[k] = redactValue(val)
			}
		}
		return out
	case []interface{}:
		out := make([]interface{}, len(t))
		for i, item := range t {
			out[i] = redactValue(item)
		}
		return out
	default:
		return v
	}
}

func isSensitiveKey(k string) bool {
	lk := strings.ToLower(k)
	for _, marker := range sensitiveKeyMarkers {
		if strings.Contains(lk, marker) {
			return true
		}
	}
	return false
}
