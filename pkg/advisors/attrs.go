package advisors

import (
	"encoding/json"
	"time"
)

// number reads a numeric attribute. JSON-decoded attributes arrive as
// float64; YAML and hand-built maps may carry ints.
func number(attrs map[string]interface{}, key string) (float64, bool) {
	switch v := attrs[key].(type) {
	case float64:
		return v, true
	case float32:
		return float64(v), true
	case int:
		return float64(v), true
	case int64:
		return float64(v), true
	case json.Number:
		f, err := v.Float64()
		return f, err == nil
	default:
		return 0, false
	}
}

func text(attrs map[string]interface{}, key string) string {
	s, _ := attrs[key].(string)
	return s
}

func stringList(attrs map[string]interface{}, key string) []string {
	switch v := attrs[key].(type) {
	case []string:
		return v
	case []interface{}:
		out := make([]string, 0, len(v))
		for _, item := range v {
			if s, ok := item.(string); ok {
				out = append(out, s)
			}
		}
		return out
	default:
		return nil
	}
}

func timestamp(attrs map[string]interface{}, key string) (time.Time, bool) {
	switch v := attrs[key].(type) {
	case time.Time:
		return v, true
	case string:
		t, err := time.Parse(time.RFC3339, v)
		return t, err == nil
	default:
		return time.Time{}, false
	}
}
