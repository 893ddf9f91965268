package gateway

import (
	"encoding/json"
	"fmt"
)

// ErrorKind separates caller mistakes from exchange-side failures.
type ErrorKind string

const (
	// KindValidation means the gateway rejected the request shape or
	// content; retrying the identical request will not help.
	KindValidation ErrorKind = "validation"
	// KindUpstream means the gateway or the health-data exchange failed.
	KindUpstream ErrorKind = "upstream"
	// KindUnavailable means the gateway could not be reached or timed
	// out. The request may or may not have been accepted.
	KindUnavailable ErrorKind = "unavailable"
)

// Error is a failed gateway interaction.
type Error struct {
	Kind       ErrorKind
	StatusCode int
	Code       string
	Message    string
	Path       string
}

func (e *Error) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("gateway %s: %s (status %d, code %s)", e.Path, e.Message, e.StatusCode, e.Code)
	}
	return fmt.Sprintf("gateway %s: status %d", e.Path, e.StatusCode)
}

// IsValidation reports whether err is a gateway validation rejection.
func IsValidation(err error) bool {
	ge, ok := err.(*Error)
	return ok && ge.Kind == KindValidation
}

// extractError walks a gateway error body of any of the shapes the exchange
// is known to produce and pulls out a code and human-readable message.
// Shapes seen in the wild include {"error":{"code":...,"message":...}},
// {"code":...,"message":...}, {"error":[{"message":...}]} and bare strings.
func extractError(body []byte) (code, message string) {
	var decoded any
	if err := json.Unmarshal(body, &decoded); err != nil {
		if len(body) > 0 {
			return "", string(body)
		}
		return "", ""
	}
	walkError(decoded, &code, &message)
	return code, message
}

func walkError(v any, code, message *string) {
	switch t := v.(type) {
	case map[string]any:
		if *code == "" {
			switch c := t["code"].(type) {
			case string:
				*code = c
			case float64:
				*code = fmt.Sprintf("%.0f", c)
			}
		}
		if *message == "" {
			if m, ok := t["message"].(string); ok {
				*message = m
			}
		}
		for _, key := range []string{"error", "errors", "detail"} {
			if nested, ok := t[key]; ok {
				walkError(nested, code, message)
			}
		}
	case []any:
		for _, item := range t {
			walkError(item, code, message)
		}
	case string:
		if *message == "" {
			*message = t
		}
	}
}
