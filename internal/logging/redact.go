package logging

import (
	"encoding/json"
	"fmt"
	"strings"
)

const masked = "****"

// Passwords never keep a visible suffix; they are replaced outright.
var secretKeys = map[string]bool{
	"password":       true,
	"userpassword":   true,
	"ownerpassword":  true,
	"user_password":  true,
	"owner_password": true,
	"upw":            true,
	"opw":            true,
	"token":          true,
	"secret":         true,
}

func RedactValue(value string) string {
	if strings.TrimSpace(value) == "" {
		return ""
	}
	return masked
}

func RedactAny(value any) any {
	switch typed := value.(type) {
	case map[string]any:
		out := make(map[string]any, len(typed))
		for key, val := range typed {
			if isSecretKey(key) {
				out[key] = RedactValue(fmt.Sprint(val))
				continue
			}
			out[key] = RedactAny(val)
		}
		return out
	case map[string]string:
		out := make(map[string]string, len(typed))
		for key, val := range typed {
			if isSecretKey(key) {
				out[key] = RedactValue(val)
				continue
			}
			out[key] = val
		}
		return out
	case []any:
		out := make([]any, len(typed))
		for i, val := range typed {
			out[i] = RedactAny(val)
		}
		return out
	case json.RawMessage:
		return RedactJSON(typed)
	default:
		return value
	}
}

// RedactPayload round-trips a typed payload through JSON so struct fields get the
// same treatment as maps.
func RedactPayload(payload any) any {
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Sprintf("%T", payload)
	}
	return RedactJSON(data)
}

func RedactJSON(raw json.RawMessage) any {
	if len(raw) == 0 {
		return nil
	}
	var payload any
	if err := json.Unmarshal(raw, &payload); err != nil {
		return strings.TrimSpace(string(raw))
	}
	return RedactAny(payload)
}

func isSecretKey(key string) bool {
	return secretKeys[strings.ToLower(strings.TrimSpace(key))]
}
