package audit

import (
	"encoding/json"
	"strings"
)

// Redacted replaces sensitive values in audit snapshots.
const Redacted = "[REDACTED]"

// sensitiveKeys holds normalized names: lowercase without '_' or '-'.
var sensitiveKeys = map[string]struct{}{
	"password":      {},
	"passwordhash":  {},
	"hash":          {},
	"secret":        {},
	"token":         {},
	"apikey":        {},
	"clientsecret":  {},
	"sessiontoken":  {},
	"mfasecret":     {},
	"recoverycodes": {},
	"accesstoken":   {},
	"refreshtoken":  {},
	"authorization": {},
	"cookie":        {},
	"privatekey":    {},
	"credential":    {},
	"credentials":   {},
}

var keySeparators = strings.NewReplacer("_", "", "-", "")

// IsSensitiveKey reports whether values under key are always redacted. Case
// and '_' or '-' separators are ignored, so password_hash, passwordHash and
// Password-Hash all match.
func IsSensitiveKey(key string) bool {
	_, ok := sensitiveKeys[keySeparators.Replace(strings.ToLower(key))]
	return ok
}

// Redact returns a deep copy of v with sensitive keys replaced. Structs are
// normalized to their JSON shape first. The input is never modified.
func Redact(v any) any {
	return redactValue(normalize(v))
}

func redactValue(v any) any {
	switch t := v.(type) {
	case map[string]any:
		out := make(map[string]any, len(t))
		for k, val := range t {
			if IsSensitiveKey(k) {
				out[k] = Redacted
				continue
			}
			out[k] = redactValue(normalize(val))
		}
		return out
	case []any:
		out := make([]any, len(t))
		for i, val := range t {
			out[i] = redactValue(normalize(val))
		}
		return out
	default:
		return v
	}
}

// normalize converts values that are not plain JSON shapes into them.
func normalize(v any) any {
	switch v.(type) {
	case nil, string, bool, float64, float32, int, int8, int16, int32, int64,
		uint, uint8, uint16, uint32, uint64, json.Number, map[string]any, []any:
		return v
	}
	raw, err := json.Marshal(v)
	if err != nil {
		return v
	}
	var out any
	if err := json.Unmarshal(raw, &out); err != nil {
		return v
	}
	return out
}

// AsMap returns v as a JSON object if it is one.
func AsMap(v any) (map[string]any, bool) {
	m, ok := normalize(v).(map[string]any)
	return m, ok
}
