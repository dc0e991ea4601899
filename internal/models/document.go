package models

import (
	"encoding/json"
	"strconv"
	"strings"
)

// Reserved document keys. Everything starting with "_" is bookkeeping and is
// never normalized, diffed or copied into business payloads.
const (
	KeyField            = "_key"
	IDField             = "_id"
	ImportField         = "_import"
	ProductionMetaField = "_productionMeta"
	ImportOriginField   = "_importOrigin"
	ShouldMoveField     = "_shouldMoveToProduction"
)

// Document is a loosely typed JSON object as held by the document store
type Document map[string]any

// IsReserved reports whether key is a bookkeeping key
func IsReserved(key string) bool {
	return strings.HasPrefix(key, "_")
}

// Key returns the store key the document was read under
func (d Document) Key() string {
	s, _ := d[KeyField].(string)
	return s
}

// Path returns the value stored under a dotted path such as "ticketOwner.ownerId"
func (d Document) Path(path string) (any, bool) {
	var cur any = map[string]any(d)
	for _, part := range strings.Split(path, ".") {
		m, ok := AsMap(cur)
		if !ok {
			return nil, false
		}
		cur, ok = m[part]
		if !ok {
			return nil, false
		}
	}
	return cur, true
}

// String returns the value at path rendered as a string, or "" when absent
func (d Document) String(path string) string {
	v, ok := d.Path(path)
	if !ok {
		return ""
	}
	return Stringify(v)
}

// Bool returns the boolean at path and whether it was present as a boolean
func (d Document) Bool(path string) (bool, bool) {
	v, ok := d.Path(path)
	if !ok {
		return false, false
	}
	b, ok := v.(bool)
	return b, ok
}

// Float returns the numeric value at path
func (d Document) Float(path string) (float64, bool) {
	v, ok := d.Path(path)
	if !ok {
		return 0, false
	}
	return ToFloat(v)
}

// SetPath writes v under a dotted path, creating intermediate objects
func (d Document) SetPath(path string, v any) {
	parts := strings.Split(path, ".")
	cur := map[string]any(d)
	for _, part := range parts[:len(parts)-1] {
		next, ok := AsMap(cur[part])
		if !ok {
			next = map[string]any{}
			cur[part] = next
		}
		cur = next
	}
	cur[parts[len(parts)-1]] = v
}

// Clone returns a deep copy
func (d Document) Clone() Document {
	if d == nil {
		return nil
	}
	return Document(cloneMap(d))
}

// Payload returns a copy of the document without reserved keys
func (d Document) Payload() Document {
	out := Document{}
	for k, v := range d {
		if IsReserved(k) {
			continue
		}
		out[k] = cloneValue(v)
	}
	return out
}

// AsMap unwraps both Document and map[string]any values
func AsMap(v any) (map[string]any, bool) {
	switch m := v.(type) {
	case Document:
		return map[string]any(m), true
	case map[string]any:
		return m, true
	default:
		return nil, false
	}
}

// AsSlice unwraps []any and []map[string]any values
func AsSlice(v any) ([]any, bool) {
	switch s := v.(type) {
	case []any:
		return s, true
	case []map[string]any:
		out := make([]any, len(s))
		for i := range s {
			out[i] = s[i]
		}
		return out, true
	case []Document:
		out := make([]any, len(s))
		for i := range s {
			out[i] = map[string]any(s[i])
		}
		return out, true
	default:
		return nil, false
	}
}

// Stringify renders scalar values the way origin systems write identifiers
func Stringify(v any) string {
	switch val := v.(type) {
	case nil:
		return ""
	case string:
		return val
	case float64:
		return strconv.FormatFloat(val, 'f', -1, 64)
	case int:
		return strconv.Itoa(val)
	case int64:
		return strconv.FormatInt(val, 10)
	case bool:
		return strconv.FormatBool(val)
	case json.Number:
		return val.String()
	default:
		return ""
	}
}

// ToFloat converts JSON numbers and numeric strings
func ToFloat(v any) (float64, bool) {
	switch val := v.(type) {
	case float64:
		return val, true
	case float32:
		return float64(val), true
	case int:
		return float64(val), true
	case int64:
		return float64(val), true
	case json.Number:
		f, err := val.Float64()
		return f, err == nil
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(val), 64)
		return f, err == nil
	default:
		return 0, false
	}
}

func cloneMap(m map[string]any) map[string]any {
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = cloneValue(v)
	}
	return out
}

func cloneValue(v any) any {
	switch val := v.(type) {
	case Document:
		return cloneMap(val)
	case map[string]any:
		return cloneMap(val)
	case []any:
		out := make([]any, len(val))
		for i := range val {
			out[i] = cloneValue(val[i])
		}
		return out
	case []map[string]any:
		out := make([]any, len(val))
		for i := range val {
			out[i] = cloneMap(val[i])
		}
		return out
	case []string:
		out := make([]any, len(val))
		for i := range val {
			out[i] = val[i]
		}
		return out
	default:
		return val
	}
}
