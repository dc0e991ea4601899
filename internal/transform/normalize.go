package transform

import (
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/Guizzs26/go-paysync/internal/models"
)

// Normalize rewrites snake_case keys to camelCase through nested objects and
// arrays. Reserved keys ("_id", "_anything") and non-object values are kept as is.
func Normalize(doc map[string]any) map[string]any {
	if doc == nil {
		return nil
	}
	out := make(map[string]any, len(doc))
	for k, v := range doc {
		if models.IsReserved(k) {
			out[k] = v
			continue
		}
		out[CamelKey(k)] = normalizeValue(v)
	}
	return out
}

// NormalizeDocument is Normalize for store documents
func NormalizeDocument(doc models.Document) models.Document {
	return models.Document(Normalize(doc))
}

func normalizeValue(v any) any {
	switch val := v.(type) {
	case models.Document:
		return Normalize(val)
	case map[string]any:
		return Normalize(val)
	case []any:
		out := make([]any, len(val))
		for i := range val {
			out[i] = normalizeValue(val[i])
		}
		return out
	case []map[string]any:
		out := make([]any, len(val))
		for i := range val {
			out[i] = Normalize(val[i])
		}
		return out
	default:
		return v
	}
}

// CamelKey turns "event_ticket_id" into "eventTicketId". Only an underscore
// followed by a lowercase letter is folded, so "line_2" is left alone.
func CamelKey(key string) string {
	if models.IsReserved(key) || !strings.Contains(key, "_") {
		return key
	}
	var b strings.Builder
	b.Grow(len(key))
	for i := 0; i < len(key); {
		r, size := utf8.DecodeRuneInString(key[i:])
		if r == '_' && i+size < len(key) {
			next, nsize := utf8.DecodeRuneInString(key[i+size:])
			if unicode.IsLower(next) {
				b.WriteRune(unicode.ToUpper(next))
				i += size + nsize
				continue
			}
		}
		b.WriteRune(r)
		i += size
	}
	return b.String()
}
