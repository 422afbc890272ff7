package crud

import (
	"encoding/json"
	"strings"

	"github.com/blagoySimandov/ampleadmin/internal/metadata"
)

// decodeRows converts raw driver values into wire values: JSON columns are
// parsed, booleans stored as integers become bools, and text arrives as
// strings.
func decodeRows(ent *metadata.Entity, rows []map[string]interface{}) []map[string]any {
	out := make([]map[string]any, len(rows))
	for i, row := range rows {
		decoded := make(map[string]any, len(row))
		for name, v := range row {
			col, _ := ent.Column(name)
			decoded[name] = decodeValue(col.Kind, v)
		}
		out[i] = decoded
	}
	return out
}

func decodeValue(kind metadata.ColumnKind, v any) any {
	if b, ok := v.([]byte); ok {
		v = string(b)
	}
	switch kind {
	case metadata.KindBool:
		switch x := v.(type) {
		case int64:
			return x != 0
		case string:
			return x == "1" || x == "t" || x == "true"
		}
	case metadata.KindJSON:
		if s, ok := v.(string); ok {
			var parsed any
			if err := json.Unmarshal([]byte(s), &parsed); err == nil {
				return parsed
			}
		}
	case metadata.KindArray:
		if s, ok := v.(string); ok {
			if strings.HasPrefix(s, "{") {
				return parsePGArray(s)
			}
			var parsed []any
			if err := json.Unmarshal([]byte(s), &parsed); err == nil {
				return parsed
			}
		}
	}
	return v
}

// parsePGArray parses a one-dimensional postgres array literal such as
// {a,"b c",NULL} into its elements.
func parsePGArray(s string) []any {
	s = strings.TrimSuffix(strings.TrimPrefix(s, "{"), "}")
	out := make([]any, 0)
	if s == "" {
		return out
	}
	var (
		b      strings.Builder
		quoted bool
		inStr  bool
		escape bool
	)
	flush := func() {
		elem := b.String()
		b.Reset()
		if !quoted && strings.EqualFold(elem, "NULL") {
			out = append(out, nil)
		} else {
			out = append(out, elem)
		}
		quoted = false
	}
	for _, r := range s {
		switch {
		case escape:
			b.WriteRune(r)
			escape = false
		case r == '\\' && inStr:
			escape = true
		case r == '"':
			inStr = !inStr
			quoted = true
		case r == ',' && !inStr:
			flush()
		default:
			b.WriteRune(r)
		}
	}
	flush()
	return out
}
