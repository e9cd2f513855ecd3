package reconcile

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/Lllllllleong/fleetsync/internal/models"
)

// Extractor pulls a business identifier out of a record. An empty result means
// the record has no identifier under this rule.
type Extractor func(models.Record) string

// Field extracts the named field, or the typed attribute for reserved names
// such as "id".
func Field(name string) Extractor {
	return func(rec models.Record) string {
		v, ok := rec.Value(name)
		if !ok {
			return ""
		}
		return normalize(v)
	}
}

// DefaultExtractors is the identifier chain used when an engine has none:
// numeroRegistro, then id, then registroId.
func DefaultExtractors() []Extractor {
	return []Extractor{Field("numeroRegistro"), Field(models.FieldID), Field("registroId")}
}

// Identifier returns the first non-empty value produced by extractors.
func Identifier(rec models.Record, extractors []Extractor) string {
	for _, extract := range extractors {
		if id := strings.TrimSpace(extract(rec)); id != "" {
			return id
		}
	}
	return ""
}

func normalize(v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return strings.TrimSpace(t)
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	case float32:
		return strconv.FormatFloat(float64(t), 'f', -1, 32)
	case int:
		return strconv.Itoa(t)
	case int64:
		return strconv.FormatInt(t, 10)
	case bool, map[string]any, []any:
		// not identifiers
		return ""
	default:
		return strings.TrimSpace(fmt.Sprint(t))
	}
}
