package storage

import (
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"
)

// keySep joins the parts of a composite key. It cannot appear in trimmed text
// produced by the normalizer.
const keySep = "\x1f"

// NormalizeKey converts a key value to a canonical string form, suitable for
// in-memory key sets (e.g. "fitness" or "8429529").
//
// Backends must not assume a particular underlying type for keys; drivers scan
// integers as int64, int32 or float64 and text as string or []byte. This helper
// keeps key sets consistent across backends and with normalized input values.
func NormalizeKey(v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return strings.TrimSpace(t)
	case []byte:
		return strings.TrimSpace(string(t))
	case int64:
		return strconv.FormatInt(t, 10)
	case int:
		return strconv.Itoa(t)
	case int32:
		return strconv.FormatInt(int64(t), 10)
	case float64:
		if t == math.Trunc(t) && !math.IsInf(t, 0) && math.Abs(t) < 1<<53 {
			return strconv.FormatInt(int64(t), 10)
		}
		return strconv.FormatFloat(t, 'g', -1, 64)
	case json.Number:
		if i, err := t.Int64(); err == nil {
			return strconv.FormatInt(i, 10)
		}
		return t.String()
	case bool:
		return strconv.FormatBool(t)
	case time.Time:
		return t.UTC().Format(time.RFC3339Nano)
	default:
		return strings.TrimSpace(fmt.Sprint(v))
	}
}

// CompositeKey normalizes each part and joins them into one map key.
func CompositeKey(parts ...any) string {
	if len(parts) == 1 {
		return NormalizeKey(parts[0])
	}
	var b strings.Builder
	for i, p := range parts {
		if i > 0 {
			b.WriteString(keySep)
		}
		b.WriteString(NormalizeKey(p))
	}
	return b.String()
}

// KeySet is a set of canonical keys produced by CompositeKey.
type KeySet map[string]struct{}

// NewKeySet returns an empty set with room for n keys.
func NewKeySet(n int) KeySet { return make(KeySet, n) }

// Add inserts the composite key of parts.
func (s KeySet) Add(parts ...any) { s[CompositeKey(parts...)] = struct{}{} }

// Has reports whether the canonical key k is present.
func (s KeySet) Has(k string) bool {
	_, ok := s[k]
	return ok
}

// Len returns the number of keys.
func (s KeySet) Len() int { return len(s) }
