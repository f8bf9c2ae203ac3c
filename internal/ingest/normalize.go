package ingest

import (
	"math"
	"strconv"
	"strings"
	"time"

	"ingest/internal/storage"
	"ingest/internal/textclean"
)

// FieldType is the logical type a raw cell is coerced to.
type FieldType int

const (
	Text FieldType = iota
	Integer
	Float
	Boolean
	Timestamp
	Date
	Email
)

// FieldSpec declares one input column.
type FieldSpec struct {
	Name string
	Type FieldType

	// MaxLen truncates Text and bounds Email, in runes. 0 means unbounded.
	MaxLen    int
	StripHTML bool
	Nullable  bool

	// References is a "table(column)" foreign key target.
	References string

	// Small selects a 32-bit integer column.
	Small bool
}

func text(name string, maxLen int) FieldSpec {
	return FieldSpec{Name: name, Type: Text, MaxLen: maxLen, Nullable: true}
}
func email(name string, maxLen int) FieldSpec {
	return FieldSpec{Name: name, Type: Email, MaxLen: maxLen, Nullable: true}
}
func integer(name string) FieldSpec { return FieldSpec{Name: name, Type: Integer, Nullable: true} }
func smallInteger(name string) FieldSpec {
	return FieldSpec{Name: name, Type: Integer, Nullable: true, Small: true}
}
func float(name string) FieldSpec     { return FieldSpec{Name: name, Type: Float, Nullable: true} }
func boolean(name string) FieldSpec   { return FieldSpec{Name: name, Type: Boolean, Nullable: true} }
func timestamp(name string) FieldSpec { return FieldSpec{Name: name, Type: Timestamp, Nullable: true} }
func date(name string) FieldSpec      { return FieldSpec{Name: name, Type: Date, Nullable: true} }

func (f FieldSpec) notNull() FieldSpec { f.Nullable = false; return f }
func (f FieldSpec) html() FieldSpec    { f.StripHTML = true; return f }
func (f FieldSpec) references(ref string) FieldSpec {
	f.References = ref
	return f
}

// ColumnSpec maps the field to its storage column.
func (f FieldSpec) ColumnSpec() storage.ColumnSpec {
	c := storage.ColumnSpec{
		Name:       f.Name,
		References: f.References,
		Nullable:   storage.BoolPtr(f.Nullable),
	}
	switch f.Type {
	case Text, Email:
		if f.MaxLen > 0 {
			c.Type, c.Length = storage.TypeVarchar, f.MaxLen
		} else {
			c.Type = storage.TypeText
		}
	case Integer:
		c.Type = storage.TypeBigInt
		if f.Small {
			c.Type = storage.TypeInteger
		}
	case Float:
		c.Type = storage.TypeFloat
	case Boolean:
		c.Type = storage.TypeBoolean
	case Timestamp:
		c.Type = storage.TypeTimestamp
	case Date:
		c.Type = storage.TypeDate
	}
	return c
}

// naTokens are the cell values read as missing, matching the pandas
// read_csv defaults the input files are produced with.
var naTokens = map[string]struct{}{
	"": {}, "#N/A": {}, "#N/A N/A": {}, "#NA": {}, "-1.#IND": {}, "-1.#QNAN": {},
	"-NaN": {}, "-nan": {}, "1.#IND": {}, "1.#QNAN": {}, "<NA>": {}, "N/A": {},
	"NA": {}, "NULL": {}, "NaN": {}, "None": {}, "n/a": {}, "nan": {}, "null": {},
}

// IsMissing reports whether v is the absent marker or an NA token.
func IsMissing(v any) bool {
	switch t := v.(type) {
	case nil:
		return true
	case string:
		_, ok := naTokens[strings.TrimSpace(t)]
		return ok
	case float64:
		return math.IsNaN(t)
	case float32:
		return math.IsNaN(float64(t))
	}
	return false
}

// Normalize coerces raw cell values to the kind's field types. It never
// fails: a value that cannot be coerced becomes nil and is counted in
// Record.Anomalies. Raw columns that are not fields of the kind are dropped.
func Normalize(k Kind, line int, raw map[string]any) Record {
	rec := Record{
		Line:   line,
		Kind:   k.EntityKind,
		Values: make(map[string]any, len(k.Fields)),
	}
	for _, f := range k.Fields {
		v, ok := coerce(f, raw[f.Name])
		if !ok {
			rec.Anomalies++
		}
		rec.Values[f.Name] = v
	}
	rec.Key = make([]any, len(k.Key))
	for i, c := range k.Key {
		rec.Key[i] = rec.Values[c]
	}
	return rec
}

// coerce returns the typed value or nil. ok is false only when a present
// value had to be discarded.
func coerce(f FieldSpec, v any) (any, bool) {
	if IsMissing(v) {
		return nil, true
	}

	var out any
	switch f.Type {
	case Text:
		s := textclean.Normalize(stringOf(v))
		if f.StripHTML {
			s = textclean.HTMLToText(s)
		}
		if s = textclean.Truncate(s, f.MaxLen); s == "" {
			return nil, true
		}
		return s, true
	case Email:
		s := textclean.CleanEmail(textclean.Normalize(stringOf(v)))
		if s != "" && (f.MaxLen <= 0 || len([]rune(s)) <= f.MaxLen) {
			out = s
		}
	case Integer:
		if n, ok := toInt64(v); ok && (!f.Small || (n >= math.MinInt32 && n <= math.MaxInt32)) {
			out = n
		}
	case Float:
		if x, ok := toFloat64(v); ok {
			out = x
		}
	case Boolean:
		if b, ok := toBool(v); ok {
			out = b
		}
	case Timestamp:
		if ts, ok := toTime(v, timestampLayouts); ok {
			out = ts
		}
	case Date:
		if ts, ok := toTime(v, dateLayouts); ok {
			y, m, d := ts.Date()
			out = time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
		}
	}
	return out, out != nil
}

func stringOf(v any) string {
	switch t := v.(type) {
	case string:
		return t
	case []byte:
		return string(t)
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	case time.Time:
		return t.UTC().Format(time.RFC3339)
	default:
		return storage.NormalizeKey(v)
	}
}

func toInt64(v any) (int64, bool) {
	switch t := v.(type) {
	case int64:
		return t, true
	case int:
		return int64(t), true
	case int32:
		return int64(t), true
	case float64:
		return floatToInt64(t)
	case bool:
		if t {
			return 1, true
		}
		return 0, true
	}

	s := strings.ReplaceAll(strings.TrimSpace(stringOf(v)), ",", "")
	if n, err := strconv.ParseInt(s, 10, 64); err == nil {
		return n, true
	}
	// "1200.0" is how pandas writes an integer column that had a NaN.
	if f, err := strconv.ParseFloat(s, 64); err == nil {
		return floatToInt64(f)
	}
	return 0, false
}

func floatToInt64(f float64) (int64, bool) {
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return 0, false
	}
	f = math.Trunc(f)
	if f < math.MinInt64 || f >= math.MaxInt64 {
		return 0, false
	}
	return int64(f), true
}

func toFloat64(v any) (float64, bool) {
	var f float64
	switch t := v.(type) {
	case float64:
		f = t
	case int64:
		f = float64(t)
	case int:
		f = float64(t)
	default:
		s := strings.ReplaceAll(strings.TrimSpace(stringOf(v)), ",", "")
		var err error
		if f, err = strconv.ParseFloat(s, 64); err != nil {
			return 0, false
		}
	}
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return 0, false
	}
	return f, true
}

func toBool(v any) (bool, bool) {
	if b, ok := v.(bool); ok {
		return b, true
	}
	switch strings.ToLower(strings.TrimSpace(stringOf(v))) {
	case "true", "t", "yes", "y", "1", "1.0":
		return true, true
	case "false", "f", "no", "n", "0", "0.0":
		return false, true
	}
	return false, false
}

var dateLayouts = []string{
	"2006-01-02",
	"2006/01/02",
	"01/02/2006",
	"1/2/2006",
	"02-Jan-2006",
	"Jan 2, 2006",
	"January 2, 2006",
}

var timestampLayouts = append([]string{
	time.RFC3339Nano,
	"2006-01-02 15:04:05.999999999Z07:00",
	"2006-01-02 15:04:05.999999999",
	"2006-01-02T15:04:05.999999999",
	"2006-01-02 15:04",
	"01/02/2006 15:04:05",
	"01/02/2006 15:04",
	"1/2/2006 15:04",
	time.RFC1123Z,
	time.RFC1123,
}, dateLayouts...)

// toTime parses with each layout in order. Values without a zone are UTC.
func toTime(v any, layouts []string) (time.Time, bool) {
	if t, ok := v.(time.Time); ok {
		return t.UTC(), true
	}
	s := strings.TrimSpace(stringOf(v))
	for _, layout := range layouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC(), true
		}
	}
	return time.Time{}, false
}
