package ingest

import (
	"slices"

	"ingest/internal/storage"
)

// EntityKind tells standalone entities from associations between entities.
type EntityKind int

const (
	Entity EntityKind = iota
	Association
)

func (k EntityKind) String() string {
	if k == Association {
		return "association"
	}
	return "entity"
}

// Record is one normalized input row. Values has an entry for every field of
// its Kind; nil is the absent marker. Records are not modified after
// Normalize returns them.
type Record struct {
	Line      int
	Kind      EntityKind
	Values    map[string]any
	Key       []any
	Anomalies int
}

// KeyString is the canonical form of the business key.
func (r Record) KeyString() string { return storage.CompositeKey(r.Key...) }

// HasKey reports whether every key part is present. Records with an
// incomplete key never compare equal to another record, like NULL in a SQL
// unique index.
func (r Record) HasKey() bool {
	return len(r.Key) > 0 && !slices.Contains(r.Key, nil)
}

// Row returns the values of columns in order.
func (r Record) Row(columns []string) []any {
	out := make([]any, len(columns))
	for i, c := range columns {
		out[i] = r.Values[c]
	}
	return out
}
