// Table specs live here so both the ingest package and the backend packages can
// import them without circular deps.
package storage

import (
	"fmt"
	"strings"
)

// ColumnType is a logical column type. Each backend maps it to its own DDL.
type ColumnType string

const (
	TypeText      ColumnType = "text"
	TypeVarchar   ColumnType = "varchar"
	TypeBigInt    ColumnType = "bigint"
	TypeInteger   ColumnType = "integer"
	TypeFloat     ColumnType = "float"
	TypeBoolean   ColumnType = "boolean"
	TypeTimestamp ColumnType = "timestamp"
	TypeDate      ColumnType = "date"
)

type TableSpec struct {
	Name        string           `json:"name"`
	Columns     []ColumnSpec     `json:"columns"`
	PrimaryKey  []string         `json:"primary_key,omitempty"`
	Constraints []ConstraintSpec `json:"constraints,omitempty"`
}

type ColumnSpec struct {
	Name   string     `json:"name"`
	Type   ColumnType `json:"type"`
	Length int        `json:"length,omitempty"` // varchar only

	// References is a raw "table(column)" foreign key target.
	References string `json:"references,omitempty"`
	Nullable   *bool  `json:"nullable,omitempty"`
}

type ConstraintSpec struct {
	Kind    string   `json:"kind"` // "unique"
	Columns []string `json:"columns"`
}

// IsNullable reports the column's nullability. nil means nullable, which
// matches SQL's default.
func (c ColumnSpec) IsNullable() bool {
	if c.Nullable == nil {
		return true
	}
	return *c.Nullable
}

// Reference parses References into a Reference. ok is false when the column
// has no foreign key.
func (c ColumnSpec) Reference() (Reference, bool) {
	return ParseReference(c.References)
}

// ParseReference parses "table(column)".
func ParseReference(s string) (Reference, bool) {
	s = strings.TrimSpace(s)
	open := strings.IndexByte(s, '(')
	if open <= 0 || !strings.HasSuffix(s, ")") {
		return Reference{}, false
	}
	col := strings.TrimSpace(s[open+1 : len(s)-1])
	if col == "" {
		return Reference{}, false
	}
	return Reference{Table: strings.TrimSpace(s[:open]), Column: col}, true
}

// Column returns the named column spec.
func (t TableSpec) Column(name string) (ColumnSpec, bool) {
	for _, c := range t.Columns {
		if c.Name == name {
			return c, true
		}
	}
	return ColumnSpec{}, false
}

// UniqueKeys returns every column set that must be unique: the primary key
// first, then each unique constraint in declaration order.
func (t TableSpec) UniqueKeys() [][]string {
	out := make([][]string, 0, 1+len(t.Constraints))
	if len(t.PrimaryKey) > 0 {
		out = append(out, t.PrimaryKey)
	}
	for _, c := range t.Constraints {
		if strings.EqualFold(c.Kind, "unique") && len(c.Columns) > 0 {
			out = append(out, c.Columns)
		}
	}
	return out
}

// Validate checks the spec is self-consistent.
func (t TableSpec) Validate() error {
	if strings.TrimSpace(t.Name) == "" {
		return fmt.Errorf("table name is empty")
	}
	if len(t.Columns) == 0 {
		return fmt.Errorf("table %s: no columns", t.Name)
	}
	seen := make(map[string]bool, len(t.Columns))
	for _, c := range t.Columns {
		if strings.TrimSpace(c.Name) == "" || c.Type == "" {
			return fmt.Errorf("table %s: column name/type must be set", t.Name)
		}
		if seen[c.Name] {
			return fmt.Errorf("table %s: column %s declared twice", t.Name, c.Name)
		}
		seen[c.Name] = true
	}
	for _, key := range t.UniqueKeys() {
		for _, k := range key {
			if !seen[k] {
				return fmt.Errorf("table %s: key column %s not declared", t.Name, k)
			}
		}
	}
	for _, c := range t.Constraints {
		if !strings.EqualFold(c.Kind, "unique") {
			return fmt.Errorf("table %s: unsupported constraint kind %q", t.Name, c.Kind)
		}
		if len(c.Columns) == 0 {
			return fmt.Errorf("table %s: unique constraint requires columns", t.Name)
		}
	}
	return nil
}

// BoolPtr returns a pointer to b, for ColumnSpec.Nullable literals.
func BoolPtr(b bool) *bool { return &b }
