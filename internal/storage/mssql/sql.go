package mssql

import (
	"fmt"
	"strings"

	"ingest/internal/storage"
)

// maxParams is kept below SQL Server's 2100 parameter limit.
const maxParams = 2000

// rowsPerStatement returns how many rows of width columns fit in one
// statement.
func rowsPerStatement(columns int) int {
	return max(1, maxParams/max(1, columns))
}

// buildCreateSQL renders CREATE TABLE wrapped in an OBJECT_ID guard.
func buildCreateSQL(t storage.TableSpec) (string, error) {
	if err := t.Validate(); err != nil {
		return "", fmt.Errorf("mssql: %w", err)
	}

	parts := make([]string, 0, len(t.Columns)+1+len(t.Constraints))
	for _, c := range t.Columns {
		def, err := mssqlColumnDef(c)
		if err != nil {
			return "", fmt.Errorf("mssql: table %s: %w", t.Name, err)
		}
		parts = append(parts, def)
	}
	if len(t.PrimaryKey) > 0 {
		parts = append(parts, fmt.Sprintf("PRIMARY KEY (%s)", identList(t.PrimaryKey)))
	}
	for _, con := range t.Constraints {
		parts = append(parts, fmt.Sprintf("UNIQUE (%s)", identList(con.Columns)))
	}

	return wrapCreateIfMissing(t.Name, strings.Join(parts, ", ")), nil
}

// wrapCreateIfMissing wraps a CREATE TABLE statement in an OBJECT_ID guard.
//
// This keeps EnsureTables idempotent without requiring IF NOT EXISTS syntax.
func wrapCreateIfMissing(tableName string, innerDefs string) string {
	return fmt.Sprintf(
		"IF OBJECT_ID(N'%s', N'U') IS NULL BEGIN CREATE TABLE %s (%s); END;",
		strings.ReplaceAll(tableName, "'", "''"),
		mssqlTableIdent(tableName),
		innerDefs,
	)
}

func mssqlType(c storage.ColumnSpec) (string, error) {
	switch c.Type {
	case storage.TypeText:
		return "NVARCHAR(MAX)", nil
	case storage.TypeVarchar:
		if c.Length <= 0 || c.Length > 4000 {
			return "NVARCHAR(MAX)", nil
		}
		return fmt.Sprintf("NVARCHAR(%d)", c.Length), nil
	case storage.TypeBigInt:
		return "BIGINT", nil
	case storage.TypeInteger:
		return "INT", nil
	case storage.TypeFloat:
		return "FLOAT", nil
	case storage.TypeBoolean:
		return "BIT", nil
	case storage.TypeTimestamp:
		return "DATETIME2", nil
	case storage.TypeDate:
		return "DATE", nil
	default:
		return "", fmt.Errorf("column %s: unsupported type %q", c.Name, c.Type)
	}
}

// mssqlColumnDef builds a SQL Server column definition from storage.ColumnSpec.
//
// It respects nullability and attaches a REFERENCES clause if provided.
func mssqlColumnDef(c storage.ColumnSpec) (string, error) {
	typ, err := mssqlType(c)
	if err != nil {
		return "", err
	}

	var b strings.Builder
	b.WriteString(mssqlIdent(c.Name))
	b.WriteString(" ")
	b.WriteString(typ)
	if c.IsNullable() {
		b.WriteString(" NULL")
	} else {
		b.WriteString(" NOT NULL")
	}
	if ref, ok := c.Reference(); ok {
		fmt.Fprintf(&b, " REFERENCES %s (%s)", mssqlTableIdent(ref.Table), mssqlIdent(ref.Column))
	}
	return b.String(), nil
}

// buildBulkInsertSQL builds a single INSERT ... VALUES statement for all rows.
func buildBulkInsertSQL(table string, columns []string, rows [][]any) (string, []any) {
	var b strings.Builder
	b.WriteString("INSERT INTO ")
	b.WriteString(mssqlTableIdent(table))
	b.WriteString(" (")
	b.WriteString(identList(columns))
	b.WriteString(") VALUES ")
	args := writeValues(&b, columns, rows)
	return b.String(), args
}

// buildInsertNotExistsSQL constructs a single INSERT...SELECT...WHERE NOT EXISTS for a chunk of rows.
//
// It materializes incoming rows as a derived table V via VALUES, then inserts only those
// rows that do not match existing rows per keyColumns.
//
// The returned SQL is deterministic for a given input.
func buildInsertNotExistsSQL(table string, columns []string, rows [][]any, keyColumns []string) (string, []any) {
	var b strings.Builder

	b.WriteString("INSERT INTO ")
	b.WriteString(mssqlTableIdent(table))
	b.WriteString(" (")
	b.WriteString(identList(columns))
	b.WriteString(") SELECT ")
	for i, c := range columns {
		if i > 0 {
			b.WriteString(", ")
		}
		b.WriteString("v.")
		b.WriteString(mssqlIdent(c))
	}

	b.WriteString(" FROM (VALUES ")
	args := writeValues(&b, columns, rows)
	b.WriteString(") AS v(")
	b.WriteString(identList(columns))
	b.WriteString(") WHERE NOT EXISTS (SELECT 1 FROM ")
	b.WriteString(mssqlTableIdent(table))
	b.WriteString(" t WHERE ")
	writeJoinOn(&b, keyColumns)
	b.WriteString(")")

	return b.String(), args
}

// buildUpdateFromValuesSQL refreshes updateColumns of rows that already exist
// per keyColumns:
//
//	UPDATE t SET t.[c] = v.[c] FROM [table] t JOIN (VALUES ...) AS v(...) ON t.[k] = v.[k]
func buildUpdateFromValuesSQL(table string, columns []string, rows [][]any, keyColumns, updateColumns []string) (string, []any) {
	var b strings.Builder

	b.WriteString("UPDATE t SET ")
	for i, c := range updateColumns {
		if i > 0 {
			b.WriteString(", ")
		}
		b.WriteString("t.")
		b.WriteString(mssqlIdent(c))
		b.WriteString(" = v.")
		b.WriteString(mssqlIdent(c))
	}
	b.WriteString(" FROM ")
	b.WriteString(mssqlTableIdent(table))
	b.WriteString(" t JOIN (VALUES ")
	args := writeValues(&b, columns, rows)
	b.WriteString(") AS v(")
	b.WriteString(identList(columns))
	b.WriteString(") ON ")
	writeJoinOn(&b, keyColumns)

	return b.String(), args
}

func buildKeyExistsSQL(table string, keyColumns []string, key []any) (string, []any) {
	var b strings.Builder
	b.WriteString("SELECT TOP 1 1 FROM ")
	b.WriteString(mssqlTableIdent(table))
	b.WriteString(" WHERE ")
	for i, c := range keyColumns {
		if i > 0 {
			b.WriteString(" AND ")
		}
		fmt.Fprintf(&b, "%s = @p%d", mssqlIdent(c), i+1)
	}
	return b.String(), append([]any(nil), key...)
}

func buildSelectKeysSQL(table string, keyColumns []string, distinct bool) string {
	var b strings.Builder
	b.WriteString("SELECT ")
	if distinct {
		b.WriteString("DISTINCT ")
	}
	b.WriteString(identList(keyColumns))
	b.WriteString(" FROM ")
	b.WriteString(mssqlTableIdent(table))
	return b.String()
}

func writeValues(b *strings.Builder, columns []string, rows [][]any) []any {
	args := make([]any, 0, len(rows)*len(columns))
	p := 1
	for i, row := range rows {
		if i > 0 {
			b.WriteString(", ")
		}
		b.WriteString("(")
		for j := range columns {
			if j > 0 {
				b.WriteString(", ")
			}
			fmt.Fprintf(b, "@p%d", p)
			args = append(args, row[j])
			p++
		}
		b.WriteString(")")
	}
	return args
}

func writeJoinOn(b *strings.Builder, keyColumns []string) {
	for i, k := range keyColumns {
		if i > 0 {
			b.WriteString(" AND ")
		}
		b.WriteString("t.")
		b.WriteString(mssqlIdent(k))
		b.WriteString(" = v.")
		b.WriteString(mssqlIdent(k))
	}
}

func updateColumns(req storage.UpsertRequest) []string {
	if len(req.UpdateColumns) > 0 {
		return req.UpdateColumns
	}
	conflict := make(map[string]bool, len(req.ConflictColumns))
	for _, c := range req.ConflictColumns {
		conflict[c] = true
	}
	var out []string
	for _, c := range req.Columns {
		if !conflict[c] {
			out = append(out, c)
		}
	}
	return out
}

// dedupeRowsByColumns keeps the first row per key (stable), dropping later
// rows with the same values in keyColumns.
//
// Rows with a NULL key part are always kept, since NULL never equals NULL.
// A key column missing from columns is an error rather than a silent no-op.
func dedupeRowsByColumns(rows [][]any, columns []string, keyColumns []string) ([][]any, error) {
	colIdx := indexColumns(columns)
	idx, err := indicesFor(keyColumns, colIdx)
	if err != nil {
		return nil, err
	}

	seen := make(map[string]struct{}, len(rows))
	out := make([][]any, 0, len(rows))
	key := make([]any, len(idx))
rowLoop:
	for _, row := range rows {
		for i, j := range idx {
			if row[j] == nil {
				out = append(out, row)
				continue rowLoop
			}
			key[i] = row[j]
		}
		k := storage.CompositeKey(key...)
		if _, dup := seen[k]; dup {
			continue
		}
		seen[k] = struct{}{}
		out = append(out, row)
	}
	return out, nil
}

// indexColumns returns a mapping of column name -> index.
func indexColumns(columns []string) map[string]int {
	m := make(map[string]int, len(columns))
	for i, c := range columns {
		m[c] = i
	}
	return m
}

// indicesFor returns the indices for required columns based on colIdx.
//
// This helper returns a friendly error if a required column is missing.
func indicesFor(required []string, colIdx map[string]int) ([]int, error) {
	out := make([]int, len(required))
	for i, c := range required {
		idx, ok := colIdx[c]
		if !ok {
			return nil, fmt.Errorf("column %q not found in columns", c)
		}
		out[i] = idx
	}
	return out, nil
}

// mssqlIdent returns a bracket-quoted identifier, escaping ']' as ']]'.
func mssqlIdent(name string) string {
	return "[" + strings.ReplaceAll(name, "]", "]]") + "]"
}

func identList(cols []string) string {
	out := make([]string, len(cols))
	for i, c := range cols {
		out[i] = mssqlIdent(c)
	}
	return strings.Join(out, ", ")
}

// mssqlTableIdent returns a bracket-quoted identifier for schema-qualified names.
//
// Example:
//
//	"dbo.hashtags" -> [dbo].[hashtags]
func mssqlTableIdent(name string) string {
	parts := strings.Split(name, ".")
	for i := range parts {
		parts[i] = mssqlIdent(strings.TrimSpace(parts[i]))
	}
	return strings.Join(parts, ".")
}
