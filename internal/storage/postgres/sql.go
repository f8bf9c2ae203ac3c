package postgres

import (
	"fmt"
	"strings"

	"ingest/internal/storage"
)

// maxParams keeps every statement below Postgres's 65535 bind parameter limit.
const maxParams = 60000

// pgIdent quotes an identifier for Postgres.
func pgIdent(s string) string {
	return `"` + strings.ReplaceAll(s, `"`, `""`) + `"`
}

// rowsPerChunk returns how many rows of width columns fit in one statement.
func rowsPerChunk(columns int) int {
	if columns <= 0 {
		return 1
	}
	n := maxParams / columns
	if n < 1 {
		return 1
	}
	return n
}

// buildInsertSQL constructs a single multi-row INSERT and its args.
//
// Why this exists:
//   - It is pure and deterministic, so placeholder numbering and the ON
//     CONFLICT clause are unit tested without a database.
//
// Constraints:
//   - every row must have the same length as columns.
//   - columns must be non-empty.
func buildInsertSQL(table string, columns []string, rows [][]any) (string, []any) {
	var b strings.Builder
	args := writeInsertValues(&b, table, columns, rows)
	b.WriteString(";")
	return b.String(), args
}

// buildUpsertSQL renders INSERT ... ON CONFLICT for one UpsertRequest.
//
// Policy mapping:
//   - ignore: ON CONFLICT (<conflict>) DO NOTHING. A clash on another unique
//     key is still an error. Without conflict columns the target is omitted.
//   - update: ON CONFLICT (<conflict>) DO UPDATE SET c = EXCLUDED.c for every
//     update column. With no update columns left this degrades to DO NOTHING.
func buildUpsertSQL(req storage.UpsertRequest) (string, []any, error) {
	if len(req.Columns) == 0 {
		return "", nil, fmt.Errorf("upsert %s: no columns", req.Table)
	}
	if req.Policy == storage.ConflictUpdate && len(req.ConflictColumns) == 0 {
		return "", nil, fmt.Errorf("upsert %s: update policy requires conflict columns", req.Table)
	}

	var b strings.Builder
	args := writeInsertValues(&b, req.Table, req.Columns, req.Rows)

	update := updateColumns(req)
	if req.Policy != storage.ConflictUpdate || len(update) == 0 {
		b.WriteString(" ON CONFLICT")
		if len(req.ConflictColumns) > 0 {
			b.WriteString(" (")
			writeIdentList(&b, req.ConflictColumns)
			b.WriteString(")")
		}
		b.WriteString(" DO NOTHING;")
		return b.String(), args, nil
	}

	b.WriteString(" ON CONFLICT (")
	writeIdentList(&b, req.ConflictColumns)
	b.WriteString(") DO UPDATE SET ")
	for i, c := range update {
		if i > 0 {
			b.WriteString(", ")
		}
		b.WriteString(pgIdent(c))
		b.WriteString(" = EXCLUDED.")
		b.WriteString(pgIdent(c))
	}
	b.WriteString(";")
	return b.String(), args, nil
}

// updateColumns returns req.UpdateColumns, or every non-conflict column when
// none were given.
func updateColumns(req storage.UpsertRequest) []string {
	if len(req.UpdateColumns) > 0 {
		return req.UpdateColumns
	}
	conflict := make(map[string]bool, len(req.ConflictColumns))
	for _, c := range req.ConflictColumns {
		conflict[c] = true
	}
	out := make([]string, 0, len(req.Columns))
	for _, c := range req.Columns {
		if !conflict[c] {
			out = append(out, c)
		}
	}
	return out
}

func writeInsertValues(b *strings.Builder, table string, columns []string, rows [][]any) []any {
	b.WriteString("INSERT INTO ")
	b.WriteString(table)
	b.WriteString(" (")
	writeIdentList(b, columns)
	b.WriteString(") VALUES ")

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
			fmt.Fprintf(b, "$%d", p)
			args = append(args, row[j])
			p++
		}
		b.WriteString(")")
	}
	return args
}

func writeIdentList(b *strings.Builder, cols []string) {
	for i, c := range cols {
		if i > 0 {
			b.WriteString(", ")
		}
		b.WriteString(pgIdent(c))
	}
}

// buildKeyExistsSQL renders SELECT 1 ... WHERE k1 = $1 AND ... LIMIT 1.
func buildKeyExistsSQL(table string, keyColumns []string) string {
	var b strings.Builder
	b.WriteString("SELECT 1 FROM ")
	b.WriteString(table)
	b.WriteString(" WHERE ")
	for i, c := range keyColumns {
		if i > 0 {
			b.WriteString(" AND ")
		}
		fmt.Fprintf(&b, "%s = $%d", pgIdent(c), i+1)
	}
	b.WriteString(" LIMIT 1")
	return b.String()
}

// buildSelectKeysSQL renders SELECT [DISTINCT] k1, k2 FROM table.
func buildSelectKeysSQL(table string, keyColumns []string, distinct bool) string {
	var b strings.Builder
	b.WriteString("SELECT ")
	if distinct {
		b.WriteString("DISTINCT ")
	}
	writeIdentList(&b, keyColumns)
	b.WriteString(" FROM ")
	b.WriteString(table)
	return b.String()
}

// buildResetSQL truncates a table, restarting identities and cascading to
// tables that reference it.
func buildResetSQL(table string) string {
	return fmt.Sprintf("TRUNCATE TABLE %s RESTART IDENTITY CASCADE;", table)
}

// columnType maps a logical column type to Postgres DDL.
func columnType(c storage.ColumnSpec) (string, error) {
	switch c.Type {
	case storage.TypeText:
		return "TEXT", nil
	case storage.TypeVarchar:
		if c.Length <= 0 {
			return "TEXT", nil
		}
		return fmt.Sprintf("VARCHAR(%d)", c.Length), nil
	case storage.TypeBigInt:
		return "BIGINT", nil
	case storage.TypeInteger:
		return "INTEGER", nil
	case storage.TypeFloat:
		return "DOUBLE PRECISION", nil
	case storage.TypeBoolean:
		return "BOOLEAN", nil
	case storage.TypeTimestamp:
		return "TIMESTAMPTZ", nil
	case storage.TypeDate:
		return "DATE", nil
	default:
		return "", fmt.Errorf("column %s: unsupported type %q", c.Name, c.Type)
	}
}

// buildColumnDef renders a single column definition.
//
// Nullable semantics follow storage.ColumnSpec.IsNullable: nil means NULL.
// Foreign keys are expressed inline in the column definition.
func buildColumnDef(c storage.ColumnSpec) (string, error) {
	typ, err := columnType(c)
	if err != nil {
		return "", err
	}

	var b strings.Builder
	b.WriteString(pgIdent(c.Name))
	b.WriteString(" ")
	b.WriteString(typ)
	if !c.IsNullable() {
		b.WriteString(" NOT NULL")
	}
	if ref, ok := c.Reference(); ok {
		fmt.Fprintf(&b, " REFERENCES %s (%s)", ref.Table, pgIdent(ref.Column))
	}
	return b.String(), nil
}

// splitQualifiedName splits a schema-qualified name into (schema, table).
//
// Examples:
//   - "public.hashtags" => ("public", "hashtags")
//   - "hashtags"        => ("", "hashtags")
func splitQualifiedName(name string) (schema string, table string) {
	name = strings.TrimSpace(name)
	parts := strings.Split(name, ".")
	if len(parts) != 2 {
		return "", name
	}
	return strings.TrimSpace(parts[0]), strings.TrimSpace(parts[1])
}

// buildCreateSQL builds idempotent DDL for one table.
//
// Outputs:
//   - schemaSQL: optional CREATE SCHEMA when t.Name is schema-qualified.
//   - tableSQL:  CREATE TABLE IF NOT EXISTS with PK and UNIQUE constraints.
func buildCreateSQL(t storage.TableSpec) (schemaSQL, tableSQL string, err error) {
	if err := t.Validate(); err != nil {
		return "", "", err
	}

	if schema, _ := splitQualifiedName(t.Name); schema != "" {
		schemaSQL = fmt.Sprintf(`CREATE SCHEMA IF NOT EXISTS %s;`, pgIdent(schema))
	}

	defs := make([]string, 0, len(t.Columns)+1+len(t.Constraints))
	for _, c := range t.Columns {
		def, err := buildColumnDef(c)
		if err != nil {
			return "", "", fmt.Errorf("table %s: %w", t.Name, err)
		}
		defs = append(defs, def)
	}

	if len(t.PrimaryKey) > 0 {
		var b strings.Builder
		b.WriteString("PRIMARY KEY (")
		writeIdentList(&b, t.PrimaryKey)
		b.WriteString(")")
		defs = append(defs, b.String())
	}
	for _, c := range t.Constraints {
		var b strings.Builder
		b.WriteString("UNIQUE (")
		writeIdentList(&b, c.Columns)
		b.WriteString(")")
		defs = append(defs, b.String())
	}

	tableSQL = fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (%s);`, t.Name, strings.Join(defs, ", "))
	return schemaSQL, tableSQL, nil
}
