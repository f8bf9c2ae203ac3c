package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"

	"ingest/internal/storage"
)

// maxParams stays below SQLite's default SQLITE_MAX_VARIABLE_NUMBER (32766).
const maxParams = 30000

// Store implements storage.Store for SQLite.
//
// Key design points vs Postgres:
//   - The pool is pinned to one connection. ":memory:" databases are private to
//     a connection, and PRAGMA foreign_keys is per connection too.
//   - Timestamps are bound as RFC3339Nano text for reliable round trips.
//   - Inside a transaction only the tx is used; touching r.db there would wait
//     forever for the single connection.
type Store struct {
	db *sql.DB
}

func init() {
	storage.Register("sqlite", New)
}

func New(ctx context.Context, cfg storage.Config) (storage.Store, error) {
	db, err := sql.Open("sqlite", cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("sqlite: open: %w", err)
	}
	db.SetMaxOpenConns(1)

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("sqlite: ping: %w", err)
	}
	if _, err := db.ExecContext(ctx, "PRAGMA foreign_keys = ON"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("sqlite: enable foreign keys: %w", err)
	}
	return &Store{db: db}, nil
}

func (r *Store) Close() { _ = r.db.Close() }

// EnsureTables creates missing tables in order. Referenced tables must come
// first.
func (r *Store) EnsureTables(ctx context.Context, tables []storage.TableSpec) error {
	for _, t := range tables {
		ddl, err := buildCreateTableSQL(t)
		if err != nil {
			return err
		}
		if _, err := r.db.ExecContext(ctx, ddl); err != nil {
			return fmt.Errorf("create table %s: %w", t.Name, err)
		}
	}
	return nil
}

func (r *Store) BulkInsert(ctx context.Context, table string, columns []string, rows [][]any) error {
	if len(rows) == 0 {
		return nil
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("bulk insert %s: begin: %w", table, err)
	}
	defer tx.Rollback()

	chunk := rowsPerChunk(len(columns))
	for start := 0; start < len(rows); start += chunk {
		end := min(start+chunk, len(rows))
		q, args := buildInsertSQL(table, columns, rows[start:end])
		if _, err := tx.ExecContext(ctx, q, args...); err != nil {
			return fmt.Errorf("bulk insert %s: %w", table, mapError(err))
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("bulk insert %s: commit: %w", table, mapError(err))
	}
	return nil
}

func (r *Store) Insert(ctx context.Context, table string, columns []string, row []any) error {
	q, args := buildInsertSQL(table, columns, [][]any{row})
	if _, err := r.db.ExecContext(ctx, q, args...); err != nil {
		return fmt.Errorf("insert %s: %w", table, mapError(err))
	}
	return nil
}

func (r *Store) KeyExists(ctx context.Context, table string, keyColumns []string, key []any) (bool, error) {
	var one int
	err := r.db.QueryRowContext(ctx, buildKeyExistsSQL(table, keyColumns), bindArgs(key)...).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("key exists %s: %w", table, err)
	}
	return true, nil
}

func (r *Store) ExistingKeys(ctx context.Context, table string, keyColumns []string) (storage.KeySet, error) {
	return r.selectKeys(ctx, table, keyColumns, false)
}

func (r *Store) ValidForeignKeys(ctx context.Context, refs []storage.Reference) ([]storage.KeySet, error) {
	out := make([]storage.KeySet, len(refs))
	for i, ref := range refs {
		set, err := r.selectKeys(ctx, ref.Table, []string{ref.Column}, true)
		if err != nil {
			return nil, err
		}
		out[i] = set
	}
	return out, nil
}

func (r *Store) selectKeys(ctx context.Context, table string, keyColumns []string, distinct bool) (storage.KeySet, error) {
	q := "SELECT "
	if distinct {
		q += "DISTINCT "
	}
	q += joinIdentList(keyColumns) + " FROM " + table

	rows, err := r.db.QueryContext(ctx, q)
	if err != nil {
		return nil, fmt.Errorf("select keys %s: %w", table, err)
	}
	defer rows.Close()

	set := storage.NewKeySet(0)
	vals := make([]any, len(keyColumns))
	dests := make([]any, len(keyColumns))
	for i := range vals {
		dests[i] = &vals[i]
	}
	for rows.Next() {
		if err := rows.Scan(dests...); err != nil {
			return nil, fmt.Errorf("select keys %s: scan: %w", table, err)
		}
		set.Add(vals...)
	}
	return set, rows.Err()
}

// UpsertBatch runs INSERT ... ON CONFLICT in one transaction. SQLite counts
// rows changed by DO UPDATE as affected.
func (r *Store) UpsertBatch(ctx context.Context, req storage.UpsertRequest) (int64, error) {
	if len(req.Rows) == 0 {
		return 0, nil
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("upsert %s: begin: %w", req.Table, err)
	}
	defer tx.Rollback()

	var total int64
	chunk := rowsPerChunk(len(req.Columns))
	for start := 0; start < len(req.Rows); start += chunk {
		part := req
		part.Rows = req.Rows[start:min(start+chunk, len(req.Rows))]

		q, args, err := buildUpsertSQL(part)
		if err != nil {
			return 0, err
		}
		res, err := tx.ExecContext(ctx, q, args...)
		if err != nil {
			return 0, fmt.Errorf("upsert %s: %w", req.Table, mapError(err))
		}
		n, _ := res.RowsAffected()
		total += n
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("upsert %s: commit: %w", req.Table, mapError(err))
	}
	return total, nil
}

// Reset deletes every row. SQLite has no TRUNCATE.
func (r *Store) Reset(ctx context.Context, table string) error {
	if _, err := r.db.ExecContext(ctx, "DELETE FROM "+table); err != nil {
		return fmt.Errorf("reset %s: %w", table, err)
	}
	return nil
}

func sqlIdent(id string) string {
	// SQLite supports "quoted identifiers"
	return `"` + strings.ReplaceAll(id, `"`, `""`) + `"`
}

func joinIdentList(columns []string) string {
	out := make([]string, len(columns))
	for i, c := range columns {
		out[i] = sqlIdent(c)
	}
	return strings.Join(out, ", ")
}

func rowsPerChunk(columns int) int {
	if columns <= 0 || columns >= maxParams {
		return 1
	}
	return maxParams / columns
}

func columnType(c storage.ColumnSpec) (string, error) {
	switch c.Type {
	case storage.TypeText:
		return "TEXT", nil
	case storage.TypeVarchar:
		if c.Length > 0 {
			return fmt.Sprintf("VARCHAR(%d)", c.Length), nil
		}
		return "TEXT", nil
	case storage.TypeBigInt, storage.TypeInteger:
		return "INTEGER", nil
	case storage.TypeFloat:
		return "REAL", nil
	case storage.TypeBoolean:
		return "BOOLEAN", nil
	case storage.TypeTimestamp:
		return "TIMESTAMP", nil
	case storage.TypeDate:
		return "DATE", nil
	default:
		return "", fmt.Errorf("column %s: unsupported type %q", c.Name, c.Type)
	}
}

func buildCreateTableSQL(t storage.TableSpec) (string, error) {
	if err := t.Validate(); err != nil {
		return "", err
	}

	parts := make([]string, 0, len(t.Columns)+1+len(t.Constraints))
	for _, c := range t.Columns {
		typ, err := columnType(c)
		if err != nil {
			return "", fmt.Errorf("table %s: %w", t.Name, err)
		}
		col := fmt.Sprintf("%s %s", sqlIdent(c.Name), typ)
		if !c.IsNullable() {
			col += " NOT NULL"
		}
		// Enforcement depends on PRAGMA foreign_keys=ON, set in New.
		if ref, ok := c.Reference(); ok {
			col += fmt.Sprintf(" REFERENCES %s (%s)", ref.Table, sqlIdent(ref.Column))
		}
		parts = append(parts, col)
	}

	if len(t.PrimaryKey) > 0 {
		parts = append(parts, fmt.Sprintf("PRIMARY KEY (%s)", joinIdentList(t.PrimaryKey)))
	}
	for _, con := range t.Constraints {
		parts = append(parts, fmt.Sprintf("UNIQUE (%s)", joinIdentList(con.Columns)))
	}

	return fmt.Sprintf("CREATE TABLE IF NOT EXISTS %s (\n  %s\n);", t.Name, strings.Join(parts, ",\n  ")), nil
}

func buildInsertSQL(table string, columns []string, rows [][]any) (string, []any) {
	placeholders := "(" + strings.TrimRight(strings.Repeat("?,", len(columns)), ",") + ")"

	var b strings.Builder
	b.WriteString("INSERT INTO ")
	b.WriteString(table)
	b.WriteString(" (")
	b.WriteString(joinIdentList(columns))
	b.WriteString(") VALUES ")

	args := make([]any, 0, len(rows)*len(columns))
	for i, row := range rows {
		if i > 0 {
			b.WriteString(", ")
		}
		b.WriteString(placeholders)
		args = append(args, bindArgs(row[:len(columns)])...)
	}
	return b.String(), args
}

// buildUpsertSQL renders INSERT ... ON CONFLICT.
//
// ON CONFLICT only covers uniqueness constraints; INSERT OR IGNORE would also
// drop rows failing NOT NULL, which must surface as errors here.
func buildUpsertSQL(req storage.UpsertRequest) (string, []any, error) {
	if len(req.Columns) == 0 {
		return "", nil, fmt.Errorf("upsert %s: no columns", req.Table)
	}
	if req.Policy == storage.ConflictUpdate && len(req.ConflictColumns) == 0 {
		return "", nil, fmt.Errorf("upsert %s: update policy requires conflict columns", req.Table)
	}

	q, args := buildInsertSQL(req.Table, req.Columns, req.Rows)

	var b strings.Builder
	b.WriteString(q)
	update := updateColumns(req)
	if req.Policy != storage.ConflictUpdate || len(update) == 0 {
		b.WriteString(" ON CONFLICT")
		if len(req.ConflictColumns) > 0 {
			b.WriteString(" (")
			b.WriteString(joinIdentList(req.ConflictColumns))
			b.WriteString(")")
		}
		b.WriteString(" DO NOTHING")
		return b.String(), args, nil
	}

	b.WriteString(" ON CONFLICT (")
	b.WriteString(joinIdentList(req.ConflictColumns))
	b.WriteString(") DO UPDATE SET ")
	for i, c := range update {
		if i > 0 {
			b.WriteString(", ")
		}
		b.WriteString(sqlIdent(c))
		b.WriteString(" = excluded.")
		b.WriteString(sqlIdent(c))
	}
	return b.String(), args, nil
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

func buildKeyExistsSQL(table string, keyColumns []string) string {
	where := make([]string, len(keyColumns))
	for i, c := range keyColumns {
		where[i] = sqlIdent(c) + " = ?"
	}
	return fmt.Sprintf("SELECT 1 FROM %s WHERE %s LIMIT 1", table, strings.Join(where, " AND "))
}

// bindArgs converts values the driver would store in an awkward form.
func bindArgs(vals []any) []any {
	out := make([]any, len(vals))
	for i, v := range vals {
		if t, ok := v.(time.Time); ok {
			out[i] = formatSQLiteTime(t)
			continue
		}
		out[i] = v
	}
	return out
}

// formatSQLiteTime formats a time as RFC3339Nano in UTC.
// We store timestamps as TEXT for reliable scanning/parsing with modernc.org/sqlite.
func formatSQLiteTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

// mapError wraps unique and primary key violations with
// storage.ErrDuplicateKey.
func mapError(err error) error {
	if isUniqueViolation(err) {
		return fmt.Errorf("%w: %w", storage.ErrDuplicateKey, err)
	}
	return err
}

func isUniqueViolation(err error) bool {
	var se *sqlite.Error
	if errors.As(err, &se) {
		switch se.Code() {
		case sqlite3.SQLITE_CONSTRAINT_UNIQUE, sqlite3.SQLITE_CONSTRAINT_PRIMARYKEY:
			return true
		}
	}
	// Extended codes are not always propagated; fall back to the message.
	msg := err.Error()
	return strings.Contains(msg, "UNIQUE constraint failed") ||
		strings.Contains(msg, "PRIMARY KEY constraint failed")
}
