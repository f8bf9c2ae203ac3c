package mssql

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	mssql "github.com/microsoft/go-mssqldb"

	"ingest/internal/storage"
)

// SQL Server error numbers for unique index (2601) and unique/primary key
// constraint (2627) violations.
const (
	errDupIndex      = 2601
	errDupConstraint = 2627
)

// Store implements storage.Store for Microsoft SQL Server.
//
// This implementation supports:
//   - Bulk INSERT ... VALUES inside one transaction, chunked under the
//     2100 parameter limit.
//   - Ignore upserts using INSERT ... SELECT ... WHERE NOT EXISTS.
//   - Update upserts using UPDATE ... FROM (VALUES ...) followed by the same
//     NOT EXISTS insert, both in one transaction. MERGE is avoided.
//
// SQL Server does not collapse duplicate keys inside a VALUES source, so
// upsert rows are deduplicated per conflict key before the statement is built.
type Store struct {
	db dbConn
}

func init() {
	storage.Register("mssql", New)
}

// New constructs a Store using database/sql and the "sqlserver" driver
// registered by github.com/microsoft/go-mssqldb.
//
// This method validates connectivity via PingContext.
func New(ctx context.Context, cfg storage.Config) (storage.Store, error) {
	raw, err := sql.Open("sqlserver", cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("mssql: open: %w", err)
	}

	// The pipeline is sequential; a handful of connections is plenty.
	raw.SetMaxOpenConns(4)
	raw.SetMaxIdleConns(4)

	if err := raw.PingContext(ctx); err != nil {
		_ = raw.Close()
		return nil, fmt.Errorf("mssql: ping: %w", err)
	}
	return &Store{db: &sqlDB{db: raw}}, nil
}

// Close releases database resources held by this store.
func (r *Store) Close() {
	if r == nil || r.db == nil {
		return
	}
	_ = r.db.Close()
}

// EnsureTables creates missing tables guarded by OBJECT_ID checks.
func (r *Store) EnsureTables(ctx context.Context, tables []storage.TableSpec) error {
	for _, t := range tables {
		ddl, err := buildCreateSQL(t)
		if err != nil {
			return err
		}
		if _, err := r.db.ExecContext(ctx, ddl); err != nil {
			return fmt.Errorf("mssql: create table %s: %w", t.Name, err)
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
		return fmt.Errorf("mssql: bulk insert %s: begin: %w", table, err)
	}
	defer tx.Rollback()

	maxRows := rowsPerStatement(len(columns))
	for start := 0; start < len(rows); start += maxRows {
		end := min(start+maxRows, len(rows))
		q, args := buildBulkInsertSQL(table, columns, rows[start:end])
		if _, err := tx.ExecContext(ctx, q, args...); err != nil {
			return fmt.Errorf("mssql: bulk insert %s: %w", table, mapError(err))
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("mssql: bulk insert %s: commit: %w", table, mapError(err))
	}
	return nil
}

func (r *Store) Insert(ctx context.Context, table string, columns []string, row []any) error {
	q, args := buildBulkInsertSQL(table, columns, [][]any{row})
	if _, err := r.db.ExecContext(ctx, q, args...); err != nil {
		return fmt.Errorf("mssql: insert %s: %w", table, mapError(err))
	}
	return nil
}

func (r *Store) KeyExists(ctx context.Context, table string, keyColumns []string, key []any) (bool, error) {
	q, args := buildKeyExistsSQL(table, keyColumns, key)

	var one int
	err := r.db.QueryRowContext(ctx, q, args...).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("mssql: key exists %s: %w", table, err)
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
	rows, err := r.db.QueryContext(ctx, buildSelectKeysSQL(table, keyColumns, distinct))
	if err != nil {
		return nil, fmt.Errorf("mssql: select keys %s: %w", table, err)
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
			return nil, fmt.Errorf("mssql: select keys %s: scan: %w", table, err)
		}
		set.Add(vals...)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("mssql: select keys %s: rows: %w", table, err)
	}
	return set, nil
}

// UpsertBatch applies an ignore or update upsert in one transaction.
//
// Affected rows:
//   - ignore: rows inserted by the NOT EXISTS insert.
//   - update: rows refreshed by the UPDATE plus rows inserted afterwards.
func (r *Store) UpsertBatch(ctx context.Context, req storage.UpsertRequest) (int64, error) {
	if len(req.Rows) == 0 {
		return 0, nil
	}
	if len(req.ConflictColumns) == 0 {
		return 0, fmt.Errorf("mssql: upsert %s: conflict columns are required", req.Table)
	}

	rows, err := dedupeRowsByColumns(req.Rows, req.Columns, req.ConflictColumns)
	if err != nil {
		return 0, fmt.Errorf("mssql: upsert %s: %w", req.Table, err)
	}
	update := updateColumns(req)

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("mssql: upsert %s: begin: %w", req.Table, err)
	}
	defer tx.Rollback()

	var total int64
	maxRows := rowsPerStatement(len(req.Columns))
	for start := 0; start < len(rows); start += maxRows {
		part := rows[start:min(start+maxRows, len(rows))]

		if req.Policy == storage.ConflictUpdate && len(update) > 0 {
			q, args := buildUpdateFromValuesSQL(req.Table, req.Columns, part, req.ConflictColumns, update)
			res, err := tx.ExecContext(ctx, q, args...)
			if err != nil {
				return 0, fmt.Errorf("mssql: upsert %s: update: %w", req.Table, mapError(err))
			}
			n, _ := res.RowsAffected()
			total += n
		}

		q, args := buildInsertNotExistsSQL(req.Table, req.Columns, part, req.ConflictColumns)
		res, err := tx.ExecContext(ctx, q, args...)
		if err != nil {
			return 0, fmt.Errorf("mssql: upsert %s: insert: %w", req.Table, mapError(err))
		}
		n, _ := res.RowsAffected()
		total += n
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("mssql: upsert %s: commit: %w", req.Table, mapError(err))
	}
	return total, nil
}

// Reset deletes every row. TRUNCATE is refused by SQL Server for tables that
// are referenced by a foreign key.
func (r *Store) Reset(ctx context.Context, table string) error {
	if _, err := r.db.ExecContext(ctx, "DELETE FROM "+mssqlTableIdent(table)+";"); err != nil {
		return fmt.Errorf("mssql: reset %s: %w", table, err)
	}
	return nil
}

// mapError wraps duplicate key errors with storage.ErrDuplicateKey.
func mapError(err error) error {
	var me mssql.Error
	if errors.As(err, &me) && (me.Number == errDupConstraint || me.Number == errDupIndex) {
		return fmt.Errorf("%w: %w", storage.ErrDuplicateKey, err)
	}
	return err
}

// ---- database/sql seam types ----

// dbConn is a small interface over *sql.DB used to make this package testable.
//
// It intentionally includes only the methods this file needs.
type dbConn interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) rowScanner
	BeginTx(ctx context.Context, opts *sql.TxOptions) (txConn, error)
	Close() error
}

// txConn is a small interface over *sql.Tx used for testability.
type txConn interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	Commit() error
	Rollback() error
}

// rowScanner is a narrow adapter over *sql.Row.Scan.
type rowScanner interface {
	Scan(dest ...any) error
}

// sqlDB wraps *sql.DB to implement dbConn.
type sqlDB struct {
	db *sql.DB
}

func (s *sqlDB) ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error) {
	return s.db.ExecContext(ctx, query, args...)
}

func (s *sqlDB) QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error) {
	return s.db.QueryContext(ctx, query, args...)
}

func (s *sqlDB) QueryRowContext(ctx context.Context, query string, args ...any) rowScanner {
	return s.db.QueryRowContext(ctx, query, args...)
}

// BeginTx begins a transaction and returns a txConn wrapper.
func (s *sqlDB) BeginTx(ctx context.Context, opts *sql.TxOptions) (txConn, error) {
	tx, err := s.db.BeginTx(ctx, opts)
	if err != nil {
		return nil, err
	}
	return tx, nil
}

func (s *sqlDB) Close() error { return s.db.Close() }

var (
	_ dbConn        = (*sqlDB)(nil)
	_ txConn        = (*sql.Tx)(nil)
	_ storage.Store = (*Store)(nil)
)
