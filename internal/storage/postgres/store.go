package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"ingest/internal/storage"
)

// uniqueViolation is the SQLSTATE Postgres reports for unique and primary key
// violations.
const uniqueViolation = "23505"

/*
Store implements storage.Store for Postgres.

It provides:
  - Multi-row inserts in one transaction, chunked under the bind limit
  - Single-row inserts with unique violations mapped to storage.ErrDuplicateKey
  - INSERT ... ON CONFLICT upserts
  - Key set reads for the existence and reference filters
*/
type Store struct {
	pool *pgxpool.Pool
}

// New opens a pool and verifies connectivity with a ping, since pgxpool.New
// connects lazily.
func New(ctx context.Context, cfg storage.Config) (storage.Store, error) {
	pool, err := pgxpool.New(ctx, cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("postgres: open pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("postgres: ping: %w", err)
	}
	return &Store{pool: pool}, nil
}

// Close closes the connection pool.
func (s *Store) Close() {
	s.pool.Close()
}

// EnsureTables runs CREATE SCHEMA/TABLE IF NOT EXISTS for every spec in
// order. Referenced tables must come first.
func (s *Store) EnsureTables(ctx context.Context, tables []storage.TableSpec) error {
	for _, t := range tables {
		schemaSQL, tableSQL, err := buildCreateSQL(t)
		if err != nil {
			return err
		}
		if schemaSQL != "" {
			if _, err := s.pool.Exec(ctx, schemaSQL); err != nil {
				return fmt.Errorf("create schema for %s: %w", t.Name, err)
			}
		}
		if _, err := s.pool.Exec(ctx, tableSQL); err != nil {
			return fmt.Errorf("create table %s: %w", t.Name, err)
		}
	}
	return nil
}

// BulkInsert inserts rows in one transaction. Rows are split into statements
// that respect the bind parameter limit; any failure rolls back all of them.
func (s *Store) BulkInsert(ctx context.Context, table string, columns []string, rows [][]any) error {
	if len(rows) == 0 {
		return nil
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("bulk insert %s: begin: %w", table, err)
	}
	defer tx.Rollback(ctx)

	chunk := rowsPerChunk(len(columns))
	for start := 0; start < len(rows); start += chunk {
		end := min(start+chunk, len(rows))
		sql, args := buildInsertSQL(table, columns, rows[start:end])
		if _, err := tx.Exec(ctx, sql, args...); err != nil {
			return fmt.Errorf("bulk insert %s: %w", table, mapError(err))
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("bulk insert %s: commit: %w", table, mapError(err))
	}
	return nil
}

// Insert inserts one row. An autocommit statement is its own transaction.
func (s *Store) Insert(ctx context.Context, table string, columns []string, row []any) error {
	sql, args := buildInsertSQL(table, columns, [][]any{row})
	if _, err := s.pool.Exec(ctx, sql, args...); err != nil {
		return fmt.Errorf("insert %s: %w", table, mapError(err))
	}
	return nil
}

func (s *Store) KeyExists(ctx context.Context, table string, keyColumns []string, key []any) (bool, error) {
	var one int
	err := s.pool.QueryRow(ctx, buildKeyExistsSQL(table, keyColumns), key...).Scan(&one)
	if errors.Is(err, pgx.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("key exists %s: %w", table, err)
	}
	return true, nil
}

func (s *Store) ExistingKeys(ctx context.Context, table string, keyColumns []string) (storage.KeySet, error) {
	return s.selectKeys(ctx, table, keyColumns, false)
}

func (s *Store) ValidForeignKeys(ctx context.Context, refs []storage.Reference) ([]storage.KeySet, error) {
	out := make([]storage.KeySet, len(refs))
	for i, ref := range refs {
		set, err := s.selectKeys(ctx, ref.Table, []string{ref.Column}, true)
		if err != nil {
			return nil, err
		}
		out[i] = set
	}
	return out, nil
}

// selectKeys scans every key tuple of table into a KeySet.
//
// IMPORTANT: pgx Scan destinations must be pointers, so a parallel slice of
// &vals[i] is built for the dynamic column list.
func (s *Store) selectKeys(ctx context.Context, table string, keyColumns []string, distinct bool) (storage.KeySet, error) {
	rows, err := s.pool.Query(ctx, buildSelectKeysSQL(table, keyColumns, distinct))
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
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("select keys %s: rows: %w", table, err)
	}
	return set, nil
}

// UpsertBatch runs INSERT ... ON CONFLICT in one transaction and returns the
// summed RowsAffected. With DO UPDATE, refreshed rows count as affected.
func (s *Store) UpsertBatch(ctx context.Context, req storage.UpsertRequest) (int64, error) {
	if len(req.Rows) == 0 {
		return 0, nil
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return 0, fmt.Errorf("upsert %s: begin: %w", req.Table, err)
	}
	defer tx.Rollback(ctx)

	var total int64
	chunk := rowsPerChunk(len(req.Columns))
	for start := 0; start < len(req.Rows); start += chunk {
		part := req
		part.Rows = req.Rows[start:min(start+chunk, len(req.Rows))]

		sql, args, err := buildUpsertSQL(part)
		if err != nil {
			return 0, err
		}
		tag, err := tx.Exec(ctx, sql, args...)
		if err != nil {
			return 0, fmt.Errorf("upsert %s: %w", req.Table, mapError(err))
		}
		total += tag.RowsAffected()
	}

	if err := tx.Commit(ctx); err != nil {
		return 0, fmt.Errorf("upsert %s: commit: %w", req.Table, mapError(err))
	}
	return total, nil
}

func (s *Store) Reset(ctx context.Context, table string) error {
	if _, err := s.pool.Exec(ctx, buildResetSQL(table)); err != nil {
		return fmt.Errorf("reset %s: %w", table, err)
	}
	return nil
}

// mapError wraps unique violations with storage.ErrDuplicateKey and leaves
// every other error untouched.
func mapError(err error) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
		return fmt.Errorf("%w: %w", storage.ErrDuplicateKey, err)
	}
	return err
}
