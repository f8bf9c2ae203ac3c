package mssql

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"testing"

	mssql "github.com/microsoft/go-mssqldb"

	"ingest/internal/storage"
)

type fakeResult struct{ n int64 }

func (r fakeResult) LastInsertId() (int64, error) { return 0, nil }
func (r fakeResult) RowsAffected() (int64, error) { return r.n, nil }

// fakeTx records statements and fails the statement at failAt (1-based).
type fakeTx struct {
	execs     []string
	affected  []int64
	failAt    int
	failErr   error
	commits   int
	rollbacks int
}

func (t *fakeTx) ExecContext(_ context.Context, query string, _ ...any) (sql.Result, error) {
	t.execs = append(t.execs, query)
	if t.failAt == len(t.execs) {
		return nil, t.failErr
	}
	var n int64
	if i := len(t.execs) - 1; i < len(t.affected) {
		n = t.affected[i]
	}
	return fakeResult{n: n}, nil
}

func (t *fakeTx) Commit() error   { t.commits++; return nil }
func (t *fakeTx) Rollback() error { t.rollbacks++; return nil }

type fakeRow struct{ err error }

func (r fakeRow) Scan(dest ...any) error {
	if r.err != nil {
		return r.err
	}
	*(dest[0].(*int)) = 1
	return nil
}

type fakeDB struct {
	tx      *fakeTx
	execErr error
	rowErr  error
	execs   []string
	closed  int
}

func (d *fakeDB) ExecContext(_ context.Context, query string, _ ...any) (sql.Result, error) {
	d.execs = append(d.execs, query)
	if d.execErr != nil {
		return nil, d.execErr
	}
	return fakeResult{n: 1}, nil
}

func (d *fakeDB) QueryContext(context.Context, string, ...any) (*sql.Rows, error) {
	return nil, errors.New("not supported by fake")
}

func (d *fakeDB) QueryRowContext(context.Context, string, ...any) rowScanner {
	return fakeRow{err: d.rowErr}
}

func (d *fakeDB) BeginTx(context.Context, *sql.TxOptions) (txConn, error) { return d.tx, nil }
func (d *fakeDB) Close() error                                           { d.closed++; return nil }

func TestBulkInsert_ChunksAndRollsBackOnFailure(t *testing.T) {
	tx := &fakeTx{failAt: 2, failErr: mssql.Error{Number: 2627, Message: "Violation of UNIQUE KEY constraint"}}
	s := &Store{db: &fakeDB{tx: tx}}

	// 1000 columns => 2 rows per statement => 2 statements for 3 rows.
	cols := make([]string, 1000)
	for i := range cols {
		cols[i] = "c" + strings.Repeat("x", i%3)
	}
	rows := make([][]any, 3)
	for i := range rows {
		rows[i] = make([]any, len(cols))
	}

	err := s.BulkInsert(context.Background(), "hashtags", cols, rows)
	if !errors.Is(err, storage.ErrDuplicateKey) {
		t.Fatalf("expected ErrDuplicateKey, got %v", err)
	}
	if len(tx.execs) != 2 {
		t.Fatalf("expected 2 statements, got %d", len(tx.execs))
	}
	if tx.commits != 0 || tx.rollbacks != 1 {
		t.Fatalf("commits=%d rollbacks=%d, want 0/1", tx.commits, tx.rollbacks)
	}
}

func TestBulkInsert_Commits(t *testing.T) {
	tx := &fakeTx{}
	s := &Store{db: &fakeDB{tx: tx}}

	err := s.BulkInsert(context.Background(), "hashtags", []string{"id", "name"}, [][]any{{int64(1), "a"}, {int64(2), "b"}})
	if err != nil {
		t.Fatalf("BulkInsert: %v", err)
	}
	if len(tx.execs) != 1 || tx.commits != 1 {
		t.Fatalf("execs=%d commits=%d", len(tx.execs), tx.commits)
	}
}

func TestInsert_MapsDuplicateErrors(t *testing.T) {
	tests := []struct {
		name    string
		err     error
		wantDup bool
	}{
		{name: "unique_constraint", err: mssql.Error{Number: 2627}, wantDup: true},
		{name: "unique_index", err: mssql.Error{Number: 2601}, wantDup: true},
		{name: "foreign_key", err: mssql.Error{Number: 547}, wantDup: false},
		{name: "other", err: errors.New("connection reset"), wantDup: false},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			s := &Store{db: &fakeDB{execErr: tc.err}}
			err := s.Insert(context.Background(), "brands", []string{"name"}, []any{"acme"})
			if err == nil {
				t.Fatalf("expected error")
			}
			if got := errors.Is(err, storage.ErrDuplicateKey); got != tc.wantDup {
				t.Fatalf("IsDuplicate=%v, want %v (err=%v)", got, tc.wantDup, err)
			}
		})
	}
}

func TestKeyExists(t *testing.T) {
	s := &Store{db: &fakeDB{}}
	ok, err := s.KeyExists(context.Background(), "brands", []string{"name"}, []any{"acme"})
	if err != nil || !ok {
		t.Fatalf("KeyExists=(%v,%v), want (true,nil)", ok, err)
	}

	s = &Store{db: &fakeDB{rowErr: sql.ErrNoRows}}
	ok, err = s.KeyExists(context.Background(), "brands", []string{"name"}, []any{"acme"})
	if err != nil || ok {
		t.Fatalf("KeyExists=(%v,%v), want (false,nil)", ok, err)
	}
}

func TestUpsertBatch_UpdateRunsUpdateThenInsert(t *testing.T) {
	tx := &fakeTx{affected: []int64{1, 1}}
	s := &Store{db: &fakeDB{tx: tx}}

	n, err := s.UpsertBatch(context.Background(), storage.UpsertRequest{
		Table:   "influencer_hashtag",
		Columns: []string{"influencer_id", "hashtag_id", "usage_count"},
		Rows: [][]any{
			{int64(1), int64(2), int64(5)},
			{int64(1), int64(2), int64(7)}, // same key, dropped
			{int64(1), int64(3), int64(1)},
		},
		ConflictColumns: []string{"influencer_id", "hashtag_id"},
		Policy:          storage.ConflictUpdate,
	})
	if err != nil {
		t.Fatalf("UpsertBatch: %v", err)
	}
	if n != 2 {
		t.Fatalf("affected=%d, want 2", n)
	}
	if len(tx.execs) != 2 || !strings.HasPrefix(tx.execs[0], "UPDATE t SET") || !strings.HasPrefix(tx.execs[1], "INSERT INTO") {
		t.Fatalf("unexpected statements: %v", tx.execs)
	}
	if tx.commits != 1 {
		t.Fatalf("commits=%d", tx.commits)
	}
}

func TestUpsertBatch_IgnoreSkipsUpdate(t *testing.T) {
	tx := &fakeTx{affected: []int64{1}}
	s := &Store{db: &fakeDB{tx: tx}}

	n, err := s.UpsertBatch(context.Background(), storage.UpsertRequest{
		Table:           "hashtags",
		Columns:         []string{"id", "name"},
		Rows:            [][]any{{int64(1), "fitness"}, {int64(2), "travel"}},
		ConflictColumns: []string{"name"},
		Policy:          storage.ConflictIgnore,
	})
	if err != nil {
		t.Fatalf("UpsertBatch: %v", err)
	}
	if n != 1 || len(tx.execs) != 1 || !strings.Contains(tx.execs[0], "WHERE NOT EXISTS") {
		t.Fatalf("n=%d execs=%v", n, tx.execs)
	}
}

func TestUpsertBatch_RequiresConflictColumns(t *testing.T) {
	s := &Store{db: &fakeDB{tx: &fakeTx{}}}
	_, err := s.UpsertBatch(context.Background(), storage.UpsertRequest{
		Table: "hashtags", Columns: []string{"name"}, Rows: [][]any{{"a"}},
	})
	if err == nil {
		t.Fatalf("expected error")
	}
}

func TestResetAndClose(t *testing.T) {
	db := &fakeDB{}
	s := &Store{db: db}
	if err := s.Reset(context.Background(), "dbo.hashtags"); err != nil {
		t.Fatalf("Reset: %v", err)
	}
	if db.execs[0] != "DELETE FROM [dbo].[hashtags];" {
		t.Fatalf("reset sql=%q", db.execs[0])
	}
	s.Close()
	if db.closed != 1 {
		t.Fatalf("closed=%d", db.closed)
	}
}
