package badger

import (
	"context"
	"errors"
	"testing"

	"github.com/dgraph-io/badger/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ingest/internal/storage"
)

var (
	brands = storage.TableSpec{
		Name: "brands",
		Columns: []storage.ColumnSpec{
			{Name: "id", Type: storage.TypeBigInt, Nullable: storage.BoolPtr(false)},
			{Name: "name", Type: storage.TypeVarchar, Length: 100, Nullable: storage.BoolPtr(false)},
			{Name: "industry", Type: storage.TypeVarchar, Length: 50},
		},
		PrimaryKey:  []string{"id"},
		Constraints: []storage.ConstraintSpec{{Kind: "unique", Columns: []string{"name"}}},
	}
	influencers = storage.TableSpec{
		Name: "influencers",
		Columns: []storage.ColumnSpec{
			{Name: "id", Type: storage.TypeBigInt, Nullable: storage.BoolPtr(false)},
			{Name: "username", Type: storage.TypeVarchar, Length: 50, Nullable: storage.BoolPtr(false)},
		},
		PrimaryKey:  []string{"id"},
		Constraints: []storage.ConstraintSpec{{Kind: "unique", Columns: []string{"username"}}},
	}
	influencerBrands = storage.TableSpec{
		Name: "influencer_brand",
		Columns: []storage.ColumnSpec{
			{Name: "influencer_id", Type: storage.TypeBigInt, Nullable: storage.BoolPtr(false), References: "influencers(id)"},
			{Name: "brand_id", Type: storage.TypeBigInt, Nullable: storage.BoolPtr(false), References: "brands(id)"},
			{Name: "sales", Type: storage.TypeFloat},
		},
		PrimaryKey: []string{"influencer_id", "brand_id"},
	}
	brandCols = []string{"id", "name", "industry"}
	linkCols  = []string{"influencer_id", "brand_id", "sales"}
)

func openStore(t *testing.T, dsn string) *Store {
	t.Helper()
	s, err := New(context.Background(), storage.Config{Kind: "badger", DSN: dsn})
	require.NoError(t, err)
	t.Cleanup(s.Close)
	return s.(*Store)
}

func seeded(t *testing.T) *Store {
	t.Helper()
	ctx := context.Background()
	s := openStore(t, ":memory:")
	require.NoError(t, s.EnsureTables(ctx, []storage.TableSpec{brands, influencers, influencerBrands}))
	require.NoError(t, s.BulkInsert(ctx, "brands", brandCols, [][]any{
		{int64(1), "acme", "retail"},
		{int64(2), "globex", nil},
	}))
	require.NoError(t, s.BulkInsert(ctx, "influencers", []string{"id", "username"}, [][]any{
		{int64(10), "ana"},
	}))
	return s
}

func TestBulkInsert_IsAtomic(t *testing.T) {
	ctx := context.Background()
	s := seeded(t)

	err := s.BulkInsert(ctx, "brands", brandCols, [][]any{
		{int64(3), "initech", nil},
		{int64(4), "acme", nil},
	})
	require.ErrorIs(t, err, storage.ErrDuplicateKey)

	ok, err := s.KeyExists(ctx, "brands", []string{"name"}, []any{"initech"})
	require.NoError(t, err)
	assert.False(t, ok, "rows before the failing one must be rolled back")
}

func TestBulkInsert_DetectsDuplicatesWithinBatch(t *testing.T) {
	ctx := context.Background()
	s := seeded(t)

	err := s.BulkInsert(ctx, "brands", brandCols, [][]any{
		{int64(5), "hooli", nil},
		{int64(6), "hooli", nil},
	})
	assert.ErrorIs(t, err, storage.ErrDuplicateKey)
}

func TestInsert_Constraints(t *testing.T) {
	ctx := context.Background()
	s := seeded(t)

	assert.ErrorIs(t, s.Insert(ctx, "brands", brandCols, []any{int64(1), "other", nil}), storage.ErrDuplicateKey)
	assert.ErrorIs(t, s.Insert(ctx, "brands", brandCols, []any{int64(9), "globex", nil}), storage.ErrDuplicateKey)

	err := s.Insert(ctx, "brands", brandCols, []any{int64(9), nil, nil})
	require.Error(t, err)
	assert.False(t, errors.Is(err, storage.ErrDuplicateKey))

	err = s.Insert(ctx, "influencer_brand", linkCols, []any{int64(10), int64(99), 1.5})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "FOREIGN KEY")

	require.NoError(t, s.Insert(ctx, "influencer_brand", linkCols, []any{int64(10), int64(1), 1.5}))

	err = s.Insert(ctx, "nope", []string{"id"}, []any{int64(1)})
	assert.ErrorIs(t, err, storage.ErrUnknownTable)
}

func TestKeySets(t *testing.T) {
	ctx := context.Background()
	s := seeded(t)

	keys, err := s.ExistingKeys(ctx, "brands", []string{"name"})
	require.NoError(t, err)
	assert.Equal(t, 2, keys.Len())
	assert.True(t, keys.Has("acme"))

	sets, err := s.ValidForeignKeys(ctx, []storage.Reference{
		{Table: "influencers", Column: "id"},
		{Table: "brands", Column: "id"},
	})
	require.NoError(t, err)
	assert.True(t, sets[0].Has(storage.CompositeKey(int64(10))), "integer keys survive the JSON round trip")
	assert.True(t, sets[1].Has("2"))
	assert.False(t, sets[1].Has("3"))

	// Non-indexed lookup falls back to a scan.
	ok, err := s.KeyExists(ctx, "brands", []string{"industry"}, []any{"retail"})
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestUpsertBatch(t *testing.T) {
	ctx := context.Background()
	s := seeded(t)

	n, err := s.UpsertBatch(ctx, storage.UpsertRequest{
		Table:           "brands",
		Columns:         brandCols,
		Rows:            [][]any{{int64(1), "acme", "changed"}, {int64(3), "initech", nil}},
		ConflictColumns: []string{"name"},
		Policy:          storage.ConflictIgnore,
	})
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	req := storage.UpsertRequest{
		Table:           "influencer_brand",
		Columns:         linkCols,
		Rows:            [][]any{{int64(10), int64(1), 3.0}},
		ConflictColumns: []string{"influencer_id", "brand_id"},
		Policy:          storage.ConflictUpdate,
	}
	n, err = s.UpsertBatch(ctx, req)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	req.Rows = [][]any{{int64(10), int64(1), 5.0}}
	n, err = s.UpsertBatch(ctx, req)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	var got []any
	require.NoError(t, s.db.View(func(txn *badger.Txn) error {
		row, err := getRow(txn, "influencer_brand", storage.CompositeKey(int64(10), int64(1)))
		got = project(row, []string{"sales"})
		return err
	}))
	assert.Equal(t, "5", storage.NormalizeKey(got[0]))

	keys, err := s.ExistingKeys(ctx, "influencer_brand", []string{"influencer_id", "brand_id"})
	require.NoError(t, err)
	assert.Equal(t, 1, keys.Len())
}

func TestReset(t *testing.T) {
	ctx := context.Background()
	s := seeded(t)

	require.NoError(t, s.Reset(ctx, "brands"))
	keys, err := s.ExistingKeys(ctx, "brands", []string{"id"})
	require.NoError(t, err)
	assert.Equal(t, 0, keys.Len())

	// Unique index entries are gone too.
	require.NoError(t, s.Insert(ctx, "brands", brandCols, []any{int64(1), "acme", nil}))
}

func TestSpecsPersistAcrossReopen(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()

	s, err := New(ctx, storage.Config{Kind: "badger", DSN: "badger://" + dir})
	require.NoError(t, err)
	require.NoError(t, s.EnsureTables(ctx, []storage.TableSpec{brands}))
	require.NoError(t, s.Insert(ctx, "brands", brandCols, []any{int64(1), "acme", nil}))
	s.Close()

	reopened := openStore(t, "badger://"+dir)
	ok, err := reopened.KeyExists(ctx, "brands", []string{"name"}, []any{"acme"})
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestEnsureTables_Validation(t *testing.T) {
	s := openStore(t, "")

	noPK := storage.TableSpec{Name: "x", Columns: []storage.ColumnSpec{{Name: "a", Type: storage.TypeText}}}
	assert.Error(t, s.EnsureTables(context.Background(), []storage.TableSpec{noPK}))

	assert.ErrorIs(t, s.EnsureTables(context.Background(), []storage.TableSpec{influencerBrands}), storage.ErrUnknownTable)
}
