package memory

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ingest/internal/storage"
)

var (
	hashtags = storage.TableSpec{
		Name: "hashtags",
		Columns: []storage.ColumnSpec{
			{Name: "id", Type: storage.TypeBigInt, Nullable: storage.BoolPtr(false)},
			{Name: "name", Type: storage.TypeVarchar, Length: 100, Nullable: storage.BoolPtr(false)},
		},
		PrimaryKey:  []string{"id"},
		Constraints: []storage.ConstraintSpec{{Kind: "unique", Columns: []string{"name"}}},
	}
	links = storage.TableSpec{
		Name: "influencer_hashtag",
		Columns: []storage.ColumnSpec{
			{Name: "influencer_id", Type: storage.TypeBigInt, Nullable: storage.BoolPtr(false)},
			{Name: "hashtag_id", Type: storage.TypeBigInt, Nullable: storage.BoolPtr(false), References: "hashtags(id)"},
			{Name: "usage_count", Type: storage.TypeInteger},
		},
		PrimaryKey: []string{"influencer_id", "hashtag_id"},
	}
)

func newStore(t *testing.T) *Store {
	t.Helper()
	s := NewStore()
	require.NoError(t, s.EnsureTables(context.Background(), []storage.TableSpec{hashtags, links}))
	return s
}

func TestOpenThroughRegistry(t *testing.T) {
	s, err := storage.Open(context.Background(), storage.Config{Kind: "memory"})
	require.NoError(t, err)
	defer s.Close()
	_, ok := s.(*Store)
	assert.True(t, ok)
}

func TestBulkInsert_AllOrNothing(t *testing.T) {
	ctx := context.Background()
	s := newStore(t)
	cols := []string{"id", "name"}

	require.NoError(t, s.BulkInsert(ctx, "hashtags", cols, [][]any{{int64(1), "a"}, {int64(2), "b"}}))
	err := s.BulkInsert(ctx, "hashtags", cols, [][]any{{int64(3), "c"}, {int64(4), "a"}})
	require.ErrorIs(t, err, storage.ErrDuplicateKey)
	assert.Equal(t, 2, s.Len("hashtags"))

	err = s.Insert(ctx, "influencer_hashtag", []string{"influencer_id", "hashtag_id"}, []any{int64(1), int64(9)})
	require.Error(t, err)
	assert.NotErrorIs(t, err, storage.ErrDuplicateKey)

	err = s.Insert(ctx, "hashtags", cols, []any{int64(5), nil})
	require.Error(t, err)
	assert.NotErrorIs(t, err, storage.ErrDuplicateKey)
}

func TestUpsertBatch_RefreshKeepsOneRow(t *testing.T) {
	ctx := context.Background()
	s := newStore(t)
	require.NoError(t, s.Insert(ctx, "hashtags", []string{"id", "name"}, []any{int64(2), "b"}))

	req := storage.UpsertRequest{
		Table:           "influencer_hashtag",
		Columns:         []string{"influencer_id", "hashtag_id", "usage_count"},
		Rows:            [][]any{{int64(1), int64(2), int64(3)}},
		ConflictColumns: []string{"influencer_id", "hashtag_id"},
		Policy:          storage.ConflictUpdate,
	}
	n, err := s.UpsertBatch(ctx, req)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	req.Rows = [][]any{{int64(1), int64(2), int64(5)}}
	_, err = s.UpsertBatch(ctx, req)
	require.NoError(t, err)

	row, ok := s.Row("influencer_hashtag", int64(1), int64(2))
	require.True(t, ok)
	assert.Equal(t, int64(5), row["usage_count"])
	assert.Equal(t, 1, s.Len("influencer_hashtag"))

	req.Policy = storage.ConflictIgnore
	req.Rows = [][]any{{int64(1), int64(2), int64(8)}}
	n, err = s.UpsertBatch(ctx, req)
	require.NoError(t, err)
	assert.Zero(t, n)
	row, _ = s.Row("influencer_hashtag", int64(1), int64(2))
	assert.Equal(t, int64(5), row["usage_count"])
}

func TestUpsertBatch_IgnoreByBusinessKey(t *testing.T) {
	ctx := context.Background()
	s := newStore(t)
	cols := []string{"id", "name"}
	require.NoError(t, s.Insert(ctx, "hashtags", cols, []any{int64(1), "a"}))

	req := storage.UpsertRequest{
		Table:           "hashtags",
		Columns:         cols,
		Rows:            [][]any{{int64(1), "a"}, {int64(2), "b"}},
		ConflictColumns: []string{"name"},
		Policy:          storage.ConflictIgnore,
	}
	n, err := s.UpsertBatch(ctx, req)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
	assert.Equal(t, 2, s.Len("hashtags"))

	// A new name with a stored id clashes on the primary key.
	req.Rows = [][]any{{int64(2), "c"}}
	_, err = s.UpsertBatch(ctx, req)
	require.ErrorIs(t, err, storage.ErrDuplicateKey)
	assert.Equal(t, 2, s.Len("hashtags"))
}

func TestKeysAndReset(t *testing.T) {
	ctx := context.Background()
	s := newStore(t)
	require.NoError(t, s.BulkInsert(ctx, "hashtags", []string{"id", "name"}, [][]any{{int64(1), "a"}, {int64(2), "b"}}))

	ok, err := s.KeyExists(ctx, "hashtags", []string{"name"}, []any{"b"})
	require.NoError(t, err)
	assert.True(t, ok)

	sets, err := s.ValidForeignKeys(ctx, []storage.Reference{{Table: "hashtags", Column: "id"}})
	require.NoError(t, err)
	assert.True(t, sets[0].Has("1"))

	require.NoError(t, s.Reset(ctx, "hashtags"))
	assert.Zero(t, s.Len("hashtags"))

	_, err = s.ExistingKeys(ctx, "missing", []string{"id"})
	assert.ErrorIs(t, err, storage.ErrUnknownTable)
}
