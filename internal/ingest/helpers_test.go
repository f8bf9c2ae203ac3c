package ingest

import (
	"context"
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	csvparser "ingest/internal/parser/csv"
	"ingest/internal/storage"
	"ingest/internal/storage/memory"
)

type fakeLogger struct {
	mu   sync.Mutex
	msgs []string
}

func (l *fakeLogger) Printf(format string, v ...any) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.msgs = append(l.msgs, fmt.Sprintf(format, v...))
}

// fakeStore wraps the memory backend with call counters and fault injection.
type fakeStore struct {
	*memory.Store

	ensureErr    error
	bulkErr      error
	existingErr  error
	refsErr      error
	keyExistsErr error
	upsertErr    error

	calls map[string]int
}

func newFakeStore(t *testing.T, kinds ...string) *fakeStore {
	t.Helper()
	s := &fakeStore{Store: memory.NewStore(), calls: map[string]int{}}
	var specs []storage.TableSpec
	for _, name := range kinds {
		k, err := LookupKind(name)
		require.NoError(t, err)
		specs = append(specs, k.Table())
	}
	require.NoError(t, s.Store.EnsureTables(context.Background(), specs))
	return s
}

func (s *fakeStore) EnsureTables(ctx context.Context, specs []storage.TableSpec) error {
	s.calls["EnsureTables"]++
	if s.ensureErr != nil {
		return s.ensureErr
	}
	return s.Store.EnsureTables(ctx, specs)
}

func (s *fakeStore) BulkInsert(ctx context.Context, table string, columns []string, rows [][]any) error {
	s.calls["BulkInsert"]++
	if s.bulkErr != nil {
		return s.bulkErr
	}
	return s.Store.BulkInsert(ctx, table, columns, rows)
}

func (s *fakeStore) Insert(ctx context.Context, table string, columns []string, row []any) error {
	s.calls["Insert"]++
	return s.Store.Insert(ctx, table, columns, row)
}

func (s *fakeStore) KeyExists(ctx context.Context, table string, keyColumns []string, key []any) (bool, error) {
	s.calls["KeyExists"]++
	if s.keyExistsErr != nil {
		return false, s.keyExistsErr
	}
	return s.Store.KeyExists(ctx, table, keyColumns, key)
}

func (s *fakeStore) ExistingKeys(ctx context.Context, table string, keyColumns []string) (storage.KeySet, error) {
	s.calls["ExistingKeys"]++
	if s.existingErr != nil {
		return nil, s.existingErr
	}
	return s.Store.ExistingKeys(ctx, table, keyColumns)
}

func (s *fakeStore) ValidForeignKeys(ctx context.Context, refs []storage.Reference) ([]storage.KeySet, error) {
	s.calls["ValidForeignKeys"]++
	if s.refsErr != nil {
		return nil, s.refsErr
	}
	return s.Store.ValidForeignKeys(ctx, refs)
}

func (s *fakeStore) UpsertBatch(ctx context.Context, req storage.UpsertRequest) (int64, error) {
	s.calls["UpsertBatch"]++
	if s.upsertErr != nil {
		return 0, s.upsertErr
	}
	return s.Store.UpsertBatch(ctx, req)
}

func mustKind(t *testing.T, name string) Kind {
	t.Helper()
	k, err := LookupKind(name)
	require.NoError(t, err)
	return k
}

// rows builds parsed rows from header-keyed string maps; "" cells are nil.
func rows(vals ...map[string]string) []csvparser.Row {
	out := make([]csvparser.Row, len(vals))
	for i, m := range vals {
		v := make(map[string]any, len(m))
		for k, s := range m {
			if s == "" {
				v[k] = nil
			} else {
				v[k] = s
			}
		}
		out[i] = csvparser.Row{Line: i + 2, Values: v}
	}
	return out
}

func hashtagRows(names ...string) []csvparser.Row {
	ms := make([]map[string]string, len(names))
	for i, n := range names {
		ms[i] = map[string]string{"id": fmt.Sprint(i + 1), "name": n, "topic": "t"}
	}
	return rows(ms...)
}

func seedEntities(t *testing.T, s storage.Store, table string, ids ...int64) {
	t.Helper()
	for _, id := range ids {
		require.NoError(t, s.Insert(context.Background(), table, []string{"id", "name"}, []any{id, fmt.Sprintf("%s-%d", table, id)}))
	}
}

func seedInfluencers(t *testing.T, s storage.Store, ids ...int64) {
	t.Helper()
	for _, id := range ids {
		require.NoError(t, s.Insert(context.Background(), "influencers", []string{"id", "username"}, []any{id, fmt.Sprintf("user%d", id)}))
	}
}
