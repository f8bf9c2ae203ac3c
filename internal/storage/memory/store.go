// Package memory is a process-local storage.Store. Data lives for the life of
// the Store; it backs dry runs (kind "memory") and tests.
package memory

import (
	"context"
	"fmt"
	"maps"
	"slices"
	"strings"
	"sync"

	"ingest/internal/storage"
)

type table struct {
	spec storage.TableSpec
	rows map[string]map[string]any // pk -> row
	uniq []map[string]string       // per constraint: key -> pk
}

func (t *table) clone() *table {
	c := &table{spec: t.spec, rows: make(map[string]map[string]any, len(t.rows))}
	for pk, row := range t.rows {
		c.rows[pk] = maps.Clone(row)
	}
	c.uniq = make([]map[string]string, len(t.uniq))
	for i, m := range t.uniq {
		c.uniq[i] = maps.Clone(m)
	}
	return c
}

// Store keeps tables in maps guarded by one mutex. Writes operate on a clone
// of the target table that replaces the original only on success.
type Store struct {
	mu     sync.Mutex
	tables map[string]*table
}

func init() {
	storage.Register("memory", New)
}

func New(context.Context, storage.Config) (storage.Store, error) {
	return NewStore(), nil
}

// NewStore returns an empty store.
func NewStore() *Store {
	return &Store{tables: map[string]*table{}}
}

func (s *Store) Close() {}

func (s *Store) EnsureTables(_ context.Context, specs []storage.TableSpec) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, spec := range specs {
		if err := spec.Validate(); err != nil {
			return fmt.Errorf("memory: %w", err)
		}
		if len(spec.PrimaryKey) == 0 {
			return fmt.Errorf("memory: table %s: primary key is required", spec.Name)
		}
		if _, ok := s.tables[spec.Name]; ok {
			continue
		}
		t := &table{spec: spec, rows: map[string]map[string]any{}, uniq: make([]map[string]string, len(spec.Constraints))}
		for i := range t.uniq {
			t.uniq[i] = map[string]string{}
		}
		s.tables[spec.Name] = t
	}
	return nil
}

func (s *Store) BulkInsert(_ context.Context, name string, columns []string, rows [][]any) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	t, err := s.table(name)
	if err != nil {
		return err
	}
	work := t.clone()
	for _, vals := range rows {
		if err := s.insert(work, columns, vals); err != nil {
			return fmt.Errorf("bulk insert %s: %w", name, err)
		}
	}
	s.tables[name] = work
	return nil
}

func (s *Store) Insert(_ context.Context, name string, columns []string, vals []any) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	t, err := s.table(name)
	if err != nil {
		return err
	}
	work := t.clone()
	if err := s.insert(work, columns, vals); err != nil {
		return fmt.Errorf("insert %s: %w", name, err)
	}
	s.tables[name] = work
	return nil
}

func (s *Store) KeyExists(_ context.Context, name string, keyColumns []string, key []any) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	t, err := s.table(name)
	if err != nil {
		return false, err
	}
	_, ok := t.lookup(keyColumns, key)
	return ok, nil
}

func (s *Store) ExistingKeys(_ context.Context, name string, keyColumns []string) (storage.KeySet, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	t, err := s.table(name)
	if err != nil {
		return nil, err
	}
	set := storage.NewKeySet(len(t.rows))
	for _, row := range t.rows {
		set.Add(project(row, keyColumns)...)
	}
	return set, nil
}

func (s *Store) ValidForeignKeys(ctx context.Context, refs []storage.Reference) ([]storage.KeySet, error) {
	out := make([]storage.KeySet, len(refs))
	for i, ref := range refs {
		set, err := s.ExistingKeys(ctx, ref.Table, []string{ref.Column})
		if err != nil {
			return nil, err
		}
		out[i] = set
	}
	return out, nil
}

func (s *Store) UpsertBatch(_ context.Context, req storage.UpsertRequest) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	t, err := s.table(req.Table)
	if err != nil {
		return 0, err
	}
	if len(req.ConflictColumns) == 0 {
		return 0, fmt.Errorf("memory: upsert %s: conflict columns are required", req.Table)
	}
	var update []string
	if req.Policy == storage.ConflictUpdate {
		update = req.UpdateColumns
		if len(update) == 0 {
			for _, c := range req.Columns {
				if !slices.Contains(req.ConflictColumns, c) {
					update = append(update, c)
				}
			}
		}
		for _, c := range update {
			if slices.Contains(t.spec.PrimaryKey, c) {
				return 0, fmt.Errorf("memory: upsert %s: cannot update primary key column %s", req.Table, c)
			}
		}
	}

	work := t.clone()
	var affected int64
	for _, vals := range req.Rows {
		row, err := toRow(work.spec, req.Columns, vals)
		if err != nil {
			return 0, err
		}
		pk, found := work.lookup(req.ConflictColumns, project(row, req.ConflictColumns))
		if !found {
			if err := s.write(work, row, ""); err != nil {
				return 0, fmt.Errorf("upsert %s: %w", req.Table, err)
			}
			affected++
			continue
		}
		if req.Policy != storage.ConflictUpdate || len(update) == 0 {
			continue
		}
		merged := maps.Clone(work.rows[pk])
		for _, c := range update {
			merged[c] = row[c]
		}
		if err := s.write(work, merged, pk); err != nil {
			return 0, fmt.Errorf("upsert %s: %w", req.Table, err)
		}
		affected++
	}
	s.tables[req.Table] = work
	return affected, nil
}

func (s *Store) Reset(_ context.Context, name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	t, err := s.table(name)
	if err != nil {
		return err
	}
	t.rows = map[string]map[string]any{}
	for i := range t.uniq {
		t.uniq[i] = map[string]string{}
	}
	return nil
}

// Len returns the number of rows in a table, or 0 for an unknown table.
func (s *Store) Len(name string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	if t, ok := s.tables[name]; ok {
		return len(t.rows)
	}
	return 0
}

// Row returns a copy of the row whose primary key parts equal pk.
func (s *Store) Row(name string, pk ...any) (map[string]any, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.tables[name]
	if !ok {
		return nil, false
	}
	row, ok := t.rows[storage.CompositeKey(pk...)]
	return maps.Clone(row), ok
}

func (s *Store) table(name string) (*table, error) {
	t, ok := s.tables[name]
	if !ok {
		return nil, fmt.Errorf("memory: %w: %s", storage.ErrUnknownTable, name)
	}
	return t, nil
}

func (s *Store) insert(t *table, columns []string, vals []any) error {
	row, err := toRow(t.spec, columns, vals)
	if err != nil {
		return err
	}
	return s.write(t, row, "")
}

// write validates row and stores it. pk is the current primary key when
// replacing an existing row, or "" for an insert.
func (s *Store) write(t *table, row map[string]any, pk string) error {
	for _, c := range t.spec.Columns {
		v := row[c.Name]
		if v == nil {
			if !c.IsNullable() {
				return fmt.Errorf("%s.%s: NOT NULL constraint failed", t.spec.Name, c.Name)
			}
			continue
		}
		ref, ok := c.Reference()
		if !ok {
			continue
		}
		target := t
		if ref.Table != t.spec.Name {
			var err error
			if target, err = s.table(ref.Table); err != nil {
				return err
			}
		}
		if _, found := target.lookup([]string{ref.Column}, []any{v}); !found {
			return fmt.Errorf("%s.%s: FOREIGN KEY constraint failed: %v not in %s", t.spec.Name, c.Name, v, ref)
		}
	}

	if pk == "" {
		pk = storage.CompositeKey(project(row, t.spec.PrimaryKey)...)
		if _, dup := t.rows[pk]; dup {
			return fmt.Errorf("%w: %s primary key %q", storage.ErrDuplicateKey, t.spec.Name, pk)
		}
	} else {
		t.dropUniq(t.rows[pk])
	}

	keys := make([]string, len(t.spec.Constraints))
	for i, con := range t.spec.Constraints {
		parts := project(row, con.Columns)
		if hasNil(parts) {
			continue
		}
		keys[i] = storage.CompositeKey(parts...)
		if owner, dup := t.uniq[i][keys[i]]; dup && owner != pk {
			return fmt.Errorf("%w: %s unique (%s) %q", storage.ErrDuplicateKey, t.spec.Name, strings.Join(con.Columns, ", "), keys[i])
		}
	}
	for i, k := range keys {
		if k != "" {
			t.uniq[i][k] = pk
		}
	}
	t.rows[pk] = row
	return nil
}

func (t *table) dropUniq(row map[string]any) {
	for i, con := range t.spec.Constraints {
		parts := project(row, con.Columns)
		if !hasNil(parts) {
			delete(t.uniq[i], storage.CompositeKey(parts...))
		}
	}
}

// lookup returns the primary key of the row whose cols equal key.
func (t *table) lookup(cols []string, key []any) (string, bool) {
	if hasNil(key) {
		return "", false
	}
	k := storage.CompositeKey(key...)
	if slices.Equal(cols, t.spec.PrimaryKey) {
		_, ok := t.rows[k]
		return k, ok
	}
	for i, con := range t.spec.Constraints {
		if slices.Equal(cols, con.Columns) {
			pk, ok := t.uniq[i][k]
			return pk, ok
		}
	}
	for pk, row := range t.rows {
		if storage.CompositeKey(project(row, cols)...) == k {
			return pk, true
		}
	}
	return "", false
}

func toRow(spec storage.TableSpec, columns []string, vals []any) (map[string]any, error) {
	if len(vals) != len(columns) {
		return nil, fmt.Errorf("%s: %d values for %d columns", spec.Name, len(vals), len(columns))
	}
	row := make(map[string]any, len(spec.Columns))
	for i, c := range columns {
		if _, ok := spec.Column(c); !ok {
			return nil, fmt.Errorf("%s: unknown column %s", spec.Name, c)
		}
		row[c] = vals[i]
	}
	return row, nil
}

func project(row map[string]any, cols []string) []any {
	out := make([]any, len(cols))
	for i, c := range cols {
		out[i] = row[c]
	}
	return out
}

func hasNil(vals []any) bool {
	for _, v := range vals {
		if v == nil {
			return true
		}
	}
	return false
}
