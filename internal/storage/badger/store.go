package badger

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"slices"
	"strings"
	"sync"

	"github.com/dgraph-io/badger/v4"
	"github.com/dgraph-io/badger/v4/options"
	json "github.com/goccy/go-json"
	"github.com/rs/zerolog/log"

	"ingest/internal/storage"
)

// Store implements storage.Store on an embedded BadgerDB.
//
// Rows are JSON objects keyed by their canonical primary key. Every unique
// constraint gets an index entry pointing back at the row. NOT NULL, unique
// and foreign key checks run inside the badger transaction of each write, so
// a failed write leaves nothing behind.
//
// Tables must declare a primary key, and foreign keys must target a column
// that is a single-column primary key or unique constraint.
type Store struct {
	db *badger.DB

	mu    sync.RWMutex
	specs map[string]storage.TableSpec
}

func init() {
	storage.Register("badger", New)
}

// New opens a badger store. An empty DSN or ":memory:" opens an in-memory
// database; otherwise the DSN (optionally prefixed with badger://) is a
// directory, created if missing.
func New(ctx context.Context, cfg storage.Config) (storage.Store, error) {
	path := strings.TrimPrefix(cfg.DSN, "badger://")

	var opts badger.Options
	if path == "" || path == ":memory:" {
		opts = badger.DefaultOptions("").WithInMemory(true)
	} else {
		if err := os.MkdirAll(path, 0o755); err != nil {
			return nil, fmt.Errorf("badger: create dir %s: %w", path, err)
		}
		opts = badger.DefaultOptions(path)
	}
	opts.Logger = &zerologAdapter{logger: log.Logger.With().Str("component", "badger").Logger()}
	opts.Compression = options.None

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("badger: open: %w", err)
	}

	s := &Store{db: db, specs: map[string]storage.TableSpec{}}
	if err := s.loadSpecs(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

func (s *Store) Close() { _ = s.db.Close() }

func (s *Store) loadSpecs() error {
	return s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = []byte(specPrefix + ":")
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Rewind(); it.Valid(); it.Next() {
			var spec storage.TableSpec
			if err := it.Item().Value(func(v []byte) error { return json.Unmarshal(v, &spec) }); err != nil {
				return fmt.Errorf("badger: load table spec: %w", err)
			}
			s.specs[spec.Name] = spec
		}
		return nil
	})
}

// EnsureTables records table specs. Referenced tables must come first.
func (s *Store) EnsureTables(ctx context.Context, tables []storage.TableSpec) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.db.Update(func(txn *badger.Txn) error {
		for _, t := range tables {
			if err := validTableName(t.Name); err != nil {
				return err
			}
			if err := t.Validate(); err != nil {
				return fmt.Errorf("badger: %w", err)
			}
			if len(t.PrimaryKey) == 0 {
				return fmt.Errorf("badger: table %s: primary key is required", t.Name)
			}
			for _, c := range t.Columns {
				ref, ok := c.Reference()
				if !ok {
					continue
				}
				target, ok := s.specs[ref.Table]
				if !ok && ref.Table == t.Name {
					target, ok = t, true
				}
				if !ok {
					return fmt.Errorf("badger: table %s: %w: %s", t.Name, storage.ErrUnknownTable, ref.Table)
				}
				if uniqueIndexFor(target, []string{ref.Column}) == noIndex {
					return fmt.Errorf("badger: table %s: %s is not a unique key", t.Name, ref)
				}
			}

			raw, err := json.Marshal(t)
			if err != nil {
				return err
			}
			if err := txn.Set(makeSpecKey(t.Name), raw); err != nil {
				return err
			}
			s.specs[t.Name] = t
		}
		return nil
	})
}

func (s *Store) spec(table string) (storage.TableSpec, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	spec, ok := s.specs[table]
	if !ok {
		return storage.TableSpec{}, fmt.Errorf("badger: %w: %s", storage.ErrUnknownTable, table)
	}
	return spec, nil
}

func (s *Store) BulkInsert(ctx context.Context, table string, columns []string, rows [][]any) error {
	if len(rows) == 0 {
		return nil
	}
	spec, err := s.spec(table)
	if err != nil {
		return err
	}
	return s.db.Update(func(txn *badger.Txn) error {
		for _, vals := range rows {
			row, err := toRow(spec, columns, vals)
			if err != nil {
				return err
			}
			if err := s.insertTx(txn, spec, row); err != nil {
				return fmt.Errorf("bulk insert %s: %w", table, err)
			}
		}
		return nil
	})
}

func (s *Store) Insert(ctx context.Context, table string, columns []string, vals []any) error {
	spec, err := s.spec(table)
	if err != nil {
		return err
	}
	return s.db.Update(func(txn *badger.Txn) error {
		row, err := toRow(spec, columns, vals)
		if err != nil {
			return err
		}
		if err := s.insertTx(txn, spec, row); err != nil {
			return fmt.Errorf("insert %s: %w", table, err)
		}
		return nil
	})
}

func (s *Store) KeyExists(ctx context.Context, table string, keyColumns []string, key []any) (bool, error) {
	spec, err := s.spec(table)
	if err != nil {
		return false, err
	}
	var found bool
	err = s.db.View(func(txn *badger.Txn) error {
		_, found, err = s.lookup(txn, spec, keyColumns, key)
		return err
	})
	return found, err
}

func (s *Store) ExistingKeys(ctx context.Context, table string, keyColumns []string) (storage.KeySet, error) {
	spec, err := s.spec(table)
	if err != nil {
		return nil, err
	}
	set := storage.NewKeySet(0)
	err = s.db.View(func(txn *badger.Txn) error {
		return scanRows(txn, spec.Name, func(_ string, row map[string]any) (bool, error) {
			set.Add(project(row, keyColumns)...)
			return true, nil
		})
	})
	return set, err
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

// UpsertBatch resolves each row against ConflictColumns in one transaction.
// Inserted and refreshed rows both count as affected.
func (s *Store) UpsertBatch(ctx context.Context, req storage.UpsertRequest) (int64, error) {
	if len(req.Rows) == 0 {
		return 0, nil
	}
	spec, err := s.spec(req.Table)
	if err != nil {
		return 0, err
	}
	if len(req.ConflictColumns) == 0 {
		return 0, fmt.Errorf("badger: upsert %s: conflict columns are required", req.Table)
	}
	var update []string
	if req.Policy == storage.ConflictUpdate {
		update = updateColumns(req)
		for _, c := range update {
			if slices.Contains(spec.PrimaryKey, c) {
				return 0, fmt.Errorf("badger: upsert %s: cannot update primary key column %s", req.Table, c)
			}
		}
	}

	var affected int64
	err = s.db.Update(func(txn *badger.Txn) error {
		for _, vals := range req.Rows {
			row, err := toRow(spec, req.Columns, vals)
			if err != nil {
				return err
			}

			pk, found, err := s.lookup(txn, spec, req.ConflictColumns, project(row, req.ConflictColumns))
			if err != nil {
				return err
			}
			if !found {
				if err := s.insertTx(txn, spec, row); err != nil {
					return fmt.Errorf("upsert %s: %w", req.Table, err)
				}
				affected++
				continue
			}
			if req.Policy != storage.ConflictUpdate || len(update) == 0 {
				continue
			}

			current, err := getRow(txn, spec.Name, pk)
			if err != nil {
				return err
			}
			if err := s.deleteUniqTx(txn, spec, current); err != nil {
				return err
			}
			for _, c := range update {
				current[c] = row[c]
			}
			if err := s.writeTx(txn, spec, pk, current); err != nil {
				return fmt.Errorf("upsert %s: %w", req.Table, err)
			}
			affected++
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	return affected, nil
}

// Reset drops every row and index entry of table.
func (s *Store) Reset(ctx context.Context, table string) error {
	if _, err := s.spec(table); err != nil {
		return err
	}
	if err := s.db.DropPrefix(makeRowPrefix(table), makeUniqPrefix(table)); err != nil {
		return fmt.Errorf("badger: reset %s: %w", table, err)
	}
	return nil
}

// ---- transactional helpers ----

// insertTx checks the primary key and writes row.
func (s *Store) insertTx(txn *badger.Txn, spec storage.TableSpec, row map[string]any) error {
	pk, ok := keyOf(row, spec.PrimaryKey)
	if !ok {
		return fmt.Errorf("%s: NOT NULL constraint failed on primary key", spec.Name)
	}
	exists, err := has(txn, makeRowKey(spec.Name, pk))
	if err != nil {
		return err
	}
	if exists {
		return fmt.Errorf("%w: %s primary key %q", storage.ErrDuplicateKey, spec.Name, pk)
	}
	return s.writeTx(txn, spec, pk, row)
}

// writeTx enforces NOT NULL, foreign keys and unique constraints, then
// writes row and its index entries.
func (s *Store) writeTx(txn *badger.Txn, spec storage.TableSpec, pk string, row map[string]any) error {
	for _, c := range spec.Columns {
		v := row[c.Name]
		if v == nil {
			if !c.IsNullable() {
				return fmt.Errorf("%s.%s: NOT NULL constraint failed", spec.Name, c.Name)
			}
			continue
		}
		ref, ok := c.Reference()
		if !ok {
			continue
		}
		target, err := s.spec(ref.Table)
		if err != nil {
			return err
		}
		_, found, err := s.lookup(txn, target, []string{ref.Column}, []any{v})
		if err != nil {
			return err
		}
		if !found {
			return fmt.Errorf("%s.%s: FOREIGN KEY constraint failed: %v not in %s", spec.Name, c.Name, v, ref)
		}
	}

	for i, con := range spec.Constraints {
		k, ok := keyOf(row, con.Columns)
		if !ok {
			continue
		}
		key := makeUniqKey(spec.Name, i, k)
		owner, found, err := getString(txn, key)
		if err != nil {
			return err
		}
		if found && owner != pk {
			return fmt.Errorf("%w: %s unique (%s) %q", storage.ErrDuplicateKey, spec.Name, strings.Join(con.Columns, ", "), k)
		}
		if err := txn.Set(key, []byte(pk)); err != nil {
			return err
		}
	}

	raw, err := json.Marshal(row)
	if err != nil {
		return fmt.Errorf("encode row: %w", err)
	}
	return txn.Set(makeRowKey(spec.Name, pk), raw)
}

func (s *Store) deleteUniqTx(txn *badger.Txn, spec storage.TableSpec, row map[string]any) error {
	for i, con := range spec.Constraints {
		if k, ok := keyOf(row, con.Columns); ok {
			if err := txn.Delete(makeUniqKey(spec.Name, i, k)); err != nil {
				return err
			}
		}
	}
	return nil
}

// lookup finds the primary key of the row whose keyColumns equal key. It uses
// the row key or a unique index when keyColumns match one, and scans
// otherwise.
func (s *Store) lookup(txn *badger.Txn, spec storage.TableSpec, keyColumns []string, key []any) (string, bool, error) {
	if hasNil(key) {
		return "", false, nil
	}
	k := storage.CompositeKey(key...)

	switch idx := uniqueIndexFor(spec, keyColumns); idx {
	case pkIndex:
		found, err := has(txn, makeRowKey(spec.Name, k))
		return k, found, err
	case noIndex:
		var pk string
		var found bool
		err := scanRows(txn, spec.Name, func(rowPK string, row map[string]any) (bool, error) {
			if storage.CompositeKey(project(row, keyColumns)...) == k {
				pk, found = rowPK, true
				return false, nil
			}
			return true, nil
		})
		return pk, found, err
	default:
		return getString(txn, makeUniqKey(spec.Name, idx, k))
	}
}

const (
	pkIndex = -1
	noIndex = -2
)

// uniqueIndexFor returns pkIndex, the index of the unique constraint whose
// columns equal cols, or noIndex.
func uniqueIndexFor(spec storage.TableSpec, cols []string) int {
	if slices.Equal(spec.PrimaryKey, cols) {
		return pkIndex
	}
	for i, con := range spec.Constraints {
		if slices.Equal(con.Columns, cols) {
			return i
		}
	}
	return noIndex
}

func scanRows(txn *badger.Txn, table string, fn func(pk string, row map[string]any) (bool, error)) error {
	prefix := makeRowPrefix(table)
	opts := badger.DefaultIteratorOptions
	opts.Prefix = prefix
	it := txn.NewIterator(opts)
	defer it.Close()

	for it.Rewind(); it.Valid(); it.Next() {
		item := it.Item()
		pk := string(bytes.TrimPrefix(item.Key(), prefix))

		var row map[string]any
		if err := item.Value(func(v []byte) error {
			var err error
			row, err = decodeRow(v)
			return err
		}); err != nil {
			return err
		}
		more, err := fn(pk, row)
		if err != nil || !more {
			return err
		}
	}
	return nil
}

func getRow(txn *badger.Txn, table, pk string) (map[string]any, error) {
	item, err := txn.Get(makeRowKey(table, pk))
	if err != nil {
		return nil, err
	}
	var row map[string]any
	err = item.Value(func(v []byte) error {
		row, err = decodeRow(v)
		return err
	})
	return row, err
}

// decodeRow decodes a stored row keeping numbers as json.Number, so integer
// keys survive the round trip exactly.
func decodeRow(raw []byte) (map[string]any, error) {
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var row map[string]any
	if err := dec.Decode(&row); err != nil {
		return nil, fmt.Errorf("decode row: %w", err)
	}
	return row, nil
}

func has(txn *badger.Txn, key []byte) (bool, error) {
	_, err := txn.Get(key)
	if errors.Is(err, badger.ErrKeyNotFound) {
		return false, nil
	}
	return err == nil, err
}

func getString(txn *badger.Txn, key []byte) (string, bool, error) {
	item, err := txn.Get(key)
	if errors.Is(err, badger.ErrKeyNotFound) {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	v, err := item.ValueCopy(nil)
	if err != nil {
		return "", false, err
	}
	return string(v), true, nil
}

// ---- row helpers ----

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

// keyOf returns the canonical key of cols in row; ok is false when any part
// is NULL.
func keyOf(row map[string]any, cols []string) (string, bool) {
	parts := project(row, cols)
	if hasNil(parts) {
		return "", false
	}
	return storage.CompositeKey(parts...), true
}

func hasNil(vals []any) bool {
	for _, v := range vals {
		if v == nil {
			return true
		}
	}
	return false
}

func updateColumns(req storage.UpsertRequest) []string {
	if len(req.UpdateColumns) > 0 {
		return req.UpdateColumns
	}
	var out []string
	for _, c := range req.Columns {
		if !slices.Contains(req.ConflictColumns, c) {
			out = append(out, c)
		}
	}
	return out
}
