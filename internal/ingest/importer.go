package ingest

import (
	"context"
	"fmt"
	"time"

	"ingest/internal/metrics"
	csvparser "ingest/internal/parser/csv"
	"ingest/internal/source"
	"ingest/internal/storage"
)

// Strategy selects the commit path.
type Strategy string

const (
	// StrategyBatch is bulk insert per batch with per-record fallback.
	StrategyBatch Strategy = "batch"
	// StrategyUpsert is one insert-or-resolve statement per batch.
	StrategyUpsert Strategy = "upsert"
)

// ParseStrategy parses "batch" or "upsert".
func ParseStrategy(s string) (Strategy, error) {
	switch Strategy(s) {
	case StrategyBatch, StrategyUpsert:
		return Strategy(s), nil
	}
	return "", fmt.Errorf("%w: unknown strategy %q (want batch|upsert)", ErrInvalidOptions, s)
}

// MaxBatchSize bounds Options.BatchSize.
const MaxBatchSize = 100000

// Options controls one import.
type Options struct {
	// BatchSize is the number of records per commit. 0 uses the kind default.
	BatchSize int

	// SkipExisting drops entities whose key is already stored before commit.
	// It has no effect with StrategyUpsert and ConflictUpdate, where existing
	// rows are refreshed instead.
	SkipExisting bool

	Strategy Strategy

	// Policy is the upsert conflict policy. Empty uses the kind default.
	Policy storage.ConflictPolicy

	// EnsureSchema creates missing tables before importing.
	EnsureSchema bool
}

// Validate reports the first invalid option.
func (o Options) Validate() error {
	if o.BatchSize < 0 || o.BatchSize > MaxBatchSize {
		return fmt.Errorf("%w: batch size %d not in 1..%d", ErrInvalidOptions, o.BatchSize, MaxBatchSize)
	}
	if o.Strategy != "" {
		if _, err := ParseStrategy(string(o.Strategy)); err != nil {
			return err
		}
	}
	if o.Policy != "" {
		if _, err := storage.ParseConflictPolicy(string(o.Policy)); err != nil {
			return fmt.Errorf("%w: %w", ErrInvalidOptions, err)
		}
	}
	return nil
}

// resolved fills defaults from the kind.
func (o Options) resolved(k Kind) Options {
	if o.BatchSize == 0 {
		o.BatchSize = k.DefaultBatchSize
	}
	if o.Strategy == "" {
		o.Strategy = StrategyBatch
	}
	if o.Policy == "" {
		o.Policy = k.DefaultPolicy
	}
	return o
}

// ReadOptions controls ReadFile.
type ReadOptions struct {
	Encoding   string
	Comma      rune
	LazyQuotes bool
	Objects    source.ObjectOpener
	OnError    func(line int, err error)
}

// ReadFile opens location and parses it with the kind's header aliases.
//
// Errors:
//   - ErrInputNotFound, ErrInputEmpty.
//   - Any other open, decode or parse error.
func ReadFile(ctx context.Context, k Kind, location string, opt ReadOptions) ([]csvparser.Row, error) {
	return ReadRaw(ctx, location, opt, func(o *csvparser.Options) { o.HeaderMap = k.Aliases })
}

// ReadRaw opens location and parses it with normalized header names. Each
// tune func may adjust the parser options first.
func ReadRaw(ctx context.Context, location string, opt ReadOptions, tune ...func(*csvparser.Options)) ([]csvparser.Row, error) {
	rc, err := source.Open(ctx, location, source.Options{Encoding: opt.Encoding, Objects: opt.Objects})
	if err != nil {
		return nil, err
	}
	defer rc.Close()

	po := csvparser.Options{
		Comma:      opt.Comma,
		LazyQuotes: opt.LazyQuotes,
		OnError:    opt.OnError,
	}
	for _, f := range tune {
		f(&po)
	}
	return csvparser.ReadRows(ctx, rc, po)
}

// Importer runs the pipeline against one store.
type Importer struct {
	Store  storage.Store
	Logger Logger
}

// Import runs every stage over rows.
//
// Errors:
//   - ErrInvalidOptions before anything else.
//   - ErrStoreUnavailable if EnsureSchema fails.
//   - ErrInterrupted, with the partial result, if ctx ends between batches.
//
// Any other condition is counted in the result. Rows the reader could not
// parse count as failed.
func (im *Importer) Import(ctx context.Context, k Kind, rows []csvparser.Row, opts Options) (ImportResult, error) {
	res := ImportResult{Kind: k.Name, Total: len(rows)}
	if err := opts.Validate(); err != nil {
		return res, err
	}
	opts = opts.resolved(k)
	res.Strategy = opts.Strategy

	logf := logfOf(im.Logger)
	runStart := time.Now()

	if opts.EnsureSchema {
		start := time.Now()
		if err := im.Store.EnsureTables(ctx, k.Tables()); err != nil {
			return res, fmt.Errorf("%w: ensure tables: %w", ErrStoreUnavailable, err)
		}
		logf("stage=ddl ok duration=%s", durMS(start))
	}

	// Normalize.
	start := time.Now()
	recs := make([]Record, 0, len(rows))
	for _, row := range rows {
		if row.Err != nil {
			res.fail(Record{Line: row.Line}, PermanentRecordFailure, row.Err)
			continue
		}
		rec := Normalize(k, row.Line, row.Values)
		res.Anomalies += rec.Anomalies
		recs = append(recs, rec)
	}
	logf("stage=normalize kind=%s ok rows=%d unparsed=%d anomalies=%d duration=%s", k.Name, len(recs), res.Failed, res.Anomalies, durMS(start))
	metrics.RecordStage("normalize", "ok", time.Since(start).Seconds())

	// Deduplicate.
	recs, res.Deduplicated = Deduplicate(recs)
	res.SkippedDuplicate += res.Deduplicated
	if res.Deduplicated > 0 {
		logf("stage=dedupe kind=%s removed=%d", k.Name, res.Deduplicated)
	}

	// Resolve.
	resolver := &Resolver{Store: im.Store, Logger: im.Logger}
	switch {
	case k.EntityKind == Association:
		var rejected int
		recs, rejected = resolver.FilterReferences(ctx, k, recs)
		res.SkippedInvalidReference += rejected
	case opts.SkipExisting && !(opts.Strategy == StrategyUpsert && opts.Policy == storage.ConflictUpdate):
		recs, res.Existing = resolver.FilterExisting(ctx, k, recs)
		res.SkippedDuplicate += res.Existing
	}

	// Commit.
	start = time.Now()
	var err error
	if opts.Strategy == StrategyUpsert {
		c := &UpsertCommitter{Store: im.Store, BatchSize: opts.BatchSize, Policy: opts.Policy, Logger: im.Logger}
		err = c.Commit(ctx, k, recs, &res)
	} else {
		c := &BatchCommitter{
			Store:     im.Store,
			Fallback:  &FallbackRecorder{Store: im.Store, Logger: im.Logger},
			BatchSize: opts.BatchSize,
			Logger:    im.Logger,
		}
		err = c.Commit(ctx, k, recs, &res)
	}
	logf("stage=%s kind=%s rows=%d batches=%d duration=%s", opts.Strategy, k.Name, len(recs), res.Batches, durMS(start))
	metrics.RecordStage(string(opts.Strategy), statusOf(err), time.Since(start).Seconds())

	res.Duration = time.Since(runStart)
	res.recordMetrics()
	if cerr := res.Check(); cerr != nil {
		logf("stage=summary kind=%s status=inconsistent err=%v", k.Name, cerr)
	}
	logf("stage=summary kind=%s total=%d inserted=%d skipped_duplicate=%d skipped_invalid_reference=%d failed=%d duration=%s",
		k.Name, res.Total, res.Inserted, res.SkippedDuplicate, res.SkippedInvalidReference, res.Failed, res.Duration.Truncate(time.Millisecond))
	return res, err
}

// EnsureSchema creates every table that does not exist yet.
func EnsureSchema(ctx context.Context, store storage.Store) error {
	if err := store.EnsureTables(ctx, AllTables()); err != nil {
		return fmt.Errorf("%w: ensure tables: %w", ErrStoreUnavailable, err)
	}
	return nil
}

// Reset removes every row of k's table, after first resetting the tables
// that reference it. Without confirm it does nothing and returns
// ErrResetNotConfirmed.
func Reset(ctx context.Context, store storage.Store, k Kind, confirm bool, logger Logger) error {
	logf := logfOf(logger)
	if !confirm {
		logf("stage=reset kind=%s status=refused reason=%q", k.Name, "not confirmed")
		return fmt.Errorf("%w: %s", ErrResetNotConfirmed, k.Name)
	}
	for _, dep := range Dependents(k) {
		if err := Reset(ctx, store, dep, true, logger); err != nil {
			return err
		}
	}
	if err := store.Reset(ctx, k.Name); err != nil {
		return fmt.Errorf("reset %s: %w", k.Name, err)
	}
	logf("stage=reset kind=%s ok", k.Name)
	return nil
}
