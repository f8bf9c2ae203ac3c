package ingest

import (
	"context"
	"time"

	"ingest/internal/metrics"
	"ingest/internal/storage"
)

// batches splits recs in order into slices of at most size records.
func batches(recs []Record, size int) [][]Record {
	if size <= 0 {
		size = len(recs)
	}
	var out [][]Record
	for i := 0; i < len(recs); i += size {
		out = append(out, recs[i:min(i+size, len(recs))])
	}
	return out
}

// failRemaining classifies every record of the unattempted batches as Failed
// after an interruption.
func failRemaining(res *ImportResult, rest [][]Record, err error) {
	for _, b := range rest {
		for _, rec := range b {
			res.fail(rec, TransientCommitFailure, err)
		}
	}
}

func rowsOf(recs []Record, cols []string) [][]any {
	rows := make([][]any, len(recs))
	for i, r := range recs {
		rows[i] = r.Row(cols)
	}
	return rows
}

// BatchCommitter inserts records in fixed-size batches, one transaction per
// batch. A failed batch is rolled back by the store and handed to Fallback.
type BatchCommitter struct {
	Store     storage.Store
	Fallback  *FallbackRecorder
	BatchSize int
	Logger    Logger
}

// Commit classifies every record of recs into res. It returns ErrInterrupted
// when ctx ends between batches; the unattempted records are then Failed.
func (c *BatchCommitter) Commit(ctx context.Context, k Kind, recs []Record, res *ImportResult) error {
	logf := logfOf(c.Logger)
	cols := k.Columns()
	parts := batches(recs, c.BatchSize)

	done := 0
	for i, batch := range parts {
		if err := ctx.Err(); err != nil {
			failRemaining(res, parts[i:], err)
			return interrupted(err)
		}

		start := time.Now()
		err := c.Store.BulkInsert(ctx, k.Name, cols, rowsOf(batch, cols))
		res.Batches++
		if err == nil {
			res.Inserted += len(batch)
			logf("stage=commit kind=%s processed batch %d..%d ok duration=%s", k.Name, done, done+len(batch), durMS(start))
			metrics.RecordBatch(k.Name, "ok")
		} else {
			res.FallbackBatches++
			logf("stage=commit kind=%s batch %d..%d status=fallback err=%v", k.Name, done, done+len(batch), err)
			metrics.RecordBatch(k.Name, "fallback")
			c.Fallback.Record(ctx, k, batch, res)
		}
		metrics.RecordStage("commit_batch", statusOf(err), time.Since(start).Seconds())
		done += len(batch)
	}
	return nil
}

// UpsertCommitter writes each batch with one insert-or-resolve statement
// keyed by the business key.
type UpsertCommitter struct {
	Store     storage.Store
	BatchSize int
	Policy    storage.ConflictPolicy
	Logger    Logger
}

// Commit classifies every record of recs into res.
//
// With ConflictIgnore, rows the store reports as unaffected are duplicates.
// With ConflictUpdate every row is written (inserted or refreshed) and counts
// as Inserted. A failed statement fails its whole batch.
func (u *UpsertCommitter) Commit(ctx context.Context, k Kind, recs []Record, res *ImportResult) error {
	logf := logfOf(u.Logger)
	cols := k.Columns()
	parts := batches(recs, u.BatchSize)

	done := 0
	for i, batch := range parts {
		if err := ctx.Err(); err != nil {
			failRemaining(res, parts[i:], err)
			return interrupted(err)
		}

		start := time.Now()
		n, err := u.Store.UpsertBatch(ctx, storage.UpsertRequest{
			Table:           k.Name,
			Columns:         cols,
			Rows:            rowsOf(batch, cols),
			ConflictColumns: k.Key,
			Policy:          u.Policy,
			UpdateColumns:   k.PayloadColumns(),
		})
		res.Batches++
		switch {
		case err != nil:
			for _, rec := range batch {
				res.fail(rec, PermanentRecordFailure, err)
			}
			logf("stage=upsert kind=%s batch %d..%d status=failed err=%v", k.Name, done, done+len(batch), err)
			metrics.RecordBatch(k.Name, "failed")
		case u.Policy == storage.ConflictUpdate:
			res.Inserted += len(batch)
			logf("stage=upsert kind=%s processed batch %d..%d ok written=%d duration=%s", k.Name, done, done+len(batch), len(batch), durMS(start))
			metrics.RecordBatch(k.Name, "ok")
		default:
			ins := int(min(max(n, 0), int64(len(batch))))
			res.Inserted += ins
			res.SkippedDuplicate += len(batch) - ins
			logf("stage=upsert kind=%s processed batch %d..%d ok inserted=%d ignored=%d duration=%s", k.Name, done, done+len(batch), ins, len(batch)-ins, durMS(start))
			metrics.RecordBatch(k.Name, "ok")
		}
		metrics.RecordStage("upsert_batch", statusOf(err), time.Since(start).Seconds())
		done += len(batch)
	}
	return nil
}

func statusOf(err error) string {
	if err != nil {
		return "error"
	}
	return "ok"
}
