package ingest

import (
	"context"

	"ingest/internal/storage"
)

// FallbackRecorder retries a failed batch one record at a time, each in its
// own transaction, so one bad record cannot take its siblings down.
type FallbackRecorder struct {
	Store  storage.Store
	Logger Logger
}

// Record classifies every record of batch into res, in order.
//
// A record whose key already exists is a duplicate without an insert attempt.
// If that check fails the insert is attempted anyway; a unique violation is a
// duplicate and any other error is a failure.
func (f *FallbackRecorder) Record(ctx context.Context, k Kind, batch []Record, res *ImportResult) {
	logf := logfOf(f.Logger)
	cols := k.Columns()

	var inserted, dups, failed int
	for _, rec := range batch {
		if rec.HasKey() {
			exists, err := f.Store.KeyExists(ctx, k.Name, k.Key, rec.Key)
			if err != nil {
				logf("stage=fallback kind=%s line=%d key=%q recheck_err=%v", k.Name, rec.Line, rec.KeyString(), err)
			} else if exists {
				dups++
				continue
			}
		}

		err := f.Store.Insert(ctx, k.Name, cols, rec.Row(cols))
		switch {
		case err == nil:
			inserted++
		case storage.IsDuplicateKey(err):
			dups++
		default:
			failed++
			res.fail(rec, PermanentRecordFailure, err)
			logf("stage=fallback kind=%s line=%d key=%q status=failed err=%v", k.Name, rec.Line, rec.KeyString(), err)
		}
	}

	res.Inserted += inserted
	res.SkippedDuplicate += dups
	logf("stage=fallback kind=%s rows=%d inserted=%d skipped_duplicate=%d failed=%d", k.Name, len(batch), inserted, dups, failed)
}
