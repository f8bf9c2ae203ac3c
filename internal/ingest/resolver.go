package ingest

import (
	"context"
	"time"

	"ingest/internal/metrics"
	"ingest/internal/storage"
)

// Resolver drops records the store makes redundant (existing entities) or
// invalid (associations whose entities are missing).
//
// A failed store query never aborts the run: the filter logs it and keeps
// every record, leaving classification to the commit stage.
type Resolver struct {
	Store  storage.Store
	Logger Logger
}

// FilterExisting drops entity records whose business key is already stored
// and returns how many were dropped. Records with an incomplete key are kept.
func (r *Resolver) FilterExisting(ctx context.Context, k Kind, recs []Record) ([]Record, int) {
	logf := logfOf(r.Logger)
	start := time.Now()

	existing, err := r.Store.ExistingKeys(ctx, k.Name, k.Key)
	if err != nil {
		logf("stage=resolve_existing kind=%s status=degraded err=%v", k.Name, err)
		metrics.RecordStage("resolve_existing", "degraded", time.Since(start).Seconds())
		return recs, 0
	}

	out := make([]Record, 0, len(recs))
	for _, rec := range recs {
		if rec.HasKey() && existing.Has(rec.KeyString()) {
			continue
		}
		out = append(out, rec)
	}
	skipped := len(recs) - len(out)
	logf("stage=resolve_existing kind=%s ok known=%d skipped=%d duration=%s", k.Name, existing.Len(), skipped, durMS(start))
	metrics.RecordStage("resolve_existing", "ok", time.Since(start).Seconds())
	return out, skipped
}

// FilterReferences keeps association records whose every foreign key is
// present in the referenced table and returns how many were rejected. A
// missing key part is never valid.
func (r *Resolver) FilterReferences(ctx context.Context, k Kind, recs []Record) ([]Record, int) {
	logf := logfOf(r.Logger)
	start := time.Now()

	refs := k.References()
	sets, err := r.Store.ValidForeignKeys(ctx, refs)
	if err == nil && len(sets) != len(refs) {
		err = errShortKeySets
	}
	if err != nil {
		logf("stage=resolve_references kind=%s status=degraded err=%v", k.Name, err)
		metrics.RecordStage("resolve_references", "degraded", time.Since(start).Seconds())
		return recs, 0
	}

	out := make([]Record, 0, len(recs))
	for _, rec := range recs {
		if validRefs(rec, sets) {
			out = append(out, rec)
		}
	}
	rejected := len(recs) - len(out)
	logf("stage=resolve_references kind=%s ok accepted=%d rejected=%d duration=%s", k.Name, len(out), rejected, durMS(start))
	metrics.RecordStage("resolve_references", "ok", time.Since(start).Seconds())
	return out, rejected
}

func validRefs(rec Record, sets []storage.KeySet) bool {
	if len(rec.Key) != len(sets) {
		return false
	}
	for i, v := range rec.Key {
		if v == nil || !sets[i].Has(storage.NormalizeKey(v)) {
			return false
		}
	}
	return true
}
