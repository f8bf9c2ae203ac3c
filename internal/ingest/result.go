package ingest

import (
	"fmt"
	"time"

	"ingest/internal/metrics"
)

// maxFailureSamples bounds ImportResult.Failures.
const maxFailureSamples = 20

// Failure describes one record classified as Failed.
type Failure struct {
	Line int
	Key  string
	Kind ErrorKind
	Err  string
}

// ImportResult is the summary of one import. Inserted, SkippedDuplicate,
// SkippedInvalidReference and Failed always sum to Total.
type ImportResult struct {
	Kind     string
	Strategy Strategy

	Total                   int
	Inserted                int
	SkippedDuplicate        int
	SkippedInvalidReference int
	Failed                  int

	// Informational sub-counts.
	Deduplicated    int
	Existing        int
	Anomalies       int
	Batches         int
	FallbackBatches int
	Failures        []Failure

	Duration time.Duration
}

// Classified is the number of records in a terminal bucket.
func (r ImportResult) Classified() int {
	return r.Inserted + r.SkippedDuplicate + r.SkippedInvalidReference + r.Failed
}

// Check reports an error when the buckets do not sum to Total.
func (r ImportResult) Check() error {
	if got := r.Classified(); got != r.Total {
		return fmt.Errorf("import %s: classified %d of %d records", r.Kind, got, r.Total)
	}
	return nil
}

func (r *ImportResult) fail(rec Record, kind ErrorKind, err error) {
	r.Failed++
	if len(r.Failures) >= maxFailureSamples {
		return
	}
	f := Failure{Line: rec.Line, Key: rec.KeyString(), Kind: kind}
	if err != nil {
		f.Err = err.Error()
	}
	r.Failures = append(r.Failures, f)
}

func (r ImportResult) recordMetrics() {
	metrics.RecordRecords(r.Kind, "inserted", r.Inserted)
	metrics.RecordRecords(r.Kind, "skipped_duplicate", r.SkippedDuplicate)
	metrics.RecordRecords(r.Kind, "skipped_invalid_reference", r.SkippedInvalidReference)
	metrics.RecordRecords(r.Kind, "failed", r.Failed)
}
