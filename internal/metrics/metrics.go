// Package metrics is a tiny process-wide facade over a metrics backend.
//
// Import code calls IncCounter/ObserveHistogram without knowing which backend
// (Datadog, Pushgateway, none) is configured. The default backend is a nop.
package metrics

import "sync"

// Labels are metric dimensions (e.g. {"kind":"hashtags","outcome":"inserted"}).
type Labels map[string]string

// Backend receives metric events. Implementations must be safe for concurrent
// use.
type Backend interface {
	IncCounter(name string, delta float64, labels Labels)
	ObserveHistogram(name string, value float64, labels Labels)
	Flush() error
	Close() error
}

// Metric names emitted by the import pipeline.
const (
	RecordsTotal        = "ingest_records_total"
	BatchesTotal        = "ingest_batches_total"
	StageDurationSecond = "ingest_stage_duration_seconds"
)

type nopBackend struct{}

func (nopBackend) IncCounter(string, float64, Labels)       {}
func (nopBackend) ObserveHistogram(string, float64, Labels) {}
func (nopBackend) Flush() error                             { return nil }
func (nopBackend) Close() error                             { return nil }

var (
	mu      sync.RWMutex
	backend Backend = nopBackend{}
)

// SetBackend installs b. A nil b restores the nop backend.
func SetBackend(b Backend) {
	if b == nil {
		b = nopBackend{}
	}
	mu.Lock()
	backend = b
	mu.Unlock()
}

func current() Backend {
	mu.RLock()
	defer mu.RUnlock()
	return backend
}

// IncCounter adds delta to a counter.
func IncCounter(name string, delta float64, labels Labels) {
	current().IncCounter(name, delta, labels)
}

// ObserveHistogram records one sample.
func ObserveHistogram(name string, value float64, labels Labels) {
	current().ObserveHistogram(name, value, labels)
}

// Flush pushes buffered metrics.
func Flush() error { return current().Flush() }

// RecordRecords counts records of one kind by terminal outcome.
func RecordRecords(kind, outcome string, n int) {
	if n <= 0 {
		return
	}
	IncCounter(RecordsTotal, float64(n), Labels{"kind": kind, "outcome": outcome})
}

// RecordBatch counts one committed or failed batch.
func RecordBatch(kind, status string) {
	IncCounter(BatchesTotal, 1, Labels{"kind": kind, "status": status})
}

// RecordStage observes a stage duration in seconds.
func RecordStage(stage, status string, seconds float64) {
	ObserveHistogram(StageDurationSecond, seconds, Labels{"stage": stage, "status": status})
}
