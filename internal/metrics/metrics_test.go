package metrics

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type event struct {
	name   string
	value  float64
	labels Labels
}

type recorder struct {
	mu       sync.Mutex
	counters []event
	hists    []event
	flushes  int
}

func (r *recorder) IncCounter(name string, delta float64, labels Labels) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.counters = append(r.counters, event{name, delta, labels})
}

func (r *recorder) ObserveHistogram(name string, value float64, labels Labels) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.hists = append(r.hists, event{name, value, labels})
}

func (r *recorder) Flush() error { r.flushes++; return nil }
func (r *recorder) Close() error { return nil }

// Not parallel: the backend is process-wide.
func TestFacade(t *testing.T) {
	rec := &recorder{}
	SetBackend(rec)
	t.Cleanup(func() { SetBackend(nil) })

	RecordRecords("hashtags", "inserted", 3)
	RecordRecords("hashtags", "failed", 0)
	RecordBatch("hashtags", "ok")
	RecordStage("commit", "ok", 0.25)
	require.NoError(t, Flush())

	require.Len(t, rec.counters, 2)
	assert.Equal(t, event{RecordsTotal, 3, Labels{"kind": "hashtags", "outcome": "inserted"}}, rec.counters[0])
	assert.Equal(t, event{BatchesTotal, 1, Labels{"kind": "hashtags", "status": "ok"}}, rec.counters[1])
	require.Len(t, rec.hists, 1)
	assert.Equal(t, event{StageDurationSecond, 0.25, Labels{"stage": "commit", "status": "ok"}}, rec.hists[0])
	assert.Equal(t, 1, rec.flushes)
}

func TestSetBackendNilRestoresNop(t *testing.T) {
	SetBackend(nil)
	IncCounter("x", 1, nil)
	ObserveHistogram("x", 1, nil)
	assert.NoError(t, Flush())
}
