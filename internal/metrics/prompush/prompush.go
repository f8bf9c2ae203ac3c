// Package prompush implements a Prometheus Pushgateway backend for
// internal/metrics. Metrics accumulate in a private registry and are pushed
// on Flush.
package prompush

import (
	"fmt"
	"strings"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/push"

	"ingest/internal/metrics"
)

// Backend implements metrics.Backend.
type Backend struct {
	pusher *push.Pusher

	records  *prometheus.CounterVec
	batches  *prometheus.CounterVec
	duration *prometheus.HistogramVec
}

var _ metrics.Backend = (*Backend)(nil)

// NewBackend registers the ingest collectors and targets gatewayURL under job.
func NewBackend(job, gatewayURL string) (*Backend, error) {
	if strings.TrimSpace(gatewayURL) == "" {
		return nil, fmt.Errorf("prompush: gateway url is empty")
	}
	if job == "" {
		job = "ingest"
	}

	b := &Backend{
		records: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: metrics.RecordsTotal,
			Help: "Records by kind and terminal outcome.",
		}, []string{"kind", "outcome"}),
		batches: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: metrics.BatchesTotal,
			Help: "Commit batches by kind and status.",
		}, []string{"kind", "status"}),
		duration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    metrics.StageDurationSecond,
			Help:    "Pipeline stage durations.",
			Buckets: prometheus.ExponentialBuckets(0.001, 4, 10),
		}, []string{"stage", "status"}),
	}

	reg := prometheus.NewRegistry()
	for _, c := range []prometheus.Collector{b.records, b.batches, b.duration} {
		if err := reg.Register(c); err != nil {
			return nil, fmt.Errorf("prompush: register: %w", err)
		}
	}
	b.pusher = push.New(gatewayURL, job).Gatherer(reg)
	return b, nil
}

// IncCounter implements metrics.Backend. Unknown names are ignored.
func (b *Backend) IncCounter(name string, delta float64, labels metrics.Labels) {
	if delta <= 0 {
		return
	}
	switch name {
	case metrics.RecordsTotal:
		b.records.With(pick(labels, "kind", "outcome")).Add(delta)
	case metrics.BatchesTotal:
		b.batches.With(pick(labels, "kind", "status")).Add(delta)
	}
}

// ObserveHistogram implements metrics.Backend. Unknown names are ignored.
func (b *Backend) ObserveHistogram(name string, value float64, labels metrics.Labels) {
	if value < 0 || name != metrics.StageDurationSecond {
		return
	}
	b.duration.With(pick(labels, "stage", "status")).Observe(value)
}

// Flush replaces this job's metrics on the gateway.
func (b *Backend) Flush() error {
	if err := b.pusher.Push(); err != nil {
		return fmt.Errorf("prompush: push: %w", err)
	}
	return nil
}

// Close pushes one last time.
func (b *Backend) Close() error { return b.Flush() }

func pick(labels metrics.Labels, names ...string) prometheus.Labels {
	out := make(prometheus.Labels, len(names))
	for _, n := range names {
		v := labels[n]
		if v == "" {
			v = "unknown"
		}
		out[n] = v
	}
	return out
}
